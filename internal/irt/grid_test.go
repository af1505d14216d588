package irt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAbilityGrid(t *testing.T) {
	grid := AbilityGrid()

	assert.Len(t, grid, GridPoints)
	assert.Equal(t, ThetaMin, grid[0])
	assert.Equal(t, ThetaMax, grid[len(grid)-1])
	assert.Equal(t, 0.0, grid[50])

	// Evenly spaced to grid precision.
	for i := 1; i < len(grid); i++ {
		assert.InDelta(t, 0.08, grid[i]-grid[i-1], 1e-9)
	}
}

func TestAbilityGridReturnsCopy(t *testing.T) {
	first := AbilityGrid()
	first[0] = 99.0

	second := AbilityGrid()
	assert.Equal(t, ThetaMin, second[0])
}

func TestRounding(t *testing.T) {
	tests := []struct {
		name     string
		fn       func(float64) float64
		input    float64
		expected float64
	}{
		{name: "round4 truncates past 4 places", fn: Round4, input: 1.23456, expected: 1.2346},
		{name: "round4 keeps shorter values", fn: Round4, input: 1.23, expected: 1.23},
		{name: "round4 negative", fn: Round4, input: -0.98765, expected: -0.9877},
		{name: "round6 truncates past 6 places", fn: Round6, input: 0.1234567, expected: 0.123457},
		{name: "round8 truncates past 8 places", fn: Round8, input: 0.123456789, expected: 0.12345679},
		{name: "round8 keeps zero", fn: Round8, input: 0.0, expected: 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.fn(tt.input))
		})
	}
}

func TestRoundingPassesNaNThrough(t *testing.T) {
	assert.True(t, math.IsNaN(Round4(math.NaN())))
	assert.True(t, math.IsNaN(Round6(math.NaN())))
	assert.True(t, math.IsNaN(Round8(math.NaN())))
}
