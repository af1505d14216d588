package irt

import "math"

// Ability grid shared by every derived curve. All curve artifacts for a
// process are evaluated on the same grid so item curves, information
// functions and the test information function stay point-for-point
// comparable.
const (
	ThetaMin   = -4.0
	ThetaMax   = 4.0
	GridPoints = 101
)

var abilityGrid = buildGrid()

func buildGrid() []float64 {
	grid := make([]float64, GridPoints)
	step := (ThetaMax - ThetaMin) / float64(GridPoints-1)
	for i := range grid {
		grid[i] = Round6(ThetaMin + float64(i)*step)
	}
	return grid
}

// AbilityGrid returns a copy of the shared evaluation grid: GridPoints
// evenly spaced abilities on [ThetaMin, ThetaMax].
func AbilityGrid() []float64 {
	out := make([]float64, len(abilityGrid))
	copy(out, abilityGrid)
	return out
}

// Round4 rounds to 4 decimal places. NaN passes through.
func Round4(x float64) float64 { return math.Round(x*1e4) / 1e4 }

// Round6 rounds to 6 decimal places. NaN passes through.
func Round6(x float64) float64 { return math.Round(x*1e6) / 1e6 }

// Round8 rounds to 8 decimal places. NaN passes through.
func Round8(x float64) float64 { return math.Round(x*1e8) / 1e8 }

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
