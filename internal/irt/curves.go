package irt

import (
	"math"

	"github.com/quantpsych/irt-platform/internal/errors"
)

// probabilityFloor keeps information denominators away from zero at
// extreme abilities.
const probabilityFloor = 1e-9

// Curve holds values evaluated over the ability grid. NaN marks a
// point that could not be computed; it serializes as null on the wire.
type Curve struct {
	Theta  []float64
	Values []float64
}

// ItemCurve pairs an item with its curve, or with the error that kept
// the curve from being computed. A failed item still carries a
// placeholder curve so batch output keeps its shape.
type ItemCurve struct {
	ItemID string
	Curve  Curve
	Err    error
}

// CurveEngine derives response and information curves from cleaned
// item parameters on the shared ability grid.
type CurveEngine struct {
	grid []float64
}

// NewCurveEngine creates a curve engine over the shared grid.
func NewCurveEngine() *CurveEngine {
	return &CurveEngine{grid: AbilityGrid()}
}

// Grid returns a copy of the evaluation grid.
func (ce *CurveEngine) Grid() []float64 {
	out := make([]float64, len(ce.grid))
	copy(out, ce.grid)
	return out
}

// ResponseCurve computes the item characteristic curve: the modeled
// probability of a correct response at each grid ability.
func (ce *CurveEngine) ResponseCurve(p ItemParameter) (Curve, error) {
	if err := checkParameter(p); err != nil {
		return ce.placeholder(), err
	}

	values := make([]float64, len(ce.grid))
	for i, theta := range ce.grid {
		values[i] = Round8(probability(theta, p))
	}
	return Curve{Theta: ce.Grid(), Values: values}, nil
}

// ItemInformation computes the Fisher information contributed by one
// item at each grid ability.
func (ce *CurveEngine) ItemInformation(p ItemParameter) (Curve, error) {
	if err := checkParameter(p); err != nil {
		return ce.placeholder(), err
	}

	values := make([]float64, len(ce.grid))
	for i, theta := range ce.grid {
		values[i] = Round8(information(theta, p))
	}
	return Curve{Theta: ce.Grid(), Values: values}, nil
}

// AllResponseCurves computes characteristic curves for every item.
// One item failing does not abort the batch; the failed item carries a
// placeholder curve and its error.
func (ce *CurveEngine) AllResponseCurves(params []ItemParameter) []ItemCurve {
	out := make([]ItemCurve, len(params))
	for i, p := range params {
		curve, err := ce.ResponseCurve(p)
		out[i] = ItemCurve{ItemID: p.ItemID, Curve: curve, Err: err}
	}
	return out
}

// AllItemInformation computes information curves for every item with
// the same per-item failure isolation as AllResponseCurves.
func (ce *CurveEngine) AllItemInformation(params []ItemParameter) []ItemCurve {
	out := make([]ItemCurve, len(params))
	for i, p := range params {
		curve, err := ce.ItemInformation(p)
		out[i] = ItemCurve{ItemID: p.ItemID, Curve: curve, Err: err}
	}
	return out
}

// TestInformation sums item information over all computable items. The
// result is a placeholder curve only when every item fails.
func (ce *CurveEngine) TestInformation(params []ItemParameter) (Curve, []ItemCurve) {
	items := ce.AllItemInformation(params)

	sums := make([]float64, len(ce.grid))
	computed := 0
	for _, item := range items {
		if item.Err != nil {
			continue
		}
		for i, v := range item.Curve.Values {
			sums[i] += v
		}
		computed++
	}

	if computed == 0 {
		return ce.placeholder(), items
	}

	for i := range sums {
		sums[i] = Round8(sums[i])
	}
	return Curve{Theta: ce.Grid(), Values: sums}, items
}

// StandardErrorCurve converts test information into the conditional
// standard error of measurement at each grid ability.
func StandardErrorCurve(tif Curve) Curve {
	values := make([]float64, len(tif.Values))
	for i, info := range tif.Values {
		if math.IsNaN(info) {
			values[i] = math.NaN()
			continue
		}
		values[i] = Round6(1 / math.Sqrt(math.Max(info, probabilityFloor)))
	}
	return Curve{Theta: append([]float64(nil), tif.Theta...), Values: values}
}

// probability is the three-parameter logistic response function. With
// a zero guessing floor it reduces to the two-parameter form.
func probability(theta float64, p ItemParameter) float64 {
	l := 1 / (1 + math.Exp(-p.Discrimination*(theta-p.Difficulty)))
	return p.Guessing + (1-p.Guessing)*l
}

// information is the Fisher information for one item at one ability,
// using the derivative form so that test information is the exact sum
// of item informations.
func information(theta float64, p ItemParameter) float64 {
	l := 1 / (1 + math.Exp(-p.Discrimination*(theta-p.Difficulty)))
	prob := clip(p.Guessing+(1-p.Guessing)*l, probabilityFloor, 1-probabilityFloor)
	dp := p.Discrimination * (1 - p.Guessing) * l * (1 - l)
	return dp * dp / (prob * (1 - prob))
}

func checkParameter(p ItemParameter) error {
	if !isFinite(p.Discrimination) || !isFinite(p.Difficulty) || !isFinite(p.Guessing) || p.Guessing >= 1 {
		return errors.NewCurveError(p.ItemID, nil)
	}
	return nil
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func (ce *CurveEngine) placeholder() Curve {
	values := make([]float64, len(ce.grid))
	for i := range values {
		values[i] = math.NaN()
	}
	return Curve{Theta: ce.Grid(), Values: values}
}
