package irt

import (
	"context"
	"fmt"

	"github.com/quantpsych/irt-platform/internal/errors"
)

// Estimation settings fixed for reproducibility: the same matrix must
// produce the same fit across processes.
const (
	DefaultSeed          int64 = 42
	DefaultMaxIterations       = 500
)

// Plausibility bounds for an acceptable rich fit. A converged rich
// model whose parameters escape these ranges is degenerate and is
// replaced by the simple model.
const (
	minPlausibleDiscrimination = 0.01
	maxPlausibleDiscrimination = 10.0
	maxPlausibleDifficulty     = 10.0
	maxPlausibleGuessing       = 0.5
)

// Estimator runs model estimation on the external engine.
type Estimator interface {
	Fit(ctx context.Context, m *Matrix, model ModelType, seed int64, maxIter int) (FittedModel, error)
}

type fitState int

const (
	stateAttemptingRich fitState = iota
	stateRichAccepted
	stateRichRejected
	stateAttemptingSimple
	stateSimpleAccepted
)

// FitOutcome is the accepted result of a fit attempt.
type FitOutcome struct {
	Model FittedModel
	Type  ModelType
	// FellBack is true when the rich model was rejected and the simple
	// model was used instead; Reason records why.
	FellBack bool
	Reason   string
}

// Fitter estimates a model for a cleaned matrix. It tries the rich
// three-parameter model first and falls back to the simple
// two-parameter model when the rich fit errors, fails to converge or
// produces implausible parameters. The simple fit is accepted even
// without convergence; only a simple-fit engine failure is fatal.
type Fitter struct {
	engine  Estimator
	seed    int64
	maxIter int
}

// NewFitter creates a fitter with the standard estimation settings.
func NewFitter(engine Estimator) *Fitter {
	return &Fitter{
		engine:  engine,
		seed:    DefaultSeed,
		maxIter: DefaultMaxIterations,
	}
}

// Fit runs the two-tier estimation sequence for a cleaned matrix.
func (f *Fitter) Fit(ctx context.Context, m *Matrix) (*FitOutcome, error) {
	var (
		state  = stateAttemptingRich
		rich   FittedModel
		simple FittedModel
		reason string
	)

	for {
		switch state {
		case stateAttemptingRich:
			model, err := f.engine.Fit(ctx, m, ModelRich, f.seed, f.maxIter)
			switch {
			case err != nil:
				reason = "engine error: " + err.Error()
				state = stateRichRejected
			case !model.Converged():
				reason = "estimation did not converge"
				state = stateRichRejected
			default:
				if item, ok := implausibleItem(model.Coefficients()); ok {
					reason = fmt.Sprintf("implausible parameters for item %d", item+1)
					state = stateRichRejected
				} else {
					rich = model
					state = stateRichAccepted
				}
			}

		case stateRichAccepted:
			return &FitOutcome{Model: rich, Type: ModelRich}, nil

		case stateRichRejected:
			state = stateAttemptingSimple

		case stateAttemptingSimple:
			model, err := f.engine.Fit(ctx, m, ModelSimple, f.seed, f.maxIter)
			if err != nil {
				return nil, errors.NewEstimationError(string(ModelSimple), err)
			}
			simple = model
			state = stateSimpleAccepted

		case stateSimpleAccepted:
			return &FitOutcome{Model: simple, Type: ModelSimple, FellBack: true, Reason: reason}, nil
		}
	}
}

// implausibleItem returns the first item whose parameters fall outside
// the plausibility bounds. Every comparison is written to fail on NaN.
func implausibleItem(coefs []Coefficients) (int, bool) {
	for i, c := range coefs {
		okA := c.Discrimination > minPlausibleDiscrimination && c.Discrimination <= maxPlausibleDiscrimination
		okB := c.Difficulty >= -maxPlausibleDifficulty && c.Difficulty <= maxPlausibleDifficulty
		okG := c.Guessing >= 0 && c.Guessing <= maxPlausibleGuessing
		if !okA || !okB || !okG {
			return i, true
		}
	}
	return 0, false
}
