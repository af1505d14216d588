package irt

import "context"

// ModelType identifies which logistic model produced a fit.
type ModelType string

const (
	// ModelRich is the three-parameter logistic model with a guessing
	// floor per item.
	ModelRich ModelType = "3PL"
	// ModelSimple is the two-parameter logistic model used as the
	// fallback when a rich fit is unusable.
	ModelSimple ModelType = "2PL"
)

// Coefficients holds the raw parameters the engine reported for one
// item. NaN marks a value the engine did not report.
type Coefficients struct {
	Discrimination float64
	Difficulty     float64
	Guessing       float64
}

// FitStatistics are the auxiliary fit indices the engine computes on
// request for an estimated model.
type FitStatistics struct {
	M2            float64
	M2DF          int
	M2P           float64
	TLI           float64
	RMSEA         float64
	Reliability   float64
	LogLikelihood float64
	AIC           float64
	BIC           float64
}

// FittedModel is a read-only handle on a model estimated by the
// engine. Implementations must be safe for concurrent use; the model
// cache shares a single handle between requests.
type FittedModel interface {
	Converged() bool
	Iterations() int
	LogLikelihood() float64
	// Coefficients returns per-item parameters in column order.
	Coefficients() []Coefficients
	// StandardErrors returns per-item standard errors when the engine
	// produced them.
	StandardErrors() ([]Coefficients, bool)
	// FitStatistics fetches auxiliary fit indices from the engine,
	// memoizing the result on success.
	FitStatistics(ctx context.Context) (FitStatistics, error)
}

// ItemParameter is a cleaned, reporting-ready parameter set for one
// item. Values are rounded to 4 decimals and clamped to plotting
// ranges; they are recomputed from the fitted model on every request.
type ItemParameter struct {
	ItemID           string    `json:"item_id"`
	Discrimination   float64   `json:"discrimination"`
	Difficulty       float64   `json:"difficulty"`
	Guessing         float64   `json:"guessing"`
	SEDiscrimination float64   `json:"se_discrimination"`
	SEDifficulty     float64   `json:"se_difficulty"`
	SEGuessing       float64   `json:"se_guessing"`
	ModelType        ModelType `json:"model_type"`
}
