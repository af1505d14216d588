package irt

import "math"

// Defaults substituted when the engine omits a value for an item.
const (
	defaultDiscrimination = 1.0
	defaultDifficulty     = 0.0
	defaultGuessing       = 0.0
)

// Reporting ranges for cleaned parameters. Estimates outside these
// ranges are statistically legal but useless for plotting, so they are
// clamped rather than rejected.
const (
	maxReportDiscrimination = 4.0
	minReportDiscrimination = 0.1
	maxReportDifficulty     = 4.0
	maxReportGuessing       = 0.5
)

// Extractor turns a fitted model into reporting-ready item parameters.
// Extraction is recomputed on every call and never cached.
type Extractor struct{}

// NewExtractor creates a parameter extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract produces one cleaned parameter set per item, in column
// order. Missing engine values fall back to neutral defaults; a
// missing or failed standard-error block zero-fills the errors rather
// than failing the extraction.
func (e *Extractor) Extract(model FittedModel, modelType ModelType, items []string) []ItemParameter {
	coefs := model.Coefficients()
	ses, hasSE := model.StandardErrors()

	params := make([]ItemParameter, len(items))
	for i, item := range items {
		var c Coefficients
		if i < len(coefs) {
			c = coefs[i]
		} else {
			c = Coefficients{Discrimination: math.NaN(), Difficulty: math.NaN(), Guessing: math.NaN()}
		}

		p := ItemParameter{
			ItemID:         item,
			Discrimination: Round4(orDefault(c.Discrimination, defaultDiscrimination)),
			Difficulty:     Round4(orDefault(c.Difficulty, defaultDifficulty)),
			Guessing:       Round4(orDefault(c.Guessing, defaultGuessing)),
			ModelType:      modelType,
		}
		if modelType == ModelSimple {
			p.Guessing = 0.0
		}

		if hasSE && i < len(ses) {
			p.SEDiscrimination = Round4(orDefault(ses[i].Discrimination, 0.0))
			p.SEDifficulty = Round4(orDefault(ses[i].Difficulty, 0.0))
			p.SEGuessing = Round4(orDefault(ses[i].Guessing, 0.0))
		}

		params[i] = cleanParameter(p)
	}
	return params
}

// cleanParameter applies the fixed cleaning sequence. The sequence is
// idempotent: cleaning a cleaned parameter set changes nothing.
func cleanParameter(p ItemParameter) ItemParameter {
	if p.Discrimination < 0 {
		p.Discrimination = math.Abs(p.Discrimination)
	}
	if p.Discrimination > maxReportDiscrimination {
		p.Discrimination = maxReportDiscrimination
	}
	if p.Discrimination < minReportDiscrimination {
		p.Discrimination = minReportDiscrimination
	}

	p.Difficulty = clip(p.Difficulty, -maxReportDifficulty, maxReportDifficulty)

	// The guessing floor only exists in the rich model.
	if p.ModelType == ModelRich {
		p.Guessing = clip(p.Guessing, 0, maxReportGuessing)
	}

	return p
}

func orDefault(x, def float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return def
	}
	return x
}
