package analysis

import (
	"context"
	"time"

	"github.com/quantpsych/irt-platform/internal/cache"
	"github.com/quantpsych/irt-platform/internal/errors"
	"github.com/quantpsych/irt-platform/internal/irt"
	"github.com/quantpsych/irt-platform/internal/monitoring"
	"github.com/quantpsych/irt-platform/internal/types"
)

// Service orchestrates the full analysis pipeline: validation, model
// fitting through the cache, parameter extraction and curve
// derivation. Every operation re-validates the raw table it is given;
// only the fitted model is reused between requests.
type Service struct {
	validator *irt.Validator
	cache     *cache.ModelCache
	extractor *irt.Extractor
	curves    *irt.CurveEngine
	logger    *monitoring.Logger
	metrics   *monitoring.Metrics
}

// NewService creates a service over a shared model cache.
func NewService(modelCache *cache.ModelCache, logger *monitoring.Logger, metrics *monitoring.Metrics) *Service {
	return &Service{
		validator: irt.NewValidator(),
		cache:     modelCache,
		extractor: irt.NewExtractor(),
		curves:    irt.NewCurveEngine(),
		logger:    logger,
		metrics:   metrics,
	}
}

// Analyze runs the complete pipeline for a session and assembles the
// stored result: item parameters, model information, auxiliary fit
// indices and the test information function.
func (s *Service) Analyze(ctx context.Context, sessionID string, table *irt.Table) (*types.AnalysisResult, error) {
	start := time.Now()

	matrix, summary, err := s.validator.Validate(table)
	if err != nil {
		return nil, err
	}

	entry, hit, err := s.fit(ctx, sessionID, matrix)
	if err != nil {
		return nil, err
	}

	params := s.extractor.Extract(entry.Model, entry.Type, matrix.Items)
	fit := s.fitStatistics(ctx, entry)

	tif, itemCurves := s.curves.TestInformation(params)
	s.logCurveFailures(sessionID, itemCurves)
	sem := irt.StandardErrorCurve(tif)

	result := &types.AnalysisResult{
		SessionID:      sessionID,
		Status:         types.StatusCompleted,
		AnalysisType:   string(entry.Type),
		ItemParameters: params,
		ModelInfo: &types.ModelInfo{
			Type:          string(entry.Type),
			Converged:     entry.Model.Converged(),
			Iterations:    entry.Model.Iterations(),
			LogLikelihood: types.JSONFloat(entry.Model.LogLikelihood()),
			FellBack:      entry.FellBack,
			FallbackCause: entry.Reason,
		},
		ModelFit: fit,
		TestInformation: &types.TestInformation{
			Theta:       tif.Theta,
			Information: types.Floats(tif.Values),
			SEM:         types.Floats(sem.Values),
		},
		DataSummary: &summary,
		CreatedAt:   time.Now().UTC(),
	}

	s.logger.AnalysisLogger(sessionID, string(entry.Type), summary.Items, summary.Respondents, time.Since(start), hit)

	return result, nil
}

// ItemCurve computes characteristic curves for one item, or for every
// item when itemID is empty. Unknown item ids are a not-found error;
// items whose curve cannot be computed keep null probabilities.
func (s *Service) ItemCurve(ctx context.Context, sessionID string, table *irt.Table, itemID string) (*types.ICCResponse, error) {
	matrix, _, err := s.validator.Validate(table)
	if err != nil {
		return nil, err
	}

	entry, _, err := s.fit(ctx, sessionID, matrix)
	if err != nil {
		return nil, err
	}

	params := s.extractor.Extract(entry.Model, entry.Type, matrix.Items)
	if itemID != "" {
		idx, ok := matrix.ItemIndex(itemID)
		if !ok {
			return nil, errors.NewNotFoundError("item", itemID)
		}
		params = params[idx : idx+1]
	}

	curves := s.curves.AllResponseCurves(params)
	s.logCurveFailures(sessionID, curves)

	points := make([]types.ICCPoint, 0, len(curves)*irt.GridPoints)
	for _, ic := range curves {
		for i, theta := range ic.Curve.Theta {
			points = append(points, types.ICCPoint{
				ItemID:      ic.ItemID,
				Theta:       theta,
				Probability: types.JSONFloat(ic.Curve.Values[i]),
			})
		}
	}

	return &types.ICCResponse{Status: "success", ModelType: string(entry.Type), ICCData: points}, nil
}

// ItemInformation computes every item information function. Failed
// items appear with null values rather than failing the batch.
func (s *Service) ItemInformation(ctx context.Context, sessionID string, table *irt.Table) (*types.IIFResponse, error) {
	matrix, _, err := s.validator.Validate(table)
	if err != nil {
		return nil, err
	}

	entry, _, err := s.fit(ctx, sessionID, matrix)
	if err != nil {
		return nil, err
	}

	params := s.extractor.Extract(entry.Model, entry.Type, matrix.Items)
	curves := s.curves.AllItemInformation(params)
	s.logCurveFailures(sessionID, curves)

	points := make([]types.IIFPoint, 0, len(curves)*irt.GridPoints)
	for _, ic := range curves {
		for i, theta := range ic.Curve.Theta {
			points = append(points, types.IIFPoint{
				ItemID:      ic.ItemID,
				Theta:       theta,
				Information: types.JSONFloat(ic.Curve.Values[i]),
			})
		}
	}

	return &types.IIFResponse{Status: "success", IIFData: points}, nil
}

// TestInformation computes the test information function with its
// standard error of measurement.
func (s *Service) TestInformation(ctx context.Context, sessionID string, table *irt.Table) (*types.TIFResponse, error) {
	matrix, _, err := s.validator.Validate(table)
	if err != nil {
		return nil, err
	}

	entry, _, err := s.fit(ctx, sessionID, matrix)
	if err != nil {
		return nil, err
	}

	params := s.extractor.Extract(entry.Model, entry.Type, matrix.Items)

	tif, itemCurves := s.curves.TestInformation(params)
	s.logCurveFailures(sessionID, itemCurves)
	sem := irt.StandardErrorCurve(tif)

	return &types.TIFResponse{
		Status: "success",
		Theta:  tif.Theta,
		TIF:    types.Floats(tif.Values),
		SEM:    types.Floats(sem.Values),
	}, nil
}

func (s *Service) fit(ctx context.Context, sessionID string, matrix *irt.Matrix) (*cache.Entry, bool, error) {
	entry, hit, err := s.cache.GetOrFit(ctx, sessionID, matrix)
	if err != nil {
		return nil, false, err
	}

	s.logger.CacheLogger("get_or_fit", sessionID, hit, s.cache.Size())
	if hit {
		s.metrics.IncrementCacheHits()
	} else {
		s.metrics.IncrementCacheMisses()
		if entry.FellBack {
			s.metrics.IncrementModelFallbacks()
		}
	}

	return entry, hit, nil
}

// fitStatistics fetches auxiliary fit indices from the engine. They
// are not essential: on failure the block keeps zeroed indices with
// the model's own log-likelihood and convergence flag.
func (s *Service) fitStatistics(ctx context.Context, entry *cache.Entry) *types.ModelFit {
	fit := &types.ModelFit{
		LogLikelihood: types.JSONFloat(entry.Model.LogLikelihood()),
		Converged:     entry.Model.Converged(),
	}

	stats, err := entry.Model.FitStatistics(ctx)
	if err != nil {
		s.logger.Warn("Fit statistics unavailable", "model_type", string(entry.Type), "error", err)
		return fit
	}

	fit.M2 = types.JSONFloat(stats.M2)
	fit.M2DF = stats.M2DF
	fit.M2P = types.JSONFloat(stats.M2P)
	fit.TLI = types.JSONFloat(stats.TLI)
	fit.RMSEA = types.JSONFloat(stats.RMSEA)
	fit.Reliability = types.JSONFloat(stats.Reliability)
	fit.LogLikelihood = types.JSONFloat(stats.LogLikelihood)
	fit.AIC = types.JSONFloat(stats.AIC)
	fit.BIC = types.JSONFloat(stats.BIC)

	return fit
}

func (s *Service) logCurveFailures(sessionID string, curves []irt.ItemCurve) {
	for _, ic := range curves {
		if ic.Err != nil {
			s.logger.Warn("Curve computation failed", "session_id", sessionID, "item_id", ic.ItemID, "error", ic.Err)
		}
	}
}
