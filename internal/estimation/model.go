package estimation

import (
	"context"
	"sync"

	"github.com/quantpsych/irt-platform/internal/irt"
)

// engineModel is the client-side handle on a model the engine holds.
// Parameter accessors are immutable after construction; fit statistics
// are fetched lazily and memoized only on success so a transient
// engine failure does not poison the handle.
type engineModel struct {
	client     *EngineClient
	modelID    string
	modelType  irt.ModelType
	converged  bool
	iterations int
	loglik     float64
	coefs      []irt.Coefficients
	ses        []irt.Coefficients

	mu      sync.Mutex
	stats   irt.FitStatistics
	statsOK bool
}

func (m *engineModel) Converged() bool { return m.converged }

func (m *engineModel) Iterations() int { return m.iterations }

func (m *engineModel) LogLikelihood() float64 { return m.loglik }

func (m *engineModel) Coefficients() []irt.Coefficients { return m.coefs }

func (m *engineModel) StandardErrors() ([]irt.Coefficients, bool) {
	return m.ses, len(m.ses) > 0
}

func (m *engineModel) FitStatistics(ctx context.Context) (irt.FitStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.statsOK {
		return m.stats, nil
	}

	stats, err := m.client.FitStatistics(ctx, m.modelID)
	if err != nil {
		return irt.FitStatistics{}, err
	}

	m.stats = stats
	m.statsOK = true
	return stats, nil
}
