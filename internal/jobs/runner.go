package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quantpsych/irt-platform/internal/errors"
	"github.com/quantpsych/irt-platform/internal/irt"
	"github.com/quantpsych/irt-platform/internal/monitoring"
	"github.com/quantpsych/irt-platform/internal/store"
	"github.com/quantpsych/irt-platform/internal/types"
)

// ErrQueueFull reports that the task queue is at capacity. The API
// layer turns it into backpressure instead of blocking uploads.
var ErrQueueFull = errors.NewUnavailableError("analysis queue is full")

// Analyzer runs one analysis over a stored dataset.
type Analyzer interface {
	Analyze(ctx context.Context, sessionID string, table *irt.Table) (*types.AnalysisResult, error)
}

// Task identifies one queued analysis.
type Task struct {
	TaskID    string
	SessionID string
}

// Runner executes analysis tasks on a fixed pool of workers fed from a
// bounded queue. Each task moves its session through
// processing -> completed, or to error with an explanation.
type Runner struct {
	analyzer Analyzer
	store    store.Store
	logger   *monitoring.Logger
	metrics  *monitoring.Metrics

	tasks    chan Task
	timeout  time.Duration
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRunner starts the worker pool. Non-positive sizes fall back to
// the defaults of 4 workers over a queue of 64.
func NewRunner(analyzer Analyzer, st store.Store, logger *monitoring.Logger, metrics *monitoring.Metrics, workers, queueSize int, timeout time.Duration) *Runner {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}

	r := &Runner{
		analyzer: analyzer,
		store:    st,
		logger:   logger,
		metrics:  metrics,
		tasks:    make(chan Task, queueSize),
		timeout:  timeout,
	}

	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}

	return r
}

// Submit enqueues a task without blocking. A full queue returns
// ErrQueueFull. Submit must not be called after Stop.
func (r *Runner) Submit(task Task) error {
	select {
	case r.tasks <- task:
		return nil
	default:
		r.metrics.IncrementQueueRejections()
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for in-flight tasks to finish.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		close(r.tasks)
	})
	r.wg.Wait()
}

// QueueDepth reports the number of waiting tasks.
func (r *Runner) QueueDepth() int {
	return len(r.tasks)
}

func (r *Runner) worker() {
	defer r.wg.Done()

	for task := range r.tasks {
		r.run(task)
	}
}

func (r *Runner) run(task Task) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Analysis task panicked", "session_id", task.SessionID, "task_id", task.TaskID, "panic", fmt.Sprint(rec))
			r.fail(task, fmt.Sprintf("internal error: %v", rec), start)
		}
	}()

	r.setStatus(ctx, task.SessionID, types.StatusProcessing, "Reading and validating data...")
	r.logger.JobLogger(task.SessionID, task.TaskID, types.StatusProcessing, 0)

	table, err := r.store.Dataset(ctx, task.SessionID)
	if err != nil {
		r.fail(task, "dataset unavailable: "+err.Error(), start)
		return
	}

	result, err := r.analyzer.Analyze(ctx, task.SessionID, table)
	if err != nil {
		r.fail(task, errors.ToAppError(err).Message(), start)
		return
	}

	if err := r.store.SaveResult(ctx, task.SessionID, result); err != nil {
		r.fail(task, "failed to persist result: "+err.Error(), start)
		return
	}

	r.metrics.IncrementAnalysesCompleted()
	r.setStatus(ctx, task.SessionID, types.StatusCompleted, "IRT analysis completed successfully")
	r.logger.JobLogger(task.SessionID, task.TaskID, types.StatusCompleted, time.Since(start))
}

// fail records the error status under its own context so the write
// survives an expired analysis deadline.
func (r *Runner) fail(task Task, message string, start time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r.metrics.IncrementAnalysesFailed()
	r.setStatus(ctx, task.SessionID, types.StatusError, "Analysis failed: "+message)
	r.logger.JobLogger(task.SessionID, task.TaskID, types.StatusError, time.Since(start))
}

func (r *Runner) setStatus(ctx context.Context, sessionID, status, message string) {
	if err := r.store.SaveStatus(ctx, sessionID, types.TaskStatus{Status: status, Message: message}); err != nil {
		r.logger.Error("Failed to record task status", "session_id", sessionID, "status", status, "error", err)
	}
}
