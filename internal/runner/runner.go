// Package runner drives complete vectorization runs: both corpus passes,
// model publication, delivery and the completion event. Serve mode
// coalesces concurrent triggers so at most one run is in flight.
package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Ajaynegi0204/Search-Engine/internal/tfidf"
	apperrors "github.com/Ajaynegi0204/Search-Engine/pkg/errors"
	"github.com/Ajaynegi0204/Search-Engine/pkg/kafka"
	"github.com/Ajaynegi0204/Search-Engine/pkg/logger"
	"github.com/Ajaynegi0204/Search-Engine/pkg/metrics"
	"github.com/Ajaynegi0204/Search-Engine/pkg/tracing"
)

// Run outcomes.
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusEmpty     = "empty"
	StatusFailed    = "failed"
)

// ModelPublisher stores a frozen model for the query side.
type ModelPublisher interface {
	Publish(ctx context.Context, m *tfidf.Model) error
}

// EventPublisher emits the run report.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Archiver keeps a durable copy of each run's artifacts.
type Archiver interface {
	SaveModel(ctx context.Context, runID string, m *tfidf.Model) error
	SaveReport(ctx context.Context, runID string, report any) error
}

// Report describes one run.
type Report struct {
	RunID          string          `json:"run_id"`
	Status         string          `json:"status"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
	DurationMS     int64           `json:"duration_ms"`
	TotalDocs      int             `json:"total_docs"`
	VocabularySize int             `json:"vocabulary_size"`
	ModelPublished bool            `json:"model_published"`
	Delivery       *tfidf.Delivery `json:"delivery,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Runner owns the engine and the optional publication sinks.
type Runner struct {
	engine  *tfidf.Engine
	models  ModelPublisher
	events  EventPublisher
	archive Archiver
	metrics *metrics.Metrics
	group   singleflight.Group

	mu   sync.RWMutex
	last *Report
}

// Option configures optional collaborators.
type Option func(*Runner)

// WithModelPublisher publishes the frozen model after the first pass.
func WithModelPublisher(p ModelPublisher) Option {
	return func(r *Runner) { r.models = p }
}

// WithEventPublisher emits each report when a run ends.
func WithEventPublisher(p EventPublisher) Option {
	return func(r *Runner) { r.events = p }
}

// WithArchiver archives the model and the report of every run that got
// past the first pass.
func WithArchiver(a Archiver) Option {
	return func(r *Runner) { r.archive = a }
}

// WithMetrics records run outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func New(engine *tfidf.Engine, opts ...Option) *Runner {
	r := &Runner{engine: engine}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one full vectorization and returns its report. An empty
// corpus yields a report with StatusEmpty and an ErrEmptyCorpus error; a
// run that lost sub-batches still returns a nil error with StatusPartial.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	ctx = logger.WithRunID(ctx, report.RunID)
	ctx, span := tracing.StartSpan(ctx, "vectorize", report.RunID)
	log := logger.FromContext(ctx).With("component", "runner")
	log.Info("vectorization run started")

	model, err := r.run(ctx, report)

	report.FinishedAt = time.Now().UTC()
	report.DurationMS = report.FinishedAt.Sub(report.StartedAt).Milliseconds()
	switch {
	case errors.Is(err, apperrors.ErrEmptyCorpus):
		report.Status = StatusEmpty
		log.Warn("corpus is empty, nothing to vectorize")
	case err != nil:
		report.Status = StatusFailed
		report.Error = err.Error()
		log.Error("vectorization run failed", "error", err)
	case len(report.Delivery.Failed) > 0:
		report.Status = StatusPartial
		log.Warn("vectorization run finished with undelivered batches",
			"failed_sub_batches", len(report.Delivery.Failed),
			"delivered", report.Delivery.Delivered,
		)
	default:
		report.Status = StatusCompleted
		log.Info("vectorization run completed",
			"delivered", report.Delivery.Delivered,
			"duration_ms", report.DurationMS,
		)
	}
	span.SetAttr("status", report.Status)
	span.End()
	span.Log(log)

	if r.metrics != nil {
		r.metrics.RunsTotal.WithLabelValues(report.Status).Inc()
	}
	r.emit(ctx, report)
	if model != nil {
		r.archiveRun(ctx, model, report)
	}

	r.mu.Lock()
	r.last = report
	r.mu.Unlock()
	return report, err
}

func (r *Runner) run(ctx context.Context, report *Report) (*tfidf.Model, error) {
	agg, err := r.engine.Pass1(ctx)
	if err != nil {
		return nil, err
	}
	report.TotalDocs = agg.TotalDocs()
	report.VocabularySize = agg.VocabularySize()

	model, err := agg.Freeze()
	if err != nil {
		return nil, err
	}
	report.ModelPublished = r.publish(ctx, model)

	delivery, err := r.engine.Pass2(ctx, model)
	report.Delivery = delivery
	return model, err
}

// publish logs and counts failures but never fails the run.
func (r *Runner) publish(ctx context.Context, model *tfidf.Model) bool {
	if r.models == nil {
		return false
	}
	status := "success"
	err := r.models.Publish(ctx, model)
	if err != nil {
		status = "failure"
		logger.FromContext(ctx).Error("model publication failed", "error", err)
	}
	if r.metrics != nil {
		r.metrics.ModelPublishesTotal.WithLabelValues(status).Inc()
	}
	return err == nil
}

func (r *Runner) emit(ctx context.Context, report *Report) {
	if r.events == nil {
		return
	}
	// The run context may already be cancelled; the event is still owed.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.events.Publish(ctx, kafka.Event{Key: report.RunID, Value: report}); err != nil {
		logger.FromContext(ctx).Error("failed to publish run report", "error", err)
	}
}

// archiveRun uploads run artifacts; failures are logged only.
func (r *Runner) archiveRun(ctx context.Context, model *tfidf.Model, report *Report) {
	if r.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	log := logger.FromContext(ctx)
	if err := r.archive.SaveModel(ctx, report.RunID, model); err != nil {
		log.Error("failed to archive model", "error", err)
		return
	}
	if err := r.archive.SaveReport(ctx, report.RunID, report); err != nil {
		log.Error("failed to archive run report", "error", err)
	}
}

// Trigger starts a run unless one is already in flight, in which case the
// caller shares that run's result.
func (r *Runner) Trigger(ctx context.Context) <-chan singleflight.Result {
	return r.group.DoChan("run", func() (any, error) {
		return r.Run(ctx)
	})
}

// Last returns the report of the most recent run, or nil.
func (r *Runner) Last() *Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}
