package tfidf

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Ajaynegi0204/Search-Engine/internal/corpus"
	"github.com/Ajaynegi0204/Search-Engine/internal/vectorstore"
	"github.com/Ajaynegi0204/Search-Engine/pkg/logger"
	"github.com/Ajaynegi0204/Search-Engine/pkg/metrics"
	"github.com/Ajaynegi0204/Search-Engine/pkg/resilience"
	"github.com/Ajaynegi0204/Search-Engine/pkg/tracing"
)

// Options configures delivery. A zero BatchSize and empty collection names
// fall back to DefaultOptions. A zero Retry makes a single attempt and a zero
// RequestTimeout leaves requests bounded only by the run context.
type Options struct {
	BatchSize        int
	SourceCollection string
	TargetCollection string
	Retry            resilience.RetryConfig
	RequestTimeout   time.Duration
}

// DefaultOptions mirrors the documented defaults: batches of 100, five
// retries on a 2s base delay.
func DefaultOptions() Options {
	return Options{
		BatchSize:        100,
		SourceCollection: "problems",
		TargetCollection: "problems_v2",
		Retry:            resilience.DefaultRetryConfig(),
		RequestTimeout:   300 * time.Second,
	}
}

// FailedBatch identifies an upsert sub-batch that was abandoned after its
// retries ran out.
type FailedBatch struct {
	IDs      []uint64 `json:"ids"`
	Attempts int      `json:"attempts"`
	Error    string   `json:"error"`
}

// Delivery summarizes the second pass.
type Delivery struct {
	Documents     int           `json:"documents"`
	Delivered     int           `json:"delivered"`
	SubBatches    int           `json:"sub_batches"`
	Failed        []FailedBatch `json:"failed,omitempty"`
	PayloadMisses int           `json:"payload_misses"`
}

// Engine runs both passes against one corpus source and one vector store.
type Engine struct {
	source  corpus.Source
	store   vectorstore.Store
	opts    Options
	metrics *metrics.Metrics
}

// NewEngine wires an engine. m may be nil.
func NewEngine(source corpus.Source, store vectorstore.Store, opts Options, m *metrics.Metrics) *Engine {
	defaults := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaults.BatchSize
	}
	if opts.SourceCollection == "" {
		opts.SourceCollection = defaults.SourceCollection
	}
	if opts.TargetCollection == "" {
		opts.TargetCollection = defaults.TargetCollection
	}
	return &Engine{
		source:  source,
		store:   store,
		opts:    opts,
		metrics: m,
	}
}

// Pass1 scans the corpus once and returns the filled aggregator. Any corpus
// error aborts the pass.
func (e *Engine) Pass1(ctx context.Context) (*Aggregator, error) {
	ctx, span := tracing.StartChildSpan(ctx, "pass1")
	defer span.End()
	start := time.Now()
	log := e.log(ctx)

	log.Info("starting first pass: building vocabulary and document frequencies")
	agg := NewAggregator()
	for batch, err := range e.source.Batches(ctx) {
		if err != nil {
			return nil, fmt.Errorf("first pass: %w", err)
		}
		agg.Add(batch)
		if e.metrics != nil {
			e.metrics.DocumentsScanned.WithLabelValues("1").Add(float64(len(batch)))
		}
	}
	elapsed := time.Since(start)
	if e.metrics != nil {
		e.metrics.PassDuration.WithLabelValues("1").Observe(elapsed.Seconds())
		e.metrics.CorpusDocuments.Set(float64(agg.TotalDocs()))
		e.metrics.VocabularySize.Set(float64(agg.VocabularySize()))
	}
	span.SetAttr("total_docs", agg.TotalDocs())
	span.SetAttr("vocab_size", agg.VocabularySize())
	log.Info("completed first pass",
		"total_docs", agg.TotalDocs(),
		"vocab_size", agg.VocabularySize(),
		"elapsed", elapsed,
	)
	return agg, nil
}

// Pass2 re-scans the corpus, vectorizes each document with model and
// delivers the records batch by batch. Upsert failures are recorded in the
// returned Delivery; only corpus errors and cancellation abort the pass.
func (e *Engine) Pass2(ctx context.Context, model *Model) (*Delivery, error) {
	ctx, span := tracing.StartChildSpan(ctx, "pass2")
	defer span.End()
	start := time.Now()
	log := e.log(ctx)

	log.Info("starting second pass: computing vectors and upserting",
		"dim", model.Dim(),
		"target_collection", e.opts.TargetCollection,
	)
	report := &Delivery{}
	for batch, err := range e.source.Batches(ctx) {
		if err != nil {
			return report, fmt.Errorf("second pass: %w", err)
		}
		if e.metrics != nil {
			e.metrics.DocumentsScanned.WithLabelValues("2").Add(float64(len(batch)))
		}
		e.deliverBatch(ctx, model, batch, report)
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("second pass interrupted: %w", err)
		}
	}
	elapsed := time.Since(start)
	if e.metrics != nil {
		e.metrics.PassDuration.WithLabelValues("2").Observe(elapsed.Seconds())
	}
	span.SetAttr("delivered", report.Delivered)
	span.SetAttr("failed_sub_batches", len(report.Failed))
	log.Info("completed second pass",
		"documents", report.Documents,
		"delivered", report.Delivered,
		"failed_sub_batches", len(report.Failed),
		"elapsed", elapsed,
	)
	return report, nil
}

func (e *Engine) deliverBatch(ctx context.Context, model *Model, batch corpus.Batch, report *Delivery) {
	ids := make([]uint64, 0, len(batch))
	vectors := make([][]float32, 0, len(batch))
	for _, doc := range batch {
		ids = append(ids, doc.ID)
		vectors = append(vectors, ToFloat32(model.Vector(CountTokens(doc.Text))))
	}
	report.Documents += len(batch)

	payloads := e.FetchPayloads(ctx, ids)
	records := make([]vectorstore.Record, 0, len(batch))
	for i, id := range ids {
		payload, ok := payloads[id]
		if !ok {
			payload = vectorstore.Payload{}
			report.PayloadMisses++
		}
		records = append(records, vectorstore.Record{ID: id, Vector: vectors[i], Payload: payload})
	}

	for chunk := range slices.Chunk(records, e.opts.BatchSize) {
		report.SubBatches++
		out := e.RetryUpsert(ctx, chunk)
		if out.OK() {
			report.Delivered += len(chunk)
			e.log(ctx).Info("upserted batch", "count", len(chunk), "attempts", out.Attempts)
			continue
		}
		failed := FailedBatch{Attempts: out.Attempts, Error: out.Err.Error()}
		for _, rec := range chunk {
			failed.IDs = append(failed.IDs, rec.ID)
		}
		report.Failed = append(report.Failed, failed)
	}
}

// FetchPayloads returns the existing payload of every id found in the
// source collection, asking for at most BatchSize ids per request. A failed
// chunk is logged and its ids are treated as having no payload.
func (e *Engine) FetchPayloads(ctx context.Context, ids []uint64) map[uint64]vectorstore.Payload {
	out := make(map[uint64]vectorstore.Payload, len(ids))
	log := e.log(ctx)
	log.Debug("fetching existing payloads", "points", len(ids))
	for chunk := range slices.Chunk(ids, e.opts.BatchSize) {
		var found map[uint64]vectorstore.Payload
		err := resilience.WithTimeout(ctx, e.opts.RequestTimeout, "retrieve", func(ctx context.Context) error {
			var err error
			found, err = e.store.Retrieve(ctx, e.opts.SourceCollection, chunk)
			return err
		})
		if err != nil {
			log.Error("error retrieving payload batch",
				"collection", e.opts.SourceCollection,
				"ids", chunk,
				"error", err,
			)
			if e.metrics != nil {
				e.metrics.RetrieveFailures.Inc()
			}
			continue
		}
		for id, p := range found {
			if p == nil {
				p = vectorstore.Payload{}
			}
			out[id] = p
		}
	}
	return out
}

// RetryUpsert delivers records to the target collection with exponential
// backoff. It never returns an error; the Outcome says whether it worked.
func (e *Engine) RetryUpsert(ctx context.Context, records []vectorstore.Record) resilience.Outcome {
	out := resilience.Retry(ctx, "upsert", e.opts.Retry, func() error {
		return resilience.WithTimeout(ctx, e.opts.RequestTimeout, "upsert", func(ctx context.Context) error {
			return e.store.Upsert(ctx, e.opts.TargetCollection, records)
		})
	})
	if e.metrics != nil {
		e.metrics.UpsertAttempts.Observe(float64(out.Attempts))
		if out.OK() {
			e.metrics.VectorsDelivered.Add(float64(len(records)))
		} else {
			e.metrics.UpsertFailures.Inc()
		}
	}
	if !out.OK() {
		e.log(ctx).Error("failed to upsert points after retries",
			"collection", e.opts.TargetCollection,
			"count", len(records),
			"attempts", out.Attempts,
			"error", out.Err,
		)
	}
	return out
}

// Run performs a complete vectorization: first pass, freeze, second pass.
// An empty corpus returns ErrEmptyCorpus before anything is delivered.
func (e *Engine) Run(ctx context.Context) (*Model, *Delivery, error) {
	agg, err := e.Pass1(ctx)
	if err != nil {
		return nil, nil, err
	}
	model, err := agg.Freeze()
	if err != nil {
		return nil, nil, err
	}
	delivery, err := e.Pass2(ctx, model)
	return model, delivery, err
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

func (e *Engine) log(ctx context.Context) *slog.Logger {
	return logger.FromContext(ctx).With("component", "tfidf-engine")
}
