package tfidf

import (
	"context"
	"errors"
	"iter"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Ajaynegi0204/Search-Engine/internal/corpus"
	"github.com/Ajaynegi0204/Search-Engine/internal/vectorstore"
	apperrors "github.com/Ajaynegi0204/Search-Engine/pkg/errors"
	"github.com/Ajaynegi0204/Search-Engine/pkg/metrics"
	"github.com/Ajaynegi0204/Search-Engine/pkg/resilience"
)

// sliceSource replays fixed documents in batches of size.
type sliceSource struct {
	docs  []corpus.Document
	size  int
	err   error
	calls int
}

func (s *sliceSource) Batches(ctx context.Context) iter.Seq2[corpus.Batch, error] {
	s.calls++
	return func(yield func(corpus.Batch, error) bool) {
		for i := 0; i < len(s.docs); i += s.size {
			end := min(i+s.size, len(s.docs))
			if !yield(corpus.Batch(s.docs[i:end]), nil) {
				return
			}
		}
		if s.err != nil {
			yield(nil, s.err)
		}
	}
}

// flakyStore fails the first failUpserts upserts and optionally every
// retrieve.
type flakyStore struct {
	*vectorstore.Memory
	mu           sync.Mutex
	failUpserts  int
	failRetrieve bool
	upsertCalls  int
	retrieveIDs  [][]uint64
	upsertSizes  []int
}

func (f *flakyStore) Retrieve(ctx context.Context, collection string, ids []uint64) (map[uint64]vectorstore.Payload, error) {
	f.mu.Lock()
	f.retrieveIDs = append(f.retrieveIDs, append([]uint64(nil), ids...))
	fail := f.failRetrieve
	f.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset")
	}
	return f.Memory.Retrieve(ctx, collection, ids)
}

func (f *flakyStore) Upsert(ctx context.Context, collection string, records []vectorstore.Record) error {
	f.mu.Lock()
	f.upsertCalls++
	f.upsertSizes = append(f.upsertSizes, len(records))
	fail := f.failUpserts > 0
	if fail {
		f.failUpserts--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("service unavailable")
	}
	return f.Memory.Upsert(ctx, collection, records)
}

func scenarioDocs() []corpus.Document {
	return []corpus.Document{
		{ID: 1, Text: "array sort search"},
		{ID: 2, Text: "array hash map"},
		{ID: 3, Text: "graph search path"},
	}
}

func fastOptions(batch int) Options {
	return Options{
		BatchSize:        batch,
		SourceCollection: "problems",
		TargetCollection: "problems_v2",
		Retry:            resilience.RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond},
		RequestTimeout:   time.Second,
	}
}

func TestEngine_RunDeliversEveryDocument(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemory()
	src := &sliceSource{docs: scenarioDocs(), size: 2}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	model, delivery, err := NewEngine(src, store, fastOptions(2), m).Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if src.calls != 2 {
		t.Errorf("corpus scanned %d times, want 2", src.calls)
	}
	if delivery.Documents != 3 || delivery.Delivered != 3 || len(delivery.Failed) != 0 {
		t.Errorf("delivery = %+v", delivery)
	}
	if store.Len("problems_v2") != 3 {
		t.Fatalf("target holds %d records, want 3", store.Len("problems_v2"))
	}
	for _, doc := range scenarioDocs() {
		rec, ok := store.Get("problems_v2", doc.ID)
		if !ok {
			t.Fatalf("record %d missing", doc.ID)
		}
		if len(rec.Vector) != model.Dim() {
			t.Errorf("record %d has dim %d, want %d", doc.ID, len(rec.Vector), model.Dim())
		}
		want := ToFloat32(model.Vectorize(doc.Text))
		if !reflect.DeepEqual(rec.Vector, want) {
			t.Errorf("record %d vector = %v, want %v", doc.ID, rec.Vector, want)
		}
		if rec.Payload == nil || len(rec.Payload) != 0 {
			t.Errorf("record %d payload = %v, want empty", doc.ID, rec.Payload)
		}
	}
	if got := testutil.ToFloat64(m.VectorsDelivered); got != 3 {
		t.Errorf("vectors delivered metric = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.VocabularySize); got != 7 {
		t.Errorf("vocabulary size metric = %v, want 7", got)
	}
}

func TestEngine_PreservesExistingPayload(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewMemory()
	existing := vectorstore.Payload{"topics": []any{"dp"}, "name": "climbing-stairs"}
	if err := store.Upsert(ctx, "problems", []vectorstore.Record{{ID: 42, Vector: []float32{1}, Payload: existing}}); err != nil {
		t.Fatal(err)
	}
	src := &sliceSource{docs: []corpus.Document{
		{ID: 42, Text: "count ways to climb stairs"},
		{ID: 43, Text: "count islands in grid"},
	}, size: 10}

	_, delivery, err := NewEngine(src, store, fastOptions(10), nil).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	rec, _ := store.Get("problems_v2", 42)
	if !reflect.DeepEqual(rec.Payload, existing) {
		t.Errorf("payload = %v, want %v", rec.Payload, existing)
	}
	rec, _ = store.Get("problems_v2", 43)
	if len(rec.Payload) != 0 {
		t.Errorf("payload of a new point = %v, want empty", rec.Payload)
	}
	if delivery.PayloadMisses != 1 {
		t.Errorf("payload misses = %d, want 1", delivery.PayloadMisses)
	}
	// The source collection is left untouched.
	old, _ := store.Get("problems", 42)
	if !reflect.DeepEqual(old.Vector, []float32{1}) {
		t.Errorf("source vector changed to %v", old.Vector)
	}
}

func TestEngine_RetriesTransientUpsertFailures(t *testing.T) {
	store := &flakyStore{Memory: vectorstore.NewMemory(), failUpserts: 3}
	src := &sliceSource{docs: scenarioDocs(), size: 3}

	_, delivery, err := NewEngine(src, store, fastOptions(3), nil).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if store.upsertCalls != 4 {
		t.Errorf("upsert called %d times, want 4", store.upsertCalls)
	}
	if delivery.Delivered != 3 || len(delivery.Failed) != 0 {
		t.Errorf("delivery = %+v", delivery)
	}
}

func TestEngine_ExhaustedBatchIsReportedAndRunContinues(t *testing.T) {
	store := &flakyStore{Memory: vectorstore.NewMemory(), failUpserts: 6}
	src := &sliceSource{docs: scenarioDocs(), size: 2}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	_, delivery, err := NewEngine(src, store, fastOptions(2), m).Run(context.Background())
	if err != nil {
		t.Fatalf("a failed batch must not abort the run: %v", err)
	}
	if store.upsertCalls != 7 {
		t.Errorf("upsert called %d times, want 6 for the lost batch plus 1", store.upsertCalls)
	}
	if len(delivery.Failed) != 1 {
		t.Fatalf("failed batches = %d, want 1", len(delivery.Failed))
	}
	lost := delivery.Failed[0]
	if !reflect.DeepEqual(lost.IDs, []uint64{1, 2}) || lost.Attempts != 6 {
		t.Errorf("failed batch = %+v", lost)
	}
	if delivery.Delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivery.Delivered)
	}
	if _, ok := store.Get("problems_v2", 3); !ok {
		t.Error("the batch after the failure was not delivered")
	}
	if got := testutil.ToFloat64(m.UpsertFailures); got != 1 {
		t.Errorf("upsert failures metric = %v, want 1", got)
	}
}

func TestEngine_RetrieveFailureFallsBackToEmptyPayload(t *testing.T) {
	store := &flakyStore{Memory: vectorstore.NewMemory(), failRetrieve: true}
	src := &sliceSource{docs: scenarioDocs(), size: 3}

	_, delivery, err := NewEngine(src, store, fastOptions(3), nil).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if delivery.Delivered != 3 || delivery.PayloadMisses != 3 {
		t.Errorf("delivery = %+v", delivery)
	}
	rec, _ := store.Get("problems_v2", 1)
	if rec.Payload == nil || len(rec.Payload) != 0 {
		t.Errorf("payload = %v, want empty", rec.Payload)
	}
}

func TestEngine_ChunksRequestsAtBatchSize(t *testing.T) {
	store := &flakyStore{Memory: vectorstore.NewMemory()}
	e := NewEngine(&sliceSource{}, store, fastOptions(2), nil)
	e.FetchPayloads(context.Background(), []uint64{1, 2, 3, 4, 5})
	want := [][]uint64{{1, 2}, {3, 4}, {5}}
	if !reflect.DeepEqual(store.retrieveIDs, want) {
		t.Errorf("retrieve requests = %v, want %v", store.retrieveIDs, want)
	}

	src := &sliceSource{docs: []corpus.Document{
		{ID: 1, Text: "a"}, {ID: 2, Text: "b"}, {ID: 3, Text: "c"}, {ID: 4, Text: "d"}, {ID: 5, Text: "e"},
	}, size: 2}
	if _, _, err := NewEngine(src, store, fastOptions(2), nil).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, n := range store.upsertSizes {
		if n > 2 {
			t.Errorf("upsert of %d records exceeds the batch size", n)
		}
	}
}

func TestEngine_EmptyCorpus(t *testing.T) {
	store := vectorstore.NewMemory()
	_, _, err := NewEngine(&sliceSource{size: 10}, store, fastOptions(10), nil).Run(context.Background())
	if !errors.Is(err, apperrors.ErrEmptyCorpus) {
		t.Fatalf("err = %v, want ErrEmptyCorpus", err)
	}
	if store.Upserts() != 0 {
		t.Error("nothing should be upserted for an empty corpus")
	}
}

func TestEngine_CorpusErrorAbortsPass(t *testing.T) {
	boom := apperrors.Wrap(apperrors.ErrCorpusUnavailable, errors.New("connection refused"), "scanning corpus")
	src := &sliceSource{docs: scenarioDocs(), size: 1, err: boom}
	_, _, err := NewEngine(src, vectorstore.NewMemory(), fastOptions(1), nil).Run(context.Background())
	if !errors.Is(err, apperrors.ErrCorpusUnavailable) {
		t.Fatalf("err = %v, want ErrCorpusUnavailable", err)
	}
}

func TestEngine_CancelledDuringDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &flakyStore{Memory: vectorstore.NewMemory(), failUpserts: 100}
	opts := fastOptions(1)
	opts.Retry.BaseDelay = time.Hour
	e := NewEngine(&sliceSource{docs: scenarioDocs(), size: 1}, store, opts, nil)
	model := scenarioModel(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	delivery, err := e.Pass2(ctx, model)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if delivery.Delivered != 0 {
		t.Errorf("delivered = %d, want 0", delivery.Delivered)
	}
}

func TestEngine_VectorsAreUnitLength(t *testing.T) {
	store := vectorstore.NewMemory()
	src := &sliceSource{docs: scenarioDocs(), size: 3}
	if _, _, err := NewEngine(src, store, fastOptions(3), nil).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	for id := uint64(1); id <= 3; id++ {
		rec, _ := store.Get("problems_v2", id)
		var sum float64
		for _, x := range rec.Vector {
			sum += float64(x) * float64(x)
		}
		if math.Abs(math.Sqrt(sum)-1) > 1e-6 {
			t.Errorf("record %d norm = %v", id, math.Sqrt(sum))
		}
	}
}

func TestNewEngine_ZeroOptions(t *testing.T) {
	store := &flakyStore{Memory: vectorstore.NewMemory(), failUpserts: 1}
	e := NewEngine(&sliceSource{docs: scenarioDocs(), size: 3}, store, Options{}, nil)
	opts := e.Options()
	if opts.BatchSize != 100 || opts.SourceCollection != "problems" || opts.TargetCollection != "problems_v2" {
		t.Errorf("options = %+v", opts)
	}
	if opts.Retry != (resilience.RetryConfig{}) || opts.RequestTimeout != 0 {
		t.Errorf("retry and timeout should stay zero, got %+v", opts)
	}
	out := e.RetryUpsert(context.Background(), []vectorstore.Record{{ID: 1, Vector: []float32{1}}})
	if out.Attempts != 1 || out.Err == nil {
		t.Errorf("zero Retry should make one attempt, got %+v", out)
	}
}
