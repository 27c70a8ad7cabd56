package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type trigger struct {
	Reason string `json:"reason"`
	Table  string `json:"table"`
}

func TestDecodeJSON(t *testing.T) {
	got, err := DecodeJSON[trigger]([]byte(`{"reason":"import","table":"problems"}`))
	if err != nil {
		t.Fatalf("DecodeJSON failed: %v", err)
	}
	if got.Reason != "import" || got.Table != "problems" {
		t.Errorf("decoded %+v", got)
	}
	if _, err := DecodeJSON[trigger]([]byte(`{not json`)); err == nil {
		t.Error("expected an error for malformed JSON")
	}
}

// queueReader serves queued messages, then blocks until ctx ends.
type queueReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	fetched   []int64
	committed []int64
	closed    bool
}

func (r *queueReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.fetched = append(r.fetched, msg.Offset)
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *queueReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *queueReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *queueReader) snapshot() (fetched, committed []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.fetched...), append([]int64(nil), r.committed...)
}

func TestConsumer_RetriesRejectedMessageBeforeFetchingNext(t *testing.T) {
	reader := &queueReader{queue: []kafka.Message{{Offset: 10}, {Offset: 11}}}
	var mu sync.Mutex
	var seen []int64
	failures := 2
	handler := func(_ context.Context, _ []byte, _ []byte) error {
		mu.Lock()
		defer mu.Unlock()
		fetched, _ := reader.snapshot()
		seen = append(seen, fetched[len(fetched)-1])
		if failures > 0 {
			failures--
			if len(fetched) != 1 {
				t.Errorf("message 11 fetched while 10 was still rejected")
			}
			return errors.New("run failed")
		}
		return nil
	}
	c := newConsumer(reader, "corpus.updated", handler)
	c.retryDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		if _, committed := reader.snapshot(); len(committed) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("messages were not committed in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start returned %v", err)
	}

	_, committed := reader.snapshot()
	if committed[0] != 10 || committed[1] != 11 {
		t.Errorf("committed = %v", committed)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 4 || seen[0] != 10 || seen[2] != 10 || seen[3] != 11 {
		t.Errorf("handler saw offsets %v, want [10 10 10 11]", seen)
	}
	if !reader.closed {
		t.Error("reader not closed")
	}
}

func TestConsumer_StopsWithoutCommittingOnCancel(t *testing.T) {
	reader := &queueReader{queue: []kafka.Message{{Offset: 3}}}
	ctx, cancel := context.WithCancel(context.Background())
	c := newConsumer(reader, "corpus.updated", func(context.Context, []byte, []byte) error {
		cancel()
		return errors.New("run failed")
	})
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start returned %v", err)
	}
	if _, committed := reader.snapshot(); len(committed) != 0 {
		t.Errorf("committed = %v, want nothing", committed)
	}
}
