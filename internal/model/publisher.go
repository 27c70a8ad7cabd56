// Package model publishes a frozen TF-IDF model to a key/value store so the
// query side can vectorize search text against the same vocabulary, and loads
// it back.
package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Ajaynegi0204/Search-Engine/internal/tfidf"
	"github.com/Ajaynegi0204/Search-Engine/pkg/config"
	"github.com/Ajaynegi0204/Search-Engine/pkg/logger"
	"github.com/Ajaynegi0204/Search-Engine/pkg/redis"
	"github.com/Ajaynegi0204/Search-Engine/pkg/resilience"
)

var ErrNotPublished = errors.New("model not published")

// KV is the storage the publisher writes to. *redis.Client satisfies it.
type KV interface {
	SetMany(ctx context.Context, pairs map[string]string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// Publisher writes the vocabulary index and IDF table as two JSON documents.
type Publisher struct {
	kv       KV
	vocabKey string
	idfKey   string
	ttl      time.Duration
	breaker  *resilience.Breaker
	logger   *slog.Logger
}

func NewPublisher(kv KV, cfg config.RedisConfig) *Publisher {
	vocabKey, idfKey := cfg.VocabKey, cfg.IDFKey
	if vocabKey == "" {
		vocabKey = "vocab_json"
	}
	if idfKey == "" {
		idfKey = "idf_json"
	}
	return &Publisher{
		kv:       kv,
		vocabKey: vocabKey,
		idfKey:   idfKey,
		ttl:      cfg.ModelTTL,
		breaker:  resilience.NewBreaker("model-publish", resilience.BreakerConfig{}),
		logger:   logger.WithComponent("model-publisher"),
	}
}

// Publish stores m. Both keys are written together. After repeated failures
// publication is skipped with resilience.ErrCircuitOpen until the store
// recovers.
func (p *Publisher) Publish(ctx context.Context, m *tfidf.Model) error {
	vocab, err := json.Marshal(m.IndexMap())
	if err != nil {
		return fmt.Errorf("encoding vocabulary: %w", err)
	}
	idf, err := json.Marshal(m.IDFMap())
	if err != nil {
		return fmt.Errorf("encoding idf table: %w", err)
	}
	err = p.breaker.Execute(func() error {
		return p.kv.SetMany(ctx, map[string]string{
			p.vocabKey: string(vocab),
			p.idfKey:   string(idf),
		}, p.ttl)
	})
	if err != nil {
		return fmt.Errorf("publishing model: %w", err)
	}
	p.logger.Info("model published",
		"vocab_key", p.vocabKey,
		"idf_key", p.idfKey,
		"vocab_size", m.Dim(),
		"bytes", len(vocab)+len(idf),
	)
	return nil
}

// Load reads the published model back. The corpus size is not published, so
// the returned model reports zero total documents.
func (p *Publisher) Load(ctx context.Context) (*tfidf.Model, error) {
	vocabRaw, err := p.get(ctx, p.vocabKey)
	if err != nil {
		return nil, err
	}
	idfRaw, err := p.get(ctx, p.idfKey)
	if err != nil {
		return nil, err
	}
	var index map[string]int
	if err := json.Unmarshal([]byte(vocabRaw), &index); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", p.vocabKey, err)
	}
	var idf map[string]float64
	if err := json.Unmarshal([]byte(idfRaw), &idf); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", p.idfKey, err)
	}
	m, err := tfidf.NewModel(0, index, idf)
	if err != nil {
		return nil, fmt.Errorf("rebuilding model: %w", err)
	}
	return m, nil
}

func (p *Publisher) get(ctx context.Context, key string) (string, error) {
	v, err := p.kv.Get(ctx, key)
	if err != nil {
		if redis.IsNilError(err) {
			return "", fmt.Errorf("%w: key %s is missing", ErrNotPublished, key)
		}
		return "", fmt.Errorf("reading %s: %w", key, err)
	}
	return v, nil
}
