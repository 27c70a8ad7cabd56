package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	_ "modernc.org/sqlite"

	"github.com/Ajaynegi0204/Search-Engine/internal/archive"
	"github.com/Ajaynegi0204/Search-Engine/internal/corpus"
	"github.com/Ajaynegi0204/Search-Engine/internal/model"
	"github.com/Ajaynegi0204/Search-Engine/internal/runner"
	"github.com/Ajaynegi0204/Search-Engine/internal/tfidf"
	"github.com/Ajaynegi0204/Search-Engine/internal/vectorstore"
	"github.com/Ajaynegi0204/Search-Engine/pkg/config"
	apperrors "github.com/Ajaynegi0204/Search-Engine/pkg/errors"
	"github.com/Ajaynegi0204/Search-Engine/pkg/health"
	"github.com/Ajaynegi0204/Search-Engine/pkg/kafka"
	"github.com/Ajaynegi0204/Search-Engine/pkg/metrics"
	"github.com/Ajaynegi0204/Search-Engine/pkg/postgres"
	"github.com/Ajaynegi0204/Search-Engine/pkg/redis"
	"github.com/Ajaynegi0204/Search-Engine/pkg/resilience"
)

// deps holds everything a command needs, built from one Config.
type deps struct {
	cfg      *config.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	checker  *health.Checker
	engine   *tfidf.Engine
	models   *model.Publisher
	events   *kafka.Producer
	archive  *archive.Archive
	closers  []func() error
}

func buildDeps(ctx context.Context, cfg *config.Config) (d *deps, err error) {
	d = &deps{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		checker:  health.NewChecker(),
	}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()
	d.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.metrics = metrics.New(d.registry)

	db, err := openCorpus(cfg)
	if err != nil {
		return d, err
	}
	d.closers = append(d.closers, db.Close)
	d.checker.Register("corpus", health.PingCheck(health.PingFunc(db.PingContext), false))
	source, err := corpus.NewScanner(db, cfg.Corpus, cfg.Vectorizer.BatchSize)
	if err != nil {
		return d, err
	}

	store, err := vectorstore.New(ctx, cfg.VectorStore)
	if err != nil {
		return d, err
	}
	d.closers = append(d.closers, store.Close)
	d.checker.Register("vector_store", health.PingCheck(store, false))

	d.engine = tfidf.NewEngine(source, store, tfidf.Options{
		BatchSize:        cfg.Vectorizer.BatchSize,
		SourceCollection: cfg.VectorStore.SourceCollection,
		TargetCollection: cfg.VectorStore.TargetCollection,
		Retry: resilience.RetryConfig{
			MaxRetries: cfg.Vectorizer.MaxRetries,
			BaseDelay:  cfg.Vectorizer.BaseDelay,
			MaxJitter:  100 * time.Millisecond,
		},
		RequestTimeout: cfg.Vectorizer.RequestTimeout,
	}, d.metrics)

	if cfg.Redis.Addr != "" {
		client, err := redis.NewClient(cfg.Redis)
		if err != nil {
			// Publication is optional: vectors are still delivered without it.
			slog.Warn("redis unavailable, model will not be published", "addr", cfg.Redis.Addr, "error", err)
		} else {
			d.closers = append(d.closers, client.Close)
			d.checker.Register("redis", health.PingCheck(client, true))
			d.models = model.NewPublisher(client, cfg.Redis)
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		d.events = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.VectorizeComplete)
		d.closers = append(d.closers, d.events.Close)
	}

	if cfg.Archive.Endpoint != "" {
		a, err := archive.New(ctx, cfg.Archive)
		if err != nil {
			slog.Warn("object storage unavailable, runs will not be archived", "endpoint", cfg.Archive.Endpoint, "error", err)
		} else {
			d.archive = a
		}
	}
	return d, nil
}

// openCorpus returns a pinged handle to the corpus database.
func openCorpus(cfg *config.Config) (*sql.DB, error) {
	switch cfg.Corpus.Dialect {
	case config.DialectSQLite:
		if cfg.Corpus.SQLitePath == "" {
			return nil, apperrors.New(apperrors.ErrInvalidConfig, "corpus.sqlitePath is required for the sqlite dialect")
		}
		db, err := sql.Open("sqlite", cfg.Corpus.SQLitePath)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCorpusUnavailable, err, "opening sqlite corpus")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, apperrors.Wrap(apperrors.ErrCorpusUnavailable, err, "pinging sqlite corpus")
		}
		return db, nil
	default:
		client, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCorpusUnavailable, err, fmt.Sprintf("connecting to %s:%d", cfg.Postgres.Host, cfg.Postgres.Port))
		}
		return client.DB, nil
	}
}

// runner assembles a Runner from whichever sinks are configured. Sinks are
// only attached when non-nil so the interfaces never hold typed nils.
func (d *deps) runner() *runner.Runner {
	opts := []runner.Option{runner.WithMetrics(d.metrics)}
	if d.models != nil {
		opts = append(opts, runner.WithModelPublisher(d.models))
	}
	if d.events != nil {
		opts = append(opts, runner.WithEventPublisher(d.events))
	}
	if d.archive != nil {
		opts = append(opts, runner.WithArchiver(d.archive))
	}
	return runner.New(d.engine, opts...)
}

// Close releases resources in reverse order of acquisition.
func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			slog.Warn("error releasing resource", "error", err)
		}
	}
	d.closers = nil
}
