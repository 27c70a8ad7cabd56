package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Ajaynegi0204/Search-Engine/pkg/config"
	apperrors "github.com/Ajaynegi0204/Search-Engine/pkg/errors"
	"github.com/Ajaynegi0204/Search-Engine/pkg/health"
	"github.com/Ajaynegi0204/Search-Engine/pkg/kafka"
	"github.com/Ajaynegi0204/Search-Engine/pkg/metrics"
	"github.com/Ajaynegi0204/Search-Engine/pkg/middleware"
)

// Starter is a blocking background loop such as a Kafka consumer.
type Starter interface {
	Start(ctx context.Context) error
}

// Server exposes a Runner over HTTP and, optionally, a trigger consumer.
type Server struct {
	runner   *Runner
	checker  *health.Checker
	metrics  *metrics.Metrics
	scrape   http.Handler
	consumer Starter
	cfg      config.ServerConfig
	logger   *slog.Logger
}

// NewServer wires a server. m, scrape and consumer may be nil.
func NewServer(r *Runner, checker *health.Checker, cfg config.ServerConfig, m *metrics.Metrics, scrape http.Handler, consumer Starter) *Server {
	return &Server{
		runner:   r,
		checker:  checker,
		metrics:  m,
		scrape:   scrape,
		consumer: consumer,
		cfg:      cfg,
		logger:   slog.Default().With("component", "server"),
	}
}

// Handler builds the route table. Runs started through it are bound to ctx,
// not to the request that triggered them.
//
//	POST /runs        trigger a run (?wait=true blocks for the report)
//	GET  /runs/last   report of the most recent run
//	GET  /healthz     liveness
//	GET  /readyz      dependency checks
//	GET  /metrics     Prometheus scrape
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	probe := middleware.Timeout(5 * time.Second)

	mux.HandleFunc("POST /runs", s.handleTrigger(ctx))
	mux.HandleFunc("GET /runs/last", s.handleLast)
	mux.Handle("GET /healthz", probe(s.checker.LiveHandler()))
	mux.Handle("GET /readyz", probe(s.checker.ReadyHandler()))
	if s.scrape != nil {
		mux.Handle("GET /metrics", s.scrape)
	}

	var h http.Handler = mux
	if s.metrics != nil {
		h = middleware.Metrics(s.metrics)(h)
	}
	return h
}

func (s *Server) handleTrigger(runCtx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch := s.runner.Trigger(runCtx)
		if r.URL.Query().Get("wait") != "true" {
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
			return
		}
		select {
		case res := <-ch:
			report, _ := res.Val.(*Report)
			code := http.StatusOK
			if res.Err != nil && !errors.Is(res.Err, apperrors.ErrEmptyCorpus) {
				code = http.StatusInternalServerError
			}
			if res.Shared {
				w.Header().Set("X-Run-Shared", "true")
			}
			writeJSON(w, code, report)
		case <-r.Context().Done():
		}
	}
}

func (s *Server) handleLast(w http.ResponseWriter, _ *http.Request) {
	last := s.runner.Last()
	if last == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no run has finished yet"})
		return
	}
	writeJSON(w, http.StatusOK, last)
}

// CorpusUpdatedHandler is the Kafka handler for corpus-change notifications.
// Every message triggers a full run; messages arriving while a run is in
// flight join it.
func CorpusUpdatedHandler(r *Runner) kafka.MessageHandler {
	logger := slog.Default().With("component", "corpus-trigger")
	return func(ctx context.Context, key []byte, value []byte) error {
		logger.Info("corpus update received", "key", string(key), "value_size", len(value))
		res := <-r.Trigger(ctx)
		if res.Err != nil && !errors.Is(res.Err, apperrors.ErrEmptyCorpus) {
			return fmt.Errorf("triggered run: %w", res.Err)
		}
		return nil
	}
}

// Serve runs the HTTP server and the consumer until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Handler(ctx),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})
	if s.consumer != nil {
		g.Go(func() error {
			return s.consumer.Start(gctx)
		})
	}
	return g.Wait()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
