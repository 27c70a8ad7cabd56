package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Ajaynegi0204/Search-Engine/internal/model"
	"github.com/Ajaynegi0204/Search-Engine/internal/runner"
	"github.com/Ajaynegi0204/Search-Engine/pkg/config"
	apperrors "github.com/Ajaynegi0204/Search-Engine/pkg/errors"
	"github.com/Ajaynegi0204/Search-Engine/pkg/kafka"
	"github.com/Ajaynegi0204/Search-Engine/pkg/logger"
	"github.com/Ajaynegi0204/Search-Engine/pkg/metrics"
	"github.com/Ajaynegi0204/Search-Engine/pkg/redis"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
	// ProgramName is injected at build time
	ProgramName = "vectorizer"
)

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	if err := Execute(Version, Build, ProgramName, args[1:]); err != nil {
		if code := apperrors.ExitCode(err); code != apperrors.ExitOK {
			exit(code)
		}
	}
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(version, build, programName string, args []string) error {
	root := newRootCmd(version, build, programName)
	root.SetArgs(args)
	return root.Execute()
}

type globalFlags struct {
	configPath string
	logLevel   string
}

func registerGlobalFlags(fs *pflag.FlagSet, g *globalFlags) {
	fs.StringVarP(&g.configPath, "config", "c", "", "path to a YAML config file (defaults and TV_* variables apply without one)")
	fs.StringVar(&g.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
}

func newRootCmd(version, build, programName string) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           programName,
		Short:         "Corpus-wide TF-IDF vectorizer",
		Long:          "Builds TF-IDF vectors for every problem statement in the corpus and delivers them to a vector store.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetVersionTemplate(fmt.Sprintf("{{.Version}} (%s)\n", build))
	registerGlobalFlags(root.PersistentFlags(), g)

	root.AddCommand(
		newRunCmd(g),
		newStatsCmd(g),
		newServeCmd(g),
		newEmbedCmd(g),
	)
	return root
}

// loadConfig reads the config and sets up logging on stderr so stdout stays
// machine-readable.
func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	logger.SetupWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

func newRunCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run both passes once and print the run report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			if cfg.Metrics.Enabled {
				shutdown := metrics.StartServer(cfg.Metrics.Port, metrics.HandlerFor(d.registry))
				defer shutdown(context.Background())
			}

			report, err := d.runner().Run(ctx)
			if report != nil {
				if encErr := writeJSON(cmd.OutOrStdout(), report); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}
}

func newStatsCmd(g *globalFlags) *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Run the first pass only and print corpus statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			agg, err := d.engine.Pass1(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"total_docs":      agg.TotalDocs(),
				"vocabulary_size": agg.VocabularySize(),
				"top_tokens":      agg.Top(top),
			})
		},
	}
	cmd.Flags().IntVar(&top, "top", 20, "number of most frequent tokens to list")
	return cmd
}

func newServeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve run triggers over HTTP and Kafka",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			r := d.runner()
			var consumer runner.Starter
			if len(cfg.Kafka.Brokers) > 0 {
				consumer = kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.CorpusUpdated, runner.CorpusUpdatedHandler(r))
			}
			srv := runner.NewServer(r, d.checker, cfg.Server, d.metrics, metrics.HandlerFor(d.registry), consumer)
			slog.Info("vectorizer serving",
				"port", cfg.Server.Port,
				"vector_store", cfg.VectorStore.Type,
				"kafka", len(cfg.Kafka.Brokers) > 0,
			)
			return srv.Serve(ctx)
		},
	}
}

func newEmbedCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "embed TEXT...",
		Short: "Vectorize text with the published model",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			if cfg.Redis.Addr == "" {
				return apperrors.New(apperrors.ErrInvalidConfig, "redis.addr is required to load the published model")
			}
			client, err := redis.NewClient(cfg.Redis)
			if err != nil {
				return err
			}
			defer client.Close()

			m, err := model.NewPublisher(client, cfg.Redis).Load(cmd.Context())
			if err != nil {
				return err
			}
			out := make([]sparseVector, 0, len(args))
			for _, text := range args {
				out = append(out, toSparse(text, m.Vectorize(text)))
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
}

type sparseVector struct {
	Text    string    `json:"text"`
	Dim     int       `json:"dim"`
	Indices []int     `json:"indices"`
	Values  []float64 `json:"values"`
}

func toSparse(text string, vec []float64) sparseVector {
	sv := sparseVector{Text: text, Dim: len(vec), Indices: []int{}, Values: []float64{}}
	for i, x := range vec {
		if x != 0 {
			sv.Indices = append(sv.Indices, i)
			sv.Values = append(sv.Values, x)
		}
	}
	return sv
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
