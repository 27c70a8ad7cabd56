// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Postgres, Corpus, Vectorizer, VectorStore, Redis, Kafka, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Ajaynegi0204/Search-Engine/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Vector store backends understood by vectorstore.New.
const (
	StoreQdrant = "qdrant"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// Corpus dialects understood by corpus.NewScanner.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Corpus      CorpusConfig      `yaml:"corpus"`
	Vectorizer  VectorizerConfig  `yaml:"vectorizer"`
	VectorStore VectorStoreConfig `yaml:"vectorStore"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig holds the serve-mode HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// CorpusConfig describes where the cleaned problem statements live.
type CorpusConfig struct {
	Dialect    string `yaml:"dialect"`
	Table      string `yaml:"table"`
	IDColumn   string `yaml:"idColumn"`
	TextColumn string `yaml:"textColumn"`
	// SQLitePath is only read when Dialect is "sqlite".
	SQLitePath string `yaml:"sqlitePath"`
}

// VectorizerConfig controls batching and delivery retries.
type VectorizerConfig struct {
	BatchSize      int           `yaml:"batchSize"`
	MaxRetries     int           `yaml:"maxRetries"`
	BaseDelay      time.Duration `yaml:"baseDelay"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// VectorStoreConfig selects the vector store backend and the collections
// payloads are read from and vectors are written to.
type VectorStoreConfig struct {
	Type             string       `yaml:"type"`
	SourceCollection string       `yaml:"sourceCollection"`
	TargetCollection string       `yaml:"targetCollection"`
	Qdrant           QdrantConfig `yaml:"qdrant"`
	SQLitePath       string       `yaml:"sqlitePath"`
}

// QdrantConfig holds the Qdrant gRPC endpoint.
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"apiKey"`
	UseTLS bool   `yaml:"useTLS"`
}

// Addr returns host:port for the gRPC dialer.
func (q QdrantConfig) Addr() string {
	return fmt.Sprintf("%s:%d", q.Host, q.Port)
}

// KafkaConfig holds Kafka broker and topic settings. An empty broker list
// disables both the completion event and the serve-mode trigger consumer.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	CorpusUpdated     string `yaml:"corpusUpdated"`
	VectorizeComplete string `yaml:"vectorizeComplete"`
}

// RedisConfig holds Redis connection parameters and the keys the frozen
// model is published under. An empty Addr disables publication.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	VocabKey string        `yaml:"vocabKey"`
	IDFKey   string        `yaml:"idfKey"`
	ModelTTL time.Duration `yaml:"modelTTL"`
}

// ArchiveConfig points at the S3-compatible bucket run snapshots are copied
// to. An empty Endpoint disables archiving.
type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"useSSL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading a file or the
// environment.
func Default() *Config {
	return defaultConfig()
}

// Validate rejects settings the vectorizer cannot run with.
func (c *Config) Validate() error {
	if c.Vectorizer.BatchSize <= 0 {
		return apperrors.Newf(apperrors.ErrInvalidConfig, "vectorizer.batchSize must be positive, got %d", c.Vectorizer.BatchSize)
	}
	if c.Vectorizer.MaxRetries < 0 {
		return apperrors.Newf(apperrors.ErrInvalidConfig, "vectorizer.maxRetries must not be negative, got %d", c.Vectorizer.MaxRetries)
	}
	if c.Vectorizer.BaseDelay < 0 {
		return apperrors.Newf(apperrors.ErrInvalidConfig, "vectorizer.baseDelay must not be negative, got %v", c.Vectorizer.BaseDelay)
	}
	switch c.VectorStore.Type {
	case StoreQdrant, StoreSQLite, StoreMemory:
	default:
		return apperrors.Newf(apperrors.ErrInvalidConfig, "unsupported vector store type %q", c.VectorStore.Type)
	}
	if c.VectorStore.SourceCollection == "" || c.VectorStore.TargetCollection == "" {
		return apperrors.New(apperrors.ErrInvalidConfig, "vectorStore source and target collections are required")
	}
	switch c.Corpus.Dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return apperrors.Newf(apperrors.ErrInvalidConfig, "unsupported corpus dialect %q", c.Corpus.Dialect)
	}
	if c.Corpus.Table == "" || c.Corpus.IDColumn == "" || c.Corpus.TextColumn == "" {
		return apperrors.New(apperrors.ErrInvalidConfig, "corpus table, idColumn and textColumn are required")
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "problems",
			User:            "postgres",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Corpus: CorpusConfig{
			Dialect:    DialectPostgres,
			Table:      "problems",
			IDColumn:   "id",
			TextColumn: "problem_statement",
		},
		Vectorizer: VectorizerConfig{
			BatchSize:      100,
			MaxRetries:     5,
			BaseDelay:      2 * time.Second,
			RequestTimeout: 300 * time.Second,
		},
		VectorStore: VectorStoreConfig{
			Type:             StoreQdrant,
			SourceCollection: "problems",
			TargetCollection: "problems_v2",
			Qdrant: QdrantConfig{
				Host: "localhost",
				Port: 6334,
			},
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "vectorizer-group",
			Topics: KafkaTopics{
				CorpusUpdated:     "corpus.updated",
				VectorizeComplete: "vectorize.complete",
			},
		},
		Redis: RedisConfig{
			PoolSize: 4,
			VocabKey: "vocab_json",
			IDFKey:   "idf_json",
		},
		Archive: ArchiveConfig{
			Bucket: "vectorizer-runs",
			Region: "us-east-1",
			Prefix: "runs",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads TV_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TV_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TV_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("TV_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("TV_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("TV_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("TV_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("TV_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("TV_CORPUS_DIALECT"); v != "" {
		cfg.Corpus.Dialect = v
	}
	if v := os.Getenv("TV_CORPUS_SQLITE_PATH"); v != "" {
		cfg.Corpus.SQLitePath = v
	}
	if v := os.Getenv("TV_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vectorizer.BatchSize = n
		}
	}
	if v := os.Getenv("TV_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vectorizer.MaxRetries = n
		}
	}
	if v := os.Getenv("TV_BASE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Vectorizer.BaseDelay = d
		}
	}
	if v := os.Getenv("TV_VECTOR_STORE_TYPE"); v != "" {
		cfg.VectorStore.Type = v
	}
	if v := os.Getenv("TV_QDRANT_HOST"); v != "" {
		cfg.VectorStore.Qdrant.Host = v
	}
	if v := os.Getenv("TV_QDRANT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.VectorStore.Qdrant.Port = port
		}
	}
	if v := os.Getenv("TV_QDRANT_API_KEY"); v != "" {
		cfg.VectorStore.Qdrant.APIKey = v
	}
	if v := os.Getenv("TV_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("TV_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TV_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TV_ARCHIVE_ENDPOINT"); v != "" {
		cfg.Archive.Endpoint = v
	}
	if v := os.Getenv("TV_ARCHIVE_ACCESS_KEY"); v != "" {
		cfg.Archive.AccessKey = v
	}
	if v := os.Getenv("TV_ARCHIVE_SECRET_KEY"); v != "" {
		cfg.Archive.SecretKey = v
	}
	if v := os.Getenv("TV_ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("TV_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TV_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
