// Package archive copies a snapshot of each vectorization run, the frozen
// model and the run report, to S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Ajaynegi0204/Search-Engine/internal/tfidf"
	"github.com/Ajaynegi0204/Search-Engine/pkg/config"
	"github.com/Ajaynegi0204/Search-Engine/pkg/logger"
)

// Snapshot is the archived form of a model.
type Snapshot struct {
	RunID     string             `json:"run_id"`
	TotalDocs int                `json:"total_docs"`
	Vocab     map[string]int     `json:"vocab"`
	IDF       map[string]float64 `json:"idf"`
}

// Archive writes run artifacts under <prefix>/<run id>/ in one bucket.
type Archive struct {
	client *minio.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// New connects to the endpoint and creates the bucket if it is missing.
func New(ctx context.Context, cfg config.ArchiveConfig) (*Archive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object storage client for %s: %w", cfg.Endpoint, err)
	}
	a := &Archive{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger.WithComponent("archive").With("bucket", cfg.Bucket),
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", cfg.Bucket, err)
		}
		a.logger.Info("created bucket")
	}
	return a, nil
}

// SaveModel stores the model snapshot of runID.
func (a *Archive) SaveModel(ctx context.Context, runID string, m *tfidf.Model) error {
	return a.put(ctx, runID, "model.json", Snapshot{
		RunID:     runID,
		TotalDocs: m.TotalDocs(),
		Vocab:     m.IndexMap(),
		IDF:       m.IDFMap(),
	})
}

// SaveReport stores any JSON-encodable run report of runID.
func (a *Archive) SaveReport(ctx context.Context, runID string, report any) error {
	return a.put(ctx, runID, "report.json", report)
}

// Key returns the object key for name within runID.
func (a *Archive) Key(runID, name string) string {
	return path.Join(a.prefix, runID, name)
}

func (a *Archive) put(ctx context.Context, runID, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	key := a.Key(runID, name)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	a.logger.Debug("object archived", "key", key, "bytes", len(data))
	return nil
}
