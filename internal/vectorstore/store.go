// Package vectorstore defines the capability the vectorizer needs from a
// vector database and provides Qdrant, SQLite and in-memory backends.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/Ajaynegi0204/Search-Engine/pkg/config"
	apperrors "github.com/Ajaynegi0204/Search-Engine/pkg/errors"
)

// Payload is the metadata stored next to a vector. The vectorizer copies it
// through untouched.
type Payload map[string]any

// Record is one point delivered to a collection.
type Record struct {
	ID      uint64
	Vector  []float32
	Payload Payload
}

// Store is the read and write surface used by the vectorizer. Retrieve
// returns payloads only for ids that exist; a missing id is not an error.
// Upsert replaces or inserts each record by id.
type Store interface {
	Retrieve(ctx context.Context, collection string, ids []uint64) (map[uint64]Payload, error)
	Upsert(ctx context.Context, collection string, records []Record) error
}

// Client is a Store that owns a connection.
type Client interface {
	Store
	Ping(ctx context.Context) error
	Close() error
}

// New builds the backend selected by cfg.Type.
func New(ctx context.Context, cfg config.VectorStoreConfig) (Client, error) {
	switch cfg.Type {
	case config.StoreQdrant:
		return NewQdrant(cfg.Qdrant)
	case config.StoreSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath)
	case config.StoreMemory:
		return NewMemory(), nil
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalidConfig, "unsupported vector store type %q", cfg.Type)
	}
}

// Clone returns a shallow copy of p that is never nil.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func storeError(op, collection string, err error) error {
	return apperrors.Wrap(apperrors.ErrVectorStore, err, fmt.Sprintf("%s %s", op, collection))
}
