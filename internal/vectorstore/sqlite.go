package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	_ "modernc.org/sqlite"
)

const pointsSchema = `CREATE TABLE IF NOT EXISTS points (
	collection TEXT NOT NULL,
	id         INTEGER NOT NULL,
	vector     BLOB,
	payload    TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (collection, id)
)`

// SQLite stores points in a single table keyed by (collection, id). Vectors
// are little-endian float32 BLOBs and payloads are JSON text.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("vectorstore: sqlite path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	store, err := NewSQLite(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLite wraps an open database handle and ensures the schema exists.
func NewSQLite(ctx context.Context, db *sql.DB) (*SQLite, error) {
	if db == nil {
		return nil, fmt.Errorf("vectorstore: db is nil")
	}
	if _, err := db.ExecContext(ctx, pointsSchema); err != nil {
		return nil, fmt.Errorf("creating points table: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Retrieve(ctx context.Context, collection string, ids []uint64) (map[uint64]Payload, error) {
	out := make(map[uint64]Payload, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, collection)
	for _, id := range ids {
		args = append(args, int64(id))
	}
	query := fmt.Sprintf(`SELECT id, payload FROM points WHERE collection = ? AND id IN (%s)`,
		strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("retrieve", collection, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id  int64
			raw string
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, storeError("retrieve", collection, err)
		}
		payload, err := decodePayload(raw)
		if err != nil {
			return nil, storeError("retrieve", collection, fmt.Errorf("point %d: %w", id, err))
		}
		out[uint64(id)] = payload
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("retrieve", collection, err)
	}
	return out, nil
}

func (s *SQLite) Upsert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError("upsert", collection, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO points(collection, id, vector, payload) VALUES(?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET vector = excluded.vector, payload = excluded.payload`)
	if err != nil {
		return storeError("upsert", collection, err)
	}
	defer stmt.Close()

	for _, rec := range records {
		payload, err := json.Marshal(rec.Payload.Clone())
		if err != nil {
			return storeError("upsert", collection, fmt.Errorf("encoding payload of point %d: %w", rec.ID, err))
		}
		if _, err := stmt.ExecContext(ctx, collection, int64(rec.ID), EncodeVector(rec.Vector), string(payload)); err != nil {
			return storeError("upsert", collection, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeError("upsert", collection, err)
	}
	return nil
}

// Vector loads the stored vector of one point.
func (s *SQLite) Vector(ctx context.Context, collection string, id uint64) ([]float32, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT vector FROM points WHERE collection = ? AND id = ?`, collection, int64(id)).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeError("read vector", collection, err)
	}
	vec, err := DecodeVector(blob)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// EncodeVector writes vec as little-endian IEEE 754 float32 values with no
// length prefix.
func EncodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

// DecodeVector reverses EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vectorstore: invalid vector blob length %d (not multiple of 4)", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

// decodePayload keeps numbers as json.Number so integers survive a
// read-modify-write cycle unchanged.
func decodePayload(raw string) (Payload, error) {
	payload := Payload{}
	if raw == "" {
		return payload, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	if payload == nil {
		payload = Payload{}
	}
	return payload, nil
}

var _ Client = (*SQLite)(nil)
