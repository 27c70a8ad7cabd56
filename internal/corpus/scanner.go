// Package corpus streams cleaned problem statements out of the relational
// store in bounded batches. Every call to Batches opens its own connection
// and cursor, so the two passes of a vectorization run never share state.
package corpus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Ajaynegi0204/Search-Engine/pkg/config"
	apperrors "github.com/Ajaynegi0204/Search-Engine/pkg/errors"
	"github.com/Ajaynegi0204/Search-Engine/pkg/postgres"
	"github.com/lib/pq"
)

const cursorName = "corpus_cursor"

// errStopped unwinds a scan whose consumer stopped ranging. On the cursor
// path it makes InTx roll the read-only transaction back.
var errStopped = errors.New("consumer stopped")

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Document is one non-blank problem statement.
type Document struct {
	ID   uint64
	Text string
}

// Batch is an ordered run of at most batchSize documents.
type Batch []Document

// Source produces a fresh lazy sequence of batches on every call.
type Source interface {
	Batches(ctx context.Context) iter.Seq2[Batch, error]
}

// Scanner reads (id, text) rows from a SQL table.
type Scanner struct {
	db        *sql.DB
	dialect   string
	query     string
	batchSize int
	logger    *slog.Logger
}

// NewScanner validates the table and column names and builds the scan query.
func NewScanner(db *sql.DB, cfg config.CorpusConfig, batchSize int) (*Scanner, error) {
	if batchSize <= 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidConfig, "batch size must be positive, got %d", batchSize)
	}
	for _, ident := range []string{cfg.Table, cfg.IDColumn, cfg.TextColumn} {
		if !identPattern.MatchString(ident) {
			return nil, apperrors.Newf(apperrors.ErrInvalidConfig, "invalid corpus identifier %q", ident)
		}
	}
	switch cfg.Dialect {
	case config.DialectPostgres, config.DialectSQLite:
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalidConfig, "unsupported corpus dialect %q", cfg.Dialect)
	}
	query := fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY %s",
		quoteIdent(cfg.IDColumn),
		quoteIdent(cfg.TextColumn),
		quoteIdent(cfg.Table),
		quoteIdent(cfg.IDColumn),
	)
	return &Scanner{
		db:        db,
		dialect:   cfg.Dialect,
		query:     query,
		batchSize: batchSize,
		logger:    slog.Default().With("component", "corpus-scanner", "table", cfg.Table),
	}, nil
}

// Batches streams the whole corpus once. Rows with blank text are dropped.
// A source failure is yielded as the final element unless the consumer has
// already stopped ranging.
func (s *Scanner) Batches(ctx context.Context) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		stopped := false
		emit := func(b Batch) bool {
			if !yield(b, nil) {
				stopped = true
			}
			return !stopped
		}
		var err error
		switch s.dialect {
		case config.DialectPostgres:
			err = s.scanCursor(ctx, emit)
		default:
			err = s.scanRows(ctx, emit)
		}
		if stopped || errors.Is(err, errStopped) {
			if err != nil && !errors.Is(err, errStopped) {
				s.logger.Warn("error after consumer stopped", "error", err)
			}
			return
		}
		if err != nil {
			yield(nil, apperrors.Wrap(apperrors.ErrCorpusUnavailable, err, "scanning corpus"))
		}
	}
}

// scanCursor declares a server-side cursor and fetches batchSize rows per
// round trip.
func (s *Scanner) scanCursor(ctx context.Context, emit func(Batch) bool) error {
	fetch := fmt.Sprintf("FETCH FORWARD %d FROM %s", s.batchSize, cursorName)
	return postgres.InTx(ctx, s.db, &sql.TxOptions{ReadOnly: true}, func(tx *sql.Tx) error {
		declare := fmt.Sprintf("DECLARE %s NO SCROLL CURSOR FOR %s", cursorName, s.query)
		if _, err := tx.ExecContext(ctx, declare); err != nil {
			return fmt.Errorf("declaring cursor: %w", err)
		}
		for {
			rows, err := tx.QueryContext(ctx, fetch)
			if err != nil {
				return fmt.Errorf("fetching from cursor: %w", err)
			}
			batch, fetched, err := readBatch(rows, s.batchSize)
			if err != nil {
				return err
			}
			if fetched == 0 {
				return nil
			}
			s.logger.Debug("batch fetched", "rows", fetched, "documents", len(batch))
			if len(batch) > 0 && !emit(batch) {
				return errStopped
			}
		}
	})
}

// scanRows streams a plain result set on a dedicated connection and cuts it
// into batches client-side.
func (s *Scanner) scanRows(ctx context.Context, emit func(Batch) bool) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, s.query)
	if err != nil {
		return fmt.Errorf("querying corpus: %w", err)
	}
	defer rows.Close()
	for {
		batch, fetched, err := readRows(rows, s.batchSize)
		if err != nil {
			return err
		}
		if fetched == 0 {
			return nil
		}
		s.logger.Debug("batch fetched", "rows", fetched, "documents", len(batch))
		if len(batch) > 0 && !emit(batch) {
			return errStopped
		}
	}
}

// readBatch drains rows completely and closes them.
func readBatch(rows *sql.Rows, limit int) (Batch, int, error) {
	defer rows.Close()
	batch, fetched, err := readRows(rows, limit)
	if err != nil {
		return nil, fetched, err
	}
	if err := rows.Err(); err != nil {
		return nil, fetched, fmt.Errorf("iterating rows: %w", err)
	}
	return batch, fetched, nil
}

// readRows reads up to limit rows and reports how many were read, blank or
// not.
func readRows(rows *sql.Rows, limit int) (Batch, int, error) {
	batch := make(Batch, 0, limit)
	fetched := 0
	for fetched < limit && rows.Next() {
		fetched++
		var (
			id   uint64
			text sql.NullString
		)
		if err := rows.Scan(&id, &text); err != nil {
			return nil, fetched, fmt.Errorf("scanning row: %w", err)
		}
		trimmed := strings.TrimSpace(text.String)
		if !text.Valid || trimmed == "" {
			continue
		}
		batch = append(batch, Document{ID: id, Text: trimmed})
	}
	if fetched < limit {
		if err := rows.Err(); err != nil {
			return nil, fetched, fmt.Errorf("iterating rows: %w", err)
		}
	}
	return batch, fetched, nil
}

func quoteIdent(ident string) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}
