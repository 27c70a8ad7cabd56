package corpus

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/Ajaynegi0204/Search-Engine/pkg/config"
	apperrors "github.com/Ajaynegi0204/Search-Engine/pkg/errors"
)

func sqliteCorpus(t *testing.T, rows map[int]any) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "corpus.db"))
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(`CREATE TABLE problems (id INTEGER PRIMARY KEY, problem_statement TEXT)`); err != nil {
		t.Fatalf("creating table: %v", err)
	}
	for id, text := range rows {
		if _, err := db.Exec(`INSERT INTO problems (id, problem_statement) VALUES (?, ?)`, id, text); err != nil {
			t.Fatalf("inserting row %d: %v", id, err)
		}
	}
	return db
}

func sqliteConfig() config.CorpusConfig {
	return config.CorpusConfig{
		Dialect:    config.DialectSQLite,
		Table:      "problems",
		IDColumn:   "id",
		TextColumn: "problem_statement",
	}
}

func collect(t *testing.T, src Source) []Batch {
	t.Helper()
	var out []Batch
	for batch, err := range src.Batches(context.Background()) {
		if err != nil {
			t.Fatalf("unexpected scan error: %v", err)
		}
		out = append(out, batch)
	}
	return out
}

func TestScanner_BatchesInIDOrder(t *testing.T) {
	db := sqliteCorpus(t, map[int]any{
		5: "graph search path",
		1: "array sort search",
		3: "array hash map",
		4: "two pointers",
		2: "binary search",
	})
	s, err := NewScanner(db, sqliteConfig(), 2)
	if err != nil {
		t.Fatal(err)
	}
	batches := collect(t, s)
	sizes := make([]int, len(batches))
	var ids []uint64
	for i, b := range batches {
		sizes[i] = len(b)
		for _, d := range b {
			ids = append(ids, d.ID)
		}
	}
	if !reflect.DeepEqual(sizes, []int{2, 2, 1}) {
		t.Errorf("batch sizes = %v, want [2 2 1]", sizes)
	}
	if !reflect.DeepEqual(ids, []uint64{1, 2, 3, 4, 5}) {
		t.Errorf("ids = %v, want ascending", ids)
	}
}

func TestScanner_SkipsBlankAndNullText(t *testing.T) {
	db := sqliteCorpus(t, map[int]any{
		1: "  array sort  ",
		2: "",
		3: nil,
		4: " \t\n",
		5: "hash map",
	})
	s, err := NewScanner(db, sqliteConfig(), 10)
	if err != nil {
		t.Fatal(err)
	}
	var docs []Document
	for _, b := range collect(t, s) {
		docs = append(docs, b...)
	}
	want := []Document{{ID: 1, Text: "array sort"}, {ID: 5, Text: "hash map"}}
	if !reflect.DeepEqual(docs, want) {
		t.Errorf("documents = %v, want %v", docs, want)
	}
}

func TestScanner_NoEmptyBatches(t *testing.T) {
	db := sqliteCorpus(t, map[int]any{1: "", 2: "", 3: "dp"})
	s, err := NewScanner(db, sqliteConfig(), 2)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range collect(t, s) {
		if len(b) == 0 {
			t.Error("yielded an empty batch")
		}
	}
}

func TestScanner_Restartable(t *testing.T) {
	db := sqliteCorpus(t, map[int]any{1: "a", 2: "b", 3: "c"})
	s, err := NewScanner(db, sqliteConfig(), 2)
	if err != nil {
		t.Fatal(err)
	}
	first := collect(t, s)
	second := collect(t, s)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("second scan %v differs from first %v", second, first)
	}
}

func TestScanner_EarlyBreakReleasesConnection(t *testing.T) {
	db := sqliteCorpus(t, map[int]any{1: "a", 2: "b", 3: "c"})
	db.SetMaxOpenConns(1)
	s, err := NewScanner(db, sqliteConfig(), 1)
	if err != nil {
		t.Fatal(err)
	}
	for range s.Batches(context.Background()) {
		break
	}
	// With one connection, a leaked scan would block this one forever.
	if got := len(collect(t, s)); got != 3 {
		t.Errorf("got %d batches after an early break, want 3", got)
	}
}

func TestScanner_MissingTable(t *testing.T) {
	db := sqliteCorpus(t, nil)
	cfg := sqliteConfig()
	cfg.Table = "solutions"
	s, err := NewScanner(db, cfg, 10)
	if err != nil {
		t.Fatal(err)
	}
	var gotErr error
	for _, err := range s.Batches(context.Background()) {
		gotErr = err
	}
	if !errors.Is(gotErr, apperrors.ErrCorpusUnavailable) {
		t.Fatalf("err = %v, want ErrCorpusUnavailable", gotErr)
	}
}

func TestNewScanner_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.CorpusConfig)
		batch  int
	}{
		{"zero batch", func(*config.CorpusConfig) {}, 0},
		{"injected table", func(c *config.CorpusConfig) { c.Table = "problems; DROP TABLE problems" }, 10},
		{"bad column", func(c *config.CorpusConfig) { c.TextColumn = "text-col" }, 10},
		{"unknown dialect", func(c *config.CorpusConfig) { c.Dialect = "mysql" }, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := sqliteConfig()
			tt.mutate(&cfg)
			_, err := NewScanner(nil, cfg, tt.batch)
			if !errors.Is(err, apperrors.ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestNewScanner_QuotesSchemaQualifiedTable(t *testing.T) {
	cfg := sqliteConfig()
	cfg.Dialect = config.DialectPostgres
	cfg.Table = "public.problems"
	s, err := NewScanner(nil, cfg, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := `SELECT "id", "problem_statement" FROM "public"."problems" ORDER BY "id"`
	if s.query != want {
		t.Errorf("query = %s\nwant  %s", s.query, want)
	}
}
