package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/metafs/internal/filer"
	"github.com/roach88/metafs/internal/header"
	"github.com/roach88/metafs/internal/testutil"
)

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// createTestStore creates a new store with deterministic scan ids and clock.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	return createTestStoreWith(t, Options{})
}

// createTestStoreWith creates a store with opts, filling in deterministic
// scan ids and clock when unset.
func createTestStoreWith(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.IDGenerator == nil {
		opts.IDGenerator = testutil.NewSequenceIDGenerator("scan")
	}
	if opts.Clock == nil {
		opts.Clock = testutil.NewStepClock(testEpoch, time.Second)
	}
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// update walks root into s without case folding.
func update(t *testing.T, s *Store, root string) filer.Summary {
	t.Helper()
	sum, err := filer.Update(context.Background(), s, root, filer.Options{})
	if err != nil {
		t.Fatalf("Update(%s) failed: %v", root, err)
	}
	return sum
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

// tableCounts snapshots the row count of every schema table.
func tableCounts(t *testing.T, s *Store) map[string]int64 {
	t.Helper()
	counts, err := s.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts() failed: %v", err)
	}
	out := make(map[string]int64, len(counts))
	for _, c := range counts {
		out[c.Table] = c.Rows
	}
	return out
}

// countingExtractor records how often Extract is called.
type countingExtractor struct {
	inner header.Extractor
	calls int
}

func (c *countingExtractor) Extract(path string) (*header.Header, error) {
	c.calls++
	return c.inner.Extract(path)
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		t.Fatalf("failed to get table info for %q: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			t.Fatalf("failed to scan column info: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to get indexes for %q: %v", table, err)
	}
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		indexes = append(indexes, name)
	}
	return indexes
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
