package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/metafs/internal/filer"
)

var (
	// ErrUnknownTable is returned by Resolve for a Table the store does
	// not define.
	ErrUnknownTable = errors.New("unknown dedup table")

	// ErrKeyArity is returned when the number of key values does not
	// match the table's key columns.
	ErrKeyArity = errors.New("wrong number of key values")
)

// tableSpec describes one dedup table: its id column and the columns that
// together form its unique key.
type tableSpec struct {
	table string
	id    string
	keys  []string

	selectSQL string
	insertSQL string
}

func newTableSpec(table, id string, keys ...string) *tableSpec {
	where := make([]string, len(keys))
	marks := make([]string, len(keys))
	for i, k := range keys {
		where[i] = k + " = ?"
		marks[i] = "?"
	}
	return &tableSpec{
		table: table,
		id:    id,
		keys:  keys,
		selectSQL: fmt.Sprintf("SELECT %s FROM %s WHERE %s",
			id, table, strings.Join(where, " AND ")),
		insertSQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
			table, strings.Join(keys, ", "), strings.Join(marks, ", ")),
	}
}

var tableSpecs = map[filer.Table]*tableSpec{
	filer.TableContents:      newTableSpec("hashes", "file_id", "hash"),
	filer.TablePaths:         newTableSpec("paths", "path_id", "path"),
	filer.TableTypeLabels:    newTableSpec("magics", "magic_id", "magic"),
	filer.TableLibraries:     newTableSpec("dlls", "dll_id", "name"),
	filer.TableSymbols:       newTableSpec("functions", "function_id", "name", "from_dll_id"),
	filer.TableVersionFields: newTableSpec("version_info_fields", "version_info_field_id", "version_info_field"),
	filer.TableVersionValues: newTableSpec("version_info_values", "version_info_value_id", "version_info_value"),
}

func specFor(t filer.Table, key []any) (*tableSpec, error) {
	spec, ok := tableSpecs[t]
	if !ok {
		return nil, fmt.Errorf("resolve %s: %w", t, ErrUnknownTable)
	}
	if len(key) != len(spec.keys) {
		return nil, fmt.Errorf("resolve %s: %w: got %d, want %d", t, ErrKeyArity, len(key), len(spec.keys))
	}
	return spec, nil
}

type cacheKey struct {
	table filer.Table
	key   string
}

func makeCacheKey(t filer.Table, key []any) cacheKey {
	parts := make([]string, len(key))
	for i, k := range key {
		parts[i] = fmt.Sprint(k)
	}
	return cacheKey{table: t, key: strings.Join(parts, "\x1f")}
}

// resolver maps dedup values to ids, optionally through an LRU cache. Ids
// learned inside a transaction are staged and only published to the cache
// after commit, so a rollback never leaves a dangling id behind.
type resolver struct {
	cache *lru.Cache[cacheKey, int64]
}

func newResolver(size int) (*resolver, error) {
	if size <= 0 {
		return &resolver{}, nil
	}
	c, err := lru.New[cacheKey, int64](size)
	if err != nil {
		return nil, err
	}
	return &resolver{cache: c}, nil
}

func (r *resolver) lookup(k cacheKey) (int64, bool) {
	if r.cache == nil {
		return 0, false
	}
	return r.cache.Get(k)
}

func (r *resolver) publish(staged map[cacheKey]int64) {
	if r.cache == nil {
		return
	}
	for k, id := range staged {
		r.cache.Add(k, id)
	}
}

// purge drops every cached id. Raw queries may delete or rewrite dedup
// rows, so the cache is not trusted across them.
func (r *resolver) purge() {
	if r.cache != nil {
		r.cache.Purge()
	}
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// txn is one unit of work against the store.
type txn struct {
	q      querier
	r      *resolver
	staged map[cacheKey]int64
}

// getOrCreate returns the id for key, inserting the row if needed. created
// reports whether this call inserted it.
func (t *txn) getOrCreate(ctx context.Context, table filer.Table, key ...any) (id int64, created bool, err error) {
	spec, err := specFor(table, key)
	if err != nil {
		return 0, false, err
	}

	ck := makeCacheKey(table, key)
	if id, ok := t.staged[ck]; ok {
		return id, false, nil
	}
	if id, ok := t.r.lookup(ck); ok {
		return id, false, nil
	}

	err = t.q.QueryRowContext(ctx, spec.selectSQL, key...).Scan(&id)
	switch {
	case err == nil:
		t.staged[ck] = id
		return id, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, false, fmt.Errorf("resolve %s: select: %w", table, err)
	}

	res, err := t.q.ExecContext(ctx, spec.insertSQL, key...)
	if err != nil {
		return 0, false, fmt.Errorf("resolve %s: insert: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("resolve %s: rows affected: %w", table, err)
	}

	// Read back rather than trusting LastInsertId so that a row inserted by
	// an earlier, interrupted attempt is found as well.
	if err := t.q.QueryRowContext(ctx, spec.selectSQL, key...).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("resolve %s: read back: %w", table, err)
	}
	t.staged[ck] = id
	return id, n > 0, nil
}

func (t *txn) resolve(ctx context.Context, table filer.Table, key ...any) (int64, error) {
	id, _, err := t.getOrCreate(ctx, table, key...)
	return id, err
}

// withTx runs fn in a transaction and publishes resolved ids on commit.
func (s *Store) withTx(ctx context.Context, fn func(*txn) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	t := &txn{q: tx, r: s.resolver, staged: make(map[cacheKey]int64)}
	if err := fn(t); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.resolver.publish(t.staged)
	return nil
}

// Resolve returns the id of key in table, creating the row if it does not
// exist. Repeated calls with the same key return the same id.
//
// Key arity follows the table: one string for every table except
// filer.TableSymbols, which takes (name string, libraryID int64).
func (s *Store) Resolve(ctx context.Context, table filer.Table, key ...any) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(t *txn) error {
		var err error
		id, err = t.resolve(ctx, table, key...)
		return err
	})
	return id, err
}
