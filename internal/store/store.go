package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/roach88/metafs/internal/detect"
	"github.com/roach88/metafs/internal/digest"
	"github.com/roach88/metafs/internal/filer"
	"github.com/roach88/metafs/internal/header"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Empty database or one created before version tracking
// 1 - hashes.magic_id records the first-seen type label; link tables,
//     sections and functions carry the keys the ingestor relies on
// 2 - meta records the digest algorithm behind hashes.hash
const currentSchemaVersion = 2

// ErrDigestMismatch is returned by Open when the database holds digests of
// a different algorithm than the configured Hasher.
var ErrDigestMismatch = errors.New("digest algorithm does not match database")

const metaDigestAlgorithm = "digest_algorithm"

// Driver names accepted by Options.Driver.
const (
	DriverCGO    = "sqlite3"
	DriverPureGo = "sqlite"
)

// DefaultMaxParseSize is the size at or above which files are skipped.
const DefaultMaxParseSize = 100_000_000

// Options configures a Store. Zero values select defaults.
type Options struct {
	// Driver is DriverCGO (default) or DriverPureGo.
	Driver string

	// MaxParseSize bounds the files that are hashed and parsed.
	MaxParseSize int64

	// Hasher computes content digests. Defaults to md5.
	Hasher *digest.Hasher

	// Detector labels new content. Defaults to detect.New().
	Detector detect.Detector

	// Extractor parses executables. Defaults to header.NewPE().
	Extractor header.Extractor

	// CacheSize is the capacity of the resolver's id cache. Zero disables
	// the cache.
	CacheSize int

	// IDGenerator names scans. Defaults to UUIDv7.
	IDGenerator IDGenerator

	// Clock stamps scans. Defaults to the wall clock.
	Clock Clock
}

// Store is a SQLite-backed metadata store. It implements filer.Filer,
// filer.Preparer and filer.ScanRecorder.
//
// A Store expects a single writer. Concurrent reads through Query are safe.
type Store struct {
	db        *sql.DB
	opts      Options
	hasher    *digest.Hasher
	detector  detect.Detector
	extractor header.Extractor
	resolver  *resolver
	ids       IDGenerator
	clock     Clock
}

var (
	_ filer.Filer        = (*Store)(nil)
	_ filer.Preparer     = (*Store)(nil)
	_ filer.ScanRecorder = (*Store)(nil)
)

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts Options) (*Store, error) {
	if opts.Driver == "" {
		opts.Driver = DriverCGO
	}
	if opts.Driver != DriverCGO && opts.Driver != DriverPureGo {
		return nil, fmt.Errorf("unsupported sqlite driver %q: must be %q or %q", opts.Driver, DriverCGO, DriverPureGo)
	}
	if opts.MaxParseSize <= 0 {
		opts.MaxParseSize = DefaultMaxParseSize
	}

	s := &Store{
		opts:      opts,
		hasher:    opts.Hasher,
		detector:  opts.Detector,
		extractor: opts.Extractor,
		ids:       opts.IDGenerator,
		clock:     opts.Clock,
	}
	if s.hasher == nil {
		h, err := digest.New(digest.DefaultAlgorithm)
		if err != nil {
			return nil, err
		}
		s.hasher = h
	}
	if s.detector == nil {
		s.detector = detect.New()
	}
	if s.extractor == nil {
		s.extractor = header.NewPE()
	}
	if s.ids == nil {
		s.ids = UUIDGenerator{}
	}
	if s.clock == nil {
		s.clock = systemClock{}
	}

	r, err := newResolver(opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}
	s.resolver = r

	db, err := sql.Open(opts.Driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	s.db = db
	if err := s.Initialize(context.Background()); err != nil {
		db.Close()
		if errors.Is(err, ErrDigestMismatch) {
			return nil, &filer.ConfigError{Op: "open", Path: path, Err: err}
		}
		return nil, err
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Hasher returns the digest algorithm the store records.
func (s *Store) Hasher() *digest.Hasher {
	return s.hasher
}

// Initialize creates tables that do not exist and runs migrations.
// Existing rows are preserved. The first Initialize records the Hasher's
// algorithm; later ones fail with ErrDigestMismatch if it changed.
func (s *Store) Initialize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := runMigrations(ctx, s.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return s.checkDigestAlgorithm(ctx)
}

func (s *Store) checkDigestAlgorithm(ctx context.Context) error {
	want := s.hasher.Algorithm()
	if err := recordDigestAlgorithm(ctx, s.db, want); err != nil {
		return err
	}

	var got string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", metaDigestAlgorithm).Scan(&got)
	if err != nil {
		return fmt.Errorf("read digest algorithm: %w", err)
	}
	if got != want {
		return fmt.Errorf("%w: database holds %s digests, configured %s", ErrDigestMismatch, got, want)
	}
	return nil
}

// DigestAlgorithm returns the algorithm recorded for the database.
func (s *Store) DigestAlgorithm(ctx context.Context) (string, error) {
	var algo string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", metaDigestAlgorithm).Scan(&algo)
	if err != nil {
		return "", fmt.Errorf("read digest algorithm: %w", err)
	}
	return algo, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// recordDigestAlgorithm stores algo unless an algorithm is already recorded.
func recordDigestAlgorithm(ctx context.Context, db execer, algo string) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING",
		metaDigestAlgorithm, algo)
	if err != nil {
		return fmt.Errorf("record digest algorithm: %w", err)
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(ctx, db); err != nil {
			return err
		}
	}
	if version < 2 {
		if err := migrateToV2(ctx, db); err != nil {
			return err
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// legacyTables lists the tables whose unversioned definitions lack keys the
// ingestor writes against, with the statement that copies rows from the
// renamed original into the current definition.
var legacyTables = []struct {
	name string
	copy string
}{
	{"paths", `INSERT INTO paths (path_id, path, mtime, atime, ctime)
		SELECT path_id, path, mtime, atime, ctime FROM paths_legacy`},
	{"functions", `INSERT OR IGNORE INTO functions (function_id, name, from_dll_id)
		SELECT function_id, name, from_dll_id FROM functions_legacy`},
	{"file_import_dlls", `INSERT OR IGNORE INTO file_import_dlls (file_id, dll_id)
		SELECT file_id, dll_id FROM file_import_dlls_legacy`},
	{"file_export_dlls", `INSERT OR IGNORE INTO file_export_dlls (file_id, dll_id)
		SELECT file_id, dll_id FROM file_export_dlls_legacy`},
	{"file_import_functions", `INSERT OR IGNORE INTO file_import_functions (file_id, function_id)
		SELECT file_id, function_id FROM file_import_functions_legacy`},
	{"file_export_functions", `INSERT OR IGNORE INTO file_export_functions (file_id, function_id)
		SELECT file_id, function_id FROM file_export_functions_legacy`},
	{"sections", `INSERT INTO sections (file_id, idx, name, size, v_size, entropy)
		SELECT file_id, ROW_NUMBER() OVER (PARTITION BY file_id ORDER BY rowid) - 1,
		       name, size, v_size, entropy
		FROM sections_legacy`},
	{"file_version_info", `INSERT OR IGNORE INTO file_version_info (file_id, version_info_field_id, version_info_value_id)
		SELECT file_id, version_info_field_id, version_info_value_id FROM file_version_info_legacy`},
	{"anomalies", `INSERT OR IGNORE INTO anomalies (file_id, anomaly)
		SELECT file_id, anomaly FROM anomalies_legacy`},
}

// migrateToV1 upgrades databases created before version tracking. Their
// hashes table has no magic_id, which is backfilled from the earliest
// occurrence of each content. Tables in legacyTables are rebuilt: times on
// paths become nullable, functions are keyed by (name, library), sections
// gain their index and link tables gain set-semantics primary keys.
func migrateToV1(ctx context.Context, db *sql.DB) error {
	has, err := hasColumn(ctx, db, "hashes", "magic_id")
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	if has {
		return nil
	}

	// Neither pragma can change inside a transaction. With both off, renaming
	// a table leaves REFERENCES clauses elsewhere pointing at the new one.
	for _, pragma := range []string{"PRAGMA foreign_keys = OFF", "PRAGMA legacy_alter_table = ON"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	defer func() {
		db.Exec("PRAGMA legacy_alter_table = OFF")
		db.Exec("PRAGMA foreign_keys = ON")
	}()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate to v1: begin: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `ALTER TABLE hashes ADD COLUMN magic_id INTEGER REFERENCES magics(magic_id)`); err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE hashes SET magic_id = (
			SELECT f.magic_id FROM files f
			WHERE f.file_id = hashes.file_id
			ORDER BY f.mtime ASC, f.path_id ASC
			LIMIT 1
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: backfill: %w", err)
	}

	for _, t := range legacyTables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s_legacy", t.name, t.name)); err != nil {
			return fmt.Errorf("migrate to v1: rename %s: %w", t.name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate to v1: create tables: %w", err)
	}
	for _, t := range legacyTables {
		if _, err := tx.ExecContext(ctx, t.copy); err != nil {
			return fmt.Errorf("migrate to v1: copy %s: %w", t.name, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s_legacy", t.name)); err != nil {
			return fmt.Errorf("migrate to v1: drop %s: %w", t.name, err)
		}
	}
	// Indexes created on the originals were dropped with them.
	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate to v1: create indexes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate to v1: commit: %w", err)
	}
	return nil
}

// migrateToV2 records the digest algorithm of databases that already hold
// content, inferred from the digest length. When the length is ambiguous
// the configured algorithm is recorded by the next Initialize.
func migrateToV2(ctx context.Context, db *sql.DB) error {
	var sample string
	err := db.QueryRowContext(ctx, "SELECT hash FROM hashes ORDER BY file_id LIMIT 1").Scan(&sample)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}

	algo, ok := digest.Infer(sample)
	if !ok {
		return nil
	}
	if err := recordDigestAlgorithm(ctx, db, algo); err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

func hasColumn(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// seconds converts t to the REAL representation used in the schema.
func seconds(t time.Time) float64 {
	return filer.Seconds(t)
}
