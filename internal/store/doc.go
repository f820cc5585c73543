// Package store is the SQLite implementation of filer.Filer.
//
// The schema separates two kinds of facts:
//   - Content facts, keyed by digest in hashes: type label, PE header
//     summary, sections, imports, exports, version info and anomalies.
//     They are written once, the first time a digest is seen.
//   - Filesystem facts: directory timestamps in paths and one files row
//     per (content, directory) pair. They are refreshed on every scan.
//
// # Deduplication
//
// Repeated strings (labels, library and symbol names, version keys and
// values) live in dedup tables and are referenced by id. All of them are
// reached through one generic get-or-create (Resolve) that inserts with
// ON CONFLICT DO NOTHING and reads the id back, so a retry after a crash
// between the two steps cannot create a second row.
//
// # Transactions
//
// Each file observation commits in its own transaction: content row, label,
// structural metadata and occurrence row land together or not at all. An
// interrupted scan therefore leaves every completed file durable and a
// rerun picks up the rest.
//
// # Database Configuration
//
//   - WAL mode: concurrent readers while a scan writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//
// Two drivers are supported: "sqlite3" (mattn/go-sqlite3, cgo) and
// "sqlite" (modernc.org/sqlite, pure Go). Both open the same file format.
package store
