package filer

import (
	"context"
	"fmt"
)

// Table names a deduplicated lookup table.
type Table int

const (
	// TableContents maps content digests to content identities.
	TableContents Table = iota
	// TablePaths maps canonical directory paths to path ids.
	TablePaths
	// TableTypeLabels maps detector labels to label ids.
	TableTypeLabels
	// TableLibraries maps import/export library names.
	TableLibraries
	// TableSymbols maps (symbol name, library id) pairs.
	TableSymbols
	// TableVersionFields maps version resource keys.
	TableVersionFields
	// TableVersionValues maps version resource values.
	TableVersionValues
)

var tableNames = [...]string{
	TableContents:      "contents",
	TablePaths:         "paths",
	TableTypeLabels:    "type_labels",
	TableLibraries:     "libraries",
	TableSymbols:       "symbols",
	TableVersionFields: "version_fields",
	TableVersionValues: "version_values",
}

func (t Table) String() string {
	if t < 0 || int(t) >= len(tableNames) {
		return fmt.Sprintf("Table(%d)", int(t))
	}
	return tableNames[t]
}

// Tables returns every Table in declaration order.
func Tables() []Table {
	out := make([]Table, len(tableNames))
	for i := range out {
		out[i] = Table(i)
	}
	return out
}

// Outcome reports what a file observation did.
type Outcome int

const (
	// Skipped means nothing was written: the file vanished, was not a
	// regular file, was too large, or could not be read.
	Skipped Outcome = iota
	// Recorded means the occurrence row was written for known content.
	Recorded
	// RecordedNew means the content was seen for the first time and its
	// metadata was ingested.
	RecordedNew
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Recorded:
		return "recorded"
	case RecordedNew:
		return "recorded_new"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Directory is a directory observation.
type Directory struct {
	OSPath string
	Path   string
}

// File is a file observation. Dir is the canonical key of the containing
// directory and Name the canonical filename.
type File struct {
	OSPath string
	Dir    string
	Name   string
}

// Rows is the result of a raw query.
type Rows struct {
	Columns []string
	Values  [][]any
}

// Filer is a metadata store driven by Update.
type Filer interface {
	// Initialize prepares empty storage. It is idempotent.
	Initialize(ctx context.Context) error

	// ObserveDirectory records the timestamps of a directory.
	ObserveDirectory(ctx context.Context, d Directory) error

	// ObserveFile records one file occurrence, ingesting metadata the
	// first time its content is seen. Per-file I/O problems are reported
	// as Skipped, not as errors; a returned error is fatal to the walk.
	ObserveFile(ctx context.Context, f File) (Outcome, error)

	// Resolve returns the id for key in table, creating it if absent.
	Resolve(ctx context.Context, table Table, key ...any) (int64, error)

	// Query runs raw query text against the store.
	Query(ctx context.Context, text string, args ...any) (*Rows, error)
}

// Stat is the filesystem state captured for a file observation.
type Stat struct {
	Size int64
	Times
}

// Observation is the write-free half of a file observation.
type Observation struct {
	File   File
	Stat   Stat
	Digest string

	// Skip is set when the file must not be recorded. Reason says why.
	Skip   bool
	Reason string
}

// Preparer is implemented by Filers that can split a file observation into
// a concurrent, read-only PrepareFile and a serialized CommitFile.
type Preparer interface {
	PrepareFile(ctx context.Context, f File) Observation
	CommitFile(ctx context.Context, o Observation) (Outcome, error)
}

// Summary counts what one Update did.
type Summary struct {
	Directories int `json:"directories" yaml:"directories"`
	Files       int `json:"files" yaml:"files"`
	New         int `json:"new_contents" yaml:"new_contents"`
	Skipped     int `json:"skipped" yaml:"skipped"`
}

func (s *Summary) count(o Outcome) {
	switch o {
	case Skipped:
		s.Skipped++
	case RecordedNew:
		s.New++
		s.Files++
	default:
		s.Files++
	}
}

// ScanRecorder is implemented by Filers that keep a log of Update runs.
type ScanRecorder interface {
	BeginScan(ctx context.Context, root string) (string, error)
	FinishScan(ctx context.Context, id string, s Summary) error
}
