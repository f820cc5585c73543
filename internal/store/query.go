package store

import (
	"context"
	"fmt"

	"github.com/roach88/metafs/internal/filer"
)

// Query runs raw SQL and returns every row. No validation is performed;
// callers are trusted. BLOB and TEXT values are returned as strings.
func (s *Store) Query(ctx context.Context, text string, args ...any) (*filer.Rows, error) {
	s.resolver.purge()

	rows, err := s.db.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query: columns: %w", err)
	}

	out := &filer.Rows{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("query: scan: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out.Values = append(out.Values, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return out, nil
}

// TableCount is the row count of one schema table.
type TableCount struct {
	Table string `json:"table" yaml:"table"`
	Rows  int64  `json:"rows" yaml:"rows"`
}

// countedTables lists every schema table in a fixed reporting order.
var countedTables = []string{
	"hashes",
	"paths",
	"files",
	"magics",
	"peheaders",
	"dlls",
	"functions",
	"file_import_dlls",
	"file_export_dlls",
	"file_import_functions",
	"file_export_functions",
	"sections",
	"version_info_fields",
	"version_info_values",
	"file_version_info",
	"anomalies",
	"scans",
}

// Counts returns the number of rows in every schema table.
func (s *Store) Counts(ctx context.Context) ([]TableCount, error) {
	out := make([]TableCount, 0, len(countedTables))
	for _, table := range countedTables {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		out = append(out, TableCount{Table: table, Rows: n})
	}
	return out, nil
}
