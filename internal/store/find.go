package store

import (
	"context"
	"fmt"
)

// Occurrence is one recorded file location joined with its content.
type Occurrence struct {
	Digest   string  `json:"digest" yaml:"digest"`
	Dir      string  `json:"dir" yaml:"dir"`
	Filename string  `json:"filename" yaml:"filename"`
	Label    string  `json:"label" yaml:"label"`
	Size     int64   `json:"size" yaml:"size"`
	Mtime    float64 `json:"mtime" yaml:"mtime"`
}

const occurrenceSelect = `
	SELECT h.hash, p.path, f.filename, COALESCE(m.magic, ''), f.size, f.mtime
	FROM files f
	JOIN hashes h ON h.file_id = f.file_id
	JOIN paths p ON p.path_id = f.path_id
	LEFT JOIN magics m ON m.magic_id = f.magic_id
`

const occurrenceOrder = ` ORDER BY p.path ASC, f.filename ASC, h.hash ASC`

// FindByDigest returns every occurrence of the content with the given digest.
func (s *Store) FindByDigest(ctx context.Context, digest string) ([]Occurrence, error) {
	return s.findOccurrences(ctx, "find by digest",
		occurrenceSelect+` WHERE h.hash = ?`+occurrenceOrder, digest)
}

// FindImporters returns occurrences of binaries that import symbol. An empty
// library matches the symbol from any library.
func (s *Store) FindImporters(ctx context.Context, symbol, library string) ([]Occurrence, error) {
	return s.findLinked(ctx, "find importers", "file_import_functions", symbol, library)
}

// FindExporters returns occurrences of binaries that export symbol. An empty
// library matches any export directory name.
func (s *Store) FindExporters(ctx context.Context, symbol, library string) ([]Occurrence, error) {
	return s.findLinked(ctx, "find exporters", "file_export_functions", symbol, library)
}

func (s *Store) findLinked(ctx context.Context, op, linkTable, symbol, library string) ([]Occurrence, error) {
	query := occurrenceSelect + fmt.Sprintf(`
		WHERE f.file_id IN (
			SELECT l.file_id FROM %s l
			JOIN functions fn ON fn.function_id = l.function_id
			JOIN dlls d ON d.dll_id = fn.from_dll_id
			WHERE fn.name = ? AND (? = '' OR d.name = ? COLLATE NOCASE)
		)`, linkTable) + occurrenceOrder
	return s.findOccurrences(ctx, op, query, symbol, library, library)
}

// FindByVersionInfo returns occurrences of binaries whose version resource
// has field. A non-empty value must also match exactly.
func (s *Store) FindByVersionInfo(ctx context.Context, field, value string) ([]Occurrence, error) {
	query := occurrenceSelect + `
		WHERE f.file_id IN (
			SELECT vi.file_id FROM file_version_info vi
			JOIN version_info_fields vf ON vf.version_info_field_id = vi.version_info_field_id
			JOIN version_info_values vv ON vv.version_info_value_id = vi.version_info_value_id
			WHERE vf.version_info_field = ? AND (? = '' OR vv.version_info_value = ?)
		)` + occurrenceOrder
	return s.findOccurrences(ctx, "find by version info", query, field, value, value)
}

func (s *Store) findOccurrences(ctx context.Context, op, query string, args ...any) ([]Occurrence, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []Occurrence
	for rows.Next() {
		var o Occurrence
		if err := rows.Scan(&o.Digest, &o.Dir, &o.Filename, &o.Label, &o.Size, &o.Mtime); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
