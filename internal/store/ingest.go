package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/metafs/internal/filer"
	"github.com/roach88/metafs/internal/header"
)

// ingest decomposes h into the per-content tables for fileID. Categories
// absent from h are skipped. Every insert has set semantics, so ingesting
// the same header twice is a no-op.
func (t *txn) ingest(ctx context.Context, fileID int64, h *header.Header) error {
	if h == nil {
		return nil
	}
	if err := t.ingestExports(ctx, fileID, h.Exports); err != nil {
		return fmt.Errorf("ingest exports: %w", err)
	}
	if err := t.ingestImports(ctx, fileID, h.Imports); err != nil {
		return fmt.Errorf("ingest imports: %w", err)
	}
	if err := t.ingestVersionInfo(ctx, fileID, h.VersionInfo); err != nil {
		return fmt.Errorf("ingest version info: %w", err)
	}
	if err := t.ingestSections(ctx, fileID, h.Sections); err != nil {
		return fmt.Errorf("ingest sections: %w", err)
	}
	if err := t.ingestAnomalies(ctx, fileID, h.Anomalies); err != nil {
		return fmt.Errorf("ingest anomalies: %w", err)
	}

	_, err := t.q.ExecContext(ctx, `
		INSERT INTO peheaders (file_id, compile_time, petype, subsystem)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(file_id) DO NOTHING
	`, fileID, h.CompileTime, h.PEType, h.Subsystem)
	if err != nil {
		return fmt.Errorf("ingest peheader: %w", err)
	}
	return nil
}

func (t *txn) ingestExports(ctx context.Context, fileID int64, exp *header.Export) error {
	if exp == nil {
		return nil
	}
	dllID, err := t.resolve(ctx, filer.TableLibraries, exp.Library)
	if err != nil {
		return err
	}
	if err := t.link(ctx, "file_export_dlls", "dll_id", fileID, dllID); err != nil {
		return err
	}
	return t.linkFunctions(ctx, "file_export_functions", fileID, dllID, exp.Functions)
}

func (t *txn) ingestImports(ctx context.Context, fileID int64, imports []header.Import) error {
	for _, imp := range imports {
		dllID, err := t.resolve(ctx, filer.TableLibraries, imp.Library)
		if err != nil {
			return err
		}
		if err := t.link(ctx, "file_import_dlls", "dll_id", fileID, dllID); err != nil {
			return err
		}
		if err := t.linkFunctions(ctx, "file_import_functions", fileID, dllID, imp.Functions); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) linkFunctions(ctx context.Context, table string, fileID, dllID int64, funcs []header.Function) error {
	for _, fn := range funcs {
		fnID, err := t.resolve(ctx, filer.TableSymbols, fn.DisplayName(), dllID)
		if err != nil {
			return err
		}
		if err := t.link(ctx, table, "function_id", fileID, fnID); err != nil {
			return err
		}
	}
	return nil
}

// link inserts (file_id, column) into a link table, ignoring duplicates.
func (t *txn) link(ctx context.Context, table, column string, fileID, id int64) error {
	query := fmt.Sprintf("INSERT INTO %s (file_id, %s) VALUES (?, ?) ON CONFLICT DO NOTHING", table, column)
	if _, err := t.q.ExecContext(ctx, query, fileID, id); err != nil {
		return fmt.Errorf("link %s: %w", table, err)
	}
	return nil
}

func (t *txn) ingestVersionInfo(ctx context.Context, fileID int64, info map[string]string) error {
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fieldID, err := t.resolve(ctx, filer.TableVersionFields, k)
		if err != nil {
			return err
		}
		valueID, err := t.resolve(ctx, filer.TableVersionValues, info[k])
		if err != nil {
			return err
		}
		_, err = t.q.ExecContext(ctx, `
			INSERT INTO file_version_info (file_id, version_info_field_id, version_info_value_id)
			VALUES (?, ?, ?)
			ON CONFLICT DO NOTHING
		`, fileID, fieldID, valueID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) ingestSections(ctx context.Context, fileID int64, sections []header.Section) error {
	for i, sec := range sections {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO sections (file_id, idx, name, size, v_size, entropy)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(file_id, idx) DO NOTHING
		`, fileID, i, sec.Name, sec.Size, sec.VirtualSize, sec.Entropy)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) ingestAnomalies(ctx context.Context, fileID int64, anomalies []string) error {
	for _, a := range anomalies {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO anomalies (file_id, anomaly) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, fileID, a)
		if err != nil {
			return err
		}
	}
	return nil
}
