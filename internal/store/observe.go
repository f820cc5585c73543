package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/roach88/metafs/internal/detect"
	"github.com/roach88/metafs/internal/filer"
	"github.com/roach88/metafs/internal/header"
)

// ObserveDirectory upserts the timestamps of d. The path id of an existing
// row is kept so occurrence rows stay linked. A directory that can no
// longer be stated is skipped.
func (s *Store) ObserveDirectory(ctx context.Context, d filer.Directory) error {
	info, err := os.Stat(d.OSPath)
	if err != nil {
		slog.Debug("skipping directory", "path", d.OSPath, "error", err)
		return nil
	}
	times := filer.TimesOf(info)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO paths (path, mtime, atime, ctime)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			mtime = excluded.mtime,
			atime = excluded.atime,
			ctime = excluded.ctime
	`, d.Path, seconds(times.Mtime), seconds(times.Atime), seconds(times.Ctime))
	if err != nil {
		return fmt.Errorf("observe directory %s: %w", d.Path, err)
	}
	return nil
}

// ObserveFile records one file occurrence. See PrepareFile and CommitFile
// for the two halves.
func (s *Store) ObserveFile(ctx context.Context, f filer.File) (filer.Outcome, error) {
	return s.CommitFile(ctx, s.PrepareFile(ctx, f))
}

// PrepareFile stats and hashes f without touching the database. Files that
// vanished, are not regular, are at or above MaxParseSize, or cannot be
// read are marked Skip.
func (s *Store) PrepareFile(_ context.Context, f filer.File) filer.Observation {
	obs := filer.Observation{File: f}

	info, err := os.Stat(f.OSPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return skip(obs, "vanished")
	case err != nil:
		return skip(obs, err.Error())
	case !info.Mode().IsRegular():
		return skip(obs, "not a regular file")
	case info.Size() >= s.opts.MaxParseSize:
		return skip(obs, fmt.Sprintf("size %d at or above max parse size %d", info.Size(), s.opts.MaxParseSize))
	}
	obs.Stat = filer.Stat{Size: info.Size(), Times: filer.TimesOf(info)}

	sum, err := s.hasher.File(f.OSPath)
	if err != nil {
		return skip(obs, err.Error())
	}
	obs.Digest = sum
	return obs
}

func skip(o filer.Observation, reason string) filer.Observation {
	o.Skip = true
	o.Reason = reason
	return o
}

// CommitFile writes a prepared observation. Content seen for the first time
// is labeled, parsed when executable, and ingested together with its
// occurrence in one transaction. Known content only gets its occurrence
// row upserted.
func (s *Store) CommitFile(ctx context.Context, o filer.Observation) (filer.Outcome, error) {
	if o.Skip {
		slog.Debug("skipping file", "path", o.File.OSPath, "reason", o.Reason)
		return filer.Skipped, nil
	}

	labelID, known, err := s.contentLabel(ctx, o.Digest)
	if err != nil {
		return filer.Skipped, fmt.Errorf("observe file %s: %w", o.File.OSPath, err)
	}

	var (
		label string
		hdr   *header.Header
	)
	if !known {
		label = s.detectLabel(o.File.OSPath)
		hdr = s.extractHeader(o.File.OSPath, label)
	}

	outcome := filer.Recorded
	err = s.withTx(ctx, func(t *txn) error {
		fileID, created, err := t.getOrCreate(ctx, filer.TableContents, o.Digest)
		if err != nil {
			return err
		}

		if created {
			labelID, err = t.resolve(ctx, filer.TableTypeLabels, label)
			if err != nil {
				return err
			}
			if _, err := t.q.ExecContext(ctx, `UPDATE hashes SET magic_id = ? WHERE file_id = ?`, labelID, fileID); err != nil {
				return fmt.Errorf("set label: %w", err)
			}
			if err := t.ingest(ctx, fileID, hdr); err != nil {
				return err
			}
			outcome = filer.RecordedNew
		} else if labelID == 0 {
			labelID, err = t.resolve(ctx, filer.TableTypeLabels, detect.Unknown)
			if err != nil {
				return err
			}
		}

		pathID, err := t.resolve(ctx, filer.TablePaths, o.File.Dir)
		if err != nil {
			return err
		}

		_, err = t.q.ExecContext(ctx, `
			INSERT INTO files (file_id, path_id, filename, magic_id, size, mtime, atime, ctime)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(file_id, path_id) DO UPDATE SET
				magic_id = excluded.magic_id,
				size = excluded.size,
				mtime = excluded.mtime,
				atime = excluded.atime,
				ctime = excluded.ctime
		`,
			fileID,
			pathID,
			o.File.Name,
			labelID,
			o.Stat.Size,
			seconds(o.Stat.Mtime),
			seconds(o.Stat.Atime),
			seconds(o.Stat.Ctime),
		)
		if err != nil {
			return fmt.Errorf("upsert occurrence: %w", err)
		}
		return nil
	})
	if err != nil {
		return filer.Skipped, fmt.Errorf("observe file %s: %w", o.File.OSPath, err)
	}

	slog.Debug("file recorded", "path", o.File.OSPath, "digest", o.Digest, "outcome", outcome.String())
	return outcome, nil
}

// contentLabel returns the first-seen label id for digest. known is false
// when the digest has never been recorded; labelID is 0 when it has been
// recorded without a label.
func (s *Store) contentLabel(ctx context.Context, digest string) (labelID int64, known bool, err error) {
	var id sql.NullInt64
	err = s.db.QueryRowContext(ctx, `SELECT magic_id FROM hashes WHERE hash = ?`, digest).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup content: %w", err)
	}
	return id.Int64, true, nil
}

func (s *Store) detectLabel(path string) string {
	if s.detector == nil {
		return detect.Unknown
	}
	label, err := s.detector.Detect(path)
	if err != nil || label == "" {
		slog.Debug("type detection failed", "path", path, "error", err)
		return detect.Unknown
	}
	return label
}

func (s *Store) extractHeader(path, label string) *header.Header {
	if s.extractor == nil || !detect.IsExecutable(label) {
		return nil
	}
	h, err := s.extractor.Extract(path)
	if err != nil {
		if errors.Is(err, header.ErrFormat) {
			slog.Debug("malformed executable, skipping structural metadata", "path", path, "error", err)
		} else {
			slog.Warn("structural metadata unavailable", "path", path, "error", err)
		}
		return nil
	}
	return h
}
