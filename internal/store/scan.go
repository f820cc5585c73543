package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/metafs/internal/filer"
)

// IDGenerator names scans.
type IDGenerator interface {
	Generate() string
}

// Clock supplies scan timestamps.
type Clock interface {
	Now() time.Time
}

// UUIDGenerator produces time-ordered UUIDv7 scan ids.
type UUIDGenerator struct{}

// Generate returns a new UUIDv7 string.
func (UUIDGenerator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Scan is one row of the scan log.
type Scan struct {
	ID         string        `json:"scan_id" yaml:"scan_id"`
	Root       string        `json:"root" yaml:"root"`
	StartedAt  time.Time     `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Summary    filer.Summary `json:"summary" yaml:"summary"`
}

// BeginScan opens a scan log entry for root and returns its id.
func (s *Store) BeginScan(ctx context.Context, root string) (string, error) {
	id := s.ids.Generate()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scans (scan_id, root, started_at) VALUES (?, ?, ?)
	`, id, root, seconds(s.clock.Now()))
	if err != nil {
		return "", fmt.Errorf("begin scan: %w", err)
	}
	return id, nil
}

// FinishScan closes the scan log entry id with the counters in sum.
func (s *Store) FinishScan(ctx context.Context, id string, sum filer.Summary) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scans
		SET finished_at = ?, directories = ?, files = ?, new_contents = ?, skipped = ?
		WHERE scan_id = ?
	`, seconds(s.clock.Now()), sum.Directories, sum.Files, sum.New, sum.Skipped, id)
	if err != nil {
		return fmt.Errorf("finish scan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish scan: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish scan: no scan with id %q", id)
	}
	return nil
}

// Scans returns up to limit scan log entries, newest first. A limit of
// zero or less returns all of them.
func (s *Store) Scans(ctx context.Context, limit int) ([]Scan, error) {
	query := `
		SELECT scan_id, root, started_at, finished_at, directories, files, new_contents, skipped
		FROM scans
		ORDER BY started_at DESC, scan_id DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	var out []Scan
	for rows.Next() {
		var (
			sc       Scan
			started  float64
			finished sql.NullFloat64
		)
		err := rows.Scan(&sc.ID, &sc.Root, &started, &finished,
			&sc.Summary.Directories, &sc.Summary.Files, &sc.Summary.New, &sc.Summary.Skipped)
		if err != nil {
			return nil, fmt.Errorf("list scans: %w", err)
		}
		sc.StartedAt = fromSeconds(started)
		if finished.Valid {
			t := fromSeconds(finished.Float64)
			sc.FinishedAt = &t
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	return out, nil
}

func fromSeconds(f float64) time.Time {
	sec := int64(f)
	nsec := int64((f - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC().Round(time.Microsecond)
}
