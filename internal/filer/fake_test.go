package filer

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
)

// recordingFiler logs every observation it receives.
type recordingFiler struct {
	events   []string
	files    []File
	dirs     []Directory
	outcome  func(File) Outcome
	failName string
}

var errStorage = errors.New("disk I/O error")

func (r *recordingFiler) Initialize(context.Context) error { return nil }

func (r *recordingFiler) ObserveDirectory(_ context.Context, d Directory) error {
	r.dirs = append(r.dirs, d)
	r.events = append(r.events, "dir "+d.Path)
	return nil
}

func (r *recordingFiler) ObserveFile(_ context.Context, f File) (Outcome, error) {
	if f.Name == r.failName {
		return Skipped, errStorage
	}
	r.files = append(r.files, f)
	r.events = append(r.events, "file "+filepath.Join(f.Dir, f.Name))
	if r.outcome != nil {
		return r.outcome(f), nil
	}
	return Recorded, nil
}

func (r *recordingFiler) Resolve(context.Context, Table, ...any) (int64, error) { return 0, nil }

func (r *recordingFiler) Query(context.Context, string, ...any) (*Rows, error) { return &Rows{}, nil }

// preparingFiler splits file observations into prepare and commit.
type preparingFiler struct {
	recordingFiler
	prepared atomic.Int64
}

func (p *preparingFiler) PrepareFile(_ context.Context, f File) Observation {
	p.prepared.Add(1)
	return Observation{File: f, Digest: "digest:" + f.Name}
}

func (p *preparingFiler) CommitFile(ctx context.Context, o Observation) (Outcome, error) {
	return p.ObserveFile(ctx, o.File)
}

// scanningFiler also keeps a scan log.
type scanningFiler struct {
	recordingFiler
	begun    []string
	finished map[string]Summary
}

func (s *scanningFiler) BeginScan(_ context.Context, root string) (string, error) {
	s.begun = append(s.begun, root)
	return "scan-1", nil
}

func (s *scanningFiler) FinishScan(_ context.Context, id string, sum Summary) error {
	if s.finished == nil {
		s.finished = make(map[string]Summary)
	}
	s.finished[id] = sum
	return nil
}
