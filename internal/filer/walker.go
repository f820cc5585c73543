package filer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	ignore "github.com/sabhiram/go-gitignore"
	"github.com/sourcegraph/conc/stream"
)

// Options configures a Walker.
type Options struct {
	// CaseFold folds every stored path and filename to a canonical
	// lowercase form. See DefaultCaseFold.
	CaseFold bool

	// Workers is the number of concurrent hashing goroutines. Values
	// below two, or a Filer that is not a Preparer, select the serial walk.
	Workers int

	// Ignore holds gitignore-style patterns matched against paths relative
	// to the walk root. Ignored directories are not descended into.
	Ignore []string
}

// Walker drives a Filer over a filesystem tree.
type Walker struct {
	filer  Filer
	opts   Options
	ignore *ignore.GitIgnore
}

// NewWalker returns a Walker for f.
func NewWalker(f Filer, opts Options) *Walker {
	w := &Walker{filer: f, opts: opts}
	if len(opts.Ignore) > 0 {
		w.ignore = ignore.CompileIgnoreLines(opts.Ignore...)
	}
	return w
}

// Update walks root and reports every directory and file under it to the
// Filer. root must be absolute. A directory root is visited with all of its
// descendants, parents first; a file root yields a single file observation.
// A root that does not exist is logged and ignored.
//
// Per-file problems never fail the walk. Errors returned by the Filer are
// fatal and abort it.
func (w *Walker) Update(ctx context.Context, root string) (Summary, error) {
	if !filepath.IsAbs(root) {
		return Summary{}, &ConfigError{Op: "update", Path: root, Err: ErrNotAbsolute}
	}
	root = filepath.Clean(root)

	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("update root does not exist", "root", root)
		return Summary{}, nil
	}
	if err != nil {
		return Summary{}, fmt.Errorf("update %s: %w", root, err)
	}
	if info.IsDir() {
		// WalkDir does not follow a symlinked root.
		if li, err := os.Lstat(root); err == nil && li.Mode()&fs.ModeSymlink != 0 {
			if resolved, err := filepath.EvalSymlinks(root); err == nil {
				root = resolved
			}
		}
	}

	var scanID string
	rec, recording := w.filer.(ScanRecorder)
	if recording {
		scanID, err = rec.BeginScan(ctx, Canonical(root, w.opts.CaseFold))
		if err != nil {
			return Summary{}, fmt.Errorf("update %s: %w", root, err)
		}
	}

	start := time.Now()
	slog.Info("scan started", "scan_id", scanID, "root", root, "case_fold", w.opts.CaseFold, "workers", w.opts.Workers)

	var sum Summary
	if info.IsDir() {
		sum, err = w.walk(ctx, root)
	} else {
		var o Outcome
		o, err = w.filer.ObserveFile(ctx, FileFor(root, w.opts.CaseFold))
		sum.count(o)
	}
	if err != nil {
		slog.Error("scan aborted", "scan_id", scanID, "root", root, "error", err)
		return sum, err
	}

	if recording {
		if err := rec.FinishScan(ctx, scanID, sum); err != nil {
			return sum, fmt.Errorf("update %s: %w", root, err)
		}
	}

	slog.Info("scan finished",
		"scan_id", scanID,
		"root", root,
		"directories", sum.Directories,
		"files", sum.Files,
		"new_contents", sum.New,
		"skipped", sum.Skipped,
		"duration", time.Since(start),
	)
	return sum, nil
}

// Update is shorthand for NewWalker(f, opts).Update(ctx, root).
func Update(ctx context.Context, f Filer, root string, opts Options) (Summary, error) {
	return NewWalker(f, opts).Update(ctx, root)
}

func (w *Walker) walk(ctx context.Context, root string) (Summary, error) {
	if p, ok := w.filer.(Preparer); ok && w.opts.Workers > 1 {
		return w.walkParallel(ctx, root, p)
	}

	var sum Summary
	err := w.visit(ctx, root,
		func(d Directory) error {
			if err := w.filer.ObserveDirectory(ctx, d); err != nil {
				return err
			}
			sum.Directories++
			return nil
		},
		func(f File) error {
			o, err := w.filer.ObserveFile(ctx, f)
			if err != nil {
				return err
			}
			sum.count(o)
			return nil
		},
	)
	return sum, err
}

// walkParallel hashes files on up to Workers goroutines. Callbacks run one
// at a time in walk order, so the Filer still sees a single writer and the
// same observation sequence as the serial walk.
func (w *Walker) walkParallel(ctx context.Context, root string, p Preparer) (Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		sum      Summary
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}
	failed := func() error {
		mu.Lock()
		defer mu.Unlock()
		return firstErr
	}

	s := stream.New().WithMaxGoroutines(w.opts.Workers)
	walkErr := w.visit(ctx, root,
		func(d Directory) error {
			s.Go(func() stream.Callback {
				return func() {
					if failed() != nil {
						return
					}
					if err := w.filer.ObserveDirectory(ctx, d); err != nil {
						fail(err)
						return
					}
					sum.Directories++
				}
			})
			return nil
		},
		func(f File) error {
			s.Go(func() stream.Callback {
				obs := p.PrepareFile(ctx, f)
				return func() {
					if failed() != nil {
						return
					}
					o, err := p.CommitFile(ctx, obs)
					if err != nil {
						fail(err)
						return
					}
					sum.count(o)
				}
			})
			return nil
		},
	)
	s.Wait()

	if err := failed(); err != nil {
		return sum, err
	}
	return sum, walkErr
}

// visit walks root in lexical order, calling onDir for each directory and
// onFile for each other entry.
func (w *Walker) visit(ctx context.Context, root string, onDir func(Directory) error, onFile func(File) error) error {
	fold := w.opts.CaseFold
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			slog.Debug("skipping unreadable entry", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if path != root && w.ignored(root, path, d.IsDir()) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return onDir(DirectoryFor(path, fold))
		}
		return onFile(FileFor(path, fold))
	})
}

func (w *Walker) ignored(root, path string, dir bool) bool {
	if w.ignore == nil {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if w.ignore.MatchesPath(rel) {
		return true
	}
	return dir && w.ignore.MatchesPath(rel+"/")
}
