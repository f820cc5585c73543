package cli

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/metafs/internal/filer"
)

// UpdateOptions holds flags for the update command. Scan settings are
// bound to configuration keys and read from RootOptions.Config.
type UpdateOptions struct {
	*RootOptions
}

// UpdateResult is the output of one update.
type UpdateResult struct {
	Root    string        `json:"root" yaml:"root"`
	Summary filer.Summary `json:"summary" yaml:"summary"`
}

// RenderText implements TextRenderer.
func (r UpdateResult) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Updated %s: %d directories, %d files (%d new), %d skipped\n",
		r.Root, r.Summary.Directories, r.Summary.Files, r.Summary.New, r.Summary.Skipped)
	return err
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpdateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <root>",
		Short: "Record every file under an absolute root",
		Long: `Walk an absolute directory (or a single file) and record every entry.

Content already in the database is not typed or parsed again; only the
occurrence of the file at its current location is refreshed. Files that
vanish, cannot be read, or reach --max-parse-size are skipped.

Examples:
  metafs update --db ./metafs.db /data
  metafs update --workers 8 --ignore '.git/' --ignore '*.tmp' /srv/share
  metafs update --hash sha256 --format json /data/tool.exe`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(opts, args[0], cmd)
		},
	}

	cmd.Flags().String("hash", "md5", "content digest algorithm (md5|sha1|sha256|blake3)")
	cmd.Flags().Int("workers", 1, "concurrent hashing workers; writes stay serialized")
	cmd.Flags().Bool("case-fold", filer.DefaultCaseFold(), "fold path and filename case before storing")
	cmd.Flags().StringSlice("ignore", nil, "gitignore-style pattern to skip (repeatable)")
	cmd.Flags().Int64("max-parse-size", 100_000_000, "skip files of at least this many bytes")
	cmd.Flags().String("magic-file", "", "YAML file of extra type detection rules")
	cmd.Flags().Int("resolver-cache", 4096, "resolver id cache entries (0 disables)")

	return cmd
}

func runUpdate(opts *UpdateOptions, root string, cmd *cobra.Command) error {
	if !filepath.IsAbs(root) {
		return WrapExitError(ExitCommandError, "invalid root", &filer.ConfigError{Op: "update", Path: root, Err: filer.ErrNotAbsolute})
	}
	cfg := opts.Config
	out := opts.formatter(cmd)

	out.VerboseLog("Opening %s (%s, %s digests)", cfg.DB.Path, cfg.DB.Driver, cfg.Scan.Hash)
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	out.VerboseLog("Walking %s with %d workers", root, cfg.Scan.Workers)
	sum, err := filer.Update(cmd.Context(), st, root, filer.Options{
		CaseFold: cfg.Scan.CaseFold,
		Workers:  cfg.Scan.Workers,
		Ignore:   cfg.Scan.Ignore,
	})
	if err != nil {
		var cfgErr *filer.ConfigError
		if errors.As(err, &cfgErr) {
			return WrapExitError(ExitCommandError, "invalid root", err)
		}
		return WrapExitError(ExitFailure, "update failed", err)
	}

	return out.Success(UpdateResult{Root: root, Summary: sum})
}
