package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/metafs/internal/config"
	"github.com/roach88/metafs/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "text" | "json" | "yaml"
	ConfigFile string

	// Config is loaded before any subcommand runs.
	Config *config.Config

	logCloser io.Closer
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the root command for the metafs CLI.
func NewRootCommand() *cobra.Command {
	cmd, _ := newRootCommand()
	return cmd
}

func newRootCommand() (*cobra.Command, *RootOptions) {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "metafs",
		Short: "metafs - filesystem metadata indexer",
		Long: `Walk directory trees and record what is in them.

Every file is hashed; each distinct content is typed once and, for Windows
executables, decomposed into sections, imports, exports, version strings
and anomalies. Everything lands in a normalized SQLite database that can be
queried directly.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.setup(cmd)
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logging)")
	flags.StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	flags.StringVar(&opts.ConfigFile, "config", "", "config file (default metafs.yaml in . or $HOME/.config/metafs)")
	flags.String("db", "metafs.db", "path to SQLite database")
	flags.String("driver", "sqlite3", "sqlite driver (sqlite3|sqlite)")
	flags.String("log-level", "info", "log level (debug|info|warn|error)")
	flags.String("log-format", "text", "log format (text|json)")
	flags.String("log-file", "", "also write logs to this rotated file")

	// Add subcommands
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewFindCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))

	return cmd, opts
}

// setup loads configuration and installs the logger.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: o.ConfigFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	o.Config = cfg

	closer, err := logging.Setup(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
		Stderr:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to configure logging", err)
	}
	o.logCloser = closer

	slog.Debug("configuration loaded", "db", cfg.DB.Path, "driver", cfg.DB.Driver, "hash", cfg.Scan.Hash)
	return nil
}

// closeLog releases the log file opened by setup. Safe to call more than once.
func (o *RootOptions) closeLog() error {
	if o.logCloser == nil {
		return nil
	}
	err := o.logCloser.Close()
	o.logCloser = nil
	return err
}

// formatter returns an OutputFormatter writing to cmd's output.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
