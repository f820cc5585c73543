package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/roach88/metafs/internal/store"
)

// Error codes reported in the error envelope.
const (
	ErrCodeGeneric        = "E001" // Runtime failure
	ErrCodeInvalidCommand = "E002" // Bad arguments, flags or configuration
	ErrCodeDigestMismatch = "E003" // Database was built with another digest algorithm
)

// Execute runs the metafs CLI with args and returns the process exit code.
// Failures are reported through the output formatter, so json and yaml
// callers receive an error envelope on stdout; text errors go to stderr.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd, opts := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if cerr := opts.closeLog(); cerr != nil {
		slog.Warn("failed to close log file", "error", cerr)
	}
	if err == nil {
		return ExitSuccess
	}

	reportError(opts, stdout, stderr, err)
	return GetExitCode(err)
}

// reportError writes err in the selected output format.
func reportError(opts *RootOptions, stdout, stderr io.Writer, err error) {
	f := &OutputFormatter{
		Format:    opts.Format,
		Writer:    stdout,
		ErrWriter: stderr,
		Verbose:   opts.Verbose,
	}
	if !isValidFormat(f.Format) || f.Format == "text" {
		f.Format = "text"
		f.Writer = stderr
	}

	message := err.Error()
	var details any
	var exitErr *ExitError
	if f.Format != "text" && errors.As(err, &exitErr) && exitErr.Err != nil {
		message = exitErr.Message
		details = exitErr.Err.Error()
	}
	_ = f.Error(errorCode(err), message, details)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, store.ErrDigestMismatch):
		return ErrCodeDigestMismatch
	case GetExitCode(err) == ExitCommandError:
		return ErrCodeInvalidCommand
	default:
		return ErrCodeGeneric
	}
}
