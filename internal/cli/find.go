package cli

import (
	"context"
	"fmt"
	"io"
	"path"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/metafs/internal/store"
)

// FindOptions holds flags for the find subcommands.
type FindOptions struct {
	*RootOptions
	Library string
}

// FindResult lists matching occurrences.
type FindResult struct {
	Query       string             `json:"query" yaml:"query"`
	Occurrences []store.Occurrence `json:"occurrences" yaml:"occurrences"`
}

// RenderText implements TextRenderer.
func (r FindResult) RenderText(w io.Writer) error {
	if len(r.Occurrences) == 0 {
		_, err := fmt.Fprintf(w, "No files found for %s\n", r.Query)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DIGEST\tSIZE\tPATH\tTYPE")
	for _, o := range r.Occurrences {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", o.Digest, o.Size, joinPath(o.Dir, o.Filename), o.Label)
	}
	return tw.Flush()
}

// joinPath joins a stored directory key and filename without cleaning
// either, so Windows-style keys print as recorded.
func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	last := dir[len(dir)-1]
	if last == '/' || last == '\\' {
		return dir + name
	}
	if len(dir) >= 2 && dir[1] == ':' {
		return dir + `\` + name
	}
	return path.Join(dir, name)
}

// NewFindCommand creates the find command and its subcommands.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FindOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "find",
		Short: "Look up recorded files",
		Long: `Canned lookups over the metadata database.

Examples:
  metafs find digest 5d41402abc4b2a76b9719d911017c592
  metafs find imports CreateRemoteThread --library kernel32.dll
  metafs find exports ServiceMain
  metafs find version CompanyName "Acme Corp"`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "digest <digest>",
		Short:         "Every location of a content digest",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(opts, cmd, "digest "+args[0], func(ctx context.Context, st *store.Store) ([]store.Occurrence, error) {
				return st.FindByDigest(ctx, args[0])
			})
		},
	})

	imports := &cobra.Command{
		Use:           "imports <symbol>",
		Short:         "Binaries importing a symbol",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(opts, cmd, "import "+symbolQuery(args[0], opts.Library), func(ctx context.Context, st *store.Store) ([]store.Occurrence, error) {
				return st.FindImporters(ctx, args[0], opts.Library)
			})
		},
	}
	imports.Flags().StringVar(&opts.Library, "library", "", "only match symbols from this library")
	cmd.AddCommand(imports)

	exports := &cobra.Command{
		Use:           "exports <symbol>",
		Short:         "Binaries exporting a symbol",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(opts, cmd, "export "+symbolQuery(args[0], opts.Library), func(ctx context.Context, st *store.Store) ([]store.Occurrence, error) {
				return st.FindExporters(ctx, args[0], opts.Library)
			})
		},
	}
	exports.Flags().StringVar(&opts.Library, "library", "", "only match symbols exported under this library name")
	cmd.AddCommand(exports)

	cmd.AddCommand(&cobra.Command{
		Use:           "version <field> [value]",
		Short:         "Binaries with a version resource field",
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			field, value := args[0], ""
			if len(args) == 2 {
				value = args[1]
			}
			q := "version " + field
			if value != "" {
				q += "=" + value
			}
			return runFind(opts, cmd, q, func(ctx context.Context, st *store.Store) ([]store.Occurrence, error) {
				return st.FindByVersionInfo(ctx, field, value)
			})
		},
	})

	return cmd
}

func symbolQuery(symbol, library string) string {
	if library == "" {
		return symbol
	}
	return library + "!" + symbol
}

func runFind(opts *FindOptions, cmd *cobra.Command, query string, find func(context.Context, *store.Store) ([]store.Occurrence, error)) error {
	out := opts.formatter(cmd)
	out.VerboseLog("Opening %s", opts.Config.DB.Path)
	st, err := openStore(opts.Config)
	if err != nil {
		return err
	}
	defer st.Close()

	out.VerboseLog("Searching for %s", query)
	found, err := find(cmd.Context(), st)
	if err != nil {
		return WrapExitError(ExitFailure, "find failed", err)
	}
	if found == nil {
		found = []store.Occurrence{}
	}
	out.VerboseLog("%d occurrences", len(found))
	return out.Success(FindResult{Query: query, Occurrences: found})
}
