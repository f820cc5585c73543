package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
}

// QueryResult is the output of a raw query.
type QueryResult struct {
	Columns []string `json:"columns" yaml:"columns"`
	Rows    [][]any  `json:"rows" yaml:"rows"`
}

// RenderText implements TextRenderer as an aligned table.
func (r QueryResult) RenderText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(r.Columns, "\t"))
	for _, row := range r.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatCell(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "(%d %s)\n", len(r.Rows), plural(len(r.Rows), "row", "rows"))
	return err
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <sql> [args...]",
		Short: "Run raw SQL against the database",
		Long: `Run a SQL statement against the metadata database and print every row.

Extra arguments are bound to ? placeholders in order. The statement is not
validated; anything SQLite accepts is executed.

Examples:
  metafs query "SELECT hash FROM hashes LIMIT 10"
  metafs query "SELECT path FROM paths WHERE path LIKE ?" '/data/%'
  metafs query --format json "SELECT name, COUNT(*) FROM dlls JOIN file_import_dlls USING (dll_id) GROUP BY name"`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], args[1:], cmd)
		},
	}

	return cmd
}

func runQuery(opts *QueryOptions, text string, params []string, cmd *cobra.Command) error {
	st, err := openStore(opts.Config)
	if err != nil {
		return err
	}
	defer st.Close()

	args := make([]any, len(params))
	for i, p := range params {
		args[i] = p
	}

	rows, err := st.Query(cmd.Context(), text, args...)
	if err != nil {
		return WrapExitError(ExitFailure, "query failed", err)
	}

	result := QueryResult{Columns: rows.Columns, Rows: rows.Values}
	if result.Rows == nil {
		result.Rows = [][]any{}
	}
	return opts.formatter(cmd).Success(result)
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
