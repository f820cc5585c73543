package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/metafs/internal/store"
)

// StatsOptions holds flags for the stats command.
type StatsOptions struct {
	*RootOptions
	Scans int
}

// StatsResult holds table sizes and recent scans.
type StatsResult struct {
	Tables []store.TableCount `json:"tables" yaml:"tables"`
	Scans  []store.Scan       `json:"scans" yaml:"scans"`
}

// RenderText implements TextRenderer.
func (r StatsResult) RenderText(w io.Writer) error {
	fmt.Fprintln(w, "=== Tables ===")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, tc := range r.Tables {
		fmt.Fprintf(tw, "  %s\t%d\n", tc.Table, tc.Rows)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Recent Scans ===")
	if len(r.Scans) == 0 {
		_, err := fmt.Fprintln(w, "  (no scans)")
		return err
	}
	for _, sc := range r.Scans {
		status := "unfinished"
		if sc.FinishedAt != nil {
			status = sc.FinishedAt.Sub(sc.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "  %s  %s  %s  dirs=%d files=%d new=%d skipped=%d (%s)\n",
			sc.StartedAt.Format(time.RFC3339), sc.ID, sc.Root,
			sc.Summary.Directories, sc.Summary.Files, sc.Summary.New, sc.Summary.Skipped, status)
	}
	return nil
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show table sizes and recent scans",
		Long: `Show the number of rows in every table and the most recent update runs.

Examples:
  metafs stats
  metafs stats --scans 20 --format yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Scans, "scans", 5, "number of recent scans to show (0 for all)")

	return cmd
}

func runStats(opts *StatsOptions, cmd *cobra.Command) error {
	st, err := openStore(opts.Config)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	counts, err := st.Counts(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to count tables", err)
	}
	scans, err := st.Scans(ctx, opts.Scans)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list scans", err)
	}
	if scans == nil {
		scans = []store.Scan{}
	}

	return opts.formatter(cmd).Success(StatsResult{Tables: counts, Scans: scans})
}
