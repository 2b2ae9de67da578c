package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tinywall/procman/internal/store/sqlite"
	"github.com/tinywall/procman/pkg/types"
)

func newEventsCmd(d deps) *cobra.Command {
	var (
		q      types.EventQuery
		since   time.Duration
		asJSON  bool
		summary bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query recorded process events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := d.setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if e.cfg.Events.SQLitePath == "" {
				return fmt.Errorf("events.sqlite_path is not configured")
			}
			st, err := sqlite.Open(e.cfg.Events.SQLitePath)
			if err != nil {
				return err
			}
			defer st.Close()

			if since > 0 {
				t := time.Now().UTC().Add(-since)
				q.Since = &t
			}
			if summary {
				sums, err := st.Summarize(cmd.Context(), q)
				if err != nil {
					return err
				}
				if asJSON {
					if sums == nil {
						sums = []sqlite.Summary{}
					}
					return printJSON(cmd, sums)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "TYPE\tCOUNT\tPIDS")
				for _, sum := range sums {
					fmt.Fprintf(tw, "%s\t%d\t%d\n", sum.Type, sum.Count, sum.Distinct)
				}
				return tw.Flush()
			}

			evs, err := st.QueryEvents(cmd.Context(), q)
			if err != nil {
				return err
			}
			if asJSON {
				if evs == nil {
					evs = []types.Event{}
				}
				return printJSON(cmd, evs)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tTYPE\tPID\tNAME\tOUTCOME")
			for _, ev := range evs {
				outcome := ev.Outcome
				if outcome == "" {
					outcome = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", ev.Timestamp.Local().Format(time.DateTime), ev.Type, ev.PID, ev.ExeFile, outcome)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringSliceVar(&q.Types, "type", nil, "Event types to include")
	cmd.Flags().IntVar(&q.PID, "pid", 0, "Only events for this PID")
	cmd.Flags().StringVar(&q.ExeLike, "name", "", "Executable name substring (case-insensitive)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only events newer than this")
	cmd.Flags().IntVar(&q.Limit, "limit", 50, "Maximum events")
	cmd.Flags().BoolVar(&q.Asc, "asc", false, "Oldest first")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.Flags().BoolVar(&summary, "summary", false, "Print counts per event type instead of events")
	return cmd
}

