package cli

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tinywall/procman/internal/process"
	"github.com/tinywall/procman/pkg/types"
)

func newPsCmd(d deps) *cobra.Command {
	var resolve, asJSON bool
	var name string
	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List running processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := d.setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			matcher, err := process.NewNameMatcher(name)
			if err != nil {
				return err
			}

			if !resolve {
				recs, err := e.procs.Processes()
				if err != nil {
					return err
				}
				var out []types.ProcessRecord
				for _, r := range recs {
					if matcher.Match(r.ExeFile) {
						out = append(out, r)
					}
				}
				if asJSON {
					return printJSON(cmd, out)
				}
				return printRecords(cmd.OutOrStdout(), out)
			}

			recs, err := e.procs.ResolvedProcesses()
			if err != nil {
				return err
			}
			var out []types.ResolvedProcessRecord
			for _, r := range recs {
				if matcher.Match(r.ExeFile) {
					out = append(out, r)
				}
			}
			if asJSON {
				return printJSON(cmd, out)
			}
			_, width := d.terminal(cmd.OutOrStdout())
			return printResolved(cmd.OutOrStdout(), out, width)
		},
	}
	cmd.Flags().BoolVar(&resolve, "resolve", false, "Open each process for its image path and creation time")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.Flags().StringVar(&name, "name", "", "Only list executables matching this glob (case-insensitive)")
	return cmd
}

func printRecords(w io.Writer, recs []types.ProcessRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tPPID\tTHREADS\tPRIO\tNAME")
	for _, r := range recs {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%s\n", r.PID, r.ParentPID, r.Threads, r.BasePriority, r.ExeFile)
	}
	return tw.Flush()
}

// printResolved writes a table of resolved records. width > 0 truncates the
// image path so rows fit a terminal of that many columns.
func printResolved(w io.Writer, recs []types.ResolvedProcessRecord, width int) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tPPID\tTHREADS\tNAME\tSTARTED\tPATH")
	for _, r := range recs {
		path := r.ImagePath
		if path == "" {
			path = "-"
		}
		if width > 0 {
			// PID, PPID, THREADS, NAME and STARTED take roughly 70 columns.
			path = truncateLeft(path, width-70)
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\t%s\n", r.PID, r.ParentPID, r.Threads, r.ExeFile, formatCreated(r.CreationTime), path)
	}
	return tw.Flush()
}

func formatCreated(ft int64) string {
	if ft == 0 {
		return "-"
	}
	return types.FiletimeToTime(ft).Local().Format(time.DateTime)
}

// truncateLeft keeps the tail of s, which is the informative end of a path.
func truncateLeft(s string, limit int) string {
	r := []rune(s)
	if limit < 8 || len(r) <= limit {
		return s
	}
	return "..." + string(r[len(r)-limit+3:])
}

func parsePID(s string) (int, error) {
	pid, err := strconv.Atoi(s)
	if err != nil || pid < 0 {
		return 0, fmt.Errorf("invalid pid %q", s)
	}
	return pid, nil
}

func newPathCmd(d deps) *cobra.Command {
	return &cobra.Command{
		Use:   "path [PID]",
		Short: "Print the full image path of a process (default: procman itself)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := d.setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			var (
				path string
				ok   bool
			)
			if len(args) == 0 {
				path, ok = e.procs.ExecutablePath()
			} else {
				pid, err := parsePID(args[0])
				if err != nil {
					return err
				}
				path, ok = e.procs.ImagePathOf(pid)
			}
			if !ok {
				return exitErrorf(exitNotFound, "image path not available")
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newParentCmd(d deps) *cobra.Command {
	return &cobra.Command{
		Use:   "parent PID",
		Short: "Print the verified parent PID of a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePID(args[0])
			if err != nil {
				return err
			}
			e, err := d.setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			ppid, ok, err := e.procs.ParentOf(pid)
			if err != nil {
				return fmt.Errorf("query parent of %d: %w", pid, err)
			}
			if !ok {
				return exitErrorf(exitNotFound, "parent of %d not available", pid)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ppid)
			return nil
		},
	}
}
