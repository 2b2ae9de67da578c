package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tinywall/procman/internal/store/sqlite"
	"github.com/tinywall/procman/internal/watch"
	"github.com/tinywall/procman/pkg/types"
)

func newWatchCmd(d deps) *cobra.Command {
	var (
		interval time.Duration
		asJSON   bool
		record   bool
		wanted   []string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print processes as they start and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := d.setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !cmd.Flags().Changed("interval") {
				interval = e.cfg.WatchInterval()
			}
			opts := []watch.Option{watch.WithInterval(interval), watch.WithLogger(e.logger.Logger)}
			if record {
				if e.cfg.Events.SQLitePath == "" {
					return fmt.Errorf("--record needs events.sqlite_path in the config")
				}
				st, err := sqlite.Open(e.cfg.Events.SQLitePath)
				if err != nil {
					return err
				}
				defer st.Close()
				opts = append(opts, watch.WithStore(st))
			}

			w := watch.New(e.procs, opts...)
			events, cancel := w.Subscribe(256)
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- w.Run(ctx) }()

			out := cmd.OutOrStdout()
			for {
				select {
				case err := <-done:
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				case ev, ok := <-events:
					if !ok {
						// Run has returned; its result is on done.
						events = nil
						continue
					}
					if len(wanted) > 0 && !slices.Contains(wanted, ev.Type) {
						continue
					}
					if err := writeEvent(out, ev, asJSON); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", watch.DefaultInterval, "Time between snapshots (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON object per line")
	cmd.Flags().BoolVar(&record, "record", false, "Also record events in the configured SQLite store")
	cmd.Flags().StringSliceVar(&wanted, "type", nil, "Only print these event types (process_started, process_exited)")
	return cmd
}

func writeEvent(w io.Writer, ev types.Event, asJSON bool) error {
	if asJSON {
		b, err := jsonLine(ev)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	}
	marker := "+"
	if ev.Type == types.EventProcessExited {
		marker = "-"
	}
	path := ev.ImagePath
	if path == "" {
		path = ev.ExeFile
	}
	_, err := fmt.Fprintf(w, "%s %s %d (ppid %d) %s\n", ev.Timestamp.Local().Format(time.TimeOnly), marker, ev.PID, ev.ParentPID, path)
	return err
}
