package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tinywall/procman/internal/process"
	"github.com/tinywall/procman/pkg/types"
)

type killResult struct {
	PID     int      `json:"pid"`
	Outcome string   `json:"outcome"`
	States  []string `json:"states"`
	Error   string   `json:"error,omitempty"`
}

func newKillCmd(d deps) *cobra.Command {
	var (
		timeout      time.Duration
		creationTime int64
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "kill PID",
		Short: "Ask a process to exit, then force it after --timeout",
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

			if !cmd.Flags().Changed("timeout") {
				timeout = e.cfg.TerminateTimeout()
			}
			target, err := e.procs.OpenTargetAt(types.Identity{PID: pid, CreationTime: creationTime})
			switch {
			case errors.Is(err, process.ErrIdentityMismatch):
				return exitErrorf(exitIdentityMismatch, "pid %d no longer refers to the requested process", pid)
			case err != nil:
				return exitErrorf(exitNotFound, "%v", err)
			}
			defer target.Close()

			res := killResult{PID: pid}
			term := process.NewTerminator(
				process.WithTerminatorLogger(e.logger.Logger),
				process.WithKillGrace(e.cfg.KillGrace()),
				process.WithObserver(func(s process.State) { res.States = append(res.States, s.String()) }),
			)
			outcome, termErr := term.Terminate(target, timeout)
			res.Outcome = outcome.String()
			if termErr != nil {
				res.Error = termErr.Error()
			}

			if asJSON {
				if err := printJSON(cmd, res); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%d: %s (%s)\n", pid, res.Outcome, strings.Join(res.States, " -> "))
			}
			if outcome == process.OutcomeStillRunning {
				msg := fmt.Sprintf("pid %d survived the forced kill", pid)
				if termErr != nil {
					msg = termErr.Error()
				}
				return &ExitError{code: exitStillRunning, message: msg}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Graceful wait before the forced kill (default from config)")
	cmd.Flags().Int64Var(&creationTime, "creation-time", 0, "Refuse unless PID still has this creation time (FILETIME units)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
