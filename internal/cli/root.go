package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tinywall/procman/internal/config"
	"github.com/tinywall/procman/internal/logging"
	"github.com/tinywall/procman/internal/process"
	"golang.org/x/term"
)

// deps are the host-facing pieces commands use, replaceable in tests.
type deps struct {
	native    process.Native // nil selects the platform implementation
	isTTY     func(fd int) bool
	termWidth func(fd int) (int, error)
}

func defaultDeps() deps {
	return deps{
		isTTY: term.IsTerminal,
		termWidth: func(fd int) (int, error) {
			w, _, err := term.GetSize(fd)
			return w, err
		},
	}
}

func NewRoot(version string) *cobra.Command {
	return newRoot(version, defaultDeps())
}

func newRoot(version string, d deps) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "procman",
		Short:         "procman: process inventory, ancestry and termination",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.SetVersionTemplate("procman {{.Version}}\n")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default: $PROCMAN_CONFIG or ./procman.yaml)")

	cmd.AddCommand(newPsCmd(d))
	cmd.AddCommand(newPathCmd(d))
	cmd.AddCommand(newParentCmd(d))
	cmd.AddCommand(newTreeCmd(d))
	cmd.AddCommand(newKillCmd(d))
	cmd.AddCommand(newWatchCmd(d))
	cmd.AddCommand(newEventsCmd(d))
	cmd.AddCommand(newServeCmd(d))

	return cmd
}

// env is the per-invocation state shared by the local commands.
type env struct {
	cfg    *config.Config
	logger *logging.Logger
	procs  *process.Manager
}

func (d deps) setup(cmd *cobra.Command) (*env, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := loadLocalConfig(path)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging, nil)
	if err != nil {
		return nil, err
	}
	opts := []process.Option{
		process.WithLogger(logger.Logger),
		process.WithPathCapacity(cfg.Inventory.PathBuffer),
	}
	if d.native != nil {
		opts = append(opts, process.WithNative(d.native))
	}
	return &env{cfg: cfg, logger: logger, procs: process.New(opts...)}, nil
}

func (e *env) Close() error {
	return e.logger.Close()
}

// terminal reports whether w is an interactive terminal and, if so, its
// width in columns (0 when unknown).
func (d deps) terminal(w io.Writer) (bool, int) {
	f, ok := w.(*os.File)
	if !ok || d.isTTY == nil || !d.isTTY(int(f.Fd())) {
		return false, 0
	}
	if d.termWidth == nil {
		return true, 0
	}
	width, err := d.termWidth(int(f.Fd()))
	if err != nil {
		return true, 0
	}
	return true, width
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

func jsonLine(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
