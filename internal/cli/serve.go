package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tinywall/procman/internal/config"
	"github.com/tinywall/procman/internal/logging"
	"github.com/tinywall/procman/internal/server"
)

func newServeCmd(d deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the local process query API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			path, _ := cmd.Root().PersistentFlags().GetString("config")
			if path == "" {
				path = defaultConfigPath()
			}
			cfg, err := config.LoadOrDefault(path)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging, nil)
			if err != nil {
				return err
			}
			defer logger.Close()

			opts := []server.Option{}
			if _, err := os.Stat(path); err == nil {
				opts = append(opts, server.WithConfigPath(path))
			}
			if d.native != nil {
				opts = append(opts, server.WithNative(d.native))
			}
			s, err := server.New(cfg, logger, opts...)
			if err != nil {
				return err
			}
			defer s.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "procman listening on %s\n", s.Addr())
			return s.Run(ctx)
		},
	}
}
