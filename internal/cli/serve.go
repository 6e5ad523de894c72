package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/forPelevin/clipper/internal/logging"
	"github.com/forPelevin/clipper/internal/pipeline"
	"github.com/forPelevin/clipper/internal/server"
)

func newServeCommand(root *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP job API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := pipeline.Build(ctx, cfg, logging.New(nil))
			if err != nil {
				return err
			}
			app.Jobs.Start()

			serveErr := server.ListenAndServe(ctx, cfg.Server.Addr, app.Handler(), cfg.Server.ShutdownTimeout, logging.WithComponent("http"))

			// Running jobs get the same grace period as open requests.
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := app.Jobs.Shutdown(sctx); err != nil {
				log.Warn().Err(err).Msg("jobs canceled at shutdown")
			}
			log.Info().Msg("stopped")
			return serveErr
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}
