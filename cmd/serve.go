package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tidbyt.dev/arrivals/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves arrivals over HTTP",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, manager, logger, m, err := loadManager()
	if err != nil {
		return err
	}

	if cfg.Realtime.APIKey == "" {
		logger.Warn().Msg("MTA_API_KEY is not set, arrival queries will fail")
	}

	// The schedule is big. Start on it right away rather than on the
	// first query.
	manager.Warm()

	router := server.NewRouter(server.Config{
		Service:    manager,
		Routes:     manager.Routes,
		Metrics:    m,
		Logger:     logger.With().Str("component", "http").Logger(),
		RateLimit:  cfg.Server.RateLimit,
		RateWindow: cfg.Server.RateWindow,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.ListenAndServe(ctx, cfg.Server.Addr, router, cfg.Server.ShutdownTimeout, logger)
}
