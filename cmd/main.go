package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tidbyt.dev/arrivals"
	"tidbyt.dev/arrivals/config"
	"tidbyt.dev/arrivals/metrics"
)

var rootCmd = &cobra.Command{
	Use:          "arrivals",
	Short:        "MTA subway arrivals",
	Long:         "Reconciles MTA realtime predictions with the static subway schedule",
	SilenceUsage: true,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queryCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Loads config and builds a Manager with it, plus the logger and
// metrics it was wired with.
func loadManager() (*config.Config, *arrivals.Manager, zerolog.Logger, *metrics.Collector, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, zerolog.Nop(), nil, err
	}

	logger := cfg.Logger(os.Stderr)
	m := metrics.NewCollector()

	opts, err := cfg.ManagerOptions(logger, m)
	if err != nil {
		return nil, nil, logger, nil, err
	}

	return cfg, arrivals.NewManager(opts), logger, m, nil
}
