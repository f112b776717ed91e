// futsim-server loads the archive directory and asset catalog, then serves
// history, correlation and backtest requests over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/futsim/futsim/internal/asset"
	"github.com/futsim/futsim/internal/config"
	"github.com/futsim/futsim/internal/server"
)

var (
	configPath string
	listen     string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "futsim-server",
	Short: "Historical futures-trading simulation server",
	Long: `futsim-server loads every .zrk archive from the configured ticker
directory, derives continuous contracts, and serves OHLC history,
correlation matrices and backtests over HTTP.`,
	RunE: runServer,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "config/futsim.yaml", "Path to the configuration file")
	rootCmd.Flags().StringVar(&listen, "listen", "", "Listen address, overrides the configuration file")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer(_ *cobra.Command, _ []string) error {
	setupLogging()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}
	if err := cfg.Backtest.Validate(); err != nil {
		return fmt.Errorf("backtest configuration: %w", err)
	}
	log.Info().Str("directory", cfg.Server.TickerDirectory).Msg("Loading assets")
	started := time.Now()
	manager, err := asset.NewManager(cfg.Server.TickerDirectory, cfg.Server.AssetPath)
	if err != nil {
		return err
	}
	log.Info().Dur("elapsed", time.Since(started)).Msg("Loaded assets")

	httpServer := server.New(cfg.Server, cfg.Backtest, manager)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	errs := make(chan error, 1)
	go func() {
		errs <- httpServer.Start()
	}()
	select {
	case err := <-errs:
		return err
	case <-shutdown:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(ctx)
	}
}

func setupLogging() {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
