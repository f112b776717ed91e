// futsim-parse ingests per-root directories of CSV bar data and packages
// them into compressed .zrk archives.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/futsim/futsim/internal/config"
	"github.com/futsim/futsim/internal/ingest"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "futsim-parse",
	Short: "Ingest CSV bar data into futsim archives",
	Long: `futsim-parse walks every root directory under the configured input
directory, parses the contained daily and intraday CSV files, applies the
per-root contract filters, and writes one compressed archive per root.`,
	RunE: runParser,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "config/futsim.yaml", "Path to the configuration file")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runParser(_ *cobra.Command, _ []string) error {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	parser, err := ingest.NewParser(cfg.Parser)
	if err != nil {
		return err
	}
	return parser.Run()
}
