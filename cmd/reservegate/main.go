package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stablemint/reservegate/internal/application"
)

const (
	appName = "ReserveGate"
	version = "v1.2.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     "reservegate",
		Short:   "Proof-of-reserves issuance gate for asset-backed tokens",
		Version: version,
		Long: `ReserveGate guards token issuance behind an attested reserve feed.

Every mint is checked against the latest proof-of-reserves attestation:
a missing, invalid, stale, or insufficient attestation blocks the mint
before any supply changes. With no feed configured the gate stands open
and issuance passes through untouched.`,
	}

	rootCmd.PersistentFlags().String("config", "config/reservegate.yaml", "Path to the service configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace|debug|info|warn|error), overrides config")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the issuance gate service",
		Long:  "Starts the HTTP API, websocket decision stream, and metrics endpoint with the configured feeds and backends",
		RunE:  runServe,
	}
	serveCmd.Flags().String("host", "", "Bind host, overrides config")
	serveCmd.Flags().Int("port", 0, "Bind port, overrides config")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate the gate once and print the decision",
		Long: `Reads the selected reserve feed and reports whether issuance would pass
at the given total supply. Nothing is minted; the exit code is 0 when the
gate would allow and 1 when it would deny.`,
		RunE: runCheck,
	}
	checkCmd.Flags().String("feed", "", "Feed name, defaults to the configured gate feed")
	checkCmd.Flags().String("supply", "0", "Total supply to evaluate, in whole token units")
	checkCmd.Flags().Int64("heartbeat", 0, "Expected update interval in seconds, defaults to the configured heartbeat")
	checkCmd.Flags().Bool("json", false, "Emit the decision as JSON")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running gate service",
		Long:  "Fetches /v1/status from a running instance and prints the gate view, feed health, and recent outcome counts",
		RunE:  runStatus,
	}
	statusCmd.Flags().String("addr", "", "Service address host:port, defaults to the configured server address")
	statusCmd.Flags().Bool("json", false, "Emit the raw status response as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(statusCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// newLogger builds the process logger from the config, letting the
// --log-level flag override the configured level.
func newLogger(cmd *cobra.Command, cfg *application.Config) zerolog.Logger {
	level := cfg.Logging.Level
	if flagLevel, _ := cmd.Flags().GetString("log-level"); flagLevel != "" {
		level = flagLevel
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
	if cfg.Logging.Pretty || term.IsTerminal(int(os.Stderr.Fd())) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	return logger
}
