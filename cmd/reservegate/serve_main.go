package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/stablemint/reservegate/internal/application"
)

// runServe wires the full service from config and serves until interrupted.
func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := application.LoadConfigOrDefault(configPath)
	if err != nil {
		return err
	}

	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}

	logger := newLogger(cmd, cfg)
	cmd.Flags().Visit(func(f *pflag.Flag) {
		logger.Debug().Str("flag", f.Name).Str("value", f.Value.String()).Msg("flag override")
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := application.NewService(ctx, cfg, version, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	logger.Info().
		Str("version", version).
		Str("addr", svc.Address()).
		Str("feed", cfg.Gate.Feed).
		Str("admin", cfg.Gate.Admin).
		Msg("ReserveGate starting")

	return svc.Run(ctx)
}
