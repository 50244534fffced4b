// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/giak/mnemo-lite-sub001/internal/config"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the mnemo control plane",
		Long:  "Load configuration, initialize the store, cache, breakers and workers, and start the HTTP server.",
		RunE:  runStart,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	_ = viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))

	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if listen := viper.GetString("server.listen"); listen != "" {
		cfg.Server.Listen = listen
	}

	level := slog.LevelInfo
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	a, err := buildApp(cfg, logger)
	if err != nil {
		return fmt.Errorf("building control plane: %w", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("mnemo control plane starting",
		"listen", cfg.Server.Listen,
		"redis_enabled", cfg.Cache.Redis.Enabled,
		"embedding_enabled", cfg.Embedding.Enabled,
		"worker_manifest", cfg.Workers.Manifest)

	return a.server.Start(ctx)
}
