// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/drivecast/internal/config"
	"github.com/ManuGH/drivecast/internal/daemon"
	xglog "github.com/ManuGH/drivecast/internal/log"
	"github.com/ManuGH/drivecast/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Create a context that listens for the interrupt signal from the OS
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Explicit --config wins; otherwise ${DRIVECAST_DATA_DIR}/config.yaml is
	// used when present.
	effectiveConfigPath := strings.TrimSpace(*configPath)
	if effectiveConfigPath == "" {
		effectiveConfigPath = resolveDefaultConfigPath()
	}

	// Load configuration with precedence: ENV > File > Defaults
	loader := config.NewLoader(effectiveConfigPath, version.Version)
	cfg, err := loader.Load()

	// The logger is configured once; a failed load still gets a usable one.
	level := cfg.LogLevel
	if err != nil {
		level = "info"
	}
	xglog.Configure(xglog.Config{
		Level:   level,
		Service: "drivecast",
		Version: version.Version,
	})
	logger := xglog.WithComponent("main")

	if err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	source := "env"
	if effectiveConfigPath != "" {
		source = "file"
	}
	logger.Info().
		Str(xglog.FieldEvent, "config.loaded").
		Str("source", source).
		Str("path", effectiveConfigPath).
		Str("version", version.String()).
		Msg("configuration loaded")

	holder := config.NewConfigHolder(cfg, loader, effectiveConfigPath)
	app, err := daemon.Bootstrap(ctx, cfg, holder)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "daemon.bootstrap_failed").
			Msg("failed to initialise daemon")
	}

	if err := app.Run(ctx); err != nil {
		logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "daemon.exit").
			Msg("daemon stopped with error")
		os.Exit(1)
	}
	logger.Info().Str(xglog.FieldEvent, "daemon.exit").Msg("daemon stopped")
}
