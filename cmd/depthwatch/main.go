// Command depthwatch tracks Binance spot order books, persists snapshots and
// trades to a local time-series store and serves live metrics and analytics.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/depthwatch/internal/app"
	"github.com/alanyoungcy/depthwatch/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override the configured mode (track, server, collect)")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", slog.String("path", *configPath), slog.String("error", err.Error()))
		return 1
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	level.Set(parseLevel(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application := app.New(cfg, logger)
	defer application.Close()

	logger.Info("depthwatch starting", slog.String("mode", cfg.Mode), slog.String("config", *configPath))
	switch err := application.Run(ctx); {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info("depthwatch stopped")
		return 0
	default:
		logger.Error("depthwatch failed", slog.String("error", err.Error()))
		return 1
	}
}

// parseLevel maps a config level name to a slog level. Unknown names log at
// info.
func parseLevel(name string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo
	}
	return l
}
