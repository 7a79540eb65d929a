// Package app assembles depthwatch: it opens the time-series store and the
// enabled side outputs, then runs the goroutines of one operating mode until
// the context ends.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/depthwatch/internal/config"
)

// App owns the configuration and the shutdown hooks collected while wiring.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	closeOnce sync.Once
	closers   []func()
}

// New returns an App for cfg. Nothing is opened until Run.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

type modeFunc func(*App, context.Context, *Dependencies) error

var modes = map[string]modeFunc{
	"track":   (*App).TrackMode,
	"server":  (*App).ServerMode,
	"collect": (*App).CollectMode,
}

// Run wires dependencies and blocks in the configured mode until ctx is
// cancelled or one of its goroutines fails.
func (a *App) Run(ctx context.Context) error {
	run, ok := modes[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	a.logger.InfoContext(ctx, "wiring dependencies",
		slog.String("mode", a.cfg.Mode),
		slog.Any("config", config.RedactedConfig(a.cfg)),
	)
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	return run(a, ctx, deps)
}

// Close runs the shutdown hooks newest first. Later calls do nothing.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.logger.Info("releasing resources", slog.Int("hooks", len(a.closers)))
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
		a.closers = nil
	})
}
