package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/depthwatch/internal/config"
)

func TestWireWithOnlyTheTimeSeriesStore(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.InMemory = true
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps, cleanup, err := Wire(context.Background(), &cfg, logger)
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Snapshots)
	assert.NotNil(t, deps.Trades)
	assert.NotNil(t, deps.Retention)
	assert.NotNil(t, deps.Notifier)

	// Disabled outputs must be untyped nil so optional checks downstream hold.
	assert.Nil(t, deps.Mirror)
	assert.Nil(t, deps.RateLimiter)
	assert.Nil(t, deps.Leases)
	assert.Nil(t, deps.Bus)
	assert.Nil(t, deps.Journal)
	assert.Nil(t, deps.Archiver)
	assert.Nil(t, deps.Publisher)
}

func TestNewComponentsStartsWithNoSubscriptions(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.InMemory = true
	cfg.Subscription.Symbols = []string{"BTCUSDT"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps, cleanup, err := Wire(context.Background(), &cfg, logger)
	require.NoError(t, err)
	defer cleanup()

	a := New(&cfg, logger)
	c := a.newComponents(deps)
	defer a.closeManager(c.manager)

	assert.Empty(t, c.manager.Symbols())
	assert.Equal(t, 1, cap(c.sweepCh))
}

func TestAfterShutdownOrdersStopBeforeCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	var order []string
	record := func(step string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, step)
	}

	next := afterShutdown(gctx, g, func() {
		time.Sleep(20 * time.Millisecond)
		record("close feeds")
	})
	g.Go(func() error {
		<-next.Done()
		record("final flush")
		return nil
	})

	select {
	case <-next.Done():
		t.Fatal("derived context cancelled before shutdown")
	case <-time.After(10 * time.Millisecond):
	}
	cancel()
	require.NoError(t, g.Wait())
	assert.Equal(t, []string{"close feeds", "final flush"}, order)
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.InMemory = true
	cfg.Mode = "replay"
	a := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer a.Close()

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported mode "replay"`)
}
