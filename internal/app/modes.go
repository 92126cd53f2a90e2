package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftline/riskbot/internal/domain"
)

// tradeLockTTL is the Redis leader lock lifetime. The lock is renewed
// while the process runs; a crashed instance frees it after one TTL.
const tradeLockTTL = 30 * time.Second

// TradeMode runs the full engine against the live venue. It takes the
// Redis leader lock first so two instances never submit orders for the
// same account.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	release, err := deps.Lock.Hold(ctx, "engine", tradeLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("trade mode: another instance holds the trading lock: %w", err)
		}
		return fmt.Errorf("trade mode: %w", err)
	}
	defer release()

	return a.runEngine(ctx, deps)
}

// PaperMode runs the full engine with simulated fills. No leader lock is
// needed since paper instances cannot conflict at the venue.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")
	return a.runEngine(ctx, deps)
}

// MonitorMode runs the engine with entry scanning disabled: open
// positions restored from the snapshot keep being managed, the feed and
// performance monitor run, and the HTTP API serves reads. Trading can be
// enabled later through POST /api/engine/start.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runEngine(ctx, deps)
}

// runEngine starts the shared goroutines: indicator feed, performance
// monitor, trading engine, and the HTTP server when enabled. It blocks
// until the context is cancelled or a subsystem fails.
func (a *App) runEngine(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Feed.Run(ctx)
	})
	g.Go(func() error {
		return deps.Monitor.Run(ctx)
	})
	g.Go(func() error {
		return deps.Engine.Run(ctx)
	})

	if deps.Server != nil {
		g.Go(func() error {
			return deps.Server.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := deps.Server.Shutdown(shutCtx); err != nil {
				return err
			}
			return ctx.Err()
		})
	}

	return g.Wait()
}
