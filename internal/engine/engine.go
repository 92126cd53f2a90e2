// Package engine schedules the trading loops: position management on
// every tick, signal scanning on a slower cadence, throttled snapshot
// persistence, and optional archival exports. All order submissions
// happen outside the position store locks.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftline/riskbot/internal/domain"
	"github.com/driftline/riskbot/internal/lifecycle"
	"github.com/driftline/riskbot/internal/metrics"
	"github.com/driftline/riskbot/internal/position"
	"github.com/driftline/riskbot/internal/risk"
	"github.com/driftline/riskbot/internal/signal"
)

// Params holds the scheduling and sizing knobs, copied from config at
// wiring time.
type Params struct {
	Mode            string
	Symbols         []string
	Equity          float64
	Leverage        float64
	SLMultiplier    float64
	TPMultiplier    float64
	MaxStaleness    time.Duration
	ReturnWindow    time.Duration
	TickInterval    time.Duration
	ScanInterval    time.Duration
	PersistInterval time.Duration
	ArchiveInterval time.Duration
	TrendLookback   int
	PullbackTol     float64

	// ReverseMargin is how far the new opposing conviction must exceed
	// the entry conviction before a signal exit reopens the other way.
	ReverseMargin float64
}

// performanceTracker is the slice of the monitor the engine needs.
type performanceTracker interface {
	RiskScale() float64
	RecordTrade(t domain.ClosedTrade)
}

// archiver is the optional export sink.
type archiver interface {
	ArchiveTrades(ctx context.Context, from, to time.Time) (int64, error)
	ArchiveDailyStats(ctx context.Context, from, to time.Time) (int64, error)
	ArchiveSnapshot(ctx context.Context, statePath string, now time.Time) error
}

// eventNotifier is the slice of the notifier the engine needs.
type eventNotifier interface {
	PositionOpened(ctx context.Context, p domain.Position) error
	PositionClosed(ctx context.Context, t domain.ClosedTrade) error
	BreakevenArmed(ctx context.Context, p domain.Position) error
	RetryExhausted(ctx context.Context, symbol string, res domain.OrderResult) error
}

// Engine drives the whole trading cycle.
type Engine struct {
	params    Params
	store     *position.Store
	persister *position.Persister
	sizer     *risk.Sizer
	lifecycle *lifecycle.Controller
	arbiter   *signal.Arbiter
	market    domain.MarketData
	predictor domain.Predictor
	gateway   domain.OrderGateway
	perf      performanceTracker
	journal   domain.TradeJournal
	bus       domain.EventBus
	notifier  eventNotifier
	archive   archiver
	statePath string
	logger    *slog.Logger

	mu        sync.Mutex
	trading   bool
	startedAt time.Time
	closing   map[string]bool
	lastArch  time.Time
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Store     *position.Store
	Persister *position.Persister
	Sizer     *risk.Sizer
	Lifecycle *lifecycle.Controller
	Arbiter   *signal.Arbiter
	Market    domain.MarketData
	Predictor domain.Predictor
	Gateway   domain.OrderGateway
	Perf      performanceTracker
	Journal   domain.TradeJournal // optional
	Bus       domain.EventBus     // optional
	Notifier  eventNotifier       // optional
	Archiver  archiver            // optional
	StatePath string
}

// New creates an Engine. Trading starts enabled except in monitor mode.
func New(params Params, deps Deps, logger *slog.Logger) *Engine {
	return &Engine{
		params:    params,
		store:     deps.Store,
		persister: deps.Persister,
		sizer:     deps.Sizer,
		lifecycle: deps.Lifecycle,
		arbiter:   deps.Arbiter,
		market:    deps.Market,
		predictor: deps.Predictor,
		gateway:   deps.Gateway,
		perf:      deps.Perf,
		journal:   deps.Journal,
		bus:       deps.Bus,
		notifier:  deps.Notifier,
		archive:   deps.Archiver,
		statePath: deps.StatePath,
		logger:    logger.With(slog.String("component", "engine")),
		trading:   params.Mode != "monitor",
		closing:   make(map[string]bool),
	}
}

// Run executes the loops until ctx is cancelled, then forces a final
// snapshot write.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.startedAt = time.Now().UTC()
	e.mu.Unlock()

	e.logger.Info("engine: started",
		slog.String("mode", e.params.Mode),
		slog.Int("symbols", len(e.params.Symbols)),
		slog.Duration("tick", e.params.TickInterval),
		slog.Duration("scan", e.params.ScanInterval))
	e.publish(ctx, domain.EventEngineStarted, map[string]any{"mode": e.params.Mode})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.manageLoop(gctx) })
	g.Go(func() error { return e.scanLoop(gctx) })
	g.Go(func() error { return e.persistLoop(gctx) })
	if e.archive != nil && e.params.ArchiveInterval > 0 {
		g.Go(func() error { return e.archiveLoop(gctx) })
	}

	err := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, perr := e.persister.Persist(true); perr != nil {
		e.logger.Error("engine: final snapshot failed", slog.String("error", perr.Error()))
	}
	e.publish(flushCtx, domain.EventEngineStopped, nil)
	e.logger.Info("engine: stopped")
	return err
}

// manageLoop evaluates open positions on every tick.
func (e *Engine) manageLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.params.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.manageTick(ctx)
		}
	}
}

// scanLoop looks for new entries on the slower cadence.
func (e *Engine) scanLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.params.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if e.TradingEnabled() {
				e.scanTick(ctx)
			}
		}
	}
}

// persistLoop flushes dirty state on the persistence cadence.
func (e *Engine) persistLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.params.PersistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			wrote, err := e.persister.Persist(false)
			if err != nil {
				e.logger.Error("engine: snapshot write failed", slog.String("error", err.Error()))
				continue
			}
			if wrote {
				metrics.SnapshotWrites.Inc()
			}
		}
	}
}

// archiveLoop exports the journal and a snapshot copy periodically.
func (e *Engine) archiveLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.params.ArchiveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.archiveTick(ctx)
		}
	}
}

func (e *Engine) archiveTick(ctx context.Context) {
	now := time.Now().UTC()
	e.mu.Lock()
	from := e.lastArch
	e.lastArch = now
	e.mu.Unlock()
	if from.IsZero() {
		from = now.Add(-e.params.ArchiveInterval)
	}

	if n, err := e.archive.ArchiveTrades(ctx, from, now); err != nil {
		e.logger.Warn("engine: trade archive failed", slog.String("error", err.Error()))
	} else if n > 0 {
		e.logger.Info("engine: trades archived", slog.Int64("count", n))
	}
	if _, err := e.archive.ArchiveDailyStats(ctx, from, now); err != nil {
		e.logger.Warn("engine: daily stats archive failed", slog.String("error", err.Error()))
	}
	if err := e.archive.ArchiveSnapshot(ctx, e.statePath, now); err != nil {
		e.logger.Warn("engine: snapshot archive failed", slog.String("error", err.Error()))
	}
}

// StartTrading enables entry scanning.
func (e *Engine) StartTrading() {
	e.mu.Lock()
	e.trading = true
	e.mu.Unlock()
	e.logger.Info("engine: trading enabled")
}

// StopTrading disables entry scanning. Open positions keep being
// managed and can still close.
func (e *Engine) StopTrading() {
	e.mu.Lock()
	e.trading = false
	e.mu.Unlock()
	e.logger.Info("engine: trading disabled")
}

// TradingEnabled reports whether new entries are being scanned.
func (e *Engine) TradingEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trading
}

// Status is the engine state exposed over HTTP.
type Status struct {
	Mode          string    `json:"mode"`
	Trading       bool      `json:"trading"`
	StartedAt     time.Time `json:"started_at"`
	OpenPositions int       `json:"open_positions"`
	Symbols       []string  `json:"symbols"`
}

// CurrentStatus returns a snapshot of the engine state.
func (e *Engine) CurrentStatus() Status {
	e.mu.Lock()
	trading := e.trading
	startedAt := e.startedAt
	e.mu.Unlock()
	return Status{
		Mode:          e.params.Mode,
		Trading:       trading,
		StartedAt:     startedAt,
		OpenPositions: e.store.Count(),
		Symbols:       e.params.Symbols,
	}
}
