package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/riskbot/internal/domain"
	"github.com/driftline/riskbot/internal/lifecycle"
	"github.com/driftline/riskbot/internal/metrics"
	"github.com/driftline/riskbot/internal/position"
	"github.com/driftline/riskbot/internal/risk"
	"github.com/driftline/riskbot/internal/signal"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMarket struct {
	snaps map[string]domain.IndicatorSnapshot
	hist  map[string][]domain.IndicatorSnapshot
}

func (f *fakeMarket) Latest(_ context.Context, symbol string) (domain.IndicatorSnapshot, error) {
	s, ok := f.snaps[symbol]
	if !ok {
		return domain.IndicatorSnapshot{}, domain.ErrNotFound
	}
	return s, nil
}

func (f *fakeMarket) History(_ context.Context, symbol string, _ int) ([]domain.IndicatorSnapshot, error) {
	return f.hist[symbol], nil
}

func (f *fakeMarket) Fresh(_ context.Context, symbol string, maxAge time.Duration) (bool, error) {
	s, ok := f.snaps[symbol]
	if !ok {
		return false, nil
	}
	return time.Since(s.Timestamp) <= maxAge, nil
}

type fakePredictor struct {
	prediction float64
	advice     domain.PolicyAdvice
}

func (f *fakePredictor) Predict(context.Context, string, []domain.IndicatorSnapshot) (float64, error) {
	return f.prediction, nil
}

func (f *fakePredictor) Advise(context.Context, string) (domain.PolicyAdvice, error) {
	return f.advice, nil
}

func (f *fakePredictor) RequestRetrain(context.Context, string, int) error { return nil }

type recordingGateway struct {
	mu       sync.Mutex
	requests []domain.OrderRequest
	outcome  domain.OrderOutcome
	block    chan struct{}
}

func (g *recordingGateway) Submit(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if g.block != nil {
		<-g.block
	}
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	outcome := g.outcome
	if outcome == "" {
		outcome = domain.OrderOutcomeOk
	}
	res := domain.OrderResult{Outcome: outcome, Attempts: 1}
	if outcome == domain.OrderOutcomeOk {
		res.OrderID = "o-1"
		res.FilledPrice = req.Price
		res.FilledSize = req.Size
	}
	return res, nil
}

func (g *recordingGateway) calls() []domain.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]domain.OrderRequest, len(g.requests))
	copy(out, g.requests)
	return out
}

type fakePerf struct {
	mu     sync.Mutex
	scale  float64
	trades []domain.ClosedTrade
}

func (f *fakePerf) RiskScale() float64 {
	if f.scale == 0 {
		return 1
	}
	return f.scale
}

func (f *fakePerf) RecordTrade(t domain.ClosedTrade) {
	f.mu.Lock()
	f.trades = append(f.trades, t)
	f.mu.Unlock()
}

func snapAt(symbol string, close, atr float64) domain.IndicatorSnapshot {
	return domain.IndicatorSnapshot{
		Symbol:    symbol,
		Close:     close,
		High:      close,
		Low:       close,
		ATR:       atr,
		EMA30:     close,
		EMA100:    close,
		Timestamp: time.Now().UTC(),
	}
}

func newTestEngine(t *testing.T, market *fakeMarket, pred *fakePredictor, gw *recordingGateway, perf *fakePerf) (*Engine, *position.Store) {
	t.Helper()
	logger := discardLogger()
	store := position.NewStore(5)
	persister := position.NewPersister(store, t.TempDir()+"/state.json", time.Second, logger)

	params := Params{
		Mode:            "paper",
		Symbols:         []string{"BTCUSD"},
		Equity:          10_000,
		Leverage:        3,
		SLMultiplier:    2,
		TPMultiplier:    3,
		MaxStaleness:    time.Minute,
		ReturnWindow:    24 * time.Hour,
		TickInterval:    time.Second,
		ScanInterval:    time.Second,
		PersistInterval: time.Second,
		TrendLookback:   20,
		ReverseMargin:   0.1,
	}

	sizer := risk.NewSizer(risk.Params{
		BaseRisk: 0.01, MinRisk: 0.002, MaxRisk: 0.03,
		VolThreshold: 0.02, VolScalarMin: 0.5, VolScalarMax: 1.5,
	})
	ctrl := lifecycle.NewController(lifecycle.Params{
		SLMultiplier: 2, TPMultiplier: 3, TrailMultiplier: 1.5, BreakevenTrigger: 1,
	})
	arb := signal.NewArbiter(signal.Params{
		ModelWeight: 1, TrendWeight: 0,
		LongThreshold: 0.55, ShortThreshold: 0.6,
		OverrideMinConf: 0.8, RLOverride: true,
	}, nil, logger)

	eng := New(params, Deps{
		Store:     store,
		Persister: persister,
		Sizer:     sizer,
		Lifecycle: ctrl,
		Arbiter:   arb,
		Market:    market,
		Predictor: pred,
		Gateway:   gw,
		Perf:      perf,
	}, logger)
	return eng, store
}

func TestScanOpensPositionOnLongSignal(t *testing.T) {
	snap := snapAt("BTCUSD", 100, 2)
	market := &fakeMarket{
		snaps: map[string]domain.IndicatorSnapshot{"BTCUSD": snap},
		hist:  map[string][]domain.IndicatorSnapshot{"BTCUSD": {snap}},
	}
	pred := &fakePredictor{prediction: 0.9, advice: domain.PolicyAdvice{Action: domain.PolicyActionHold}}
	gw := &recordingGateway{}
	eng, store := newTestEngine(t, market, pred, gw, &fakePerf{})

	eng.scanTick(context.Background())

	pos, ok := store.Get("BTCUSD")
	require.True(t, ok)
	assert.Equal(t, domain.PositionSideLong, pos.Side)
	assert.InDelta(t, 96, pos.StopLoss, 1e-9)
	assert.InDelta(t, 106, pos.TakeProfit, 1e-9)
	assert.Greater(t, pos.Size, 0.0)

	calls := gw.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.OrderSideBuy, calls[0].Side)
	assert.False(t, calls[0].ReduceOnly)
}

func TestScanReleasesReservationOnRejectedOrder(t *testing.T) {
	snap := snapAt("BTCUSD", 100, 2)
	market := &fakeMarket{
		snaps: map[string]domain.IndicatorSnapshot{"BTCUSD": snap},
		hist:  map[string][]domain.IndicatorSnapshot{"BTCUSD": {snap}},
	}
	pred := &fakePredictor{prediction: 0.9}
	gw := &recordingGateway{outcome: domain.OrderOutcomeRejected}
	eng, store := newTestEngine(t, market, pred, gw, &fakePerf{})

	eng.scanTick(context.Background())

	assert.False(t, store.Has("BTCUSD"))
	assert.Equal(t, 0, store.Count())
}

func TestScanSkipsSymbolWithOpenPosition(t *testing.T) {
	snap := snapAt("BTCUSD", 100, 2)
	market := &fakeMarket{
		snaps: map[string]domain.IndicatorSnapshot{"BTCUSD": snap},
		hist:  map[string][]domain.IndicatorSnapshot{"BTCUSD": {snap}},
	}
	pred := &fakePredictor{prediction: 0.9}
	gw := &recordingGateway{}
	eng, store := newTestEngine(t, market, pred, gw, &fakePerf{})

	require.True(t, store.TryOpen(domain.Position{Symbol: "BTCUSD", Side: domain.PositionSideLong, Size: 1, EntryPrice: 100}))
	eng.scanTick(context.Background())

	assert.Empty(t, gw.calls())
}

func TestManageClosesAtTakeProfit(t *testing.T) {
	market := &fakeMarket{snaps: map[string]domain.IndicatorSnapshot{
		"BTCUSD": snapAt("BTCUSD", 107, 2),
	}}
	gw := &recordingGateway{}
	perf := &fakePerf{}
	eng, store := newTestEngine(t, market, &fakePredictor{}, gw, perf)

	require.True(t, store.TryOpen(domain.Position{
		Symbol: "BTCUSD", Side: domain.PositionSideLong,
		Size: 1, EntryPrice: 100, Leverage: 3,
		StopLoss: 96, TakeProfit: 106,
		HighestPrice: 100, LowestPrice: 100,
		OpenedAt: time.Now().UTC(),
	}))

	eng.manageTick(context.Background())

	assert.False(t, store.Has("BTCUSD"))
	calls := gw.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.OrderSideSell, calls[0].Side)
	assert.True(t, calls[0].ReduceOnly)

	require.Len(t, perf.trades, 1)
	assert.Equal(t, domain.CloseReasonTakeProfit, perf.trades[0].Reason)
	assert.InDelta(t, 21, perf.trades[0].PnL, 1e-9) // (107-100)*1*3

	returns := store.ReturnsSince("BTCUSD", time.Time{})
	require.Len(t, returns, 1)
	assert.InDelta(t, 21, returns[0].PnL, 1e-9)
}

func TestManageArmsBreakevenOnce(t *testing.T) {
	market := &fakeMarket{snaps: map[string]domain.IndicatorSnapshot{
		"BTCUSD": snapAt("BTCUSD", 102.5, 2),
	}}
	gw := &recordingGateway{}
	eng, store := newTestEngine(t, market, &fakePredictor{}, gw, &fakePerf{})

	require.True(t, store.TryOpen(domain.Position{
		Symbol: "BTCUSD", Side: domain.PositionSideLong,
		Size: 2, EntryPrice: 100, Leverage: 3,
		StopLoss: 96, TakeProfit: 106,
		HighestPrice: 100, LowestPrice: 100,
		OpenedAt: time.Now().UTC(),
	}))

	eng.manageTick(context.Background())

	pos, ok := store.Get("BTCUSD")
	require.True(t, ok)
	assert.True(t, pos.BreakevenArmed)
	assert.InDelta(t, 1, pos.Size, 1e-9)
	assert.InDelta(t, 100, pos.StopLoss, 1e-9)

	calls := gw.calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].ReduceOnly)
	assert.InDelta(t, 1, calls[0].Size, 1e-9)

	// A second tick at the same price must not arm again.
	eng.manageTick(context.Background())
	pos, _ = store.Get("BTCUSD")
	assert.InDelta(t, 1, pos.Size, 1e-9)
	assert.Len(t, gw.calls(), 1)
}

func TestManageCommitsRecomputedLevels(t *testing.T) {
	market := &fakeMarket{snaps: map[string]domain.IndicatorSnapshot{
		"BTCUSD": snapAt("BTCUSD", 100.2, 1),
	}}
	gw := &recordingGateway{}
	eng, store := newTestEngine(t, market, &fakePredictor{}, gw, &fakePerf{})

	require.True(t, store.TryOpen(domain.Position{
		Symbol: "BTCUSD", Side: domain.PositionSideLong,
		Size: 1, EntryPrice: 100, Leverage: 3,
		StopLoss: 96, TakeProfit: 106,
		SLMultiplier: 2, TPMultiplier: 3,
		HighestPrice: 100, LowestPrice: 100,
		OpenedAt: time.Now().UTC(),
	}))

	eng.manageTick(context.Background())

	// ATR halved since entry: the stop and target tighten with it.
	pos, ok := store.Get("BTCUSD")
	require.True(t, ok)
	assert.InDelta(t, 98, pos.StopLoss, 1e-9)
	assert.InDelta(t, 103, pos.TakeProfit, 1e-9)
	assert.Empty(t, gw.calls())
}

func TestManageClosesOnOpposingSignal(t *testing.T) {
	snap := snapAt("BTCUSD", 100, 2)
	market := &fakeMarket{
		snaps: map[string]domain.IndicatorSnapshot{"BTCUSD": snap},
		hist:  map[string][]domain.IndicatorSnapshot{"BTCUSD": {snap}},
	}
	pred := &fakePredictor{prediction: 0.1, advice: domain.PolicyAdvice{Action: domain.PolicyActionHold}}
	gw := &recordingGateway{}
	perf := &fakePerf{}
	eng, store := newTestEngine(t, market, pred, gw, perf)

	require.True(t, store.TryOpen(domain.Position{
		Symbol: "BTCUSD", Side: domain.PositionSideLong,
		Size: 1, EntryPrice: 100, Leverage: 3,
		StopLoss: 96, TakeProfit: 106,
		SLMultiplier: 2, TPMultiplier: 3,
		HighestPrice: 100, LowestPrice: 100,
		EntryScore: 0.9,
		OpenedAt:   time.Now().UTC(),
	}))

	eng.manageTick(context.Background())

	assert.False(t, store.Has("BTCUSD"))
	require.Len(t, perf.trades, 1)
	assert.Equal(t, domain.CloseReasonSignal, perf.trades[0].Reason)

	// No trend confirmation and no conviction margin over the entry:
	// the close stands alone, no reverse-open.
	calls := gw.calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].ReduceOnly)
}

func TestManageReversesOnStrongOpposingSignal(t *testing.T) {
	// Confirmed down-trend: fast EMA under slow, a pullback bar to the
	// fast EMA, latest close back under it.
	now := time.Now().UTC()
	bar := func(close float64) domain.IndicatorSnapshot {
		return domain.IndicatorSnapshot{
			Symbol: "BTCUSD", Close: close, ATR: 2,
			EMA30: 101, EMA100: 103, Timestamp: now,
		}
	}
	latest := bar(100)
	market := &fakeMarket{
		snaps: map[string]domain.IndicatorSnapshot{"BTCUSD": latest},
		hist:  map[string][]domain.IndicatorSnapshot{"BTCUSD": {bar(100.5), bar(101.5), latest}},
	}
	pred := &fakePredictor{prediction: 0.05, advice: domain.PolicyAdvice{Action: domain.PolicyActionHold}}
	gw := &recordingGateway{}
	eng, store := newTestEngine(t, market, pred, gw, &fakePerf{})

	require.True(t, store.TryOpen(domain.Position{
		Symbol: "BTCUSD", Side: domain.PositionSideLong,
		Size: 1, EntryPrice: 100, Leverage: 3,
		StopLoss: 96, TakeProfit: 106,
		SLMultiplier: 2, TPMultiplier: 3,
		HighestPrice: 100, LowestPrice: 100,
		EntryScore: 0.6,
		OpenedAt:   now,
	}))

	eng.manageTick(context.Background())

	// Short conviction 0.95 clears the 0.6 entry by the 0.1 margin and
	// the trend confirms: the long closes and a short reopens.
	pos, ok := store.Get("BTCUSD")
	require.True(t, ok)
	assert.Equal(t, domain.PositionSideShort, pos.Side)
	assert.InDelta(t, 0.95, pos.EntryScore, 1e-9)

	calls := gw.calls()
	require.Len(t, calls, 2)
	assert.True(t, calls[0].ReduceOnly)
	assert.False(t, calls[1].ReduceOnly)
	assert.Equal(t, domain.OrderSideSell, calls[1].Side)
}

func TestCloseAccumulatesLossesInRealizedPnL(t *testing.T) {
	market := &fakeMarket{snaps: map[string]domain.IndicatorSnapshot{}}
	gw := &recordingGateway{}
	eng, store := newTestEngine(t, market, &fakePredictor{}, gw, &fakePerf{})

	require.True(t, store.TryOpen(domain.Position{
		Symbol: "BTCUSD", Side: domain.PositionSideLong,
		Size: 1, EntryPrice: 100, Leverage: 3,
		StopLoss: 96, TakeProfit: 106,
		OpenedAt: time.Now().UTC(),
	}))

	before := testutil.ToFloat64(metrics.RealizedPnL)
	require.True(t, eng.ClosePosition(context.Background(), "BTCUSD", 95, domain.CloseReasonStopLoss))

	// (95-100)*1*3 = -15 must land in the metric, not be dropped.
	assert.InDelta(t, before-15, testutil.ToFloat64(metrics.RealizedPnL), 1e-9)
}

func TestCloseIntentFirstWins(t *testing.T) {
	market := &fakeMarket{snaps: map[string]domain.IndicatorSnapshot{}}
	gw := &recordingGateway{block: make(chan struct{})}
	eng, store := newTestEngine(t, market, &fakePredictor{}, gw, &fakePerf{})

	require.True(t, store.TryOpen(domain.Position{
		Symbol: "BTCUSD", Side: domain.PositionSideLong,
		Size: 1, EntryPrice: 100, Leverage: 3,
		StopLoss: 96, TakeProfit: 106,
	}))

	done := make(chan bool, 1)
	go func() {
		done <- eng.ClosePosition(context.Background(), "BTCUSD", 105, domain.CloseReasonManual)
	}()

	// Wait until the first close holds the intent, then race a second.
	require.Eventually(t, func() bool {
		eng.mu.Lock()
		defer eng.mu.Unlock()
		return eng.closing["BTCUSD"]
	}, time.Second, time.Millisecond)

	assert.False(t, eng.ClosePosition(context.Background(), "BTCUSD", 105, domain.CloseReasonSignal))

	close(gw.block)
	assert.True(t, <-done)
	assert.False(t, store.Has("BTCUSD"))
	assert.Len(t, gw.calls(), 1)
}

func TestFailedCloseKeepsPositionForRetry(t *testing.T) {
	market := &fakeMarket{snaps: map[string]domain.IndicatorSnapshot{}}
	gw := &recordingGateway{outcome: domain.OrderOutcomeTransient}
	eng, store := newTestEngine(t, market, &fakePredictor{}, gw, &fakePerf{})

	require.True(t, store.TryOpen(domain.Position{
		Symbol: "BTCUSD", Side: domain.PositionSideLong,
		Size: 1, EntryPrice: 100, Leverage: 3,
		StopLoss: 96, TakeProfit: 106,
	}))

	assert.False(t, eng.ClosePosition(context.Background(), "BTCUSD", 95, domain.CloseReasonStopLoss))
	assert.True(t, store.Has("BTCUSD"))

	// The intent was released, so a later attempt succeeds.
	gw.outcome = domain.OrderOutcomeOk
	assert.True(t, eng.ClosePosition(context.Background(), "BTCUSD", 95, domain.CloseReasonStopLoss))
	assert.False(t, store.Has("BTCUSD"))
}

func TestTradingToggle(t *testing.T) {
	eng, _ := newTestEngine(t, &fakeMarket{}, &fakePredictor{}, &recordingGateway{}, &fakePerf{})

	assert.True(t, eng.TradingEnabled())
	eng.StopTrading()
	assert.False(t, eng.TradingEnabled())
	eng.StartTrading()
	assert.True(t, eng.TradingEnabled())
}
