// Package monitor watches realized performance: rolling Sharpe,
// volatility regime shifts, retrain triggers, and the daily rollup. It
// also adapts the arbiter's open thresholds and the engine's risk
// appetite from the same observations.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/driftline/riskbot/internal/domain"
	"github.com/driftline/riskbot/internal/metrics"
	"github.com/driftline/riskbot/internal/position"
	"github.com/driftline/riskbot/internal/risk"
)

// Params holds the monitoring knobs, copied from config at wiring time.
type Params struct {
	ReturnWindow    time.Duration
	CheckInterval   time.Duration
	SharpeFloor     float64
	VolShiftRatio   float64
	RetrainEnabled  bool
	MinRetrainGap   time.Duration
	AnnualizeFactor float64

	// Base thresholds the adaptive adapter starts from.
	LongThreshold  float64
	ShortThreshold float64
}

// Monitor runs the periodic performance check loop.
type Monitor struct {
	params    Params
	store     *position.Store
	predictor domain.Predictor
	journal   domain.TradeJournal
	bus       domain.EventBus
	logger    *slog.Logger

	mu                sync.Mutex
	lastVol           float64
	lastRetrainAt     time.Time
	lastRetrainSample int
	riskScale         float64
	longTh, shortTh   float64
	dayStart          time.Time
	dayTrades         []domain.ClosedTrade
}

// New creates a Monitor. journal and bus may be nil; the monitor then
// only keeps in-memory state.
func New(params Params, store *position.Store, predictor domain.Predictor, journal domain.TradeJournal, bus domain.EventBus, logger *slog.Logger) *Monitor {
	return &Monitor{
		params:    params,
		store:     store,
		predictor: predictor,
		journal:   journal,
		bus:       bus,
		logger:    logger.With(slog.String("component", "monitor")),
		riskScale: 1,
		longTh:    params.LongThreshold,
		shortTh:   params.ShortThreshold,
		dayStart:  time.Now().UTC().Truncate(24 * time.Hour),
	}
}

// Run executes the check loop until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.params.CheckInterval)
	defer ticker.Stop()

	m.logger.Info("monitor: started",
		slog.Duration("interval", m.params.CheckInterval),
		slog.Duration("window", m.params.ReturnWindow))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor: stopped")
			return ctx.Err()
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one monitoring pass: prune, Sharpe, volatility shift,
// retrain consideration, and the daily rollover.
func (m *Monitor) Check(ctx context.Context) {
	now := time.Now().UTC()
	cutoff := now.Add(-m.params.ReturnWindow)

	if dropped := m.store.PruneReturns(cutoff); dropped > 0 {
		m.logger.Debug("monitor: pruned stale returns", slog.Int("dropped", dropped))
	}

	returns := m.store.AllReturnsSince(cutoff)
	sharpe, hasSharpe := risk.Sharpe(returns, m.params.AnnualizeFactor)
	vol := risk.Volatility(returns)

	m.mu.Lock()
	volShift := false
	if m.lastVol > 0 && vol > 0 {
		ratio := vol / m.lastVol
		if ratio < 1 {
			ratio = 1 / ratio
		}
		volShift = ratio >= m.params.VolShiftRatio
	}
	m.lastVol = vol

	degraded := hasSharpe && sharpe < m.params.SharpeFloor
	if degraded {
		m.riskScale = 0.5
		m.longTh = capTh(m.params.LongThreshold + 0.05)
		m.shortTh = capTh(m.params.ShortThreshold + 0.075)
	} else {
		m.riskScale = 1
		m.longTh = m.params.LongThreshold
		m.shortTh = m.params.ShortThreshold
	}
	m.mu.Unlock()

	if degraded || volShift {
		m.logger.Warn("monitor: performance degradation",
			slog.Float64("sharpe", sharpe),
			slog.Bool("has_sharpe", hasSharpe),
			slog.Float64("volatility", vol),
			slog.Bool("vol_shift", volShift))
		m.considerRetrain(ctx, returns, now)
	}

	if day := now.Truncate(24 * time.Hour); day.After(m.currentDayStart()) {
		m.rollOverDay(ctx, day)
	}
}

func (m *Monitor) currentDayStart() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dayStart
}

// considerRetrain requests a model retrain when the sample is large
// enough, diverse enough, and strictly larger than at the last attempt.
func (m *Monitor) considerRetrain(ctx context.Context, returns []domain.ReturnRecord, now time.Time) {
	if !m.params.RetrainEnabled || m.predictor == nil {
		return
	}

	wins, losses := 0, 0
	for _, r := range returns {
		if r.PnL > 0 {
			wins++
		} else if r.PnL < 0 {
			losses++
		}
	}
	if wins == 0 || losses == 0 {
		m.logger.Debug("monitor: retrain skipped, single outcome class",
			slog.Int("wins", wins), slog.Int("losses", losses))
		return
	}

	m.mu.Lock()
	sample := len(returns)
	tooSoon := !m.lastRetrainAt.IsZero() && now.Sub(m.lastRetrainAt) < m.params.MinRetrainGap
	noGrowth := sample <= m.lastRetrainSample
	if tooSoon || noGrowth {
		m.mu.Unlock()
		m.logger.Debug("monitor: retrain skipped",
			slog.Bool("too_soon", tooSoon),
			slog.Bool("no_growth", noGrowth),
			slog.Int("sample", sample))
		return
	}
	m.lastRetrainAt = now
	m.lastRetrainSample = sample
	m.mu.Unlock()

	if err := m.predictor.RequestRetrain(ctx, "", sample); err != nil {
		m.logger.Warn("monitor: retrain request failed", slog.String("error", err.Error()))
		m.mu.Lock()
		// Failed attempts do not consume the sample-growth guard.
		m.lastRetrainSample = sample - 1
		m.mu.Unlock()
		return
	}

	metrics.RetrainRequests.Inc()
	m.logger.Info("monitor: retrain requested", slog.Int("sample", sample))
	m.publish(ctx, domain.EventRetrainRequest, map[string]any{"sample": sample, "at": now})
}

// RecordTrade feeds a closed trade into the daily rollup.
func (m *Monitor) RecordTrade(t domain.ClosedTrade) {
	m.mu.Lock()
	m.dayTrades = append(m.dayTrades, t)
	m.mu.Unlock()
}

// rollOverDay computes and persists the previous day's stats, then
// resets the accumulator.
func (m *Monitor) rollOverDay(ctx context.Context, newDay time.Time) {
	m.mu.Lock()
	trades := m.dayTrades
	day := m.dayStart
	m.dayTrades = nil
	m.dayStart = newDay
	m.mu.Unlock()

	stats := ComputeDailyStats(day, trades)
	m.logger.Info("monitor: daily rollup",
		slog.Time("day", stats.Day),
		slog.Int("trades", stats.Trades),
		slog.Float64("win_rate", stats.WinRate),
		slog.Float64("total_pnl", stats.TotalPnL),
		slog.Float64("max_drawdown", stats.MaxDrawdown))

	if m.journal != nil {
		if err := m.journal.InsertDailyStats(ctx, stats); err != nil {
			m.logger.Warn("monitor: persist daily stats failed", slog.String("error", err.Error()))
		}
	}
	m.publish(ctx, domain.EventDailyStats, stats)
}

// ComputeDailyStats aggregates one day's closed trades. Drawdown is the
// largest peak-to-trough fall of the cumulative PnL in close order.
func ComputeDailyStats(day time.Time, trades []domain.ClosedTrade) domain.DailyStats {
	stats := domain.DailyStats{Day: day, Trades: len(trades)}
	if len(trades) == 0 {
		return stats
	}

	wins := 0
	var cum, peak, maxDD float64
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
		}
		stats.TotalPnL += t.PnL
		cum += t.PnL
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > maxDD {
			maxDD = dd
		}
	}
	stats.WinRate = float64(wins) / float64(len(trades))
	stats.AvgPnL = stats.TotalPnL / float64(len(trades))
	stats.MaxDrawdown = maxDD
	return stats
}

// RiskScale returns the current appetite multiplier for the sizer: 1
// normally, reduced while Sharpe sits below the floor.
func (m *Monitor) RiskScale() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.riskScale
}

// Thresholds implements signal.ThresholdAdapter: the current adaptive
// open thresholds. Shorts tighten faster than longs when performance
// degrades.
func (m *Monitor) Thresholds() (long, short float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.longTh, m.shortTh
}

func (m *Monitor) publish(ctx context.Context, event string, payload any) {
	if m.bus == nil {
		return
	}
	data, err := json.Marshal(map[string]any{"event": event, "data": payload, "ts": time.Now().UTC()})
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, event, data); err != nil {
		m.logger.Warn("monitor: publish failed",
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}

func capTh(v float64) float64 {
	if v > 0.95 {
		return 0.95
	}
	return v
}
