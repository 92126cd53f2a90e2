package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/driftline/riskbot/internal/domain"
	"github.com/driftline/riskbot/internal/lifecycle"
	"github.com/driftline/riskbot/internal/metrics"
	"github.com/driftline/riskbot/internal/risk"
	"github.com/driftline/riskbot/internal/signal"
)

// manageTick evaluates every open position against the latest market
// data and applies the resulting transition.
func (e *Engine) manageTick(ctx context.Context) {
	for _, pos := range e.store.List() {
		snap, err := e.market.Latest(ctx, pos.Symbol)
		if err != nil {
			e.logger.Warn("engine: no market data for open position",
				slog.String("symbol", pos.Symbol),
				slog.String("error", err.Error()))
			continue
		}
		if time.Since(snap.Timestamp) > e.params.MaxStaleness {
			e.logger.Warn("engine: stale market data, skipping evaluation",
				slog.String("symbol", pos.Symbol),
				slog.Time("snapshot_at", snap.Timestamp))
			continue
		}

		ev := e.lifecycle.Evaluate(pos, snap.Close, snap.ATR)
		e.store.Mutate(pos.Symbol, func(p *domain.Position) {
			lifecycle.ApplyExtremes(p, ev.Highest, ev.Lowest)
			lifecycle.ApplyLevels(p, ev.StopLoss, ev.TakeProfit)
		})

		switch {
		case ev.Close:
			e.ClosePosition(ctx, pos.Symbol, snap.Close, ev.Reason)
		case ev.ArmBreakeven:
			e.armBreakeven(ctx, pos.Symbol, snap.Close)
		default:
			e.evaluateSignalExit(ctx, pos, snap.Close)
		}
	}
}

// evaluateSignalExit re-scores a held symbol through the arbiter and
// closes the position when the verdict now opposes the held side or the
// policy advises a close. A reversal reopens in the new direction when
// the new conviction clears the entry conviction by the configured
// margin and the trend confirms that direction.
func (e *Engine) evaluateSignalExit(ctx context.Context, pos domain.Position, price float64) {
	d, snap, trend, ok := e.decide(ctx, pos.Symbol)
	if !ok {
		return
	}

	var reverse bool
	switch {
	case d.Action == domain.DecisionClose:
		// close only, never a reverse
	case d.Action == domain.DecisionOpenShort && pos.Side == domain.PositionSideLong:
		reverse = sideStrength(domain.PositionSideShort, d.Score) >= pos.EntryScore+e.params.ReverseMargin &&
			trend == signal.TrendDown
	case d.Action == domain.DecisionOpenLong && pos.Side == domain.PositionSideShort:
		reverse = sideStrength(domain.PositionSideLong, d.Score) >= pos.EntryScore+e.params.ReverseMargin &&
			trend == signal.TrendUp
	default:
		return
	}

	metrics.Decisions.WithLabelValues(string(d.Action)).Inc()
	if !e.ClosePosition(ctx, pos.Symbol, price, domain.CloseReasonSignal) {
		return
	}
	if reverse && e.TradingEnabled() {
		e.logger.Info("engine: reversing position",
			slog.String("symbol", pos.Symbol),
			slog.String("action", string(d.Action)),
			slog.Float64("entry_score", pos.EntryScore),
			slog.Float64("prediction", d.Score))
		e.openFromDecision(ctx, d, snap)
	}
}

// sideStrength is the conviction of a prediction in the given direction.
func sideStrength(side domain.PositionSide, prediction float64) float64 {
	if side == domain.PositionSideShort {
		return 1 - prediction
	}
	return prediction
}

// candidate is one symbol's entry verdict during a scan.
type candidate struct {
	decision domain.Decision
	snap     domain.IndicatorSnapshot
}

// scanTick evaluates every configured symbol and opens the strongest
// candidates while capacity lasts.
func (e *Engine) scanTick(ctx context.Context) {
	var candidates []candidate

	for _, symbol := range e.params.Symbols {
		if e.store.Has(symbol) {
			continue
		}

		fresh, err := e.market.Fresh(ctx, symbol, e.params.MaxStaleness)
		if err != nil {
			e.logger.Warn("engine: freshness check failed",
				slog.String("symbol", symbol), slog.String("error", err.Error()))
			continue
		}
		if !fresh {
			continue
		}

		d, snap, _, ok := e.decide(ctx, symbol)
		if !ok {
			continue
		}
		metrics.Decisions.WithLabelValues(string(d.Action)).Inc()
		if d.Action != domain.DecisionOpenLong && d.Action != domain.DecisionOpenShort {
			continue
		}
		candidates = append(candidates, candidate{decision: d, snap: snap})
	}

	// Strongest conviction first.
	sort.Slice(candidates, func(i, j int) bool {
		return conviction(candidates[i].decision) > conviction(candidates[j].decision)
	})

	for _, c := range candidates {
		e.openFromDecision(ctx, c.decision, c.snap)
	}
}

// decide gathers the prediction, policy advice, and trend state for one
// symbol and runs the arbiter.
func (e *Engine) decide(ctx context.Context, symbol string) (domain.Decision, domain.IndicatorSnapshot, signal.TrendDirection, bool) {
	history, err := e.market.History(ctx, symbol, e.params.TrendLookback)
	if err != nil || len(history) == 0 {
		e.logger.Warn("engine: history fetch failed",
			slog.String("symbol", symbol))
		return domain.Decision{}, domain.IndicatorSnapshot{}, signal.TrendNone, false
	}
	latest := history[len(history)-1]

	prediction, err := e.predictor.Predict(ctx, symbol, history)
	if err != nil {
		e.logger.Warn("engine: prediction failed",
			slog.String("symbol", symbol), slog.String("error", err.Error()))
		return domain.Decision{}, domain.IndicatorSnapshot{}, signal.TrendNone, false
	}

	advice, err := e.predictor.Advise(ctx, symbol)
	if err != nil {
		// The vote can proceed without policy advice.
		e.logger.Debug("engine: policy advice unavailable",
			slog.String("symbol", symbol), slog.String("error", err.Error()))
		advice = domain.PolicyAdvice{Action: domain.PolicyActionHold}
	}

	trend := signal.ConfirmTrend(history, signal.TrendParams{
		Lookback:          e.params.TrendLookback,
		PullbackTolerance: e.params.PullbackTol,
	})

	return e.arbiter.Decide(symbol, prediction, advice, trend), latest, trend, true
}

// conviction ranks a decision by its winning vote weight, breaking ties
// with prediction distance from neutral.
func conviction(d domain.Decision) float64 {
	score := d.BuyScore
	if d.SellScore > score {
		score = d.SellScore
	}
	if d.Overridden {
		score += 1
	}
	dist := d.Score - 0.5
	if dist < 0 {
		dist = -dist
	}
	return score + dist/100
}

// openFromDecision sizes and opens a position for a non-hold decision.
// The store insert is the reservation: it happens before the order goes
// out and is rolled back when the order fails.
func (e *Engine) openFromDecision(ctx context.Context, d domain.Decision, snap domain.IndicatorSnapshot) {
	side := domain.PositionSideLong
	if d.Action == domain.DecisionOpenShort {
		side = domain.PositionSideShort
	}

	cutoff := time.Now().UTC().Add(-e.params.ReturnWindow)
	returns := e.store.AllReturnsSince(cutoff)
	fraction := e.sizer.Fraction(returns, risk.Volatility(returns)) * e.perf.RiskScale()
	metrics.RiskFraction.Set(fraction)

	size := risk.PositionSize(e.params.Equity, snap.Close, snap.ATR,
		e.params.SLMultiplier, fraction, e.params.Leverage)
	if size <= 0 {
		e.logger.Debug("engine: sized to zero, skipping",
			slog.String("symbol", d.Symbol))
		return
	}

	stop, target := e.lifecycle.InitialStops(side, snap.Close, snap.ATR,
		e.params.SLMultiplier, e.params.TPMultiplier)
	pos := domain.Position{
		Symbol:       d.Symbol,
		Side:         side,
		Size:         size,
		EntryPrice:   snap.Close,
		Leverage:     e.params.Leverage,
		StopLoss:     stop,
		TakeProfit:   target,
		SLMultiplier: e.params.SLMultiplier,
		TPMultiplier: e.params.TPMultiplier,
		HighestPrice: snap.Close,
		LowestPrice:  snap.Close,
		EntryScore:   sideStrength(side, d.Score),
		OpenedAt:     time.Now().UTC(),
	}

	if !e.store.TryOpen(pos) {
		e.logger.Debug("engine: open reservation refused",
			slog.String("symbol", d.Symbol))
		return
	}

	req := domain.OrderRequest{
		ClientID:  uuid.New().String(),
		Symbol:    d.Symbol,
		Side:      domain.SideForOpen(side),
		Size:      size,
		Price:     snap.Close,
		Leverage:  e.params.Leverage,
		CreatedAt: time.Now().UTC(),
	}
	res, err := e.gateway.Submit(ctx, req)
	metrics.OrdersSubmitted.WithLabelValues(e.params.Mode, string(res.Outcome)).Inc()
	if err != nil || !res.Ok() {
		e.store.Close(d.Symbol)
		e.logger.Error("engine: open order failed, reservation released",
			slog.String("symbol", d.Symbol),
			slog.String("outcome", string(res.Outcome)),
			slog.String("message", res.Message))
		if res.Outcome == domain.OrderOutcomeFatal && e.notifier != nil {
			_ = e.notifier.RetryExhausted(ctx, d.Symbol, res)
		}
		return
	}

	// Re-anchor entry and stops on the actual fill.
	if res.FilledPrice > 0 && res.FilledPrice != pos.EntryPrice {
		stop, target = e.lifecycle.InitialStops(side, res.FilledPrice, snap.ATR,
			e.params.SLMultiplier, e.params.TPMultiplier)
		e.store.Mutate(d.Symbol, func(p *domain.Position) {
			p.EntryPrice = res.FilledPrice
			p.StopLoss = stop
			p.TakeProfit = target
			p.HighestPrice = res.FilledPrice
			p.LowestPrice = res.FilledPrice
		})
		pos.EntryPrice = res.FilledPrice
		pos.StopLoss = stop
		pos.TakeProfit = target
	}

	metrics.OpenPositions.Set(float64(e.store.Count()))
	e.logger.Info("engine: position opened",
		slog.String("symbol", pos.Symbol),
		slog.String("side", string(pos.Side)),
		slog.Float64("size", pos.Size),
		slog.Float64("entry", pos.EntryPrice),
		slog.String("reason", d.Reason))
	e.publish(ctx, domain.EventPositionOpened, pos)
	if e.notifier != nil {
		_ = e.notifier.PositionOpened(ctx, pos)
	}
}

// ClosePosition exits the position for symbol at the given reference
// price. Exactly one of several concurrent callers wins the close
// intent; the rest return immediately. A failed close order releases
// the intent so the next tick retries.
func (e *Engine) ClosePosition(ctx context.Context, symbol string, price float64, reason domain.CloseReason) bool {
	if !e.beginClose(symbol) {
		return false
	}
	defer e.endClose(symbol)

	pos, ok := e.store.Get(symbol)
	if !ok {
		return false
	}

	req := domain.OrderRequest{
		ClientID:   uuid.New().String(),
		Symbol:     symbol,
		Side:       domain.SideForClose(pos.Side),
		Size:       pos.Size,
		Price:      price,
		Leverage:   pos.Leverage,
		ReduceOnly: true,
		CreatedAt:  time.Now().UTC(),
	}
	res, err := e.gateway.Submit(ctx, req)
	metrics.OrdersSubmitted.WithLabelValues(e.params.Mode, string(res.Outcome)).Inc()
	if err != nil || !res.Ok() {
		e.logger.Error("engine: close order failed, will retry",
			slog.String("symbol", symbol),
			slog.String("outcome", string(res.Outcome)),
			slog.String("message", res.Message))
		if res.Outcome == domain.OrderOutcomeFatal && e.notifier != nil {
			_ = e.notifier.RetryExhausted(ctx, symbol, res)
		}
		return false
	}

	exitPrice := price
	if res.FilledPrice > 0 {
		exitPrice = res.FilledPrice
	}

	closed, ok := e.store.Close(symbol)
	if !ok {
		return false
	}
	pnl := closed.UnrealizedPnL(exitPrice) - res.FeeUSD
	now := time.Now().UTC()
	e.store.RecordReturn(symbol, pnl, now)

	trade := domain.ClosedTrade{
		ID:         uuid.New().String(),
		Symbol:     symbol,
		Side:       closed.Side,
		Size:       closed.Size,
		EntryPrice: closed.EntryPrice,
		ExitPrice:  exitPrice,
		PnL:        pnl,
		Reason:     reason,
		OpenedAt:   closed.OpenedAt,
		ClosedAt:   now,
	}
	e.perf.RecordTrade(trade)

	metrics.OpenPositions.Set(float64(e.store.Count()))
	metrics.Closes.WithLabelValues(string(reason), string(closed.Side)).Inc()
	metrics.RealizedPnL.Add(pnl)

	if e.journal != nil {
		if err := e.journal.InsertClosedTrade(ctx, trade); err != nil {
			e.logger.Warn("engine: journal write failed",
				slog.String("symbol", symbol), slog.String("error", err.Error()))
		}
	}

	e.logger.Info("engine: position closed",
		slog.String("symbol", symbol),
		slog.String("reason", string(reason)),
		slog.Float64("exit", exitPrice),
		slog.Float64("pnl", pnl))
	e.publish(ctx, domain.EventPositionClosed, trade)
	if e.notifier != nil {
		_ = e.notifier.PositionClosed(ctx, trade)
	}
	return true
}

// armBreakeven takes the one-time half close and pins the stop to entry.
func (e *Engine) armBreakeven(ctx context.Context, symbol string, price float64) {
	if !e.beginClose(symbol) {
		return
	}
	defer e.endClose(symbol)

	pos, ok := e.store.Get(symbol)
	if !ok || pos.BreakevenArmed {
		return
	}

	req := domain.OrderRequest{
		ClientID:   uuid.New().String(),
		Symbol:     symbol,
		Side:       domain.SideForClose(pos.Side),
		Size:       pos.Size / 2,
		Price:      price,
		Leverage:   pos.Leverage,
		ReduceOnly: true,
		CreatedAt:  time.Now().UTC(),
	}
	res, err := e.gateway.Submit(ctx, req)
	metrics.OrdersSubmitted.WithLabelValues(e.params.Mode, string(res.Outcome)).Inc()
	if err != nil || !res.Ok() {
		e.logger.Warn("engine: breakeven half-close failed, will retry",
			slog.String("symbol", symbol),
			slog.String("outcome", string(res.Outcome)))
		return
	}

	exitPrice := price
	if res.FilledPrice > 0 {
		exitPrice = res.FilledPrice
	}
	half := pos.Size / 2
	pnl := half * (exitPrice - pos.EntryPrice) * pos.Leverage
	if pos.Side == domain.PositionSideShort {
		pnl = -pnl
	}
	pnl -= res.FeeUSD
	e.store.RecordReturn(symbol, pnl, time.Now().UTC())

	var armed domain.Position
	e.store.Mutate(symbol, func(p *domain.Position) {
		lifecycle.ApplyBreakeven(p)
		armed = *p
	})

	metrics.Closes.WithLabelValues(string(domain.CloseReasonBreakeven), string(pos.Side)).Inc()
	metrics.RealizedPnL.Add(pnl)
	e.logger.Info("engine: breakeven armed",
		slog.String("symbol", symbol),
		slog.Float64("half_size", half),
		slog.Float64("pnl", pnl))
	e.publish(ctx, domain.EventBreakevenArmed, armed)
	if e.notifier != nil {
		_ = e.notifier.BreakevenArmed(ctx, armed)
	}
}

// beginClose claims the close intent for symbol. First caller wins.
func (e *Engine) beginClose(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing[symbol] {
		return false
	}
	e.closing[symbol] = true
	return true
}

func (e *Engine) endClose(symbol string) {
	e.mu.Lock()
	delete(e.closing, symbol)
	e.mu.Unlock()
}

// publish emits an event on the bus and appends it to the durable
// stream. Best effort.
func (e *Engine) publish(ctx context.Context, event string, payload any) {
	if e.bus == nil {
		return
	}
	data, err := json.Marshal(map[string]any{
		"event": event,
		"data":  payload,
		"ts":    time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, event, data); err != nil {
		e.logger.Warn("engine: event publish failed",
			slog.String("event", event), slog.String("error", err.Error()))
	}
	if err := e.bus.StreamAppend(ctx, "events:engine", data); err != nil {
		e.logger.Warn("engine: stream append failed",
			slog.String("event", event), slog.String("error", err.Error()))
	}
}
