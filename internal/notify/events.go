package notify

import (
	"context"
	"fmt"

	"github.com/driftline/riskbot/internal/domain"
)

// PositionOpened alerts on a new position.
func (n *Notifier) PositionOpened(ctx context.Context, p domain.Position) error {
	msg := fmt.Sprintf("%s %s size %.4f @ %.2f (stop %.2f, target %.2f)",
		p.Symbol, p.Side, p.Size, p.EntryPrice, p.StopLoss, p.TakeProfit)
	return n.Notify(ctx, domain.EventPositionOpened, "Position opened", msg)
}

// PositionClosed alerts on a completed exit.
func (n *Notifier) PositionClosed(ctx context.Context, t domain.ClosedTrade) error {
	msg := fmt.Sprintf("%s %s size %.4f: %.2f -> %.2f, PnL %+.2f (%s)",
		t.Symbol, t.Side, t.Size, t.EntryPrice, t.ExitPrice, t.PnL, t.Reason)
	return n.Notify(ctx, domain.EventPositionClosed, "Position closed", msg)
}

// BreakevenArmed alerts when a position takes its half-close and moves
// the stop to entry.
func (n *Notifier) BreakevenArmed(ctx context.Context, p domain.Position) error {
	msg := fmt.Sprintf("%s %s: half closed, stop moved to entry %.2f",
		p.Symbol, p.Side, p.EntryPrice)
	return n.Notify(ctx, domain.EventBreakevenArmed, "Breakeven armed", msg)
}

// RetryExhausted alerts when an order burned all its attempts.
func (n *Notifier) RetryExhausted(ctx context.Context, symbol string, res domain.OrderResult) error {
	msg := fmt.Sprintf("%s: order failed after %d attempts: %s",
		symbol, res.Attempts, res.Message)
	return n.Notify(ctx, domain.EventRetryExhausted, "Order retries exhausted", msg)
}

// DailyStats sends the end-of-day rollup.
func (n *Notifier) DailyStats(ctx context.Context, s domain.DailyStats) error {
	msg := fmt.Sprintf("%s: %d trades, win rate %.0f%%, total PnL %+.2f, max drawdown %.2f",
		s.Day.Format("2006-01-02"), s.Trades, s.WinRate*100, s.TotalPnL, s.MaxDrawdown)
	return n.Notify(ctx, domain.EventDailyStats, "Daily summary", msg)
}
