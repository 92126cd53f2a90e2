package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeJournal persists closed trades and daily rollups. Journal writes
// are best-effort: a journal failure never blocks a position close.
type TradeJournal interface {
	InsertClosedTrade(ctx context.Context, t ClosedTrade) error
	ListClosedTrades(ctx context.Context, symbol string, opts ListOpts) ([]ClosedTrade, error)
	SumPnL(ctx context.Context, since time.Time) (float64, error)
	InsertDailyStats(ctx context.Context, s DailyStats) error
	ListDailyStats(ctx context.Context, opts ListOpts) ([]DailyStats, error)
}
