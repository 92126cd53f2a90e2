package domain

import (
	"context"
	"time"
)

// IndicatorSnapshot is one bar of collaborator-computed market state for
// a symbol. Indicators are computed upstream; this process only consumes
// them.
type IndicatorSnapshot struct {
	Symbol    string    `json:"symbol"`
	Close     float64   `json:"close"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	ATR       float64   `json:"atr"`
	EMA30     float64   `json:"ema30"`
	EMA100    float64   `json:"ema100"`
	Timestamp time.Time `json:"ts"`
}

// MarketData exposes the latest collaborator-computed snapshot and a
// bounded history per symbol.
type MarketData interface {
	Latest(ctx context.Context, symbol string) (IndicatorSnapshot, error)
	History(ctx context.Context, symbol string, n int) ([]IndicatorSnapshot, error)
	Fresh(ctx context.Context, symbol string, maxAge time.Duration) (bool, error)
}

// IndicatorCache stores per-symbol snapshots fed by the market data
// consumer and read by the engine.
type IndicatorCache interface {
	Put(ctx context.Context, snap IndicatorSnapshot) error
	Latest(ctx context.Context, symbol string) (IndicatorSnapshot, error)
	History(ctx context.Context, symbol string, n int) ([]IndicatorSnapshot, error)
}
