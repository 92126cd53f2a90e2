package domain

import "time"

// PositionSide indicates the direction of an open position.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// CloseReason records why a position was exited.
type CloseReason string

const (
	CloseReasonStopLoss     CloseReason = "stop_loss"
	CloseReasonTakeProfit   CloseReason = "take_profit"
	CloseReasonTrailingStop CloseReason = "trailing_stop"
	CloseReasonBreakeven    CloseReason = "breakeven_half"
	CloseReasonSignal       CloseReason = "signal_reversal"
	CloseReasonManual       CloseReason = "manual"
)

// Position is one open position, keyed by symbol. At most one position
// per symbol exists at any time.
type Position struct {
	Symbol         string       `json:"symbol"`
	Side           PositionSide `json:"side"`
	Size           float64      `json:"size"`
	EntryPrice     float64      `json:"entry_price"`
	Leverage       float64      `json:"leverage"`
	StopLoss       float64      `json:"stop_loss"`
	TakeProfit     float64      `json:"take_profit"`
	SLMultiplier   float64      `json:"sl_multiplier"`
	TPMultiplier   float64      `json:"tp_multiplier"`
	HighestPrice   float64      `json:"highest_price"`
	LowestPrice    float64      `json:"lowest_price"`
	BreakevenArmed bool         `json:"breakeven_armed"`
	EntryScore     float64      `json:"entry_score,omitempty"`
	OpenedAt       time.Time    `json:"opened_at"`
}

// UnrealizedPnL computes the mark-to-market PnL at the given price.
func (p Position) UnrealizedPnL(price float64) float64 {
	if p.Side == PositionSideShort {
		return (p.EntryPrice - price) * p.Size * p.Leverage
	}
	return (price - p.EntryPrice) * p.Size * p.Leverage
}

// ReturnRecord is one realized-return observation for a symbol.
type ReturnRecord struct {
	Timestamp time.Time `json:"ts"`
	PnL       float64   `json:"pnl"`
}

// ClosedTrade is the journal row written when a position is fully exited.
type ClosedTrade struct {
	ID         string
	Symbol     string
	Side       PositionSide
	Size       float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	Reason     CloseReason
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// DailyStats is the end-of-day performance rollup.
type DailyStats struct {
	Day         time.Time
	Trades      int
	WinRate     float64
	AvgPnL      float64
	TotalPnL    float64
	MaxDrawdown float64
}
