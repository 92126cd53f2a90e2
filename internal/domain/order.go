package domain

import (
	"context"
	"time"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// SideForOpen maps a position direction to the order side that opens it.
func SideForOpen(side PositionSide) OrderSide {
	if side == PositionSideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// SideForClose maps a position direction to the order side that closes it.
func SideForClose(side PositionSide) OrderSide {
	if side == PositionSideShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

// OrderRequest describes a single order submission to the venue.
type OrderRequest struct {
	ClientID   string // UUID, stable across retries of the same intent
	Symbol     string
	Side       OrderSide
	Size       float64
	Price      float64 // reference price; venue executes at market
	Leverage   float64
	ReduceOnly bool // true for closes and partial closes
	CreatedAt  time.Time
}

// OrderOutcome is the explicit result variant of an order submission.
// Callers branch on the variant instead of inspecting error strings.
type OrderOutcome string

const (
	OrderOutcomeOk        OrderOutcome = "ok"
	OrderOutcomeNotFound  OrderOutcome = "not_found"
	OrderOutcomeRejected  OrderOutcome = "rejected"
	OrderOutcomeTransient OrderOutcome = "transient_error"
	OrderOutcomeFatal     OrderOutcome = "fatal_error"
)

// OrderResult wraps the venue response after order submission.
type OrderResult struct {
	Outcome     OrderOutcome
	OrderID     string
	FilledPrice float64
	FilledSize  float64
	FeeUSD      float64
	Message     string
	Attempts    int
}

// Ok reports whether the order was accepted and filled.
func (r OrderResult) Ok() bool {
	return r.Outcome == OrderOutcomeOk
}

// Retryable reports whether a fresh submission of the same request may
// succeed.
func (r OrderResult) Retryable() bool {
	return r.Outcome == OrderOutcomeTransient
}

// OrderGateway submits orders to the trading venue. Implementations must
// be safe for concurrent use; submissions happen outside the position
// lock.
type OrderGateway interface {
	Submit(ctx context.Context, req OrderRequest) (OrderResult, error)
}
