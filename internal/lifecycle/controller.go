// Package lifecycle evaluates open positions against fresh market data
// and decides stop, target, trailing, and breakeven transitions. The
// controller is pure: it inspects a position snapshot and returns the
// actions to take; the engine applies them under the store lock and
// submits orders outside it.
package lifecycle

import (
	"math"

	"github.com/driftline/riskbot/internal/domain"
)

// Params holds the lifecycle knobs, copied from config at wiring time.
type Params struct {
	SLMultiplier     float64
	TPMultiplier     float64
	TrailMultiplier  float64
	BreakevenTrigger float64 // in ATR multiples of favorable movement
	BreakevenPercent float64 // fraction of entry price; 0 disables the leg
}

// Controller evaluates position exits and breakeven transitions.
type Controller struct {
	params Params
}

// NewController creates a Controller with the given parameters.
func NewController(params Params) *Controller {
	return &Controller{params: params}
}

// InitialStops returns the stop-loss and take-profit prices for a fresh
// position at entry with the given ATR.
func (c *Controller) InitialStops(side domain.PositionSide, entry, atr, slMult, tpMult float64) (stop, target float64) {
	if slMult <= 0 {
		slMult = c.params.SLMultiplier
	}
	if tpMult <= 0 {
		tpMult = c.params.TPMultiplier
	}
	if side == domain.PositionSideShort {
		return entry + atr*slMult, entry - atr*tpMult
	}
	return entry - atr*slMult, entry + atr*tpMult
}

// Evaluation is the outcome of one tick for one position. At most one of
// Close and ArmBreakeven is set; extremes and levels may update
// alongside either.
type Evaluation struct {
	Highest float64
	Lowest  float64

	// Entry-anchored stop and target recomputed from the current ATR.
	// The engine commits them under the store lock via ApplyLevels.
	StopLoss   float64
	TakeProfit float64

	Close  bool
	Reason domain.CloseReason

	// ArmBreakeven requests the one-time half close with the stop
	// pinned to entry. Never set on an already-armed position.
	ArmBreakeven bool
}

// Evaluate inspects a position snapshot against the current price and
// ATR. Stop and target are recomputed from the current ATR first; an
// armed position keeps its pinned stop. Exit checks run in fixed order:
// stop-loss, take-profit, trailing retrace. The first that fires wins
// the tick; breakeven arming is only considered when no exit fired.
func (c *Controller) Evaluate(pos domain.Position, price, atr float64) Evaluation {
	ev := Evaluation{
		Highest: math.Max(pos.HighestPrice, price),
		Lowest:  pos.LowestPrice,
	}
	if ev.Lowest == 0 || price < ev.Lowest {
		ev.Lowest = price
	}
	ev.StopLoss, ev.TakeProfit = c.currentLevels(pos, atr)

	if c.stopHit(pos.Side, ev.StopLoss, price) {
		ev.Close = true
		ev.Reason = domain.CloseReasonStopLoss
		return ev
	}
	if c.targetHit(pos.Side, ev.TakeProfit, price) {
		ev.Close = true
		ev.Reason = domain.CloseReasonTakeProfit
		return ev
	}
	if atr > 0 && c.trailingHit(pos, price, atr, ev.Highest, ev.Lowest) {
		ev.Close = true
		ev.Reason = domain.CloseReasonTrailingStop
		return ev
	}
	if !pos.BreakevenArmed && c.breakevenReached(pos, price, atr) {
		ev.ArmBreakeven = true
	}
	return ev
}

// currentLevels recomputes the entry-anchored stop and target from the
// current ATR. The stop only tracks ATR while the position is unarmed;
// an armed position keeps the entry-pinned stop. The target tracks ATR
// either way. With no ATR both levels stay as stored.
func (c *Controller) currentLevels(pos domain.Position, atr float64) (stop, target float64) {
	stop, target = pos.StopLoss, pos.TakeProfit
	if atr <= 0 {
		return stop, target
	}
	slMult, tpMult := pos.SLMultiplier, pos.TPMultiplier
	if slMult <= 0 {
		slMult = c.params.SLMultiplier
	}
	if tpMult <= 0 {
		tpMult = c.params.TPMultiplier
	}
	if pos.Side == domain.PositionSideShort {
		target = pos.EntryPrice - atr*tpMult
		if !pos.BreakevenArmed {
			stop = pos.EntryPrice + atr*slMult
		}
		return stop, target
	}
	target = pos.EntryPrice + atr*tpMult
	if !pos.BreakevenArmed {
		stop = pos.EntryPrice - atr*slMult
	}
	return stop, target
}

// stopHit reports whether price crossed the stop in the losing
// direction. An armed breakeven position has its stop at entry, so this
// also implements the entry-pinned exit.
func (c *Controller) stopHit(side domain.PositionSide, stop, price float64) bool {
	if stop <= 0 {
		return false
	}
	if side == domain.PositionSideShort {
		return price >= stop
	}
	return price <= stop
}

func (c *Controller) targetHit(side domain.PositionSide, target, price float64) bool {
	if target <= 0 {
		return false
	}
	if side == domain.PositionSideShort {
		return price <= target
	}
	return price >= target
}

// trailingHit fires when price retraces trailMult*atr from the running
// extreme in the adverse direction.
func (c *Controller) trailingHit(pos domain.Position, price, atr, highest, lowest float64) bool {
	retrace := c.params.TrailMultiplier * atr
	if retrace <= 0 {
		return false
	}
	if pos.Side == domain.PositionSideShort {
		return lowest > 0 && price-lowest >= retrace
	}
	return highest > 0 && highest-price >= retrace
}

// breakevenReached reports whether favorable movement reached the
// ATR-multiple trigger or the percentage-of-entry trigger, whichever
// fires first.
func (c *Controller) breakevenReached(pos domain.Position, price, atr float64) bool {
	move := price - pos.EntryPrice
	if pos.Side == domain.PositionSideShort {
		move = pos.EntryPrice - price
	}
	if atr > 0 && c.params.BreakevenTrigger > 0 && move >= c.params.BreakevenTrigger*atr {
		return true
	}
	return c.params.BreakevenPercent > 0 && move >= pos.EntryPrice*c.params.BreakevenPercent
}

// ApplyBreakeven mutates the live position for an armed breakeven: half
// the size, stop pinned to entry, armed flag set. Called by the engine
// inside Store.Mutate after the half-close order succeeded.
func ApplyBreakeven(p *domain.Position) {
	p.Size /= 2
	p.StopLoss = p.EntryPrice
	p.BreakevenArmed = true
}

// ApplyLevels commits recomputed stop and target to the live position.
// An armed position keeps its pinned stop regardless of the requested
// value.
func ApplyLevels(p *domain.Position, stop, target float64) {
	if stop > 0 && !p.BreakevenArmed {
		p.StopLoss = stop
	}
	if target > 0 {
		p.TakeProfit = target
	}
}

// ApplyExtremes mutates the live position's running extremes. Extremes
// only move outward.
func ApplyExtremes(p *domain.Position, highest, lowest float64) {
	if highest > p.HighestPrice {
		p.HighestPrice = highest
	}
	if p.LowestPrice == 0 || (lowest > 0 && lowest < p.LowestPrice) {
		p.LowestPrice = lowest
	}
}
