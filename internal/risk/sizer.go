// Package risk computes adaptive risk fractions and position sizes. All
// functions are pure; the engine feeds them current equity, returns, and
// volatility.
package risk

import (
	"math"

	"github.com/driftline/riskbot/internal/domain"
)

// Params holds the sizing knobs, copied from config at wiring time.
type Params struct {
	BaseRisk        float64
	MinRisk         float64
	MaxRisk         float64
	VolThreshold    float64
	VolScalarMin    float64
	VolScalarMax    float64
	AnnualizeFactor float64
}

// Sizer derives per-trade risk from recent performance and volatility.
type Sizer struct {
	params Params
}

// NewSizer creates a Sizer with the given parameters.
func NewSizer(params Params) *Sizer {
	if params.AnnualizeFactor <= 0 {
		params.AnnualizeFactor = 365
	}
	return &Sizer{params: params}
}

// Fraction returns the adaptive risk fraction for the next trade.
//
// The base risk is scaled by the rolling Sharpe of recent returns
// (halved when negative, raised 20% when above 1) and by current
// volatility relative to the reference threshold, then clamped to the
// configured bounds.
func (s *Sizer) Fraction(returns []domain.ReturnRecord, volatility float64) float64 {
	p := s.params
	frac := p.BaseRisk

	if sharpe, ok := Sharpe(returns, p.AnnualizeFactor); ok {
		switch {
		case sharpe < 0:
			frac *= 0.5
		case sharpe > 1:
			frac *= 1.2
		}
	}

	if volatility > 0 && p.VolThreshold > 0 {
		scalar := clamp(volatility/p.VolThreshold, p.VolScalarMin, p.VolScalarMax)
		frac *= scalar
	}

	return clamp(frac, p.MinRisk, p.MaxRisk)
}

// PositionSize converts a risk fraction into a position size.
//
// The stop distance is atr*slMult; the size risks equity*fraction over
// that distance at the given leverage. The result is capped at 10% of
// the leveraged buying power in units of the asset. Degenerate inputs
// (non-positive equity, price, or atr) size to zero.
func PositionSize(equity, price, atr, slMult, fraction, leverage float64) float64 {
	if equity <= 0 || price <= 0 || atr <= 0 || slMult <= 0 || fraction <= 0 || leverage <= 0 {
		return 0
	}

	stopDistance := atr * slMult
	size := (equity * fraction) / (stopDistance * leverage)

	maxSize := equity * leverage / price * 0.1
	if size > maxSize {
		size = maxSize
	}
	return size
}

// Sharpe computes the annualized Sharpe ratio over the return records.
// The second result is false when fewer than two observations exist or
// the returns have zero variance.
func Sharpe(returns []domain.ReturnRecord, annualizeFactor float64) (float64, bool) {
	if len(returns) < 2 {
		return 0, false
	}

	var sum float64
	for _, r := range returns {
		sum += r.PnL
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r.PnL - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0, false
	}

	return mean / math.Sqrt(variance) * math.Sqrt(annualizeFactor), true
}

// Volatility is the sample standard deviation of the return records, or
// zero when fewer than two exist.
func Volatility(returns []domain.ReturnRecord) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r.PnL
	}
	mean := sum / float64(len(returns))
	var variance float64
	for _, r := range returns {
		d := r.PnL - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
