package signal

import "github.com/driftline/riskbot/internal/domain"

// TrendDirection is the confirmed trend for a symbol, or none.
type TrendDirection int

const (
	TrendNone TrendDirection = iota
	TrendUp
	TrendDown
)

// TrendParams holds the confirmation knobs.
type TrendParams struct {
	Lookback          int
	PullbackTolerance float64 // relative distance from the fast EMA that counts as a pullback
}

// ConfirmTrend checks the three-stage trend pattern over collaborator
// bars (oldest first): the fast EMA on the right side of the slow EMA,
// a pullback into the fast EMA somewhere inside the lookback, and the
// latest close re-consolidated beyond the fast EMA. All three must hold.
func ConfirmTrend(history []domain.IndicatorSnapshot, p TrendParams) TrendDirection {
	if len(history) < 3 || p.Lookback < 3 {
		return TrendNone
	}

	window := history
	if len(window) > p.Lookback {
		window = window[len(window)-p.Lookback:]
	}
	latest := window[len(window)-1]
	if latest.EMA30 <= 0 || latest.EMA100 <= 0 {
		return TrendNone
	}

	switch {
	case latest.EMA30 > latest.EMA100:
		if latest.Close <= latest.EMA30 {
			return TrendNone
		}
		if pulledBack(window[:len(window)-1], p.PullbackTolerance, true) {
			return TrendUp
		}
	case latest.EMA30 < latest.EMA100:
		if latest.Close >= latest.EMA30 {
			return TrendNone
		}
		if pulledBack(window[:len(window)-1], p.PullbackTolerance, false) {
			return TrendDown
		}
	}
	return TrendNone
}

// pulledBack reports whether any bar touched the fast EMA from the
// trend side. In an up-trend a pullback is a close at or below the fast
// EMA, or within tolerance above it.
func pulledBack(bars []domain.IndicatorSnapshot, tol float64, uptrend bool) bool {
	for _, b := range bars {
		if b.EMA30 <= 0 {
			continue
		}
		rel := (b.Close - b.EMA30) / b.EMA30
		if uptrend {
			if b.Close <= b.EMA30 || rel <= tol {
				return true
			}
		} else {
			if b.Close >= b.EMA30 || -rel <= tol {
				return true
			}
		}
	}
	return false
}
