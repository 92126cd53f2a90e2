package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/driftline/riskbot/internal/domain"
)

func bar(close, ema30, ema100 float64) domain.IndicatorSnapshot {
	return domain.IndicatorSnapshot{
		Symbol:    "BTCUSD",
		Close:     close,
		EMA30:     ema30,
		EMA100:    ema100,
		Timestamp: time.Now(),
	}
}

func trendParams() TrendParams {
	return TrendParams{Lookback: 10, PullbackTolerance: 0.003}
}

func TestConfirmUptrendWithPullback(t *testing.T) {
	history := []domain.IndicatorSnapshot{
		bar(101, 100, 99),       // trending
		bar(100.1, 100.2, 99.2), // pullback below the fast EMA
		bar(102, 100.5, 99.4),   // re-consolidated above
	}
	assert.Equal(t, TrendUp, ConfirmTrend(history, trendParams()))
}

func TestNoConfirmWithoutPullback(t *testing.T) {
	// Price never came back to the fast EMA.
	history := []domain.IndicatorSnapshot{
		bar(105, 100, 99),
		bar(106, 100.3, 99.2),
		bar(107, 100.6, 99.4),
	}
	assert.Equal(t, TrendNone, ConfirmTrend(history, trendParams()))
}

func TestNoConfirmWhenNotReconsolidated(t *testing.T) {
	// Latest close still sits below the fast EMA.
	history := []domain.IndicatorSnapshot{
		bar(101, 100, 99),
		bar(99.8, 100.2, 99.2),
		bar(100.1, 100.5, 99.4),
	}
	assert.Equal(t, TrendNone, ConfirmTrend(history, trendParams()))
}

func TestConfirmDowntrend(t *testing.T) {
	history := []domain.IndicatorSnapshot{
		bar(98, 99, 100),
		bar(99.1, 99, 100),    // pullback up into the fast EMA
		bar(97.5, 98.8, 99.9), // re-consolidated below
	}
	assert.Equal(t, TrendDown, ConfirmTrend(history, trendParams()))
}

func TestNoTrendWhenEMAsFlat(t *testing.T) {
	history := []domain.IndicatorSnapshot{
		bar(100, 100, 100),
		bar(100, 100, 100),
		bar(100, 100, 100),
	}
	assert.Equal(t, TrendNone, ConfirmTrend(history, trendParams()))
}

func TestShortHistoryHolds(t *testing.T) {
	history := []domain.IndicatorSnapshot{bar(101, 100, 99)}
	assert.Equal(t, TrendNone, ConfirmTrend(history, trendParams()))
}

func TestLookbackBoundsPullbackSearch(t *testing.T) {
	// The only pullback is older than the lookback window.
	history := []domain.IndicatorSnapshot{
		bar(99.9, 100, 99), // pullback, will fall outside lookback
	}
	for i := 0; i < 10; i++ {
		history = append(history, bar(105, 100.5, 99.5))
	}
	p := TrendParams{Lookback: 5, PullbackTolerance: 0.003}
	assert.Equal(t, TrendNone, ConfirmTrend(history, p))
}
