package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/riskbot/internal/domain"
)

func testParams() Params {
	return Params{
		BaseRisk:        0.01,
		MinRisk:         0.002,
		MaxRisk:         0.03,
		VolThreshold:    0.02,
		VolScalarMin:    0.5,
		VolScalarMax:    1.5,
		AnnualizeFactor: 365,
	}
}

func returnsOf(pnls ...float64) []domain.ReturnRecord {
	out := make([]domain.ReturnRecord, len(pnls))
	ts := time.Now()
	for i, p := range pnls {
		out[i] = domain.ReturnRecord{Timestamp: ts, PnL: p}
	}
	return out
}

func TestFractionHalvesOnNegativeSharpe(t *testing.T) {
	s := NewSizer(testParams())

	losing := returnsOf(-5, -3, -8, -2, -6)
	// Volatility equal to the threshold keeps the vol scalar at 1.
	got := s.Fraction(losing, 0.02)
	assert.InDelta(t, 0.005, got, 1e-9)
}

func TestFractionBoostsOnStrongSharpe(t *testing.T) {
	s := NewSizer(testParams())

	winning := returnsOf(5, 6, 5.5, 7, 6.2)
	got := s.Fraction(winning, 0.02)
	assert.InDelta(t, 0.012, got, 1e-9)
}

func TestFractionVolScalarClamped(t *testing.T) {
	s := NewSizer(testParams())
	flat := returnsOf(1, -1, 1, -1)

	// Volatility at 10x the threshold clamps the scalar to 1.5.
	high := s.Fraction(flat, 0.2)
	// Volatility at a tenth of the threshold clamps the scalar to 0.5.
	low := s.Fraction(flat, 0.002)

	assert.InDelta(t, 0.015, high, 1e-9)
	assert.InDelta(t, 0.005, low, 1e-9)
}

func TestFractionFinalClamp(t *testing.T) {
	p := testParams()
	p.BaseRisk = 0.04
	s := NewSizer(p)

	got := s.Fraction(nil, 0)
	assert.Equal(t, p.MaxRisk, got)

	p.BaseRisk = 0.0001
	got = NewSizer(p).Fraction(nil, 0)
	assert.Equal(t, p.MinRisk, got)
}

func TestFractionFewReturnsSkipsSharpe(t *testing.T) {
	s := NewSizer(testParams())

	got := s.Fraction(returnsOf(-100), 0.02)
	assert.InDelta(t, 0.01, got, 1e-9)
}

func TestPositionSizeFormula(t *testing.T) {
	// equity 10000, fraction 1%, atr 2, slMult 2, leverage 3:
	// stop distance 4, size = 100 / (4*3) = 8.333.
	got := PositionSize(10_000, 100, 2, 2, 0.01, 3)
	assert.InDelta(t, 8.3333, got, 1e-3)
}

func TestPositionSizeCap(t *testing.T) {
	// A tight stop would size huge; the cap is equity*leverage/price*0.1.
	got := PositionSize(10_000, 100, 0.01, 1, 0.03, 3)
	want := 10_000.0 * 3 / 100 * 0.1
	assert.InDelta(t, want, got, 1e-9)
}

func TestPositionSizeDegenerateInputs(t *testing.T) {
	assert.Zero(t, PositionSize(0, 100, 2, 2, 0.01, 3))
	assert.Zero(t, PositionSize(10_000, 0, 2, 2, 0.01, 3))
	assert.Zero(t, PositionSize(10_000, 100, 0, 2, 0.01, 3))
	assert.Zero(t, PositionSize(10_000, 100, -1, 2, 0.01, 3))
	assert.Zero(t, PositionSize(10_000, 100, 2, 2, 0, 3))
}

func TestSharpe(t *testing.T) {
	_, ok := Sharpe(returnsOf(1), 365)
	assert.False(t, ok)

	_, ok = Sharpe(returnsOf(2, 2, 2), 365)
	assert.False(t, ok, "zero variance has no sharpe")

	sharpe, ok := Sharpe(returnsOf(1, 2, 3), 365)
	require.True(t, ok)
	assert.Positive(t, sharpe)

	sharpe, ok = Sharpe(returnsOf(-1, -2, -3), 365)
	require.True(t, ok)
	assert.Negative(t, sharpe)
}

func TestVolatility(t *testing.T) {
	assert.Zero(t, Volatility(returnsOf(5)))
	assert.InDelta(t, 1.0, Volatility(returnsOf(1, 2, 3)), 1e-9)
}
