package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/riskbot/internal/domain"
)

func testController() *Controller {
	return NewController(Params{
		SLMultiplier:     2,
		TPMultiplier:     3,
		TrailMultiplier:  1.5,
		BreakevenTrigger: 1,
	})
}

func longPosition() domain.Position {
	return domain.Position{
		Symbol:       "BTCUSD",
		Side:         domain.PositionSideLong,
		Size:         1,
		EntryPrice:   100,
		Leverage:     3,
		StopLoss:     96,
		TakeProfit:   106,
		SLMultiplier: 2,
		TPMultiplier: 3,
		HighestPrice: 100,
		LowestPrice:  100,
		OpenedAt:     time.Now(),
	}
}

func shortPosition() domain.Position {
	p := longPosition()
	p.Side = domain.PositionSideShort
	p.StopLoss = 104
	p.TakeProfit = 94
	return p
}

func TestInitialStops(t *testing.T) {
	c := testController()

	stop, target := c.InitialStops(domain.PositionSideLong, 100, 2, 2, 3)
	assert.Equal(t, 96.0, stop)
	assert.Equal(t, 106.0, target)

	stop, target = c.InitialStops(domain.PositionSideShort, 100, 2, 2, 3)
	assert.Equal(t, 104.0, stop)
	assert.Equal(t, 94.0, target)

	// Zero multipliers fall back to the configured defaults.
	stop, target = c.InitialStops(domain.PositionSideLong, 100, 2, 0, 0)
	assert.Equal(t, 96.0, stop)
	assert.Equal(t, 106.0, target)
}

func TestTakeProfitLong(t *testing.T) {
	c := testController()

	ev := c.Evaluate(longPosition(), 107, 2)
	require.True(t, ev.Close)
	assert.Equal(t, domain.CloseReasonTakeProfit, ev.Reason)
}

func TestStopLossLong(t *testing.T) {
	c := testController()

	ev := c.Evaluate(longPosition(), 95.5, 2)
	require.True(t, ev.Close)
	assert.Equal(t, domain.CloseReasonStopLoss, ev.Reason)
}

func TestStopBeatsTargetWhenBothCross(t *testing.T) {
	c := testController()
	pos := longPosition()
	pos.StopLoss = 100.5
	pos.TakeProfit = 99.5 // degenerate on purpose

	// No ATR keeps the stored levels frozen; both cross, stop wins.
	ev := c.Evaluate(pos, 100, 0)
	require.True(t, ev.Close)
	assert.Equal(t, domain.CloseReasonStopLoss, ev.Reason)
}

func TestStopTracksCurrentATRWhileUnarmed(t *testing.T) {
	c := testController()
	pos := longPosition() // stop 96 from entry-time ATR 2

	// ATR collapse to 0.5 tightens the stop to 100 - 2*0.5 = 99.
	ev := c.Evaluate(pos, 98.5, 0.5)
	require.True(t, ev.Close)
	assert.Equal(t, domain.CloseReasonStopLoss, ev.Reason)
	assert.InDelta(t, 99, ev.StopLoss, 1e-9)
}

func TestLevelsRecomputedFromEntryAndATR(t *testing.T) {
	c := testController()

	ev := c.Evaluate(longPosition(), 100.2, 1)
	assert.False(t, ev.Close)
	assert.False(t, ev.ArmBreakeven)
	assert.InDelta(t, 98, ev.StopLoss, 1e-9)
	assert.InDelta(t, 103, ev.TakeProfit, 1e-9)
}

func TestArmedKeepsPinnedStopTargetTracksATR(t *testing.T) {
	c := testController()
	pos := longPosition()
	ApplyBreakeven(&pos)

	ev := c.Evaluate(pos, 101, 4)
	assert.False(t, ev.Close)
	assert.InDelta(t, 100, ev.StopLoss, 1e-9)
	assert.InDelta(t, 112, ev.TakeProfit, 1e-9)
}

func TestTrailingRetraceLong(t *testing.T) {
	c := testController()
	pos := longPosition()
	pos.HighestPrice = 105.5

	// Retrace threshold is 1.5*2 = 3 from the high.
	ev := c.Evaluate(pos, 102.5, 2)
	require.True(t, ev.Close)
	assert.Equal(t, domain.CloseReasonTrailingStop, ev.Reason)

	ev = c.Evaluate(pos, 103, 2)
	assert.False(t, ev.Close)
}

func TestTrailingUsesCurrentTickHigh(t *testing.T) {
	c := testController()
	pos := longPosition()
	pos.HighestPrice = 101

	// A new high on this tick means no retrace regardless of history.
	ev := c.Evaluate(pos, 105, 2)
	assert.False(t, ev.Close)
	assert.Equal(t, 105.0, ev.Highest)
}

func TestTrailingRetraceShort(t *testing.T) {
	c := testController()
	pos := shortPosition()
	pos.LowestPrice = 95

	ev := c.Evaluate(pos, 98, 2)
	require.True(t, ev.Close)
	assert.Equal(t, domain.CloseReasonTrailingStop, ev.Reason)
}

func TestBreakevenArmLong(t *testing.T) {
	c := testController()

	// Trigger is 1*atr = 2 in favor.
	ev := c.Evaluate(longPosition(), 102, 2)
	require.False(t, ev.Close)
	assert.True(t, ev.ArmBreakeven)

	ev = c.Evaluate(longPosition(), 101.9, 2)
	assert.False(t, ev.ArmBreakeven)
}

func TestBreakevenPercentTriggerFiresFirst(t *testing.T) {
	c := NewController(Params{
		SLMultiplier:     2,
		TPMultiplier:     3,
		TrailMultiplier:  1.5,
		BreakevenTrigger: 1,
		BreakevenPercent: 0.005,
	})

	// 0.6 in favor clears the 0.5% leg long before the 1*ATR leg (2).
	ev := c.Evaluate(longPosition(), 100.6, 2)
	require.False(t, ev.Close)
	assert.True(t, ev.ArmBreakeven)

	ev = c.Evaluate(longPosition(), 100.4, 2)
	assert.False(t, ev.ArmBreakeven)

	ev = c.Evaluate(shortPosition(), 99.4, 2)
	assert.True(t, ev.ArmBreakeven)
}

func TestBreakevenNeverRearms(t *testing.T) {
	c := testController()
	pos := longPosition()
	pos.BreakevenArmed = true
	pos.StopLoss = pos.EntryPrice

	ev := c.Evaluate(pos, 103, 2)
	assert.False(t, ev.ArmBreakeven)
}

func TestBreakevenStopPinnedToEntry(t *testing.T) {
	pos := longPosition()
	ApplyBreakeven(&pos)

	assert.Equal(t, 0.5, pos.Size)
	assert.Equal(t, pos.EntryPrice, pos.StopLoss)
	assert.True(t, pos.BreakevenArmed)

	// After arming, a fall back to entry exits at the pinned stop.
	c := testController()
	ev := c.Evaluate(pos, 100, 2)
	require.True(t, ev.Close)
	assert.Equal(t, domain.CloseReasonStopLoss, ev.Reason)
}

func TestBreakevenArmShort(t *testing.T) {
	c := testController()

	ev := c.Evaluate(shortPosition(), 98, 2)
	require.False(t, ev.Close)
	assert.True(t, ev.ArmBreakeven)
}

func TestExitBeatsBreakevenSameTick(t *testing.T) {
	c := testController()
	pos := longPosition()

	// 107 clears both the breakeven trigger and the target; the exit
	// wins and no arm is reported.
	ev := c.Evaluate(pos, 107, 2)
	require.True(t, ev.Close)
	assert.Equal(t, domain.CloseReasonTakeProfit, ev.Reason)
	assert.False(t, ev.ArmBreakeven)
}

func TestApplyLevelsRespectsPinnedStop(t *testing.T) {
	pos := longPosition()
	ApplyLevels(&pos, 98, 103)
	assert.Equal(t, 98.0, pos.StopLoss)
	assert.Equal(t, 103.0, pos.TakeProfit)

	pos.BreakevenArmed = true
	pos.StopLoss = pos.EntryPrice
	ApplyLevels(&pos, 97, 104)
	assert.Equal(t, 100.0, pos.StopLoss)
	assert.Equal(t, 104.0, pos.TakeProfit)
}

func TestApplyExtremesOnlyMovesOutward(t *testing.T) {
	pos := longPosition()
	ApplyExtremes(&pos, 104, 99)
	assert.Equal(t, 104.0, pos.HighestPrice)
	assert.Equal(t, 99.0, pos.LowestPrice)

	ApplyExtremes(&pos, 103, 99.5)
	assert.Equal(t, 104.0, pos.HighestPrice)
	assert.Equal(t, 99.0, pos.LowestPrice)
}
