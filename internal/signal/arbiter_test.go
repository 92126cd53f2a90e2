package signal

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/driftline/riskbot/internal/domain"
)

func testArbiter(adapter ThresholdAdapter) *Arbiter {
	return NewArbiter(Params{
		ModelWeight:     0.6,
		TrendWeight:     0.4,
		LongThreshold:   0.55,
		ShortThreshold:  0.60,
		OverrideMinConf: 0.8,
		RLOverride:      true,
	}, adapter, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func noAdvice() domain.PolicyAdvice {
	return domain.PolicyAdvice{Action: domain.PolicyActionHold, Confidence: 0}
}

func TestRLOverrideTakesPrecedence(t *testing.T) {
	a := testArbiter(nil)

	// Prediction and trend both say long, but a confident short policy
	// wins outright.
	advice := domain.PolicyAdvice{Action: domain.PolicyActionShort, Confidence: 0.9}
	d := a.Decide("BTCUSD", 0.9, advice, TrendUp)

	assert.Equal(t, domain.DecisionOpenShort, d.Action)
	assert.True(t, d.Overridden)
}

func TestRLCloseAdviceOverrides(t *testing.T) {
	a := testArbiter(nil)

	advice := domain.PolicyAdvice{Action: domain.PolicyActionClose, Confidence: 0.9}
	d := a.Decide("BTCUSD", 0.9, advice, TrendUp)

	assert.Equal(t, domain.DecisionClose, d.Action)
	assert.True(t, d.Overridden)
}

func TestRLOverrideRequiresConfidence(t *testing.T) {
	a := testArbiter(nil)

	advice := domain.PolicyAdvice{Action: domain.PolicyActionShort, Confidence: 0.5}
	d := a.Decide("BTCUSD", 0.9, advice, TrendUp)

	assert.Equal(t, domain.DecisionOpenLong, d.Action)
	assert.False(t, d.Overridden)
}

func TestConfidentHoldFallsThroughToVote(t *testing.T) {
	a := testArbiter(nil)

	advice := domain.PolicyAdvice{Action: domain.PolicyActionHold, Confidence: 0.95}
	d := a.Decide("BTCUSD", 0.9, advice, TrendUp)

	assert.Equal(t, domain.DecisionOpenLong, d.Action)
	assert.False(t, d.Overridden)
}

func TestModelAloneCarriesVote(t *testing.T) {
	a := testArbiter(nil)

	// Model weight 0.6 >= half of 1.0 even without trend agreement.
	d := a.Decide("BTCUSD", 0.7, noAdvice(), TrendNone)
	assert.Equal(t, domain.DecisionOpenLong, d.Action)
}

func TestTrendAloneInsufficient(t *testing.T) {
	a := testArbiter(nil)

	// Trend weight 0.4 < half of 1.0; a neutral prediction holds.
	d := a.Decide("BTCUSD", 0.5, noAdvice(), TrendUp)
	assert.Equal(t, domain.DecisionHold, d.Action)
	assert.Equal(t, 0.4, d.BuyScore)
}

func TestShortRequiresMoreConviction(t *testing.T) {
	a := testArbiter(nil)

	// Short threshold 0.60 means the prediction must be <= 0.40.
	d := a.Decide("BTCUSD", 0.42, noAdvice(), TrendDown)
	assert.Equal(t, domain.DecisionHold, d.Action)

	d = a.Decide("BTCUSD", 0.38, noAdvice(), TrendDown)
	assert.Equal(t, domain.DecisionOpenShort, d.Action)
}

func TestConflictingVotesHold(t *testing.T) {
	a := NewArbiter(Params{
		ModelWeight:    0.5,
		TrendWeight:    0.5,
		LongThreshold:  0.55,
		ShortThreshold: 0.60,
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Model says long, trend says down; both reach half the weight.
	d := a.Decide("BTCUSD", 0.7, noAdvice(), TrendDown)
	assert.Equal(t, domain.DecisionHold, d.Action)
	assert.Equal(t, "conflicting votes", d.Reason)
}

type fixedThresholds struct{ long, short float64 }

func (f fixedThresholds) Thresholds() (float64, float64) { return f.long, f.short }

func TestAdapterThresholdsApplied(t *testing.T) {
	// A tightened adapter demands more conviction than the static config.
	a := testArbiter(fixedThresholds{long: 0.75, short: 0.75})

	d := a.Decide("BTCUSD", 0.7, noAdvice(), TrendUp)
	assert.Equal(t, domain.DecisionHold, d.Action)

	d = a.Decide("BTCUSD", 0.8, noAdvice(), TrendUp)
	assert.Equal(t, domain.DecisionOpenLong, d.Action)
}
