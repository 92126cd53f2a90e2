// Package signal arbitrates between the model prediction, the RL policy
// advice, and trend confirmation to produce one open/hold decision per
// symbol per tick.
package signal

import (
	"fmt"
	"log/slog"

	"github.com/driftline/riskbot/internal/domain"
)

// Params holds the arbitration weights and static thresholds.
type Params struct {
	ModelWeight     float64
	TrendWeight     float64
	LongThreshold   float64
	ShortThreshold  float64
	OverrideMinConf float64
	RLOverride      bool
}

// ThresholdAdapter supplies the current open thresholds. The thresholds
// are asymmetric: shorts typically demand more conviction than longs.
// The performance monitor provides an adaptive implementation; the
// static fallback returns the configured values.
type ThresholdAdapter interface {
	Thresholds() (long, short float64)
}

type staticThresholds struct {
	long, short float64
}

func (s staticThresholds) Thresholds() (float64, float64) { return s.long, s.short }

// Arbiter combines the prediction, policy advice, and trend state into a
// decision.
type Arbiter struct {
	params  Params
	adapter ThresholdAdapter
	logger  *slog.Logger
}

// NewArbiter creates an Arbiter. A nil adapter falls back to the static
// configured thresholds.
func NewArbiter(params Params, adapter ThresholdAdapter, logger *slog.Logger) *Arbiter {
	if adapter == nil {
		adapter = staticThresholds{long: params.LongThreshold, short: params.ShortThreshold}
	}
	return &Arbiter{
		params:  params,
		adapter: adapter,
		logger:  logger.With(slog.String("component", "arbiter")),
	}
}

// Decide produces the verdict for one symbol on one tick. prediction is
// the model's probability of an upward move in [0, 1].
//
// Precedence: a decisive RL policy override (enabled, confident, not
// hold) bypasses the vote entirely. Otherwise the model and trend cast
// weighted votes and a side must collect at least half the total weight.
func (a *Arbiter) Decide(symbol string, prediction float64, advice domain.PolicyAdvice, trend TrendDirection) domain.Decision {
	d := domain.Decision{Symbol: symbol, Action: domain.DecisionHold, Score: prediction}

	if a.params.RLOverride && advice.Confidence >= a.params.OverrideMinConf {
		switch advice.Action {
		case domain.PolicyActionLong:
			d.Action = domain.DecisionOpenLong
			d.Overridden = true
			d.Reason = fmt.Sprintf("rl override long (conf %.2f)", advice.Confidence)
			return d
		case domain.PolicyActionShort:
			d.Action = domain.DecisionOpenShort
			d.Overridden = true
			d.Reason = fmt.Sprintf("rl override short (conf %.2f)", advice.Confidence)
			return d
		case domain.PolicyActionClose:
			d.Action = domain.DecisionClose
			d.Overridden = true
			d.Reason = fmt.Sprintf("rl override close (conf %.2f)", advice.Confidence)
			return d
		}
		// A confident hold falls through to the vote: the policy only
		// overrides when it wants a position.
	}

	longTh, shortTh := a.adapter.Thresholds()
	total := a.params.ModelWeight + a.params.TrendWeight
	if total <= 0 {
		d.Reason = "no voting weight configured"
		return d
	}

	var buy, sell float64
	if prediction >= longTh {
		buy += a.params.ModelWeight
	} else if prediction <= 1-shortTh {
		sell += a.params.ModelWeight
	}
	switch trend {
	case TrendUp:
		buy += a.params.TrendWeight
	case TrendDown:
		sell += a.params.TrendWeight
	}

	d.BuyScore = buy
	d.SellScore = sell
	half := total / 2

	switch {
	case buy >= half && sell >= half:
		d.Reason = "conflicting votes"
	case buy >= half:
		d.Action = domain.DecisionOpenLong
		d.Reason = fmt.Sprintf("vote %.2f/%.2f, pred %.3f >= %.3f", buy, total, prediction, longTh)
	case sell >= half:
		d.Action = domain.DecisionOpenShort
		d.Reason = fmt.Sprintf("vote %.2f/%.2f, pred %.3f <= %.3f", sell, total, prediction, 1-shortTh)
	default:
		d.Reason = "insufficient vote"
	}

	a.logger.Debug("arbiter: decision",
		slog.String("symbol", symbol),
		slog.String("action", string(d.Action)),
		slog.Float64("prediction", prediction),
		slog.Float64("buy", buy),
		slog.Float64("sell", sell),
		slog.Bool("overridden", d.Overridden))
	return d
}
