package domain

import (
	"context"
	"time"
)

// PolicyAction is the action recommended by the RL policy collaborator.
type PolicyAction string

const (
	PolicyActionLong  PolicyAction = "long"
	PolicyActionShort PolicyAction = "short"
	PolicyActionClose PolicyAction = "close"
	PolicyActionHold  PolicyAction = "hold"
)

// PolicyAdvice is the RL policy output for one symbol. Confidence is in
// [0, 1]; advice below the arbiter's override threshold falls through to
// the weighted vote.
type PolicyAdvice struct {
	Action     PolicyAction
	Confidence float64
	IssuedAt   time.Time
}

// DecisionAction is the arbiter's verdict for a symbol on one tick.
type DecisionAction string

const (
	DecisionOpenLong  DecisionAction = "open_long"
	DecisionOpenShort DecisionAction = "open_short"
	DecisionClose     DecisionAction = "close"
	DecisionHold      DecisionAction = "hold"
)

// Decision carries the arbiter verdict plus the inputs that produced it,
// for logging and event publication.
type Decision struct {
	Symbol     string
	Action     DecisionAction
	Score      float64 // signed model prediction
	BuyScore   float64
	SellScore  float64
	Overridden bool // true when the RL policy bypassed the vote
	Reason     string
}

// Predictor is the model-serving collaborator: directional predictions
// per symbol and a retrain hook.
type Predictor interface {
	Predict(ctx context.Context, symbol string, history []IndicatorSnapshot) (float64, error)
	Advise(ctx context.Context, symbol string) (PolicyAdvice, error)
	RequestRetrain(ctx context.Context, symbol string, sampleSize int) error
}
