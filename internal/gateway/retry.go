package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/driftline/riskbot/internal/domain"
)

// Retrying wraps an OrderGateway with bounded retries and exponential
// backoff. Only transient outcomes are retried; rejections and misses
// return immediately. Exhaustion converts the last transient outcome
// into a fatal one.
type Retrying struct {
	inner    domain.OrderGateway
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

// NewRetrying creates a retry decorator. attempts is the total number of
// submissions tried (minimum 1); backoff is the initial delay and
// doubles after each transient failure.
func NewRetrying(inner domain.OrderGateway, attempts int, backoff time.Duration, logger *slog.Logger) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &Retrying{
		inner:    inner,
		attempts: attempts,
		backoff:  backoff,
		logger:   logger.With(slog.String("component", "gateway")),
	}
}

// Submit tries the inner gateway until a terminal outcome, the attempt
// budget runs out, or ctx is cancelled.
func (r *Retrying) Submit(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	var last domain.OrderResult
	delay := r.backoff

	for attempt := 1; attempt <= r.attempts; attempt++ {
		res, err := r.inner.Submit(ctx, req)
		res.Attempts = attempt
		if err != nil {
			return res, err
		}
		if !res.Retryable() {
			return res, nil
		}
		last = res

		r.logger.Warn("gateway: transient order failure",
			slog.String("symbol", req.Symbol),
			slog.String("client_id", req.ClientID),
			slog.Int("attempt", attempt),
			slog.String("message", res.Message))

		if attempt == r.attempts {
			break
		}
		select {
		case <-ctx.Done():
			last.Outcome = domain.OrderOutcomeFatal
			last.Message = "cancelled during backoff: " + last.Message
			return last, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	last.Outcome = domain.OrderOutcomeFatal
	last.Message = "retries exhausted: " + last.Message
	r.logger.Error("gateway: order retries exhausted",
		slog.String("symbol", req.Symbol),
		slog.String("client_id", req.ClientID),
		slog.Int("attempts", r.attempts))
	return last, nil
}

// Compile-time interface check.
var _ domain.OrderGateway = (*Retrying)(nil)
