package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/driftline/riskbot/internal/domain"
)

// Paper simulates the venue for dry runs: every valid order fills
// immediately at its reference price.
type Paper struct {
	logger *slog.Logger

	mu     sync.Mutex
	filled int
}

// NewPaper creates a paper-trading gateway.
func NewPaper(logger *slog.Logger) *Paper {
	return &Paper{logger: logger.With(slog.String("component", "paper_gateway"))}
}

// Submit fills the order at req.Price with zero fee.
func (p *Paper) Submit(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderResult{Outcome: domain.OrderOutcomeTransient, Message: err.Error()}, nil
	}
	if req.Symbol == "" || req.Size <= 0 || req.Price <= 0 {
		return domain.OrderResult{}, fmt.Errorf("gateway: %w: symbol %q size %v price %v",
			domain.ErrInvalidOrder, req.Symbol, req.Size, req.Price)
	}

	p.mu.Lock()
	p.filled++
	n := p.filled
	p.mu.Unlock()

	p.logger.Info("paper_gateway: simulated fill",
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.Float64("size", req.Size),
		slog.Float64("price", req.Price),
		slog.Int("fill_count", n))

	return domain.OrderResult{
		Outcome:     domain.OrderOutcomeOk,
		OrderID:     uuid.NewString(),
		FilledPrice: req.Price,
		FilledSize:  req.Size,
	}, nil
}

// FillCount returns the number of simulated fills so far.
func (p *Paper) FillCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filled
}

// Compile-time interface check.
var _ domain.OrderGateway = (*Paper)(nil)
