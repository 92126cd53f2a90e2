// Package marketdata exposes collaborator-computed indicator snapshots
// to the engine. The cache is fed by the websocket consumer in
// internal/feed; this package only reads.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/driftline/riskbot/internal/domain"
)

// Source implements domain.MarketData on top of the indicator cache.
type Source struct {
	cache domain.IndicatorCache
}

// NewSource creates a Source reading from cache.
func NewSource(cache domain.IndicatorCache) *Source {
	return &Source{cache: cache}
}

// Latest returns the most recent snapshot for symbol.
func (s *Source) Latest(ctx context.Context, symbol string) (domain.IndicatorSnapshot, error) {
	snap, err := s.cache.Latest(ctx, symbol)
	if err != nil {
		return domain.IndicatorSnapshot{}, fmt.Errorf("marketdata: latest %s: %w", symbol, err)
	}
	return snap, nil
}

// History returns up to n snapshots for symbol, oldest first.
func (s *Source) History(ctx context.Context, symbol string, n int) ([]domain.IndicatorSnapshot, error) {
	hist, err := s.cache.History(ctx, symbol, n)
	if err != nil {
		return nil, fmt.Errorf("marketdata: history %s: %w", symbol, err)
	}
	return hist, nil
}

// Fresh reports whether the latest snapshot for symbol is younger than
// maxAge. A symbol with no data is not fresh (and not an error).
func (s *Source) Fresh(ctx context.Context, symbol string, maxAge time.Duration) (bool, error) {
	snap, err := s.cache.Latest(ctx, symbol)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("marketdata: fresh %s: %w", symbol, err)
	}
	return time.Since(snap.Timestamp) <= maxAge, nil
}

// Compile-time interface check.
var _ domain.MarketData = (*Source)(nil)
