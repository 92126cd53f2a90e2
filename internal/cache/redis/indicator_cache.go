package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/driftline/riskbot/internal/domain"
)

// IndicatorCache implements domain.IndicatorCache using Redis. The
// latest snapshot per symbol lives at "ind:latest:{symbol}"; the bounded
// history is a list at "ind:hist:{symbol}" with the newest entry at the
// head, trimmed to historyDepth.
type IndicatorCache struct {
	rdb          *redis.Client
	historyDepth int
}

// NewIndicatorCache creates an IndicatorCache backed by the given Client.
func NewIndicatorCache(c *Client, historyDepth int) *IndicatorCache {
	if historyDepth < 2 {
		historyDepth = 2
	}
	return &IndicatorCache{rdb: c.Underlying(), historyDepth: historyDepth}
}

func latestKey(symbol string) string { return "ind:latest:" + symbol }
func histKey(symbol string) string   { return "ind:hist:" + symbol }

// Put stores snap as the latest for its symbol and pushes it onto the
// history list in one pipeline.
func (ic *IndicatorCache) Put(ctx context.Context, snap domain.IndicatorSnapshot) error {
	if snap.Symbol == "" {
		return fmt.Errorf("redis: put indicator: %w: empty symbol", domain.ErrInvalidOrder)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal indicator %s: %w", snap.Symbol, err)
	}

	pipe := ic.rdb.Pipeline()
	pipe.Set(ctx, latestKey(snap.Symbol), data, 0)
	pipe.LPush(ctx, histKey(snap.Symbol), data)
	pipe.LTrim(ctx, histKey(snap.Symbol), 0, int64(ic.historyDepth-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put indicator %s: %w", snap.Symbol, err)
	}
	return nil
}

// Latest retrieves the most recent snapshot for symbol. It returns
// domain.ErrNotFound when the symbol has never been fed.
func (ic *IndicatorCache) Latest(ctx context.Context, symbol string) (domain.IndicatorSnapshot, error) {
	data, err := ic.rdb.Get(ctx, latestKey(symbol)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.IndicatorSnapshot{}, domain.ErrNotFound
		}
		return domain.IndicatorSnapshot{}, fmt.Errorf("redis: get indicator %s: %w", symbol, err)
	}

	var snap domain.IndicatorSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.IndicatorSnapshot{}, fmt.Errorf("redis: decode indicator %s: %w", symbol, err)
	}
	return snap, nil
}

// History returns up to n snapshots for symbol, oldest first. Entries
// that fail to decode are skipped.
func (ic *IndicatorCache) History(ctx context.Context, symbol string, n int) ([]domain.IndicatorSnapshot, error) {
	if n <= 0 || n > ic.historyDepth {
		n = ic.historyDepth
	}

	raw, err := ic.rdb.LRange(ctx, histKey(symbol), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: indicator history %s: %w", symbol, err)
	}

	// The list head is newest; reverse into chronological order.
	out := make([]domain.IndicatorSnapshot, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var snap domain.IndicatorSnapshot
		if err := json.Unmarshal([]byte(raw[i]), &snap); err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.IndicatorCache = (*IndicatorCache)(nil)
