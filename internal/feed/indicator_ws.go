// Package feed consumes the collaborator's indicator stream over
// websocket and fans snapshots into the indicator cache.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/driftline/riskbot/internal/domain"
)

// IndicatorFeed subscribes to the upstream indicator websocket for the
// configured symbols and writes each snapshot into the cache. It
// reconnects with backoff on disconnect.
type IndicatorFeed struct {
	wsURL   string
	symbols []string
	cache   domain.IndicatorCache
	logger  *slog.Logger
}

// NewIndicatorFeed creates a feed for the given symbols.
func NewIndicatorFeed(wsURL string, symbols []string, cache domain.IndicatorCache, logger *slog.Logger) *IndicatorFeed {
	return &IndicatorFeed{
		wsURL:   wsURL,
		symbols: symbols,
		cache:   cache,
		logger:  logger.With(slog.String("component", "indicator_feed")),
	}
}

// subscribeMsg is the upstream subscription request.
type subscribeMsg struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// Run connects, subscribes, and consumes until ctx is cancelled.
// Reconnects with capped exponential backoff on disconnect.
func (f *IndicatorFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("indicator_feed: no symbols configured, exiting")
		return nil
	}

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("indicator_feed: disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// runConnection holds one websocket session: dial, subscribe, consume.
func (f *IndicatorFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	sub := subscribeMsg{Op: "subscribe", Symbols: f.symbols}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("indicator_feed: subscribed", slog.Int("symbols", len(f.symbols)))

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: %w: %v", domain.ErrWSDisconnect, err)
		}
		f.handleMessage(ctx, data)
	}
}

// handleMessage decodes one snapshot and stores it. Malformed messages
// are logged and dropped; they never kill the connection.
func (f *IndicatorFeed) handleMessage(ctx context.Context, data []byte) {
	var snap domain.IndicatorSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		f.logger.Warn("indicator_feed: malformed message", slog.String("error", err.Error()))
		return
	}
	if snap.Symbol == "" {
		return
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}

	if err := f.cache.Put(ctx, snap); err != nil {
		f.logger.Warn("indicator_feed: cache write failed",
			slog.String("symbol", snap.Symbol),
			slog.String("error", err.Error()))
	}
}
