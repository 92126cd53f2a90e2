package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/driftline/riskbot/internal/domain"
)

// PositionTable is the slice of the position store the handler needs.
type PositionTable interface {
	List() []domain.Position
	Get(symbol string) (domain.Position, bool)
}

// PositionCloser executes a manual close at the current price.
type PositionCloser interface {
	ClosePosition(ctx context.Context, symbol string, price float64, reason domain.CloseReason) bool
}

// Quoter fetches the latest indicator snapshot for a symbol.
type Quoter interface {
	Latest(ctx context.Context, symbol string) (domain.IndicatorSnapshot, error)
}

// PositionHandler serves position endpoints.
type PositionHandler struct {
	table  PositionTable
	closer PositionCloser
	quotes Quoter
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(table PositionTable, closer PositionCloser, quotes Quoter, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		table:  table,
		closer: closer,
		quotes: quotes,
		logger: logger,
	}
}

// positionView is a Position annotated with mark-to-market PnL.
type positionView struct {
	domain.Position
	MarkPrice     float64 `json:"mark_price,omitempty"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

func (h *PositionHandler) view(ctx context.Context, p domain.Position) positionView {
	v := positionView{Position: p}
	snap, err := h.quotes.Latest(ctx, p.Symbol)
	if err == nil {
		v.MarkPrice = snap.Close
		v.UnrealizedPnL = p.UnrealizedPnL(snap.Close)
	}
	return v
}

// ListPositions returns all open positions with mark-to-market PnL.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.table.List()
	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, h.view(r.Context(), p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": views})
}

// GetPosition returns one open position.
// GET /api/positions/{symbol}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	p, ok := h.table.Get(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "no open position for "+symbol)
		return
	}
	writeJSON(w, http.StatusOK, h.view(r.Context(), p))
}

// ClosePosition requests a manual close at the latest price.
// POST /api/positions/{symbol}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	if _, ok := h.table.Get(symbol); !ok {
		writeError(w, http.StatusNotFound, "no open position for "+symbol)
		return
	}

	snap, err := h.quotes.Latest(r.Context(), symbol)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: no price for manual close",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "no current price for "+symbol)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if !h.closer.ClosePosition(ctx, symbol, snap.Close, domain.CloseReasonManual) {
		writeError(w, http.StatusConflict, "close already in progress or order failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"closed": symbol,
		"price":  snap.Close,
	})
}
