package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/driftline/riskbot/internal/domain"
)

// StatsHandler serves trade history and performance rollups from the
// journal.
type StatsHandler struct {
	journal domain.TradeJournal
	logger  *slog.Logger
}

// NewStatsHandler creates a StatsHandler. journal may be nil when the
// process runs without Postgres; endpoints then return 503.
func NewStatsHandler(journal domain.TradeJournal, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{journal: journal, logger: logger}
}

// ListTrades returns closed trades, newest first.
// GET /api/stats/trades?symbol=BTCUSD&limit=50&offset=0
func (h *StatsHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "trade journal not configured")
		return
	}

	trades, err := h.journal.ListClosedTrades(r.Context(), r.URL.Query().Get("symbol"), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.ClosedTrade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// ListDaily returns daily rollups, newest first.
// GET /api/stats/daily?limit=30
func (h *StatsHandler) ListDaily(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "trade journal not configured")
		return
	}

	stats, err := h.journal.ListDailyStats(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list daily stats failed",
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list daily stats")
		return
	}
	if stats == nil {
		stats = []domain.DailyStats{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"daily": stats})
}

// Summary returns total realized PnL over a trailing window.
// GET /api/stats/summary?days=30
func (h *StatsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "trade journal not configured")
		return
	}

	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 365 {
			days = n
		}
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	pnl, err := h.journal.SumPnL(r.Context(), since)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: pnl summary failed",
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to compute summary")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"since":        since.Format(time.RFC3339),
		"days":         days,
		"realized_pnl": pnl,
	})
}
