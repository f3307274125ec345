package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
)

// TradeHandler serves closed-trade history.
type TradeHandler struct {
	trades domain.TradeStore
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades domain.TradeStore, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger.With(slog.String("handler", "trades"))}
}

type listTradesResponse struct {
	Trades []domain.ClosedTrade `json:"trades"`
}

// ListTrades returns closed trades, newest first.
// GET /api/trades?instrument=BTC&limit=50&offset=0&since=...&until=...
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "since/until must be RFC 3339")
		return
	}
	instrument := strings.ToUpper(r.URL.Query().Get("instrument"))

	trades, err := h.trades.List(r.Context(), instrument, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed",
			slog.String("instrument", instrument),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.ClosedTrade{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}
