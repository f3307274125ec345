package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
	"github.com/winder87-stack/SuperSignal-sub000/internal/executor"
)

// PositionService is the slice of the engine the position endpoints use.
type PositionService interface {
	ListPositions() []domain.Position
	Position(instrument string) (domain.Position, bool)
	ClosePosition(ctx context.Context, instrument string, price float64, reason domain.CloseReason) (executor.CloseResult, error)
}

// PriceSource quotes the reference price for a manual close.
type PriceSource interface {
	Mark(ctx context.Context, instrument string) (float64, error)
}

// PositionHandler serves the open-position endpoints.
type PositionHandler struct {
	positions PositionService
	prices    PriceSource
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionService, prices PriceSource, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		prices:    prices,
		logger:    logger.With(slog.String("handler", "positions")),
	}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns every open position sorted by instrument.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.positions.ListPositions()
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

type closeResponse struct {
	Instrument  string             `json:"instrument"`
	ExitPrice   float64            `json:"exit_price"`
	ClosedSize  float64            `json:"closed_size"`
	RealizedPnL float64            `json:"realized_pnl"`
	Trade       domain.ClosedTrade `json:"trade"`
}

// ClosePosition flattens one position at market with reason manual.
// POST /api/positions/{instrument}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	instrument := strings.ToUpper(r.PathValue("instrument"))
	if instrument == "" {
		writeError(w, http.StatusBadRequest, "instrument required")
		return
	}
	if _, ok := h.positions.Position(instrument); !ok {
		writeError(w, http.StatusNotFound, "no open position for "+instrument)
		return
	}

	price, err := h.prices.Mark(r.Context(), instrument)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "mark price unavailable",
			slog.String("instrument", instrument),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "mark price unavailable")
		return
	}

	res, err := h.positions.ClosePosition(r.Context(), instrument, price, domain.CloseReasonManual)
	switch {
	case errors.Is(err, domain.ErrNoPosition):
		writeError(w, http.StatusNotFound, "no open position for "+instrument)
		return
	case errors.Is(err, domain.ErrRejected):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "manual close failed",
			slog.String("instrument", instrument),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "close failed")
		return
	}

	h.logger.InfoContext(r.Context(), "position closed manually",
		slog.String("instrument", instrument),
		slog.Float64("exit_price", res.ExitPrice),
		slog.Float64("pnl", res.RealizedPnL),
	)
	writeJSON(w, http.StatusOK, closeResponse{
		Instrument:  instrument,
		ExitPrice:   res.ExitPrice,
		ClosedSize:  res.ClosedSize,
		RealizedPnL: res.RealizedPnL,
		Trade:       res.Trade,
	})
}
