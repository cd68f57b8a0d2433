package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hivewager/custodian/internal/domain"
)

// Settler is the settlement engine surface this handler needs.
type Settler interface {
	ExecuteSettlement(ctx context.Context, predictionID, winningOutcomeID, actor string) (domain.SettlementResult, error)
	ExecuteVoidRefund(ctx context.Context, predictionID, reason, actor string) (domain.SettlementResult, error)
}

// SettlementHandler serves the admin settlement endpoints.
type SettlementHandler struct {
	engine Settler
	logger *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(engine Settler, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{engine: engine, logger: logHandler(logger, "settlement")}
}

type settleRequest struct {
	WinningOutcomeID string `json:"winning_outcome_id"`
	Actor            string `json:"actor"`
}

// Settle declares the winning outcome and runs settlement to completion.
// POST /api/predictions/{id}/settle
func (h *SettlementHandler) Settle(w http.ResponseWriter, r *http.Request) {
	predictionID := pathParam(r, "id")

	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.WinningOutcomeID == "" {
		writeError(w, http.StatusBadRequest, "winning_outcome_id is required")
		return
	}
	if req.Actor == "" {
		req.Actor = "admin"
	}

	result, err := h.engine.ExecuteSettlement(r.Context(), predictionID, req.WinningOutcomeID, req.Actor)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "settlement failed",
			slog.String("prediction_id", predictionID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type voidRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

// Void cancels the prediction and refunds every stake in full.
// POST /api/predictions/{id}/void
func (h *SettlementHandler) Void(w http.ResponseWriter, r *http.Request) {
	predictionID := pathParam(r, "id")

	var req voidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Actor == "" {
		req.Actor = "admin"
	}

	result, err := h.engine.ExecuteVoidRefund(r.Context(), predictionID, req.Reason, req.Actor)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "void refund failed",
			slog.String("prediction_id", predictionID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
