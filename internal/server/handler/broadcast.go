package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hivewager/custodian/internal/domain"
	"github.com/hivewager/custodian/internal/relay"
)

// Broadcaster is the relay facade surface this handler needs.
type Broadcaster interface {
	Broadcast(ctx context.Context, req relay.BroadcastRequest) (string, error)
}

// BroadcastHandler serves the user broadcast endpoint.
type BroadcastHandler struct {
	facade Broadcaster
	logger *slog.Logger
}

// NewBroadcastHandler creates a BroadcastHandler.
func NewBroadcastHandler(facade Broadcaster, logger *slog.Logger) *BroadcastHandler {
	return &BroadcastHandler{facade: facade, logger: logHandler(logger, "broadcast")}
}

// broadcastRequest is the wire form of a broadcast call. Operations arrive in
// ledger wire form: [type, body] pairs.
type broadcastRequest struct {
	Username   string            `json:"username"`
	UserID     string            `json:"user_id"`
	AuthMode   string            `json:"auth_mode"`
	Operations []json.RawMessage `json:"operations"`
}

// Broadcast decodes the request, routes it through the relay facade, and
// returns the ledger transaction id.
// POST /api/broadcast
func (h *BroadcastHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Username == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "username and user_id are required")
		return
	}

	mode := domain.AuthMode(req.AuthMode)
	if mode != domain.AuthModeSoft && mode != domain.AuthModeHive {
		writeError(w, http.StatusBadRequest, "auth_mode must be \"soft\" or \"hive\"")
		return
	}

	ops, err := domain.DecodeOperations(req.Operations)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	txID, err := h.facade.Broadcast(r.Context(), relay.BroadcastRequest{
		Username:   req.Username,
		UserID:     req.UserID,
		AuthMode:   mode,
		Operations: ops,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "broadcast rejected",
			slog.String("username", req.Username),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"tx_id": txID})
}
