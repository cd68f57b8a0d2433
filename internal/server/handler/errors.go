package handler

import (
	"errors"
	"net/http"

	"github.com/hivewager/custodian/internal/domain"
)

// writeDomainError maps domain errors onto HTTP status codes. Validation
// failures carry their structured detail; everything unrecognized becomes an
// opaque 500 so internals never leak to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"field":  verr.Field,
			"reason": verr.Reason,
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrInvalidOutcome):
		writeError(w, http.StatusBadRequest, "outcome does not belong to this prediction")
	case errors.Is(err, domain.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "not authorized for this account")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	case errors.Is(err, domain.ErrWalletNotConnected):
		writeError(w, http.StatusConflict, "wallet not connected")
	case errors.Is(err, domain.ErrBroadcastFailed):
		writeError(w, http.StatusBadGateway, "ledger broadcast failed")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
