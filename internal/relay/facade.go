package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hivewager/custodian/internal/domain"
)

// relayRateLimit bounds custodial broadcasts per user.
const (
	relayRateLimit  = 5
	relayRateWindow = time.Minute
)

// WalletBroadcaster is the self-custody path: the user's own connected
// wallet signs and broadcasts, and custodial keys are never involved.
type WalletBroadcaster interface {
	RequestSignAndBroadcast(ctx context.Context, account string, ops []domain.Operation) (string, error)
}

// BroadcastRequest is a user's intent to put operations on the ledger.
type BroadcastRequest struct {
	Username   string
	UserID     string
	AuthMode   domain.AuthMode
	Operations []domain.Operation
}

// Facade is the single entry point the rest of the application uses to
// broadcast user operations. It dispatches on the caller's authentication
// mode: custodial traffic goes through the validator and signing relay,
// self-custody traffic goes to the user's wallet (which enforces its own
// authorization UI).
type Facade struct {
	relay   *SigningRelay
	wallet  WalletBroadcaster
	limiter domain.RateLimiter
	logger  *slog.Logger
}

// NewFacade creates a Facade.
func NewFacade(relay *SigningRelay, wallet WalletBroadcaster, limiter domain.RateLimiter, logger *slog.Logger) *Facade {
	return &Facade{
		relay:   relay,
		wallet:  wallet,
		limiter: limiter,
		logger:  logger,
	}
}

// Broadcast routes the request to the appropriate signing path and returns
// the ledger transaction id.
func (f *Facade) Broadcast(ctx context.Context, req BroadcastRequest) (string, error) {
	if len(req.Operations) == 0 {
		return "", &domain.ValidationError{Field: "operations", Reason: "operation batch is empty"}
	}

	switch req.AuthMode {
	case domain.AuthModeSoft:
		return f.broadcastCustodial(ctx, req)
	case domain.AuthModeHive:
		if f.wallet == nil {
			return "", domain.ErrWalletNotConnected
		}
		return f.wallet.RequestSignAndBroadcast(ctx, req.Username, req.Operations)
	default:
		return "", fmt.Errorf("relay: unknown auth mode %q", req.AuthMode)
	}
}

func (f *Facade) broadcastCustodial(ctx context.Context, req BroadcastRequest) (string, error) {
	// Active-authority operations are categorically impossible for
	// custodial accounts; reject before the validator ever runs.
	for _, op := range req.Operations {
		if requiresActiveAuthority(op) {
			return "", &domain.ValidationError{
				Op: op.OpType(), Field: "required_auths",
				Reason: "active-authority operations are not available to custodial accounts",
			}
		}
	}

	if f.limiter != nil {
		allowed, err := f.limiter.Allow(ctx, "relay:"+req.Username, relayRateLimit, relayRateWindow)
		if err != nil {
			return "", fmt.Errorf("relay: rate limiter: %w", err)
		}
		if !allowed {
			f.logger.WarnContext(ctx, "relay: rate limited",
				slog.String("username", req.Username),
			)
			return "", domain.ErrRateLimited
		}
	}

	if err := ValidateOperations(req.Operations, req.Username); err != nil {
		return "", err
	}

	return f.relay.SignAndBroadcast(ctx, req.Username, req.UserID, req.Operations)
}

// requiresActiveAuthority reports whether an operation demands an
// active-authority signature.
func requiresActiveAuthority(op domain.Operation) bool {
	cj, ok := op.(domain.CustomJSONOperation)
	return ok && len(cj.RequiredAuths) > 0
}
