package relay

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/hivewager/custodian/internal/domain"
	"github.com/hivewager/custodian/internal/ledger"
	"github.com/hivewager/custodian/internal/vault"
)

// SigningRelay signs and broadcasts operations for custodial users. The
// decrypted posting key lives only on the stack of one SignAndBroadcast call
// and is zeroed before the call returns, success or failure.
type SigningRelay struct {
	keys   domain.CustodialKeyStore
	vault  *vault.Vault
	client *ledger.Client
	signer *ledger.Signer
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewSigningRelay creates a SigningRelay.
func NewSigningRelay(
	keys domain.CustodialKeyStore,
	v *vault.Vault,
	client *ledger.Client,
	signer *ledger.Signer,
	audit domain.AuditStore,
	logger *slog.Logger,
) *SigningRelay {
	return &SigningRelay{
		keys:   keys,
		vault:  v,
		client: client,
		signer: signer,
		audit:  audit,
		logger: logger,
	}
}

// SignAndBroadcast loads the user's encrypted key record, decrypts the
// posting key, signs the operations, submits them, and returns the
// ledger-assigned transaction id.
//
// Callers must have run ValidateOperations first; this method checks only
// that the key record actually belongs to the claimed username.
func (r *SigningRelay) SignAndBroadcast(ctx context.Context, username, custodialUserID string, ops []domain.Operation) (txID string, err error) {
	rec, err := r.keys.GetByUserID(ctx, custodialUserID)
	if err != nil {
		return "", fmt.Errorf("relay: load key record for user %s: %w", custodialUserID, err)
	}
	if rec.Account != username {
		return "", fmt.Errorf("relay: %w: key record unlocks %q, caller claims %q", domain.ErrUnauthorized, rec.Account, username)
	}

	keyHex, err := r.vault.DecryptRecord(rec)
	if err != nil {
		return "", fmt.Errorf("relay: decrypt posting key for %s: %w", username, err)
	}
	defer vault.Zero(keyHex)

	keyRaw := make([]byte, hex.DecodedLen(len(keyHex)))
	defer vault.Zero(keyRaw)
	if _, err := hex.Decode(keyRaw, keyHex); err != nil {
		return "", fmt.Errorf("relay: posting key for %s is not valid hex: %w", username, domain.ErrDecryptionFailed)
	}

	tx, err := r.client.PrepareTransaction(ctx, ops)
	if err != nil {
		return "", fmt.Errorf("relay: prepare transaction for %s: %w", username, err)
	}
	if err := r.signer.Sign(tx, keyRaw); err != nil {
		return "", fmt.Errorf("relay: sign transaction for %s: %w", username, err)
	}

	txID, err = r.client.Broadcast(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("relay: broadcast for %s: %w", username, err)
	}

	if auditErr := r.audit.Log(ctx, "custodial_broadcast", map[string]any{
		"username": username,
		"user_id":  custodialUserID,
		"tx_id":    txID,
		"ops":      len(ops),
	}); auditErr != nil {
		r.logger.WarnContext(ctx, "relay: audit log failed",
			slog.String("username", username),
			slog.String("error", auditErr.Error()),
		)
	}

	r.logger.InfoContext(ctx, "relay: broadcast complete",
		slog.String("username", username),
		slog.String("tx_id", txID),
		slog.Int("ops", len(ops)),
	)
	return txID, nil
}
