package relay

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/hivewager/custodian/internal/domain"
	"github.com/hivewager/custodian/internal/hiveengine"
	"github.com/hivewager/custodian/internal/ledger"
)

// Treasury signs token operations with the platform's own active key. It is
// the payment path the settlement engine uses; it never touches custodial
// user keys and user intents never reach it.
type Treasury struct {
	account string
	keyRaw  []byte
	builder *hiveengine.Builder
	client  *ledger.Client
	signer  *ledger.Signer
	logger  *slog.Logger
}

// NewTreasury creates a Treasury from the platform account name and its
// hex-encoded active key.
func NewTreasury(
	account, activeKeyHex string,
	builder *hiveengine.Builder,
	client *ledger.Client,
	signer *ledger.Signer,
	logger *slog.Logger,
) (*Treasury, error) {
	if err := hiveengine.ValidateAccountName(account); err != nil {
		return nil, fmt.Errorf("relay: treasury account: %w", err)
	}
	keyRaw, err := hex.DecodeString(activeKeyHex)
	if err != nil {
		return nil, fmt.Errorf("relay: treasury active key is not valid hex: %w", err)
	}
	return &Treasury{
		account: account,
		keyRaw:  keyRaw,
		builder: builder,
		client:  client,
		signer:  signer,
		logger:  logger,
	}, nil
}

// Account returns the treasury's ledger account name.
func (t *Treasury) Account() string { return t.account }

// BroadcastToken validates, signs and broadcasts a single token operation
// from the treasury account, returning the transaction id.
func (t *Treasury) BroadcastToken(ctx context.Context, op hiveengine.TokenOperation) (string, error) {
	if op.Signer != t.account {
		return "", fmt.Errorf("relay: %w: token op signer %q is not the treasury %q", domain.ErrUnauthorized, op.Signer, t.account)
	}
	if err := t.builder.ValidateOperation(op); err != nil {
		return "", fmt.Errorf("relay: treasury token op: %w", err)
	}

	cj, err := t.builder.ToCustomJSON(op)
	if err != nil {
		return "", err
	}

	tx, err := t.client.PrepareTransaction(ctx, []domain.Operation{cj})
	if err != nil {
		return "", fmt.Errorf("relay: prepare treasury transaction: %w", err)
	}
	if err := t.signer.Sign(tx, t.keyRaw); err != nil {
		return "", fmt.Errorf("relay: sign treasury transaction: %w", err)
	}

	txID, err := t.client.Broadcast(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("relay: treasury broadcast: %w", err)
	}

	t.logger.InfoContext(ctx, "relay: treasury token op broadcast",
		slog.String("action", op.Action),
		slog.String("tx_id", txID),
	)
	return txID, nil
}
