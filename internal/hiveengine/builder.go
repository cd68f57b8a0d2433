// Package hiveengine builds and validates sidechain token operations. Token
// actions ride the ledger as custom_json operations addressed to the
// sidechain's contract engine; this package is the only place those payloads
// are constructed, so every operation that leaves it is syntactically valid.
package hiveengine

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/hivewager/custodian/internal/domain"
)

// DefaultSidechainID addresses the token sidechain's contract engine.
const DefaultSidechainID = "ssc-mainnet-hive"

const (
	contractTokens = "tokens"

	ActionTransfer      = "transfer"
	ActionStake         = "stake"
	ActionUnstake       = "unstake"
	ActionDelegate      = "delegate"
	ActionCancelUnstake = "cancelUnstake"
)

// accountRe enforces ledger account-name syntax: lowercase, starts with a
// letter, single dots or dashes as internal separators only.
var accountRe = regexp.MustCompile(`^[a-z][a-z0-9]*(?:[.-][a-z0-9]+)*$`)

// Token describes the token the builder emits operations for.
type Token struct {
	Symbol    string
	Precision int
}

// Builder constructs token operations for one token on one sidechain.
type Builder struct {
	token       Token
	sidechainID string
}

// NewBuilder creates a Builder. An empty sidechainID selects the default.
func NewBuilder(token Token, sidechainID string) *Builder {
	if sidechainID == "" {
		sidechainID = DefaultSidechainID
	}
	return &Builder{token: token, sidechainID: sidechainID}
}

// TokenOperation is a high-level sidechain intent: which contract action the
// signer wants to run, with its typed payload already marshalled.
type TokenOperation struct {
	Signer   string
	Contract string
	Action   string
	Payload  json.RawMessage
}

// Payload shapes, one per supported contract action.

type TransferPayload struct {
	Symbol   string `json:"symbol"`
	To       string `json:"to"`
	Quantity string `json:"quantity"`
	Memo     string `json:"memo"`
}

type StakePayload struct {
	To       string `json:"to"`
	Symbol   string `json:"symbol"`
	Quantity string `json:"quantity"`
}

type UnstakePayload struct {
	Symbol   string `json:"symbol"`
	Quantity string `json:"quantity"`
}

type DelegatePayload struct {
	To       string `json:"to"`
	Symbol   string `json:"symbol"`
	Quantity string `json:"quantity"`
}

type CancelUnstakePayload struct {
	TxID string `json:"txID"`
}

// contractEnvelope is the custom_json body the sidechain engine consumes.
type contractEnvelope struct {
	ContractName    string          `json:"contractName"`
	ContractAction  string          `json:"contractAction"`
	ContractPayload json.RawMessage `json:"contractPayload"`
}

// ValidateAccountName checks ledger account-name syntax: 3-16 characters,
// lowercase, no leading digit, dots and dashes only as single internal
// separators.
func ValidateAccountName(name string) error {
	if len(name) < 3 || len(name) > 16 {
		return &domain.ValidationError{Op: domain.OpCustomJSON, Field: "account", Got: name, Reason: "account name must be 3-16 characters"}
	}
	if !accountRe.MatchString(name) {
		return &domain.ValidationError{Op: domain.OpCustomJSON, Field: "account", Got: name, Reason: "invalid account name syntax"}
	}
	return nil
}

// ValidateQuantity checks that quantity is a positive decimal with at most
// the token's precision in fractional digits.
func (b *Builder) ValidateQuantity(quantity string) error {
	reject := func(reason string) error {
		return &domain.ValidationError{Op: domain.OpCustomJSON, Field: "quantity", Got: quantity, Reason: reason}
	}

	if quantity == "" {
		return reject("quantity is empty")
	}
	if strings.HasPrefix(quantity, "+") || strings.HasPrefix(quantity, "-") {
		return reject("quantity must be unsigned")
	}
	f, err := strconv.ParseFloat(quantity, 64)
	if err != nil {
		return reject("quantity is not a decimal number")
	}
	if f <= 0 {
		return reject("quantity must be positive")
	}
	if i := strings.IndexByte(quantity, '.'); i >= 0 {
		if frac := quantity[i+1:]; len(frac) == 0 || len(frac) > b.token.Precision {
			return reject(fmt.Sprintf("quantity precision exceeds %d decimals", b.token.Precision))
		}
	}
	return nil
}

// FormatAmount renders a numeric amount at the token's fixed precision,
// rounding down so computed payouts can never exceed the pool they came
// from.
func (b *Builder) FormatAmount(amount float64) string {
	scale := math.Pow10(b.token.Precision)
	floored := math.Floor(amount*scale) / scale
	return strconv.FormatFloat(floored, 'f', b.token.Precision, 64)
}

// Transfer builds a token transfer from signer to the recipient.
func (b *Builder) Transfer(signer, to, quantity, memo string) (TokenOperation, error) {
	if err := ValidateAccountName(signer); err != nil {
		return TokenOperation{}, err
	}
	if err := ValidateAccountName(to); err != nil {
		return TokenOperation{}, err
	}
	if err := b.ValidateQuantity(quantity); err != nil {
		return TokenOperation{}, err
	}
	return b.op(signer, ActionTransfer, TransferPayload{
		Symbol:   b.token.Symbol,
		To:       to,
		Quantity: quantity,
		Memo:     memo,
	})
}

// TransferAmount builds a transfer from a numeric amount, formatted at the
// token's fixed precision.
func (b *Builder) TransferAmount(signer, to string, amount float64, memo string) (TokenOperation, error) {
	if amount <= 0 {
		return TokenOperation{}, &domain.ValidationError{
			Op: domain.OpCustomJSON, Field: "quantity",
			Got: strconv.FormatFloat(amount, 'f', -1, 64), Reason: "amount must be positive",
		}
	}
	return b.Transfer(signer, to, b.FormatAmount(amount), memo)
}

// Stake builds a stake operation crediting staked balance to the recipient.
func (b *Builder) Stake(signer, to, quantity string) (TokenOperation, error) {
	if err := ValidateAccountName(signer); err != nil {
		return TokenOperation{}, err
	}
	if err := ValidateAccountName(to); err != nil {
		return TokenOperation{}, err
	}
	if err := b.ValidateQuantity(quantity); err != nil {
		return TokenOperation{}, err
	}
	return b.op(signer, ActionStake, StakePayload{To: to, Symbol: b.token.Symbol, Quantity: quantity})
}

// Unstake builds an unstake operation for the signer's own staked balance.
func (b *Builder) Unstake(signer, quantity string) (TokenOperation, error) {
	if err := ValidateAccountName(signer); err != nil {
		return TokenOperation{}, err
	}
	if err := b.ValidateQuantity(quantity); err != nil {
		return TokenOperation{}, err
	}
	return b.op(signer, ActionUnstake, UnstakePayload{Symbol: b.token.Symbol, Quantity: quantity})
}

// Delegate builds a stake delegation. Self-delegation is rejected.
func (b *Builder) Delegate(signer, to, quantity string) (TokenOperation, error) {
	if err := ValidateAccountName(signer); err != nil {
		return TokenOperation{}, err
	}
	if err := ValidateAccountName(to); err != nil {
		return TokenOperation{}, err
	}
	if signer == to {
		return TokenOperation{}, &domain.ValidationError{
			Op: domain.OpCustomJSON, Field: "to", Got: to, Reason: "cannot delegate to self",
		}
	}
	if err := b.ValidateQuantity(quantity); err != nil {
		return TokenOperation{}, err
	}
	return b.op(signer, ActionDelegate, DelegatePayload{To: to, Symbol: b.token.Symbol, Quantity: quantity})
}

// CancelUnstake builds a cancellation of a pending unstake, referenced by
// the transaction id of the original unstake.
func (b *Builder) CancelUnstake(signer, txID string) (TokenOperation, error) {
	if err := ValidateAccountName(signer); err != nil {
		return TokenOperation{}, err
	}
	if strings.TrimSpace(txID) == "" {
		return TokenOperation{}, &domain.ValidationError{
			Op: domain.OpCustomJSON, Field: "txID", Reason: "unstake transaction reference is empty",
		}
	}
	return b.op(signer, ActionCancelUnstake, CancelUnstakePayload{TxID: txID})
}

// TransferSpec is one leg of a batch transfer.
type TransferSpec struct {
	To       string
	Quantity string
	Memo     string
}

// BatchTransfer fans out N transfers from one signer. Validation is
// all-or-nothing: one bad leg rejects the whole batch.
func (b *Builder) BatchTransfer(signer string, specs []TransferSpec) ([]TokenOperation, error) {
	if len(specs) == 0 {
		return nil, &domain.ValidationError{Op: domain.OpCustomJSON, Field: "transfers", Reason: "batch is empty"}
	}
	ops := make([]TokenOperation, 0, len(specs))
	for i, spec := range specs {
		op, err := b.Transfer(signer, spec.To, spec.Quantity, spec.Memo)
		if err != nil {
			return nil, fmt.Errorf("hiveengine: batch transfer leg %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (b *Builder) op(signer, action string, payload any) (TokenOperation, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return TokenOperation{}, fmt.Errorf("hiveengine: marshal %s payload: %w", action, err)
	}
	return TokenOperation{
		Signer:   signer,
		Contract: contractTokens,
		Action:   action,
		Payload:  raw,
	}, nil
}

// ToCustomJSON wraps a token operation in the ledger custom_json envelope.
// Token actions move funds, so the signer goes in required_auths (active
// authority), never in posting auths.
func (b *Builder) ToCustomJSON(op TokenOperation) (domain.CustomJSONOperation, error) {
	env, err := json.Marshal(contractEnvelope{
		ContractName:    op.Contract,
		ContractAction:  op.Action,
		ContractPayload: op.Payload,
	})
	if err != nil {
		return domain.CustomJSONOperation{}, fmt.Errorf("hiveengine: marshal contract envelope: %w", err)
	}
	return domain.CustomJSONOperation{
		RequiredAuths:        []string{op.Signer},
		RequiredPostingAuths: []string{},
		ID:                   b.sidechainID,
		JSON:                 string(env),
	}, nil
}

// ParseOperation reverses ToCustomJSON, recovering the contract, action,
// signer and payload. Together with ValidateOperation it guarantees the
// round-trip invariant: every builder output parses back to the tuple it
// was built from.
func (b *Builder) ParseOperation(op domain.CustomJSONOperation) (TokenOperation, error) {
	if op.ID != b.sidechainID {
		return TokenOperation{}, fmt.Errorf("hiveengine: custom_json id %q is not the sidechain id %q", op.ID, b.sidechainID)
	}
	if len(op.RequiredAuths) != 1 {
		return TokenOperation{}, fmt.Errorf("hiveengine: expected exactly one active-authority signer, got %d", len(op.RequiredAuths))
	}

	var env contractEnvelope
	if err := json.Unmarshal([]byte(op.JSON), &env); err != nil {
		return TokenOperation{}, fmt.Errorf("hiveengine: parse contract envelope: %w", err)
	}

	return TokenOperation{
		Signer:   op.RequiredAuths[0],
		Contract: env.ContractName,
		Action:   env.ContractAction,
		Payload:  env.ContractPayload,
	}, nil
}

// ValidateOperation checks a parsed token operation against the same rules
// the builders enforce.
func (b *Builder) ValidateOperation(op TokenOperation) error {
	if err := ValidateAccountName(op.Signer); err != nil {
		return err
	}
	if op.Contract != contractTokens {
		return fmt.Errorf("hiveengine: unknown contract %q", op.Contract)
	}

	switch op.Action {
	case ActionTransfer:
		var p TransferPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fmt.Errorf("hiveengine: parse transfer payload: %w", err)
		}
		if err := ValidateAccountName(p.To); err != nil {
			return err
		}
		return b.ValidateQuantity(p.Quantity)
	case ActionStake:
		var p StakePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fmt.Errorf("hiveengine: parse stake payload: %w", err)
		}
		if err := ValidateAccountName(p.To); err != nil {
			return err
		}
		return b.ValidateQuantity(p.Quantity)
	case ActionUnstake:
		var p UnstakePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fmt.Errorf("hiveengine: parse unstake payload: %w", err)
		}
		return b.ValidateQuantity(p.Quantity)
	case ActionDelegate:
		var p DelegatePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fmt.Errorf("hiveengine: parse delegate payload: %w", err)
		}
		if err := ValidateAccountName(p.To); err != nil {
			return err
		}
		if p.To == op.Signer {
			return &domain.ValidationError{Op: domain.OpCustomJSON, Field: "to", Got: p.To, Reason: "cannot delegate to self"}
		}
		return b.ValidateQuantity(p.Quantity)
	case ActionCancelUnstake:
		var p CancelUnstakePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fmt.Errorf("hiveengine: parse cancelUnstake payload: %w", err)
		}
		if strings.TrimSpace(p.TxID) == "" {
			return &domain.ValidationError{Op: domain.OpCustomJSON, Field: "txID", Reason: "unstake transaction reference is empty"}
		}
		return nil
	default:
		return fmt.Errorf("hiveengine: unknown contract action %q", op.Action)
	}
}
