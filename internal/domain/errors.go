package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("invalid state transition")
	ErrInvalidOutcome     = errors.New("outcome does not belong to prediction")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRateLimited        = errors.New("rate limited")
	ErrWalletNotConnected = errors.New("wallet not connected")
	ErrBroadcastFailed    = errors.New("broadcast failed")
	ErrDecryptionFailed   = errors.New("decryption failed")
)

// ValidationError rejects an operation before it reaches the relay. It
// carries the offending and expected values so rejections are auditable
// without exposing key material.
type ValidationError struct {
	Op     OpType
	Field  string
	Got    string
	Want   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Want != "" {
		return fmt.Sprintf("validation: %s.%s: %s (got %q, want %q)", e.Op, e.Field, e.Reason, e.Got, e.Want)
	}
	if e.Got != "" {
		return fmt.Sprintf("validation: %s.%s: %s (got %q)", e.Op, e.Field, e.Reason, e.Got)
	}
	return fmt.Sprintf("validation: %s.%s: %s", e.Op, e.Field, e.Reason)
}

// StateError reports a settlement call against a prediction in a
// non-retryable status.
type StateError struct {
	PredictionID string
	From         PredictionStatus
	To           PredictionStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("prediction %s: cannot transition %s -> %s", e.PredictionID, e.From, e.To)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }
