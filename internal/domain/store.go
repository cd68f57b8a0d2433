package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PredictionStore persists the prediction aggregate. The settlement engine
// requires TransitionStatus to be a single conditional update (compare and
// swap on the status column); it is the only lock guarding concurrent
// settlement attempts.
type PredictionStore interface {
	GetPrediction(ctx context.Context, id string) (Prediction, error)
	LoadGraph(ctx context.Context, id string) (PredictionGraph, error)

	// TransitionStatus atomically moves the prediction from one status to
	// another. It returns false (and no error) when the row was not in the
	// expected status, which the caller must treat as losing the race.
	TransitionStatus(ctx context.Context, id string, from, to PredictionStatus) (bool, error)

	SetStakePayout(ctx context.Context, stakeID, txID string) error
	SetStakeRefund(ctx context.Context, stakeID, txID string) error
	SetBurnReceipt(ctx context.Context, predictionID, txID string) error
	SetRewardReceipt(ctx context.Context, predictionID, txID string) error

	// Finalize moves the prediction to its terminal status and records the
	// winning outcome in one transaction.
	Finalize(ctx context.Context, id string, status PredictionStatus, winningOutcomeID *string) error
}

// CustodialKeyStore persists encrypted custodial key records. Only the key
// vault and signing relay may touch it.
type CustodialKeyStore interface {
	Create(ctx context.Context, rec CustodialKeyRecord) error
	GetByUserID(ctx context.Context, userID string) (CustodialKeyRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// RateLimiter bounds how often a keyed action may run.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage is one durable event read back from the bus.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus publishes domain events for downstream consumers (notifications,
// leaderboards) outside this subsystem.
type EventBus interface {
	Publish(ctx context.Context, stream string, payload []byte) error
}

// BlobWriter stores settlement reports in object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
