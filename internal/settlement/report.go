package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hivewager/custodian/internal/domain"
)

// Report is the archived record of one finalized settlement.
type Report struct {
	Result      domain.SettlementResult `json:"result"`
	Actor       string                  `json:"actor"`
	GeneratedAt time.Time               `json:"generated_at"`
}

// ReportArchiver writes settlement reports to object storage. Archival is a
// best-effort audit trail; the authoritative receipts live in the database.
type ReportArchiver struct {
	blobs  domain.BlobWriter
	prefix string
}

// NewReportArchiver creates a ReportArchiver writing under the given key
// prefix (default "settlements").
func NewReportArchiver(blobs domain.BlobWriter, prefix string) *ReportArchiver {
	if prefix == "" {
		prefix = "settlements"
	}
	return &ReportArchiver{blobs: blobs, prefix: prefix}
}

// Archive uploads the JSON report for one finalized settlement.
func (a *ReportArchiver) Archive(ctx context.Context, actor string, result *domain.SettlementResult) error {
	report := Report{
		Result:      *result,
		Actor:       actor,
		GeneratedAt: time.Now().UTC(),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("settlement: marshal report: %w", err)
	}

	path := fmt.Sprintf("%s/%s.json", a.prefix, result.PredictionID)
	if err := a.blobs.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("settlement: upload report %s: %w", path, err)
	}
	return nil
}

// publishEvent emits a settlement event on the bus for downstream consumers.
func publishEvent(ctx context.Context, bus domain.EventBus, event string, result *domain.SettlementResult) error {
	payload, err := json.Marshal(map[string]any{
		"event":         event,
		"prediction_id": result.PredictionID,
		"status":        string(result.Status),
		"total_pool":    result.TotalPool,
		"fee":           result.Fees.Total,
	})
	if err != nil {
		return fmt.Errorf("settlement: marshal event: %w", err)
	}
	return bus.Publish(ctx, "settlements", payload)
}
