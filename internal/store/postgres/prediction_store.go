package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hivewager/custodian/internal/domain"
)

// PredictionStore implements domain.PredictionStore using PostgreSQL.
type PredictionStore struct {
	pool *pgxpool.Pool
}

// NewPredictionStore creates a new PredictionStore backed by the given pool.
func NewPredictionStore(pool *pgxpool.Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

// GetPrediction returns a single prediction by id.
func (s *PredictionStore) GetPrediction(ctx context.Context, id string) (domain.Prediction, error) {
	const query = `
		SELECT id, title, status, total_pool, winning_outcome_id,
		       burn_tx_id, reward_tx_id, created_at, updated_at
		FROM predictions WHERE id = $1`

	var p domain.Prediction
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Title, &p.Status, &p.TotalPool, &p.WinningOutcomeID,
		&p.BurnTxID, &p.RewardTxID, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Prediction{}, fmt.Errorf("postgres: prediction %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("postgres: get prediction %s: %w", id, err)
	}
	return p, nil
}

// LoadGraph loads the prediction with all its outcomes and stakes.
func (s *PredictionStore) LoadGraph(ctx context.Context, id string) (domain.PredictionGraph, error) {
	var graph domain.PredictionGraph

	p, err := s.GetPrediction(ctx, id)
	if err != nil {
		return graph, err
	}
	graph.Prediction = p

	const outcomesQuery = `
		SELECT id, prediction_id, label, total_staked, backer_count
		FROM outcomes WHERE prediction_id = $1 ORDER BY id`

	rows, err := s.pool.Query(ctx, outcomesQuery, id)
	if err != nil {
		return graph, fmt.Errorf("postgres: load outcomes for %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var o domain.Outcome
		if err := rows.Scan(&o.ID, &o.PredictionID, &o.Label, &o.TotalStaked, &o.BackerCount); err != nil {
			return graph, fmt.Errorf("postgres: scan outcome: %w", err)
		}
		graph.Outcomes = append(graph.Outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return graph, fmt.Errorf("postgres: load outcomes rows: %w", err)
	}

	const stakesQuery = `
		SELECT s.id, s.outcome_id, s.account, s.amount,
		       s.payout_tx_id, s.refund_tx_id, s.created_at
		FROM stakes s
		JOIN outcomes o ON o.id = s.outcome_id
		WHERE o.prediction_id = $1
		ORDER BY s.created_at, s.id`

	rows, err = s.pool.Query(ctx, stakesQuery, id)
	if err != nil {
		return graph, fmt.Errorf("postgres: load stakes for %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var st domain.Stake
		if err := rows.Scan(&st.ID, &st.OutcomeID, &st.Account, &st.Amount,
			&st.PayoutTxID, &st.RefundTxID, &st.CreatedAt); err != nil {
			return graph, fmt.Errorf("postgres: scan stake: %w", err)
		}
		graph.Stakes = append(graph.Stakes, st)
	}
	if err := rows.Err(); err != nil {
		return graph, fmt.Errorf("postgres: load stakes rows: %w", err)
	}

	return graph, nil
}

// TransitionStatus performs the conditional status update that serializes
// settlement. The WHERE clause on the current status makes the swap atomic;
// zero rows affected means another worker got there first.
func (s *PredictionStore) TransitionStatus(ctx context.Context, id string, from, to domain.PredictionStatus) (bool, error) {
	const query = `
		UPDATE predictions SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`

	tag, err := s.pool.Exec(ctx, query, id, from, to)
	if err != nil {
		return false, fmt.Errorf("postgres: transition prediction %s %s->%s: %w", id, from, to, err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetStakePayout records the payout receipt for a stake. The IS NULL guard
// keeps a receipt from ever being overwritten.
func (s *PredictionStore) SetStakePayout(ctx context.Context, stakeID, txID string) error {
	const query = `
		UPDATE stakes SET payout_tx_id = $2
		WHERE id = $1 AND payout_tx_id IS NULL`

	tag, err := s.pool.Exec(ctx, query, stakeID, txID)
	if err != nil {
		return fmt.Errorf("postgres: set payout receipt for stake %s: %w", stakeID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: stake %s already has a payout receipt or does not exist: %w", stakeID, domain.ErrInvalidState)
	}
	return nil
}

// SetStakeRefund records the refund receipt for a stake.
func (s *PredictionStore) SetStakeRefund(ctx context.Context, stakeID, txID string) error {
	const query = `
		UPDATE stakes SET refund_tx_id = $2
		WHERE id = $1 AND refund_tx_id IS NULL`

	tag, err := s.pool.Exec(ctx, query, stakeID, txID)
	if err != nil {
		return fmt.Errorf("postgres: set refund receipt for stake %s: %w", stakeID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: stake %s already has a refund receipt or does not exist: %w", stakeID, domain.ErrInvalidState)
	}
	return nil
}

// SetBurnReceipt records the fee-burn transaction id for a prediction.
func (s *PredictionStore) SetBurnReceipt(ctx context.Context, predictionID, txID string) error {
	const query = `
		UPDATE predictions SET burn_tx_id = $2, updated_at = NOW()
		WHERE id = $1 AND burn_tx_id IS NULL`

	tag, err := s.pool.Exec(ctx, query, predictionID, txID)
	if err != nil {
		return fmt.Errorf("postgres: set burn receipt for %s: %w", predictionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: prediction %s already has a burn receipt or does not exist: %w", predictionID, domain.ErrInvalidState)
	}
	return nil
}

// SetRewardReceipt records the fee-reward transaction id for a prediction.
func (s *PredictionStore) SetRewardReceipt(ctx context.Context, predictionID, txID string) error {
	const query = `
		UPDATE predictions SET reward_tx_id = $2, updated_at = NOW()
		WHERE id = $1 AND reward_tx_id IS NULL`

	tag, err := s.pool.Exec(ctx, query, predictionID, txID)
	if err != nil {
		return fmt.Errorf("postgres: set reward receipt for %s: %w", predictionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: prediction %s already has a reward receipt or does not exist: %w", predictionID, domain.ErrInvalidState)
	}
	return nil
}

// Finalize moves the prediction to its terminal status and records the
// winning outcome in one transaction.
func (s *PredictionStore) Finalize(ctx context.Context, id string, status domain.PredictionStatus, winningOutcomeID *string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin finalize tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
		UPDATE predictions
		SET status = $2, winning_outcome_id = $3, updated_at = NOW()
		WHERE id = $1`

	tag, err := tx.Exec(ctx, query, id, status, winningOutcomeID)
	if err != nil {
		return fmt.Errorf("postgres: finalize prediction %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: prediction %s: %w", id, domain.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit finalize for %s: %w", id, err)
	}
	return nil
}
