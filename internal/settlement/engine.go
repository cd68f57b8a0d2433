// Package settlement implements the prediction-market payout engine: it
// computes pro-rata payouts, fees, burns and refunds, broadcasts them as
// token transfers from the treasury, and persists a receipt after every
// broadcast so an interrupted settlement can always resume without paying
// anyone twice.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hivewager/custodian/internal/domain"
	"github.com/hivewager/custodian/internal/hiveengine"
)

// TokenBroadcaster is the payment path: token operations signed by the
// platform treasury account.
type TokenBroadcaster interface {
	Account() string
	BroadcastToken(ctx context.Context, op hiveengine.TokenOperation) (string, error)
}

// Config holds the fee schedule and the fee sink accounts.
type Config struct {
	FeeRate       float64 // fraction of the pool taken as platform fee
	BurnShare     float64 // fraction of the fee that is burned
	BurnAccount   string  // conventionally the ledger's null account
	RewardAccount string  // rewards pool account
}

// Defaults returns the standard fee schedule: 10% fee, split 50/50 between
// burn and rewards.
func Defaults() Config {
	return Config{
		FeeRate:       0.10,
		BurnShare:     0.50,
		BurnAccount:   "null",
		RewardAccount: "wager.rewards",
	}
}

// Engine orchestrates settlement and void refunds. It is request-driven:
// each call runs to completion or failure within the caller's request, and
// the only lock is the conditional status transition in the store.
type Engine struct {
	store    domain.PredictionStore
	builder  *hiveengine.Builder
	treasury TokenBroadcaster
	audit    domain.AuditStore
	bus      domain.EventBus // optional
	archiver *ReportArchiver // optional
	cfg      Config
	logger   *slog.Logger
}

// NewEngine creates an Engine. bus and archiver may be nil; both are
// best-effort side channels that never fail a settlement.
func NewEngine(
	store domain.PredictionStore,
	builder *hiveengine.Builder,
	treasury TokenBroadcaster,
	audit domain.AuditStore,
	bus domain.EventBus,
	archiver *ReportArchiver,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		store:    store,
		builder:  builder,
		treasury: treasury,
		audit:    audit,
		bus:      bus,
		archiver: archiver,
		cfg:      cfg,
		logger:   logger,
	}
}

// ExecuteSettlement settles the prediction by declaring winningOutcomeID the
// winner, paying each winning stake its pro-rata share of the entire pool
// net of fee. Degenerate markets (no backers on the winner, or all stakes on
// a single outcome) are fully refunded with zero fees instead.
//
// The call is safe to retry: stakes that already carry a receipt are never
// broadcast again.
func (e *Engine) ExecuteSettlement(ctx context.Context, predictionID, winningOutcomeID, actor string) (domain.SettlementResult, error) {
	if err := e.beginSettling(ctx, predictionID); err != nil {
		return domain.SettlementResult{}, err
	}

	graph, err := e.store.LoadGraph(ctx, predictionID)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement: load prediction %s: %w", predictionID, err)
	}

	winning := graph.Outcome(winningOutcomeID)
	if winning == nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement: prediction %s: outcome %s: %w", predictionID, winningOutcomeID, domain.ErrInvalidOutcome)
	}

	totalPool := graph.Prediction.TotalPool
	winningStakes := graph.StakesOn(winningOutcomeID)
	winningTotal := 0.0
	for _, s := range winningStakes {
		winningTotal += s.Amount
	}

	// Degenerate markets: nobody backed the winner, or there was never a
	// genuine opposing side. Everyone gets their stake back, fee-free.
	if len(winningStakes) == 0 || graph.BackedOutcomes() <= 1 {
		result, err := e.refundAll(ctx, graph, "prediction voided: no opposing market")
		if err != nil {
			return domain.SettlementResult{}, err
		}
		if err := e.store.Finalize(ctx, predictionID, domain.PredictionStatusRefunded, nil); err != nil {
			return domain.SettlementResult{}, fmt.Errorf("settlement: finalize refund %s: %w", predictionID, err)
		}
		result.Status = domain.PredictionStatusRefunded
		e.afterFinalize(ctx, "prediction_refunded", actor, &result)
		return result, nil
	}

	result := domain.SettlementResult{
		PredictionID:     predictionID,
		WinningOutcomeID: &winningOutcomeID,
		TotalPool:        totalPool,
		Fees: domain.FeeBreakdown{
			Total:  totalPool * e.cfg.FeeRate,
			Burn:   totalPool * e.cfg.FeeRate * e.cfg.BurnShare,
			Reward: totalPool * e.cfg.FeeRate * (1 - e.cfg.BurnShare),
		},
	}

	// Winner payouts: pro-rata share of the entire pool net of fee. Losing
	// stakes receive nothing.
	payoutPool := totalPool * (1 - e.cfg.FeeRate)
	for _, stake := range winningStakes {
		amount := stake.Amount / winningTotal * payoutPool

		if stake.PayoutTxID != nil {
			result.Payouts = append(result.Payouts, domain.Payment{
				StakeID: stake.ID, Account: stake.Account, Amount: amount, TxID: *stake.PayoutTxID,
			})
			continue
		}

		txID, err := e.pay(ctx, stake.Account, amount, fmt.Sprintf("prediction %s payout", predictionID))
		if err != nil {
			return domain.SettlementResult{}, fmt.Errorf("settlement: payout stake %s: %w", stake.ID, err)
		}
		if err := e.store.SetStakePayout(ctx, stake.ID, txID); err != nil {
			return domain.SettlementResult{}, fmt.Errorf("settlement: record payout receipt for stake %s: %w", stake.ID, err)
		}
		result.Payouts = append(result.Payouts, domain.Payment{
			StakeID: stake.ID, Account: stake.Account, Amount: amount, TxID: txID,
		})
	}

	// Fee burn and fee reward, each gated by its own receipt.
	if graph.Prediction.BurnTxID == nil {
		txID, err := e.pay(ctx, e.cfg.BurnAccount, result.Fees.Burn, fmt.Sprintf("prediction %s fee burn", predictionID))
		if err != nil {
			return domain.SettlementResult{}, fmt.Errorf("settlement: fee burn: %w", err)
		}
		if err := e.store.SetBurnReceipt(ctx, predictionID, txID); err != nil {
			return domain.SettlementResult{}, fmt.Errorf("settlement: record burn receipt: %w", err)
		}
	}
	if graph.Prediction.RewardTxID == nil {
		txID, err := e.pay(ctx, e.cfg.RewardAccount, result.Fees.Reward, fmt.Sprintf("prediction %s fee reward", predictionID))
		if err != nil {
			return domain.SettlementResult{}, fmt.Errorf("settlement: fee reward: %w", err)
		}
		if err := e.store.SetRewardReceipt(ctx, predictionID, txID); err != nil {
			return domain.SettlementResult{}, fmt.Errorf("settlement: record reward receipt: %w", err)
		}
	}

	if err := e.store.Finalize(ctx, predictionID, domain.PredictionStatusSettled, &winningOutcomeID); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement: finalize %s: %w", predictionID, err)
	}
	result.Status = domain.PredictionStatusSettled

	e.afterFinalize(ctx, "prediction_settled", actor, &result)
	return result, nil
}

// ExecuteVoidRefund voids the prediction and refunds every un-refunded
// stake in full. Valid from open, locked, or an interrupted void (retry);
// settled and refunded predictions reject the call.
func (e *Engine) ExecuteVoidRefund(ctx context.Context, predictionID, reason, actor string) (domain.SettlementResult, error) {
	if err := e.beginVoid(ctx, predictionID); err != nil {
		return domain.SettlementResult{}, err
	}

	graph, err := e.store.LoadGraph(ctx, predictionID)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement: load prediction %s: %w", predictionID, err)
	}

	result, err := e.refundAll(ctx, graph, reason)
	if err != nil {
		return domain.SettlementResult{}, err
	}

	if err := e.store.Finalize(ctx, predictionID, domain.PredictionStatusRefunded, nil); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("settlement: finalize void %s: %w", predictionID, err)
	}
	result.Status = domain.PredictionStatusRefunded

	e.afterFinalize(ctx, "prediction_voided", actor, &result)
	return result, nil
}

// beginSettling performs the guarded locked→settling transition that is the
// sole concurrency lock. Losing the conditional update is only acceptable
// when the prediction is already settling, which means resuming an
// interrupted run.
func (e *Engine) beginSettling(ctx context.Context, predictionID string) error {
	ok, err := e.store.TransitionStatus(ctx, predictionID, domain.PredictionStatusLocked, domain.PredictionStatusSettling)
	if err != nil {
		return fmt.Errorf("settlement: transition %s to settling: %w", predictionID, err)
	}
	if ok {
		return nil
	}

	p, err := e.store.GetPrediction(ctx, predictionID)
	if err != nil {
		return fmt.Errorf("settlement: re-read prediction %s: %w", predictionID, err)
	}
	if p.Status == domain.PredictionStatusSettling {
		e.logger.InfoContext(ctx, "settlement: resuming interrupted settlement",
			slog.String("prediction_id", predictionID),
		)
		return nil
	}
	return &domain.StateError{PredictionID: predictionID, From: p.Status, To: domain.PredictionStatusSettling}
}

// beginVoid moves the prediction into voided from any permitted start state.
func (e *Engine) beginVoid(ctx context.Context, predictionID string) error {
	for _, from := range []domain.PredictionStatus{domain.PredictionStatusOpen, domain.PredictionStatusLocked} {
		ok, err := e.store.TransitionStatus(ctx, predictionID, from, domain.PredictionStatusVoided)
		if err != nil {
			return fmt.Errorf("settlement: transition %s to voided: %w", predictionID, err)
		}
		if ok {
			return nil
		}
	}

	p, err := e.store.GetPrediction(ctx, predictionID)
	if err != nil {
		return fmt.Errorf("settlement: re-read prediction %s: %w", predictionID, err)
	}
	if p.Status == domain.PredictionStatusVoided {
		e.logger.InfoContext(ctx, "settlement: resuming interrupted void refund",
			slog.String("prediction_id", predictionID),
		)
		return nil
	}
	return &domain.StateError{PredictionID: predictionID, From: p.Status, To: domain.PredictionStatusVoided}
}

// refundAll refunds every stake that has no receipt yet, in full.
func (e *Engine) refundAll(ctx context.Context, graph domain.PredictionGraph, memo string) (domain.SettlementResult, error) {
	result := domain.SettlementResult{
		PredictionID: graph.Prediction.ID,
		TotalPool:    graph.Prediction.TotalPool,
	}

	for _, stake := range graph.Stakes {
		if stake.RefundTxID != nil {
			result.Refunds = append(result.Refunds, domain.Payment{
				StakeID: stake.ID, Account: stake.Account, Amount: stake.Amount, TxID: *stake.RefundTxID,
			})
			continue
		}
		if stake.PayoutTxID != nil {
			// A paid stake must never also be refunded. Should be
			// unreachable; skip and flag loudly.
			e.logger.ErrorContext(ctx, "settlement: stake already paid, skipping refund",
				slog.String("stake_id", stake.ID),
				slog.String("prediction_id", graph.Prediction.ID),
			)
			continue
		}

		txID, err := e.pay(ctx, stake.Account, stake.Amount, memo)
		if err != nil {
			return domain.SettlementResult{}, fmt.Errorf("settlement: refund stake %s: %w", stake.ID, err)
		}
		if err := e.store.SetStakeRefund(ctx, stake.ID, txID); err != nil {
			return domain.SettlementResult{}, fmt.Errorf("settlement: record refund receipt for stake %s: %w", stake.ID, err)
		}
		result.Refunds = append(result.Refunds, domain.Payment{
			StakeID: stake.ID, Account: stake.Account, Amount: stake.Amount, TxID: txID,
		})
	}
	return result, nil
}

// dustReceipt marks a payment too small to represent at token precision.
// Recording it keeps retries from looping on an unpayable amount.
const dustReceipt = "dust"

// pay broadcasts one treasury transfer and returns the transaction id.
func (e *Engine) pay(ctx context.Context, account string, amount float64, memo string) (string, error) {
	op, err := e.builder.TransferAmount(e.treasury.Account(), account, amount, memo)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) && verr.Field == "quantity" {
			e.logger.WarnContext(ctx, "settlement: payment below token precision, skipping",
				slog.String("account", account),
				slog.Float64("amount", amount),
			)
			return dustReceipt, nil
		}
		return "", err
	}
	return e.treasury.BroadcastToken(ctx, op)
}

// afterFinalize fans out the non-critical side effects: audit log, event
// bus, report archive. Failures are logged, never propagated, because the
// money already moved.
func (e *Engine) afterFinalize(ctx context.Context, event, actor string, result *domain.SettlementResult) {
	if err := e.audit.Log(ctx, event, map[string]any{
		"prediction_id": result.PredictionID,
		"actor":         actor,
		"status":        string(result.Status),
		"total_pool":    result.TotalPool,
		"fee":           result.Fees.Total,
		"payouts":       len(result.Payouts),
		"refunds":       len(result.Refunds),
	}); err != nil {
		e.logger.WarnContext(ctx, "settlement: audit log failed",
			slog.String("prediction_id", result.PredictionID),
			slog.String("error", err.Error()),
		)
	}

	if e.bus != nil {
		if err := publishEvent(ctx, e.bus, event, result); err != nil {
			e.logger.WarnContext(ctx, "settlement: event publish failed",
				slog.String("prediction_id", result.PredictionID),
				slog.String("error", err.Error()),
			)
		}
	}

	if e.archiver != nil {
		if err := e.archiver.Archive(ctx, actor, result); err != nil {
			e.logger.WarnContext(ctx, "settlement: report archive failed",
				slog.String("prediction_id", result.PredictionID),
				slog.String("error", err.Error()),
			)
		}
	}

	e.logger.InfoContext(ctx, "settlement: finalized",
		slog.String("prediction_id", result.PredictionID),
		slog.String("status", string(result.Status)),
		slog.Float64("total_pool", result.TotalPool),
		slog.Int("payouts", len(result.Payouts)),
		slog.Int("refunds", len(result.Refunds)),
	)
}
