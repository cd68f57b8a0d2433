package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivewager/custodian/internal/domain"
	"github.com/hivewager/custodian/internal/hiveengine"
)

// fakeStore is an in-memory PredictionStore tracking receipts and status
// transitions exactly like the SQL implementation would.
type fakeStore struct {
	prediction domain.Prediction
	outcomes   []domain.Outcome
	stakes     []*domain.Stake
}

func (f *fakeStore) GetPrediction(ctx context.Context, id string) (domain.Prediction, error) {
	if id != f.prediction.ID {
		return domain.Prediction{}, domain.ErrNotFound
	}
	return f.prediction, nil
}

func (f *fakeStore) LoadGraph(ctx context.Context, id string) (domain.PredictionGraph, error) {
	if id != f.prediction.ID {
		return domain.PredictionGraph{}, domain.ErrNotFound
	}
	stakes := make([]domain.Stake, len(f.stakes))
	for i, s := range f.stakes {
		stakes[i] = *s
	}
	return domain.PredictionGraph{
		Prediction: f.prediction,
		Outcomes:   append([]domain.Outcome(nil), f.outcomes...),
		Stakes:     stakes,
	}, nil
}

func (f *fakeStore) TransitionStatus(ctx context.Context, id string, from, to domain.PredictionStatus) (bool, error) {
	if id != f.prediction.ID || f.prediction.Status != from {
		return false, nil
	}
	f.prediction.Status = to
	return true, nil
}

func (f *fakeStore) stake(id string) *domain.Stake {
	for _, s := range f.stakes {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (f *fakeStore) SetStakePayout(ctx context.Context, stakeID, txID string) error {
	s := f.stake(stakeID)
	if s == nil {
		return domain.ErrNotFound
	}
	s.PayoutTxID = &txID
	return nil
}

func (f *fakeStore) SetStakeRefund(ctx context.Context, stakeID, txID string) error {
	s := f.stake(stakeID)
	if s == nil {
		return domain.ErrNotFound
	}
	s.RefundTxID = &txID
	return nil
}

func (f *fakeStore) SetBurnReceipt(ctx context.Context, predictionID, txID string) error {
	f.prediction.BurnTxID = &txID
	return nil
}

func (f *fakeStore) SetRewardReceipt(ctx context.Context, predictionID, txID string) error {
	f.prediction.RewardTxID = &txID
	return nil
}

func (f *fakeStore) Finalize(ctx context.Context, id string, status domain.PredictionStatus, winningOutcomeID *string) error {
	f.prediction.Status = status
	f.prediction.WinningOutcomeID = winningOutcomeID
	return nil
}

// fakeTreasury records every broadcast token operation and can be told to
// fail after a fixed number of successes to simulate a mid-settlement
// crash.
type fakeTreasury struct {
	ops       []hiveengine.TokenOperation
	failAfter int // -1 means never fail
}

func (f *fakeTreasury) Account() string { return "wager.treasury" }

func (f *fakeTreasury) BroadcastToken(ctx context.Context, op hiveengine.TokenOperation) (string, error) {
	if f.failAfter >= 0 && len(f.ops) >= f.failAfter {
		return "", fmt.Errorf("node unreachable: %w", domain.ErrBroadcastFailed)
	}
	f.ops = append(f.ops, op)
	return "tx-" + strconv.Itoa(len(f.ops)), nil
}

// transfersTo returns the quantities of every transfer sent to account.
func (f *fakeTreasury) transfersTo(t *testing.T, account string) []string {
	t.Helper()
	var out []string
	for _, op := range f.ops {
		var p hiveengine.TransferPayload
		require.NoError(t, json.Unmarshal(op.Payload, &p))
		if p.To == account {
			out = append(out, p.Quantity)
		}
	}
	return out
}

type fakeAudit struct {
	events []string
}

func (f *fakeAudit) Log(ctx context.Context, event string, detail map[string]any) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAudit) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func newTestEngine(store *fakeStore, treasury *fakeTreasury) (*Engine, *fakeAudit) {
	builder := hiveengine.NewBuilder(hiveengine.Token{Symbol: "WAGER", Precision: 3}, "")
	audit := &fakeAudit{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(store, builder, treasury, audit, nil, nil, Defaults(), logger), audit
}

// twoSidedMarket: pool 200, alice stakes 100 on outcome A, bob 100 on B.
func twoSidedMarket() *fakeStore {
	return &fakeStore{
		prediction: domain.Prediction{ID: "p1", Status: domain.PredictionStatusLocked, TotalPool: 200},
		outcomes: []domain.Outcome{
			{ID: "oa", PredictionID: "p1", Label: "Yes", TotalStaked: 100, BackerCount: 1},
			{ID: "ob", PredictionID: "p1", Label: "No", TotalStaked: 100, BackerCount: 1},
		},
		stakes: []*domain.Stake{
			{ID: "s1", OutcomeID: "oa", Account: "alice", Amount: 100},
			{ID: "s2", OutcomeID: "ob", Account: "bob", Amount: 100},
		},
	}
}

func TestSettlementExampleScenario(t *testing.T) {
	store := twoSidedMarket()
	treasury := &fakeTreasury{failAfter: -1}
	engine, audit := newTestEngine(store, treasury)

	result, err := engine.ExecuteSettlement(context.Background(), "p1", "oa", "admin")
	require.NoError(t, err)

	assert.Equal(t, domain.PredictionStatusSettled, result.Status)
	require.NotNil(t, result.WinningOutcomeID)
	assert.Equal(t, "oa", *result.WinningOutcomeID)
	assert.InDelta(t, 20.0, result.Fees.Total, 1e-9)
	assert.InDelta(t, 10.0, result.Fees.Burn, 1e-9)
	assert.InDelta(t, 10.0, result.Fees.Reward, 1e-9)

	require.Len(t, result.Payouts, 1)
	assert.Equal(t, "alice", result.Payouts[0].Account)
	assert.InDelta(t, 180.0, result.Payouts[0].Amount, 1e-9)

	assert.Equal(t, []string{"180.000"}, treasury.transfersTo(t, "alice"))
	assert.Equal(t, []string{"10.000"}, treasury.transfersTo(t, "null"))
	assert.Equal(t, []string{"10.000"}, treasury.transfersTo(t, "wager.rewards"))
	assert.Empty(t, treasury.transfersTo(t, "bob"))

	assert.Equal(t, domain.PredictionStatusSettled, store.prediction.Status)
	assert.Equal(t, []string{"prediction_settled"}, audit.events)
}

func TestSettlementConservation(t *testing.T) {
	store := &fakeStore{
		prediction: domain.Prediction{ID: "p1", Status: domain.PredictionStatusLocked, TotalPool: 300},
		outcomes: []domain.Outcome{
			{ID: "oa", PredictionID: "p1", TotalStaked: 150, BackerCount: 2},
			{ID: "ob", PredictionID: "p1", TotalStaked: 150, BackerCount: 1},
		},
		stakes: []*domain.Stake{
			{ID: "s1", OutcomeID: "oa", Account: "alice", Amount: 100},
			{ID: "s2", OutcomeID: "oa", Account: "carol", Amount: 50},
			{ID: "s3", OutcomeID: "ob", Account: "bob", Amount: 150},
		},
	}
	treasury := &fakeTreasury{failAfter: -1}
	engine, _ := newTestEngine(store, treasury)

	result, err := engine.ExecuteSettlement(context.Background(), "p1", "oa", "admin")
	require.NoError(t, err)

	sum := result.Fees.Burn + result.Fees.Reward
	for _, p := range result.Payouts {
		sum += p.Amount
	}
	assert.InDelta(t, 300.0, sum, 1e-6)

	assert.Equal(t, []string{"180.000"}, treasury.transfersTo(t, "alice"))
	assert.Equal(t, []string{"90.000"}, treasury.transfersTo(t, "carol"))
}

func TestSettlementIdempotentResume(t *testing.T) {
	store := twoSidedMarket()

	// First attempt: the node dies after alice's payout broadcast.
	treasury := &fakeTreasury{failAfter: 1}
	engine, _ := newTestEngine(store, treasury)

	_, err := engine.ExecuteSettlement(context.Background(), "p1", "oa", "admin")
	require.ErrorIs(t, err, domain.ErrBroadcastFailed)

	// The crash left the prediction settling with alice's receipt recorded.
	assert.Equal(t, domain.PredictionStatusSettling, store.prediction.Status)
	require.NotNil(t, store.stake("s1").PayoutTxID)
	assert.Nil(t, store.prediction.BurnTxID)

	// Retry with the node healthy: alice must not be paid again.
	treasury.failAfter = -1
	result, err := engine.ExecuteSettlement(context.Background(), "p1", "oa", "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.PredictionStatusSettled, result.Status)

	assert.Equal(t, []string{"180.000"}, treasury.transfersTo(t, "alice"))
	assert.Equal(t, []string{"10.000"}, treasury.transfersTo(t, "null"))
	assert.Equal(t, []string{"10.000"}, treasury.transfersTo(t, "wager.rewards"))
}

func TestSettlementRejectsSecondRunAfterFinalize(t *testing.T) {
	store := twoSidedMarket()
	treasury := &fakeTreasury{failAfter: -1}
	engine, _ := newTestEngine(store, treasury)

	_, err := engine.ExecuteSettlement(context.Background(), "p1", "oa", "admin")
	require.NoError(t, err)
	broadcasts := len(treasury.ops)

	_, err = engine.ExecuteSettlement(context.Background(), "p1", "oa", "admin")
	require.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, broadcasts, len(treasury.ops), "no broadcasts after terminal status")
}

func TestSettlementDegenerateSingleOutcome(t *testing.T) {
	store := &fakeStore{
		prediction: domain.Prediction{ID: "p1", Status: domain.PredictionStatusLocked, TotalPool: 150},
		outcomes: []domain.Outcome{
			{ID: "oa", PredictionID: "p1", TotalStaked: 150, BackerCount: 2},
			{ID: "ob", PredictionID: "p1", TotalStaked: 0},
		},
		stakes: []*domain.Stake{
			{ID: "s1", OutcomeID: "oa", Account: "alice", Amount: 100},
			{ID: "s2", OutcomeID: "oa", Account: "bob", Amount: 50},
		},
	}
	treasury := &fakeTreasury{failAfter: -1}
	engine, _ := newTestEngine(store, treasury)

	result, err := engine.ExecuteSettlement(context.Background(), "p1", "oa", "admin")
	require.NoError(t, err)

	assert.Equal(t, domain.PredictionStatusRefunded, result.Status)
	assert.Zero(t, result.Fees.Total)
	assert.Zero(t, result.Fees.Burn)
	assert.Zero(t, result.Fees.Reward)
	assert.Empty(t, result.Payouts)

	assert.Equal(t, []string{"100.000"}, treasury.transfersTo(t, "alice"))
	assert.Equal(t, []string{"50.000"}, treasury.transfersTo(t, "bob"))
	assert.Empty(t, treasury.transfersTo(t, "null"))
}

func TestSettlementDegenerateNoWinningBackers(t *testing.T) {
	store := twoSidedMarket()
	store.outcomes = append(store.outcomes, domain.Outcome{ID: "oc", PredictionID: "p1", Label: "Maybe"})
	treasury := &fakeTreasury{failAfter: -1}
	engine, _ := newTestEngine(store, treasury)

	// Outcome oc exists but nobody backed it.
	result, err := engine.ExecuteSettlement(context.Background(), "p1", "oc", "admin")
	require.NoError(t, err)

	assert.Equal(t, domain.PredictionStatusRefunded, result.Status)
	assert.Equal(t, []string{"100.000"}, treasury.transfersTo(t, "alice"))
	assert.Equal(t, []string{"100.000"}, treasury.transfersTo(t, "bob"))
}

func TestSettlementInvalidOutcome(t *testing.T) {
	store := twoSidedMarket()
	engine, _ := newTestEngine(store, &fakeTreasury{failAfter: -1})

	_, err := engine.ExecuteSettlement(context.Background(), "p1", "not-an-outcome", "admin")
	require.ErrorIs(t, err, domain.ErrInvalidOutcome)
}

func TestSettlementNotFound(t *testing.T) {
	store := twoSidedMarket()
	engine, _ := newTestEngine(store, &fakeTreasury{failAfter: -1})

	_, err := engine.ExecuteSettlement(context.Background(), "missing", "oa", "admin")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSettlementRejectsOpenPrediction(t *testing.T) {
	store := twoSidedMarket()
	store.prediction.Status = domain.PredictionStatusOpen
	engine, _ := newTestEngine(store, &fakeTreasury{failAfter: -1})

	_, err := engine.ExecuteSettlement(context.Background(), "p1", "oa", "admin")
	require.ErrorIs(t, err, domain.ErrInvalidState)

	var serr *domain.StateError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, domain.PredictionStatusOpen, serr.From)
}

func TestVoidRefund(t *testing.T) {
	store := twoSidedMarket()
	treasury := &fakeTreasury{failAfter: -1}
	engine, audit := newTestEngine(store, treasury)

	result, err := engine.ExecuteVoidRefund(context.Background(), "p1", "event cancelled", "admin")
	require.NoError(t, err)

	assert.Equal(t, domain.PredictionStatusRefunded, result.Status)
	require.Len(t, result.Refunds, 2)
	assert.Equal(t, []string{"100.000"}, treasury.transfersTo(t, "alice"))
	assert.Equal(t, []string{"100.000"}, treasury.transfersTo(t, "bob"))
	assert.Equal(t, []string{"prediction_voided"}, audit.events)
}

func TestVoidRefundFromOpen(t *testing.T) {
	store := twoSidedMarket()
	store.prediction.Status = domain.PredictionStatusOpen
	engine, _ := newTestEngine(store, &fakeTreasury{failAfter: -1})

	result, err := engine.ExecuteVoidRefund(context.Background(), "p1", "event cancelled", "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.PredictionStatusRefunded, result.Status)
}

func TestVoidRefundResumesInterruptedRun(t *testing.T) {
	store := twoSidedMarket()
	treasury := &fakeTreasury{failAfter: 1}
	engine, _ := newTestEngine(store, treasury)

	_, err := engine.ExecuteVoidRefund(context.Background(), "p1", "event cancelled", "admin")
	require.ErrorIs(t, err, domain.ErrBroadcastFailed)
	assert.Equal(t, domain.PredictionStatusVoided, store.prediction.Status)

	treasury.failAfter = -1
	result, err := engine.ExecuteVoidRefund(context.Background(), "p1", "event cancelled", "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.PredictionStatusRefunded, result.Status)

	// Exactly one refund per stake across both attempts.
	assert.Equal(t, []string{"100.000"}, treasury.transfersTo(t, "alice"))
	assert.Equal(t, []string{"100.000"}, treasury.transfersTo(t, "bob"))
}

func TestVoidRefundRejectsSettled(t *testing.T) {
	store := twoSidedMarket()
	store.prediction.Status = domain.PredictionStatusSettled
	engine, _ := newTestEngine(store, &fakeTreasury{failAfter: -1})

	_, err := engine.ExecuteVoidRefund(context.Background(), "p1", "too late", "admin")
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestNoStakeIsPaidAndRefunded(t *testing.T) {
	store := twoSidedMarket()
	paid := "tx-existing"
	store.stake("s1").PayoutTxID = &paid
	store.prediction.Status = domain.PredictionStatusLocked

	treasury := &fakeTreasury{failAfter: -1}
	engine, _ := newTestEngine(store, treasury)

	result, err := engine.ExecuteVoidRefund(context.Background(), "p1", "operator error", "admin")
	require.NoError(t, err)

	// The paid stake is skipped, never refunded on top of its payout.
	assert.Nil(t, store.stake("s1").RefundTxID)
	assert.Empty(t, treasury.transfersTo(t, "alice"))
	require.Len(t, result.Refunds, 1)
	assert.Equal(t, "bob", result.Refunds[0].Account)
}
