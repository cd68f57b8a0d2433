package domain

import "time"

// PredictionStatus represents the lifecycle state of a prediction market.
//
// Transitions are one-way: open → locked → settling → settled|refunded,
// with the independent void path open|locked → voided → refunded.
type PredictionStatus string

const (
	PredictionStatusOpen     PredictionStatus = "open"
	PredictionStatusLocked   PredictionStatus = "locked"
	PredictionStatusSettling PredictionStatus = "settling"
	PredictionStatusSettled  PredictionStatus = "settled"
	PredictionStatusVoided   PredictionStatus = "voided"
	PredictionStatusRefunded PredictionStatus = "refunded"
)

// Terminal reports whether the status admits no further transitions.
func (s PredictionStatus) Terminal() bool {
	return s == PredictionStatusSettled || s == PredictionStatusRefunded
}

// Prediction is a wagering market on a real-world event. It is created
// externally in status open; this subsystem owns everything from lock to
// terminal payout.
type Prediction struct {
	ID               string
	Title            string
	Status           PredictionStatus
	TotalPool        float64
	WinningOutcomeID *string
	BurnTxID         *string // receipt for the fee-burn transfer
	RewardTxID       *string // receipt for the fee-reward transfer
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Outcome is one candidate result of a prediction.
type Outcome struct {
	ID           string
	PredictionID string
	Label        string
	TotalStaked  float64
	BackerCount  int
}

// Stake is one user's wager on one outcome. A stake with a non-nil receipt
// field is terminal for that action and must never be paid or refunded again.
type Stake struct {
	ID         string
	OutcomeID  string
	Account    string
	Amount     float64
	PayoutTxID *string
	RefundTxID *string
	CreatedAt  time.Time
}

// PredictionGraph is the full aggregate the settlement engine operates on.
type PredictionGraph struct {
	Prediction Prediction
	Outcomes   []Outcome
	Stakes     []Stake
}

// Outcome returns the outcome with the given id, or nil if it does not
// belong to this prediction.
func (g *PredictionGraph) Outcome(id string) *Outcome {
	for i := range g.Outcomes {
		if g.Outcomes[i].ID == id {
			return &g.Outcomes[i]
		}
	}
	return nil
}

// StakesOn returns the stakes placed on the given outcome.
func (g *PredictionGraph) StakesOn(outcomeID string) []Stake {
	var out []Stake
	for _, s := range g.Stakes {
		if s.OutcomeID == outcomeID {
			out = append(out, s)
		}
	}
	return out
}

// BackedOutcomes returns the number of distinct outcomes that carry at
// least one stake.
func (g *PredictionGraph) BackedOutcomes() int {
	seen := make(map[string]struct{})
	for _, s := range g.Stakes {
		seen[s.OutcomeID] = struct{}{}
	}
	return len(seen)
}
