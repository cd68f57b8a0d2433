package domain

// FeeBreakdown is the platform fee taken from a settled pool, split into the
// permanently burned portion and the rewards-pool portion.
type FeeBreakdown struct {
	Total  float64 `json:"total"`
	Burn   float64 `json:"burn"`
	Reward float64 `json:"reward"`
}

// Payment is one token transfer made during settlement: a winner payout or a
// stake refund.
type Payment struct {
	StakeID string  `json:"stake_id"`
	Account string  `json:"account"`
	Amount  float64 `json:"amount"`
	TxID    string  `json:"tx_id"`
}

// SettlementResult summarizes a completed settlement or void refund.
type SettlementResult struct {
	PredictionID     string           `json:"prediction_id"`
	Status           PredictionStatus `json:"status"`
	WinningOutcomeID *string          `json:"winning_outcome_id,omitempty"`
	TotalPool        float64          `json:"total_pool"`
	Fees             FeeBreakdown     `json:"fees"`
	Payouts          []Payment        `json:"payouts"`
	Refunds          []Payment        `json:"refunds"`
}
