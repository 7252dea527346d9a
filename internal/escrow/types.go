package escrow

import "time"

// Contribution statuses. PENDING means the row exists but the loan total has
// not been updated yet; RECORDED means bookkeeping is complete.
const (
	StatusPending  = "PENDING"
	StatusRecorded = "RECORDED"
)

// Contribution is the row stored in the contributions table, keyed by the
// signed transaction hash so a given signature is recorded at most once.
type Contribution struct {
	TxID          string    `dynamodbav:"tx_id"` // PK
	LoanID        string    `dynamodbav:"loan_id"`
	FunderID      string    `dynamodbav:"funder_id"`
	Amount        float64   `dynamodbav:"amount"`
	Status        string    `dynamodbav:"status"`
	ContributedAt time.Time `dynamodbav:"contributed_at"`
	UpdatedAt     time.Time `dynamodbav:"updated_at"`
}

// ContributionParams identifies one signed funding payment.
type ContributionParams struct {
	LoanID          string
	FunderID        string
	Amount          float64
	SignedReference string // transaction hash from the signed payload
}

// ReconcileEvent is published to the reconciliation queue when bookkeeping
// fails after the funds movement was already signed. The worker replays
// RecordContribution from it.
type ReconcileEvent struct {
	LoanID   string  `json:"loan_id"`
	FunderID string  `json:"funder_id"`
	Amount   float64 `json:"amount"`
	TxID     string  `json:"txid"`
	Reason   string  `json:"reason,omitempty"`
}
