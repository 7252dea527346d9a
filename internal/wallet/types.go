package wallet

// PayloadRequest is the shareable reference returned when a signable payload
// is created. Immutable once created; the poller only ever reads the ID.
type PayloadRequest struct {
	ID        string
	DeepLink  string
	QRPayload string
}

// Outcome of a status snapshot. The service guarantees at most one
// non-pending outcome per payload.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeSigned
	OutcomeCancelled
	OutcomeExpired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSigned:
		return "signed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeExpired:
		return "expired"
	default:
		return "pending"
	}
}

// PayloadStatus is a polled snapshot. SignerAccount and TxID are only set
// when Outcome is OutcomeSigned.
type PayloadStatus struct {
	Resolved      bool
	Outcome       Outcome
	SignerAccount string
	TxID          string
}

// PaymentParams describes a loan-funding payment payload.
type PaymentParams struct {
	LoanID        string
	FunderID      string
	FunderAddress string
	Destination   string
	AmountXRP     float64
}
