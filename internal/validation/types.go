package validation

// FundLoanRequest is the payload for POST /loans/:id/fund
type FundLoanRequest struct {
	FunderID        string  `json:"funder_id" validate:"required"`        // business id for the funder
	FunderAddress   string  `json:"funder_address" validate:"required"`   // XRPL account of the funder
	BorrowerAddress string  `json:"borrower_address" validate:"required"` // XRPL account receiving the payment
	Amount          float64 `json:"amount" validate:"required,gt=0"`      // amount counted toward the loan
	AmountXRP       float64 `json:"amount_xrp" validate:"required,gt=0"`  // on-ledger XRP to request
}
