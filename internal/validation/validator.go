package validation

import (
	"fmt"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// register struct-level validation for FundLoanRequest to ensure the
	// XRPL addresses are plausible classic addresses and distinct.
	v.RegisterStructValidation(fundLoanStructValidation, FundLoanRequest{})

	return v
}

// fundLoanStructValidation checks both accounts look like classic XRPL
// addresses and that the funder is not paying themselves.
func fundLoanStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(FundLoanRequest)

	if !looksLikeXRPLAddress(req.FunderAddress) {
		sl.ReportError(req.FunderAddress, "funder_address", "FunderAddress", "xrpl_address", req.FunderAddress)
	}
	if !looksLikeXRPLAddress(req.BorrowerAddress) {
		sl.ReportError(req.BorrowerAddress, "borrower_address", "BorrowerAddress", "xrpl_address", req.BorrowerAddress)
	}
	if req.FunderAddress != "" && req.FunderAddress == req.BorrowerAddress {
		sl.ReportError(req.BorrowerAddress, "borrower_address", "BorrowerAddress", "distinct_accounts",
			fmt.Sprintf("funder and borrower are both %s", req.FunderAddress))
	}
}

// looksLikeXRPLAddress is a shape check only; signature verification is the
// wallet's job. Classic addresses are base58, start with r, 25 to 35 chars.
func looksLikeXRPLAddress(addr string) bool {
	if len(addr) < 25 || len(addr) > 35 || !strings.HasPrefix(addr, "r") {
		return false
	}
	for _, ch := range addr {
		if strings.ContainsRune("0OIl", ch) {
			return false
		}
		ok := (ch >= '1' && ch <= '9') || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
		if !ok {
			return false
		}
	}
	return true
}
