// Package wallet talks to the XUMM-style payload authorization service:
// creating signable payloads, polling their resolution and invalidating
// abandoned ones.
package wallet

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrCreateFailed wraps any failure to obtain a payload identifier. Callers
// must not start polling when they see it.
var ErrCreateFailed = errors.New("wallet: payload creation failed")

const dropsPerXRP = 1_000_000

// Client is a thin resty client for the platform payload API.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL, apiKey, apiSecret string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-API-Key", apiKey).
		SetHeader("X-API-Secret", apiSecret)
	return &Client{http: c}
}

type createResponse struct {
	UUID string `json:"uuid"`
	Next struct {
		Always string `json:"always"`
	} `json:"next"`
	Refs struct {
		QRPng string `json:"qr_png"`
	} `json:"refs"`
}

type statusResponse struct {
	Meta struct {
		Signed    bool `json:"signed"`
		Cancelled bool `json:"cancelled"`
		Expired   bool `json:"expired"`
		Resolved  bool `json:"resolved"`
	} `json:"meta"`
	Response struct {
		Account string `json:"account"`
		TxID    string `json:"txid"`
	} `json:"response"`
}

// CreateSignIn creates a sign-in payload. It calls the service exactly once
// and does not retry; retry policy belongs to the caller.
func (c *Client) CreateSignIn(ctx context.Context) (*PayloadRequest, error) {
	body := map[string]interface{}{
		"txjson": map[string]interface{}{
			"TransactionType": "SignIn",
		},
	}
	return c.create(ctx, body)
}

// CreatePayment creates a payment payload for funding a loan. The amount is
// converted to drops and the loan/funder pair rides along in a memo so the
// transaction can be identified on-ledger later.
func (c *Client) CreatePayment(ctx context.Context, p PaymentParams) (*PayloadRequest, error) {
	if p.Destination == "" {
		return nil, fmt.Errorf("%w: missing destination address", ErrCreateFailed)
	}
	if p.AmountXRP <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrCreateFailed)
	}

	memoData, err := json.Marshal(map[string]string{
		"loanId":   p.LoanID,
		"funderId": p.FunderID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode memo: %v", ErrCreateFailed, err)
	}

	drops := int64(math.Round(p.AmountXRP * dropsPerXRP))
	body := map[string]interface{}{
		"txjson": map[string]interface{}{
			"TransactionType": "Payment",
			"Account":         p.FunderAddress,
			"Destination":     p.Destination,
			"Amount":          fmt.Sprintf("%d", drops),
			"Memos": []map[string]interface{}{
				{
					"Memo": map[string]string{
						"MemoType": hexUpper([]byte("ripplefund:loan")),
						"MemoData": hexUpper(memoData),
					},
				},
			},
		},
		"custom_meta": map[string]string{
			"identifier": fmt.Sprintf("loan_funding_%s_%s", p.LoanID, p.FunderID),
		},
	}
	return c.create(ctx, body)
}

func (c *Client) create(ctx context.Context, body interface{}) (*PayloadRequest, error) {
	var out createResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/payload")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: service returned %s", ErrCreateFailed, resp.Status())
	}
	if out.UUID == "" {
		return nil, fmt.Errorf("%w: response missing uuid", ErrCreateFailed)
	}

	qr := out.Refs.QRPng
	if qr == "" {
		qr = out.Next.Always
	}
	return &PayloadRequest{
		ID:        out.UUID,
		DeepLink:  out.Next.Always,
		QRPayload: qr,
	}, nil
}

// Status fetches the current resolution snapshot for a payload. A returned
// error means transport failure; the caller retries within its budget.
func (c *Client) Status(ctx context.Context, payloadID string) (*PayloadStatus, error) {
	var out statusResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/payload/" + payloadID)
	if err != nil {
		return nil, fmt.Errorf("wallet: status: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("wallet: status: service returned %s", resp.Status())
	}

	st := &PayloadStatus{}
	switch {
	case out.Meta.Signed:
		st.Resolved = true
		st.Outcome = OutcomeSigned
		st.SignerAccount = out.Response.Account
		st.TxID = out.Response.TxID
	case out.Meta.Cancelled:
		st.Resolved = true
		st.Outcome = OutcomeCancelled
	case out.Meta.Expired:
		st.Resolved = true
		st.Outcome = OutcomeExpired
	default:
		st.Outcome = OutcomePending
	}
	return st, nil
}

// Invalidate asks the service to cancel a payload. Best effort: local
// cleanup never waits on it.
func (c *Client) Invalidate(ctx context.Context, payloadID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/payload/" + payloadID)
	if err != nil {
		return fmt.Errorf("wallet: invalidate: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("wallet: invalidate: service returned %s", resp.Status())
	}
	return nil
}

func hexUpper(b []byte) string {
	dst := make([]byte, hex.EncodedLen(len(b)))
	hex.Encode(dst, b)
	for i, c := range dst {
		if c >= 'a' && c <= 'f' {
			dst[i] = c - 'a' + 'A'
		}
	}
	return string(dst)
}
