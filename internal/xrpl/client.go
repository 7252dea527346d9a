// Package xrpl reads account balances from an XRPL JSON-RPC node, used to
// pre-check that a funder can cover a payment before a payload is created.
package xrpl

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const dropsPerXRP = 1_000_000

// rlusdIssuer is the trust-line issuer account for RLUSD on the testnet.
const rlusdIssuer = "rMxCkbh5KuWq3gF9W8K1HNu5cDLygjkT3Q"

// Balances holds the spendable amounts for an account.
type Balances struct {
	XRP   float64 `json:"xrp"`
	RLUSD float64 `json:"rlusd"`
}

// Client is a JSON-RPC client for a rippled node.
type Client struct {
	http *resty.Client
}

func NewClient(rpcURL string) *Client {
	c := resty.New().
		SetBaseURL(rpcURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")
	return &Client{http: c}
}

type rpcRequest struct {
	Method string                   `json:"method"`
	Params []map[string]interface{} `json:"params"`
}

type accountInfoResponse struct {
	Result struct {
		AccountData struct {
			Balance string `json:"Balance"`
		} `json:"account_data"`
	} `json:"result"`
}

type accountLinesResponse struct {
	Result struct {
		Lines []struct {
			Account  string `json:"account"`
			Currency string `json:"currency"`
			Balance  string `json:"balance"`
		} `json:"lines"`
	} `json:"result"`
}

// XRPBalance returns the account's XRP balance. A missing or unfunded
// account reads as zero.
func (c *Client) XRPBalance(ctx context.Context, account string) (float64, error) {
	var out accountInfoResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(rpcRequest{
			Method: "account_info",
			Params: []map[string]interface{}{{"account": account, "ledger_index": "validated"}},
		}).
		SetResult(&out).
		Post("")
	if err != nil {
		return 0, fmt.Errorf("xrpl: account_info: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("xrpl: account_info: node returned %s", resp.Status())
	}
	if out.Result.AccountData.Balance == "" {
		return 0, nil
	}
	drops, err := strconv.ParseFloat(out.Result.AccountData.Balance, 64)
	if err != nil {
		return 0, fmt.Errorf("xrpl: parse balance %q: %w", out.Result.AccountData.Balance, err)
	}
	return drops / dropsPerXRP, nil
}

// RLUSDBalance returns the account's RLUSD trust-line balance, or zero when
// no matching line exists.
func (c *Client) RLUSDBalance(ctx context.Context, account string) (float64, error) {
	var out accountLinesResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(rpcRequest{
			Method: "account_lines",
			Params: []map[string]interface{}{{"account": account, "ledger_index": "validated"}},
		}).
		SetResult(&out).
		Post("")
	if err != nil {
		return 0, fmt.Errorf("xrpl: account_lines: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("xrpl: account_lines: node returned %s", resp.Status())
	}
	for _, line := range out.Result.Lines {
		if line.Currency == "RLUSD" && line.Account == rlusdIssuer {
			bal, err := strconv.ParseFloat(line.Balance, 64)
			if err != nil {
				return 0, fmt.Errorf("xrpl: parse line balance %q: %w", line.Balance, err)
			}
			return bal, nil
		}
	}
	return 0, nil
}

// Balances fetches both balances for an account.
func (c *Client) Balances(ctx context.Context, account string) (*Balances, error) {
	xrp, err := c.XRPBalance(ctx, account)
	if err != nil {
		return nil, err
	}
	rlusd, err := c.RLUSDBalance(ctx, account)
	if err != nil {
		return nil, err
	}
	return &Balances{XRP: xrp, RLUSD: rlusd}, nil
}
