// Package httpapi talks to a transfer service over JSON/HTTP, such as the one
// started by `xferbench serve-mock`.
package httpapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"xferbench/internal/outcome"
)

// TransferRequest is the POST /transfer body.
type TransferRequest struct {
	Source      int   `json:"source"`
	Destination int   `json:"destination"`
	Amount      int64 `json:"amount"`
}

// TransferResponse carries "completed" or a reason name.
type TransferResponse struct {
	Result string `json:"result"`
}

type ResetRequest struct {
	NumAccounts    int   `json:"num_accounts"`
	InitialBalance int64 `json:"initial_balance"`
}

type BalanceResponse struct {
	Total int64 `json:"total"`
}

const ResultCompleted = "completed"

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, maxConns int, timeout time.Duration) *Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if maxConns < 100 {
		maxConns = 100
	}
	t.MaxIdleConns = maxConns
	t.MaxConnsPerHost = maxConns
	t.MaxIdleConnsPerHost = maxConns
	t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout, Transport: t},
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && resp.StatusCode < 300 {
			return resp.StatusCode, errors.Wrap(err, "decode response")
		}
	}
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (c *Client) Transfer(ctx context.Context, src, dst int, amount int64) outcome.Outcome {
	var res TransferResponse
	status, err := c.do(ctx, http.MethodPost, "/transfer", TransferRequest{src, dst, amount}, &res)
	if err != nil {
		return classifyTransport(err)
	}
	if res.Result == "" {
		return outcome.Fail(outcome.Other, errors.Newf("transfer: status %d without result", status))
	}
	return FromResult(res.Result)
}

// FromResult maps the wire name back to an outcome.
func FromResult(result string) outcome.Outcome {
	if result == ResultCompleted {
		return outcome.Complete()
	}
	switch r := outcome.ParseReason(result); r {
	case outcome.InsufficientBalance, outcome.AccountNotFound, outcome.ConstraintViolation:
		return outcome.Reject(r)
	case outcome.SerializationConflict, outcome.ConnectionError:
		return outcome.Fail(r, errors.Newf("remote %s", result))
	default:
		return outcome.Fail(outcome.Other, errors.Newf("remote %s", result))
	}
}

// ResultName is the wire name of o.
func ResultName(o outcome.Outcome) string {
	if o.Kind == outcome.Completed {
		return ResultCompleted
	}
	return o.Reason.String()
}

func classifyTransport(err error) outcome.Outcome {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return outcome.Fail(outcome.Other, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return outcome.Fail(outcome.Other, err)
	}
	return outcome.Fail(outcome.ConnectionError, err)
}

func (c *Client) Reset(ctx context.Context, numAccounts int, initialBalance int64) error {
	status, err := c.do(ctx, http.MethodPost, "/reset", ResetRequest{numAccounts, initialBalance}, nil)
	if err != nil {
		return errors.Wrap(err, "reset")
	}
	if status != http.StatusOK {
		return errors.Newf("reset: unexpected status %d", status)
	}
	return nil
}

func (c *Client) TotalBalance(ctx context.Context) (int64, error) {
	var res BalanceResponse
	status, err := c.do(ctx, http.MethodGet, "/balance", nil, &res)
	if err != nil {
		return 0, errors.Wrap(err, "balance")
	}
	if status != http.StatusOK {
		return 0, errors.Newf("balance: unexpected status %d", status)
	}
	return res.Total, nil
}

func (c *Client) Ping(ctx context.Context) error {
	status, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		return errors.Wrap(err, "ping")
	}
	if status != http.StatusOK {
		return errors.Newf("ping: unexpected status %d", status)
	}
	return nil
}

func (c *Client) Close() error {
	c.HTTP.CloseIdleConnections()
	return nil
}
