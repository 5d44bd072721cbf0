// Package rpc is a JSON-RPC client for a ledger node, plus a websocket
// notifier for signature confirmations.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourusername/votesphere/pkg/address"
	"github.com/yourusername/votesphere/pkg/clienterr"
	"github.com/yourusername/votesphere/pkg/crypto"
	"github.com/yourusername/votesphere/pkg/logging"
	"github.com/yourusername/votesphere/pkg/metrics"
	"github.com/yourusername/votesphere/pkg/txn"
)

// Config configures a Client
type Config struct {
	URL     string
	Timeout time.Duration
	// RequestsPerSecond limits outgoing calls; zero disables the limit
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Metrics           *metrics.Collector
}

// Client talks JSON-RPC 2.0 to a ledger node over HTTP
type Client struct {
	url     string
	http    *http.Client
	limiter *rate.Limiter
	log     logrus.FieldLogger
	metrics *metrics.Collector
}

// NewClient creates a new RPC client
func NewClient(cfg Config, log logrus.FieldLogger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &Client{
		url:     cfg.URL,
		http:    hc,
		limiter: limiter,
		log:     logging.OrDiscard(log).WithField("component", "rpc"),
		metrics: cfg.Metrics,
	}
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
	ID     string          `json:"id"`
}

// Call executes one JSON-RPC request and decodes the result into out.
// Transport failures, 429/5xx responses and node-health errors come back
// classified as clienterr network errors.
func (c *Client) Call(ctx context.Context, method string, params []any, out any) (err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = clienterr.KindOf(err).String()
			c.log.WithField("method", method).WithError(err).Debug("rpc call failed")
		}
		c.metrics.ObserveRPC(method, result, time.Since(start))
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit wait: %w", method, err)
	}

	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", method, ctx.Err())
		}
		return clienterr.Network(method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return clienterr.Network(method, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return clienterr.Network(method, fmt.Errorf("HTTP %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: HTTP %d: %s", method, resp.StatusCode, bytes.TrimSpace(respBody))
	}

	var rpcResp response
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Transient() {
			return clienterr.Network(method, rpcResp.Error)
		}
		return fmt.Errorf("%s: %w", method, rpcResp.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("failed to parse %s result: %w", method, err)
	}
	return nil
}

// GetAccountInfo returns the account at addr, or nil with no error when it does not exist
func (c *Client) GetAccountInfo(ctx context.Context, addr address.Address, commitment Commitment) (*Account, error) {
	var res contextResult[*Account]
	cfg := map[string]any{"encoding": "base64", "commitment": commitment}
	if err := c.Call(ctx, "getAccountInfo", []any{addr.String(), cfg}, &res); err != nil {
		return nil, err
	}
	return res.Value, nil
}

// GetProgramAccounts returns every account owned by program that passes all filters
func (c *Client) GetProgramAccounts(ctx context.Context, program address.Address, commitment Commitment, filters ...Filter) ([]KeyedAccount, error) {
	cfg := map[string]any{"encoding": "base64", "commitment": commitment}
	if len(filters) > 0 {
		cfg["filters"] = filters
	}
	var res []KeyedAccount
	if err := c.Call(ctx, "getProgramAccounts", []any{program.String(), cfg}, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetLatestBlockhash returns a recent blockhash to build transactions against
func (c *Client) GetLatestBlockhash(ctx context.Context, commitment Commitment) (*Blockhash, error) {
	var res contextResult[Blockhash]
	if err := c.Call(ctx, "getLatestBlockhash", []any{map[string]any{"commitment": commitment}}, &res); err != nil {
		return nil, err
	}
	return &res.Value, nil
}

// SendTransaction submits a serialized signed transaction and returns its signature
func (c *Client) SendTransaction(ctx context.Context, raw []byte, opts SendOptions) (txn.Signature, error) {
	opts.Encoding = "base64"
	var sig txn.Signature
	if err := c.Call(ctx, "sendTransaction", []any{crypto.EncodeBase64(raw), opts}, &sig); err != nil {
		return txn.Signature{}, err
	}
	return sig, nil
}

// GetSignatureStatuses returns one status per signature; unknown signatures map to nil
func (c *Client) GetSignatureStatuses(ctx context.Context, sigs ...txn.Signature) ([]*SignatureStatus, error) {
	strs := make([]string, len(sigs))
	for i, s := range sigs {
		strs[i] = s.String()
	}
	var res contextResult[[]*SignatureStatus]
	cfg := map[string]any{"searchTransactionHistory": true}
	if err := c.Call(ctx, "getSignatureStatuses", []any{strs, cfg}, &res); err != nil {
		return nil, err
	}
	if len(res.Value) != len(sigs) {
		return nil, fmt.Errorf("getSignatureStatuses: %d results for %d signatures", len(res.Value), len(sigs))
	}
	return res.Value, nil
}

// GetBalance returns the lamport balance of addr
func (c *Client) GetBalance(ctx context.Context, addr address.Address, commitment Commitment) (uint64, error) {
	var res contextResult[uint64]
	if err := c.Call(ctx, "getBalance", []any{addr.String(), map[string]any{"commitment": commitment}}, &res); err != nil {
		return 0, err
	}
	return res.Value, nil
}

// RequestAirdrop asks a test cluster to fund addr
func (c *Client) RequestAirdrop(ctx context.Context, addr address.Address, lamports uint64) (txn.Signature, error) {
	var sig txn.Signature
	if err := c.Call(ctx, "requestAirdrop", []any{addr.String(), lamports}, &sig); err != nil {
		return txn.Signature{}, err
	}
	return sig, nil
}

// AsError extracts the JSON-RPC error object from err, if any
func AsError(err error) (*Error, bool) {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}
