// Package rpc provides uniform, retrying, failover-capable access to the
// chain's JSON-RPC endpoints. Every call tries the primary endpoint with
// bounded exponential backoff, then fails over to the secondary with the
// same policy. Endpoint health is process-local: an endpoint that keeps
// failing is put on a cooldown instead of being hammered.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer-go/internal/constants"
)

// Config holds client configuration
type Config struct {
	Primary   string
	Secondary string
	Timeout   time.Duration
	// MaxRetries is the per-endpoint retry budget for transient failures
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
	Logger          *zap.Logger
}

// Client is a JSON-RPC 2.0 client over two configured endpoints.
type Client struct {
	endpoints []string
	http      *http.Client
	logger    *zap.Logger

	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration

	// circuit breaker bookkeeping, per endpoint
	mu               sync.Mutex
	failures         map[string]int
	cooling          map[string]time.Time
	breakerThreshold int
	breakerCooldown  time.Duration
}

// NewClient creates a new chain RPC client
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Primary == "" || cfg.Secondary == "" {
		return nil, fmt.Errorf("both primary and secondary endpoints are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultRPCTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = constants.DefaultMaxRetries
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = constants.DefaultInitialBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = constants.DefaultMaxBackoff
	}
	breakerFailures := cfg.BreakerFailures
	if breakerFailures <= 0 {
		breakerFailures = constants.DefaultBreakerFailures
	}
	breakerCooldown := cfg.BreakerCooldown
	if breakerCooldown <= 0 {
		breakerCooldown = constants.DefaultBreakerCooldown
	}

	return &Client{
		endpoints:        []string{cfg.Primary, cfg.Secondary},
		http:             &http.Client{Timeout: timeout},
		logger:           logger,
		maxRetries:       maxRetries,
		initialBackoff:   initialBackoff,
		maxBackoff:       maxBackoff,
		failures:         make(map[string]int),
		cooling:          make(map[string]time.Time),
		breakerThreshold: breakerFailures,
		breakerCooldown:  breakerCooldown,
	}, nil
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcErrorBody   `json:"error"`
}

type rpcErrorBody struct {
	Name  string `json:"name"`
	Cause struct {
		Name string `json:"name"`
	} `json:"cause"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Call invokes a JSON-RPC method, unmarshalling the result into out.
// It retries transient failures per endpoint with exponential backoff and
// fails over primary-to-secondary. A terminal error is returned only after
// both endpoints exhaust their retry budgets, or immediately for
// non-retryable errors (malformed responses, chain-level errors).
func (c *Client) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	var lastErr error

	for _, ep := range c.endpoints {
		if c.coolingDown(ep) {
			c.logger.Debug("skipping endpoint on cooldown", zap.String("endpoint", ep))
			continue
		}

		err := c.callWithRetry(ctx, ep, method, params, out)
		if err == nil {
			c.noteSuccess(ep)
			return nil
		}

		if !IsTransient(err) {
			// Chain-level or shape errors won't improve on another endpoint.
			return err
		}

		c.noteFailure(ep)
		lastErr = err
		c.logger.Warn("endpoint exhausted, failing over",
			zap.String("endpoint", ep),
			zap.String("method", method),
			zap.Error(err),
		)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("all endpoints cooling down")
	}
	return fmt.Errorf("%s: %w: %v", method, ErrEndpointsExhausted, lastErr)
}

// callWithRetry retries a single endpoint with exponential backoff until the
// retry budget runs out or a permanent error occurs.
func (c *Client) callWithRetry(ctx context.Context, endpoint, method string, params, out interface{}) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialBackoff
	bo.MaxInterval = c.maxBackoff
	bo.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		err := c.callOnce(ctx, endpoint, method, params, out)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		c.logger.Warn("rpc call failed, retrying",
			zap.String("endpoint", endpoint),
			zap.String("method", method),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.maxRetries)), ctx)
	return backoff.RetryNotify(operation, policy, notify)
}

// callOnce performs one HTTP round trip and classifies the outcome.
func (c *Client) callOnce(ctx context.Context, endpoint, method string, params, out interface{}) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      "dontcare",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Endpoint: endpoint, Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &TransientError{Endpoint: endpoint, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: http %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return &MalformedDataError{Method: method, Err: err}
	}

	if rpcResp.Error != nil {
		if isUnknownBlock(rpcResp.Error) {
			return ErrUnknownBlock
		}
		return fmt.Errorf("%s: rpc error %s: %s", method, rpcResp.Error.Name, rpcResp.Error.Message)
	}

	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return &MalformedDataError{Method: method, Err: err}
		}
	}
	return nil
}

func isUnknownBlock(e *rpcErrorBody) bool {
	if e.Cause.Name == "UNKNOWN_BLOCK" {
		return true
	}
	return strings.Contains(e.Message, "UNKNOWN_BLOCK") || strings.Contains(string(e.Data), "UNKNOWN_BLOCK")
}

// coolingDown reports whether the endpoint's breaker is open.
func (c *Client) coolingDown(ep string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.cooling[ep]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.cooling, ep)
		c.failures[ep] = 0
		return false
	}
	return true
}

func (c *Client) noteSuccess(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep] = 0
}

func (c *Client) noteFailure(ep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[ep]++
	if c.failures[ep] >= c.breakerThreshold {
		c.cooling[ep] = time.Now().Add(c.breakerCooldown)
		c.logger.Warn("endpoint cooling down",
			zap.String("endpoint", ep),
			zap.Duration("cooldown", c.breakerCooldown),
		)
	}
}

// LatestBlock returns the latest finalized block.
func (c *Client) LatestBlock(ctx context.Context) (*Block, error) {
	var block Block
	if err := c.Call(ctx, "block", map[string]interface{}{"finality": "final"}, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// BlockByHeight returns the block at the given height. Returns
// ErrUnknownBlock for skipped heights.
func (c *Client) BlockByHeight(ctx context.Context, height uint64) (*Block, error) {
	var block Block
	if err := c.Call(ctx, "block", map[string]interface{}{"block_id": height}, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// ChunkByHash returns the full chunk for the given chunk hash.
func (c *Client) ChunkByHash(ctx context.Context, chunkHash string) (*Chunk, error) {
	var chunk Chunk
	if err := c.Call(ctx, "chunk", map[string]interface{}{"chunk_id": chunkHash}, &chunk); err != nil {
		return nil, err
	}
	return &chunk, nil
}

// Validators returns the validator set for the given epoch id, or the
// current epoch when epochID is empty.
func (c *Client) Validators(ctx context.Context, epochID string) (*ValidatorsResponse, error) {
	var params interface{}
	if epochID == "" {
		params = []interface{}{nil}
	} else {
		params = []interface{}{map[string]string{"epoch_id": epochID}}
	}

	var resp ValidatorsResponse
	if err := c.Call(ctx, "validators", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TxStatus returns the transaction status with all receipt outcomes.
func (c *Client) TxStatus(ctx context.Context, txHash, senderID string) (*TxStatus, error) {
	var status TxStatus
	params := map[string]string{"tx_hash": txHash, "sender_account_id": senderID}
	if err := c.Call(ctx, "EXPERIMENTAL_tx_status", params, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
