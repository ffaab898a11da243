// Package rpc is the JSON-RPC transport: one POST per call, bounded retries
// for network failures and overloaded gateways, optional request pacing.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gateway-fm/faucetbot/internal/ratelimit"
)

// Client is the node surface the chain layer is built on.
type Client interface {
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)

	SendRawTransaction(ctx context.Context, txRLP []byte) (string, error)
	// GetNonce counts pending transactions too.
	GetNonce(ctx context.Context, address string) (uint64, error)
	GetCode(ctx context.Context, address string) (string, error)
	GetGasPrice(ctx context.Context) (*big.Int, error)
	GetBalance(ctx context.Context, address string) (*big.Int, error)
	// GetTransactionReceipt returns nil, nil while the transaction is unmined.
	GetTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)
	EthCall(ctx context.Context, msg CallMsg) ([]byte, error)
	EstimateGas(ctx context.Context, msg CallMsg) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	NetVersion(ctx context.Context) (string, error)
}

// unsafeToRepeat lists methods that are never re-posted: a lost response may
// hide a request the node already acted on.
var unsafeToRepeat = map[string]bool{
	"eth_sendRawTransaction": true,
}

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      uint64 `json:"id"`
}

type response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is the error member of a JSON-RPC response.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Observer is told about every HTTP round trip, retries included.
type Observer func(method string, success bool, latency time.Duration)

type ClientConfig struct {
	URL     string
	Timeout time.Duration
	// MaxRetries counts retries after the first request.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// RateLimit is requests per second; 0 disables pacing.
	RateLimit float64
	Observer  Observer
	Logger    *slog.Logger
}

// DefaultClientConfig is tuned for a public testnet endpoint.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:            url,
		Timeout:        10 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// HTTPClient implements Client over HTTP POST.
type HTTPClient struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	ids     atomic.Uint64
}

func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	c := &HTTPClient{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: cfg.Logger,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if cfg.RateLimit > 0 {
		c.limiter = ratelimit.New(cfg.RateLimit)
	}
	return c
}

// Call sends one request, retrying network errors and 429/502/503/504.
// RPC-level errors and other HTTP statuses are returned immediately, and
// eth_sendRawTransaction is never retried.
func (c *HTTPClient) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(Request{JSONRPC: "2.0", Method: method, Params: params, ID: c.ids.Add(1)})
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	backoff := c.cfg.InitialBackoff
	for attempt := 1; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		start := time.Now()
		result, err := c.post(ctx, body)
		if c.cfg.Observer != nil {
			c.cfg.Observer(method, err == nil, time.Since(start))
		}
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		delay, retry := retryDelay(err, backoff)
		if !retry || unsafeToRepeat[method] {
			return nil, err
		}
		if attempt > c.cfg.MaxRetries {
			return nil, fmt.Errorf("%s failed after %d attempts: %w", method, attempt, err)
		}
		c.logger.Debug("Retrying RPC call",
			slog.String("method", method),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, c.cfg.MaxBackoff)
	}
}

func (c *HTTPClient) post(ctx context.Context, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Body:       string(snippet),
		}
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != nil {
		return nil, &RPCError{Code: out.Error.Code, Message: out.Error.Message, Data: string(out.Error.Data)}
	}
	return out.Result, nil
}

// retryDelay decides whether err is worth another attempt and how long to
// wait first. A server supplied Retry-After wins over backoff.
func retryDelay(err error, backoff time.Duration) (time.Duration, bool) {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return 0, false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if !statusErr.IsRetryable() {
			return 0, false
		}
		if statusErr.RetryAfter > 0 {
			return statusErr.RetryAfter, true
		}
	}
	return backoff, true
}
