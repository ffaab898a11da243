package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestRPCError(t *testing.T) {
	err := &RPCError{Code: -32000, Message: "nonce too low"}
	if got := err.Error(); got != "RPC error -32000: nonce too low" {
		t.Errorf("Error() = %q", got)
	}
}

func TestHTTPStatusError(t *testing.T) {
	tests := []struct {
		name       string
		err        HTTPStatusError
		wantString string
		wantRetry  bool
	}{
		{
			name:       "429 Too Many Requests",
			err:        HTTPStatusError{StatusCode: 429, Body: "rate limited"},
			wantString: "HTTP 429: Too Many Requests (body: rate limited)",
			wantRetry:  true,
		},
		{
			name:       "502 Bad Gateway",
			err:        HTTPStatusError{StatusCode: 502},
			wantString: "HTTP 502: Bad Gateway",
			wantRetry:  true,
		},
		{
			name:       "503 Service Unavailable",
			err:        HTTPStatusError{StatusCode: 503},
			wantString: "HTTP 503: Service Unavailable",
			wantRetry:  true,
		},
		{
			name:       "504 Gateway Timeout",
			err:        HTTPStatusError{StatusCode: 504},
			wantString: "HTTP 504: Gateway Timeout",
			wantRetry:  true,
		},
		{
			name:       "400 Bad Request not retryable",
			err:        HTTPStatusError{StatusCode: 400, Body: "invalid request"},
			wantString: "HTTP 400: Bad Request (body: invalid request)",
			wantRetry:  false,
		},
		{
			name:       "500 Internal Server Error not retryable",
			err:        HTTPStatusError{StatusCode: 500},
			wantString: "HTTP 500: Internal Server Error",
			wantRetry:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantString {
				t.Errorf("HTTPStatusError.Error() = %q, want %q", got, tt.wantString)
			}
			if got := tt.err.IsRetryable(); got != tt.wantRetry {
				t.Errorf("HTTPStatusError.IsRetryable() = %v, want %v", got, tt.wantRetry)
			}
		})
	}
}

func TestRetryDelay(t *testing.T) {
	backoff := 100 * time.Millisecond

	tests := []struct {
		name      string
		err       error
		wantDelay time.Duration
		wantRetry bool
	}{
		{"Retry-After wins", &HTTPStatusError{StatusCode: 429, RetryAfter: 2 * time.Second}, 2 * time.Second, true},
		{"gateway error uses backoff", &HTTPStatusError{StatusCode: 503}, backoff, true},
		{"bad request is final", &HTTPStatusError{StatusCode: 400}, 0, false},
		{"RPC error is final", &RPCError{Code: -32000, Message: "nonce too low"}, 0, false},
		{"wrapped RPC error is final", fmt.Errorf("call: %w", &RPCError{Code: 3}), 0, false},
		{"network error uses backoff", errors.New("post: connection reset by peer"), backoff, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delay, retry := retryDelay(tt.err, backoff)
			if delay != tt.wantDelay || retry != tt.wantRetry {
				t.Errorf("retryDelay() = %v, %v, want %v, %v", delay, retry, tt.wantDelay, tt.wantRetry)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"0.5", 500 * time.Millisecond},
		{"-1", 0},
		{now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"soon", 0},
	}

	for _, tt := range tests {
		if got := parseRetryAfter(tt.in, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRPCErrorIsRevert(t *testing.T) {
	tests := []struct {
		name string
		err  RPCError
		want bool
	}{
		{"code 3", RPCError{Code: 3, Message: "execution reverted: already claimed"}, true},
		{"message only", RPCError{Code: -32000, Message: "execution reverted"}, true},
		{"nonce too low", RPCError{Code: -32000, Message: "nonce too low"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.IsRevert(); got != tt.want {
				t.Errorf("IsRevert() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultClientConfig(t *testing.T) {
	url := "https://testnet.storyrpc.io"
	cfg := DefaultClientConfig(url)

	if cfg.URL != url {
		t.Errorf("URL = %q, want %q", cfg.URL, url)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout, 10*time.Second)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.InitialBackoff != 250*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 250ms", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 2*time.Second {
		t.Errorf("MaxBackoff = %v, want 2s", cfg.MaxBackoff)
	}
}

// rpcServer answers JSON-RPC requests with handle(method) and counts calls.
func rpcServer(t *testing.T, handle func(req Request) (any, *ErrorObject, int)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad request body: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		result, rpcErr, status := handle(req)
		if status != 0 && status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testClient(url string) *HTTPClient {
	cfg := DefaultClientConfig(url)
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	return NewHTTPClient(cfg)
}

func TestCallRetriesRetryableStatus(t *testing.T) {
	srv, calls := rpcServer(t, func(req Request) (any, *ErrorObject, int) {
		if req.Method != "eth_gasPrice" {
			t.Errorf("method = %s", req.Method)
		}
		return "0x3b9aca00", nil, 0
	})
	var failures atomic.Int32
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failures.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		resp, err := http.Post(srv.URL, "application/json", r.Body)
		if err != nil {
			t.Errorf("proxy: %v", err)
			return
		}
		defer resp.Body.Close()
		_, _ = io.Copy(w, resp.Body)
	}))
	defer flaky.Close()

	price, err := testClient(flaky.URL).GetGasPrice(context.Background())
	if err != nil {
		t.Fatalf("GetGasPrice: %v", err)
	}
	if price.Int64() != 1_000_000_000 {
		t.Errorf("price = %s, want 1000000000", price)
	}
	if failures.Load() != 3 || calls.Load() != 1 {
		t.Errorf("failures=%d calls=%d, want 3/1", failures.Load(), calls.Load())
	}
}

func TestCallDoesNotRetryRPCError(t *testing.T) {
	srv, calls := rpcServer(t, func(req Request) (any, *ErrorObject, int) {
		return nil, &ErrorObject{Code: 3, Message: "execution reverted"}, 0
	})

	_, err := testClient(srv.URL).EstimateGas(context.Background(), CallMsg{To: "0x01"})
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *RPCError, got %v", err)
	}
	if !rpcErr.IsRevert() {
		t.Error("expected revert error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestGetTransactionReceiptNotFound(t *testing.T) {
	srv, _ := rpcServer(t, func(req Request) (any, *ErrorObject, int) {
		return nil, nil, 0
	})

	receipt, err := testClient(srv.URL).GetTransactionReceipt(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("GetTransactionReceipt: %v", err)
	}
	if receipt != nil {
		t.Errorf("receipt = %+v, want nil", receipt)
	}
}

func TestGetTransactionReceiptParsesStatus(t *testing.T) {
	srv, _ := rpcServer(t, func(req Request) (any, *ErrorObject, int) {
		return map[string]string{
			"transactionHash":   "0xabc",
			"status":            "0x0",
			"gasUsed":           "0x5208",
			"blockNumber":       "0x10",
			"effectiveGasPrice": "0x3b9aca00",
		}, nil, 0
	})

	receipt, err := testClient(srv.URL).GetTransactionReceipt(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("GetTransactionReceipt: %v", err)
	}
	if receipt.Status != 0 || receipt.GasUsed != 21000 || receipt.BlockNumber != 16 {
		t.Errorf("receipt = %+v", receipt)
	}
	if receipt.EffectiveGasPrice.Int64() != 1_000_000_000 {
		t.Errorf("effective gas price = %s", receipt.EffectiveGasPrice)
	}
}

func TestGetTransactionReceiptWithoutStatus(t *testing.T) {
	srv, _ := rpcServer(t, func(req Request) (any, *ErrorObject, int) {
		return map[string]string{"transactionHash": "0xabc", "blockNumber": "0x10"}, nil, 0
	})

	_, err := testClient(srv.URL).GetTransactionReceipt(context.Background(), "0xabc")
	if !errors.Is(err, errNoStatus) {
		t.Errorf("err = %v, want errNoStatus", err)
	}
}

func TestCallGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).GetGasPrice(context.Background())
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("err = %v, want wrapped HTTP 502", err)
	}
	if calls.Load() != 4 {
		t.Errorf("calls = %d, want 4", calls.Load())
	}
}

func TestSendRawTransactionIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).SendRawTransaction(context.Background(), []byte{0x01})
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want HTTP 503", err)
	}
	if MaybeDelivered(err) {
		t.Error("a 503 answer means the node never took the transaction")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestSendRawTransactionTimeoutMayHaveLanded(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	cfg := DefaultClientConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	cfg.InitialBackoff = time.Millisecond

	_, err := NewHTTPClient(cfg).SendRawTransaction(context.Background(), []byte{0x01})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !MaybeDelivered(err) {
		t.Errorf("MaybeDelivered(%v) = false, want true", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestMaybeDelivered(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"RPC error", &RPCError{Code: -32000, Message: "already known"}, false},
		{"HTTP status", &HTTPStatusError{StatusCode: 502}, false},
		{"connection refused", errors.New("post: connection refused"), false},
		{"client timeout", fmt.Errorf("post: %w", timeoutError{}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaybeDelivered(tt.err); got != tt.want {
				t.Errorf("MaybeDelivered() = %v, want %v", got, tt.want)
			}
		})
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestEthCallEncodesCallObject(t *testing.T) {
	srv, _ := rpcServer(t, func(req Request) (any, *ErrorObject, int) {
		if req.Method != "eth_call" || len(req.Params) != 2 {
			t.Errorf("unexpected request %s %v", req.Method, req.Params)
		}
		arg, _ := req.Params[0].(map[string]any)
		if arg["to"] != "0xrouter" || arg["data"] != "0xad5c4648" {
			t.Errorf("call arg = %v", arg)
		}
		if _, ok := arg["value"]; ok {
			t.Error("zero value should be omitted")
		}
		return "0x000000000000000000000000000000000000000000000000000000000000002a", nil, 0
	})

	out, err := testClient(srv.URL).EthCall(context.Background(), CallMsg{To: "0xrouter", Data: []byte{0xad, 0x5c, 0x46, 0x48}})
	if err != nil {
		t.Fatalf("EthCall: %v", err)
	}
	if len(out) != 32 || out[31] != 0x2a {
		t.Errorf("out = %x", out)
	}
}

func TestChainIdentity(t *testing.T) {
	srv, _ := rpcServer(t, func(req Request) (any, *ErrorObject, int) {
		switch req.Method {
		case "eth_chainId":
			return "0x523", nil, 0
		case "net_version":
			return "1315", nil, 0
		}
		return nil, &ErrorObject{Code: -32601, Message: "method not found"}, 0
	})
	c := testClient(srv.URL)

	id, err := c.ChainID(context.Background())
	if err != nil || id.Int64() != 1315 {
		t.Errorf("ChainID = %v, %v", id, err)
	}
	version, err := c.NetVersion(context.Background())
	if err != nil || version != "1315" {
		t.Errorf("NetVersion = %q, %v", version, err)
	}
}

func TestObserverSeesEveryAttempt(t *testing.T) {
	srv, _ := rpcServer(t, func(req Request) (any, *ErrorObject, int) {
		return "0x1", nil, 0
	})

	var observed atomic.Int32
	cfg := DefaultClientConfig(srv.URL)
	cfg.Observer = func(method string, success bool, _ time.Duration) {
		if method != "eth_getTransactionCount" || !success {
			t.Errorf("observer got %s success=%v", method, success)
		}
		observed.Add(1)
	}

	if _, err := NewHTTPClient(cfg).GetNonce(context.Background(), "0x01"); err != nil {
		t.Fatalf("GetNonce: %v", err)
	}
	if observed.Load() != 1 {
		t.Errorf("observed = %d, want 1", observed.Load())
	}
}
