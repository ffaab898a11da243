package rpc

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int
	Message string
	Data    string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// IsRevert reports whether the node flagged the call as reverted.
// Geth and most forks use code 3 with "execution reverted".
func (e *RPCError) IsRevert() bool {
	return e.Code == 3 || strings.Contains(e.Message, "execution reverted")
}

// HTTPStatusError is a non-200 answer from the endpoint or a gateway in front of it.
type HTTPStatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *HTTPStatusError) Error() string {
	msg := fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += " (body: " + e.Body + ")"
	}
	return msg
}

// IsRetryable is true for throttling and gateway failures.
func (e *HTTPStatusError) IsRetryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// parseRetryAfter accepts delay-seconds or an HTTP date. Unparseable or
// past values yield 0.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// MaybeDelivered reports whether a failed request may still have reached the
// node: it timed out after being sent and no answer was read.
func MaybeDelivered(err error) bool {
	var rpcErr *RPCError
	var statusErr *HTTPStatusError
	if errors.As(err, &rpcErr) || errors.As(err, &statusErr) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
