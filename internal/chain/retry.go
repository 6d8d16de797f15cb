package chain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

// Retry discipline for every gateway call: up to 3 attempts, exponential
// backoff (1s, 2s, 4s). Retryability is a classified predicate over the
// error; non-retryable errors fail fast.
const maxAttempts = 3

var baseBackoff = time.Second

// Retryable classifies transient RPC failures: 429, 502/503, connection
// timeout/reset, DNS, socket-level errors. Bad requests and decoding
// failures are not retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case 429, 502, 503:
			return true
		}
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	// Some transports surface socket failures as plain strings.
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "i/o timeout")
}

// withRetry runs fn up to maxAttempts times, sleeping 1s/2s/4s between
// retryable failures.
func withRetry(logger *log.Logger, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
		if attempt < maxAttempts {
			delay := baseBackoff << (attempt - 1)
			logger.Printf("⚠️  %s attempt %d/%d failed, retrying in %s: %v", op, attempt, maxAttempts, delay, err)
			time.Sleep(delay)
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, maxAttempts, err)
}
