package chain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"syscall"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"http 429", rpc.HTTPError{StatusCode: 429, Status: "429 Too Many Requests"}, true},
		{"http 502", rpc.HTTPError{StatusCode: 502, Status: "502 Bad Gateway"}, true},
		{"http 503", rpc.HTTPError{StatusCode: 503, Status: "503 Service Unavailable"}, true},
		{"http 400", rpc.HTTPError{StatusCode: 400, Status: "400 Bad Request"}, false},
		{"http 401", rpc.HTTPError{StatusCode: 401, Status: "401 Unauthorized"}, false},
		{"http 500", rpc.HTTPError{StatusCode: 500, Status: "500 Internal Server Error"}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("fetch logs: %w", context.DeadlineExceeded), true},
		{"conn reset", syscall.ECONNRESET, true},
		{"conn refused", syscall.ECONNREFUSED, true},
		{"string reset", errors.New("read tcp: connection reset by peer"), true},
		{"io timeout string", errors.New("dial tcp: i/o timeout"), true},
		{"decode failure", errors.New("json: cannot unmarshal string"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Retryable(tc.err))
		})
	}
}

func TestWithRetryStopsAfterThreeAttempts(t *testing.T) {
	old := baseBackoff
	baseBackoff = time.Millisecond
	defer func() { baseBackoff = old }()

	attempts := 0
	err := withRetry(log.Default(), "eth_getLogs", func() error {
		attempts++
		return rpc.HTTPError{StatusCode: 429, Status: "429"}
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestWithRetryFailsFastOnNonRetryable(t *testing.T) {
	attempts := 0
	bad := rpc.HTTPError{StatusCode: 400, Status: "400"}
	err := withRetry(log.Default(), "eth_getLogs", func() error {
		attempts++
		return bad
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithRetrySucceedsAfterTransientFailure(t *testing.T) {
	old := baseBackoff
	baseBackoff = time.Millisecond
	defer func() { baseBackoff = old }()

	attempts := 0
	err := withRetry(log.Default(), "eth_blockNumber", func() error {
		attempts++
		if attempts < 2 {
			return syscall.ECONNRESET
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}
