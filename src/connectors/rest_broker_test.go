package connectors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"

	"tradecore/src/retry"
)

func TestRESTBrokerUsesSharedRetryPolicy(t *testing.T) {
	broker := NewRESTBroker("key", "secret", "https://broker.test")

	policy := retry.DefaultPolicy()
	require.Equal(t, policy.Attempts-1, broker.http.RetryCount)
	require.Equal(t, policy.BaseDelay, broker.http.RetryWaitTime)
	require.Equal(t, policy.MaxBackoff, broker.http.RetryMaxWaitTime)
}

func TestIsRetryableResp(t *testing.T) {
	resp := func(code int) *resty.Response {
		return &resty.Response{RawResponse: &http.Response{StatusCode: code}}
	}

	tests := []struct {
		name      string
		resp      *resty.Response
		err       error
		retryable bool
	}{
		{"transport error", nil, errors.New("connection reset"), true},
		{"server error", resp(http.StatusInternalServerError), nil, true},
		{"rate limited", resp(http.StatusTooManyRequests), nil, true},
		{"request timeout", resp(http.StatusRequestTimeout), nil, true},
		{"success", resp(http.StatusOK), nil, false},
		{"client error", resp(http.StatusBadRequest), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.retryable, isRetryableResp(tt.resp, tt.err))
		})
	}
}
