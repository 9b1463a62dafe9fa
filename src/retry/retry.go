package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logger "github.com/sirupsen/logrus"
)

// Default retry configuration, shared by storage and broker call sites.
const (
	defaultAttempts   = 5
	defaultBaseDelay  = 500 * time.Millisecond
	defaultMaxBackoff = 8 * time.Second
)

// ErrBusy marks a transient "resource locked/busy" condition. Callers can
// wrap storage or broker errors with it to opt into retrying.
var ErrBusy = errors.New("resource busy")

// Policy is a bounded exponential backoff policy.
type Policy struct {
	Attempts   int
	BaseDelay  time.Duration
	MaxBackoff time.Duration
}

// DefaultPolicy returns the shared policy for transient contention.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:   defaultAttempts,
		BaseDelay:  defaultBaseDelay,
		MaxBackoff: defaultMaxBackoff,
	}
}

// IsBusy reports whether err looks like transient storage or broker
// contention that is worth retrying.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBusy) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "resource busy") ||
		strings.Contains(msg, "too many connections")
}

// Do runs fn with bounded exponential backoff for busy errors. Each failed
// attempt except the last logs a single warning; the final failure logs a
// full error with diagnostic detail and is returned to the caller.
// Non-busy errors are returned immediately without retrying.
func Do(ctx context.Context, op string, fn func() error) error {
	return DoWithPolicy(ctx, op, DefaultPolicy(), fn)
}

// DoWithPolicy is Do with an explicit policy.
func DoWithPolicy(ctx context.Context, op string, policy Policy, fn func() error) error {
	if policy.Attempts <= 0 {
		policy.Attempts = defaultAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = defaultBaseDelay
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = defaultMaxBackoff
	}

	var lastErr error
	delay := policy.BaseDelay

	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s canceled: %w", op, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !IsBusy(lastErr) {
			return lastErr
		}

		if attempt == policy.Attempts {
			break
		}

		logger.WithFields(map[string]interface{}{
			"op":      op,
			"attempt": attempt,
			"max":     policy.Attempts,
			"delay":   delay.String(),
		}).Warn("transient contention, will retry")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", op, ctx.Err())
		case <-time.After(delay):
		}

		delay *= 2
		if delay > policy.MaxBackoff {
			delay = policy.MaxBackoff
		}
	}

	logger.WithFields(map[string]interface{}{
		"op":       op,
		"attempts": policy.Attempts,
	}).WithError(lastErr).Error("retries exhausted")

	return fmt.Errorf("%s failed after %d attempts: %w", op, policy.Attempts, lastErr)
}
