// Package retry decides whether a failed chunk write is attempted again.
package retry

import (
	"errors"
	"time"

	"github.com/tigerroll/pagebatch/pkg/batch/support/util/exception"
)

// RetryPolicy is an interface that defines retry logic.
type RetryPolicy interface {
	// ShouldRetry determines if a given error is retryable.
	ShouldRetry(err error) bool
	// GetBackoffInterval returns the wait before the given attempt (starting from 1).
	GetBackoffInterval(attempt int) time.Duration
	// GetMaxAttempts returns the maximum number of retry attempts.
	GetMaxAttempts() int
}

// NewRetryPolicy creates a policy retrying up to maxAttempts times with a fixed backoff.
// An error is retryable when it is a retryable BatchError or matches one of the
// registered error type names in retryableErrors.
func NewRetryPolicy(maxAttempts int, backoff time.Duration, retryableErrors ...string) RetryPolicy {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	return &defaultRetryPolicy{
		maxAttempts:     maxAttempts,
		backoff:         backoff,
		retryableErrors: retryableErrors,
	}
}

// NeverRetry returns a policy that never retries.
func NeverRetry() RetryPolicy {
	return &defaultRetryPolicy{}
}

type defaultRetryPolicy struct {
	maxAttempts     int
	backoff         time.Duration
	retryableErrors []string
}

func (p *defaultRetryPolicy) GetMaxAttempts() int {
	return p.maxAttempts
}

func (p *defaultRetryPolicy) ShouldRetry(err error) bool {
	if err == nil || p.maxAttempts == 0 {
		return false
	}
	var be *exception.BatchError
	if errors.As(err, &be) && be.IsRetryable() {
		return true
	}
	for _, typeName := range p.retryableErrors {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}
	return false
}

// GetBackoffInterval returns the same interval for every attempt.
func (p *defaultRetryPolicy) GetBackoffInterval(attempt int) time.Duration {
	return p.backoff
}

var _ RetryPolicy = (*defaultRetryPolicy)(nil)
