// Package retry runs CRM calls through a small attempt/wait/retry-or-fail
// state machine. Only transient failures are retried.
package retry

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flexprice/billsync/internal/config"
	ierr "github.com/flexprice/billsync/internal/errors"
	"github.com/flexprice/billsync/internal/httpclient"
	"github.com/flexprice/billsync/internal/logger"
	"github.com/flexprice/billsync/internal/types"
)

// Classifier reports whether an error is worth another attempt
type Classifier func(err error) bool

// Retrier executes operations with exponential backoff
type Retrier struct {
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
	classify        Classifier
	newTimer        func() backoff.Timer
	onRetry         func(op string, attempt int, err error, wait time.Duration)
	logger          *logger.Logger
}

// Option customizes a Retrier
type Option func(*Retrier)

// WithClassifier replaces IsTransient as the retry classifier
func WithClassifier(c Classifier) Option {
	return func(r *Retrier) { r.classify = c }
}

// WithTimer replaces the wall clock timer used between attempts
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(r *Retrier) { r.newTimer = newTimer }
}

// WithRetryHook registers a callback invoked before every wait
func WithRetryHook(hook func(op string, attempt int, err error, wait time.Duration)) Option {
	return func(r *Retrier) { r.onRetry = hook }
}

// New creates a Retrier from the retry configuration
func New(cfg config.RetryConfig, log *logger.Logger, opts ...Option) *Retrier {
	r := &Retrier{
		maxAttempts:     cfg.MaxAttempts,
		initialInterval: cfg.InitialInterval,
		maxInterval:     cfg.MaxInterval,
		classify:        IsTransient,
		logger:          log,
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = 1
	}
	if r.initialInterval <= 0 {
		r.initialInterval = 500 * time.Millisecond
	}
	if r.maxInterval < r.initialInterval {
		r.maxInterval = r.initialInterval
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do runs fn until it succeeds, fails permanently, the attempts are exhausted
// or the context is done. The last error is returned unchanged.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.initialInterval
	eb.MaxInterval = r.maxInterval
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.maxAttempts-1)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !r.classify(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		r.logger.Warnw("retrying crm call",
			"run_id", types.GetRunID(ctx),
			"operation", op,
			"attempt", attempt,
			"max_attempts", r.maxAttempts,
			"wait", wait.String(),
			"error", err)
		if r.onRetry != nil {
			r.onRetry(op, attempt, err, wait)
		}
	}

	var timer backoff.Timer
	if r.newTimer != nil {
		timer = r.newTimer()
	}

	err := backoff.RetryNotifyWithTimer(operation, b, notify, timer)
	if err != nil && attempt > 1 {
		r.logger.Errorw("crm call failed after retries",
			"run_id", types.GetRunID(ctx),
			"operation", op,
			"attempts", attempt,
			"error", err)
	}
	return err
}

// IsTransient classifies rate limiting, server side failures and network
// errors as transient. Everything else, including context cancellation, is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if ierr.Is(err, context.Canceled) || ierr.Is(err, context.DeadlineExceeded) {
		return false
	}
	if ierr.IsRateLimited(err) {
		return true
	}
	if httpErr, ok := httpclient.IsHTTPError(err); ok {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	if ierr.As(err, &netErr) {
		return true
	}
	return false
}
