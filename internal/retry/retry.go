// Package retry classifies external call failures and applies bounded
// retry with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

// Kind is the result category of an external call
type Kind int

const (
	KindOK Kind = iota
	KindRetryable
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindRetryable:
		return "retryable"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

type temporary interface {
	Temporary() bool
}

// Classify maps an error to its kind. Errors that do not say otherwise are
// treated as retryable; the attempt bound keeps that safe.
func Classify(err error) Kind {
	if err == nil {
		return KindOK
	}
	if errors.Is(err, context.Canceled) {
		return KindFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindRetryable
	}

	var t temporary
	if errors.As(err, &t) {
		if t.Temporary() {
			return KindRetryable
		}
		return KindFatal
	}
	return KindRetryable
}

type markedError struct {
	err       error
	retryable bool
}

func (e *markedError) Error() string   { return e.err.Error() }
func (e *markedError) Unwrap() error   { return e.err }
func (e *markedError) Temporary() bool { return e.retryable }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err}
}

// Retryable marks err as transient
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, retryable: true}
}

// Policy bounds retries of one operation
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// OnRetry is called before waiting for the next attempt
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Backoff returns the wait after the given failed attempt (1-based):
// base * 2^(attempt-1), capped at 12x base and at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := 12
	if attempt < 5 {
		multiplier = min(1<<(attempt-1), 12)
	}

	backoff := time.Duration(multiplier) * p.BaseDelay
	if p.MaxDelay > 0 && backoff > p.MaxDelay {
		return p.MaxDelay
	}
	return backoff
}

// Result reports how an operation ended
type Result struct {
	Kind     Kind
	Attempts int
	Err      error
}

// OK reports whether the operation eventually succeeded
func (r Result) OK() bool {
	return r.Kind == KindOK
}

// Do runs op until it succeeds, fails fatally or runs out of attempts.
// Waiting between attempts honours ctx.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error) Result {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = op(ctx, attempt)
		kind := Classify(err)
		if kind == KindOK {
			return Result{Kind: KindOK, Attempts: attempt}
		}
		if kind == KindFatal || attempt == maxAttempts {
			return Result{Kind: kind, Attempts: attempt, Err: err}
		}

		wait := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if serr := Sleep(ctx, wait); serr != nil {
			return Result{Kind: KindFatal, Attempts: attempt, Err: serr}
		}
	}
	return Result{Kind: KindRetryable, Attempts: maxAttempts, Err: err}
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
