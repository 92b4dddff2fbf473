// Package retry runs fallible provider operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/snarg/veya-engine/internal/apperr"
)

// Policy is the retry budget for one provider kind. Treat it as immutable;
// callers swap in a new Policy value rather than editing a shared one.
type Policy struct {
	MaxRetries uint
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Default policies for text/vision and cast generation.
var (
	TextPolicy = Policy{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
	CastPolicy = Policy{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second}
)

var ErrInvalidPolicy = errors.New("retry: base delay exceeds max delay")

func (p Policy) Validate() error {
	if p.BaseDelay < 0 || p.MaxDelay < 0 || p.BaseDelay > p.MaxDelay {
		return ErrInvalidPolicy
	}
	return nil
}

// WithMaxRetries returns a copy of p with a different retry count.
func (p Policy) WithMaxRetries(n uint) Policy {
	p.MaxRetries = n
	return p
}

// Delay returns min(BaseDelay * 2^attempt, MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		if d >= p.MaxDelay || d > p.MaxDelay/2 {
			return p.MaxDelay
		}
		d *= 2
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

type options struct {
	onRetry func(attempt int, delay time.Duration, err error)
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option customizes a single Do call.
type Option func(*options)

// WithOnRetry registers a hook invoked before each backoff sleep.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(o *options) { o.onRetry = fn }
}

// WithSleep replaces the backoff sleeper.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = fn }
}

// Do invokes op until it succeeds, fails with a non-retryable error, or the
// retry budget is spent. Total invocations never exceed MaxRetries+1. When
// the budget is spent the last error is returned unchanged. A cancelled ctx
// aborts the pending sleep and returns ctx.Err().
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := options{sleep: sleepCtx}
	for _, fn := range opts {
		fn(&o)
	}

	var zero T
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !apperr.IsRetryable(err) || uint(attempt) >= p.MaxRetries {
			return zero, err
		}

		delay := p.Delay(attempt)
		if o.onRetry != nil {
			o.onRetry(attempt, delay, err)
		}
		if serr := o.sleep(ctx, delay); serr != nil {
			return zero, serr
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
