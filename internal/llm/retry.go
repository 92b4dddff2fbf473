package llm

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/veya-engine/internal/apperr"
	"github.com/snarg/veya-engine/internal/metrics"
	"github.com/snarg/veya-engine/internal/retry"
)

// PolicyFunc returns the retry policy to use for the next call.
type PolicyFunc func() retry.Policy

// Retrying wraps a Provider so every call runs under retry.Do. For streams
// only the open call is retried: once fragments flow, errors go to the
// consumer as-is.
type Retrying struct {
	inner  Provider
	policy PolicyFunc
	log    zerolog.Logger
}

// WithRetry wraps p with the policy returned by policy at each call.
func WithRetry(p Provider, policy PolicyFunc, log zerolog.Logger) *Retrying {
	return &Retrying{
		inner:  p,
		policy: policy,
		log:    log.With().Str("provider", p.Name()).Str("model", p.Model()).Logger(),
	}
}

func (r *Retrying) Name() string  { return r.inner.Name() }
func (r *Retrying) Model() string { return r.inner.Model() }

func (r *Retrying) Stream(ctx context.Context, req Request) (Stream, error) {
	s, err := retry.Do(ctx, r.policy(), func(ctx context.Context) (Stream, error) {
		return r.inner.Stream(ctx, req)
	}, retry.WithOnRetry(r.onRetry))
	r.observe(err)
	return s, err
}

func (r *Retrying) Complete(ctx context.Context, req Request) (string, error) {
	out, err := retry.Do(ctx, r.policy(), func(ctx context.Context) (string, error) {
		return r.inner.Complete(ctx, req)
	}, retry.WithOnRetry(r.onRetry))
	r.observe(err)
	return out, err
}

func (r *Retrying) onRetry(attempt int, delay time.Duration, err error) {
	kind, _ := apperr.KindOf(err)
	metrics.ProviderRetriesTotal.WithLabelValues(r.inner.Name(), kind.String()).Inc()
	r.log.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", delay).Msg("text provider call failed, retrying")
}

func (r *Retrying) observe(err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		if kind, ok := apperr.KindOf(err); ok {
			outcome = kind.String()
		}
	}
	metrics.ProviderRequestsTotal.WithLabelValues(r.inner.Name(), outcome).Inc()
}
