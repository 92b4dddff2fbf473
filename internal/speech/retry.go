package speech

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/veya-engine/internal/apperr"
	"github.com/snarg/veya-engine/internal/metrics"
	"github.com/snarg/veya-engine/internal/retry"
)

// Retrying wraps one endpoint's Provider with retry.Do. Wrap endpoints
// before handing them to a Router so routing itself is never retried.
type Retrying struct {
	inner  Provider
	policy func() retry.Policy
	log    zerolog.Logger
}

// WithRetry wraps p with the policy returned by policy at each call.
func WithRetry(p Provider, policy func() retry.Policy, log zerolog.Logger) *Retrying {
	return &Retrying{
		inner:  p,
		policy: policy,
		log:    log.With().Str("provider", p.Name()).Logger(),
	}
}

func (r *Retrying) Name() string { return r.inner.Name() }

// Stream retries only opening the audio body.
func (r *Retrying) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	body, err := retry.Do(ctx, r.policy(), func(ctx context.Context) (io.ReadCloser, error) {
		return r.inner.Stream(ctx, req)
	}, retry.WithOnRetry(r.onRetry))
	r.observe(err)
	return body, err
}

func (r *Retrying) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	data, err := retry.Do(ctx, r.policy(), func(ctx context.Context) ([]byte, error) {
		return r.inner.Synthesize(ctx, req)
	}, retry.WithOnRetry(r.onRetry))
	r.observe(err)
	return data, err
}

func (r *Retrying) onRetry(attempt int, delay time.Duration, err error) {
	kind, _ := apperr.KindOf(err)
	metrics.ProviderRetriesTotal.WithLabelValues(r.inner.Name(), kind.String()).Inc()
	r.log.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", delay).Msg("speech provider call failed, retrying")
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
