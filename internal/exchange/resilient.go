package exchange

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	apperrors "github.com/johnayoung/go-trade-collector/internal/errors"
)

// RetryPolicy controls how ResilientTransport retries transport failures.
type RetryPolicy struct {
	MaxAttempts  int           // total attempts including the first; <= 1 disables retry
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.5,
	}
}

// ResilientTransport decorates a Transport with client-side rate limiting and
// exponential backoff on transport errors.
//
// Only transport errors are retried. Whatever the wrapped transport returns
// for a non-retryable failure is passed through untouched, and a request that
// eventually succeeds is indistinguishable from one that succeeded first time.
type ResilientTransport struct {
	next    Transport
	limiter *rate.Limiter
	policy  RetryPolicy
	logger  *slog.Logger
}

// NewResilientTransport wraps next. requestsPerSecond <= 0 disables the rate
// limiter.
func NewResilientTransport(next Transport, requestsPerSecond float64, policy RetryPolicy, logger *slog.Logger) *ResilientTransport {
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}

	return &ResilientTransport{
		next:    next,
		limiter: limiter,
		policy:  policy,
		logger:  logger,
	}
}

// Fetch implements Transport.
func (r *ResilientTransport) Fetch(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	var (
		body    []byte
		attempt int
	)

	operation := func() error {
		attempt++

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(apperrors.Transport("rate limit wait", err))
			}
		}

		b, err := r.next.Fetch(ctx, endpoint, query)
		if err != nil {
			if !apperrors.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			r.logger.Warn("exchange request failed, will retry",
				"endpoint", endpoint,
				"attempt", attempt,
				"error", err)
			return err
		}

		body = b
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(r.backOff(), ctx)); err != nil {
		// The backoff itself reports a bare context error when the caller
		// gives up between attempts.
		if apperrors.KindOf(err) == apperrors.KindUnknown {
			err = apperrors.Transport("GET "+endpoint, err)
		}
		return nil, err
	}
	return body, nil
}

func (r *ResilientTransport) backOff() backoff.BackOff {
	if r.policy.MaxAttempts <= 1 {
		return &backoff.StopBackOff{}
	}

	b := backoff.NewExponentialBackOff()
	if r.policy.InitialDelay > 0 {
		b.InitialInterval = r.policy.InitialDelay
	}
	if r.policy.MaxDelay > 0 {
		b.MaxInterval = r.policy.MaxDelay
	}
	if r.policy.Multiplier > 0 {
		b.Multiplier = r.policy.Multiplier
	}
	b.RandomizationFactor = r.policy.Jitter
	b.MaxElapsedTime = 0 // rely on the context and the attempt cap
	b.Reset()

	return backoff.WithMaxRetries(b, uint64(r.policy.MaxAttempts-1))
}

var _ Transport = (*ResilientTransport)(nil)
