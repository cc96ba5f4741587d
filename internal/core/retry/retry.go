// Package retry provides the bounded exponential-backoff executor used by
// the write path and the raw-aggregation fallback reader.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultRetries  = 3
	defaultMinDelay = 100 * time.Millisecond
	defaultMaxDelay = 2 * time.Second
	defaultFactor   = 2.0
)

// Options controls retry behavior. The delay before attempt n is
// min(MinDelay * Factor^n, MaxDelay). No jitter is applied, so correlated
// failures across callers retry in lockstep (accepted thundering-herd risk).
type Options struct {
	// Retries is the number of re-attempts after the first failure.
	Retries int

	// MinDelay is the delay before the first retry.
	MinDelay time.Duration

	// MaxDelay caps the per-attempt delay.
	MaxDelay time.Duration

	// Factor multiplies the delay after each attempt.
	Factor float64
}

// DefaultOptions returns the standard write-path retry policy.
func DefaultOptions() Options {
	return Options{
		Retries:  defaultRetries,
		MinDelay: defaultMinDelay,
		MaxDelay: defaultMaxDelay,
		Factor:   defaultFactor,
	}
}

func (o Options) normalized() Options {
	n := o
	if n.Retries < 0 {
		n.Retries = 0
	}
	if n.MinDelay <= 0 {
		n.MinDelay = defaultMinDelay
	}
	if n.MaxDelay <= 0 {
		n.MaxDelay = defaultMaxDelay
	}
	if n.Factor <= 0 {
		n.Factor = defaultFactor
	}
	return n
}

// Do executes op, retrying on failure per opts. After the final retry the
// last failure is propagated unchanged. Context cancellation aborts waiting
// between attempts and returns the context error.
//
// Callers are responsible for keeping terminal validation failures out of
// the executor; everything passed in is treated as retryable.
func Do(ctx context.Context, op func() error, opts Options) error {
	opts = opts.normalized()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.MinDelay
	b.MaxInterval = opts.MaxDelay
	b.Multiplier = opts.Factor
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // bounded by attempt count, not wall clock
	b.Reset()

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(opts.Retries)), ctx))
}

// DoDefault executes op with the standard policy.
func DoDefault(ctx context.Context, op func() error) error {
	return Do(ctx, op, DefaultOptions())
}
