package llm

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryPolicy bounds repeated calls to the generative collaborator.
// Total attempts never exceed MaxRetries+1. The delay before attempt k is
// Base*2^k plus jitter, capped at MaxDelay, so the sequence is
// non-decreasing until the cap.
type RetryPolicy struct {
	MaxRetries int           // default 3
	Base       time.Duration // default 500ms
	MaxDelay   time.Duration // default 8s
	Jitter     time.Duration // uniform [0, Jitter), default 250ms

	// sleep is injectable for tests. nil means a ctx-aware time sleep.
	sleep func(context.Context, time.Duration) error
	// randInt63n is injectable for deterministic jitter in tests.
	randInt63n func(int64) int64
}

func (p *RetryPolicy) defaults() {
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.Base <= 0 {
		p.Base = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 8 * time.Second
	}
	if p.Jitter <= 0 {
		p.Jitter = 250 * time.Millisecond
	}
	if p.sleep == nil {
		p.sleep = sleepCtx
	}
	if p.randInt63n == nil {
		p.randInt63n = rand.Int63n
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Delay returns the backoff before attempt k (0-based), without jitter
// applied. Exposed for tests asserting the non-decreasing sequence.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	d := p.Base << uint(attempt)
	if d > p.MaxDelay || d <= 0 { // <=0 guards shift overflow
		return p.MaxDelay
	}
	return d
}

// Retry invokes fn with the policy applied. Transient failures are retried
// until the attempt budget runs out; terminal failures short-circuit.
// The returned error is always a *ProviderError on failure.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	p.defaults()

	var zero T
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			d := p.Delay(attempt - 1)
			if p.Jitter > 0 {
				d += time.Duration(p.randInt63n(int64(p.Jitter)))
			}
			if d > p.MaxDelay {
				d = p.MaxDelay
			}
			if err := p.sleep(ctx, d); err != nil {
				return zero, wrapRetryErr(lastErr, err, attempt)
			}
		}

		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if IsTerminal(err) {
			var pe *ProviderError
			errors.As(err, &pe)
			pe.Attempts = attempt + 1
			return zero, pe
		}
		if ctx.Err() != nil {
			return zero, wrapRetryErr(lastErr, ctx.Err(), attempt+1)
		}
	}

	var pe *ProviderError
	if errors.As(lastErr, &pe) {
		pe.Attempts = p.MaxRetries + 1
		return zero, pe
	}
	return zero, &ProviderError{Provider: "unknown", Attempts: p.MaxRetries + 1, Err: lastErr}
}

func wrapRetryErr(lastErr, cause error, attempts int) *ProviderError {
	provider := "unknown"
	var pe *ProviderError
	if errors.As(lastErr, &pe) {
		provider = pe.Provider
	}
	if lastErr == nil {
		lastErr = cause
	}
	return &ProviderError{Provider: provider, Attempts: attempts, Err: lastErr}
}
