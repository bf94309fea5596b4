package llm

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/datakiln/refinery/pkg/llm/usage"
)

var (
	_ Completer     = (*PacedCompleter)(nil)
	_ UsageReporter = (*PacedCompleter)(nil)
)

// PacedCompleter wraps a Completer with a fixed inter-request delay and
// reactive retry on 429 and 5xx responses with exponential backoff and
// jitter. Calls are serialized; the delay is enforced between consecutive
// requests, not before the first one.
type PacedCompleter struct {
	inner      Completer
	mu         sync.Mutex
	delay      time.Duration // minimum gap between consecutive requests
	maxRetries int           // max retries on 429
	baseDelay  time.Duration // initial backoff delay
	lastCall   time.Time
	fallback   usage.Tracker // stable tracker when inner lacks UsageReporter

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
	// sleepFunc is used for testing; defaults to a context-aware sleep.
	sleepFunc func(ctx context.Context, d time.Duration) error
	// randFunc returns a random float64 in [0,1); used for jitter. Defaults to rand.Float64.
	randFunc func() float64
}

// PaceOpts configures the PacedCompleter.
type PaceOpts struct {
	Delay      time.Duration // Gap between consecutive requests (0 = none).
	MaxRetries int           // Max retries on 429 (default 3).
	BaseDelay  time.Duration // Initial backoff delay (default 1s).
}

// NewPacedCompleter wraps a Completer with pacing and retry.
func NewPacedCompleter(inner Completer, opts PaceOpts) *PacedCompleter {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}

	return &PacedCompleter{
		inner:      inner,
		delay:      opts.Delay,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		nowFunc:    time.Now,
		sleepFunc:  contextSleep,
		randFunc:   rand.Float64,
	}
}

// UsageTracker exposes the inner completer's usage tracker, or a stable
// empty tracker when the inner completer does not report usage.
func (p *PacedCompleter) UsageTracker() *usage.Tracker {
	if ur, ok := p.inner.(UsageReporter); ok {
		return ur.UsageTracker()
	}
	return &p.fallback
}

// SetNowFunc overrides the time source (for testing).
func (p *PacedCompleter) SetNowFunc(fn func() time.Time) { p.nowFunc = fn }

// SetSleepFunc overrides the sleep function (for testing).
func (p *PacedCompleter) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	p.sleepFunc = fn
}

// SetRandFunc overrides the random number generator (for testing).
func (p *PacedCompleter) SetRandFunc(fn func() float64) { p.randFunc = fn }

// contextSleep sleeps for d or until ctx is cancelled.
func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// jitter applies ±25% random jitter to a duration.
func (p *PacedCompleter) jitter(d time.Duration) time.Duration {
	// Scale factor in [0.75, 1.25).
	factor := 0.75 + p.randFunc()*0.5 //nolint:mnd // jitter range: ±25%
	return time.Duration(float64(d) * factor)
}

// waitForGap blocks until the configured delay since the previous request has
// elapsed, then claims the slot.
func (p *PacedCompleter) waitForGap(ctx context.Context) error {
	if p.delay <= 0 {
		return nil
	}

	for {
		p.mu.Lock()
		now := p.nowFunc()
		if p.lastCall.IsZero() || now.Sub(p.lastCall) >= p.delay {
			p.lastCall = now
			p.mu.Unlock()
			return nil
		}
		wait := p.delay - now.Sub(p.lastCall)
		p.mu.Unlock()

		if err := p.sleepFunc(ctx, wait); err != nil {
			return err
		}
	}
}

// Complete implements Completer with inter-request pacing and 429 retry.
func (p *PacedCompleter) Complete(ctx context.Context, req Request) (string, error) {
	if err := p.waitForGap(ctx); err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt < p.maxRetries+1; attempt++ {
		reply, err := p.inner.Complete(ctx, req)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		var (
			rle *RateLimitError
			sre *ServerError
		)
		if !errors.As(err, &rle) && !errors.As(err, &sre) {
			return "", err
		}
		if attempt == p.maxRetries {
			break
		}

		backoff := p.jitter(time.Duration(float64(p.baseDelay) * math.Pow(2, float64(attempt))))
		if rle != nil && rle.RetryAfter > backoff {
			backoff = rle.RetryAfter
		}

		if err := p.sleepFunc(ctx, backoff); err != nil {
			return "", err
		}
	}

	return "", lastErr
}
