// Package gate bounds access to a shared, rate-limited external resource.
//
// Every call through a Gate holds a concurrency slot, waits on a token bucket
// and runs under a per-call timeout. A rate-limited response pushes back a
// cooldown deadline that all callers of the same Gate wait out before their
// next request, so a 429 slows the whole process down instead of triggering
// one retry loop per caller.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var (
	// ErrTimeout is returned when a call exceeds the gate's per-call timeout.
	ErrTimeout = errors.New("call timed out")

	// ErrRateLimited marks a 429-class response. Callers wrap it (or return a
	// *RateLimitError) so the gate can apply the shared backoff.
	ErrRateLimited = errors.New("rate limited")
)

// RateLimitError carries an optional server-provided retry hint.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrRateLimited) hold for every *RateLimitError.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// Options configures a Gate.
type Options struct {
	Concurrency int
	QPS         float64
	Burst       int
	// Timeout bounds each call; zero disables the per-call timeout.
	Timeout time.Duration
	// MaxRateLimitRetries is how many times a rate-limited call is retried
	// after the shared cooldown.
	MaxRateLimitRetries int
	BaseBackoff         time.Duration
	MaxBackoff          time.Duration
	Logger              *slog.Logger
}

// Gate guards one shared resource. Safe for concurrent use.
type Gate struct {
	name    string
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	opts    Options
	logger  *slog.Logger

	mu            sync.Mutex
	cooldownUntil time.Time
	strikes       int // consecutive rate-limit hits, reset on success
}

// New creates a Gate. Zero-valued options fall back to conservative defaults.
func New(name string, opts Options) *Gate {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.QPS <= 0 {
		opts.QPS = 1
	}
	if opts.Burst <= 0 {
		opts.Burst = max(1, int(opts.QPS))
	}
	if opts.MaxRateLimitRetries < 0 {
		opts.MaxRateLimitRetries = 0
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		name:    name,
		sem:     semaphore.NewWeighted(int64(opts.Concurrency)),
		limiter: rate.NewLimiter(rate.Limit(opts.QPS), opts.Burst),
		opts:    opts,
		logger:  logger.With("gate", name),
	}
}

// Name returns the gate's resource name.
func (g *Gate) Name() string { return g.name }

// Do runs fn through the gate. fn receives a context carrying the per-call
// timeout. A call that outlives the timeout returns an error wrapping
// ErrTimeout; cancellation of ctx itself returns ctx.Err().
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return g.DoWithTimeout(ctx, g.opts.Timeout, fn)
}

// DoWithTimeout is Do with a per-call timeout overriding the gate default.
func (g *Gate) DoWithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)

	for attempt := 0; ; attempt++ {
		if err := g.waitCooldown(ctx); err != nil {
			return err
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}

		err := g.call(ctx, timeout, fn)
		if err == nil {
			g.clearStrikes()
			return nil
		}
		if !errors.Is(err, ErrRateLimited) {
			return err
		}

		wait := g.backoff(err)
		if attempt >= g.opts.MaxRateLimitRetries {
			g.logger.Warn("rate limit retries exhausted", "attempts", attempt+1)
			return err
		}
		g.logger.Info("rate limited, cooling down", "cooldown_ms", wait.Milliseconds(), "attempt", attempt+1)
	}
}

func (g *Gate) call(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w after %s", g.name, ErrTimeout, timeout)
	}
	return err
}

// backoff extends the shared cooldown and returns its length.
func (g *Gate) backoff(err error) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.strikes++
	wait := g.opts.BaseBackoff << min(g.strikes-1, 16)
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > wait {
		wait = rl.RetryAfter
	}
	if wait > g.opts.MaxBackoff {
		wait = g.opts.MaxBackoff
	}

	until := time.Now().Add(wait)
	if until.After(g.cooldownUntil) {
		g.cooldownUntil = until
	}
	return wait
}

func (g *Gate) clearStrikes() {
	g.mu.Lock()
	g.strikes = 0
	g.mu.Unlock()
}

// waitCooldown blocks until the shared cooldown deadline has passed.
func (g *Gate) waitCooldown(ctx context.Context) error {
	for {
		g.mu.Lock()
		wait := time.Until(g.cooldownUntil)
		g.mu.Unlock()
		if wait <= 0 {
			return nil
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// CooldownRemaining reports how long new calls will wait before starting.
func (g *Gate) CooldownRemaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return max(0, time.Until(g.cooldownUntil))
}
