package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() Options {
	return Options{
		Concurrency:         2,
		QPS:                 1000,
		Burst:               1000,
		MaxRateLimitRetries: 2,
		BaseBackoff:         20 * time.Millisecond,
		MaxBackoff:          100 * time.Millisecond,
	}
}

func TestDoSuccess(t *testing.T) {
	g := New("test", fastOptions())
	calls := 0
	err := g.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoPassesThroughOtherErrors(t *testing.T) {
	g := New("test", fastOptions())
	boom := errors.New("boom")
	calls := 0
	err := g.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "non rate-limit errors are not retried")
}

func TestDoTimeout(t *testing.T) {
	opts := fastOptions()
	opts.Timeout = 20 * time.Millisecond
	g := New("slow", opts)

	err := g.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestDoParentCancellationIsNotTimeout(t *testing.T) {
	opts := fastOptions()
	opts.Timeout = time.Second
	g := New("cancel", opts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Do(ctx, func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, g.CooldownRemaining(), "cancellation never touches the shared cooldown")
}

func TestDoRetriesRateLimitedThenSucceeds(t *testing.T) {
	g := New("rl", fastOptions())
	calls := 0
	start := time.Now()
	err := g.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &RateLimitError{RetryAfter: 30 * time.Millisecond}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestDoRateLimitRetriesAreBounded(t *testing.T) {
	g := New("rl", fastOptions())
	calls := 0
	err := g.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return ErrRateLimited
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 3, calls, "initial call plus MaxRateLimitRetries")
}

func TestCooldownIsShared(t *testing.T) {
	opts := fastOptions()
	opts.MaxRateLimitRetries = 0
	opts.BaseBackoff = 80 * time.Millisecond
	opts.MaxBackoff = 80 * time.Millisecond
	g := New("shared", opts)

	_ = g.Do(context.Background(), func(ctx context.Context) error { return ErrRateLimited })
	assert.Greater(t, g.CooldownRemaining(), time.Duration(0))

	start := time.Now()
	require.NoError(t, g.Do(context.Background(), func(ctx context.Context) error { return nil }))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond, "an unrelated caller waits out the cooldown")
}

func TestConcurrencyBound(t *testing.T) {
	opts := fastOptions()
	opts.Concurrency = 2
	g := New("bounded", opts)

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(context.Background(), func(ctx context.Context) error {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRateLimitErrorIs(t *testing.T) {
	var err error = &RateLimitError{RetryAfter: time.Second, Err: errors.New("429")}
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Contains(t, err.Error(), "429")
}

func TestDoWithTimeoutOverridesDefault(t *testing.T) {
	opts := fastOptions()
	opts.Timeout = time.Hour
	g := New("override", opts)

	err := g.DoWithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, ErrTimeout)
}
