package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	var retried []int
	p := fastPolicy(4)
	p.OnRetry = func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) }

	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []int{1, 2, 3}, retried)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return Permanent(errors.New("bad request"))
	})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestDo_RetryIfFilters(t *testing.T) {
	calls := 0
	p := fastPolicy(5)
	p.RetryIf = func(error) bool { return false }
	_ = Do(context.Background(), p, func(context.Context) error {
		calls++
		return errors.New("nope")
	})
	assert.Equal(t, 1, calls)
}

func TestDo_CancelAbortsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 10, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}
	boom := errors.New("boom")

	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, p, func(context.Context) error { return boom })
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("retry loop did not observe cancellation")
	}
}

func TestDo_CancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, fastPolicy(3), func(context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	v, err := DoWithResult(context.Background(), fastPolicy(3), func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("once")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestPolicy_DelayIsCapped(t *testing.T) {
	p := Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, time.Second, p.Delay(10))
}
