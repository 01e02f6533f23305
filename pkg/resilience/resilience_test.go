package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "upload", RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnOpenCircuit(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), "upload", RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond}, func() error {
		calls++
		return ErrCircuitOpen
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, "upload", RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}, func() error {
		return errors.New("down")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker("snapshot-store", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     10 * time.Millisecond,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, to)
		},
	})
	fail := func() error { return errors.New("boom") }

	assert.Error(t, cb.Execute(fail))
	assert.Error(t, cb.Execute(fail))
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitOpen)

	time.Sleep(15 * time.Millisecond)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 5*time.Millisecond, "final-snapshot", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "final-snapshot", timeoutErr.Operation)
	assert.Equal(t, 5*time.Millisecond, timeoutErr.Limit)

	assert.NoError(t, WithTimeout(context.Background(), 0, "noop", func(ctx context.Context) error { return nil }))
}

func TestWithTimeout_IgnoresSlowFunction(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	start := time.Now()
	err := WithTimeout(context.Background(), 10*time.Millisecond, "snapshot-reload", func(ctx context.Context) error {
		<-release
		return nil
	})
	var timeoutErr *TimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWithTimeout_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithTimeout(ctx, time.Minute, "snapshot-reload", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	var timeoutErr *TimeoutError
	assert.False(t, errors.As(err, &timeoutErr))
}

func TestWithTimeout_PassesThroughResult(t *testing.T) {
	boom := errors.New("bucket unreachable")
	err := WithTimeout(context.Background(), time.Minute, "snapshot-reload", func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}
