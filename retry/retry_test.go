package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kardia-systems/docvault/interfaces"
)

// fastPolicy keeps test runtime negligible while exercising the full loop.
func fastPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func transientErr() error {
	return interfaces.NewStorageError(interfaces.ErrCodeConnection, "op", "path", errors.New("connection reset"))
}

func permanentErr() error {
	return interfaces.NewStorageError(interfaces.ErrCodeNotFound, "op", "path", nil)
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, time.Second, p.InitialDelay)
	assert.Equal(t, 30*time.Second, p.MaxDelay)
	assert.Equal(t, 2.0, p.Multiplier)
	assert.True(t, p.Jitter)
}

func TestDelayFor(t *testing.T) {
	p := Policy{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}

	assert.Equal(t, time.Second, p.DelayFor(1))
	assert.Equal(t, 2*time.Second, p.DelayFor(2))
	assert.Equal(t, 4*time.Second, p.DelayFor(3))
	// Growth is capped.
	assert.Equal(t, 30*time.Second, p.DelayFor(10))
	// Out-of-range attempt clamps to the first retry.
	assert.Equal(t, time.Second, p.DelayFor(0))
}

func TestDelayForJitterBounded(t *testing.T) {
	p := Policy{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}

	for i := 0; i < 100; i++ {
		d := p.DelayFor(2)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return transientErr()
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	original := transientErr()
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		return original
	})

	assert.Equal(t, 3, calls)
	// The original error surfaces unchanged so callers can still branch on
	// its code.
	require.ErrorIs(t, err, original)
	assert.Equal(t, interfaces.ErrCodeConnection, interfaces.CodeOf(err))
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		return permanentErr()
	})

	assert.Equal(t, 1, calls)
	assert.True(t, interfaces.IsNotFound(err))
}

func TestDoChecksumMismatchNotRetried(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		return interfaces.NewStorageError(interfaces.ErrCodeChecksum, "move", "a", nil)
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, interfaces.ErrCodeChecksum, interfaces.CodeOf(err))
}

func TestDoStopsOnContextCancel(t *testing.T) {
	p := Policy{
		MaxAttempts:  5,
		InitialDelay: time.Hour,
		MaxDelay:     time.Hour,
		Multiplier:   2.0,
	}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func() error {
			calls++
			return transientErr()
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Equal(t, 1, calls)
		assert.Equal(t, interfaces.ErrCodeConnection, interfaces.CodeOf(err))
	case <-time.After(time.Second):
		t.Fatal("Do did not return after context cancellation")
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastPolicy(), func() ([]byte, error) {
		calls++
		if calls < 2 {
			return nil, transientErr()
		}
		return []byte("content"), nil
	})

	require.NoError(t, err)
	assert.Equal(t, []byte("content"), got)
	assert.Equal(t, 2, calls)
}
