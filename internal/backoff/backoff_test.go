package backoff

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/package-collection-index/internal/indexerr"
)

// Test Plan for Backoff:
// - Delay grows with attempt and stays within the jitter bound
// - Delay reports ExhaustedRetries once attempt >= MaxAttempts
// - Retry succeeds on the first attempt without delay
// - Retry exhausts its attempt budget and reports ErrExhaustedRetries
// - Retry resets its attempt counter between calls

func TestDelay(t *testing.T) {
	t.Parallel()

	b := New()
	for attempt := 0; attempt < b.MaxAttempts; attempt++ {
		d, err := b.Delay(attempt)
		require.NoError(t, err)
		min := b.Base << uint(attempt)
		max := min + b.JitterMax
		assert.GreaterOrEqual(t, d, min)
		assert.LessOrEqual(t, d, max)
	}
}

func TestDelayExhausted(t *testing.T) {
	t.Parallel()

	b := New()
	_, err := b.Delay(b.MaxAttempts)
	assert.True(t, errors.Is(err, indexerr.ErrExhaustedRetries))
}

func TestRetrySucceedsImmediately(t *testing.T) {
	t.Parallel()

	b := New()
	calls := 0
	err := b.Retry(func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryExhausted(t *testing.T) {
	t.Parallel()

	b := &Backoff{Base: time.Millisecond, JitterMax: time.Millisecond, MaxAttempts: 2}
	calls := 0
	err := b.Retry(func() error {
		calls++
		return errors.New("still failing")
	})
	assert.True(t, errors.Is(err, indexerr.ErrExhaustedRetries))
	// One initial call plus one retry per issued delay.
	assert.Equal(t, 3, calls)
}

func TestRetryResetsBetweenCalls(t *testing.T) {
	t.Parallel()

	b := &Backoff{Base: time.Millisecond, JitterMax: time.Millisecond, MaxAttempts: 2}

	calls := 0
	_ = b.Retry(func() error {
		calls++
		return errors.New("fail")
	})
	assert.Equal(t, 3, calls)

	calls = 0
	_ = b.Retry(func() error {
		calls++
		return errors.New("fail")
	})
	assert.Equal(t, 3, calls)
}
