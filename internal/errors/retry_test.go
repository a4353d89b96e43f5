package errors

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetry_SucceedsAfterTransientError(t *testing.T) {
	// Given: a function that fails twice then succeeds
	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return stderrors.New("transient error")
		}
		return nil
	}

	// When: retrying with default config
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = 5 * time.Millisecond

	err := Retry(context.Background(), cfg, fn)

	// Then: succeeds after 3 attempts
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_FailsAfterMaxRetries(t *testing.T) {
	// Given: a function that always fails
	attempts := 0
	fn := func() error {
		attempts++
		return stderrors.New("persistent error")
	}

	// When: retrying with limited retries
	cfg := RetryConfig{
		MaxRetries:   2,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}
	err := Retry(context.Background(), cfg, fn)

	// Then: fails with wrapped error
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, attempts)
}

func TestRetry_StopsOnNonRetryableError(t *testing.T) {
	// Given: a config that only retries timeouts
	cfg := FixedIntervalConfig(5*time.Millisecond, IsTimeout)
	attempts := 0

	// When: the first attempt times out and the second fails differently
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts == 1 {
			return TimeoutError("info", nil)
		}
		return MapError("f", nil)
	})

	// Then: the non-retryable error is returned unwrapped
	assert.Equal(t, 2, attempts)
	assert.True(t, IsMap(err))
	assert.NotContains(t, err.Error(), "retries")
}

func TestRetry_UnlimitedUntilSuccess(t *testing.T) {
	// Given: unlimited retries at a fixed interval
	cfg := FixedIntervalConfig(time.Millisecond, nil)
	attempts := 0

	// When: success comes on the tenth attempt
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 10 {
			return TimeoutError("info", nil)
		}
		return nil
	})

	// Then: it kept going
	assert.NoError(t, err)
	assert.Equal(t, 10, attempts)
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	// Given: a cancelled context mid-wait
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Second

	// When: retrying a failing function
	start := time.Now()
	err := Retry(ctx, cfg, func() error { return stderrors.New("error") })

	// Then: returns promptly with the context error
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	// Given: a function that succeeds on the second attempt
	attempts := 0
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond

	// When: retrying
	got, err := RetryWithResult(context.Background(), cfg, func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, stderrors.New("not yet")
		}
		return 42, nil
	})

	// Then: the value is returned
	assert.NoError(t, err)
	assert.Equal(t, 42, got)
}
