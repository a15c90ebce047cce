package notus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_AllowsBurstUpToLimit(t *testing.T) {
	limiter := NewRateLimiter(WithCommandsPerMinute(3))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Wait(ctx))
		limiter.Unlock()
	}
}

func TestRateLimiter_BlocksPastLimit(t *testing.T) {
	limiter := NewRateLimiter(WithCommandsPerMinute(1))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, limiter.Wait(ctx))
	limiter.Unlock()

	err := limiter.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimiter_ResetForgetsWindow(t *testing.T) {
	limiter := NewRateLimiter(WithCommandsPerMinute(1))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.NoError(t, limiter.Wait(ctx))
	limiter.Unlock()

	limiter.Reset()

	require.NoError(t, limiter.Wait(ctx))
	limiter.Unlock()
}

func TestRateLimiter_WaitHonorsCanceledContext(t *testing.T) {
	limiter := NewRateLimiter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, limiter.Wait(context.Background()))
	err := limiter.Wait(ctx)
	limiter.Unlock()

	assert.Error(t, err)
}
