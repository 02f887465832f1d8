package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/strandlabs/strand/pkg/schema"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryableError_Nil(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
}

func TestIsRetryableError_ContextErrors(t *testing.T) {
	assert.True(t, IsRetryableError(context.DeadlineExceeded))
	assert.False(t, IsRetryableError(context.Canceled))
}

func TestIsRetryableError_EngineErrorCodes(t *testing.T) {
	assert.True(t, IsRetryableError(schema.NewError(schema.ErrCodeCapability, "agent backend down")))
	assert.True(t, IsRetryableError(schema.NewError(schema.ErrCodeStore, "db locked")))

	assert.False(t, IsRetryableError(schema.NewError(schema.ErrCodeNotFound, "no such agent")))
	assert.False(t, IsRetryableError(schema.NewError(schema.ErrCodeInvalidCondition, "bad grammar")))
	assert.False(t, IsRetryableError(schema.NewError(schema.ErrCodeValidation, "bad step")))
	assert.False(t, IsRetryableError(schema.NewError(schema.ErrCodeInvalidState, "not cancellable")))
}

func TestIsRetryableError_WrappedEngineError(t *testing.T) {
	wrapped := schema.NewError(schema.ErrCodeNotFound, "gone").WithCause(errors.New("inner"))
	assert.False(t, IsRetryableError(wrapped))
}

func TestIsRetryableError_StringPatterns(t *testing.T) {
	assert.True(t, IsRetryableError(errors.New("dial tcp: connection refused")))
	assert.True(t, IsRetryableError(errors.New("read: connection reset by peer")))
	assert.True(t, IsRetryableError(errors.New("upstream returned 503 service unavailable")))
}

func TestComputeBackoff_None(t *testing.T) {
	assert.Equal(t, time.Duration(0), ComputeBackoff(schema.RetryStrategyNone, 0))
	assert.Equal(t, time.Duration(0), ComputeBackoff("", 3))
}

func TestComputeBackoff_Linear(t *testing.T) {
	assert.Equal(t, 1*time.Second, ComputeBackoff(schema.RetryStrategyLinear, 0))
	assert.Equal(t, 2*time.Second, ComputeBackoff(schema.RetryStrategyLinear, 1))
	assert.Equal(t, 3*time.Second, ComputeBackoff(schema.RetryStrategyLinear, 2))
}

func TestComputeBackoff_Exponential(t *testing.T) {
	assert.Equal(t, 1*time.Second, ComputeBackoff(schema.RetryStrategyExponential, 0))
	assert.Equal(t, 2*time.Second, ComputeBackoff(schema.RetryStrategyExponential, 1))
	assert.Equal(t, 4*time.Second, ComputeBackoff(schema.RetryStrategyExponential, 2))
	assert.Equal(t, 8*time.Second, ComputeBackoff(schema.RetryStrategyExponential, 3))
}

func TestComputeBackoff_Cap(t *testing.T) {
	assert.Equal(t, maxBackoff, ComputeBackoff(schema.RetryStrategyExponential, 20))
	assert.Equal(t, maxBackoff, ComputeBackoff(schema.RetryStrategyLinear, 1000))
}

func TestWaitForBackoff_ZeroDelay(t *testing.T) {
	assert.NoError(t, WaitForBackoff(context.Background(), 0))
}

func TestWaitForBackoff_CancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := WaitForBackoff(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitForBackoff_DeadContextZeroDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, WaitForBackoff(ctx, 0), context.Canceled)
}
