package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteWithResilience_NoRegistrationRunsDirectly(t *testing.T) {
	o := NewOrchestrator(nil)
	var calls int32
	err := o.ExecuteWithResilience(context.Background(), "unregistered", "unregistered", func() error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls)
}

func TestExecuteWithResilience_BreakerRejectsWithoutCallingFn(t *testing.T) {
	o := NewOrchestrator(nil)
	o.RegisterBreaker("target", BreakerConfig{FailureThreshold: 1, HalfOpenSuccessThreshold: 1, ResetTimeout: time.Hour})

	boom := errors.New("boom")
	err := o.ExecuteWithResilience(context.Background(), "target", "", func() error { return boom })
	assert.Equal(t, boom, err)

	var calls int32
	err = o.ExecuteWithResilience(context.Background(), "target", "", func() error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	assert.Error(t, err, "breaker should be open after the single configured failure")
	assert.EqualValues(t, 0, calls)
}

func TestExecuteWithResilience_RateLimiterThrottlesBeforeBreaker(t *testing.T) {
	o := NewOrchestrator(nil)
	o.RegisterRateLimiter("source", 1, 1)

	var calls int32
	run := func() error {
		atomic.AddInt32(&calls, 1)
		return nil
	}

	require.NoError(t, o.ExecuteWithResilience(context.Background(), "source", "", run))
	assert.EqualValues(t, 1, calls)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := o.ExecuteWithResilience(ctx, "source", "", run)
	assert.Error(t, err, "second call should exceed the burst-1 bucket and block past the short deadline")
	assert.EqualValues(t, 1, calls, "fn must not run once the limiter wait fails")
}

func TestRegisterRateLimiter_NonPositiveRateIsNoop(t *testing.T) {
	o := NewOrchestrator(nil)
	o.RegisterRateLimiter("target", 0, 10)

	var calls int32
	err := o.ExecuteWithResilience(context.Background(), "target", "", func() error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls)
}
