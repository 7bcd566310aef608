package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/camasync/syncengine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewCircuitBreaker("target", BreakerConfig{
		FailureThreshold:         5,
		HalfOpenSuccessThreshold: 1,
		ResetTimeout:             50 * time.Millisecond,
	})

	for i := 0; i < 4; i++ {
		ok, _ := b.CanAttempt()
		require.True(t, ok)
		b.RecordFailure()
	}
	assert.Equal(t, domain.BreakerClosed, b.State().State)

	ok, _ := b.CanAttempt()
	require.True(t, ok)
	b.RecordFailure()
	assert.Equal(t, domain.BreakerOpen, b.State().State)

	ok, cbErr := b.CanAttempt()
	assert.False(t, ok)
	require.NotNil(t, cbErr)

	time.Sleep(60 * time.Millisecond)
	ok, _ = b.CanAttempt()
	assert.True(t, ok)
	assert.Equal(t, domain.BreakerHalfOpen, b.State().State)

	b.RecordSuccess()
	assert.Equal(t, domain.BreakerClosed, b.State().State)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewCircuitBreaker("target", BreakerConfig{
		FailureThreshold:         1,
		HalfOpenSuccessThreshold: 2,
		ResetTimeout:             10 * time.Millisecond,
	})

	b.RecordFailure()
	assert.Equal(t, domain.BreakerOpen, b.State().State)

	time.Sleep(15 * time.Millisecond)
	ok, _ := b.CanAttempt()
	require.True(t, ok)
	assert.Equal(t, domain.BreakerHalfOpen, b.State().State)

	b.RecordFailure()
	assert.Equal(t, domain.BreakerOpen, b.State().State)
}

func TestCircuitBreaker_Execute(t *testing.T) {
	b := NewCircuitBreaker("target", DefaultBreakerConfig())
	errBoom := errors.New("boom")

	err := b.Execute(func() error { return errBoom })
	assert.Equal(t, errBoom, err)

	err = b.Execute(func() error { return nil })
	assert.NoError(t, err)
}
