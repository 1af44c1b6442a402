package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		require.True(t, b.Allow())
		b.RecordFailure()
	}
	assert.Equal(t, BreakerClosed, b.State())

	require.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	// The counter reset means two more failures do not open the breaker.
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 2, b.Status().ConsecutiveFailures)
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker(1, time.Minute)

	now := time.Now()
	b.now = func() time.Time { return now }

	b.RecordFailure()
	require.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())

	// Cooldown elapses: exactly one probe is admitted.
	now = now.Add(time.Minute + time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.False(t, b.Allow(), "second caller must wait for the probe to resolve")

	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 0, b.Status().ConsecutiveFailures)
	assert.True(t, b.Allow())
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b := NewBreaker(1, time.Minute)

	now := time.Now()
	b.now = func() time.Time { return now }

	b.RecordFailure()
	now = now.Add(2 * time.Minute)
	require.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())

	// The cooldown restarted at the probe failure, not the original trip.
	now = now.Add(30 * time.Second)
	assert.False(t, b.Allow())
	now = now.Add(31 * time.Second)
	assert.True(t, b.Allow())
}
