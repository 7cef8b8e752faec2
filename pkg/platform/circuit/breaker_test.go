package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_InitialState(t *testing.T) {
	b := New("population-registry")
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, "population-registry", b.Name())
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := New("biometric", WithFailureThreshold(3))

	shed, change := b.RecordFailure()
	assert.False(t, shed)
	assert.False(t, change.Opened)

	shed, change = b.RecordFailure()
	assert.False(t, shed)
	assert.False(t, change.Opened)

	// Third consecutive failure opens the circuit.
	shed, change = b.RecordFailure()
	assert.True(t, shed)
	assert.True(t, change.Opened)
	assert.True(t, b.IsOpen())

	// Further failures shed without another state change.
	shed, change = b.RecordFailure()
	assert.True(t, shed)
	assert.False(t, change.Opened)
}

func TestBreaker_ClosesAfterSuccessThreshold(t *testing.T) {
	b := New("criminal-record", WithFailureThreshold(1), WithSuccessThreshold(2))

	b.RecordFailure()
	assert.True(t, b.IsOpen())

	usable, change := b.RecordSuccess()
	assert.False(t, usable)
	assert.False(t, change.Closed)

	usable, change = b.RecordSuccess()
	assert.True(t, usable)
	assert.True(t, change.Closed)
	assert.False(t, b.IsOpen())
}

func TestBreaker_SuccessResetsFailureStreak(t *testing.T) {
	b := New("travel-doc-directory", WithFailureThreshold(3))

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	// The streak restarted, so two more failures stay closed.
	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.IsOpen())

	b.RecordFailure()
	assert.True(t, b.IsOpen())
}

func TestBreaker_FailureResetsSuccessStreakWhileOpen(t *testing.T) {
	b := New("biometric", WithFailureThreshold(1), WithSuccessThreshold(3))

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordFailure()

	b.RecordSuccess()
	b.RecordSuccess()
	assert.True(t, b.IsOpen())
	b.RecordSuccess()
	assert.False(t, b.IsOpen())
}

func TestBreaker_Reset(t *testing.T) {
	b := New("population-registry", WithFailureThreshold(1))

	b.RecordFailure()
	assert.True(t, b.IsOpen())

	b.Reset()
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenAfterCoolOff(t *testing.T) {
	clock := time.Now()
	b := New("population-registry", WithFailureThreshold(1), WithSuccessThreshold(1), WithCoolOff(time.Minute))
	b.now = func() time.Time { return clock }

	b.RecordFailure()
	assert.True(t, b.IsOpen())

	// Inside the cool-off every check still sheds.
	clock = clock.Add(30 * time.Second)
	assert.True(t, b.IsOpen())

	// Past the cool-off the breaker lets a trial call through.
	clock = clock.Add(31 * time.Second)
	assert.False(t, b.IsOpen())
	assert.Equal(t, StateHalfOpen, b.State())

	usable, change := b.RecordSuccess()
	assert.True(t, usable)
	assert.True(t, change.Closed)
	assert.False(t, b.IsOpen())
}

func TestBreaker_FailedTrialReopensForAnotherCoolOff(t *testing.T) {
	clock := time.Now()
	b := New("biometric", WithFailureThreshold(1), WithCoolOff(time.Minute))
	b.now = func() time.Time { return clock }

	b.RecordFailure()
	clock = clock.Add(time.Minute)
	assert.False(t, b.IsOpen())

	shed, change := b.RecordFailure()
	assert.True(t, shed)
	assert.True(t, change.Opened)
	assert.True(t, b.IsOpen())

	// The clock restarted at the failed trial, not at the original opening.
	clock = clock.Add(59 * time.Second)
	assert.True(t, b.IsOpen())
	clock = clock.Add(time.Second)
	assert.False(t, b.IsOpen())
}
