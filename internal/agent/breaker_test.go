package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerRegistry_Lifecycle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewBreakerRegistry(3, time.Minute)
	r.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		r.Failure("p")
	}
	require.NoError(t, r.Allow("p"))
	assert.Equal(t, BreakerClosed, r.State("p"))

	r.Failure("p")
	assert.Equal(t, BreakerOpen, r.State("p"))
	assert.ErrorIs(t, r.Allow("p"), ErrCircuitOpen)

	now = now.Add(time.Minute)
	assert.Equal(t, BreakerHalfOpen, r.State("p"))
	require.NoError(t, r.Allow("p"))
	assert.ErrorIs(t, r.Allow("p"), ErrCircuitOpen, "only one trial while half-open")

	r.Failure("p")
	assert.Equal(t, BreakerOpen, r.State("p"))

	now = now.Add(time.Minute)
	require.NoError(t, r.Allow("p"))
	r.Success("p")
	assert.Equal(t, BreakerClosed, r.State("p"))
}

func TestBreakerRegistry_Isolated(t *testing.T) {
	a := NewBreakerRegistry(1, time.Hour)
	b := NewBreakerRegistry(1, time.Hour)

	a.Failure("shared")
	assert.ErrorIs(t, a.Allow("shared"), ErrCircuitOpen)
	assert.NoError(t, b.Allow("shared"))
	assert.NoError(t, a.Allow("other"))

	a.Reset()
	assert.NoError(t, a.Allow("shared"))
}

func TestNewBreakerRegistry_Defaults(t *testing.T) {
	r := NewBreakerRegistry(0, 0)
	assert.Equal(t, DefaultBreakerThreshold, r.threshold)
	assert.Equal(t, DefaultBreakerCooldown, r.cooldown)
}
