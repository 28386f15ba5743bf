package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff_NextDelay(t *testing.T) {
	b := ExponentialBackoff{Initial: time.Second, Max: 5 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, b.NextDelay(0))
	assert.Equal(t, time.Second, b.NextDelay(1))
	assert.Equal(t, 2*time.Second, b.NextDelay(2))
	assert.Equal(t, 4*time.Second, b.NextDelay(3))
	assert.Equal(t, 5*time.Second, b.NextDelay(4), "capped at Max")

	// a multiplier of 1 or less falls back to doubling
	assert.Equal(t, 2*time.Second, ExponentialBackoff{Initial: time.Second}.NextDelay(2))
}

func TestConstantBackoff(t *testing.T) {
	b := ConstantBackoff(250 * time.Millisecond)
	for attempt := 1; attempt < 5; attempt++ {
		assert.Equal(t, 250*time.Millisecond, b.NextDelay(attempt))
	}
}

func TestRetryPolicy_Normalized(t *testing.T) {
	p := RetryPolicy{}.normalized()
	assert.Equal(t, 1, p.MaxAttempts)
	assert.Equal(t, time.Duration(0), p.Backoff.NextDelay(1))

	def := DefaultRetryPolicy()
	assert.Equal(t, 3, def.MaxAttempts)
	assert.Equal(t, def, def.normalized())
}
