package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_DoublesPerAttempt(t *testing.T) {
	base := 2 * time.Second
	cap := 5 * time.Minute

	assert.Equal(t, 2*time.Second, Backoff(1, base, cap))
	assert.Equal(t, 4*time.Second, Backoff(2, base, cap))
	assert.Equal(t, 8*time.Second, Backoff(3, base, cap))
	assert.Equal(t, 16*time.Second, Backoff(4, base, cap))
}

func TestBackoff_Capped(t *testing.T) {
	base := 2 * time.Second
	cap := 10 * time.Second

	assert.Equal(t, cap, Backoff(4, base, cap))
	assert.Equal(t, cap, Backoff(50, base, cap))
}

func TestBackoff_AttemptFloorsAtOne(t *testing.T) {
	base := time.Second
	assert.Equal(t, base, Backoff(0, base, time.Minute))
	assert.Equal(t, base, Backoff(-3, base, time.Minute))
}

func TestBackoff_OverflowFallsBackToCap(t *testing.T) {
	cap := 5 * time.Minute
	// Enough doublings to overflow int64 without the guard.
	assert.Equal(t, cap, Backoff(80, time.Second, cap))
}
