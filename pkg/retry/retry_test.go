package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBudget(t *testing.T) {
	b := NewBudget(2)

	assert.False(t, b.Fail())
	assert.Equal(t, 1, b.Count())

	b.Succeed()
	assert.Equal(t, 0, b.Count())

	assert.False(t, b.Fail())
	assert.True(t, b.Fail())
	assert.Equal(t, 2, b.Max())
}

func TestBudgetMinimum(t *testing.T) {
	b := NewBudget(0)
	assert.True(t, b.Fail())
}

func TestConstantBackoff(t *testing.T) {
	b := ConstantBackoff{Delay: time.Minute}

	assert.Zero(t, b.NextDelay(0))
	assert.Equal(t, time.Minute, b.NextDelay(1))
	assert.Equal(t, time.Minute, b.NextDelay(5))
}

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{10, 30 * time.Second},
	}

	b := ExponentialBackoff{BaseDelay: time.Second, MaxDelay: 30 * time.Second}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestWait(t *testing.T) {
	t.Run("elapses", func(t *testing.T) {
		start := time.Now()
		assert.NoError(t, Wait(context.Background(), 10*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)
	})

	t.Run("zero", func(t *testing.T) {
		assert.NoError(t, Wait(context.Background(), 0))
	})
}
