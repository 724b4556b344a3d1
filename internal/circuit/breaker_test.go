package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutePassesThrough(t *testing.T) {
	b := New("test")

	result, err := b.Execute(context.Background(), func() (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, "closed", b.State())
}

func TestExecuteTripsAfterConsecutiveFailures(t *testing.T) {
	b := NewWithConfig("test", Config{
		MaxFailures:          2,
		Timeout:              time.Minute,
		HalfOpenMaxSuccesses: 1,
	})
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_, err := b.Execute(context.Background(), func() (interface{}, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
	}

	assert.Equal(t, "open", b.State())

	called := false
	_, err := b.Execute(context.Background(), func() (interface{}, error) {
		called = true
		return "ok", nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "open circuit must not invoke fn")
}

func TestExecuteRecoversThroughHalfOpen(t *testing.T) {
	b := NewWithConfig("test", Config{
		MaxFailures:          1,
		Timeout:              10 * time.Millisecond,
		HalfOpenMaxSuccesses: 1,
	})

	_, err := b.Execute(context.Background(), func() (interface{}, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
	require.Equal(t, "open", b.State())

	time.Sleep(20 * time.Millisecond)

	result, err := b.Execute(context.Background(), func() (interface{}, error) {
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, "closed", b.State())
}

func TestExecuteCancelledContext(t *testing.T) {
	b := New("test")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := b.Execute(ctx, func() (interface{}, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called, "cancelled context must not invoke fn")
}
