package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffRetriesUntilSuccess(t *testing.T) {
	b := NewBackoff(time.Millisecond, 3)
	calls := 0
	err := b.Do(context.Background(), func(i int) error {
		assert.Equal(t, calls, i)
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestBackoffGivesUp(t *testing.T) {
	b := NewBackoff(time.Millisecond, 2)
	calls := 0
	boom := errors.New("boom")
	err := b.Do(context.Background(), func(int) error { calls++; return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestBackoffPermanentStops(t *testing.T) {
	b := NewBackoff(time.Millisecond, 5)
	calls := 0
	boom := errors.New("bad request")
	err := b.Do(context.Background(), func(int) error { calls++; return &Permanent{Err: boom} })
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestBackoffContextDone(t *testing.T) {
	b := NewBackoff(time.Hour, 5)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := b.Do(ctx, func(int) error {
		calls++
		cancel()
		return errors.New("retry me")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
