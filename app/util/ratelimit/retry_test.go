package ratelimit

import (
	"context"
	"errors"
	"fanreply/app/domain"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRetriesOnlyRateLimits(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, 0, "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return domain.ErrRateLimited
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhausts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, 0, "send", func(context.Context) error {
		calls++
		return domain.ErrRateLimited
	})

	require.ErrorIs(t, err, ErrExhausted)
	require.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Do(context.Background(), 3, 0, "send", func(context.Context) error {
		calls++
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, 3, 1<<40, "send", func(context.Context) error {
		calls++
		cancel()
		return domain.ErrRateLimited
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
