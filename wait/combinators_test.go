package wait

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThenChainsOnSuccess(t *testing.T) {
	task := Then(immediate(41), func(ctx context.Context, result any) (any, error) {
		return result.(int) + 1, nil
	})
	val, err := task(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, val)
}

func TestThenPassesThroughFault(t *testing.T) {
	boom := errors.New("boom")
	ran := false
	task := Then(func(ctx context.Context) (any, error) { return nil, boom }, func(ctx context.Context, result any) (any, error) {
		ran = true
		return nil, nil
	})
	_, err := task(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, ran)
}

func TestWaitWithTimeoutFailsWhenDelayWins(t *testing.T) {
	slow := afterSignal(make(chan struct{}), "never")
	task := WaitWithTimeout(slow, 20*time.Millisecond, "slow-op")
	_, err := task(context.Background())
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "slow-op", timeoutErr.Description)
}

func TestWaitWithTimeoutReturnsTaskResultWhenFaster(t *testing.T) {
	task := WaitWithTimeout(immediate("done"), time.Second, "should-not-fire")
	val, err := task(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", val)
}
