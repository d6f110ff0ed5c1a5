package reliability

import (
	"context"
	"errors"
	"testing"

	"github.com/rkulkarni/tradecore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadOffloadRunsBlockingCall(t *testing.T) {
	pool := NewThreadOffload(2)
	defer pool.Stop()

	v, err := Submit(pool, context.Background(), func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestThreadOffloadPropagatesError(t *testing.T) {
	pool := NewThreadOffload(2)
	defer pool.Stop()

	boom := errors.New("boom")
	_, err := Submit(pool, context.Background(), func() (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
}

func TestThreadOffloadRejectsAfterStop(t *testing.T) {
	pool := NewThreadOffload(1)
	pool.Stop()

	_, err := Submit(pool, context.Background(), func() (int, error) { return 1, nil })
	assert.ErrorIs(t, err, domain.ErrShutdown)
}
