package reliability

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rkulkarni/tradecore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 50*time.Millisecond)
	ctx := context.Background()
	failing := func(context.Context) (int, error) { return 0, errors.New("boom") }

	for i := 0; i < 3; i++ {
		_, err := Call(cb, ctx, failing)
		require.Error(t, err)
	}

	assert.Equal(t, "OPEN", cb.State())

	_, err := Call(cb, ctx, func(context.Context) (int, error) { return 1, nil })
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
}

func TestCircuitBreakerHalfOpenAllowsSingleProbe(t *testing.T) {
	cb := NewCircuitBreaker(1, 20*time.Millisecond)
	ctx := context.Background()

	_, _ = Call(cb, ctx, func(context.Context) (int, error) { return 0, errors.New("boom") })
	require.Equal(t, "OPEN", cb.State())

	time.Sleep(25 * time.Millisecond)

	var passed int32
	var blocked int32
	var wg sync.WaitGroup
	release := make(chan struct{})

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Call(cb, ctx, func(context.Context) (int, error) {
				atomic.AddInt32(&passed, 1)
				<-release
				return 1, nil
			})
			if errors.Is(err, domain.ErrCircuitOpen) {
				atomic.AddInt32(&blocked, 1)
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&passed), "exactly one probe should reach the callable")
	assert.Equal(t, int32(4), atomic.LoadInt32(&blocked))
	assert.Equal(t, "CLOSED", cb.State())
}
