package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/rkulkarni/tradecore/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickQDropsOldestOnOverflow(t *testing.T) {
	b := New()
	for i := 0; i < TickQCapacity+10; i++ {
		b.PublishTick(domain.Tick{Token: 1, LTP: float64(i)})
	}

	stats := b.Stats()
	assert.Equal(t, TickQCapacity, stats.TickQSize)
	assert.Equal(t, int64(10), stats.TicksDropped)

	first, ok := b.ReceiveTick(time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, float64(10), first.LTP, "the 10 oldest ticks should have been dropped")
}

func TestOrderQReceivesInOrder(t *testing.T) {
	b := New()
	ctx := context.Background()

	require.NoError(t, b.PublishOrder(ctx, domain.OrderUpdate{InternalID: "a"}))
	require.NoError(t, b.PublishOrder(ctx, domain.OrderUpdate{InternalID: "b"}))

	u1, ok := b.ReceiveOrder(time.Second)
	require.True(t, ok)
	assert.Equal(t, "a", u1.InternalID)

	u2, ok := b.ReceiveOrder(time.Second)
	require.True(t, ok)
	assert.Equal(t, "b", u2.InternalID)
}

func TestOrderQPutTimesOutWhenFull(t *testing.T) {
	b := New()
	ctx := context.Background()
	for i := 0; i < OrderQCapacity; i++ {
		require.NoError(t, b.PublishOrder(ctx, domain.OrderUpdate{InternalID: "x"}))
	}

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := b.PublishOrder(shortCtx, domain.OrderUpdate{InternalID: "overflow"})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
