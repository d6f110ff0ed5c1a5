// Package eventbus implements the two bounded in-process queues that carry
// ticks and order updates from the market feed into the engine's loops
// (§4.4). The two queues deliberately use different overflow policies.
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rkulkarni/tradecore/internal/domain"
)

const (
	// TickQCapacity is the bound on the lossy tick queue.
	TickQCapacity = 1000
	// OrderQCapacity is the bound on the order-update queue.
	OrderQCapacity = 100
	// OrderQPutTimeout is how long PublishOrder blocks before giving up.
	OrderQPutTimeout = 5 * time.Second
)

// Bus owns the tick and order queues. Its queues are the only channel
// crossing the thread boundary from the market feed into engine-owned state;
// their thread-safety is the backpressure contract the rest of the engine
// relies on.
type Bus struct {
	tickMu    sync.Mutex
	tickQ     []domain.Tick
	ticksDrop atomic.Int64

	orderQ     chan domain.OrderUpdate
	ordersEnq  atomic.Int64
}

// New builds a Bus with the default queue capacities.
func New() *Bus {
	return &Bus{
		tickQ:  make([]domain.Tick, 0, TickQCapacity),
		orderQ: make(chan domain.OrderUpdate, OrderQCapacity),
	}
}

// PublishTick enqueues a tick, dropping the oldest queued tick if the queue
// is full (§4.4 tickQ policy: stale ticks are worthless).
func (b *Bus) PublishTick(t domain.Tick) {
	b.tickMu.Lock()
	defer b.tickMu.Unlock()

	if len(b.tickQ) >= TickQCapacity {
		b.tickQ = b.tickQ[1:]
		b.ticksDrop.Add(1)
	}
	b.tickQ = append(b.tickQ, t)
}

// ReceiveTick blocks up to timeout for a tick; returns ok=false on timeout.
// Grounds the tick-loop's "bounded wait on tickQ (2s)" from §4.8.
func (b *Bus) ReceiveTick(timeout time.Duration) (domain.Tick, bool) {
	deadline := time.Now().Add(timeout)
	for {
		b.tickMu.Lock()
		if len(b.tickQ) > 0 {
			t := b.tickQ[0]
			b.tickQ = b.tickQ[1:]
			b.tickMu.Unlock()
			return t, true
		}
		b.tickMu.Unlock()

		if time.Now().After(deadline) {
			return domain.Tick{}, false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// PublishOrder enqueues an order update, blocking up to OrderQPutTimeout.
// Order-update loss is unacceptable, so this policy is bounded-wait rather
// than drop-oldest.
func (b *Bus) PublishOrder(ctx context.Context, u domain.OrderUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, OrderQPutTimeout)
	defer cancel()

	select {
	case b.orderQ <- u:
		b.ordersEnq.Add(1)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("eventbus.PublishOrder: orderQ put timed out after %s: %w", OrderQPutTimeout, ctx.Err())
	}
}

// ReceiveOrder blocks up to timeout for an order update.
func (b *Bus) ReceiveOrder(timeout time.Duration) (domain.OrderUpdate, bool) {
	select {
	case u := <-b.orderQ:
		return u, true
	case <-time.After(timeout):
		return domain.OrderUpdate{}, false
	}
}

// Stats returns a health snapshot (§4.4).
func (b *Bus) Stats() domain.QueueStats {
	b.tickMu.Lock()
	tickLen := len(b.tickQ)
	b.tickMu.Unlock()

	return domain.QueueStats{
		TickQSize:      tickLen,
		TickQCap:       TickQCapacity,
		TicksDropped:   b.ticksDrop.Load(),
		OrderQSize:     len(b.orderQ),
		OrderQCap:      OrderQCapacity,
		OrdersEnqueued: b.ordersEnq.Load(),
	}
}
