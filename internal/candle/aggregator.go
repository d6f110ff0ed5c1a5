// Package candle builds per-token one-minute OHLCV bars from the tick
// stream (§4.6). Shape grounded on the Candle struct in
// chidi150c-coinbase/strategy.go; the aggregation/force-close loop is new.
package candle

import (
	"sync"
	"time"

	"github.com/rkulkarni/tradecore/internal/clock"
	"github.com/rkulkarni/tradecore/internal/domain"
)

// builder is the per-token in-progress bar state.
type builder struct {
	minute    time.Time
	open      float64
	high      float64
	low       float64
	close     float64
	volume    int64
	lastCum   int64
	haveCum   bool
	dirty     bool
}

// Aggregator maintains one builder per token and emits closed bars through
// Emit. Tick volume is treated as cumulative per token (§9 open question 1,
// resolved): the delta since the last tick is clamped at zero so a feed
// reconnect that resets cumulative volume never goes negative.
type Aggregator struct {
	mu       sync.Mutex
	builders map[int64]*builder
	clock    *clock.Clock
	Emit     func(domain.Bar)
}

// New builds an Aggregator. emit is called synchronously whenever a bar
// closes; callers typically hand it straight to the strategy runtime.
func New(c *clock.Clock, emit func(domain.Bar)) *Aggregator {
	return &Aggregator{
		builders: make(map[int64]*builder),
		clock:    c,
		Emit:     emit,
	}
}

// OnTick applies one tick to its token's builder, emitting a bar first if
// the tick belongs to a later minute than the in-progress one (§4.6 rule 1-2).
func (a *Aggregator) OnTick(t domain.Tick) {
	minute := a.clock.FloorToMinute(t.LastTradeT)

	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.builders[t.Token]
	if !ok {
		b = &builder{}
		a.builders[t.Token] = b
	}

	switch {
	case !b.minute.IsZero() && minute.After(b.minute) && b.dirty:
		a.emitLocked(t.Token, b)
		a.reset(b, minute)
	case !b.minute.IsZero() && minute.After(b.minute):
		// heartbeat already force-closed and emitted the prior minute;
		// this tick starts a fresh bar with nothing to emit.
		a.reset(b, minute)
	case b.minute.IsZero():
		a.reset(b, minute)
	}

	delta := int64(0)
	if b.haveCum {
		delta = t.CumVolume - b.lastCum
		if delta < 0 {
			delta = 0
		}
	}
	b.lastCum = t.CumVolume
	b.haveCum = true

	if !b.dirty {
		b.open = t.LTP
		b.high = t.LTP
		b.low = t.LTP
	} else {
		if t.LTP > b.high {
			b.high = t.LTP
		}
		if t.LTP < b.low {
			b.low = t.LTP
		}
	}
	b.close = t.LTP
	b.volume += delta
	b.dirty = true
}

// OnTimeUpdate is the heartbeat hook (§4.6, §4.8): force-closes a bar whose
// minute has passed with no new tick, without starting a fresh one.
func (a *Aggregator) OnTimeUpdate(now time.Time) {
	minute := a.clock.FloorToMinute(now)

	a.mu.Lock()
	defer a.mu.Unlock()

	for token, b := range a.builders {
		if b.dirty && minute.After(b.minute) {
			a.emitLocked(token, b)
			b.dirty = false
		}
	}
}

func (a *Aggregator) reset(b *builder, minute time.Time) {
	b.minute = minute
	b.dirty = false
	b.volume = 0
}

func (a *Aggregator) emitLocked(token int64, b *builder) {
	bar := domain.Bar{
		Token:     token,
		StartTime: b.minute,
		Open:      b.open,
		High:      b.high,
		Low:       b.low,
		Close:     b.close,
		Volume:    b.volume,
	}
	if a.Emit != nil {
		a.Emit(bar)
	}
}
