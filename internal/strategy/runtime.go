package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rkulkarni/tradecore/internal/candle"
	"github.com/rkulkarni/tradecore/internal/clock"
	"github.com/rkulkarni/tradecore/internal/domain"
)

// Executor is the structural contract the execution pipeline satisfies.
// Declared here rather than imported so strategy never depends on
// execution, risk, or broker packages directly.
type Executor interface {
	ExecuteOrder(ctx context.Context, symbol string, token int64, side domain.Side, quantity int64, price, stopLoss float64, tag string, isExit bool) (*domain.OrderResponse, error)
}

// Sizer is the structural contract internal/sizing.PositionSizer satisfies.
type Sizer interface {
	Size(totalCapital, availableCapital float64, maxOpenSlots, openSlots int, entry, stopLoss float64, lotSize int64, confidence, riskPerTradeFrac, leverage float64) int64
}

// InstrumentLookup resolves a token to its tradable symbol and lot size.
type InstrumentLookup interface {
	Symbol(token int64) string
	LotSize(token int64) int64
}

// RiskLimits supplies the sizing inputs that live in the risk sentinel.
type RiskLimits interface {
	Snapshot() (totalCapital, availableCapital float64, maxOpenSlots, openSlots int, riskPerTradeFrac, leverage float64)
}

// Runner fans ticks and bar closes out to one Strategy per token and
// classifies each resulting intent as an entry or an exit (§4.7) before
// handing it to the executor.
type Runner struct {
	mu         sync.RWMutex
	strategies map[int64]*Strategy
	agg        *candle.Aggregator
	exec       Executor
	sizer      Sizer
	instr      InstrumentLookup
	risk       RiskLimits
	barListener func(domain.Bar)
}

// NewRunner builds a Runner. The aggregator's Emit callback is wired to the
// runner's own OnBarClose so bar production and strategy decisions stay on
// the same goroutine sequence per §3's single-writer-per-token rule.
func NewRunner(c *clock.Clock, exec Executor, sizer Sizer, instr InstrumentLookup, risk RiskLimits) *Runner {
	r := &Runner{
		strategies: make(map[int64]*Strategy),
		exec:       exec,
		sizer:      sizer,
		instr:      instr,
		risk:       risk,
	}
	r.agg = candle.New(c, r.onBarClose)
	return r
}

// Register adds a strategy instance for a token. Call before feeding ticks.
func (r *Runner) Register(s *Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.state.Token] = s
}

// SetBarListener registers an observer invoked on every closed bar ahead of
// strategy dispatch. The paper broker's clock-driven matcher hangs off this
// so order resolution runs against the same bar stream strategies react to.
func (r *Runner) SetBarListener(fn func(domain.Bar)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.barListener = fn
}

// Deregister removes a token's strategy, e.g. on config reload.
func (r *Runner) Deregister(token int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.strategies, token)
}

// Snapshots returns a point-in-time view of every registered strategy.
func (r *Runner) Snapshots() []domain.StrategyState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.StrategyState, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s.Snapshot())
	}
	return out
}

// OnTick feeds one tick to its strategy's indicator buffer and the candle
// aggregator, which may in turn call back into onBarClose synchronously.
func (r *Runner) OnTick(tick domain.Tick) {
	r.mu.RLock()
	s, ok := r.strategies[tick.Token]
	r.mu.RUnlock()
	if ok {
		s.SafeOnTick(tick)
	}
	r.agg.OnTick(tick)
}

// OnTimeUpdate drives the aggregator's heartbeat force-close and every
// strategy's cooldown-expiry check (§4.7, §4.8 heartbeat).
func (r *Runner) OnTimeUpdate(now time.Time) {
	r.agg.OnTimeUpdate(now)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.strategies {
		s.OnTimeUpdate(now)
	}
}

// OnOrderUpdate routes a fill/reject event to the owning strategy.
func (r *Runner) OnOrderUpdate(u domain.OrderUpdate, now time.Time) {
	r.mu.RLock()
	s, ok := r.strategies[u.Token]
	r.mu.RUnlock()
	if ok {
		s.OnOrderUpdate(u, now)
	}
}

func (r *Runner) onBarClose(bar domain.Bar) {
	r.mu.RLock()
	s, ok := r.strategies[bar.Token]
	listener := r.barListener
	r.mu.RUnlock()

	if listener != nil {
		listener(bar)
	}
	if !ok {
		return
	}

	intent, signalled := s.SafeOnBarClose(bar)
	if !signalled {
		return
	}
	r.dispatch(bar.Token, s, intent, 0)
}

// OnExternalSignal routes an authenticated webhook signal (§6) to the
// matching token's strategy through the same entry/exit classification and
// sizing path a formula-generated intent uses. qty, if > 0, overrides
// sizer-computed quantity on entries; it has no effect on exits, which
// always close the full existing position.
func (r *Runner) OnExternalSignal(token int64, side domain.Side, price float64, qty int64) {
	r.mu.RLock()
	s, ok := r.strategies[token]
	r.mu.RUnlock()
	if !ok {
		return
	}

	intent, signalled := s.SafeExternalSignal(side, price)
	if !signalled {
		return
	}
	r.dispatch(token, s, intent, qty)
}

// dispatch classifies intent as an entry or exit against the strategy's
// current position, sizes it, and hands it to the executor (§4.7). Shared
// by both bar-close-generated and externally-signalled intents.
func (r *Runner) dispatch(token int64, s *Strategy, intent domain.Intent, explicitQty int64) {
	snap := s.Snapshot()

	// An order that moves |position| toward zero is an exit and bypasses
	// sizing and concurrency gating: it always closes the full position.
	// An order that moves |position| away from zero is an entry (§4.7).
	isExit := snap.Qty != 0 && exitsPosition(snap.Qty, intent.Side)

	// COOLING means the strategy just exited and Qty is already 0, so
	// isExit is never true here; every COOLING intent would otherwise fall
	// through to the entry path. Signals must not be actioned again until
	// the cooldown elapses and OnTimeUpdate returns the strategy to FLAT.
	if snap.Position == domain.PositionCool {
		return
	}

	var qty int64
	switch {
	case isExit:
		qty = abs64(snap.Qty)
	case explicitQty > 0:
		qty = explicitQty
	default:
		lot := r.instr.LotSize(token)
		total, avail, maxSlots, openSlots, riskFrac, leverage := r.risk.Snapshot()
		qty = r.sizer.Size(total, avail, maxSlots, openSlots, intent.Price, intent.StopLoss, lot, intent.Confidence, riskFrac, leverage)
		if qty <= 0 {
			return
		}
	}

	symbol := r.instr.Symbol(token)
	tag := fmt.Sprintf("%s:%s", snap.Name, intent.Tag)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, _ = r.exec.ExecuteOrder(ctx, symbol, token, intent.Side, qty, intent.Price, intent.StopLoss, tag, isExit)
}

// exitsPosition reports whether a signal of the given side would reduce
// the magnitude of the current signed position rather than grow it.
func exitsPosition(signedQty int64, side domain.Side) bool {
	if signedQty > 0 {
		return side == domain.SideSell
	}
	return side == domain.SideBuy
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
