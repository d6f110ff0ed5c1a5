// Package strategy implements the per-instrument state machine (§4.7): the
// pluggable Formula contract, the FLAT/LONG/SHORT/COOLING/DISABLED state
// machine, the error boundary, and the Runner that classifies formula
// intents into entries and exits and drives the execution pipeline.
package strategy

import (
	"sync"
	"time"

	"github.com/rkulkarni/tradecore/internal/domain"
)

// DefaultMaxErrors is how many consecutive formula errors a strategy
// tolerates; one more disables it.
const DefaultMaxErrors = 5

// Strategy owns one instrument's state machine and formula. Its indicator
// buffers and position counters are exclusively its own (§3 Ownership).
type Strategy struct {
	mu             sync.Mutex
	state          domain.StrategyState
	formula        Formula
	appliedOrderID map[string]domain.OrderStatus
}

// New builds a Strategy for one token, starting FLAT and active.
func New(token int64, name string, formula Formula, cooldown time.Duration, params map[string]float64) *Strategy {
	maxErrors := DefaultMaxErrors
	return &Strategy{
		formula: formula,
		state: domain.StrategyState{
			Token:     token,
			Name:      name,
			Params:    params,
			IsActive:  true,
			Position:  domain.PositionFlat,
			Cooldown:  cooldown,
			MaxErrors: maxErrors,
		},
		appliedOrderID: make(map[string]domain.OrderStatus),
	}
}

// Snapshot returns a copy of the current state for read-only reporting.
func (s *Strategy) Snapshot() domain.StrategyState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsActive reports whether the strategy is still being fed ticks.
func (s *Strategy) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsActive
}

// SafeOnTick wraps Formula.OnTick in an error boundary: a panic increments
// errorCount instead of crashing the engine; success resets it. Crossing
// MaxErrors disables the strategy permanently (§4.7).
func (s *Strategy) SafeOnTick(tick domain.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.IsActive {
		return
	}
	s.guard(func() { s.formula.OnTick(&s.state, tick) })
}

// SafeOnBarClose wraps Formula.OnBarClose the same way and returns the
// intent only when the call succeeded and the strategy is still active.
func (s *Strategy) SafeOnBarClose(bar domain.Bar) (intent domain.Intent, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.IsActive {
		return domain.Intent{}, false
	}

	s.guard(func() {
		intent, ok = s.formula.OnBarClose(&s.state, bar)
	})
	if !s.state.IsActive {
		return domain.Intent{}, false
	}
	return intent, ok
}

// SafeExternalSignal builds the intent for an authenticated webhook signal
// (§6 WebhookSignal): fixed confidence 2.0 (the maximum the contract
// allows) and tag "WEBHOOK", routed through the same active-strategy check
// formula intents go through but bypassing the formula itself.
func (s *Strategy) SafeExternalSignal(side domain.Side, price float64) (domain.Intent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.IsActive {
		return domain.Intent{}, false
	}
	return domain.Intent{
		Side:       side,
		Price:      price,
		Confidence: domain.ClampConfidence(2.0),
		Tag:        "WEBHOOK",
	}, true
}

// guard recovers a panicking formula call, attributing it to the error
// counter instead of crashing the engine (§4.7, §7 StrategyBug).
func (s *Strategy) guard(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.bumpError()
			return
		}
	}()
	fn()
	s.state.ErrorCount = 0
}

func (s *Strategy) bumpError() {
	s.state.ErrorCount++
	if s.state.ErrorCount > s.state.MaxErrors {
		s.state.IsActive = false
	}
}

// OnTimeUpdate advances the COOLING -> FLAT transition once cooldown has
// elapsed since the last exit (§4.7).
func (s *Strategy) OnTimeUpdate(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Position == domain.PositionCool && now.Sub(s.state.LastExitTime) >= s.state.Cooldown {
		s.state.Position = domain.PositionFlat
	}
}

// OnOrderUpdate is the idempotent fill/reject handler (§4.7). Duplicate
// deliveries of the same (InternalID, Status) pair are no-ops.
func (s *Strategy) OnOrderUpdate(u domain.OrderUpdate, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, seen := s.appliedOrderID[u.InternalID]; seen && prev == u.Status {
		return
	}
	s.appliedOrderID[u.InternalID] = u.Status

	if u.Status != domain.StatusComplete && u.Status != domain.StatusPartial {
		return
	}

	delta := u.FilledQty
	if u.Side == domain.SideSell {
		delta = -delta
	}

	prevQty := s.state.Qty
	newQty := prevQty + delta

	switch {
	case prevQty != 0 && newQty == 0:
		s.state.LastExitTime = now
		s.state.Position = domain.PositionCool
		s.state.AvgPrice = 0
	case newQty != 0:
		s.state.AvgPrice = u.FillPrice
		if newQty > 0 {
			s.state.Position = domain.PositionLong
		} else {
			s.state.Position = domain.PositionShort
		}
	}
	s.state.Qty = newQty
}
