// Package risk implements the RiskSentinel (§4.10): the single mutex-guarded
// gate on capital exposure and daily loss. Mutation style is grounded on the
// teacher's domain.CircuitBreaker.RecordLoss/RecordWin (consecutive-state
// counters mutated under one lock, generalized here into the fuller
// RiskState struct).
package risk

import (
	"sync"

	"github.com/rkulkarni/tradecore/internal/domain"
)

// ChargeFactor approximates blended intraday brokerage+tax charges as a
// fraction of turnover (§4.10).
const ChargeFactor = 0.00035

// PositionRow is one broker-reported open position, as fed into SyncState.
type PositionRow struct {
	RealizedPnl float64
	BuyAmount   float64
	SellAmount  float64
	NetQty      int64
}

// Sentinel is the single source of truth for whether a new trade may open.
type Sentinel struct {
	mu    sync.Mutex
	state domain.RiskState
}

// New builds a Sentinel with the given daily-loss and concurrency limits.
func New(cfg domain.RiskConfig) *Sentinel {
	return &Sentinel{state: domain.RiskState{Config: cfg}}
}

// Reconfigure swaps the active limits in place, preserving the day's
// accumulated ledger (GrossPnl, OpenTrades, TradesToday, KillSwitch). Engine
// start/restart calls this rather than constructing a fresh Sentinel so
// components that already hold a pointer to this instance keep seeing
// updated limits.
func (s *Sentinel) Reconfigure(cfg domain.RiskConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Config = cfg
}

// Snapshot returns a copy of the current risk state.
func (s *Sentinel) Snapshot() domain.RiskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SyncState reconciles broker-sourced truth into the risk ledger (§4.10).
// It replaces gross PnL, turnover, and open-trade counts wholesale; it is
// idempotent because it always recomputes from the full position set rather
// than accumulating deltas across calls.
func (s *Sentinel) SyncState(rows []PositionRow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var grossPnl, turnover float64
	var openTrades int
	for _, r := range rows {
		grossPnl += r.RealizedPnl
		turnover += abs(r.BuyAmount) + abs(r.SellAmount)
		if r.NetQty != 0 {
			openTrades++
		}
	}

	s.state.GrossPnl = grossPnl
	s.state.EstCharges = turnover * ChargeFactor
	s.state.OpenTrades = openTrades
	s.tripIfBreached()
}

// CheckPreTrade gates a new entry. On acceptance it optimistically reserves
// a slot and a daily-trade count; OnExecutionFailure must roll these back
// if the broker subsequently rejects the order (§4.10, §4.7 exits bypass
// this gate entirely and never call it).
func (s *Sentinel) CheckPreTrade() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.KillSwitch {
		return false
	}
	if s.state.NetPnl() <= -s.state.Config.MaxDailyLoss {
		s.state.KillSwitch = true
		return false
	}
	if s.state.OpenTrades >= s.state.Config.MaxConcurrentTrades {
		return false
	}

	s.state.OpenTrades++
	s.state.TradesToday++
	return true
}

// OnExecutionFailure rolls back the optimistic reservation made by
// CheckPreTrade when the broker rejects the order.
func (s *Sentinel) OnExecutionFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.OpenTrades > 0 {
		s.state.OpenTrades--
	}
}

// OnTradeClose books a realized pnl from a closed trade and releases its
// open-trade slot (§4.10).
func (s *Sentinel) OnTradeClose(pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.GrossPnl += pnl
	if s.state.OpenTrades > 0 {
		s.state.OpenTrades--
	}
	s.tripIfBreached()
}

// DailyReset clears the per-day PnL ledger and kill switch. OpenTrades is
// deliberately left untouched; it is re-derived by the next SyncState so
// carryover positions are never forgotten (§4.10).
func (s *Sentinel) DailyReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.GrossPnl = 0
	s.state.EstCharges = 0
	s.state.TradesToday = 0
	s.state.PeakEquity = 0
	s.state.KillSwitch = false
}

// tripIfBreached latches the kill switch once net pnl crosses the daily
// loss limit. Latching means a later recovery of netPnl above the
// threshold does not clear it; only DailyReset can.
func (s *Sentinel) tripIfBreached() {
	if s.state.NetPnl() <= -s.state.Config.MaxDailyLoss {
		s.state.KillSwitch = true
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
