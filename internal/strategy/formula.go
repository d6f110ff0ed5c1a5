package strategy

import "github.com/rkulkarni/tradecore/internal/domain"

// Formula is the pluggable decision contract (§4.7). Parameters and
// formulas are out of scope per the spec; this package ships exactly one
// worked example (EMACross) so the contract has a concrete implementation.
type Formula interface {
	// OnTick updates whatever indicator buffers this formula keeps inside
	// state.IndicatorData. Called on every tick for the formula's token.
	OnTick(state *domain.StrategyState, tick domain.Tick)

	// OnBarClose is the pure decision function. Returns ok=false for "no
	// signal this bar".
	OnBarClose(state *domain.StrategyState, bar domain.Bar) (domain.Intent, bool)
}
