package strategy

import "github.com/rkulkarni/tradecore/internal/domain"

// emaBuffers is the indicator state for EMACross, stored behind
// StrategyState.IndicatorData.
type emaBuffers struct {
	fast     float64
	slow     float64
	haveFast bool
	haveSlow bool
}

// EMACross is the one worked example of the Formula contract: a fast/slow
// exponential-moving-average crossover. Confidence scales with how far the
// EMAs have separated, clamped to the [0.5, 2.0] contract range. Grounded
// on the EMA(close,4) vs EMA(close,8) regime filter in
// chidi150c-coinbase/strategy.go, reworked from a float-slice backtest
// helper into an incremental per-tick/per-bar formula.
type EMACross struct {
	FastPeriod int
	SlowPeriod int
	StopLossFrac float64
}

// NewEMACross builds a crossover formula with sane defaults matching the
// teacher's EMA(4)/EMA(8) regime filter.
func NewEMACross(fastPeriod, slowPeriod int, stopLossFrac float64) *EMACross {
	if fastPeriod <= 0 {
		fastPeriod = 4
	}
	if slowPeriod <= 0 {
		slowPeriod = 8
	}
	if stopLossFrac <= 0 {
		stopLossFrac = 0.01
	}
	return &EMACross{FastPeriod: fastPeriod, SlowPeriod: slowPeriod, StopLossFrac: stopLossFrac}
}

// OnTick only maintains the current-bar view; EMAs update on bar close
// since they're defined over closed bars, not intrabar ticks.
func (e *EMACross) OnTick(state *domain.StrategyState, tick domain.Tick) {
	if state.IndicatorData == nil {
		state.IndicatorData = &emaBuffers{}
	}
}

func ema(prev float64, have bool, price float64, period int) float64 {
	if !have {
		return price
	}
	alpha := 2.0 / (float64(period) + 1.0)
	return alpha*price + (1-alpha)*prev
}

// OnBarClose recomputes both EMAs off the closed bar and signals a crossover.
func (e *EMACross) OnBarClose(state *domain.StrategyState, bar domain.Bar) (domain.Intent, bool) {
	buf, ok := state.IndicatorData.(*emaBuffers)
	if !ok || buf == nil {
		buf = &emaBuffers{}
		state.IndicatorData = buf
	}

	prevFast, prevSlow := buf.fast, buf.slow
	prevHave := buf.haveFast && buf.haveSlow

	buf.fast = ema(buf.fast, buf.haveFast, bar.Close, e.FastPeriod)
	buf.slow = ema(buf.slow, buf.haveSlow, bar.Close, e.SlowPeriod)
	buf.haveFast, buf.haveSlow = true, true

	if !prevHave {
		return domain.Intent{}, false
	}

	crossedUp := prevFast <= prevSlow && buf.fast > buf.slow
	crossedDown := prevFast >= prevSlow && buf.fast < buf.slow
	if !crossedUp && !crossedDown {
		return domain.Intent{}, false
	}

	separation := (buf.fast - buf.slow) / bar.Close
	if separation < 0 {
		separation = -separation
	}
	confidence := domain.ClampConfidence(0.5 + separation*50)

	if crossedUp {
		return domain.Intent{
			Side:       domain.SideBuy,
			Price:      bar.Close,
			StopLoss:   bar.Close * (1 - e.StopLossFrac),
			Confidence: confidence,
			Tag:        "emacross",
		}, true
	}
	return domain.Intent{
		Side:       domain.SideSell,
		Price:      bar.Close,
		StopLoss:   bar.Close * (1 + e.StopLossFrac),
		Confidence: confidence,
		Tag:        "emacross",
	}, true
}
