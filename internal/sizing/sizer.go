// Package sizing implements the PositionSizer (§4.9): capital- and
// risk-based position sizing with confidence scaling and a lot-size floor.
// All money math runs in shopspring/decimal to avoid rounding drift across
// repeated sizing calls on a hot path, matching the decimal discipline used
// throughout the example pack's execution code.
package sizing

import (
	"github.com/shopspring/decimal"
)

var (
	minRiskPerShare = decimal.NewFromFloat(0.05)
	tightStopFrac   = decimal.NewFromFloat(0.005)
	zero            = decimal.Zero
)

// PositionSizer implements the 8-step sizing algorithm. It holds no state:
// every call is a pure function of its inputs.
type PositionSizer struct{}

// New builds a PositionSizer.
func New() *PositionSizer { return &PositionSizer{} }

// Size returns the lot-rounded quantity to trade, or 0 if the computed
// quantity is non-positive or any precondition is violated.
func (PositionSizer) Size(totalCapital, availableCapital float64, maxOpenSlots, openSlots int, entry, stopLoss float64, lotSize int64, confidence, riskPerTradeFrac, leverage float64) int64 {
	if maxOpenSlots <= 0 || lotSize <= 0 || entry <= 0 {
		return 0
	}

	total := decimal.NewFromFloat(totalCapital)
	avail := decimal.NewFromFloat(availableCapital)
	entryD := decimal.NewFromFloat(entry)
	slD := decimal.NewFromFloat(stopLoss)
	confD := decimal.NewFromFloat(confidence)
	leverageD := decimal.NewFromFloat(leverage)
	riskFracD := decimal.NewFromFloat(riskPerTradeFrac)

	slotAllocation := total.Div(decimal.NewFromInt(int64(maxOpenSlots)))
	adjusted := slotAllocation.Mul(confD)

	var capAllowed decimal.Decimal
	if openSlots > 1 {
		capAllowed = decimal.Min(adjusted, avail)
	} else {
		capAllowed = decimal.Min(slotAllocation, avail)
	}
	if capAllowed.IsNegative() {
		capAllowed = zero
	}

	qtyByCap := capAllowed.Mul(leverageD).Div(entryD)

	riskAmount := total.Mul(riskFracD)
	riskPerShare := entryD.Sub(slD).Abs()
	if riskPerShare.LessThan(minRiskPerShare) {
		riskPerShare = entryD.Mul(tightStopFrac)
	}
	if riskPerShare.LessThanOrEqual(zero) {
		return 0
	}
	qtyByRisk := riskAmount.Div(riskPerShare)

	rawQty := decimal.Min(qtyByCap, qtyByRisk)
	if rawQty.LessThanOrEqual(zero) {
		return 0
	}

	lots := rawQty.Div(decimal.NewFromInt(lotSize)).Floor()
	qty := lots.Mul(decimal.NewFromInt(lotSize)).IntPart()
	if qty <= 0 {
		return 0
	}
	return qty
}
