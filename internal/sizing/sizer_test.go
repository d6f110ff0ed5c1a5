package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSizeCapitalConstrained(t *testing.T) {
	s := New()
	// slotAllocation = 100000/4 = 25000; adjusted = 25000*1.0 = 25000
	// openSlots==1 -> capAllowed = min(25000, avail=100000) = 25000
	// qtyByCap = 25000*1/100 = 250
	// riskAmount = 100000*0.01 = 1000; riskPerShare=|100-98|=2 -> qtyByRisk=500
	// rawQty = min(250,500)=250 -> lots floor(250/50)*50=250
	qty := s.Size(100000, 100000, 4, 1, 100, 98, 50, 1.0, 0.01, 1)
	assert.Equal(t, int64(250), qty)
}

func TestSizeRiskConstrained(t *testing.T) {
	s := New()
	// tight risk budget forces qtyByRisk below qtyByCap.
	qty := s.Size(100000, 100000, 4, 2, 100, 95, 50, 1.0, 0.001, 5)
	// riskAmount = 100; riskPerShare = 5 -> qtyByRisk = 20 -> floor(20/50)*50 = 0
	assert.Equal(t, int64(0), qty)
}

func TestSizeTightStopFallback(t *testing.T) {
	s := New()
	// |entry-sl| = 0.02 < 0.05 floor, substitutes entry*0.005 = 0.5
	qty := s.Size(100000, 100000, 4, 2, 100, 99.98, 10, 1.0, 0.01, 1)
	// riskAmount=1000; riskPerShare=0.5 -> qtyByRisk=2000
	// slotAllocation=25000 adjusted=25000 capAllowed=min(25000,100000)=25000 qtyByCap=250
	// rawQty=min(250,2000)=250 -> floor(250/10)*10=250
	assert.Equal(t, int64(250), qty)
}

func TestSizeSingleSlotCapsToFairShareEvenWithHighConfidence(t *testing.T) {
	s := New()
	// openSlots==1 must ignore the confidence-adjusted figure and use slotAllocation directly.
	qty := s.Size(100000, 100000, 4, 1, 100, 98, 50, 2.0, 0.10, 1)
	// slotAllocation=25000, capAllowed=min(25000,100000)=25000 (not 50000) -> qtyByCap=250
	// riskAmount=10000; riskPerShare=2 -> qtyByRisk=5000
	// rawQty=min(250,5000)=250 -> 250
	assert.Equal(t, int64(250), qty)
}

func TestSizeAvailableCapitalConstrained(t *testing.T) {
	s := New()
	qty := s.Size(100000, 5000, 4, 2, 100, 98, 50, 1.0, 0.10, 1)
	// adjusted=25000, capAllowed=min(25000,5000)=5000 -> qtyByCap=50
	// riskAmount=10000; riskPerShare=2 -> qtyByRisk=5000
	// rawQty=min(50,5000)=50 -> floor(50/50)*50=50
	assert.Equal(t, int64(50), qty)
}

func TestSizeReturnsZeroForDegenerateInputs(t *testing.T) {
	s := New()
	assert.Equal(t, int64(0), s.Size(100000, 100000, 0, 1, 100, 98, 50, 1, 0.01, 1))
	assert.Equal(t, int64(0), s.Size(100000, 100000, 4, 1, 100, 98, 0, 1, 0.01, 1))
	assert.Equal(t, int64(0), s.Size(100000, 100000, 4, 1, 0, 98, 50, 1, 0.01, 1))
}
