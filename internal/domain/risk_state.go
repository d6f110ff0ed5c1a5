package domain

// RiskConfig is the set of risk parameters read from EngineConfig.
type RiskConfig struct {
	MaxDailyLoss        float64 // > 0
	MaxConcurrentTrades int     // >= 1
	RiskPerTradeFrac    float64 // (0, 0.10]
	Leverage            float64 // [1, 5]
	SizingMethod        string
}

// RiskState is the singleton per-trading-day risk ledger. Once KillSwitch is
// on it stays on until an explicit DailyReset.
type RiskState struct {
	GrossPnl    float64
	EstCharges  float64
	OpenTrades  int
	TradesToday int
	PeakEquity  float64
	KillSwitch  bool
	Config      RiskConfig
}

// NetPnl is GrossPnl minus estimated charges.
func (r *RiskState) NetPnl() float64 {
	return r.GrossPnl - r.EstCharges
}
