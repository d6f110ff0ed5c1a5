package domain

import "time"

// EngineConfig is the persisted intent set by /start and restored on boot.
type EngineConfig struct {
	Capital             float64
	Leverage            float64
	StrategyName        string
	Symbols             []string
	StrategyParams      map[string]float64
	MaxDailyLoss        float64
	MaxConcurrentTrades int
	SizingMethod        string
	RiskPerTradeFrac    float64
	UpdatedAt           time.Time
}

// Mode distinguishes the broker backend in use.
type Mode string

const (
	ModePaper Mode = "PAPER"
	ModeLive  Mode = "LIVE"
)

// RiskStatus summarizes RiskState for the health endpoint.
type RiskStatus struct {
	NetPnl      float64
	OpenTrades  int
	TradesToday int
	KillSwitch  bool
}

// QueueStats is the EventBus health snapshot (§4.4).
type QueueStats struct {
	TickQSize      int
	TickQCap       int
	TicksDropped   int64
	OrderQSize     int
	OrderQCap      int
	OrdersEnqueued int64
}

// HealthSnapshot is returned by Engine.Health().
type HealthSnapshot struct {
	EngineRunning    bool
	Mode             Mode
	Risk             RiskStatus
	Queues           QueueStats
	ActiveStrategies []string
}

// StrategySnapshot is one row of Engine.Status().
type StrategySnapshot struct {
	Symbol        string
	Position      int64
	AvgPrice      float64
	LastPrice     float64
	UnrealizedPnl float64
}
