package domain

import "time"

// Tick is a single trade/quote update from the broker feed. Transient —
// never persisted.
type Tick struct {
	Token      int64
	LTP        float64
	CumVolume  int64
	LastTradeT time.Time
}

// Bar is one minute of OHLCV for a token. Invariants: Low <= Open,Close <=
// High, Volume >= 0, StartTime is minute-aligned in the exchange timezone.
type Bar struct {
	Token     int64
	StartTime time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}
