// Package domain holds the core types shared by every component of the
// execution engine: instruments, ticks, bars, strategy state, orders, risk
// state and the persisted engine configuration.
package domain

// Instrument is an immutable-per-day record describing one tradable token.
// Every token seen on the feed or in an order must resolve to an Instrument
// loaded into the cache at boot.
type Instrument struct {
	Token         int64
	TradingSymbol string
	Segment       string
	LotSize       int64
	TickSize      float64
	FreezeQty     int64
}

// DefaultFreezeQty is used when an instrument's freeze quantity is unknown.
const DefaultFreezeQty = 1800
