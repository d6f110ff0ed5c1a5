// Package instrument holds the symbol<->token lookup loaded once at boot.
package instrument

import (
	"fmt"
	"sync"

	"github.com/rkulkarni/tradecore/internal/domain"
)

// Cache is a read-mostly lookup of Instrument by token and trading symbol.
// Loaded once at boot (§4.8 Boot phase); safe for concurrent reads from the
// tick/order loops while reconfiguration takes the write lock.
type Cache struct {
	mu       sync.RWMutex
	byToken  map[int64]domain.Instrument
	bySymbol map[string]domain.Instrument
}

// New builds an empty cache.
func New() *Cache {
	return &Cache{
		byToken:  make(map[int64]domain.Instrument),
		bySymbol: make(map[string]domain.Instrument),
	}
}

// Load replaces the cache contents atomically.
func (c *Cache) Load(instruments []domain.Instrument) {
	byToken := make(map[int64]domain.Instrument, len(instruments))
	bySymbol := make(map[string]domain.Instrument, len(instruments))
	for _, ins := range instruments {
		byToken[ins.Token] = ins
		bySymbol[ins.TradingSymbol] = ins
	}

	c.mu.Lock()
	c.byToken = byToken
	c.bySymbol = bySymbol
	c.mu.Unlock()
}

// ByToken resolves a token to its Instrument. Every token seen on the feed
// or in an order must resolve here (§3 Instrument invariant).
func (c *Cache) ByToken(token int64) (domain.Instrument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ins, ok := c.byToken[token]
	if !ok {
		return domain.Instrument{}, fmt.Errorf("instrument.ByToken: unknown token %d: %w", token, domain.ErrConfiguration)
	}
	return ins, nil
}

// BySymbol resolves a trading symbol to its Instrument.
func (c *Cache) BySymbol(symbol string) (domain.Instrument, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ins, ok := c.bySymbol[symbol]
	if !ok {
		return domain.Instrument{}, fmt.Errorf("instrument.BySymbol: unknown symbol %q: %w", symbol, domain.ErrConfiguration)
	}
	return ins, nil
}

// FreezeQty returns the instrument's freeze quantity, or the default if the
// token is unknown to the cache.
func (c *Cache) FreezeQty(token int64) int64 {
	ins, err := c.ByToken(token)
	if err != nil || ins.FreezeQty <= 0 {
		return domain.DefaultFreezeQty
	}
	return ins.FreezeQty
}

// Symbol returns the trading symbol for a token, or empty if unknown.
func (c *Cache) Symbol(token int64) string {
	ins, err := c.ByToken(token)
	if err != nil {
		return ""
	}
	return ins.TradingSymbol
}

// LotSize returns the instrument's lot size, defaulting to 1 if unknown.
func (c *Cache) LotSize(token int64) int64 {
	ins, err := c.ByToken(token)
	if err != nil || ins.LotSize <= 0 {
		return 1
	}
	return ins.LotSize
}
