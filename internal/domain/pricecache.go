package domain

import (
	"strings"
	"sync"
)

// PriceEntry is the last known price for a symbol.
type PriceEntry struct {
	Price float64
	Ts    int64 // unix ms
}

// PriceCache holds the last known price per symbol. Entries only ever advance
// forward in time: a write carrying a timestamp older than the stored one is
// dropped, which protects against out-of-order delivery during reconnect
// replay. There is no TTL on read; staleness is the caller's concern.
type PriceCache struct {
	mu      sync.RWMutex
	entries map[string]PriceEntry
}

func NewPriceCache() *PriceCache {
	return &PriceCache{entries: make(map[string]PriceEntry)}
}

// Get returns the cached entry for a symbol, if any.
func (c *PriceCache) Get(symbol string) (PriceEntry, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[symbol]
	return e, ok
}

// Set stores a price if it is not older than the current entry.
// Returns true if the entry was written, false if the update was dropped.
func (c *PriceCache) Set(symbol string, price float64, ts int64) bool {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || price <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.entries[symbol]; ok && ts < cur.Ts {
		return false
	}
	c.entries[symbol] = PriceEntry{Price: price, Ts: ts}
	return true
}

// Snapshot returns a copy of all entries.
func (c *PriceCache) Snapshot() map[string]PriceEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := make(map[string]PriceEntry, len(c.entries))
	for sym, e := range c.entries {
		snap[sym] = e
	}
	return snap
}

func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
