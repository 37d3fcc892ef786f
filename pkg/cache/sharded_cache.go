package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

// ShardedPriceCache keeps the most recent tick price per symbol. Symbols
// hash to one of shardCount independently locked maps so concurrent feed
// writers and monitor readers rarely contend.
type ShardedPriceCache struct {
	shards []*shard
}

type shard struct {
	sync.RWMutex
	prices map[string]pricePoint
}

type pricePoint struct {
	value float64
	at    time.Time
}

func NewShardedPriceCache() *ShardedPriceCache {
	c := &ShardedPriceCache{shards: make([]*shard, shardCount)}
	for i := range c.shards {
		c.shards[i] = &shard{prices: make(map[string]pricePoint)}
	}
	return c
}

func (c *ShardedPriceCache) shardFor(symbol string) *shard {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return c.shards[h.Sum32()%shardCount]
}

// Set records the latest price for symbol, stamped now.
func (c *ShardedPriceCache) Set(symbol string, price float64) {
	sh := c.shardFor(symbol)
	sh.Lock()
	sh.prices[symbol] = pricePoint{value: price, at: time.Now()}
	sh.Unlock()
}

// Get returns the last seen price for symbol.
func (c *ShardedPriceCache) Get(symbol string) (float64, bool) {
	sh := c.shardFor(symbol)
	sh.RLock()
	p, ok := sh.prices[symbol]
	sh.RUnlock()
	if !ok {
		return 0, false
	}
	return p.value, true
}

// GetWithAge returns the last seen price and how long ago it arrived, so
// callers can decide whether it is still trustworthy.
func (c *ShardedPriceCache) GetWithAge(symbol string) (float64, time.Duration, bool) {
	sh := c.shardFor(symbol)
	sh.RLock()
	p, ok := sh.prices[symbol]
	sh.RUnlock()
	if !ok {
		return 0, 0, false
	}
	return p.value, time.Since(p.at), true
}

// Len counts entries across all shards.
func (c *ShardedPriceCache) Len() int {
	n := 0
	for _, sh := range c.shards {
		sh.RLock()
		n += len(sh.prices)
		sh.RUnlock()
	}
	return n
}

// Cleanup drops entries older than maxAge and returns how many went. Feeds
// re-populate live symbols on the next tick; anything left to expire was a
// delisted or unsubscribed symbol.
func (c *ShardedPriceCache) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, sh := range c.shards {
		sh.Lock()
		for sym, p := range sh.prices {
			if p.at.Before(cutoff) {
				delete(sh.prices, sym)
				removed++
			}
		}
		sh.Unlock()
	}
	return removed
}
