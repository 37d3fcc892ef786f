package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestSetGet(t *testing.T) {
	c := NewShardedPriceCache()

	if _, ok := c.Get("BTCUSDT"); ok {
		t.Fatalf("empty cache returned a hit")
	}

	c.Set("BTCUSDT", 50000)
	got, ok := c.Get("BTCUSDT")
	if !ok || got != 50000 {
		t.Fatalf("got %v/%v, expected 50000/true", got, ok)
	}

	price, age, ok := c.GetWithAge("BTCUSDT")
	if !ok || price != 50000 {
		t.Fatalf("got %v/%v, expected 50000/true", price, ok)
	}
	if age < 0 || age > time.Second {
		t.Fatalf("age=%v, expected a fresh entry", age)
	}
}

func TestCleanup(t *testing.T) {
	c := NewShardedPriceCache()
	c.Set("BTCUSDT", 50000)
	c.Set("ETHUSDT", 3000)

	time.Sleep(5 * time.Millisecond)
	if removed := c.Cleanup(time.Millisecond); removed != 2 {
		t.Fatalf("removed=%d, expected 2", removed)
	}
	if c.Len() != 0 {
		t.Fatalf("len=%d, expected 0 after cleanup", c.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := NewShardedPriceCache()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sym := fmt.Sprintf("SYM%dUSDT", n)
			for j := 0; j < 100; j++ {
				c.Set(sym, float64(j))
				c.Get(sym)
			}
		}(i)
	}
	wg.Wait()

	if c.Len() != 8 {
		t.Fatalf("len=%d, expected 8 symbols", c.Len())
	}
}
