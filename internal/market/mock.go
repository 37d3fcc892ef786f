package market

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cyclebot/internal/events"
)

// MockFeed generates synthetic bars for local development. It streams bar
// closes onto the bus at a compressed cadence and serves analysis windows
// from the same price state, so the whole engine runs without network
// access.
type MockFeed struct {
	Bus        *events.Bus
	Symbols    []string
	Timeframe  string
	StartPrice float64
	StepPct    float64       // per-bar move as a fraction of price
	Interval   time.Duration // wall-clock pacing between emitted bars
	Seed       int64
	Log        zerolog.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
}

func (m *MockFeed) init() {
	if m.prices == nil {
		m.prices = make(map[string]float64)
	}
	if m.rng == nil {
		seed := m.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		m.rng = rand.New(rand.NewSource(seed))
	}
	if m.StartPrice == 0 {
		m.StartPrice = 100.0
	}
	if m.StepPct == 0 {
		m.StepPct = 0.004
	}
	if m.Interval == 0 {
		m.Interval = 2 * time.Second
	}
	if m.Timeframe == "" {
		m.Timeframe = "1h"
	}
}

// Start begins emitting one bar per symbol per interval until ctx ends.
func (m *MockFeed) Start(ctx context.Context) {
	if m.Bus == nil {
		m.Log.Warn().Msg("mock feed: bus not set")
		return
	}
	if len(m.Symbols) == 0 {
		m.Symbols = []string{"BTCUSDT"}
	}
	m.mu.Lock()
	m.init()
	m.mu.Unlock()

	go func() {
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				for _, sym := range m.Symbols {
					bar := m.nextBar(sym, now)
					m.Bus.Publish(events.TopicBarClose, bar)
					m.Bus.Publish(events.TopicPriceTick, PriceTick{
						Symbol: sym,
						Price:  bar.Close,
						Time:   bar.CloseTime,
					})
				}
			}
		}
	}()
}

// nextBar advances the random walk for one symbol and returns the bar.
func (m *MockFeed) nextBar(symbol string, now time.Time) Bar {
	m.mu.Lock()
	defer m.mu.Unlock()

	open := m.prices[symbol]
	if open == 0 {
		open = m.StartPrice
	}

	high, low, price := open, open, open
	// Four sub-moves give the bar a believable range around open/close.
	for i := 0; i < 4; i++ {
		price *= 1 + (m.rng.Float64()*2-1)*m.StepPct/2
		if price > high {
			high = price
		}
		if price < low {
			low = price
		}
	}
	m.prices[symbol] = price

	tfDur, err := TimeframeDuration(m.Timeframe)
	if err != nil {
		tfDur = time.Hour
	}
	closeMs := now.UnixMilli()
	return Bar{
		Symbol:    symbol,
		Timeframe: m.Timeframe,
		OpenTime:  closeMs - tfDur.Milliseconds(),
		CloseTime: closeMs,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     price,
		Volume:    100 + m.rng.Float64()*900,
	}
}

// Window serves a synthetic history whose last close matches the live
// stream price, so analysis and simulation stay consistent.
func (m *MockFeed) Window(ctx context.Context, symbol, timeframe string, limit int) (Window, error) {
	if limit <= 0 {
		limit = 100
	}

	m.mu.Lock()
	m.init()
	last := m.prices[symbol]
	if last == 0 {
		last = m.StartPrice
		m.prices[symbol] = last
	}
	step := m.StepPct
	rng := rand.New(rand.NewSource(m.rng.Int63()))
	m.mu.Unlock()

	tfDur, err := TimeframeDuration(timeframe)
	if err != nil {
		return Window{}, err
	}

	// Walk backwards from the live price so the window ends on it.
	closes := make([]float64, limit)
	closes[limit-1] = last
	for i := limit - 2; i >= 0; i-- {
		closes[i] = closes[i+1] / (1 + (rng.Float64()*2-1)*step)
	}

	nowMs := time.Now().UnixMilli()
	bars := make([]Bar, limit)
	for i := range bars {
		open := closes[i]
		if i > 0 {
			open = closes[i-1]
		}
		hi, lo := open, open
		if closes[i] > hi {
			hi = closes[i]
		}
		if closes[i] < lo {
			lo = closes[i]
		}
		closeMs := nowMs - int64(limit-1-i)*tfDur.Milliseconds()
		bars[i] = Bar{
			Symbol:    symbol,
			Timeframe: timeframe,
			OpenTime:  closeMs - tfDur.Milliseconds(),
			CloseTime: closeMs,
			Open:      open,
			High:      hi * (1 + step/4),
			Low:       lo * (1 - step/4),
			Close:     closes[i],
			Volume:    100 + rng.Float64()*900,
		}
	}
	return Window{Symbol: symbol, Timeframe: timeframe, Bars: bars}, nil
}
