package sim

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"cyclebot/internal/events"
	"cyclebot/internal/market"
	"cyclebot/internal/trade"
	"cyclebot/pkg/db"
)

// Simulator advances paper trades on closed bars. All state changes go
// through the lifecycle guard; a rejected transition leaves the trade as-is
// for the next bar.
type Simulator struct {
	DB             *db.Database
	Guard          *trade.Guard
	Bus            *events.Bus
	Limits         map[string]int // timeframe -> max bars open
	DefaultMaxBars int
	Log            zerolog.Logger

	mu       sync.Mutex
	barsOpen map[string]int   // trade id -> bars seen since fill
	lastBar  map[string]int64 // symbol|timeframe -> last accepted close time
}

func New(database *db.Database, guard *trade.Guard, bus *events.Bus, limits map[string]int, defaultMaxBars int, log zerolog.Logger) *Simulator {
	if defaultMaxBars <= 0 {
		defaultMaxBars = 48
	}
	return &Simulator{
		DB:             database,
		Guard:          guard,
		Bus:            bus,
		Limits:         limits,
		DefaultMaxBars: defaultMaxBars,
		Log:            log,
		barsOpen:       make(map[string]int),
		lastBar:        make(map[string]int64),
	}
}

// Run consumes bar closes until ctx ends.
func (s *Simulator) Run(ctx context.Context) {
	ch, unsub := s.Bus.Subscribe(events.TopicBarClose, 256)
	defer unsub()

	s.Log.Info().Msg("trade simulator started")
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			bar, ok := env.Payload.(market.Bar)
			if !ok {
				continue
			}
			s.handleBar(ctx, bar)
		}
	}
}

// handleBar advances every open trade matching the bar's symbol+timeframe.
func (s *Simulator) handleBar(ctx context.Context, bar market.Bar) {
	if !s.acceptBar(bar) {
		return
	}

	open, err := s.DB.ListOpenTrades(ctx, "")
	if err != nil {
		s.Log.Error().Err(err).Msg("simulator: list open trades")
		return
	}

	for i := range open {
		t := &open[i]
		if t.Symbol != bar.Symbol || t.Timeframe != bar.Timeframe {
			continue
		}
		switch t.Status {
		case trade.StatusPendingFill:
			s.tryFill(ctx, t, bar)
		case trade.StatusFilled:
			s.advanceFilled(ctx, t, bar)
		}
	}

	// Keep monitor price views current in paper mode.
	if s.Bus != nil {
		s.Bus.Publish(events.TopicPriceTick, market.PriceTick{
			Symbol: bar.Symbol,
			Price:  bar.Close,
			Time:   bar.CloseTime,
		})
	}
}

// acceptBar dedupes redelivered bars per symbol+timeframe.
func (s *Simulator) acceptBar(bar market.Bar) bool {
	key := bar.Symbol + "|" + bar.Timeframe
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, seen := s.lastBar[key]; seen && bar.CloseTime <= last {
		return false
	}
	s.lastBar[key] = bar.CloseTime
	return true
}

func (s *Simulator) tryFill(ctx context.Context, t *db.Trade, bar market.Bar) {
	if bar.Low > t.EntryPrice || bar.High < t.EntryPrice {
		return
	}

	_, err := s.Guard.Fill(ctx, t.ID, t.EntryPrice, bar.ClosedAt())
	switch {
	case err == nil:
		s.setBarsOpen(t.ID, 0)
	case errors.Is(err, trade.ErrInvalidTransition), errors.Is(err, db.ErrNotFound):
		// raced with another path; nothing to do
	default:
		if _, ok := trade.AsViolation(err); ok {
			// bar predates the trade; retry on the next one
			s.Log.Debug().Str("trade_id", t.ID).Int64("bar_close", bar.CloseTime).Msg("fill deferred")
			return
		}
		s.Log.Error().Err(err).Str("trade_id", t.ID).Msg("simulator: fill failed")
	}
}

func (s *Simulator) advanceFilled(ctx context.Context, t *db.Trade, bar market.Bar) {
	bars := s.bumpBarsOpen(t.ID)

	if price, reason, hit := exitTouch(t, bar); hit {
		_, err := s.Guard.Close(ctx, t.ID, trade.Exit{Price: price, Reason: reason, At: bar.ClosedAt()})
		s.afterTransition(t.ID, "close", err)
		return
	}

	if bars >= s.maxBars(t.Timeframe) {
		closePrice := bar.Close
		_, err := s.Guard.Cancel(ctx, t.ID, trade.ReasonMaxBarsExceeded, bar.ClosedAt(), &closePrice)
		s.afterTransition(t.ID, "timeout cancel", err)
	}
}

// exitTouch tests the bar range against stop and target. A bar spanning
// both resolves to the stop.
func exitTouch(t *db.Trade, bar market.Bar) (price float64, reason string, hit bool) {
	if t.Side == trade.SideLong {
		if bar.Low <= t.StopLoss {
			return t.StopLoss, trade.ReasonStopHit, true
		}
		if bar.High >= t.TakeProfit {
			return t.TakeProfit, trade.ReasonTargetHit, true
		}
		return 0, "", false
	}
	if bar.High >= t.StopLoss {
		return t.StopLoss, trade.ReasonStopHit, true
	}
	if bar.Low <= t.TakeProfit {
		return t.TakeProfit, trade.ReasonTargetHit, true
	}
	return 0, "", false
}

func (s *Simulator) afterTransition(tradeID, op string, err error) {
	switch {
	case err == nil:
		s.clearBarsOpen(tradeID)
	case errors.Is(err, trade.ErrInvalidTransition), errors.Is(err, db.ErrNotFound):
		s.clearBarsOpen(tradeID)
	default:
		// guard already logged violations with full context
		s.Log.Debug().Err(err).Str("trade_id", tradeID).Msgf("simulator: %s rejected", op)
	}
}

func (s *Simulator) maxBars(timeframe string) int {
	if n, ok := s.Limits[timeframe]; ok && n > 0 {
		return n
	}
	return s.DefaultMaxBars
}

// BarsOpen reports how many bars a trade has been open in this process.
func (s *Simulator) BarsOpen(tradeID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.barsOpen[tradeID]
}

func (s *Simulator) setBarsOpen(tradeID string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.barsOpen[tradeID] = n
}

func (s *Simulator) bumpBarsOpen(tradeID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.barsOpen[tradeID]++
	return s.barsOpen[tradeID]
}

func (s *Simulator) clearBarsOpen(tradeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.barsOpen, tradeID)
}
