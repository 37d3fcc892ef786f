package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"cyclebot/internal/events"
	"cyclebot/internal/market"
	"cyclebot/internal/order"
	"cyclebot/internal/risk"
	"cyclebot/internal/trade"
	"cyclebot/pkg/cache"
	"cyclebot/pkg/db"
)

// ErrNotOpen rejects exit requests for trades already in a terminal state.
var ErrNotOpen = errors.New("trade is not open")

// Config tunes the position monitor.
type Config struct {
	NodeID        string
	Scope         string        // risk.ScopeGlobal or risk.ScopeNode
	SweepInterval time.Duration // rule evaluation cadence
	StaleFill     time.Duration // pending_fill older than this raises an alert
	MaxPriceAge   time.Duration // cached prices older than this are ignored
	BreachMargin  float64       // fraction beyond the stop before alerting
}

func (c *Config) applyDefaults() {
	if c.Scope == "" {
		c.Scope = risk.ScopeGlobal
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.StaleFill <= 0 {
		c.StaleFill = 30 * time.Minute
	}
	if c.MaxPriceAge <= 0 {
		c.MaxPriceAge = 90 * time.Second
	}
	if c.BreachMargin <= 0 {
		c.BreachMargin = 0.002
	}
}

// Monitor watches open trades. It keeps the price cache fresh from ticks,
// serves exit requests through the lifecycle guard, and raises risk alerts
// when a position drifts through its stop without an exit. It never writes
// trade state itself.
type Monitor struct {
	DB     *db.Database
	Guard  *trade.Guard
	Bus    *events.Bus
	Queue  *order.ExitQueue
	Prices *cache.ShardedPriceCache
	Cfg    Config
	Log    zerolog.Logger

	alerted map[string]bool // tradeID/kind pairs already alerted
}

func New(database *db.Database, guard *trade.Guard, bus *events.Bus, queue *order.ExitQueue,
	prices *cache.ShardedPriceCache, cfg Config, log zerolog.Logger) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		DB:      database,
		Guard:   guard,
		Bus:     bus,
		Queue:   queue,
		Prices:  prices,
		Cfg:     cfg,
		Log:     log.With().Str("component", "monitor").Logger(),
		alerted: make(map[string]bool),
	}
}

// PollOpenTrades lists pending_fill and filled trades for the slot scope.
func (m *Monitor) PollOpenTrades(ctx context.Context, scope string) ([]db.Trade, error) {
	nodeID := ""
	if scope == risk.ScopeNode {
		nodeID = m.Cfg.NodeID
	}
	return m.DB.ListOpenTrades(ctx, nodeID)
}

// RequestExit queues a manual exit for an open trade. The drain worker
// resolves the price and routes the change through the guard.
func (m *Monitor) RequestExit(ctx context.Context, tradeID, reason string) error {
	t, err := m.DB.GetTrade(ctx, tradeID)
	if err != nil {
		return err
	}
	if t.Status != trade.StatusPendingFill && t.Status != trade.StatusFilled {
		return fmt.Errorf("trade %s is already %s: %w", tradeID, t.Status, ErrNotOpen)
	}
	if reason == "" {
		reason = trade.ReasonManual
	}
	m.Queue.Enqueue(order.ExitRequest{TradeID: tradeID, Reason: reason, RequestedAt: time.Now().UTC()})
	m.Log.Info().Str("trade_id", tradeID).Str("reason", reason).Msg("exit requested")
	return nil
}

// Drain consumes queued exit requests until ctx ends or the queue closes.
func (m *Monitor) Drain(ctx context.Context) {
	m.Queue.Drain(ctx, func(r order.ExitRequest) { m.handleExit(ctx, r) })
}

func (m *Monitor) handleExit(ctx context.Context, r order.ExitRequest) {
	t, err := m.DB.GetTrade(ctx, r.TradeID)
	if err != nil {
		m.Log.Error().Err(err).Str("trade_id", r.TradeID).Msg("exit request for unknown trade")
		return
	}

	now := time.Now().UTC()
	switch t.Status {
	case trade.StatusFilled:
		_, err = m.Guard.Close(ctx, t.ID, trade.Exit{Price: m.exitPrice(t), Reason: r.Reason, At: now})
	case trade.StatusPendingFill:
		_, err = m.Guard.Cancel(ctx, t.ID, r.Reason, now, nil)
	default:
		// raced with the simulator; the trade is already done
		m.Log.Debug().Str("trade_id", t.ID).Str("status", t.Status).Msg("exit request skipped")
		return
	}
	if err != nil {
		m.Log.Error().Err(err).Str("trade_id", t.ID).Msg("exit request failed")
		return
	}
	m.Log.Info().Str("trade_id", t.ID).Str("reason", r.Reason).Msg("exit executed")
}

// exitPrice resolves the freshest usable price: cache first, then the fill,
// then the planned entry.
func (m *Monitor) exitPrice(t *db.Trade) float64 {
	if p, age, ok := m.Prices.GetWithAge(t.Symbol); ok && age <= m.Cfg.MaxPriceAge {
		return p
	}
	if t.FillPrice != nil && *t.FillPrice > 0 {
		return *t.FillPrice
	}
	return t.EntryPrice
}

// Watch ingests price ticks into the cache and periodically sweeps open
// trades for rule alerts. Blocks until ctx is done.
func (m *Monitor) Watch(ctx context.Context) {
	ticks, unsub := m.Bus.Subscribe(events.TopicPriceTick, 256)
	defer unsub()

	sweep := time.NewTicker(m.Cfg.SweepInterval)
	defer sweep.Stop()
	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	m.Log.Info().Str("scope", m.Cfg.Scope).Dur("sweep", m.Cfg.SweepInterval).Msg("watch started")
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ticks:
			if !ok {
				return
			}
			if tick, ok := msg.Payload.(market.PriceTick); ok {
				m.Prices.Set(tick.Symbol, tick.Price)
			}
		case <-sweep.C:
			m.sweep(ctx, time.Now().UTC())
		case <-cleanup.C:
			if n := m.Prices.Cleanup(time.Hour); n > 0 {
				m.Log.Debug().Int("removed", n).Msg("price cache cleaned")
			}
		}
	}
}

// sweep evaluates every open trade once and publishes new alerts. Each
// trade/kind pair alerts once while the condition holds.
func (m *Monitor) sweep(ctx context.Context, now time.Time) []Alert {
	open, err := m.PollOpenTrades(ctx, m.Cfg.Scope)
	if err != nil {
		m.Log.Error().Err(err).Msg("sweep: list open trades")
		return nil
	}

	live := make(map[string]bool, len(open)*2)
	var raised []Alert
	for i := range open {
		a, ok := m.evaluate(open[i], now)
		if !ok {
			continue
		}
		key := a.TradeID + "/" + a.Kind
		live[key] = true
		if m.alerted[key] {
			continue
		}
		m.alerted[key] = true
		m.Bus.Publish(events.TopicRiskAlert, a)
		m.Log.Warn().Str("trade_id", a.TradeID).Str("kind", a.Kind).Str("detail", a.Detail).Msg("risk alert")
		raised = append(raised, a)
	}

	// forget resolved conditions so they can fire again
	for key := range m.alerted {
		if !live[key] {
			delete(m.alerted, key)
		}
	}
	return raised
}

// evaluate applies the alert rules to one open trade.
func (m *Monitor) evaluate(t db.Trade, now time.Time) (Alert, bool) {
	switch t.Status {
	case trade.StatusPendingFill:
		if age := now.Sub(t.CreatedAt); age >= m.Cfg.StaleFill {
			return Alert{
				Kind:    AlertStaleFill,
				TradeID: t.ID,
				Symbol:  t.Symbol,
				Detail:  fmt.Sprintf("pending fill for %s", age.Round(time.Second)),
				At:      now,
			}, true
		}
	case trade.StatusFilled:
		price, age, ok := m.Prices.GetWithAge(t.Symbol)
		if !ok || age > m.Cfg.MaxPriceAge {
			return Alert{}, false
		}
		breached := false
		if t.Side == trade.SideLong {
			breached = price <= t.StopLoss*(1-m.Cfg.BreachMargin)
		} else {
			breached = price >= t.StopLoss*(1+m.Cfg.BreachMargin)
		}
		if breached {
			return Alert{
				Kind:    AlertStopBreached,
				TradeID: t.ID,
				Symbol:  t.Symbol,
				Price:   price,
				Detail:  fmt.Sprintf("price %.8g through stop %.8g", price, t.StopLoss),
				At:      now,
			}, true
		}
	}
	return Alert{}, false
}
