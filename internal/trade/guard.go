package trade

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"cyclebot/internal/events"
	"cyclebot/internal/metrics"
	"cyclebot/pkg/db"
)

// Exit carries the data a closing transition writes.
type Exit struct {
	Price  float64
	Reason string
	At     time.Time
}

// Guard is the only writer of trade status. Every transition is one
// read-validate-write SQLite transaction; a rejected transition leaves the
// row untouched and is reported as a typed error.
type Guard struct {
	DB      *db.Database
	Bus     *events.Bus
	Metrics *metrics.Recorder
	Log     zerolog.Logger
}

func NewGuard(database *db.Database, bus *events.Bus, rec *metrics.Recorder, log zerolog.Logger) *Guard {
	return &Guard{DB: database, Bus: bus, Metrics: rec, Log: log}
}

// Create inserts a new pending_fill trade and announces it.
func (g *Guard) Create(ctx context.Context, t db.Trade) (*db.Trade, error) {
	if t.ID == "" || t.Symbol == "" {
		return nil, fmt.Errorf("create trade: id and symbol are required")
	}
	if t.Side != SideLong && t.Side != SideShort {
		return nil, fmt.Errorf("create trade %s: unknown side %q", t.ID, t.Side)
	}
	if t.EntryPrice <= 0 || t.Qty <= 0 {
		return nil, fmt.Errorf("create trade %s: entry and qty must be positive", t.ID)
	}
	t.Status = StatusPendingFill
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	if err := g.DB.CreateTrade(ctx, t); err != nil {
		return nil, fmt.Errorf("create trade %s: %w", t.ID, err)
	}

	g.Log.Info().Str("trade_id", t.ID).Str("symbol", t.Symbol).Str("side", t.Side).
		Float64("entry", t.EntryPrice).Float64("qty", t.Qty).Msg("trade created")
	g.Metrics.TradeEvent("created")
	g.publish(events.TopicTradeCreated, t)
	g.refreshOpenGauge(ctx)
	return &t, nil
}

// Fill moves pending_fill to filled at fillPrice.
func (g *Guard) Fill(ctx context.Context, id string, fillPrice float64, filledAt time.Time) (*db.Trade, error) {
	var updated *db.Trade
	err := g.DB.WithTx(ctx, func(tx *sql.Tx) error {
		cur, err := g.DB.GetTradeTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !CanTransition(cur.Status, StatusFilled) {
			return fmt.Errorf("fill trade %s from %s: %w", id, cur.Status, ErrInvalidTransition)
		}
		if filledAt.Before(cur.CreatedAt) {
			return g.reject(&Violation{
				Code: CodeTimestampOnFill, TradeID: id,
				CreatedAt: cur.CreatedAt, At: filledAt,
			})
		}
		if err := g.DB.MarkTradeFilledTx(ctx, tx, id, fillPrice, filledAt); err != nil {
			return err
		}
		cur.Status = StatusFilled
		cur.FillPrice = &fillPrice
		cur.FilledAt = &filledAt
		updated = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.Log.Info().Str("trade_id", id).Float64("fill_price", fillPrice).Msg("trade filled")
	g.Metrics.TradeEvent("filled")
	g.publish(events.TopicTradeFilled, *updated)
	return updated, nil
}

// Close moves filled to closed with exit data and realizes pnl.
func (g *Guard) Close(ctx context.Context, id string, exit Exit) (*db.Trade, error) {
	var updated *db.Trade
	err := g.DB.WithTx(ctx, func(tx *sql.Tx) error {
		cur, err := g.DB.GetTradeTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !CanTransition(cur.Status, StatusClosed) {
			return fmt.Errorf("close trade %s from %s: %w", id, cur.Status, ErrInvalidTransition)
		}
		if cur.FilledAt == nil {
			return g.reject(&Violation{
				Code: CodeMissingFilledAt, TradeID: id,
				CreatedAt: cur.CreatedAt, At: exit.At,
			})
		}
		if exit.At.Before(*cur.FilledAt) {
			return g.reject(&Violation{
				Code: CodeTimestampOnClose, TradeID: id,
				CreatedAt: cur.CreatedAt, FilledAt: cur.FilledAt, At: exit.At,
			})
		}

		fill := realize(cur, exit.Price)
		if err := g.DB.MarkTradeClosedTx(ctx, tx, id, exit.Reason, fill, exit.At); err != nil {
			return err
		}
		cur.Status = StatusClosed
		cur.ExitPrice = &fill.Price
		cur.ExitReason = exit.Reason
		cur.PnL = &fill.PnL
		cur.PnLPercent = &fill.PnLPercent
		at := exit.At
		cur.ClosedAt = &at
		updated = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.Log.Info().Str("trade_id", id).Str("reason", exit.Reason).
		Float64("exit_price", exit.Price).Float64("pnl", *updated.PnL).Msg("trade closed")
	g.Metrics.TradeEvent("closed")
	g.publish(events.TopicTradeClosed, *updated)
	g.refreshOpenGauge(ctx)
	return updated, nil
}

// Cancel ends a trade without the normal close path: pure cancellation from
// pending_fill, or an abort from filled that may carry an exit price (then
// pnl is realized as for a close).
func (g *Guard) Cancel(ctx context.Context, id, reason string, at time.Time, exitPrice *float64) (*db.Trade, error) {
	var updated *db.Trade
	err := g.DB.WithTx(ctx, func(tx *sql.Tx) error {
		cur, err := g.DB.GetTradeTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if !CanTransition(cur.Status, StatusCancelled) {
			return fmt.Errorf("cancel trade %s from %s: %w", id, cur.Status, ErrInvalidTransition)
		}
		if exitPrice != nil && cur.FilledAt == nil {
			return g.reject(&Violation{
				Code: CodeMissingFilledAt, TradeID: id,
				CreatedAt: cur.CreatedAt, At: at,
			})
		}
		floor := cur.CreatedAt
		if cur.FilledAt != nil {
			floor = *cur.FilledAt
		}
		if at.Before(floor) {
			return g.reject(&Violation{
				Code: CodeTimestampOnCancel, TradeID: id,
				CreatedAt: cur.CreatedAt, FilledAt: cur.FilledAt, At: at,
			})
		}

		var fill *db.ExitFill
		if exitPrice != nil {
			f := realize(cur, *exitPrice)
			fill = &f
		}
		if err := g.DB.MarkTradeCancelledTx(ctx, tx, id, reason, fill, at); err != nil {
			return err
		}
		cur.Status = StatusCancelled
		cur.ExitReason = reason
		cancelledAt := at
		cur.CancelledAt = &cancelledAt
		if fill != nil {
			cur.ExitPrice = &fill.Price
			cur.PnL = &fill.PnL
			cur.PnLPercent = &fill.PnLPercent
		}
		updated = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.Log.Info().Str("trade_id", id).Str("reason", reason).Msg("trade cancelled")
	g.Metrics.TradeEvent("cancelled")
	g.publish(events.TopicTradeCancelled, *updated)
	g.refreshOpenGauge(ctx)
	return updated, nil
}

// reject logs, counts and publishes a violation, then returns it.
func (g *Guard) reject(v *Violation) error {
	ev := g.Log.Error().Str("code", v.Code).Str("trade_id", v.TradeID).
		Time("created_at", v.CreatedAt).Time("proposed", v.At)
	if v.FilledAt != nil {
		ev = ev.Time("filled_at", *v.FilledAt)
	}
	ev.Msg("trade transition rejected")

	g.Metrics.Violation(v.Code)
	g.publish(events.TopicViolation, *v)
	return v
}

// realize computes exit economics on the fill price basis.
func realize(t *db.Trade, exitPrice float64) db.ExitFill {
	basis := t.EntryPrice
	if t.FillPrice != nil {
		basis = *t.FillPrice
	}
	dir := 1.0
	if t.Side == SideShort {
		dir = -1.0
	}
	pnl := dir * (exitPrice - basis) * t.Qty
	pct := 0.0
	if basis != 0 {
		pct = dir * (exitPrice - basis) / basis * 100
	}
	return db.ExitFill{Price: exitPrice, PnL: pnl, PnLPercent: pct}
}

func (g *Guard) publish(topic events.Topic, payload any) {
	if g.Bus != nil {
		g.Bus.Publish(topic, payload)
	}
}

func (g *Guard) refreshOpenGauge(ctx context.Context) {
	if g.Metrics == nil {
		return
	}
	if n, err := g.DB.CountOpenTrades(ctx, ""); err == nil {
		g.Metrics.SetOpenTrades(n)
	}
}
