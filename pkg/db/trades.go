package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Trade is a paper position and its full lifecycle record. Status strings
// are pending_fill, filled, closed, cancelled; only the lifecycle guard
// writes them.
type Trade struct {
	ID              string
	RunID           string
	NodeID          string
	CycleID         string
	SignalID        string
	Symbol          string
	Side            string // LONG or SHORT
	Timeframe       string
	EntryPrice      float64
	StopLoss        float64
	TakeProfit      float64
	Qty             float64
	PositionSizeUSD float64
	RiskUSD         float64
	Status          string
	FillPrice       *float64
	ExitPrice       *float64
	ExitReason      string
	PnL             *float64
	PnLPercent      *float64
	CreatedAt       time.Time
	FilledAt        *time.Time
	ClosedAt        *time.Time
	CancelledAt     *time.Time
}

// ExitFill carries the execution data recorded when a trade leaves the
// market (close, or cancel of an already-filled trade).
type ExitFill struct {
	Price      float64
	PnL        float64
	PnLPercent float64
}

const tradeColumns = `
	id, run_id, node_id, cycle_id, signal_id, symbol, side, timeframe,
	entry_price, stop_loss, take_profit, qty, position_size_usd, risk_usd,
	status, fill_price, exit_price, COALESCE(exit_reason, ''), pnl, pnl_percent,
	created_at, filled_at, closed_at, cancelled_at`

// CreateTrade inserts a new trade row. Lifecycle timestamps travel as unix
// milliseconds so the schema CHECK constraints can compare them.
func (d *Database) CreateTrade(ctx context.Context, t Trade) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (
			id, run_id, node_id, cycle_id, signal_id, symbol, side, timeframe,
			entry_price, stop_loss, take_profit, qty, position_size_usd, risk_usd,
			status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.RunID, t.NodeID, t.CycleID, t.SignalID, t.Symbol, t.Side, t.Timeframe,
		t.EntryPrice, t.StopLoss, t.TakeProfit, t.Qty, t.PositionSizeUSD, t.RiskUSD,
		t.Status, t.CreatedAt.UnixMilli(),
	)
	return err
}

// GetTrade returns one trade by id.
func (d *Database) GetTrade(ctx context.Context, id string) (*Trade, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	return scanTrade(row)
}

// GetTradeTx reads a trade inside a transaction; the guard pairs this with
// one of the Mark*Tx writes below.
func (d *Database) GetTradeTx(ctx context.Context, tx *sql.Tx, id string) (*Trade, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	return scanTrade(row)
}

// TradeFilter narrows ListTrades.
type TradeFilter struct {
	Status string
	NodeID string
	Limit  int
}

// ListTrades returns trades newest first.
func (d *Database) ListTrades(ctx context.Context, f TradeFilter) ([]Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.NodeID != "" {
		query += ` AND node_id = ?`
		args = append(args, f.NodeID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// ListOpenTrades returns pending_fill and filled trades; nodeID narrows to
// one node's trades, empty means every node sharing the store.
func (d *Database) ListOpenTrades(ctx context.Context, nodeID string) ([]Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE status IN ('pending_fill','filled')`
	var args []any
	if nodeID != "" {
		query += ` AND node_id = ?`
		args = append(args, nodeID)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query open trades: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// CountOpenTrades counts trades that occupy a slot (pending_fill or filled).
func (d *Database) CountOpenTrades(ctx context.Context, nodeID string) (int, error) {
	query := `SELECT COUNT(*) FROM trades WHERE status IN ('pending_fill','filled')`
	var args []any
	if nodeID != "" {
		query += ` AND node_id = ?`
		args = append(args, nodeID)
	}

	var n int
	if err := d.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count open trades: %w", err)
	}
	return n, nil
}

// MarkTradeFilledTx writes the pending_fill -> filled transition.
func (d *Database) MarkTradeFilledTx(ctx context.Context, tx *sql.Tx, id string, fillPrice float64, filledAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE trades
		SET status = 'filled', fill_price = ?, filled_at = ?
		WHERE id = ?
	`, fillPrice, filledAt.UnixMilli(), id)
	return err
}

// MarkTradeClosedTx writes the filled -> closed transition with exit data.
func (d *Database) MarkTradeClosedTx(ctx context.Context, tx *sql.Tx, id, reason string, exit ExitFill, closedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE trades
		SET status = 'closed', exit_price = ?, exit_reason = ?, pnl = ?, pnl_percent = ?, closed_at = ?
		WHERE id = ?
	`, exit.Price, reason, exit.PnL, exit.PnLPercent, closedAt.UnixMilli(), id)
	return err
}

// MarkTradeCancelledTx writes a transition to cancelled. exit is nil for a
// pure cancellation of an unfilled trade; cancelling a filled trade records
// the exit it was flattened at.
func (d *Database) MarkTradeCancelledTx(ctx context.Context, tx *sql.Tx, id, reason string, exit *ExitFill, cancelledAt time.Time) error {
	if exit == nil {
		_, err := tx.ExecContext(ctx, `
			UPDATE trades
			SET status = 'cancelled', exit_reason = ?, cancelled_at = ?
			WHERE id = ?
		`, reason, cancelledAt.UnixMilli(), id)
		return err
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE trades
		SET status = 'cancelled', exit_price = ?, exit_reason = ?, pnl = ?, pnl_percent = ?, cancelled_at = ?
		WHERE id = ?
	`, exit.Price, reason, exit.PnL, exit.PnLPercent, cancelledAt.UnixMilli(), id)
	return err
}

func collectTrades(rows *sql.Rows) ([]Trade, error) {
	var res []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *t)
	}
	return res, rows.Err()
}

func scanTrade(row rowScanner) (*Trade, error) {
	var t Trade
	var fillPrice, exitPrice, pnl, pnlPct sql.NullFloat64
	var createdMs int64
	var filledMs, closedMs, cancelledMs sql.NullInt64

	err := row.Scan(
		&t.ID, &t.RunID, &t.NodeID, &t.CycleID, &t.SignalID, &t.Symbol, &t.Side, &t.Timeframe,
		&t.EntryPrice, &t.StopLoss, &t.TakeProfit, &t.Qty, &t.PositionSizeUSD, &t.RiskUSD,
		&t.Status, &fillPrice, &exitPrice, &t.ExitReason, &pnl, &pnlPct,
		&createdMs, &filledMs, &closedMs, &cancelledMs,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trade: %w", err)
	}

	t.FillPrice = nullFloat(fillPrice)
	t.ExitPrice = nullFloat(exitPrice)
	t.PnL = nullFloat(pnl)
	t.PnLPercent = nullFloat(pnlPct)
	t.CreatedAt = time.UnixMilli(createdMs).UTC()
	t.FilledAt = nullTimeMs(filledMs)
	t.ClosedAt = nullTimeMs(closedMs)
	t.CancelledAt = nullTimeMs(cancelledMs)
	return &t, nil
}

func nullTimeMs(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
