package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS cycles (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    node_id TEXT NOT NULL DEFAULT '',
    seq INTEGER NOT NULL,
    status TEXT NOT NULL,
    charts INTEGER NOT NULL DEFAULT 0,
    analyses INTEGER NOT NULL DEFAULT 0,
    recommendations INTEGER NOT NULL DEFAULT 0,
    trades INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    started_at DATETIME NOT NULL,
    completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS signals (
    id TEXT PRIMARY KEY,
    cycle_id TEXT NOT NULL,
    source TEXT NOT NULL,
    symbol TEXT NOT NULL,
    timeframe TEXT NOT NULL,
    direction TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0,
    entry_price REAL,
    stop_loss REAL,
    take_profit REAL,
    setup_score REAL NOT NULL DEFAULT 0,
    rr_score REAL NOT NULL DEFAULT 0,
    env_score REAL NOT NULL DEFAULT 0,
    quality REAL NOT NULL DEFAULT 0,
    snapshot TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Lifecycle timestamps are unix milliseconds so the ordering invariant can
-- also be enforced here, not only in the application guard.
CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL DEFAULT '',
    node_id TEXT NOT NULL DEFAULT '',
    cycle_id TEXT NOT NULL DEFAULT '',
    signal_id TEXT NOT NULL DEFAULT '',
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    timeframe TEXT NOT NULL,
    entry_price REAL NOT NULL,
    stop_loss REAL NOT NULL,
    take_profit REAL NOT NULL,
    qty REAL NOT NULL,
    position_size_usd REAL NOT NULL DEFAULT 0,
    risk_usd REAL NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    fill_price REAL,
    exit_price REAL,
    exit_reason TEXT,
    pnl REAL,
    pnl_percent REAL,
    created_at INTEGER NOT NULL,
    filled_at INTEGER,
    closed_at INTEGER,
    cancelled_at INTEGER,
    CHECK (filled_at IS NULL OR filled_at >= created_at),
    CHECK (closed_at IS NULL OR closed_at >= COALESCE(filled_at, created_at)),
    CHECK (cancelled_at IS NULL OR cancelled_at >= COALESCE(filled_at, created_at))
);

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS strategies (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    strategy_type TEXT NOT NULL,
    params TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_cycles_run ON cycles(run_id, seq);
CREATE INDEX IF NOT EXISTS idx_signals_cycle ON signals(cycle_id);
CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
CREATE INDEX IF NOT EXISTS idx_trades_node ON trades(node_id, status);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Lightweight, idempotent migrations for older DB files.
	if err := ensureColumn(d.DB, "trades", "fill_price", "REAL"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "trades", "pnl_percent", "REAL"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "signals", "snapshot", "TEXT"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "signals", "quality", "REAL NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "cycles", "node_id", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}

	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
