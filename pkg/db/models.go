package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Cycle is one persisted pass of the engine loop.
type Cycle struct {
	ID              string
	RunID           string
	NodeID          string
	Seq             int
	Status          string
	Charts          int
	Analyses        int
	Recommendations int
	Trades          int
	Error           string
	StartedAt       time.Time
	CompletedAt     *time.Time
}

// Signal is a persisted recommendation from one source for one symbol.
// Price fields are nil for HOLD opinions.
type Signal struct {
	ID         string
	CycleID    string
	Source     string
	Symbol     string
	Timeframe  string
	Direction  string
	Confidence float64
	EntryPrice *float64
	StopLoss   *float64
	TakeProfit *float64
	SetupScore float64
	RRScore    float64
	EnvScore   float64
	Quality    float64
	Snapshot   string
	CreatedAt  time.Time
}

// User represents an application user.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Strategy is a configured signal source definition, synced from the
// YAML file for audit.
type Strategy struct {
	ID           string
	Name         string
	StrategyType string
	Params       string
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateCycle inserts a new cycle row (normally status=running).
func (d *Database) CreateCycle(ctx context.Context, c Cycle) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO cycles (
			id, run_id, node_id, seq, status, charts, analyses, recommendations, trades, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.RunID, c.NodeID, c.Seq, c.Status, c.Charts, c.Analyses, c.Recommendations, c.Trades, c.StartedAt,
	)
	return err
}

// UpdateCycleProgress persists the per-stage counters as stages complete,
// so an interrupted run leaves an accurate partial record.
func (d *Database) UpdateCycleProgress(ctx context.Context, id string, charts, analyses, recommendations, trades int) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE cycles
		SET charts = ?, analyses = ?, recommendations = ?, trades = ?
		WHERE id = ?
	`, charts, analyses, recommendations, trades, id)
	return err
}

// FinishCycle records the terminal status of a cycle. errMsg holds the
// failure cause, or the stop reason for cancelled cycles.
func (d *Database) FinishCycle(ctx context.Context, id, status, errMsg string, completedAt time.Time) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE cycles
		SET status = ?, error = NULLIF(?, ''), completed_at = ?
		WHERE id = ?
	`, status, errMsg, completedAt, id)
	return err
}

// GetCycle returns one cycle by id.
func (d *Database) GetCycle(ctx context.Context, id string) (*Cycle, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, run_id, node_id, seq, status, charts, analyses, recommendations, trades,
		       COALESCE(error, ''), started_at, completed_at
		FROM cycles WHERE id = ?
	`, id)
	return scanCycle(row)
}

// ListCycles returns the most recent cycles, newest first.
func (d *Database) ListCycles(ctx context.Context, limit int) ([]Cycle, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, run_id, node_id, seq, status, charts, analyses, recommendations, trades,
		       COALESCE(error, ''), started_at, completed_at
		FROM cycles
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var res []Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *c)
	}
	return res, rows.Err()
}

// SweepInterruptedCycles marks cycles left running by a previous process
// as failed. Called once at startup, before the scheduler starts.
func (d *Database) SweepInterruptedCycles(ctx context.Context) (int64, error) {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE cycles
		SET status = 'failed', error = 'interrupted', completed_at = ?
		WHERE status = 'running'
	`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep interrupted cycles: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCycle(row rowScanner) (*Cycle, error) {
	var c Cycle
	var completed sql.NullTime
	err := row.Scan(
		&c.ID, &c.RunID, &c.NodeID, &c.Seq, &c.Status,
		&c.Charts, &c.Analyses, &c.Recommendations, &c.Trades,
		&c.Error, &c.StartedAt, &completed,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan cycle: %w", err)
	}
	if completed.Valid {
		t := completed.Time
		c.CompletedAt = &t
	}
	return &c, nil
}

// CreateSignal inserts one recommendation row.
func (d *Database) CreateSignal(ctx context.Context, s Signal) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO signals (
			id, cycle_id, source, symbol, timeframe, direction, confidence,
			entry_price, stop_loss, take_profit,
			setup_score, rr_score, env_score, quality, snapshot, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`,
		s.ID, s.CycleID, s.Source, s.Symbol, s.Timeframe, s.Direction, s.Confidence,
		s.EntryPrice, s.StopLoss, s.TakeProfit,
		s.SetupScore, s.RRScore, s.EnvScore, s.Quality, s.Snapshot, s.CreatedAt,
	)
	return err
}

// ListSignalsByCycle returns every signal recorded for a cycle.
func (d *Database) ListSignalsByCycle(ctx context.Context, cycleID string) ([]Signal, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, cycle_id, source, symbol, timeframe, direction, confidence,
		       entry_price, stop_loss, take_profit,
		       setup_score, rr_score, env_score, quality, COALESCE(snapshot, ''), created_at
		FROM signals
		WHERE cycle_id = ?
		ORDER BY quality DESC, symbol ASC
	`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var res []Signal
	for rows.Next() {
		var s Signal
		var entry, stop, target sql.NullFloat64
		if err := rows.Scan(
			&s.ID, &s.CycleID, &s.Source, &s.Symbol, &s.Timeframe, &s.Direction, &s.Confidence,
			&entry, &stop, &target,
			&s.SetupScore, &s.RRScore, &s.EnvScore, &s.Quality, &s.Snapshot, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		s.EntryPrice = nullFloat(entry)
		s.StopLoss = nullFloat(stop)
		s.TakeProfit = nullFloat(target)
		res = append(res, s)
	}
	return res, rows.Err()
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// CreateUser inserts a new user row.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), COALESCE(?, CURRENT_TIMESTAMP))
	`, u.ID, u.Email, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	return err
}

// GetUserByEmail returns the user with the given email, or nil when absent.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users WHERE email = ?
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// UpsertStrategy syncs one strategy definition from the config file.
func (d *Database) UpsertStrategy(ctx context.Context, s Strategy) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO strategies (id, name, strategy_type, params, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			strategy_type = excluded.strategy_type,
			params = excluded.params,
			enabled = excluded.enabled,
			updated_at = CURRENT_TIMESTAMP
	`, s.ID, s.Name, s.StrategyType, s.Params, s.Enabled)
	return err
}

// DisableStrategiesExcept disables every strategy row whose name is not in
// keep; removed file entries stay visible but inert.
func (d *Database) DisableStrategiesExcept(ctx context.Context, keep []string) error {
	if len(keep) == 0 {
		_, err := d.DB.ExecContext(ctx, `UPDATE strategies SET enabled = 0, updated_at = CURRENT_TIMESTAMP`)
		return err
	}

	query := `UPDATE strategies SET enabled = 0, updated_at = CURRENT_TIMESTAMP WHERE name NOT IN (?` // 1st placeholder
	args := []any{keep[0]}
	for _, n := range keep[1:] {
		query += ",?"
		args = append(args, n)
	}
	query += ")"

	_, err := d.DB.ExecContext(ctx, query, args...)
	return err
}

// ListStrategies returns configured strategies, optionally only enabled ones.
func (d *Database) ListStrategies(ctx context.Context, onlyEnabled bool) ([]Strategy, error) {
	query := `
		SELECT id, name, strategy_type, COALESCE(params, ''), enabled, created_at, updated_at
		FROM strategies`
	if onlyEnabled {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY name ASC`

	rows, err := d.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query strategies: %w", err)
	}
	defer rows.Close()

	var res []Strategy
	for rows.Next() {
		var s Strategy
		if err := rows.Scan(&s.ID, &s.Name, &s.StrategyType, &s.Params, &s.Enabled, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan strategy: %w", err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
