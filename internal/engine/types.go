package engine

import (
	"time"

	"cyclebot/internal/cycle"
)

// Meta is the static node identity reported with every status snapshot.
type Meta struct {
	NodeID  string `json:"node_id"`
	Mode    string `json:"mode"`
	Version string `json:"version"`
}

// Status is the full engine snapshot served by the status endpoint.
type Status struct {
	NodeID     string    `json:"node_id"`
	Mode       string    `json:"mode"`
	Version    string    `json:"version"`
	ServerTime time.Time `json:"server_time"`

	RunActive bool               `json:"run_active"`
	Run       *cycle.RunSnapshot `json:"run,omitempty"`

	OpenTrades     int `json:"open_trades"`
	AvailableSlots int `json:"available_slots"`
	MaxSlots       int `json:"max_slots"`

	LastCycle *cycle.Summary `json:"last_cycle,omitempty"`
}

// CycleInfo mirrors one cycles row.
type CycleInfo struct {
	ID              string     `json:"id"`
	RunID           string     `json:"run_id"`
	NodeID          string     `json:"node_id"`
	Seq             int        `json:"seq"`
	Status          string     `json:"status"`
	Charts          int        `json:"charts"`
	Analyses        int        `json:"analyses"`
	Recommendations int        `json:"recommendations"`
	Trades          int        `json:"trades"`
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// SignalInfo mirrors one signals row. Price fields are absent for HOLD.
type SignalInfo struct {
	ID         string    `json:"id"`
	CycleID    string    `json:"cycle_id"`
	Source     string    `json:"source"`
	Symbol     string    `json:"symbol"`
	Timeframe  string    `json:"timeframe"`
	Direction  string    `json:"direction"`
	Confidence float64   `json:"confidence"`
	EntryPrice *float64  `json:"entry_price,omitempty"`
	StopLoss   *float64  `json:"stop_loss,omitempty"`
	TakeProfit *float64  `json:"take_profit,omitempty"`
	SetupScore float64   `json:"setup_score"`
	RRScore    float64   `json:"rr_score"`
	EnvScore   float64   `json:"env_score"`
	Quality    float64   `json:"quality"`
	CreatedAt  time.Time `json:"created_at"`
}

// CycleDetail is one cycle together with every signal it recorded.
type CycleDetail struct {
	Cycle   CycleInfo    `json:"cycle"`
	Signals []SignalInfo `json:"signals"`
}

// TradeInfo mirrors one trades row through its whole lifecycle.
type TradeInfo struct {
	ID              string     `json:"id"`
	RunID           string     `json:"run_id"`
	NodeID          string     `json:"node_id"`
	CycleID         string     `json:"cycle_id"`
	SignalID        string     `json:"signal_id"`
	Symbol          string     `json:"symbol"`
	Side            string     `json:"side"`
	Timeframe       string     `json:"timeframe"`
	Status          string     `json:"status"`
	EntryPrice      float64    `json:"entry_price"`
	StopLoss        float64    `json:"stop_loss"`
	TakeProfit      float64    `json:"take_profit"`
	Qty             float64    `json:"qty"`
	PositionSizeUSD float64    `json:"position_size_usd"`
	RiskUSD         float64    `json:"risk_usd"`
	FillPrice       *float64   `json:"fill_price,omitempty"`
	ExitPrice       *float64   `json:"exit_price,omitempty"`
	ExitReason      string     `json:"exit_reason,omitempty"`
	PnL             *float64   `json:"pnl,omitempty"`
	PnLPercent      *float64   `json:"pnl_percent,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	FilledAt        *time.Time `json:"filled_at,omitempty"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
}
