package engine

import (
	"context"
	"fmt"
	"time"

	"cyclebot/internal/cycle"
	"cyclebot/internal/monitor"
	"cyclebot/internal/risk"
	"cyclebot/pkg/db"
)

// Impl implements Service by composing the core modules.
type Impl struct {
	sched *cycle.Scheduler
	reg   *cycle.Registry
	slots *risk.SlotAllocator
	mon   *monitor.Monitor
	db    *db.Database
	meta  Meta

	// base is the process-lifetime parent for new runs. Runs must outlive
	// the HTTP request that starts them, so StartRun ignores its ctx here.
	base context.Context
}

// Config holds the modules an engine implementation composes.
type Config struct {
	Scheduler  *cycle.Scheduler
	Registry   *cycle.Registry
	Slots      *risk.SlotAllocator
	Monitor    *monitor.Monitor
	DB         *db.Database
	Meta       Meta
	RunContext context.Context
}

// NewImpl creates an engine implementation.
func NewImpl(cfg Config) *Impl {
	base := cfg.RunContext
	if base == nil {
		base = context.Background()
	}
	return &Impl{
		sched: cfg.Scheduler,
		reg:   cfg.Registry,
		slots: cfg.Slots,
		mon:   cfg.Monitor,
		db:    cfg.DB,
		meta:  cfg.Meta,
		base:  base,
	}
}

// --- Run control ---

func (e *Impl) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		NodeID:     e.meta.NodeID,
		Mode:       e.meta.Mode,
		Version:    e.meta.Version,
		ServerTime: time.Now().UTC(),
		MaxSlots:   e.slots.Max,
	}

	if run, ok := e.reg.Active(); ok {
		snap := run.Snapshot()
		st.RunActive = true
		st.Run = &snap
	}

	open, err := e.slots.CountOpen(ctx)
	if err != nil {
		return nil, fmt.Errorf("count open trades: %w", err)
	}
	st.OpenTrades = open
	st.AvailableSlots = risk.Available(open, e.slots.Max)

	if sum, ok := e.reg.LastSummary(); ok {
		st.LastCycle = &sum
	}
	return st, nil
}

func (e *Impl) StartRun(context.Context) (string, error) {
	run, err := e.sched.Start(e.base)
	if err != nil {
		return "", err
	}
	return run.ID, nil
}

// StopRun requests a cooperative stop of the active run. Returns whether
// this call initiated the stop; repeats and idle calls are no-ops.
func (e *Impl) StopRun(reason string) bool {
	run, ok := e.reg.Active()
	if !ok {
		return false
	}
	return run.RequestStop(reason)
}

// --- History ---

func (e *Impl) Cycles(ctx context.Context, limit int) ([]CycleInfo, error) {
	rows, err := e.db.ListCycles(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]CycleInfo, len(rows))
	for i, c := range rows {
		out[i] = toCycleInfo(c)
	}
	return out, nil
}

func (e *Impl) CycleByID(ctx context.Context, id string) (*CycleDetail, error) {
	c, err := e.db.GetCycle(ctx, id)
	if err != nil {
		return nil, err
	}
	sigs, err := e.db.ListSignalsByCycle(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &CycleDetail{Cycle: toCycleInfo(*c), Signals: make([]SignalInfo, len(sigs))}
	for i, s := range sigs {
		detail.Signals[i] = toSignalInfo(s)
	}
	return detail, nil
}

func (e *Impl) Trades(ctx context.Context, status string, limit int) ([]TradeInfo, error) {
	rows, err := e.db.ListTrades(ctx, db.TradeFilter{Status: status, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]TradeInfo, len(rows))
	for i, t := range rows {
		out[i] = toTradeInfo(t)
	}
	return out, nil
}

func (e *Impl) TradeByID(ctx context.Context, id string) (*TradeInfo, error) {
	t, err := e.db.GetTrade(ctx, id)
	if err != nil {
		return nil, err
	}
	info := toTradeInfo(*t)
	return &info, nil
}

// --- Manual intervention ---

func (e *Impl) RequestExit(ctx context.Context, tradeID, reason string) error {
	return e.mon.RequestExit(ctx, tradeID, reason)
}

// --- Mapping helpers ---

func toCycleInfo(c db.Cycle) CycleInfo {
	return CycleInfo{
		ID:              c.ID,
		RunID:           c.RunID,
		NodeID:          c.NodeID,
		Seq:             c.Seq,
		Status:          c.Status,
		Charts:          c.Charts,
		Analyses:        c.Analyses,
		Recommendations: c.Recommendations,
		Trades:          c.Trades,
		Error:           c.Error,
		StartedAt:       c.StartedAt,
		CompletedAt:     c.CompletedAt,
	}
}

func toSignalInfo(s db.Signal) SignalInfo {
	return SignalInfo{
		ID:         s.ID,
		CycleID:    s.CycleID,
		Source:     s.Source,
		Symbol:     s.Symbol,
		Timeframe:  s.Timeframe,
		Direction:  s.Direction,
		Confidence: s.Confidence,
		EntryPrice: s.EntryPrice,
		StopLoss:   s.StopLoss,
		TakeProfit: s.TakeProfit,
		SetupScore: s.SetupScore,
		RRScore:    s.RRScore,
		EnvScore:   s.EnvScore,
		Quality:    s.Quality,
		CreatedAt:  s.CreatedAt,
	}
}

func toTradeInfo(t db.Trade) TradeInfo {
	return TradeInfo{
		ID:              t.ID,
		RunID:           t.RunID,
		NodeID:          t.NodeID,
		CycleID:         t.CycleID,
		SignalID:        t.SignalID,
		Symbol:          t.Symbol,
		Side:            t.Side,
		Timeframe:       t.Timeframe,
		Status:          t.Status,
		EntryPrice:      t.EntryPrice,
		StopLoss:        t.StopLoss,
		TakeProfit:      t.TakeProfit,
		Qty:             t.Qty,
		PositionSizeUSD: t.PositionSizeUSD,
		RiskUSD:         t.RiskUSD,
		FillPrice:       t.FillPrice,
		ExitPrice:       t.ExitPrice,
		ExitReason:      t.ExitReason,
		PnL:             t.PnL,
		PnLPercent:      t.PnLPercent,
		CreatedAt:       t.CreatedAt,
		FilledAt:        t.FilledAt,
		ClosedAt:        t.ClosedAt,
		CancelledAt:     t.CancelledAt,
	}
}
