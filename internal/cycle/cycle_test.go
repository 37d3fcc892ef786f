package cycle

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"cyclebot/internal/events"
	"cyclebot/internal/market"
	"cyclebot/internal/order"
	"cyclebot/internal/risk"
	"cyclebot/internal/signal"
	"cyclebot/internal/strategy"
	"cyclebot/internal/trade"
	"cyclebot/pkg/db"
	"cyclebot/pkg/logger"
)

// scriptWindows serves synthetic windows, failing the symbols in fail.
type scriptWindows struct {
	fail map[string]bool
}

func (s *scriptWindows) Window(_ context.Context, symbol, timeframe string, limit int) (market.Window, error) {
	if s.fail[symbol] {
		return market.Window{}, fmt.Errorf("feed down for %s", symbol)
	}
	return market.Window{Symbol: symbol, Timeframe: timeframe, Bars: make([]market.Bar, limit)}, nil
}

// scriptSource answers with whatever verdict returns for the symbol. When
// release is set, Analyze reports each start and blocks until released.
type scriptSource struct {
	name    string
	verdict func(symbol string) (*signal.Signal, error)
	started chan string
	release chan struct{}
}

func (s *scriptSource) Name() string { return s.name }

func (s *scriptSource) Analyze(_ context.Context, w market.Window) (*signal.Signal, error) {
	if s.started != nil {
		s.started <- w.Symbol
	}
	if s.release != nil {
		<-s.release
	}
	return s.verdict(w.Symbol)
}

func longCall(source, symbol string, setup float64) *signal.Signal {
	return &signal.Signal{
		Source:     source,
		Symbol:     symbol,
		Timeframe:  "1h",
		Direction:  signal.Long,
		Confidence: 0.8,
		EntryPrice: 100,
		StopLoss:   95,
		TakeProfit: 110,
		SetupScore: setup,
		RRScore:    0.5,
		EnvScore:   0.5,
		CreatedAt:  time.Now().UTC(),
	}
}

func holdCall(source, symbol string) *signal.Signal {
	return &signal.Signal{
		Source:     source,
		Symbol:     symbol,
		Timeframe:  "1h",
		Direction:  signal.Hold,
		Confidence: 0.2,
		EnvScore:   0.5,
		CreatedAt:  time.Now().UTC(),
	}
}

type fixture struct {
	db    *db.Database
	bus   *events.Bus
	reg   *Registry
	guard *trade.Guard
	orch  *Orchestrator
}

func newFixture(t *testing.T, windows market.WindowSource, sources []strategy.SignalSource, maxSlots int, cfg Config) *fixture {
	t.Helper()

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	bus := events.NewBus()
	guard := trade.NewGuard(database, bus, nil, logger.Nop())
	sizer := risk.FixedFractional{AccountUSD: 10000, RiskPerTrade: 0.01, MinNotionalUSD: 10}
	exec := order.NewExecutor(guard, order.NewPaperGateway(0, 0, logger.Nop()), sizer, logger.Nop())
	reg := NewRegistry()

	return &fixture{
		db:    database,
		bus:   bus,
		reg:   reg,
		guard: guard,
		orch: &Orchestrator{
			DB:       database,
			Bus:      bus,
			Registry: reg,
			Windows:  windows,
			Sources:  sources,
			Slots:    &risk.SlotAllocator{DB: database, Max: maxSlots, Scope: risk.ScopeGlobal},
			Executor: exec,
			Cfg:      cfg,
			Log:      logger.Nop(),
		},
	}
}

func (f *fixture) seedOpenTrade(t *testing.T, id, symbol string) {
	t.Helper()
	_, err := f.guard.Create(context.Background(), db.Trade{
		ID: id, RunID: "warmup", NodeID: "node-test", CycleID: "warmup", SignalID: id + "-sig",
		Symbol: symbol, Side: trade.SideLong, Timeframe: "1h",
		EntryPrice: 100, StopLoss: 95, TakeProfit: 110,
		Qty: 1, PositionSizeUSD: 100, RiskUSD: 5,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed trade %s: %v", id, err)
	}
}

func (f *fixture) onlyCycle(t *testing.T) db.Cycle {
	t.Helper()
	cycles, err := f.db.ListCycles(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListCycles: %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("cycles=%d, expected 1", len(cycles))
	}
	return cycles[0]
}

func TestRunCycleEndToEnd(t *testing.T) {
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT"}
	setups := map[string]float64{
		"BTCUSDT": 0.50,
		"ETHUSDT": 0.90,
		"SOLUSDT": 0.70,
		"BNBUSDT": 0.30,
		"XRPUSDT": 0.60,
	}
	src := &scriptSource{name: "scripted", verdict: func(sym string) (*signal.Signal, error) {
		return longCall("scripted", sym, setups[sym]), nil
	}}
	f := newFixture(t, &scriptWindows{}, []strategy.SignalSource{src}, 3,
		Config{Symbols: symbols, Timeframe: "1h", WindowBars: 30, Workers: 2})
	ctx := context.Background()

	// Two open trades leave one slot under the cap of three.
	f.seedOpenTrade(t, "warm-1", "ADAUSDT")
	f.seedOpenTrade(t, "warm-2", "DOGEUSDT")

	finished, unsub := f.bus.Subscribe(events.TopicCycleFinished, 4)
	defer unsub()

	run := NewRun(ctx, "run-b", "node-test")
	if err := f.orch.RunCycle(ctx, run, 1); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	c := f.onlyCycle(t)
	if c.Status != StatusCompleted {
		t.Fatalf("status=%s, expected completed", c.Status)
	}
	if c.Charts != 5 || c.Analyses != 5 || c.Recommendations != 5 || c.Trades != 1 {
		t.Fatalf("counters=%d/%d/%d/%d, expected 5/5/5/1",
			c.Charts, c.Analyses, c.Recommendations, c.Trades)
	}
	if c.Error != "" {
		t.Fatalf("error=%q, expected empty", c.Error)
	}
	if c.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}

	sigs, err := f.db.ListSignalsByCycle(ctx, c.ID)
	if err != nil {
		t.Fatalf("ListSignalsByCycle: %v", err)
	}
	if len(sigs) != 5 {
		t.Fatalf("signals=%d, expected 5", len(sigs))
	}

	// The single free slot goes to the best-ranked signal.
	open, err := f.db.ListOpenTrades(ctx, "")
	if err != nil {
		t.Fatalf("ListOpenTrades: %v", err)
	}
	if len(open) != 3 {
		t.Fatalf("open trades=%d, expected 3", len(open))
	}
	var placed *db.Trade
	for i := range open {
		if open[i].CycleID == c.ID {
			if placed != nil {
				t.Fatalf("more than one trade placed for cycle %s", c.ID)
			}
			placed = &open[i]
		}
	}
	if placed == nil {
		t.Fatal("no trade placed for the cycle")
	}
	if placed.Symbol != "ETHUSDT" {
		t.Fatalf("placed symbol=%s, expected ETHUSDT", placed.Symbol)
	}
	if placed.RunID != "run-b" || placed.SignalID == "" {
		t.Fatalf("placed trade not linked: run=%s signal=%s", placed.RunID, placed.SignalID)
	}

	sum, ok := f.reg.LastSummary()
	if !ok || sum.CycleID != c.ID || sum.Status != StatusCompleted {
		t.Fatalf("last summary=%+v ok=%v", sum, ok)
	}
	if sum.Counters != (Counters{Charts: 5, Analyses: 5, Recommendations: 5, Trades: 1}) {
		t.Fatalf("summary counters=%+v", sum.Counters)
	}

	select {
	case env := <-finished:
		if env.Payload.(Summary).Status != StatusCompleted {
			t.Fatalf("finished event=%+v", env.Payload)
		}
	default:
		t.Fatal("cycle_finished not published")
	}
}

func TestRunCycleStopDuringAnalysis(t *testing.T) {
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	src := &scriptSource{
		name:    "slow",
		verdict: func(sym string) (*signal.Signal, error) { return longCall("slow", sym, 0.5), nil },
		started: make(chan string, len(symbols)),
		release: make(chan struct{}),
	}
	f := newFixture(t, &scriptWindows{}, []strategy.SignalSource{src}, 3,
		Config{Symbols: symbols, Workers: 1})
	ctx := context.Background()

	run := NewRun(ctx, "run-e", "node-test")
	done := make(chan error, 1)
	go func() { done <- f.orch.RunCycle(ctx, run, 1) }()

	select {
	case <-src.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first analysis never started")
	}

	// Stop lands while one analysis is in flight: it finishes, nothing new
	// is dispatched.
	if !run.RequestStop("operator stop") {
		t.Fatal("first RequestStop returned false")
	}
	close(src.release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunCycle: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not finish after stop")
	}

	c := f.onlyCycle(t)
	if c.Status != StatusCancelled {
		t.Fatalf("status=%s, expected cancelled", c.Status)
	}
	if c.Error != "operator stop" {
		t.Fatalf("error=%q, expected operator stop", c.Error)
	}
	if c.Charts != 3 || c.Analyses != 1 || c.Recommendations != 0 || c.Trades != 0 {
		t.Fatalf("counters=%d/%d/%d/%d, expected 3/1/0/0",
			c.Charts, c.Analyses, c.Recommendations, c.Trades)
	}

	sigs, err := f.db.ListSignalsByCycle(ctx, c.ID)
	if err != nil {
		t.Fatalf("ListSignalsByCycle: %v", err)
	}
	if len(sigs) != 0 {
		t.Fatalf("signals=%d, expected none after cancel before collect", len(sigs))
	}
}

func TestRunCycleNoSymbols(t *testing.T) {
	src := &scriptSource{name: "scripted", verdict: func(sym string) (*signal.Signal, error) {
		return longCall("scripted", sym, 0.5), nil
	}}
	f := newFixture(t, &scriptWindows{}, []strategy.SignalSource{src}, 3, Config{})
	ctx := context.Background()

	run := NewRun(ctx, "run-empty", "node-test")
	if err := f.orch.RunCycle(ctx, run, 1); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	c := f.onlyCycle(t)
	if c.Status != StatusCompleted {
		t.Fatalf("status=%s, expected completed", c.Status)
	}
	if c.Charts != 0 || c.Analyses != 0 || c.Recommendations != 0 || c.Trades != 0 {
		t.Fatalf("counters=%d/%d/%d/%d, expected all zero",
			c.Charts, c.Analyses, c.Recommendations, c.Trades)
	}
}

func TestRunCycleCaptureFailureSkipsSymbol(t *testing.T) {
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	src := &scriptSource{name: "scripted", verdict: func(sym string) (*signal.Signal, error) {
		return longCall("scripted", sym, 0.5), nil
	}}
	windows := &scriptWindows{fail: map[string]bool{"ETHUSDT": true}}
	f := newFixture(t, windows, []strategy.SignalSource{src}, 3, Config{Symbols: symbols})

	run := NewRun(context.Background(), "run-skip", "node-test")
	if err := f.orch.RunCycle(context.Background(), run, 1); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	c := f.onlyCycle(t)
	if c.Status != StatusCompleted {
		t.Fatalf("status=%s, expected completed", c.Status)
	}
	if c.Charts != 2 || c.Analyses != 2 {
		t.Fatalf("charts=%d analyses=%d, expected 2/2", c.Charts, c.Analyses)
	}
}

func TestRunCycleNothingCapturedFails(t *testing.T) {
	symbols := []string{"BTCUSDT", "ETHUSDT"}
	src := &scriptSource{name: "scripted", verdict: func(sym string) (*signal.Signal, error) {
		return longCall("scripted", sym, 0.5), nil
	}}
	windows := &scriptWindows{fail: map[string]bool{"BTCUSDT": true, "ETHUSDT": true}}
	f := newFixture(t, windows, []strategy.SignalSource{src}, 3, Config{Symbols: symbols})

	run := NewRun(context.Background(), "run-dark", "node-test")
	if err := f.orch.RunCycle(context.Background(), run, 1); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	c := f.onlyCycle(t)
	if c.Status != StatusFailed {
		t.Fatalf("status=%s, expected failed", c.Status)
	}
	if !strings.Contains(c.Error, "no candle windows captured") {
		t.Fatalf("error=%q", c.Error)
	}
	if c.CompletedAt == nil {
		t.Fatal("completed_at not set on failure")
	}
}

func TestRunCycleAllAnalysesFailStillCompletes(t *testing.T) {
	symbols := []string{"BTCUSDT", "ETHUSDT"}
	src := &scriptSource{name: "broken", verdict: func(sym string) (*signal.Signal, error) {
		return nil, fmt.Errorf("model offline")
	}}
	f := newFixture(t, &scriptWindows{}, []strategy.SignalSource{src}, 3, Config{Symbols: symbols})

	run := NewRun(context.Background(), "run-fail", "node-test")
	if err := f.orch.RunCycle(context.Background(), run, 1); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	c := f.onlyCycle(t)
	if c.Status != StatusCompleted {
		t.Fatalf("status=%s, expected completed", c.Status)
	}
	if c.Charts != 2 || c.Analyses != 0 || c.Recommendations != 0 || c.Trades != 0 {
		t.Fatalf("counters=%d/%d/%d/%d, expected 2/0/0/0",
			c.Charts, c.Analyses, c.Recommendations, c.Trades)
	}
}

func TestRunCycleInvalidSignalSkipped(t *testing.T) {
	symbols := []string{"BTCUSDT", "ETHUSDT"}
	src := &scriptSource{name: "mixed", verdict: func(sym string) (*signal.Signal, error) {
		if sym == "ETHUSDT" {
			bad := longCall("mixed", sym, 0.5)
			bad.Confidence = 1.3
			return bad, nil
		}
		return longCall("mixed", sym, 0.5), nil
	}}
	f := newFixture(t, &scriptWindows{}, []strategy.SignalSource{src}, 3, Config{Symbols: symbols})

	run := NewRun(context.Background(), "run-mixed", "node-test")
	if err := f.orch.RunCycle(context.Background(), run, 1); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	c := f.onlyCycle(t)
	if c.Analyses != 1 || c.Recommendations != 1 {
		t.Fatalf("analyses=%d recommendations=%d, expected 1/1", c.Analyses, c.Recommendations)
	}
}

func TestRunCyclePersistsHoldSignals(t *testing.T) {
	symbols := []string{"BTCUSDT", "ETHUSDT"}
	src := &scriptSource{name: "picky", verdict: func(sym string) (*signal.Signal, error) {
		if sym == "ETHUSDT" {
			return holdCall("picky", sym), nil
		}
		return longCall("picky", sym, 0.5), nil
	}}
	f := newFixture(t, &scriptWindows{}, []strategy.SignalSource{src}, 3, Config{Symbols: symbols})
	ctx := context.Background()

	run := NewRun(ctx, "run-hold", "node-test")
	if err := f.orch.RunCycle(ctx, run, 1); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	c := f.onlyCycle(t)
	if c.Analyses != 2 || c.Recommendations != 1 {
		t.Fatalf("analyses=%d recommendations=%d, expected 2/1", c.Analyses, c.Recommendations)
	}

	sigs, err := f.db.ListSignalsByCycle(ctx, c.ID)
	if err != nil {
		t.Fatalf("ListSignalsByCycle: %v", err)
	}
	if len(sigs) != 2 {
		t.Fatalf("signals=%d, expected 2 (HOLD kept for audit)", len(sigs))
	}
	for _, s := range sigs {
		switch s.Direction {
		case "HOLD":
			if s.Quality != 0 || s.EntryPrice != nil {
				t.Fatalf("HOLD row scored or priced: %+v", s)
			}
		case "LONG":
			if s.Quality <= 0 || s.EntryPrice == nil {
				t.Fatalf("LONG row missing quality or price: %+v", s)
			}
		default:
			t.Fatalf("unexpected direction %s", s.Direction)
		}
	}
}

func TestRequestStopIdempotent(t *testing.T) {
	run := NewRun(context.Background(), "run-g", "node-test")

	if !run.RequestStop("first") {
		t.Fatal("first RequestStop=false, expected true")
	}
	if run.RequestStop("second") {
		t.Fatal("second RequestStop=true, expected false")
	}
	if !run.Stopped() {
		t.Fatal("run not stopped")
	}
	if run.StopReason() != "first" {
		t.Fatalf("reason=%q, expected first", run.StopReason())
	}
}

func TestRunShutdownReason(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	run := NewRun(parent, "run-s", "node-test")

	if run.Stopped() {
		t.Fatal("run stopped before parent cancel")
	}
	cancel()
	if !run.Stopped() {
		t.Fatal("run not stopped after parent cancel")
	}
	if run.StopReason() != "shutdown" {
		t.Fatalf("reason=%q, expected shutdown", run.StopReason())
	}
}

func TestRegistrySingleActiveRun(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	first := NewRun(ctx, "run-1", "node-test")
	if err := reg.Add(first); err != nil {
		t.Fatalf("Add first: %v", err)
	}
	if err := reg.Add(NewRun(ctx, "run-2", "node-test")); err == nil {
		t.Fatal("second Add succeeded, expected error")
	}

	active, ok := reg.Active()
	if !ok || active.ID != "run-1" {
		t.Fatalf("active=%v ok=%v", active, ok)
	}

	reg.Remove("run-1")
	if _, ok := reg.Active(); ok {
		t.Fatal("run still active after Remove")
	}
	if err := reg.Add(NewRun(ctx, "run-3", "node-test")); err != nil {
		t.Fatalf("Add after Remove: %v", err)
	}
}

func TestRunSnapshot(t *testing.T) {
	run := NewRun(context.Background(), "run-snap", "node-test")
	run.SetStage("cyc-1", 3, StageAnalyze)
	run.SetCounters(Counters{Charts: 4, Analyses: 2})

	snap := run.Snapshot()
	if snap.RunID != "run-snap" || snap.CycleID != "cyc-1" || snap.CycleSeq != 3 || snap.Stage != StageAnalyze {
		t.Fatalf("snapshot=%+v", snap)
	}
	if snap.Counters.Charts != 4 || snap.Counters.Analyses != 2 {
		t.Fatalf("counters=%+v", snap.Counters)
	}
	if snap.StopRequested {
		t.Fatal("stop_requested set without a stop")
	}
}

func TestNextBoundary(t *testing.T) {
	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name     string
		now      time.Time
		interval time.Duration
		settle   time.Duration
		expected time.Time
	}{
		{"mid interval", base.Add(2 * time.Second), 5 * time.Minute, 5 * time.Second,
			base.Add(5*time.Minute + 5*time.Second)},
		{"exactly on boundary", base, 5 * time.Minute, 5 * time.Second,
			base.Add(5*time.Minute + 5*time.Second)},
		{"just before boundary", base.Add(5*time.Minute - time.Second), 5 * time.Minute, 5 * time.Second,
			base.Add(5*time.Minute + 5*time.Second)},
		{"inside settle tail", base.Add(5*time.Minute + 2*time.Second), 5 * time.Minute, 5 * time.Second,
			base.Add(10*time.Minute + 5*time.Second)},
		{"no settle", base.Add(time.Minute), 5 * time.Minute, 0,
			base.Add(5 * time.Minute)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := nextBoundary(tc.now, tc.interval, tc.settle)
			if !got.Equal(tc.expected) {
				t.Fatalf("nextBoundary=%v, expected %v", got, tc.expected)
			}
		})
	}
}

func TestSchedulerRunsAndStops(t *testing.T) {
	f := newFixture(t, &scriptWindows{}, nil, 3, Config{})
	sched := &Scheduler{
		Orch:     f.orch,
		Registry: f.reg,
		NodeID:   "testnode01",
		Interval: 50 * time.Millisecond,
		Log:      logger.Nop(),
	}
	ctx := context.Background()

	finished, unsub := f.bus.Subscribe(events.TopicCycleFinished, 8)
	defer unsub()

	run, err := sched.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !strings.HasPrefix(run.ID, "testnode-") {
		t.Fatalf("run id=%q, expected testnode- prefix", run.ID)
	}

	if _, err := sched.Start(ctx); err == nil {
		t.Fatal("second Start succeeded with a run active")
	}

	select {
	case env := <-finished:
		if env.Payload.(Summary).Status != StatusCompleted {
			t.Fatalf("first cycle=%+v", env.Payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no cycle completed")
	}

	run.RequestStop("test done")
	deadline := time.After(2 * time.Second)
	for {
		if _, ok := f.reg.Active(); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("run never deregistered after stop")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cycles, err := f.db.ListCycles(ctx, 50)
	if err != nil {
		t.Fatalf("ListCycles: %v", err)
	}
	if len(cycles) == 0 {
		t.Fatal("no cycles recorded")
	}
	for _, c := range cycles {
		if c.RunID != run.ID {
			t.Fatalf("cycle %s belongs to run %s, expected %s", c.ID, c.RunID, run.ID)
		}
	}
}
