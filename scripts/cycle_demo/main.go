package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"cyclebot/internal/cycle"
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

// cycle_demo runs one full trading cycle in-process against the mock feed
// and an in-memory database. It does not touch the network or disk.
//
// Usage (from the repo root):
//   go run ./scripts/cycle_demo
//
// It will:
//   1) Capture synthetic candle windows for three symbols.
//   2) Analyze them with the trend strategy and rank the results.
//   3) Execute the top candidates as paper trades and print the outcome.

func main() {
	log.Println("=== cycle demo starting ===")

	ctx := context.Background()
	zlog := logger.New(logger.Config{Level: "warn"})

	database, err := db.New(":memory:")
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	bus := events.NewBus()
	feed := &market.MockFeed{Symbols: []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, Timeframe: "1h", Seed: 42}

	trend, err := strategy.NewTrendSource("trend-follow", strategy.DefaultTrendParams())
	if err != nil {
		log.Fatalf("trend source: %v", err)
	}

	sizer, err := risk.NewSizer("fixed", 10000, 0.01, 10)
	if err != nil {
		log.Fatalf("sizer: %v", err)
	}
	guard := trade.NewGuard(database, bus, nil, zlog)
	executor := order.NewExecutor(guard, order.NewPaperGateway(0, 0, zlog), sizer, zlog)

	registry := cycle.NewRegistry()
	orch := &cycle.Orchestrator{
		DB:       database,
		Bus:      bus,
		Registry: registry,
		Windows:  feed,
		Sources:  []strategy.SignalSource{trend},
		Slots:    &risk.SlotAllocator{DB: database, Max: 3, Scope: risk.ScopeGlobal},
		Executor: executor,
		Cfg: cycle.Config{
			Symbols:   []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
			Timeframe: "1h",
			Weights:   signal.DefaultWeights(),
		},
		Log: zlog,
	}

	run := cycle.NewRun(ctx, "demo-run", "demo-node")
	if err := registry.Add(run); err != nil {
		log.Fatalf("register run: %v", err)
	}
	defer registry.Remove(run.ID)

	started := time.Now()
	if err := orch.RunCycle(ctx, run, 1); err != nil {
		log.Fatalf("cycle: %v", err)
	}

	sum, ok := registry.LastSummary()
	if !ok {
		log.Fatalf("no cycle summary recorded")
	}
	fmt.Printf("\ncycle %s finished in %s\n", sum.CycleID, time.Since(started).Round(time.Millisecond))
	fmt.Printf("  status:          %s\n", sum.Status)
	fmt.Printf("  charts:          %d\n", sum.Counters.Charts)
	fmt.Printf("  analyses:        %d\n", sum.Counters.Analyses)
	fmt.Printf("  recommendations: %d\n", sum.Counters.Recommendations)
	fmt.Printf("  trades:          %d\n", sum.Counters.Trades)

	signals, err := database.ListSignalsByCycle(ctx, sum.CycleID)
	if err != nil {
		log.Fatalf("list signals: %v", err)
	}
	fmt.Println("\nsignals:")
	for _, s := range signals {
		fmt.Printf("  %-8s %-5s conf=%.2f quality=%.3f\n", s.Symbol, s.Direction, s.Confidence, s.Quality)
	}

	trades, err := database.ListOpenTrades(ctx, "")
	if err != nil {
		log.Fatalf("list trades: %v", err)
	}
	fmt.Println("\npaper trades:")
	if len(trades) == 0 {
		fmt.Println("  (none this cycle)")
	}
	for _, t := range trades {
		fmt.Printf("  %-8s %-5s qty=%.4f entry=%.2f stop=%.2f target=%.2f [%s]\n",
			t.Symbol, t.Side, t.Qty, t.EntryPrice, t.StopLoss, t.TakeProfit, t.Status)
	}

	log.Println("=== cycle demo finished ===")
}
