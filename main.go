package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"cyclebot/internal/api"
	"cyclebot/internal/cycle"
	"cyclebot/internal/engine"
	"cyclebot/internal/events"
	"cyclebot/internal/market"
	"cyclebot/internal/metrics"
	"cyclebot/internal/monitor"
	"cyclebot/internal/order"
	"cyclebot/internal/risk"
	sig "cyclebot/internal/signal"
	"cyclebot/internal/sim"
	"cyclebot/internal/strategy"
	"cyclebot/internal/trade"
	"cyclebot/pkg/cache"
	"cyclebot/pkg/config"
	"cyclebot/pkg/db"
	"cyclebot/pkg/logger"
	binance "cyclebot/pkg/market/binance"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New(logger.Config{})
		boot.Fatal().Err(err).Msg("config load failed")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	version := os.Getenv("APP_VERSION")
	if version == "" {
		version = "dev"
	}
	log.Info().
		Str("node_id", cfg.NodeID).
		Str("version", version).
		Str("db", cfg.DBPath).
		Msg("cyclebot starting")

	// ctx ends on SIGINT/SIGTERM and tears down feeds, sim and monitor.
	// Runs get their own parent so a stopping cycle can still write its
	// final checkpoint while the rest of the process winds down.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("db init failed")
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatal().Err(err).Msg("db migrations failed")
	}
	if n, err := database.SweepInterruptedCycles(ctx); err != nil {
		log.Warn().Err(err).Msg("sweep interrupted cycles failed")
	} else if n > 0 {
		log.Info().Int64("cycles", n).Msg("swept interrupted cycles to failed")
	}

	promReg := prometheus.NewRegistry()
	rec := metrics.New(promReg)

	// Market data (mock for local development, Binance otherwise)
	var windows market.WindowSource
	if cfg.UseMockFeed {
		mock := &market.MockFeed{
			Bus:       bus,
			Symbols:   cfg.Symbols,
			Timeframe: cfg.Timeframe,
			Log:       log,
		}
		mock.Start(ctx)
		windows = mock
		log.Info().Strs("symbols", cfg.Symbols).Msg("mock feed started")
	} else {
		client := binance.NewClient(cfg.BinanceTestnet)
		feed := &market.LiveFeed{
			Client:    client,
			Stream:    binance.NewStreamClient(cfg.BinanceTestnet, log),
			Bus:       bus,
			Symbols:   cfg.Symbols,
			Timeframe: cfg.Timeframe,
			Log:       log,
		}
		feed.Start(ctx)
		windows = &market.History{Client: client}
		log.Info().Bool("testnet", cfg.BinanceTestnet).Strs("symbols", cfg.Symbols).Msg("binance feed started")
	}

	// Signal sources
	defs, err := strategy.Load(cfg.StrategyConfig)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.StrategyConfig).Msg("strategy config load failed")
	}
	if cfg.ModelEndpoint != "" {
		for i := range defs {
			if defs[i].Model != nil {
				defs[i].Model.Endpoint = cfg.ModelEndpoint
			}
		}
	}
	sources, err := strategy.Build(defs)
	if err != nil {
		log.Fatal().Err(err).Msg("strategy build failed")
	}
	if err := strategy.SyncToStore(ctx, database, defs); err != nil {
		log.Warn().Err(err).Msg("strategy sync failed")
	}
	log.Info().Int("sources", len(sources)).Msg("signal sources ready")

	// Risk and order flow
	sizer, err := risk.NewSizer(cfg.Sizer, cfg.AccountSizeUSD, cfg.RiskPerTrade, cfg.MinNotionalUSD)
	if err != nil {
		log.Fatal().Err(err).Msg("sizer init failed")
	}
	slots := &risk.SlotAllocator{
		DB:     database,
		Max:    cfg.MaxConcurrentTrades,
		Scope:  cfg.SlotScope,
		NodeID: cfg.NodeID,
	}
	guard := trade.NewGuard(database, bus, rec, log)
	gateway := order.NewPaperGateway(time.Duration(cfg.PaperLatencyMs)*time.Millisecond, cfg.PaperRejectRate, log)
	executor := order.NewExecutor(guard, gateway, sizer, log)

	// Simulation and monitoring
	simulator := sim.New(database, guard, bus, cfg.SimMaxBars, 0, log)
	go simulator.Run(ctx)

	exitQueue := order.NewExitQueue(64)
	prices := cache.NewShardedPriceCache()
	mon := monitor.New(database, guard, bus, exitQueue, prices, monitor.Config{
		NodeID: cfg.NodeID,
		Scope:  cfg.SlotScope,
	}, log)
	go mon.Watch(ctx)
	go mon.Drain(ctx)

	// Cycle engine
	registry := cycle.NewRegistry()
	orch := &cycle.Orchestrator{
		DB:       database,
		Bus:      bus,
		Registry: registry,
		Windows:  windows,
		Sources:  sources,
		Slots:    slots,
		Executor: executor,
		Metrics:  rec,
		Cfg: cycle.Config{
			Symbols:         cfg.Symbols,
			Timeframe:       cfg.Timeframe,
			WindowBars:      cfg.CandleLimit,
			Workers:         cfg.AnalysisWorkers,
			AnalysisTimeout: cfg.AnalysisTimeout,
			AnalysisRate:    rate.Limit(cfg.AnalysisRate),
			Weights:         sig.Weights{Setup: cfg.RankWeights[0], RR: cfg.RankWeights[1], Env: cfg.RankWeights[2]},
		},
		Log: log,
	}
	sched := &cycle.Scheduler{
		Orch:     orch,
		Registry: registry,
		NodeID:   cfg.NodeID,
		Interval: cfg.CycleInterval,
		Settle:   cycle.DefaultSettle,
		Log:      log,
	}

	eng := engine.NewImpl(engine.Config{
		Scheduler:  sched,
		Registry:   registry,
		Slots:      slots,
		Monitor:    mon,
		DB:         database,
		Meta:       engine.Meta{NodeID: cfg.NodeID, Mode: "paper", Version: version},
		RunContext: runCtx,
	})

	// API
	server := api.NewServer(api.Config{
		Engine:    eng,
		DB:        database,
		Bus:       bus,
		Metrics:   rec,
		Gatherer:  promReg,
		JWTSecret: cfg.JWTSecret,
		Log:       log,
	})
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatal().Err(err).Msg("api server failed")
		}
	}()
	log.Info().Str("port", cfg.Port).Msg("api listening")

	if cfg.Autostart {
		runID, err := eng.StartRun(ctx)
		if err != nil {
			log.Error().Err(err).Msg("autostart failed")
		} else {
			log.Info().Str("run_id", runID).Dur("interval", cfg.CycleInterval).Msg("run autostarted")
		}
	}

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	// Ask the active run to stop and give it time to finish the cycle
	// checkpoint before the process exits.
	if eng.StopRun("shutdown") {
		deadline := time.Now().Add(15 * time.Second)
		for {
			if _, active := registry.Active(); !active {
				break
			}
			if time.Now().After(deadline) {
				log.Warn().Msg("active run did not stop in time")
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
	log.Info().Msg("cyclebot stopped")
}
