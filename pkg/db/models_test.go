package db

import (
	"context"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func TestCycleRoundTrip(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Second)
	cycle := Cycle{
		ID:        "cycle-1",
		RunID:     "run-1",
		NodeID:    "node-a",
		Seq:       1,
		Status:    "running",
		StartedAt: started,
	}
	if err := database.CreateCycle(ctx, cycle); err != nil {
		t.Fatalf("CreateCycle: %v", err)
	}

	if err := database.UpdateCycleProgress(ctx, "cycle-1", 3, 3, 2, 1); err != nil {
		t.Fatalf("UpdateCycleProgress: %v", err)
	}
	if err := database.FinishCycle(ctx, "cycle-1", "completed", "", time.Now().UTC()); err != nil {
		t.Fatalf("FinishCycle: %v", err)
	}

	got, err := database.GetCycle(ctx, "cycle-1")
	if err != nil {
		t.Fatalf("GetCycle: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.Charts != 3 || got.Analyses != 3 || got.Recommendations != 2 || got.Trades != 1 {
		t.Errorf("counters = %d/%d/%d/%d, want 3/3/2/1", got.Charts, got.Analyses, got.Recommendations, got.Trades)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if got.Error != "" {
		t.Errorf("error = %q, want empty", got.Error)
	}
}

func TestGetCycleNotFound(t *testing.T) {
	database := newTestDB(t)

	_, err := database.GetCycle(context.Background(), "missing")
	if err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSweepInterruptedCycles(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	for i, status := range []string{"running", "completed", "running"} {
		c := Cycle{
			ID:        "cycle-" + string(rune('a'+i)),
			RunID:     "run-1",
			Seq:       i + 1,
			Status:    status,
			StartedAt: time.Now().UTC(),
		}
		if err := database.CreateCycle(ctx, c); err != nil {
			t.Fatalf("CreateCycle %d: %v", i, err)
		}
	}

	n, err := database.SweepInterruptedCycles(ctx)
	if err != nil {
		t.Fatalf("SweepInterruptedCycles: %v", err)
	}
	if n != 2 {
		t.Errorf("swept %d cycles, want 2", n)
	}

	got, err := database.GetCycle(ctx, "cycle-a")
	if err != nil {
		t.Fatalf("GetCycle: %v", err)
	}
	if got.Status != "failed" || got.Error != "interrupted" {
		t.Errorf("got status=%q error=%q, want failed/interrupted", got.Status, got.Error)
	}
}

func TestSignalsByCycle(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	entry, stop, target := 100.0, 95.0, 112.0
	long := Signal{
		ID:         "sig-1",
		CycleID:    "cycle-1",
		Source:     "trend-1h",
		Symbol:     "BTCUSDT",
		Timeframe:  "1h",
		Direction:  "LONG",
		Confidence: 0.7,
		EntryPrice: &entry,
		StopLoss:   &stop,
		TakeProfit: &target,
		SetupScore: 0.8,
		RRScore:    0.6,
		EnvScore:   0.5,
		Quality:    0.645,
		Snapshot:   `{"bars":3}`,
		CreatedAt:  time.Now().UTC(),
	}
	hold := Signal{
		ID:        "sig-2",
		CycleID:   "cycle-1",
		Source:    "trend-1h",
		Symbol:    "ETHUSDT",
		Timeframe: "1h",
		Direction: "HOLD",
		CreatedAt: time.Now().UTC(),
	}
	for _, s := range []Signal{long, hold} {
		if err := database.CreateSignal(ctx, s); err != nil {
			t.Fatalf("CreateSignal %s: %v", s.ID, err)
		}
	}

	got, err := database.ListSignalsByCycle(ctx, "cycle-1")
	if err != nil {
		t.Fatalf("ListSignalsByCycle: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d signals, want 2", len(got))
	}
	// Ordered by quality: the LONG first.
	if got[0].ID != "sig-1" {
		t.Errorf("first signal = %s, want sig-1", got[0].ID)
	}
	if got[0].EntryPrice == nil || *got[0].EntryPrice != entry {
		t.Errorf("entry price not round-tripped: %v", got[0].EntryPrice)
	}
	if got[1].EntryPrice != nil {
		t.Errorf("HOLD entry price should stay nil, got %v", *got[1].EntryPrice)
	}
}

func TestStrategySync(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	s := Strategy{ID: "st-1", Name: "trend-1h", StrategyType: "trend", Params: `{"fast":9}`, Enabled: true}
	if err := database.UpsertStrategy(ctx, s); err != nil {
		t.Fatalf("UpsertStrategy: %v", err)
	}

	// Upsert with changed params keeps one row.
	s.Params = `{"fast":12}`
	if err := database.UpsertStrategy(ctx, s); err != nil {
		t.Fatalf("UpsertStrategy update: %v", err)
	}

	other := Strategy{ID: "st-2", Name: "vision", StrategyType: "model", Enabled: true}
	if err := database.UpsertStrategy(ctx, other); err != nil {
		t.Fatalf("UpsertStrategy other: %v", err)
	}

	if err := database.DisableStrategiesExcept(ctx, []string{"trend-1h"}); err != nil {
		t.Fatalf("DisableStrategiesExcept: %v", err)
	}

	enabled, err := database.ListStrategies(ctx, true)
	if err != nil {
		t.Fatalf("ListStrategies: %v", err)
	}
	if len(enabled) != 1 || enabled[0].Name != "trend-1h" {
		t.Fatalf("enabled = %+v, want only trend-1h", enabled)
	}
	if enabled[0].Params != `{"fast":12}` {
		t.Errorf("params = %s, want updated", enabled[0].Params)
	}

	all, err := database.ListStrategies(ctx, false)
	if err != nil {
		t.Fatalf("ListStrategies all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all = %d rows, want 2", len(all))
	}
}

func TestUserRoundTrip(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	now := time.Now().UTC()
	u := User{ID: "user-1", Email: "ops@example.com", PasswordHash: "x", CreatedAt: now, UpdatedAt: now}
	if err := database.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	got, err := database.GetUserByEmail(ctx, "ops@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if got == nil || got.ID != "user-1" {
		t.Fatalf("got %+v, want user-1", got)
	}

	missing, err := database.GetUserByEmail(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown email, got %+v", missing)
	}
}
