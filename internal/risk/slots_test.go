package risk

import (
	"context"
	"testing"
	"time"

	"cyclebot/pkg/db"
)

func TestAvailable(t *testing.T) {
	tests := []struct {
		name string
		open int
		max  int
		want int
	}{
		{"all free", 0, 3, 3},
		{"one left", 2, 3, 1},
		{"full", 3, 3, 0},
		{"over capacity", 5, 3, 0},
		{"zero cap", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Available(tt.open, tt.max); got != tt.want {
				t.Fatalf("Available(%d, %d)=%d, expected %d", tt.open, tt.max, got, tt.want)
			}
		})
	}
}

func TestSlotAllocatorScopes(t *testing.T) {
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	seed := func(id, nodeID, status string) {
		tr := db.Trade{
			ID: id, RunID: "run-1", NodeID: nodeID, CycleID: "c1", SignalID: id + "-sig",
			Symbol: "BTCUSDT", Side: "LONG", Timeframe: "1h",
			EntryPrice: 100, StopLoss: 95, TakeProfit: 110,
			Qty: 1, PositionSizeUSD: 100, RiskUSD: 5,
			Status: status, CreatedAt: time.Now(),
		}
		if err := database.CreateTrade(ctx, tr); err != nil {
			t.Fatalf("seed trade %s: %v", id, err)
		}
	}
	seed("t1", "node-a", "pending_fill")
	seed("t2", "node-a", "filled")
	seed("t3", "node-b", "filled")
	seed("t4", "node-a", "closed")

	global := &SlotAllocator{DB: database, Max: 3, Scope: ScopeGlobal}
	free, err := global.Free(ctx)
	if err != nil {
		t.Fatalf("global free: %v", err)
	}
	if free != 0 {
		t.Fatalf("global free=%d, expected 0 with 3 open trades", free)
	}

	node := &SlotAllocator{DB: database, Max: 3, Scope: ScopeNode, NodeID: "node-a"}
	free, err = node.Free(ctx)
	if err != nil {
		t.Fatalf("node free: %v", err)
	}
	if free != 1 {
		t.Fatalf("node free=%d, expected 1 with 2 node-a open trades", free)
	}
}
