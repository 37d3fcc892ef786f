package risk

import (
	"context"
	"fmt"

	"cyclebot/pkg/db"
)

// Slot scopes. Node counts only this node's trades; global counts all.
const (
	ScopeGlobal = "global"
	ScopeNode   = "node"
)

// Available returns how many new trades fit under the concurrency cap.
// Pure and never negative.
func Available(open, max int) int {
	if free := max - open; free > 0 {
		return free
	}
	return 0
}

// SlotAllocator answers "how many more trades may this cycle open" against
// the store. It holds no state of its own; every call recounts.
type SlotAllocator struct {
	DB     *db.Database
	Max    int
	Scope  string
	NodeID string
}

// CountOpen counts pending_fill and filled trades in the configured scope.
func (a *SlotAllocator) CountOpen(ctx context.Context) (int, error) {
	nodeID := ""
	if a.Scope == ScopeNode {
		nodeID = a.NodeID
	}
	return a.DB.CountOpenTrades(ctx, nodeID)
}

// Free returns the number of slots open for new trades.
func (a *SlotAllocator) Free(ctx context.Context) (int, error) {
	open, err := a.CountOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("count open trades: %w", err)
	}
	return Available(open, a.Max), nil
}
