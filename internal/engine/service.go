// Package engine fronts the trading core with one interface. The API layer
// talks only to Service; it never reaches into the scheduler, registry or
// store directly.
package engine

import "context"

// Service exposes run control and history to the control surface.
type Service interface {
	// Run control
	Status(ctx context.Context) (*Status, error)
	StartRun(ctx context.Context) (string, error)
	StopRun(reason string) bool

	// History
	Cycles(ctx context.Context, limit int) ([]CycleInfo, error)
	CycleByID(ctx context.Context, id string) (*CycleDetail, error)
	Trades(ctx context.Context, status string, limit int) ([]TradeInfo, error)
	TradeByID(ctx context.Context, id string) (*TradeInfo, error)

	// Manual intervention
	RequestExit(ctx context.Context, tradeID, reason string) error
}
