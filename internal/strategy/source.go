package strategy

import (
	"context"

	"cyclebot/internal/market"
	"cyclebot/internal/signal"
)

// SignalSource produces one signal per analyzed window. Implementations
// must be safe for concurrent Analyze calls; the cycle fans symbols out
// over a worker pool.
type SignalSource interface {
	Name() string
	Analyze(ctx context.Context, window market.Window) (*signal.Signal, error)
}
