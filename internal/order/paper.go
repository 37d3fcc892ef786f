package order

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PaperGateway acknowledges orders immediately without touching an
// exchange. Optional latency and a rejection rate make the failure paths
// testable.
type PaperGateway struct {
	MaxLatency time.Duration
	RejectRate float64
	Log        zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewPaperGateway(maxLatency time.Duration, rejectRate float64, log zerolog.Logger) *PaperGateway {
	return &PaperGateway{
		MaxLatency: maxLatency,
		RejectRate: rejectRate,
		Log:        log,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *PaperGateway) Name() string { return "paper" }

// Place acks the order with a fresh gateway id after the simulated latency.
func (g *PaperGateway) Place(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := g.sleep(ctx); err != nil {
		return OrderResult{}, err
	}
	if g.roll() < g.RejectRate {
		return OrderResult{}, fmt.Errorf("paper gateway rejected order %s", req.ClientOrderID)
	}

	res := OrderResult{OrderID: uuid.NewString(), PlacedAt: time.Now().UTC()}
	g.Log.Debug().Str("client_order_id", req.ClientOrderID).Str("order_id", res.OrderID).
		Str("symbol", req.Symbol).Str("side", req.Side).Float64("qty", req.Qty).
		Msg("paper order placed")
	return res, nil
}

// Cancel always succeeds; there is no resting order to remove.
func (g *PaperGateway) Cancel(_ context.Context, clientOrderID string) error {
	g.Log.Debug().Str("client_order_id", clientOrderID).Msg("paper order cancelled")
	return nil
}

func (g *PaperGateway) sleep(ctx context.Context) error {
	if g.MaxLatency <= 0 {
		return nil
	}
	g.mu.Lock()
	d := time.Duration(g.rng.Int63n(int64(g.MaxLatency) + 1))
	g.mu.Unlock()

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (g *PaperGateway) roll() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64()
}
