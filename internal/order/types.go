package order

import (
	"context"
	"time"
)

// OrderRequest is one placement submitted to a gateway.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          string
	Qty           float64
	EntryPrice    float64
	StopLoss      float64
	TakeProfit    float64
}

// OrderResult acknowledges a placement.
type OrderResult struct {
	OrderID  string
	PlacedAt time.Time
}

// Gateway is the broker seam. The shipped implementation is PaperGateway;
// real broker submission plugs in here.
type Gateway interface {
	Name() string
	Place(ctx context.Context, req OrderRequest) (OrderResult, error)
	Cancel(ctx context.Context, clientOrderID string) error
}

// ExitRequest asks for a trade to be ended through the lifecycle guard.
type ExitRequest struct {
	TradeID     string
	Reason      string
	RequestedAt time.Time
}
