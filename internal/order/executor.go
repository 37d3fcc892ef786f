package order

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cyclebot/internal/risk"
	"cyclebot/internal/signal"
	"cyclebot/internal/trade"
	"cyclebot/pkg/db"
)

// Batch ties a group of placements to the cycle that selected them.
type Batch struct {
	RunID   string
	NodeID  string
	CycleID string
}

// Executor turns ranked signals into pending_fill trades, consuming the
// slot budget in strict ranked order.
type Executor struct {
	Guard   *trade.Guard
	Gateway Gateway
	Sizer   risk.Sizer
	Log     zerolog.Logger
}

func NewExecutor(guard *trade.Guard, gw Gateway, sizer risk.Sizer, log zerolog.Logger) *Executor {
	return &Executor{Guard: guard, Gateway: gw, Sizer: sizer, Log: log}
}

// ExecuteRanked walks ranked sequentially and places orders until slots
// trades exist or the sequence ends. A sizing skip or gateway failure moves
// on to the next signal without consuming a slot; only a store failure
// aborts the batch. Returns the number of trades created.
func (e *Executor) ExecuteRanked(ctx context.Context, ranked []signal.Scored, slots int, b Batch) (int, error) {
	created := 0
	for _, sc := range ranked {
		if created >= slots {
			break
		}
		if ctx.Err() != nil {
			break
		}

		pos, err := e.Sizer.Size(sc)
		if err != nil {
			if errors.Is(err, risk.ErrBelowMinNotional) {
				e.Log.Info().Str("symbol", sc.Signal.Symbol).Err(err).Msg("signal skipped: too small")
			} else {
				e.Log.Warn().Str("symbol", sc.Signal.Symbol).Err(err).Msg("signal skipped: sizing failed")
			}
			continue
		}

		req := OrderRequest{
			ClientOrderID: uuid.NewString(),
			Symbol:        sc.Signal.Symbol,
			Side:          string(sc.Signal.Direction),
			Qty:           pos.Qty,
			EntryPrice:    sc.Signal.EntryPrice,
			StopLoss:      sc.Signal.StopLoss,
			TakeProfit:    sc.Signal.TakeProfit,
		}
		res, err := e.Gateway.Place(ctx, req)
		if err != nil {
			e.Log.Error().Err(err).Str("symbol", sc.Signal.Symbol).Str("gateway", e.Gateway.Name()).
				Msg("order placement failed; continuing with next signal")
			continue
		}

		placedAt := res.PlacedAt
		if placedAt.IsZero() {
			placedAt = time.Now().UTC()
		}
		t := db.Trade{
			ID:              req.ClientOrderID,
			RunID:           b.RunID,
			NodeID:          b.NodeID,
			CycleID:         b.CycleID,
			SignalID:        sc.Signal.ID,
			Symbol:          sc.Signal.Symbol,
			Side:            string(sc.Signal.Direction),
			Timeframe:       sc.Signal.Timeframe,
			EntryPrice:      sc.Signal.EntryPrice,
			StopLoss:        sc.Signal.StopLoss,
			TakeProfit:      sc.Signal.TakeProfit,
			Qty:             pos.Qty,
			PositionSizeUSD: pos.NotionalUSD,
			RiskUSD:         pos.RiskUSD,
			CreatedAt:       placedAt,
		}
		if _, err := e.Guard.Create(ctx, t); err != nil {
			return created, err
		}
		created++

		e.Log.Info().Str("trade_id", t.ID).Str("symbol", t.Symbol).
			Float64("quality", sc.Quality).Int("slot", created).Msg("ranked signal executed")
	}
	return created, nil
}
