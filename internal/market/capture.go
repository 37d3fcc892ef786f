package market

import (
	"context"
	"fmt"

	"cyclebot/pkg/market/binance"
)

// WindowSource supplies recent candle windows for the capture stage.
type WindowSource interface {
	Window(ctx context.Context, symbol, timeframe string, limit int) (Window, error)
}

// History serves windows from the exchange REST API.
type History struct {
	Client *binance.Client
}

// Window fetches the most recent candles for one symbol.
func (h *History) Window(ctx context.Context, symbol, timeframe string, limit int) (Window, error) {
	klines, err := h.Client.Klines(ctx, symbol, timeframe, limit)
	if err != nil {
		return Window{}, fmt.Errorf("klines %s %s: %w", symbol, timeframe, err)
	}
	if len(klines) == 0 {
		return Window{}, fmt.Errorf("klines %s %s: empty response", symbol, timeframe)
	}

	bars := make([]Bar, 0, len(klines))
	for _, k := range klines {
		bars = append(bars, FromKline(k))
	}
	return Window{Symbol: symbol, Timeframe: timeframe, Bars: bars}, nil
}
