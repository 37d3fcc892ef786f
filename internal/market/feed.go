package market

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"cyclebot/internal/events"
	"cyclebot/pkg/market/binance"
)

// LiveFeed streams klines from Binance and publishes them to the event bus.
// Every update becomes a price tick; only closed candles become bar closes.
type LiveFeed struct {
	Client    *binance.Client
	Stream    *binance.StreamClient
	Bus       *events.Bus
	Symbols   []string
	Timeframe string
	Log       zerolog.Logger
}

// Start begins websocket streaming for the configured symbols plus a
// low-frequency REST fallback that papers over dropped connections.
func (f *LiveFeed) Start(ctx context.Context) {
	if f.Bus == nil || f.Client == nil || f.Stream == nil {
		f.Log.Warn().Msg("market feed not fully configured; skipping start")
		return
	}

	for _, sym := range f.Symbols {
		symbol := sym
		ch, stop, err := f.Stream.SubscribeKlines(ctx, symbol, f.Timeframe)
		if err != nil {
			f.Log.Error().Err(err).Str("symbol", symbol).Msg("market feed: ws subscribe failed")
			continue
		}

		go func() {
			defer stop()
			for k := range ch {
				f.publish(k)
			}
		}()
	}

	go f.pollSnapshots(ctx)
}

func (f *LiveFeed) publish(k binance.Kline) {
	f.Bus.Publish(events.TopicPriceTick, PriceTick{
		Symbol: k.Symbol,
		Price:  k.Close,
		Time:   k.CloseTime,
	})
	if k.Closed {
		f.Bus.Publish(events.TopicBarClose, FromKline(k))
	}
}

// pollSnapshots republishes the latest closed candle per symbol so the
// simulator still advances if the websocket goes quiet. Duplicate bars
// are deduplicated downstream by close time.
func (f *LiveFeed) pollSnapshots(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sym := range f.Symbols {
				klines, err := f.Client.Klines(ctx, sym, f.Timeframe, 2)
				if err != nil {
					f.Log.Warn().Err(err).Str("symbol", sym).Msg("market feed: snapshot failed")
					continue
				}
				// The last entry may still be forming; the one before it is closed.
				if len(klines) >= 2 {
					f.publish(klines[len(klines)-2])
				}
			}
		}
	}
}
