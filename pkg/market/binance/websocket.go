package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// StreamClient subscribes to Binance public kline websockets.
type StreamClient struct {
	StreamURL string
	Log       zerolog.Logger
	dialer    *websocket.Dialer
}

// NewStreamClient builds a websocket client; testnet toggles the host.
func NewStreamClient(testnet bool, log zerolog.Logger) *StreamClient {
	host := "stream.binance.com:9443"
	if testnet {
		host = "testnet.binance.vision"
	}
	return &StreamClient{
		StreamURL: (&url.URL{Scheme: "wss", Host: host, Path: "/ws"}).String(),
		Log:       log,
		dialer:    websocket.DefaultDialer,
	}
}

// SubscribeKlines opens a kline stream and delivers every update on the
// returned channel; callers filter on Closed when they only want finished
// candles. The channel closes when the stream ends. The stop function and
// ctx cancellation both tear the connection down; the reader goroutine owns
// the channel, so stop never races a send.
func (c *StreamClient) SubscribeKlines(ctx context.Context, symbol, interval string) (<-chan Kline, func(), error) {
	// Stream names want the symbol lowercased.
	u := c.StreamURL + "/" + strings.ToLower(symbol) + "@kline_" + interval

	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial binance ws: %w", err)
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteMessage(websocket.CloseMessage, msg)
			_ = conn.Close()
		})
	}
	go func() {
		<-ctx.Done()
		stop()
	}()

	out := make(chan Kline, 100)
	go func() {
		defer close(out)
		defer stop()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if !isExpectedClose(err) {
					c.Log.Warn().Err(err).Str("symbol", symbol).Msg("kline stream read failed")
				}
				return
			}
			k, err := decodeKlineEvent(msg)
			if err != nil {
				c.Log.Warn().Err(err).Str("symbol", symbol).Msg("kline stream decode failed")
				continue
			}
			select {
			case out <- k:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, stop, nil
}

// isExpectedClose reports whether a read error is ordinary teardown rather
// than a fault worth logging.
func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}

// decodeKlineEvent picks the kline payload out of a stream event. Prices
// arrive as JSON strings.
func decodeKlineEvent(msg []byte) (Kline, error) {
	var ev struct {
		K struct {
			OpenTime  int64  `json:"t"`
			CloseTime int64  `json:"T"`
			Symbol    string `json:"s"`
			Interval  string `json:"i"`
			Open      string `json:"o"`
			High      string `json:"h"`
			Low       string `json:"l"`
			Close     string `json:"c"`
			Volume    string `json:"v"`
			Final     bool   `json:"x"`
		} `json:"k"`
	}
	if err := json.Unmarshal(msg, &ev); err != nil {
		return Kline{}, err
	}
	return Kline{
		Symbol:    ev.K.Symbol,
		Interval:  ev.K.Interval,
		OpenTime:  ev.K.OpenTime,
		CloseTime: ev.K.CloseTime,
		Open:      parsePrice(ev.K.Open),
		High:      parsePrice(ev.K.High),
		Low:       parsePrice(ev.K.Low),
		Close:     parsePrice(ev.K.Close),
		Volume:    parsePrice(ev.K.Volume),
		Closed:    ev.K.Final,
	}, nil
}

func parsePrice(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
