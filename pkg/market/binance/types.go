package binance

// Kline is a single candlestick. Times are unix milliseconds as Binance
// reports them.
type Kline struct {
	Symbol    string
	Interval  string
	OpenTime  int64
	CloseTime int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Closed    bool // stream flag: true once the candle is final
}
