package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cyclebot/internal/indicators"
	"cyclebot/internal/market"
	"cyclebot/internal/signal"
)

// TrendParams configures a TrendSource.
type TrendParams struct {
	Fast      int     `yaml:"fast" json:"fast"`
	Slow      int     `yaml:"slow" json:"slow"`
	RSIPeriod int     `yaml:"rsi_period" json:"rsi_period"`
	ATRPeriod int     `yaml:"atr_period" json:"atr_period"`
	StopATR   float64 `yaml:"stop_atr" json:"stop_atr"`
	TargetATR float64 `yaml:"target_atr" json:"target_atr"`
}

// DefaultTrendParams returns the 9/21 crossover setup.
func DefaultTrendParams() TrendParams {
	return TrendParams{Fast: 9, Slow: 21, RSIPeriod: 14, ATRPeriod: 14, StopATR: 1.5, TargetATR: 3.0}
}

func (p TrendParams) validate() error {
	if p.Fast <= 0 || p.Slow <= 0 || p.RSIPeriod <= 0 || p.ATRPeriod <= 0 {
		return fmt.Errorf("periods must be positive: %+v", p)
	}
	if p.Fast >= p.Slow {
		return fmt.Errorf("fast period %d must be shorter than slow %d", p.Fast, p.Slow)
	}
	if p.StopATR <= 0 || p.TargetATR <= 0 {
		return fmt.Errorf("stop_atr and target_atr must be positive: %+v", p)
	}
	return nil
}

// TrendSource is the local indicator strategy: moving-average alignment
// gated by RSI, with stops and targets set from ATR multiples.
type TrendSource struct {
	name   string
	params TrendParams
}

func NewTrendSource(name string, p TrendParams) (*TrendSource, error) {
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("strategy %s: %w", name, err)
	}
	return &TrendSource{name: name, params: p}, nil
}

func (s *TrendSource) Name() string { return s.name }

// RSI gates: do not buy into overbought, do not sell into oversold.
const (
	rsiOverbought = 70.0
	rsiOversold   = 30.0
)

func (s *TrendSource) Analyze(_ context.Context, w market.Window) (*signal.Signal, error) {
	snap, ok := indicators.Compute(w.Highs(), w.Lows(), w.Closes(), indicators.Params{
		FastMA: s.params.Fast,
		SlowMA: s.params.Slow,
		RSI:    s.params.RSIPeriod,
		ATR:    s.params.ATRPeriod,
	})
	if !ok {
		return nil, fmt.Errorf("%s %s: window too short for analysis (%d bars)", s.name, w.Symbol, len(w.Bars))
	}
	if snap.ATR <= 0 || snap.SlowMA <= 0 {
		return nil, fmt.Errorf("%s %s: degenerate indicator values", s.name, w.Symbol)
	}

	dir := s.direction(snap)
	sig := &signal.Signal{
		Source:    s.name,
		Symbol:    w.Symbol,
		Timeframe: w.Timeframe,
		Direction: dir,
		CreatedAt: time.Now().UTC(),
	}
	sig.Snapshot = s.snapshotJSON(w, snap)

	if dir == signal.Hold {
		sig.Confidence = 0.2
		sig.EnvScore = volRegime(snap.ATR / snap.LastClose)
		return sig, nil
	}

	entry := snap.LastClose
	var stop, target float64
	if dir == signal.Long {
		stop = entry - s.params.StopATR*snap.ATR
		target = entry + s.params.TargetATR*snap.ATR
	} else {
		stop = entry + s.params.StopATR*snap.ATR
		target = entry - s.params.TargetATR*snap.ATR
	}
	if stop <= 0 || target <= 0 {
		sig.Direction = signal.Hold
		sig.Confidence = 0.2
		return sig, nil
	}

	sig.EntryPrice = entry
	sig.StopLoss = stop
	sig.TakeProfit = target
	sig.SetupScore = s.setupScore(snap, dir)
	sig.RRScore = signal.ScoreRR(dir, entry, stop, target, signal.DefaultRRCap)
	sig.EnvScore = s.envScore(snap, dir)
	sig.Confidence = clamp01(0.5*sig.SetupScore + 0.3*sig.EnvScore + 0.2*sig.RRScore)
	return sig, nil
}

// direction reads moving-average alignment through the RSI gate.
func (s *TrendSource) direction(snap indicators.Snapshot) signal.Direction {
	switch {
	case snap.FastMA > snap.SlowMA && snap.RSI < rsiOverbought:
		return signal.Long
	case snap.FastMA < snap.SlowMA && snap.RSI > rsiOversold:
		return signal.Short
	default:
		return signal.Hold
	}
}

// setupScore blends separation of the averages, RSI headroom toward the
// gate, and a bonus for a crossover on the latest bar.
func (s *TrendSource) setupScore(snap indicators.Snapshot, dir signal.Direction) float64 {
	sep := (snap.FastMA - snap.SlowMA) / snap.SlowMA
	if dir == signal.Short {
		sep = -sep
	}
	sepScore := clamp01(sep / 0.02)

	var headroom float64
	if dir == signal.Long {
		headroom = clamp01((rsiOverbought - snap.RSI) / (rsiOverbought - rsiOversold))
	} else {
		headroom = clamp01((snap.RSI - rsiOversold) / (rsiOverbought - rsiOversold))
	}

	cross := 0.0
	if (dir == signal.Long && snap.CrossedUp()) || (dir == signal.Short && snap.CrossedDown()) {
		cross = 1.0
	}

	return clamp01(0.5*sepScore + 0.3*headroom + 0.2*cross)
}

// envScore blends trend alignment of price against the slow average with
// the volatility regime.
func (s *TrendSource) envScore(snap indicators.Snapshot, dir signal.Direction) float64 {
	align := (snap.LastClose - snap.SlowMA) / snap.SlowMA
	if dir == signal.Short {
		align = -align
	}
	alignScore := clamp01(align / 0.02)
	return clamp01(0.5*alignScore + 0.5*volRegime(snap.ATR/snap.LastClose))
}

// volRegime scores ATR as a fraction of price: comfortable between 0.5%
// and 3%, fading to 0 outside.
func volRegime(atrPct float64) float64 {
	switch {
	case atrPct <= 0:
		return 0
	case atrPct < 0.005:
		return atrPct / 0.005
	case atrPct <= 0.03:
		return 1
	default:
		return clamp01(1 - (atrPct-0.03)/0.03)
	}
}

type trendSnapshot struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Bars      int       `json:"bars"`
	LastClose float64   `json:"last_close"`
	Closes    []float64 `json:"closes"`
	FastMA    float64   `json:"fast_ma"`
	SlowMA    float64   `json:"slow_ma"`
	RSI       float64   `json:"rsi"`
	ATR       float64   `json:"atr"`
	BarTime   int64     `json:"bar_time"`
}

func (s *TrendSource) snapshotJSON(w market.Window, snap indicators.Snapshot) json.RawMessage {
	last, _ := w.Last()
	payload := trendSnapshot{
		Symbol:    w.Symbol,
		Timeframe: w.Timeframe,
		Bars:      len(w.Bars),
		LastClose: snap.LastClose,
		Closes:    w.Closes(),
		FastMA:    snap.FastMA,
		SlowMA:    snap.SlowMA,
		RSI:       snap.RSI,
		ATR:       snap.ATR,
		BarTime:   last.CloseTime,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return raw
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
