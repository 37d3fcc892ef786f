package signal

import (
	"encoding/json"
	"fmt"
	"time"
)

// Direction is a signal's stance on a symbol.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
	Hold  Direction = "HOLD"
)

// Signal is one source's opinion on one symbol for the current cycle.
// Immutable once produced; price fields are zero for HOLD. ID is assigned
// when the cycle collects and persists the signal.
type Signal struct {
	ID         string          `json:"id,omitempty"`
	Source     string          `json:"source"`
	Symbol     string          `json:"symbol"`
	Timeframe  string          `json:"timeframe"`
	Direction  Direction       `json:"direction"`
	Confidence float64         `json:"confidence"`
	EntryPrice float64         `json:"entry_price,omitempty"`
	StopLoss   float64         `json:"stop_loss,omitempty"`
	TakeProfit float64         `json:"take_profit,omitempty"`
	SetupScore float64         `json:"setup_score"`
	RRScore    float64         `json:"rr_score"`
	EnvScore   float64         `json:"env_score"`
	Snapshot   json.RawMessage `json:"snapshot,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Actionable reports whether the signal can become a trade: a directional
// call with a complete price trio.
func (s Signal) Actionable() bool {
	if s.Direction != Long && s.Direction != Short {
		return false
	}
	return s.EntryPrice > 0 && s.StopLoss > 0 && s.TakeProfit > 0
}

// Validate checks structural completeness before a signal is persisted.
func (s Signal) Validate() error {
	if s.Source == "" || s.Symbol == "" {
		return fmt.Errorf("signal: source and symbol are required")
	}
	switch s.Direction {
	case Long, Short, Hold:
	default:
		return fmt.Errorf("signal %s/%s: unknown direction %q", s.Source, s.Symbol, s.Direction)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal %s/%s: confidence %v out of [0,1]", s.Source, s.Symbol, s.Confidence)
	}
	for _, sc := range []struct {
		name string
		v    float64
	}{
		{"setup_score", s.SetupScore},
		{"rr_score", s.RRScore},
		{"env_score", s.EnvScore},
	} {
		if sc.v < 0 || sc.v > 1 {
			return fmt.Errorf("signal %s/%s: %s %v out of [0,1]", s.Source, s.Symbol, sc.name, sc.v)
		}
	}
	if s.Direction == Hold {
		return nil
	}
	if s.EntryPrice <= 0 || s.StopLoss <= 0 || s.TakeProfit <= 0 {
		return fmt.Errorf("signal %s/%s: %s requires entry, stop and target", s.Source, s.Symbol, s.Direction)
	}
	switch s.Direction {
	case Long:
		if s.StopLoss >= s.EntryPrice || s.TakeProfit <= s.EntryPrice {
			return fmt.Errorf("signal %s/%s: LONG needs stop < entry < target (got %v/%v/%v)",
				s.Source, s.Symbol, s.StopLoss, s.EntryPrice, s.TakeProfit)
		}
	case Short:
		if s.StopLoss <= s.EntryPrice || s.TakeProfit >= s.EntryPrice {
			return fmt.Errorf("signal %s/%s: SHORT needs target < entry < stop (got %v/%v/%v)",
				s.Source, s.Symbol, s.TakeProfit, s.EntryPrice, s.StopLoss)
		}
	}
	return nil
}

// DefaultRRCap bounds the reward/risk ratio when mapping it onto [0,1].
const DefaultRRCap = 3.0

// ScoreRR maps price geometry onto a [0,1] risk/reward score: the ratio of
// reward distance to risk distance, clamped at rrCap. Returns 0 for
// degenerate geometry.
func ScoreRR(dir Direction, entry, stop, target, rrCap float64) float64 {
	if rrCap <= 0 {
		rrCap = DefaultRRCap
	}
	var reward, risk float64
	switch dir {
	case Long:
		reward, risk = target-entry, entry-stop
	case Short:
		reward, risk = entry-target, stop-entry
	default:
		return 0
	}
	if risk <= 0 || reward <= 0 {
		return 0
	}
	rr := reward / risk
	if rr > rrCap {
		rr = rrCap
	}
	return rr / rrCap
}
