package risk

import (
	"errors"
	"fmt"
	"math"

	"cyclebot/internal/signal"
)

// ErrBelowMinNotional marks a sizing result too small to place. Callers skip
// the signal instead of treating it as a failure.
var ErrBelowMinNotional = errors.New("position below minimum notional")

// Position is a sized order ready for placement.
type Position struct {
	Qty         float64
	NotionalUSD float64
	RiskUSD     float64
}

// Sizer turns a ranked signal into a position size.
type Sizer interface {
	Name() string
	Size(s signal.Scored) (Position, error)
}

// FixedFractional risks a fixed fraction of the account per trade, spread
// over the stop distance. Notional is capped at the account size.
type FixedFractional struct {
	AccountUSD     float64
	RiskPerTrade   float64
	MinNotionalUSD float64
}

func (f FixedFractional) Name() string { return "fixed-fractional" }

func (f FixedFractional) Size(s signal.Scored) (Position, error) {
	return f.size(s, 1.0)
}

func (f FixedFractional) size(s signal.Scored, mult float64) (Position, error) {
	stopDist := math.Abs(s.Signal.EntryPrice - s.Signal.StopLoss)
	if stopDist <= 0 || s.Signal.EntryPrice <= 0 {
		return Position{}, fmt.Errorf("sizing %s: degenerate stop distance", s.Signal.Symbol)
	}

	riskUSD := f.AccountUSD * f.RiskPerTrade * mult
	qty := riskUSD / stopDist
	notional := qty * s.Signal.EntryPrice

	if notional > f.AccountUSD {
		scale := f.AccountUSD / notional
		qty *= scale
		riskUSD *= scale
		notional = f.AccountUSD
	}

	if notional < f.MinNotionalUSD {
		return Position{}, fmt.Errorf("sizing %s: notional %.2f under %.2f: %w",
			s.Signal.Symbol, notional, f.MinNotionalUSD, ErrBelowMinNotional)
	}
	return Position{Qty: qty, NotionalUSD: notional, RiskUSD: riskUSD}, nil
}

// ConfidenceAdjusted scales the fixed-fractional risk by a confidence
// ladder, so weak signals commit less of the budget.
type ConfidenceAdjusted struct {
	Base FixedFractional
}

func (c ConfidenceAdjusted) Name() string { return "confidence-adjusted" }

func (c ConfidenceAdjusted) Size(s signal.Scored) (Position, error) {
	return c.Base.size(s, confidenceMultiplier(s.Signal.Confidence))
}

func confidenceMultiplier(conf float64) float64 {
	switch {
	case conf >= 0.85:
		return 1.25
	case conf >= 0.65:
		return 1.0
	case conf >= 0.50:
		return 0.75
	default:
		return 0.5
	}
}

// NewSizer builds the sizer selected by name ("fixed" or "confidence").
func NewSizer(name string, accountUSD, riskPerTrade, minNotionalUSD float64) (Sizer, error) {
	base := FixedFractional{
		AccountUSD:     accountUSD,
		RiskPerTrade:   riskPerTrade,
		MinNotionalUSD: minNotionalUSD,
	}
	switch name {
	case "", "fixed":
		return base, nil
	case "confidence":
		return ConfidenceAdjusted{Base: base}, nil
	default:
		return nil, fmt.Errorf("unknown sizer %q", name)
	}
}
