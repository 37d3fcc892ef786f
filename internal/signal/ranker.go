package signal

import (
	"fmt"
	"math"
	"sort"
)

// Weights are the quality formula coefficients. They must sum to 1.
type Weights struct {
	Setup float64
	RR    float64
	Env   float64
}

// DefaultWeights returns the standard 0.40/0.25/0.35 split.
func DefaultWeights() Weights {
	return Weights{Setup: 0.40, RR: 0.25, Env: 0.35}
}

// Validate rejects negative or non-normalized weights.
func (w Weights) Validate() error {
	if w.Setup < 0 || w.RR < 0 || w.Env < 0 {
		return fmt.Errorf("rank weights must be non-negative: %+v", w)
	}
	if sum := w.Setup + w.RR + w.Env; math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("rank weights must sum to 1.0, got %v", sum)
	}
	return nil
}

// Quality collapses the component scores into one scalar.
func (w Weights) Quality(s Signal) float64 {
	return w.Setup*s.SetupScore + w.RR*s.RRScore + w.Env*s.EnvScore
}

// Scored pairs a signal with its computed quality.
type Scored struct {
	Signal  Signal
	Quality float64
}

// Rank filters out HOLD and price-incomplete signals, scores the rest and
// returns them best-first. The sort key is total (quality, then confidence,
// then symbol, then source) so the output does not depend on input order.
// The input slice is never modified.
func Rank(signals []Signal, w Weights) []Scored {
	ranked := make([]Scored, 0, len(signals))
	for _, s := range signals {
		if !s.Actionable() {
			continue
		}
		ranked = append(ranked, Scored{Signal: s, Quality: w.Quality(s)})
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Quality != b.Quality {
			return a.Quality > b.Quality
		}
		if a.Signal.Confidence != b.Signal.Confidence {
			return a.Signal.Confidence > b.Signal.Confidence
		}
		if a.Signal.Symbol != b.Signal.Symbol {
			return a.Signal.Symbol < b.Signal.Symbol
		}
		return a.Signal.Source < b.Signal.Source
	})
	return ranked
}
