package indicators

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	if got := SMA(values, 5); !almostEqual(got, 3) {
		t.Errorf("SMA(5) = %v, want 3", got)
	}
	if got := SMA(values, 2); !almostEqual(got, 4.5) {
		t.Errorf("SMA(2) = %v, want 4.5", got)
	}
	if got := SMA(values, 6); got != 0 {
		t.Errorf("SMA with short input = %v, want 0", got)
	}
	if got := SMA(values, 0); got != 0 {
		t.Errorf("SMA with zero period = %v, want 0", got)
	}
}

func TestEMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	// seed = SMA(1,2,3) = 2; k = 0.5; then 4 -> 3, 5 -> 4.
	if got := EMA(values, 3); !almostEqual(got, 4) {
		t.Errorf("EMA(3) = %v, want 4", got)
	}
	if got := EMA(values, 9); got != 0 {
		t.Errorf("EMA with short input = %v, want 0", got)
	}
}

func TestRSI(t *testing.T) {
	up := []float64{1, 2, 3, 4, 5, 6}
	if got := RSI(up, 5); !almostEqual(got, 100) {
		t.Errorf("RSI on pure gains = %v, want 100", got)
	}

	mixed := []float64{10, 11, 10, 11, 10, 11}
	// gains 3, losses 2 over the last 5 changes -> rs 1.5 -> rsi 60.
	if got := RSI(mixed, 5); !almostEqual(got, 60) {
		t.Errorf("RSI mixed = %v, want 60", got)
	}

	if got := RSI(up, 6); got != 0 {
		t.Errorf("RSI with short input = %v, want 0", got)
	}
}

func TestATR(t *testing.T) {
	highs := []float64{11, 12, 13}
	lows := []float64{9, 10, 11}
	closes := []float64{10, 11, 12}
	// TRs: bar1 max(2, |12-10|, |10-10|)=2, bar2 max(2, |13-11|, |11-11|)=2.
	if got := ATR(highs, lows, closes, 2); !almostEqual(got, 2) {
		t.Errorf("ATR = %v, want 2", got)
	}

	gapHighs := []float64{11, 20, 21}
	gapLows := []float64{9, 18, 19}
	gapCloses := []float64{10, 19, 20}
	// Gap-up bar: TR = |20-10| = 10 dominates the raw range.
	if got := ATR(gapHighs, gapLows, gapCloses, 2); !almostEqual(got, 6) {
		t.Errorf("ATR with gap = %v, want 6", got)
	}

	if got := ATR(highs, lows, closes, 3); got != 0 {
		t.Errorf("ATR with short input = %v, want 0", got)
	}
}

func TestComputeSnapshot(t *testing.T) {
	n := 30
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		c := 100 + float64(i)
		closes[i] = c
		highs[i] = c + 1
		lows[i] = c - 1
	}

	p := Params{FastMA: 3, SlowMA: 10, RSI: 5, ATR: 5}
	s, ok := Compute(highs, lows, closes, p)
	if !ok {
		t.Fatal("Compute should succeed with 30 bars")
	}
	if s.LastClose != 129 {
		t.Errorf("LastClose = %v", s.LastClose)
	}
	if s.FastMA <= s.SlowMA {
		t.Errorf("uptrend should put fast above slow: fast %v slow %v", s.FastMA, s.SlowMA)
	}
	if s.RSI != 100 {
		t.Errorf("RSI on monotone rise = %v, want 100", s.RSI)
	}
	if s.ATR <= 0 {
		t.Errorf("ATR = %v, want > 0", s.ATR)
	}

	if _, ok := Compute(highs[:5], lows[:5], closes[:5], p); ok {
		t.Error("Compute should fail with too few bars")
	}
}

func TestCrossoverDetection(t *testing.T) {
	// Build a series that dips then rises so the 2-bar average crosses the
	// 4-bar average on the final bar: prev fast 6.5 vs slow 7.75, now fast
	// 9.5 vs slow 8.25.
	closes := []float64{10, 10, 10, 10, 8, 6, 7, 12}
	highs := make([]float64, len(closes))
	lows := make([]float64, len(closes))
	for i, c := range closes {
		highs[i] = c + 0.5
		lows[i] = c - 0.5
	}

	p := Params{FastMA: 2, SlowMA: 4, RSI: 3, ATR: 3}
	s, ok := Compute(highs, lows, closes, p)
	if !ok {
		t.Fatal("Compute failed")
	}
	if !s.CrossedUp() {
		t.Errorf("expected upward crossover: prev %v/%v now %v/%v", s.PrevFast, s.PrevSlow, s.FastMA, s.SlowMA)
	}
	if s.CrossedDown() {
		t.Error("CrossedDown should be false on an upward cross")
	}
}
