package signal

import (
	"math"
	"testing"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		sig  Signal
		ok   bool
	}{
		{"valid long", actionable("s", "BTCUSDT", 0.5, 0.5, 0.5, 0.5), true},
		{"valid hold", Signal{Source: "s", Symbol: "BTCUSDT", Direction: Hold, Confidence: 0.3}, true},
		{"valid short", Signal{
			Source: "s", Symbol: "BTCUSDT", Direction: Short, Confidence: 0.5,
			EntryPrice: 100, StopLoss: 105, TakeProfit: 90,
		}, true},
		{"missing source", Signal{Symbol: "BTCUSDT", Direction: Hold}, false},
		{"bad direction", Signal{Source: "s", Symbol: "BTCUSDT", Direction: "UP"}, false},
		{"confidence out of range", Signal{Source: "s", Symbol: "BTCUSDT", Direction: Hold, Confidence: 1.5}, false},
		{"score out of range", Signal{Source: "s", Symbol: "BTCUSDT", Direction: Hold, SetupScore: -0.1}, false},
		{"long missing prices", Signal{Source: "s", Symbol: "BTCUSDT", Direction: Long, Confidence: 0.5}, false},
		{"long stop above entry", Signal{
			Source: "s", Symbol: "BTCUSDT", Direction: Long, Confidence: 0.5,
			EntryPrice: 100, StopLoss: 101, TakeProfit: 110,
		}, false},
		{"short stop below entry", Signal{
			Source: "s", Symbol: "BTCUSDT", Direction: Short, Confidence: 0.5,
			EntryPrice: 100, StopLoss: 99, TakeProfit: 90,
		}, false},
	}

	for _, c := range cases {
		err := c.sig.Validate()
		if c.ok && err != nil {
			t.Errorf("%s: unexpected error %v", c.name, err)
		}
		if !c.ok && err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}
}

func TestActionable(t *testing.T) {
	if (Signal{Direction: Hold}).Actionable() {
		t.Error("HOLD must not be actionable")
	}
	if (Signal{Direction: Long, EntryPrice: 100, StopLoss: 95}).Actionable() {
		t.Error("missing target must not be actionable")
	}
	if !(Signal{Direction: Short, EntryPrice: 100, StopLoss: 105, TakeProfit: 90}).Actionable() {
		t.Error("complete SHORT should be actionable")
	}
}

func TestScoreRR(t *testing.T) {
	// LONG: reward 10, risk 5 -> rr 2 -> 2/3 of cap 3.
	if got := ScoreRR(Long, 100, 95, 110, 3); math.Abs(got-2.0/3.0) > 1e-9 {
		t.Errorf("long rr score = %v, want %v", got, 2.0/3.0)
	}
	// SHORT mirrored geometry.
	if got := ScoreRR(Short, 100, 105, 90, 3); math.Abs(got-2.0/3.0) > 1e-9 {
		t.Errorf("short rr score = %v, want %v", got, 2.0/3.0)
	}
	// rr above the cap clamps to 1.
	if got := ScoreRR(Long, 100, 99, 120, 3); got != 1 {
		t.Errorf("clamped rr score = %v, want 1", got)
	}
	// Degenerate geometry scores 0.
	if got := ScoreRR(Long, 100, 100, 110, 3); got != 0 {
		t.Errorf("zero-risk rr score = %v, want 0", got)
	}
	if got := ScoreRR(Hold, 100, 95, 110, 3); got != 0 {
		t.Errorf("hold rr score = %v, want 0", got)
	}
}
