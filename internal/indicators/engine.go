package indicators

// Params selects the lookback periods a snapshot is computed with.
type Params struct {
	FastMA int
	SlowMA int
	RSI    int
	ATR    int
}

// DefaultParams mirrors the usual fast/slow/RSI/ATR setup.
func DefaultParams() Params {
	return Params{FastMA: 9, SlowMA: 21, RSI: 14, ATR: 14}
}

// Snapshot bundles the indicator values one analysis pass needs, including
// the previous-bar averages so a crossover can be detected without keeping
// streaming state.
type Snapshot struct {
	LastClose float64
	FastMA    float64
	SlowMA    float64
	PrevFast  float64
	PrevSlow  float64
	RSI       float64
	ATR       float64
}

// Compute evaluates a snapshot over oldest-first candle slices. ok is false
// when the window is too short for the requested periods.
func Compute(highs, lows, closes []float64, p Params) (Snapshot, bool) {
	need := p.SlowMA + 1
	if p.RSI+1 > need {
		need = p.RSI + 1
	}
	if p.ATR+1 > need {
		need = p.ATR + 1
	}
	if len(closes) < need || len(highs) != len(closes) || len(lows) != len(closes) {
		return Snapshot{}, false
	}

	prev := closes[:len(closes)-1]
	return Snapshot{
		LastClose: closes[len(closes)-1],
		FastMA:    SMA(closes, p.FastMA),
		SlowMA:    SMA(closes, p.SlowMA),
		PrevFast:  SMA(prev, p.FastMA),
		PrevSlow:  SMA(prev, p.SlowMA),
		RSI:       RSI(closes, p.RSI),
		ATR:       ATR(highs, lows, closes, p.ATR),
	}, true
}

// CrossedUp reports a fast-over-slow crossover on the latest bar.
func (s Snapshot) CrossedUp() bool {
	return s.PrevFast <= s.PrevSlow && s.FastMA > s.SlowMA
}

// CrossedDown reports a fast-under-slow crossover on the latest bar.
func (s Snapshot) CrossedDown() bool {
	return s.PrevFast >= s.PrevSlow && s.FastMA < s.SlowMA
}
