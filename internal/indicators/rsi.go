package indicators

// RSI over the last period price changes, unsmoothed (plain gain/loss sums
// rather than Wilder's running average). Returns 0 when fewer than period+1
// values are available, 100 when the window has no losses.
func RSI(values []float64, period int) float64 {
	if period <= 0 {
		return 0
	}
	w := tail(values, period+1)
	if w == nil {
		return 0
	}

	var up, down float64
	for i := 1; i < len(w); i++ {
		switch d := w[i] - w[i-1]; {
		case d > 0:
			up += d
		case d < 0:
			down -= d
		}
	}

	if down == 0 {
		return 100
	}
	return 100 - 100/(1+up/down)
}
