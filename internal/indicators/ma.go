package indicators

// tail returns the last n values, or nil when fewer exist.
func tail(values []float64, n int) []float64 {
	if n <= 0 || len(values) < n {
		return nil
	}
	return values[len(values)-n:]
}

// SMA is the arithmetic mean of the last period values. Returns 0 when the
// input is shorter than the period.
func SMA(values []float64, period int) float64 {
	w := tail(values, period)
	if w == nil {
		return 0
	}
	var sum float64
	for _, v := range w {
		sum += v
	}
	return sum / float64(len(w))
}

// EMA seeds with the SMA of the first period values and then blends each
// later value in with the standard 2/(period+1) multiplier. Returns 0 when
// the input is shorter than the period.
func EMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	avg := SMA(values[:period], period)
	k := 2.0 / float64(period+1)
	for _, v := range values[period:] {
		avg += (v - avg) * k
	}
	return avg
}
