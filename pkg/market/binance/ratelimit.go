package binance

import (
	"strconv"
	"sync"
	"time"
)

// WeightTracker follows the request weight Binance reports in the
// X-MBX-USED-WEIGHT-1M response header. The public REST limit is 6000
// weight per minute per IP; crossing it earns an IP ban, so callers back
// off before getting close.
type WeightTracker struct {
	mu       sync.Mutex
	used     int
	limit    int
	observed time.Time
	window   time.Duration
}

// NewWeightTracker creates a tracker for the given weight budget.
func NewWeightTracker(limit int, window time.Duration) *WeightTracker {
	if limit <= 0 {
		limit = 6000
	}
	if window <= 0 {
		window = time.Minute
	}
	return &WeightTracker{limit: limit, window: window}
}

// Observe records the used weight from a response header value.
func (w *WeightTracker) Observe(header string) {
	if header == "" {
		return
	}
	used, err := strconv.Atoi(header)
	if err != nil {
		return
	}
	w.mu.Lock()
	w.used = used
	w.observed = time.Now()
	w.mu.Unlock()
}

// Usage returns the last observed weight and its share of the limit.
// Observations older than the window count as zero, matching the
// server-side reset.
func (w *WeightTracker) Usage() (used, limit int, pct float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.observed.IsZero() || time.Since(w.observed) >= w.window {
		return 0, w.limit, 0
	}
	return w.used, w.limit, float64(w.used) / float64(w.limit) * 100
}

// ShouldDelay reports whether the next request should wait a beat
// instead of risking the ban threshold.
func (w *WeightTracker) ShouldDelay() bool {
	_, _, pct := w.Usage()
	return pct >= 90
}
