package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes the engine's Prometheus metrics. All components share one
// instance; a nil *Recorder is safe and records nothing, which keeps tests
// free of registry bookkeeping.
type Recorder struct {
	cyclesTotal     *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	analysisErrors  prometheus.Counter
	signalsTotal    *prometheus.CounterVec
	tradesTotal     *prometheus.CounterVec
	violationsTotal *prometheus.CounterVec
	openTrades      prometheus.Gauge
	httpRequests    *prometheus.CounterVec
}

// New registers the metric set on reg.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		cyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyclebot_cycles_total",
				Help: "Cycles by terminal status",
			},
			[]string{"status"},
		),
		cycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cyclebot_cycle_duration_seconds",
				Help:    "Wall time of one full cycle",
				Buckets: prometheus.DefBuckets,
			},
		),
		analysisErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cyclebot_analysis_errors_total",
				Help: "Per-symbol analysis failures (timeouts, source errors)",
			},
		),
		signalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyclebot_signals_total",
				Help: "Signals produced by direction",
			},
			[]string{"direction"},
		),
		tradesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyclebot_trades_total",
				Help: "Trade lifecycle events",
			},
			[]string{"event"},
		),
		violationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyclebot_trade_violations_total",
				Help: "Rejected trade transitions by violation code",
			},
			[]string{"code"},
		),
		openTrades: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cyclebot_open_trades",
				Help: "Trades currently pending_fill or filled",
			},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cyclebot_http_requests_total",
				Help: "API requests by route and status code",
			},
			[]string{"path", "code"},
		),
	}
}

// CycleFinished records one terminal cycle and its duration.
func (r *Recorder) CycleFinished(status string, seconds float64) {
	if r == nil {
		return
	}
	r.cyclesTotal.WithLabelValues(status).Inc()
	r.cycleDuration.Observe(seconds)
}

// AnalysisError counts one failed per-symbol analysis.
func (r *Recorder) AnalysisError() {
	if r == nil {
		return
	}
	r.analysisErrors.Inc()
}

// SignalProduced counts one signal by direction.
func (r *Recorder) SignalProduced(direction string) {
	if r == nil {
		return
	}
	r.signalsTotal.WithLabelValues(direction).Inc()
}

// TradeEvent counts one lifecycle event (created, filled, closed, cancelled).
func (r *Recorder) TradeEvent(event string) {
	if r == nil {
		return
	}
	r.tradesTotal.WithLabelValues(event).Inc()
}

// Violation counts one rejected transition by code.
func (r *Recorder) Violation(code string) {
	if r == nil {
		return
	}
	r.violationsTotal.WithLabelValues(code).Inc()
}

// SetOpenTrades publishes the current open-trade count.
func (r *Recorder) SetOpenTrades(n int) {
	if r == nil {
		return
	}
	r.openTrades.Set(float64(n))
}

// HTTPRequest counts one API request.
func (r *Recorder) HTTPRequest(path, code string) {
	if r == nil {
		return
	}
	r.httpRequests.WithLabelValues(path, code).Inc()
}
