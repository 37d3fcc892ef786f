package monitor

import "time"

// Alert kinds.
const (
	AlertStopBreached = "stop_breached"
	AlertStaleFill    = "stale_fill"
)

// Alert is published on TopicRiskAlert when a watch rule trips.
type Alert struct {
	Kind    string    `json:"kind"`
	TradeID string    `json:"trade_id"`
	Symbol  string    `json:"symbol"`
	Price   float64   `json:"price,omitempty"`
	Detail  string    `json:"detail"`
	At      time.Time `json:"at"`
}
