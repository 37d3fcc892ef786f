package events

// Topic enumerates high-level event streams inside the engine.
type Topic string

const (
	TopicPriceTick      Topic = "price_tick"
	TopicBarClose       Topic = "bar_close"
	TopicCycleStarted   Topic = "cycle.started"
	TopicCycleFinished  Topic = "cycle.finished"
	TopicSignal         Topic = "signal"
	TopicTradeCreated   Topic = "trade.created"
	TopicTradeFilled    Topic = "trade.filled"
	TopicTradeClosed    Topic = "trade.closed"
	TopicTradeCancelled Topic = "trade.cancelled"
	TopicViolation      Topic = "trade.violation"
	TopicRiskAlert      Topic = "risk_alert"
)

// StreamTopics is the set pushed to websocket clients.
var StreamTopics = []Topic{
	TopicCycleStarted,
	TopicCycleFinished,
	TopicSignal,
	TopicTradeCreated,
	TopicTradeFilled,
	TopicTradeClosed,
	TopicTradeCancelled,
	TopicViolation,
	TopicRiskAlert,
}
