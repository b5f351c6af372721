package bus

// Topics carried by the bus
const (
	TopicSignals       = "signals.trading"
	TopicRiskRequests  = "risk.requests"
	TopicRiskResponses = "risk.responses"
	TopicDecisions     = "decisions"
	TopicAlerts        = "alerts"
)
