package events

// Event enumerates high-level topics inside the trading agent.
type Event string

const (
	EventPriceTick      Event = "price_tick"
	EventStrategySignal Event = "strategy_signal"
	EventRiskAlert      Event = "risk_alert"
	EventPositionChange Event = "position_change"
	EventOrderSubmitted Event = "order.submitted"
	EventOrderRejected  Event = "order.rejected"
	EventOrderFilled    Event = "order.filled"
	EventCycleComplete  Event = "cycle.complete"
	EventKillSwitch     Event = "kill_switch"
)
