// Package events provides the in-process event bus used to publish
// rebalance pipeline progress to subscribers.
package events

import "time"

// EventType identifies a kind of event
type EventType string

const (
	RebalanceStarted   EventType = "REBALANCE_STARTED"
	AlphasComputed     EventType = "ALPHAS_COMPUTED"
	TargetsComputed    EventType = "TARGETS_COMPUTED"
	OrdersGenerated    EventType = "ORDERS_GENERATED"
	OrdersSubmitted    EventType = "ORDERS_SUBMITTED"
	OrdersCancelled    EventType = "ORDERS_CANCELLED"
	RebalanceCompleted EventType = "REBALANCE_COMPLETED"
	DataQualityWarning EventType = "DATA_QUALITY_WARNING"

	JobStarted   EventType = "JOB_STARTED"
	JobCompleted EventType = "JOB_COMPLETED"
	JobFailed    EventType = "JOB_FAILED"
)

// AllEventTypes lists every known event type
var AllEventTypes = []EventType{
	RebalanceStarted,
	AlphasComputed,
	TargetsComputed,
	OrdersGenerated,
	OrdersSubmitted,
	OrdersCancelled,
	RebalanceCompleted,
	DataQualityWarning,
	JobStarted,
	JobCompleted,
	JobFailed,
}

// Event is a published event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}
