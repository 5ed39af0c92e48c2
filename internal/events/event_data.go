package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// RebalanceStartedData contains data for RebalanceStarted events
type RebalanceStartedData struct {
	RunID     string `json:"run_id"`
	TradeDate string `json:"trade_date"`
	DryRun    bool   `json:"dry_run"`
}

// EventType returns the event type for RebalanceStartedData
func (d *RebalanceStartedData) EventType() EventType {
	return RebalanceStarted
}

// AlphasComputedData contains data for AlphasComputed events
type AlphasComputedData struct {
	RunID       string   `json:"run_id"`
	Instruments int      `json:"instruments"`
	Signals     []string `json:"signals"`
}

// EventType returns the event type for AlphasComputedData
func (d *AlphasComputedData) EventType() EventType {
	return AlphasComputed
}

// TargetsComputedData contains data for TargetsComputed events
type TargetsComputedData struct {
	RunID     string  `json:"run_id"`
	Positions int     `json:"positions"`
	Capital   float64 `json:"capital"`
}

// EventType returns the event type for TargetsComputedData
func (d *TargetsComputedData) EventType() EventType {
	return TargetsComputed
}

// OrdersGeneratedData contains data for OrdersGenerated events
type OrdersGeneratedData struct {
	RunID string `json:"run_id"`
	Buys  int    `json:"buys"`
	Sells int    `json:"sells"`
}

// EventType returns the event type for OrdersGeneratedData
func (d *OrdersGeneratedData) EventType() EventType {
	return OrdersGenerated
}

// OrdersSubmittedData contains data for OrdersSubmitted events
type OrdersSubmittedData struct {
	RunID    string `json:"run_id"`
	Accepted int    `json:"accepted"`
	Rejected int    `json:"rejected"`
}

// EventType returns the event type for OrdersSubmittedData
func (d *OrdersSubmittedData) EventType() EventType {
	return OrdersSubmitted
}

// OrdersCancelledData contains data for OrdersCancelled events
type OrdersCancelledData struct {
	Cancelled int `json:"cancelled"`
	Failed    int `json:"failed"`
}

// EventType returns the event type for OrdersCancelledData
func (d *OrdersCancelledData) EventType() EventType {
	return OrdersCancelled
}

// RebalanceCompletedData contains data for RebalanceCompleted events
type RebalanceCompletedData struct {
	RunID    string  `json:"run_id"`
	Status   string  `json:"status"` // "completed", "failed"
	Orders   int     `json:"orders"`
	Warnings int     `json:"warnings"`
	Duration float64 `json:"duration"` // seconds
	Error    string  `json:"error,omitempty"`
}

// EventType returns the event type for RebalanceCompletedData
func (d *RebalanceCompletedData) EventType() EventType {
	return RebalanceCompleted
}

// DataQualityWarningData contains data for DataQualityWarning events
type DataQualityWarningData struct {
	RunID      string `json:"run_id"`
	Code       string `json:"code"`
	Stage      string `json:"stage"`
	Instrument string `json:"instrument,omitempty"`
	Message    string `json:"message"`
}

// EventType returns the event type for DataQualityWarningData
func (d *DataQualityWarningData) EventType() EventType {
	return DataQualityWarning
}

// JobStatusData contains data for job lifecycle events
type JobStatusData struct {
	JobID     string    `json:"job_id"`
	JobType   string    `json:"job_type"`
	Status    string    `json:"status"` // "started", "completed", "failed"
	Error     string    `json:"error,omitempty"`
	Duration  float64   `json:"duration,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventType returns the event type for JobStatusData
// Note: The actual event type is determined by the Status field
func (d *JobStatusData) EventType() EventType {
	switch d.Status {
	case "completed":
		return JobCompleted
	case "failed":
		return JobFailed
	default:
		return JobStarted
	}
}

// MarshalJSON customizes JSON serialization for Event
func (e Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(&e),
	}

	// Marshal the data separately
	if e.Data != nil {
		dataBytes, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = dataBytes
	}

	return json.Marshal(aux)
}

// UnmarshalJSON customizes JSON deserialization for Event
func (e *Event) UnmarshalJSON(data []byte) error {
	type Alias Event
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if len(aux.Data) == 0 || string(aux.Data) == "null" {
		return nil
	}

	// Unmarshal data based on event type
	var eventData EventData
	switch aux.Type {
	case RebalanceStarted:
		eventData = &RebalanceStartedData{}
	case AlphasComputed:
		eventData = &AlphasComputedData{}
	case TargetsComputed:
		eventData = &TargetsComputedData{}
	case OrdersGenerated:
		eventData = &OrdersGeneratedData{}
	case OrdersSubmitted:
		eventData = &OrdersSubmittedData{}
	case OrdersCancelled:
		eventData = &OrdersCancelledData{}
	case RebalanceCompleted:
		eventData = &RebalanceCompletedData{}
	case DataQualityWarning:
		eventData = &DataQualityWarningData{}
	case JobStarted, JobCompleted, JobFailed:
		eventData = &JobStatusData{}
	default:
		// For unknown types, keep the raw map
		generic := &GenericEventData{Type: aux.Type}
		if err := json.Unmarshal(aux.Data, &generic.Data); err != nil {
			return err
		}
		e.Data = generic
		return nil
	}

	if err := json.Unmarshal(aux.Data, eventData); err != nil {
		return err
	}
	e.Data = eventData
	return nil
}

// GenericEventData is a fallback for events that don't have a specific type
type GenericEventData struct {
	Type EventType              `json:"-"`
	Data map[string]interface{} `json:"-"`
}

// EventType returns the event type for GenericEventData
func (d *GenericEventData) EventType() EventType {
	return d.Type
}

// MarshalJSON customizes JSON serialization for GenericEventData
func (d *GenericEventData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data)
}
