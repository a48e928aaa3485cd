package event

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a domain event.
// AggregateID is the workflow instance or committee review that raised it.
type Event struct {
	ID                string                 `json:"id"`
	Type              Type                   `json:"type"`
	AggregateID       string                 `json:"aggregate_id"`
	LoanApplicationID string                 `json:"loan_application_id"`
	Payload           map[string]interface{} `json:"payload"`
	Timestamp         time.Time              `json:"timestamp"`
	CorrelationID     string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with auto-generated ID and timestamp
func NewEvent(eventType Type, aggregateID, loanApplicationID string, payload map[string]interface{}) *Event {
	return NewEventWithCorrelation(eventType, aggregateID, loanApplicationID, payload, uuid.NewString())
}

// NewEventWithCorrelation creates an event linked to a correlation chain
func NewEventWithCorrelation(eventType Type, aggregateID, loanApplicationID string, payload map[string]interface{}, correlationID string) *Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Event{
		ID:                uuid.NewString(),
		Type:              eventType,
		AggregateID:       aggregateID,
		LoanApplicationID: loanApplicationID,
		Payload:           payload,
		Timestamp:         time.Now().UTC(),
		CorrelationID:     correlationID,
	}
}

// WithPayload returns a new Event with an added payload key-value pair
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	out := *e
	out.Payload = newPayload
	return &out
}

// HasPayload reports whether key is present with a non-nil value
func (e *Event) HasPayload(key string) bool {
	val, ok := e.Payload[key]
	return ok && val != nil
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case string:
			return v
		case interface{ String() string }:
			return v.String()
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload.
// JSON-decoded payloads carry numbers as float64.
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}

// GetPayloadFloat retrieves a float64 value from the payload
func (e *Event) GetPayloadFloat(key string) float64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		case int:
			return float64(v)
		}
	}
	return 0.0
}

// GetPayloadBool retrieves a bool value from the payload
func (e *Event) GetPayloadBool(key string) bool {
	if val, ok := e.Payload[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}

// GetPayloadTime retrieves a time value stored either as time.Time or RFC 3339 text
func (e *Event) GetPayloadTime(key string) time.Time {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case time.Time:
			return v
		case string:
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
