package outbox

import (
	"encoding/json"
	"fmt"
)

const (
	AppointmentCreated = "scheduling.appointment.created.v1"
	AppointmentMoved   = "scheduling.appointment.moved.v1"
	AppointmentUpdated = "scheduling.appointment.updated.v1"
	AppointmentDeleted = "scheduling.appointment.deleted.v1"
	ReminderSent       = "reminder.sent.v1"
	ReminderFailed     = "reminder.failed.v1"
)

// Event is written to the outbox table in the same transaction as the change
// it describes. The Kafka topic is EventType.
type Event struct {
	TenantID      string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

func NewEvent(tenantID, aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		TenantID:      tenantID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}
