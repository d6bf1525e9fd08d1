package cloudevents

import (
	"time"

	"github.com/google/uuid"
)

// EventFactory creates CloudEvents for a single source
type EventFactory struct {
	source string
	now    func() time.Time
}

// NewEventFactory creates a new EventFactory for a specific source
func NewEventFactory(source string) *EventFactory {
	return &EventFactory{source: source, now: time.Now}
}

// CreateEvent creates a new CloudEvent with the given parameters
func (f *EventFactory) CreateEvent(eventType, subject string, data interface{}) *CloudEvent {
	return &CloudEvent{
		SpecVersion:     "1.0",
		Type:            eventType,
		Source:          f.source,
		Subject:         subject,
		ID:              uuid.New().String(),
		Time:            f.now().UTC(),
		DataContentType: "application/json",
		Data:            data,
	}
}

// CreateInventorySyncEvent builds the event describing one finished sync.
// The subject is the SKU when known so consumers can partition on it.
func (f *EventFactory) CreateInventorySyncEvent(eventType string, data InventorySyncData, correlationID, webhookID string) *CloudEvent {
	subject := "sku/" + data.SKU
	if data.SKU == "" {
		subject = "store/" + data.TriggeringStore
	}
	event := f.CreateEvent(eventType, subject, data)
	event.CorrelationID = correlationID
	event.WebhookID = webhookID
	return event
}
