// Package events publishes sync domain events to Kafka as CloudEvents.
package events

import (
	"context"
	"fmt"

	"github.com/wms-platform/inventory-sync/internal/domain"
	"github.com/wms-platform/inventory-sync/pkg/cloudevents"
	"github.com/wms-platform/inventory-sync/pkg/kafka"
)

// KafkaPublisher implements domain.EventPublisher.
type KafkaPublisher struct {
	producer kafka.EventPublisher
	factory  *cloudevents.EventFactory
	topic    string
}

// NewKafkaPublisher creates a publisher writing to topic
func NewKafkaPublisher(producer kafka.EventPublisher, factory *cloudevents.EventFactory, topic string) *KafkaPublisher {
	if topic == "" {
		topic = kafka.Topics.InventorySyncEvents
	}
	return &KafkaPublisher{producer: producer, factory: factory, topic: topic}
}

// Publish converts a domain event and sends it.
func (p *KafkaPublisher) Publish(ctx context.Context, event domain.DomainEvent) error {
	synced, ok := event.(*domain.InventorySyncedEvent)
	if !ok {
		return fmt.Errorf("unsupported domain event %s", event.EventType())
	}

	ce := p.factory.CreateInventorySyncEvent(cloudEventType(synced), ToInventorySyncData(synced.Report), synced.CorrelationID, synced.WebhookID)
	ce.Time = synced.OccurredAt().UTC()
	return p.producer.PublishEvent(ctx, p.topic, ce)
}

func cloudEventType(e *domain.InventorySyncedEvent) string {
	switch e.EventType() {
	case "inventory.sync.partial":
		return cloudevents.InventorySyncPartial
	case "inventory.sync.skipped":
		return cloudevents.InventorySyncSkipped
	default:
		return cloudevents.InventorySyncCompleted
	}
}

// ToInventorySyncData maps a report onto the event payload.
func ToInventorySyncData(report *domain.SyncReport) cloudevents.InventorySyncData {
	stores := make([]cloudevents.StoreOutcomeData, len(report.Results))
	for i, r := range report.Results {
		stores[i] = cloudevents.StoreOutcomeData{
			Store:           r.Store,
			Outcome:         string(r.Outcome),
			InventoryItemID: r.InventoryItemID,
			Previous:        r.PreviousAvailable,
		}
		if r.Err != nil {
			stores[i].Error = r.Err.Error()
		}
	}
	return cloudevents.InventorySyncData{
		TriggeringStore: report.Store.Identity(),
		InventoryItemID: report.InventoryItemID,
		SKU:             report.SKU,
		Available:       report.Available,
		Stores:          stores,
		DurationMs:      report.Duration().Milliseconds(),
	}
}

// NoopPublisher drops every event. Used when Kafka is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, domain.DomainEvent) error { return nil }
