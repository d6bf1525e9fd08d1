package domain

import (
	"context"
	"errors"
	"time"
)

// ErrDeliveryAlreadyProcessed is returned when marking a delivery twice.
var ErrDeliveryAlreadyProcessed = errors.New("webhook delivery already processed")

// StoreAdminClient talks to one store's administrative API.
type StoreAdminClient interface {
	// ListVariants returns every variant of every product, in catalog order.
	ListVariants(ctx context.Context, store Store) ([]Variant, error)
	// GetInventoryLevels returns the levels of one item across locations.
	GetInventoryLevels(ctx context.Context, store Store, inventoryItemID int64) ([]InventoryLevel, error)
	// SetInventoryLevel overwrites the available quantity at a location.
	SetInventoryLevel(ctx context.Context, store Store, update InventoryLevelUpdate) error
}

// ProcessedDelivery records a webhook delivery that synced without failures.
type ProcessedDelivery struct {
	WebhookID       string
	Store           string
	InventoryItemID int64
	Available       int
	SKU             string
	ProcessedAt     time.Time
}

// DeliveryRepository remembers processed webhook deliveries.
type DeliveryRepository interface {
	IsProcessed(ctx context.Context, webhookID string) (bool, error)
	MarkProcessed(ctx context.Context, delivery *ProcessedDelivery) error
}

// EventPublisher publishes domain events
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
}
