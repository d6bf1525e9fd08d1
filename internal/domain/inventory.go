package domain

import (
	"errors"
	"fmt"
)

// Errors for inventory events
var (
	ErrInvalidEvent = errors.New("invalid inventory event")
	ErrSKUNotFound  = errors.New("sku not found")
)

// InventoryChangeEvent is one inventory_levels/update webhook delivery.
type InventoryChangeEvent struct {
	// StoreIdentity is the raw shop identity header value.
	StoreIdentity   string
	InventoryItemID int64
	Available       int
	// WebhookID is the sender's delivery id, empty when absent.
	WebhookID string
	Topic     string
}

// Validate checks the event can be synced
func (e InventoryChangeEvent) Validate() error {
	if e.InventoryItemID <= 0 {
		return fmt.Errorf("%w: inventory_item_id must be positive", ErrInvalidEvent)
	}
	if e.Available < 0 {
		return fmt.Errorf("%w: available must not be negative", ErrInvalidEvent)
	}
	return nil
}

// Variant is one product variant in one store's catalog. SKU is the only
// field comparable across stores.
type Variant struct {
	ID              int64
	ProductID       int64
	InventoryItemID int64
	SKU             string
}

// InventoryLevel is the stock of one inventory item at one location.
type InventoryLevel struct {
	InventoryItemID int64
	LocationID      int64
	Available       int
}

// InventoryLevelUpdate sets the available quantity of one item at one location.
type InventoryLevelUpdate struct {
	InventoryItemID int64
	LocationID      int64
	Available       int
}
