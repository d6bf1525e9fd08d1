package cloudevents

import (
	"time"
)

// Event types emitted by the sync service
const (
	InventorySyncCompleted = "inventorysync.sync.completed"
	InventorySyncPartial   = "inventorysync.sync.partial"
	InventorySyncSkipped   = "inventorysync.sync.skipped"
)

// SourceInventorySync is the CloudEvents source of this service.
const SourceInventorySync = "/inventory-sync/webhooks"

// CloudEvent represents a CloudEvents v1.0 compliant event
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	Type            string      `json:"type"`
	Source          string      `json:"source"`
	Subject         string      `json:"subject,omitempty"`
	ID              string      `json:"id"`
	Time            time.Time   `json:"time"`
	DataContentType string      `json:"datacontenttype"`
	Data            interface{} `json:"data"`

	// Extensions
	CorrelationID string `json:"correlationid,omitempty"`
	WebhookID     string `json:"webhookid,omitempty"`
	TraceParent   string `json:"traceparent,omitempty"`
}

// StoreOutcomeData is one per-store line of a sync event.
type StoreOutcomeData struct {
	Store           string `json:"store"`
	Outcome         string `json:"outcome"`
	InventoryItemID int64  `json:"inventoryItemId,omitempty"`
	Previous        *int   `json:"previousAvailable,omitempty"`
	Error           string `json:"error,omitempty"`
}

// InventorySyncData is the payload of every inventorysync.sync.* event.
type InventorySyncData struct {
	TriggeringStore string             `json:"triggeringStore"`
	InventoryItemID int64              `json:"inventoryItemId"`
	SKU             string             `json:"sku,omitempty"`
	Available       int                `json:"available"`
	Stores          []StoreOutcomeData `json:"stores"`
	DurationMs      int64              `json:"durationMs"`
}
