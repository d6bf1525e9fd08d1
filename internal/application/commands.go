package application

// SyncInventoryCommand is one inventory level change reported by a store.
type SyncInventoryCommand struct {
	StoreIdentity   string
	InventoryItemID int64
	Available       int
	WebhookID       string
	Topic           string
	CorrelationID   string
}
