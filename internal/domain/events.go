package domain

import "time"

// DomainEvent is the base interface for all domain events
type DomainEvent interface {
	EventType() string
	OccurredAt() time.Time
}

// InventorySyncedEvent is emitted once per sync that reached propagation.
type InventorySyncedEvent struct {
	Report        *SyncReport
	CorrelationID string
	WebhookID     string
}

// EventType distinguishes full, partial and no-op syncs.
func (e *InventorySyncedEvent) EventType() string {
	switch {
	case e.Report.Failed():
		return "inventory.sync.partial"
	case e.Report.Count(OutcomeUpdated) == 0:
		return "inventory.sync.skipped"
	default:
		return "inventory.sync.completed"
	}
}

func (e *InventorySyncedEvent) OccurredAt() time.Time { return e.Report.FinishedAt }
