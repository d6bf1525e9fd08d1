package domain

import (
	"time"
)

// SyncState is a step of one sync invocation.
type SyncState string

const (
	SyncStateReceivingEvent     SyncState = "receiving_event"
	SyncStateIdentifyingStore   SyncState = "identifying_store"
	SyncStateResolvingSKU       SyncState = "resolving_sku"
	SyncStatePropagatingUpdates SyncState = "propagating_updates"
	SyncStateCompleted          SyncState = "completed"
	SyncStateAborted            SyncState = "aborted"
)

// SyncOutcome is the result of syncing one target store.
type SyncOutcome string

const (
	OutcomeSkippedSelf           SyncOutcome = "skipped-self"
	OutcomeSkippedNotFound       SyncOutcome = "skipped-not-found"
	OutcomeSkippedAlreadyCurrent SyncOutcome = "skipped-already-current"
	OutcomeUpdated               SyncOutcome = "updated"
	OutcomeFailed                SyncOutcome = "failed"
)

// StoreSyncResult is the outcome for one store in the registry.
type StoreSyncResult struct {
	Store           string
	Outcome         SyncOutcome
	InventoryItemID int64
	// PreviousAvailable is the level read before writing, nil when unknown.
	PreviousAvailable *int
	Err               error
}

// SyncReport summarizes one invocation.
type SyncReport struct {
	Store           Store
	InventoryItemID int64
	Available       int
	SKU             string
	SKUResolved     bool
	// Duplicate is set when the delivery was already processed.
	Duplicate  bool
	Results    []StoreSyncResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// Failed reports whether any store failed.
func (r *SyncReport) Failed() bool {
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			return true
		}
	}
	return false
}

// FailedStores lists the identities of failed stores in registry order.
func (r *SyncReport) FailedStores() []string {
	var out []string
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			out = append(out, res.Store)
		}
	}
	return out
}

// Count returns how many stores ended with the given outcome.
func (r *SyncReport) Count(outcome SyncOutcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Duration is the wall time of the sync.
func (r *SyncReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
