package application

import "github.com/wms-platform/inventory-sync/internal/domain"

// StoreResultDTO is the outcome for one store in responses
type StoreResultDTO struct {
	Store             string `json:"store"`
	Outcome           string `json:"outcome"`
	InventoryItemID   int64  `json:"inventoryItemId,omitempty"`
	PreviousAvailable *int   `json:"previousAvailable,omitempty"`
	Error             string `json:"error,omitempty"`
}

// SyncReportDTO represents a sync report in responses
type SyncReportDTO struct {
	Store           string           `json:"store"`
	InventoryItemID int64            `json:"inventoryItemId"`
	Available       int              `json:"available"`
	SKU             string           `json:"sku,omitempty"`
	Duplicate       bool             `json:"duplicate,omitempty"`
	Results         []StoreResultDTO `json:"results,omitempty"`
	DurationMs      int64            `json:"durationMs"`
}

// ToStoreResultDTOs converts sync results to DTOs
func ToStoreResultDTOs(results []domain.StoreSyncResult) []StoreResultDTO {
	if len(results) == 0 {
		return nil
	}
	out := make([]StoreResultDTO, len(results))
	for i, r := range results {
		out[i] = StoreResultDTO{
			Store:             r.Store,
			Outcome:           string(r.Outcome),
			InventoryItemID:   r.InventoryItemID,
			PreviousAvailable: r.PreviousAvailable,
		}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
		}
	}
	return out
}

// ToSyncReportDTO converts a report to a DTO
func ToSyncReportDTO(report *domain.SyncReport) *SyncReportDTO {
	if report == nil {
		return nil
	}
	return &SyncReportDTO{
		Store:           report.Store.Identity(),
		InventoryItemID: report.InventoryItemID,
		Available:       report.Available,
		SKU:             report.SKU,
		Duplicate:       report.Duplicate,
		Results:         ToStoreResultDTOs(report.Results),
		DurationMs:      report.Duration().Milliseconds(),
	}
}
