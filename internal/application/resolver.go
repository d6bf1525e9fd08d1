package application

import (
	"context"
	"fmt"

	"github.com/wms-platform/inventory-sync/internal/domain"
	"github.com/wms-platform/inventory-sync/pkg/logging"
)

// ResolverMetrics records catalog anomalies found while resolving.
type ResolverMetrics interface {
	RecordDuplicateSKU(store string)
}

// InventoryResolver maps between inventory item ids and SKUs within one
// store. A miss is a normal result, never an error.
type InventoryResolver struct {
	client  domain.StoreAdminClient
	metrics ResolverMetrics
	logger  *logging.Logger
}

// NewInventoryResolver creates a new InventoryResolver. metrics may be nil.
func NewInventoryResolver(client domain.StoreAdminClient, metrics ResolverMetrics, logger *logging.Logger) *InventoryResolver {
	return &InventoryResolver{
		client:  client,
		metrics: metrics,
		logger:  logger.WithComponent("resolver"),
	}
}

// FindSKUByInventoryID returns the SKU of the first variant whose inventory
// item matches. Variants with an empty SKU are ignored.
func (r *InventoryResolver) FindSKUByInventoryID(ctx context.Context, store domain.Store, inventoryItemID int64) (string, bool, error) {
	variants, err := r.client.ListVariants(ctx, store)
	if err != nil {
		return "", false, fmt.Errorf("resolve sku: %w", err)
	}

	for _, v := range variants {
		if v.InventoryItemID == inventoryItemID && v.SKU != "" {
			return v.SKU, true, nil
		}
	}
	return "", false, nil
}

// FindInventoryIDBySKU returns the inventory item of the first variant
// carrying sku in catalog order. Further matches are reported as duplicates.
func (r *InventoryResolver) FindInventoryIDBySKU(ctx context.Context, store domain.Store, sku string) (int64, bool, error) {
	if sku == "" {
		return 0, false, nil
	}

	variants, err := r.client.ListVariants(ctx, store)
	if err != nil {
		return 0, false, fmt.Errorf("resolve inventory item: %w", err)
	}

	var (
		match      int64
		found      bool
		duplicates []int64
	)
	for _, v := range variants {
		if v.SKU != sku {
			continue
		}
		if !found {
			match, found = v.InventoryItemID, true
			continue
		}
		if v.InventoryItemID != match {
			duplicates = append(duplicates, v.InventoryItemID)
		}
	}

	if len(duplicates) > 0 {
		r.logger.WithContext(ctx).Warn("Duplicate SKU in store catalog, using first match",
			"store", store.Identity(),
			"sku", sku,
			"inventoryItemId", match,
			"ignored", duplicates,
		)
		if r.metrics != nil {
			r.metrics.RecordDuplicateSKU(store.Identity())
		}
	}
	return match, found, nil
}

// GetCurrentAvailable reads the available quantity of an item at the store's
// configured location. Levels at other locations are ignored, so an item not
// stocked at that location is not found.
func (r *InventoryResolver) GetCurrentAvailable(ctx context.Context, store domain.Store, inventoryItemID int64) (int, bool, error) {
	levels, err := r.client.GetInventoryLevels(ctx, store, inventoryItemID)
	if err != nil {
		return 0, false, fmt.Errorf("read inventory level: %w", err)
	}
	for _, l := range levels {
		if l.LocationID == store.LocationID {
			return l.Available, true, nil
		}
	}
	return 0, false, nil
}
