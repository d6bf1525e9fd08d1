package adapters

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wms-platform/inventory-sync/internal/domain"
	"github.com/wms-platform/inventory-sync/internal/infrastructure/gateway"
)

var shopifyTracer = otel.Tracer("inventory-sync/adapters/shopify")

const (
	DefaultAPIVersion = "2024-10"
	// catalogPageSize is the largest page the products endpoint serves.
	catalogPageSize = 250
)

// Caller issues one store API call. *gateway.Gateway satisfies it.
type Caller interface {
	Do(ctx context.Context, store domain.Store, req gateway.Request, out any) (*gateway.Response, error)
}

// CatalogMetrics counts fetched catalog pages.
type CatalogMetrics interface {
	RecordCatalogPage(store string)
}

// ShopifyConfig configures the admin REST adapter
type ShopifyConfig struct {
	APIVersion string
	// MaxCatalogPages caps how many product pages are followed. 1 reads only
	// the first page.
	MaxCatalogPages int
}

// ShopifyAdapter implements domain.StoreAdminClient against the Shopify
// admin REST API.
type ShopifyAdapter struct {
	caller  Caller
	config  ShopifyConfig
	metrics CatalogMetrics
}

// NewShopifyAdapter creates a new Shopify adapter. metrics may be nil.
func NewShopifyAdapter(caller Caller, config ShopifyConfig, metrics CatalogMetrics) *ShopifyAdapter {
	if config.APIVersion == "" {
		config.APIVersion = DefaultAPIVersion
	}
	if config.MaxCatalogPages < 1 {
		config.MaxCatalogPages = 1
	}
	return &ShopifyAdapter{caller: caller, config: config, metrics: metrics}
}

type shopifyVariant struct {
	ID              int64  `json:"id"`
	ProductID       int64  `json:"product_id"`
	InventoryItemID int64  `json:"inventory_item_id"`
	SKU             string `json:"sku"`
}

type shopifyProduct struct {
	ID       int64            `json:"id"`
	Variants []shopifyVariant `json:"variants"`
}

type shopifyProductsResponse struct {
	Products []shopifyProduct `json:"products"`
}

type shopifyInventoryLevel struct {
	InventoryItemID int64 `json:"inventory_item_id"`
	LocationID      int64 `json:"location_id"`
	// Available is null for untracked items.
	Available *int `json:"available"`
}

type shopifyInventoryLevelsResponse struct {
	InventoryLevels []shopifyInventoryLevel `json:"inventory_levels"`
}

type shopifySetInventoryLevel struct {
	LocationID      int64 `json:"location_id"`
	InventoryItemID int64 `json:"inventory_item_id"`
	Available       int   `json:"available"`
}

// ListVariants walks the product catalog, following Link rel="next" until
// the last page or the configured page cap.
func (a *ShopifyAdapter) ListVariants(ctx context.Context, store domain.Store) ([]domain.Variant, error) {
	ctx, span := shopifyTracer.Start(ctx, "shopify.ListVariants",
		trace.WithAttributes(attribute.String("store", store.Identity())),
	)
	defer span.End()

	next := a.endpoint(store, "products.json") + "?fields=variants&limit=" + strconv.Itoa(catalogPageSize)
	var variants []domain.Variant
	pages := 0

	for next != "" && pages < a.config.MaxCatalogPages {
		var body shopifyProductsResponse
		resp, err := a.caller.Do(ctx, store, gateway.Request{
			Operation: "list_variants",
			Method:    http.MethodGet,
			URL:       next,
		}, &body)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("list variants of %s: %w", store.Identity(), err)
		}
		pages++
		if a.metrics != nil {
			a.metrics.RecordCatalogPage(store.Identity())
		}

		for _, p := range body.Products {
			for _, v := range p.Variants {
				productID := v.ProductID
				if productID == 0 {
					productID = p.ID
				}
				variants = append(variants, domain.Variant{
					ID:              v.ID,
					ProductID:       productID,
					InventoryItemID: v.InventoryItemID,
					SKU:             v.SKU,
				})
			}
		}
		next = NextPageURL(resp.Header.Get("Link"))
	}

	span.SetAttributes(
		attribute.Int("catalog.pages", pages),
		attribute.Int("catalog.variants", len(variants)),
		attribute.Bool("catalog.truncated", next != ""),
	)
	return variants, nil
}

// GetInventoryLevels returns the tracked levels of one item at every
// location of the store.
func (a *ShopifyAdapter) GetInventoryLevels(ctx context.Context, store domain.Store, inventoryItemID int64) ([]domain.InventoryLevel, error) {
	ctx, span := shopifyTracer.Start(ctx, "shopify.GetInventoryLevels",
		trace.WithAttributes(
			attribute.String("store", store.Identity()),
			attribute.Int64("inventory_item_id", inventoryItemID),
		),
	)
	defer span.End()

	var body shopifyInventoryLevelsResponse
	_, err := a.caller.Do(ctx, store, gateway.Request{
		Operation: "get_inventory_levels",
		Method:    http.MethodGet,
		URL:       a.endpoint(store, "inventory_levels.json") + "?inventory_item_ids=" + strconv.FormatInt(inventoryItemID, 10),
	}, &body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("get inventory levels of %d in %s: %w", inventoryItemID, store.Identity(), err)
	}

	levels := make([]domain.InventoryLevel, 0, len(body.InventoryLevels))
	for _, l := range body.InventoryLevels {
		if l.Available == nil {
			continue
		}
		levels = append(levels, domain.InventoryLevel{
			InventoryItemID: l.InventoryItemID,
			LocationID:      l.LocationID,
			Available:       *l.Available,
		})
	}
	return levels, nil
}

// SetInventoryLevel overwrites the available quantity at a location.
func (a *ShopifyAdapter) SetInventoryLevel(ctx context.Context, store domain.Store, update domain.InventoryLevelUpdate) error {
	ctx, span := shopifyTracer.Start(ctx, "shopify.SetInventoryLevel",
		trace.WithAttributes(
			attribute.String("store", store.Identity()),
			attribute.Int64("inventory_item_id", update.InventoryItemID),
			attribute.Int64("location_id", update.LocationID),
			attribute.Int("available", update.Available),
		),
	)
	defer span.End()

	locationID := update.LocationID
	if locationID == 0 {
		locationID = store.LocationID
	}

	_, err := a.caller.Do(ctx, store, gateway.Request{
		Operation: "set_inventory_level",
		Method:    http.MethodPost,
		URL:       a.endpoint(store, "inventory_levels/set.json"),
		Body: shopifySetInventoryLevel{
			LocationID:      locationID,
			InventoryItemID: update.InventoryItemID,
			Available:       update.Available,
		},
	}, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("set inventory level of %d in %s: %w", update.InventoryItemID, store.Identity(), err)
	}
	return nil
}

func (a *ShopifyAdapter) endpoint(store domain.Store, resource string) string {
	return strings.TrimRight(store.AdminURL, "/") + "/admin/api/" + a.config.APIVersion + "/" + resource
}

// NextPageURL extracts the rel="next" target from a Link header, or "".
func NextPageURL(link string) string {
	for _, part := range strings.Split(link, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		target := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range segments[1:] {
			param = strings.TrimSpace(param)
			if strings.EqualFold(param, `rel="next"`) || strings.EqualFold(param, "rel=next") {
				return strings.Trim(target, "<>")
			}
		}
	}
	return ""
}
