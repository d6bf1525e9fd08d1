package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/wms-platform/inventory-sync/internal/domain"
	"github.com/wms-platform/inventory-sync/pkg/logging"
)

var syncTracer = otel.Tracer("inventory-sync/application")

// SyncConfig tunes the orchestrator
type SyncConfig struct {
	// Concurrency is how many target stores are synced at once. Values
	// below 2 sync stores one after another in registry order.
	Concurrency int
	// StrictSKU turns an unresolvable SKU on the triggering store into
	// domain.ErrSKUNotFound instead of a successful no-op.
	StrictSKU bool
	// PublishTimeout bounds the sync event publish. Zero means
	// DefaultPublishTimeout.
	PublishTimeout time.Duration
}

// DefaultPublishTimeout is the publish budget when SyncConfig leaves it unset.
const DefaultPublishTimeout = 2 * time.Second

// SyncMetrics records orchestrator outcomes.
type SyncMetrics interface {
	RecordSyncOutcome(store, outcome string)
	ObserveSyncDuration(d time.Duration)
	RecordDuplicateDelivery()
}

// SyncService propagates one store's inventory change to every other store.
type SyncService struct {
	registry   *domain.StoreRegistry
	resolver   *InventoryResolver
	client     domain.StoreAdminClient
	config     SyncConfig
	deliveries domain.DeliveryRepository
	publisher  domain.EventPublisher
	metrics    SyncMetrics
	logger     *logging.Logger
	now        func() time.Time
}

// SyncOption wires an optional collaborator into SyncService
type SyncOption func(*SyncService)

// WithDeliveryRepository enables webhook delivery dedup.
func WithDeliveryRepository(repo domain.DeliveryRepository) SyncOption {
	return func(s *SyncService) { s.deliveries = repo }
}

// WithEventPublisher publishes a domain event after each propagation.
func WithEventPublisher(p domain.EventPublisher) SyncOption {
	return func(s *SyncService) { s.publisher = p }
}

// WithSyncMetrics records per-store outcomes and durations.
func WithSyncMetrics(m SyncMetrics) SyncOption {
	return func(s *SyncService) { s.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SyncOption {
	return func(s *SyncService) { s.now = now }
}

// NewSyncService creates a new SyncService
func NewSyncService(
	registry *domain.StoreRegistry,
	resolver *InventoryResolver,
	client domain.StoreAdminClient,
	config SyncConfig,
	logger *logging.Logger,
	opts ...SyncOption,
) *SyncService {
	s := &SyncService{
		registry: registry,
		resolver: resolver,
		client:   client,
		config:   config,
		logger:   logger.WithComponent("sync"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleInventoryChange runs one sync. Per-store failures are reported in
// the returned report and do not produce an error; only problems with the
// triggering event or store do.
func (s *SyncService) HandleInventoryChange(ctx context.Context, cmd SyncInventoryCommand) (*domain.SyncReport, error) {
	ctx, span := syncTracer.Start(ctx, "sync.HandleInventoryChange",
		trace.WithAttributes(
			attribute.String("store.identity", cmd.StoreIdentity),
			attribute.Int64("inventory_item_id", cmd.InventoryItemID),
			attribute.Int("available", cmd.Available),
		),
	)
	defer span.End()

	logger := s.logger.WithContext(ctx).WithFields(map[string]any{
		"inventoryItemId": cmd.InventoryItemID,
		"available":       cmd.Available,
	})
	report := &domain.SyncReport{
		InventoryItemID: cmd.InventoryItemID,
		Available:       cmd.Available,
		StartedAt:       s.now(),
	}

	s.transition(logger, domain.SyncStateReceivingEvent)
	event := domain.InventoryChangeEvent{
		StoreIdentity:   cmd.StoreIdentity,
		InventoryItemID: cmd.InventoryItemID,
		Available:       cmd.Available,
		WebhookID:       cmd.WebhookID,
		Topic:           cmd.Topic,
	}
	if err := event.Validate(); err != nil {
		return s.abort(span, logger, err)
	}

	s.transition(logger, domain.SyncStateIdentifyingStore)
	store, ok := s.registry.Lookup(cmd.StoreIdentity)
	if !ok {
		return s.abort(span, logger, fmt.Errorf("%w: %q", domain.ErrStoreNotFound, cmd.StoreIdentity))
	}
	report.Store = store
	logger = logger.WithStore(store.Identity())
	span.SetAttributes(attribute.String("store", store.Identity()))

	if s.alreadyProcessed(ctx, logger, cmd.WebhookID) {
		report.Duplicate = true
		report.FinishedAt = s.now()
		span.SetAttributes(attribute.Bool("sync.duplicate", true))
		return report, nil
	}

	s.transition(logger, domain.SyncStateResolvingSKU)
	sku, found, err := s.resolver.FindSKUByInventoryID(ctx, store, cmd.InventoryItemID)
	if err != nil {
		return s.abort(span, logger, err)
	}
	if !found {
		report.FinishedAt = s.now()
		logger.Warn("SKU not found for inventory item")
		if s.config.StrictSKU {
			s.transition(logger, domain.SyncStateAborted)
			return report, fmt.Errorf("%w: inventory item %d in %s", domain.ErrSKUNotFound, cmd.InventoryItemID, store.Identity())
		}
		s.markProcessed(ctx, logger, cmd, report)
		return report, nil
	}
	report.SKU = sku
	report.SKUResolved = true
	logger = logger.WithFields(map[string]any{"sku": sku})
	span.SetAttributes(attribute.String("sku", sku))

	s.transition(logger, domain.SyncStatePropagatingUpdates)
	report.Results = s.propagate(ctx, store, sku, cmd.Available)
	report.FinishedAt = s.now()

	if s.metrics != nil {
		for _, r := range report.Results {
			s.metrics.RecordSyncOutcome(r.Store, string(r.Outcome))
		}
		s.metrics.ObserveSyncDuration(report.Duration())
	}

	s.transition(logger, domain.SyncStateCompleted)
	logger.Info("Inventory sync finished",
		"updated", report.Count(domain.OutcomeUpdated),
		"skippedNotFound", report.Count(domain.OutcomeSkippedNotFound),
		"skippedCurrent", report.Count(domain.OutcomeSkippedAlreadyCurrent),
		"failed", report.FailedStores(),
		"durationMs", report.Duration().Milliseconds(),
	)
	if report.Failed() {
		span.SetStatus(codes.Error, "one or more stores failed")
	}

	s.markProcessed(ctx, logger, cmd, report)
	s.publish(ctx, logger, cmd, report)
	return report, nil
}

// propagate syncs every store, returning results in registry order.
func (s *SyncService) propagate(ctx context.Context, trigger domain.Store, sku string, available int) []domain.StoreSyncResult {
	stores := s.registry.Stores()
	results := make([]domain.StoreSyncResult, len(stores))

	limit := s.config.Concurrency
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)

	for i, target := range stores {
		if target.Identity() == trigger.Identity() {
			results[i] = domain.StoreSyncResult{Store: target.Identity(), Outcome: domain.OutcomeSkippedSelf}
			continue
		}
		i, target := i, target
		g.Go(func() error {
			results[i] = s.syncStore(ctx, target, sku, available)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *SyncService) syncStore(ctx context.Context, target domain.Store, sku string, available int) domain.StoreSyncResult {
	result := domain.StoreSyncResult{Store: target.Identity()}
	logger := s.logger.WithContext(ctx).WithStore(target.Identity())

	fail := func(err error) domain.StoreSyncResult {
		result.Outcome = domain.OutcomeFailed
		result.Err = err
		logger.WithError(err).Error("Failed to sync store", "sku", sku)
		return result
	}

	itemID, found, err := s.resolver.FindInventoryIDBySKU(ctx, target, sku)
	if err != nil {
		return fail(err)
	}
	if !found {
		result.Outcome = domain.OutcomeSkippedNotFound
		logger.Debug("SKU not present in store", "sku", sku)
		return result
	}
	result.InventoryItemID = itemID

	current, found, err := s.resolver.GetCurrentAvailable(ctx, target, itemID)
	if err != nil {
		return fail(err)
	}
	if found {
		result.PreviousAvailable = &current
		if current == available {
			result.Outcome = domain.OutcomeSkippedAlreadyCurrent
			logger.Debug("Store already at target quantity", "sku", sku, "available", available)
			return result
		}
	}

	err = s.client.SetInventoryLevel(ctx, target, domain.InventoryLevelUpdate{
		InventoryItemID: itemID,
		LocationID:      target.LocationID,
		Available:       available,
	})
	if err != nil {
		return fail(err)
	}

	result.Outcome = domain.OutcomeUpdated
	logger.Info("Updated store inventory", "sku", sku, "inventoryItemId", itemID, "available", available)
	return result
}

func (s *SyncService) alreadyProcessed(ctx context.Context, logger *logging.Logger, webhookID string) bool {
	if webhookID == "" || s.deliveries == nil {
		return false
	}
	processed, err := s.deliveries.IsProcessed(ctx, webhookID)
	if err != nil {
		logger.WithError(err).Warn("Delivery lookup failed, syncing anyway", "webhookId", webhookID)
		return false
	}
	if processed {
		logger.Info("Skipping duplicate webhook delivery", "webhookId", webhookID)
		if s.metrics != nil {
			s.metrics.RecordDuplicateDelivery()
		}
	}
	return processed
}

// markProcessed records the delivery only when every store succeeded, so a
// redelivery retries the stores that failed.
func (s *SyncService) markProcessed(ctx context.Context, logger *logging.Logger, cmd SyncInventoryCommand, report *domain.SyncReport) {
	if cmd.WebhookID == "" || s.deliveries == nil || report.Failed() {
		return
	}
	err := s.deliveries.MarkProcessed(ctx, &domain.ProcessedDelivery{
		WebhookID:       cmd.WebhookID,
		Store:           report.Store.Identity(),
		InventoryItemID: report.InventoryItemID,
		Available:       report.Available,
		SKU:             report.SKU,
		ProcessedAt:     report.FinishedAt,
	})
	switch {
	case errors.Is(err, domain.ErrDeliveryAlreadyProcessed):
		logger.Debug("Delivery was marked concurrently", "webhookId", cmd.WebhookID)
	case err != nil:
		logger.WithError(err).Warn("Failed to record processed delivery", "webhookId", cmd.WebhookID)
	}
}

func (s *SyncService) publish(ctx context.Context, logger *logging.Logger, cmd SyncInventoryCommand, report *domain.SyncReport) {
	if s.publisher == nil {
		return
	}
	event := &domain.InventorySyncedEvent{
		Report:        report,
		CorrelationID: cmd.CorrelationID,
		WebhookID:     cmd.WebhookID,
	}
	timeout := s.config.PublishTimeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.WithError(err).Warn("Failed to publish sync event", "eventType", event.EventType())
	}
}

func (s *SyncService) transition(logger *logging.Logger, state domain.SyncState) {
	logger.Debug("Sync state", "state", string(state))
}

func (s *SyncService) abort(span trace.Span, logger *logging.Logger, err error) (*domain.SyncReport, error) {
	s.transition(logger, domain.SyncStateAborted)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.WithError(err).Warn("Inventory sync aborted")
	return nil, err
}
