package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wms-platform/inventory-sync/internal/domain"
	"github.com/wms-platform/inventory-sync/pkg/logging"
)

type fakeAdminClient struct {
	mu        sync.Mutex
	catalogs  map[string][]domain.Variant
	levels    map[string][]domain.InventoryLevel
	listErr   map[string]error
	levelsErr map[string]error
	setErr    map[string]error
	onSet     func(store domain.Store)

	listCalls map[string]int
	sets      map[string][]domain.InventoryLevelUpdate
}

func newFakeAdminClient() *fakeAdminClient {
	return &fakeAdminClient{
		catalogs:  map[string][]domain.Variant{},
		levels:    map[string][]domain.InventoryLevel{},
		listErr:   map[string]error{},
		levelsErr: map[string]error{},
		setErr:    map[string]error{},
		listCalls: map[string]int{},
		sets:      map[string][]domain.InventoryLevelUpdate{},
	}
}

func (f *fakeAdminClient) ListVariants(_ context.Context, store domain.Store) ([]domain.Variant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls[store.Identity()]++
	if err := f.listErr[store.Identity()]; err != nil {
		return nil, err
	}
	return f.catalogs[store.Identity()], nil
}

func (f *fakeAdminClient) GetInventoryLevels(_ context.Context, store domain.Store, inventoryItemID int64) ([]domain.InventoryLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.levelsErr[store.Identity()]; err != nil {
		return nil, err
	}
	var out []domain.InventoryLevel
	for _, l := range f.levels[store.Identity()] {
		if l.InventoryItemID == inventoryItemID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeAdminClient) SetInventoryLevel(_ context.Context, store domain.Store, update domain.InventoryLevelUpdate) error {
	if f.onSet != nil {
		f.onSet(store)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.setErr[store.Identity()]; err != nil {
		return err
	}
	f.sets[store.Identity()] = append(f.sets[store.Identity()], update)
	return nil
}

func (f *fakeAdminClient) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.listCalls {
		n += c
	}
	for _, s := range f.sets {
		n += len(s)
	}
	return n
}

type fakeDeliveryRepo struct {
	processed    map[string]*domain.ProcessedDelivery
	isErr        error
	markErr      error
	markAttempts int
}

func (f *fakeDeliveryRepo) IsProcessed(_ context.Context, webhookID string) (bool, error) {
	if f.isErr != nil {
		return false, f.isErr
	}
	_, ok := f.processed[webhookID]
	return ok, nil
}

func (f *fakeDeliveryRepo) MarkProcessed(_ context.Context, d *domain.ProcessedDelivery) error {
	f.markAttempts++
	if f.markErr != nil {
		return f.markErr
	}
	if f.processed == nil {
		f.processed = map[string]*domain.ProcessedDelivery{}
	}
	f.processed[d.WebhookID] = d
	return nil
}

type fakePublisher struct {
	events      []domain.DomainEvent
	err         error
	block       bool
	hadDeadline bool
}

func (f *fakePublisher) Publish(ctx context.Context, event domain.DomainEvent) error {
	f.events = append(f.events, event)
	_, f.hadDeadline = ctx.Deadline()
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.err
}

type fakeSyncMetrics struct {
	mu         sync.Mutex
	outcomes   map[string]string
	durations  int
	duplicates int
	dupSKUs    int
}

func (f *fakeSyncMetrics) RecordSyncOutcome(store, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outcomes == nil {
		f.outcomes = map[string]string{}
	}
	f.outcomes[store] = outcome
}

func (f *fakeSyncMetrics) ObserveSyncDuration(time.Duration) { f.durations++ }
func (f *fakeSyncMetrics) RecordDuplicateDelivery()          { f.duplicates++ }
func (f *fakeSyncMetrics) RecordDuplicateSKU(string)         { f.dupSKUs++ }

const (
	storeA = "store-a.myshopify.com"
	storeB = "store-b.myshopify.com"
	storeC = "store-c.myshopify.com"
)

func syncStores() []domain.Store {
	return []domain.Store{
		{Name: "Store A", Domain: storeA, AdminURL: "https://" + storeA, APIKey: "ka", Password: "pa", LocationID: 1},
		{Name: "Store B", Domain: storeB, AdminURL: "https://" + storeB, APIKey: "kb", Password: "pb", LocationID: 2},
		{Name: "Store C", Domain: storeC, AdminURL: "https://" + storeC, APIKey: "kc", Password: "pc", LocationID: 3},
	}
}

// seedCatalogs puts SKU "X" in every store: A=111, B=222, C=333.
func seedCatalogs(client *fakeAdminClient) {
	client.catalogs[storeA] = []domain.Variant{{ID: 1, InventoryItemID: 110, SKU: "W"}, {ID: 2, InventoryItemID: 111, SKU: "X"}}
	client.catalogs[storeB] = []domain.Variant{{ID: 3, InventoryItemID: 222, SKU: "X"}}
	client.catalogs[storeC] = []domain.Variant{{ID: 4, InventoryItemID: 333, SKU: "X"}}
}

type syncFixture struct {
	client     *fakeAdminClient
	deliveries *fakeDeliveryRepo
	publisher  *fakePublisher
	metrics    *fakeSyncMetrics
	service    *SyncService
}

func newSyncFixture(t *testing.T, config SyncConfig) *syncFixture {
	t.Helper()
	registry, err := domain.NewStoreRegistry(syncStores(), domain.MatchByDomain)
	require.NoError(t, err)

	f := &syncFixture{
		client:     newFakeAdminClient(),
		deliveries: &fakeDeliveryRepo{},
		publisher:  &fakePublisher{},
		metrics:    &fakeSyncMetrics{},
	}
	seedCatalogs(f.client)

	clock := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	resolver := NewInventoryResolver(f.client, f.metrics, logging.Discard())
	f.service = NewSyncService(registry, resolver, f.client, config, logging.Discard(),
		WithDeliveryRepository(f.deliveries),
		WithEventPublisher(f.publisher),
		WithSyncMetrics(f.metrics),
		WithClock(func() time.Time {
			clock = clock.Add(10 * time.Millisecond)
			return clock
		}),
	)
	return f
}

func outcomes(report *domain.SyncReport) map[string]domain.SyncOutcome {
	out := map[string]domain.SyncOutcome{}
	for _, r := range report.Results {
		out[r.Store] = r.Outcome
	}
	return out
}

func TestHandleInventoryChange_UpdatesOtherStores(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})

	report, err := f.service.HandleInventoryChange(context.Background(), SyncInventoryCommand{
		StoreIdentity:   storeA,
		InventoryItemID: 111,
		Available:       5,
		WebhookID:       "hook-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "X", report.SKU)
	assert.True(t, report.SKUResolved)
	assert.False(t, report.Failed())
	require.Len(t, report.Results, 3)
	assert.Equal(t, []string{storeA, storeB, storeC}, []string{report.Results[0].Store, report.Results[1].Store, report.Results[2].Store})
	assert.Equal(t, domain.OutcomeSkippedSelf, report.Results[0].Outcome)
	assert.Equal(t, domain.OutcomeUpdated, report.Results[1].Outcome)
	assert.Equal(t, domain.OutcomeUpdated, report.Results[2].Outcome)

	assert.Equal(t, []domain.InventoryLevelUpdate{{InventoryItemID: 222, LocationID: 2, Available: 5}}, f.client.sets[storeB])
	assert.Equal(t, []domain.InventoryLevelUpdate{{InventoryItemID: 333, LocationID: 3, Available: 5}}, f.client.sets[storeC])
	assert.Empty(t, f.client.sets[storeA])

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, "inventory.sync.completed", f.publisher.events[0].EventType())
	assert.Contains(t, f.deliveries.processed, "hook-1")
	assert.Equal(t, "updated", f.metrics.outcomes[storeB])
	assert.Equal(t, 1, f.metrics.durations)
}

func TestHandleInventoryChange_SkipsStoreAlreadyCurrent(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	f.client.levels[storeB] = []domain.InventoryLevel{
		{InventoryItemID: 222, LocationID: 99, Available: 1},
		{InventoryItemID: 222, LocationID: 2, Available: 5},
	}
	f.client.levels[storeC] = []domain.InventoryLevel{{InventoryItemID: 333, LocationID: 3, Available: 2}}

	report, err := f.service.HandleInventoryChange(context.Background(), SyncInventoryCommand{StoreIdentity: storeA, InventoryItemID: 111, Available: 5})

	require.NoError(t, err)
	got := outcomes(report)
	assert.Equal(t, domain.OutcomeSkippedAlreadyCurrent, got[storeB])
	assert.Equal(t, domain.OutcomeUpdated, got[storeC])
	assert.Empty(t, f.client.sets[storeB])
	require.NotNil(t, report.Results[2].PreviousAvailable)
	assert.Equal(t, 2, *report.Results[2].PreviousAvailable)
}

func TestHandleInventoryChange_WritesWhenOnlyOtherLocationMatches(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	f.client.levels[storeB] = []domain.InventoryLevel{{InventoryItemID: 222, LocationID: 99, Available: 5}}

	report, err := f.service.HandleInventoryChange(context.Background(), SyncInventoryCommand{StoreIdentity: storeA, InventoryItemID: 111, Available: 5})

	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUpdated, outcomes(report)[storeB])
	assert.Nil(t, report.Results[1].PreviousAvailable)
	assert.Equal(t, []domain.InventoryLevelUpdate{{InventoryItemID: 222, LocationID: 2, Available: 5}}, f.client.sets[storeB])
}

func TestHandleInventoryChange_SkipsStoreWithoutSKU(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	f.client.catalogs[storeC] = []domain.Variant{{ID: 9, InventoryItemID: 999, SKU: "OTHER"}}

	report, err := f.service.HandleInventoryChange(context.Background(), SyncInventoryCommand{StoreIdentity: storeA, InventoryItemID: 111, Available: 3})

	require.NoError(t, err)
	got := outcomes(report)
	assert.Equal(t, domain.OutcomeUpdated, got[storeB])
	assert.Equal(t, domain.OutcomeSkippedNotFound, got[storeC])
	assert.Empty(t, f.client.sets[storeC])
}

func TestHandleInventoryChange_UnknownStore(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})

	report, err := f.service.HandleInventoryChange(context.Background(), SyncInventoryCommand{StoreIdentity: "unknown.myshopify.com", InventoryItemID: 111, Available: 5})

	require.ErrorIs(t, err, domain.ErrStoreNotFound)
	assert.Nil(t, report)
	assert.Zero(t, f.client.totalCalls())
	assert.Empty(t, f.publisher.events)
}

func TestHandleInventoryChange_InvalidEvent(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})

	_, err := f.service.HandleInventoryChange(context.Background(), SyncInventoryCommand{StoreIdentity: storeA, InventoryItemID: 111, Available: -1})

	require.ErrorIs(t, err, domain.ErrInvalidEvent)
	assert.Zero(t, f.client.totalCalls())
}

func TestHandleInventoryChange_SKUNotFoundLenient(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})

	report, err := f.service.HandleInventoryChange(context.Background(), SyncInventoryCommand{StoreIdentity: storeA, InventoryItemID: 404, Available: 5})

	require.NoError(t, err)
	assert.False(t, report.SKUResolved)
	assert.Empty(t, report.Results)
	assert.Equal(t, 1, f.client.totalCalls(), "only the triggering catalog is read")
	assert.Empty(t, f.publisher.events)
}

func TestHandleInventoryChange_SKUNotFoundStrict(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{StrictSKU: true})

	report, err := f.service.HandleInventoryChange(context.Background(), SyncInventoryCommand{StoreIdentity: storeA, InventoryItemID: 404, Available: 5})

	require.ErrorIs(t, err, domain.ErrSKUNotFound)
	require.NotNil(t, report)
	assert.False(t, report.SKUResolved)
}

func TestHandleInventoryChange_EmptySKUNeverMatches(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	f.client.catalogs[storeA] = []domain.Variant{{ID: 1, InventoryItemID: 111, SKU: ""}}

	report, err := f.service.HandleInventoryChange(context.Background(), SyncInventoryCommand{StoreIdentity: storeA, InventoryItemID: 111, Available: 5})

	require.NoError(t, err)
	assert.False(t, report.SKUResolved)
}

func TestHandleInventoryChange_TriggerCatalogFailure(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	f.client.listErr[storeA] = errors.New("store unavailable")

	_, err := f.service.HandleInventoryChange(context.Background(), SyncInventoryCommand{StoreIdentity: storeA, InventoryItemID: 111, Available: 5})

	require.ErrorContains(t, err, "store unavailable")
	assert.Empty(t, f.client.sets)
}

func TestHandleInventoryChange_PartialFailureContinues(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	f.client.setErr[storeB] = errors.New("rate limited")

	report, err := f.service.HandleInventoryChange(context.Background(), SyncInventoryCommand{
		StoreIdentity:   storeA,
		InventoryItemID: 111,
		Available:       5,
		WebhookID:       "hook-2",
	})

	require.NoError(t, err)
	assert.True(t, report.Failed())
	assert.Equal(t, []string{storeB}, report.FailedStores())
	assert.EqualError(t, report.Results[1].Err, "rate limited")
	assert.Equal(t, domain.OutcomeUpdated, report.Results[2].Outcome)

	assert.NotContains(t, f.deliveries.processed, "hook-2", "failed syncs stay retryable")
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, "inventory.sync.partial", f.publisher.events[0].EventType())
}

func TestHandleInventoryChange_ResolverFailureOnTargetIsPerStore(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	f.client.levelsErr[storeC] = errors.New("timeout")

	report, err := f.service.HandleInventoryChange(context.Background(), SyncInventoryCommand{StoreIdentity: storeA, InventoryItemID: 111, Available: 5})

	require.NoError(t, err)
	got := outcomes(report)
	assert.Equal(t, domain.OutcomeUpdated, got[storeB])
	assert.Equal(t, domain.OutcomeFailed, got[storeC])
}

func TestHandleInventoryChange_DuplicateDelivery(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	f.deliveries.processed = map[string]*domain.ProcessedDelivery{"hook-3": {WebhookID: "hook-3"}}

	report, err := f.service.HandleInventoryChange(context.Background(), SyncInventoryCommand{
		StoreIdentity:   storeA,
		InventoryItemID: 111,
		Available:       5,
		WebhookID:       "hook-3",
	})

	require.NoError(t, err)
	assert.True(t, report.Duplicate)
	assert.Zero(t, f.client.totalCalls())
	assert.Equal(t, 1, f.metrics.duplicates)
}

func TestHandleInventoryChange_DedupLookupFailureSyncsAnyway(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	f.deliveries.isErr = errors.New("mongo down")
	f.deliveries.markErr = errors.New("mongo down")

	report, err := f.service.HandleInventoryChange(context.Background(), SyncInventoryCommand{
		StoreIdentity:   storeA,
		InventoryItemID: 111,
		Available:       5,
		WebhookID:       "hook-4",
	})

	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(domain.OutcomeUpdated))
	assert.Equal(t, 1, f.deliveries.markAttempts)
}

func TestHandleInventoryChange_PublishFailureIsIgnored(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	f.publisher.err = errors.New("broker down")

	report, err := f.service.HandleInventoryChange(context.Background(), SyncInventoryCommand{StoreIdentity: storeA, InventoryItemID: 111, Available: 5})

	require.NoError(t, err)
	assert.False(t, report.Failed())
}

func TestHandleInventoryChange_PublishIsBounded(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{PublishTimeout: 20 * time.Millisecond})
	f.publisher.block = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	start := time.Now()
	report, err := f.service.HandleInventoryChange(ctx, SyncInventoryCommand{StoreIdentity: storeA, InventoryItemID: 111, Available: 5})

	require.NoError(t, err)
	assert.False(t, report.Failed())
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, f.publisher.events, 1)
	assert.True(t, f.publisher.hadDeadline)
}

func TestHandleInventoryChange_SecondDeliveryIsNoOp(t *testing.T) {
	f := newSyncFixture(t, SyncConfig{})
	// Stores reflect the first write so the second run sees current levels.
	f.client.onSet = func(store domain.Store) {
		f.client.mu.Lock()
		defer f.client.mu.Unlock()
		id := map[string]int64{storeB: 222, storeC: 333}[store.Identity()]
		f.client.levels[store.Identity()] = []domain.InventoryLevel{{InventoryItemID: id, LocationID: store.LocationID, Available: 5}}
	}
	cmd := SyncInventoryCommand{StoreIdentity: storeA, InventoryItemID: 111, Available: 5}

	_, err := f.service.HandleInventoryChange(context.Background(), cmd)
	require.NoError(t, err)
	report, err := f.service.HandleInventoryChange(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Count(domain.OutcomeSkippedAlreadyCurrent))
	assert.Len(t, f.client.sets[storeB], 1)
	assert.Equal(t, "inventory.sync.skipped", f.publisher.events[1].EventType())
}

func TestHandleInventoryChange_ConcurrentKeepsRegistryOrder(t *testing.T) {
	registry, err := domain.NewStoreRegistry(append(syncStores(),
		domain.Store{Name: "Store D", Domain: "store-d.myshopify.com", AdminURL: "https://d", LocationID: 4},
		domain.Store{Name: "Store E", Domain: "store-e.myshopify.com", AdminURL: "https://e", LocationID: 5},
	), domain.MatchByDomain)
	require.NoError(t, err)

	client := newFakeAdminClient()
	seedCatalogs(client)
	client.catalogs["store-d.myshopify.com"] = []domain.Variant{{InventoryItemID: 444, SKU: "X"}}
	client.catalogs["store-e.myshopify.com"] = []domain.Variant{{InventoryItemID: 555, SKU: "X"}}
	client.setErr[storeC] = errors.New("boom")
	client.onSet = func(store domain.Store) {
		// Early stores finish last.
		time.Sleep(time.Duration(6-store.LocationID) * 5 * time.Millisecond)
	}

	service := NewSyncService(registry, NewInventoryResolver(client, nil, logging.Discard()), client,
		SyncConfig{Concurrency: 4}, logging.Discard())

	report, err := service.HandleInventoryChange(context.Background(), SyncInventoryCommand{StoreIdentity: storeB, InventoryItemID: 222, Available: 7})

	require.NoError(t, err)
	var order []string
	for _, r := range report.Results {
		order = append(order, r.Store)
	}
	assert.Equal(t, []string{storeA, storeB, storeC, "store-d.myshopify.com", "store-e.myshopify.com"}, order)
	assert.Equal(t, domain.OutcomeSkippedSelf, report.Results[1].Outcome)
	assert.Equal(t, domain.OutcomeFailed, report.Results[2].Outcome)
	assert.Equal(t, 3, report.Count(domain.OutcomeUpdated))
}

func TestHandleInventoryChange_NameMatchMode(t *testing.T) {
	registry, err := domain.NewStoreRegistry(syncStores(), domain.MatchByName)
	require.NoError(t, err)
	client := newFakeAdminClient()
	seedCatalogs(client)
	service := NewSyncService(registry, NewInventoryResolver(client, nil, logging.Discard()), client, SyncConfig{}, logging.Discard())

	report, err := service.HandleInventoryChange(context.Background(), SyncInventoryCommand{StoreIdentity: "the store c outlet", InventoryItemID: 333, Available: 1})

	require.NoError(t, err)
	assert.Equal(t, storeC, report.Store.Identity())
	assert.Equal(t, domain.OutcomeSkippedSelf, report.Results[2].Outcome)
}

func TestToSyncReportDTO(t *testing.T) {
	prev := 3
	start := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	dto := ToSyncReportDTO(&domain.SyncReport{
		Store:           syncStores()[0],
		InventoryItemID: 111,
		Available:       5,
		SKU:             "X",
		Results: []domain.StoreSyncResult{
			{Store: storeA, Outcome: domain.OutcomeSkippedSelf},
			{Store: storeB, Outcome: domain.OutcomeUpdated, InventoryItemID: 222, PreviousAvailable: &prev},
			{Store: storeC, Outcome: domain.OutcomeFailed, Err: errors.New("boom")},
		},
		StartedAt:  start,
		FinishedAt: start.Add(250 * time.Millisecond),
	})

	assert.Equal(t, storeA, dto.Store)
	assert.Equal(t, int64(250), dto.DurationMs)
	require.Len(t, dto.Results, 3)
	assert.Equal(t, "skipped-self", dto.Results[0].Outcome)
	assert.Equal(t, 3, *dto.Results[1].PreviousAvailable)
	assert.Equal(t, "boom", dto.Results[2].Error)
	assert.Nil(t, ToSyncReportDTO(nil))
}
