package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wms-platform/inventory-sync/internal/domain"
	"github.com/wms-platform/inventory-sync/pkg/logging"
)

const (
	deliveriesCollection = "processed_deliveries"
	// DefaultDeliveryRetention bounds how long a delivery id is remembered.
	DefaultDeliveryRetention = 7 * 24 * time.Hour
)

// Metrics records repository operations.
type Metrics interface {
	RecordMongoDBOperation(collection, operation string, success bool, duration time.Duration)
}

type deliveryDocument struct {
	WebhookID       string    `bson:"webhookId"`
	Store           string    `bson:"store"`
	InventoryItemID int64     `bson:"inventoryItemId"`
	Available       int       `bson:"available"`
	SKU             string    `bson:"sku,omitempty"`
	ProcessedAt     time.Time `bson:"processedAt"`
}

// DeliveryRepository implements domain.DeliveryRepository on MongoDB.
type DeliveryRepository struct {
	collection *mongo.Collection
	metrics    Metrics
	logger     *logging.Logger
}

// NewDeliveryRepository creates the repository and its indexes. metrics may be nil.
func NewDeliveryRepository(ctx context.Context, db *mongo.Database, retention time.Duration, metrics Metrics, logger *logging.Logger) (*DeliveryRepository, error) {
	repo := &DeliveryRepository{
		collection: db.Collection(deliveriesCollection),
		metrics:    metrics,
		logger:     logger.WithComponent("delivery-repository"),
	}
	if err := repo.ensureIndexes(ctx, retention); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *DeliveryRepository) ensureIndexes(ctx context.Context, retention time.Duration) error {
	if retention <= 0 {
		retention = DefaultDeliveryRetention
	}
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "webhookId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("idx_webhookId_unique"),
		},
		{
			Keys: bson.D{{Key: "processedAt", Value: 1}},
			Options: options.Index().
				SetName("idx_processedAt_ttl").
				SetExpireAfterSeconds(int32(retention.Seconds())),
		},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create delivery indexes: %w", err)
	}
	return nil
}

// IsProcessed reports whether webhookID has been recorded.
func (r *DeliveryRepository) IsProcessed(ctx context.Context, webhookID string) (bool, error) {
	start := time.Now()
	err := r.collection.FindOne(ctx, bson.M{"webhookId": webhookID}).Err()
	found := err == nil
	if errors.Is(err, mongo.ErrNoDocuments) {
		err = nil
	}
	r.record(ctx, "find", err == nil, start)
	if err != nil {
		return false, fmt.Errorf("failed to look up delivery %s: %w", webhookID, err)
	}
	return found, nil
}

// MarkProcessed records a delivery. Recording the same id twice returns
// domain.ErrDeliveryAlreadyProcessed.
func (r *DeliveryRepository) MarkProcessed(ctx context.Context, delivery *domain.ProcessedDelivery) error {
	processedAt := delivery.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now()
	}
	doc := deliveryDocument{
		WebhookID:       delivery.WebhookID,
		Store:           delivery.Store,
		InventoryItemID: delivery.InventoryItemID,
		Available:       delivery.Available,
		SKU:             delivery.SKU,
		ProcessedAt:     processedAt.UTC(),
	}

	start := time.Now()
	_, err := r.collection.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		r.record(ctx, "insert", true, start)
		return fmt.Errorf("%w: %s", domain.ErrDeliveryAlreadyProcessed, delivery.WebhookID)
	}
	r.record(ctx, "insert", err == nil, start)
	if err != nil {
		return fmt.Errorf("failed to record delivery %s: %w", delivery.WebhookID, err)
	}
	return nil
}

func (r *DeliveryRepository) record(ctx context.Context, operation string, success bool, start time.Time) {
	d := time.Since(start)
	if r.metrics != nil {
		r.metrics.RecordMongoDBOperation(deliveriesCollection, operation, success, d)
	}
	r.logger.DatabaseQuery(ctx, deliveriesCollection, operation, d, success)
}
