package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/wms-platform/inventory-sync/internal/api/handlers"
	"github.com/wms-platform/inventory-sync/internal/application"
	"github.com/wms-platform/inventory-sync/internal/domain"
	"github.com/wms-platform/inventory-sync/internal/infrastructure/adapters"
	"github.com/wms-platform/inventory-sync/internal/infrastructure/events"
	"github.com/wms-platform/inventory-sync/internal/infrastructure/gateway"
	mongoRepo "github.com/wms-platform/inventory-sync/internal/infrastructure/mongodb"
	"github.com/wms-platform/inventory-sync/internal/infrastructure/registry"
	"github.com/wms-platform/inventory-sync/pkg/cloudevents"
	"github.com/wms-platform/inventory-sync/pkg/contracts/webhook"
	"github.com/wms-platform/inventory-sync/pkg/kafka"
	"github.com/wms-platform/inventory-sync/pkg/logging"
	"github.com/wms-platform/inventory-sync/pkg/metrics"
	"github.com/wms-platform/inventory-sync/pkg/middleware"
	"github.com/wms-platform/inventory-sync/pkg/mongodb"
	"github.com/wms-platform/inventory-sync/pkg/resilience"
	"github.com/wms-platform/inventory-sync/pkg/tracing"
)

const defaultServiceName = "inventory-sync"

type mongoClient interface {
	Database() *mongo.Database
	Close(context.Context) error
	HealthCheck(context.Context) error
}

type eventProducer interface {
	kafka.EventPublisher
	Close() error
}

type server interface {
	ListenAndServe() error
	Shutdown(context.Context) error
}

type tracerProvider interface {
	Shutdown(context.Context) error
}

var (
	loadRegistry   func(string, domain.MatchMode) (*domain.StoreRegistry, error) = registry.LoadFile
	newMongoClient func(context.Context, *mongodb.Config) (mongoClient, error)   = func(ctx context.Context, config *mongodb.Config) (mongoClient, error) {
		client, err := mongodb.NewClient(ctx, config)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	newDeliveryRepository func(context.Context, *mongo.Database, *metrics.Metrics, *logging.Logger) (domain.DeliveryRepository, error) = func(ctx context.Context, db *mongo.Database, m *metrics.Metrics, logger *logging.Logger) (domain.DeliveryRepository, error) {
		return mongoRepo.NewDeliveryRepository(ctx, db, mongoRepo.DefaultDeliveryRetention, m, logger)
	}
	newKafkaProducer func(*kafka.Config) eventProducer = func(config *kafka.Config) eventProducer {
		return kafka.NewProducer(config)
	}
	newRouter = func() *gin.Engine {
		return gin.New()
	}
	initializeTracing func(context.Context, *tracing.Config) (tracerProvider, error) = func(ctx context.Context, config *tracing.Config) (tracerProvider, error) {
		return tracing.Initialize(ctx, config)
	}
	newServer func(addr string, handler http.Handler) server = func(addr string, handler http.Handler) server {
		return &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 2 * time.Minute,
		}
	}
)

func main() {
	// optional; real deployments set the environment directly
	_ = godotenv.Load()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	if err := run(context.Background(), quit); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, quit <-chan os.Signal) error {
	serviceName := getEnv("SERVICE_NAME", defaultServiceName)

	logConfig := logging.DefaultConfig(serviceName)
	logConfig.Level = logging.ParseLevel(getEnv("LOG_LEVEL", "info"))
	logger := logging.New(logConfig)
	logger.SetDefault()

	logger.Info("Starting inventory-sync API")

	config, err := loadConfig()
	if err != nil {
		logger.WithError(err).Error("Invalid configuration")
		return err
	}

	// Tracing
	tracingConfig := tracing.DefaultConfig(serviceName)
	tracingConfig.OTLPEndpoint = config.OTLPEndpoint
	tracingConfig.Environment = config.Environment
	tracingConfig.Enabled = config.TracingEnabled

	tp, err := initializeTracing(ctx, tracingConfig)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize tracing")
	} else if tp != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("Failed to shutdown tracer")
			}
		}()
		logger.Info("Tracing initialized", "enabled", tracingConfig.Enabled, "endpoint", tracingConfig.OTLPEndpoint)
	}

	m := metrics.New(metrics.DefaultConfig(serviceName))

	// Store registry
	stores, err := loadRegistry(config.RegistryPath, config.MatchMode)
	if err != nil {
		logger.WithError(err).Error("Failed to load store registry", "path", config.RegistryPath)
		return err
	}
	logger.Info("Store registry loaded", "stores", stores.Len(), "matchMode", stores.Mode())

	// Outbound calls
	breakers := resilience.NewCircuitBreakerRegistry(logger.Logger, gateway.BreakerConfig, func(name string, _, to gobreaker.State) {
		m.SetCircuitBreakerState(name, int(to))
		if to == gobreaker.StateOpen {
			m.RecordCircuitBreakerTrip(name)
		}
	})
	gw := gateway.New(config.Gateway, logger,
		gateway.WithMetrics(m),
		gateway.WithCircuitBreakers(breakers),
	)
	shopify := adapters.NewShopifyAdapter(gw, config.Shopify, m)
	resolver := application.NewInventoryResolver(shopify, m, logger)

	syncOpts := []application.SyncOption{application.WithSyncMetrics(m)}
	readiness := func() error { return nil }

	if config.DedupEnabled {
		client, err := newMongoClient(ctx, config.MongoDB)
		if err != nil {
			logger.WithError(err).Error("Failed to connect to MongoDB")
			return err
		}
		defer client.Close(context.Background())
		logger.Info("Connected to MongoDB", "database", config.MongoDB.Database)

		deliveries, err := newDeliveryRepository(ctx, client.Database(), m, logger)
		if err != nil {
			logger.WithError(err).Error("Failed to prepare delivery repository")
			return err
		}
		syncOpts = append(syncOpts, application.WithDeliveryRepository(deliveries))
		readiness = func() error { return client.HealthCheck(ctx) }
	}

	var producer eventProducer
	if config.KafkaEnabled {
		producer = newKafkaProducer(config.Kafka)
		defer producer.Close()
		logger.Info("Kafka producer initialized", "brokers", config.Kafka.Brokers, "topic", config.KafkaTopic)
	} else {
		logger.Info("Kafka disabled, sync events are dropped")
	}
	syncOpts = append(syncOpts, application.WithEventPublisher(syncEventPublisher(producer, config.KafkaTopic, m, logger)))

	syncService := application.NewSyncService(stores, resolver, shopify, config.Sync, logger, syncOpts...)

	validator, err := webhook.NewInventoryLevelValidator()
	if err != nil {
		logger.WithError(err).Error("Failed to compile webhook schema")
		return err
	}
	webhookHandler := handlers.NewWebhookHandler(syncService, validator, logger, m)

	// HTTP
	router := newRouter()
	middlewareConfig := middleware.DefaultConfig(serviceName, logger.Logger)
	middlewareConfig.MaxBodyBytes = config.MaxBodyBytes
	middleware.Setup(router, middlewareConfig)
	router.Use(middleware.MetricsMiddleware(m))
	router.Use(middleware.SimpleTracingMiddleware(serviceName))

	router.NoRoute(middleware.NoRoute())
	router.NoMethod(middleware.NoMethod())

	router.GET("/health", middleware.HealthCheck(serviceName))
	router.GET("/ready", middleware.ReadinessCheck(serviceName, readiness))
	router.GET("/metrics", middleware.MetricsEndpoint(m))

	webhookHandler.RegisterRoutes(router)
	api := router.Group("/api/v1")
	webhookHandler.RegisterRoutes(api)
	api.GET("/breakers", func(c *gin.Context) {
		c.JSON(http.StatusOK, breakers.Status())
	})

	srv := newServer(config.ServerAddr, router)

	go func() {
		logger.Info("Server started", "addr", config.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Server error")
		}
	}()

	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server stopped")
	return nil
}

// Config holds application configuration
type Config struct {
	ServerAddr   string
	MaxBodyBytes int64

	RegistryPath string
	MatchMode    domain.MatchMode

	Shopify adapters.ShopifyConfig
	Gateway gateway.Config
	Sync    application.SyncConfig

	DedupEnabled bool
	MongoDB      *mongodb.Config

	KafkaEnabled bool
	Kafka        *kafka.Config
	KafkaTopic   string

	TracingEnabled bool
	OTLPEndpoint   string
	Environment    string
}

// syncEventPublisher publishes sync events through producer, or drops them
// when there is no producer.
func syncEventPublisher(producer eventProducer, topic string, m *metrics.Metrics, logger *logging.Logger) domain.EventPublisher {
	if producer == nil {
		return events.NoopPublisher{}
	}
	instrumented := kafka.NewInstrumentedProducer(producer, m, logger)
	return events.NewKafkaPublisher(instrumented, cloudevents.NewEventFactory(cloudevents.SourceInventorySync), topic)
}

func loadConfig() (*Config, error) {
	var errs []string
	intVar := func(key string, def int) int {
		v, err := strconv.Atoi(getEnv(key, strconv.Itoa(def)))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			return def
		}
		return v
	}
	boolVar := func(key string, def bool) bool {
		v, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(def)))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			return def
		}
		return v
	}
	durationVar := func(key string, def time.Duration) time.Duration {
		v, err := time.ParseDuration(getEnv(key, def.String()))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			return def
		}
		return v
	}

	gw := gateway.DefaultConfig()
	gw.MaxAttempts = intVar("GATEWAY_MAX_ATTEMPTS", gw.MaxAttempts)
	gw.RequestTimeout = durationVar("REQUEST_TIMEOUT", gw.RequestTimeout)
	gw.MaxRetryAfter = durationVar("GATEWAY_MAX_RETRY_AFTER", gw.MaxRetryAfter)
	rps, err := strconv.ParseFloat(getEnv("GATEWAY_RATE_PER_SECOND", "2"), 64)
	if err != nil {
		errs = append(errs, fmt.Sprintf("GATEWAY_RATE_PER_SECOND: %v", err))
	} else {
		gw.RatePerSecond = rps
	}

	mode := domain.MatchMode(strings.ToLower(getEnv("STORE_MATCH_MODE", string(domain.MatchByDomain))))
	if !mode.IsValid() {
		errs = append(errs, fmt.Sprintf("STORE_MATCH_MODE: unknown mode %q", mode))
	}

	mongoConfig := mongodb.DefaultConfig()
	mongoConfig.URI = getEnv("MONGODB_URI", mongoConfig.URI)
	mongoConfig.Database = getEnv("MONGODB_DATABASE", mongoConfig.Database)

	kafkaConfig := kafka.DefaultConfig()
	kafkaConfig.Brokers = strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ",")
	kafkaConfig.ClientID = getEnv("SERVICE_NAME", defaultServiceName)

	config := &Config{
		ServerAddr:   getEnv("SERVER_ADDR", ":8080"),
		MaxBodyBytes: int64(intVar("MAX_BODY_BYTES", 1<<20)),
		RegistryPath: getEnv("STORE_REGISTRY_PATH", "config/stores.yaml"),
		MatchMode:    mode,
		Shopify: adapters.ShopifyConfig{
			APIVersion:      getEnv("SHOPIFY_API_VERSION", adapters.DefaultAPIVersion),
			MaxCatalogPages: intVar("CATALOG_MAX_PAGES", 10),
		},
		Gateway: gw,
		Sync: application.SyncConfig{
			Concurrency:    intVar("SYNC_CONCURRENCY", 1),
			StrictSKU:      boolVar("STRICT_SKU_RESOLUTION", false),
			PublishTimeout: durationVar("EVENT_PUBLISH_TIMEOUT", application.DefaultPublishTimeout),
		},
		DedupEnabled:   boolVar("DEDUP_ENABLED", false),
		MongoDB:        mongoConfig,
		KafkaEnabled:   boolVar("KAFKA_ENABLED", false),
		Kafka:          kafkaConfig,
		KafkaTopic:     getEnv("KAFKA_TOPIC", kafka.Topics.InventorySyncEvents),
		TracingEnabled: boolVar("TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		Environment:    getEnv("ENVIRONMENT", "development"),
	}

	if config.Gateway.MaxAttempts < 1 {
		errs = append(errs, "GATEWAY_MAX_ATTEMPTS: must be at least 1")
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
