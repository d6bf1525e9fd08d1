package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the sync service exports.
type Metrics struct {
	serviceName string
	registry    *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Store admin API metrics
	StoreAPICalls        *prometheus.CounterVec
	StoreAPIDuration     *prometheus.HistogramVec
	StoreAPIRateLimited  *prometheus.CounterVec
	StoreAPICatalogPages *prometheus.CounterVec

	// Sync metrics
	WebhooksReceived  *prometheus.CounterVec
	SyncOutcomes      *prometheus.CounterVec
	SyncDuration      prometheus.Histogram
	DuplicateSKUs     *prometheus.CounterVec
	DuplicateDelivery prometheus.Counter

	// Kafka metrics
	KafkaEventsPublished *prometheus.CounterVec
	KafkaPublishDuration *prometheus.HistogramVec

	// MongoDB metrics
	MongoDBOperations        *prometheus.CounterVec
	MongoDBOperationDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	ServiceName string
	Namespace   string
}

// DefaultConfig returns default metrics configuration
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Namespace:   "inventory_sync",
	}
}

// New creates a new Metrics instance on its own registry.
func New(config *Config) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	ns := config.Namespace
	m := &Metrics{
		serviceName: config.ServiceName,
		registry:    registry,
	}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total", Help: "Total number of HTTP requests"},
		[]string{"service", "method", "path", "status"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"service", "method", "path"},
	)
	m.HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   ns,
			Name:        "http_requests_in_flight",
			Help:        "Number of HTTP requests currently being processed",
			ConstLabels: prometheus.Labels{"service": config.ServiceName},
		},
	)

	m.StoreAPICalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "store_api_calls_total", Help: "Outbound store admin API calls by status class"},
		[]string{"service", "store", "operation", "status"},
	)
	m.StoreAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "store_api_call_duration_seconds",
			Help:      "Outbound store admin API call duration, retries included",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"service", "store", "operation"},
	)
	m.StoreAPIRateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "store_api_rate_limited_total", Help: "429 responses received from store admin APIs"},
		[]string{"service", "store"},
	)
	m.StoreAPICatalogPages = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "store_catalog_pages_total", Help: "Variant catalog pages fetched"},
		[]string{"service", "store"},
	)

	m.WebhooksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "webhooks_received_total", Help: "Inventory webhooks received by response status"},
		[]string{"service", "status"},
	)
	m.SyncOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "store_sync_outcomes_total", Help: "Per-target-store sync outcomes"},
		[]string{"service", "store", "outcome"},
	)
	m.SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   ns,
			Name:        "sync_duration_seconds",
			Help:        "End-to-end duration of one inventory sync",
			Buckets:     []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			ConstLabels: prometheus.Labels{"service": config.ServiceName},
		},
	)
	m.DuplicateSKUs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "duplicate_sku_total", Help: "Catalog scans that found more than one variant for a SKU"},
		[]string{"service", "store"},
	)
	m.DuplicateDelivery = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   ns,
			Name:        "duplicate_deliveries_total",
			Help:        "Webhook deliveries skipped because they were already processed",
			ConstLabels: prometheus.Labels{"service": config.ServiceName},
		},
	)

	m.KafkaEventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "kafka_events_published_total", Help: "Total number of Kafka events published"},
		[]string{"service", "topic", "event_type", "status"},
	)
	m.KafkaPublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "kafka_publish_duration_seconds",
			Help:      "Kafka publish duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"service", "topic"},
	)

	m.MongoDBOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "mongodb_operations_total", Help: "Total number of MongoDB operations"},
		[]string{"service", "collection", "operation", "status"},
	)
	m.MongoDBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "mongodb_operation_duration_seconds",
			Help:      "MongoDB operation duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"service", "collection", "operation"},
	)

	m.CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: ns, Name: "circuit_breaker_state", Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)"},
		[]string{"service", "name"},
	)
	m.CircuitBreakerTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: ns, Name: "circuit_breaker_trips_total", Help: "Total number of circuit breaker trips"},
		[]string{"service", "name"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.StoreAPICalls,
		m.StoreAPIDuration,
		m.StoreAPIRateLimited,
		m.StoreAPICatalogPages,
		m.WebhooksReceived,
		m.SyncOutcomes,
		m.SyncDuration,
		m.DuplicateSKUs,
		m.DuplicateDelivery,
		m.KafkaEventsPublished,
		m.KafkaPublishDuration,
		m.MongoDBOperations,
		m.MongoDBOperationDuration,
		m.CircuitBreakerState,
		m.CircuitBreakerTrips,
	)

	return m
}

// Handler returns an HTTP handler for metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(m.serviceName, method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(m.serviceName, method, path).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments in-flight requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements in-flight requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.HTTPRequestsInFlight.Dec()
}

// RecordStoreAPICall records one logical store API call. statusCode 0 means
// the call never produced a response.
func (m *Metrics) RecordStoreAPICall(store, operation string, statusCode int, duration time.Duration) {
	class := "error"
	if statusCode > 0 {
		class = strconv.Itoa(statusCode/100) + "xx"
	}
	m.StoreAPICalls.WithLabelValues(m.serviceName, store, operation, class).Inc()
	m.StoreAPIDuration.WithLabelValues(m.serviceName, store, operation).Observe(duration.Seconds())
}

// RecordRateLimited records a 429 from a store.
func (m *Metrics) RecordRateLimited(store string) {
	m.StoreAPIRateLimited.WithLabelValues(m.serviceName, store).Inc()
}

// RecordCatalogPage records one fetched catalog page.
func (m *Metrics) RecordCatalogPage(store string) {
	m.StoreAPICatalogPages.WithLabelValues(m.serviceName, store).Inc()
}

// RecordWebhook records a handled webhook by response status.
func (m *Metrics) RecordWebhook(statusCode int) {
	m.WebhooksReceived.WithLabelValues(m.serviceName, strconv.Itoa(statusCode)).Inc()
}

// RecordSyncOutcome records the outcome for one target store.
func (m *Metrics) RecordSyncOutcome(store, outcome string) {
	m.SyncOutcomes.WithLabelValues(m.serviceName, store, outcome).Inc()
}

// ObserveSyncDuration records the duration of one sync.
func (m *Metrics) ObserveSyncDuration(d time.Duration) {
	m.SyncDuration.Observe(d.Seconds())
}

// RecordDuplicateSKU records an ambiguous SKU in a store catalog.
func (m *Metrics) RecordDuplicateSKU(store string) {
	m.DuplicateSKUs.WithLabelValues(m.serviceName, store).Inc()
}

// RecordDuplicateDelivery records a webhook skipped by delivery dedup.
func (m *Metrics) RecordDuplicateDelivery() {
	m.DuplicateDelivery.Inc()
}

// RecordKafkaPublish records a Kafka publish event
func (m *Metrics) RecordKafkaPublish(topic, eventType string, success bool, duration time.Duration) {
	m.KafkaEventsPublished.WithLabelValues(m.serviceName, topic, eventType, status(success)).Inc()
	m.KafkaPublishDuration.WithLabelValues(m.serviceName, topic).Observe(duration.Seconds())
}

// RecordMongoDBOperation records a MongoDB operation
func (m *Metrics) RecordMongoDBOperation(collection, operation string, success bool, duration time.Duration) {
	m.MongoDBOperations.WithLabelValues(m.serviceName, collection, operation, status(success)).Inc()
	m.MongoDBOperationDuration.WithLabelValues(m.serviceName, collection, operation).Observe(duration.Seconds())
}

// SetCircuitBreakerState sets the circuit breaker state
func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	m.CircuitBreakerState.WithLabelValues(m.serviceName, name).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip
func (m *Metrics) RecordCircuitBreakerTrip(name string) {
	m.CircuitBreakerTrips.WithLabelValues(m.serviceName, name).Inc()
}
