package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/wms-platform/inventory-sync/internal/application"
	"github.com/wms-platform/inventory-sync/internal/domain"
	"github.com/wms-platform/inventory-sync/pkg/contracts/webhook"
	apperrors "github.com/wms-platform/inventory-sync/pkg/errors"
	"github.com/wms-platform/inventory-sync/pkg/logging"
	"github.com/wms-platform/inventory-sync/pkg/middleware"
)

// Headers set by the webhook sender.
const (
	HeaderShopDomain = "X-Shopify-Shop-Domain"
	HeaderWebhookID  = "X-Shopify-Webhook-Id"
	HeaderTopic      = "X-Shopify-Topic"
)

// Response messages
const (
	MessageNoBody          = "Bad request: no body"
	MessageInvalidJSON     = "Invalid JSON"
	MessageInvalidPayload  = "Invalid payload"
	MessagePayloadTooLarge = "Payload too large"
	MessageSynced          = "Inventory synced successfully (excluding triggering store)"
	MessageSKUNotFound     = "SKU not found"
	MessageDuplicate       = "Duplicate delivery"
	MessageSyncError       = "Error syncing inventory"
)

// InventorySyncer runs one inventory sync. *application.SyncService
// satisfies it.
type InventorySyncer interface {
	HandleInventoryChange(ctx context.Context, cmd application.SyncInventoryCommand) (*domain.SyncReport, error)
}

// WebhookMetrics records webhook outcomes
type WebhookMetrics interface {
	RecordWebhook(statusCode int)
}

// WebhookResponse is the body of every webhook reply that carries a report.
type WebhookResponse struct {
	Message    string                       `json:"message"`
	Code       string                       `json:"code,omitempty"`
	Store      string                       `json:"store,omitempty"`
	SKU        string                       `json:"sku,omitempty"`
	Results    []application.StoreResultDTO `json:"results,omitempty"`
	DurationMs int64                        `json:"durationMs,omitempty"`
}

type inventoryLevelPayload struct {
	InventoryItemID int64 `json:"inventory_item_id"`
	Available       int   `json:"available"`
}

// WebhookHandler receives inventory level webhooks
type WebhookHandler struct {
	syncer    InventorySyncer
	validator *webhook.Validator
	logger    *logging.Logger
	metrics   WebhookMetrics
}

// NewWebhookHandler creates a new webhook handler. metrics may be nil.
func NewWebhookHandler(syncer InventorySyncer, validator *webhook.Validator, logger *logging.Logger, metrics WebhookMetrics) *WebhookHandler {
	return &WebhookHandler{
		syncer:    syncer,
		validator: validator,
		logger:    logger.WithComponent("webhook"),
		metrics:   metrics,
	}
}

// RegisterRoutes registers the webhook routes
func (h *WebhookHandler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/webhooks/inventory", h.HandleInventoryWebhook)
}

// HandleInventoryWebhook handles POST /webhooks/inventory
func (h *WebhookHandler) HandleInventoryWebhook(c *gin.Context) {
	shopDomain := c.GetHeader(HeaderShopDomain)
	webhookID := c.GetHeader(HeaderWebhookID)
	topic := c.GetHeader(HeaderTopic)

	ctx := c.Request.Context()
	if webhookID != "" {
		ctx = logging.ContextWithWebhookID(ctx, webhookID)
	}
	logger := h.logger.WithContext(ctx).WithFields(map[string]any{
		"shopDomain": shopDomain,
		"topic":      topic,
	})

	middleware.AddSpanAttributes(c, map[string]interface{}{
		"webhook.shop_domain": shopDomain,
		"webhook.topic":       topic,
		"webhook.id":          webhookID,
		"operation":           "sync_inventory",
	})

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(c, logger, apperrors.NewAppError(apperrors.CodeBadRequest, MessagePayloadTooLarge, http.StatusRequestEntityTooLarge).Wrap(err))
			return
		}
		h.fail(c, logger, apperrors.ErrBadRequest(MessageNoBody).Wrap(err))
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		h.fail(c, logger, apperrors.ErrBadRequest(MessageNoBody))
		return
	}

	if err := h.validator.Validate(body); err != nil {
		var verr *webhook.ValidationError
		switch {
		case errors.As(err, &verr):
			h.fail(c, logger, apperrors.ErrValidation(MessageInvalidPayload+": "+strings.Join(verr.Violations, "; ")).Wrap(err))
		default:
			h.fail(c, logger, apperrors.ErrBadRequest(MessageInvalidJSON).Wrap(err))
		}
		return
	}

	var payload inventoryLevelPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.fail(c, logger, apperrors.ErrBadRequest(MessageInvalidJSON).Wrap(err))
		return
	}

	report, err := h.syncer.HandleInventoryChange(ctx, application.SyncInventoryCommand{
		StoreIdentity:   shopDomain,
		InventoryItemID: payload.InventoryItemID,
		Available:       payload.Available,
		WebhookID:       webhookID,
		Topic:           topic,
		CorrelationID:   middleware.GetCorrelationID(c),
	})
	if err != nil {
		h.fail(c, logger, toAppError(err, shopDomain))
		return
	}

	switch {
	case report.Duplicate:
		h.respond(c, http.StatusOK, WebhookResponse{Message: MessageDuplicate, Store: report.Store.Identity()})
	case !report.SKUResolved:
		h.respond(c, http.StatusOK, WebhookResponse{Message: MessageSKUNotFound, Store: report.Store.Identity()})
	case report.Failed():
		logger.Error("Inventory sync failed for some stores", "failedStores", report.FailedStores())
		syncErr := apperrors.ErrSyncFailed(report.FailedStores())
		middleware.SetSpanError(c, syncErr)
		h.respond(c, syncErr.HTTPStatus, reportResponse(syncErr.Message, syncErr.Code, report))
	default:
		h.respond(c, http.StatusOK, reportResponse(MessageSynced, "", report))
	}
}

func reportResponse(message, code string, report *domain.SyncReport) WebhookResponse {
	dto := application.ToSyncReportDTO(report)
	return WebhookResponse{
		Message:    message,
		Code:       code,
		Store:      dto.Store,
		SKU:        dto.SKU,
		Results:    dto.Results,
		DurationMs: dto.DurationMs,
	}
}

func toAppError(err error, shopDomain string) *apperrors.AppError {
	switch {
	case errors.Is(err, domain.ErrStoreNotFound):
		return apperrors.ErrStoreNotFound(shopDomain).Wrap(err)
	case errors.Is(err, domain.ErrSKUNotFound):
		return apperrors.ErrSKUNotFound().Wrap(err)
	case errors.Is(err, domain.ErrInvalidEvent):
		return apperrors.ErrValidation(MessageInvalidPayload + ": " + err.Error()).Wrap(err)
	default:
		return apperrors.ErrInternal(MessageSyncError).Wrap(err)
	}
}

func (h *WebhookHandler) respond(c *gin.Context, status int, body WebhookResponse) {
	if h.metrics != nil {
		h.metrics.RecordWebhook(status)
	}
	c.JSON(status, body)
}

func (h *WebhookHandler) fail(c *gin.Context, logger *logging.Logger, appErr *apperrors.AppError) {
	if h.metrics != nil {
		h.metrics.RecordWebhook(appErr.HTTPStatus)
	}
	l := logger
	if appErr.Err != nil {
		l = l.WithError(appErr.Err)
	}
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		middleware.SetSpanError(c, appErr)
		l.Error("Webhook rejected", "code", appErr.Code, "status", appErr.HTTPStatus)
	} else {
		l.Warn("Webhook rejected", "code", appErr.Code, "status", appErr.HTTPStatus)
	}
	middleware.AbortWithAppError(c, appErr)
}
