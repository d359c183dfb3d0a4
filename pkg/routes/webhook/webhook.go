// Package webhook receives push notifications from the workspace and
// dispatches them to the sync engine. The endpoint answers 2xx for every
// outcome except a signature failure: persistent non-2xx responses cause
// the source to disable delivery.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/expressions"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Event types delivered by the workspace.
const (
	EventCreated           = "created"
	EventUpdated           = "updated"
	EventContentUpdated    = "contentUpdated"
	EventPropertiesUpdated = "propertiesUpdated"
	EventDeleted           = "deleted"
	EventPing              = "ping"
	EventVerification      = "verification"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Workspace-Signature"

var eventTypeExpressions = []string{"type", "event_type"}

// recordIDExpressions maps each event type to the fields that may carry the
// record id. Creation and update events carry it on the record itself;
// content, property and deletion events nest it under entity. The asymmetry
// is the source API's, not ours.
var recordIDExpressions = map[string][]string{
	EventCreated:           {"record.id", "record_id"},
	EventUpdated:           {"record.id", "record_id"},
	EventContentUpdated:    {"entity.id", "record_id"},
	EventPropertiesUpdated: {"entity.id", "record_id"},
	EventDeleted:           {"entity.id", "record_id"},
}

var collectionIDExpressions = []string{
	"record.parent.collection_id",
	"data.parent.id",
	"collection_id",
}

// Dispatcher is the engine surface webhook events are routed to.
type Dispatcher interface {
	UpsertOne(ctx context.Context, recordID string) (*models.TenantEntity, bool, error)
	Remove(ctx context.Context, recordID string) error
}

// RecordResolver probes the source when an event omits its collection.
type RecordResolver interface {
	GetAnyRecord(ctx context.Context, id string) (*models.SourceRecord, error)
}

// Config holds webhook handler configuration
type Config struct {
	// Secret signs payloads. Empty disables verification.
	Secret string

	// CollectionID is the source collection this deployment syncs. Events
	// for other collections are acknowledged and dropped.
	CollectionID string
}

// Response is the acknowledgement body returned to the source.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Handler handles workspace webhook deliveries
type Handler struct {
	cfg        Config
	dispatcher Dispatcher
	source     RecordResolver
	evaluator  *expressions.Evaluator
	logger     ectologger.Logger
}

// NewHandler creates a new webhook handler
func NewHandler(cfg Config, dispatcher Dispatcher, source RecordResolver, evaluator *expressions.Evaluator, logger ectologger.Logger) *Handler {
	return &Handler{
		cfg:        cfg,
		dispatcher: dispatcher,
		source:     source,
		evaluator:  evaluator,
		logger:     logger,
	}
}

// RegisterRoutes registers the webhook routes
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/webhooks/workspace", h.Receive)
}

// Receive handles POST /webhooks/workspace
func (h *Handler) Receive(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "webhook_handler.Receive")
	defer span.End()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	if h.cfg.Secret != "" {
		if !h.verifySignature(body, c.Request().Header.Get(SignatureHeader)) {
			metrics.RecordWebhookEvent("unknown", "unauthorized")
			return httperror.NewHTTPError(http.StatusUnauthorized, "invalid webhook signature")
		}
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.WithContext(ctx).WithError(err).Warn("discarding malformed webhook payload")
		metrics.RecordWebhookEvent("unknown", "invalid")
		return c.JSON(http.StatusOK, Response{Success: true, Message: "ignored"})
	}

	if token, ok := payload["verification_token"].(string); ok && token != "" {
		metrics.RecordWebhookEvent(EventVerification, "acknowledged")
		return c.JSON(http.StatusOK, map[string]string{"verification_token": token})
	}

	eventType, _ := h.evaluator.EvaluateFirstString(eventTypeExpressions, payload)
	if eventType == EventPing {
		metrics.RecordWebhookEvent(EventPing, "acknowledged")
		return c.JSON(http.StatusOK, Response{Success: true, Message: "pong"})
	}

	exprs, known := recordIDExpressions[eventType]
	if !known {
		h.logger.WithContext(ctx).WithFields(map[string]any{
			"event_type": eventType,
		}).Debug("ignoring unsupported webhook event type")
		metrics.RecordWebhookEvent(eventType, "ignored")
		return c.JSON(http.StatusOK, Response{Success: true, Message: "ignored"})
	}

	recordID, err := h.evaluator.EvaluateFirstString(exprs, payload)
	if err != nil || recordID == "" {
		h.logger.WithContext(ctx).WithFields(map[string]any{
			"event_type": eventType,
		}).Warn("webhook payload carries no record id")
		metrics.RecordWebhookEvent(eventType, "invalid")
		return c.JSON(http.StatusOK, Response{Success: true, Message: "ignored"})
	}

	if !h.belongsToCollection(ctx, payload, recordID) {
		h.logger.WithContext(ctx).WithFields(map[string]any{
			"event_type": eventType,
			"record_id":  recordID,
		}).Debug("ignoring event for another collection")
		metrics.RecordWebhookEvent(eventType, "ignored")
		return c.JSON(http.StatusOK, Response{Success: true, Message: "ignored"})
	}

	return h.dispatch(ctx, c, eventType, recordID)
}

// belongsToCollection filters events to the configured collection. A payload
// without a collection triggers one source lookup; if even that fails the
// event is processed rather than silently dropped.
func (h *Handler) belongsToCollection(ctx context.Context, payload map[string]any, recordID string) bool {
	collectionID, err := h.evaluator.EvaluateFirstString(collectionIDExpressions, payload)
	if err == nil && collectionID != "" {
		return collectionID == h.cfg.CollectionID
	}

	record, err := h.source.GetAnyRecord(ctx, recordID)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"record_id": recordID,
		}).Warn("could not resolve event collection, processing anyway")
		return true
	}
	return record.CollectionID() == "" || record.CollectionID() == h.cfg.CollectionID
}

func (h *Handler) dispatch(ctx context.Context, c echo.Context, eventType, recordID string) error {
	log := h.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type": eventType,
		"record_id":  recordID,
	})

	if eventType == EventDeleted {
		if err := h.dispatcher.Remove(ctx, recordID); err != nil {
			log.WithError(err).Error("failed to process webhook deletion")
			metrics.RecordWebhookEvent(eventType, "error")
			return c.JSON(http.StatusOK, Response{Success: false, Message: "processing failed"})
		}
		log.Info("Processed webhook deletion")
		metrics.RecordWebhookEvent(eventType, "deleted")
		return c.JSON(http.StatusOK, Response{Success: true, Message: "deleted"})
	}

	_, created, err := h.dispatcher.UpsertOne(ctx, recordID)
	if err != nil {
		switch httperror.GetStatusCode(err) {
		case http.StatusNotFound:
			// the record vanished between the event and our fetch
			log.Info("webhook record no longer exists")
			metrics.RecordWebhookEvent(eventType, "ignored")
			return c.JSON(http.StatusOK, Response{Success: true, Message: "ignored"})
		case http.StatusBadRequest:
			log.WithError(err).Warn("webhook record is not usable, skipping")
			metrics.RecordWebhookEvent(eventType, "invalid")
			return c.JSON(http.StatusOK, Response{Success: true, Message: "ignored"})
		}
		log.WithError(err).Error("failed to process webhook upsert")
		metrics.RecordWebhookEvent(eventType, "error")
		return c.JSON(http.StatusOK, Response{Success: false, Message: "processing failed"})
	}

	outcome := "updated"
	if created {
		outcome = "created"
	}
	log.Infof("Processed webhook %s", outcome)
	metrics.RecordWebhookEvent(eventType, outcome)
	return c.JSON(http.StatusOK, Response{Success: true, Message: outcome})
}

func (h *Handler) verifySignature(body []byte, header string) bool {
	provided, err := hex.DecodeString(strings.TrimPrefix(header, "sha256="))
	if err != nil || len(provided) == 0 {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.cfg.Secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}
