package v1

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/flexprice/billsync/internal/api/dto"
	"github.com/flexprice/billsync/internal/integration/hubspot"
	"github.com/flexprice/billsync/internal/integration/hubspot/webhook"
	"github.com/flexprice/billsync/internal/logger"
	"github.com/gin-gonic/gin"
)

// HubSpot rejects deliveries whose timestamp is older than five minutes
const maxWebhookAge = 5 * time.Minute

// WebhookHandler receives HubSpot webhook deliveries
type WebhookHandler struct {
	client  hubspot.HubSpotClient
	handler *webhook.Handler
	logger  *logger.Logger
	now     func() time.Time
}

func NewWebhookHandler(
	client hubspot.HubSpotClient,
	handler *webhook.Handler,
	logger *logger.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		client:  client,
		handler: handler,
		logger:  logger,
		now:     time.Now,
	}
}

// @Summary Handle HubSpot webhook events
// @Description Re-syncs the deals named by deal creation and billing property change events
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param X-HubSpot-Signature-v3 header string true "HubSpot webhook signature"
// @Param X-HubSpot-Request-Timestamp header string true "HubSpot request timestamp (ms)"
// @Success 200 {object} dto.WebhookResponse "Webhook received (always returns 200)"
// @Router /webhooks/hubspot [post]
func (h *WebhookHandler) HandleHubSpotWebhook(c *gin.Context) {
	// Always return 200 OK to HubSpot to prevent retries
	// We log errors internally but don't expose them to HubSpot
	defer func() {
		c.JSON(http.StatusOK, dto.WebhookResponse{Message: "Webhook received"})
	}()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Errorw("failed to read request body", "error", err)
		return
	}

	signature := c.GetHeader("X-HubSpot-Signature-v3")
	timestamp := c.GetHeader("X-HubSpot-Request-Timestamp")
	if signature == "" || timestamp == "" {
		h.logger.Errorw("missing HubSpot signature headers",
			"has_signature", signature != "",
			"has_timestamp", timestamp != "")
		return
	}

	sentAt, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		h.logger.Errorw("invalid timestamp format", "timestamp", timestamp, "error", err)
		return
	}
	age := h.now().Sub(time.UnixMilli(sentAt))
	if age > maxWebhookAge {
		h.logger.Warnw("timestamp too old, rejecting webhook",
			"timestamp", sentAt,
			"age_ms", age.Milliseconds())
		return
	}

	// When behind a proxy, the scheme HubSpot called is in X-Forwarded-Proto
	scheme := "http"
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if c.Request.TLS != nil {
		scheme = "https"
	}
	fullURL := scheme + "://" + c.Request.Host + c.Request.URL.String()

	if !h.client.VerifyWebhookSignatureV3(c.Request.Method, fullURL, body, timestamp, signature) {
		h.logger.Errorw("invalid webhook signature - rejecting", "url", fullURL)
		return
	}

	events, err := h.handler.ParseWebhookPayload(body)
	if err != nil {
		return
	}

	result := h.handler.HandleWebhookEvent(c.Request.Context(), events)
	h.logger.Infow("processed HubSpot webhook",
		"events", result.Received,
		"synced", len(result.Synced),
		"failed", len(result.Failed))
}
