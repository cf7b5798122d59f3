package webhook

import (
	"context"
	"strconv"

	"github.com/flexprice/billsync/internal/domain/deal"
	ierr "github.com/flexprice/billsync/internal/errors"
	"github.com/flexprice/billsync/internal/integration/hubspot"
	"github.com/flexprice/billsync/internal/logger"
	"github.com/flexprice/billsync/internal/metrics"
	"github.com/flexprice/billsync/internal/service"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// deal properties whose change can alter the billing schedule of the deal
var billingProperties = map[string]bool{
	deal.PropertyStage:     true,
	deal.PropertyActive:    true,
	deal.PropertyPaused:    true,
	deal.PropertyCancelled: true,
}

// Result summarizes one webhook delivery
type Result struct {
	Received int      `json:"received"`
	Synced   []string `json:"synced,omitempty"`
	Failed   []string `json:"failed,omitempty"`
}

// Handler handles HubSpot webhook events by re-syncing the deals they name
type Handler struct {
	syncSvc service.ContractSyncService
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewHandler creates a new HubSpot webhook handler
func NewHandler(
	syncSvc service.ContractSyncService,
	metrics *metrics.Metrics,
	logger *logger.Logger,
) *Handler {
	return &Handler{
		syncSvc: syncSvc,
		metrics: metrics,
		logger:  logger,
	}
}

// HandleWebhookEvent syncs every deal named by a relevant event, once per
// delivery. A failing deal does not stop the others.
func (h *Handler) HandleWebhookEvent(ctx context.Context, events []hubspot.WebhookEvent) Result {
	result := Result{Received: len(events)}

	var dealIDs []string
	seen := make(map[string]bool)
	for _, event := range events {
		handled := relevant(event)
		h.metrics.RecordWebhookEvent(event.SubscriptionType, handled)
		if !handled {
			h.logger.Debugw("skipping HubSpot webhook event",
				"subscription_type", event.SubscriptionType,
				"object_id", event.ObjectID,
				"property_name", event.PropertyName)
			continue
		}

		dealID := strconv.FormatInt(event.ObjectID, 10)
		if seen[dealID] {
			continue
		}
		seen[dealID] = true
		dealIDs = append(dealIDs, dealID)
	}

	for _, dealID := range dealIDs {
		h.logger.Infow("handling deal event", "deal_id", dealID)

		res, err := h.syncSvc.SyncDeal(ctx, dealID, service.SyncOptions{})
		if err != nil {
			h.logger.Errorw("failed to sync deal from webhook",
				"error", err,
				"deal_id", dealID)
			// Continue processing other deals even if one fails
			result.Failed = append(result.Failed, dealID)
			continue
		}

		h.logger.Infow("successfully synced deal from webhook",
			"deal_id", dealID,
			"run_id", res.RunID,
			"errors", len(res.Errors))
		result.Synced = append(result.Synced, dealID)
	}

	return result
}

func relevant(event hubspot.WebhookEvent) bool {
	if event.ObjectID <= 0 {
		return false
	}
	switch hubspot.SubscriptionType(event.SubscriptionType) {
	case hubspot.SubscriptionTypeDealCreation:
		return true
	case hubspot.SubscriptionTypeDealPropertyChange:
		return billingProperties[event.PropertyName]
	}
	return false
}

// ParseWebhookPayload parses the HubSpot webhook payload
func (h *Handler) ParseWebhookPayload(body []byte) ([]hubspot.WebhookEvent, error) {
	var events []hubspot.WebhookEvent
	if err := json.Unmarshal(body, &events); err != nil {
		h.logger.Errorw("failed to parse webhook payload", "error", err)
		return nil, ierr.WithError(err).
			WithHint("Invalid webhook payload format").
			Mark(ierr.ErrValidation)
	}

	return events, nil
}
