package webhook

import (
	"context"
	"testing"

	ierr "github.com/flexprice/billsync/internal/errors"
	"github.com/flexprice/billsync/internal/integration/hubspot"
	"github.com/flexprice/billsync/internal/logger"
	"github.com/flexprice/billsync/internal/metrics"
	"github.com/flexprice/billsync/internal/service"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncService struct {
	calls []string
	fail  map[string]bool
}

func (f *fakeSyncService) SyncDeal(ctx context.Context, dealID string, opts service.SyncOptions) (*service.DealSyncResult, error) {
	f.calls = append(f.calls, dealID)
	if f.fail[dealID] {
		return nil, ierr.NewError("deal not found").Mark(ierr.ErrNotFound)
	}
	return &service.DealSyncResult{DealID: dealID, RunID: "RUN"}, nil
}

func (f *fakeSyncService) SyncAll(ctx context.Context, opts service.SyncOptions) (*service.BatchSummary, error) {
	return &service.BatchSummary{}, nil
}

func TestHandleWebhookEvent(t *testing.T) {
	syncSvc := &fakeSyncService{fail: map[string]bool{"102": true}}
	m := metrics.New()
	h := NewHandler(syncSvc, m, logger.NewNopLogger())

	events := []hubspot.WebhookEvent{
		{SubscriptionType: "deal.propertyChange", ObjectID: 101, PropertyName: "dealstage", PropertyValue: "closedwon"},
		{SubscriptionType: "deal.propertyChange", ObjectID: 101, PropertyName: "billing_paused", PropertyValue: "true"},
		{SubscriptionType: "deal.propertyChange", ObjectID: 103, PropertyName: "description"},
		{SubscriptionType: "deal.creation", ObjectID: 102},
		{SubscriptionType: "contact.creation", ObjectID: 104},
		{SubscriptionType: "deal.propertyChange", ObjectID: 105, PropertyName: "billing_cancelled", PropertyValue: "true"},
	}

	result := h.HandleWebhookEvent(context.Background(), events)

	assert.Equal(t, 6, result.Received)
	assert.Equal(t, []string{"101", "102", "105"}, syncSvc.calls)
	assert.Equal(t, []string{"101", "105"}, result.Synced)
	assert.Equal(t, []string{"102"}, result.Failed)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.WebhookEventsTotal.WithLabelValues("deal.propertyChange", "true")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WebhookEventsTotal.WithLabelValues("deal.propertyChange", "false")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WebhookEventsTotal.WithLabelValues("contact.creation", "false")))
}

func TestHandleWebhookEvent_NilMetrics(t *testing.T) {
	syncSvc := &fakeSyncService{}
	h := NewHandler(syncSvc, nil, logger.NewNopLogger())

	result := h.HandleWebhookEvent(context.Background(), []hubspot.WebhookEvent{
		{SubscriptionType: "deal.creation", ObjectID: 7},
		{SubscriptionType: "deal.creation", ObjectID: 0},
	})

	assert.Equal(t, []string{"7"}, syncSvc.calls)
	assert.Equal(t, []string{"7"}, result.Synced)
}

func TestParseWebhookPayload(t *testing.T) {
	h := NewHandler(&fakeSyncService{}, nil, logger.NewNopLogger())

	events, err := h.ParseWebhookPayload([]byte(`[
		{"eventId": 1, "subscriptionType": "deal.propertyChange", "objectId": 101,
		 "propertyName": "dealstage", "propertyValue": "closedwon", "occurredAt": 1767225600000}
	]`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(101), events[0].ObjectID)
	assert.Equal(t, "dealstage", events[0].PropertyName)

	_, err = h.ParseWebhookPayload([]byte(`{"not": "an array"}`))
	require.Error(t, err)
	assert.True(t, ierr.IsValidation(err))
}
