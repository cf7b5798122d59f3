package dto

import (
	"github.com/flexprice/billsync/internal/service"
	"github.com/flexprice/billsync/internal/types"
	"github.com/flexprice/billsync/internal/validator"
)

// SyncRequest holds the query parameters of the manual sync endpoints
type SyncRequest struct {
	DryRun bool   `form:"dry_run"`
	Today  string `form:"today" validate:"omitempty,ymd"`
}

func (r *SyncRequest) Validate() error {
	return validator.ValidateRequest(r)
}

// ToOptions converts the request to sync options. Validate must have passed.
func (r *SyncRequest) ToOptions() service.SyncOptions {
	opts := service.SyncOptions{DryRun: r.DryRun}
	if d, ok := types.ParseDate(r.Today); ok {
		opts.Today = d
	}
	return opts
}

// WebhookResponse is returned for every webhook delivery
type WebhookResponse struct {
	Message string `json:"message"`
}

// BatchSyncResponse wraps the summary of a manual batch run
type BatchSyncResponse struct {
	*service.BatchSummary
	DurationMs int64 `json:"duration_ms"`
}

func NewBatchSyncResponse(summary *service.BatchSummary) *BatchSyncResponse {
	return &BatchSyncResponse{
		BatchSummary: summary,
		DurationMs:   summary.Duration.Milliseconds(),
	}
}
