package service

import (
	"context"
	"time"

	"github.com/flexprice/billsync/internal/config"
	"github.com/flexprice/billsync/internal/domain/deal"
	"github.com/flexprice/billsync/internal/domain/invoice"
	"github.com/flexprice/billsync/internal/domain/lineitem"
	"github.com/flexprice/billsync/internal/domain/ticket"
	"github.com/flexprice/billsync/internal/integration/hubspot"
	"github.com/flexprice/billsync/internal/logger"
	"github.com/flexprice/billsync/internal/metrics"
	"github.com/flexprice/billsync/internal/sentry"
)

// Sleeper blocks for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleeper is the production Sleeper
func ContextSleeper(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SchemaInvalidator drops cached CRM property schemas
type SchemaInvalidator interface {
	InvalidateSchema()
}

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration

	// Repositories
	DealRepo     deal.Repository
	LineItemRepo lineitem.Repository
	TicketRepo   ticket.Repository
	InvoiceRepo  invoice.Repository

	// Optional collaborators, nil disables them
	Schema  SchemaInvalidator
	Metrics *metrics.Metrics
	Sentry  *sentry.Service

	Sleeper Sleeper
}

// Common service params
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	dealRepo deal.Repository,
	lineItemRepo lineitem.Repository,
	ticketRepo ticket.Repository,
	invoiceRepo invoice.Repository,
	client hubspot.HubSpotClient,
	metrics *metrics.Metrics,
	sentry *sentry.Service,
) ServiceParams {
	return ServiceParams{
		Logger:       logger,
		Config:       config,
		DealRepo:     dealRepo,
		LineItemRepo: lineItemRepo,
		TicketRepo:   ticketRepo,
		InvoiceRepo:  invoiceRepo,
		Schema:       client,
		Metrics:      metrics,
		Sentry:       sentry,
		Sleeper:      ContextSleeper,
	}
}

func (p ServiceParams) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleeper == nil {
		return ContextSleeper(ctx, d)
	}
	return p.Sleeper(ctx, d)
}
