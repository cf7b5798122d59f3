package repository

import (
	"github.com/flexprice/billsync/internal/domain/deal"
	"github.com/flexprice/billsync/internal/domain/invoice"
	"github.com/flexprice/billsync/internal/domain/lineitem"
	"github.com/flexprice/billsync/internal/domain/ticket"
	"github.com/flexprice/billsync/internal/integration/hubspot"
	"github.com/flexprice/billsync/internal/logger"
	hubspotRepo "github.com/flexprice/billsync/internal/repository/hubspot"
)

func NewDealRepository(client hubspot.HubSpotClient, logger *logger.Logger) deal.Repository {
	return hubspotRepo.NewDealRepository(client, logger)
}

func NewLineItemRepository(client hubspot.HubSpotClient, logger *logger.Logger) lineitem.Repository {
	return hubspotRepo.NewLineItemRepository(client, logger)
}

func NewTicketRepository(client hubspot.HubSpotClient, logger *logger.Logger) ticket.Repository {
	return hubspotRepo.NewTicketRepository(client, logger)
}

func NewInvoiceRepository(client hubspot.HubSpotClient, logger *logger.Logger) invoice.Repository {
	return hubspotRepo.NewInvoiceRepository(client, logger)
}
