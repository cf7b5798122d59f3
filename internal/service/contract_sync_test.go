package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/flexprice/billsync/internal/domain/deal"
	"github.com/flexprice/billsync/internal/domain/lineitem"
	"github.com/flexprice/billsync/internal/domain/ticket"
	"github.com/flexprice/billsync/internal/idempotency"
	"github.com/flexprice/billsync/internal/testutil"
	"github.com/stretchr/testify/suite"
)

const (
	testDealID      = "101"
	testLineID      = "201"
	testOtherLineID = "202"

	stageManual    = "billing_manual_review"
	stageAutomatic = "billing_auto_invoice"
	stageInvoiced  = "billing_invoiced"
	stageForecast  = "forecast_committed_manual"
)

type ContractSyncServiceSuite struct {
	testutil.BaseServiceTestSuite
	sleeps         []time.Duration
	updatesAtSleep []int
	lineItemRepo   lineitem.Repository
	defaultLineKey string
	otherLineKey   string
}

func TestContractSyncService(t *testing.T) {
	suite.Run(t, new(ContractSyncServiceSuite))
}

func (s *ContractSyncServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.sleeps = nil
	s.updatesAtSleep = nil
	s.lineItemRepo = s.GetStores().LineItemRepo
	s.defaultLineKey = idempotency.GenerateLineKey(testDealID, testLineID)
	s.otherLineKey = idempotency.GenerateLineKey(testDealID, testOtherLineID)
}

func (s *ContractSyncServiceSuite) newService() ContractSyncService {
	return NewContractSyncService(ServiceParams{
		Logger:       s.GetLogger(),
		Config:       s.GetConfig(),
		DealRepo:     s.GetStores().DealRepo,
		LineItemRepo: s.lineItemRepo,
		TicketRepo:   s.GetStores().TicketRepo,
		InvoiceRepo:  s.GetStores().InvoiceRepo,
		Sleeper: func(ctx context.Context, d time.Duration) error {
			s.sleeps = append(s.sleeps, d)
			s.updatesAtSleep = append(s.updatesAtSleep, len(s.GetStores().LineItemRepo.Updates()))
			return nil
		},
	})
}

func (s *ContractSyncServiceSuite) sync(opts SyncOptions) *DealSyncResult {
	if opts.Today.IsZero() {
		opts.Today = s.GetNow()
	}
	result, err := s.newService().SyncDeal(s.GetContext(), testDealID, opts)
	s.Require().NoError(err)
	s.Require().NotNil(result)
	return result
}

func (s *ContractSyncServiceSuite) putDeal(overrides map[string]string) {
	props := map[string]string{
		deal.PropertyName:     "Acme renewal",
		deal.PropertyStage:    "closedwon",
		deal.PropertyPipeline: "default",
		deal.PropertyActive:   "true",
	}
	for k, v := range overrides {
		props[k] = v
	}
	s.GetStores().DealRepo.Put(testDealID, props)
}

// monthlyLine is an open-ended monthly line starting 2026-01-14
func monthlyLine(key string, overrides map[string]string) map[string]string {
	props := map[string]string{
		lineitem.PropertyName:      "Support plan",
		lineitem.PropertyPrice:     "100",
		lineitem.PropertyQuantity:  "2",
		lineitem.PropertyFrequency: "monthly",
		lineitem.PropertyStartDate: "2026-01-14",
		lineitem.PropertyKey:       key,
	}
	for k, v := range overrides {
		props[k] = v
	}
	return props
}

func (s *ContractSyncServiceSuite) key(lineKey, ymd string) string {
	key, err := idempotency.BuildKey(testDealID, lineKey, ymd)
	s.Require().NoError(err)
	return key
}

func (s *ContractSyncServiceSuite) putTicket(key, ymd, stage string) string {
	return s.GetStores().TicketRepo.Put(testDealID, map[string]string{
		ticket.PropertyKey:      key,
		ticket.PropertyDate:     ymd,
		ticket.PropertyStage:    stage,
		ticket.PropertyPipeline: "billing",
		ticket.PropertyDealID:   testDealID,
	})
}

func (s *ContractSyncServiceSuite) ticketsByKey() map[string][]*ticket.Ticket {
	out := make(map[string][]*ticket.Ticket)
	for _, t := range s.GetStores().TicketRepo.All(testDealID) {
		out[t.Key] = append(out[t.Key], t)
	}
	return out
}

func (s *ContractSyncServiceSuite) disableForecast() {
	s.GetConfig().Forecast.Enabled = false
}

func (s *ContractSyncServiceSuite) TestSyncDeal_MonthlyOpenEnded() {
	s.putDeal(nil)
	s.GetStores().LineItemRepo.Put(testDealID, testLineID, monthlyLine(s.defaultLineKey, nil))

	result := s.sync(SyncOptions{})

	s.Require().Len(result.Lines, 1)
	line := result.Lines[0]
	s.Equal(48, line.Total)
	s.Equal(2, line.Emitted)
	s.Equal(46, line.Remaining)
	s.Equal("2026-03-14", line.NextDate)
	s.Equal("2026-02-14", line.LastDate)
	s.Equal("monthly", line.Frequency)
	s.Empty(line.Errors)

	// only 2026-03-14 falls inside the 30 day horizon
	s.Equal(1, result.Billing.Created)
	billingKey := s.key(s.defaultLineKey, "2026-03-14")
	tickets := s.ticketsByKey()
	s.Require().Len(tickets[billingKey], 1)
	created := tickets[billingKey][0]
	s.Equal(stageManual, created.Stage)
	s.Equal("billing", created.Pipeline)
	s.Equal(testLineID, created.LineItemID)
	s.Equal(s.defaultLineKey, created.LineKey)
	s.Equal("200", created.Amount.String())

	// 22 forecast dates from 2026-03-14 to 2027-12-14, the first one held by billing
	s.Equal(21, result.Forecast.Created)
	s.Equal(1, result.Forecast.Skipped)
	forecastKey := s.key(s.defaultLineKey, "2026-04-14")
	s.Require().Len(tickets[forecastKey], 1)
	s.Equal(stageForecast, tickets[forecastKey][0].Stage)

	props := s.GetStores().LineItemRepo.Props(testLineID)
	s.Equal("48", props[lineitem.PropertyTotalPayments])
	s.Equal("2", props[lineitem.PropertyEmittedPayments])
	s.Equal("46", props[lineitem.PropertyRemainingPayments])
	s.Equal("2026-03-14", props[lineitem.PropertyNextDate])
	s.Equal("2026-02-14", props[lineitem.PropertyLastDate])
	s.Empty(props[lineitem.PropertyError])

	dealProps := s.GetStores().DealRepo.Props(testDealID)
	s.Equal("2026-03-14", dealProps[deal.PropertyNextDate])
	s.Equal("2026-02-14", dealProps[deal.PropertyLastDate])
	s.Equal("monthly", dealProps[deal.PropertyFrequencySummary])
	s.Empty(dealProps[deal.PropertyError])
}

func (s *ContractSyncServiceSuite) TestSyncDeal_SecondRunIsIdempotent() {
	s.putDeal(nil)
	s.GetStores().LineItemRepo.Put(testDealID, testLineID, monthlyLine("", nil))

	first := s.sync(SyncOptions{})
	s.Equal(IdentityIssued, first.Lines[0].Identity)
	s.Equal(1, first.Billing.Created)
	s.Equal(21, first.Forecast.Created)

	s.GetStores().TicketRepo.ResetCalls()
	second := s.sync(SyncOptions{})

	s.Equal(IdentityKept, second.Lines[0].Identity)
	s.Equal(first.Lines[0].LineKey, second.Lines[0].LineKey)
	for _, rr := range []*ReconcileResult{second.Billing, second.Forecast} {
		s.Zero(rr.Created)
		s.Zero(rr.Updated)
		s.Zero(rr.Deleted)
		s.Empty(rr.Operations)
	}
	calls := s.GetStores().TicketRepo.Calls()
	s.Zero(calls.CreateCalls)
	s.Zero(calls.UpdateCalls)
	s.Zero(calls.ArchiveCalls)
}

func (s *ContractSyncServiceSuite) TestSyncDeal_PausedDealDeletesFutureTickets() {
	s.putDeal(map[string]string{deal.PropertyPaused: "true"})
	s.GetStores().LineItemRepo.Put(testDealID, testLineID, monthlyLine(s.defaultLineKey, nil))
	past := s.putTicket(s.key(s.defaultLineKey, "2026-02-14"), "2026-02-14", stageManual)
	for _, ymd := range []string{"2026-03-14", "2026-04-14", "2026-05-14"} {
		s.putTicket(s.key(s.defaultLineKey, ymd), ymd, stageManual)
	}

	result := s.sync(SyncOptions{})

	s.Equal(3, result.Billing.Deleted)
	s.Zero(result.Billing.Created)
	for _, op := range result.Billing.Operations {
		s.Equal(OperationDelete, op.Type)
		s.Equal(ReasonPaused, op.Reason)
	}

	remaining := s.GetStores().TicketRepo.All(testDealID)
	s.Require().Len(remaining, 1)
	s.Equal(past, remaining[0].ID)
}

func (s *ContractSyncServiceSuite) TestSyncDeal_PausedLineKeepsOtherLines() {
	s.disableForecast()
	s.putDeal(nil)
	s.GetStores().LineItemRepo.Put(testDealID, testLineID, monthlyLine(s.defaultLineKey, map[string]string{
		lineitem.PropertyPaused: "true",
	}))
	s.GetStores().LineItemRepo.Put(testDealID, testOtherLineID, monthlyLine(s.otherLineKey, nil))
	s.putTicket(s.key(s.defaultLineKey, "2026-03-14"), "2026-03-14", stageManual)

	result := s.sync(SyncOptions{})

	s.Equal(1, result.Billing.Deleted)
	s.Equal(1, result.Billing.Created)
	tickets := s.ticketsByKey()
	s.Empty(tickets[s.key(s.defaultLineKey, "2026-03-14")])
	s.Len(tickets[s.key(s.otherLineKey, "2026-03-14")], 1)
}

func (s *ContractSyncServiceSuite) TestSyncDeal_AutoInvoiceStage() {
	s.disableForecast()
	s.putDeal(nil)
	s.GetStores().LineItemRepo.Put(testDealID, testLineID, monthlyLine(s.defaultLineKey, map[string]string{
		lineitem.PropertyAutoInvoice: "true",
	}))
	// an entry stage ticket follows the line's invoicing mode
	id := s.putTicket(s.key(s.defaultLineKey, "2026-03-14"), "2026-03-14", stageManual)

	result := s.sync(SyncOptions{})

	s.Equal(1, result.Billing.Updated)
	s.Zero(result.Billing.Created)
	s.Equal(stageAutomatic, s.GetStores().TicketRepo.Props(id)[ticket.PropertyStage])
}

func (s *ContractSyncServiceSuite) TestSyncDeal_OwnershipIsolation() {
	s.putDeal(nil)
	s.GetStores().LineItemRepo.Put(testDealID, testLineID, monthlyLine(s.defaultLineKey, nil))

	// a forecast ticket on a slot billing now needs, and a processed billing ticket
	// on a slot the forecast wants
	forecastID := s.putTicket(s.key(s.defaultLineKey, "2026-03-14"), "2026-03-14", stageForecast)
	processedID := s.putTicket(s.key(s.defaultLineKey, "2026-04-14"), "2026-04-02", stageInvoiced)

	result := s.sync(SyncOptions{})

	s.Equal(1, result.Billing.Created)
	s.Zero(result.Billing.Updated)
	s.Zero(result.Billing.Deleted)

	// the forecast duplicate on the billing slot goes, the processed ticket stays as it is
	s.Nil(s.GetStores().TicketRepo.Props(forecastID))
	processed := s.GetStores().TicketRepo.Props(processedID)
	s.Require().NotNil(processed)
	s.Equal(stageInvoiced, processed[ticket.PropertyStage])
	s.Equal("2026-04-02", processed[ticket.PropertyDate])

	for _, op := range result.Forecast.Operations {
		s.NotEqual(processedID, op.TicketID)
	}
	// 22 desired slots, two held by non-forecast tickets
	s.Equal(20, result.Forecast.Created)
	s.Equal(1, result.Forecast.Deleted)
}

func (s *ContractSyncServiceSuite) TestSyncDeal_UnmappedDealStageArchivesForecast() {
	s.putDeal(map[string]string{deal.PropertyStage: "closedlost"})
	s.GetStores().LineItemRepo.Put(testDealID, testLineID, monthlyLine(s.defaultLineKey, nil))
	forecastID := s.putTicket(s.key(s.defaultLineKey, "2026-06-14"), "2026-06-14", stageForecast)
	billingID := s.putTicket(s.key(s.defaultLineKey, "2026-03-14"), "2026-03-14", stageManual)

	result := s.sync(SyncOptions{})

	s.Zero(result.Forecast.Created)
	s.Equal(1, result.Forecast.Deleted)
	s.Nil(s.GetStores().TicketRepo.Props(forecastID))
	s.NotNil(s.GetStores().TicketRepo.Props(billingID))
}

func (s *ContractSyncServiceSuite) TestSyncDeal_InactiveDealSkipsBilling() {
	s.putDeal(map[string]string{deal.PropertyActive: "false"})
	s.GetStores().LineItemRepo.Put(testDealID, testLineID, monthlyLine(s.defaultLineKey, nil))

	result := s.sync(SyncOptions{})

	s.True(result.BillingSkipped)
	s.Nil(result.Billing)
	s.Equal(22, result.Forecast.Created)
	tickets := s.ticketsByKey()[s.key(s.defaultLineKey, "2026-03-14")]
	s.Require().Len(tickets, 1)
	s.Equal(stageForecast, tickets[0].Stage)
}

func (s *ContractSyncServiceSuite) assertHaltedInactiveDealDeletesFutureTickets(haltProperty string) {
	s.disableForecast()
	s.putDeal(map[string]string{
		deal.PropertyActive: "false",
		haltProperty:        "true",
	})
	s.GetStores().LineItemRepo.Put(testDealID, testLineID, monthlyLine(s.defaultLineKey, nil))
	past := s.putTicket(s.key(s.defaultLineKey, "2026-02-14"), "2026-02-14", stageManual)
	for _, ymd := range []string{"2026-03-14", "2026-04-14", "2026-05-14"} {
		s.putTicket(s.key(s.defaultLineKey, ymd), ymd, stageManual)
	}

	result := s.sync(SyncOptions{})

	s.False(result.BillingSkipped)
	s.Require().NotNil(result.Billing)
	s.Equal(3, result.Billing.Deleted)
	s.Zero(result.Billing.Created)
	s.Zero(result.Forecast.Created)

	remaining := s.GetStores().TicketRepo.All(testDealID)
	s.Require().Len(remaining, 1)
	s.Equal(past, remaining[0].ID)
}

func (s *ContractSyncServiceSuite) TestSyncDeal_PausedInactiveDealDeletesFutureTickets() {
	s.assertHaltedInactiveDealDeletesFutureTickets(deal.PropertyPaused)
}

func (s *ContractSyncServiceSuite) TestSyncDeal_CancelledInactiveDealDeletesFutureTickets() {
	s.assertHaltedInactiveDealDeletesFutureTickets(deal.PropertyCancelled)
}

func (s *ContractSyncServiceSuite) TestSyncDeal_ValidInvoiceSuppressesTicket() {
	s.disableForecast()
	s.putDeal(nil)
	s.GetStores().LineItemRepo.Put(testDealID, testLineID, monthlyLine(s.defaultLineKey, map[string]string{
		lineitem.PropertyInvoiceID:     "inv1",
		lineitem.PropertyInvoicePeriod: "2026-03-14",
	}))
	s.GetStores().InvoiceRepo.Put("inv1", s.key(s.defaultLineKey, "2026-03-14"))

	result := s.sync(SyncOptions{})

	s.Require().NotNil(result.Lines[0].Guard)
	s.True(result.Lines[0].Guard.Valid)
	s.Zero(result.Billing.Created)
	props := s.GetStores().LineItemRepo.Props(testLineID)
	s.Equal("inv1", props[lineitem.PropertyInvoiceID])
}

func (s *ContractSyncServiceSuite) TestSyncDeal_InheritedInvoiceIsCleared() {
	s.disableForecast()
	s.putDeal(nil)
	s.GetStores().LineItemRepo.Put(testDealID, testLineID, monthlyLine(s.defaultLineKey, map[string]string{
		lineitem.PropertyInvoiceID:     "inv1",
		lineitem.PropertyInvoicePeriod: "2026-03-14",
	}))
	sourceKey, err := idempotency.BuildKey("900", idempotency.GenerateLineKey("900", "555"), "2026-03-14")
	s.Require().NoError(err)
	s.GetStores().InvoiceRepo.Put("inv1", sourceKey)

	result := s.sync(SyncOptions{})

	s.Require().NotNil(result.Lines[0].Guard)
	s.Equal(GuardReasonInheritedMismatch, result.Lines[0].Guard.Reason)
	s.Equal(1, result.Billing.Created)
	props := s.GetStores().LineItemRepo.Props(testLineID)
	s.Empty(props[lineitem.PropertyInvoiceID])
	s.Empty(props[lineitem.PropertyInvoicePeriod])
}

func (s *ContractSyncServiceSuite) TestSyncDeal_UnverifiableInvoiceKeepsReference() {
	s.disableForecast()
	s.putDeal(nil)
	s.GetStores().LineItemRepo.Put(testDealID, testLineID, monthlyLine(s.defaultLineKey, map[string]string{
		lineitem.PropertyInvoiceID: "inv1",
	}))
	s.GetStores().InvoiceRepo.Put("inv1", s.key(s.defaultLineKey, "2026-03-14"))

	result := s.sync(SyncOptions{})

	s.Equal(GuardReasonValidationError, result.Lines[0].Guard.Reason)
	s.Equal(1, result.Billing.Created)
	s.Equal("inv1", s.GetStores().LineItemRepo.Props(testLineID)[lineitem.PropertyInvoiceID])
}

func (s *ContractSyncServiceSuite) TestSyncDeal_ClonedLineIsRekeyed() {
	s.disableForecast()
	s.putDeal(nil)
	sourceKey := idempotency.GenerateLineKey("900", testLineID)
	s.GetStores().LineItemRepo.Put(testDealID, testLineID, monthlyLine(sourceKey, map[string]string{
		lineitem.PropertyInvoiceID:     "inv9",
		lineitem.PropertyInvoicePeriod: "2026-02-14",
	}))

	result := s.sync(SyncOptions{})

	line := result.Lines[0]
	s.Equal(IdentityRekeyed, line.Identity)
	s.NotEqual(sourceKey, line.LineKey)
	s.True(strings.HasPrefix(line.LineKey, testDealID+"-"+testLineID+"-"))
	s.Nil(line.Guard)

	props := s.GetStores().LineItemRepo.Props(testLineID)
	s.Equal(line.LineKey, props[lineitem.PropertyKey])
	s.Empty(props[lineitem.PropertyInvoiceID])
	s.Empty(props[lineitem.PropertyInvoicePeriod])

	s.Len(s.ticketsByKey()[s.key(line.LineKey, "2026-03-14")], 1)
}

func (s *ContractSyncServiceSuite) TestSyncDeal_HandEnteredKeyIsKept() {
	s.disableForecast()
	s.putDeal(nil)
	s.GetStores().LineItemRepo.Put(testDealID, testLineID, monthlyLine("LEGACY-SUPPORT", nil))

	result := s.sync(SyncOptions{})

	s.Equal(IdentityKept, result.Lines[0].Identity)
	s.Len(s.ticketsByKey()[s.key("LEGACY-SUPPORT", "2026-03-14")], 1)
}

func (s *ContractSyncServiceSuite) TestSyncDeal_DryRunWritesNothing() {
	s.putDeal(nil)
	s.GetStores().LineItemRepo.Put(testDealID, testLineID, monthlyLine("", map[string]string{
		lineitem.PropertyInvoiceID:     "inv404",
		lineitem.PropertyInvoicePeriod: "2026-02-14",
	}))
	s.putTicket(s.key(s.defaultLineKey, "2025-12-14"), "2025-12-14", stageManual)

	result := s.sync(SyncOptions{DryRun: true})

	s.True(result.DryRun)
	s.Equal(IdentityIssued, result.Lines[0].Identity)
	s.Equal(1, result.Billing.Created)
	s.Equal(21, result.Forecast.Created)
	s.NotEmpty(result.Billing.Operations)
	s.Equal("2026-03-14", result.NextDate)

	calls := s.GetStores().TicketRepo.Calls()
	s.Zero(calls.CreateCalls)
	s.Zero(calls.UpdateCalls)
	s.Zero(calls.ArchiveCalls)
	s.Empty(s.GetStores().LineItemRepo.Updates())
	s.Empty(s.GetStores().DealRepo.Summaries())
	s.Equal("inv404", s.GetStores().LineItemRepo.Props(testLineID)[lineitem.PropertyInvoiceID])
}

func (s *ContractSyncServiceSuite) TestSyncDeal_BatchFailureFallsBackPerRecord() {
	s.disableForecast()
	s.putDeal(nil)
	s.GetStores().LineItemRepo.Put(testDealID, testLineID, monthlyLine(s.defaultLineKey, nil))
	s.GetStores().LineItemRepo.Put(testDealID, testOtherLineID, monthlyLine(s.otherLineKey, nil))
	failing := s.key(s.otherLineKey, "2026-03-14")
	s.GetStores().TicketRepo.FailKey(failing)

	result := s.sync(SyncOptions{})

	s.Equal(1, result.Billing.Created)
	s.Require().Len(result.Billing.Errors, 1)
	s.Equal(testOtherLineID, result.Billing.Errors[0].LineItemID)
	s.Equal(failing, result.Billing.Errors[0].Key)

	// one batch attempt and one call per record
	s.Equal(3, s.GetStores().TicketRepo.Calls().CreateCalls)
	s.Len(s.ticketsByKey()[s.key(s.defaultLineKey, "2026-03-14")], 1)

	s.Equal("invalid ticket", s.GetStores().LineItemRepo.Props(testOtherLineID)[lineitem.PropertyError])
	s.Empty(s.GetStores().LineItemRepo.Props(testLineID)[lineitem.PropertyError])
	s.Contains(s.GetStores().DealRepo.Props(testDealID)[deal.PropertyError], "line 202: invalid ticket")
	s.True(result.HasErrors())
}

func (s *ContractSyncServiceSuite) TestSyncDeal_StartDelayIsWrittenInTwoSteps() {
	s.disableForecast()
	s.GetConfig().Billing.Cooldown = 5 * time.Second
	s.putDeal(nil)
	s.GetStores().LineItemRepo.Put(testDealID, testLineID, monthlyLine(s.defaultLineKey, map[string]string{
		lineitem.PropertyStartDate:      "",
		lineitem.PropertyStartDelayDays: "10",
	}))

	result := s.sync(SyncOptions{})

	s.Equal([]time.Duration{5 * time.Second}, s.sleeps)
	// the delay was cleared before the cooldown, the start date set after it
	s.Equal([]int{1}, s.updatesAtSleep)

	updates := s.GetStores().LineItemRepo.Updates()
	s.Require().GreaterOrEqual(len(updates), 2)
	s.Equal(lineitem.Patch{
		lineitem.PropertyStartDelayDays:   "",
		lineitem.PropertyStartDelayMonths: "",
	}, updates[0].Patch)
	s.Equal(lineitem.Patch{lineitem.PropertyStartDate: "2026-03-11"}, updates[1].Patch)

	s.Equal("2026-03-11", result.Lines[0].StartDate)
	s.Len(s.ticketsByKey()[s.key(s.defaultLineKey, "2026-03-11")], 1)

	// the next run sees an explicit start date and does not move it again
	s.sync(SyncOptions{Today: s.GetNow().AddDate(0, 0, 2)})
	s.Len(s.sleeps, 1)
}

func (s *ContractSyncServiceSuite) TestSyncDeal_UnclearedStartDelayCreatesNothing() {
	s.disableForecast()
	s.putDeal(nil)
	s.GetStores().LineItemRepo.Put(testDealID, testLineID, monthlyLine(s.defaultLineKey, map[string]string{
		lineitem.PropertyStartDate:      "",
		lineitem.PropertyStartDelayDays: "10",
	}))
	s.GetStores().LineItemRepo.FailUpdates(testLineID, context.DeadlineExceeded)

	// the delay stays on the line, so each day would otherwise resolve to a new start
	for day := 0; day < 3; day++ {
		result := s.sync(SyncOptions{Today: s.GetNow().AddDate(0, 0, day)})

		s.True(result.Lines[0].Excluded)
		s.NotEmpty(result.Lines[0].Errors)
		s.Zero(result.Billing.Created)
	}

	s.Empty(s.GetStores().TicketRepo.All(testDealID))
	s.Empty(s.sleeps)
}

func (s *ContractSyncServiceSuite) TestSyncDeal_MissingStartCreatesNothing() {
	s.putDeal(nil)
	s.GetStores().LineItemRepo.Put(testDealID, testLineID, monthlyLine(s.defaultLineKey, map[string]string{
		lineitem.PropertyStartDate: "",
	}))

	result := s.sync(SyncOptions{})

	s.True(result.Lines[0].Excluded)
	s.Zero(result.Billing.Created)
	s.Zero(result.Forecast.Created)
	s.Equal(noticeStartDefaulted, s.GetStores().LineItemRepo.Props(testLineID)[lineitem.PropertyError])
	s.Empty(s.GetStores().DealRepo.Props(testDealID)[deal.PropertyError])
}

func (s *ContractSyncServiceSuite) TestSyncDeal_IrregularLineIsAnchored() {
	s.disableForecast()
	s.putDeal(nil)
	s.GetStores().LineItemRepo.Put(testDealID, testLineID, map[string]string{
		lineitem.PropertyName:          "Workshops",
		lineitem.PropertyPrice:         "500",
		lineitem.PropertyIrregular:     "true",
		lineitem.PropertyKey:           s.defaultLineKey,
		lineitem.ManualDateProperty(2): "2026-03-20",
		lineitem.ManualDateProperty(3): "2026-02-01",
		lineitem.ManualDateProperty(4): "2026-09-01",
	})

	result := s.sync(SyncOptions{})

	s.Equal("irregular", result.Lines[0].Frequency)
	s.Equal(3, result.Lines[0].Total)
	s.Equal("2026-02-01", s.GetStores().LineItemRepo.Props(testLineID)[lineitem.PropertyStartDate])
	s.Equal(1, result.Billing.Created)
	s.Len(s.ticketsByKey()[s.key(s.defaultLineKey, "2026-03-20")], 1)
}

func (s *ContractSyncServiceSuite) TestSyncDeal_LegacyTicketGetsCanonicalKey() {
	s.disableForecast()
	s.putDeal(nil)
	s.GetStores().LineItemRepo.Put(testDealID, testLineID, monthlyLine(s.defaultLineKey, nil))
	unkeyed := s.GetStores().TicketRepo.Put(testDealID, map[string]string{
		ticket.PropertyDate:    "2026-03-14",
		ticket.PropertyStage:   stageManual,
		ticket.PropertyLineKey: s.defaultLineKey,
	})

	result := s.sync(SyncOptions{})

	s.Zero(result.Billing.Created)
	s.Equal(1, result.Billing.Updated)
	s.Equal(s.key(s.defaultLineKey, "2026-03-14"), s.GetStores().TicketRepo.Props(unkeyed)[ticket.PropertyKey])
}

func (s *ContractSyncServiceSuite) TestSyncDeal_DuplicatesAndOrphans() {
	s.disableForecast()
	s.putDeal(nil)
	s.GetStores().LineItemRepo.Put(testDealID, testLineID, monthlyLine(s.defaultLineKey, nil))

	key := s.key(s.defaultLineKey, "2026-03-14")
	kept := s.putTicket(key, "2026-03-14", stageManual)
	duplicate := s.putTicket(key, "2026-03-14", stageManual)
	removedLineKey := idempotency.GenerateLineKey(testDealID, "299")
	orphan := s.putTicket(s.key(removedLineKey, "2026-02-10"), "2026-02-10", stageManual)
	processedOrphan := s.putTicket(s.key(removedLineKey, "2026-01-10"), "2026-01-10", stageInvoiced)

	result := s.sync(SyncOptions{})

	s.Zero(result.Billing.Created)
	s.Equal(2, result.Billing.Deleted)
	s.NotNil(s.GetStores().TicketRepo.Props(kept))
	s.Nil(s.GetStores().TicketRepo.Props(duplicate))
	s.Nil(s.GetStores().TicketRepo.Props(orphan))
	s.NotNil(s.GetStores().TicketRepo.Props(processedOrphan))
}

func (s *ContractSyncServiceSuite) TestSyncDeal_IdentityFailureHoldsLineTickets() {
	s.disableForecast()
	s.putDeal(nil)
	s.GetStores().LineItemRepo.Put(testDealID, testLineID, monthlyLine("", nil))
	s.GetStores().LineItemRepo.FailUpdates(testLineID, context.DeadlineExceeded)
	existing := s.GetStores().TicketRepo.Put(testDealID, map[string]string{
		ticket.PropertyKey:        s.key(s.defaultLineKey, "2026-03-14"),
		ticket.PropertyDate:       "2026-03-14",
		ticket.PropertyStage:      stageManual,
		ticket.PropertyLineItemID: testLineID,
	})

	result := s.sync(SyncOptions{})

	s.True(result.Lines[0].Excluded)
	s.NotEmpty(result.Lines[0].Errors)
	s.Zero(result.Billing.Created)
	s.Zero(result.Billing.Deleted)
	s.NotNil(s.GetStores().TicketRepo.Props(existing))
}

func (s *ContractSyncServiceSuite) TestSyncDeal_UnknownDeal() {
	_, err := s.newService().SyncDeal(s.GetContext(), "404", SyncOptions{Today: s.GetNow()})
	s.Error(err)
}

// panickingLineItemRepo blows up for one deal
type panickingLineItemRepo struct {
	*testutil.InMemoryLineItemStore
	dealID string
}

func (r panickingLineItemRepo) ListByDeal(ctx context.Context, dealID string) ([]*lineitem.LineItem, error) {
	if dealID == r.dealID {
		panic("unexpected payload")
	}
	return r.InMemoryLineItemStore.ListByDeal(ctx, dealID)
}

func (s *ContractSyncServiceSuite) TestSyncAll_IsolatesFailingDeals() {
	s.disableForecast()
	deals := s.GetStores().DealRepo
	for _, id := range []string{"101", "102"} {
		deals.Put(id, map[string]string{
			deal.PropertyStage:    "closedwon",
			deal.PropertyPipeline: "default",
			deal.PropertyActive:   "true",
		})
	}
	deals.Put("103", map[string]string{deal.PropertyPipeline: "default"})
	deals.Put("104", map[string]string{deal.PropertyPipeline: "other", deal.PropertyActive: "true"})
	s.GetStores().LineItemRepo.Put("101", testLineID, monthlyLine(s.defaultLineKey, nil))
	s.lineItemRepo = panickingLineItemRepo{InMemoryLineItemStore: s.GetStores().LineItemRepo, dealID: "102"}

	summary, err := s.newService().SyncAll(s.GetContext(), SyncOptions{Today: s.GetNow(), RunID: "RUNTEST"})
	s.Require().NoError(err)

	s.Equal("RUNTEST", summary.RunID)
	s.Equal(2, summary.Deals)
	s.Equal(1, summary.Succeeded)
	s.Equal(1, summary.Failed)
	s.Equal(1, summary.Created)
	s.Require().Len(summary.Failures, 1)
	s.Equal("102", summary.Failures[0].DealID)
}
