package lineitem

import (
	"fmt"
	"strings"
	"time"

	"github.com/flexprice/billsync/internal/schedule"
	"github.com/flexprice/billsync/internal/types"
	"github.com/shopspring/decimal"
)

// CRM property names of a line item
const (
	PropertyName     = "name"
	PropertyPrice    = "price"
	PropertyQuantity = "quantity"

	PropertyFrequency        = "hs_recurring_billing_frequency"
	PropertyLegacyFrequency  = "billing_frequency"
	PropertyIrregular        = "billing_irregular"
	PropertyStartDate        = "hs_recurring_billing_start_date"
	PropertyLegacyStartDate  = "billing_start_date"
	PropertyStartDelayDays   = "hs_billing_start_delay_days"
	PropertyStartDelayMonths = "hs_billing_start_delay_months"
	PropertyNumberOfPayments = "hs_recurring_billing_number_of_payments"

	PropertyKey           = "line_item_key"
	PropertyPaused        = "billing_paused"
	PropertyAutoInvoice   = "billing_auto_invoice"
	PropertyInvoiceID     = "invoice_id"
	PropertyInvoicePeriod = "invoice_period"

	// written back by the sync
	PropertyTotalPayments     = "billing_total_payments"
	PropertyEmittedPayments   = "billing_emitted_payments"
	PropertyRemainingPayments = "billing_remaining_payments"
	PropertyNextDate          = "billing_next_date"
	PropertyLastDate          = "billing_last_date"
	PropertyLastSyncedAt      = "billing_last_synced_at"
	PropertyError             = "billing_error"
)

// Manual billing dates live in billing_date_2 .. billing_date_24; the first
// date of an irregular schedule is the start date field.
const (
	FirstManualSlot = 2
	LastManualSlot  = 24
)

// ManualDateProperty returns the property holding manual slot n
func ManualDateProperty(n int) string {
	return fmt.Sprintf("billing_date_%d", n)
}

// Properties is the list read for every line item
var Properties = func() []string {
	props := []string{
		PropertyName,
		PropertyPrice,
		PropertyQuantity,
		PropertyFrequency,
		PropertyLegacyFrequency,
		PropertyIrregular,
		PropertyStartDate,
		PropertyLegacyStartDate,
		PropertyStartDelayDays,
		PropertyStartDelayMonths,
		PropertyNumberOfPayments,
		PropertyKey,
		PropertyPaused,
		PropertyAutoInvoice,
		PropertyInvoiceID,
		PropertyInvoicePeriod,
		PropertyNextDate,
		PropertyLastDate,
		PropertyError,
	}
	for n := FirstManualSlot; n <= LastManualSlot; n++ {
		props = append(props, ManualDateProperty(n))
	}
	return props
}()

// LineItem is one billable line of a deal
type LineItem struct {
	ID               string          `json:"id"`
	DealID           string          `json:"deal_id"`
	Name             string          `json:"name"`
	Price            decimal.Decimal `json:"price"`
	Quantity         decimal.Decimal `json:"quantity"`
	Frequency        string          `json:"frequency,omitempty"`
	LegacyFrequency  string          `json:"legacy_frequency,omitempty"`
	Irregular        string          `json:"irregular,omitempty"`
	StartDate        string          `json:"start_date,omitempty"`
	LegacyStartDate  string          `json:"legacy_start_date,omitempty"`
	StartDelayDays   string          `json:"start_delay_days,omitempty"`
	StartDelayMonths string          `json:"start_delay_months,omitempty"`
	NumberOfPayments string          `json:"number_of_payments,omitempty"`
	ManualDates      []string        `json:"manual_dates,omitempty"`
	Key              string          `json:"key,omitempty"`
	Paused           bool            `json:"paused"`
	AutoInvoice      bool            `json:"auto_invoice"`
	InvoiceID        string          `json:"invoice_id,omitempty"`
	InvoicePeriod    string          `json:"invoice_period,omitempty"`
}

// FromProperties builds a line item from its CRM properties
func FromProperties(id, dealID string, props map[string]string) *LineItem {
	l := &LineItem{
		ID:               id,
		DealID:           dealID,
		Name:             props[PropertyName],
		Price:            parseDecimal(props[PropertyPrice]),
		Quantity:         parseDecimal(props[PropertyQuantity]),
		Frequency:        props[PropertyFrequency],
		LegacyFrequency:  props[PropertyLegacyFrequency],
		Irregular:        props[PropertyIrregular],
		StartDate:        props[PropertyStartDate],
		LegacyStartDate:  props[PropertyLegacyStartDate],
		StartDelayDays:   props[PropertyStartDelayDays],
		StartDelayMonths: props[PropertyStartDelayMonths],
		NumberOfPayments: props[PropertyNumberOfPayments],
		Key:              strings.TrimSpace(props[PropertyKey]),
		Paused:           types.ParseBool(props[PropertyPaused]),
		AutoInvoice:      types.ParseBool(props[PropertyAutoInvoice]),
		InvoiceID:        strings.TrimSpace(props[PropertyInvoiceID]),
		InvoicePeriod:    strings.TrimSpace(props[PropertyInvoicePeriod]),
	}
	for n := FirstManualSlot; n <= LastManualSlot; n++ {
		l.ManualDates = append(l.ManualDates, props[ManualDateProperty(n)])
	}
	return l
}

func parseDecimal(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// RawSchedule returns the schedule relevant configuration of the line
func (l *LineItem) RawSchedule() schedule.RawLine {
	return schedule.RawLine{
		Irregular:        l.Irregular,
		Frequency:        l.Frequency,
		LegacyFrequency:  l.LegacyFrequency,
		StartDates:       []string{l.StartDate, l.LegacyStartDate},
		StartDelayDays:   l.StartDelayDays,
		StartDelayMonths: l.StartDelayMonths,
		FixedOccurrences: l.NumberOfPayments,
		ManualDates:      l.ManualDates,
	}
}

// Amount is price x quantity. A missing quantity counts as one.
func (l *LineItem) Amount() decimal.Decimal {
	qty := l.Quantity
	if qty.IsZero() {
		qty = decimal.NewFromInt(1)
	}
	return l.Price.Mul(qty)
}

// HasExplicitStart reports whether one of the start date fields holds a date
func (l *LineItem) HasExplicitStart() bool {
	for _, raw := range []string{l.StartDate, l.LegacyStartDate} {
		if _, ok := types.ParseDate(raw); ok {
			return true
		}
	}
	return false
}

// Patch is a partial update of line item properties. An empty value clears the property.
type Patch map[string]string

// ClearInvoice clears an invoice reference that does not belong to the line
func (p Patch) ClearInvoice() Patch {
	p[PropertyInvoiceID] = ""
	p[PropertyInvoicePeriod] = ""
	return p
}

// CounterPatch renders schedule counters as a property patch
func CounterPatch(c schedule.Counters, errMsg string, syncedAt time.Time) Patch {
	return Patch{
		PropertyTotalPayments:     fmt.Sprintf("%d", c.Total),
		PropertyEmittedPayments:   fmt.Sprintf("%d", c.Emitted),
		PropertyRemainingPayments: fmt.Sprintf("%d", c.Remaining),
		PropertyNextDate:          types.FormatDatePtr(c.Next),
		PropertyLastDate:          types.FormatDatePtr(c.Last),
		PropertyError:             errMsg,
		PropertyLastSyncedAt:      syncedAt.UTC().Format(time.RFC3339),
	}
}
