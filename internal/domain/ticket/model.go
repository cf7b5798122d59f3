package ticket

import (
	"strings"
	"time"

	"github.com/flexprice/billsync/internal/types"
	"github.com/shopspring/decimal"
)

// CRM property names of a ticket
const (
	PropertyKey        = "billing_key"
	PropertyDate       = "billing_date"
	PropertyPipeline   = "hs_pipeline"
	PropertyStage      = "hs_pipeline_stage"
	PropertyDealID     = "billing_deal_id"
	PropertyLineItemID = "billing_line_item_id"
	PropertyLineKey    = "billing_line_key"
	PropertyInvoiceID  = "billing_invoice_id"
	PropertyAmount     = "billing_amount"
	PropertySubject    = "subject"
)

// Properties is the list read for every ticket
var Properties = []string{
	PropertyKey,
	PropertyDate,
	PropertyPipeline,
	PropertyStage,
	PropertyDealID,
	PropertyLineItemID,
	PropertyLineKey,
	PropertyInvoiceID,
	PropertyAmount,
	PropertySubject,
}

// Ticket is the CRM record representing one billing event
type Ticket struct {
	ID         string          `json:"id"`
	Key        string          `json:"key,omitempty"`
	Date       time.Time       `json:"date"`
	Pipeline   string          `json:"pipeline"`
	Stage      string          `json:"stage"`
	DealID     string          `json:"deal_id"`
	LineItemID string          `json:"line_item_id"`
	LineKey    string          `json:"line_key"`
	InvoiceID  string          `json:"invoice_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Subject    string          `json:"subject"`
}

// FromProperties builds a ticket from its CRM properties. An unparsable date
// leaves Date zero.
func FromProperties(id string, props map[string]string) *Ticket {
	t := &Ticket{
		ID:         id,
		Key:        strings.TrimSpace(props[PropertyKey]),
		Pipeline:   props[PropertyPipeline],
		Stage:      props[PropertyStage],
		DealID:     props[PropertyDealID],
		LineItemID: props[PropertyLineItemID],
		LineKey:    props[PropertyLineKey],
		InvoiceID:  props[PropertyInvoiceID],
		Subject:    props[PropertySubject],
	}
	if d, ok := types.ParseDate(props[PropertyDate]); ok {
		t.Date = d
	}
	if a, err := decimal.NewFromString(strings.TrimSpace(props[PropertyAmount])); err == nil {
		t.Amount = a
	}
	return t
}

// ToProperties renders the ticket for creation
func (t *Ticket) ToProperties() map[string]string {
	props := map[string]string{
		PropertyKey:        t.Key,
		PropertyDate:       types.FormatDateISO(t.Date),
		PropertyPipeline:   t.Pipeline,
		PropertyStage:      t.Stage,
		PropertyDealID:     t.DealID,
		PropertyLineItemID: t.LineItemID,
		PropertyLineKey:    t.LineKey,
		PropertyAmount:     t.Amount.String(),
		PropertySubject:    t.Subject,
	}
	if t.InvoiceID != "" {
		props[PropertyInvoiceID] = t.InvoiceID
	}
	return props
}

// Update is a partial update of one ticket
type Update struct {
	ID         string
	Properties map[string]string
}
