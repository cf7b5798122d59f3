package deal

import (
	"strings"
	"time"

	"github.com/flexprice/billsync/internal/types"
)

// CRM property names of a deal
const (
	PropertyName        = "dealname"
	PropertyStage       = "dealstage"
	PropertyPipeline    = "pipeline"
	PropertyCurrency    = "deal_currency_code"
	PropertyActive      = "billing_active"
	PropertyCancelled   = "billing_cancelled"
	PropertyPaused      = "billing_paused"
	PropertyAutoInvoice = "billing_auto_invoice"

	// written back by the sync
	PropertyNextDate         = "billing_next_date"
	PropertyLastDate         = "billing_last_date"
	PropertyFrequencySummary = "billing_frequency_summary"
	PropertyError            = "billing_error"
	PropertyLastSyncedAt     = "billing_last_synced_at"
)

// Properties is the list read for every deal
var Properties = []string{
	PropertyName,
	PropertyStage,
	PropertyPipeline,
	PropertyCurrency,
	PropertyActive,
	PropertyCancelled,
	PropertyPaused,
	PropertyAutoInvoice,
	PropertyNextDate,
	PropertyLastDate,
	PropertyError,
}

// Deal is a contract held in the CRM
type Deal struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Stage       string `json:"stage"`
	Pipeline    string `json:"pipeline"`
	Currency    string `json:"currency"`
	Active      bool   `json:"active"`
	Cancelled   bool   `json:"cancelled"`
	Paused      bool   `json:"paused"`
	AutoInvoice bool   `json:"auto_invoice"`
	Error       string `json:"error,omitempty"`
}

// FromProperties builds a deal from its CRM properties
func FromProperties(id string, props map[string]string) *Deal {
	return &Deal{
		ID:          id,
		Name:        props[PropertyName],
		Stage:       props[PropertyStage],
		Pipeline:    props[PropertyPipeline],
		Currency:    props[PropertyCurrency],
		Active:      types.ParseBool(props[PropertyActive]),
		Cancelled:   types.ParseBool(props[PropertyCancelled]),
		Paused:      types.ParseBool(props[PropertyPaused]),
		AutoInvoice: types.ParseBool(props[PropertyAutoInvoice]),
		Error:       props[PropertyError],
	}
}

// IsHalted reports whether no new billing may be produced for the whole deal.
// A cancelled deal is treated like a paused one.
func (d *Deal) IsHalted() bool {
	return d.Paused || d.Cancelled
}

// Summary is the contract level result written back to the deal
type Summary struct {
	NextDate         *time.Time
	LastDate         *time.Time
	FrequencySummary string
	Error            string
	SyncedAt         time.Time
}

// ToProperties renders the summary as a property patch. Empty dates clear the field.
func (s Summary) ToProperties() map[string]string {
	return map[string]string{
		PropertyNextDate:         types.FormatDatePtr(s.NextDate),
		PropertyLastDate:         types.FormatDatePtr(s.LastDate),
		PropertyFrequencySummary: s.FrequencySummary,
		PropertyError:            truncate(s.Error),
		PropertyLastSyncedAt:     s.SyncedAt.UTC().Format(time.RFC3339),
	}
}

// CRM text properties are limited in size
const maxErrorLength = 1000

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrorLength {
		return s
	}
	return s[:maxErrorLength]
}
