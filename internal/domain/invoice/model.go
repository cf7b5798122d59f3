package invoice

// CRM property names of an invoice
const (
	PropertyKey = "billing_key"
)

// Invoice is the part of a CRM invoice the anti-inheritance guard reads
type Invoice struct {
	ID  string `json:"id"`
	Key string `json:"key,omitempty"`
}
