package hubspot

import "time"

// WebhookEvent represents a HubSpot webhook event payload
type WebhookEvent struct {
	EventID          int64  `json:"eventId"`
	SubscriptionID   int64  `json:"subscriptionId"`
	PortalID         int64  `json:"portalId"`
	AppID            int64  `json:"appId"`
	OccurredAt       int64  `json:"occurredAt"`
	SubscriptionType string `json:"subscriptionType"`
	AttemptNumber    int    `json:"attemptNumber"`
	ObjectID         int64  `json:"objectId"`
	PropertyName     string `json:"propertyName,omitempty"`
	PropertyValue    string `json:"propertyValue,omitempty"`
	ChangeSource     string `json:"changeSource,omitempty"`
	SourceID         string `json:"sourceId,omitempty"`
	ChangeFlag       string `json:"changeFlag,omitempty"`
}

// WebhookPayload represents the array of webhook events
type WebhookPayload []WebhookEvent

// Object is any CRM record. HubSpot returns every property as a string or null;
// null decodes to the empty string.
type Object struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	Archived   bool              `json:"archived"`
}

// Get returns a property value, "" when absent
func (o *Object) Get(name string) string {
	if o == nil || o.Properties == nil {
		return ""
	}
	return o.Properties[name]
}

// ObjectID identifies a record in batch read and archive requests
type ObjectID struct {
	ID string `json:"id"`
}

// BatchReadRequest is the body of POST /crm/v3/objects/{type}/batch/read
type BatchReadRequest struct {
	Properties []string   `json:"properties,omitempty"`
	Inputs     []ObjectID `json:"inputs"`
}

// AssociationSpec is one association type applied on create
type AssociationSpec struct {
	AssociationCategory AssociationCategory `json:"associationCategory"`
	AssociationTypeID   int                 `json:"associationTypeId"`
}

// AssociationInput associates a new record with an existing one
type AssociationInput struct {
	To    ObjectID          `json:"to"`
	Types []AssociationSpec `json:"types"`
}

// CreateInput is one record of a batch create
type CreateInput struct {
	Properties   map[string]string  `json:"properties"`
	Associations []AssociationInput `json:"associations,omitempty"`
}

// UpdateInput is one record of a batch update
type UpdateInput struct {
	ID         string            `json:"id"`
	Properties map[string]string `json:"properties"`
}

type batchCreateRequest struct {
	Inputs []CreateInput `json:"inputs"`
}

type batchUpdateRequest struct {
	Inputs []UpdateInput `json:"inputs"`
}

type batchArchiveRequest struct {
	Inputs []ObjectID `json:"inputs"`
}

type updateRequest struct {
	Properties map[string]string `json:"properties"`
}

// BatchError is one failed record of a batch response
type BatchError struct {
	Status   string              `json:"status"`
	Category string              `json:"category"`
	Message  string              `json:"message"`
	Context  map[string][]string `json:"context,omitempty"`
}

// BatchResponse is returned by batch read, create and update
type BatchResponse struct {
	Status    string       `json:"status"`
	Results   []Object     `json:"results"`
	Errors    []BatchError `json:"errors,omitempty"`
	NumErrors int          `json:"numErrors,omitempty"`
}

// Filter is a single search condition
type Filter struct {
	PropertyName string         `json:"propertyName"`
	Operator     FilterOperator `json:"operator"`
	Value        string         `json:"value,omitempty"`
	Values       []string       `json:"values,omitempty"`
}

// FilterGroup conditions are ANDed; groups are ORed
type FilterGroup struct {
	Filters []Filter `json:"filters"`
}

// Sort orders search results
type Sort struct {
	PropertyName string `json:"propertyName"`
	Direction    string `json:"direction"`
}

// SearchRequest is the body of POST /crm/v3/objects/{type}/search
type SearchRequest struct {
	FilterGroups []FilterGroup `json:"filterGroups,omitempty"`
	Sorts        []Sort        `json:"sorts,omitempty"`
	Properties   []string      `json:"properties,omitempty"`
	Limit        int           `json:"limit,omitempty"`
	After        string        `json:"after,omitempty"`
}

// Paging carries the cursor of the next page
type Paging struct {
	Next *PagingNext `json:"next,omitempty"`
}

// PagingNext is the cursor of the next page
type PagingNext struct {
	After string `json:"after"`
}

// SearchResponse is one page of search results
type SearchResponse struct {
	Total   int      `json:"total"`
	Results []Object `json:"results"`
	Paging  *Paging  `json:"paging,omitempty"`
}

// NextAfter returns the cursor of the next page, "" on the last page
func (r *SearchResponse) NextAfter() string {
	if r == nil || r.Paging == nil || r.Paging.Next == nil {
		return ""
	}
	return r.Paging.Next.After
}

// AssociationType describes one label of an association (v4)
type AssociationType struct {
	Category string `json:"category"`
	TypeID   int    `json:"typeId"`
	Label    string `json:"label,omitempty"`
}

// AssociationResult is one associated record (v4)
type AssociationResult struct {
	ToObjectID       int64             `json:"toObjectId"`
	AssociationTypes []AssociationType `json:"associationTypes"`
}

// AssociationResponse is one page of associations (v4)
type AssociationResponse struct {
	Results []AssociationResult `json:"results"`
	Paging  *Paging             `json:"paging,omitempty"`
}

// Property is one entry of an object's property schema
type Property struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	Type      string `json:"type"`
	FieldType string `json:"fieldType"`
	Archived  bool   `json:"archived"`
}

// PropertiesResponse is returned by GET /crm/v3/properties/{type}
type PropertiesResponse struct {
	Results []Property `json:"results"`
}
