package hubspot

// ObjectType is the CRM object type segment used in API paths
type ObjectType string

const (
	ObjectTypeDeal     ObjectType = "deals"
	ObjectTypeLineItem ObjectType = "line_items"
	ObjectTypeTicket   ObjectType = "tickets"
	ObjectTypeInvoice  ObjectType = "invoices"
)

// HubSpot webhook subscription types
type SubscriptionType string

const (
	SubscriptionTypeDealPropertyChange SubscriptionType = "deal.propertyChange"
	SubscriptionTypeDealCreation       SubscriptionType = "deal.creation"
)

// Search filter operators
type FilterOperator string

const (
	OperatorEQ       FilterOperator = "EQ"
	OperatorNEQ      FilterOperator = "NEQ"
	OperatorIn       FilterOperator = "IN"
	OperatorHasValue FilterOperator = "HAS_PROPERTY"
	OperatorNoValue  FilterOperator = "NOT_HAS_PROPERTY"
	OperatorGTE      FilterOperator = "GTE"
	OperatorLTE      FilterOperator = "LTE"
	OperatorContains FilterOperator = "CONTAINS_TOKEN"
)

// HubSpot Association Categories
// These define the category/type of relationship between objects in HubSpot
type AssociationCategory string

const (
	// AssociationCategoryHubSpotDefined represents associations defined by HubSpot
	AssociationCategoryHubSpotDefined AssociationCategory = "HUBSPOT_DEFINED"

	// AssociationCategoryUserDefined represents custom associations created by users
	AssociationCategoryUserDefined AssociationCategory = "USER_DEFINED"
)

// HubSpot Association Type IDs
// Reference: https://developers.hubspot.com/docs/api/crm/associations
const (
	// AssociationTypeTicketToDeal associates a ticket with its deal
	AssociationTypeTicketToDeal = 28

	// AssociationTypeDealToLineItem is used when listing the line items of a deal
	AssociationTypeDealToLineItem = 19

	// AssociationTypeDealToTicket is the reverse of AssociationTypeTicketToDeal
	AssociationTypeDealToTicket = 27
)

// API limits
const (
	maxBatchSize       = 100
	maxSearchPageSize  = 100
	maxAssociationPage = 500
)
