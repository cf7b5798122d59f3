package service

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/flexprice/billsync/internal/domain/lineitem"
	"github.com/flexprice/billsync/internal/domain/ticket"
	ierr "github.com/flexprice/billsync/internal/errors"
	"github.com/flexprice/billsync/internal/idempotency"
	"github.com/flexprice/billsync/internal/logger"
	"github.com/flexprice/billsync/internal/schedule"
	"github.com/flexprice/billsync/internal/types"
	"github.com/samber/lo"
)

// OperationType is the kind of change a reconciler plans for a ticket
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// Reasons attached to planned operations
const (
	ReasonMissing     = "missing"
	ReasonDrift       = "drift"
	ReasonOrphan      = "orphan"
	ReasonPaused      = "paused"
	ReasonDuplicate   = "duplicate"
	ReasonUndesired   = "undesired"
	ReasonProtected   = "protected_key"
	ReasonUnkeyable   = "unkeyable"
	ReasonProcessed   = "processed"
	ReasonInvoiced    = "invoiced"
	ReasonNoStage     = "no_stage"
	ReasonKeyRejected = "key_rejected"
)

// Operation is one planned ticket change
type Operation struct {
	Type       OperationType     `json:"type"`
	Key        string            `json:"key,omitempty"`
	TicketID   string            `json:"ticket_id,omitempty"`
	LineItemID string            `json:"line_item_id,omitempty"`
	Date       string            `json:"date,omitempty"`
	Stage      string            `json:"stage,omitempty"`
	Reason     string            `json:"reason"`
	Ticket     *ticket.Ticket    `json:"-"`
	Properties map[string]string `json:"properties,omitempty"`
}

// LineError is a failure scoped to one line (or one of its tickets)
type LineError struct {
	LineItemID string        `json:"line_item_id,omitempty"`
	Key        string        `json:"key,omitempty"`
	Operation  OperationType `json:"operation,omitempty"`
	Message    string        `json:"message"`
}

// ReconcileResult is the outcome of one reconciler pass over a deal. In dry-run
// mode the counters describe the plan.
type ReconcileResult struct {
	Created    int         `json:"created"`
	Updated    int         `json:"updated"`
	Deleted    int         `json:"deleted"`
	Skipped    int         `json:"skipped"`
	Errors     []LineError `json:"errors,omitempty"`
	Operations []Operation `json:"operations,omitempty"`

	// tickets created (or planned, in dry-run mode) and ids removed, used to
	// refresh the ticket snapshot for the next reconciler
	createdTickets []*ticket.Ticket
	updated        map[string]map[string]string
	deletedIDs     []string
}

func newReconcileResult() *ReconcileResult {
	return &ReconcileResult{updated: make(map[string]map[string]string)}
}

func (r *ReconcileResult) skip(n int) {
	r.Skipped += n
}

func (r *ReconcileResult) fail(lineItemID, key string, op OperationType, err error) {
	r.Errors = append(r.Errors, LineError{
		LineItemID: lineItemID,
		Key:        key,
		Operation:  op,
		Message:    errorMessage(err),
	})
}

// Apply returns the ticket snapshot as it looks after this result was executed
func (r *ReconcileResult) Apply(tickets []*ticket.Ticket) []*ticket.Ticket {
	if r == nil {
		return tickets
	}
	deleted := lo.SliceToMap(r.deletedIDs, func(id string) (string, struct{}) { return id, struct{}{} })

	out := make([]*ticket.Ticket, 0, len(tickets)+len(r.createdTickets))
	for _, t := range tickets {
		if _, ok := deleted[t.ID]; ok {
			continue
		}
		if props, ok := r.updated[t.ID]; ok {
			c := *t
			applyTicketProperties(&c, props)
			t = &c
		}
		out = append(out, t)
	}
	return append(out, r.createdTickets...)
}

func applyTicketProperties(t *ticket.Ticket, props map[string]string) {
	if v, ok := props[ticket.PropertyKey]; ok {
		t.Key = v
	}
	if v, ok := props[ticket.PropertyStage]; ok {
		t.Stage = v
	}
	if v, ok := props[ticket.PropertyDate]; ok {
		if d, ok := types.ParseDate(v); ok {
			t.Date = d
		}
	}
}

// ErrorsByLine groups error messages by line item id
func (r *ReconcileResult) ErrorsByLine() map[string][]string {
	out := make(map[string][]string)
	if r == nil {
		return out
	}
	for _, e := range r.Errors {
		out[e.LineItemID] = append(out[e.LineItemID], e.Message)
	}
	return out
}

// LinePlan is a line prepared for reconciliation: identity settled, schedules built
type LinePlan struct {
	Line     *lineitem.LineItem
	Billing  schedule.Schedule
	Forecast schedule.Schedule

	// InvoicedKey is the key of the period the line's invoice legitimately covers
	InvoicedKey string

	// Excluded lines keep their existing tickets but get no new ones, e.g. when the
	// line has no usable identity key or no resolvable start date
	Excluded      bool
	ExcludeReason string
}

// Keyed reports whether the line has an identity key tickets can be bound to
func (p *LinePlan) Keyed() bool {
	return p.Line != nil && p.Line.Key != ""
}

// indexedTicket is a ticket with its canonical key resolved
type indexedTicket struct {
	*ticket.Ticket
	key    string
	parsed idempotency.ParsedKey
	legacy bool
}

// ticketIndex groups tickets by canonical key, lowest ticket id first
type ticketIndex struct {
	byKey     map[string][]*indexedTicket
	keys      []string
	unkeyable []*ticket.Ticket
}

// indexTickets resolves the canonical key of every ticket accepted by include.
// Tickets without a stored key get one derived from their deal, line key and date.
func indexTickets(tickets []*ticket.Ticket, include func(*ticket.Ticket) bool) *ticketIndex {
	idx := &ticketIndex{byKey: make(map[string][]*indexedTicket)}
	for _, t := range tickets {
		if include != nil && !include(t) {
			continue
		}
		it, ok := resolveTicketKey(t)
		if !ok {
			idx.unkeyable = append(idx.unkeyable, t)
			continue
		}
		if _, seen := idx.byKey[it.key]; !seen {
			idx.keys = append(idx.keys, it.key)
		}
		idx.byKey[it.key] = append(idx.byKey[it.key], it)
	}
	for _, group := range idx.byKey {
		slices.SortFunc(group, func(a, b *indexedTicket) int { return compareRecordIDs(a.ID, b.ID) })
	}
	slices.Sort(idx.keys)
	return idx
}

func resolveTicketKey(t *ticket.Ticket) (*indexedTicket, bool) {
	if t.Key != "" {
		parsed := idempotency.ParseKey(t.Key)
		if !parsed.OK {
			return nil, false
		}
		return &indexedTicket{Ticket: t, key: parsed.Canonical, parsed: parsed, legacy: t.Key != parsed.Canonical}, true
	}
	if t.Date.IsZero() {
		return nil, false
	}
	key, err := idempotency.BuildKeyForDate(t.DealID, t.LineKey, t.Date)
	if err != nil {
		return nil, false
	}
	return &indexedTicket{Ticket: t, key: key, parsed: idempotency.ParseKey(key), legacy: true}, true
}

// drift returns the properties that must change for the ticket to match the
// desired date and stage. Legacy or unkeyed tickets also get their canonical key.
func (it *indexedTicket) drift(date time.Time, stage string) map[string]string {
	props := make(map[string]string)
	if it.legacy {
		props[ticket.PropertyKey] = it.key
	}
	if !it.Date.Equal(date) {
		props[ticket.PropertyDate] = types.FormatDateISO(date)
	}
	if stage != "" && it.Stage != stage {
		props[ticket.PropertyStage] = stage
	}
	return props
}

// CRM ids are numeric; numeric ids compare by value, anything else lexically
func compareRecordIDs(a, b string) int {
	ai, aErr := strconv.ParseInt(a, 10, 64)
	bi, bErr := strconv.ParseInt(b, 10, 64)
	if aErr == nil && bErr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

// ticketExecutor runs a plan against the ticket repository
type ticketExecutor struct {
	repo   ticket.Repository
	logger *logger.Logger
}

// execute runs deletes, then updates, then creates. A failed batch is retried
// record by record so one bad record only fails itself.
func (e *ticketExecutor) execute(ctx context.Context, ops []Operation, result *ReconcileResult, dryRun bool) {
	result.Operations = append(result.Operations, ops...)

	deletes := lo.Filter(ops, func(op Operation, _ int) bool { return op.Type == OperationDelete })
	updates := lo.Filter(ops, func(op Operation, _ int) bool { return op.Type == OperationUpdate })
	creates := lo.Filter(ops, func(op Operation, _ int) bool { return op.Type == OperationCreate })

	if dryRun {
		for _, op := range deletes {
			result.Deleted++
			result.deletedIDs = append(result.deletedIDs, op.TicketID)
		}
		for _, op := range updates {
			result.Updated++
			result.updated[op.TicketID] = op.Properties
		}
		for _, op := range creates {
			result.Created++
			result.createdTickets = append(result.createdTickets, op.Ticket)
		}
		return
	}

	e.executeDeletes(ctx, deletes, result)
	e.executeUpdates(ctx, updates, result)
	e.executeCreates(ctx, creates, result)
}

func (e *ticketExecutor) executeDeletes(ctx context.Context, ops []Operation, result *ReconcileResult) {
	if len(ops) == 0 {
		return
	}
	ids := lo.Map(ops, func(op Operation, _ int) string { return op.TicketID })
	err := e.repo.Archive(ctx, ids)
	if err == nil {
		result.Deleted += len(ids)
		result.deletedIDs = append(result.deletedIDs, ids...)
		return
	}

	e.logger.Warnw("batch archive failed, archiving tickets one by one", "count", len(ids), "error", err)
	for _, op := range ops {
		if err := e.repo.Archive(ctx, []string{op.TicketID}); err != nil {
			e.logger.Errorw("failed to archive ticket", "ticket_id", op.TicketID, "key", op.Key, "error", err)
			result.fail(op.LineItemID, op.Key, OperationDelete, err)
			continue
		}
		result.Deleted++
		result.deletedIDs = append(result.deletedIDs, op.TicketID)
	}
}

func (e *ticketExecutor) executeUpdates(ctx context.Context, ops []Operation, result *ReconcileResult) {
	if len(ops) == 0 {
		return
	}
	updates := lo.Map(ops, func(op Operation, _ int) ticket.Update {
		return ticket.Update{ID: op.TicketID, Properties: op.Properties}
	})
	err := e.repo.Update(ctx, updates)
	if err == nil {
		result.Updated += len(ops)
		for _, op := range ops {
			result.updated[op.TicketID] = op.Properties
		}
		return
	}

	e.logger.Warnw("batch update failed, updating tickets one by one", "count", len(ops), "error", err)
	for i, op := range ops {
		if err := e.repo.Update(ctx, updates[i:i+1]); err != nil {
			e.logger.Errorw("failed to update ticket", "ticket_id", op.TicketID, "key", op.Key, "error", err)
			result.fail(op.LineItemID, op.Key, OperationUpdate, err)
			continue
		}
		result.Updated++
		result.updated[op.TicketID] = op.Properties
	}
}

func (e *ticketExecutor) executeCreates(ctx context.Context, ops []Operation, result *ReconcileResult) {
	if len(ops) == 0 {
		return
	}
	tickets := lo.Map(ops, func(op Operation, _ int) *ticket.Ticket { return op.Ticket })
	created, err := e.repo.Create(ctx, tickets)
	result.Created += len(created)
	result.createdTickets = append(result.createdTickets, created...)
	if err == nil {
		return
	}

	done := lo.SliceToMap(created, func(t *ticket.Ticket) (string, struct{}) { return t.Key, struct{}{} })
	e.logger.Warnw("batch create failed, creating remaining tickets one by one",
		"count", len(ops)-len(created),
		"error", err)
	for _, op := range ops {
		if _, ok := done[op.Key]; ok {
			continue
		}
		one, err := e.repo.Create(ctx, []*ticket.Ticket{op.Ticket})
		result.Created += len(one)
		result.createdTickets = append(result.createdTickets, one...)
		if err != nil {
			e.logger.Errorw("failed to create ticket", "key", op.Key, "line_item_id", op.LineItemID, "error", err)
			result.fail(op.LineItemID, op.Key, OperationCreate, err)
		}
	}
}

// errorMessage prefers the operator facing hint over the internal message
func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	if hint := ierr.HintOf(err); hint != "" {
		return hint
	}
	return err.Error()
}

// lineScope answers which line of the deal a ticket belongs to
type lineScope struct {
	byKey      map[string]*LinePlan
	unresolved map[string]struct{}
}

func newLineScope(plans []*LinePlan) lineScope {
	scope := lineScope{
		byKey:      make(map[string]*LinePlan),
		unresolved: make(map[string]struct{}),
	}
	for _, p := range plans {
		if p.Keyed() {
			scope.byKey[p.Line.Key] = p
			continue
		}
		if p.Line != nil {
			scope.unresolved[p.Line.ID] = struct{}{}
		}
	}
	return scope
}

// owner returns the line a ticket belongs to. held is true when the ticket may
// belong to a line whose identity could not be settled this run; such tickets
// are left alone.
func (s lineScope) owner(it *indexedTicket) (plan *LinePlan, held bool) {
	if p, ok := s.byKey[it.parsed.LineKey]; ok {
		return p, false
	}
	_, held = s.unresolved[it.LineItemID]
	return nil, held
}

// ticketDate is the period of the ticket as encoded in its key
func (it *indexedTicket) ticketDate() time.Time {
	if d, ok := types.ParseDate(it.parsed.YMD); ok {
		return d
	}
	return it.Date
}

func stringSet(values ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}
