/*
handlers.go - HTTP API handlers for the membership engine

PURPOSE:
  Exposes the membership and governance services via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Members:
    GET    /api/members                          List members (?status=active,suspended)
    POST   /api/members                          Register draft member (+ dependents)
    POST   /api/members/fee-preview              Initial invoice lines without storing
    GET    /api/members/{id}                     Member with dependents
    DELETE /api/members/{id}                     Delete member (cascades dependents)
    POST   /api/members/{id}/approve             draft -> active, posts initial invoice
    POST   /api/members/{id}/suspend             active -> suspended
    POST   /api/members/{id}/reinstate           suspended -> active
    POST   /api/members/{id}/terminate           Exit, promotes first eligible dependent
    POST   /api/members/{id}/deceased            Exit, promotes first eligible dependent
    POST   /api/members/{id}/refresh-payment-state
    GET    /api/members/{id}/invoices            Invoices held by accounting
    POST   /api/members/{id}/invoices/annual     Annual invoice for the current year
    GET    /api/members/{id}/events              Audit trail, newest first
    GET    /api/members/{id}/dependents
    POST   /api/members/{id}/dependents

  Dependents:
    PUT    /api/dependents/{id}
    DELETE /api/dependents/{id}

  Claims:
    GET    /api/claims                           (?member_id, state, decided_from, decided_until)
    POST   /api/claims
    GET    /api/claims/{id}
    PUT    /api/claims/{id}                      Draft claims only
    POST   /api/claims/{id}/approve              Optional {"amount": "..."}
    POST   /api/claims/{id}/reject

  Invoices:
    POST   /api/invoices/payment                 Record payment state of an invoice

  Committee & meetings: see governance handlers below.

  Jobs:
    GET    /api/jobs                             Registered jobs
    GET    /api/jobs/runs                        Run history (?job, limit)
    POST   /api/jobs/{name}/run                  Run a job now

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store, Accounting: persistence and the ledger
  - Services: lifecycle, dependents, claims, arrears, invoicing, governance
  - Scheduler: recurring jobs (also triggerable here)

ACTOR:
  Every write is attributed to the caller named in the X-Actor header
  (X-Actor-Kind: user | committee | system, default user).

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Invalid transition, concurrent modification, duplicate key
  - 422: Not eligible, disbursement cap exceeded
  - 500: Missing configuration, internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/shifa/membership-engine/core"
	"github.com/shifa/membership-engine/factory"
	"github.com/shifa/membership-engine/governance"
	"github.com/shifa/membership-engine/logging"
	"github.com/shifa/membership-engine/membership"
	"github.com/shifa/membership-engine/metrics"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// PaymentRecorder is implemented by ledgers that accept payment updates.
type PaymentRecorder interface {
	SetPaymentState(ctx context.Context, ref core.InvoiceRef, state core.InvoicePaymentState) error
}

// Resetter is implemented by stores that can drop all their data.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Config carries what NewHandler needs to build the services.
type Config struct {
	Store      core.TxStore
	Accounting core.AccountingService
	Contacts   core.ContactDirectory
	Settings   *factory.Settings
	Sink       core.NotificationSink
	Clock      core.Clock
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      core.TxStore
	Accounting core.AccountingService
	Contacts   core.ContactDirectory
	Settings   *factory.Settings
	Clock      core.Clock

	Lifecycle  *membership.Lifecycle
	Dependents *membership.Dependents
	Claims     *membership.Claims
	Arrears    *membership.ArrearsMonitor
	Invoicer   *membership.Invoicer
	Committee  *governance.Committee
	Meetings   *governance.Meetings
	Scheduler  *Scheduler

	logger zerolog.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the services around one store and ledger.
func NewHandler(cfg Config) *Handler {
	if cfg.Settings == nil {
		cfg.Settings = factory.Defaults()
	}
	if cfg.Clock == nil {
		cfg.Clock = core.SystemClock{}
	}
	notifier := membership.NewNotifier(cfg.Sink, cfg.Logger, cfg.Metrics)
	deps := membership.Deps{
		Store:      cfg.Store,
		Accounting: cfg.Accounting,
		Contacts:   cfg.Contacts,
		Fund:       cfg.Settings.FundProvider(),
		Notifier:   notifier,
		Clock:      cfg.Clock,
		Policy:     cfg.Settings.Policy,
		Logger:     cfg.Logger,
		Metrics:    cfg.Metrics,
	}
	gov := governance.Deps{
		Store:    cfg.Store,
		Notifier: notifier,
		Clock:    cfg.Clock,
		Logger:   cfg.Logger,
	}

	lc := membership.NewLifecycle(deps)
	h := &Handler{
		Store:      cfg.Store,
		Accounting: cfg.Accounting,
		Contacts:   cfg.Contacts,
		Settings:   cfg.Settings,
		Clock:      cfg.Clock,
		Lifecycle:  lc,
		Dependents: membership.NewDependents(deps),
		Claims:     membership.NewClaims(deps),
		Arrears:    membership.NewArrearsMonitor(deps, lc),
		Invoicer:   membership.NewInvoicer(deps),
		Committee:  governance.NewCommittee(gov),
		Meetings:   governance.NewMeetings(gov),
		logger:     logging.Component(cfg.Logger, "api"),
	}
	h.Scheduler = NewScheduler(cfg.Store, h.Jobs(), cfg.Clock, cfg.Logger, cfg.Metrics)
	return h
}

// Jobs returns the recurring jobs of the association.
func (h *Handler) Jobs() []Job {
	return []Job{
		{Name: membership.JobYearlyRenewal, Schedule: Daily, Run: func(ctx context.Context) (JobOutcome, error) {
			res, err := h.Invoicer.RunYearlyRenewal(ctx)
			if err != nil {
				return JobOutcome{}, err
			}
			return JobOutcome{Affected: len(res.Invoiced), Result: res}, nil
		}},
		{Name: membership.JobSuspendOverdue, Schedule: Daily, Run: func(ctx context.Context) (JobOutcome, error) {
			res, err := h.Arrears.SuspendOverdue(ctx)
			if err != nil {
				return JobOutcome{}, err
			}
			return JobOutcome{Affected: len(res.Suspended), Result: res}, nil
		}},
		{Name: membership.JobPostMarch, Schedule: Daily, Run: func(ctx context.Context) (JobOutcome, error) {
			res, err := h.Arrears.PostMarchSuspension(ctx)
			if err != nil {
				return JobOutcome{}, err
			}
			return JobOutcome{Affected: len(res.Suspended), Result: res}, nil
		}},
		{Name: membership.JobRenewalReminders, Schedule: Daily, Run: func(ctx context.Context) (JobOutcome, error) {
			res, err := h.Arrears.SendRenewalReminders(ctx)
			if err != nil {
				return JobOutcome{}, err
			}
			return JobOutcome{Affected: res.Sent, Result: res}, nil
		}},
		{Name: membership.JobRefreshPayments, Schedule: Daily, Run: func(ctx context.Context) (JobOutcome, error) {
			n, err := h.Arrears.RefreshAll(ctx)
			return JobOutcome{Affected: n, Result: map[string]int{"changed": n}}, err
		}},
		{Name: membership.JobDependentAges, Schedule: Daily, Run: func(ctx context.Context) (JobOutcome, error) {
			n, err := h.Dependents.CheckDependentAges(ctx, core.SystemActor)
			return JobOutcome{Affected: n, Result: map[string]int{"changed": n}}, err
		}},
		{Name: governance.JobTenureReview, Schedule: Monthly, Run: func(ctx context.Context) (JobOutcome, error) {
			res, err := h.Committee.TenureReview(ctx)
			if err != nil {
				return JobOutcome{}, err
			}
			return JobOutcome{Affected: len(res.Flagged), Result: h.toTenureResultDTO(res)}, nil
		}},
	}
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// ListMembers returns members, optionally filtered by ?status=a,b.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	var filter core.MemberFilter
	for _, s := range splitList(r.URL.Query().Get("status")) {
		status := core.MemberStatus(s)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "Invalid status filter", core.NewValidationError("status", "unknown status %q", s))
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	members, err := h.Store.ListMembers(r.Context(), filter)
	if err != nil {
		h.fail(w, "Failed to list members", err)
		return
	}

	dtos := make([]MemberDTO, len(members))
	for i := range members {
		dtos[i] = toMemberDTO(&members[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetMember returns a member with its dependents.
func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, err := h.Store.GetMember(ctx, memberID(r))
	if err != nil {
		h.fail(w, "Failed to get member", err)
		return
	}
	deps, err := h.Store.ListDependents(ctx, m.ID)
	if err != nil {
		h.fail(w, "Failed to list dependents", err)
		return
	}

	dto := toMemberDTO(m)
	dto.Dependents = toDependentDTOs(deps, h.Clock.Today())
	writeJSON(w, http.StatusOK, dto)
}

// RegisterMember stores a draft member and its dependents.
func (h *Handler) RegisterMember(w http.ResponseWriter, r *http.Request) {
	var req RegisterMemberRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	m, deps, err := h.memberFromRequest(req)
	if err != nil {
		h.fail(w, "Invalid member", err)
		return
	}

	saved, err := h.Lifecycle.Register(r.Context(), actorFrom(r), m, deps)
	if err != nil {
		h.fail(w, "Failed to register member", err)
		return
	}

	dto := toMemberDTO(m)
	dto.Dependents = toDependentDTOs(saved, h.Clock.Today())
	writeJSON(w, http.StatusCreated, dto)
}

// PreviewFees returns the initial invoice a registration would produce.
func (h *Handler) PreviewFees(w http.ResponseWriter, r *http.Request) {
	var req RegisterMemberRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	m, deps, err := h.memberFromRequest(req)
	if err != nil {
		h.fail(w, "Invalid member", err)
		return
	}

	today := h.Clock.Today()
	m.ApplyDefaults(h.Settings.Policy.Fees, today)
	for i := range deps {
		deps[i].ApplyDefaults()
		membership.RevalidateDependent(&deps[i], today, h.Settings.Policy.ChildAgeLimit)
	}
	lines := membership.InitialFeeLines(m, deps)
	writeJSON(w, http.StatusOK, FeePreviewDTO{
		Currency: string(m.Currency),
		Lines:    toInvoiceLineDTOs(lines),
		Total:    amount(core.InvoiceTotal(lines, m.Currency)),
		DueDate:  membership.DueDate(today).String(),
	})
}

// DeleteMember removes a member and its dependents.
func (h *Handler) DeleteMember(w http.ResponseWriter, r *http.Request) {
	if err := h.Lifecycle.Delete(r.Context(), memberID(r), actorFrom(r)); err != nil {
		h.fail(w, "Failed to delete member", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ApproveMember activates a draft member and posts the initial invoice.
func (h *Handler) ApproveMember(w http.ResponseWriter, r *http.Request) {
	m, inv, err := h.Lifecycle.Approve(r.Context(), memberID(r), actorFrom(r))
	if err != nil {
		h.fail(w, "Failed to approve member", err)
		return
	}
	writeJSON(w, http.StatusOK, ApproveResultDTO{Member: toMemberDTO(m), Invoice: toInvoiceResultDTO(inv)})
}

// SuspendMember suspends an active member. The body is optional.
func (h *Handler) SuspendMember(w http.ResponseWriter, r *http.Request) {
	var req SuspendRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	m, err := h.Lifecycle.Suspend(r.Context(), memberID(r), actorFrom(r), req.Reason)
	if err != nil {
		h.fail(w, "Failed to suspend member", err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(m))
}

// ReinstateMember returns a suspended member to active.
func (h *Handler) ReinstateMember(w http.ResponseWriter, r *http.Request) {
	m, err := h.Lifecycle.Reinstate(r.Context(), memberID(r), actorFrom(r))
	if err != nil {
		h.fail(w, "Failed to reinstate member", err)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(m))
}

// TerminateMember ends a membership.
func (h *Handler) TerminateMember(w http.ResponseWriter, r *http.Request) {
	res, err := h.Lifecycle.Terminate(r.Context(), memberID(r), actorFrom(r))
	if err != nil {
		h.fail(w, "Failed to terminate member", err)
		return
	}
	writeJSON(w, http.StatusOK, toExitResultDTO(res, h.Clock.Today()))
}

// MarkDeceased records the death of a member.
func (h *Handler) MarkDeceased(w http.ResponseWriter, r *http.Request) {
	res, err := h.Lifecycle.MarkDeceased(r.Context(), memberID(r), actorFrom(r))
	if err != nil {
		h.fail(w, "Failed to mark member deceased", err)
		return
	}
	writeJSON(w, http.StatusOK, toExitResultDTO(res, h.Clock.Today()))
}

// RefreshPaymentState recomputes the member's payment state from its invoices.
func (h *Handler) RefreshPaymentState(w http.ResponseWriter, r *http.Request) {
	id := memberID(r)
	state, err := h.Arrears.RefreshPaymentState(r.Context(), id)
	if err != nil {
		h.fail(w, "Failed to refresh payment state", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"member_id": string(id), "payment_state": string(state)})
}

// ListMemberInvoices returns the member's posted invoices.
func (h *Handler) ListMemberInvoices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, err := h.Store.GetMember(ctx, memberID(r))
	if err != nil {
		h.fail(w, "Failed to get member", err)
		return
	}
	dtos := []InvoiceDTO{}
	if m.HasAccount() {
		invoices, err := h.Accounting.ListInvoices(ctx, m.PartnerRef)
		if err != nil {
			h.fail(w, "Failed to list invoices", err)
			return
		}
		today := h.Clock.Today()
		for _, inv := range invoices {
			dtos = append(dtos, toInvoiceDTO(inv, today))
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAnnualInvoice posts this year's annual invoice. Repeated calls in the
// same year return the original invoice with skipped=true.
func (h *Handler) CreateAnnualInvoice(w http.ResponseWriter, r *http.Request) {
	res, err := h.Invoicer.CreateAnnualInvoice(r.Context(), memberID(r))
	if err != nil {
		h.fail(w, "Failed to create annual invoice", err)
		return
	}
	status := http.StatusCreated
	if res.Skipped {
		status = http.StatusOK
	}
	writeJSON(w, status, toInvoiceResultDTO(res))
}

// ListMemberEvents returns the member's audit trail, newest first.
func (h *Handler) ListMemberEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := memberID(r)
	if _, err := h.Store.GetMember(ctx, id); err != nil {
		h.fail(w, "Failed to get member", err)
		return
	}
	events, err := h.Store.QueryEvents(ctx, core.EventFilter{
		SubjectType: core.SubjectMember,
		SubjectID:   string(id),
		Limit:       queryInt(r, "limit", 100),
	})
	if err != nil {
		h.fail(w, "Failed to query events", err)
		return
	}
	dtos := make([]EventDTO, len(events))
	for i, e := range events {
		dtos[i] = toEventDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// DEPENDENT HANDLERS
// =============================================================================

// ListDependents returns a member's dependents in registration order.
func (h *Handler) ListDependents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, err := h.Store.GetMember(ctx, memberID(r))
	if err != nil {
		h.fail(w, "Failed to get member", err)
		return
	}
	deps, err := h.Store.ListDependents(ctx, m.ID)
	if err != nil {
		h.fail(w, "Failed to list dependents", err)
		return
	}
	writeJSON(w, http.StatusOK, toDependentDTOs(deps, h.Clock.Today()))
}

// AddDependent registers a dependent under a member.
func (h *Handler) AddDependent(w http.ResponseWriter, r *http.Request) {
	var req DependentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	dep, err := dependentFromRequest(req)
	if err != nil {
		h.fail(w, "Invalid dependent", err)
		return
	}
	dep.MemberID = memberID(r)

	if err := h.Dependents.Add(r.Context(), &dep, actorFrom(r)); err != nil {
		h.fail(w, "Failed to add dependent", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDependentDTO(dep, h.Clock.Today()))
}

// UpdateDependent replaces the editable fields of a dependent.
func (h *Handler) UpdateDependent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req DependentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	current, err := h.Store.GetDependent(ctx, core.DependentID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, "Failed to get dependent", err)
		return
	}
	dep, err := dependentFromRequest(req)
	if err != nil {
		h.fail(w, "Invalid dependent", err)
		return
	}
	dep.ID = current.ID
	dep.MemberID = current.MemberID
	dep.SubscriptionState = current.SubscriptionState
	dep.ApprovalState = current.ApprovalState
	dep.Seq = current.Seq

	if err := h.Dependents.Update(ctx, &dep, actorFrom(r)); err != nil {
		h.fail(w, "Failed to update dependent", err)
		return
	}
	writeJSON(w, http.StatusOK, toDependentDTO(dep, h.Clock.Today()))
}

// RemoveDependent deletes a dependent.
func (h *Handler) RemoveDependent(w http.ResponseWriter, r *http.Request) {
	if err := h.Dependents.Remove(r.Context(), core.DependentID(chi.URLParam(r, "id")), actorFrom(r)); err != nil {
		h.fail(w, "Failed to remove dependent", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CLAIM HANDLERS
// =============================================================================

// ListClaims returns claims matching the query filter.
func (h *Handler) ListClaims(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.ClaimFilter{MemberID: core.MemberID(q.Get("member_id"))}
	for _, s := range splitList(q.Get("state")) {
		filter.States = append(filter.States, core.ClaimState(s))
	}
	var err error
	if filter.DecidedFrom, err = parseDateField("decided_from", q.Get("decided_from")); err != nil {
		h.fail(w, "Invalid filter", err)
		return
	}
	if filter.DecidedUntil, err = parseDateField("decided_until", q.Get("decided_until")); err != nil {
		h.fail(w, "Invalid filter", err)
		return
	}

	claims, err := h.Store.ListClaims(r.Context(), filter)
	if err != nil {
		h.fail(w, "Failed to list claims", err)
		return
	}
	dtos := make([]ClaimDTO, len(claims))
	for i := range claims {
		dtos[i] = toClaimDTO(&claims[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetClaim returns one claim.
func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	c, err := h.Store.GetClaim(r.Context(), claimID(r))
	if err != nil {
		h.fail(w, "Failed to get claim", err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTO(c))
}

// CreateClaim files a draft claim after the eligibility gate.
func (h *Handler) CreateClaim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	c, err := h.claimFromRequest(req)
	if err != nil {
		h.fail(w, "Invalid claim", err)
		return
	}
	if err := h.Claims.Create(r.Context(), c, actorFrom(r)); err != nil {
		h.fail(w, "Failed to create claim", err)
		return
	}
	writeJSON(w, http.StatusCreated, toClaimDTO(c))
}

// UpdateClaim rewrites a draft claim.
func (h *Handler) UpdateClaim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	c, err := h.claimFromRequest(req)
	if err != nil {
		h.fail(w, "Invalid claim", err)
		return
	}
	c.ID = claimID(r)
	if err := h.Claims.Update(r.Context(), c, actorFrom(r)); err != nil {
		h.fail(w, "Failed to update claim", err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTO(c))
}

// ApproveClaim approves a draft claim for the claimed or an overridden amount.
func (h *Handler) ApproveClaim(w http.ResponseWriter, r *http.Request) {
	var req ApproveClaimRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	var approved *core.Money
	if req.Amount != "" {
		m, err := parseMoneyField("amount", req.Amount, h.Settings.Policy.Currency)
		if err != nil {
			h.fail(w, "Invalid amount", err)
			return
		}
		approved = &m
	}

	c, err := h.Claims.Approve(r.Context(), claimID(r), approved, actorFrom(r))
	if err != nil {
		h.fail(w, "Failed to approve claim", err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTO(c))
}

// RejectClaim rejects a draft claim.
func (h *Handler) RejectClaim(w http.ResponseWriter, r *http.Request) {
	var req RejectClaimRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	c, err := h.Claims.Reject(r.Context(), claimID(r), actorFrom(r), req.Remarks)
	if err != nil {
		h.fail(w, "Failed to reject claim", err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTO(c))
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// RecordPayment sets the payment state of an invoice on the ledger. When
// member_id is given the member's payment state is refreshed too.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	recorder, ok := h.Accounting.(PaymentRecorder)
	if !ok {
		writeError(w, http.StatusNotImplemented, "Ledger does not accept payments", nil)
		return
	}
	var req PaymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Ref == "" {
		h.fail(w, "Invalid payment", core.NewValidationError("ref", "invoice ref is required"))
		return
	}
	state := core.InvoicePaymentState(req.State)
	if state == "" {
		state = core.InvoicePaid
	}

	ctx := r.Context()
	if err := recorder.SetPaymentState(ctx, core.InvoiceRef(req.Ref), state); err != nil {
		h.fail(w, "Failed to record payment", err)
		return
	}
	resp := map[string]string{"ref": req.Ref, "state": string(state)}
	if req.MemberID != "" {
		ps, err := h.Arrears.RefreshPaymentState(ctx, core.MemberID(req.MemberID))
		if err != nil {
			h.fail(w, "Failed to refresh payment state", err)
			return
		}
		resp["member_id"] = req.MemberID
		resp["payment_state"] = string(ps)
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// COMMITTEE HANDLERS
// =============================================================================

// ListRoles returns the committee roles.
func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.Store.ListRoles(r.Context())
	if err != nil {
		h.fail(w, "Failed to list roles", err)
		return
	}
	dtos := make([]RoleDTO, len(roles))
	for i := range roles {
		dtos[i] = toRoleDTO(&roles[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRole adds a committee role.
func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req RoleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	role := &core.CommitteeRole{Name: req.Name, IsExecutive: req.IsExecutive, Description: req.Description}
	if err := h.Committee.CreateRole(r.Context(), role, actorFrom(r)); err != nil {
		h.fail(w, "Failed to create role", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRoleDTO(role))
}

// ListCommitteeMemberships returns seats (?active=true for current seats only).
func (h *Handler) ListCommitteeMemberships(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	seats, err := h.Store.ListCommitteeMemberships(r.Context(), activeOnly)
	if err != nil {
		h.fail(w, "Failed to list committee memberships", err)
		return
	}
	today := h.Clock.Today()
	dtos := make([]CommitteeMembershipDTO, len(seats))
	for i := range seats {
		dtos[i] = toCommitteeMembershipDTO(&seats[i], today)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AssignCommitteeMember gives a member a committee seat.
func (h *Handler) AssignCommitteeMember(w http.ResponseWriter, r *http.Request) {
	var req CommitteeMembershipRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	start, err := parseDateField("start_date", req.StartDate)
	if err != nil {
		h.fail(w, "Invalid committee membership", err)
		return
	}
	end, err := parseDateField("end_date", req.EndDate)
	if err != nil {
		h.fail(w, "Invalid committee membership", err)
		return
	}
	cm := &core.CommitteeMembership{
		MemberID:  core.MemberID(req.MemberID),
		RoleID:    core.CommitteeRoleID(req.RoleID),
		StartDate: start,
		EndDate:   end,
	}
	if err := h.Committee.Assign(r.Context(), cm, actorFrom(r)); err != nil {
		h.fail(w, "Failed to assign committee member", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCommitteeMembershipDTO(cm, h.Clock.Today()))
}

// EndCommitteeMembership closes a seat (end_date defaults to today).
func (h *Handler) EndCommitteeMembership(w http.ResponseWriter, r *http.Request) {
	var req EndMembershipRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	end, err := parseDateField("end_date", req.EndDate)
	if err != nil {
		h.fail(w, "Invalid end date", err)
		return
	}
	today := h.Clock.Today()
	cm, err := h.Committee.End(r.Context(), core.CommitteeMembershipID(chi.URLParam(r, "id")), end.Or(today), actorFrom(r))
	if err != nil {
		h.fail(w, "Failed to end committee membership", err)
		return
	}
	writeJSON(w, http.StatusOK, toCommitteeMembershipDTO(cm, today))
}

// RunTenureReview flags seats held for five years or more.
func (h *Handler) RunTenureReview(w http.ResponseWriter, r *http.Request) {
	res, err := h.Committee.TenureReview(r.Context())
	if err != nil {
		h.fail(w, "Failed to run tenure review", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toTenureResultDTO(res))
}

func (h *Handler) toTenureResultDTO(res *governance.TenureResult) TenureResultDTO {
	dto := TenureResultDTO{
		Date:     res.Date.String(),
		Flagged:  make([]CommitteeMembershipDTO, len(res.Flagged)),
		Notified: res.Notified,
	}
	for i := range res.Flagged {
		dto.Flagged[i] = toCommitteeMembershipDTO(&res.Flagged[i], res.Date)
	}
	return dto
}

// =============================================================================
// MEETING HANDLERS
// =============================================================================

// ListMeetings returns all meetings.
func (h *Handler) ListMeetings(w http.ResponseWriter, r *http.Request) {
	meetings, err := h.Store.ListMeetings(r.Context())
	if err != nil {
		h.fail(w, "Failed to list meetings", err)
		return
	}
	dtos := make([]MeetingDTO, len(meetings))
	for i := range meetings {
		dtos[i] = toMeetingDTO(&meetings[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetMeeting returns one meeting with its polls.
func (h *Handler) GetMeeting(w http.ResponseWriter, r *http.Request) {
	mt, err := h.Store.GetMeeting(r.Context(), meetingID(r))
	if err != nil {
		h.fail(w, "Failed to get meeting", err)
		return
	}
	writeJSON(w, http.StatusOK, toMeetingDTO(mt))
}

// ScheduleMeeting creates a draft meeting.
func (h *Handler) ScheduleMeeting(w http.ResponseWriter, r *http.Request) {
	var req MeetingRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	at, err := parseTimeField("at", req.At)
	if err != nil {
		h.fail(w, "Invalid meeting", err)
		return
	}
	mt := &core.Meeting{
		Title:    req.Title,
		At:       at,
		Location: req.Location,
		Type:     core.MeetingType(req.Type),
		Agenda:   req.Agenda,
	}
	for _, id := range req.AttendeeIDs {
		mt.AttendeeIDs = append(mt.AttendeeIDs, core.MemberID(id))
	}
	if err := h.Meetings.Schedule(r.Context(), mt, actorFrom(r)); err != nil {
		h.fail(w, "Failed to schedule meeting", err)
		return
	}
	writeJSON(w, http.StatusCreated, toMeetingDTO(mt))
}

// ConfirmMeeting moves a draft meeting to confirmed.
func (h *Handler) ConfirmMeeting(w http.ResponseWriter, r *http.Request) {
	mt, err := h.Meetings.Confirm(r.Context(), meetingID(r), actorFrom(r))
	if err != nil {
		h.fail(w, "Failed to confirm meeting", err)
		return
	}
	writeJSON(w, http.StatusOK, toMeetingDTO(mt))
}

// HoldMeeting marks a confirmed meeting done and stores its minutes.
func (h *Handler) HoldMeeting(w http.ResponseWriter, r *http.Request) {
	var req HoldMeetingRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	mt, err := h.Meetings.Hold(r.Context(), meetingID(r), req.Minutes, actorFrom(r))
	if err != nil {
		h.fail(w, "Failed to hold meeting", err)
		return
	}
	writeJSON(w, http.StatusOK, toMeetingDTO(mt))
}

// CancelMeeting cancels a meeting that has not been held.
func (h *Handler) CancelMeeting(w http.ResponseWriter, r *http.Request) {
	mt, err := h.Meetings.Cancel(r.Context(), meetingID(r), actorFrom(r))
	if err != nil {
		h.fail(w, "Failed to cancel meeting", err)
		return
	}
	writeJSON(w, http.StatusOK, toMeetingDTO(mt))
}

// AddAttendee adds a member to the attendee list.
func (h *Handler) AddAttendee(w http.ResponseWriter, r *http.Request) {
	var req AttendeeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	mt, err := h.Meetings.AddAttendee(r.Context(), meetingID(r), core.MemberID(req.MemberID), actorFrom(r))
	if err != nil {
		h.fail(w, "Failed to add attendee", err)
		return
	}
	writeJSON(w, http.StatusOK, toMeetingDTO(mt))
}

// AddPoll opens a poll on a meeting.
func (h *Handler) AddPoll(w http.ResponseWriter, r *http.Request) {
	var req PollRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	poll, err := h.Meetings.AddPoll(r.Context(), meetingID(r), core.Poll{Question: req.Question, Type: core.PollType(req.Type)}, actorFrom(r))
	if err != nil {
		h.fail(w, "Failed to add poll", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPollDTO(poll))
}

// Vote records one vote on an open poll.
func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	var req VoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	poll, err := h.Meetings.Vote(r.Context(), meetingID(r), pollID(r), core.Vote(req.Vote), actorFrom(r))
	if err != nil {
		h.fail(w, "Failed to vote", err)
		return
	}
	writeJSON(w, http.StatusOK, toPollDTO(poll))
}

// ClosePoll closes an open poll.
func (h *Handler) ClosePoll(w http.ResponseWriter, r *http.Request) {
	poll, err := h.Meetings.ClosePoll(r.Context(), meetingID(r), pollID(r), actorFrom(r))
	if err != nil {
		h.fail(w, "Failed to close poll", err)
		return
	}
	writeJSON(w, http.StatusOK, toPollDTO(poll))
}

// =============================================================================
// JOB & SETTINGS HANDLERS
// =============================================================================

// ListJobs returns the registered recurring jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	dtos := make([]JobDTO, len(h.Scheduler.Jobs))
	for i, j := range h.Scheduler.Jobs {
		dtos[i] = JobDTO{Name: j.Name, Schedule: j.Schedule}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListJobRuns returns run history.
// GET /api/jobs/runs?job=suspend_overdue&limit=20
func (h *Handler) ListJobRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListRuns(r.Context(), r.URL.Query().Get("job"), queryInt(r, "limit", 50))
	if err != nil {
		h.fail(w, "Failed to list job runs", err)
		return
	}
	dtos := make([]JobRunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toJobRunDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// RunJob executes a job immediately.
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	run, result, err := h.Scheduler.RunJob(r.Context(), name)
	if errors.Is(err, ErrUnknownJob) {
		writeError(w, http.StatusNotFound, "Unknown job", err)
		return
	}
	if err != nil {
		h.fail(w, "Job failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toJobRunDTO(*run), "result": result})
}

// GetSettings returns the effective association settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, factory.NewSettingsFactory().ToJSON(h.Settings))
}

// Healthz reports whether the store is reachable.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// REQUEST MAPPING
// =============================================================================

func (h *Handler) memberFromRequest(req RegisterMemberRequest) (*core.Member, []core.Dependent, error) {
	dob, err := parseDateField("date_of_birth", req.DateOfBirth)
	if err != nil {
		return nil, nil, err
	}
	admission, err := parseDateField("admission_date", req.AdmissionDate)
	if err != nil {
		return nil, nil, err
	}
	m := &core.Member{
		Name:            strings.TrimSpace(req.Name),
		NationalID:      req.NationalID,
		DateOfBirth:     dob,
		Address:         req.Address,
		Phone:           req.Phone,
		Email:           req.Email,
		AdmissionDate:   admission,
		Category:        core.Category(req.Category),
		OrphanSecondary: req.OrphanSecondary,
	}
	if req.DonationAmount != "" {
		if m.DonationAmount, err = parseMoneyField("donation_amount", req.DonationAmount, h.Settings.Policy.Currency); err != nil {
			return nil, nil, err
		}
	}

	deps := make([]core.Dependent, 0, len(req.Dependents))
	for _, dr := range req.Dependents {
		d, err := dependentFromRequest(dr)
		if err != nil {
			return nil, nil, err
		}
		deps = append(deps, d)
	}
	return m, deps, nil
}

func dependentFromRequest(req DependentRequest) (core.Dependent, error) {
	dob, err := parseDateField("date_of_birth", req.DateOfBirth)
	if err != nil {
		return core.Dependent{}, err
	}
	return core.Dependent{
		Name:            strings.TrimSpace(req.Name),
		Relation:        core.Relation(req.Relation),
		DateOfBirth:     dob,
		IDNumber:        req.IDNumber,
		IsCareDependent: req.IsCareDependent,
		IsOrphan:        req.IsOrphan,
		AutoPromote:     req.AutoPromote,
	}, nil
}

func (h *Handler) claimFromRequest(req ClaimRequest) (*core.MedicalAssistanceClaim, error) {
	amt, err := parseMoneyField("amount", req.Amount, h.Settings.Policy.Currency)
	if err != nil {
		return nil, err
	}
	return &core.MedicalAssistanceClaim{
		MemberID:    core.MemberID(req.MemberID),
		DependentID: core.DependentID(req.DependentID),
		Type:        core.ClaimType(req.Type),
		ClaimAmount: amt,
		Remarks:     req.Remarks,
	}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func memberID(r *http.Request) core.MemberID   { return core.MemberID(chi.URLParam(r, "id")) }
func claimID(r *http.Request) core.ClaimID     { return core.ClaimID(chi.URLParam(r, "id")) }
func meetingID(r *http.Request) core.MeetingID { return core.MeetingID(chi.URLParam(r, "id")) }
func pollID(r *http.Request) core.PollID       { return core.PollID(chi.URLParam(r, "pollID")) }

// actorFrom reads the acting user from X-Actor / X-Actor-Kind.
func actorFrom(r *http.Request) core.Actor {
	actor := core.Actor{ID: strings.TrimSpace(r.Header.Get("X-Actor")), Kind: core.ActorUser}
	switch kind := core.ActorKind(r.Header.Get("X-Actor-Kind")); kind {
	case core.ActorCommittee, core.ActorSystem:
		actor.Kind = kind
	}
	if actor.ID == "" {
		actor.ID = "anonymous"
	}
	return actor
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func parseDateField(field, s string) (core.Date, error) {
	d, err := core.ParseDate(strings.TrimSpace(s))
	if err != nil {
		return core.Date{}, core.NewValidationError(field, "invalid date %q (use YYYY-MM-DD)", s)
	}
	return d, nil
}

func parseTimeField(field, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, core.NewValidationError(field, "invalid time %q (use RFC3339)", s)
	}
	return t.UTC(), nil
}

func parseMoneyField(field, s string, currency core.Currency) (core.Money, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return core.Money{}, core.NewValidationError(field, "invalid amount %q", s)
	}
	return core.Money{Value: v, Currency: currency}, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidTransition),
		errors.Is(err, core.ErrConcurrentModification),
		errors.Is(err, core.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrIneligible), errors.Is(err, core.ErrCapExceeded):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// fail writes a domain error with its mapped status and structured details.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: message, Details: err.Error()}

	var ve *core.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	var ie *core.IneligibleError
	if errors.As(err, &ie) {
		resp.Reason = string(ie.Reason)
	}
	var ce *core.CapExceededError
	if errors.As(err, &ce) {
		resp.Cap = ce.Cap.String()
		resp.Disbursed = ce.Disbursed.String()
		resp.Available = ce.Available.String()
	}
	var cfg *core.ConfigurationError
	if errors.As(err, &cfg) {
		resp.Field = cfg.Setting
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg(message)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
