/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario registers members through the
	same services the API uses, so events, invoices and notifications are
	produced exactly as in production.

AVAILABLE SCENARIOS:

	new-applicant:  Draft family awaiting approval
	active-family:  Approved member with spouse and children, initial invoice posted
	arrears:        Member owing last year's subscription, payment state in arrears
	medical-claim:  Long-standing member with a draft medical assistance claim
	committee:      Committee roles, a seat due for tenure review, a meeting with a poll

HOW SCENARIOS WORK:
 1. Reset store and ledger (clear all data)
 2. Register members and dependents via the lifecycle
 3. Approve members (posts initial invoices)
 4. Back-date history where a scenario needs it

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "arrears"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Services used by the loaders
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shifa/membership-engine/core"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "new-applicant",
		Name:        "New Applicant",
		Description: "Draft member with spouse and child awaiting committee approval",
		Category:    "membership",
	},
	{
		ID:          "active-family",
		Name:        "Active Family",
		Description: "Approved member with dependents and a posted initial invoice",
		Category:    "membership",
	},
	{
		ID:          "arrears",
		Name:        "Arrears",
		Description: "Member owing last year's subscription past the overdue threshold",
		Category:    "billing",
	},
	{
		ID:          "medical-claim",
		Name:        "Medical Claim",
		Description: "Member past the qualifying period with a draft assistance claim",
		Category:    "claims",
	},
	{
		ID:          "committee",
		Name:        "Committee",
		Description: "Executive roles, a seat held six years and a meeting with an open poll",
		Category:    "governance",
	},
}

var scenarioActor = core.Actor{ID: "scenario", Kind: core.ActorSystem}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario resets the data and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "new-applicant":
		load = h.loadNewApplicantScenario
	case "active-family":
		load = h.loadActiveFamilyScenario
	case "arrears":
		load = h.loadArrearsScenario
	case "medical-claim":
		load = h.loadMedicalClaimScenario
	case "committee":
		load = h.loadCommitteeScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		h.fail(w, "Failed to reset database", err)
		return
	}
	if err := load(ctx); err != nil {
		h.fail(w, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		h.fail(w, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) reset(ctx context.Context) error {
	store, ok := h.Store.(Resetter)
	if !ok {
		return fmt.Errorf("store does not support reset")
	}
	if err := store.Reset(ctx); err != nil {
		return err
	}
	if ledger, ok := h.Accounting.(Resetter); ok {
		if err := ledger.Reset(ctx); err != nil {
			return err
		}
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) registerFamily(ctx context.Context, name, email string, deps ...core.Dependent) (*core.Member, error) {
	today := h.Clock.Today()
	m := &core.Member{
		Name:          name,
		Email:         email,
		DateOfBirth:   today.AddYears(-45),
		AdmissionDate: today,
	}
	if _, err := h.Lifecycle.Register(ctx, scenarioActor, m, deps); err != nil {
		return nil, fmt.Errorf("register %s: %w", name, err)
	}
	return m, nil
}

func (h *Handler) family() []core.Dependent {
	today := h.Clock.Today()
	return []core.Dependent{
		{Name: "Spouse", Relation: core.RelationSpouse, DateOfBirth: today.AddYears(-43), AutoPromote: true},
		{Name: "Eldest Child", Relation: core.RelationChild, DateOfBirth: today.AddYears(-15)},
		{Name: "Youngest Child", Relation: core.RelationChild, DateOfBirth: today.AddYears(-9)},
	}
}

func (h *Handler) loadNewApplicantScenario(ctx context.Context) error {
	_, err := h.registerFamily(ctx, "Amina Joomun", "amina@example.mu", h.family()[:2]...)
	return err
}

func (h *Handler) loadActiveFamilyScenario(ctx context.Context) error {
	m, err := h.registerFamily(ctx, "Yusuf Peerbux", "yusuf@example.mu", h.family()...)
	if err != nil {
		return err
	}
	_, _, err = h.Lifecycle.Approve(ctx, m.ID, scenarioActor)
	return err
}

func (h *Handler) loadArrearsScenario(ctx context.Context) error {
	m, err := h.registerFamily(ctx, "Bilal Ramjaun", "bilal@example.mu")
	if err != nil {
		return err
	}
	if m, _, err = h.Lifecycle.Approve(ctx, m.ID, scenarioActor); err != nil {
		return err
	}

	// Last year's subscription, never paid.
	lastYear := h.Clock.Today().Year() - 1
	lines := []core.InvoiceLine{{Name: "Annual Subscription", Quantity: 1, UnitPrice: m.AnnualFee}}
	if _, err := h.Accounting.CreateAndPostInvoice(ctx, m.PartnerRef, core.StartOfYear(lastYear), core.MarchCutoff(lastYear), lines); err != nil {
		return fmt.Errorf("post overdue invoice: %w", err)
	}
	_, err = h.Arrears.RefreshPaymentState(ctx, m.ID)
	return err
}

func (h *Handler) loadMedicalClaimScenario(ctx context.Context) error {
	m, err := h.registerFamily(ctx, "Fatima Dookhy", "fatima@example.mu", h.family()[:1]...)
	if err != nil {
		return err
	}
	if m, _, err = h.Lifecycle.Approve(ctx, m.ID, scenarioActor); err != nil {
		return err
	}
	if err := h.backdate(ctx, m.ID, 3); err != nil {
		return err
	}

	claim := &core.MedicalAssistanceClaim{
		MemberID:    m.ID,
		Type:        core.ClaimHospital,
		ClaimAmount: core.NewMoneyFromInt(4500, m.Currency),
		Remarks:     "Surgery at Victoria hospital",
	}
	return h.Claims.Create(ctx, claim, scenarioActor)
}

func (h *Handler) loadCommitteeScenario(ctx context.Context) error {
	today := h.Clock.Today()
	president, err := h.registerFamily(ctx, "Ismael Hossen", "ismael@example.mu")
	if err != nil {
		return err
	}
	secretary, err := h.registerFamily(ctx, "Nadia Bhugeloo", "nadia@example.mu")
	if err != nil {
		return err
	}
	for _, m := range []*core.Member{president, secretary} {
		if _, _, err := h.Lifecycle.Approve(ctx, m.ID, scenarioActor); err != nil {
			return err
		}
	}

	roles := map[string]*core.CommitteeRole{
		"president": {Name: "President", IsExecutive: true},
		"secretary": {Name: "Secretary", IsExecutive: true},
	}
	for _, key := range []string{"president", "secretary"} {
		if err := h.Committee.CreateRole(ctx, roles[key], scenarioActor); err != nil {
			return err
		}
	}

	seats := []*core.CommitteeMembership{
		{MemberID: president.ID, RoleID: roles["president"].ID, StartDate: today.AddYears(-6)},
		{MemberID: secretary.ID, RoleID: roles["secretary"].ID, StartDate: today.AddYears(-1)},
	}
	for _, cm := range seats {
		if err := h.Committee.Assign(ctx, cm, scenarioActor); err != nil {
			return err
		}
	}

	mt := &core.Meeting{
		Title:       "Annual General Meeting",
		At:          today.AddDays(14).Time.Add(18 * time.Hour),
		Location:    "Community hall",
		Type:        core.MeetingAGM,
		Agenda:      "Accounts; election of the committee",
		AttendeeIDs: []core.MemberID{president.ID, secretary.ID},
	}
	if err := h.Meetings.Schedule(ctx, mt, scenarioActor); err != nil {
		return err
	}
	if _, err := h.Meetings.Confirm(ctx, mt.ID, scenarioActor); err != nil {
		return err
	}
	_, err = h.Meetings.AddPoll(ctx, mt.ID, core.Poll{Question: "Approve the annual accounts?"}, scenarioActor)
	return err
}

// backdate moves a member's start date years into the past.
func (h *Handler) backdate(ctx context.Context, id core.MemberID, years int) error {
	return h.Store.WithTx(ctx, func(tx core.Store) error {
		m, err := tx.GetMember(ctx, id)
		if err != nil {
			return err
		}
		m.MembershipStartDate = m.MembershipStartDate.AddYears(-years)
		m.AdmissionDate = m.AdmissionDate.AddYears(-years)
		return tx.UpdateMember(ctx, m)
	})
}
