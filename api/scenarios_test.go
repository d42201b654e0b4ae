/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state:
	- Members and dependents are registered
	- Approved members carry their initial invoice
	- Payment states and claims match the story of the scenario
	- Committee seats and meetings are in place

These tests ensure scenarios work correctly and can be used as integration tests.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shifa/membership-engine/core"
)

func loadScenario(t *testing.T, s *testServer, id string) {
	t.Helper()
	rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestScenario_AllLoad(t *testing.T) {
	s := newTestServer(t, "2024-06-01", "")

	rec := s.do(http.MethodGet, "/api/scenarios", nil)
	list := decode[[]ScenarioDTO](t, rec)
	require.Len(t, list, 5)

	for _, sc := range list {
		t.Run(sc.ID, func(t *testing.T) {
			loadScenario(t, s, sc.ID)

			rec := s.do(http.MethodGet, "/api/scenarios/current", nil)
			assert.Equal(t, sc.ID, decode[ScenarioDTO](t, rec).ID)
		})
	}
}

func TestScenario_NewApplicant(t *testing.T) {
	// GIVEN: New applicant scenario
	// WHEN: Loading the scenario
	// THEN: One draft member with two dependents and no invoice

	s := newTestServer(t, "2024-06-01", "")
	loadScenario(t, s, "new-applicant")

	members, err := s.members.ListMembers(context.Background(), core.MemberFilter{})
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, core.StatusDraft, members[0].Status)
	assert.False(t, members[0].HasAccount())

	deps, err := s.members.ListDependents(context.Background(), members[0].ID)
	require.NoError(t, err)
	assert.Len(t, deps, 2)
}

func TestScenario_ActiveFamily(t *testing.T) {
	s := newTestServer(t, "2024-06-01", "")
	loadScenario(t, s, "active-family")

	rec := s.do(http.MethodGet, "/api/members?status=active", nil)
	members := decode[[]MemberDTO](t, rec)
	require.Len(t, members, 1)

	rec = s.do(http.MethodGet, "/api/members/"+members[0].ID+"/invoices", nil)
	invoices := decode[[]InvoiceDTO](t, rec)
	require.Len(t, invoices, 1)
	// Entry 500 + annual 1000 + three dependents at 500
	assert.Equal(t, "3000.00", invoices[0].Total)
}

func TestScenario_Arrears(t *testing.T) {
	// GIVEN: A member owing last year's subscription
	s := newTestServer(t, "2024-06-01", "")
	loadScenario(t, s, "arrears")

	rec := s.do(http.MethodGet, "/api/members", nil)
	members := decode[[]MemberDTO](t, rec)
	require.Len(t, members, 1)

	// THEN: The payment state is in arrears
	assert.Equal(t, "arrears", members[0].PaymentState)

	// AND: The member cannot claim medical assistance
	rec = s.do(http.MethodPost, "/api/claims", ClaimRequest{MemberID: members[0].ID, Amount: "100"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestScenario_MedicalClaim(t *testing.T) {
	s := newTestServer(t, "2024-06-01", "")
	loadScenario(t, s, "medical-claim")

	rec := s.do(http.MethodGet, "/api/claims?state=draft", nil)
	claims := decode[[]ClaimDTO](t, rec)
	require.Len(t, claims, 1)
	assert.Equal(t, "hospital", claims[0].Type)
	assert.Equal(t, "4500.00", claims[0].ClaimAmount)
}

func TestScenario_Committee(t *testing.T) {
	s := newTestServer(t, "2024-06-01", "")
	loadScenario(t, s, "committee")

	rec := s.do(http.MethodGet, "/api/committee/memberships?active=true", nil)
	assert.Len(t, decode[[]CommitteeMembershipDTO](t, rec), 2)

	rec = s.do(http.MethodPost, "/api/committee/tenure-review", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[TenureResultDTO](t, rec).Flagged, 1)

	rec = s.do(http.MethodGet, "/api/meetings", nil)
	meetings := decode[[]MeetingDTO](t, rec)
	require.Len(t, meetings, 1)
	assert.Equal(t, "confirmed", meetings[0].State)
	require.Len(t, meetings[0].Polls, 1)
	assert.Equal(t, "open", meetings[0].Polls[0].State)
}

func TestResetDatabase(t *testing.T) {
	s := newTestServer(t, "2024-06-01", "")
	loadScenario(t, s, "active-family")

	rec := s.do(http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/members", nil)
	assert.Empty(t, decode[[]MemberDTO](t, rec))

	rec = s.do(http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "null\n", rec.Body.String())
}

func TestLoadScenario_Unknown(t *testing.T) {
	s := newTestServer(t, "2024-06-01", "")

	rec := s.do(http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduler_RunNowOncePerPeriod(t *testing.T) {
	s := newTestServer(t, "2024-06-01", "")
	ctx := context.Background()

	first := s.h.Scheduler.RunNow(ctx)
	require.Len(t, first, 7)
	for _, run := range first {
		assert.Equal(t, core.RunCompleted, run.Status, run.Job+": "+run.Error)
	}

	assert.Empty(t, s.h.Scheduler.RunNow(ctx))
}
