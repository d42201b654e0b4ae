package membership_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shifa/membership-engine/core"
	"github.com/shifa/membership-engine/membership"
)

// claimant returns a paid-up member approved on 2021-01-04.
func (e *env) claimant(name string, deps ...core.Dependent) *core.Member {
	e.t.Helper()
	m := e.activeMember(name, "2021-01-04", deps...)
	e.payAll(m)
	return m
}

func (e *env) fileClaim(m *core.Member, amount int64) *core.MedicalAssistanceClaim {
	e.t.Helper()
	claim := &core.MedicalAssistanceClaim{MemberID: m.ID, Type: core.ClaimHospital, ClaimAmount: mur(amount)}
	require.NoError(e.t, e.claims.Create(e.ctx, claim, committee))
	return claim
}

func TestClaimCreate_EligibleMember(t *testing.T) {
	e := newEnv(t, "2021-01-01")
	m := e.claimant("Aisha")
	e.clock.set("2024-06-01")

	claim := e.fileClaim(m, 2000)

	stored, err := e.store.GetClaim(e.ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ClaimDraft, stored.State)
	assert.True(t, stored.DecisionDate.IsZero())
}

func TestClaimCreate_TenureTooShort(t *testing.T) {
	e := newEnv(t, "2023-09-01")
	m := e.activeMember("Bilal", "2023-09-01")
	e.payAll(m)
	e.clock.set("2024-06-01")

	err := e.claims.Create(e.ctx, &core.MedicalAssistanceClaim{MemberID: m.ID, ClaimAmount: mur(100)}, committee)

	var inel *core.IneligibleError
	require.ErrorAs(t, err, &inel)
	assert.Equal(t, core.ReasonTenureTooShort, inel.Reason)
	claims, err := e.store.ListClaims(e.ctx, core.ClaimFilter{MemberID: m.ID})
	require.NoError(t, err)
	assert.Empty(t, claims)
}

func TestClaimCreate_DraftMemberHasNoStartDate(t *testing.T) {
	e := newEnv(t, "2021-01-01")
	m := e.register("Chloe")

	err := e.claims.Create(e.ctx, &core.MedicalAssistanceClaim{MemberID: m.ID, ClaimAmount: mur(100)}, committee)

	var inel *core.IneligibleError
	require.ErrorAs(t, err, &inel)
	assert.Equal(t, core.ReasonNoStartDate, inel.Reason)
}

func TestClaimCreate_ArrearsBlocks(t *testing.T) {
	e := newEnv(t, "2021-01-01")
	m := e.activeMember("Aisha", "2021-01-04")
	e.clock.set("2024-06-01")

	// The initial invoice fell due on 2021-03-31 and was never paid
	err := e.claims.Create(e.ctx, &core.MedicalAssistanceClaim{MemberID: m.ID, ClaimAmount: mur(100)}, committee)

	assert.ErrorIs(t, err, core.ErrIneligible)
}

func TestClaimCreate_ForeignDependent(t *testing.T) {
	e := newEnv(t, "2021-01-01")
	a := e.claimant("Aisha")
	b := e.claimant("Bilal", core.Dependent{Name: "Karim", Relation: core.RelationSpouse})
	deps, err := e.store.ListDependents(e.ctx, b.ID)
	require.NoError(t, err)
	e.clock.set("2024-06-01")

	err = e.claims.Create(e.ctx, &core.MedicalAssistanceClaim{
		MemberID:    a.ID,
		DependentID: deps[0].ID,
		ClaimAmount: mur(100),
	}, committee)

	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestClaimCreate_Validation(t *testing.T) {
	e := newEnv(t, "2021-01-01")
	m := e.claimant("Aisha")

	assert.ErrorIs(t, e.claims.Create(e.ctx, &core.MedicalAssistanceClaim{ClaimAmount: mur(10)}, committee), core.ErrValidation)
	assert.ErrorIs(t, e.claims.Create(e.ctx, &core.MedicalAssistanceClaim{MemberID: m.ID}, committee), core.ErrValidation)
	assert.ErrorIs(t, e.claims.Create(e.ctx, &core.MedicalAssistanceClaim{
		MemberID: m.ID, Type: "cosmetic", ClaimAmount: mur(10),
	}, committee), core.ErrValidation)
}

func TestClaimApprove_CapAcrossTheYear(t *testing.T) {
	e := newEnv(t, "2021-01-01")
	m := e.claimant("Aisha")
	e.clock.set("2024-02-01")

	// GIVEN: 4000 already approved this year against a 10000 fund
	first := e.fileClaim(m, 4000)
	_, err := e.claims.Approve(e.ctx, first.ID, nil, committee)
	require.NoError(t, err)

	// WHEN: A 1500 claim is approved in full
	e.clock.set("2024-06-01")
	second := e.fileClaim(m, 1500)
	_, err = e.claims.Approve(e.ctx, second.ID, nil, committee)

	// THEN: The 5000 cap blocks it and the claim stays draft
	var capErr *core.CapExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "1000.00 MUR", capErr.Available.String())
	stored, err := e.store.GetClaim(e.ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ClaimDraft, stored.State)

	// WHEN: The committee approves a reduced amount instead
	reduced := mur(1000)
	approved, err := e.claims.Approve(e.ctx, second.ID, &reduced, committee)

	// THEN: It fits exactly
	require.NoError(t, err)
	assert.Equal(t, core.ClaimApproved, approved.State)
	assert.Equal(t, "1000.00 MUR", approved.ApprovedAmount.String())
	assert.Equal(t, core.MustParseDate("2024-06-01"), approved.DecisionDate)
	assert.Len(t, e.sink.byTemplate(core.TemplateClaimDecided), 2)
}

func TestClaimApprove_PreviousYearDoesNotCount(t *testing.T) {
	e := newEnv(t, "2021-01-01")
	m := e.claimant("Aisha")

	e.clock.set("2023-12-20")
	old := e.fileClaim(m, 5000)
	_, err := e.claims.Approve(e.ctx, old.ID, nil, committee)
	require.NoError(t, err)

	e.clock.set("2024-01-05")
	fresh := e.fileClaim(m, 5000)
	_, err = e.claims.Approve(e.ctx, fresh.ID, nil, committee)
	assert.NoError(t, err)
}

func TestClaimApprove_FundNotConfigured(t *testing.T) {
	e := newEnv(t, "2021-01-01")
	m := e.claimant("Aisha")
	e.clock.set("2024-06-01")
	claim := e.fileClaim(m, 100)

	deps := e.deps
	deps.Fund = core.StaticFund{}
	_, err := membership.NewClaims(deps).Approve(e.ctx, claim.ID, nil, committee)

	var cfgErr *core.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, membership.SettingMedicalFund, cfgErr.Setting)
}

func TestClaimApprove_NonPositiveAmount(t *testing.T) {
	e := newEnv(t, "2021-01-01")
	m := e.claimant("Aisha")
	e.clock.set("2024-06-01")
	claim := e.fileClaim(m, 100)

	zero := mur(0)
	_, err := e.claims.Approve(e.ctx, claim.ID, &zero, committee)

	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestClaimReject_ThenNoFurtherDecision(t *testing.T) {
	e := newEnv(t, "2021-01-01")
	m := e.claimant("Aisha")
	e.clock.set("2024-06-01")
	claim := e.fileClaim(m, 100)

	rejected, err := e.claims.Reject(e.ctx, claim.ID, committee, "not covered")
	require.NoError(t, err)
	assert.Equal(t, core.ClaimRejected, rejected.State)
	assert.Equal(t, "not covered", rejected.Remarks)
	assert.Equal(t, core.MustParseDate("2024-06-01"), rejected.DecisionDate)

	_, err = e.claims.Approve(e.ctx, claim.ID, nil, committee)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	rejected.ClaimAmount = mur(50)
	assert.ErrorIs(t, e.claims.Update(e.ctx, rejected, committee), core.ErrInvalidTransition)
}

func TestClaimUpdate_Draft(t *testing.T) {
	e := newEnv(t, "2021-01-01")
	m := e.claimant("Aisha")
	e.clock.set("2024-06-01")
	claim := e.fileClaim(m, 100)

	claim.ClaimAmount = mur(250)
	claim.Remarks = "revised quote"
	require.NoError(t, e.claims.Update(e.ctx, claim, committee))

	stored, err := e.store.GetClaim(e.ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, "250.00 MUR", stored.ClaimAmount.String())

	events, err := e.store.QueryEvents(e.ctx, core.EventFilter{SubjectType: core.SubjectClaim, SubjectID: string(claim.ID)})
	require.NoError(t, err)
	fields := map[string]bool{}
	for _, ev := range events {
		fields[ev.Field] = true
	}
	assert.True(t, fields["claim_amount"])
	assert.True(t, fields["remarks"])
}
