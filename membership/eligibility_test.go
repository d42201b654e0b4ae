package membership_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shifa/membership-engine/core"
	"github.com/shifa/membership-engine/membership"
)

func TestDependentAgeGroup(t *testing.T) {
	today := core.MustParseDate("2025-06-10")
	cases := []struct {
		dob  string
		want string
	}{
		{"", membership.AgeGroupUnknown},
		{"2015-06-10", membership.AgeGroupUnder14},
		{"2011-06-20", membership.AgeGroupUnder14},
		{"2011-06-01", membership.AgeGroupTeen},
		{"2007-01-01", membership.AgeGroupTeen},
		{"2005-01-01", membership.AgeGroupAdult},
	}
	for _, tc := range cases {
		t.Run(tc.dob, func(t *testing.T) {
			dob, err := core.ParseDate(tc.dob)
			require.NoError(t, err)
			assert.Equal(t, tc.want, membership.DependentAgeGroup(dob, today))
		})
	}
}

func TestRevalidateDependent_ChildOver23IsUnsubscribed(t *testing.T) {
	today := core.MustParseDate("2025-06-10")
	priorStates := []core.Dependent{
		{SubscriptionState: core.SubscriptionActive, ApprovalState: core.ApprovalPending},
		{SubscriptionState: core.SubscriptionActive, ApprovalState: core.ApprovalApproved},
		{SubscriptionState: core.SubscriptionUnsubscribed, ApprovalState: core.ApprovalRejected},
	}
	for _, prior := range priorStates {
		dep := prior
		dep.Relation = core.RelationChild
		dep.DateOfBirth = core.MustParseDate("2000-01-01")

		membership.RevalidateDependent(&dep, today, membership.ChildAgeLimit)

		assert.Equal(t, core.SubscriptionUnsubscribed, dep.SubscriptionState)
		if prior.ApprovalState == core.ApprovalPending {
			assert.Equal(t, core.ApprovalRejected, dep.ApprovalState)
		} else {
			assert.Equal(t, prior.ApprovalState, dep.ApprovalState)
		}
	}
}

func TestRevalidateDependent_Idempotent(t *testing.T) {
	today := core.MustParseDate("2025-06-10")
	dep := core.Dependent{
		Relation:          core.RelationChild,
		DateOfBirth:       core.MustParseDate("2000-01-01"),
		SubscriptionState: core.SubscriptionActive,
		ApprovalState:     core.ApprovalPending,
	}

	first := membership.RevalidateDependent(&dep, today, membership.ChildAgeLimit)
	snapshot := dep
	second := membership.RevalidateDependent(&dep, today, membership.ChildAgeLimit)

	assert.ElementsMatch(t, []string{"subscription_state", "approval_state"}, first)
	assert.Empty(t, second)
	assert.Equal(t, snapshot, dep)
}

func TestRevalidateDependent_Exemptions(t *testing.T) {
	today := core.MustParseDate("2025-06-10")
	old := core.MustParseDate("1990-01-01")

	exempt := []core.Dependent{
		{Relation: core.RelationChild, DateOfBirth: old, IsCareDependent: true},
		{Relation: core.RelationSpouse, DateOfBirth: old},
		{Relation: core.RelationChild},
		// exactly 23 by days/365 is still covered
		{Relation: core.RelationChild, DateOfBirth: core.MustParseDate("2002-06-01")},
	}
	for _, d := range exempt {
		d.SubscriptionState = core.SubscriptionActive
		d.ApprovalState = core.ApprovalPending
		assert.Empty(t, membership.RevalidateDependent(&d, today, membership.ChildAgeLimit))
		assert.Equal(t, core.SubscriptionActive, d.SubscriptionState)
	}
}

func TestCheckMedicalClaim(t *testing.T) {
	policy := membership.DefaultPolicy()
	today := core.MustParseDate("2025-06-10")
	member := &core.Member{ID: "m-1", MembershipStartDate: core.MustParseDate("2023-01-01")}

	t.Run("eligible", func(t *testing.T) {
		assert.NoError(t, policy.CheckMedicalClaim(member, nil, today))
	})

	t.Run("no start date", func(t *testing.T) {
		err := policy.CheckMedicalClaim(&core.Member{ID: "m-2"}, nil, today)
		var inel *core.IneligibleError
		require.ErrorAs(t, err, &inel)
		assert.Equal(t, core.ReasonNoStartDate, inel.Reason)
	})

	t.Run("tenure under two years", func(t *testing.T) {
		recent := &core.Member{ID: "m-3", MembershipStartDate: core.MustParseDate("2023-06-20")}
		err := policy.CheckMedicalClaim(recent, nil, today)
		var inel *core.IneligibleError
		require.ErrorAs(t, err, &inel)
		assert.Equal(t, core.ReasonTenureTooShort, inel.Reason)
	})

	t.Run("invoice more than 90 days overdue", func(t *testing.T) {
		invoices := []core.InvoiceSummary{{
			Ref: "INV/1", Posted: true, PaymentState: core.InvoiceNotPaid,
			InvoiceDate: core.MustParseDate("2025-01-01"), DueDate: core.MustParseDate("2025-03-11"),
		}}
		err := policy.CheckMedicalClaim(member, invoices, today)
		var inel *core.IneligibleError
		require.ErrorAs(t, err, &inel)
		assert.Equal(t, core.ReasonArrears, inel.Reason)
	})

	t.Run("exactly 90 days overdue is tolerated", func(t *testing.T) {
		invoices := []core.InvoiceSummary{{
			Posted: true, PaymentState: core.InvoicePartial,
			DueDate: core.MustParseDate("2025-03-12"),
		}}
		assert.NoError(t, policy.CheckMedicalClaim(member, invoices, today))
	})

	t.Run("unposted invoices are ignored", func(t *testing.T) {
		invoices := []core.InvoiceSummary{{Posted: false, DueDate: core.MustParseDate("2024-01-01")}}
		assert.NoError(t, policy.CheckMedicalClaim(member, invoices, today))
	})
}

func TestCheckDisbursementCap(t *testing.T) {
	fund := core.FundSettings{Total: mur(10000)}

	t.Run("4000 already approved leaves 1000", func(t *testing.T) {
		approved := []core.Money{mur(2500), mur(1500)}
		assert.NoError(t, membership.CheckDisbursementCap(approved, fund, mur(1000)))

		err := membership.CheckDisbursementCap(approved, fund, mur(1500))
		var capErr *core.CapExceededError
		require.ErrorAs(t, err, &capErr)
		assert.ErrorIs(t, err, core.ErrCapExceeded)
		assert.Equal(t, "5000.00 MUR", capErr.Cap.String())
		assert.Equal(t, "4000.00 MUR", capErr.Disbursed.String())
		assert.Equal(t, "1000.00 MUR", capErr.Available.String())
	})

	t.Run("3500 already approved fits 1500 but not 1600", func(t *testing.T) {
		approved := []core.Money{mur(3500)}
		assert.NoError(t, membership.CheckDisbursementCap(approved, fund, mur(1500)))
		assert.ErrorIs(t, membership.CheckDisbursementCap(approved, fund, mur(1600)), core.ErrCapExceeded)
	})

	t.Run("custom fraction", func(t *testing.T) {
		quarter := core.FundSettings{Total: mur(10000), CapFraction: core.MustParseDecimal("0.25")}
		assert.NoError(t, membership.CheckDisbursementCap(nil, quarter, mur(2500)))
		assert.Error(t, membership.CheckDisbursementCap(nil, quarter, mur(2501)))
	})
}
