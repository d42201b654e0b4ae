package membership_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shifa/membership-engine/core"
	"github.com/shifa/membership-engine/membership"
)

func feeMember(donation int64) *core.Member {
	m := &core.Member{Name: "Aisha", DonationAmount: mur(donation)}
	m.ApplyDefaults(core.DefaultFeeSchedule(core.DefaultCurrency), core.MustParseDate("2025-01-01"))
	return m
}

func TestInitialFeeLines_OrderAndOrphanWaiver(t *testing.T) {
	// GIVEN: A member with a spouse, an orphan and an unsubscribed child, plus a donation
	m := feeMember(250)
	deps := []core.Dependent{
		{Name: "Karim", Relation: core.RelationSpouse},
		{Name: "Lina", Relation: core.RelationChild, IsOrphan: true},
		{Name: "Omar", Relation: core.RelationChild, SubscriptionState: core.SubscriptionUnsubscribed},
	}

	// WHEN: Computing the initial invoice lines
	lines := membership.InitialFeeLines(m, deps)

	// THEN: Entrance, annual, one line per dependent, donation; only the orphan is free
	require.Len(t, lines, 6)
	names := []string{}
	for _, l := range lines {
		names = append(names, l.Name)
		assert.Equal(t, 1, l.Quantity)
	}
	assert.Equal(t, []string{
		"Entrance Fee",
		"Annual Subscription",
		"Dependent Fee: Karim",
		"Dependent Fee: Lina",
		"Dependent Fee: Omar",
		"Donation",
	}, names)
	assert.Equal(t, "500.00 MUR", lines[0].UnitPrice.String())
	assert.Equal(t, "1000.00 MUR", lines[1].UnitPrice.String())
	assert.Equal(t, "500.00 MUR", lines[2].UnitPrice.String())
	assert.True(t, lines[3].UnitPrice.IsZero())
	assert.Equal(t, "500.00 MUR", lines[4].UnitPrice.String())
	assert.Equal(t, "250.00 MUR", lines[5].UnitPrice.String())
	assert.Equal(t, "2750.00 MUR", core.InvoiceTotal(lines, core.DefaultCurrency).String())
}

func TestInitialFeeLines_NoDonationLineWhenZero(t *testing.T) {
	lines := membership.InitialFeeLines(feeMember(0), nil)
	require.Len(t, lines, 2)
	assert.Equal(t, "Annual Subscription", lines[1].Name)
}

func TestAnnualFeeLines_WaivesUnsubscribedOrOrphan(t *testing.T) {
	m := feeMember(250)
	deps := []core.Dependent{
		{Name: "Karim", Relation: core.RelationSpouse, SubscriptionState: core.SubscriptionActive},
		{Name: "Lina", Relation: core.RelationChild, IsOrphan: true},
		{Name: "Omar", Relation: core.RelationChild, SubscriptionState: core.SubscriptionUnsubscribed},
	}

	lines := membership.AnnualFeeLines(m, deps)

	require.Len(t, lines, 4, "annual subscription plus one line per dependent, no donation")
	assert.Equal(t, "Annual Subscription", lines[0].Name)
	assert.Equal(t, "500.00 MUR", lines[1].UnitPrice.String())
	assert.True(t, lines[2].UnitPrice.IsZero())
	assert.True(t, lines[3].UnitPrice.IsZero())
	for _, l := range lines {
		assert.NotEqual(t, membership.LineDonation, l.Name)
	}
}

func TestTotalInitialFee(t *testing.T) {
	m := feeMember(250)
	deps := []core.Dependent{{Name: "A"}, {Name: "B"}}
	assert.Equal(t, "2500.00 MUR", membership.TotalInitialFee(m, deps).String())
}
