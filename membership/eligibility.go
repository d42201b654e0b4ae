package membership

import (
	"fmt"

	"github.com/shifa/membership-engine/core"
)

// =============================================================================
// ELIGIBILITY ENGINE - Pure rule checks
// =============================================================================

const (
	AgeGroupUnknown = "Unknown"
	AgeGroupUnder14 = "Under 14"
	AgeGroupTeen    = "14–18"
	AgeGroupAdult   = "18+"
)

// DependentAgeGroup buckets a dependent by whole years (days/365).
func DependentAgeGroup(dob, today core.Date) string {
	if dob.IsZero() {
		return AgeGroupUnknown
	}
	age := core.WholeYearsBetween(dob, today)
	switch {
	case age < 14:
		return AgeGroupUnder14
	case age <= 18:
		return AgeGroupTeen
	default:
		return AgeGroupAdult
	}
}

// RevalidateDependent enforces the child age rule in place and returns the
// names of the fields it changed. A child older than the age limit who is
// not care-dependent is unsubscribed; a pending approval becomes rejected.
// Applying it again to an already resolved dependent changes nothing.
func RevalidateDependent(d *core.Dependent, today core.Date, ageLimit int) []string {
	if ageLimit <= 0 {
		ageLimit = ChildAgeLimit
	}
	if d.Relation != core.RelationChild || d.DateOfBirth.IsZero() || d.IsCareDependent {
		return nil
	}
	if core.WholeYearsBetween(d.DateOfBirth, today) <= ageLimit {
		return nil
	}
	var changed []string
	if d.SubscriptionState != core.SubscriptionUnsubscribed {
		d.SubscriptionState = core.SubscriptionUnsubscribed
		changed = append(changed, "subscription_state")
	}
	if d.ApprovalState == core.ApprovalPending {
		d.ApprovalState = core.ApprovalRejected
		changed = append(changed, "approval_state")
	}
	return changed
}

// CheckMedicalClaim gates claim creation and approval. invoices are the
// member's unpaid invoices; only posted ones count.
func (p Policy) CheckMedicalClaim(m *core.Member, invoices []core.InvoiceSummary, today core.Date) error {
	p = p.withDefaults()
	if m.MembershipStartDate.IsZero() {
		return &core.IneligibleError{
			MemberID: m.ID,
			Reason:   core.ReasonNoStartDate,
			Detail:   "membership start date is not set",
		}
	}
	if tenure := core.WholeYearsBetween(m.MembershipStartDate, today); tenure < p.MinTenureYears {
		return &core.IneligibleError{
			MemberID: m.ID,
			Reason:   core.ReasonTenureTooShort,
			Detail:   fmt.Sprintf("tenure %d years, %d required", tenure, p.MinTenureYears),
		}
	}
	for _, inv := range invoices {
		if !inv.IsUnpaid() {
			continue
		}
		if overdue := inv.DaysOverdue(today); overdue > p.OverdueThresholdDays {
			return &core.IneligibleError{
				MemberID: m.ID,
				Reason:   core.ReasonArrears,
				Detail:   fmt.Sprintf("invoice %s is %d days overdue (limit %d)", inv.Ref, overdue, p.OverdueThresholdDays),
			}
		}
	}
	return nil
}

// CheckDisbursementCap fails when requested exceeds what is left of the
// yearly cap after the amounts already approved this calendar year.
func CheckDisbursementCap(approvedThisYear []core.Money, fund core.FundSettings, requested core.Money) error {
	limit := fund.AnnualCap()
	disbursed := core.ZeroMoney(limit.Currency)
	for _, a := range approvedThisYear {
		disbursed = disbursed.Add(a)
	}
	available := limit.Sub(disbursed)
	if requested.GreaterThan(available) {
		return &core.CapExceededError{
			Cap:       limit,
			Disbursed: disbursed,
			Available: available,
			Requested: requested,
		}
	}
	return nil
}
