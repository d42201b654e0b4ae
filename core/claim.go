package core

import "github.com/shopspring/decimal"

// =============================================================================
// MEDICAL ASSISTANCE CLAIM
// =============================================================================

type ClaimType string

const (
	ClaimHospital  ClaimType = "hospital"
	ClaimDental    ClaimType = "dental"
	ClaimMaternity ClaimType = "maternity"
	ClaimOptical   ClaimType = "optical"
	ClaimOther     ClaimType = "other"
)

func (t ClaimType) Valid() bool {
	switch t {
	case ClaimHospital, ClaimDental, ClaimMaternity, ClaimOptical, ClaimOther:
		return true
	}
	return false
}

type ClaimState string

const (
	ClaimDraft    ClaimState = "draft" // pending decision
	ClaimApproved ClaimState = "approved"
	ClaimRejected ClaimState = "rejected"
)

type MedicalAssistanceClaim struct {
	ID             ClaimID
	MemberID       MemberID
	DependentID    DependentID // optional
	Type           ClaimType
	ClaimAmount    Money
	ApprovedAmount Money
	State          ClaimState
	DecisionDate   Date
	Remarks        string
}

func (c *MedicalAssistanceClaim) ApplyDefaults(currency Currency) {
	if c.Type == "" {
		c.Type = ClaimOther
	}
	if c.State == "" {
		c.State = ClaimDraft
	}
	if c.ClaimAmount.Currency == "" {
		c.ClaimAmount.Currency = currency
	}
	if c.ApprovedAmount.Currency == "" {
		c.ApprovedAmount = ZeroMoney(c.ClaimAmount.Currency)
	}
}

// =============================================================================
// FUND SETTINGS
// =============================================================================

// FundSettings configures the medical-assistance fund.
type FundSettings struct {
	Total Money
	// CapFraction is the share of Total that may be disbursed per calendar year.
	CapFraction decimal.Decimal
}

// DefaultCapFraction allows half of the fund to be paid out per calendar year.
var DefaultCapFraction = decimal.NewFromFloat(0.5)

// AnnualCap returns the yearly disbursement ceiling.
func (f FundSettings) AnnualCap() Money {
	fraction := f.CapFraction
	if fraction.IsZero() {
		fraction = DefaultCapFraction
	}
	return f.Total.Mul(fraction)
}
