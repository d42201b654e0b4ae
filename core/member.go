package core

import "time"

// =============================================================================
// MEMBER
// =============================================================================

type MemberStatus string

const (
	StatusDraft      MemberStatus = "draft" // pending approval
	StatusActive     MemberStatus = "active"
	StatusSuspended  MemberStatus = "suspended"
	StatusTerminated MemberStatus = "terminated"
	StatusDeceased   MemberStatus = "deceased"
)

// IsTerminal reports whether no further transition is allowed.
func (s MemberStatus) IsTerminal() bool {
	return s == StatusTerminated || s == StatusDeceased
}

func (s MemberStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusSuspended, StatusTerminated, StatusDeceased:
		return true
	}
	return false
}

// memberTransitions is the lifecycle graph: draft -> active -> {suspended <-> active, terminated, deceased}.
var memberTransitions = map[MemberStatus][]MemberStatus{
	StatusDraft:     {StatusActive, StatusTerminated, StatusDeceased},
	StatusActive:    {StatusSuspended, StatusTerminated, StatusDeceased},
	StatusSuspended: {StatusActive, StatusTerminated, StatusDeceased},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to MemberStatus) bool {
	for _, next := range memberTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type PaymentState string

const (
	PaymentPending PaymentState = "pending"
	PaymentPaid    PaymentState = "paid"
	PaymentArrears PaymentState = "arrears"
)

type Category string

const (
	CategoryMember    Category = "member"
	CategoryDependent Category = "dependent"
	CategoryOrphan    Category = "orphan"
)

// Member is a person holding a membership. Dependents are stored separately
// and owned by the member (deleting the member deletes them).
type Member struct {
	ID          MemberID
	Name        string
	NationalID  string
	DateOfBirth Date
	Address     string
	Phone       string
	Email       string

	AdmissionDate       Date
	MembershipStartDate Date // set only when approval moves the member into active
	Status              MemberStatus
	PaymentState        PaymentState

	Category         Category
	OrphanSecondary  bool
	IsAutoPromoted   bool
	NotificationSent bool
	LinkedMemberID   MemberID // member this one was promoted from (non-owning)

	PartnerRef PartnerRef // account in the contact directory, created lazily

	Currency       Currency
	EntryFee       Money
	AnnualFee      Money
	DependentFee   Money
	DonationAmount Money

	Version   int // optimistic concurrency counter, bumped on every update
	CreatedAt time.Time
}

// HasAccount reports whether the partner account has been provisioned.
func (m *Member) HasAccount() bool { return m.PartnerRef != "" }

// Contact returns the directory record used to provision the member's account.
func (m *Member) Contact() Contact {
	return Contact{
		Key:     string(m.ID),
		Name:    m.Name,
		Email:   m.Email,
		Phone:   m.Phone,
		Address: m.Address,
	}
}

// FeeSchedule carries the default rates applied to new members.
type FeeSchedule struct {
	Currency     Currency
	EntryFee     Money
	AnnualFee    Money
	DependentFee Money
}

// DefaultFeeSchedule mirrors the association's published rates.
func DefaultFeeSchedule(currency Currency) FeeSchedule {
	return FeeSchedule{
		Currency:     currency,
		EntryFee:     NewMoneyFromInt(500, currency),
		AnnualFee:    NewMoneyFromInt(1000, currency),
		DependentFee: NewMoneyFromInt(500, currency),
	}
}

// ApplyDefaults fills unset fields of a freshly registered member.
func (m *Member) ApplyDefaults(fees FeeSchedule, today Date) {
	if m.Status == "" {
		m.Status = StatusDraft
	}
	if m.Category == "" {
		m.Category = CategoryMember
	}
	if m.PaymentState == "" {
		m.PaymentState = PaymentPending
	}
	if m.AdmissionDate.IsZero() {
		m.AdmissionDate = today
	}
	if m.Currency == "" {
		m.Currency = fees.Currency
	}
	if m.EntryFee.Currency == "" {
		m.EntryFee = fees.EntryFee
	}
	if m.AnnualFee.Currency == "" {
		m.AnnualFee = fees.AnnualFee
	}
	if m.DependentFee.Currency == "" {
		m.DependentFee = fees.DependentFee
	}
	if m.DonationAmount.Currency == "" {
		m.DonationAmount = ZeroMoney(m.Currency)
	}
}

// =============================================================================
// DEPENDENT
// =============================================================================

type Relation string

const (
	RelationSpouse   Relation = "spouse"
	RelationChild    Relation = "child"
	RelationRelative Relation = "relative" // care-dependent relative
	RelationDisabled Relation = "disabled"
)

func (r Relation) Valid() bool {
	switch r {
	case RelationSpouse, RelationChild, RelationRelative, RelationDisabled:
		return true
	}
	return false
}

type SubscriptionState string

const (
	SubscriptionActive       SubscriptionState = "active"
	SubscriptionUnsubscribed SubscriptionState = "unsubscribed"
)

type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
)

// Dependent is a person registered under a member's membership.
type Dependent struct {
	ID                DependentID
	MemberID          MemberID
	Name              string
	Relation          Relation
	DateOfBirth       Date
	IDNumber          string
	IsCareDependent   bool
	IsOrphan          bool
	SubscriptionState SubscriptionState
	ApprovalState     ApprovalState
	AutoPromote       bool // promote to member when the host member leaves

	Seq int64 // insertion order within the member, assigned by the store
}

func (d *Dependent) ApplyDefaults() {
	if d.SubscriptionState == "" {
		d.SubscriptionState = SubscriptionActive
	}
	if d.ApprovalState == "" {
		d.ApprovalState = ApprovalPending
	}
}

func (d *Dependent) IsUnsubscribed() bool { return d.SubscriptionState == SubscriptionUnsubscribed }
