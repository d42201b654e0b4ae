/*
Package core provides the domain model and contracts of the membership engine.

PURPOSE:
  This package holds the entities (members, dependents, claims, committee and
  meeting records), value types (dates, money), the error taxonomy, the
  repository interfaces and the contracts of the external collaborators
  (accounting, contact directory, notifications, clock). Rule engines in
  the membership and governance packages operate on these types only and
  never touch storage directly.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal amount with an explicit currency
  - Identifiers: Type-safe IDs so member/dependent/claim IDs cannot be mixed
  - Actor: Who performed a change, passed explicitly into every operation

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal, never float64, for fees and payouts
  2. Explicit context: Currency, actor and today are parameters, not globals
  3. Auditability: Every lifecycle transition appends an Event (events.go)

SEE ALSO:
  - member.go: Member and Dependent entities
  - claim.go: Medical-assistance claims and fund settings
  - store.go: Repository interfaces
  - collaborators.go: External service contracts
*/
package core

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal amount with currency
// =============================================================================

type Currency string

const DefaultCurrency Currency = "MUR"

type Money struct {
	Value    decimal.Decimal
	Currency Currency
}

func NewMoney(value float64, currency Currency) Money {
	return Money{Value: decimal.NewFromFloat(value), Currency: currency}
}

func NewMoneyFromInt(value int64, currency Currency) Money {
	return Money{Value: decimal.NewFromInt(value), Currency: currency}
}

func ZeroMoney(currency Currency) Money { return Money{Value: decimal.Zero, Currency: currency} }

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (m Money) Add(b Money) Money           { return Money{Value: m.Value.Add(b.Value), Currency: m.Currency} }
func (m Money) Sub(b Money) Money           { return Money{Value: m.Value.Sub(b.Value), Currency: m.Currency} }
func (m Money) Mul(s decimal.Decimal) Money { return Money{Value: m.Value.Mul(s), Currency: m.Currency} }
func (m Money) IsZero() bool                { return m.Value.IsZero() }
func (m Money) IsPositive() bool            { return m.Value.IsPositive() }
func (m Money) IsNegative() bool            { return m.Value.IsNegative() }
func (m Money) GreaterThan(b Money) bool    { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool       { return m.Value.LessThan(b.Value) }
func (m Money) Equal(b Money) bool          { return m.Value.Equal(b.Value) }
func (m Money) String() string              { return m.Value.StringFixed(2) + " " + string(m.Currency) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type MemberID string
type DependentID string
type ClaimID string
type CommitteeRoleID string
type CommitteeMembershipID string
type MeetingID string
type PollID string

// PartnerRef identifies an account in the contact directory.
type PartnerRef string

// InvoiceRef identifies an invoice held by the accounting service.
type InvoiceRef string

// NewID returns a random identifier for a new record.
func NewID() string { return uuid.NewString() }

// =============================================================================
// ACTOR - Who triggered a change
// =============================================================================

type Actor struct {
	ID   string
	Kind ActorKind
}

type ActorKind string

const (
	ActorUser      ActorKind = "user"
	ActorCommittee ActorKind = "committee"
	ActorSystem    ActorKind = "system"
)

// SystemActor is used by scheduled jobs.
var SystemActor = Actor{ID: "scheduler", Kind: ActorSystem}

func (a Actor) String() string {
	if a.ID == "" {
		return string(a.Kind)
	}
	return string(a.Kind) + ":" + a.ID
}
