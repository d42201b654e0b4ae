/*
Package membership implements the membership lifecycle and the eligibility
and billing rules around it.

PURPOSE:
  Members move through draft -> active -> {suspended <-> active, terminated,
  deceased}. Around that state machine sit the rules with real temporal and
  numeric weight: the fee lines billed on approval and on every January 1,
  the March 31 due-date policy, arrears detection and suspension, dependent
  age revalidation, promotion of a dependent when the host member leaves,
  and the medical-assistance gates (tenure, arrears, yearly fund cap).

LAYOUT:
  policy.go      - Policy: currency, fee schedule and thresholds
  fees.go        - Pure fee-line computation
  eligibility.go - Pure eligibility checks (age groups, claims, cap)
  lifecycle.go   - Status transitions and dependent promotion
  dependents.go  - Dependent writes with revalidation, age cron
  invoicing.go   - Initial/annual invoices and yearly renewal
  arrears.go     - Overdue detection, suspensions, reminders, payment state
  claims.go      - Medical assistance claims
  notify.go      - After-commit, best-effort notification dispatch

CONVENTIONS:
  - "today" always comes from the injected core.Clock
  - Every write runs inside core.TxStore.WithTx together with its events
  - Notifications are queued during the transaction and sent after commit;
    delivery failures are logged and counted, never returned
*/
package membership

import (
	"github.com/rs/zerolog"

	"github.com/shifa/membership-engine/core"
	"github.com/shifa/membership-engine/metrics"
)

const (
	// OverdueThresholdDays is how far past its due date an invoice may be
	// before the member counts as in arrears.
	OverdueThresholdDays = 90

	// MinTenureYears is the qualifying period for medical assistance.
	MinTenureYears = 2

	// ChildAgeLimit is the age above which a child dependent stops being covered.
	ChildAgeLimit = 23
)

// Policy carries the association rules that are configurable per deployment.
type Policy struct {
	Currency             core.Currency
	Fees                 core.FeeSchedule
	OverdueThresholdDays int
	MinTenureYears       int
	ChildAgeLimit        int
}

func DefaultPolicy() Policy {
	return Policy{
		Currency:             core.DefaultCurrency,
		Fees:                 core.DefaultFeeSchedule(core.DefaultCurrency),
		OverdueThresholdDays: OverdueThresholdDays,
		MinTenureYears:       MinTenureYears,
		ChildAgeLimit:        ChildAgeLimit,
	}
}

// withDefaults fills zero thresholds so a partially built Policy stays usable.
func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.Currency == "" {
		p.Currency = def.Currency
	}
	if p.Fees.Currency == "" {
		p.Fees = core.DefaultFeeSchedule(p.Currency)
	}
	if p.OverdueThresholdDays <= 0 {
		p.OverdueThresholdDays = def.OverdueThresholdDays
	}
	if p.MinTenureYears <= 0 {
		p.MinTenureYears = def.MinTenureYears
	}
	if p.ChildAgeLimit <= 0 {
		p.ChildAgeLimit = def.ChildAgeLimit
	}
	return p
}

// Deps holds the collaborators shared by the membership services.
type Deps struct {
	Store      core.TxStore
	Accounting core.AccountingService
	Contacts   core.ContactDirectory
	Fund       core.FundSettingsProvider
	Notifier   *Notifier
	Clock      core.Clock
	Policy     Policy
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

func (d Deps) normalized() Deps {
	if d.Clock == nil {
		d.Clock = core.SystemClock{}
	}
	if d.Notifier == nil {
		d.Notifier = NewNotifier(nil, d.Logger, d.Metrics)
	}
	if d.Fund == nil {
		d.Fund = core.StaticFund{}
	}
	d.Policy = d.Policy.withDefaults()
	return d
}
