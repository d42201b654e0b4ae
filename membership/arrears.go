/*
arrears.go - Overdue detection and the jobs built on it

PLAN / APPLY:
  Every job is split in two. The plan step is a pure function of
  (members, invoices, today) that decides which members are affected and
  which notifications go out. The apply step performs the status writes,
  one transaction per member with a status guard, and then dispatches.
  Re-running a job on the same day finds nobody left to change.

JOBS:
  SuspendOverdue        Suspend members with an invoice more than 90 days late
  PostMarchSuspension   From April 1, suspend members still owing anything
                        due on or before March 31 of the current year
  SendRenewalReminders  Jan 1..Mar 31, remind members with unpaid invoices
  RefreshAll            Recompute payment_state for every member with an account

NOTIFICATIONS:
  Suspensions produce ONE batched governance notification per run, never
  one per member. Reminders go to each member plus one governance summary.
  Delivery failures never abort the status changes.
*/
package membership

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shifa/membership-engine/core"
	"github.com/shifa/membership-engine/logging"
)

const (
	JobSuspendOverdue   = "suspend_overdue"
	JobPostMarch        = "post_march_suspension"
	JobRenewalReminders = "renewal_reminders"
	JobRefreshPayments  = "refresh_payment_state"

	ReasonArrears   = "arrears"
	ReasonPostMarch = "unpaid after March 31"
)

// =============================================================================
// PURE RULES
// =============================================================================

// IsOverdue reports whether any unpaid posted invoice is more than
// threshold days past its due date (or invoice date when no due date is set).
func IsOverdue(invoices []core.InvoiceSummary, today core.Date, threshold int) bool {
	for _, inv := range invoices {
		if inv.IsUnpaid() && inv.DaysOverdue(today) > threshold {
			return true
		}
	}
	return false
}

// HasUnpaidBeforeCutoff reports whether an unpaid invoice fell due on or before cutoff.
func HasUnpaidBeforeCutoff(invoices []core.InvoiceSummary, cutoff core.Date) bool {
	for _, inv := range invoices {
		if !inv.IsUnpaid() {
			continue
		}
		due := inv.EffectiveDueDate()
		if !due.IsZero() && due.BeforeOrEqual(cutoff) {
			return true
		}
	}
	return false
}

// ComputePaymentState derives a member's payment state from all posted invoices.
func ComputePaymentState(invoices []core.InvoiceSummary, today core.Date) core.PaymentState {
	posted, paid := 0, 0
	late := false
	for _, inv := range invoices {
		if !inv.Posted {
			continue
		}
		posted++
		if inv.PaymentState == core.InvoicePaid {
			paid++
			continue
		}
		if due := inv.EffectiveDueDate(); !due.IsZero() && due.Before(today) {
			late = true
		}
	}
	switch {
	case posted == 0:
		return core.PaymentPending
	case paid == posted:
		return core.PaymentPaid
	case late:
		return core.PaymentArrears
	default:
		return core.PaymentPending
	}
}

// MemberInvoices pairs a member with its unpaid invoices.
type MemberInvoices struct {
	Member   core.Member
	Invoices []core.InvoiceSummary
}

// SuspensionPlan is the outcome of a suspension planning step.
type SuspensionPlan struct {
	Job          string
	Date         core.Date
	Reason       string
	Members      []core.Member
	Notification *core.Notification // nil when nobody is suspended
}

// PlanOverdueSuspensions selects active members more than threshold days in arrears.
func PlanOverdueSuspensions(candidates []MemberInvoices, today core.Date, threshold int) SuspensionPlan {
	plan := SuspensionPlan{Job: JobSuspendOverdue, Date: today, Reason: ReasonArrears}
	for _, c := range candidates {
		if eligibleForArrearsCheck(&c.Member) && IsOverdue(c.Invoices, today, threshold) {
			plan.Members = append(plan.Members, c.Member)
		}
	}
	plan.Notification = suspensionNotification(plan)
	return plan
}

// PlanPostMarchSuspensions selects, from April 1 onwards, active members
// with an unpaid invoice due on or before March 31 of today's year.
func PlanPostMarchSuspensions(candidates []MemberInvoices, today core.Date) SuspensionPlan {
	plan := SuspensionPlan{Job: JobPostMarch, Date: today, Reason: ReasonPostMarch}
	cutoff := core.MarchCutoff(today.Year())
	if !today.After(cutoff) {
		return plan
	}
	for _, c := range candidates {
		if eligibleForArrearsCheck(&c.Member) && HasUnpaidBeforeCutoff(c.Invoices, cutoff) {
			plan.Members = append(plan.Members, c.Member)
		}
	}
	plan.Notification = suspensionNotification(plan)
	return plan
}

func eligibleForArrearsCheck(m *core.Member) bool {
	return m.Status == core.StatusActive && m.HasAccount()
}

func suspensionNotification(plan SuspensionPlan) *core.Notification {
	if len(plan.Members) == 0 {
		return nil
	}
	names := make([]string, 0, len(plan.Members))
	for _, m := range plan.Members {
		names = append(names, m.Name)
	}
	return &core.Notification{
		Template: core.TemplateArrearsSuspension,
		Record:   core.RecordRef{Type: core.SubjectMember, ID: plan.Job + ":" + plan.Date.String()},
		Urgent:   true,
		Audience: core.AudienceGovernance,
		Context: map[string]string{
			"count":   strconv.Itoa(len(plan.Members)),
			"members": strings.Join(names, ", "),
			"reason":  plan.Reason,
			"date":    plan.Date.String(),
		},
	}
}

// ReminderPlan lists the reminders of one run.
type ReminderPlan struct {
	Date      core.Date
	Reminders []core.Notification
	Summary   *core.Notification
}

// PlanRenewalReminders builds reminders during the renewal season (Jan 1..Mar 31).
func PlanRenewalReminders(candidates []MemberInvoices, today core.Date) ReminderPlan {
	plan := ReminderPlan{Date: today}
	if !core.RenewalSeason(today.Year()).Contains(today) {
		return plan
	}
	for _, c := range candidates {
		if !eligibleForArrearsCheck(&c.Member) {
			continue
		}
		unpaid := 0
		total := core.ZeroMoney(c.Member.Currency)
		for _, inv := range c.Invoices {
			if inv.IsUnpaid() {
				unpaid++
				total = total.Add(inv.Total)
			}
		}
		if unpaid == 0 {
			continue
		}
		plan.Reminders = append(plan.Reminders, core.Notification{
			Template:  core.TemplateRenewalReminder,
			Record:    memberRecord(c.Member.ID),
			Audience:  core.AudienceMember,
			Recipient: c.Member.Email,
			Context: map[string]string{
				"name":     c.Member.Name,
				"invoices": strconv.Itoa(unpaid),
				"amount":   total.String(),
				"due_date": core.MarchCutoff(today.Year()).String(),
			},
		})
	}
	return plan
}

// =============================================================================
// ARREARS MONITOR - Apply step
// =============================================================================

type ArrearsMonitor struct {
	d         Deps
	lifecycle *Lifecycle
	logger    zerolog.Logger
}

func NewArrearsMonitor(d Deps, lc *Lifecycle) *ArrearsMonitor {
	d = d.normalized()
	if lc == nil {
		lc = NewLifecycle(d)
	}
	return &ArrearsMonitor{d: d, lifecycle: lc, logger: logging.Component(d.Logger, "arrears")}
}

// SuspensionResult reports an applied suspension plan.
type SuspensionResult struct {
	Job       string
	Date      core.Date
	Suspended []core.MemberID
	Failed    map[core.MemberID]string
	Notified  bool
}

// collect loads the unpaid invoices of every active member with an account.
func (a *ArrearsMonitor) collect(ctx context.Context) ([]MemberInvoices, error) {
	members, err := a.d.Store.ListMembers(ctx, core.MemberFilter{Statuses: []core.MemberStatus{core.StatusActive}})
	if err != nil {
		return nil, err
	}
	var out []MemberInvoices
	for _, m := range members {
		if !m.HasAccount() {
			continue
		}
		invoices, err := a.d.Accounting.FindUnpaidInvoices(ctx, m.PartnerRef)
		if err != nil {
			return nil, fmt.Errorf("unpaid invoices of member %s: %w", m.ID, err)
		}
		out = append(out, MemberInvoices{Member: m, Invoices: invoices})
	}
	return out, nil
}

// FindOverdue returns the distinct active members more than the threshold in arrears.
func (a *ArrearsMonitor) FindOverdue(ctx context.Context) ([]core.Member, error) {
	candidates, err := a.collect(ctx)
	if err != nil {
		return nil, err
	}
	return PlanOverdueSuspensions(candidates, a.d.Clock.Today(), a.d.Policy.OverdueThresholdDays).Members, nil
}

// SuspendOverdue suspends every member found by FindOverdue.
func (a *ArrearsMonitor) SuspendOverdue(ctx context.Context) (*SuspensionResult, error) {
	candidates, err := a.collect(ctx)
	if err != nil {
		return nil, err
	}
	plan := PlanOverdueSuspensions(candidates, a.d.Clock.Today(), a.d.Policy.OverdueThresholdDays)
	return a.ApplySuspensions(ctx, plan), nil
}

// PostMarchSuspension suspends members still owing invoices due by March 31.
func (a *ArrearsMonitor) PostMarchSuspension(ctx context.Context) (*SuspensionResult, error) {
	today := a.d.Clock.Today()
	if !today.After(core.MarchCutoff(today.Year())) {
		return &SuspensionResult{Job: JobPostMarch, Date: today, Failed: map[core.MemberID]string{}}, nil
	}
	candidates, err := a.collect(ctx)
	if err != nil {
		return nil, err
	}
	return a.ApplySuspensions(ctx, PlanPostMarchSuspensions(candidates, today)), nil
}

// ApplySuspensions writes a plan. Members that are no longer active by the
// time their transaction runs are skipped. The batched notification is sent
// only when at least one member was actually suspended.
func (a *ArrearsMonitor) ApplySuspensions(ctx context.Context, plan SuspensionPlan) *SuspensionResult {
	res := &SuspensionResult{Job: plan.Job, Date: plan.Date, Failed: map[core.MemberID]string{}}
	var suspended []core.Member
	for _, m := range plan.Members {
		var done *core.Member
		err := a.d.Store.WithTx(ctx, func(tx core.Store) error {
			current, err := tx.GetMember(ctx, m.ID)
			if err != nil {
				return err
			}
			if current.Status != core.StatusActive {
				return nil
			}
			done, err = a.lifecycle.suspendTx(ctx, tx, m.ID, core.SystemActor, plan.Reason)
			return err
		})
		if err != nil {
			res.Failed[m.ID] = err.Error()
			a.logger.Error().Err(err).Str(logging.MEMBER, string(m.ID)).Str(logging.JOB, plan.Job).Msg("suspension failed")
			continue
		}
		if done != nil {
			a.d.Metrics.IncTransition(string(core.StatusSuspended))
			res.Suspended = append(res.Suspended, m.ID)
			suspended = append(suspended, *done)
		}
	}

	if len(suspended) > 0 {
		applied := plan
		applied.Members = suspended
		if note := suspensionNotification(applied); note != nil {
			res.Notified = a.d.Notifier.Dispatch(ctx, *note) == 1
		}
	}
	a.logger.Info().Str(logging.JOB, plan.Job).Int(logging.COUNT, len(res.Suspended)).Msg("suspension run complete")
	return res
}

// ReminderResult reports a reminder run.
type ReminderResult struct {
	Date          core.Date
	Planned       int
	Sent          int
	SummarySent   bool
	OutsideSeason bool
}

// SendRenewalReminders reminds members with unpaid invoices during the renewal season.
func (a *ArrearsMonitor) SendRenewalReminders(ctx context.Context) (*ReminderResult, error) {
	today := a.d.Clock.Today()
	res := &ReminderResult{Date: today}
	if !core.RenewalSeason(today.Year()).Contains(today) {
		res.OutsideSeason = true
		return res, nil
	}
	candidates, err := a.collect(ctx)
	if err != nil {
		return nil, err
	}
	plan := PlanRenewalReminders(candidates, today)
	res.Planned = len(plan.Reminders)
	res.Sent = a.d.Notifier.Dispatch(ctx, plan.Reminders...)
	if res.Sent > 0 {
		summary := core.Notification{
			Template: core.TemplateRenewalSummary,
			Record:   core.RecordRef{Type: core.SubjectMember, ID: JobRenewalReminders + ":" + today.String()},
			Audience: core.AudienceGovernance,
			Context:  map[string]string{"sent": strconv.Itoa(res.Sent), "date": today.String()},
		}
		res.SummarySent = a.d.Notifier.Dispatch(ctx, summary) == 1
	}
	return res, nil
}

// RefreshPaymentState recomputes and stores one member's payment state.
func (a *ArrearsMonitor) RefreshPaymentState(ctx context.Context, id core.MemberID) (core.PaymentState, error) {
	var state core.PaymentState
	err := a.d.Store.WithTx(ctx, func(tx core.Store) error {
		m, err := tx.GetMember(ctx, id)
		if err != nil {
			return err
		}
		state, err = a.refreshTx(ctx, tx, m)
		return err
	})
	return state, err
}

func (a *ArrearsMonitor) refreshTx(ctx context.Context, tx core.Store, m *core.Member) (core.PaymentState, error) {
	var invoices []core.InvoiceSummary
	if m.HasAccount() {
		var err error
		invoices, err = a.d.Accounting.ListInvoices(ctx, m.PartnerRef)
		if err != nil {
			return "", fmt.Errorf("invoices of member %s: %w", m.ID, err)
		}
	}
	state := ComputePaymentState(invoices, a.d.Clock.Today())
	if state == m.PaymentState {
		return state, nil
	}
	cs := core.NewChangeSet(core.SubjectMember, string(m.ID), core.SystemActor, a.d.Clock.Now())
	cs.Record("payment_state", m.PaymentState, state)
	m.PaymentState = state
	if err := tx.UpdateMember(ctx, m); err != nil {
		return "", err
	}
	return state, tx.AppendEvents(ctx, cs.Events()...)
}

// RefreshAll recomputes payment state for every member with an account and
// returns how many changed.
func (a *ArrearsMonitor) RefreshAll(ctx context.Context) (int, error) {
	hasAccount := true
	members, err := a.d.Store.ListMembers(ctx, core.MemberFilter{HasAccount: &hasAccount})
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, m := range members {
		before := m.PaymentState
		var after core.PaymentState
		err := a.d.Store.WithTx(ctx, func(tx core.Store) error {
			current, err := tx.GetMember(ctx, m.ID)
			if err != nil {
				return err
			}
			before = current.PaymentState
			after, err = a.refreshTx(ctx, tx, current)
			return err
		})
		if err != nil {
			a.logger.Error().Err(err).Str(logging.MEMBER, string(m.ID)).Msg("payment state refresh failed")
			continue
		}
		if after != before {
			changed++
		}
	}
	return changed, nil
}
