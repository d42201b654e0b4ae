package membership

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/shifa/membership-engine/core"
	"github.com/shifa/membership-engine/logging"
)

// =============================================================================
// INVOICING SCHEDULER - Initial and annual invoices
// =============================================================================

const (
	JobInitialInvoice = "initial_invoice"
	JobAnnualInvoice  = "annual_invoice"
	JobYearlyRenewal  = "yearly_renewal"
)

// InitialInvoiceKey guards the single initial invoice of a member.
func InitialInvoiceKey(id core.MemberID) string { return "invoice:initial:" + string(id) }

// AnnualInvoiceKey guards the single annual invoice of a member per year.
func AnnualInvoiceKey(id core.MemberID, year int) string {
	return fmt.Sprintf("invoice:annual:%s:%d", id, year)
}

// DueDate applies the March 31 cutoff policy to an invoice created on d.
func DueDate(d core.Date) core.Date { return core.SubscriptionDueDate(d) }

// Invoicer builds invoice lines and hands them to the accounting service.
type Invoicer struct {
	d      Deps
	logger zerolog.Logger
}

func NewInvoicer(d Deps) *Invoicer {
	d = d.normalized()
	return &Invoicer{d: d, logger: logging.Component(d.Logger, "invoicing")}
}

// InvoiceResult reports what an invoicing call did.
type InvoiceResult struct {
	MemberID core.MemberID
	Ref      core.InvoiceRef
	DueDate  core.Date
	Skipped  bool // an invoice for this key already exists
}

// CreateInitialInvoice posts the approval invoice of a member.
func (inv *Invoicer) CreateInitialInvoice(ctx context.Context, id core.MemberID) (*InvoiceResult, error) {
	var res *InvoiceResult
	err := inv.d.Store.WithTx(ctx, func(tx core.Store) error {
		m, err := tx.GetMember(ctx, id)
		if err != nil {
			return err
		}
		res, err = inv.createInitial(ctx, tx, m, inv.d.Clock.Today())
		return err
	})
	return res, err
}

// CreateAnnualInvoice posts the renewal invoice of an active member for today's year.
func (inv *Invoicer) CreateAnnualInvoice(ctx context.Context, id core.MemberID) (*InvoiceResult, error) {
	var res *InvoiceResult
	err := inv.d.Store.WithTx(ctx, func(tx core.Store) error {
		m, err := tx.GetMember(ctx, id)
		if err != nil {
			return err
		}
		res, err = inv.createAnnual(ctx, tx, m, inv.d.Clock.Today())
		return err
	})
	return res, err
}

func (inv *Invoicer) createInitial(ctx context.Context, tx core.Store, m *core.Member, today core.Date) (*InvoiceResult, error) {
	deps, err := tx.ListDependents(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	return inv.post(ctx, tx, m, today, InitialInvoiceKey(m.ID), JobInitialInvoice, InitialFeeLines(m, deps))
}

func (inv *Invoicer) createAnnual(ctx context.Context, tx core.Store, m *core.Member, today core.Date) (*InvoiceResult, error) {
	if m.Status != core.StatusActive {
		return nil, &core.ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("member %s is %s; only active members are invoiced", m.ID, m.Status),
			Cause:   core.ErrInvalidTransition,
		}
	}
	deps, err := tx.ListDependents(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	return inv.post(ctx, tx, m, today, AnnualInvoiceKey(m.ID, today.Year()), JobAnnualInvoice, AnnualFeeLines(m, deps))
}

// post records the idempotency key first, so a second attempt under the
// same key is reported as skipped instead of posting twice.
func (inv *Invoicer) post(ctx context.Context, tx core.Store, m *core.Member, today core.Date, key, job string, lines []core.InvoiceLine) (*InvoiceResult, error) {
	res := &InvoiceResult{MemberID: m.ID, DueDate: DueDate(today)}

	run := core.JobRun{
		Key:       key,
		Job:       job,
		RunDate:   today,
		Status:    core.RunRunning,
		StartedAt: inv.d.Clock.Now(),
	}
	if err := tx.RecordRun(ctx, run); err != nil {
		if errors.Is(err, core.ErrDuplicateKey) {
			res.Skipped = true
			if prev, gerr := tx.GetRun(ctx, key); gerr == nil {
				res.Ref = core.InvoiceRef(prev.Reference)
			}
			return res, nil
		}
		return nil, err
	}

	if err := ensureAccount(ctx, tx, inv.d.Contacts, m); err != nil {
		return nil, err
	}

	ref, err := inv.d.Accounting.CreateAndPostInvoice(ctx, m.PartnerRef, today, res.DueDate, lines)
	if err != nil {
		return nil, fmt.Errorf("post %s invoice for member %s: %w", job, m.ID, err)
	}
	res.Ref = ref

	run.Status = core.RunCompleted
	run.Affected = 1
	run.Reference = string(ref)
	run.CompletedAt = inv.d.Clock.Now()
	if err := tx.FinishRun(ctx, run); err != nil {
		return nil, err
	}

	inv.d.Metrics.IncInvoice(job)
	inv.logger.Info().
		Str(logging.MEMBER, string(m.ID)).
		Str("invoice", string(ref)).
		Str("due_date", res.DueDate.String()).
		Msg("invoice posted")
	return res, nil
}

// =============================================================================
// YEARLY RENEWAL
// =============================================================================

// PlanYearlyRenewal returns the members to invoice on today: every active
// member, and nobody unless today is January 1.
func PlanYearlyRenewal(members []core.Member, today core.Date) []core.MemberID {
	if !core.IsRenewalDay(today) {
		return nil
	}
	var ids []core.MemberID
	for _, m := range members {
		if m.Status == core.StatusActive {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// RenewalResult summarizes a yearly renewal run.
type RenewalResult struct {
	Date     core.Date
	Invoiced []InvoiceResult
	Skipped  int
	Failed   map[core.MemberID]string
}

// RunYearlyRenewal invoices every active member on January 1. Each member is
// invoiced in its own transaction; a failure is reported and the run moves on.
// Re-running on the same day posts nothing new.
func (inv *Invoicer) RunYearlyRenewal(ctx context.Context) (*RenewalResult, error) {
	today := inv.d.Clock.Today()
	res := &RenewalResult{Date: today, Failed: map[core.MemberID]string{}}

	members, err := inv.d.Store.ListMembers(ctx, core.MemberFilter{Statuses: []core.MemberStatus{core.StatusActive}})
	if err != nil {
		return nil, err
	}
	for _, id := range PlanYearlyRenewal(members, today) {
		var r *InvoiceResult
		err := inv.d.Store.WithTx(ctx, func(tx core.Store) error {
			m, err := tx.GetMember(ctx, id)
			if err != nil {
				return err
			}
			r, err = inv.createAnnual(ctx, tx, m, today)
			return err
		})
		switch {
		case err != nil:
			res.Failed[id] = err.Error()
			inv.logger.Error().Err(err).Str(logging.MEMBER, string(id)).Msg("annual invoice failed")
		case r.Skipped:
			res.Skipped++
		default:
			res.Invoiced = append(res.Invoiced, *r)
		}
	}
	return res, nil
}

// ensureAccount provisions the member's partner account once and persists the reference.
func ensureAccount(ctx context.Context, tx core.Store, contacts core.ContactDirectory, m *core.Member) error {
	if m.HasAccount() {
		return nil
	}
	ref, err := contacts.GetOrCreateAccount(ctx, m.Contact())
	if err != nil {
		return fmt.Errorf("provision account for member %s: %w", m.ID, err)
	}
	m.PartnerRef = ref
	return tx.UpdateMember(ctx, m)
}
