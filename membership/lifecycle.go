/*
lifecycle.go - Member status state machine

STATES:
  draft -> active -> {suspended <-> active, terminated, deceased}
  terminated and deceased are terminal.

OPERATIONS:
  Register      Create a draft member with its dependents
  Approve       draft -> active; account, start date, initial invoice
  Suspend       active -> suspended (manual or arrears)
  Reinstate     suspended -> active; the original start date is kept
  Terminate     non-terminal -> terminated; promotes one dependent
  MarkDeceased  non-terminal -> deceased; promotes one dependent
  Delete        Remove a member and its dependents

CONCURRENCY:
  Each operation reads the member inside WithTx, checks the current status
  and writes through UpdateMember, which rejects stale versions. Two
  concurrent approvals therefore produce one account, one start date and
  one initial invoice; the loser sees an invalid-transition or
  concurrent-modification error.
*/
package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shifa/membership-engine/core"
	"github.com/shifa/membership-engine/logging"
)

type Lifecycle struct {
	d        Deps
	invoicer *Invoicer
	logger   zerolog.Logger
}

func NewLifecycle(d Deps) *Lifecycle {
	d = d.normalized()
	return &Lifecycle{
		d:        d,
		invoicer: NewInvoicer(d),
		logger:   logging.Component(d.Logger, "lifecycle"),
	}
}

// ===== REGISTRATION =====

// Register stores a new draft member and its dependents. Every dependent is
// revalidated before it is written.
func (l *Lifecycle) Register(ctx context.Context, actor core.Actor, m *core.Member, deps []core.Dependent) ([]core.Dependent, error) {
	if strings.TrimSpace(m.Name) == "" {
		return nil, core.NewValidationError("name", "member name is required")
	}
	if m.Status != "" && m.Status != core.StatusDraft {
		return nil, core.NewValidationError("status", "new members start as draft, got %s", m.Status)
	}
	if !m.MembershipStartDate.IsZero() {
		return nil, core.NewValidationError("membership_start_date", "set on approval only")
	}
	today := l.d.Clock.Today()
	now := l.d.Clock.Now()
	m.ApplyDefaults(l.d.Policy.Fees, today)
	m.CreatedAt = now

	var saved []core.Dependent
	err := l.d.Store.WithTx(ctx, func(tx core.Store) error {
		if err := tx.CreateMember(ctx, m); err != nil {
			return err
		}
		cs := core.NewChangeSet(core.SubjectMember, string(m.ID), actor, now)
		cs.Record("status", "", m.Status)
		events := cs.Events()

		for i := range deps {
			d := deps[i]
			d.MemberID = m.ID
			evs, err := createDependent(ctx, tx, &d, actor, today, now, l.d.Policy.ChildAgeLimit)
			if err != nil {
				return err
			}
			events = append(events, evs...)
			saved = append(saved, d)
		}
		return tx.AppendEvents(ctx, events...)
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info().Str(logging.MEMBER, string(m.ID)).Int(logging.COUNT, len(saved)).Msg("member registered")
	return saved, nil
}

// ===== TRANSITIONS =====

// Approve activates a draft member: provisions the account, stamps the
// membership start date and posts the initial invoice.
func (l *Lifecycle) Approve(ctx context.Context, id core.MemberID, actor core.Actor) (*core.Member, *InvoiceResult, error) {
	today := l.d.Clock.Today()
	now := l.d.Clock.Now()
	var ob outbox
	var member *core.Member
	var invoice *InvoiceResult

	err := l.d.Store.WithTx(ctx, func(tx core.Store) error {
		m, err := tx.GetMember(ctx, id)
		if err != nil {
			return err
		}
		if m.Status != core.StatusDraft {
			return core.TransitionError("member "+string(id), m.Status, core.StatusActive)
		}
		cs := core.NewChangeSet(core.SubjectMember, string(m.ID), actor, now)
		oldPartner := m.PartnerRef
		if err := ensureAccount(ctx, tx, l.d.Contacts, m); err != nil {
			return err
		}
		cs.Record("partner_ref", oldPartner, m.PartnerRef)
		cs.Record("status", m.Status, core.StatusActive)
		cs.Record("membership_start_date", m.MembershipStartDate, today)
		m.Status = core.StatusActive
		m.MembershipStartDate = today
		if err := tx.UpdateMember(ctx, m); err != nil {
			return err
		}

		invoice, err = l.invoicer.createInitial(ctx, tx, m, today)
		if err != nil {
			return err
		}
		if err := tx.AppendEvents(ctx, cs.Events()...); err != nil {
			return err
		}
		ob.add(core.Notification{
			Template:  core.TemplateMemberApproved,
			Record:    memberRecord(m.ID),
			Audience:  core.AudienceMember,
			Recipient: m.Email,
			Context:   map[string]string{"name": m.Name, "invoice": string(invoice.Ref), "due_date": invoice.DueDate.String()},
		})
		member = m
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	l.d.Metrics.IncTransition(string(core.StatusActive))
	l.logger.Info().Str(logging.MEMBER, string(id)).Str(logging.ACTOR, actor.String()).Msg("member approved")
	ob.flush(ctx, l.d.Notifier)
	return member, invoice, nil
}

// Suspend moves an active member to suspended.
func (l *Lifecycle) Suspend(ctx context.Context, id core.MemberID, actor core.Actor, reason string) (*core.Member, error) {
	var member *core.Member
	err := l.d.Store.WithTx(ctx, func(tx core.Store) error {
		m, err := l.suspendTx(ctx, tx, id, actor, reason)
		member = m
		return err
	})
	if err != nil {
		return nil, err
	}
	l.d.Metrics.IncTransition(string(core.StatusSuspended))
	return member, nil
}

func (l *Lifecycle) suspendTx(ctx context.Context, tx core.Store, id core.MemberID, actor core.Actor, reason string) (*core.Member, error) {
	m, err := tx.GetMember(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status != core.StatusActive {
		return nil, core.TransitionError("member "+string(id), m.Status, core.StatusSuspended)
	}
	cs := core.NewChangeSet(core.SubjectMember, string(m.ID), actor, l.d.Clock.Now())
	cs.Record("status", m.Status, core.StatusSuspended)
	cs.Record("suspension_reason", "", reason)
	m.Status = core.StatusSuspended
	if err := tx.UpdateMember(ctx, m); err != nil {
		return nil, err
	}
	if err := tx.AppendEvents(ctx, cs.Events()...); err != nil {
		return nil, err
	}
	l.logger.Info().Str(logging.MEMBER, string(id)).Str("reason", reason).Msg("member suspended")
	return m, nil
}

// Reinstate returns a suspended member to active without touching the start date.
func (l *Lifecycle) Reinstate(ctx context.Context, id core.MemberID, actor core.Actor) (*core.Member, error) {
	var member *core.Member
	err := l.d.Store.WithTx(ctx, func(tx core.Store) error {
		m, err := tx.GetMember(ctx, id)
		if err != nil {
			return err
		}
		if m.Status != core.StatusSuspended {
			return core.TransitionError("member "+string(id), m.Status, core.StatusActive)
		}
		cs := core.NewChangeSet(core.SubjectMember, string(m.ID), actor, l.d.Clock.Now())
		cs.Record("status", m.Status, core.StatusActive)
		m.Status = core.StatusActive
		if err := tx.UpdateMember(ctx, m); err != nil {
			return err
		}
		member = m
		return tx.AppendEvents(ctx, cs.Events()...)
	})
	if err != nil {
		return nil, err
	}
	l.d.Metrics.IncTransition(string(core.StatusActive))
	return member, nil
}

// Terminate ends a membership and promotes one dependent.
func (l *Lifecycle) Terminate(ctx context.Context, id core.MemberID, actor core.Actor) (*ExitResult, error) {
	return l.exit(ctx, id, actor, core.StatusTerminated)
}

// MarkDeceased records a death and promotes one dependent.
func (l *Lifecycle) MarkDeceased(ctx context.Context, id core.MemberID, actor core.Actor) (*ExitResult, error) {
	return l.exit(ctx, id, actor, core.StatusDeceased)
}

// ExitResult reports the terminal transition and what happened to the dependents.
type ExitResult struct {
	Member    *core.Member
	Promotion *Promotion // nil when the member had no dependents
}

func (l *Lifecycle) exit(ctx context.Context, id core.MemberID, actor core.Actor, to core.MemberStatus) (*ExitResult, error) {
	var ob outbox
	res := &ExitResult{}
	err := l.d.Store.WithTx(ctx, func(tx core.Store) error {
		m, err := tx.GetMember(ctx, id)
		if err != nil {
			return err
		}
		if !core.CanTransition(m.Status, to) {
			return core.TransitionError("member "+string(id), m.Status, to)
		}
		cs := core.NewChangeSet(core.SubjectMember, string(m.ID), actor, l.d.Clock.Now())
		cs.Record("status", m.Status, to)
		m.Status = to
		if err := tx.UpdateMember(ctx, m); err != nil {
			return err
		}
		if err := tx.AppendEvents(ctx, cs.Events()...); err != nil {
			return err
		}
		res.Member = m
		res.Promotion, err = l.promoteFirstDependent(ctx, tx, m, actor, &ob)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.d.Metrics.IncTransition(string(to))
	l.logger.Info().Str(logging.MEMBER, string(id)).Str("status", string(to)).Msg("membership ended")
	ob.flush(ctx, l.d.Notifier)
	return res, nil
}

// Delete removes a member and, by cascade, its dependents.
func (l *Lifecycle) Delete(ctx context.Context, id core.MemberID, actor core.Actor) error {
	return l.d.Store.WithTx(ctx, func(tx core.Store) error {
		m, err := tx.GetMember(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteMember(ctx, id); err != nil {
			return err
		}
		cs := core.NewChangeSet(core.SubjectMember, string(id), actor, l.d.Clock.Now())
		cs.Record("deleted", m.Status, "deleted")
		return tx.AppendEvents(ctx, cs.Events()...)
	})
}

// ===== PROMOTION =====

type PromotionOutcome string

const (
	PromotionPromoted PromotionOutcome = "promoted"
	PromotionDeclined PromotionOutcome = "declined"
)

// Promotion describes the single dependent handled when a member exits.
type Promotion struct {
	Dependent core.Dependent
	Outcome   PromotionOutcome
	NewMember *core.Member // set when promoted
}

// SelectPromotionCandidate prefers a spouse who is still subscribed, then
// the first dependent in insertion order. deps must be in insertion order.
func SelectPromotionCandidate(deps []core.Dependent) *core.Dependent {
	for i := range deps {
		if deps[i].Relation == core.RelationSpouse && !deps[i].IsUnsubscribed() {
			return &deps[i]
		}
	}
	if len(deps) > 0 {
		return &deps[0]
	}
	return nil
}

func (l *Lifecycle) promoteFirstDependent(ctx context.Context, tx core.Store, origin *core.Member, actor core.Actor, ob *outbox) (*Promotion, error) {
	deps, err := tx.ListDependents(ctx, origin.ID)
	if err != nil {
		return nil, err
	}
	dep := SelectPromotionCandidate(deps)
	if dep == nil {
		return nil, nil
	}
	now := l.d.Clock.Now()

	if !dep.AutoPromote {
		cs := core.NewChangeSet(core.SubjectDependent, string(dep.ID), actor, now)
		cs.Record("subscription_state", dep.SubscriptionState, core.SubscriptionUnsubscribed)
		dep.SubscriptionState = core.SubscriptionUnsubscribed
		if err := tx.UpdateDependent(ctx, dep); err != nil {
			return nil, err
		}
		if err := tx.AppendEvents(ctx, cs.Events()...); err != nil {
			return nil, err
		}
		ob.add(core.Notification{
			Template: core.TemplateDependentDeclined,
			Record:   memberRecord(origin.ID),
			Audience: core.AudienceGovernance,
			Context:  map[string]string{"member": origin.Name, "dependent": dep.Name},
		})
		return &Promotion{Dependent: *dep, Outcome: PromotionDeclined}, nil
	}

	promoted, err := l.createPromotedMember(ctx, tx, origin, dep, actor, now)
	if err != nil {
		return nil, err
	}

	cs := core.NewChangeSet(core.SubjectMember, string(origin.ID), actor, now)
	cs.Record("notification_sent", origin.NotificationSent, true)
	origin.NotificationSent = true
	if err := tx.UpdateMember(ctx, origin); err != nil {
		return nil, err
	}
	if err := tx.AppendEvents(ctx, cs.Events()...); err != nil {
		return nil, err
	}
	ob.add(core.Notification{
		Template:  core.TemplateDependentPromoted,
		Record:    memberRecord(promoted.ID),
		Audience:  core.AudienceMember,
		Recipient: promoted.Email,
		Context:   map[string]string{"name": promoted.Name, "former_member": origin.Name},
	})
	return &Promotion{Dependent: *dep, Outcome: PromotionPromoted, NewMember: promoted}, nil
}

// createPromotedMember turns a dependent into an active member that shares
// the originating member's contact details and fee rates.
func (l *Lifecycle) createPromotedMember(ctx context.Context, tx core.Store, origin *core.Member, dep *core.Dependent, actor core.Actor, now time.Time) (*core.Member, error) {
	m := &core.Member{
		Name:           dep.Name,
		NationalID:     dep.IDNumber,
		DateOfBirth:    dep.DateOfBirth,
		Email:          origin.Email,
		Phone:          origin.Phone,
		Address:        origin.Address,
		Status:         core.StatusActive,
		Category:       core.CategoryMember,
		IsAutoPromoted: true,
		LinkedMemberID: origin.ID,
		Currency:       origin.Currency,
		EntryFee:       origin.EntryFee,
		AnnualFee:      origin.AnnualFee,
		DependentFee:   origin.DependentFee,
		CreatedAt:      now,
	}
	m.ApplyDefaults(l.d.Policy.Fees, l.d.Clock.Today())
	if err := tx.CreateMember(ctx, m); err != nil {
		return nil, fmt.Errorf("create promoted member: %w", err)
	}
	if err := ensureAccount(ctx, tx, l.d.Contacts, m); err != nil {
		return nil, err
	}
	cs := core.NewChangeSet(core.SubjectMember, string(m.ID), actor, now)
	cs.Record("status", "", m.Status)
	cs.Record("linked_member_id", "", m.LinkedMemberID)
	if err := tx.AppendEvents(ctx, cs.Events()...); err != nil {
		return nil, err
	}
	l.logger.Info().
		Str(logging.MEMBER, string(m.ID)).
		Str("linked_member_id", string(origin.ID)).
		Str(logging.DEPENDENT, string(dep.ID)).
		Msg("dependent promoted to member")
	return m, nil
}

// IsConflict reports whether err came from a concurrent status change.
func IsConflict(err error) bool {
	return errors.Is(err, core.ErrConcurrentModification) || errors.Is(err, core.ErrInvalidTransition)
}
