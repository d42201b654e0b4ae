package membership

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shifa/membership-engine/core"
	"github.com/shifa/membership-engine/logging"
)

// =============================================================================
// DEPENDENTS - Writes with in-transaction revalidation
// =============================================================================

const JobDependentAges = "dependent_ages"

type Dependents struct {
	d      Deps
	logger zerolog.Logger
}

func NewDependents(d Deps) *Dependents {
	d = d.normalized()
	return &Dependents{d: d, logger: logging.Component(d.Logger, "dependents")}
}

func validateDependent(dep *core.Dependent) error {
	if strings.TrimSpace(dep.Name) == "" {
		return core.NewValidationError("name", "dependent name is required")
	}
	if !dep.Relation.Valid() {
		return core.NewValidationError("relation", "unknown relation %q", dep.Relation)
	}
	return nil
}

// createDependent validates, revalidates and writes a new dependent, returning its events.
func createDependent(ctx context.Context, tx core.Store, dep *core.Dependent, actor core.Actor, today core.Date, now time.Time, ageLimit int) ([]core.Event, error) {
	if err := validateDependent(dep); err != nil {
		return nil, err
	}
	dep.ApplyDefaults()
	RevalidateDependent(dep, today, ageLimit)
	if err := tx.CreateDependent(ctx, dep); err != nil {
		return nil, err
	}
	cs := core.NewChangeSet(core.SubjectDependent, string(dep.ID), actor, now)
	cs.Record("subscription_state", "", dep.SubscriptionState)
	cs.Record("approval_state", "", dep.ApprovalState)
	return cs.Events(), nil
}

// Add registers a dependent under an existing member.
func (s *Dependents) Add(ctx context.Context, dep *core.Dependent, actor core.Actor) error {
	return s.d.Store.WithTx(ctx, func(tx core.Store) error {
		m, err := tx.GetMember(ctx, dep.MemberID)
		if err != nil {
			return err
		}
		if m.Status.IsTerminal() {
			return core.NewValidationError("member_id", "member %s is %s", m.ID, m.Status)
		}
		events, err := createDependent(ctx, tx, dep, actor, s.d.Clock.Today(), s.d.Clock.Now(), s.d.Policy.ChildAgeLimit)
		if err != nil {
			return err
		}
		return tx.AppendEvents(ctx, events...)
	})
}

// Update writes changed fields of a dependent and revalidates it in the
// same transaction. The owning member cannot change.
func (s *Dependents) Update(ctx context.Context, dep *core.Dependent, actor core.Actor) error {
	if err := validateDependent(dep); err != nil {
		return err
	}
	return s.d.Store.WithTx(ctx, func(tx core.Store) error {
		current, err := tx.GetDependent(ctx, dep.ID)
		if err != nil {
			return err
		}
		if dep.MemberID != "" && dep.MemberID != current.MemberID {
			return core.NewValidationError("member_id", "dependents cannot move between members")
		}
		dep.MemberID = current.MemberID
		dep.ApplyDefaults()
		RevalidateDependent(dep, s.d.Clock.Today(), s.d.Policy.ChildAgeLimit)

		cs := core.NewChangeSet(core.SubjectDependent, string(dep.ID), actor, s.d.Clock.Now())
		recordDependentDiff(cs, current, dep)
		if err := tx.UpdateDependent(ctx, dep); err != nil {
			return err
		}
		return tx.AppendEvents(ctx, cs.Events()...)
	})
}

func recordDependentDiff(cs *core.ChangeSet, old, new *core.Dependent) {
	cs.Record("name", old.Name, new.Name)
	cs.Record("relation", old.Relation, new.Relation)
	cs.Record("date_of_birth", old.DateOfBirth, new.DateOfBirth)
	cs.Record("is_care_dependent", old.IsCareDependent, new.IsCareDependent)
	cs.Record("is_orphan", old.IsOrphan, new.IsOrphan)
	cs.Record("auto_promote", old.AutoPromote, new.AutoPromote)
	cs.Record("subscription_state", old.SubscriptionState, new.SubscriptionState)
	cs.Record("approval_state", old.ApprovalState, new.ApprovalState)
}

// Remove deletes a dependent record.
func (s *Dependents) Remove(ctx context.Context, id core.DependentID, actor core.Actor) error {
	return s.d.Store.WithTx(ctx, func(tx core.Store) error {
		dep, err := tx.GetDependent(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteDependent(ctx, id); err != nil {
			return err
		}
		cs := core.NewChangeSet(core.SubjectDependent, string(id), actor, s.d.Clock.Now())
		cs.Record("deleted", dep.MemberID, "deleted")
		return tx.AppendEvents(ctx, cs.Events()...)
	})
}

// PlanDependentAges returns the dependents whose coverage the age rule would
// change today, already revalidated. The input is not modified.
func PlanDependentAges(deps []core.Dependent, today core.Date, ageLimit int) []core.Dependent {
	var changed []core.Dependent
	for _, d := range deps {
		if fields := RevalidateDependent(&d, today, ageLimit); len(fields) > 0 {
			changed = append(changed, d)
		}
	}
	return changed
}

// CheckDependentAges applies the age rule to every dependent and returns how
// many were changed. Safe to run repeatedly.
func (s *Dependents) CheckDependentAges(ctx context.Context, actor core.Actor) (int, error) {
	today := s.d.Clock.Today()
	all, err := s.d.Store.ListAllDependents(ctx)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, planned := range PlanDependentAges(all, today, s.d.Policy.ChildAgeLimit) {
		updated := false
		err := s.d.Store.WithTx(ctx, func(tx core.Store) error {
			current, err := tx.GetDependent(ctx, planned.ID)
			if err != nil {
				return err
			}
			before := *current
			if len(RevalidateDependent(current, today, s.d.Policy.ChildAgeLimit)) == 0 {
				return nil
			}
			cs := core.NewChangeSet(core.SubjectDependent, string(current.ID), actor, s.d.Clock.Now())
			recordDependentDiff(cs, &before, current)
			if err := tx.UpdateDependent(ctx, current); err != nil {
				return err
			}
			updated = true
			return tx.AppendEvents(ctx, cs.Events()...)
		})
		if err != nil {
			if core.IsNotFound(err) {
				continue
			}
			return changed, err
		}
		if updated {
			changed++
		}
	}
	if changed > 0 {
		s.logger.Info().Int(logging.COUNT, changed).Msg("dependents unsubscribed by age")
	}
	return changed, nil
}
