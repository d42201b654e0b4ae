/*
Package governance manages committee seats and association meetings.

COMMITTEE:
  Roles are named positions (president, treasurer...). A CommitteeMembership
  seats a member in a role from StartDate until an optional EndDate. Seats
  held for five years or more are flagged for review by TenureReview, which
  sends one governance notification per run.

MEETINGS (meeting.go):
  draft -> confirmed -> done, with cancellation from draft or confirmed.
  Polls hang off a meeting and count yes/no/abstain votes while open.

Every change appends events to the store's event log, like the membership
services do.
*/
package governance

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shifa/membership-engine/core"
	"github.com/shifa/membership-engine/logging"
	"github.com/shifa/membership-engine/membership"
)

const JobTenureReview = "committee_tenure_review"

// Deps holds the collaborators of the governance services.
type Deps struct {
	Store    core.TxStore
	Notifier *membership.Notifier
	Clock    core.Clock
	Logger   zerolog.Logger
}

func (d Deps) normalized() Deps {
	if d.Clock == nil {
		d.Clock = core.SystemClock{}
	}
	if d.Notifier == nil {
		d.Notifier = membership.NewNotifier(nil, d.Logger, nil)
	}
	return d
}

// =============================================================================
// COMMITTEE
// =============================================================================

type Committee struct {
	d      Deps
	logger zerolog.Logger
}

func NewCommittee(d Deps) *Committee {
	d = d.normalized()
	return &Committee{d: d, logger: logging.Component(d.Logger, "committee")}
}

// CreateRole stores a new committee role.
func (c *Committee) CreateRole(ctx context.Context, role *core.CommitteeRole, actor core.Actor) error {
	role.Name = strings.TrimSpace(role.Name)
	if role.Name == "" {
		return core.NewValidationError("name", "role name is required")
	}
	return c.d.Store.WithTx(ctx, func(tx core.Store) error {
		if err := tx.CreateRole(ctx, role); err != nil {
			return err
		}
		cs := core.NewChangeSet(core.SubjectCommittee, string(role.ID), actor, c.d.Clock.Now())
		cs.Record("role", "", role.Name)
		return tx.AppendEvents(ctx, cs.Events()...)
	})
}

// Assign seats a member in a role. StartDate defaults to today.
func (c *Committee) Assign(ctx context.Context, cm *core.CommitteeMembership, actor core.Actor) error {
	if cm.StartDate.IsZero() {
		cm.StartDate = c.d.Clock.Today()
	}
	if err := validateTerm(cm.StartDate, cm.EndDate); err != nil {
		return err
	}
	cm.ID = ""
	cm.Active = true

	return c.d.Store.WithTx(ctx, func(tx core.Store) error {
		m, err := tx.GetMember(ctx, cm.MemberID)
		if err != nil {
			return err
		}
		if m.Status.IsTerminal() {
			return core.NewValidationError("member_id", "member %s is %s", m.ID, m.Status)
		}
		if _, err := tx.GetRole(ctx, cm.RoleID); err != nil {
			return err
		}
		if err := tx.SaveCommitteeMembership(ctx, cm); err != nil {
			return err
		}
		cs := core.NewChangeSet(core.SubjectCommittee, string(cm.ID), actor, c.d.Clock.Now())
		cs.Record("member_id", "", cm.MemberID)
		cs.Record("role_id", "", cm.RoleID)
		cs.Record("start_date", "", cm.StartDate)
		cs.Record("end_date", "", cm.EndDate)
		c.logger.Info().Str(logging.MEMBER, string(cm.MemberID)).Str("role_id", string(cm.RoleID)).Msg("committee seat assigned")
		return tx.AppendEvents(ctx, cs.Events()...)
	})
}

// End closes a seat. A zero end date means today.
func (c *Committee) End(ctx context.Context, id core.CommitteeMembershipID, end core.Date, actor core.Actor) (*core.CommitteeMembership, error) {
	if end.IsZero() {
		end = c.d.Clock.Today()
	}
	var out *core.CommitteeMembership
	err := c.d.Store.WithTx(ctx, func(tx core.Store) error {
		cm, err := tx.GetCommitteeMembership(ctx, id)
		if err != nil {
			return err
		}
		if !cm.Active {
			return &core.ValidationError{
				Field:   "active",
				Message: "committee seat " + string(id) + " has already ended",
				Cause:   core.ErrInvalidTransition,
			}
		}
		if err := validateTerm(cm.StartDate, end); err != nil {
			return err
		}
		cs := core.NewChangeSet(core.SubjectCommittee, string(id), actor, c.d.Clock.Now())
		cs.Record("end_date", cm.EndDate, end)
		cs.Record("active", cm.Active, false)
		cm.EndDate = end
		cm.Active = false
		if err := tx.SaveCommitteeMembership(ctx, cm); err != nil {
			return err
		}
		out = cm
		return tx.AppendEvents(ctx, cs.Events()...)
	})
	return out, err
}

func validateTerm(start, end core.Date) error {
	if !end.IsZero() && start.After(end) {
		return core.NewValidationError("end_date", "start date %s must be before end date %s", start, end)
	}
	return nil
}

// ===== TENURE REVIEW =====

// TenureYears is the seat tenure in fractional years (days/365).
func TenureYears(start, today core.Date) float64 {
	return float64(core.DaysBetween(start, today)) / 365.0
}

// PlanTenureReview returns the active seats held for TenureReviewYears or more.
func PlanTenureReview(seats []core.CommitteeMembership, today core.Date) []core.CommitteeMembership {
	var flagged []core.CommitteeMembership
	for _, cm := range seats {
		if !cm.Active || cm.StartDate.IsZero() {
			continue
		}
		if TenureYears(cm.StartDate, today) >= core.TenureReviewYears {
			flagged = append(flagged, cm)
		}
	}
	return flagged
}

// TenureResult reports a tenure review run.
type TenureResult struct {
	Date     core.Date
	Flagged  []core.CommitteeMembership
	Notified bool
}

// TenureReview flags long-held seats and notifies governance once for the
// whole batch. Seats are not ended automatically.
func (c *Committee) TenureReview(ctx context.Context) (*TenureResult, error) {
	today := c.d.Clock.Today()
	seats, err := c.d.Store.ListCommitteeMemberships(ctx, true)
	if err != nil {
		return nil, err
	}
	res := &TenureResult{Date: today, Flagged: PlanTenureReview(seats, today)}
	if len(res.Flagged) == 0 {
		return res, nil
	}

	members := make([]string, 0, len(res.Flagged))
	for _, cm := range res.Flagged {
		members = append(members, string(cm.MemberID))
	}
	note := core.Notification{
		Template: core.TemplateCommitteeTenure,
		Record:   core.RecordRef{Type: core.SubjectCommittee, ID: JobTenureReview + ":" + today.String()},
		Audience: core.AudienceGovernance,
		Context: map[string]string{
			"count":   strconv.Itoa(len(res.Flagged)),
			"members": strings.Join(members, ", "),
			"years":   strconv.Itoa(core.TenureReviewYears),
		},
	}
	res.Notified = c.d.Notifier.Dispatch(ctx, note) == 1
	c.logger.Info().Int(logging.COUNT, len(res.Flagged)).Msg("committee tenure review")
	return res, nil
}
