package membership

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shifa/membership-engine/core"
	"github.com/shifa/membership-engine/logging"
)

// =============================================================================
// MEDICAL ASSISTANCE CLAIMS
// =============================================================================

const SettingMedicalFund = "medical_fund"

type Claims struct {
	d      Deps
	logger zerolog.Logger
}

func NewClaims(d Deps) *Claims {
	d = d.normalized()
	return &Claims{d: d, logger: logging.Component(d.Logger, "claims")}
}

// Create files a draft claim after the eligibility gate.
func (c *Claims) Create(ctx context.Context, claim *core.MedicalAssistanceClaim, actor core.Actor) error {
	if claim.MemberID == "" {
		return core.NewValidationError("member_id", "claim requires a member")
	}
	claim.ApplyDefaults(c.d.Policy.Currency)
	claim.State = core.ClaimDraft
	claim.DecisionDate = core.Date{}
	if err := validateClaim(claim); err != nil {
		return err
	}
	return c.d.Store.WithTx(ctx, func(tx core.Store) error {
		m, err := c.checkEligible(ctx, tx, claim)
		if err != nil {
			return err
		}
		if err := tx.CreateClaim(ctx, claim); err != nil {
			return err
		}
		cs := core.NewChangeSet(core.SubjectClaim, string(claim.ID), actor, c.d.Clock.Now())
		cs.Record("state", "", claim.State)
		cs.Record("claim_amount", "", claim.ClaimAmount)
		c.logger.Info().Str(logging.CLAIM, string(claim.ID)).Str(logging.MEMBER, string(m.ID)).Msg("claim filed")
		return tx.AppendEvents(ctx, cs.Events()...)
	})
}

// Update rewrites a draft claim. Eligibility is checked again.
func (c *Claims) Update(ctx context.Context, claim *core.MedicalAssistanceClaim, actor core.Actor) error {
	claim.ApplyDefaults(c.d.Policy.Currency)
	if err := validateClaim(claim); err != nil {
		return err
	}
	return c.d.Store.WithTx(ctx, func(tx core.Store) error {
		current, err := tx.GetClaim(ctx, claim.ID)
		if err != nil {
			return err
		}
		if current.State != core.ClaimDraft {
			return &core.ValidationError{
				Field:   "state",
				Message: "claim " + string(claim.ID) + " is " + string(current.State) + "; only draft claims can be edited",
				Cause:   core.ErrInvalidTransition,
			}
		}
		claim.State = core.ClaimDraft
		claim.DecisionDate = core.Date{}
		if _, err := c.checkEligible(ctx, tx, claim); err != nil {
			return err
		}
		cs := core.NewChangeSet(core.SubjectClaim, string(claim.ID), actor, c.d.Clock.Now())
		cs.Record("member_id", current.MemberID, claim.MemberID)
		cs.Record("dependent_id", current.DependentID, claim.DependentID)
		cs.Record("type", current.Type, claim.Type)
		cs.Record("claim_amount", current.ClaimAmount, claim.ClaimAmount)
		cs.Record("remarks", current.Remarks, claim.Remarks)
		if err := tx.UpdateClaim(ctx, claim); err != nil {
			return err
		}
		return tx.AppendEvents(ctx, cs.Events()...)
	})
}

// Approve decides a draft claim. approved may be nil to pay the claimed amount.
func (c *Claims) Approve(ctx context.Context, id core.ClaimID, approved *core.Money, actor core.Actor) (*core.MedicalAssistanceClaim, error) {
	fund, err := c.d.Fund.FundSettings(ctx)
	if err != nil {
		return nil, err
	}
	if fund == nil || !fund.Total.IsPositive() {
		return nil, &core.ConfigurationError{Setting: SettingMedicalFund}
	}
	today := c.d.Clock.Today()

	var out *core.MedicalAssistanceClaim
	err = c.d.Store.WithTx(ctx, func(tx core.Store) error {
		claim, err := tx.GetClaim(ctx, id)
		if err != nil {
			return err
		}
		if claim.State != core.ClaimDraft {
			return core.TransitionError("claim "+string(id), claim.State, core.ClaimApproved)
		}
		amount := claim.ClaimAmount
		if approved != nil {
			amount = *approved
			if amount.Currency == "" {
				amount.Currency = claim.ClaimAmount.Currency
			}
		}
		if !amount.IsPositive() {
			return core.NewValidationError("approved_amount", "must be positive")
		}
		if _, err := c.checkEligible(ctx, tx, claim); err != nil {
			return err
		}

		ytd := core.YearToDate(today)
		decided, err := tx.ListClaims(ctx, core.ClaimFilter{
			States:       []core.ClaimState{core.ClaimApproved},
			DecidedFrom:  ytd.Start,
			DecidedUntil: ytd.End,
		})
		if err != nil {
			return err
		}
		amounts := make([]core.Money, 0, len(decided))
		for _, d := range decided {
			amounts = append(amounts, d.ApprovedAmount)
		}
		if err := CheckDisbursementCap(amounts, *fund, amount); err != nil {
			return err
		}

		cs := core.NewChangeSet(core.SubjectClaim, string(id), actor, c.d.Clock.Now())
		cs.Record("state", claim.State, core.ClaimApproved)
		cs.Record("approved_amount", claim.ApprovedAmount, amount)
		cs.Record("decision_date", claim.DecisionDate, today)
		claim.State = core.ClaimApproved
		claim.ApprovedAmount = amount
		claim.DecisionDate = today
		if err := tx.UpdateClaim(ctx, claim); err != nil {
			return err
		}
		out = claim
		return tx.AppendEvents(ctx, cs.Events()...)
	})
	if err != nil {
		c.d.Metrics.IncClaimDecision("blocked")
		return nil, err
	}
	c.d.Metrics.IncClaimDecision(string(core.ClaimApproved))
	c.notifyDecision(ctx, out)
	return out, nil
}

// Reject decides a draft claim negatively.
func (c *Claims) Reject(ctx context.Context, id core.ClaimID, actor core.Actor, remarks string) (*core.MedicalAssistanceClaim, error) {
	today := c.d.Clock.Today()
	var out *core.MedicalAssistanceClaim
	err := c.d.Store.WithTx(ctx, func(tx core.Store) error {
		claim, err := tx.GetClaim(ctx, id)
		if err != nil {
			return err
		}
		if claim.State != core.ClaimDraft {
			return core.TransitionError("claim "+string(id), claim.State, core.ClaimRejected)
		}
		cs := core.NewChangeSet(core.SubjectClaim, string(id), actor, c.d.Clock.Now())
		cs.Record("state", claim.State, core.ClaimRejected)
		cs.Record("decision_date", claim.DecisionDate, today)
		cs.Record("remarks", claim.Remarks, remarks)
		claim.State = core.ClaimRejected
		claim.DecisionDate = today
		if remarks != "" {
			claim.Remarks = remarks
		}
		if err := tx.UpdateClaim(ctx, claim); err != nil {
			return err
		}
		out = claim
		return tx.AppendEvents(ctx, cs.Events()...)
	})
	if err != nil {
		return nil, err
	}
	c.d.Metrics.IncClaimDecision(string(core.ClaimRejected))
	c.notifyDecision(ctx, out)
	return out, nil
}

// checkEligible loads the claimant, verifies the dependent belongs to them
// and runs the tenure and arrears gate.
func (c *Claims) checkEligible(ctx context.Context, tx core.Store, claim *core.MedicalAssistanceClaim) (*core.Member, error) {
	m, err := tx.GetMember(ctx, claim.MemberID)
	if err != nil {
		return nil, err
	}
	if claim.DependentID != "" {
		dep, err := tx.GetDependent(ctx, claim.DependentID)
		if err != nil {
			return nil, err
		}
		if dep.MemberID != m.ID {
			return nil, core.NewValidationError("dependent_id", "dependent %s does not belong to member %s", dep.ID, m.ID)
		}
	}
	var unpaid []core.InvoiceSummary
	if m.HasAccount() {
		unpaid, err = c.d.Accounting.FindUnpaidInvoices(ctx, m.PartnerRef)
		if err != nil {
			return nil, err
		}
	}
	if err := c.d.Policy.CheckMedicalClaim(m, unpaid, c.d.Clock.Today()); err != nil {
		return nil, err
	}
	return m, nil
}

func validateClaim(claim *core.MedicalAssistanceClaim) error {
	if !claim.Type.Valid() {
		return core.NewValidationError("type", "unknown claim type %q", claim.Type)
	}
	if !claim.ClaimAmount.IsPositive() {
		return core.NewValidationError("claim_amount", "must be positive")
	}
	if strings.TrimSpace(string(claim.MemberID)) == "" {
		return core.NewValidationError("member_id", "claim requires a member")
	}
	return nil
}

func (c *Claims) notifyDecision(ctx context.Context, claim *core.MedicalAssistanceClaim) {
	c.d.Notifier.Dispatch(ctx, core.Notification{
		Template: core.TemplateClaimDecided,
		Record:   core.RecordRef{Type: core.SubjectClaim, ID: string(claim.ID)},
		Audience: core.AudienceMember,
		Context: map[string]string{
			"member":          string(claim.MemberID),
			"state":           string(claim.State),
			"approved_amount": claim.ApprovedAmount.String(),
		},
	})
}
