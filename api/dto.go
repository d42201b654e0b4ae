/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract:
  - Dates travel as YYYY-MM-DD strings
  - Amounts travel as decimal strings with a separate currency

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers and services, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/shifa/membership-engine/core"
	"github.com/shifa/membership-engine/governance"
	"github.com/shifa/membership-engine/membership"
)

// =============================================================================
// MEMBERS
// =============================================================================

type MemberDTO struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	NationalID          string `json:"national_id,omitempty"`
	DateOfBirth         string `json:"date_of_birth,omitempty"`
	Address             string `json:"address,omitempty"`
	Phone               string `json:"phone,omitempty"`
	Email               string `json:"email,omitempty"`
	AdmissionDate       string `json:"admission_date,omitempty"`
	MembershipStartDate string `json:"membership_start_date,omitempty"`
	Status              string `json:"status"`
	PaymentState        string `json:"payment_state"`
	Category            string `json:"category"`
	OrphanSecondary     bool   `json:"orphan_secondary,omitempty"`
	IsAutoPromoted      bool   `json:"is_auto_promoted,omitempty"`
	LinkedMemberID      string `json:"linked_member_id,omitempty"`
	PartnerRef          string `json:"partner_ref,omitempty"`
	Currency            string `json:"currency"`
	EntryFee            string `json:"entry_fee"`
	AnnualFee           string `json:"annual_fee"`
	DependentFee        string `json:"dependent_fee"`
	DonationAmount      string `json:"donation_amount"`
	Version             int    `json:"version"`
	CreatedAt           string `json:"created_at,omitempty"`

	Dependents []DependentDTO `json:"dependents,omitempty"`
}

type RegisterMemberRequest struct {
	Name            string             `json:"name"`
	NationalID      string             `json:"national_id"`
	DateOfBirth     string             `json:"date_of_birth"`
	Address         string             `json:"address"`
	Phone           string             `json:"phone"`
	Email           string             `json:"email"`
	AdmissionDate   string             `json:"admission_date"`
	Category        string             `json:"category"`
	OrphanSecondary bool               `json:"orphan_secondary"`
	DonationAmount  string             `json:"donation_amount"`
	Dependents      []DependentRequest `json:"dependents"`
}

type SuspendRequest struct {
	Reason string `json:"reason"`
}

type ExitResultDTO struct {
	Member    MemberDTO     `json:"member"`
	Promotion *PromotionDTO `json:"promotion,omitempty"`
}

type PromotionDTO struct {
	Dependent DependentDTO `json:"dependent"`
	Outcome   string       `json:"outcome"`
	NewMember *MemberDTO   `json:"new_member,omitempty"`
}

type ApproveResultDTO struct {
	Member  MemberDTO        `json:"member"`
	Invoice InvoiceResultDTO `json:"invoice"`
}

// =============================================================================
// DEPENDENTS
// =============================================================================

type DependentDTO struct {
	ID                string `json:"id"`
	MemberID          string `json:"member_id"`
	Name              string `json:"name"`
	Relation          string `json:"relation"`
	DateOfBirth       string `json:"date_of_birth,omitempty"`
	AgeGroup          string `json:"age_group"`
	IDNumber          string `json:"id_number,omitempty"`
	IsCareDependent   bool   `json:"is_care_dependent"`
	IsOrphan          bool   `json:"is_orphan"`
	SubscriptionState string `json:"subscription_state"`
	ApprovalState     string `json:"approval_state"`
	AutoPromote       bool   `json:"auto_promote"`
}

type DependentRequest struct {
	Name            string `json:"name"`
	Relation        string `json:"relation"`
	DateOfBirth     string `json:"date_of_birth"`
	IDNumber        string `json:"id_number"`
	IsCareDependent bool   `json:"is_care_dependent"`
	IsOrphan        bool   `json:"is_orphan"`
	AutoPromote     bool   `json:"auto_promote"`
}

// =============================================================================
// INVOICES
// =============================================================================

type InvoiceLineDTO struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Total     string `json:"total"`
}

type FeePreviewDTO struct {
	Currency string           `json:"currency"`
	Lines    []InvoiceLineDTO `json:"lines"`
	Total    string           `json:"total"`
	DueDate  string           `json:"due_date"`
}

type InvoiceDTO struct {
	Ref          string `json:"ref"`
	InvoiceDate  string `json:"invoice_date"`
	DueDate      string `json:"due_date,omitempty"`
	PaymentState string `json:"payment_state"`
	Total        string `json:"total"`
	Currency     string `json:"currency"`
	DaysOverdue  int    `json:"days_overdue"`
}

type InvoiceResultDTO struct {
	MemberID string `json:"member_id"`
	Ref      string `json:"ref,omitempty"`
	DueDate  string `json:"due_date,omitempty"`
	Skipped  bool   `json:"skipped"`
}

type PaymentRequest struct {
	Ref   string `json:"ref"`
	State string `json:"state"` // not_paid | partial | paid, default paid

	// MemberID, when set, refreshes that member's payment state afterwards.
	MemberID string `json:"member_id"`
}

// =============================================================================
// CLAIMS
// =============================================================================

type ClaimDTO struct {
	ID             string `json:"id"`
	MemberID       string `json:"member_id"`
	DependentID    string `json:"dependent_id,omitempty"`
	Type           string `json:"type"`
	Currency       string `json:"currency"`
	ClaimAmount    string `json:"claim_amount"`
	ApprovedAmount string `json:"approved_amount"`
	State          string `json:"state"`
	DecisionDate   string `json:"decision_date,omitempty"`
	Remarks        string `json:"remarks,omitempty"`
}

type ClaimRequest struct {
	MemberID    string `json:"member_id"`
	DependentID string `json:"dependent_id"`
	Type        string `json:"type"`
	Amount      string `json:"amount"`
	Remarks     string `json:"remarks"`
}

type ApproveClaimRequest struct {
	// Amount overrides the claimed amount when set.
	Amount string `json:"amount"`
}

type RejectClaimRequest struct {
	Remarks string `json:"remarks"`
}

// =============================================================================
// COMMITTEE & MEETINGS
// =============================================================================

type RoleDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	IsExecutive bool   `json:"is_executive"`
	Description string `json:"description,omitempty"`
}

type RoleRequest struct {
	Name        string `json:"name"`
	IsExecutive bool   `json:"is_executive"`
	Description string `json:"description"`
}

type CommitteeMembershipDTO struct {
	ID          string  `json:"id"`
	MemberID    string  `json:"member_id"`
	RoleID      string  `json:"role_id"`
	StartDate   string  `json:"start_date"`
	EndDate     string  `json:"end_date,omitempty"`
	Active      bool    `json:"active"`
	TenureYears float64 `json:"tenure_years"`
}

type CommitteeMembershipRequest struct {
	MemberID  string `json:"member_id"`
	RoleID    string `json:"role_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type EndMembershipRequest struct {
	EndDate string `json:"end_date"`
}

type TenureResultDTO struct {
	Date     string                   `json:"date"`
	Flagged  []CommitteeMembershipDTO `json:"flagged"`
	Notified bool                     `json:"notified"`
}

type MeetingDTO struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	At          string    `json:"at"`
	Location    string    `json:"location,omitempty"`
	Type        string    `json:"type"`
	State       string    `json:"state"`
	Agenda      string    `json:"agenda,omitempty"`
	Minutes     string    `json:"minutes,omitempty"`
	AttendeeIDs []string  `json:"attendee_ids"`
	Polls       []PollDTO `json:"polls"`
}

type MeetingRequest struct {
	Title       string   `json:"title"`
	At          string   `json:"at"` // RFC3339
	Location    string   `json:"location"`
	Type        string   `json:"type"`
	Agenda      string   `json:"agenda"`
	AttendeeIDs []string `json:"attendee_ids"`
}

type HoldMeetingRequest struct {
	Minutes string `json:"minutes"`
}

type AttendeeRequest struct {
	MemberID string `json:"member_id"`
}

type PollDTO struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Type     string `json:"type"`
	Yes      int    `json:"yes"`
	No       int    `json:"no"`
	Abstain  int    `json:"abstain"`
	State    string `json:"state"`
}

type PollRequest struct {
	Question string `json:"question"`
	Type     string `json:"type"`
}

type VoteRequest struct {
	Vote string `json:"vote"`
}

// =============================================================================
// EVENTS, JOBS, SCENARIOS
// =============================================================================

type EventDTO struct {
	Timestamp   string `json:"timestamp"`
	Actor       string `json:"actor"`
	SubjectType string `json:"subject_type"`
	SubjectID   string `json:"subject_id"`
	Field       string `json:"field"`
	Old         string `json:"old"`
	New         string `json:"new"`
}

type JobRunDTO struct {
	Key         string `json:"key"`
	Job         string `json:"job"`
	RunDate     string `json:"run_date,omitempty"`
	Status      string `json:"status"`
	Affected    int    `json:"affected"`
	Reference   string `json:"reference,omitempty"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

type JobDTO struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Field   string `json:"field,omitempty"`
	Reason  string `json:"reason,omitempty"`

	// Set on disbursement cap breaches
	Cap       string `json:"cap,omitempty"`
	Disbursed string `json:"disbursed,omitempty"`
	Available string `json:"available,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func amount(m core.Money) string { return m.Value.StringFixed(2) }

func toMemberDTO(m *core.Member) MemberDTO {
	dto := MemberDTO{
		ID:                  string(m.ID),
		Name:                m.Name,
		NationalID:          m.NationalID,
		DateOfBirth:         m.DateOfBirth.String(),
		Address:             m.Address,
		Phone:               m.Phone,
		Email:               m.Email,
		AdmissionDate:       m.AdmissionDate.String(),
		MembershipStartDate: m.MembershipStartDate.String(),
		Status:              string(m.Status),
		PaymentState:        string(m.PaymentState),
		Category:            string(m.Category),
		OrphanSecondary:     m.OrphanSecondary,
		IsAutoPromoted:      m.IsAutoPromoted,
		LinkedMemberID:      string(m.LinkedMemberID),
		PartnerRef:          string(m.PartnerRef),
		Currency:            string(m.Currency),
		EntryFee:            amount(m.EntryFee),
		AnnualFee:           amount(m.AnnualFee),
		DependentFee:        amount(m.DependentFee),
		DonationAmount:      amount(m.DonationAmount),
		Version:             m.Version,
	}
	if !m.CreatedAt.IsZero() {
		dto.CreatedAt = m.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toDependentDTO(d core.Dependent, today core.Date) DependentDTO {
	return DependentDTO{
		ID:                string(d.ID),
		MemberID:          string(d.MemberID),
		Name:              d.Name,
		Relation:          string(d.Relation),
		DateOfBirth:       d.DateOfBirth.String(),
		AgeGroup:          membership.DependentAgeGroup(d.DateOfBirth, today),
		IDNumber:          d.IDNumber,
		IsCareDependent:   d.IsCareDependent,
		IsOrphan:          d.IsOrphan,
		SubscriptionState: string(d.SubscriptionState),
		ApprovalState:     string(d.ApprovalState),
		AutoPromote:       d.AutoPromote,
	}
}

func toDependentDTOs(deps []core.Dependent, today core.Date) []DependentDTO {
	dtos := make([]DependentDTO, len(deps))
	for i, d := range deps {
		dtos[i] = toDependentDTO(d, today)
	}
	return dtos
}

func toInvoiceLineDTOs(lines []core.InvoiceLine) []InvoiceLineDTO {
	dtos := make([]InvoiceLineDTO, len(lines))
	for i, l := range lines {
		dtos[i] = InvoiceLineDTO{
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: amount(l.UnitPrice),
			Total:     amount(l.Total()),
		}
	}
	return dtos
}

func toInvoiceDTO(s core.InvoiceSummary, today core.Date) InvoiceDTO {
	dto := InvoiceDTO{
		Ref:          string(s.Ref),
		InvoiceDate:  s.InvoiceDate.String(),
		DueDate:      s.DueDate.String(),
		PaymentState: string(s.PaymentState),
		Total:        amount(s.Total),
		Currency:     string(s.Total.Currency),
	}
	if s.IsUnpaid() {
		dto.DaysOverdue = max(s.DaysOverdue(today), 0)
	}
	return dto
}

func toInvoiceResultDTO(r *membership.InvoiceResult) InvoiceResultDTO {
	if r == nil {
		return InvoiceResultDTO{}
	}
	return InvoiceResultDTO{
		MemberID: string(r.MemberID),
		Ref:      string(r.Ref),
		DueDate:  r.DueDate.String(),
		Skipped:  r.Skipped,
	}
}

func toExitResultDTO(r *membership.ExitResult, today core.Date) ExitResultDTO {
	dto := ExitResultDTO{Member: toMemberDTO(r.Member)}
	if p := r.Promotion; p != nil {
		pd := &PromotionDTO{Dependent: toDependentDTO(p.Dependent, today), Outcome: string(p.Outcome)}
		if p.NewMember != nil {
			nm := toMemberDTO(p.NewMember)
			pd.NewMember = &nm
		}
		dto.Promotion = pd
	}
	return dto
}

func toClaimDTO(c *core.MedicalAssistanceClaim) ClaimDTO {
	return ClaimDTO{
		ID:             string(c.ID),
		MemberID:       string(c.MemberID),
		DependentID:    string(c.DependentID),
		Type:           string(c.Type),
		Currency:       string(c.ClaimAmount.Currency),
		ClaimAmount:    amount(c.ClaimAmount),
		ApprovedAmount: amount(c.ApprovedAmount),
		State:          string(c.State),
		DecisionDate:   c.DecisionDate.String(),
		Remarks:        c.Remarks,
	}
}

func toRoleDTO(r *core.CommitteeRole) RoleDTO {
	return RoleDTO{ID: string(r.ID), Name: r.Name, IsExecutive: r.IsExecutive, Description: r.Description}
}

func toCommitteeMembershipDTO(cm *core.CommitteeMembership, today core.Date) CommitteeMembershipDTO {
	end := today
	if !cm.EndDate.IsZero() && cm.EndDate.Before(today) {
		end = cm.EndDate
	}
	years, _ := decimal.NewFromFloat(governance.TenureYears(cm.StartDate, end)).Round(2).Float64()
	return CommitteeMembershipDTO{
		ID:          string(cm.ID),
		MemberID:    string(cm.MemberID),
		RoleID:      string(cm.RoleID),
		StartDate:   cm.StartDate.String(),
		EndDate:     cm.EndDate.String(),
		Active:      cm.Active,
		TenureYears: years,
	}
}

func toMeetingDTO(m *core.Meeting) MeetingDTO {
	dto := MeetingDTO{
		ID:          string(m.ID),
		Title:       m.Title,
		At:          m.At.UTC().Format(time.RFC3339),
		Location:    m.Location,
		Type:        string(m.Type),
		State:       string(m.State),
		Agenda:      m.Agenda,
		Minutes:     m.Minutes,
		AttendeeIDs: make([]string, len(m.AttendeeIDs)),
		Polls:       make([]PollDTO, len(m.Polls)),
	}
	for i, id := range m.AttendeeIDs {
		dto.AttendeeIDs[i] = string(id)
	}
	for i := range m.Polls {
		dto.Polls[i] = toPollDTO(&m.Polls[i])
	}
	return dto
}

func toPollDTO(p *core.Poll) PollDTO {
	return PollDTO{
		ID:       string(p.ID),
		Question: p.Question,
		Type:     string(p.Type),
		Yes:      p.Yes,
		No:       p.No,
		Abstain:  p.Abstain,
		State:    string(p.State),
	}
}

func toEventDTO(e core.Event) EventDTO {
	return EventDTO{
		Timestamp:   e.Timestamp.UTC().Format(time.RFC3339),
		Actor:       e.Actor.String(),
		SubjectType: string(e.SubjectType),
		SubjectID:   e.SubjectID,
		Field:       e.Field,
		Old:         e.Old,
		New:         e.New,
	}
}

func toJobRunDTO(r core.JobRun) JobRunDTO {
	dto := JobRunDTO{
		Key:       r.Key,
		Job:       r.Job,
		RunDate:   r.RunDate.String(),
		Status:    string(r.Status),
		Affected:  r.Affected,
		Reference: r.Reference,
		Error:     r.Error,
	}
	if !r.StartedAt.IsZero() {
		dto.StartedAt = r.StartedAt.Format(time.RFC3339)
	}
	if !r.CompletedAt.IsZero() {
		dto.CompletedAt = r.CompletedAt.Format(time.RFC3339)
	}
	return dto
}
