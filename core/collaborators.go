package core

//go:generate mockgen -source=collaborators.go -destination=mocks/mocks.go -package=mocks AccountingService,ContactDirectory,NotificationSink,FundSettingsProvider

import "context"

// =============================================================================
// EXTERNAL COLLABORATORS
// =============================================================================

// AccountingService owns invoices. The engine computes lines and due dates;
// persistence, posting and payment tracking happen on the accounting side.
type AccountingService interface {
	CreateAndPostInvoice(ctx context.Context, partner PartnerRef, invoiceDate, dueDate Date, lines []InvoiceLine) (InvoiceRef, error)
	FindUnpaidInvoices(ctx context.Context, partner PartnerRef) ([]InvoiceSummary, error)
	// ListInvoices returns every posted invoice of the partner, paid or not.
	ListInvoices(ctx context.Context, partner PartnerRef) ([]InvoiceSummary, error)
}

// Contact is the directory record of a member's account.
type Contact struct {
	Key     string // idempotency key, the member ID
	Name    string
	Email   string
	Phone   string
	Address string
}

// ContactDirectory provisions partner accounts. GetOrCreateAccount must be
// idempotent on Contact.Key: repeated calls return the same reference.
type ContactDirectory interface {
	GetOrCreateAccount(ctx context.Context, c Contact) (PartnerRef, error)
}

// FundSettingsProvider returns the medical fund configuration, or nil when unset.
type FundSettingsProvider interface {
	FundSettings(ctx context.Context) (*FundSettings, error)
}

// StaticFund serves fixed settings; a nil value reports "not configured".
type StaticFund struct {
	Settings *FundSettings
}

func (s StaticFund) FundSettings(context.Context) (*FundSettings, error) { return s.Settings, nil }

// =============================================================================
// NOTIFICATIONS
// =============================================================================

type TemplateKey string

const (
	TemplateDependentPromoted TemplateKey = "dependent_promoted"
	TemplateDependentDeclined TemplateKey = "dependent_declined"
	TemplateArrearsSuspension TemplateKey = "arrears_suspension"
	TemplateRenewalReminder   TemplateKey = "renewal_reminder"
	TemplateRenewalSummary    TemplateKey = "renewal_reminder_summary"
	TemplateCommitteeTenure   TemplateKey = "committee_tenure_review"
	TemplateMemberApproved    TemplateKey = "member_approved"
	TemplateClaimDecided      TemplateKey = "claim_decided"
)

// Audience selects who receives a notification.
type Audience string

const (
	AudienceMember     Audience = "member"     // the record's own contact
	AudienceGovernance Audience = "governance" // committee / executive roles
)

// RecordRef points at the record a notification is about.
type RecordRef struct {
	Type SubjectType
	ID   string
}

// Notification is an outbound message request.
type Notification struct {
	Template  TemplateKey
	Record    RecordRef
	Urgent    bool
	Audience  Audience
	Recipient string            // resolved address for member notifications, optional
	Context   map[string]string // template variables
}

// NotificationSink delivers notifications. Callers treat errors as
// best-effort failures: they are logged, never propagated.
type NotificationSink interface {
	Send(ctx context.Context, n Notification) error
}
