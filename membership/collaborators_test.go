package membership_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/shifa/membership-engine/core"
	"github.com/shifa/membership-engine/core/mocks"
	"github.com/shifa/membership-engine/core/store"
	"github.com/shifa/membership-engine/membership"
)

// =============================================================================
// Collaborator Contract Test Suite
// =============================================================================
// The membership services run against the real in-memory store while the
// accounting, contact, fund and notification collaborators are mocked, so
// the calls made across those boundaries can be asserted exactly.

type CollaboratorSuite struct {
	suite.Suite
	ctx        context.Context
	ctrl       *gomock.Controller
	accounting *mocks.MockAccountingService
	contacts   *mocks.MockContactDirectory
	fund       *mocks.MockFundSettingsProvider
	sink       *mocks.MockNotificationSink
	store      *store.Memory
	clock      *clock
	lifecycle  *membership.Lifecycle
	arrears    *membership.ArrearsMonitor
	claims     *membership.Claims
}

func TestCollaboratorSuite(t *testing.T) {
	suite.Run(t, new(CollaboratorSuite))
}

func (s *CollaboratorSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.accounting = mocks.NewMockAccountingService(s.ctrl)
	s.contacts = mocks.NewMockContactDirectory(s.ctrl)
	s.fund = mocks.NewMockFundSettingsProvider(s.ctrl)
	s.sink = mocks.NewMockNotificationSink(s.ctrl)
	s.store = store.NewMemory()
	s.clock = &clock{day: core.MustParseDate("2024-04-05")}

	d := membership.Deps{
		Store:      s.store,
		Accounting: s.accounting,
		Contacts:   s.contacts,
		Fund:       s.fund,
		Notifier:   membership.NewNotifier(s.sink, zerolog.Nop(), nil),
		Clock:      s.clock,
		Policy:     membership.DefaultPolicy(),
		Logger:     zerolog.Nop(),
	}
	s.lifecycle = membership.NewLifecycle(d)
	s.arrears = membership.NewArrearsMonitor(d, s.lifecycle)
	s.claims = membership.NewClaims(d)
}

func (s *CollaboratorSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *CollaboratorSuite) draft(name string, deps ...core.Dependent) *core.Member {
	m := &core.Member{Name: name, Email: "a@example.org"}
	_, err := s.lifecycle.Register(s.ctx, committee, m, deps)
	s.Require().NoError(err)
	return m
}

// =============================================================================
// Approval
// =============================================================================

func (s *CollaboratorSuite) TestApprovePostsComputedInvoice() {
	m := s.draft("Aisha", core.Dependent{Name: "Karim", Relation: core.RelationSpouse})

	s.contacts.EXPECT().
		GetOrCreateAccount(gomock.Any(), core.Contact{Key: string(m.ID), Name: "Aisha", Email: "a@example.org"}).
		Return(core.PartnerRef("partner-1"), nil).
		Times(1)
	s.accounting.EXPECT().
		CreateAndPostInvoice(gomock.Any(), core.PartnerRef("partner-1"),
			core.MustParseDate("2024-04-05"), core.MustParseDate("2025-03-31"), gomock.Len(3)).
		DoAndReturn(func(_ context.Context, _ core.PartnerRef, _, _ core.Date, lines []core.InvoiceLine) (core.InvoiceRef, error) {
			s.Equal(membership.LineEntranceFee, lines[0].Name)
			s.Equal("Dependent Fee: Karim", lines[2].Name)
			return "INV/2024/0001", nil
		}).
		Times(1)
	s.sink.EXPECT().
		Send(gomock.Any(), gomock.Any()).
		Return(errors.New("smtp down")).
		Times(1)

	approved, invoice, err := s.lifecycle.Approve(s.ctx, m.ID, committee)

	s.Require().NoError(err, "notification failure must not fail the approval")
	s.Equal(core.InvoiceRef("INV/2024/0001"), invoice.Ref)
	s.Equal(core.PartnerRef("partner-1"), approved.PartnerRef)
}

func (s *CollaboratorSuite) TestApproveRollsBackWhenPostingFails() {
	m := s.draft("Aisha")

	gomock.InOrder(
		s.contacts.EXPECT().GetOrCreateAccount(gomock.Any(), gomock.Any()).Return(core.PartnerRef("partner-1"), nil),
		s.accounting.EXPECT().
			CreateAndPostInvoice(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(core.InvoiceRef(""), errors.New("ledger locked")),
	)

	_, _, err := s.lifecycle.Approve(s.ctx, m.ID, committee)
	s.Require().Error(err)

	stored, err := s.store.GetMember(s.ctx, m.ID)
	s.Require().NoError(err)
	s.Equal(core.StatusDraft, stored.Status)
	s.True(stored.MembershipStartDate.IsZero())
	_, err = s.store.GetRun(s.ctx, membership.InitialInvoiceKey(m.ID))
	s.True(core.IsNotFound(err), "the idempotency key rolls back with the transaction")

	// A retry goes through; the contact directory dedupes the account
	s.contacts.EXPECT().GetOrCreateAccount(gomock.Any(), gomock.Any()).Return(core.PartnerRef("partner-1"), nil)
	s.accounting.EXPECT().
		CreateAndPostInvoice(gomock.Any(), core.PartnerRef("partner-1"), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(core.InvoiceRef("INV/2024/0002"), nil)
	s.sink.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil)

	_, invoice, err := s.lifecycle.Approve(s.ctx, m.ID, committee)
	s.Require().NoError(err)
	s.Equal(core.InvoiceRef("INV/2024/0002"), invoice.Ref)
}

// =============================================================================
// Arrears and claims
// =============================================================================

func (s *CollaboratorSuite) TestSuspendOverdueStopsOnAccountingError() {
	m := &core.Member{Name: "Aisha", Status: core.StatusActive, PartnerRef: "partner-1"}
	s.Require().NoError(s.store.CreateMember(s.ctx, m))

	s.accounting.EXPECT().
		FindUnpaidInvoices(gomock.Any(), core.PartnerRef("partner-1")).
		Return(nil, errors.New("timeout"))
	s.sink.EXPECT().Send(gomock.Any(), gomock.Any()).Times(0)

	_, err := s.arrears.SuspendOverdue(s.ctx)

	s.Error(err)
	stored, _ := s.store.GetMember(s.ctx, m.ID)
	s.Equal(core.StatusActive, stored.Status)
}

func (s *CollaboratorSuite) TestClaimApprovePropagatesFundError() {
	s.fund.EXPECT().FundSettings(gomock.Any()).Return(nil, errors.New("settings unavailable"))

	_, err := s.claims.Approve(s.ctx, "claim-1", nil, committee)

	s.Error(err)
	s.NotErrorIs(err, core.ErrConfiguration)
}

func (s *CollaboratorSuite) TestClaimApproveWithZeroFund() {
	s.fund.EXPECT().FundSettings(gomock.Any()).Return(&core.FundSettings{Total: mur(0)}, nil)

	_, err := s.claims.Approve(s.ctx, "claim-1", nil, committee)

	s.ErrorIs(err, core.ErrConfiguration)
}

func (s *CollaboratorSuite) TestClaimCreateChecksUnpaidInvoices() {
	m := &core.Member{
		Name:                "Aisha",
		Status:              core.StatusActive,
		PartnerRef:          "partner-1",
		MembershipStartDate: core.MustParseDate("2020-01-01"),
	}
	s.Require().NoError(s.store.CreateMember(s.ctx, m))

	s.accounting.EXPECT().
		FindUnpaidInvoices(gomock.Any(), core.PartnerRef("partner-1")).
		Return([]core.InvoiceSummary{{
			Ref: "INV/2023/0009", Posted: true, PaymentState: core.InvoiceNotPaid,
			DueDate: core.MustParseDate("2023-03-31"),
		}}, nil)

	err := s.claims.Create(s.ctx, &core.MedicalAssistanceClaim{MemberID: m.ID, ClaimAmount: mur(100)}, committee)

	var inel *core.IneligibleError
	s.Require().ErrorAs(err, &inel)
	s.Equal(core.ReasonArrears, inel.Reason)
}
