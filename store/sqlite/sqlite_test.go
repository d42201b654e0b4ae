package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shifa/membership-engine/core"
	"github.com/shifa/membership-engine/membership"
	"github.com/shifa/membership-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newAccounting(t *testing.T) *sqlite.Accounting {
	t.Helper()
	a, err := sqlite.NewAccounting(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func newMember(name string) *core.Member {
	m := &core.Member{Name: name, Email: "aisha@example.org", DateOfBirth: core.MustParseDate("1980-05-17")}
	m.ApplyDefaults(core.DefaultFeeSchedule(core.DefaultCurrency), core.MustParseDate("2025-01-01"))
	return m
}

func TestMember_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	m := newMember("Aisha")
	m.DonationAmount = core.NewMoneyFromInt(250, core.DefaultCurrency)
	require.NoError(t, s.CreateMember(ctx, m))
	require.NotEmpty(t, m.ID)

	got, err := s.GetMember(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Aisha", got.Name)
	assert.Equal(t, core.StatusDraft, got.Status)
	assert.Equal(t, "1980-05-17", got.DateOfBirth.String())
	assert.True(t, got.MembershipStartDate.IsZero())
	assert.Equal(t, "500.00 MUR", got.EntryFee.String())
	assert.Equal(t, "250.00 MUR", got.DonationAmount.String())
	assert.Equal(t, 1, got.Version)
	assert.False(t, got.HasAccount())

	_, err = s.GetMember(ctx, "ghost")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, s.CreateMember(ctx, m), core.ErrDuplicateKey)
}

func TestUpdateMember_OptimisticLocking(t *testing.T) {
	// GIVEN: Two readers of the same member
	ctx := context.Background()
	s := newStore(t)
	m := newMember("Aisha")
	require.NoError(t, s.CreateMember(ctx, m))
	first, _ := s.GetMember(ctx, m.ID)
	second, _ := s.GetMember(ctx, m.ID)

	// WHEN: Both write
	first.Status = core.StatusActive
	require.NoError(t, s.UpdateMember(ctx, first))
	second.Status = core.StatusTerminated
	err := s.UpdateMember(ctx, second)

	// THEN: The stale writer loses and the caller's version follows the store
	assert.ErrorIs(t, err, core.ErrConcurrentModification)
	assert.Equal(t, 2, first.Version)
	first.PartnerRef = "partner-1"
	require.NoError(t, s.UpdateMember(ctx, first))

	got, _ := s.GetMember(ctx, m.ID)
	assert.Equal(t, core.StatusActive, got.Status)
	assert.Equal(t, 3, got.Version)
	assert.ErrorIs(t, s.UpdateMember(ctx, &core.Member{ID: "ghost", Version: 1}), core.ErrNotFound)
}

func TestListMembers_Filter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a, b := newMember("A"), newMember("B")
	require.NoError(t, s.CreateMember(ctx, a))
	require.NoError(t, s.CreateMember(ctx, b))
	b.Status = core.StatusActive
	b.PartnerRef = "partner-b"
	require.NoError(t, s.UpdateMember(ctx, b))

	active, err := s.ListMembers(ctx, core.MemberFilter{Statuses: []core.MemberStatus{core.StatusActive}})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, b.ID, active[0].ID)

	withAccount := true
	accounts, err := s.ListMembers(ctx, core.MemberFilter{HasAccount: &withAccount})
	require.NoError(t, err)
	assert.Len(t, accounts, 1)

	all, err := s.ListMembers(ctx, core.MemberFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDependents_OrderAndCascade(t *testing.T) {
	// GIVEN: A member with three dependents
	ctx := context.Background()
	s := newStore(t)
	m := newMember("Aisha")
	require.NoError(t, s.CreateMember(ctx, m))
	for _, name := range []string{"Zara", "Adam", "Bilal"} {
		d := &core.Dependent{MemberID: m.ID, Name: name, Relation: core.RelationChild}
		d.ApplyDefaults()
		require.NoError(t, s.CreateDependent(ctx, d))
	}

	// THEN: Listing keeps insertion order, updates keep the position
	deps, err := s.ListDependents(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, deps, 3)
	assert.Equal(t, []string{"Zara", "Adam", "Bilal"}, []string{deps[0].Name, deps[1].Name, deps[2].Name})

	first := deps[0]
	first.SubscriptionState = core.SubscriptionUnsubscribed
	require.NoError(t, s.UpdateDependent(ctx, &first))
	assert.Equal(t, deps[0].Seq, first.Seq)

	deps, _ = s.ListDependents(ctx, m.ID)
	assert.Equal(t, "Zara", deps[0].Name)
	assert.True(t, deps[0].IsUnsubscribed())

	// WHEN: The member is deleted
	require.NoError(t, s.DeleteMember(ctx, m.ID))

	// THEN: Its dependents go with it
	all, err := s.ListAllDependents(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.ErrorIs(t, s.CreateDependent(ctx, &core.Dependent{MemberID: m.ID, Name: "Late"}), core.ErrNotFound)
	assert.ErrorIs(t, s.DeleteMember(ctx, m.ID), core.ErrNotFound)
}

func TestWithTx_RollbackIncludesRunKeys(t *testing.T) {
	// GIVEN: A store with one member
	ctx := context.Background()
	s := newStore(t)
	m := newMember("Aisha")
	require.NoError(t, s.CreateMember(ctx, m))

	// WHEN: A transaction records a run key, updates the member and fails
	boom := errors.New("accounting down")
	err := s.WithTx(ctx, func(tx core.Store) error {
		if err := tx.RecordRun(ctx, core.JobRun{Key: "invoice:initial:" + string(m.ID), Job: "initial_invoice", Status: core.RunRunning}); err != nil {
			return err
		}
		m.Status = core.StatusActive
		if err := tx.UpdateMember(ctx, m); err != nil {
			return err
		}
		return boom
	})

	// THEN: Neither write survives
	assert.ErrorIs(t, err, boom)
	got, _ := s.GetMember(ctx, m.ID)
	assert.Equal(t, core.StatusDraft, got.Status)
	_, err = s.GetRun(ctx, "invoice:initial:"+string(m.ID))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestJobRuns(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	start := time.Date(2025, 1, 1, 2, 0, 0, 0, time.UTC)

	run := core.JobRun{Key: "renewal:2025", Job: "yearly_renewal", RunDate: core.MustParseDate("2025-01-01"), Status: core.RunRunning, StartedAt: start}
	require.NoError(t, s.RecordRun(ctx, run))
	assert.ErrorIs(t, s.RecordRun(ctx, run), core.ErrDuplicateKey)

	run.Status = core.RunCompleted
	run.Affected = 12
	run.CompletedAt = start.Add(time.Minute)
	require.NoError(t, s.FinishRun(ctx, run))
	require.NoError(t, s.RecordRun(ctx, core.JobRun{Key: "overdue:2025-01-02", Job: "suspend_overdue", Status: core.RunCompleted, StartedAt: start.Add(24 * time.Hour)}))

	got, err := s.GetRun(ctx, "renewal:2025")
	require.NoError(t, err)
	assert.Equal(t, core.RunCompleted, got.Status)
	assert.Equal(t, 12, got.Affected)
	assert.Equal(t, "2025-01-01", got.RunDate.String())
	assert.True(t, got.CompletedAt.Equal(start.Add(time.Minute)))

	all, err := s.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "overdue:2025-01-02", all[0].Key, "most recent first")

	renewals, err := s.ListRuns(ctx, "yearly_renewal", 10)
	require.NoError(t, err)
	assert.Len(t, renewals, 1)
	assert.ErrorIs(t, s.FinishRun(ctx, core.JobRun{Key: "ghost"}), core.ErrNotFound)
}

func TestClaims_DecisionWindow(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	mk := func(state core.ClaimState, decided string, amount int64) {
		c := &core.MedicalAssistanceClaim{
			MemberID:    "m-1",
			ClaimAmount: core.NewMoneyFromInt(amount, core.DefaultCurrency),
			State:       state,
		}
		if decided != "" {
			c.DecisionDate = core.MustParseDate(decided)
			c.ApprovedAmount = c.ClaimAmount
		}
		c.ApplyDefaults(core.DefaultCurrency)
		require.NoError(t, s.CreateClaim(ctx, c))
	}
	mk(core.ClaimApproved, "2024-12-30", 3000)
	mk(core.ClaimApproved, "2025-02-01", 1000)
	mk(core.ClaimRejected, "2025-03-01", 500)
	mk(core.ClaimDraft, "", 700)

	ytd := core.YearToDate(core.MustParseDate("2025-06-01"))
	got, err := s.ListClaims(ctx, core.ClaimFilter{
		States:       []core.ClaimState{core.ClaimApproved},
		DecidedFrom:  ytd.Start,
		DecidedUntil: ytd.End,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "1000.00 MUR", got[0].ApprovedAmount.String())

	mine, err := s.ListClaims(ctx, core.ClaimFilter{MemberID: "m-1"})
	require.NoError(t, err)
	assert.Len(t, mine, 4)

	draft := mine[0]
	for _, c := range mine {
		if c.State == core.ClaimDraft {
			draft = c
		}
	}
	assert.True(t, draft.DecisionDate.IsZero())
	draft.State = core.ClaimRejected
	draft.Remarks = "duplicate"
	require.NoError(t, s.UpdateClaim(ctx, &draft))
	reloaded, _ := s.GetClaim(ctx, draft.ID)
	assert.Equal(t, "duplicate", reloaded.Remarks)
}

func TestCommitteeAndMeetings(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	role := &core.CommitteeRole{Name: "Treasurer", IsExecutive: true}
	require.NoError(t, s.CreateRole(ctx, role))
	seat := &core.CommitteeMembership{MemberID: "m-1", RoleID: role.ID, StartDate: core.MustParseDate("2019-01-01"), Active: true}
	require.NoError(t, s.SaveCommitteeMembership(ctx, seat))
	seat.Active = false
	seat.EndDate = core.MustParseDate("2024-12-31")
	require.NoError(t, s.SaveCommitteeMembership(ctx, seat))

	active, err := s.ListCommitteeMemberships(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := s.ListCommitteeMemberships(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "2024-12-31", all[0].EndDate.String())

	gotRole, err := s.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.True(t, gotRole.IsExecutive)

	mt := &core.Meeting{
		Title:       "AGM 2025",
		At:          time.Date(2025, 3, 15, 14, 0, 0, 0, time.UTC),
		Type:        core.MeetingAGM,
		State:       core.MeetingDraft,
		AttendeeIDs: []core.MemberID{"m-1", "m-2"},
		Polls:       []core.Poll{{ID: "p-1", Question: "Raise the annual fee?", Type: core.PollYesNo, Yes: 3, No: 1, State: core.PollOpen}},
	}
	require.NoError(t, s.SaveMeeting(ctx, mt))

	got, err := s.GetMeeting(ctx, mt.ID)
	require.NoError(t, err)
	assert.Equal(t, mt.AttendeeIDs, got.AttendeeIDs)
	require.Len(t, got.Polls, 1)
	assert.Equal(t, 3, got.Poll("p-1").Yes)
	assert.True(t, got.At.Equal(mt.At))

	meetings, err := s.ListMeetings(ctx)
	require.NoError(t, err)
	assert.Len(t, meetings, 1)
}

func TestEvents_NewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	cs := core.NewChangeSet(core.SubjectMember, "m-1", core.SystemActor, now)
	cs.Record("status", core.StatusDraft, core.StatusActive)
	cs.Record("payment_state", core.PaymentPending, core.PaymentPaid)
	require.NoError(t, s.AppendEvents(ctx, cs.Events()...))
	other := core.NewChangeSet(core.SubjectClaim, "c-1", core.SystemActor, now)
	other.Record("state", core.ClaimDraft, core.ClaimApproved)
	require.NoError(t, s.AppendEvents(ctx, other.Events()...))

	events, err := s.QueryEvents(ctx, core.EventFilter{SubjectType: core.SubjectMember, SubjectID: "m-1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "payment_state", events[0].Field)
	assert.Equal(t, core.ActorSystem, events[0].Actor.Kind)

	latest, err := s.QueryEvents(ctx, core.EventFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "c-1", latest[0].SubjectID)
}

func TestAccounting_InvoicesAndPayments(t *testing.T) {
	// GIVEN: A partner account
	ctx := context.Background()
	a := newAccounting(t)
	ref, err := a.GetOrCreateAccount(ctx, core.Contact{Key: "m-1", Name: "Aisha", Email: "aisha@example.org"})
	require.NoError(t, err)
	again, err := a.GetOrCreateAccount(ctx, core.Contact{Key: "m-1", Name: "Aisha"})
	require.NoError(t, err)
	assert.Equal(t, ref, again, "accounts are keyed by contact")

	// WHEN: Two invoices are posted and one is paid
	lines := []core.InvoiceLine{
		{Name: "Entry Fee", Quantity: 1, UnitPrice: core.NewMoneyFromInt(500, core.DefaultCurrency)},
		{Name: "Annual Fee", Quantity: 1, UnitPrice: core.NewMoneyFromInt(1000, core.DefaultCurrency)},
		{Name: "Dependent Fee - Zara", Quantity: 1, UnitPrice: core.NewMoney(500.5, core.DefaultCurrency)},
	}
	first, err := a.CreateAndPostInvoice(ctx, ref, core.MustParseDate("2024-04-05"), core.MustParseDate("2025-03-31"), lines)
	require.NoError(t, err)
	second, err := a.CreateAndPostInvoice(ctx, ref, core.MustParseDate("2025-01-01"), core.MustParseDate("2025-03-31"), lines[1:2])
	require.NoError(t, err)
	assert.Equal(t, core.InvoiceRef("INV/2024/0001"), first)
	require.NoError(t, a.SetPaymentState(ctx, first, core.InvoicePaid))

	// THEN: Totals are exact and only the second invoice is unpaid
	all, err := a.ListInvoices(ctx, ref)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "2000.50 MUR", all[0].Total.String())
	assert.Equal(t, "2025-03-31", all[0].DueDate.String())

	unpaid, err := a.FindUnpaidInvoices(ctx, ref)
	require.NoError(t, err)
	require.Len(t, unpaid, 1)
	assert.Equal(t, second, unpaid[0].Ref)

	stored, err := a.Lines(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "Dependent Fee - Zara", stored[2].Name)

	contact, err := a.Contact(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "aisha@example.org", contact.Email)

	assert.ErrorIs(t, a.SetPaymentState(ctx, "INV/none", core.InvoicePaid), core.ErrNotFound)
	assert.ErrorIs(t, a.SetPaymentState(ctx, first, "refunded"), core.ErrValidation)
	_, err = a.CreateAndPostInvoice(ctx, "", core.Date{}, core.Date{}, lines)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestLifecycleApprove_OnSQLite(t *testing.T) {
	// GIVEN: The lifecycle wired to SQLite storage and ledger
	ctx := context.Background()
	s := newStore(t)
	acct := newAccounting(t)
	lc := membership.NewLifecycle(membership.Deps{
		Store:      s,
		Accounting: acct,
		Contacts:   acct,
		Clock:      core.FixedClock{Day: core.MustParseDate("2024-04-05")},
		Logger:     zerolog.Nop(),
	})
	m := &core.Member{Name: "Aisha", DateOfBirth: core.MustParseDate("1980-05-17")}
	_, err := lc.Register(ctx, core.SystemActor, m, []core.Dependent{{Name: "Zara", Relation: core.RelationChild, DateOfBirth: core.MustParseDate("2015-01-01")}})
	require.NoError(t, err)

	// WHEN: The member is approved twice
	approved, invoice, err := lc.Approve(ctx, m.ID, core.SystemActor)
	require.NoError(t, err)
	_, _, err = lc.Approve(ctx, m.ID, core.SystemActor)

	// THEN: One account, one start date, one initial invoice
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
	assert.Equal(t, core.StatusActive, approved.Status)
	assert.Equal(t, "2025-03-31", invoice.DueDate.String())

	invoices, err := acct.ListInvoices(ctx, approved.PartnerRef)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, "2000.00 MUR", invoices[0].Total.String())

	run, err := s.GetRun(ctx, membership.InitialInvoiceKey(m.ID))
	require.NoError(t, err)
	assert.Equal(t, string(invoice.Ref), run.Reference)

	events, err := s.QueryEvents(ctx, core.EventFilter{SubjectType: core.SubjectMember, SubjectID: string(m.ID)})
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}
