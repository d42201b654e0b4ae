package governance_test

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shifa/membership-engine/core"
	"github.com/shifa/membership-engine/core/store"
	"github.com/shifa/membership-engine/governance"
	"github.com/shifa/membership-engine/membership"
)

var secretary = core.Actor{ID: "secretary", Kind: core.ActorCommittee}

type sink struct {
	mu    sync.Mutex
	notes []core.Notification
}

func (s *sink) Send(_ context.Context, n core.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, n)
	return nil
}

type fixture struct {
	ctx       context.Context
	store     *store.Memory
	sink      *sink
	clock     *core.FixedClock
	committee *governance.Committee
	meetings  *governance.Meetings
}

func newFixture(t *testing.T, today string) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: store.NewMemory(),
		sink:  &sink{},
		clock: &core.FixedClock{Day: core.MustParseDate(today)},
	}
	d := governance.Deps{
		Store:    f.store,
		Notifier: membership.NewNotifier(f.sink, zerolog.Nop(), nil),
		Clock:    f.clock,
		Logger:   zerolog.Nop(),
	}
	f.committee = governance.NewCommittee(d)
	f.meetings = governance.NewMeetings(d)
	return f
}

func (f *fixture) member(t *testing.T, name string) core.MemberID {
	t.Helper()
	m := &core.Member{Name: name, Status: core.StatusActive}
	require.NoError(t, f.store.CreateMember(f.ctx, m))
	return m.ID
}

func (f *fixture) role(t *testing.T, name string) core.CommitteeRoleID {
	t.Helper()
	r := &core.CommitteeRole{Name: name, IsExecutive: true}
	require.NoError(t, f.committee.CreateRole(f.ctx, r, secretary))
	return r.ID
}

// =============================================================================
// COMMITTEE
// =============================================================================

func TestAssign_StartAfterEndRejected(t *testing.T) {
	f := newFixture(t, "2024-01-01")
	memberID := f.member(t, "Aisha")
	roleID := f.role(t, "Treasurer")

	err := f.committee.Assign(f.ctx, &core.CommitteeMembership{
		MemberID:  memberID,
		RoleID:    roleID,
		StartDate: core.MustParseDate("2024-06-01"),
		EndDate:   core.MustParseDate("2024-05-31"),
	}, secretary)

	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "end_date", verr.Field)
}

func TestAssign_RequiresMemberAndRole(t *testing.T) {
	f := newFixture(t, "2024-01-01")
	memberID := f.member(t, "Aisha")
	roleID := f.role(t, "Treasurer")

	err := f.committee.Assign(f.ctx, &core.CommitteeMembership{MemberID: "ghost", RoleID: roleID}, secretary)
	assert.True(t, core.IsNotFound(err))

	err = f.committee.Assign(f.ctx, &core.CommitteeMembership{MemberID: memberID, RoleID: "ghost"}, secretary)
	assert.True(t, core.IsNotFound(err))

	seats, err := f.store.ListCommitteeMemberships(f.ctx, false)
	require.NoError(t, err)
	assert.Empty(t, seats)
}

func TestAssignAndEnd(t *testing.T) {
	f := newFixture(t, "2024-01-01")
	cm := &core.CommitteeMembership{MemberID: f.member(t, "Aisha"), RoleID: f.role(t, "President")}
	require.NoError(t, f.committee.Assign(f.ctx, cm, secretary))
	assert.True(t, cm.Active)
	assert.Equal(t, core.MustParseDate("2024-01-01"), cm.StartDate)

	_, err := f.committee.End(f.ctx, cm.ID, core.MustParseDate("2023-12-31"), secretary)
	assert.ErrorIs(t, err, core.ErrValidation)

	f.clock.Day = core.MustParseDate("2025-02-01")
	ended, err := f.committee.End(f.ctx, cm.ID, core.Date{}, secretary)
	require.NoError(t, err)
	assert.False(t, ended.Active)
	assert.Equal(t, core.MustParseDate("2025-02-01"), ended.EndDate)

	_, err = f.committee.End(f.ctx, cm.ID, core.Date{}, secretary)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	active, err := f.store.ListCommitteeMemberships(f.ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestCreateRole_RequiresName(t *testing.T) {
	f := newFixture(t, "2024-01-01")
	assert.ErrorIs(t, f.committee.CreateRole(f.ctx, &core.CommitteeRole{Name: " "}, secretary), core.ErrValidation)
}

func TestTenureReview_FlagsAtFiveYears(t *testing.T) {
	f := newFixture(t, "2019-01-01")
	roleID := f.role(t, "Secretary")

	// GIVEN: One seat from 2019-01-01, one from 2020-06-01
	long := &core.CommitteeMembership{MemberID: f.member(t, "Aisha"), RoleID: roleID}
	require.NoError(t, f.committee.Assign(f.ctx, long, secretary))
	short := &core.CommitteeMembership{MemberID: f.member(t, "Bilal"), RoleID: roleID, StartDate: core.MustParseDate("2020-06-01")}
	require.NoError(t, f.committee.Assign(f.ctx, short, secretary))

	// WHEN: Reviewed the day before five years of 365 days have elapsed
	f.clock.Day = core.MustParseDate("2019-01-01").AddDays(5*365 - 1)
	res, err := f.committee.TenureReview(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Flagged)
	assert.Empty(t, f.sink.notes)

	// WHEN: Reviewed on the day five years are reached
	f.clock.Day = core.MustParseDate("2019-01-01").AddDays(5 * 365)
	res, err = f.committee.TenureReview(f.ctx)

	// THEN: Only the long seat is flagged with a single notification
	require.NoError(t, err)
	require.Len(t, res.Flagged, 1)
	assert.Equal(t, long.ID, res.Flagged[0].ID)
	assert.True(t, res.Notified)
	require.Len(t, f.sink.notes, 1)
	assert.Equal(t, core.TemplateCommitteeTenure, f.sink.notes[0].Template)
	assert.Equal(t, core.AudienceGovernance, f.sink.notes[0].Audience)
}

func TestPlanTenureReview_SkipsInactive(t *testing.T) {
	seats := []core.CommitteeMembership{
		{ID: "a", StartDate: core.MustParseDate("2010-01-01"), Active: false},
		{ID: "b", StartDate: core.MustParseDate("2010-01-01"), Active: true},
		{ID: "c", Active: true},
	}
	flagged := governance.PlanTenureReview(seats, core.MustParseDate("2024-01-01"))
	require.Len(t, flagged, 1)
	assert.Equal(t, core.CommitteeMembershipID("b"), flagged[0].ID)
}

// =============================================================================
// MEETINGS
// =============================================================================

func TestMeetingLifecycle(t *testing.T) {
	f := newFixture(t, "2024-03-01")
	mt := &core.Meeting{Type: core.MeetingAGM, Location: "Port Louis"}
	require.NoError(t, f.meetings.Schedule(f.ctx, mt, secretary))
	assert.Equal(t, core.MeetingDraft, mt.State)
	assert.Equal(t, "Meeting on 2024-03-01", mt.Title)

	_, err := f.meetings.Hold(f.ctx, mt.ID, "", secretary)
	assert.ErrorIs(t, err, core.ErrInvalidTransition, "draft meetings cannot be held")

	confirmed, err := f.meetings.Confirm(f.ctx, mt.ID, secretary)
	require.NoError(t, err)
	assert.Equal(t, core.MeetingConfirmed, confirmed.State)

	held, err := f.meetings.Hold(f.ctx, mt.ID, "Accounts adopted.", secretary)
	require.NoError(t, err)
	assert.Equal(t, core.MeetingDone, held.State)
	assert.Equal(t, "Accounts adopted.", held.Minutes)

	_, err = f.meetings.Cancel(f.ctx, mt.ID, secretary)
	assert.ErrorIs(t, err, core.ErrInvalidTransition, "held meetings cannot be cancelled")
}

func TestMeetingSchedule_RejectsUnknownType(t *testing.T) {
	f := newFixture(t, "2024-03-01")
	err := f.meetings.Schedule(f.ctx, &core.Meeting{Title: "x", Type: "picnic"}, secretary)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestMeetingAttendees(t *testing.T) {
	f := newFixture(t, "2024-03-01")
	aisha := f.member(t, "Aisha")
	mt := &core.Meeting{Title: "Committee"}
	require.NoError(t, f.meetings.Schedule(f.ctx, mt, secretary))

	_, err := f.meetings.AddAttendee(f.ctx, mt.ID, aisha, secretary)
	require.NoError(t, err)
	updated, err := f.meetings.AddAttendee(f.ctx, mt.ID, aisha, secretary)
	require.NoError(t, err)
	assert.Equal(t, []core.MemberID{aisha}, updated.AttendeeIDs)

	_, err = f.meetings.AddAttendee(f.ctx, mt.ID, "ghost", secretary)
	assert.True(t, core.IsNotFound(err))
}

func TestPollVoting(t *testing.T) {
	f := newFixture(t, "2024-03-01")
	mt := &core.Meeting{Title: "AGM", Type: core.MeetingAGM}
	require.NoError(t, f.meetings.Schedule(f.ctx, mt, secretary))

	poll, err := f.meetings.AddPoll(f.ctx, mt.ID, core.Poll{Question: "Adopt the accounts?"}, secretary)
	require.NoError(t, err)
	assert.Equal(t, core.PollOpen, poll.State)
	assert.Equal(t, core.PollYesNo, poll.Type)

	for _, v := range []core.Vote{core.VoteYes, core.VoteYes, core.VoteNo, core.VoteAbstain} {
		_, err := f.meetings.Vote(f.ctx, mt.ID, poll.ID, v, secretary)
		require.NoError(t, err)
	}
	_, err = f.meetings.Vote(f.ctx, mt.ID, poll.ID, "maybe", secretary)
	assert.ErrorIs(t, err, core.ErrValidation)

	closed, err := f.meetings.ClosePoll(f.ctx, mt.ID, poll.ID, secretary)
	require.NoError(t, err)
	assert.Equal(t, core.PollClosed, closed.State)
	assert.Equal(t, 2, closed.Yes)
	assert.Equal(t, 1, closed.No)
	assert.Equal(t, 1, closed.Abstain)

	// Votes after close are rejected and do not change the tally
	_, err = f.meetings.Vote(f.ctx, mt.ID, poll.ID, core.VoteYes, secretary)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	stored, err := f.store.GetMeeting(f.ctx, mt.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Poll(poll.ID).Yes)

	_, err = f.meetings.Vote(f.ctx, mt.ID, "ghost", core.VoteYes, secretary)
	assert.True(t, core.IsNotFound(err))
}

func TestPollOnCancelledMeeting(t *testing.T) {
	f := newFixture(t, "2024-03-01")
	mt := &core.Meeting{Title: "EGM", Type: core.MeetingEGM}
	require.NoError(t, f.meetings.Schedule(f.ctx, mt, secretary))
	poll, err := f.meetings.AddPoll(f.ctx, mt.ID, core.Poll{Question: "Dissolve?"}, secretary)
	require.NoError(t, err)

	_, err = f.meetings.Cancel(f.ctx, mt.ID, secretary)
	require.NoError(t, err)

	_, err = f.meetings.Vote(f.ctx, mt.ID, poll.ID, core.VoteYes, secretary)
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = f.meetings.AddPoll(f.ctx, mt.ID, core.Poll{Question: "Again?"}, secretary)
	assert.ErrorIs(t, err, core.ErrValidation)
}
