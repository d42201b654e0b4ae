package core

import "time"

// =============================================================================
// COMMITTEE
// =============================================================================

type CommitteeRole struct {
	ID          CommitteeRoleID
	Name        string
	IsExecutive bool
	Description string
}

// CommitteeMembership assigns a member to a committee role for a term.
type CommitteeMembership struct {
	ID        CommitteeMembershipID
	MemberID  MemberID
	RoleID    CommitteeRoleID
	StartDate Date
	EndDate   Date // zero = open-ended
	Active    bool
}

// TenureReviewYears is the term after which a committee seat is flagged for review.
const TenureReviewYears = 5

// =============================================================================
// MEETINGS
// =============================================================================

type MeetingType string

const (
	MeetingCommittee MeetingType = "committee"
	MeetingAGM       MeetingType = "agm"
	MeetingEGM       MeetingType = "egm"
)

func (t MeetingType) Valid() bool {
	return t == MeetingCommittee || t == MeetingAGM || t == MeetingEGM
}

type MeetingState string

const (
	MeetingDraft     MeetingState = "draft"
	MeetingConfirmed MeetingState = "confirmed"
	MeetingDone      MeetingState = "done"
	MeetingCancelled MeetingState = "cancelled"
)

type Meeting struct {
	ID          MeetingID
	Title       string
	At          time.Time
	Location    string
	Type        MeetingType
	State       MeetingState
	Agenda      string
	Minutes     string
	AttendeeIDs []MemberID
	Polls       []Poll
}

// Poll returns the poll with the given ID, or nil.
func (m *Meeting) Poll(id PollID) *Poll {
	for i := range m.Polls {
		if m.Polls[i].ID == id {
			return &m.Polls[i]
		}
	}
	return nil
}

type PollType string

const (
	PollYesNo   PollType = "yes_no"
	PollOptions PollType = "options"
)

type PollState string

const (
	PollOpen   PollState = "open"
	PollClosed PollState = "closed"
)

type Vote string

const (
	VoteYes     Vote = "yes"
	VoteNo      Vote = "no"
	VoteAbstain Vote = "abstain"
)

type Poll struct {
	ID        PollID
	MeetingID MeetingID
	Question  string
	Type      PollType
	Yes       int
	No        int
	Abstain   int
	State     PollState
}
