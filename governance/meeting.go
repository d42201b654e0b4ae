package governance

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shifa/membership-engine/core"
	"github.com/shifa/membership-engine/logging"
)

// =============================================================================
// MEETINGS
// =============================================================================

var meetingTransitions = map[core.MeetingState][]core.MeetingState{
	core.MeetingDraft:     {core.MeetingConfirmed, core.MeetingCancelled},
	core.MeetingConfirmed: {core.MeetingDone, core.MeetingCancelled},
}

// CanTransitionMeeting reports whether a meeting may move from -> to.
func CanTransitionMeeting(from, to core.MeetingState) bool {
	for _, next := range meetingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Meetings struct {
	d      Deps
	logger zerolog.Logger
}

func NewMeetings(d Deps) *Meetings {
	d = d.normalized()
	return &Meetings{d: d, logger: logging.Component(d.Logger, "meetings")}
}

// Schedule stores a draft meeting. Title, time and type get defaults.
func (s *Meetings) Schedule(ctx context.Context, mt *core.Meeting, actor core.Actor) error {
	mt.Title = strings.TrimSpace(mt.Title)
	if mt.Title == "" {
		mt.Title = fmt.Sprintf("Meeting on %s", s.d.Clock.Today())
	}
	if mt.At.IsZero() {
		mt.At = s.d.Clock.Now()
	}
	if mt.Type == "" {
		mt.Type = core.MeetingCommittee
	}
	if !mt.Type.Valid() {
		return core.NewValidationError("type", "unknown meeting type %q", mt.Type)
	}
	mt.ID = ""
	mt.State = core.MeetingDraft
	mt.Polls = nil

	return s.d.Store.WithTx(ctx, func(tx core.Store) error {
		for _, id := range mt.AttendeeIDs {
			if _, err := tx.GetMember(ctx, id); err != nil {
				return err
			}
		}
		if err := tx.SaveMeeting(ctx, mt); err != nil {
			return err
		}
		cs := core.NewChangeSet(core.SubjectMeeting, string(mt.ID), actor, s.d.Clock.Now())
		cs.Record("state", "", mt.State)
		cs.Record("at", "", mt.At.Format("2006-01-02T15:04"))
		return tx.AppendEvents(ctx, cs.Events()...)
	})
}

// Confirm moves a draft meeting to confirmed.
func (s *Meetings) Confirm(ctx context.Context, id core.MeetingID, actor core.Actor) (*core.Meeting, error) {
	return s.transition(ctx, id, core.MeetingConfirmed, actor, nil)
}

// Hold marks a confirmed meeting as held, optionally recording minutes.
func (s *Meetings) Hold(ctx context.Context, id core.MeetingID, minutes string, actor core.Actor) (*core.Meeting, error) {
	return s.transition(ctx, id, core.MeetingDone, actor, func(mt *core.Meeting, cs *core.ChangeSet) {
		if minutes != "" {
			cs.Record("minutes", mt.Minutes, minutes)
			mt.Minutes = minutes
		}
	})
}

// Cancel cancels a draft or confirmed meeting.
func (s *Meetings) Cancel(ctx context.Context, id core.MeetingID, actor core.Actor) (*core.Meeting, error) {
	return s.transition(ctx, id, core.MeetingCancelled, actor, nil)
}

func (s *Meetings) transition(ctx context.Context, id core.MeetingID, to core.MeetingState, actor core.Actor, apply func(*core.Meeting, *core.ChangeSet)) (*core.Meeting, error) {
	var out *core.Meeting
	err := s.update(ctx, id, actor, func(mt *core.Meeting, cs *core.ChangeSet) error {
		if !CanTransitionMeeting(mt.State, to) {
			return core.TransitionError("meeting "+string(id), mt.State, to)
		}
		cs.Record("state", mt.State, to)
		mt.State = to
		if apply != nil {
			apply(mt, cs)
		}
		out = mt
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("meeting_id", string(id)).Str("state", string(to)).Msg("meeting updated")
	return out, nil
}

// AddAttendee records a member's attendance. Adding the same member twice is a no-op.
func (s *Meetings) AddAttendee(ctx context.Context, id core.MeetingID, memberID core.MemberID, actor core.Actor) (*core.Meeting, error) {
	var out *core.Meeting
	err := s.d.Store.WithTx(ctx, func(tx core.Store) error {
		if _, err := tx.GetMember(ctx, memberID); err != nil {
			return err
		}
		return s.updateTx(ctx, tx, id, actor, func(mt *core.Meeting, cs *core.ChangeSet) error {
			out = mt
			if mt.State == core.MeetingCancelled {
				return core.NewValidationError("state", "meeting %s is cancelled", id)
			}
			for _, existing := range mt.AttendeeIDs {
				if existing == memberID {
					return nil
				}
			}
			cs.Record("attendee", "", memberID)
			mt.AttendeeIDs = append(mt.AttendeeIDs, memberID)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// POLLS
// =============================================================================

// AddPoll opens a poll on a meeting that is not cancelled.
func (s *Meetings) AddPoll(ctx context.Context, id core.MeetingID, poll core.Poll, actor core.Actor) (*core.Poll, error) {
	poll.Question = strings.TrimSpace(poll.Question)
	if poll.Question == "" {
		return nil, core.NewValidationError("question", "poll question is required")
	}
	if poll.Type == "" {
		poll.Type = core.PollYesNo
	}
	if poll.Type != core.PollYesNo && poll.Type != core.PollOptions {
		return nil, core.NewValidationError("type", "unknown poll type %q", poll.Type)
	}
	poll.ID = core.PollID(core.NewID())
	poll.MeetingID = id
	poll.State = core.PollOpen
	poll.Yes, poll.No, poll.Abstain = 0, 0, 0

	err := s.update(ctx, id, actor, func(mt *core.Meeting, cs *core.ChangeSet) error {
		if mt.State == core.MeetingCancelled {
			return core.NewValidationError("state", "meeting %s is cancelled", id)
		}
		cs.Record("poll", "", poll.Question)
		mt.Polls = append(mt.Polls, poll)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &poll, nil
}

// Vote counts one vote on an open poll.
func (s *Meetings) Vote(ctx context.Context, id core.MeetingID, pollID core.PollID, vote core.Vote, actor core.Actor) (*core.Poll, error) {
	var out core.Poll
	err := s.update(ctx, id, actor, func(mt *core.Meeting, cs *core.ChangeSet) error {
		if mt.State == core.MeetingCancelled {
			return core.NewValidationError("state", "meeting %s is cancelled", id)
		}
		poll := mt.Poll(pollID)
		if poll == nil {
			return fmt.Errorf("poll %s: %w", pollID, core.ErrNotFound)
		}
		if poll.State != core.PollOpen {
			return core.TransitionError("poll "+string(pollID), poll.State, "voted")
		}
		switch vote {
		case core.VoteYes:
			poll.Yes++
		case core.VoteNo:
			poll.No++
		case core.VoteAbstain:
			poll.Abstain++
		default:
			return core.NewValidationError("vote", "unknown vote %q", vote)
		}
		cs.Record("vote:"+string(pollID), "", vote)
		out = *poll
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ClosePoll stops a poll from accepting votes.
func (s *Meetings) ClosePoll(ctx context.Context, id core.MeetingID, pollID core.PollID, actor core.Actor) (*core.Poll, error) {
	var out core.Poll
	err := s.update(ctx, id, actor, func(mt *core.Meeting, cs *core.ChangeSet) error {
		poll := mt.Poll(pollID)
		if poll == nil {
			return fmt.Errorf("poll %s: %w", pollID, core.ErrNotFound)
		}
		if poll.State != core.PollOpen {
			return core.TransitionError("poll "+string(pollID), poll.State, core.PollClosed)
		}
		cs.Record("poll_state:"+string(pollID), poll.State, core.PollClosed)
		poll.State = core.PollClosed
		out = *poll
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// update loads a meeting, lets fn mutate it and saves it with its events.
func (s *Meetings) update(ctx context.Context, id core.MeetingID, actor core.Actor, fn func(*core.Meeting, *core.ChangeSet) error) error {
	return s.d.Store.WithTx(ctx, func(tx core.Store) error {
		return s.updateTx(ctx, tx, id, actor, fn)
	})
}

func (s *Meetings) updateTx(ctx context.Context, tx core.Store, id core.MeetingID, actor core.Actor, fn func(*core.Meeting, *core.ChangeSet) error) error {
	mt, err := tx.GetMeeting(ctx, id)
	if err != nil {
		return err
	}
	cs := core.NewChangeSet(core.SubjectMeeting, string(id), actor, s.d.Clock.Now())
	if err := fn(mt, cs); err != nil {
		return err
	}
	if cs.Empty() {
		return nil
	}
	if err := tx.SaveMeeting(ctx, mt); err != nil {
		return err
	}
	return tx.AppendEvents(ctx, cs.Events()...)
}
