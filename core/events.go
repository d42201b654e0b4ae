package core

import (
	"fmt"
	"time"
)

// =============================================================================
// EVENT LOG - Append-only record of field changes
// =============================================================================

type SubjectType string

const (
	SubjectMember    SubjectType = "member"
	SubjectDependent SubjectType = "dependent"
	SubjectClaim     SubjectType = "claim"
	SubjectCommittee SubjectType = "committee"
	SubjectMeeting   SubjectType = "meeting"
)

// Event records one field change made by a lifecycle transition.
type Event struct {
	ID          string
	Timestamp   time.Time
	Actor       Actor
	SubjectType SubjectType
	SubjectID   string
	Field       string
	Old         string
	New         string
}

type EventFilter struct {
	SubjectType SubjectType
	SubjectID   string
	Limit       int
}

// ChangeSet accumulates events for a single subject during a transition.
//
//	cs := core.NewChangeSet(core.SubjectMember, string(m.ID), actor, clock.Now())
//	cs.Record("status", m.Status, core.StatusActive)
//	store.AppendEvents(ctx, cs.Events()...)
type ChangeSet struct {
	subjectType SubjectType
	subjectID   string
	actor       Actor
	at          time.Time
	events      []Event
}

func NewChangeSet(subjectType SubjectType, subjectID string, actor Actor, at time.Time) *ChangeSet {
	return &ChangeSet{subjectType: subjectType, subjectID: subjectID, actor: actor, at: at}
}

// Record appends an event when old and new differ. It returns true if recorded.
func (c *ChangeSet) Record(field string, old, new any) bool {
	o, n := stringify(old), stringify(new)
	if o == n {
		return false
	}
	c.events = append(c.events, Event{
		ID:          NewID(),
		Timestamp:   c.at,
		Actor:       c.actor,
		SubjectType: c.subjectType,
		SubjectID:   c.subjectID,
		Field:       field,
		Old:         o,
		New:         n,
	})
	return true
}

func (c *ChangeSet) Events() []Event { return c.events }
func (c *ChangeSet) Empty() bool     { return len(c.events) == 0 }

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
