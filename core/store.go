/*
store.go - Repository interfaces for the membership engine

PURPOSE:
  Defines the boundary between the rule engines and the database. Engines
  receive plain entities and hand them back through these interfaces; they
  never issue queries themselves. Different implementations can use
  SQLite or in-memory storage.

KEY INTERFACES:
  Store:   Typed CRUD and query-by-predicate for every entity, plus the
           event log and job-run registry
  TxStore: Store with atomic multi-write transactions

ATOMIC TRANSACTIONS:
  WithTx() runs a function against a transactional view. If the function
  returns an error nothing it wrote is kept. Dependent revalidation, status
  transitions and their events are always written inside one WithTx call,
  so no reader observes a half-applied change.

OPTIMISTIC CONCURRENCY:
  UpdateMember() compares Member.Version with the stored version and fails
  with ErrConcurrentModification on mismatch. On success the stored (and
  passed) version is incremented.

JOB RUNS:
  RecordRun() is keyed by a caller-chosen idempotency key (for example
  "invoice:annual:<member>:2025"). A second RecordRun with the same key
  fails with ErrDuplicateKey, which is how invoice generation and cron jobs
  stay idempotent under re-execution.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - core/store/memory.go: In-memory for testing

SEE ALSO:
  - events.go: Event type appended by transitions
  - membership/lifecycle.go: Main consumer
*/
package core

import (
	"context"
	"time"
)

// =============================================================================
// FILTERS - Query-by-predicate
// =============================================================================

type MemberFilter struct {
	Statuses   []MemberStatus // empty = any
	HasAccount *bool
}

// Matches reports whether m satisfies the filter.
func (f MemberFilter) Matches(m *Member) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if m.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.HasAccount != nil && m.HasAccount() != *f.HasAccount {
		return false
	}
	return true
}

type ClaimFilter struct {
	MemberID     MemberID
	States       []ClaimState
	DecidedFrom  Date // inclusive, zero = unbounded
	DecidedUntil Date // inclusive, zero = unbounded
}

func (f ClaimFilter) Matches(c *MedicalAssistanceClaim) bool {
	if f.MemberID != "" && c.MemberID != f.MemberID {
		return false
	}
	if len(f.States) > 0 {
		ok := false
		for _, s := range f.States {
			if c.State == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.DecidedFrom.IsZero() && (c.DecisionDate.IsZero() || c.DecisionDate.Before(f.DecidedFrom)) {
		return false
	}
	if !f.DecidedUntil.IsZero() && (c.DecisionDate.IsZero() || c.DecisionDate.After(f.DecidedUntil)) {
		return false
	}
	return true
}

// =============================================================================
// JOB RUNS
// =============================================================================

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// JobRun records one execution of an idempotent operation.
type JobRun struct {
	Key         string
	Job         string
	RunDate     Date
	Status      RunStatus
	Affected    int
	Reference   string // e.g. the invoice ref created by the run
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// Members
	CreateMember(ctx context.Context, m *Member) error
	GetMember(ctx context.Context, id MemberID) (*Member, error)
	UpdateMember(ctx context.Context, m *Member) error
	DeleteMember(ctx context.Context, id MemberID) error // cascades dependents
	ListMembers(ctx context.Context, filter MemberFilter) ([]Member, error)

	// Dependents (ListDependents returns insertion order)
	CreateDependent(ctx context.Context, d *Dependent) error
	GetDependent(ctx context.Context, id DependentID) (*Dependent, error)
	UpdateDependent(ctx context.Context, d *Dependent) error
	DeleteDependent(ctx context.Context, id DependentID) error
	ListDependents(ctx context.Context, memberID MemberID) ([]Dependent, error)
	ListAllDependents(ctx context.Context) ([]Dependent, error)

	// Medical assistance claims
	CreateClaim(ctx context.Context, c *MedicalAssistanceClaim) error
	GetClaim(ctx context.Context, id ClaimID) (*MedicalAssistanceClaim, error)
	UpdateClaim(ctx context.Context, c *MedicalAssistanceClaim) error
	ListClaims(ctx context.Context, filter ClaimFilter) ([]MedicalAssistanceClaim, error)

	// Committee
	CreateRole(ctx context.Context, r *CommitteeRole) error
	GetRole(ctx context.Context, id CommitteeRoleID) (*CommitteeRole, error)
	ListRoles(ctx context.Context) ([]CommitteeRole, error)
	SaveCommitteeMembership(ctx context.Context, cm *CommitteeMembership) error
	GetCommitteeMembership(ctx context.Context, id CommitteeMembershipID) (*CommitteeMembership, error)
	ListCommitteeMemberships(ctx context.Context, activeOnly bool) ([]CommitteeMembership, error)

	// Meetings (polls are saved with their meeting)
	SaveMeeting(ctx context.Context, m *Meeting) error
	GetMeeting(ctx context.Context, id MeetingID) (*Meeting, error)
	ListMeetings(ctx context.Context) ([]Meeting, error)

	// Event log (append-only)
	AppendEvents(ctx context.Context, events ...Event) error
	QueryEvents(ctx context.Context, filter EventFilter) ([]Event, error)

	// Job runs
	RecordRun(ctx context.Context, run JobRun) error
	FinishRun(ctx context.Context, run JobRun) error
	GetRun(ctx context.Context, key string) (*JobRun, error)
	ListRuns(ctx context.Context, job string, limit int) ([]JobRun, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
