// Package store provides in-memory implementations of the core repository
// and collaborator contracts.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shifa/membership-engine/core"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type memoryData struct {
	members     map[core.MemberID]core.Member
	dependents  map[core.DependentID]core.Dependent
	claims      map[core.ClaimID]core.MedicalAssistanceClaim
	roles       map[core.CommitteeRoleID]core.CommitteeRole
	memberships map[core.CommitteeMembershipID]core.CommitteeMembership
	meetings    map[core.MeetingID]core.Meeting
	events      []core.Event
	runs        map[string]core.JobRun
	seq         int64
}

func newMemoryData() *memoryData {
	return &memoryData{
		members:     make(map[core.MemberID]core.Member),
		dependents:  make(map[core.DependentID]core.Dependent),
		claims:      make(map[core.ClaimID]core.MedicalAssistanceClaim),
		roles:       make(map[core.CommitteeRoleID]core.CommitteeRole),
		memberships: make(map[core.CommitteeMembershipID]core.CommitteeMembership),
		meetings:    make(map[core.MeetingID]core.Meeting),
		runs:        make(map[string]core.JobRun),
	}
}

// Memory is a core.TxStore kept entirely in maps.
// A Memory handed to a WithTx callback shares data with its parent and
// skips locking, since the parent already holds the write lock.
type Memory struct {
	mu   *sync.RWMutex
	data *memoryData
	inTx bool
}

var _ core.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{mu: &sync.RWMutex{}, data: newMemoryData()}
}

func (m *Memory) lock() {
	if !m.inTx {
		m.mu.Lock()
	}
}

func (m *Memory) unlock() {
	if !m.inTx {
		m.mu.Unlock()
	}
}

func (m *Memory) rlock() {
	if !m.inTx {
		m.mu.RLock()
	}
}

func (m *Memory) runlock() {
	if !m.inTx {
		m.mu.RUnlock()
	}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(core.Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.snapshot()
	view := &Memory{mu: m.mu, data: m.data, inTx: true}

	if err := fn(view); err != nil {
		*m.data = *snapshot
		return err
	}
	return nil
}

// Reset drops all data.
func (m *Memory) Reset(context.Context) error {
	m.lock()
	defer m.unlock()
	*m.data = *newMemoryData()
	return nil
}

func (d *memoryData) snapshot() *memoryData {
	s := &memoryData{
		members:     make(map[core.MemberID]core.Member, len(d.members)),
		dependents:  make(map[core.DependentID]core.Dependent, len(d.dependents)),
		claims:      make(map[core.ClaimID]core.MedicalAssistanceClaim, len(d.claims)),
		roles:       make(map[core.CommitteeRoleID]core.CommitteeRole, len(d.roles)),
		memberships: make(map[core.CommitteeMembershipID]core.CommitteeMembership, len(d.memberships)),
		meetings:    make(map[core.MeetingID]core.Meeting, len(d.meetings)),
		events:      append([]core.Event(nil), d.events...),
		runs:        make(map[string]core.JobRun, len(d.runs)),
		seq:         d.seq,
	}
	for k, v := range d.members {
		s.members[k] = v
	}
	for k, v := range d.dependents {
		s.dependents[k] = v
	}
	for k, v := range d.claims {
		s.claims[k] = v
	}
	for k, v := range d.roles {
		s.roles[k] = v
	}
	for k, v := range d.memberships {
		s.memberships[k] = v
	}
	for k, v := range d.meetings {
		s.meetings[k] = v
	}
	for k, v := range d.runs {
		s.runs[k] = v
	}
	return s
}

func notFound(kind string, id any) error {
	return fmt.Errorf("%s %v: %w", kind, id, core.ErrNotFound)
}

// ===== MEMBERS =====

func (m *Memory) CreateMember(_ context.Context, mem *core.Member) error {
	m.lock()
	defer m.unlock()
	if mem.ID == "" {
		mem.ID = core.MemberID(core.NewID())
	}
	if _, ok := m.data.members[mem.ID]; ok {
		return fmt.Errorf("member %s: %w", mem.ID, core.ErrDuplicateKey)
	}
	mem.Version = 1
	m.data.members[mem.ID] = *mem
	return nil
}

func (m *Memory) GetMember(_ context.Context, id core.MemberID) (*core.Member, error) {
	m.rlock()
	defer m.runlock()
	mem, ok := m.data.members[id]
	if !ok {
		return nil, notFound("member", id)
	}
	return &mem, nil
}

func (m *Memory) UpdateMember(_ context.Context, mem *core.Member) error {
	m.lock()
	defer m.unlock()
	current, ok := m.data.members[mem.ID]
	if !ok {
		return notFound("member", mem.ID)
	}
	if current.Version != mem.Version {
		return fmt.Errorf("member %s version %d, stored %d: %w", mem.ID, mem.Version, current.Version, core.ErrConcurrentModification)
	}
	mem.Version++
	m.data.members[mem.ID] = *mem
	return nil
}

func (m *Memory) DeleteMember(_ context.Context, id core.MemberID) error {
	m.lock()
	defer m.unlock()
	if _, ok := m.data.members[id]; !ok {
		return notFound("member", id)
	}
	delete(m.data.members, id)
	for depID, d := range m.data.dependents {
		if d.MemberID == id {
			delete(m.data.dependents, depID)
		}
	}
	return nil
}

func (m *Memory) ListMembers(_ context.Context, filter core.MemberFilter) ([]core.Member, error) {
	m.rlock()
	defer m.runlock()
	var result []core.Member
	for _, mem := range m.data.members {
		if filter.Matches(&mem) {
			result = append(result, mem)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// ===== DEPENDENTS =====

func (m *Memory) CreateDependent(_ context.Context, d *core.Dependent) error {
	m.lock()
	defer m.unlock()
	if _, ok := m.data.members[d.MemberID]; !ok {
		return notFound("member", d.MemberID)
	}
	if d.ID == "" {
		d.ID = core.DependentID(core.NewID())
	}
	if _, ok := m.data.dependents[d.ID]; ok {
		return fmt.Errorf("dependent %s: %w", d.ID, core.ErrDuplicateKey)
	}
	m.data.seq++
	d.Seq = m.data.seq
	m.data.dependents[d.ID] = *d
	return nil
}

func (m *Memory) GetDependent(_ context.Context, id core.DependentID) (*core.Dependent, error) {
	m.rlock()
	defer m.runlock()
	d, ok := m.data.dependents[id]
	if !ok {
		return nil, notFound("dependent", id)
	}
	return &d, nil
}

func (m *Memory) UpdateDependent(_ context.Context, d *core.Dependent) error {
	m.lock()
	defer m.unlock()
	current, ok := m.data.dependents[d.ID]
	if !ok {
		return notFound("dependent", d.ID)
	}
	d.Seq = current.Seq
	m.data.dependents[d.ID] = *d
	return nil
}

func (m *Memory) DeleteDependent(_ context.Context, id core.DependentID) error {
	m.lock()
	defer m.unlock()
	if _, ok := m.data.dependents[id]; !ok {
		return notFound("dependent", id)
	}
	delete(m.data.dependents, id)
	return nil
}

func (m *Memory) ListDependents(_ context.Context, memberID core.MemberID) ([]core.Dependent, error) {
	m.rlock()
	defer m.runlock()
	var result []core.Dependent
	for _, d := range m.data.dependents {
		if d.MemberID == memberID {
			result = append(result, d)
		}
	}
	sortDependents(result)
	return result, nil
}

func (m *Memory) ListAllDependents(_ context.Context) ([]core.Dependent, error) {
	m.rlock()
	defer m.runlock()
	result := make([]core.Dependent, 0, len(m.data.dependents))
	for _, d := range m.data.dependents {
		result = append(result, d)
	}
	sortDependents(result)
	return result, nil
}

func sortDependents(deps []core.Dependent) {
	sort.Slice(deps, func(i, j int) bool { return deps[i].Seq < deps[j].Seq })
}

// ===== CLAIMS =====

func (m *Memory) CreateClaim(_ context.Context, c *core.MedicalAssistanceClaim) error {
	m.lock()
	defer m.unlock()
	if c.ID == "" {
		c.ID = core.ClaimID(core.NewID())
	}
	if _, ok := m.data.claims[c.ID]; ok {
		return fmt.Errorf("claim %s: %w", c.ID, core.ErrDuplicateKey)
	}
	m.data.claims[c.ID] = *c
	return nil
}

func (m *Memory) GetClaim(_ context.Context, id core.ClaimID) (*core.MedicalAssistanceClaim, error) {
	m.rlock()
	defer m.runlock()
	c, ok := m.data.claims[id]
	if !ok {
		return nil, notFound("claim", id)
	}
	return &c, nil
}

func (m *Memory) UpdateClaim(_ context.Context, c *core.MedicalAssistanceClaim) error {
	m.lock()
	defer m.unlock()
	if _, ok := m.data.claims[c.ID]; !ok {
		return notFound("claim", c.ID)
	}
	m.data.claims[c.ID] = *c
	return nil
}

func (m *Memory) ListClaims(_ context.Context, filter core.ClaimFilter) ([]core.MedicalAssistanceClaim, error) {
	m.rlock()
	defer m.runlock()
	var result []core.MedicalAssistanceClaim
	for _, c := range m.data.claims {
		if filter.Matches(&c) {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ===== COMMITTEE =====

func (m *Memory) CreateRole(_ context.Context, r *core.CommitteeRole) error {
	m.lock()
	defer m.unlock()
	if r.ID == "" {
		r.ID = core.CommitteeRoleID(core.NewID())
	}
	if _, ok := m.data.roles[r.ID]; ok {
		return fmt.Errorf("role %s: %w", r.ID, core.ErrDuplicateKey)
	}
	m.data.roles[r.ID] = *r
	return nil
}

func (m *Memory) GetRole(_ context.Context, id core.CommitteeRoleID) (*core.CommitteeRole, error) {
	m.rlock()
	defer m.runlock()
	r, ok := m.data.roles[id]
	if !ok {
		return nil, notFound("committee role", id)
	}
	return &r, nil
}

func (m *Memory) ListRoles(_ context.Context) ([]core.CommitteeRole, error) {
	m.rlock()
	defer m.runlock()
	result := make([]core.CommitteeRole, 0, len(m.data.roles))
	for _, r := range m.data.roles {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *Memory) SaveCommitteeMembership(_ context.Context, cm *core.CommitteeMembership) error {
	m.lock()
	defer m.unlock()
	if cm.ID == "" {
		cm.ID = core.CommitteeMembershipID(core.NewID())
	}
	m.data.memberships[cm.ID] = *cm
	return nil
}

func (m *Memory) GetCommitteeMembership(_ context.Context, id core.CommitteeMembershipID) (*core.CommitteeMembership, error) {
	m.rlock()
	defer m.runlock()
	cm, ok := m.data.memberships[id]
	if !ok {
		return nil, notFound("committee membership", id)
	}
	return &cm, nil
}

func (m *Memory) ListCommitteeMemberships(_ context.Context, activeOnly bool) ([]core.CommitteeMembership, error) {
	m.rlock()
	defer m.runlock()
	var result []core.CommitteeMembership
	for _, cm := range m.data.memberships {
		if activeOnly && !cm.Active {
			continue
		}
		result = append(result, cm)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartDate.Equal(result[j].StartDate) {
			return result[i].StartDate.Before(result[j].StartDate)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// ===== MEETINGS =====

func (m *Memory) SaveMeeting(_ context.Context, mt *core.Meeting) error {
	m.lock()
	defer m.unlock()
	if mt.ID == "" {
		mt.ID = core.MeetingID(core.NewID())
	}
	m.data.meetings[mt.ID] = cloneMeeting(*mt)
	return nil
}

func (m *Memory) GetMeeting(_ context.Context, id core.MeetingID) (*core.Meeting, error) {
	m.rlock()
	defer m.runlock()
	mt, ok := m.data.meetings[id]
	if !ok {
		return nil, notFound("meeting", id)
	}
	c := cloneMeeting(mt)
	return &c, nil
}

func (m *Memory) ListMeetings(_ context.Context) ([]core.Meeting, error) {
	m.rlock()
	defer m.runlock()
	result := make([]core.Meeting, 0, len(m.data.meetings))
	for _, mt := range m.data.meetings {
		result = append(result, cloneMeeting(mt))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].At.Before(result[j].At) })
	return result, nil
}

func cloneMeeting(mt core.Meeting) core.Meeting {
	mt.AttendeeIDs = append([]core.MemberID(nil), mt.AttendeeIDs...)
	mt.Polls = append([]core.Poll(nil), mt.Polls...)
	return mt
}

// ===== EVENTS =====

func (m *Memory) AppendEvents(_ context.Context, events ...core.Event) error {
	m.lock()
	defer m.unlock()
	m.data.events = append(m.data.events, events...)
	return nil
}

// QueryEvents returns matching events, newest first.
func (m *Memory) QueryEvents(_ context.Context, filter core.EventFilter) ([]core.Event, error) {
	m.rlock()
	defer m.runlock()
	var result []core.Event
	for i := len(m.data.events) - 1; i >= 0; i-- {
		e := m.data.events[i]
		if filter.SubjectType != "" && e.SubjectType != filter.SubjectType {
			continue
		}
		if filter.SubjectID != "" && e.SubjectID != filter.SubjectID {
			continue
		}
		result = append(result, e)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

// ===== JOB RUNS =====

func (m *Memory) RecordRun(_ context.Context, run core.JobRun) error {
	m.lock()
	defer m.unlock()
	if _, ok := m.data.runs[run.Key]; ok {
		return fmt.Errorf("run %s: %w", run.Key, core.ErrDuplicateKey)
	}
	m.data.runs[run.Key] = run
	return nil
}

func (m *Memory) FinishRun(_ context.Context, run core.JobRun) error {
	m.lock()
	defer m.unlock()
	if _, ok := m.data.runs[run.Key]; !ok {
		return notFound("run", run.Key)
	}
	m.data.runs[run.Key] = run
	return nil
}

func (m *Memory) GetRun(_ context.Context, key string) (*core.JobRun, error) {
	m.rlock()
	defer m.runlock()
	run, ok := m.data.runs[key]
	if !ok {
		return nil, notFound("run", key)
	}
	return &run, nil
}

// ListRuns returns runs of a job (all jobs when empty), most recent first.
func (m *Memory) ListRuns(_ context.Context, job string, limit int) ([]core.JobRun, error) {
	m.rlock()
	defer m.runlock()
	var result []core.JobRun
	for _, run := range m.data.runs {
		if job != "" && run.Job != job {
			continue
		}
		result = append(result, run)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.After(result[j].StartedAt)
		}
		return result[i].Key < result[j].Key
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
