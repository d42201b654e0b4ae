/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements core.TxStore (members, dependents, claims, committee, meetings,
  the event log and job runs) and the accounting collaborators
  (accounting.go) on SQLite. In production the same patterns apply to
  PostgreSQL with minor dialect differences.

KEY TABLES:
  members:                Member records with a version column for optimistic locking
  dependents:             Owned by members (ON DELETE CASCADE), ordered by seq
  claims:                 Medical-assistance claims
  committee_roles:        Role catalogue
  committee_memberships:  Member-to-role terms
  meetings:               Meetings; attendees and polls as JSON columns
  events:                 Append-only field-change log
  job_runs:               Idempotency keys of invoice generation and cron jobs

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on the events table
  - job_runs.key is the primary key: a second RecordRun fails with ErrDuplicateKey

CONCURRENCY:
  A sync.RWMutex serializes writers. WithTx holds the write lock for the
  whole transaction and hands fn a view bound to the *sql.Tx; the view
  skips locking since its parent already holds the lock.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/membership.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  lifecycle := membership.NewLifecycle(membership.Deps{Store: store, ...})

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - core/store.go: Interface definitions
  - core/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"github.com/shifa/membership-engine/core"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements core.TxStore using SQLite.
type Store struct {
	db   *sql.DB
	q    querier
	mu   *sync.RWMutex
	inTx bool
}

var _ core.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, err
	}

	store := &Store{db: db, q: db, mu: &sync.RWMutex{}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every :memory: connection is its own database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		national_id TEXT,
		date_of_birth TEXT,
		address TEXT,
		phone TEXT,
		email TEXT,
		admission_date TEXT,
		membership_start_date TEXT,
		status TEXT NOT NULL,
		payment_state TEXT NOT NULL,
		category TEXT NOT NULL,
		orphan_secondary INTEGER NOT NULL DEFAULT 0,
		is_auto_promoted INTEGER NOT NULL DEFAULT 0,
		notification_sent INTEGER NOT NULL DEFAULT 0,
		linked_member_id TEXT,
		partner_ref TEXT,
		currency TEXT NOT NULL,
		entry_fee TEXT NOT NULL,
		annual_fee TEXT NOT NULL,
		dependent_fee TEXT NOT NULL,
		donation_amount TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_members_status ON members(status);

	CREATE TABLE IF NOT EXISTS dependents (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL REFERENCES members(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		relation TEXT NOT NULL,
		date_of_birth TEXT,
		id_number TEXT,
		is_care_dependent INTEGER NOT NULL DEFAULT 0,
		is_orphan INTEGER NOT NULL DEFAULT 0,
		subscription_state TEXT NOT NULL,
		approval_state TEXT NOT NULL,
		auto_promote INTEGER NOT NULL DEFAULT 0,
		seq INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_dependents_member ON dependents(member_id, seq);

	CREATE TABLE IF NOT EXISTS claims (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		dependent_id TEXT,
		claim_type TEXT NOT NULL,
		currency TEXT NOT NULL,
		claim_amount TEXT NOT NULL,
		approved_amount TEXT NOT NULL,
		state TEXT NOT NULL,
		decision_date TEXT,
		remarks TEXT
	);

	-- Cap computation: approved claims decided within the year
	CREATE INDEX IF NOT EXISTS idx_claims_state_decision ON claims(state, decision_date);
	CREATE INDEX IF NOT EXISTS idx_claims_member ON claims(member_id);

	CREATE TABLE IF NOT EXISTS committee_roles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		is_executive INTEGER NOT NULL DEFAULT 0,
		description TEXT
	);

	CREATE TABLE IF NOT EXISTS committee_memberships (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		role_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_committee_active ON committee_memberships(active, start_date);

	CREATE TABLE IF NOT EXISTS meetings (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		at TEXT NOT NULL,
		location TEXT,
		meeting_type TEXT NOT NULL,
		state TEXT NOT NULL,
		agenda TEXT,
		minutes TEXT,
		attendees_json TEXT NOT NULL,
		polls_json TEXT NOT NULL
	);

	-- Events (append-only)
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		ts TEXT NOT NULL,
		actor_id TEXT,
		actor_kind TEXT NOT NULL,
		subject_type TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		field TEXT NOT NULL,
		old_value TEXT,
		new_value TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_events_subject ON events(subject_type, subject_id, seq DESC);

	-- Job runs (idempotency keys)
	CREATE TABLE IF NOT EXISTS job_runs (
		key TEXT PRIMARY KEY,
		job TEXT NOT NULL,
		run_date TEXT,
		status TEXT NOT NULL,
		affected INTEGER NOT NULL DEFAULT 0,
		reference TEXT,
		error TEXT,
		started_at TEXT,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_job_runs_job ON job_runs(job, started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// WithTx executes fn within a transaction.
// If fn returns an error the transaction is rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(core.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	view := &Store{db: s.db, q: sqlTx, mu: s.mu, inTx: true}
	if err := fn(view); err != nil {
		return err
	}

	return sqlTx.Commit()
}

func (s *Store) lock() {
	if !s.inTx {
		s.mu.Lock()
	}
}

func (s *Store) unlock() {
	if !s.inTx {
		s.mu.Unlock()
	}
}

func (s *Store) rlock() {
	if !s.inTx {
		s.mu.RLock()
	}
}

func (s *Store) runlock() {
	if !s.inTx {
		s.mu.RUnlock()
	}
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.lock()
	defer s.unlock()

	for _, table := range []string{"events", "job_runs", "meetings", "committee_memberships", "committee_roles", "claims", "dependents", "members"} {
		if _, err := s.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

// ===== MEMBERS =====

const memberColumns = `id, name, national_id, date_of_birth, address, phone, email,
	admission_date, membership_start_date, status, payment_state, category,
	orphan_secondary, is_auto_promoted, notification_sent, linked_member_id, partner_ref,
	currency, entry_fee, annual_fee, dependent_fee, donation_amount, version, created_at`

func (s *Store) CreateMember(ctx context.Context, m *core.Member) error {
	s.lock()
	defer s.unlock()

	if m.ID == "" {
		m.ID = core.MemberID(core.NewID())
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.Version = 1

	_, err := s.q.ExecContext(ctx, `INSERT INTO members (`+memberColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.NationalID, dateString(m.DateOfBirth), m.Address, m.Phone, m.Email,
		dateString(m.AdmissionDate), dateString(m.MembershipStartDate), m.Status, m.PaymentState, m.Category,
		m.OrphanSecondary, m.IsAutoPromoted, m.NotificationSent, nullString(string(m.LinkedMemberID)), nullString(string(m.PartnerRef)),
		m.Currency, m.EntryFee.Value.String(), m.AnnualFee.Value.String(), m.DependentFee.Value.String(), m.DonationAmount.Value.String(),
		m.Version, m.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("member %s: %w", m.ID, core.ErrDuplicateKey)
		}
		return fmt.Errorf("failed to insert member: %w", err)
	}
	return nil
}

func (s *Store) GetMember(ctx context.Context, id core.MemberID) (*core.Member, error) {
	s.rlock()
	defer s.runlock()

	row := s.q.QueryRowContext(ctx, "SELECT "+memberColumns+" FROM members WHERE id = ?", id)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("member", id)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateMember writes m when its version matches the stored one, then bumps m.Version.
func (s *Store) UpdateMember(ctx context.Context, m *core.Member) error {
	s.lock()
	defer s.unlock()

	res, err := s.q.ExecContext(ctx, `UPDATE members SET
			name = ?, national_id = ?, date_of_birth = ?, address = ?, phone = ?, email = ?,
			admission_date = ?, membership_start_date = ?, status = ?, payment_state = ?, category = ?,
			orphan_secondary = ?, is_auto_promoted = ?, notification_sent = ?, linked_member_id = ?, partner_ref = ?,
			currency = ?, entry_fee = ?, annual_fee = ?, dependent_fee = ?, donation_amount = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		m.Name, m.NationalID, dateString(m.DateOfBirth), m.Address, m.Phone, m.Email,
		dateString(m.AdmissionDate), dateString(m.MembershipStartDate), m.Status, m.PaymentState, m.Category,
		m.OrphanSecondary, m.IsAutoPromoted, m.NotificationSent, nullString(string(m.LinkedMemberID)), nullString(string(m.PartnerRef)),
		m.Currency, m.EntryFee.Value.String(), m.AnnualFee.Value.String(), m.DependentFee.Value.String(), m.DonationAmount.Value.String(),
		m.ID, m.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var stored int
		err := s.q.QueryRowContext(ctx, "SELECT version FROM members WHERE id = ?", m.ID).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("member", m.ID)
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("member %s version %d, stored %d: %w", m.ID, m.Version, stored, core.ErrConcurrentModification)
	}
	m.Version++
	return nil
}

// DeleteMember removes the member; dependents go with it via ON DELETE CASCADE.
func (s *Store) DeleteMember(ctx context.Context, id core.MemberID) error {
	s.lock()
	defer s.unlock()

	res, err := s.q.ExecContext(ctx, "DELETE FROM members WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete member: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("member", id)
	}
	return nil
}

func (s *Store) ListMembers(ctx context.Context, filter core.MemberFilter) ([]core.Member, error) {
	s.rlock()
	defer s.runlock()

	query := "SELECT " + memberColumns + " FROM members"
	var args []any
	if len(filter.Statuses) > 0 {
		query += " WHERE status IN (" + placeholders(len(filter.Statuses)) + ")"
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
	}
	query += " ORDER BY created_at, id"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []core.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		// HasAccount is cheaper to check in Go than to express in SQL.
		if filter.Matches(m) {
			result = append(result, *m)
		}
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMember(r scanner) (*core.Member, error) {
	var m core.Member
	var dob, admission, start, createdAt string
	var linked, partner sql.NullString
	var nationalID, address, phone, email sql.NullString
	var entry, annual, dependent, donation string

	err := r.Scan(&m.ID, &m.Name, &nationalID, &dob, &address, &phone, &email,
		&admission, &start, &m.Status, &m.PaymentState, &m.Category,
		&m.OrphanSecondary, &m.IsAutoPromoted, &m.NotificationSent, &linked, &partner,
		&m.Currency, &entry, &annual, &dependent, &donation, &m.Version, &createdAt)
	if err != nil {
		return nil, err
	}

	m.NationalID = nationalID.String
	m.Address = address.String
	m.Phone = phone.String
	m.Email = email.String
	m.DateOfBirth = parseDate(dob)
	m.AdmissionDate = parseDate(admission)
	m.MembershipStartDate = parseDate(start)
	m.LinkedMemberID = core.MemberID(linked.String)
	m.PartnerRef = core.PartnerRef(partner.String)
	m.EntryFee = parseMoney(entry, m.Currency)
	m.AnnualFee = parseMoney(annual, m.Currency)
	m.DependentFee = parseMoney(dependent, m.Currency)
	m.DonationAmount = parseMoney(donation, m.Currency)
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &m, nil
}

// ===== DEPENDENTS =====

const dependentColumns = `id, member_id, name, relation, date_of_birth, id_number,
	is_care_dependent, is_orphan, subscription_state, approval_state, auto_promote, seq`

func (s *Store) CreateDependent(ctx context.Context, d *core.Dependent) error {
	s.lock()
	defer s.unlock()

	var exists int
	if err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM members WHERE id = ?", d.MemberID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return notFound("member", d.MemberID)
	}
	if d.ID == "" {
		d.ID = core.DependentID(core.NewID())
	}
	if err := s.q.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) + 1 FROM dependents").Scan(&d.Seq); err != nil {
		return err
	}

	_, err := s.q.ExecContext(ctx, `INSERT INTO dependents (`+dependentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.MemberID, d.Name, d.Relation, dateString(d.DateOfBirth), d.IDNumber,
		d.IsCareDependent, d.IsOrphan, d.SubscriptionState, d.ApprovalState, d.AutoPromote, d.Seq,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("dependent %s: %w", d.ID, core.ErrDuplicateKey)
		}
		return fmt.Errorf("failed to insert dependent: %w", err)
	}
	return nil
}

func (s *Store) GetDependent(ctx context.Context, id core.DependentID) (*core.Dependent, error) {
	s.rlock()
	defer s.runlock()

	d, err := scanDependent(s.q.QueryRowContext(ctx, "SELECT "+dependentColumns+" FROM dependents WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("dependent", id)
	}
	return d, err
}

// UpdateDependent keeps the stored seq.
func (s *Store) UpdateDependent(ctx context.Context, d *core.Dependent) error {
	s.lock()
	defer s.unlock()

	res, err := s.q.ExecContext(ctx, `UPDATE dependents SET
			member_id = ?, name = ?, relation = ?, date_of_birth = ?, id_number = ?,
			is_care_dependent = ?, is_orphan = ?, subscription_state = ?, approval_state = ?, auto_promote = ?
		WHERE id = ?`,
		d.MemberID, d.Name, d.Relation, dateString(d.DateOfBirth), d.IDNumber,
		d.IsCareDependent, d.IsOrphan, d.SubscriptionState, d.ApprovalState, d.AutoPromote,
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update dependent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("dependent", d.ID)
	}
	return s.q.QueryRowContext(ctx, "SELECT seq FROM dependents WHERE id = ?", d.ID).Scan(&d.Seq)
}

func (s *Store) DeleteDependent(ctx context.Context, id core.DependentID) error {
	s.lock()
	defer s.unlock()

	res, err := s.q.ExecContext(ctx, "DELETE FROM dependents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete dependent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("dependent", id)
	}
	return nil
}

func (s *Store) ListDependents(ctx context.Context, memberID core.MemberID) ([]core.Dependent, error) {
	s.rlock()
	defer s.runlock()
	return s.queryDependents(ctx, "SELECT "+dependentColumns+" FROM dependents WHERE member_id = ? ORDER BY seq", memberID)
}

func (s *Store) ListAllDependents(ctx context.Context) ([]core.Dependent, error) {
	s.rlock()
	defer s.runlock()
	return s.queryDependents(ctx, "SELECT "+dependentColumns+" FROM dependents ORDER BY seq")
}

func (s *Store) queryDependents(ctx context.Context, query string, args ...any) ([]core.Dependent, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []core.Dependent
	for rows.Next() {
		d, err := scanDependent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

func scanDependent(r scanner) (*core.Dependent, error) {
	var d core.Dependent
	var dob string
	var idNumber sql.NullString
	err := r.Scan(&d.ID, &d.MemberID, &d.Name, &d.Relation, &dob, &idNumber,
		&d.IsCareDependent, &d.IsOrphan, &d.SubscriptionState, &d.ApprovalState, &d.AutoPromote, &d.Seq)
	if err != nil {
		return nil, err
	}
	d.DateOfBirth = parseDate(dob)
	d.IDNumber = idNumber.String
	return &d, nil
}

// ===== CLAIMS =====

const claimColumns = `id, member_id, dependent_id, claim_type, currency, claim_amount,
	approved_amount, state, decision_date, remarks`

func (s *Store) CreateClaim(ctx context.Context, c *core.MedicalAssistanceClaim) error {
	s.lock()
	defer s.unlock()

	if c.ID == "" {
		c.ID = core.ClaimID(core.NewID())
	}
	_, err := s.q.ExecContext(ctx, `INSERT INTO claims (`+claimColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.MemberID, nullString(string(c.DependentID)), c.Type, c.ClaimAmount.Currency,
		c.ClaimAmount.Value.String(), c.ApprovedAmount.Value.String(), c.State, dateString(c.DecisionDate), c.Remarks,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("claim %s: %w", c.ID, core.ErrDuplicateKey)
		}
		return fmt.Errorf("failed to insert claim: %w", err)
	}
	return nil
}

func (s *Store) GetClaim(ctx context.Context, id core.ClaimID) (*core.MedicalAssistanceClaim, error) {
	s.rlock()
	defer s.runlock()

	c, err := scanClaim(s.q.QueryRowContext(ctx, "SELECT "+claimColumns+" FROM claims WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("claim", id)
	}
	return c, err
}

func (s *Store) UpdateClaim(ctx context.Context, c *core.MedicalAssistanceClaim) error {
	s.lock()
	defer s.unlock()

	res, err := s.q.ExecContext(ctx, `UPDATE claims SET
			member_id = ?, dependent_id = ?, claim_type = ?, currency = ?, claim_amount = ?,
			approved_amount = ?, state = ?, decision_date = ?, remarks = ?
		WHERE id = ?`,
		c.MemberID, nullString(string(c.DependentID)), c.Type, c.ClaimAmount.Currency, c.ClaimAmount.Value.String(),
		c.ApprovedAmount.Value.String(), c.State, dateString(c.DecisionDate), c.Remarks,
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update claim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("claim", c.ID)
	}
	return nil
}

func (s *Store) ListClaims(ctx context.Context, filter core.ClaimFilter) ([]core.MedicalAssistanceClaim, error) {
	s.rlock()
	defer s.runlock()

	var where []string
	var args []any
	if filter.MemberID != "" {
		where = append(where, "member_id = ?")
		args = append(args, filter.MemberID)
	}
	if len(filter.States) > 0 {
		where = append(where, "state IN ("+placeholders(len(filter.States))+")")
		for _, st := range filter.States {
			args = append(args, st)
		}
	}
	// ISO dates compare correctly as text.
	if !filter.DecidedFrom.IsZero() {
		where = append(where, "decision_date != '' AND decision_date >= ?")
		args = append(args, filter.DecidedFrom.String())
	}
	if !filter.DecidedUntil.IsZero() {
		where = append(where, "decision_date != '' AND decision_date <= ?")
		args = append(args, filter.DecidedUntil.String())
	}

	query := "SELECT " + claimColumns + " FROM claims"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []core.MedicalAssistanceClaim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

func scanClaim(r scanner) (*core.MedicalAssistanceClaim, error) {
	var c core.MedicalAssistanceClaim
	var dependentID, remarks sql.NullString
	var currency core.Currency
	var amount, approved, decision string
	err := r.Scan(&c.ID, &c.MemberID, &dependentID, &c.Type, &currency, &amount, &approved, &c.State, &decision, &remarks)
	if err != nil {
		return nil, err
	}
	c.DependentID = core.DependentID(dependentID.String)
	c.ClaimAmount = parseMoney(amount, currency)
	c.ApprovedAmount = parseMoney(approved, currency)
	c.DecisionDate = parseDate(decision)
	c.Remarks = remarks.String
	return &c, nil
}

// ===== COMMITTEE =====

func (s *Store) CreateRole(ctx context.Context, r *core.CommitteeRole) error {
	s.lock()
	defer s.unlock()

	if r.ID == "" {
		r.ID = core.CommitteeRoleID(core.NewID())
	}
	_, err := s.q.ExecContext(ctx, "INSERT INTO committee_roles (id, name, is_executive, description) VALUES (?, ?, ?, ?)",
		r.ID, r.Name, r.IsExecutive, r.Description)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("role %s: %w", r.ID, core.ErrDuplicateKey)
		}
		return fmt.Errorf("failed to insert role: %w", err)
	}
	return nil
}

func (s *Store) GetRole(ctx context.Context, id core.CommitteeRoleID) (*core.CommitteeRole, error) {
	s.rlock()
	defer s.runlock()

	var r core.CommitteeRole
	var desc sql.NullString
	err := s.q.QueryRowContext(ctx, "SELECT id, name, is_executive, description FROM committee_roles WHERE id = ?", id).
		Scan(&r.ID, &r.Name, &r.IsExecutive, &desc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("committee role", id)
	}
	if err != nil {
		return nil, err
	}
	r.Description = desc.String
	return &r, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]core.CommitteeRole, error) {
	s.rlock()
	defer s.runlock()

	rows, err := s.q.QueryContext(ctx, "SELECT id, name, is_executive, description FROM committee_roles ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []core.CommitteeRole
	for rows.Next() {
		var r core.CommitteeRole
		var desc sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &r.IsExecutive, &desc); err != nil {
			return nil, err
		}
		r.Description = desc.String
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *Store) SaveCommitteeMembership(ctx context.Context, cm *core.CommitteeMembership) error {
	s.lock()
	defer s.unlock()

	if cm.ID == "" {
		cm.ID = core.CommitteeMembershipID(core.NewID())
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO committee_memberships (id, member_id, role_id, start_date, end_date, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			member_id = excluded.member_id,
			role_id = excluded.role_id,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			active = excluded.active`,
		cm.ID, cm.MemberID, cm.RoleID, dateString(cm.StartDate), dateString(cm.EndDate), cm.Active)
	if err != nil {
		return fmt.Errorf("failed to save committee membership: %w", err)
	}
	return nil
}

func (s *Store) GetCommitteeMembership(ctx context.Context, id core.CommitteeMembershipID) (*core.CommitteeMembership, error) {
	s.rlock()
	defer s.runlock()

	cm, err := scanCommitteeMembership(s.q.QueryRowContext(ctx,
		"SELECT id, member_id, role_id, start_date, end_date, active FROM committee_memberships WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("committee membership", id)
	}
	return cm, err
}

func (s *Store) ListCommitteeMemberships(ctx context.Context, activeOnly bool) ([]core.CommitteeMembership, error) {
	s.rlock()
	defer s.runlock()

	query := "SELECT id, member_id, role_id, start_date, end_date, active FROM committee_memberships"
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY start_date, id"

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []core.CommitteeMembership
	for rows.Next() {
		cm, err := scanCommitteeMembership(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *cm)
	}
	return result, rows.Err()
}

func scanCommitteeMembership(r scanner) (*core.CommitteeMembership, error) {
	var cm core.CommitteeMembership
	var start, end string
	if err := r.Scan(&cm.ID, &cm.MemberID, &cm.RoleID, &start, &end, &cm.Active); err != nil {
		return nil, err
	}
	cm.StartDate = parseDate(start)
	cm.EndDate = parseDate(end)
	return &cm, nil
}

// ===== MEETINGS =====

func (s *Store) SaveMeeting(ctx context.Context, mt *core.Meeting) error {
	s.lock()
	defer s.unlock()

	if mt.ID == "" {
		mt.ID = core.MeetingID(core.NewID())
	}
	attendees, err := json.Marshal(mt.AttendeeIDs)
	if err != nil {
		return fmt.Errorf("encode attendees: %w", err)
	}
	polls, err := json.Marshal(mt.Polls)
	if err != nil {
		return fmt.Errorf("encode polls: %w", err)
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO meetings (id, title, at, location, meeting_type, state, agenda, minutes, attendees_json, polls_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			at = excluded.at,
			location = excluded.location,
			meeting_type = excluded.meeting_type,
			state = excluded.state,
			agenda = excluded.agenda,
			minutes = excluded.minutes,
			attendees_json = excluded.attendees_json,
			polls_json = excluded.polls_json`,
		mt.ID, mt.Title, mt.At.UTC().Format(time.RFC3339Nano), mt.Location, mt.Type, mt.State,
		mt.Agenda, mt.Minutes, string(attendees), string(polls))
	if err != nil {
		return fmt.Errorf("failed to save meeting: %w", err)
	}
	return nil
}

const meetingColumns = "id, title, at, location, meeting_type, state, agenda, minutes, attendees_json, polls_json"

func (s *Store) GetMeeting(ctx context.Context, id core.MeetingID) (*core.Meeting, error) {
	s.rlock()
	defer s.runlock()

	mt, err := scanMeeting(s.q.QueryRowContext(ctx, "SELECT "+meetingColumns+" FROM meetings WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("meeting", id)
	}
	return mt, err
}

func (s *Store) ListMeetings(ctx context.Context) ([]core.Meeting, error) {
	s.rlock()
	defer s.runlock()

	rows, err := s.q.QueryContext(ctx, "SELECT "+meetingColumns+" FROM meetings ORDER BY at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []core.Meeting
	for rows.Next() {
		mt, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *mt)
	}
	return result, rows.Err()
}

func scanMeeting(r scanner) (*core.Meeting, error) {
	var mt core.Meeting
	var at, attendees, polls string
	var location, agenda, minutes sql.NullString
	if err := r.Scan(&mt.ID, &mt.Title, &at, &location, &mt.Type, &mt.State, &agenda, &minutes, &attendees, &polls); err != nil {
		return nil, err
	}
	mt.At, _ = time.Parse(time.RFC3339Nano, at)
	mt.Location = location.String
	mt.Agenda = agenda.String
	mt.Minutes = minutes.String
	if err := json.Unmarshal([]byte(attendees), &mt.AttendeeIDs); err != nil {
		return nil, fmt.Errorf("decode attendees of meeting %s: %w", mt.ID, err)
	}
	if err := json.Unmarshal([]byte(polls), &mt.Polls); err != nil {
		return nil, fmt.Errorf("decode polls of meeting %s: %w", mt.ID, err)
	}
	return &mt, nil
}

// ===== EVENTS =====

func (s *Store) AppendEvents(ctx context.Context, events ...core.Event) error {
	if len(events) == 0 {
		return nil
	}
	s.lock()
	defer s.unlock()

	var seq int64
	if err := s.q.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM events").Scan(&seq); err != nil {
		return err
	}
	for _, e := range events {
		seq++
		if e.ID == "" {
			e.ID = core.NewID()
		}
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO events (id, seq, ts, actor_id, actor_kind, subject_type, subject_id, field, old_value, new_value)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, seq, e.Timestamp.UTC().Format(time.RFC3339Nano), e.Actor.ID, e.Actor.Kind,
			e.SubjectType, e.SubjectID, e.Field, e.Old, e.New)
		if err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
	}
	return nil
}

// QueryEvents returns matching events, newest first.
func (s *Store) QueryEvents(ctx context.Context, filter core.EventFilter) ([]core.Event, error) {
	s.rlock()
	defer s.runlock()

	query := "SELECT id, ts, actor_id, actor_kind, subject_type, subject_id, field, old_value, new_value FROM events"
	var where []string
	var args []any
	if filter.SubjectType != "" {
		where = append(where, "subject_type = ?")
		args = append(args, filter.SubjectType)
	}
	if filter.SubjectID != "" {
		where = append(where, "subject_id = ?")
		args = append(args, filter.SubjectID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []core.Event
	for rows.Next() {
		var e core.Event
		var ts string
		var actorID, old, new sql.NullString
		if err := rows.Scan(&e.ID, &ts, &actorID, &e.Actor.Kind, &e.SubjectType, &e.SubjectID, &e.Field, &old, &new); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		e.Actor.ID = actorID.String
		e.Old = old.String
		e.New = new.String
		result = append(result, e)
	}
	return result, rows.Err()
}

// ===== JOB RUNS =====

func (s *Store) RecordRun(ctx context.Context, run core.JobRun) error {
	s.lock()
	defer s.unlock()

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO job_runs (key, job, run_date, status, affected, reference, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Key, run.Job, dateString(run.RunDate), run.Status, run.Affected, run.Reference, run.Error,
		timeString(run.StartedAt), timeString(run.CompletedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("run %s: %w", run.Key, core.ErrDuplicateKey)
		}
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, run core.JobRun) error {
	s.lock()
	defer s.unlock()

	res, err := s.q.ExecContext(ctx, `UPDATE job_runs SET
			job = ?, run_date = ?, status = ?, affected = ?, reference = ?, error = ?, started_at = ?, completed_at = ?
		WHERE key = ?`,
		run.Job, dateString(run.RunDate), run.Status, run.Affected, run.Reference, run.Error,
		timeString(run.StartedAt), timeString(run.CompletedAt), run.Key)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("run", run.Key)
	}
	return nil
}

const runColumns = "key, job, run_date, status, affected, reference, error, started_at, completed_at"

func (s *Store) GetRun(ctx context.Context, key string) (*core.JobRun, error) {
	s.rlock()
	defer s.runlock()

	run, err := scanRun(s.q.QueryRowContext(ctx, "SELECT "+runColumns+" FROM job_runs WHERE key = ?", key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("run", key)
	}
	return run, err
}

// ListRuns returns runs of a job (all jobs when empty), most recent first.
func (s *Store) ListRuns(ctx context.Context, job string, limit int) ([]core.JobRun, error) {
	s.rlock()
	defer s.runlock()

	query := "SELECT " + runColumns + " FROM job_runs"
	var args []any
	if job != "" {
		query += " WHERE job = ?"
		args = append(args, job)
	}
	query += " ORDER BY started_at DESC, key"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []core.JobRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *run)
	}
	return result, rows.Err()
}

func scanRun(r scanner) (*core.JobRun, error) {
	var run core.JobRun
	var runDate, started, completed string
	var reference, errText sql.NullString
	if err := r.Scan(&run.Key, &run.Job, &runDate, &run.Status, &run.Affected, &reference, &errText, &started, &completed); err != nil {
		return nil, err
	}
	run.RunDate = parseDate(runDate)
	run.Reference = reference.String
	run.Error = errText.String
	run.StartedAt = parseTime(started)
	run.CompletedAt = parseTime(completed)
	return &run, nil
}

// Helper functions

func notFound(kind string, id any) error {
	return fmt.Errorf("%s %v: %w", kind, id, core.ErrNotFound)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// dateString stores unset dates as the empty string so columns stay scannable into string.
func dateString(d core.Date) string {
	return d.String()
}

func parseDate(s string) core.Date {
	d, _ := core.ParseDate(s)
	return d
}

func timeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseMoney(value string, currency core.Currency) core.Money {
	return core.Money{Value: core.MustParseDecimal(value), Currency: currency}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}
