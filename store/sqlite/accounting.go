package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shifa/membership-engine/core"
)

// =============================================================================
// ACCOUNTING - Partner accounts, invoices and payments
// =============================================================================

// Accounting implements core.AccountingService and core.ContactDirectory on
// its own database. Lifecycle transactions post invoices while they hold
// the member store's write lock, so the ledger must not share that file.
type Accounting struct {
	db *sql.DB
	mu sync.Mutex
}

var (
	_ core.AccountingService = (*Accounting)(nil)
	_ core.ContactDirectory  = (*Accounting)(nil)
)

// NewAccounting opens (and migrates) the ledger database at dbPath.
func NewAccounting(dbPath string) (*Accounting, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, err
	}
	a := &Accounting{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate accounting database: %w", err)
	}
	return a, nil
}

func (a *Accounting) Close() error {
	return a.db.Close()
}

func (a *Accounting) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS partners (
		ref TEXT PRIMARY KEY,
		contact_key TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		email TEXT,
		phone TEXT,
		address TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS invoices (
		ref TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		partner_ref TEXT NOT NULL REFERENCES partners(ref),
		invoice_date TEXT NOT NULL,
		due_date TEXT,
		currency TEXT NOT NULL,
		payment_state TEXT NOT NULL,
		posted INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_partner ON invoices(partner_ref, seq);

	CREATE TABLE IF NOT EXISTS invoice_lines (
		invoice_ref TEXT NOT NULL REFERENCES invoices(ref) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price TEXT NOT NULL,
		PRIMARY KEY (invoice_ref, position)
	);
	`
	_, err := a.db.Exec(schema)
	return err
}

// GetOrCreateAccount is idempotent on Contact.Key.
func (a *Accounting) GetOrCreateAccount(ctx context.Context, c core.Contact) (core.PartnerRef, error) {
	if c.Key == "" {
		return "", core.NewValidationError("key", "contact key is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var ref core.PartnerRef
	err := a.db.QueryRowContext(ctx, "SELECT ref FROM partners WHERE contact_key = ?", c.Key).Scan(&ref)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	ref = core.PartnerRef("partner-" + core.NewID())
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO partners (ref, contact_key, name, email, phone, address, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ref, c.Key, c.Name, c.Email, c.Phone, c.Address, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("failed to create partner: %w", err)
	}
	return ref, nil
}

// Contact returns the directory entry of a partner.
func (a *Accounting) Contact(ctx context.Context, ref core.PartnerRef) (*core.Contact, error) {
	var c core.Contact
	var email, phone, address sql.NullString
	err := a.db.QueryRowContext(ctx, "SELECT contact_key, name, email, phone, address FROM partners WHERE ref = ?", ref).
		Scan(&c.Key, &c.Name, &email, &phone, &address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("partner", ref)
	}
	if err != nil {
		return nil, err
	}
	c.Email, c.Phone, c.Address = email.String, phone.String, address.String
	return &c, nil
}

// CreateAndPostInvoice stores the invoice and its lines in one transaction.
// Refs are numbered INV/<year>/<seq>.
func (a *Accounting) CreateAndPostInvoice(ctx context.Context, partner core.PartnerRef, invoiceDate, dueDate core.Date, lines []core.InvoiceLine) (core.InvoiceRef, error) {
	if partner == "" {
		return "", core.NewValidationError("partner", "invoice requires a partner account")
	}
	if len(lines) == 0 {
		return "", core.NewValidationError("lines", "invoice has no lines")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) + 1 FROM invoices").Scan(&seq); err != nil {
		return "", err
	}
	ref := core.InvoiceRef(fmt.Sprintf("INV/%d/%04d", invoiceDate.Year(), seq))

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (ref, seq, partner_ref, invoice_date, due_date, currency, payment_state, posted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		ref, seq, partner, invoiceDate.String(), dueDate.String(), lines[0].UnitPrice.Currency,
		core.InvoiceNotPaid, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return "", fmt.Errorf("invoice %s: %w", ref, core.ErrDuplicateKey)
		}
		return "", fmt.Errorf("failed to insert invoice: %w", err)
	}
	for i, l := range lines {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO invoice_lines (invoice_ref, position, name, quantity, unit_price) VALUES (?, ?, ?, ?, ?)",
			ref, i, l.Name, l.Quantity, l.UnitPrice.Value.String())
		if err != nil {
			return "", fmt.Errorf("failed to insert invoice line: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return ref, nil
}

func (a *Accounting) FindUnpaidInvoices(ctx context.Context, partner core.PartnerRef) ([]core.InvoiceSummary, error) {
	all, err := a.ListInvoices(ctx, partner)
	if err != nil {
		return nil, err
	}
	var unpaid []core.InvoiceSummary
	for _, s := range all {
		if s.IsUnpaid() {
			unpaid = append(unpaid, s)
		}
	}
	return unpaid, nil
}

// ListInvoices returns posted invoices of the partner in creation order.
func (a *Accounting) ListInvoices(ctx context.Context, partner core.PartnerRef) ([]core.InvoiceSummary, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT ref, invoice_date, due_date, currency, payment_state, posted
		FROM invoices
		WHERE partner_ref = ? AND posted = 1
		ORDER BY seq`, partner)
	if err != nil {
		return nil, err
	}

	var result []core.InvoiceSummary
	for rows.Next() {
		var s core.InvoiceSummary
		var invoiceDate, dueDate string
		if err := rows.Scan(&s.Ref, &invoiceDate, &dueDate, &s.Total.Currency, &s.PaymentState, &s.Posted); err != nil {
			rows.Close()
			return nil, err
		}
		s.InvoiceDate = parseDate(invoiceDate)
		s.DueDate = parseDate(dueDate)
		result = append(result, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Lines are read after the cursor is closed: :memory: databases run on one connection.
	for i := range result {
		lines, err := a.Lines(ctx, result[i].Ref)
		if err != nil {
			return nil, err
		}
		result[i].Total = core.InvoiceTotal(lines, result[i].Total.Currency)
	}
	return result, nil
}

// Lines returns the lines of an invoice in billing order.
func (a *Accounting) Lines(ctx context.Context, ref core.InvoiceRef) ([]core.InvoiceLine, error) {
	var currency core.Currency
	err := a.db.QueryRowContext(ctx, "SELECT currency FROM invoices WHERE ref = ?", ref).Scan(&currency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("invoice", ref)
	}
	if err != nil {
		return nil, err
	}

	rows, err := a.db.QueryContext(ctx,
		"SELECT name, quantity, unit_price FROM invoice_lines WHERE invoice_ref = ? ORDER BY position", ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []core.InvoiceLine
	for rows.Next() {
		var l core.InvoiceLine
		var price string
		if err := rows.Scan(&l.Name, &l.Quantity, &price); err != nil {
			return nil, err
		}
		l.UnitPrice = parseMoney(price, currency)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// SetPaymentState records a payment outcome against an invoice.
func (a *Accounting) SetPaymentState(ctx context.Context, ref core.InvoiceRef, state core.InvoicePaymentState) error {
	switch state {
	case core.InvoiceNotPaid, core.InvoicePartial, core.InvoicePaid:
	default:
		return core.NewValidationError("payment_state", "unknown invoice payment state %q", state)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.db.ExecContext(ctx, "UPDATE invoices SET payment_state = ? WHERE ref = ?", state, ref)
	if err != nil {
		return fmt.Errorf("failed to update invoice: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("invoice", ref)
	}
	return nil
}

// Reset clears the ledger (for testing/demo).
func (a *Accounting) Reset(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, table := range []string{"invoice_lines", "invoices", "partners"} {
		if _, err := a.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}
