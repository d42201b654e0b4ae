package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shifa/membership-engine/core"
)

// =============================================================================
// IN-MEMORY ACCOUNTING - Invoices and partner accounts
// =============================================================================

// Invoice is a posted invoice held by the in-memory ledger.
type Invoice struct {
	Ref         core.InvoiceRef
	Partner     core.PartnerRef
	InvoiceDate core.Date
	DueDate     core.Date
	Lines       []core.InvoiceLine
	State       core.InvoicePaymentState
	Posted      bool
}

func (inv Invoice) Summary() core.InvoiceSummary {
	currency := core.DefaultCurrency
	if len(inv.Lines) > 0 {
		currency = inv.Lines[0].UnitPrice.Currency
	}
	return core.InvoiceSummary{
		Ref:          inv.Ref,
		InvoiceDate:  inv.InvoiceDate,
		DueDate:      inv.DueDate,
		PaymentState: inv.State,
		Posted:       inv.Posted,
		Total:        core.InvoiceTotal(inv.Lines, currency),
	}
}

// Accounting implements core.AccountingService and core.ContactDirectory in memory.
type Accounting struct {
	mu       sync.RWMutex
	invoices map[core.InvoiceRef]*Invoice
	order    []core.InvoiceRef
	accounts map[string]core.PartnerRef // contact key -> partner
	contacts map[core.PartnerRef]core.Contact
}

var (
	_ core.AccountingService = (*Accounting)(nil)
	_ core.ContactDirectory  = (*Accounting)(nil)
)

func NewAccounting() *Accounting {
	return &Accounting{
		invoices: make(map[core.InvoiceRef]*Invoice),
		accounts: make(map[string]core.PartnerRef),
		contacts: make(map[core.PartnerRef]core.Contact),
	}
}

func (a *Accounting) GetOrCreateAccount(_ context.Context, c core.Contact) (core.PartnerRef, error) {
	if c.Key == "" {
		return "", core.NewValidationError("key", "contact key is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if ref, ok := a.accounts[c.Key]; ok {
		return ref, nil
	}
	ref := core.PartnerRef("partner-" + core.NewID())
	a.accounts[c.Key] = ref
	a.contacts[ref] = c
	return ref, nil
}

// Contact returns the directory entry of a partner.
func (a *Accounting) Contact(ref core.PartnerRef) (core.Contact, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.contacts[ref]
	return c, ok
}

func (a *Accounting) CreateAndPostInvoice(_ context.Context, partner core.PartnerRef, invoiceDate, dueDate core.Date, lines []core.InvoiceLine) (core.InvoiceRef, error) {
	if partner == "" {
		return "", core.NewValidationError("partner", "invoice requires a partner account")
	}
	if len(lines) == 0 {
		return "", core.NewValidationError("lines", "invoice has no lines")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	ref := core.InvoiceRef(fmt.Sprintf("INV/%d/%04d", invoiceDate.Year(), len(a.order)+1))
	a.invoices[ref] = &Invoice{
		Ref:         ref,
		Partner:     partner,
		InvoiceDate: invoiceDate,
		DueDate:     dueDate,
		Lines:       append([]core.InvoiceLine(nil), lines...),
		State:       core.InvoiceNotPaid,
		Posted:      true,
	}
	a.order = append(a.order, ref)
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

func (a *Accounting) ListInvoices(_ context.Context, partner core.PartnerRef) ([]core.InvoiceSummary, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var result []core.InvoiceSummary
	for _, ref := range a.order {
		inv := a.invoices[ref]
		if inv.Partner == partner && inv.Posted {
			result = append(result, inv.Summary())
		}
	}
	return result, nil
}

// Invoice returns a copy of the stored invoice.
func (a *Accounting) Invoice(ref core.InvoiceRef) (Invoice, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	inv, ok := a.invoices[ref]
	if !ok {
		return Invoice{}, false
	}
	return *inv, true
}

// Invoices returns every invoice of a partner in creation order.
func (a *Accounting) Invoices(partner core.PartnerRef) []Invoice {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var result []Invoice
	for _, ref := range a.order {
		if inv := a.invoices[ref]; inv.Partner == partner {
			result = append(result, *inv)
		}
	}
	return result
}

// SetPaymentState records a payment outcome against an invoice.
func (a *Accounting) SetPaymentState(_ context.Context, ref core.InvoiceRef, state core.InvoicePaymentState) error {
	switch state {
	case core.InvoiceNotPaid, core.InvoicePartial, core.InvoicePaid:
	default:
		return core.NewValidationError("payment_state", "unknown invoice payment state %q", state)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	inv, ok := a.invoices[ref]
	if !ok {
		return fmt.Errorf("invoice %s: %w", ref, core.ErrNotFound)
	}
	inv.State = state
	return nil
}

// AddInvoice seeds an invoice directly, e.g. a historical or unposted one.
func (a *Accounting) AddInvoice(inv Invoice) core.InvoiceRef {
	a.mu.Lock()
	defer a.mu.Unlock()
	if inv.Ref == "" {
		inv.Ref = core.InvoiceRef(core.NewID())
	}
	if inv.State == "" {
		inv.State = core.InvoiceNotPaid
	}
	a.invoices[inv.Ref] = &inv
	a.order = append(a.order, inv.Ref)
	return inv.Ref
}

// Partners lists every provisioned partner, sorted.
func (a *Accounting) Partners() []core.PartnerRef {
	a.mu.RLock()
	defer a.mu.RUnlock()
	result := make([]core.PartnerRef, 0, len(a.contacts))
	for ref := range a.contacts {
		result = append(result, ref)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

// Reset drops every partner and invoice.
func (a *Accounting) Reset(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.invoices = make(map[core.InvoiceRef]*Invoice)
	a.order = nil
	a.accounts = make(map[string]core.PartnerRef)
	a.contacts = make(map[core.PartnerRef]core.Contact)
	return nil
}
