package core

import "github.com/shopspring/decimal"

// =============================================================================
// INVOICES - Owned by the accounting collaborator
// =============================================================================

// InvoiceLine is a single billed item. The engine computes lines; the
// accounting service persists and posts them.
type InvoiceLine struct {
	Name      string
	Quantity  int
	UnitPrice Money
}

func (l InvoiceLine) Total() Money {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type InvoicePaymentState string

const (
	InvoiceNotPaid InvoicePaymentState = "not_paid"
	InvoicePartial InvoicePaymentState = "partial"
	InvoicePaid    InvoicePaymentState = "paid"
)

// InvoiceSummary is the read model the engine needs for arrears checks.
type InvoiceSummary struct {
	Ref          InvoiceRef
	InvoiceDate  Date
	DueDate      Date // zero when the accounting side did not set one
	PaymentState InvoicePaymentState
	Posted       bool
	Total        Money
}

// IsUnpaid reports whether a posted invoice still has an outstanding balance.
func (s InvoiceSummary) IsUnpaid() bool {
	return s.Posted && s.PaymentState != InvoicePaid
}

// EffectiveDueDate is the due date, falling back to the invoice date.
func (s InvoiceSummary) EffectiveDueDate() Date {
	return s.DueDate.Or(s.InvoiceDate)
}

// DaysOverdue returns how many days past its effective due date the invoice is on today.
func (s InvoiceSummary) DaysOverdue(today Date) int {
	due := s.EffectiveDueDate()
	if due.IsZero() {
		return 0
	}
	return DaysBetween(due, today)
}

// InvoiceTotal sums line totals.
func InvoiceTotal(lines []InvoiceLine, currency Currency) Money {
	total := ZeroMoney(currency)
	for _, l := range lines {
		total = total.Add(l.Total())
	}
	return total
}
