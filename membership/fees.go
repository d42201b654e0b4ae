package membership

import (
	"github.com/shifa/membership-engine/core"
)

// =============================================================================
// FEE CALCULATOR - Pure line-item computation
// =============================================================================

const (
	LineEntranceFee  = "Entrance Fee"
	LineAnnualFee    = "Annual Subscription"
	LineDonation     = "Donation"
	lineDependentFee = "Dependent Fee: "
)

// DependentLineName is the invoice line label for a dependent.
func DependentLineName(d core.Dependent) string { return lineDependentFee + d.Name }

// InitialFeeLines returns the lines billed when a member is approved:
// entrance fee, annual subscription, one line per dependent (free for
// orphans) and a donation line when a donation was pledged.
func InitialFeeLines(m *core.Member, deps []core.Dependent) []core.InvoiceLine {
	currency := memberCurrency(m)
	lines := []core.InvoiceLine{
		line(LineEntranceFee, m.EntryFee, currency),
		line(LineAnnualFee, m.AnnualFee, currency),
	}
	for _, d := range deps {
		price := m.DependentFee
		if d.IsOrphan {
			price = core.ZeroMoney(currency)
		}
		lines = append(lines, line(DependentLineName(d), price, currency))
	}
	if m.DonationAmount.IsPositive() {
		lines = append(lines, line(LineDonation, m.DonationAmount, currency))
	}
	return lines
}

// AnnualFeeLines returns the lines billed on renewal. Dependents that are
// unsubscribed or orphaned are listed at zero; no donation line.
func AnnualFeeLines(m *core.Member, deps []core.Dependent) []core.InvoiceLine {
	currency := memberCurrency(m)
	lines := []core.InvoiceLine{line(LineAnnualFee, m.AnnualFee, currency)}
	for _, d := range deps {
		price := m.DependentFee
		if d.IsUnsubscribed() || d.IsOrphan {
			price = core.ZeroMoney(currency)
		}
		lines = append(lines, line(DependentLineName(d), price, currency))
	}
	return lines
}

// TotalInitialFee is entry + annual + one dependent fee per dependent, the
// figure quoted to applicants before approval (donation excluded).
func TotalInitialFee(m *core.Member, deps []core.Dependent) core.Money {
	currency := memberCurrency(m)
	total := orZero(m.EntryFee, currency).Add(orZero(m.AnnualFee, currency))
	for range deps {
		total = total.Add(orZero(m.DependentFee, currency))
	}
	return total
}

func line(name string, price core.Money, currency core.Currency) core.InvoiceLine {
	return core.InvoiceLine{Name: name, Quantity: 1, UnitPrice: orZero(price, currency)}
}

func orZero(m core.Money, currency core.Currency) core.Money {
	if m.Currency == "" {
		return core.ZeroMoney(currency)
	}
	return m
}

func memberCurrency(m *core.Member) core.Currency {
	if m.Currency != "" {
		return m.Currency
	}
	return core.DefaultCurrency
}
