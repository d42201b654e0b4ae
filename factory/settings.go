/*
Package factory converts the association settings document into Go values.

PURPOSE:
  Fees, thresholds, the medical fund and the governance mailing list change
  per deployment and per year. They live in a JSON document so the
  committee can adjust them without a release; the factory validates the
  document and fills defaults.

JSON SCHEMA:
  {
    "currency": "MUR",
    "fees": {
      "entry_fee": 500,
      "annual_fee": 1000,
      "dependent_fee": 500
    },
    "overdue_threshold_days": 90,
    "min_tenure_years": 2,
    "child_age_limit": 23,
    "medical_fund": {
      "total": 10000,
      "cap_fraction": 0.5
    },
    "governance_recipients": ["secretary@shifa.mu"]
  }

  Every field is optional. A missing "medical_fund" leaves the fund
  unconfigured: claims can still be filed but not approved.

USAGE:
  f := NewSettingsFactory()
  settings, err := f.LoadFile("settings.json")
  deps.Policy = settings.Policy
  deps.Fund = settings.FundProvider()

SEE ALSO:
  - membership/policy.go: Policy defaults
  - core/claim.go: FundSettings and the annual cap
*/
package factory

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/shifa/membership-engine/core"
	"github.com/shifa/membership-engine/membership"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// SettingsJSON is the JSON representation of the association settings.
type SettingsJSON struct {
	Currency             string    `json:"currency,omitempty"`
	Fees                 *FeesJSON `json:"fees,omitempty"`
	OverdueThresholdDays int       `json:"overdue_threshold_days,omitempty"`
	MinTenureYears       int       `json:"min_tenure_years,omitempty"`
	ChildAgeLimit        int       `json:"child_age_limit,omitempty"`
	MedicalFund          *FundJSON `json:"medical_fund,omitempty"`
	GovernanceRecipients []string  `json:"governance_recipients,omitempty"`
}

// FeesJSON holds the default fee schedule for new members.
type FeesJSON struct {
	EntryFee     *decimal.Decimal `json:"entry_fee,omitempty"`
	AnnualFee    *decimal.Decimal `json:"annual_fee,omitempty"`
	DependentFee *decimal.Decimal `json:"dependent_fee,omitempty"`
}

// FundJSON configures the medical-assistance fund.
type FundJSON struct {
	Total       decimal.Decimal  `json:"total"`
	CapFraction *decimal.Decimal `json:"cap_fraction,omitempty"`
}

// Settings is the parsed, validated document.
type Settings struct {
	Policy     membership.Policy
	Fund       *core.FundSettings // nil when not configured
	Governance []string
}

// FundProvider exposes the fund through the collaborator interface.
func (s *Settings) FundProvider() core.FundSettingsProvider {
	return core.StaticFund{Settings: s.Fund}
}

// Defaults returns the settings used when no document is supplied.
func Defaults() *Settings {
	return &Settings{Policy: membership.DefaultPolicy()}
}

// =============================================================================
// SETTINGS FACTORY
// =============================================================================

type SettingsFactory struct{}

func NewSettingsFactory() *SettingsFactory {
	return &SettingsFactory{}
}

// ParseSettings parses a JSON string into Settings.
func (f *SettingsFactory) ParseSettings(jsonStr string) (*Settings, error) {
	var sj SettingsJSON
	if err := json.Unmarshal([]byte(jsonStr), &sj); err != nil {
		return nil, &core.ValidationError{Field: "settings", Message: "invalid settings JSON", Cause: err}
	}
	return f.FromJSON(sj)
}

// LoadFile reads and parses a settings document. An empty path yields Defaults.
func (f *SettingsFactory) LoadFile(path string) (*Settings, error) {
	if path == "" {
		return Defaults(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings %s: %w", path, err)
	}
	return f.ParseSettings(string(data))
}

// FromJSON validates sj and fills defaults.
func (f *SettingsFactory) FromJSON(sj SettingsJSON) (*Settings, error) {
	policy := membership.DefaultPolicy()
	if c := strings.ToUpper(strings.TrimSpace(sj.Currency)); c != "" {
		if len(c) != 3 {
			return nil, core.NewValidationError("currency", "expected a 3-letter code, got %q", sj.Currency)
		}
		policy.Currency = core.Currency(c)
	}

	fees := core.DefaultFeeSchedule(policy.Currency)
	if sj.Fees != nil {
		var err error
		if fees.EntryFee, err = parseFee("fees.entry_fee", sj.Fees.EntryFee, fees.EntryFee); err != nil {
			return nil, err
		}
		if fees.AnnualFee, err = parseFee("fees.annual_fee", sj.Fees.AnnualFee, fees.AnnualFee); err != nil {
			return nil, err
		}
		if fees.DependentFee, err = parseFee("fees.dependent_fee", sj.Fees.DependentFee, fees.DependentFee); err != nil {
			return nil, err
		}
	}
	policy.Fees = fees

	for field, v := range map[string]int{
		"overdue_threshold_days": sj.OverdueThresholdDays,
		"min_tenure_years":       sj.MinTenureYears,
		"child_age_limit":        sj.ChildAgeLimit,
	} {
		if v < 0 {
			return nil, core.NewValidationError(field, "must not be negative")
		}
	}
	if sj.OverdueThresholdDays > 0 {
		policy.OverdueThresholdDays = sj.OverdueThresholdDays
	}
	if sj.MinTenureYears > 0 {
		policy.MinTenureYears = sj.MinTenureYears
	}
	if sj.ChildAgeLimit > 0 {
		policy.ChildAgeLimit = sj.ChildAgeLimit
	}

	fund, err := parseFund(sj.MedicalFund, policy.Currency)
	if err != nil {
		return nil, err
	}

	var recipients []string
	for _, r := range sj.GovernanceRecipients {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if !strings.Contains(r, "@") {
			return nil, core.NewValidationError("governance_recipients", "invalid address %q", r)
		}
		recipients = append(recipients, r)
	}

	return &Settings{Policy: policy, Fund: fund, Governance: recipients}, nil
}

// ToJSON converts Settings back to the document form.
func (f *SettingsFactory) ToJSON(s *Settings) SettingsJSON {
	fees := s.Policy.Fees
	sj := SettingsJSON{
		Currency: string(s.Policy.Currency),
		Fees: &FeesJSON{
			EntryFee:     &fees.EntryFee.Value,
			AnnualFee:    &fees.AnnualFee.Value,
			DependentFee: &fees.DependentFee.Value,
		},
		OverdueThresholdDays: s.Policy.OverdueThresholdDays,
		MinTenureYears:       s.Policy.MinTenureYears,
		ChildAgeLimit:        s.Policy.ChildAgeLimit,
		GovernanceRecipients: s.Governance,
	}
	if s.Fund != nil {
		fraction := s.Fund.CapFraction
		if fraction.IsZero() {
			fraction = core.DefaultCapFraction
		}
		sj.MedicalFund = &FundJSON{Total: s.Fund.Total.Value, CapFraction: &fraction}
	}
	return sj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseFee(field string, v *decimal.Decimal, def core.Money) (core.Money, error) {
	if v == nil {
		return def, nil
	}
	if v.IsNegative() {
		return core.Money{}, core.NewValidationError(field, "must not be negative")
	}
	return core.Money{Value: *v, Currency: def.Currency}, nil
}

func parseFund(fj *FundJSON, currency core.Currency) (*core.FundSettings, error) {
	if fj == nil {
		return nil, nil
	}
	if !fj.Total.IsPositive() {
		return nil, &core.ConfigurationError{Setting: membership.SettingMedicalFund}
	}
	fund := &core.FundSettings{
		Total:       core.Money{Value: fj.Total, Currency: currency},
		CapFraction: core.DefaultCapFraction,
	}
	if fj.CapFraction != nil {
		c := *fj.CapFraction
		if !c.IsPositive() || c.GreaterThan(decimal.NewFromInt(1)) {
			return nil, core.NewValidationError("medical_fund.cap_fraction", "must be in (0, 1], got %s", c)
		}
		fund.CapFraction = c
	}
	return fund, nil
}
