package factory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shifa/membership-engine/core"
	"github.com/shifa/membership-engine/membership"
)

func TestParseSettings_Full(t *testing.T) {
	f := NewSettingsFactory()

	s, err := f.ParseSettings(`{
		"currency": "mur",
		"fees": {"entry_fee": 750, "annual_fee": "1200.50"},
		"overdue_threshold_days": 60,
		"min_tenure_years": 3,
		"medical_fund": {"total": 20000, "cap_fraction": 0.4},
		"governance_recipients": ["secretary@shifa.mu", " "]
	}`)

	require.NoError(t, err)
	assert.Equal(t, core.Currency("MUR"), s.Policy.Currency)
	assert.Equal(t, "750.00 MUR", s.Policy.Fees.EntryFee.String())
	assert.Equal(t, "1200.50 MUR", s.Policy.Fees.AnnualFee.String())
	assert.Equal(t, "500.00 MUR", s.Policy.Fees.DependentFee.String(), "unset fees keep their default")
	assert.Equal(t, 60, s.Policy.OverdueThresholdDays)
	assert.Equal(t, 3, s.Policy.MinTenureYears)
	assert.Equal(t, membership.ChildAgeLimit, s.Policy.ChildAgeLimit)
	require.NotNil(t, s.Fund)
	assert.Equal(t, "8000.00 MUR", s.Fund.AnnualCap().String())
	assert.Equal(t, []string{"secretary@shifa.mu"}, s.Governance)
}

func TestParseSettings_EmptyDocumentUsesDefaults(t *testing.T) {
	s, err := NewSettingsFactory().ParseSettings(`{}`)

	require.NoError(t, err)
	assert.Equal(t, membership.DefaultPolicy(), s.Policy)
	assert.Nil(t, s.Fund)

	fund, err := s.FundProvider().FundSettings(nil)
	require.NoError(t, err)
	assert.Nil(t, fund)
}

func TestParseSettings_Errors(t *testing.T) {
	f := NewSettingsFactory()
	cases := map[string]struct {
		doc  string
		want error
	}{
		"malformed":        {`{"currency":`, core.ErrValidation},
		"currency code":    {`{"currency": "rupees"}`, core.ErrValidation},
		"negative fee":     {`{"fees": {"annual_fee": -1}}`, core.ErrValidation},
		"negative days":    {`{"overdue_threshold_days": -5}`, core.ErrValidation},
		"zero fund":        {`{"medical_fund": {"total": 0}}`, core.ErrConfiguration},
		"fraction too big": {`{"medical_fund": {"total": 100, "cap_fraction": 1.5}}`, core.ErrValidation},
		"bad recipient":    {`{"governance_recipients": ["nobody"]}`, core.ErrValidation},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.ParseSettings(tc.doc)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestToJSON_RoundTrip(t *testing.T) {
	f := NewSettingsFactory()
	original, err := f.ParseSettings(`{"fees": {"entry_fee": 600}, "medical_fund": {"total": 10000}}`)
	require.NoError(t, err)

	data, err := json.Marshal(f.ToJSON(original))
	require.NoError(t, err)
	parsed, err := f.ParseSettings(string(data))
	require.NoError(t, err)

	assert.Equal(t, original.Policy.Fees.EntryFee.String(), parsed.Policy.Fees.EntryFee.String())
	assert.Equal(t, original.Fund.AnnualCap().String(), parsed.Fund.AnnualCap().String())
}

func TestLoadFile(t *testing.T) {
	f := NewSettingsFactory()

	s, err := f.LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, membership.DefaultPolicy(), s.Policy)

	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"child_age_limit": 21}`), 0o600))
	s, err = f.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 21, s.Policy.ChildAgeLimit)

	_, err = f.LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
