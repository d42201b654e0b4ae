package core_test

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shifa/membership-engine/core"
)

func TestParseDate_EmptyIsZero(t *testing.T) {
	d, err := core.ParseDate("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())
	assert.Equal(t, "", d.String())

	_, err = core.ParseDate("31/03/2025")
	assert.Error(t, err)
}

func TestDaysBetween(t *testing.T) {
	from := core.MustParseDate("2025-03-31")
	assert.Equal(t, 91, core.DaysBetween(from, core.MustParseDate("2025-06-30")))
	assert.Equal(t, -1, core.DaysBetween(from, core.MustParseDate("2025-03-30")))
	assert.Equal(t, 0, core.DaysBetween(from, from))
}

func TestWholeYearsBetween_IgnoresLeapDays(t *testing.T) {
	// 2023-06-01 .. 2025-05-31 is 730 days: two years by the days/365 rule
	assert.Equal(t, 2, core.WholeYearsBetween(core.MustParseDate("2023-06-01"), core.MustParseDate("2025-05-31")))
	// 2024-01-01 .. 2024-12-31 spans a leap year: 365 days, one year
	assert.Equal(t, 1, core.WholeYearsBetween(core.MustParseDate("2024-01-01"), core.MustParseDate("2024-12-31")))
	assert.Equal(t, 0, core.WholeYearsBetween(core.MustParseDate("2024-01-01"), core.MustParseDate("2024-12-30")))
}

func TestSubscriptionDueDate(t *testing.T) {
	cases := []struct {
		created string
		due     string
	}{
		{"2025-01-01", "2025-03-31"},
		{"2025-03-15", "2025-03-31"},
		{"2025-03-31", "2025-03-31"},
		{"2025-04-01", "2026-03-31"},
		{"2025-06-10", "2026-03-31"},
		{"2025-12-31", "2026-03-31"},
	}
	for _, tc := range cases {
		t.Run(tc.created, func(t *testing.T) {
			assert.Equal(t, tc.due, core.SubscriptionDueDate(core.MustParseDate(tc.created)).String())
		})
	}
}

func TestIsRenewalDay(t *testing.T) {
	assert.True(t, core.IsRenewalDay(core.NewDate(2026, time.January, 1)))
	assert.False(t, core.IsRenewalDay(core.NewDate(2026, time.January, 2)))
	assert.False(t, core.IsRenewalDay(core.NewDate(2025, time.December, 31)))
}

func TestPeriod_Contains_Inclusive(t *testing.T) {
	season := core.RenewalSeason(2025)
	assert.True(t, season.Contains(core.MustParseDate("2025-01-01")))
	assert.True(t, season.Contains(core.MustParseDate("2025-03-31")))
	assert.False(t, season.Contains(core.MustParseDate("2025-04-01")))
	assert.Equal(t, "[2025-01-01, 2025-03-31]", season.String())

	ytd := core.YearToDate(core.MustParseDate("2025-06-10"))
	assert.Equal(t, "2025-01-01", ytd.Start.String())
	assert.Equal(t, "2025-06-10", ytd.End.String())
}

func TestFixedClock(t *testing.T) {
	clock := core.FixedClock{Day: core.MustParseDate("2025-06-10")}
	assert.Equal(t, "2025-06-10", clock.Today().String())
	assert.Equal(t, core.DateOf(clock.Now()), clock.Today())
}

func TestDate_JSON(t *testing.T) {
	type doc struct {
		Due core.Date `json:"due"`
	}
	data, err := json.Marshal(doc{Due: core.MustParseDate("2025-03-31")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"due":"2025-03-31"}`, string(data))

	var parsed doc
	require.NoError(t, json.Unmarshal([]byte(`{"due":"2024-02-29"}`), &parsed))
	assert.Equal(t, core.MustParseDate("2024-02-29"), parsed.Due)

	require.NoError(t, json.Unmarshal([]byte(`{"due":""}`), &parsed))
	assert.True(t, parsed.Due.IsZero())
}
