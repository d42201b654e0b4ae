package core

import "time"

// =============================================================================
// PERIOD - Inclusive date window
// =============================================================================

// Period is an inclusive [Start, End] window of days.
//
// Examples:
//   - Year to date on 2025-06-10: 2025-01-01 .. 2025-06-10
//   - Renewal reminder season: Jan 1 .. Mar 31
type Period struct {
	Start Date
	End   Date
}

// Contains returns true if the day is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// YearToDate is the calendar-year window used for the disbursement cap.
func YearToDate(today Date) Period {
	return Period{Start: StartOfYear(today.Year()), End: today}
}

// RenewalSeason is the window in which renewal reminders go out (Jan 1 .. Mar 31).
func RenewalSeason(year int) Period {
	return Period{Start: StartOfYear(year), End: MarchCutoff(year)}
}

// =============================================================================
// DUE DATE POLICY
// =============================================================================

// SubscriptionDueDate returns the due date of an invoice created on d.
// Invoices raised January..March are due on March 31 of the same year; from
// April 1 onwards they roll to March 31 of the following year.
func SubscriptionDueDate(d Date) Date {
	year := d.Year()
	if d.Month() >= time.April {
		year++
	}
	return MarchCutoff(year)
}

// IsRenewalDay reports whether d is January 1, the only day yearly renewal runs.
func IsRenewalDay(d Date) bool {
	return d.Month() == time.January && d.Day() == 1
}
