package generic

import "time"

// =============================================================================
// PERIOD - Inclusive date range
// =============================================================================

// Period is an inclusive [Start, End] date range. It describes both a pay
// period and the limit year that annual caps are measured against.
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Contains returns true if the time point is within [Start, End].
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Validate rejects zero bounds and periods that end before they start.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() || p.End.Before(p.Start) {
		return &PeriodError{Period: p}
	}
	return nil
}

// Days returns the number of calendar days in the period, inclusive.
func (p Period) Days() int {
	return DaysBetween(p.Start, p.End) + 1
}

// Key is a stable identity for the period, used in idempotency keys.
func (p Period) Key() string {
	return p.Start.String() + "_" + p.End.String()
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// PeriodType defines how limit years are calculated.
type PeriodType string

const (
	PeriodCalendarYear PeriodType = "calendar_year" // Jan 1 - Dec 31
	PeriodFiscalYear   PeriodType = "fiscal_year"   // Custom start month
)

// PeriodConfig defines the year an annual limit resets on.
type PeriodConfig struct {
	Type PeriodType

	// For fiscal year: which month starts the year (1-12)
	FiscalYearStartMonth time.Month
}

// PeriodFor returns the limit year that contains date.
func (pc PeriodConfig) PeriodFor(date TimePoint) Period {
	switch pc.Type {
	case PeriodFiscalYear:
		if pc.FiscalYearStartMonth < time.January || pc.FiscalYearStartMonth > time.December {
			return CalendarYear(date.Year())
		}
		start := NewTimePoint(date.Year(), pc.FiscalYearStartMonth, 1)
		if date.Before(start) {
			start = NewTimePoint(date.Year()-1, pc.FiscalYearStartMonth, 1)
		}
		return Period{Start: start, End: start.AddYears(1).AddDays(-1)}
	default:
		return CalendarYear(date.Year())
	}
}

// CalendarYear returns Jan 1 - Dec 31 of year.
func CalendarYear(year int) Period {
	return Period{Start: StartOfYear(year), End: EndOfYear(year)}
}
