package model

import (
	"strconv"
	"strings"
	"time"
)

type Frequency string

const (
	Daily     Frequency = "daily"
	Weekly    Frequency = "weekly"
	Biweekly  Frequency = "biweekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
	Yearly    Frequency = "yearly"
	// Custom rules enumerate their dates explicitly in RecurrenceRule.Dates.
	Custom Frequency = "custom"
)

func (f Frequency) IsValid() bool {
	switch f {
	case Daily, Weekly, Biweekly, Monthly, Quarterly, Yearly, Custom:
		return true
	}
	return false
}

// IsWeekBased is true for frequencies where DaysOfWeek applies.
func (f Frequency) IsWeekBased() bool {
	return f == Weekly || f == Biweekly
}

// IsMonthBased is true for frequencies where MonthlyType applies.
func (f Frequency) IsMonthBased() bool {
	return f == Monthly || f == Quarterly || f == Yearly
}

type MonthlyType string

const (
	// ByDate repeats on the same day of month ("the 15th").
	ByDate MonthlyType = "by-date"
	// ByWeekdayOrdinal repeats on the same ordinal weekday ("the 3rd Tuesday").
	ByWeekdayOrdinal MonthlyType = "by-weekday-ordinal"
)

// RecurrenceRule is owned by its template Event (or Payment).
type RecurrenceRule struct {
	Frequency Frequency `json:"frequency" yaml:"frequency"`
	Interval  int       `json:"interval" yaml:"interval"`

	// DaysOfWeek holds weekday indices, 0=Sunday..6=Saturday. nil means
	// "the template's own weekday"; a non-nil empty slice is rejected.
	DaysOfWeek []int `json:"days_of_week,omitempty" yaml:"days_of_week,omitempty"`

	MonthlyType MonthlyType `json:"monthly_type,omitempty" yaml:"monthly_type,omitempty"`

	// EndDate is an inclusive ISO date. Empty means no end date.
	EndDate string `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	// Count bounds the number of generated occurrences; exceptions still
	// consume their slot. Zero means unbounded.
	Count int `json:"count,omitempty" yaml:"count,omitempty"`

	Exceptions []string `json:"exceptions,omitempty" yaml:"exceptions,omitempty"`
	Dates      []string `json:"dates,omitempty" yaml:"dates,omitempty"`
}

func (r RecurrenceRule) Validate() error {
	if !r.Frequency.IsValid() {
		return &ValidationError{Field: "frequency", Reason: "unknown value " + strconv.Quote(string(r.Frequency))}
	}
	if r.Interval < 1 {
		return &ValidationError{Field: "interval", Reason: "must be >= 1, got " + strconv.Itoa(r.Interval)}
	}
	if r.Count < 0 {
		return &ValidationError{Field: "count", Reason: "cannot be negative"}
	}
	if r.Frequency.IsWeekBased() && r.DaysOfWeek != nil && len(r.DaysOfWeek) == 0 {
		return &ValidationError{Field: "days_of_week", Reason: "is set but empty"}
	}
	for _, d := range r.DaysOfWeek {
		if d < 0 || d > 6 {
			return &ValidationError{Field: "days_of_week", Reason: "weekday " + strconv.Itoa(d) + " out of range 0..6"}
		}
	}
	if r.EndDate != "" {
		if _, err := ParseDate(r.EndDate, time.UTC); err != nil {
			return &ValidationError{Field: "end_date", Reason: err.Error()}
		}
	}
	for _, ex := range r.Exceptions {
		if _, err := ParseDate(ex, time.UTC); err != nil {
			return &ValidationError{Field: "exceptions", Reason: err.Error()}
		}
	}
	if r.Frequency == Custom && len(r.Dates) == 0 {
		return &ValidationError{Field: "dates", Reason: "custom rule needs at least one date"}
	}
	for _, d := range r.Dates {
		if _, err := ParseDate(d, time.UTC); err != nil {
			return &ValidationError{Field: "dates", Reason: err.Error()}
		}
	}
	return nil
}

// ParseDate parses an ISO date as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
}

// DateKey formats the calendar date of t in its own location.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}
