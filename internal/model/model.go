package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateLayout is the ISO date format used for exceptions, explicit dates and
// end dates in recurrence rules.
const DateLayout = "2006-01-02"

// Event is either a template (Recurrence != nil) or a concrete occurrence.
// Occurrences produced by recurrence expansion carry OriginalEventID.
type Event struct {
	ID       string `json:"id" yaml:"id"`
	SourceID string `json:"source_id,omitempty" yaml:"source_id,omitempty"`

	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Location    string `json:"location,omitempty" yaml:"location,omitempty"`

	Start  time.Time `json:"start" yaml:"start"`
	End    time.Time `json:"end" yaml:"end"`
	AllDay bool      `json:"all_day" yaml:"all_day"`

	Color Color  `json:"color" yaml:"color"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`

	Recurrence *RecurrenceRule `json:"recurrence,omitempty" yaml:"recurrence,omitempty"`

	// OriginalEventID points back to the template this occurrence was
	// generated from. Empty for one-off events.
	OriginalEventID string `json:"original_event_id,omitempty" yaml:"-"`
}

// IsTemplate reports whether the event must be expanded before rendering.
func (e Event) IsTemplate() bool {
	return e.Recurrence != nil
}

// Duration is End - Start.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return &ValidationError{Field: "id", Reason: "cannot be empty"}
	}
	if e.Start.IsZero() {
		return &ValidationError{Field: "start", Reason: "cannot be zero"}
	}
	if e.End.Before(e.Start) {
		return &ValidationError{Field: "end", Reason: "is before start"}
	}
	if e.Recurrence != nil {
		if err := e.Recurrence.Validate(); err != nil {
			return fmt.Errorf("event %s: %w", e.ID, err)
		}
	}
	return nil
}

// Payment is a dated amount due. Recurring payments expand the same way
// recurring events do, keyed on DueDate.
type Payment struct {
	ID          string    `json:"id" yaml:"id"`
	Title       string    `json:"title" yaml:"title"`
	AmountCents int64     `json:"amount_cents" yaml:"amount_cents"`
	Currency    string    `json:"currency" yaml:"currency"`
	DueDate     time.Time `json:"due_date" yaml:"due_date"`
	Paid        bool      `json:"paid" yaml:"paid"`
	Label       string    `json:"label,omitempty" yaml:"label,omitempty"`

	Recurrence *RecurrenceRule `json:"recurrence,omitempty" yaml:"recurrence,omitempty"`

	OriginalPaymentID string `json:"original_payment_id,omitempty" yaml:"-"`
}

func (p Payment) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return &ValidationError{Field: "id", Reason: "cannot be empty"}
	}
	if p.DueDate.IsZero() {
		return &ValidationError{Field: "due_date", Reason: "cannot be zero"}
	}
	if p.AmountCents < 0 {
		return &ValidationError{Field: "amount_cents", Reason: "cannot be negative"}
	}
	if p.Recurrence != nil {
		if err := p.Recurrence.Validate(); err != nil {
			return fmt.Errorf("payment %s: %w", p.ID, err)
		}
	}
	return nil
}

// ValidationError reports malformed input. It is returned before any
// computation starts, never after a partial result.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

// IsValidation reports whether err wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// SortEvents orders events by start, then end, then id.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.End.Equal(b.End) {
			return a.End.Before(b.End)
		}
		return a.ID < b.ID
	})
}
