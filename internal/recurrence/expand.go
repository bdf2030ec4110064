package recurrence

import (
	"sort"
	"time"

	appLog "daybook/internal/log"
	"daybook/internal/model"
)

// ExpandResult is the expansion of a mixed list of one-off events and
// templates for one window.
type ExpandResult struct {
	Occurrences []model.Event
	// Truncated lists template ids that hit a safety cap.
	Truncated []string
	// Invalid lists ids that failed validation and were skipped.
	Invalid []string
}

// ExpandAll expands every template in events and keeps one-off events that
// intersect [windowStart, windowEnd]. Templates are expanded over a window
// widened by their duration so occurrences that started earlier but are
// still running are kept. Bad events are logged and skipped rather than
// failing the batch.
func (r *Resolver) ExpandAll(events []model.Event, windowStart, windowEnd time.Time) (ExpandResult, error) {
	var result ExpandResult

	if windowEnd.Before(windowStart) {
		return result, &model.ValidationError{Field: "window", Reason: "end is before start"}
	}

	occurrences := make([]model.Event, 0, len(events))

	for _, ev := range events {
		if !ev.IsTemplate() {
			if ev.End.Before(ev.Start) {
				appLog.Warn("expand: skipping event that ends before it starts", "id", ev.ID)
				result.Invalid = append(result.Invalid, ev.ID)
				continue
			}
			if intersects(ev, windowStart, windowEnd) {
				occurrences = append(occurrences, ev)
			}
			continue
		}

		res, err := r.Expand(ev, *ev.Recurrence, windowStart.Add(-ev.Duration()), windowEnd)
		if err != nil {
			appLog.Error("expand: invalid recurring event", err, "id", ev.ID)
			result.Invalid = append(result.Invalid, ev.ID)
			continue
		}
		if res.Truncated {
			result.Truncated = append(result.Truncated, ev.ID)
			appLog.Warn("expand: truncated occurrences due to cap",
				"id", ev.ID,
				"cap", r.maxOccurrences(),
			)
		}
		for _, occ := range res.Occurrences {
			if intersects(occ, windowStart, windowEnd) {
				occurrences = append(occurrences, occ)
			}
		}
	}

	model.SortEvents(occurrences)
	result.Occurrences = occurrences
	return result, nil
}

// PaymentResult mirrors ExpandResult for payments.
type PaymentResult struct {
	Payments  []model.Payment
	Truncated []string
	Invalid   []string
}

// ExpandPayments expands recurring payments on their due date and keeps
// one-off payments due inside [windowStart, windowEnd]. Output is sorted by
// due date, then id.
func (r *Resolver) ExpandPayments(payments []model.Payment, windowStart, windowEnd time.Time) (PaymentResult, error) {
	var result PaymentResult

	if windowEnd.Before(windowStart) {
		return result, &model.ValidationError{Field: "window", Reason: "end is before start"}
	}

	out := make([]model.Payment, 0, len(payments))

	for _, p := range payments {
		if p.Recurrence == nil {
			if !p.DueDate.Before(windowStart) && !p.DueDate.After(windowEnd) {
				out = append(out, p)
			}
			continue
		}

		dates, truncated, err := r.Dates(p.DueDate, *p.Recurrence, windowStart, windowEnd)
		if err != nil {
			appLog.Error("expand: invalid recurring payment", err, "id", p.ID)
			result.Invalid = append(result.Invalid, p.ID)
			continue
		}
		if truncated {
			result.Truncated = append(result.Truncated, p.ID)
			appLog.Warn("expand: truncated payment occurrences due to cap", "id", p.ID, "cap", r.maxOccurrences())
		}
		for _, dt := range dates {
			occ := p
			occ.ID = OccurrenceID(p.ID, dt)
			occ.OriginalPaymentID = p.ID
			occ.Recurrence = nil
			occ.DueDate = dt
			out = append(out, occ)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	result.Payments = out
	return result, nil
}

// intersects reports whether ev overlaps the inclusive window. Events
// ending exactly at windowStart do not count; zero-length markers count
// when they sit inside the window.
func intersects(ev model.Event, windowStart, windowEnd time.Time) bool {
	if ev.Start.After(windowEnd) {
		return false
	}
	return ev.End.After(windowStart) || !ev.Start.Before(windowStart)
}
