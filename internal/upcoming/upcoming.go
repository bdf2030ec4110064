// Package upcoming groups dated items into labelled buckets relative to now.
package upcoming

import (
	"sort"
	"time"
)

const (
	LabelOverdue       = "overdue"
	LabelToday         = "today"
	LabelThisWeek      = "this-week"
	LabelNextWeek      = "next-week"
	LabelRemaining     = "remaining"
	LabelNextTwoMonths = "next-2-months"
)

// Definition is one bucket: a label and the predicate deciding membership.
// Definitions are evaluated in order and the first match wins.
type Definition struct {
	Label string
	Match func(date, now time.Time) bool
}

type Bucket[T any] struct {
	Label string `json:"label"`
	Items []T    `json:"items"`
}

// Group places every item in the first bucket whose predicate matches its
// date. Items matching no definition are dropped; callers that want every
// item kept must end defs with a catch-all. The result has one bucket per
// definition, in definition order, with items sorted by ascending date.
// Equal dates keep their input order.
func Group[T any](items []T, dateOf func(T) time.Time, now time.Time, defs []Definition) []Bucket[T] {
	buckets := make([]Bucket[T], len(defs))
	for i, d := range defs {
		buckets[i] = Bucket[T]{Label: d.Label, Items: []T{}}
	}

	for _, it := range items {
		date := dateOf(it)
		for i, d := range defs {
			if d.Match(date, now) {
				buckets[i].Items = append(buckets[i].Items, it)
				break
			}
		}
	}

	for i := range buckets {
		b := buckets[i].Items
		sort.SliceStable(b, func(x, y int) bool {
			return dateOf(b[x]).Before(dateOf(b[y]))
		})
	}
	return buckets
}

// Count returns the number of items across all buckets.
func Count[T any](buckets []Bucket[T]) int {
	n := 0
	for _, b := range buckets {
		n += len(b.Items)
	}
	return n
}

// Calendar holds the week convention used by the bucket boundaries.
// Boundaries are computed in Location, or in now's location when nil.
type Calendar struct {
	WeekStart time.Weekday
	Location  *time.Location
}

func (c Calendar) loc(t time.Time) *time.Location {
	if c.Location != nil {
		return c.Location
	}
	return t.Location()
}

// StartOfDay returns local midnight of t's calendar date.
func (c Calendar) StartOfDay(t time.Time) time.Time {
	loc := c.loc(t)
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// StartOfWeek returns midnight of the most recent WeekStart day on or
// before t.
func (c Calendar) StartOfWeek(t time.Time) time.Time {
	day := c.StartOfDay(t)
	offset := (int(day.Weekday()) - int(c.WeekStart) + 7) % 7
	return day.AddDate(0, 0, -offset)
}

func within(date, from, to time.Time) bool {
	return !date.Before(from) && date.Before(to)
}

// PaymentBuckets returns overdue, this-week, next-week and remaining.
// Remaining catches every date from today on, so no unpaid item is lost.
func PaymentBuckets(c Calendar) []Definition {
	return []Definition{
		{Label: LabelOverdue, Match: func(date, now time.Time) bool {
			return date.Before(c.StartOfDay(now))
		}},
		{Label: LabelThisWeek, Match: func(date, now time.Time) bool {
			ws := c.StartOfWeek(now)
			return within(date, ws, ws.AddDate(0, 0, 7))
		}},
		{Label: LabelNextWeek, Match: func(date, now time.Time) bool {
			ws := c.StartOfWeek(now).AddDate(0, 0, 7)
			return within(date, ws, ws.AddDate(0, 0, 7))
		}},
		{Label: LabelRemaining, Match: func(date, now time.Time) bool {
			return !date.Before(c.StartOfDay(now))
		}},
	}
}

// EventBuckets returns today, this-week and next-2-months. Past events and
// events more than two months out are dropped.
func EventBuckets(c Calendar) []Definition {
	return []Definition{
		{Label: LabelToday, Match: func(date, now time.Time) bool {
			today := c.StartOfDay(now)
			return within(date, today, today.AddDate(0, 0, 1))
		}},
		{Label: LabelThisWeek, Match: func(date, now time.Time) bool {
			return within(date, c.StartOfDay(now).AddDate(0, 0, 1), c.StartOfWeek(now).AddDate(0, 0, 7))
		}},
		{Label: LabelNextTwoMonths, Match: func(date, now time.Time) bool {
			today := c.StartOfDay(now)
			return within(date, today, today.AddDate(0, 2, 0))
		}},
	}
}
