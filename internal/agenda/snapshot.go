package agenda

import (
	"time"

	"github.com/rdleal/intervalst/interval"

	"daybook/internal/ics"
	"daybook/internal/model"
)

// SourceStatus is the outcome of the last refresh for one feed.
type SourceStatus struct {
	ID        string `json:"id"`
	Events    int    `json:"events"`
	FromCache bool   `json:"from_cache"`
	Error     string `json:"error,omitempty"`
}

// Snapshot is an immutable view of everything the agenda knows after one
// refresh. Readers never see a half-built snapshot.
type Snapshot struct {
	Version     uint64         `json:"version"`
	GeneratedAt time.Time      `json:"generated_at"`
	Sources     []SourceStatus `json:"sources"`

	OneOffCount   int `json:"one_off_count"`
	TemplateCount int `json:"template_count"`
	PaymentCount  int `json:"payment_count"`

	oneOffs   []model.Event
	index     *interval.SearchTree[[]int, time.Time]
	templates []model.Event
	payments  []model.Payment
	overrides []ics.Override
}

func newSnapshot(version uint64, now time.Time, events []model.Event, payments []model.Payment, overrides []ics.Override) *Snapshot {
	s := &Snapshot{
		Version:     version,
		GeneratedAt: now,
		index:       interval.NewSearchTree[[]int](func(x, y time.Time) int { return x.Compare(y) }),
		payments:    payments,
		overrides:   overrides,
	}

	for _, ev := range events {
		if ev.IsTemplate() {
			s.templates = append(s.templates, ev)
			continue
		}
		s.oneOffs = append(s.oneOffs, ev)
		s.insert(len(s.oneOffs)-1, ev)
	}

	s.OneOffCount = len(s.oneOffs)
	s.TemplateCount = len(s.templates)
	s.PaymentCount = len(payments)
	return s
}

// insert adds one-off i to the index. Events sharing the same interval are
// grouped under one key because the tree keeps one value per interval.
func (s *Snapshot) insert(i int, ev model.Event) {
	start, end := ev.Start, ev.End
	if !end.After(start) {
		end = start.Add(time.Nanosecond)
	}
	ids, _ := s.index.Find(start, end)
	ids = append(ids, i)
	_ = s.index.Insert(start, end, ids)
}

// oneOffsBetween returns one-off events intersecting the inclusive window.
func (s *Snapshot) oneOffsBetween(from, to time.Time) []model.Event {
	// Widened by 1ns so events starting exactly at to are found whether or
	// not the tree treats interval ends as inclusive.
	hits, ok := s.index.AllIntersections(from, to.Add(time.Nanosecond))
	if !ok {
		return nil
	}
	var out []model.Event
	for _, ids := range hits {
		for _, i := range ids {
			if ev := s.oneOffs[i]; intersects(ev, from, to) {
				out = append(out, ev)
			}
		}
	}
	return out
}

// intersects mirrors the expansion window rule: an event ending exactly at
// from is outside, a zero-length event at from is inside.
func intersects(ev model.Event, from, to time.Time) bool {
	if ev.Start.After(to) {
		return false
	}
	return ev.End.After(from) || !ev.Start.Before(from)
}
