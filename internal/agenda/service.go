// Package agenda turns stored and subscribed events into what the API
// serves: expanded occurrences, day and week layouts and upcoming buckets.
package agenda

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"daybook/internal/ics"
	"daybook/internal/layout"
	appLog "daybook/internal/log"
	"daybook/internal/model"
	"daybook/internal/recurrence"
	"daybook/internal/upcoming"
)

// ErrNotReady is returned by queries made before the first refresh.
var ErrNotReady = errors.New("agenda: no snapshot yet")

// Store is the local source of events and payments.
type Store interface {
	ListEvents(ctx context.Context) ([]model.Event, error)
	ListPayments(ctx context.Context) ([]model.Payment, error)
}

// Fetcher downloads ICS feeds.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []ics.Source) ([]ics.FetchResult, error)
}

type Options struct {
	Location  *time.Location
	WeekStart time.Weekday
	// HorizonDays and BackfillDays bound payment expansion around today.
	HorizonDays    int
	BackfillDays   int
	MaxOccurrences int
	Layout         layout.Options
	Sources        []ics.Source
	// Now defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	store    Store
	fetcher  Fetcher
	resolver *recurrence.Resolver
	opts     Options

	refreshMu sync.Mutex

	mu   sync.RWMutex
	snap *Snapshot
}

// New builds a service. fetcher may be nil when no feeds are configured.
func New(store Store, fetcher Fetcher, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = 62
	}
	if opts.BackfillDays < 0 {
		opts.BackfillDays = 0
	}
	return &Service{
		store:    store,
		fetcher:  fetcher,
		resolver: recurrence.NewResolver(opts.MaxOccurrences, opts.WeekStart),
		opts:     opts,
	}
}

func (s *Service) Location() *time.Location { return s.opts.Location }

func (s *Service) Calendar() upcoming.Calendar {
	return upcoming.Calendar{WeekStart: s.opts.WeekStart, Location: s.opts.Location}
}

// Snapshot returns the current snapshot or nil before the first refresh.
func (s *Service) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Service) current() (*Snapshot, error) {
	snap := s.Snapshot()
	if snap == nil {
		return nil, ErrNotReady
	}
	return snap, nil
}

// Refresh reloads the store and every feed and swaps in a new snapshot. A
// failing feed only marks its status; a failing store keeps the previous
// snapshot and returns the error.
func (s *Service) Refresh(ctx context.Context) (*Snapshot, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	started := time.Now()

	events, err := s.store.ListEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	payments, err := s.store.ListPayments(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}

	feedEvents, overrides, statuses := s.loadFeeds(ctx)
	events = append(events, feedEvents...)

	valid := events[:0:0]
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			appLog.Warn("refresh: skipping invalid event", "id", ev.ID, "reason", err.Error())
			continue
		}
		valid = append(valid, ev)
	}

	var version uint64 = 1
	if prev := s.Snapshot(); prev != nil {
		version = prev.Version + 1
	}

	snap := newSnapshot(version, s.opts.Now(), valid, payments, overrides)
	snap.Sources = statuses

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	appLog.Info("refresh completed",
		"version", snap.Version,
		"one_offs", snap.OneOffCount,
		"templates", snap.TemplateCount,
		"payments", snap.PaymentCount,
		"sources", len(statuses),
		"elapsed", time.Since(started).String(),
	)
	return snap, nil
}

func (s *Service) loadFeeds(ctx context.Context) ([]model.Event, []ics.Override, []SourceStatus) {
	if s.fetcher == nil || len(s.opts.Sources) == 0 {
		return nil, nil, nil
	}

	results, err := s.fetcher.FetchAll(ctx, s.opts.Sources)
	if err != nil {
		appLog.Warn("refresh: some feeds failed", "reason", err.Error())
	}

	byID := make(map[string]ics.FetchResult, len(results))
	for _, r := range results {
		byID[r.Source.ID] = r
	}

	var (
		events    []model.Event
		overrides []ics.Override
		statuses  = make([]SourceStatus, 0, len(s.opts.Sources))
	)
	for _, src := range s.opts.Sources {
		st := SourceStatus{ID: src.ID}
		res, ok := byID[src.ID]
		if !ok {
			st.Error = "fetch failed"
			statuses = append(statuses, st)
			continue
		}
		st.FromCache = res.FromCache

		parsed, perr := ics.ParseICS(res.Source, res.Body)
		if perr != nil {
			st.Error = perr.Error()
			statuses = append(statuses, st)
			continue
		}
		evs, ovs := ics.ToEvents(parsed)
		st.Events = len(evs)
		events = append(events, evs...)
		overrides = append(overrides, ovs...)
		statuses = append(statuses, st)
	}
	return events, overrides, statuses
}

// Occurrences returns every occurrence intersecting [from, to], in the
// display timezone, sorted by start, end and id.
func (s *Service) Occurrences(from, to time.Time) ([]model.Event, error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	return s.occurrences(snap, from, to)
}

func (s *Service) occurrences(snap *Snapshot, from, to time.Time) ([]model.Event, error) {
	if to.Before(from) {
		return nil, &model.ValidationError{Field: "window", Reason: "end is before start"}
	}

	res, err := s.resolver.ExpandAll(snap.templates, from, to)
	if err != nil {
		return nil, err
	}
	expanded := ics.ApplyOverrides(res.Occurrences, snap.overrides)

	out := snap.oneOffsBetween(from, to)
	for _, occ := range expanded {
		if intersects(occ, from, to) {
			out = append(out, occ)
		}
	}

	loc := s.opts.Location
	for i := range out {
		out[i].Start = out[i].Start.In(loc)
		out[i].End = out[i].End.In(loc)
	}
	model.SortEvents(out)
	return out, nil
}

// DayLayout lays out the calendar day containing date.
func (s *Service) DayLayout(date time.Time) ([]layout.Slot, error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	dayStart := s.Calendar().StartOfDay(date)
	occ, err := s.occurrences(snap, dayStart, dayStart.AddDate(0, 0, 1).Add(-time.Nanosecond))
	if err != nil {
		return nil, err
	}
	return layout.Day(occ, dayStart, s.opts.Layout)
}

// WeekLayout lays out the week containing date.
func (s *Service) WeekLayout(date time.Time) (layout.WeekLayout, error) {
	snap, err := s.current()
	if err != nil {
		return layout.WeekLayout{}, err
	}
	weekStart := s.Calendar().StartOfWeek(date)
	occ, err := s.occurrences(snap, weekStart, weekStart.AddDate(0, 0, 7).Add(-time.Nanosecond))
	if err != nil {
		return layout.WeekLayout{}, err
	}
	return layout.Week(occ, weekStart, s.opts.Layout)
}

// UpcomingEvents buckets occurrences starting from today until two months
// out.
func (s *Service) UpcomingEvents(now time.Time) ([]upcoming.Bucket[model.Event], error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	cal := s.Calendar()
	today := cal.StartOfDay(now)
	occ, err := s.occurrences(snap, today, today.AddDate(0, 2, 0))
	if err != nil {
		return nil, err
	}
	return upcoming.Group(occ, eventDate, now, upcoming.EventBuckets(cal)), nil
}

// UpcomingPayments buckets unpaid payments due up to HorizonDays ahead.
// One-off payments stay overdue however old they are; recurring payments
// are only expanded back to BackfillDays ago.
func (s *Service) UpcomingPayments(now time.Time) ([]upcoming.Bucket[model.Payment], error) {
	snap, err := s.current()
	if err != nil {
		return nil, err
	}
	cal := s.Calendar()
	today := cal.StartOfDay(now)
	horizon := today.AddDate(0, 0, s.opts.HorizonDays)

	var oneOffs, recurring []model.Payment
	for _, p := range snap.payments {
		if p.Recurrence == nil {
			oneOffs = append(oneOffs, p)
		} else {
			recurring = append(recurring, p)
		}
	}

	res, err := s.resolver.ExpandPayments(recurring, today.AddDate(0, 0, -s.opts.BackfillDays), horizon)
	if err != nil {
		return nil, err
	}

	unpaid := make([]model.Payment, 0, len(oneOffs)+len(res.Payments))
	for _, p := range append(oneOffs, res.Payments...) {
		if p.Paid || p.DueDate.After(horizon) {
			continue
		}
		p.DueDate = p.DueDate.In(s.opts.Location)
		unpaid = append(unpaid, p)
	}
	sort.SliceStable(unpaid, func(i, j int) bool {
		if !unpaid[i].DueDate.Equal(unpaid[j].DueDate) {
			return unpaid[i].DueDate.Before(unpaid[j].DueDate)
		}
		return unpaid[i].ID < unpaid[j].ID
	})
	return upcoming.Group(unpaid, paymentDate, now, upcoming.PaymentBuckets(cal)), nil
}

func eventDate(ev model.Event) time.Time     { return ev.Start }
func paymentDate(p model.Payment) time.Time { return p.DueDate }
