package recurrence

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	appLog "daybook/internal/log"
	"daybook/internal/model"
)

const (
	defaultMaxOccurrences = 5000
	defaultMaxIterations  = 100000
)

var occurrenceNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("daybook:occurrence"))

// rruleWeekdays is indexed by time.Weekday (0=Sunday).
var rruleWeekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// Resolver turns recurrence templates into concrete occurrences. The zero
// value is usable; zero caps fall back to the package defaults.
type Resolver struct {
	// MaxOccurrences caps how many occurrences one template may emit for a
	// single window.
	MaxOccurrences int
	// MaxIterations caps how many raw candidates are examined, including
	// those before the window.
	MaxIterations int
	// WeekStart is the first day of the week, which matters for weekly
	// rules with Interval > 1 and several weekdays.
	WeekStart time.Weekday
}

func NewResolver(maxOccurrences int, weekStart time.Weekday) *Resolver {
	return &Resolver{
		MaxOccurrences: maxOccurrences,
		MaxIterations:  defaultMaxIterations,
		WeekStart:      weekStart,
	}
}

// Result is the expansion of a single template. Truncated is set when a
// safety cap stopped generation before windowEnd.
type Result struct {
	Occurrences []model.Event
	Truncated   bool
}

// Expand generates the occurrences of template whose start falls inside
// [windowStart, windowEnd]. Identical inputs always yield identical
// occurrences, ids included.
func (r *Resolver) Expand(template model.Event, rule model.RecurrenceRule, windowStart, windowEnd time.Time) (Result, error) {
	if template.Start.IsZero() {
		return Result{}, &model.ValidationError{Field: "start", Reason: "template start cannot be zero"}
	}
	if template.End.Before(template.Start) {
		return Result{}, &model.ValidationError{Field: "end", Reason: "template ends before it starts"}
	}

	dates, truncated, err := r.Dates(template.Start, rule, windowStart, windowEnd)
	if err != nil {
		return Result{}, err
	}

	out := make([]model.Event, 0, len(dates))
	for _, dt := range dates {
		out = append(out, occurrenceOf(template, dt))
	}
	return Result{Occurrences: out, Truncated: truncated}, nil
}

// Dates returns the occurrence start times of rule anchored at anchor that
// fall inside [windowStart, windowEnd], and whether a cap was hit.
func (r *Resolver) Dates(anchor time.Time, rule model.RecurrenceRule, windowStart, windowEnd time.Time) ([]time.Time, bool, error) {
	if windowEnd.Before(windowStart) {
		return nil, false, &model.ValidationError{Field: "window", Reason: "end is before start"}
	}
	if anchor.IsZero() {
		return nil, false, &model.ValidationError{Field: "start", Reason: "anchor cannot be zero"}
	}
	if err := rule.Validate(); err != nil {
		return nil, false, err
	}

	// rrule-go works at second precision.
	anchor = anchor.Truncate(time.Second)

	next, err := r.candidates(anchor, rule)
	if err != nil {
		return nil, false, err
	}

	excluded := make(map[string]struct{}, len(rule.Exceptions))
	for _, ex := range rule.Exceptions {
		d, err := model.ParseDate(ex, anchor.Location())
		if err != nil {
			continue
		}
		excluded[model.DateKey(d)] = struct{}{}
	}

	maxOcc := r.maxOccurrences()
	maxIter := r.maxIterations()

	var (
		out       []time.Time
		last      time.Time
		generated int
		truncated bool
	)
	for i := 0; ; i++ {
		if i >= maxIter {
			truncated = true
			break
		}
		dt, ok := next()
		if !ok || dt.After(windowEnd) {
			break
		}
		// The anchor is fed in separately and may coincide with the rule.
		if !last.IsZero() && dt.Equal(last) {
			continue
		}
		last = dt
		// Count covers the template start, candidates before the window
		// and excluded dates alike.
		generated++
		if rule.Count > 0 && generated > rule.Count {
			break
		}
		if dt.Before(windowStart) {
			continue
		}
		if _, skip := excluded[model.DateKey(dt)]; skip {
			continue
		}
		if len(out) == maxOcc {
			truncated = true
			break
		}
		out = append(out, dt)
	}

	return out, truncated, nil
}

func (r *Resolver) candidates(anchor time.Time, rule model.RecurrenceRule) (func() (time.Time, bool), error) {
	var set rrule.Set

	if rule.Frequency == model.Custom {
		for _, dt := range customDates(anchor, rule) {
			set.RDate(dt)
		}
		return set.Iterator(), nil
	}

	opt := r.option(anchor, rule)
	rr, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("recurrence: build rule: %w", err)
	}
	set.RRule(rr)

	// The template's own start is always the first occurrence, even when
	// the weekday pattern does not include it.
	if opt.Until.IsZero() || !anchor.After(opt.Until) {
		set.RDate(anchor)
	}

	return set.Iterator(), nil
}

func (r *Resolver) option(anchor time.Time, rule model.RecurrenceRule) rrule.ROption {
	opt := rrule.ROption{
		Dtstart:  anchor,
		Interval: rule.Interval,
		Wkst:     rruleWeekdays[r.WeekStart%7],
	}
	if rule.EndDate != "" {
		end, _ := model.ParseDate(rule.EndDate, anchor.Location())
		opt.Until = end.AddDate(0, 0, 1).Add(-time.Second)
	}

	if len(rule.DaysOfWeek) > 0 && !rule.Frequency.IsWeekBased() {
		appLog.Warn("recurrence: days_of_week ignored for frequency", "frequency", rule.Frequency)
	}
	if rule.MonthlyType != "" && !rule.Frequency.IsMonthBased() {
		appLog.Warn("recurrence: monthly_type ignored for frequency", "frequency", rule.Frequency, "monthly_type", rule.MonthlyType)
	}

	switch rule.Frequency {
	case model.Daily:
		opt.Freq = rrule.DAILY
	case model.Weekly, model.Biweekly:
		opt.Freq = rrule.WEEKLY
		if rule.Frequency == model.Biweekly {
			opt.Interval *= 2
		}
		for _, d := range rule.DaysOfWeek {
			opt.Byweekday = append(opt.Byweekday, rruleWeekdays[d])
		}
	case model.Monthly, model.Quarterly:
		opt.Freq = rrule.MONTHLY
		if rule.Frequency == model.Quarterly {
			opt.Interval *= 3
		}
		applyMonthly(&opt, anchor, rule.MonthlyType)
	case model.Yearly:
		opt.Freq = rrule.YEARLY
		opt.Bymonth = []int{int(anchor.Month())}
		applyMonthly(&opt, anchor, rule.MonthlyType)
	}

	return opt
}

// applyMonthly pins the day inside each month. By-date rules past the 28th
// ask for the last of 28..D, which is D where it exists and the month's
// last day otherwise.
func applyMonthly(opt *rrule.ROption, anchor time.Time, mt model.MonthlyType) {
	switch mt {
	case model.ByWeekdayOrdinal:
		n := (anchor.Day()-1)/7 + 1
		if n == 5 {
			n = -1
		}
		wd := rruleWeekdays[anchor.Weekday()]
		opt.Byweekday = []rrule.Weekday{wd.Nth(n)}
		return
	case "", model.ByDate:
	default:
		appLog.Warn("recurrence: unsupported monthly type; falling back to by-date", "monthly_type", mt)
	}

	day := anchor.Day()
	if day <= 28 {
		opt.Bymonthday = []int{day}
		return
	}
	for d := 28; d <= day; d++ {
		opt.Bymonthday = append(opt.Bymonthday, d)
	}
	opt.Bysetpos = []int{-1}
}

// customDates resolves the explicit date list at the anchor's time of day,
// applying EndDate the same way rule-based expansion does.
func customDates(anchor time.Time, rule model.RecurrenceRule) []time.Time {
	loc := anchor.Location()
	seen := make(map[string]struct{}, len(rule.Dates))
	dates := make([]time.Time, 0, len(rule.Dates))
	for _, s := range rule.Dates {
		d, err := model.ParseDate(s, loc)
		if err != nil {
			continue
		}
		key := model.DateKey(d)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		dates = append(dates, time.Date(d.Year(), d.Month(), d.Day(),
			anchor.Hour(), anchor.Minute(), anchor.Second(), 0, loc))
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	if rule.EndDate != "" {
		end, _ := model.ParseDate(rule.EndDate, loc)
		until := end.AddDate(0, 0, 1)
		kept := dates[:0]
		for _, d := range dates {
			if d.Before(until) {
				kept = append(kept, d)
			}
		}
		dates = kept
	}
	return dates
}

// occurrenceOf copies template onto start, shifting End by the same number
// of calendar days so time of day and wall-clock duration are preserved.
func occurrenceOf(template model.Event, start time.Time) model.Event {
	offset := daysBetween(template.Start, start)

	occ := template
	occ.ID = OccurrenceID(template.ID, start)
	occ.OriginalEventID = template.ID
	occ.Recurrence = nil
	occ.Start = start
	occ.End = template.End.AddDate(0, 0, offset)
	return occ
}

// OccurrenceID is the stable id of the occurrence of templateID on the
// calendar date of t.
func OccurrenceID(templateID string, t time.Time) string {
	return uuid.NewSHA1(occurrenceNamespace, []byte(templateID+"/"+model.DateKey(t))).String()
}

func daysBetween(a, b time.Time) int {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

func (r *Resolver) maxOccurrences() int {
	if r == nil || r.MaxOccurrences <= 0 {
		return defaultMaxOccurrences
	}
	return r.MaxOccurrences
}

func (r *Resolver) maxIterations() int {
	if r == nil || r.MaxIterations <= 0 {
		return defaultMaxIterations
	}
	return r.MaxIterations
}
