package ics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "daybook/internal/log"
	"daybook/internal/model"
)

// Override replaces one generated occurrence of TemplateID. Date is the
// template-local date of the replaced instance.
type Override struct {
	TemplateID string
	Date       string
	Event      model.Event
}

// EventID is the id a feed VEVENT gets inside the app.
func EventID(sourceID, uid string) string {
	return sourceID + ":" + uid
}

// ToEvents converts parsed VEVENTs into one-off events and templates plus
// the overrides that must be applied after expansion. When a UID appears
// more than once without RECURRENCE-ID the highest SEQUENCE wins.
func ToEvents(parsed []ParsedEvent) ([]model.Event, []Override) {
	base := make(map[string]ParsedEvent)
	var order []string

	for _, p := range parsed {
		if p.IsOverride() {
			continue
		}
		id := EventID(p.Source.ID, p.UID)
		prev, seen := base[id]
		if !seen {
			order = append(order, id)
		}
		if !seen || p.Seq >= prev.Seq {
			base[id] = p
		}
	}

	events := make([]model.Event, 0, len(order))
	for _, id := range order {
		p := base[id]
		ev := eventOf(id, p)

		if p.RawRRule != "" {
			rule, err := RuleFromRRule(p.RawRRule, p.Start)
			if err != nil {
				appLog.Warn("ics rrule unsupported; keeping first instance only",
					"id", id,
					"rrule", p.RawRRule,
					"reason", err.Error(),
				)
			} else {
				for _, ex := range p.ExDates {
					rule.Exceptions = append(rule.Exceptions, model.DateKey(ex.In(p.Start.Location())))
				}
				ev.Recurrence = rule
			}
		}
		events = append(events, ev)
	}

	var overrides []Override
	for _, p := range parsed {
		if !p.IsOverride() {
			continue
		}
		id := EventID(p.Source.ID, p.UID)
		tpl, ok := base[id]
		if !ok {
			appLog.Warn("ics override without recurring event", "id", id)
			continue
		}
		// Keyed on the template's local date.
		overrides = append(overrides, Override{
			TemplateID: id,
			Date:       model.DateKey(p.RecurrenceID.In(tpl.Start.Location())),
			Event:      eventOf(id, p),
		})
	}

	return events, overrides
}

func eventOf(id string, p ParsedEvent) model.Event {
	return model.Event{
		ID:          id,
		SourceID:    p.Source.ID,
		Title:       p.Summary,
		Description: p.Description,
		Location:    p.Location,
		Start:       p.Start,
		End:         p.End,
		AllDay:      p.AllDay,
		Color:       p.Source.Color,
		Label:       p.Source.Label,
	}
}

// RuleFromRRule maps an RFC 5545 RRULE onto a RecurrenceRule anchored at
// anchor. Parts the rule model cannot express are dropped with a warning;
// sub-daily frequencies are an error.
func RuleFromRRule(raw string, anchor time.Time) (*model.RecurrenceRule, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "RRULE:")
	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return nil, fmt.Errorf("parse rrule: %w", err)
	}

	rule := &model.RecurrenceRule{
		Interval: max(opt.Interval, 1),
		Count:    opt.Count,
	}
	if !opt.Until.IsZero() {
		rule.EndDate = model.DateKey(opt.Until.In(anchor.Location()))
	}

	switch opt.Freq {
	case rrule.DAILY:
		rule.Frequency = model.Daily
	case rrule.WEEKLY:
		rule.Frequency = model.Weekly
		if len(opt.Byweekday) > 0 {
			rule.DaysOfWeek = make([]int, 0, len(opt.Byweekday))
			for _, wd := range opt.Byweekday {
				rule.DaysOfWeek = append(rule.DaysOfWeek, (wd.Day()+1)%7)
			}
			sort.Ints(rule.DaysOfWeek)
		}
	case rrule.MONTHLY:
		rule.Frequency = model.Monthly
		rule.MonthlyType = model.ByDate
		if len(opt.Byweekday) > 0 {
			rule.MonthlyType = model.ByWeekdayOrdinal
			if len(opt.Byweekday) > 1 || len(opt.Bymonthday) > 0 {
				appLog.Warn("ics rrule: only the anchor weekday ordinal is kept", "rrule", raw)
			}
		} else if len(opt.Bymonthday) > 1 || (len(opt.Bymonthday) == 1 && opt.Bymonthday[0] != anchor.Day()) {
			appLog.Warn("ics rrule: BYMONTHDAY replaced by the anchor day", "rrule", raw)
		}
	case rrule.YEARLY:
		rule.Frequency = model.Yearly
		if len(opt.Byweekday) > 0 || len(opt.Bymonthday) > 0 {
			appLog.Warn("ics rrule: yearly rule reduced to the anchor date", "rrule", raw)
		}
	default:
		return nil, fmt.Errorf("unsupported frequency %v", opt.Freq)
	}

	if len(opt.Bysetpos) > 0 || len(opt.Byhour) > 0 || len(opt.Byminute) > 0 {
		appLog.Warn("ics rrule: BYSETPOS/BYHOUR/BYMINUTE ignored", "rrule", raw)
	}
	return rule, nil
}

// ApplyOverrides swaps occurrences for their RECURRENCE-ID replacements.
// The replacement keeps the occurrence id so links stay stable.
func ApplyOverrides(occurrences []model.Event, overrides []Override) []model.Event {
	if len(overrides) == 0 {
		return occurrences
	}
	byKey := make(map[string]Override, len(overrides))
	for _, o := range overrides {
		byKey[o.TemplateID+"/"+o.Date] = o
	}

	out := make([]model.Event, 0, len(occurrences))
	for _, occ := range occurrences {
		if occ.OriginalEventID == "" {
			out = append(out, occ)
			continue
		}
		o, ok := byKey[occ.OriginalEventID+"/"+model.DateKey(occ.Start)]
		if !ok {
			out = append(out, occ)
			continue
		}
		repl := o.Event
		repl.ID = occ.ID
		repl.OriginalEventID = occ.OriginalEventID
		repl.Recurrence = nil
		out = append(out, repl)
	}
	model.SortEvents(out)
	return out
}
