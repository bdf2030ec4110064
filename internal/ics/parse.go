package ics

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "daybook/internal/log"
)

// ParsedEvent is one VEVENT as read from a feed, before it is turned into
// a model.Event. Recurrence fields are kept raw.
type ParsedEvent struct {
	Source Source

	UID string
	Seq int

	Summary     string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule string
	ExDates  []time.Time
	// RecurrenceID is set on VEVENTs that replace one instance of a
	// recurring event with the same UID.
	RecurrenceID *time.Time
}

// IsOverride reports whether the VEVENT replaces a single instance.
func (p ParsedEvent) IsOverride() bool {
	return p.RecurrenceID != nil
}

// ParseICS parses one feed body. VEVENTs that cannot be read are logged and
// skipped; only an unreadable calendar fails the whole body.
func ParseICS(src Source, body []byte) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "id", src.ID, "reason", perr.Error())
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	out := ParsedEvent{Source: src}

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || strings.TrimSpace(uidProp.Value) == "" {
		return out, errors.New("missing UID")
	}
	out.UID = strings.TrimSpace(uidProp.Value)

	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
			out.Seq = n
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	out.AllDay = isDateValue(dtStart)

	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	loc := propLocation(dtStart, start.Location())
	if out.AllDay {
		y, m, d := start.Date()
		start = time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
	out.Start = start

	end, err := ve.GetEndAt()
	switch {
	case err != nil && out.AllDay:
		end = start.AddDate(0, 0, 1)
	case err != nil:
		end = start
	case out.AllDay:
		y, m, d := end.Date()
		end = time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
	if end.Before(start) {
		appLog.Warn("ics vevent ends before it starts; clamping", "uid", out.UID)
		end = start
	}
	out.End = end

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = strings.TrimSpace(p.Value)
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		exLoc := propLocation(p, loc)
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, err := parseICSTime(part, exLoc)
			if err != nil {
				appLog.Warn("ics exdate ignored", "uid", out.UID, "value", part)
				continue
			}
			out.ExDates = append(out.ExDates, t)
		}
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		t, err := parseICSTime(p.Value, propLocation(p, loc))
		if err != nil {
			return out, err
		}
		out.RecurrenceID = &t
	}

	return out, nil
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// propLocation resolves a TZID parameter, falling back to def for floating
// values and unknown zone names.
func propLocation(p *ical.IANAProperty, def *time.Location) *time.Location {
	tzs, ok := p.ICalParameters["TZID"]
	if !ok || len(tzs) == 0 {
		return def
	}
	loc, err := time.LoadLocation(tzs[0])
	if err != nil {
		return def
	}
	return loc
}

// parseICSTime reads DATE, DATE-TIME and UTC DATE-TIME values.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
