// Package layout places expanded occurrences on day and week grids.
//
// Timed occurrences are grouped into clusters of transitively overlapping
// events; every member of a cluster of K events gets width 1/K and a
// distinct column. All-day and multi-day occurrences are stacked in a
// separate lane.
package layout

import (
	"sort"
	"time"

	"daybook/internal/model"
)

const (
	DefaultMinutesPerUnit = 15
	DefaultMinHeightUnits = 1.0
)

// Options controls the vertical unit of the grid.
type Options struct {
	// MinutesPerUnit converts minutes to grid units (15 = one unit per
	// quarter hour).
	MinutesPerUnit int
	// MinHeightUnits is the floor height for very short events so they stay
	// visible and clickable.
	MinHeightUnits float64
}

func (o Options) normalized() Options {
	if o.MinutesPerUnit <= 0 {
		o.MinutesPerUnit = DefaultMinutesPerUnit
	}
	if o.MinHeightUnits <= 0 {
		o.MinHeightUnits = DefaultMinHeightUnits
	}
	return o
}

type Lane string

const (
	LaneAllDay Lane = "all-day"
	LaneTimed  Lane = "timed"
)

// Slot is the placement of one occurrence. Slots are recomputed on every
// layout pass and carry no identity of their own.
type Slot struct {
	// Event is not owned by the slot.
	Event *model.Event `json:"event"`
	Lane  Lane         `json:"lane"`

	Top    float64 `json:"top"`
	Height float64 `json:"height"`

	Column      int `json:"column"`
	ColumnCount int `json:"column_count"`

	// Row is the stacking position inside the all-day lane.
	Row int `json:"row"`
	// MultiDay marks timed occurrences moved to the all-day lane because
	// they cross midnight.
	MultiDay bool `json:"multi_day,omitempty"`
}

// Width is the normalised share of the lane width.
func (s Slot) Width() float64 {
	if s.ColumnCount <= 0 {
		return 1
	}
	return 1 / float64(s.ColumnCount)
}

// Left is the normalised offset from the lane's left edge.
func (s Slot) Left() float64 {
	if s.ColumnCount <= 0 {
		return 0
	}
	return float64(s.Column) / float64(s.ColumnCount)
}

// Day lays out the occurrences that intersect [dayStart, dayStart+1 day).
// All-day slots come first, then timed slots in start order.
func Day(occurrences []model.Event, dayStart time.Time, opts Options) ([]Slot, error) {
	if err := validate(occurrences); err != nil {
		return nil, err
	}
	opts = opts.normalized()
	dayEnd := dayStart.AddDate(0, 0, 1)

	var allDay, timed []*model.Event
	for i := range occurrences {
		ev := &occurrences[i]
		if !intersectsDay(*ev, dayStart, dayEnd) {
			continue
		}
		if ev.AllDay || isMultiDay(*ev) {
			allDay = append(allDay, ev)
		} else {
			timed = append(timed, ev)
		}
	}

	slots := make([]Slot, 0, len(allDay)+len(timed))
	slots = append(slots, stackAllDay(allDay)...)
	slots = append(slots, layoutTimed(timed, dayStart, dayEnd, opts)...)
	return slots, nil
}

func stackAllDay(events []*model.Event) []Slot {
	sortRefs(events, true)

	slots := make([]Slot, 0, len(events))
	for i, ev := range events {
		slots = append(slots, Slot{
			Event:       ev,
			Lane:        LaneAllDay,
			Row:         i,
			ColumnCount: 1,
			MultiDay:    !ev.AllDay,
		})
	}
	return slots
}

// layoutTimed walks events in start order keeping an open cluster; an event
// joins the cluster while it starts before the latest end seen so far.
func layoutTimed(events []*model.Event, dayStart, dayEnd time.Time, opts Options) []Slot {
	sortRefs(events, false)

	slots := make([]Slot, 0, len(events))
	clusterStart := 0
	var clusterEnd time.Time

	closeCluster := func(end int) {
		k := end - clusterStart
		for i := clusterStart; i < end; i++ {
			slots[i].Column = i - clusterStart
			slots[i].ColumnCount = k
		}
	}

	for i, ev := range events {
		if i > 0 && !ev.Start.Before(clusterEnd) {
			closeCluster(i)
			clusterStart = i
		}
		if i == clusterStart || ev.End.After(clusterEnd) {
			clusterEnd = ev.End
		}
		slots = append(slots, timedSlot(ev, dayStart, dayEnd, opts))
	}
	if len(events) > 0 {
		closeCluster(len(events))
	}
	return slots
}

func timedSlot(ev *model.Event, dayStart, dayEnd time.Time, opts Options) Slot {
	start := ev.Start
	if start.Before(dayStart) {
		start = dayStart
	}
	end := ev.End
	if end.After(dayEnd) {
		end = dayEnd
	}

	unit := float64(opts.MinutesPerUnit)
	height := end.Sub(start).Minutes() / unit
	if height < opts.MinHeightUnits {
		height = opts.MinHeightUnits
	}

	return Slot{
		Event:  ev,
		Lane:   LaneTimed,
		Top:    start.Sub(dayStart).Minutes() / unit,
		Height: height,
	}
}

// sortRefs orders by start then end. All-day lanes put longer spans first
// so multi-day bars sit above single-day ones.
func sortRefs(events []*model.Event, longestFirst bool) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.End.Equal(b.End) {
			if longestFirst {
				return a.End.After(b.End)
			}
			return a.End.Before(b.End)
		}
		return a.ID < b.ID
	})
}

func validate(occurrences []model.Event) error {
	for _, ev := range occurrences {
		if ev.IsTemplate() {
			return &model.ValidationError{Field: "occurrences", Reason: "template " + ev.ID + " must be expanded before layout"}
		}
		if ev.End.Before(ev.Start) {
			return &model.ValidationError{Field: "end", Reason: "event " + ev.ID + " ends before it starts"}
		}
	}
	return nil
}

func intersectsDay(ev model.Event, dayStart, dayEnd time.Time) bool {
	if !ev.Start.Before(dayEnd) {
		return false
	}
	return ev.End.After(dayStart) || !ev.Start.Before(dayStart)
}

// isMultiDay reports whether a timed event crosses midnight. An end exactly
// at the next midnight still belongs to the start day.
func isMultiDay(ev model.Event) bool {
	first, last := dateSpan(ev)
	return !first.Equal(last)
}

// dateSpan returns the first and last calendar dates (midnight, in the
// start's location) touched by ev. End is exclusive.
func dateSpan(ev model.Event) (time.Time, time.Time) {
	loc := ev.Start.Location()
	end := ev.End
	if end.After(ev.Start) {
		end = end.Add(-time.Nanosecond)
	}
	end = end.In(loc)
	sy, sm, sd := ev.Start.Date()
	ey, em, ed := end.Date()
	return time.Date(sy, sm, sd, 0, 0, 0, 0, loc), time.Date(ey, em, ed, 0, 0, 0, 0, loc)
}
