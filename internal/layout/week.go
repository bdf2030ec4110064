package layout

import (
	"sort"
	"time"

	"daybook/internal/model"
)

const daysPerWeek = 7

// WeekLayout is seven timed day columns plus a shared all-day lane whose
// bars may span several columns.
type WeekLayout struct {
	Start  time.Time   `json:"start"`
	Days   []DayColumn `json:"days"`
	AllDay []SpanSlot  `json:"all_day"`
	// Rows is the number of all-day rows in use.
	Rows int `json:"rows"`
}

type DayColumn struct {
	Date  time.Time `json:"date"`
	Slots []Slot    `json:"slots"`
}

// SpanSlot is an all-day bar covering columns [StartDay, StartDay+Span).
type SpanSlot struct {
	Event    *model.Event `json:"event"`
	Row      int          `json:"row"`
	StartDay int          `json:"start_day"`
	Span     int          `json:"span"`
	MultiDay bool         `json:"multi_day,omitempty"`

	ContinuesBefore bool `json:"continues_before,omitempty"`
	ContinuesAfter  bool `json:"continues_after,omitempty"`
}

// Week lays out seven days starting at weekStart. Timed occurrences that
// cross midnight are shown as all-day bars, like in Day.
func Week(occurrences []model.Event, weekStart time.Time, opts Options) (WeekLayout, error) {
	if err := validate(occurrences); err != nil {
		return WeekLayout{}, err
	}
	opts = opts.normalized()

	wl := WeekLayout{
		Start: weekStart,
		Days:  make([]DayColumn, 0, daysPerWeek),
	}

	var spanning []*model.Event
	weekEnd := weekStart.AddDate(0, 0, daysPerWeek)

	for i := range occurrences {
		ev := &occurrences[i]
		if (ev.AllDay || isMultiDay(*ev)) && intersectsDay(*ev, weekStart, weekEnd) {
			spanning = append(spanning, ev)
		}
	}

	for d := 0; d < daysPerWeek; d++ {
		dayStart := weekStart.AddDate(0, 0, d)
		dayEnd := dayStart.AddDate(0, 0, 1)

		var timed []*model.Event
		for i := range occurrences {
			ev := &occurrences[i]
			if ev.AllDay || isMultiDay(*ev) || !intersectsDay(*ev, dayStart, dayEnd) {
				continue
			}
			timed = append(timed, ev)
		}
		wl.Days = append(wl.Days, DayColumn{
			Date:  dayStart,
			Slots: layoutTimed(timed, dayStart, dayEnd, opts),
		})
	}

	wl.AllDay, wl.Rows = packSpans(spanning, weekStart)
	return wl, nil
}

// packSpans assigns each bar the first row with no overlapping bar.
func packSpans(events []*model.Event, weekStart time.Time) ([]SpanSlot, int) {
	slots := make([]SpanSlot, 0, len(events))
	for _, ev := range events {
		first, last := dateSpan(*ev)
		startCol := dayIndex(weekStart, first)
		endCol := dayIndex(weekStart, last)

		slot := SpanSlot{
			Event:           ev,
			MultiDay:        !ev.AllDay,
			ContinuesBefore: startCol < 0,
			ContinuesAfter:  endCol >= daysPerWeek,
		}
		startCol = max(startCol, 0)
		endCol = min(endCol, daysPerWeek-1)
		slot.StartDay = startCol
		slot.Span = endCol - startCol + 1
		slots = append(slots, slot)
	}

	sort.SliceStable(slots, func(i, j int) bool {
		a, b := slots[i], slots[j]
		if a.StartDay != b.StartDay {
			return a.StartDay < b.StartDay
		}
		if a.Span != b.Span {
			return a.Span > b.Span
		}
		if !a.Event.Start.Equal(b.Event.Start) {
			return a.Event.Start.Before(b.Event.Start)
		}
		return a.Event.ID < b.Event.ID
	})

	// rows[r][d] is true when day d of row r is taken.
	var rows [][daysPerWeek]bool
	for i := range slots {
		s := &slots[i]
		row := 0
		for ; row < len(rows); row++ {
			if rowFree(rows[row], s.StartDay, s.Span) {
				break
			}
		}
		if row == len(rows) {
			rows = append(rows, [daysPerWeek]bool{})
		}
		for d := s.StartDay; d < s.StartDay+s.Span; d++ {
			rows[row][d] = true
		}
		s.Row = row
	}

	return slots, len(rows)
}

func rowFree(row [daysPerWeek]bool, start, span int) bool {
	for d := start; d < start+span; d++ {
		if row[d] {
			return false
		}
	}
	return true
}

// dayIndex counts calendar days from weekStart to date, which may be
// negative or past the week.
func dayIndex(weekStart, date time.Time) int {
	loc := weekStart.Location()
	wy, wm, wd := weekStart.Date()
	dy, dm, dd := date.In(loc).Date()
	a := time.Date(wy, wm, wd, 0, 0, 0, 0, time.UTC)
	b := time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
