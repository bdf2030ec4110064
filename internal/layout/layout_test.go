package layout

import (
	"math"
	"testing"
	"time"

	"daybook/internal/model"
)

var base = time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC)

func timed(id string, startH, startM, endH, endM int) model.Event {
	return model.Event{
		ID:    id,
		Title: id,
		Start: base.Add(time.Duration(startH)*time.Hour + time.Duration(startM)*time.Minute),
		End:   base.Add(time.Duration(endH)*time.Hour + time.Duration(endM)*time.Minute),
	}
}

func byID(slots []Slot) map[string]Slot {
	out := make(map[string]Slot, len(slots))
	for _, s := range slots {
		out[s.Event.ID] = s
	}
	return out
}

func TestDay_ThreeEventScenario(t *testing.T) {
	events := []model.Event{
		timed("c", 11, 0, 11, 30),
		timed("b", 9, 30, 10, 30),
		timed("a", 9, 0, 10, 0),
	}

	slots, err := Day(events, base, Options{})
	if err != nil {
		t.Fatalf("Day() error = %v", err)
	}
	got := byID(slots)

	tests := []struct {
		id          string
		column      int
		columnCount int
		top         float64
		height      float64
	}{
		{"a", 0, 2, 36, 4},
		{"b", 1, 2, 38, 4},
		{"c", 0, 1, 44, 2},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			s, ok := got[tt.id]
			if !ok {
				t.Fatalf("no slot for %s", tt.id)
			}
			if s.Column != tt.column || s.ColumnCount != tt.columnCount {
				t.Errorf("column = %d/%d, want %d/%d", s.Column, s.ColumnCount, tt.column, tt.columnCount)
			}
			if s.Top != tt.top || s.Height != tt.height {
				t.Errorf("top/height = %v/%v, want %v/%v", s.Top, s.Height, tt.top, tt.height)
			}
			if s.Lane != LaneTimed {
				t.Errorf("lane = %s, want timed", s.Lane)
			}
		})
	}
}

func TestDay_ClusterWidthsAndColumns(t *testing.T) {
	events := []model.Event{
		timed("a", 8, 0, 12, 0),
		timed("b", 9, 0, 9, 30),
		timed("c", 9, 0, 10, 0),
		timed("d", 11, 0, 13, 0),
		timed("e", 13, 0, 14, 0),
		timed("f", 13, 15, 13, 45),
	}

	slots, err := Day(events, base, Options{})
	if err != nil {
		t.Fatalf("Day() error = %v", err)
	}

	clusters := map[int][]Slot{}
	for _, s := range slots {
		clusters[s.ColumnCount] = append(clusters[s.ColumnCount], s)
	}
	if len(clusters[4]) != 4 || len(clusters[2]) != 2 {
		t.Fatalf("cluster sizes = %d/%d, want 4/2", len(clusters[4]), len(clusters[2]))
	}

	for k, members := range clusters {
		var width float64
		cols := map[int]bool{}
		for _, s := range members {
			width += s.Width()
			if cols[s.Column] {
				t.Errorf("cluster of %d reuses column %d", k, s.Column)
			}
			cols[s.Column] = true
		}
		if math.Abs(width-1) > 1e-9 {
			t.Errorf("cluster of %d has total width %v, want 1", k, width)
		}
	}

	// Equal starts tie-break on end: the shorter event takes the lower column.
	got := byID(slots)
	if got["b"].Column >= got["c"].Column {
		t.Errorf("b column %d should precede c column %d", got["b"].Column, got["c"].Column)
	}
	if got["e"].Left() != 0 || got["f"].Left() != 0.5 {
		t.Errorf("left offsets = %v/%v, want 0/0.5", got["e"].Left(), got["f"].Left())
	}
}

func TestDay_NonOverlappingSortedByTop(t *testing.T) {
	events := []model.Event{
		timed("a", 7, 0, 8, 0),
		timed("b", 8, 0, 9, 0),
		timed("c", 12, 0, 12, 5),
		timed("d", 18, 0, 18, 0),
	}

	slots, err := Day(events, base, Options{MinutesPerUnit: 15, MinHeightUnits: 1.5})
	if err != nil {
		t.Fatalf("Day() error = %v", err)
	}
	for i := 1; i < len(slots); i++ {
		if slots[i].Top < slots[i-1].Top {
			t.Errorf("slot %d top %v is above slot %d top %v", i, slots[i].Top, i-1, slots[i-1].Top)
		}
	}
	for _, s := range slots {
		if s.ColumnCount != 1 {
			t.Errorf("%s has column count %d, want 1", s.Event.ID, s.ColumnCount)
		}
		if s.Height < 1.5 {
			t.Errorf("%s height %v below floor", s.Event.ID, s.Height)
		}
	}
}

func TestDay_AllDayAndMultiDay(t *testing.T) {
	events := []model.Event{
		timed("meeting", 10, 0, 11, 0),
		{ID: "holiday", AllDay: true, Start: base, End: base.AddDate(0, 0, 1)},
		{ID: "trip", Start: base.Add(-2 * time.Hour), End: base.Add(30 * time.Hour)},
		{ID: "late", Start: base.Add(23 * time.Hour), End: base.AddDate(0, 0, 1)},
		{ID: "tomorrow", Start: base.AddDate(0, 0, 1).Add(9 * time.Hour), End: base.AddDate(0, 0, 1).Add(10 * time.Hour)},
	}

	slots, err := Day(events, base, Options{})
	if err != nil {
		t.Fatalf("Day() error = %v", err)
	}
	got := byID(slots)

	if _, ok := got["tomorrow"]; ok {
		t.Errorf("event on another day should be skipped")
	}
	if got["holiday"].Lane != LaneAllDay || got["holiday"].MultiDay {
		t.Errorf("holiday slot = %+v", got["holiday"])
	}
	if got["trip"].Lane != LaneAllDay || !got["trip"].MultiDay {
		t.Errorf("trip should be reclassified as all-day: %+v", got["trip"])
	}
	if got["late"].Lane != LaneTimed {
		t.Errorf("event ending at midnight should stay timed: %+v", got["late"])
	}
	if got["trip"].Row != 0 || got["holiday"].Row != 1 {
		t.Errorf("rows trip=%d holiday=%d, want 0/1", got["trip"].Row, got["holiday"].Row)
	}
	if slots[0].Lane != LaneAllDay || slots[len(slots)-1].Lane != LaneTimed {
		t.Errorf("all-day slots should come before timed slots")
	}
}

func TestDay_Validation(t *testing.T) {
	bad := []model.Event{{ID: "x", Start: base.Add(time.Hour), End: base}}
	if _, err := Day(bad, base, Options{}); !model.IsValidation(err) {
		t.Errorf("Day() error = %v, want ValidationError", err)
	}

	tpl := []model.Event{{ID: "t", Start: base, End: base, Recurrence: &model.RecurrenceRule{Frequency: model.Daily, Interval: 1}}}
	if _, err := Day(tpl, base, Options{}); !model.IsValidation(err) {
		t.Errorf("Day() on template error = %v, want ValidationError", err)
	}
}

func TestWeek(t *testing.T) {
	events := []model.Event{
		timed("monday", 9, 0, 10, 0),
		{ID: "conference", AllDay: true, Start: base.AddDate(0, 0, 1), End: base.AddDate(0, 0, 4)},
		{ID: "offsite", AllDay: true, Start: base.AddDate(0, 0, 2), End: base.AddDate(0, 0, 3)},
		{ID: "friday", AllDay: true, Start: base.AddDate(0, 0, 4), End: base.AddDate(0, 0, 5)},
		{ID: "vacation", AllDay: true, Start: base.AddDate(0, 0, 5), End: base.AddDate(0, 0, 10)},
		{ID: "flight", Start: base.AddDate(0, 0, -1).Add(20 * time.Hour), End: base.Add(6 * time.Hour)},
	}

	wl, err := Week(events, base, Options{})
	if err != nil {
		t.Fatalf("Week() error = %v", err)
	}
	if len(wl.Days) != 7 {
		t.Fatalf("got %d day columns, want 7", len(wl.Days))
	}
	if len(wl.Days[0].Slots) != 1 || wl.Days[0].Slots[0].Event.ID != "monday" {
		t.Errorf("monday column = %+v", wl.Days[0].Slots)
	}

	spans := map[string]SpanSlot{}
	for _, s := range wl.AllDay {
		spans[s.Event.ID] = s
	}

	tests := []struct {
		id       string
		startDay int
		span     int
		row      int
		before   bool
		after    bool
	}{
		{"flight", 0, 1, 0, true, false},
		{"conference", 1, 3, 0, false, false},
		{"offsite", 2, 1, 1, false, false},
		{"friday", 4, 1, 0, false, false},
		{"vacation", 5, 2, 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			s, ok := spans[tt.id]
			if !ok {
				t.Fatalf("no span for %s", tt.id)
			}
			if s.StartDay != tt.startDay || s.Span != tt.span || s.Row != tt.row {
				t.Errorf("span = start %d len %d row %d, want %d/%d/%d", s.StartDay, s.Span, s.Row, tt.startDay, tt.span, tt.row)
			}
			if s.ContinuesBefore != tt.before || s.ContinuesAfter != tt.after {
				t.Errorf("continues = %v/%v, want %v/%v", s.ContinuesBefore, s.ContinuesAfter, tt.before, tt.after)
			}
		})
	}
	if wl.Rows != 2 {
		t.Errorf("Rows = %d, want 2", wl.Rows)
	}
}
