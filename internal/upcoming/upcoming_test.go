package upcoming

import (
	"reflect"
	"testing"
	"time"
)

type item struct {
	id   string
	date time.Time
}

func dateOf(it item) time.Time { return it.date }

// Friday.
var now = time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC)

func on(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ids(b Bucket[item]) []string {
	out := make([]string, 0, len(b.Items))
	for _, it := range b.Items {
		out = append(out, it.id)
	}
	return out
}

func TestCalendar(t *testing.T) {
	tests := []struct {
		name      string
		weekStart time.Weekday
		in        time.Time
		want      time.Time
	}{
		{"monday week from friday", time.Monday, now, on(2024, 5, 13)},
		{"monday week from monday", time.Monday, on(2024, 5, 13).Add(time.Hour), on(2024, 5, 13)},
		{"monday week from sunday", time.Monday, on(2024, 5, 19), on(2024, 5, 13)},
		{"sunday week from friday", time.Sunday, now, on(2024, 5, 12)},
		{"across month", time.Monday, on(2024, 6, 1), on(2024, 5, 27)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Calendar{WeekStart: tt.weekStart}
			if got := c.StartOfWeek(tt.in); !got.Equal(tt.want) {
				t.Errorf("StartOfWeek(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	loc := time.FixedZone("UTC+9", 9*3600)
	c := Calendar{WeekStart: time.Monday, Location: loc}
	// 20:00 UTC on the 17th is already the 18th at UTC+9.
	got := c.StartOfDay(time.Date(2024, 5, 17, 20, 0, 0, 0, time.UTC))
	if want := time.Date(2024, 5, 18, 0, 0, 0, 0, loc); !got.Equal(want) {
		t.Errorf("StartOfDay = %v, want %v", got, want)
	}
}

func TestPaymentBuckets(t *testing.T) {
	items := []item{
		{"in-10-days", now.AddDate(0, 0, 10)},
		{"yesterday", on(2024, 5, 16)},
		{"in-2-days", on(2024, 5, 19)},
		{"next-tuesday", on(2024, 5, 21)},
		{"today", on(2024, 5, 17)},
		{"last-month", on(2024, 4, 2)},
	}

	got := Group(items, dateOf, now, PaymentBuckets(Calendar{WeekStart: time.Monday}))

	want := map[string][]string{
		LabelOverdue:   {"last-month", "yesterday"},
		LabelThisWeek:  {"today", "in-2-days"},
		LabelNextWeek:  {"next-tuesday"},
		LabelRemaining: {"in-10-days"},
	}
	labels := []string{LabelOverdue, LabelThisWeek, LabelNextWeek, LabelRemaining}

	if len(got) != len(labels) {
		t.Fatalf("got %d buckets, want %d", len(got), len(labels))
	}
	for i, b := range got {
		if b.Label != labels[i] {
			t.Errorf("bucket %d label = %s, want %s", i, b.Label, labels[i])
		}
		if !reflect.DeepEqual(ids(b), want[b.Label]) {
			t.Errorf("%s = %v, want %v", b.Label, ids(b), want[b.Label])
		}
	}
	if Count(got) != len(items) {
		t.Errorf("catch-all definitions lost items: %d of %d", Count(got), len(items))
	}
}

func TestEventBuckets(t *testing.T) {
	items := []item{
		{"lunch", now.Add(2 * time.Hour)},
		{"breakfast", on(2024, 5, 17).Add(8 * time.Hour)},
		{"saturday", on(2024, 5, 18).Add(9 * time.Hour)},
		{"june", on(2024, 6, 20)},
		{"august", on(2024, 8, 1)},
		{"yesterday", on(2024, 5, 16)},
	}

	got := Group(items, dateOf, now, EventBuckets(Calendar{WeekStart: time.Monday}))

	want := []Bucket[item]{
		{Label: LabelToday},
		{Label: LabelThisWeek},
		{Label: LabelNextTwoMonths},
	}
	wantIDs := [][]string{
		{"breakfast", "lunch"},
		{"saturday"},
		{"june"},
	}
	for i := range want {
		if got[i].Label != want[i].Label {
			t.Errorf("bucket %d label = %s, want %s", i, got[i].Label, want[i].Label)
		}
		if !reflect.DeepEqual(ids(got[i]), wantIDs[i]) {
			t.Errorf("%s = %v, want %v", got[i].Label, ids(got[i]), wantIDs[i])
		}
	}
	if Count(got) != 4 {
		t.Errorf("Count = %d, want 4 (past and far-future events dropped)", Count(got))
	}
}

func TestGroup(t *testing.T) {
	t.Run("stable for equal dates", func(t *testing.T) {
		d := on(2024, 5, 20)
		items := []item{{"c", d}, {"a", d}, {"b", d}, {"first", on(2024, 5, 18)}}
		defs := []Definition{{Label: "all", Match: func(time.Time, time.Time) bool { return true }}}

		got := Group(items, dateOf, now, defs)
		if want := []string{"first", "c", "a", "b"}; !reflect.DeepEqual(ids(got[0]), want) {
			t.Errorf("items = %v, want %v", ids(got[0]), want)
		}
	})

	t.Run("first match wins", func(t *testing.T) {
		always := func(time.Time, time.Time) bool { return true }
		defs := []Definition{{Label: "one", Match: always}, {Label: "two", Match: always}}

		got := Group([]item{{"x", now}}, dateOf, now, defs)
		if len(got[0].Items) != 1 || len(got[1].Items) != 0 {
			t.Errorf("buckets = %+v", got)
		}
	})

	t.Run("empty buckets kept", func(t *testing.T) {
		got := Group(nil, dateOf, now, PaymentBuckets(Calendar{WeekStart: time.Monday}))
		if len(got) != 4 {
			t.Fatalf("got %d buckets, want 4", len(got))
		}
		for _, b := range got {
			if b.Items == nil {
				t.Errorf("%s items is nil, want empty slice", b.Label)
			}
		}
	})
}
