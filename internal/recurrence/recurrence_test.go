package recurrence

import (
	"testing"
	"time"

	"github.com/paranoiabot/reminderd/internal/models"
)

// mustTime builds a UTC timestamp for test fixtures.
func mustTime(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func timePtr(t time.Time) *time.Time { return &t }

func TestNext_Daily(t *testing.T) {
	t.Parallel()

	anchor := mustTime(2025, time.March, 10, 9, 30) // Monday 09:30

	tests := []struct {
		name     string
		interval int
		after    time.Time
		want     time.Time
	}{
		{
			name:     "every day keeps time of day",
			interval: 1,
			after:    mustTime(2025, time.March, 10, 9, 45),
			want:     mustTime(2025, time.March, 11, 9, 30),
		},
		{
			name:     "every third day",
			interval: 3,
			after:    mustTime(2025, time.March, 10, 9, 30),
			want:     mustTime(2025, time.March, 13, 9, 30),
		},
		{
			name:     "completion late in the day still lands on anchor clock",
			interval: 1,
			after:    mustTime(2025, time.March, 10, 23, 59),
			want:     mustTime(2025, time.March, 11, 9, 30),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rule := &models.RecurrenceRule{Type: models.RecurrenceDaily, Interval: tt.interval}
			got := Next(rule, tt.after, anchor)
			if got == nil {
				t.Fatal("expected occurrence, got nil")
			}
			if !got.Equal(tt.want) {
				t.Errorf("Next() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNext_WeeklyMonday(t *testing.T) {
	t.Parallel()

	// Anchor: Monday 2025-03-10 09:00.
	anchor := mustTime(2025, time.March, 10, 9, 0)
	rule := &models.RecurrenceRule{
		Type:       models.RecurrenceWeekly,
		Interval:   1,
		DaysOfWeek: []time.Weekday{time.Monday},
	}

	// Completed on the due Monday itself: next occurrence is the following
	// Monday, not the same day.
	after := mustTime(2025, time.March, 10, 9, 5)
	got := Next(rule, after, anchor)
	if got == nil {
		t.Fatal("expected occurrence, got nil")
	}
	want := mustTime(2025, time.March, 17, 9, 0)
	if !got.Equal(want) {
		t.Errorf("Next() = %v, want following Monday %v", got, want)
	}
}

func TestNext_WeeklyDaySet(t *testing.T) {
	t.Parallel()

	anchor := mustTime(2025, time.March, 10, 18, 0) // Monday 18:00

	tests := []struct {
		name     string
		interval int
		days     []time.Weekday
		after    time.Time
		want     time.Time
	}{
		{
			name:     "later day in same week",
			interval: 1,
			days:     []time.Weekday{time.Monday, time.Thursday},
			after:    mustTime(2025, time.March, 10, 18, 30), // Monday evening
			want:     mustTime(2025, time.March, 13, 18, 0),  // Thursday
		},
		{
			name:     "week exhausted steps by interval weeks",
			interval: 2,
			days:     []time.Weekday{time.Monday},
			after:    mustTime(2025, time.March, 10, 18, 30),
			want:     mustTime(2025, time.March, 24, 18, 0), // two weeks on
		},
		{
			name:     "empty day set falls back to anchor weekday",
			interval: 1,
			days:     nil,
			after:    mustTime(2025, time.March, 10, 18, 30),
			want:     mustTime(2025, time.March, 17, 18, 0),
		},
		{
			name:     "sunday belongs to the monday-based week",
			interval: 1,
			days:     []time.Weekday{time.Sunday},
			after:    mustTime(2025, time.March, 10, 18, 30), // Monday
			want:     mustTime(2025, time.March, 16, 18, 0),  // Sunday of same ISO week
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rule := &models.RecurrenceRule{
				Type:       models.RecurrenceWeekly,
				Interval:   tt.interval,
				DaysOfWeek: tt.days,
			}
			got := Next(rule, tt.after, anchor)
			if got == nil {
				t.Fatal("expected occurrence, got nil")
			}
			if !got.Equal(tt.want) {
				t.Errorf("Next() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNext_Monthly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		anchor   time.Time
		interval int
		after    time.Time
		want     time.Time
	}{
		{
			name:     "same day next month",
			anchor:   mustTime(2025, time.January, 15, 8, 0),
			interval: 1,
			after:    mustTime(2025, time.January, 15, 8, 30),
			want:     mustTime(2025, time.February, 15, 8, 0),
		},
		{
			name:     "31st clamps to end of february",
			anchor:   mustTime(2025, time.January, 31, 8, 0),
			interval: 1,
			after:    mustTime(2025, time.January, 31, 8, 30),
			want:     mustTime(2025, time.February, 28, 8, 0),
		},
		{
			name:     "quarterly interval",
			anchor:   mustTime(2025, time.January, 10, 8, 0),
			interval: 3,
			after:    mustTime(2025, time.January, 10, 8, 30),
			want:     mustTime(2025, time.April, 10, 8, 0),
		},
		{
			name:     "year rollover",
			anchor:   mustTime(2025, time.November, 20, 8, 0),
			interval: 2,
			after:    mustTime(2025, time.November, 20, 8, 30),
			want:     mustTime(2026, time.January, 20, 8, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rule := &models.RecurrenceRule{Type: models.RecurrenceMonthly, Interval: tt.interval}
			got := Next(rule, tt.after, tt.anchor)
			if got == nil {
				t.Fatal("expected occurrence, got nil")
			}
			if !got.Equal(tt.want) {
				t.Errorf("Next() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNext_EndDate(t *testing.T) {
	t.Parallel()

	anchor := mustTime(2025, time.March, 10, 9, 0)

	t.Run("occurrence past end date yields nil", func(t *testing.T) {
		t.Parallel()
		rule := &models.RecurrenceRule{
			Type:     models.RecurrenceDaily,
			Interval: 1,
			EndDate:  timePtr(mustTime(2025, time.March, 11, 0, 0)),
		}
		if got := Next(rule, mustTime(2025, time.March, 10, 9, 5), anchor); got != nil {
			t.Errorf("expected nil past end date, got %v", got)
		}
	})

	t.Run("occurrence on end date still fires", func(t *testing.T) {
		t.Parallel()
		rule := &models.RecurrenceRule{
			Type:     models.RecurrenceDaily,
			Interval: 1,
			EndDate:  timePtr(mustTime(2025, time.March, 11, 9, 0)),
		}
		got := Next(rule, mustTime(2025, time.March, 10, 9, 5), anchor)
		if got == nil {
			t.Fatal("expected occurrence on end date")
		}
		if !got.Equal(mustTime(2025, time.March, 11, 9, 0)) {
			t.Errorf("Next() = %v", got)
		}
	})
}

func TestNext_Idempotent(t *testing.T) {
	t.Parallel()

	anchor := mustTime(2025, time.March, 10, 9, 0)
	after := mustTime(2025, time.March, 12, 14, 0)

	rules := []*models.RecurrenceRule{
		{Type: models.RecurrenceDaily, Interval: 2},
		{Type: models.RecurrenceWeekly, Interval: 1, DaysOfWeek: []time.Weekday{time.Friday}},
		{Type: models.RecurrenceMonthly, Interval: 1},
	}

	for _, rule := range rules {
		first := Next(rule, after, anchor)
		second := Next(rule, after, anchor)
		if first == nil || second == nil {
			t.Fatalf("unexpected nil occurrence for %s rule", rule.Type)
		}
		if !first.Equal(*second) {
			t.Errorf("%s rule not idempotent: %v != %v", rule.Type, first, second)
		}
	}
}

func TestNext_InvalidRule(t *testing.T) {
	t.Parallel()

	anchor := mustTime(2025, time.March, 10, 9, 0)
	after := anchor.Add(time.Hour)

	if got := Next(nil, after, anchor); got != nil {
		t.Errorf("nil rule: expected nil, got %v", got)
	}
	if got := Next(&models.RecurrenceRule{Type: models.RecurrenceDaily, Interval: 0}, after, anchor); got != nil {
		t.Errorf("zero interval: expected nil, got %v", got)
	}
	if got := Next(&models.RecurrenceRule{Type: "yearly", Interval: 1}, after, anchor); got != nil {
		t.Errorf("unknown type: expected nil, got %v", got)
	}
}
