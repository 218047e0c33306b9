package recurrence

import (
	"sort"
	"time"

	"github.com/paranoiabot/reminderd/internal/models"
)

// Next computes the next occurrence of rule strictly after `after`. The
// anchor is the reminder's original scheduled time; its time-of-day (and for
// monthly rules, its day-of-month) carries over to every occurrence.
//
// Returns nil when the rule yields no further occurrences (the computed
// occurrence would fall past the rule's end date). Pure and deterministic:
// the same inputs always produce the same output.
func Next(rule *models.RecurrenceRule, after, anchor time.Time) *time.Time {
	if rule == nil || rule.Interval < 1 {
		return nil
	}

	var next time.Time
	switch rule.Type {
	case models.RecurrenceDaily:
		next = nextDaily(rule.Interval, after, anchor)
	case models.RecurrenceWeekly:
		next = nextWeekly(rule.Interval, rule.DaysOfWeek, after, anchor)
	case models.RecurrenceMonthly:
		next = nextMonthly(rule.Interval, after, anchor)
	default:
		return nil
	}

	if rule.EndDate != nil && next.After(*rule.EndDate) {
		return nil
	}
	return &next
}

// nextDaily returns after + interval days, normalized to the anchor's
// time-of-day.
func nextDaily(interval int, after, anchor time.Time) time.Time {
	d := after.AddDate(0, 0, interval)
	return atAnchorClock(d, anchor)
}

// nextWeekly returns the earliest occurrence strictly after `after` on one of
// the rule's weekdays, stepping by interval weeks when no day in the current
// week (Monday-based) qualifies. An empty day set means the anchor's weekday.
func nextWeekly(interval int, days []time.Weekday, after, anchor time.Time) time.Time {
	if len(days) == 0 {
		days = []time.Weekday{anchor.Weekday()}
	}
	set := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		set[d] = true
	}

	// Remaining qualifying days within after's week.
	start := weekStart(after)
	for i := 0; i < 7; i++ {
		day := start.AddDate(0, 0, i)
		if !set[day.Weekday()] {
			continue
		}
		candidate := atAnchorClock(day, anchor)
		if candidate.After(after) {
			return candidate
		}
	}

	// Nothing left this week: jump interval weeks ahead and take the first
	// qualifying day of that week.
	nextWeek := start.AddDate(0, 0, 7*interval)
	ordered := make([]int, 0, 7)
	for i := 0; i < 7; i++ {
		if set[nextWeek.AddDate(0, 0, i).Weekday()] {
			ordered = append(ordered, i)
		}
	}
	sort.Ints(ordered)
	return atAnchorClock(nextWeek.AddDate(0, 0, ordered[0]), anchor)
}

// nextMonthly returns the anchor's day-of-month, interval months after the
// month containing `after`. When the target month is shorter than the anchor
// day, the occurrence clamps to the last day of that month.
func nextMonthly(interval int, after, anchor time.Time) time.Time {
	year, month, _ := after.Date()
	for {
		month += time.Month(interval)
		for month > 12 {
			month -= 12
			year++
		}
		day := anchor.Day()
		if last := daysIn(year, month); day > last {
			day = last
		}
		candidate := time.Date(year, month, day,
			anchor.Hour(), anchor.Minute(), anchor.Second(), 0, anchor.Location())
		if candidate.After(after) {
			return candidate
		}
	}
}

// weekStart returns midnight of the Monday of t's week.
func weekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return day.AddDate(0, 0, -offset)
}

// atAnchorClock returns t's date at the anchor's time-of-day.
func atAnchorClock(t, anchor time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(),
		anchor.Hour(), anchor.Minute(), anchor.Second(), 0, anchor.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
