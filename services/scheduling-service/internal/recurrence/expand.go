package recurrence

import "time"

// Expand returns the occurrence start times of rule beginning at start. The
// first element is always start; the list is strictly increasing and never
// longer than MaxOccurrences. A candidate after EndDate ends the series.
func Expand(start time.Time, rule Rule) ([]time.Time, error) {
	if err := rule.Validate(start); err != nil {
		return nil, err
	}

	limit := rule.limit()
	days := rule.weekdays()
	out := make([]time.Time, 0, limit)
	out = append(out, start)

	cur := start
	for n := 1; len(out) < limit; n++ {
		var next time.Time
		switch rule.Frequency {
		case Daily:
			next = start.AddDate(0, 0, n*rule.Interval)
		case Weekly:
			if len(days) == 0 {
				next = start.AddDate(0, 0, 7*n*rule.Interval)
			} else {
				next = nextWeekday(cur, days, rule.Interval)
			}
		case Monthly:
			next = addMonthsClamped(start, n*rule.Interval)
		}
		if rule.EndDate != nil && next.After(*rule.EndDate) {
			break
		}
		out = append(out, next)
		cur = next
	}
	return out, nil
}

// nextWeekday moves to the next configured weekday later in cur's week
// (weeks start on Sunday), or wraps to the first configured weekday of the
// week interval weeks ahead.
func nextWeekday(cur time.Time, days []int, interval int) time.Time {
	wd := int(cur.Weekday())
	for _, d := range days {
		if d > wd {
			return cur.AddDate(0, 0, d-wd)
		}
	}
	return cur.AddDate(0, 0, 7*interval-wd+days[0])
}

// addMonthsClamped adds months to t keeping t's day of month, clamped to the
// last day of the target month. Time of day and location are preserved.
func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
