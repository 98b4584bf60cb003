// Package recurrence expands a recurrence rule into concrete occurrence start
// times.
package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// MaxOccurrences bounds every expansion regardless of the rule.
const MaxOccurrences = 52

type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

var ErrInvalidRule = errors.New("invalid recurrence rule")

// Rule is stored as JSON on the series parent and copied onto every child.
// DaysOfWeek uses 0=Sunday .. 6=Saturday.
type Rule struct {
	Frequency   Frequency  `json:"frequency"`
	Interval    int        `json:"interval"`
	DaysOfWeek  []int      `json:"daysOfWeek,omitempty"`
	EndDate     *time.Time `json:"endDate,omitempty"`
	Occurrences *int       `json:"occurrences,omitempty"`
}

func (r Rule) Validate(start time.Time) error {
	switch r.Frequency {
	case Daily, Weekly, Monthly:
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidRule, r.Frequency)
	}
	if r.Interval < 1 {
		return fmt.Errorf("%w: interval must be at least 1", ErrInvalidRule)
	}
	if r.Frequency == Weekly && r.DaysOfWeek != nil && len(r.DaysOfWeek) == 0 {
		return fmt.Errorf("%w: daysOfWeek must not be empty", ErrInvalidRule)
	}
	for _, d := range r.DaysOfWeek {
		if d < 0 || d > 6 {
			return fmt.Errorf("%w: weekday %d out of range 0..6", ErrInvalidRule, d)
		}
	}
	if r.EndDate != nil && r.EndDate.Before(start) {
		return fmt.Errorf("%w: endDate is before start", ErrInvalidRule)
	}
	if r.Occurrences != nil && *r.Occurrences < 0 {
		return fmt.Errorf("%w: occurrences must not be negative", ErrInvalidRule)
	}
	return nil
}

// limit is the number of occurrences to emit at most.
func (r Rule) limit() int {
	if r.Occurrences != nil && *r.Occurrences > 0 && *r.Occurrences < MaxOccurrences {
		return *r.Occurrences
	}
	return MaxOccurrences
}

func (r Rule) weekdays() []int {
	seen := make(map[int]bool, len(r.DaysOfWeek))
	days := make([]int, 0, len(r.DaysOfWeek))
	for _, d := range r.DaysOfWeek {
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	sort.Ints(days)
	return days
}
