// Package cron evaluates five-field cron expressions and the daily fire-time
// sets the batch trigger is defined by.
package cron

import (
	"slices"
	"time"
)

// Schedule is a parsed cron expression. Each field holds the sorted set of
// values it admits.
type Schedule struct {
	minutes     []int // 0-59
	hours       []int // 0-23
	daysOfMonth []int // 1-31
	months      []int // 1-12
	daysOfWeek  []int // 0-6, Sunday is 0

	expr string
}

// Parse parses a five-field cron expression. It rejects malformed fields and
// day/month combinations that can never occur (e.g. "0 0 31 2 *").
func Parse(expr string) (*Schedule, error) {
	return parse(expr)
}

// String returns the expression the schedule was parsed from.
func (s *Schedule) String() string {
	return s.expr
}

// Next returns the first fire time strictly after the given time. The
// schedule is evaluated in after's location.
func (s *Schedule) Next(after time.Time) time.Time {
	current := after.Truncate(time.Minute).Add(time.Minute)
	// Every valid schedule fires at least once in any eight-year span.
	limit := current.AddDate(8, 0, 0)
	for current.Before(limit) {
		if s.matches(current) {
			return current
		}
		current = current.Add(time.Minute)
	}
	return time.Time{}
}

// Between returns the fire times in [start, end), in order.
func (s *Schedule) Between(start, end time.Time) []time.Time {
	var out []time.Time
	for current := start.Truncate(time.Minute); current.Before(end); current = current.Add(time.Minute) {
		if !current.Before(start) && s.matches(current) {
			out = append(out, current)
		}
	}
	return out
}

func (s *Schedule) matches(t time.Time) bool {
	return slices.Contains(s.minutes, t.Minute()) &&
		slices.Contains(s.hours, t.Hour()) &&
		slices.Contains(s.months, int(t.Month())) &&
		s.matchesDay(t)
}

// matchesDay applies the classic cron rule: when both day-of-month and
// day-of-week are restricted, either one matching is enough.
func (s *Schedule) matchesDay(t time.Time) bool {
	domRestricted := len(s.daysOfMonth) < 31
	dowRestricted := len(s.daysOfWeek) < 7

	dom := slices.Contains(s.daysOfMonth, t.Day())
	dow := slices.Contains(s.daysOfWeek, int(t.Weekday()))

	switch {
	case domRestricted && dowRestricted:
		return dom || dow
	case domRestricted:
		return dom
	case dowRestricted:
		return dow
	default:
		return true
	}
}
