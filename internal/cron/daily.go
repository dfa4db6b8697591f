package cron

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock fire time.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// Validate checks the hour and minute ranges.
func (t TimeOfDay) Validate() error {
	if t.Hour < 0 || t.Hour > 23 {
		return fmt.Errorf("hour must be between 0 and 23, got %d", t.Hour)
	}
	if t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("minute must be between 0 and 59, got %d", t.Minute)
	}
	return nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: expected HH:MM", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	minute, err := strconv.Atoi(m)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	t := TimeOfDay{Hour: hour, Minute: minute}
	if err := t.Validate(); err != nil {
		return TimeOfDay{}, err
	}
	return t, nil
}

// Daily fires every day at each of a fixed set of wall-clock times. A single
// cron expression cannot express arbitrary (hour, minute) pairs, so each time
// is kept as its own schedule and the results are merged.
type Daily struct {
	times     []TimeOfDay
	schedules []*Schedule
}

// NewDaily builds a daily schedule from times. Duplicates are dropped and
// the times are kept sorted. An empty set is rejected.
func NewDaily(times []TimeOfDay) (*Daily, error) {
	if len(times) == 0 {
		return nil, fmt.Errorf("daily schedule needs at least one time")
	}

	sorted := slices.Clone(times)
	slices.SortFunc(sorted, func(a, b TimeOfDay) int {
		if a.Hour != b.Hour {
			return a.Hour - b.Hour
		}
		return a.Minute - b.Minute
	})
	sorted = slices.Compact(sorted)

	d := &Daily{times: sorted}
	for _, t := range sorted {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		s, err := Parse(fmt.Sprintf("%d %d * * *", t.Minute, t.Hour))
		if err != nil {
			return nil, err
		}
		d.schedules = append(d.schedules, s)
	}
	return d, nil
}

// Times returns the sorted fire times.
func (d *Daily) Times() []TimeOfDay {
	return slices.Clone(d.times)
}

// Next returns the earliest fire time strictly after the given time.
func (d *Daily) Next(after time.Time) time.Time {
	var next time.Time
	for _, s := range d.schedules {
		t := s.Next(after)
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next
}

// Between returns the fire times in [start, end), in order.
func (d *Daily) Between(start, end time.Time) []time.Time {
	var out []time.Time
	for _, s := range d.schedules {
		out = append(out, s.Between(start, end)...)
	}
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return out
}

// String renders the times as "HH:MM,HH:MM".
func (d *Daily) String() string {
	parts := make([]string, len(d.times))
	for i, t := range d.times {
		parts[i] = t.String()
	}
	return strings.Join(parts, ",")
}
