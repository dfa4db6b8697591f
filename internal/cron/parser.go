package cron

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

type bounds struct {
	name     string
	min, max int
}

var fieldBounds = [5]bounds{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

func parse(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(fields))
	}

	var values [5][]int
	for i, b := range fieldBounds {
		vals, err := parseField(fields[i], b)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field: %w", b.name, err)
		}
		values[i] = vals
	}

	if !anyValidDay(values[2], values[3]) {
		return nil, fmt.Errorf("impossible date: no day in %v exists in months %v", values[2], values[3])
	}

	return &Schedule{
		minutes:     values[0],
		hours:       values[1],
		daysOfMonth: values[2],
		months:      values[3],
		daysOfWeek:  values[4],
		expr:        strings.Join(fields, " "),
	}, nil
}

// parseField expands one field into its sorted, de-duplicated value set.
// A field is a comma separated list of terms; each term is *, N, N-M, */S or N-M/S.
func parseField(field string, b bounds) ([]int, error) {
	if field == "" {
		return nil, fmt.Errorf("empty field")
	}

	var out []int
	for _, term := range strings.Split(field, ",") {
		if term == "" {
			return nil, fmt.Errorf("empty value in list %q", field)
		}
		vals, err := parseTerm(term, b)
		if err != nil {
			return nil, err
		}
		out = append(out, vals...)
	}

	slices.Sort(out)
	return slices.Compact(out), nil
}

func parseTerm(term string, b bounds) ([]int, error) {
	base, stepText, hasStep := strings.Cut(term, "/")

	step := 1
	if hasStep {
		n, err := strconv.Atoi(stepText)
		if err != nil {
			return nil, fmt.Errorf("invalid step value %q", stepText)
		}
		if n <= 0 {
			return nil, fmt.Errorf("step must be greater than 0")
		}
		step = n
	}

	var lo, hi int
	switch {
	case base == "*":
		lo, hi = b.min, b.max
	case strings.Contains(base, "-"):
		start, end, _ := strings.Cut(base, "-")
		var err error
		if lo, err = parseValue(start, b); err != nil {
			return nil, err
		}
		if hi, err = parseValue(end, b); err != nil {
			return nil, err
		}
		if lo > hi {
			return nil, fmt.Errorf("invalid range: start %d > end %d", lo, hi)
		}
	default:
		if hasStep {
			return nil, fmt.Errorf("step requires * or a range, got %q", term)
		}
		v, err := parseValue(base, b)
		if err != nil {
			return nil, err
		}
		return []int{v}, nil
	}

	out := make([]int, 0, (hi-lo)/step+1)
	for v := lo; v <= hi; v += step {
		out = append(out, v)
	}
	return out, nil
}

func parseValue(s string, b bounds) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	if v < b.min || v > b.max {
		return 0, fmt.Errorf("value %d out of bounds [%d, %d]", v, b.min, b.max)
	}
	return v, nil
}

// anyValidDay reports whether some day in days exists in some month, counting
// February as 29 days.
func anyValidDay(days, months []int) bool {
	for _, m := range months {
		for _, d := range days {
			if d <= daysInMonth(m) {
				return true
			}
		}
	}
	return false
}

func daysInMonth(month int) int {
	switch month {
	case 2:
		return 29
	case 4, 6, 9, 11:
		return 30
	default:
		return 31
	}
}
