// Package scheduler fires persisted schedule definitions against the
// orchestrator on a fixed tick.
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed 5-field cron expression. Each field is a bitmask
// over its legal range, so membership checks are single AND operations.
type Schedule struct {
	minutes  uint64 // 0-59
	hours    uint32 // 0-23
	days     uint32 // 1-31
	months   uint16 // 1-12
	weekdays uint8  // 0-6, Sunday = 0
}

// Parse parses a standard cron expression: minute, hour, day-of-month,
// month, day-of-week. Supports *, N, N-M, */S, N-M/S, and comma lists.
func Parse(expr string) (*Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron: expected 5 fields, got %d", len(fields))
	}

	minutes, err := parseField(fields[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("cron: minute: %w", err)
	}
	hours, err := parseField(fields[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("cron: hour: %w", err)
	}
	days, err := parseField(fields[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("cron: day-of-month: %w", err)
	}
	months, err := parseField(fields[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("cron: month: %w", err)
	}
	weekdays, err := parseField(fields[4], 0, 6)
	if err != nil {
		return nil, fmt.Errorf("cron: day-of-week: %w", err)
	}

	return &Schedule{
		minutes:  minutes,
		hours:    uint32(hours),
		days:     uint32(days),
		months:   uint16(months),
		weekdays: uint8(weekdays),
	}, nil
}

// Matches reports whether t satisfies the schedule, at minute granularity.
func (s *Schedule) Matches(t time.Time) bool {
	return s.minutes&(1<<uint(t.Minute())) != 0 &&
		s.hours&(1<<uint(t.Hour())) != 0 &&
		s.days&(1<<uint(t.Day())) != 0 &&
		s.months&(1<<uint(t.Month())) != 0 &&
		s.weekdays&(1<<uint(t.Weekday())) != 0
}

// Next returns the first matching time strictly after t, searching up to
// two years ahead. The zero time means no match exists in that window.
func (s *Schedule) Next(t time.Time) time.Time {
	c := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(2, 0, 0)

	for c.Before(limit) {
		if s.months&(1<<uint(c.Month())) == 0 {
			c = time.Date(c.Year(), c.Month()+1, 1, 0, 0, 0, 0, c.Location())
			continue
		}
		if s.days&(1<<uint(c.Day())) == 0 || s.weekdays&(1<<uint(c.Weekday())) == 0 {
			c = time.Date(c.Year(), c.Month(), c.Day()+1, 0, 0, 0, 0, c.Location())
			continue
		}
		if s.hours&(1<<uint(c.Hour())) == 0 {
			c = time.Date(c.Year(), c.Month(), c.Day(), c.Hour()+1, 0, 0, 0, c.Location())
			continue
		}
		if s.minutes&(1<<uint(c.Minute())) == 0 {
			c = c.Add(time.Minute)
			continue
		}
		return c
	}
	return time.Time{}
}

// parseField parses one cron field into a bitmask over [min, max].
func parseField(field string, min, max int) (uint64, error) {
	var mask uint64
	for _, part := range strings.Split(field, ",") {
		m, err := parsePart(part, min, max)
		if err != nil {
			return 0, err
		}
		mask |= m
	}
	return mask, nil
}

func parsePart(part string, min, max int) (uint64, error) {
	lo, hi, step := min, max, 1
	body := part

	if idx := strings.IndexByte(part, '/'); idx >= 0 {
		s, err := strconv.Atoi(part[idx+1:])
		if err != nil || s <= 0 {
			return 0, fmt.Errorf("invalid step %q", part)
		}
		step = s
		body = part[:idx]
	}

	switch {
	case body == "*":
		// full range
	case strings.Contains(body, "-"):
		bounds := strings.SplitN(body, "-", 2)
		var err error
		if lo, err = strconv.Atoi(bounds[0]); err != nil {
			return 0, fmt.Errorf("invalid range start %q", bounds[0])
		}
		if hi, err = strconv.Atoi(bounds[1]); err != nil {
			return 0, fmt.Errorf("invalid range end %q", bounds[1])
		}
		if lo < min || hi > max || lo > hi {
			return 0, fmt.Errorf("range %d-%d out of bounds [%d,%d]", lo, hi, min, max)
		}
	default:
		v, err := strconv.Atoi(body)
		if err != nil {
			return 0, fmt.Errorf("invalid value %q", body)
		}
		if v < min || v > max {
			return 0, fmt.Errorf("value %d out of bounds [%d,%d]", v, min, max)
		}
		lo, hi = v, v
		if step != 1 {
			return 0, fmt.Errorf("step on single value %q", part)
		}
	}

	var mask uint64
	for i := lo; i <= hi; i += step {
		mask |= 1 << uint(i)
	}
	return mask, nil
}
