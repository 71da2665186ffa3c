package application

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/keyfetch/internal/domain/model"
)

// biweeklyDays is the biweekly cadence in calendar days.
const biweeklyDays = 14

// ParseTimeOfDay parses a 24-hour HH:MM string.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, 0, fmt.Errorf("time of day %q is not HH:MM", s)
	}

	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time of day %q has an invalid hour", s)
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time of day %q has an invalid minute", s)
	}
	return hour, minute, nil
}

// NextRun returns the first run of s strictly after now. Wall-clock
// arithmetic happens in the schedule's timezone so that runs stay at the
// same local time across DST changes; the result is returned in UTC.
//
//   - daily: today at TimeOfDay, else tomorrow.
//   - weekly: the next DayOfWeek at TimeOfDay.
//   - biweekly: every 14 days from the first DayOfWeek at or after CreatedAt.
//   - monthly: DayOfMonth at TimeOfDay, clamped to the month's last day.
func NextRun(s model.SyncSchedule, now time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone %q: %w", s.Timezone, model.ErrScheduleComputation)
	}
	hour, minute, err := ParseTimeOfDay(s.TimeOfDay)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", err.Error(), model.ErrScheduleComputation)
	}

	at := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, hour, minute, 0, 0, loc)
	}

	local := now.In(loc)
	y, m, d := local.Date()

	var next time.Time
	switch s.Frequency {
	case model.FrequencyDaily:
		next = at(y, m, d)
		if !next.After(now) {
			next = at(y, m, d+1)
		}

	case model.FrequencyWeekly:
		if s.DayOfWeek == nil {
			return time.Time{}, fmt.Errorf("weekly schedule without day of week: %w", model.ErrScheduleComputation)
		}
		delta := (int(*s.DayOfWeek) - int(local.Weekday()) + 7) % 7
		next = at(y, m, d+delta)
		if !next.After(now) {
			next = at(y, m, d+delta+7)
		}

	case model.FrequencyBiweekly:
		if s.DayOfWeek == nil {
			return time.Time{}, fmt.Errorf("biweekly schedule without day of week: %w", model.ErrScheduleComputation)
		}
		next = nextBiweekly(s, now, loc, at)

	case model.FrequencyMonthly:
		dom := s.DayOfMonth
		if dom <= 0 {
			dom = s.CreatedAt.In(loc).Day()
		}
		next = at(y, m, clampDay(y, m, dom))
		if !next.After(now) {
			first := time.Date(y, m+1, 1, 0, 0, 0, 0, loc)
			ny, nm, _ := first.Date()
			next = at(ny, nm, clampDay(ny, nm, dom))
		}

	default:
		return time.Time{}, fmt.Errorf("unknown frequency %q: %w", s.Frequency, model.ErrScheduleComputation)
	}

	if !next.After(now) {
		return time.Time{}, fmt.Errorf("computed run %s is not after %s: %w", next, now, model.ErrScheduleComputation)
	}
	return next.UTC(), nil
}

func nextBiweekly(s model.SyncSchedule, now time.Time, loc *time.Location, at func(int, time.Month, int) time.Time) time.Time {
	created := s.CreatedAt
	if created.IsZero() {
		created = now
	}

	// Anchor: the first matching weekday at or after creation.
	c := created.In(loc)
	cy, cm, cd := c.Date()
	delta := (int(*s.DayOfWeek) - int(c.Weekday()) + 7) % 7
	anchor := at(cy, cm, cd+delta)
	if anchor.Before(created) {
		anchor = at(cy, cm, cd+delta+7)
	}
	if anchor.After(now) {
		return anchor
	}

	ay, am, ad := anchor.Date()
	ny, nm, nd := now.In(loc).Date()
	elapsed := civilDays(ay, am, ad, ny, nm, nd)

	periods := elapsed / biweeklyDays
	next := at(ay, am, ad+periods*biweeklyDays)
	for !next.After(now) {
		periods++
		next = at(ay, am, ad+periods*biweeklyDays)
	}
	return next
}

// civilDays counts calendar days between two dates, ignoring DST.
func civilDays(y1 int, m1 time.Month, d1 int, y2 int, m2 time.Month, d2 int) int {
	a := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	b := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// clampDay limits day to the number of days in the month.
func clampDay(y int, m time.Month, day int) int {
	last := time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	return day
}
