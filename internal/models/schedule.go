package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ScheduleExpression governs how often a phase restarts its iteration. Named
// schedules map to five-field cron lines; anything else is treated as a
// custom cron expression.
type ScheduleExpression string

const (
	ScheduleDaily    ScheduleExpression = "DAILY"
	ScheduleWeekly   ScheduleExpression = "WEEKLY"
	ScheduleWeekdays ScheduleExpression = "WEEKDAYS"
	ScheduleWeekends ScheduleExpression = "WEEKENDS"
)

// ErrInvalidSchedule indicates a schedule that is neither a named schedule
// nor a plausible cron expression.
var ErrInvalidSchedule = errors.New("invalid schedule expression")

var namedSchedules = map[ScheduleExpression]string{
	ScheduleDaily:    "0 0 * * *",
	ScheduleWeekly:   "0 0 * * MON",
	ScheduleWeekdays: "0 0 * * MON-FRI",
	ScheduleWeekends: "0 0 * * SAT,SUN",
	"MONDAY":         "0 0 * * MON",
	"TUESDAY":        "0 0 * * TUE",
	"WEDNESDAY":      "0 0 * * WED",
	"THURSDAY":       "0 0 * * THU",
	"FRIDAY":         "0 0 * * FRI",
	"SATURDAY":       "0 0 * * SAT",
	"SUNDAY":         "0 0 * * SUN",
}

var cronFieldPattern = regexp.MustCompile(`^[0-9*,\-/]+$|^[A-Z]{3}([,-][A-Z]{3})*$`)

// ParseScheduleExpression accepts a named schedule (case-insensitive) or a
// five-field cron expression.
func ParseScheduleExpression(s string) (ScheduleExpression, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ScheduleDaily, nil
	}
	upper := ScheduleExpression(strings.ToUpper(s))
	if _, ok := namedSchedules[upper]; ok {
		return upper, nil
	}
	fields := strings.Fields(s)
	if len(fields) != 5 {
		return "", fmt.Errorf("%w: %q", ErrInvalidSchedule, s)
	}
	for _, f := range fields {
		if !cronFieldPattern.MatchString(strings.ToUpper(f)) {
			return "", fmt.Errorf("%w: %q", ErrInvalidSchedule, s)
		}
	}
	return ScheduleExpression(s), nil
}

// Cron returns the five-field cron line for the schedule.
func (s ScheduleExpression) Cron() string {
	if cron, ok := namedSchedules[ScheduleExpression(strings.ToUpper(string(s)))]; ok {
		return cron
	}
	return string(s)
}
