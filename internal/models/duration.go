package models

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ErrInvalidDuration indicates an ISO 8601 duration that could not be parsed.
var ErrInvalidDuration = errors.New("invalid ISO 8601 duration")

var isoDurationPattern = regexp.MustCompile(`^(-)?P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseISODuration parses the day/time subset of ISO 8601 durations used in
// routine templates (PnW, PnD, PTnH, PTnM, PTnS and combinations). Calendar
// units (years, months) are not supported.
func ParseISODuration(s string) (time.Duration, error) {
	m := isoDurationPattern.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" || s == "-P" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	var d time.Duration
	if m[2] != "" {
		weeks, _ := strconv.Atoi(m[2])
		d += time.Duration(weeks) * 7 * 24 * time.Hour
	}
	if m[3] != "" {
		days, _ := strconv.Atoi(m[3])
		d += time.Duration(days) * 24 * time.Hour
	}
	if m[4] != "" {
		hours, _ := strconv.Atoi(m[4])
		d += time.Duration(hours) * time.Hour
	}
	if m[5] != "" {
		minutes, _ := strconv.Atoi(m[5])
		d += time.Duration(minutes) * time.Minute
	}
	if m[6] != "" {
		seconds, _ := strconv.ParseFloat(m[6], 64)
		d += time.Duration(seconds * float64(time.Second))
	}
	if m[1] == "-" {
		d = -d
	}
	return d, nil
}

// FormatISODuration renders a duration back into ISO 8601 form. It is the
// inverse of ParseISODuration for non-negative durations.
func FormatISODuration(d time.Duration) string {
	if d == 0 {
		return "PT0S"
	}
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second

	out := sign + "P"
	if days > 0 {
		out += fmt.Sprintf("%dD", days)
	}
	if hours > 0 || minutes > 0 || seconds > 0 {
		out += "T"
		if hours > 0 {
			out += fmt.Sprintf("%dH", hours)
		}
		if minutes > 0 {
			out += fmt.Sprintf("%dM", minutes)
		}
		if seconds > 0 {
			out += fmt.Sprintf("%dS", seconds)
		}
	}
	return out
}
