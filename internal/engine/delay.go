package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/petrijr/tickflow/pkg/api"
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// computeWaitUntil returns now plus the fixed delay. When at or weekday is
// set, the result is moved forward to the first matching wall-clock moment
// at or after that point, in the configured timezone.
func computeWaitUntil(cfg api.DelayConfig, now time.Time) (time.Time, error) {
	base := now.Add(cfg.Duration())
	if cfg.At == "" && cfg.Weekday == "" {
		return base, nil
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}

	hasAt := cfg.At != ""
	var hour, minute int
	if hasAt {
		at, err := time.Parse("15:04", cfg.At)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid time of day %q, want HH:MM", cfg.At)
		}
		hour, minute = at.Hour(), at.Minute()
	}

	hasWeekday := cfg.Weekday != ""
	var wd time.Weekday
	if hasWeekday {
		d, ok := weekdays[strings.ToLower(cfg.Weekday)]
		if !ok {
			return time.Time{}, fmt.Errorf("invalid weekday %q", cfg.Weekday)
		}
		wd = d
	}

	t := base.In(loc)
	// Eight days cover every weekday even when today's slot has passed.
	for i := 0; i <= 7; i++ {
		var cand time.Time
		switch {
		case hasAt:
			cand = time.Date(t.Year(), t.Month(), t.Day()+i, hour, minute, 0, 0, loc)
		case i == 0:
			cand = t
		default:
			cand = time.Date(t.Year(), t.Month(), t.Day()+i, 0, 0, 0, 0, loc)
		}
		if cand.Before(t) {
			continue
		}
		if hasWeekday && cand.Weekday() != wd {
			continue
		}
		return cand.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("no matching time for delay %+v", cfg)
}
