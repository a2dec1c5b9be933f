package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ISOWeekday returns the ISO-8601 weekday for t: Monday=1 .. Sunday=7.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// ParseClock parses "HH:MM" or "HH:MM:SS" into hour, minute and second.
func ParseClock(s string) (int, int, int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, 0, fmt.Errorf("invalid time %q", s)
	}
	hh, err := strconv.Atoi(parts[0])
	if err != nil || hh < 0 || hh > 23 {
		return 0, 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	mm, err := strconv.Atoi(parts[1])
	if err != nil || mm < 0 || mm > 59 {
		return 0, 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	ss := 0
	if len(parts) == 3 {
		ss, err = strconv.Atoi(parts[2])
		if err != nil || ss < 0 || ss > 59 {
			return 0, 0, 0, fmt.Errorf("invalid second in %q", s)
		}
	}
	return hh, mm, ss, nil
}

// ConvertLocalScheduleToUTC converts a weekly slot chosen in the user's local
// zone (ISO weekday + "HH:MM") into the UTC pair that gets persisted. The
// conversion anchors on the next occurrence of that local weekday relative to
// now, so the UTC weekday accounts for day boundary crossings.
func ConvertLocalScheduleToUTC(dayOfWeek int, hour string, loc *time.Location, now time.Time) (int, string, error) {
	if dayOfWeek < 1 || dayOfWeek > 7 {
		return 0, "", fmt.Errorf("invalid day of week %d", dayOfWeek)
	}
	hh, mm, _, err := ParseClock(hour)
	if err != nil {
		return 0, "", err
	}

	nowLocal := now.In(loc)
	daysAhead := (dayOfWeek - ISOWeekday(nowLocal) + 7) % 7
	target := time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day(), hh, mm, 0, 0, loc)
	target = target.AddDate(0, 0, daysAhead)

	targetUTC := target.UTC()
	return ISOWeekday(targetUTC), targetUTC.Format("15:04:05"), nil
}

// FormatScheduleLocal renders a stored UTC pair back in the given timezone as
// "HH:MM" for display. An unloadable timezone falls back to UTC.
func FormatScheduleLocal(dayOfWeek int, timeUTC string, timezone string, nowUTC time.Time) (int, string) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}

	hh, mm, ss, err := ParseClock(timeUTC)
	if err != nil {
		hh, mm, ss = 9, 0, 0
	}

	daysAhead := (dayOfWeek - ISOWeekday(nowUTC) + 7) % 7
	next := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day(), hh, mm, ss, 0, time.UTC)
	next = next.AddDate(0, 0, daysAhead)

	local := next.In(loc)
	return ISOWeekday(local), local.Format("15:04")
}

// ScheduleDue reports whether a stored UTC pair matches the current instant at
// minute granularity. Seconds are ignored; the caller is expected to sweep at
// most once per minute.
func ScheduleDue(dayOfWeek int, timeUTC string, nowUTC time.Time) bool {
	nowUTC = nowUTC.UTC()
	if ISOWeekday(nowUTC) != dayOfWeek {
		return false
	}
	scheduled := timeUTC
	if len(scheduled) > 5 {
		scheduled = scheduled[:5]
	}
	return nowUTC.Format("15:04") == scheduled
}
