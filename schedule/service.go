package schedule

import (
	"fmt"
	"time"
)

// ServiceDate is a calendar date in the feed's local timezone, formatted
// YYYY-MM-DD. A service day runs from the cutoff hour to the cutoff hour
// of the next calendar day, so late-night trips stay with the date they
// started on.
type ServiceDate string

const serviceDateLayout = "2006-01-02"

// DefaultCutoffHour splits service days at 03:00 local time: an
// observation stamped 01:30 belongs to the previous calendar date.
const DefaultCutoffHour = 3

// MakeServiceDate returns the service date of t's calendar day.
func MakeServiceDate(t time.Time) ServiceDate {
	return ServiceDate(t.Format(serviceDateLayout))
}

// ServiceDateFor assigns t to a service date using the cutoff hour. The
// caller must pass t already in the feed's local timezone.
func ServiceDateFor(t time.Time, cutoffHour int) ServiceDate {
	if t.Hour() < cutoffHour {
		t = t.AddDate(0, 0, -1)
	}
	return MakeServiceDate(t)
}

// ParseServiceDate validates a YYYY-MM-DD string.
func ParseServiceDate(s string) (ServiceDate, error) {
	if _, err := time.Parse(serviceDateLayout, s); err != nil {
		return "", fmt.Errorf("invalid service date %q: %w", s, err)
	}
	return ServiceDate(s), nil
}

// Start returns midnight at the beginning of the service date in loc.
func (d ServiceDate) Start(loc *time.Location) time.Time {
	t, err := time.ParseInLocation(serviceDateLayout, string(d), loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// At returns the absolute time daySeconds past midnight of the service
// date. Seconds beyond 86400 land on the following calendar day, which is
// how trips running past midnight keep their service date.
func (d ServiceDate) At(daySeconds int, loc *time.Location) time.Time {
	t, err := time.ParseInLocation(serviceDateLayout, string(d), loc)
	if err != nil {
		return time.Time{}
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, daySeconds, 0, loc)
}

// Next returns the following calendar date.
func (d ServiceDate) Next() ServiceDate {
	t, err := time.Parse(serviceDateLayout, string(d))
	if err != nil {
		return d
	}
	return MakeServiceDate(t.AddDate(0, 0, 1))
}

// Weekday returns the day of week of the service date.
func (d ServiceDate) Weekday() time.Weekday {
	t, err := time.Parse(serviceDateLayout, string(d))
	if err != nil {
		return time.Sunday
	}
	return t.Weekday()
}

// DayType buckets service dates for aggregation.
type DayType string

const (
	DayTypeWeekday  DayType = "weekday"
	DayTypeSaturday DayType = "saturday"
	DayTypeSunday   DayType = "sunday"
)

// DayType classifies the service date as weekday, saturday, or sunday.
func (d ServiceDate) DayType() DayType {
	switch d.Weekday() {
	case time.Saturday:
		return DayTypeSaturday
	case time.Sunday:
		return DayTypeSunday
	default:
		return DayTypeWeekday
	}
}
