// Package timeutil provides course-calendar helpers in the course timezone.
// Module windows are defined in local dates, so week numbers must be computed
// on local midnights rather than on raw durations (DST shifts a week by an hour).
package timeutil

import (
	"fmt"
	"math"
	"time"
	_ "time/tzdata" // the course zone must resolve in scratch containers
)

// CourseTZ is the timezone used for module windows. Defaults to Europe/Bratislava.
var CourseTZ = mustLoad("Europe/Bratislava")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SetCourseTZ replaces the course timezone. Call once at startup.
func SetCourseTZ(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fmt.Errorf("timeutil: unknown timezone %q: %w", name, err)
	}
	CourseTZ = loc
	return nil
}

// Now returns the current time in the course timezone.
func Now() time.Time {
	return time.Now().In(CourseTZ)
}

// ToLocal converts a time to the course timezone.
func ToLocal(t time.Time) time.Time {
	return t.In(CourseTZ)
}

// Date creates a local midnight for the given date.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, CourseTZ)
}

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time) time.Time {
	l := ToLocal(t)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, CourseTZ)
}

// StartOfWeek returns Monday 00:00 of the week containing t.
func StartOfWeek(t time.Time) time.Time {
	l := ToLocal(t)
	weekday := int(l.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return StartOfDay(l.AddDate(0, 0, -(weekday - 1)))
}

// DaysBetween returns the signed number of calendar days from t1 to t2.
func DaysBetween(t1, t2 time.Time) int {
	a := StartOfDay(t1)
	b := StartOfDay(t2)
	// Round to absorb 23h/25h DST days.
	return int(math.Round(b.Sub(a).Hours() / 24))
}

// WeekIndex returns the 1-based week of t counted from start.
// Returns 0 when t is before start.
func WeekIndex(start, t time.Time) int {
	days := DaysBetween(start, t)
	if days < 0 {
		return 0
	}
	return days/7 + 1
}

// IsSameDay checks if two times fall on the same local day.
func IsSameDay(t1, t2 time.Time) bool {
	a, b := ToLocal(t1), ToLocal(t2)
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// FormatDate formats t as a local ISO date.
func FormatDate(t time.Time) string {
	return ToLocal(t).Format("2006-01-02")
}

// FormatDateTime formats t as local date and minutes, for exports.
func FormatDateTime(t time.Time) string {
	return ToLocal(t).Format("2006-01-02 15:04")
}
