package readtime

import (
	"fmt"
	"time"
)

// readLayout matches the API's split read time, e.g. "01-15-2024 3 PM".
const readLayout = "01-02-2006 3 PM"

// ParseReadTime combines the readDate and readDateTime fields of a history
// item and parses them in the given location. The source stamps each reading
// with the end of the consumption hour, so the result is shifted back one
// hour to the start of the hour the consumption belongs to. The shift is
// carried over from the upstream API behavior as-is.
func ParseReadTime(readDate, readDateTime string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(readLayout, fmt.Sprintf("%s %s", readDate, readDateTime), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse read time %q %q: %w", readDate, readDateTime, err)
	}
	return t.Add(-time.Hour), nil
}

// FormatQueryDay renders a day for the hourly-usage request payload,
// e.g. "15-Jan-2024".
func FormatQueryDay(day time.Time) string {
	return day.Format("02-Jan-2006")
}

// DaysBetween returns the number of whole days from start up to but
// excluding end, counted by calendar arithmetic so that the 23h and 25h
// wall-clock days around a DST transition still count as one day each.
// Negative spans collapse to zero.
func DaysBetween(start, end time.Time) int {
	days := 0
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		days++
	}
	return days
}
