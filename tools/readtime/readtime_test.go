package readtime_test

import (
	"testing"
	"time"

	"github.com/watermetrics/kcwater-usage-worker/tools/readtime"
)

func chicago(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Fatalf("Failed to load timezone: %v", err)
	}
	return loc
}

func TestParseReadTime_ShiftsBackOneHour(t *testing.T) {
	loc := chicago(t)

	result, err := readtime.ParseReadTime("01-15-2024", "3 PM", loc)
	if err != nil {
		t.Fatalf("Failed to parse read time: %v", err)
	}

	expected := time.Date(2024, 1, 15, 14, 0, 0, 0, loc)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseReadTime_Midnight(t *testing.T) {
	loc := chicago(t)

	result, err := readtime.ParseReadTime("03-10-2024", "12 AM", loc)
	if err != nil {
		t.Fatalf("Failed to parse read time: %v", err)
	}

	// Shifting midnight back lands on 11 PM of the previous day
	expected := time.Date(2024, 3, 9, 23, 0, 0, 0, loc)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseReadTime_Invalid(t *testing.T) {
	loc := chicago(t)

	_, err := readtime.ParseReadTime("not-a-date", "3 PM", loc)
	if err == nil {
		t.Error("Expected error for invalid read date")
	}
}

func TestFormatQueryDay(t *testing.T) {
	day := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)

	result := readtime.FormatQueryDay(day)
	if result != "15-Jan-2024" {
		t.Errorf("Expected '15-Jan-2024', got '%s'", result)
	}
}

func TestDaysBetween_HalfOpen(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)

	result := readtime.DaysBetween(start, end)
	if result != 3 {
		t.Errorf("Expected 3 days, got %d", result)
	}
}

func TestDaysBetween_EmptyRange(t *testing.T) {
	start := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)

	if result := readtime.DaysBetween(start, start); result != 0 {
		t.Errorf("Expected 0 days for empty range, got %d", result)
	}
}

func TestDaysBetween_SpringForwardDay(t *testing.T) {
	loc := chicago(t)

	// 2024-03-10 is the spring-forward transition: this wall-clock day is
	// only 23 hours long but must still count as one whole day.
	start := time.Date(2024, 3, 9, 12, 0, 0, 0, loc)
	end := time.Date(2024, 3, 10, 12, 0, 0, 0, loc)

	if result := readtime.DaysBetween(start, end); result != 1 {
		t.Errorf("Expected 1 day across spring forward, got %d", result)
	}
}

func TestDaysBetween_WindowSpanningSpringForward(t *testing.T) {
	loc := chicago(t)

	start := time.Date(2024, 3, 8, 12, 0, 0, 0, loc)
	end := time.Date(2024, 3, 10, 12, 0, 0, 0, loc)

	if result := readtime.DaysBetween(start, end); result != 2 {
		t.Errorf("Expected 2 days across spring forward, got %d", result)
	}
}

func TestDaysBetween_FallBackDay(t *testing.T) {
	loc := chicago(t)

	// 2024-11-03 is the fall-back transition: a 25-hour wall-clock day
	// still counts as exactly one day.
	start := time.Date(2024, 11, 2, 12, 0, 0, 0, loc)
	end := time.Date(2024, 11, 3, 12, 0, 0, 0, loc)

	if result := readtime.DaysBetween(start, end); result != 1 {
		t.Errorf("Expected 1 day across fall back, got %d", result)
	}
}

func TestDaysBetween_NegativeSpan(t *testing.T) {
	start := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if result := readtime.DaysBetween(start, end); result != 0 {
		t.Errorf("Expected 0 days for negative span, got %d", result)
	}
}
