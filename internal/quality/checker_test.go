package quality_test

import (
	"testing"
	"time"

	"github.com/watermetrics/kcwater-usage-worker/internal/kcwater"
	"github.com/watermetrics/kcwater-usage-worker/internal/quality"
)

const (
	testSpikeThreshold = 3.0
	testMinDataPoints  = 3
)

func reading(hour int, amount float64) kcwater.Reading {
	return kcwater.Reading{
		ReadTime:       time.Date(2024, 1, 15, hour, 0, 0, 0, time.UTC),
		UOM:            "CF",
		RawConsumption: amount,
	}
}

func TestInspect_NegativeAmount(t *testing.T) {
	checker := quality.NewChecker(testSpikeThreshold, testMinDataPoints)

	flags := checker.Inspect([]kcwater.Reading{reading(1, -2.5)})

	if len(flags) != 1 {
		t.Fatalf("Expected 1 flag, got %d", len(flags))
	}
	if flags[0].Reason != "negative consumption amount" {
		t.Errorf("Expected 'negative consumption amount', got '%s'", flags[0].Reason)
	}
}

func TestInspect_ZeroReadTime(t *testing.T) {
	checker := quality.NewChecker(testSpikeThreshold, testMinDataPoints)

	flags := checker.Inspect([]kcwater.Reading{{RawConsumption: 1.0}})

	if len(flags) != 1 {
		t.Fatalf("Expected 1 flag, got %d", len(flags))
	}
	if flags[0].Reason != "zero-value read time" {
		t.Errorf("Expected 'zero-value read time', got '%s'", flags[0].Reason)
	}
}

func TestInspect_SuddenSpike(t *testing.T) {
	checker := quality.NewChecker(testSpikeThreshold, testMinDataPoints)

	flags := checker.Inspect([]kcwater.Reading{
		reading(1, 10),
		reading(2, 11),
		reading(3, 9),
		reading(4, 95), // More than 3x the rolling average (~10)
	})

	if len(flags) != 1 {
		t.Fatalf("Expected 1 flag, got %d", len(flags))
	}
	if !flags[0].Reading.ReadTime.Equal(reading(4, 95).ReadTime) {
		t.Errorf("Expected spike flag on the fourth reading, got %v", flags[0].Reading.ReadTime)
	}
}

func TestInspect_InsufficientDataForSpike(t *testing.T) {
	checker := quality.NewChecker(testSpikeThreshold, testMinDataPoints)

	flags := checker.Inspect([]kcwater.Reading{
		reading(1, 10),
		reading(2, 11),
		reading(3, 95), // Only two prior points, below the detection minimum
	})

	if len(flags) != 0 {
		t.Errorf("Expected no flags with insufficient prior data, got %d", len(flags))
	}
}

func TestInspect_NormalBatch(t *testing.T) {
	checker := quality.NewChecker(testSpikeThreshold, testMinDataPoints)

	flags := checker.Inspect([]kcwater.Reading{
		reading(1, 10),
		reading(2, 11),
		reading(3, 9),
		reading(4, 12),
	})

	if len(flags) != 0 {
		t.Errorf("Expected no flags for a normal batch, got %d", len(flags))
	}
}

func TestInspect_ZeroAverage(t *testing.T) {
	checker := quality.NewChecker(testSpikeThreshold, testMinDataPoints)

	flags := checker.Inspect([]kcwater.Reading{
		reading(1, 0),
		reading(2, 0),
		reading(3, 0),
		reading(4, 5),
	})

	if len(flags) != 0 {
		t.Errorf("Expected no flags when the rolling average is 0, got %d", len(flags))
	}
}
