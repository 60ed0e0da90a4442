package quality

import (
	"fmt"

	"github.com/watermetrics/kcwater-usage-worker/internal/kcwater"
)

// Flag describes a suspect reading found in a fetched batch.
type Flag struct {
	Reading kcwater.Reading
	Reason  string
}

// Checker inspects fetched readings for suspect values. Its findings are
// advisory: flagged readings are still reconciled, the flags are only
// surfaced in logs.
type Checker struct {
	spikeThreshold            float64
	minDataPointsForDetection int
}

// NewChecker creates a new quality checker with the specified thresholds
func NewChecker(spikeThreshold float64, minDataPointsForDetection int) *Checker {
	return &Checker{
		spikeThreshold:            spikeThreshold,
		minDataPointsForDetection: minDataPointsForDetection,
	}
}

// Inspect checks a batch of readings in order and returns flags for suspect
// entries. A negative consumption amount is always flagged since it would
// regress the cumulative sum downstream. A spike is flagged once enough
// prior readings exist in the batch to form a rolling average.
func (c *Checker) Inspect(readings []kcwater.Reading) []Flag {
	var flags []Flag
	var prior []float64

	for _, reading := range readings {
		if reading.RawConsumption < 0 {
			flags = append(flags, Flag{
				Reading: reading,
				Reason:  "negative consumption amount",
			})
			continue
		}

		if reading.ReadTime.IsZero() {
			flags = append(flags, Flag{
				Reading: reading,
				Reason:  "zero-value read time",
			})
			continue
		}

		if isSpike, reason := c.detectSpike(reading.RawConsumption, prior); isSpike {
			flags = append(flags, Flag{Reading: reading, Reason: reason})
		}
		prior = append(prior, reading.RawConsumption)
	}

	return flags
}

// detectSpike checks the value against the rolling average of prior values.
func (c *Checker) detectSpike(value float64, prior []float64) (bool, string) {
	if len(prior) < c.minDataPointsForDetection {
		return false, ""
	}

	sum := 0.0
	for _, v := range prior {
		sum += v
	}
	average := sum / float64(len(prior))

	if average > 0 && value > c.spikeThreshold*average {
		return true, fmt.Sprintf("sudden spike: value %.2f exceeds %.1fx rolling average %.2f",
			value, c.spikeThreshold, average)
	}

	return false, ""
}
