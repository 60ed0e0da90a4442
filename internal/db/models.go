package db

import "time"

// StatisticPoint is one row of a cumulative statistic series. Sum is the
// running total of State values up to and including Start; it never
// decreases within a series.
type StatisticPoint struct {
	Start time.Time
	State float64
	Sum   float64
}

// StatisticMetadata describes a statistic series.
type StatisticMetadata struct {
	StatisticID string
	Source      string
	Name        string
	Unit        string
	HasMean     bool
	HasSum      bool
}
