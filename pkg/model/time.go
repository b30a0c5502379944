package model

import (
	"time"
)

var (
	// BeginningOfTime is the time of the initial snapshot and of seeded tag bindings
	BeginningOfTime = time.UnixMilli(0).UTC()
	// Forever marks a start or end time which has not been set yet
	Forever = time.Date(9999, 12, 31, 23, 59, 59, 999_000_000, time.UTC)
)

// Millis converts t to the wire representation
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// FromSeconds converts legacy second based float timestamps
func FromSeconds(sec float64) time.Time {
	return time.UnixMilli(int64(sec * 1000)).UTC()
}

func Seconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}
