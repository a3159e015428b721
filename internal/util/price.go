// Package util provides common helpers for price and calendar arithmetic.
package util

import (
	"math"
	"time"
)

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.05, 101.337 becomes 101.35.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}

// FloorUnits floors a fractional quantity to whole units.
func FloorUnits(qty float64) float64 {
	if qty < 0 {
		return 0
	}
	return math.Floor(qty)
}

// DayKey returns the UTC calendar-day key used to group bars by day.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
