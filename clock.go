package tidslinje

import (
	"math"
	"time"
)

// Now returns the current time as a timeline timestamp: milliseconds since
// the Unix epoch with sub-millisecond precision.
func Now() float64 {
	return Timestamp(time.Now())
}

// Timestamp converts t to a timeline timestamp.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Millisecond)
}

// Time converts a timeline timestamp back to wall time.
func Time(ts float64) time.Time {
	sec, frac := math.Modf(ts / 1000)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
