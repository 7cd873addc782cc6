// Package alert reduces a window of measurement samples to an aggregate and
// decides whether that aggregate falls short of the expected bandwidth.
//
// Everything here is pure: no I/O, no clocks.
package alert

import (
	"math"
	"time"

	"trackspeed/internal/speedlog"
)

// Aggregate summarizes a window of samples.
type Aggregate struct {
	Download float64
	Upload   float64
	// SpanHours is the distance between the oldest and the newest sample,
	// in whole minutes, divided by 60 and rounded to the nearest hour.
	SpanHours int64
}

// Expectation is what the operator expects the link to deliver.
type Expectation struct {
	Download float64
	Upload   float64
	// Threshold is the tolerated shortfall in percent, 0..100.
	Threshold uint8
}

// Average computes the arithmetic means and the time span of a non-empty
// window. The window does not need to be sorted by time.
func Average(window []speedlog.Sample) Aggregate {
	if len(window) == 0 {
		return Aggregate{}
	}

	var dl, ul float64
	oldest, newest := window[0].Timestamp, window[0].Timestamp
	for _, s := range window {
		dl += s.DownloadMbps
		ul += s.UploadMbps
		if s.Timestamp.Before(oldest) {
			oldest = s.Timestamp
		}
		if s.Timestamp.After(newest) {
			newest = s.Timestamp
		}
	}

	n := float64(len(window))
	minutes := int64(newest.Sub(oldest) / time.Minute)
	return Aggregate{
		Download:  dl / n,
		Upload:    ul / n,
		SpanHours: int64(math.Round(float64(minutes) / 60.0)),
	}
}

// Breached reports whether either average is strictly below its expected
// value reduced by the threshold. Sitting exactly on the boundary is fine.
func Breached(agg Aggregate, exp Expectation) bool {
	factor := 1.0 - float64(exp.Threshold)/100.0
	return agg.Upload < exp.Upload*factor || agg.Download < exp.Download*factor
}
