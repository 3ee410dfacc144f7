package ratelimit

import (
	"math"
	"time"
)

// Pattern labels the shape of abusive traffic.
type Pattern string

// Traffic patterns, in classification order.
const (
	PatternFlood      Pattern = "ddos-flood"
	PatternBot        Pattern = "automated-bot"
	PatternExcessive  Pattern = "excessive-requests"
	PatternSuspicious Pattern = "suspicious"
)

const (
	floodInterval = 100 * time.Millisecond
	botInterval   = time.Second
	// botJitter is the largest interval deviation, relative to the mean,
	// still considered machine regular.
	botJitter = 0.1
)

// Classify labels a series of ascending request timestamps. Floods come
// first, then near constant cadence, then plain volume against threshold.
func Classify(ts []time.Time, threshold int) Pattern {
	if len(ts) < 2 {
		if threshold > 0 && len(ts) >= threshold {
			return PatternExcessive
		}
		return PatternSuspicious
	}

	intervals := make([]float64, 0, len(ts)-1)
	var sum float64
	for i := 1; i < len(ts); i++ {
		d := float64(ts[i].Sub(ts[i-1]))
		intervals = append(intervals, d)
		sum += d
	}
	mean := sum / float64(len(intervals))

	if mean < float64(floodInterval) {
		return PatternFlood
	}

	if mean < float64(botInterval) {
		var variance float64
		for _, d := range intervals {
			variance += (d - mean) * (d - mean)
		}
		variance /= float64(len(intervals))

		if math.Sqrt(variance) <= mean*botJitter {
			return PatternBot
		}
	}

	if len(ts) >= threshold {
		return PatternExcessive
	}

	return PatternSuspicious
}
