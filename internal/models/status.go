package models

import "time"

// Status is the coarse server state derived from a query outcome.
type Status string

// Server states reported to API clients.
const (
	StatusOnline   Status = "online"
	StatusUnstable Status = "unstable"
	StatusOffline  Status = "offline"
)

// InferStatus derives the server state from the record and the measured latency.
func InferStatus(rec *ServerRecord, latency time.Duration) Status {
	if rec == nil || !rec.Online {
		return StatusOffline
	}

	if latency < 300*time.Millisecond {
		return StatusOnline
	}

	return StatusUnstable
}

// Quality maps a latency to a human-readable connection quality level.
func Quality(latency time.Duration) string {
	switch {
	case latency <= 0:
		return "unavailable"
	case latency < 50*time.Millisecond:
		return "excellent"
	case latency < 100*time.Millisecond:
		return "good"
	case latency < 200*time.Millisecond:
		return "fair"
	case latency < 300*time.Millisecond:
		return "poor"
	default:
		return "bad"
	}
}
