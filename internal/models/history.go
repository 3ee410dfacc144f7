package models

import "time"

// LookupEvent is one served lookup as kept in the history store.
type LookupEvent struct {
	At        time.Time `json:"at"`
	Server    string    `json:"server"`
	Backend   string    `json:"backend"`
	Country   string    `json:"country,omitempty"`
	Error     string    `json:"error,omitempty"`
	ID        int64     `json:"id"`
	LatencyMs uint32    `json:"latency_ms"`
	Players   uint16    `json:"players"`
	Online    bool      `json:"online"`
	Cached    bool      `json:"cached"`
}

// AbuseEvent is one block or blacklisting of a client.
type AbuseEvent struct {
	At          time.Time `json:"at"`
	ClientID    string    `json:"client_id"`
	Pattern     string    `json:"pattern"`
	ID          int64     `json:"id"`
	Requests    int       `json:"requests"`
	BlockCount  int       `json:"block_count"`
	Blacklisted bool      `json:"blacklisted"`
}
