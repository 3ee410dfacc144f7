package cache

import (
	"sort"
	"time"
)

// Stats is a snapshot of cache usage and performance.
type Stats struct {
	TopServers    []Popular     `json:"top_servers"`
	Entries       int           `json:"entries"`
	MaxEntries    int           `json:"max_entries"`
	UsagePercent  float64       `json:"usage_percent"`
	MemoryBytes   int64         `json:"estimated_memory_bytes"`
	Hits          uint64        `json:"hits"`
	Misses        uint64        `json:"misses"`
	HitRate       float64       `json:"hit_rate"`
	TotalRequests uint64        `json:"total_requests"`
	Sets          uint64        `json:"sets"`
	Evictions     uint64        `json:"evictions"`
	Expirations   uint64        `json:"expirations"`
	Flushed       uint64        `json:"flushed"`
	DefaultTTL    time.Duration `json:"default_ttl"`
	Cleanup       time.Duration `json:"cleanup_interval"`
	Uptime        time.Duration `json:"uptime"`
}

// Popular is a key and its popularity counter.
type Popular struct {
	Key      string `json:"server"`
	Requests uint64 `json:"requests"`
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	now := c.opts.Now()

	c.mu.Lock()
	st := Stats{
		Entries:     len(c.entries),
		MaxEntries:  c.opts.MaxEntries,
		Hits:        c.stats.hits,
		Misses:      c.stats.misses,
		Sets:        c.stats.sets,
		Evictions:   c.stats.evictions,
		Expirations: c.stats.expirations,
		Flushed:     c.stats.flushed,
		DefaultTTL:  c.opts.DefaultTTL,
		Cleanup:     c.opts.CleanupInterval,
		Uptime:      now.Sub(c.startedAt),
	}

	popular := make([]Popular, 0, len(c.entries))
	for key, e := range c.entries {
		st.MemoryBytes += int64(e.size)
		popular = append(popular, Popular{Key: key, Requests: e.popularity})
	}
	c.mu.Unlock()

	st.TotalRequests = st.Hits + st.Misses
	if st.TotalRequests > 0 {
		st.HitRate = float64(st.Hits) / float64(st.TotalRequests) * 100
	}
	st.UsagePercent = float64(st.Entries) / float64(st.MaxEntries) * 100

	sort.Slice(popular, func(i, j int) bool {
		if popular[i].Requests != popular[j].Requests {
			return popular[i].Requests > popular[j].Requests
		}
		return popular[i].Key < popular[j].Key
	})
	if len(popular) > 10 {
		popular = popular[:10]
	}
	st.TopServers = popular

	return st
}
