// Package cache stores normalized server records with a TTL derived from
// the record itself and bounded size with least-frequently-used eviction.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/sampinfo/internal/models"
)

// Defaults applied to zero Options fields.
const (
	DefaultTTL             = 10 * time.Second
	DefaultMaxEntries      = 1000
	DefaultCleanupInterval = time.Minute

	OfflineTTL = 30 * time.Second
	EmptyTTL   = 20 * time.Second
	BusyTTL    = 5 * time.Second

	// BusyPlayers is the player count above which BusyTTL applies.
	BusyPlayers = 100
)

// ErrInvalidPattern is returned by Search for a pattern that does not compile.
var ErrInvalidPattern = errors.New("invalid search pattern")

// Options configure a Cache.
type Options struct {
	// Now is the clock, time.Now when nil.
	Now func() time.Time

	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	MaxEntries      int
}

type entry struct {
	storedAt       time.Time
	expiresAt      time.Time
	lastAccessedAt time.Time
	record         models.ServerRecord
	accessCount    uint64
	popularity     uint64
	size           int
}

type counters struct {
	hits        uint64
	misses      uint64
	sets        uint64
	evictions   uint64
	expirations uint64
	flushed     uint64
}

// Cache is a concurrency safe store keyed by "host:port".
// Records go in and come out as deep copies.
type Cache struct {
	startedAt time.Time
	entries   map[string]*entry
	shutdown  chan struct{}
	opts      Options
	stats     counters
	wg        sync.WaitGroup
	mu        sync.Mutex
	stopOnce  sync.Once
	startOnce sync.Once
}

// New creates an empty cache. Call Start to run the background sweep.
func New(opts Options) *Cache {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}

	return &Cache{
		opts:      opts,
		entries:   make(map[string]*entry, opts.MaxEntries),
		startedAt: opts.Now(),
		shutdown:  make(chan struct{}),
	}
}

// TTLFor returns the lifetime of a record: offline servers change rarely and
// live longest, busy servers change fast and live shortest.
func (c *Cache) TTLFor(rec models.ServerRecord) time.Duration {
	switch {
	case !rec.Online:
		return OfflineTTL
	case rec.PlayerCount == 0:
		return EmptyTTL
	case rec.PlayerCount > BusyPlayers:
		return BusyTTL
	default:
		return c.opts.DefaultTTL
	}
}

// Get returns a copy of the record stored under key. An expired entry is
// removed and reported as a miss.
func (c *Cache) Get(key string) (models.ServerRecord, bool) {
	now := c.opts.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.misses++
		return models.ServerRecord{}, false
	}

	if !now.Before(e.expiresAt) {
		delete(c.entries, key)
		c.stats.misses++
		c.stats.expirations++
		return models.ServerRecord{}, false
	}

	e.accessCount++
	e.popularity++
	e.lastAccessedAt = now
	c.stats.hits++

	return e.record.Clone(), true
}

// Set stores a copy of rec under key with a TTL computed by TTLFor. When a
// new key would exceed MaxEntries the least popular entry is evicted first.
func (c *Cache) Set(key string, rec models.ServerRecord) {
	now := c.opts.Now()
	ttl := c.TTLFor(rec)
	rec = rec.Clone()
	size := estimateSize(rec)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.sets++

	var popularity uint64
	if old, ok := c.entries[key]; ok {
		popularity = old.popularity
	} else if len(c.entries) >= c.opts.MaxEntries {
		c.evictLocked()
	}

	c.entries[key] = &entry{
		record:         rec,
		storedAt:       now,
		expiresAt:      now.Add(ttl),
		lastAccessedAt: now,
		popularity:     popularity + 1,
		size:           size,
	}
}

// evictLocked removes the entry with the lowest popularity, the least
// recently accessed one among equals.
func (c *Cache) evictLocked() {
	var (
		victim string
		best   *entry
	)

	for key, e := range c.entries {
		if best == nil ||
			e.popularity < best.popularity ||
			(e.popularity == best.popularity && e.lastAccessedAt.Before(best.lastAccessedAt)) ||
			(e.popularity == best.popularity && e.lastAccessedAt.Equal(best.lastAccessedAt) && key < victim) {
			victim, best = key, e
		}
	}

	if best == nil {
		return
	}

	delete(c.entries, victim)
	c.stats.evictions++

	log.Debug().
		Str("key", victim).
		Uint64("popularity", best.popularity).
		Msg("Cache eviction")
}

// Delete removes key, reporting whether it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[key]
	delete(c.entries, key)

	return ok
}

// Len returns the number of stored entries, expired ones included until swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.opts.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	c.stats.expirations += uint64(removed)

	return removed
}

// Clear empties the cache and returns the number of entries it held.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]*entry, c.opts.MaxEntries)
	c.stats.flushed += uint64(n)

	log.Info().Int("removed", n).Msg("Cache cleared")

	return n
}

// KeyInfo describes a live cache key.
type KeyInfo struct {
	Key         string `json:"key"`
	ExpiresIn   int64  `json:"expires_in"`
	Popularity  uint64 `json:"popularity"`
	AccessCount uint64 `json:"access_count"`
}

// Keys lists unexpired keys, most popular first.
func (c *Cache) Keys() []KeyInfo {
	now := c.opts.Now()

	c.mu.Lock()
	keys := make([]KeyInfo, 0, len(c.entries))
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			continue
		}
		keys = append(keys, KeyInfo{
			Key:         key,
			ExpiresIn:   int64(e.expiresAt.Sub(now) / time.Second),
			Popularity:  e.popularity,
			AccessCount: e.accessCount,
		})
	}
	c.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Popularity != keys[j].Popularity {
			return keys[i].Popularity > keys[j].Popularity
		}
		return keys[i].Key < keys[j].Key
	})

	return keys
}

// Match is a Search hit.
type Match struct {
	Record      models.ServerRecord `json:"data"`
	Key         string              `json:"key"`
	Popularity  uint64              `json:"popularity"`
	AccessCount uint64              `json:"access_count"`
}

// Search returns unexpired entries whose key matches the case-insensitive
// regular expression pattern, most popular first.
func (c *Cache) Search(pattern string) ([]Match, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}

	now := c.opts.Now()

	c.mu.Lock()
	matches := make([]Match, 0)
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) || !re.MatchString(key) {
			continue
		}
		matches = append(matches, Match{
			Key:         key,
			Record:      e.record.Clone(),
			Popularity:  e.popularity,
			AccessCount: e.accessCount,
		})
	}
	c.mu.Unlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Popularity != matches[j].Popularity {
			return matches[i].Popularity > matches[j].Popularity
		}
		return matches[i].Key < matches[j].Key
	})

	return matches, nil
}

// Start runs the periodic expiry sweep until Stop.
func (c *Cache) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.sweeper()
	})
}

// Stop ends the background sweep and waits for it to exit.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.shutdown) })
	c.wg.Wait()
}

func (c *Cache) sweeper() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.shutdown:
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				log.Debug().Int("removed", n).Msg("Cache cleanup")
			}
		}
	}
}

func estimateSize(rec models.ServerRecord) int {
	b, err := json.Marshal(rec)
	if err != nil {
		return 0
	}

	return len(b)
}
