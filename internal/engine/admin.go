package engine

import (
	"time"

	"github.com/woozymasta/sampinfo/internal/cache"
	"github.com/woozymasta/sampinfo/internal/models"
	"github.com/woozymasta/sampinfo/internal/ratelimit"
)

// CacheStats returns cache counters.
func (e *Engine) CacheStats() cache.Stats { return e.cache.Stats() }

// CacheTTL returns the lifetime the cache gives rec.
func (e *Engine) CacheTTL(rec models.ServerRecord) time.Duration { return e.cache.TTLFor(rec) }

// CacheKeys lists live cache keys, most popular first.
func (e *Engine) CacheKeys() []cache.KeyInfo { return e.cache.Keys() }

// CacheSearch finds cached records whose key matches pattern.
func (e *Engine) CacheSearch(pattern string) ([]cache.Match, error) {
	return e.cache.Search(pattern)
}

// CacheClear drops every cached record and returns how many there were.
func (e *Engine) CacheClear() int { return e.cache.Clear() }

// CacheDelete drops one cached record.
func (e *Engine) CacheDelete(key string) bool { return e.cache.Delete(key) }

// RateLimitStats returns the rate limiter snapshot.
func (e *Engine) RateLimitStats() ratelimit.Stats { return e.limiter.Stats() }

// Whitelist returns the identifiers that bypass throttling.
func (e *Engine) Whitelist() *ratelimit.List { return e.limiter.Whitelist() }

// Blacklist returns the permanently denied identifiers.
func (e *Engine) Blacklist() *ratelimit.List { return e.limiter.Blacklist() }

// Unblock lifts a temporary block of id.
func (e *Engine) Unblock(id string) bool { return e.limiter.Unblock(id) }

// Backends returns the cascade order.
func (e *Engine) Backends() []string { return e.coord.Backends() }
