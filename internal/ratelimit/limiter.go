// Package ratelimit implements per-client sliding window admission control
// with abuse detection, temporary blocks, a permanent blacklist, a whitelist
// and an optional wait queue for ordinarily rate-limited requests.
package ratelimit

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
)

// Defaults applied to zero Options fields.
const (
	DefaultWindow          = time.Minute
	DefaultMaxRequests     = 5
	DefaultBlockDuration   = 5 * time.Minute
	DefaultAbuseThreshold  = 20
	DefaultBlacklistAfter  = 3
	DefaultBlockMemory     = 24 * time.Hour
	DefaultCleanupInterval = time.Minute
	DefaultQueueSize       = 100
	DefaultQueueTimeout    = 30 * time.Second
	DefaultRecheckInterval = time.Second
	DefaultShards          = 32
)

// Denial errors, returned by Decision.Err.
var (
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrBlocked      = errors.New("client temporarily blocked")
	ErrBlacklisted  = errors.New("client blacklisted")
	ErrQueueTimeout = errors.New("queued request timed out")
)

// Reason explains a Decision.
type Reason string

// Decision reasons.
const (
	ReasonAllowed      Reason = "allowed"
	ReasonWhitelisted  Reason = "whitelisted"
	ReasonBlacklisted  Reason = "blacklisted"
	ReasonBlocked      Reason = "blocked"
	ReasonAbuse        Reason = "abuse"
	ReasonRateLimited  Reason = "rate-limited"
	ReasonQueueFull    Reason = "queue-full"
	ReasonQueueTimeout Reason = "queue-timeout"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Reason      Reason        `json:"reason"`
	Pattern     Pattern       `json:"pattern,omitempty"`
	RetryAfter  time.Duration `json:"-"`
	Remaining   int           `json:"remaining"`
	Limit       int           `json:"limit"`
	Allowed     bool          `json:"allowed"`
	Blacklisted bool          `json:"blacklisted"`
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, at least one for a denial.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed || d.Blacklisted {
		return 0
	}

	s := int(math.Ceil(d.RetryAfter.Seconds()))
	if s < 1 {
		s = 1
	}

	return s
}

// Err maps a denial to its error, nil when allowed.
func (d Decision) Err() error {
	switch {
	case d.Allowed:
		return nil
	case d.Blacklisted:
		return ErrBlacklisted
	case d.Reason == ReasonBlocked || d.Reason == ReasonAbuse:
		return ErrBlocked
	case d.Reason == ReasonQueueTimeout:
		return ErrQueueTimeout
	default:
		return ErrRateLimited
	}
}

// BlockEvent is emitted when a client gets blocked or blacklisted.
type BlockEvent struct {
	At          time.Time
	ClientID    string
	Pattern     Pattern
	Requests    int
	BlockCount  int
	Blacklisted bool
}

// QueueOptions configure the wait queue.
type QueueOptions struct {
	Enabled         bool
	MaxSize         int
	Timeout         time.Duration
	RecheckInterval time.Duration
}

// Options configure a Limiter.
type Options struct {
	// Now is the clock, time.Now when nil.
	Now func() time.Time

	// OnBlock is called outside of any lock for every block and blacklisting.
	OnBlock func(BlockEvent)

	Queue           QueueOptions
	Window          time.Duration
	BlockDuration   time.Duration
	BlockMemory     time.Duration
	CleanupInterval time.Duration
	MaxRequests     int
	AbuseThreshold  int
	BlacklistAfter  int
	Shards          int
}

func (o *Options) setDefaults() {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.MaxRequests <= 0 {
		o.MaxRequests = DefaultMaxRequests
	}
	if o.BlockDuration <= 0 {
		o.BlockDuration = DefaultBlockDuration
	}
	if o.AbuseThreshold <= 0 {
		o.AbuseThreshold = DefaultAbuseThreshold
	}
	if o.BlacklistAfter <= 0 {
		o.BlacklistAfter = DefaultBlacklistAfter
	}
	if o.BlockMemory <= 0 {
		o.BlockMemory = DefaultBlockMemory
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = DefaultCleanupInterval
	}
	if o.Queue.MaxSize <= 0 {
		o.Queue.MaxSize = DefaultQueueSize
	}
	if o.Queue.Timeout <= 0 {
		o.Queue.Timeout = DefaultQueueTimeout
	}
	if o.Queue.RecheckInterval <= 0 {
		o.Queue.RecheckInterval = DefaultRecheckInterval
	}
	if o.Shards <= 0 {
		o.Shards = DefaultShards
	}
}

// BlockRecord is an active temporary block.
type BlockRecord struct {
	Since   time.Time `json:"since"`
	Until   time.Time `json:"until"`
	Reason  string    `json:"reason"`
	Pattern Pattern   `json:"pattern"`
	Count   int       `json:"block_count"`
}

// client is the per-identifier window state.
type client struct {
	lastSeen   time.Time
	lastBlock  time.Time
	block      *BlockRecord
	requests   []time.Time // admitted requests, drive the quota
	attempts   []time.Time // every counted request, drive abuse detection
	blockCount int
	queued     int
}

// prune drops timestamps older than the window.
func (c *client) prune(now time.Time, window time.Duration) {
	c.requests = pruneBefore(c.requests, now.Add(-window))
	c.attempts = pruneBefore(c.attempts, now.Add(-window))
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}

	return append(ts[:0], ts[i:]...)
}

type shard struct {
	clients map[string]*client
	mu      sync.Mutex
}

type totals struct {
	allowed       atomic.Uint64
	denied        atomic.Uint64
	blocks        atomic.Uint64
	blacklisted   atomic.Uint64
	queued        atomic.Uint64
	queueTimeouts atomic.Uint64
}

// Limiter is safe for concurrent use. Decisions for one client are
// serialized by the client's shard lock; different shards proceed in parallel.
type Limiter struct {
	whitelist *List
	blacklist *List
	notify    chan struct{}
	shutdown  chan struct{}
	shards    []*shard
	opts      Options
	totals    totals
	wg        sync.WaitGroup
	notifyMu  sync.Mutex
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a Limiter. Call Start to run the periodic sweep.
func New(opts Options) *Limiter {
	opts.setDefaults()

	l := &Limiter{
		opts:     opts,
		shards:   make([]*shard, opts.Shards),
		notify:   make(chan struct{}),
		shutdown: make(chan struct{}),
	}
	for i := range l.shards {
		l.shards[i] = &shard{clients: make(map[string]*client)}
	}

	l.whitelist = newList(opts.Now)
	l.whitelist.onChange = func(string, bool) { l.broadcast() }

	l.blacklist = newList(opts.Now)
	l.blacklist.onChange = func(id string, added bool) {
		if added {
			l.dropBlock(id)
		} else {
			l.forget(id)
		}
		l.broadcast()
	}

	return l
}

// Whitelist returns the set of identifiers that bypass throttling.
func (l *Limiter) Whitelist() *List { return l.whitelist }

// Blacklist returns the set of permanently denied identifiers.
func (l *Limiter) Blacklist() *List { return l.blacklist }

// Options returns the effective configuration.
func (l *Limiter) Options() Options { return l.opts }

func (l *Limiter) shardFor(id string) *shard {
	return l.shards[xxhash.Sum64String(id)%uint64(len(l.shards))]
}

func (s *shard) get(id string, now time.Time) *client {
	c, ok := s.clients[id]
	if !ok {
		c = &client{lastSeen: now}
		s.clients[id] = c
	}

	return c
}

// Check counts one request from id and decides whether it is admitted.
func (l *Limiter) Check(id string) Decision {
	d, ev := l.check(id, true)
	l.account(d)
	l.emit(ev)

	return d
}

func (l *Limiter) check(id string, countAttempt bool) (Decision, *BlockEvent) {
	if l.whitelist.Contains(id) {
		return Decision{
			Allowed:   true,
			Reason:    ReasonWhitelisted,
			Remaining: l.opts.MaxRequests,
			Limit:     l.opts.MaxRequests,
		}, nil
	}

	if l.blacklist.Contains(id) {
		return Decision{Reason: ReasonBlacklisted, Blacklisted: true, Limit: l.opts.MaxRequests}, nil
	}

	now := l.opts.Now()
	sh := l.shardFor(id)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	return l.evaluateLocked(id, sh.get(id, now), now, countAttempt)
}

func (l *Limiter) evaluateLocked(id string, c *client, now time.Time, countAttempt bool) (Decision, *BlockEvent) {
	c.lastSeen = now
	limit := l.opts.MaxRequests

	if c.block != nil {
		if now.Before(c.block.Until) {
			return Decision{
				Reason:     ReasonBlocked,
				Pattern:    c.block.Pattern,
				RetryAfter: c.block.Until.Sub(now),
				Limit:      limit,
			}, nil
		}
		c.block = nil
	}

	c.prune(now, l.opts.Window)
	if countAttempt {
		c.attempts = append(c.attempts, now)
	}

	if len(c.attempts) >= l.opts.AbuseThreshold {
		return l.blockLocked(id, c, now)
	}

	if len(c.requests) >= limit {
		return Decision{
			Reason:     ReasonRateLimited,
			RetryAfter: c.requests[0].Add(l.opts.Window).Sub(now),
			Limit:      limit,
		}, nil
	}

	c.requests = append(c.requests, now)

	return Decision{
		Allowed:   true,
		Reason:    ReasonAllowed,
		Remaining: limit - len(c.requests),
		Limit:     limit,
	}, nil
}

// blockLocked puts the client into a temporary block, or on the blacklist
// once it collected BlacklistAfter blocks.
func (l *Limiter) blockLocked(id string, c *client, now time.Time) (Decision, *BlockEvent) {
	if !c.lastBlock.IsZero() && now.Sub(c.lastBlock) > l.opts.BlockMemory {
		c.blockCount = 0
	}

	pattern := Classify(c.attempts, l.opts.AbuseThreshold)
	requests := len(c.attempts)

	c.blockCount++
	c.lastBlock = now
	c.attempts = nil
	c.requests = nil

	ev := &BlockEvent{
		At:         now,
		ClientID:   id,
		Pattern:    pattern,
		Requests:   requests,
		BlockCount: c.blockCount,
	}

	d := Decision{Reason: ReasonAbuse, Pattern: pattern, Limit: l.opts.MaxRequests}

	if c.blockCount >= l.opts.BlacklistAfter {
		// Blacklist supersedes the temporary block
		c.block = nil
		l.blacklist.insert(id)
		ev.Blacklisted = true
		d.Blacklisted = true

		log.Warn().
			Str("client", id).
			Str("pattern", string(pattern)).
			Int("blocks", c.blockCount).
			Msg("Client blacklisted")

		return d, ev
	}

	c.block = &BlockRecord{
		Since:   now,
		Until:   now.Add(l.opts.BlockDuration),
		Reason:  "abuse threshold reached",
		Pattern: pattern,
		Count:   c.blockCount,
	}
	d.RetryAfter = l.opts.BlockDuration

	log.Warn().
		Str("client", id).
		Str("pattern", string(pattern)).
		Int("requests", requests).
		Int("blocks", c.blockCount).
		Dur("duration", l.opts.BlockDuration).
		Msg("Client blocked")

	return d, ev
}

func (l *Limiter) account(d Decision) {
	if d.Allowed {
		l.totals.allowed.Add(1)
		return
	}

	l.totals.denied.Add(1)
}

func (l *Limiter) emit(ev *BlockEvent) {
	if ev == nil {
		return
	}

	l.totals.blocks.Add(1)
	if ev.Blacklisted {
		l.totals.blacklisted.Add(1)
	}

	if l.opts.OnBlock != nil {
		l.opts.OnBlock(*ev)
	}
}

// Unblock lifts an active temporary block of id. It reports whether one was active.
func (l *Limiter) Unblock(id string) bool {
	sh := l.shardFor(id)
	now := l.opts.Now()

	sh.mu.Lock()
	c, ok := sh.clients[id]
	active := ok && c.block != nil && now.Before(c.block.Until)
	if ok {
		c.block = nil
	}
	sh.mu.Unlock()

	l.broadcast()

	return active
}

// dropBlock clears a temporary block when the client is blacklisted by an operator.
func (l *Limiter) dropBlock(id string) {
	sh := l.shardFor(id)

	sh.mu.Lock()
	if c, ok := sh.clients[id]; ok {
		c.block = nil
	}
	sh.mu.Unlock()
}

// forget resets the window and block history of id.
func (l *Limiter) forget(id string) {
	sh := l.shardFor(id)

	sh.mu.Lock()
	if c, ok := sh.clients[id]; ok {
		c.block = nil
		c.blockCount = 0
		c.lastBlock = time.Time{}
		c.requests = nil
		c.attempts = nil
	}
	sh.mu.Unlock()
}

// broadcast wakes every queued waiter for a re-check.
func (l *Limiter) broadcast() {
	l.notifyMu.Lock()
	close(l.notify)
	l.notify = make(chan struct{})
	l.notifyMu.Unlock()
}

func (l *Limiter) changed() <-chan struct{} {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()

	return l.notify
}
