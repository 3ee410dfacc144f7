package ratelimit

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// BlockInfo describes an active temporary block.
type BlockInfo struct {
	BlockRecord
	ID        string `json:"id"`
	ExpiresIn int64  `json:"expires_in"`
}

// Config is the effective limiter configuration as reported by Stats.
type Config struct {
	Window         time.Duration `json:"window"`
	BlockDuration  time.Duration `json:"block_duration"`
	QueueTimeout   time.Duration `json:"queue_timeout"`
	MaxRequests    int           `json:"max_requests"`
	AbuseThreshold int           `json:"abuse_threshold"`
	BlacklistAfter int           `json:"blacklist_after"`
	QueueSize      int           `json:"queue_size"`
	QueueEnabled   bool          `json:"queue_enabled"`
}

// Stats is a snapshot of limiter state and counters.
type Stats struct {
	Blocks         []BlockInfo `json:"blocked"`
	Whitelist      []ListEntry `json:"whitelist"`
	Blacklist      []ListEntry `json:"blacklist"`
	Config         Config      `json:"config"`
	TrackedClients int         `json:"tracked_clients"`
	Queued         int         `json:"queued"`
	Allowed        uint64      `json:"allowed_total"`
	Denied         uint64      `json:"denied_total"`
	BlocksTotal    uint64      `json:"blocks_total"`
	Blacklisted    uint64      `json:"blacklisted_total"`
	QueuedTotal    uint64      `json:"queued_total"`
	QueueTimeouts  uint64      `json:"queue_timeouts_total"`
}

// Stats returns a snapshot of the limiter.
func (l *Limiter) Stats() Stats {
	now := l.opts.Now()
	st := Stats{
		Blocks:        make([]BlockInfo, 0),
		Whitelist:     l.whitelist.Entries(),
		Blacklist:     l.blacklist.Entries(),
		Allowed:       l.totals.allowed.Load(),
		Denied:        l.totals.denied.Load(),
		BlocksTotal:   l.totals.blocks.Load(),
		Blacklisted:   l.totals.blacklisted.Load(),
		QueuedTotal:   l.totals.queued.Load(),
		QueueTimeouts: l.totals.queueTimeouts.Load(),
		Config: Config{
			Window:         l.opts.Window,
			BlockDuration:  l.opts.BlockDuration,
			QueueTimeout:   l.opts.Queue.Timeout,
			MaxRequests:    l.opts.MaxRequests,
			AbuseThreshold: l.opts.AbuseThreshold,
			BlacklistAfter: l.opts.BlacklistAfter,
			QueueSize:      l.opts.Queue.MaxSize,
			QueueEnabled:   l.opts.Queue.Enabled,
		},
	}

	for _, sh := range l.shards {
		sh.mu.Lock()
		st.TrackedClients += len(sh.clients)
		for id, c := range sh.clients {
			st.Queued += c.queued
			if c.block != nil && now.Before(c.block.Until) {
				st.Blocks = append(st.Blocks, BlockInfo{
					ID:          id,
					BlockRecord: *c.block,
					ExpiresIn:   int64(c.block.Until.Sub(now) / time.Second),
				})
			}
		}
		sh.mu.Unlock()
	}

	sort.Slice(st.Blocks, func(i, j int) bool { return st.Blocks[i].ID < st.Blocks[j].ID })

	return st
}

// Sweep drops stale timestamps, expired blocks and forgotten block history,
// then removes clients left with no state. It returns the removed count.
func (l *Limiter) Sweep() int {
	now := l.opts.Now()
	removed := 0

	for _, sh := range l.shards {
		sh.mu.Lock()
		for id, c := range sh.clients {
			c.prune(now, l.opts.Window)

			if c.block != nil && !now.Before(c.block.Until) {
				c.block = nil
			}
			if c.blockCount > 0 && now.Sub(c.lastBlock) > l.opts.BlockMemory {
				c.blockCount = 0
				c.lastBlock = time.Time{}
			}

			if len(c.requests) == 0 && len(c.attempts) == 0 &&
				c.block == nil && c.blockCount == 0 && c.queued == 0 {
				delete(sh.clients, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}

	return removed
}

// Start runs the periodic sweep until Stop.
func (l *Limiter) Start() {
	l.startOnce.Do(func() {
		l.wg.Add(1)
		go l.sweeper()
	})
}

// Stop ends the periodic sweep and waits for it to exit.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.shutdown) })
	l.wg.Wait()
}

func (l *Limiter) sweeper() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.shutdown:
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				log.Debug().Int("removed", n).Msg("Rate limiter cleanup")
			}
		}
	}
}
