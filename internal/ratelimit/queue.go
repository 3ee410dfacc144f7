package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Wait counts one request from id like Check. When the request is only rate
// limited and the queue is enabled it parks until the window admits it, the
// queue timeout elapses or ctx is done. Blocks and blacklisting are never queued.
func (l *Limiter) Wait(ctx context.Context, id string) (Decision, error) {
	// Subscribe before checking so no state change is missed in between
	notify := l.changed()

	d, ev := l.check(id, true)
	l.emit(ev)

	if d.Allowed || d.Reason != ReasonRateLimited || !l.opts.Queue.Enabled {
		l.account(d)
		return d, d.Err()
	}

	if !l.enqueue(id) {
		d.Reason = ReasonQueueFull
		l.account(d)
		return d, ErrRateLimited
	}
	defer l.dequeue(id)

	l.totals.queued.Add(1)
	log.Debug().Str("client", id).Dur("retry_after", d.RetryAfter).Msg("Request queued")

	deadline := time.NewTimer(l.opts.Queue.Timeout)
	defer deadline.Stop()

	timedOut := func() (Decision, error) {
		l.totals.queueTimeouts.Add(1)
		d.Reason = ReasonQueueTimeout
		l.account(d)
		return d, ErrQueueTimeout
	}

	for {
		wait := d.RetryAfter
		if wait <= 0 || wait > l.opts.Queue.RecheckInterval {
			wait = l.opts.Queue.RecheckInterval
		}

		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			l.account(d)
			return d, ctx.Err()
		case <-deadline.C:
			timer.Stop()
			return timedOut()
		case <-notify:
		case <-timer.C:
		}
		timer.Stop()

		// An expired waiter must not be admitted
		select {
		case <-deadline.C:
			return timedOut()
		default:
		}

		notify = l.changed()
		d, ev = l.check(id, false)
		l.emit(ev)

		if d.Reason != ReasonRateLimited {
			l.account(d)
			return d, d.Err()
		}
	}
}

func (l *Limiter) enqueue(id string) bool {
	sh := l.shardFor(id)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	c := sh.get(id, l.opts.Now())
	if c.queued >= l.opts.Queue.MaxSize {
		return false
	}
	c.queued++

	return true
}

func (l *Limiter) dequeue(id string) {
	sh := l.shardFor(id)

	sh.mu.Lock()
	if c, ok := sh.clients[id]; ok && c.queued > 0 {
		c.queued--
	}
	sh.mu.Unlock()
}
