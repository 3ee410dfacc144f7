// Package engine ties the query pipeline together: admission through the
// rate limiter, cache lookups, coalesced and paced fallback cascades,
// normalization and optional enrichment.
package engine

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/sampinfo/internal/cache"
	"github.com/woozymasta/sampinfo/internal/fallback"
	"github.com/woozymasta/sampinfo/internal/game"
	"github.com/woozymasta/sampinfo/internal/metrics"
	"github.com/woozymasta/sampinfo/internal/models"
	"github.com/woozymasta/sampinfo/internal/normalize"
	"github.com/woozymasta/sampinfo/internal/ratelimit"
	"github.com/woozymasta/sampinfo/internal/resolve"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Egress pacing defaults.
const (
	DefaultEgressRate  = 50
	DefaultEgressBurst = 100

	// DefaultFetchTimeout bounds one shared cascade.
	DefaultFetchTimeout = 15 * time.Second
)

// Geo maps an address to an ISO country code.
type Geo interface {
	CountryCode(addr netip.Addr) string
}

// History receives lookup and abuse events.
type History interface {
	Lookup(e models.LookupEvent)
	Abuse(e models.AbuseEvent)
}

// Options configure an Engine. Zero values select package defaults.
type Options struct {
	Now      func() time.Time
	Resolver resolve.Resolver
	Geo      Geo
	History  History
	Metrics  *metrics.Metrics

	Cache     cache.Options
	RateLimit ratelimit.Options
	Fallback  fallback.Options

	// EgressRate is the process wide number of cascades started per second.
	EgressRate  float64
	EgressBurst int

	// FetchTimeout bounds a cascade shared by coalesced callers, which
	// outlives the cancellation of the caller that started it.
	FetchTimeout time.Duration

	// NegativeCache stores an offline record when every backend failed.
	NegativeCache bool
}

// Result is the answer of Lookup.
type Result struct {
	Record models.ServerRecord `json:"record"`
	Cached bool                `json:"cached"`
}

// Engine is safe for concurrent use.
type Engine struct {
	now      func() time.Time
	resolver resolve.Resolver
	geo      Geo
	history  History
	metrics  *metrics.Metrics
	cache    *cache.Cache
	limiter  *ratelimit.Limiter
	coord    *fallback.Coordinator
	egress   *rate.Limiter
	group    singleflight.Group
	timeout  time.Duration
	negative bool
}

// New builds an engine querying backends in the given order.
func New(backends []game.Backend, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Resolver == nil {
		opts.Resolver = resolve.NewSystem()
	}
	if opts.EgressRate <= 0 {
		opts.EgressRate = DefaultEgressRate
	}
	if opts.EgressBurst <= 0 {
		opts.EgressBurst = DefaultEgressBurst
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Cache.Now == nil {
		opts.Cache.Now = opts.Now
	}
	if opts.RateLimit.Now == nil {
		opts.RateLimit.Now = opts.Now
	}

	e := &Engine{
		now:      opts.Now,
		resolver: opts.Resolver,
		geo:      opts.Geo,
		history:  opts.History,
		metrics:  opts.Metrics,
		timeout:  opts.FetchTimeout,
		negative: opts.NegativeCache,
		egress:   rate.NewLimiter(rate.Limit(opts.EgressRate), opts.EgressBurst),
	}

	onBlock := opts.RateLimit.OnBlock
	opts.RateLimit.OnBlock = func(ev ratelimit.BlockEvent) {
		e.metrics.Block(string(ev.Pattern), ev.Blacklisted)
		if e.history != nil {
			e.history.Abuse(models.AbuseEvent{
				At:          ev.At,
				ClientID:    ev.ClientID,
				Pattern:     string(ev.Pattern),
				Requests:    ev.Requests,
				BlockCount:  ev.BlockCount,
				Blacklisted: ev.Blacklisted,
			})
		}
		if onBlock != nil {
			onBlock(ev)
		}
	}

	onAttempt := opts.Fallback.OnAttempt
	opts.Fallback.OnAttempt = func(a fallback.Attempt) {
		e.metrics.BackendAttempt(a.Backend, a.Err == nil, a.Duration)
		if onAttempt != nil {
			onAttempt(a)
		}
	}

	e.cache = cache.New(opts.Cache)
	e.limiter = ratelimit.New(opts.RateLimit)
	e.coord = fallback.New(opts.Fallback, backends...)

	e.metrics.GaugeFunc("cache_entries", "Cached server records.", func() float64 {
		return float64(e.cache.Len())
	})
	e.metrics.GaugeFunc("ratelimit_tracked_clients", "Clients with rate limiter state.", func() float64 {
		return float64(e.limiter.Stats().TrackedClients)
	})

	return e
}

// Start runs the cache and rate limiter sweepers.
func (e *Engine) Start() {
	e.cache.Start()
	e.limiter.Start()
}

// Stop ends the background sweepers.
func (e *Engine) Stop() {
	e.cache.Stop()
	e.limiter.Stop()
}

// Admit decides whether clientID may issue a lookup now, waiting in the
// queue when it is enabled and the client is only rate limited.
func (e *Engine) Admit(ctx context.Context, clientID string) (ratelimit.Decision, error) {
	d, err := e.limiter.Wait(ctx, clientID)
	e.metrics.Decision(string(d.Reason))

	return d, err
}

// Lookup returns the current record of addr, from cache when fresh.
// Concurrent misses for the same server share one cascade, detached from
// any single caller's cancellation; each caller still returns on its own ctx.
func (e *Engine) Lookup(ctx context.Context, addr models.ServerAddress) (*Result, error) {
	key := addr.Key()

	if rec, ok := e.cache.Get(key); ok {
		e.metrics.Lookup(metrics.LookupHit)
		e.record(key, &rec, true, nil)
		return &Result{Record: rec, Cached: true}, nil
	}

	ch := e.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()

		return e.fetch(fctx, addr)
	})

	select {
	case <-ctx.Done():
		e.metrics.Lookup(metrics.LookupError)
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			e.metrics.Lookup(metrics.LookupError)
			e.record(key, nil, false, res.Err)
			return nil, res.Err
		}

		rec := res.Val.(models.ServerRecord).Clone()
		e.metrics.Lookup(metrics.LookupMiss)
		e.record(key, &rec, false, nil)

		return &Result{Record: rec}, nil
	}
}

func (e *Engine) fetch(ctx context.Context, addr models.ServerAddress) (models.ServerRecord, error) {
	key := addr.Key()

	if err := e.egress.Wait(ctx); err != nil {
		return models.ServerRecord{}, err
	}

	out, err := e.coord.Query(ctx, addr)
	if err != nil {
		if e.negative && errors.Is(err, fallback.ErrAllBackendsFailed) {
			rec := normalize.Offline()
			rec.QueriedAt = e.now()
			e.cache.Set(key, rec)
		}

		log.Debug().Err(err).Str("server", key).Msg("Lookup failed")

		return models.ServerRecord{}, err
	}

	rec := normalize.Record(out.Result, out.Backend)
	rec.QueriedAt = e.now()
	rec.Country = e.country(ctx, addr)

	e.cache.Set(key, rec)

	log.Debug().
		Str("server", key).
		Str("backend", out.Backend).
		Uint16("players", rec.PlayerCount).
		Uint32("latency_ms", rec.LatencyMs).
		Msg("Lookup completed")

	return rec, nil
}

func (e *Engine) country(ctx context.Context, addr models.ServerAddress) string {
	if e.geo == nil {
		return ""
	}

	ip, err := e.resolver.LookupIPv4(ctx, addr.Host)
	if err != nil {
		return ""
	}

	return e.geo.CountryCode(ip)
}

func (e *Engine) record(key string, rec *models.ServerRecord, cached bool, err error) {
	if e.history == nil {
		return
	}

	ev := models.LookupEvent{At: e.now(), Server: key, Cached: cached}
	if rec != nil {
		ev.Backend = rec.SourceBackend
		ev.Country = rec.Country
		ev.LatencyMs = rec.LatencyMs
		ev.Players = rec.PlayerCount
		ev.Online = rec.Online
	}
	if err != nil {
		ev.Error = err.Error()
	}

	e.history.Lookup(ev)
}
