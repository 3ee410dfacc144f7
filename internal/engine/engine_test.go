package engine

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/woozymasta/sampinfo/internal/fake"
	"github.com/woozymasta/sampinfo/internal/fallback"
	"github.com/woozymasta/sampinfo/internal/game"
	"github.com/woozymasta/sampinfo/internal/metrics"
	"github.com/woozymasta/sampinfo/internal/models"
	"github.com/woozymasta/sampinfo/internal/protocol"
	"github.com/woozymasta/sampinfo/internal/ratelimit"
	"github.com/woozymasta/sampinfo/internal/resolve"
)

type stubBackend struct {
	err     error
	release chan struct{}
	name    string
	calls   atomic.Int32
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Query(ctx context.Context, _ models.ServerAddress) (game.Result, error) {
	s.calls.Add(1)

	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if s.err != nil {
		return nil, s.err
	}

	return &game.SAMPResult{
		Info: protocol.Info{
			Hostname:   "Stub Server",
			Gamemode:   "Freeroam",
			Players:    7,
			MaxPlayers: 100,
		},
		Rules:   map[string]string{"version": "0.3.7"},
		Players: []protocol.Player{{ID: 1, Name: "CJ", Score: 3}},
		Latency: 25 * time.Millisecond,
	}, nil
}

type memHistory struct {
	lookups []models.LookupEvent
	abuse   []models.AbuseEvent
	mu      sync.Mutex
}

func (h *memHistory) Lookup(e models.LookupEvent) {
	h.mu.Lock()
	h.lookups = append(h.lookups, e)
	h.mu.Unlock()
}

func (h *memHistory) Abuse(e models.AbuseEvent) {
	h.mu.Lock()
	h.abuse = append(h.abuse, e)
	h.mu.Unlock()
}

type staticGeo string

func (g staticGeo) CountryCode(netip.Addr) string { return string(g) }

var testAddr = models.ServerAddress{Host: "127.0.0.1", Port: 7777}

func newEngine(opts Options, backends ...game.Backend) *Engine {
	opts.Fallback.Backoff = -1
	return New(backends, opts)
}

func TestLookupCachesSecondCall(t *testing.T) {
	b := &stubBackend{name: "stub"}
	hist := &memHistory{}
	e := newEngine(Options{History: hist, Metrics: metrics.New()}, b)

	first, err := e.Lookup(context.Background(), testAddr)
	require.NoError(t, err)
	require.False(t, first.Cached)
	require.Equal(t, "Stub Server", first.Record.Hostname)
	require.Equal(t, "stub", first.Record.SourceBackend)
	require.True(t, first.Record.Online)
	require.False(t, first.Record.QueriedAt.IsZero())

	second, err := e.Lookup(context.Background(), testAddr)
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, first.Record, second.Record)
	require.EqualValues(t, 1, b.calls.Load())

	require.Len(t, hist.lookups, 2)
	require.True(t, hist.lookups[1].Cached)
	require.EqualValues(t, 7, hist.lookups[0].Players)
}

func TestLookupCoalescesMisses(t *testing.T) {
	b := &stubBackend{name: "stub", release: make(chan struct{})}
	e := newEngine(Options{}, b)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*Result, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.Lookup(context.Background(), testAddr)
			if err == nil {
				results[i] = res
			}
		}(i)
	}

	require.Eventually(t, func() bool { return b.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(b.release)
	wg.Wait()

	require.LessOrEqual(t, b.calls.Load(), int32(2))
	for _, res := range results {
		require.NotNil(t, res)
		require.Equal(t, "Stub Server", res.Record.Hostname)
	}
}

func TestLookupFailureNotCached(t *testing.T) {
	b := &stubBackend{name: "stub", err: game.ErrTimeout}
	e := newEngine(Options{}, b)

	_, err := e.Lookup(context.Background(), testAddr)
	require.ErrorIs(t, err, fallback.ErrAllBackendsFailed)
	require.ErrorIs(t, err, game.ErrTimeout)

	_, err = e.Lookup(context.Background(), testAddr)
	require.Error(t, err)
	require.EqualValues(t, 2, b.calls.Load())
	require.Zero(t, e.CacheStats().Entries)
}

func TestNegativeCache(t *testing.T) {
	b := &stubBackend{name: "stub", err: game.ErrSocket}
	e := newEngine(Options{NegativeCache: true}, b)

	_, err := e.Lookup(context.Background(), testAddr)
	require.ErrorIs(t, err, fallback.ErrAllBackendsFailed)

	res, err := e.Lookup(context.Background(), testAddr)
	require.NoError(t, err)
	require.True(t, res.Cached)
	require.False(t, res.Record.Online)
	require.Equal(t, models.UnknownValue, res.Record.Hostname)
	require.EqualValues(t, 1, b.calls.Load())
}

func TestLookupCancelled(t *testing.T) {
	b := &stubBackend{name: "stub", release: make(chan struct{})}
	e := newEngine(Options{}, b)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := e.Lookup(ctx, testAddr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(b.release)
}

func TestCoalescedLookupSurvivesLeaderCancel(t *testing.T) {
	b := &stubBackend{name: "stub", release: make(chan struct{})}
	e := newEngine(Options{}, b)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := e.Lookup(leaderCtx, testAddr)
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return b.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	type outcome struct {
		res *Result
		err error
	}
	follower := make(chan outcome, 1)
	go func() {
		res, err := e.Lookup(context.Background(), testAddr)
		follower <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	require.ErrorIs(t, <-leaderErr, context.Canceled)

	close(b.release)
	got := <-follower
	require.NoError(t, got.err)
	require.Equal(t, "Stub Server", got.res.Record.Hostname)
	require.EqualValues(t, 1, b.calls.Load())

	res, err := e.Lookup(context.Background(), testAddr)
	require.NoError(t, err)
	require.True(t, res.Cached)
}

func TestSharedFetchTimeout(t *testing.T) {
	b := &stubBackend{name: "stub", release: make(chan struct{})}
	defer close(b.release)
	e := newEngine(Options{FetchTimeout: 50 * time.Millisecond}, b)

	_, err := e.Lookup(context.Background(), testAddr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCountryEnrichment(t *testing.T) {
	e := newEngine(Options{Geo: staticGeo("DE")}, &stubBackend{name: "stub"})

	res, err := e.Lookup(context.Background(), testAddr)
	require.NoError(t, err)
	require.Equal(t, "DE", res.Record.Country)
}

func TestAdmit(t *testing.T) {
	hist := &memHistory{}
	e := newEngine(Options{
		History: hist,
		RateLimit: ratelimit.Options{
			MaxRequests:    5,
			AbuseThreshold: 8,
		},
	})

	for i := 0; i < 5; i++ {
		d, err := e.Admit(context.Background(), "client")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := e.Admit(context.Background(), "client")
	require.ErrorIs(t, err, ratelimit.ErrRateLimited)
	require.Positive(t, d.RetryAfter)

	_, _ = e.Admit(context.Background(), "client")
	_, err = e.Admit(context.Background(), "client")
	require.ErrorIs(t, err, ratelimit.ErrBlocked)

	require.Len(t, hist.abuse, 1)
	require.Equal(t, "client", hist.abuse[0].ClientID)
	require.Len(t, e.RateLimitStats().Blocks, 1)

	require.True(t, e.Unblock("client"))
	e.Whitelist().Add("client")
	d, err = e.Admit(context.Background(), "client")
	require.NoError(t, err)
	require.Equal(t, ratelimit.ReasonWhitelisted, d.Reason)
}

func TestAdminCache(t *testing.T) {
	e := newEngine(Options{}, &stubBackend{name: "stub"})

	_, err := e.Lookup(context.Background(), testAddr)
	require.NoError(t, err)

	keys := e.CacheKeys()
	require.Len(t, keys, 1)
	require.Equal(t, testAddr.Key(), keys[0].Key)

	matches, err := e.CacheSearch("127")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	require.True(t, e.CacheDelete(testAddr.Key()))
	require.Zero(t, e.CacheClear())
	require.Equal(t, []string{"stub"}, e.Backends())
}

func TestLookupAgainstFakeServer(t *testing.T) {
	srv, err := fake.Start("127.0.0.1:0", fake.State{
		Info:    protocol.Info{Hostname: "Fake RP", Gamemode: "RP", Players: 1, MaxPlayers: 10},
		Rules:   map[string]string{"version": "0.3.7", "language": "English"},
		Players: []protocol.Player{{ID: 0, Name: "CJ", Score: 1}},
	})
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	backends, err := game.NewBackends([]string{game.BackendSAMP, game.BackendSAMPInfo}, game.Options{
		Resolver: resolve.NewSystem(),
		Timeout:  500 * time.Millisecond,
	})
	require.NoError(t, err)

	e := newEngine(Options{}, backends...)
	addr, err := models.ParseAddress(srv.AddrPort().Addr().String(), int(srv.AddrPort().Port()))
	require.NoError(t, err)

	res, err := e.Lookup(context.Background(), addr)
	require.NoError(t, err)
	require.Equal(t, "Fake RP", res.Record.Hostname)
	require.Equal(t, "RP", res.Record.Gamemode)
	require.Equal(t, models.DefaultMapName, res.Record.Mapname)
	require.Equal(t, "English", res.Record.Rules["language"])
	require.Equal(t, []models.Player{{ID: 0, Name: "CJ", Score: 1}}, res.Record.Players)
	require.Equal(t, game.BackendSAMP, res.Record.SourceBackend)

	res, err = e.Lookup(context.Background(), addr)
	require.NoError(t, err)
	require.True(t, res.Cached)
	require.EqualValues(t, 1, srv.Hits(protocol.OpInfo))
}
