package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/woozymasta/sampinfo/internal/engine"
	"github.com/woozymasta/sampinfo/internal/game"
	"github.com/woozymasta/sampinfo/internal/metrics"
	"github.com/woozymasta/sampinfo/internal/models"
	"github.com/woozymasta/sampinfo/internal/protocol"
	"github.com/woozymasta/sampinfo/internal/ratelimit"
	"github.com/woozymasta/sampinfo/internal/storage"
)

const testToken = "s3cret"

type stubBackend struct {
	err   error
	calls atomic.Int32
}

func (s *stubBackend) Name() string { return "stub" }

func (s *stubBackend) Query(context.Context, models.ServerAddress) (game.Result, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}

	return &game.SAMPResult{
		Info: protocol.Info{
			Hostname:   "Los Santos Roleplay",
			Gamemode:   "LS-RP",
			Players:    25,
			MaxPlayers: 100,
			Password:   true,
		},
		Rules: map[string]string{
			"lagcomp":  "On",
			"version":  "0.3.7-R2",
			"weburl":   "ls-rp.com",
			"language": "English",
		},
		Players: []protocol.Player{{ID: 0, Name: "Carl", Score: 12}},
		Latency: 40 * time.Millisecond,
	}, nil
}

type fixture struct {
	backend *stubBackend
	engine  *engine.Engine
	metrics *metrics.Metrics
	repo    *storage.Repository
	handler http.Handler
}

func newFixture(t *testing.T, backendErr error, opts Options) *fixture {
	t.Helper()

	repo, err := storage.New(context.Background(), storage.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	f := &fixture{
		backend: &stubBackend{err: backendErr},
		metrics: metrics.New(),
		repo:    repo,
	}

	eopts := engine.Options{
		Metrics:   f.metrics,
		RateLimit: ratelimit.Options{MaxRequests: 3, AbuseThreshold: 10},
	}
	eopts.Fallback.Backoff = -1
	f.engine = engine.New([]game.Backend{f.backend}, eopts)

	opts.Metrics = f.metrics
	opts.History = repo
	f.handler = New(f.engine, opts).Run()

	return f
}

func (f *fixture) do(method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	return body
}

func TestQueryOnline(t *testing.T) {
	f := newFixture(t, nil, Options{})

	rec := f.do(http.MethodGet, "/query?ip=127.0.0.1&port=7777", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "2", rec.Header().Get("X-RateLimit-Remaining"))
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	body := decode(t, rec)
	require.Equal(t, true, body["success"])
	require.Equal(t, true, body["online"])

	server := body["server"].(map[string]any)
	require.Equal(t, "127.0.0.1:7777", server["address"])

	status := body["status"].(map[string]any)
	require.Equal(t, "online", status["state"])
	require.Equal(t, "excellent", status["quality"])

	info := body["info"].(map[string]any)
	require.Equal(t, "Los Santos Roleplay", info["hostname"])
	require.Equal(t, "English", info["language"])
	require.Equal(t, "ls-rp.com", info["weburl"])
	require.Nil(t, info["discord"])
	require.Equal(t, "Unknown", info["weather"])

	players := body["players"].(map[string]any)
	require.EqualValues(t, 25, players["online"])
	require.EqualValues(t, 25, players["percentage"])
	require.Len(t, players["list"], 1)

	security := body["security"].(map[string]any)
	require.Equal(t, true, security["password"])
	require.Equal(t, true, security["lagcomp"])

	cache := body["cache"].(map[string]any)
	require.Equal(t, false, cache["from_cache"])
	require.EqualValues(t, 10, cache["cache_ttl_seconds"])

	rec = f.do(http.MethodGet, "/query?ip=127.0.0.1&port=7777", "")
	cache = decode(t, rec)["cache"].(map[string]any)
	require.Equal(t, true, cache["from_cache"])
	require.EqualValues(t, 1, f.backend.calls.Load())
}

func TestQueryOffline(t *testing.T) {
	f := newFixture(t, game.ErrTimeout, Options{})

	rec := f.do(http.MethodGet, "/query?ip=127.0.0.1&port=7777", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	require.Equal(t, false, body["success"])
	require.Equal(t, false, body["online"])
	require.Equal(t, "SERVER_OFFLINE", body["error"].(map[string]any)["code"])
	require.Equal(t, "offline", body["status"].(map[string]any)["state"])
	require.Nil(t, body["info"])
}

func TestQueryInvalidAddress(t *testing.T) {
	f := newFixture(t, nil, Options{})

	for _, target := range []string{
		"/query?ip=300.1.1.1&port=7777",
		"/query?ip=127.0.0.1&port=70000",
		"/query?port=7777",
	} {
		rec := f.do(http.MethodGet, target, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
		require.Equal(t, "INVALID_ADDRESS", decode(t, rec)["error"].(map[string]any)["code"])
	}
	require.Zero(t, f.backend.calls.Load())
}

func TestQueryRateLimited(t *testing.T) {
	f := newFixture(t, nil, Options{})

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/query?ip=127.0.0.1&port=7777", "").Code)
	}

	rec := f.do(http.MethodGet, "/query?ip=127.0.0.1&port=7777", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	body := decode(t, rec)
	require.Equal(t, "rate-limited", body["reason"])
	require.Positive(t, body["retry_after_seconds"])

	metricsBody := f.do(http.MethodGet, "/metrics", "").Body.String()
	require.Contains(t, metricsBody, `sampinfo_http_requests_total{code="429",route="GET /query"} 1`)
}

func TestQueryBlacklisted(t *testing.T) {
	f := newFixture(t, nil, Options{AuthToken: testToken})

	// httptest requests come from 192.0.2.1
	rec := f.do(http.MethodPost, "/api/blacklist?id=192.0.2.1", testToken)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decode(t, rec)["changed"])

	rec = f.do(http.MethodGet, "/query?ip=127.0.0.1&port=7777", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Empty(t, rec.Header().Get("Retry-After"))
	require.Equal(t, true, decode(t, rec)["blacklisted"])

	require.Equal(t, http.StatusOK, f.do(http.MethodDelete, "/api/blacklist?id=192.0.2.1", testToken).Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/query?ip=127.0.0.1&port=7777", "").Code)
}

func TestTrustProxy(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/query", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	require.Equal(t, "192.0.2.1", GetRealIP(req, false))
	require.Equal(t, "203.0.113.7", GetRealIP(req, true))

	req.Header.Set("CF-Connecting-IP", "198.51.100.4")
	require.Equal(t, "198.51.100.4", GetRealIP(req, true))
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil, Options{})

	rec := f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	require.Equal(t, "healthy", body["status"])
	require.Equal(t, []any{"stub"}, body["backends"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.do(http.MethodGet, "/query?ip=127.0.0.1&port=7777", "")

	rec := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "sampinfo_lookups_total"))
}

func TestNotFound(t *testing.T) {
	f := newFixture(t, nil, Options{})

	rec := f.do(http.MethodGet, "/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", decode(t, rec)["error"].(map[string]any)["code"])

	// admin routes are absent without a token
	require.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/cache", testToken).Code)
}

func TestAdminAuth(t *testing.T) {
	f := newFixture(t, nil, Options{AuthToken: testToken})

	require.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/cache", "").Code)
	require.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/cache", "wrong").Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/cache", testToken).Code)
}

func TestAdminCache(t *testing.T) {
	f := newFixture(t, nil, Options{AuthToken: testToken})
	f.do(http.MethodGet, "/query?ip=127.0.0.1&port=7777", "")

	body := decode(t, f.do(http.MethodGet, "/api/cache", testToken))
	require.EqualValues(t, 1, body["entries"])

	body = decode(t, f.do(http.MethodGet, "/api/cache/keys", testToken))
	require.EqualValues(t, 1, body["count"])

	body = decode(t, f.do(http.MethodGet, "/api/cache/search?pattern=^127", testToken))
	require.EqualValues(t, 1, body["count"])

	require.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/cache/search?pattern=(", testToken).Code)
	require.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/cache/search", testToken).Code)

	body = decode(t, f.do(http.MethodDelete, "/api/cache", testToken))
	require.EqualValues(t, 1, body["removed"])
	require.Zero(t, f.engine.CacheStats().Entries)
}

func TestAdminRateLimit(t *testing.T) {
	f := newFixture(t, nil, Options{AuthToken: testToken})

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/whitelist?id=192.0.2.1", testToken).Code)
	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/query?ip=127.0.0.1&port=7777", "").Code)
	}

	body := decode(t, f.do(http.MethodGet, "/api/ratelimit", testToken))
	require.Len(t, body["whitelist"], 1)

	require.Equal(t, http.StatusOK, f.do(http.MethodDelete, "/api/whitelist?id=192.0.2.1", testToken).Code)
	require.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/whitelist", testToken).Code)
}

func TestAdminHistory(t *testing.T) {
	f := newFixture(t, nil, Options{AuthToken: testToken})

	ctx := context.Background()
	require.NoError(t, f.repo.InsertLookup(ctx, models.LookupEvent{
		At: time.Now(), Server: "127.0.0.1:7777", Backend: "stub", Online: true, Players: 25,
	}))
	require.NoError(t, f.repo.InsertAbuse(ctx, models.AbuseEvent{
		At: time.Now(), ClientID: "203.0.113.7", Pattern: "ddos-flood", Requests: 40, BlockCount: 1,
	}))

	body := decode(t, f.do(http.MethodGet, "/api/history?server=127.0.0.1:7777", testToken))
	require.Len(t, body["lookups"], 1)
	require.EqualValues(t, 1, body["summary"].(map[string]any)["lookups"])

	body = decode(t, f.do(http.MethodGet, "/api/attacks?limit=5", testToken))
	require.EqualValues(t, 1, body["count"])
}

func TestIndex(t *testing.T) {
	f := newFixture(t, nil, Options{})

	rec := f.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	build := decode(t, rec)["build"].(map[string]any)
	require.Equal(t, "sampinfo", build["name"])
}
