// Package server implements the HTTP server, middleware, and request handlers for the application.
package server

import (
	"net/http"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/woozymasta/sampinfo/internal/engine"
)

// New creates a new Server over the given engine.
func New(e *engine.Engine, opts Options) *Server {
	return &Server{
		engine:     e,
		history:    opts.History,
		metrics:    opts.Metrics,
		admin:      opts.AuthToken != "",
		tokenHash:  xxhash.Sum64String(opts.AuthToken),
		trustProxy: opts.TrustProxy,
		startedAt:  time.Now(),
	}
}

// Run configures the HTTP routes and returns the main handler.
func (s *Server) Run() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /query", http.HandlerFunc(s.handleQuery))
	mux.Handle("GET /health", http.HandlerFunc(s.handleHealth))
	mux.Handle("GET /{$}", http.HandlerFunc(s.handleIndex))
	mux.Handle("/", http.HandlerFunc(s.handleNotFound))

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	if s.admin {
		admin := func(h http.HandlerFunc) http.Handler { return s.AdminAuthMiddleware(h) }

		mux.Handle("GET /api/cache", admin(s.handleCacheStats))
		mux.Handle("DELETE /api/cache", admin(s.handleCacheClear))
		mux.Handle("GET /api/cache/keys", admin(s.handleCacheKeys))
		mux.Handle("GET /api/cache/search", admin(s.handleCacheSearch))
		mux.Handle("GET /api/ratelimit", admin(s.handleRateLimitStats))
		mux.Handle("POST /api/whitelist", admin(s.handleWhitelistAdd))
		mux.Handle("DELETE /api/whitelist", admin(s.handleWhitelistRemove))
		mux.Handle("POST /api/blacklist", admin(s.handleBlacklistAdd))
		mux.Handle("DELETE /api/blacklist", admin(s.handleBlacklistRemove))
		mux.Handle("DELETE /api/block", admin(s.handleUnblock))
		mux.Handle("GET /api/history", admin(s.handleHistory))
		mux.Handle("GET /api/attacks", admin(s.handleAttacks))
	}

	return s.LoggingMiddleware(CORSMiddleware(mux))
}
