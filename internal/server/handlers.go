package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/sampinfo/internal/fallback"
	"github.com/woozymasta/sampinfo/internal/models"
	"github.com/woozymasta/sampinfo/internal/ratelimit"
	"github.com/woozymasta/sampinfo/internal/resolve"
	"github.com/woozymasta/sampinfo/internal/vars"
)

// handleIndex describes the public API.
func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"build": vars.Info(),
		"endpoints": map[string]string{
			"query":  "GET /query?ip=<host>&port=<port>",
			"health": "GET /health",
		},
	})
}

// handleNotFound answers unknown routes with a JSON error.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("route %s %s not found", r.Method, r.URL.Path))
}

// handleHealth reports liveness with a short summary of the engine state.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	cs := s.engine.CacheStats()
	rs := s.engine.RateLimitStats()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"version":        vars.Ver(),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"backends":       s.engine.Backends(),
		"cache": map[string]any{
			"entries":  cs.Entries,
			"hit_rate": cs.HitRate,
		},
		"ratelimit": map[string]any{
			"tracked_clients": rs.TrackedClients,
			"blocked":         len(rs.Blocks),
			"blacklisted":     len(rs.Blacklist),
		},
	})
}

// handleQuery admits the caller through the rate limiter and returns the server state.
// Query params: ?ip=1.2.3.4&port=7777
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	clientID := GetRealIP(r, s.trustProxy)

	d, err := s.engine.Admit(r.Context(), clientID)
	setRateLimitHeaders(w, d)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		writeRateLimited(w, d, err)
		return
	}

	q := r.URL.Query()
	addr, err := models.ParseAddressString(q.Get("ip"), q.Get("port"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorBlock{
			Code:    "INVALID_ADDRESS",
			Message: "Invalid server address",
			Details: err.Error(),
		}})
		return
	}

	res, err := s.engine.Lookup(r.Context(), addr)
	elapsed := time.Since(start)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return
		case errors.Is(err, resolve.ErrDNSResolution):
			writeJSON(w, http.StatusOK, offlineResponse(addr, "DNS_RESOLUTION_FAILED", "Hostname could not be resolved", err, elapsed))
		case errors.Is(err, fallback.ErrAllBackendsFailed), errors.Is(err, context.DeadlineExceeded):
			writeJSON(w, http.StatusOK, offlineResponse(addr, "SERVER_OFFLINE", "Server is offline or not responding", err, elapsed))
		default:
			log.Error().Err(err).Str("server", addr.Key()).Msg("Lookup failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "lookup failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, onlineResponse(addr, res.Record, res.Cached, s.engine.CacheTTL(res.Record), elapsed))
}

func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	if d.Limit == 0 {
		return
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
}

func writeRateLimited(w http.ResponseWriter, d ratelimit.Decision, err error) {
	code := http.StatusTooManyRequests
	if errors.Is(err, ratelimit.ErrBlacklisted) {
		code = http.StatusForbidden
	}

	body := rateLimitResponse{
		Error:       err.Error(),
		Reason:      string(d.Reason),
		Pattern:     string(d.Pattern),
		Blacklisted: d.Blacklisted,
	}

	if secs := d.RetryAfterSeconds(); secs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		body.RetryAfterSeconds = secs
		body.RetryAfter = formatRetry(secs)
	}

	writeJSON(w, code, body)
}

// formatRetry renders seconds as "Xm Ys" or "Ys".
func formatRetry(secs int) string {
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}

	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}
