package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/sampinfo/internal/cache"
	"github.com/woozymasta/sampinfo/internal/models"
	"github.com/woozymasta/sampinfo/internal/storage"
)

// historyWindow is the period summarized by /api/history.
const historyWindow = 24 * time.Hour

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.CacheStats())
}

func (s *Server) handleCacheKeys(w http.ResponseWriter, _ *http.Request) {
	keys := s.engine.CacheKeys()
	writeJSON(w, http.StatusOK, map[string]any{"count": len(keys), "keys": keys})
}

// handleCacheSearch lists cached servers whose key matches ?pattern=.
func (s *Server) handleCacheSearch(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PATTERN", "pattern parameter is required")
		return
	}

	matches, err := s.engine.CacheSearch(pattern)
	if err != nil {
		if errors.Is(err, cache.ErrInvalidPattern) {
			writeError(w, http.StatusBadRequest, "INVALID_PATTERN", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"pattern": pattern, "count": len(matches), "results": matches})
}

// handleCacheClear drops one server with ?key=host:port, or the whole cache.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if key := r.URL.Query().Get("key"); key != "" {
		removed := 0
		if s.engine.CacheDelete(key) {
			removed = 1
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
		return
	}

	removed := s.engine.CacheClear()
	log.Info().Int("removed", removed).Msg("Cache cleared")
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (s *Server) handleRateLimitStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.RateLimitStats())
}

func (s *Server) handleWhitelistAdd(w http.ResponseWriter, r *http.Request) {
	s.updateList(w, r, "whitelist", s.engine.Whitelist().Add)
}

func (s *Server) handleWhitelistRemove(w http.ResponseWriter, r *http.Request) {
	s.updateList(w, r, "whitelist", s.engine.Whitelist().Remove)
}

func (s *Server) handleBlacklistAdd(w http.ResponseWriter, r *http.Request) {
	s.updateList(w, r, "blacklist", s.engine.Blacklist().Add)
}

func (s *Server) handleBlacklistRemove(w http.ResponseWriter, r *http.Request) {
	s.updateList(w, r, "blacklist", s.engine.Blacklist().Remove)
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	s.updateList(w, r, "block", s.engine.Unblock)
}

// updateList applies op to ?id= and reports whether anything changed.
func (s *Server) updateList(w http.ResponseWriter, r *http.Request, list string, op func(string) bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "MISSING_ID", "id parameter is required")
		return
	}

	changed := op(id)
	log.Info().
		Str("list", list).
		Str("method", r.Method).
		Str("id", id).
		Bool("changed", changed).
		Msg("Client list updated")

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "changed": changed})
}

// handleHistory returns recent lookups with a summary of the last day.
// Query params: ?server=host:port&limit=100
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "HISTORY_DISABLED", "lookup history is disabled")
		return
	}

	filter := storage.LookupFilter{Server: r.URL.Query().Get("server"), Limit: queryLimit(r)}
	lookups, err := s.history.Lookups(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch lookups")
		writeError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to read history")
		return
	}

	summary, err := s.history.Summarize(r.Context(), time.Now().Add(-historyWindow))
	if err != nil {
		log.Error().Err(err).Msg("Failed to summarize lookups")
		writeError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to read history")
		return
	}

	if lookups == nil {
		lookups = []models.LookupEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"summary": summary, "lookups": lookups})
}

// handleAttacks returns recent abuse events, newest first.
func (s *Server) handleAttacks(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "HISTORY_DISABLED", "abuse history is disabled")
		return
	}

	events, err := s.history.Attacks(r.Context(), queryLimit(r))
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch abuse events")
		writeError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to read history")
		return
	}

	if events == nil {
		events = []models.AbuseEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"count": len(events), "attacks": events})
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 1 {
		return storage.DefaultLimit
	}

	return n
}
