package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/sampinfo/internal/models"
)

// queryResponse is the body of GET /query.
type queryResponse struct {
	Info     *infoBlock        `json:"info,omitempty"`
	Players  *playersBlock     `json:"players,omitempty"`
	Security *securityBlock    `json:"security,omitempty"`
	Rules    map[string]string `json:"rules,omitempty"`
	Cache    *cacheBlock       `json:"cache,omitempty"`
	Error    *errorBlock       `json:"error,omitempty"`
	Server   serverBlock       `json:"server"`
	Status   statusBlock       `json:"status"`
	Meta     metaBlock         `json:"meta"`
	Success  bool              `json:"success"`
	Online   bool              `json:"online"`
}

type serverBlock struct {
	IP      string `json:"ip"`
	Address string `json:"address"`
	Port    uint16 `json:"port"`
}

type statusBlock struct {
	State     models.Status `json:"state"`
	Quality   string        `json:"quality"`
	LatencyMs uint32        `json:"latency_ms"`
}

type infoBlock struct {
	WebURL    *string `json:"weburl"`
	Discord   *string `json:"discord"`
	Hostname  string  `json:"hostname"`
	Gamemode  string  `json:"gamemode"`
	Mapname   string  `json:"mapname"`
	Language  string  `json:"language"`
	Version   string  `json:"version"`
	Weather   string  `json:"weather"`
	WorldTime string  `json:"worldtime"`
	Country   string  `json:"country,omitempty"`
}

type playersBlock struct {
	List       []models.Player `json:"list"`
	Percentage int             `json:"percentage"`
	Online     uint16          `json:"online"`
	Max        uint16          `json:"max"`
}

type securityBlock struct {
	Password bool `json:"password"`
	LagComp  bool `json:"lagcomp"`
}

type cacheBlock struct {
	TTLSeconds int  `json:"cache_ttl_seconds"`
	FromCache  bool `json:"from_cache"`
}

type metaBlock struct {
	QueriedAt      *time.Time `json:"queried_at,omitempty"`
	SourceBackend  string     `json:"source_backend,omitempty"`
	ResponseTimeMs int64      `json:"response_time_ms"`
	QuerySuccess   bool       `json:"query_success"`
}

type errorBlock struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// errorResponse is the body of every non-query failure.
type errorResponse struct {
	Error   errorBlock `json:"error"`
	Success bool       `json:"success"`
}

// rateLimitResponse is the body of an admission denial.
type rateLimitResponse struct {
	Error             string `json:"error"`
	Reason            string `json:"reason"`
	Pattern           string `json:"pattern,omitempty"`
	RetryAfter        string `json:"retry_after,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	Success           bool   `json:"success"`
	Blacklisted       bool   `json:"blacklisted,omitempty"`
}

func newServerBlock(addr models.ServerAddress) serverBlock {
	return serverBlock{IP: addr.Host, Port: addr.Port, Address: addr.String()}
}

// onlineResponse renders a record as the full query answer.
func onlineResponse(addr models.ServerAddress, rec models.ServerRecord, cached bool, ttl, elapsed time.Duration) queryResponse {
	latency := time.Duration(rec.LatencyMs) * time.Millisecond
	queriedAt := rec.QueriedAt

	resp := queryResponse{
		Success: true,
		Online:  rec.Online,
		Server:  newServerBlock(addr),
		Status: statusBlock{
			State:     models.InferStatus(&rec, latency),
			LatencyMs: rec.LatencyMs,
			Quality:   models.Quality(latency),
		},
		Cache: &cacheBlock{FromCache: cached, TTLSeconds: int(ttl / time.Second)},
		Meta: metaBlock{
			QueriedAt:      &queriedAt,
			SourceBackend:  rec.SourceBackend,
			ResponseTimeMs: elapsed.Milliseconds(),
			QuerySuccess:   rec.Online,
		},
	}

	if !rec.Online {
		resp.Error = &errorBlock{
			Code:    "SERVER_OFFLINE",
			Message: "Server is offline or not responding",
			Details: "cached offline answer",
		}
		return resp
	}

	resp.Info = &infoBlock{
		Hostname:  rec.Hostname,
		Gamemode:  rec.Gamemode,
		Mapname:   rec.Mapname,
		Language:  orUnknown(rec.Rule("language", "lang")),
		Version:   orUnknown(rec.Rule("version")),
		Weather:   orUnknown(rec.Rule("weather")),
		WorldTime: orUnknown(rec.Rule("worldtime")),
		WebURL:    optional(rec.Rule("weburl", "website")),
		Discord:   optional(rec.Rule("discord")),
		Country:   rec.Country,
	}

	resp.Players = &playersBlock{
		Online:     rec.PlayerCount,
		Max:        rec.MaxPlayers,
		Percentage: percentage(rec.PlayerCount, rec.MaxPlayers),
		List:       rec.Players,
	}

	resp.Security = &securityBlock{
		Password: rec.Passworded,
		LagComp:  strings.EqualFold(rec.Rule("lagcomp"), "on"),
	}

	resp.Rules = rec.Rules

	return resp
}

// offlineResponse renders a failed lookup, still answered with 200.
func offlineResponse(addr models.ServerAddress, code, message string, err error, elapsed time.Duration) queryResponse {
	return queryResponse{
		Server: newServerBlock(addr),
		Status: statusBlock{State: models.StatusOffline, Quality: models.Quality(0)},
		Error:  &errorBlock{Code: code, Message: message, Details: err.Error()},
		Meta:   metaBlock{ResponseTimeMs: elapsed.Milliseconds()},
	}
}

func percentage(online, maxPlayers uint16) int {
	if maxPlayers == 0 {
		return 0
	}

	return int(float64(online) * 100 / float64(maxPlayers))
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}

	return s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, code int, errCode, message string) {
	writeJSON(w, code, errorResponse{Error: errorBlock{Code: errCode, Message: message}})
}
