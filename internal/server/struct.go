package server

import (
	"context"
	"time"

	"github.com/woozymasta/sampinfo/internal/engine"
	"github.com/woozymasta/sampinfo/internal/metrics"
	"github.com/woozymasta/sampinfo/internal/models"
	"github.com/woozymasta/sampinfo/internal/storage"
)

// HistoryStore reads the lookup and abuse history, usually *storage.Repository.
type HistoryStore interface {
	Lookups(ctx context.Context, f storage.LookupFilter) ([]models.LookupEvent, error)
	Attacks(ctx context.Context, n int) ([]models.AbuseEvent, error)
	Summarize(ctx context.Context, since time.Time) (storage.Summary, error)
}

// Options configure a Server.
type Options struct {
	// History is optional, history endpoints answer 404 without it.
	History HistoryStore

	// Metrics is optional, /metrics is not routed without it.
	Metrics *metrics.Metrics

	// AuthToken protects the admin API, which is not routed when empty.
	AuthToken string

	// TrustProxy takes the client address from CF-Connecting-IP or X-Forwarded-For.
	TrustProxy bool
}

// Server holds the dependencies and configuration required to handle HTTP requests.
type Server struct {
	// startedAt is reported as uptime by /health.
	startedAt time.Time

	// engine answers lookups and admission checks.
	engine *engine.Engine

	// history serves /api/history and /api/attacks, nil when disabled.
	history HistoryStore

	// metrics counts requests and serves /metrics, nil when disabled.
	metrics *metrics.Metrics

	// tokenHash is the xxhash of the admin token, compared instead of the raw secret.
	tokenHash uint64

	// admin reports whether an admin token is configured.
	admin bool

	// trustProxy indicates whether the server should trust headers like X-Forwarded-For
	// or CF-Connecting-IP when determining the client's real IP address.
	trustProxy bool
}
