package game

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/woozymasta/sampinfo/internal/models"
	"github.com/woozymasta/sampinfo/internal/resolve"
)

// Result is the native output of a backend. Concrete types are
// *SAMPResult, *A2SResult and *MapResult.
type Result interface {
	// Hostname is the raw server name as reported, empty when missing.
	Hostname() string

	// RoundTrip is the latency measured by the backend.
	RoundTrip() time.Duration
}

// Backend is one query strategy tried by the fallback coordinator.
type Backend interface {
	Name() string
	Query(ctx context.Context, addr models.ServerAddress) (Result, error)
}

// Backend names accepted by NewBackends.
const (
	BackendSAMP     = "samp"
	BackendSAMPInfo = "samp-info"
	BackendA2S      = "a2s"
	BackendOpenMP   = "openmp-api"
)

// Options configure the backends built by NewBackends.
type Options struct {
	Resolver   resolve.Resolver
	HTTPClient *http.Client
	OpenMPURL  string
	Timeout    time.Duration
	BufferSize int
}

// NewBackends builds backends in the given order.
func NewBackends(names []string, opts Options) ([]Backend, error) {
	if opts.Resolver == nil {
		opts.Resolver = resolve.NewSystem()
	}
	transport := &Transport{Timeout: opts.Timeout, BufferSize: opts.BufferSize}

	backends := make([]Backend, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case BackendSAMP:
			backends = append(backends, NewSAMP(transport, opts.Resolver))
		case BackendSAMPInfo:
			backends = append(backends, NewSAMPInfo(transport, opts.Resolver))
		case BackendA2S:
			backends = append(backends, NewA2S(opts.Resolver, opts.Timeout, opts.BufferSize))
		case BackendOpenMP:
			if opts.OpenMPURL == "" {
				return nil, fmt.Errorf("backend %s requires an API URL", BackendOpenMP)
			}
			backends = append(backends, NewOpenMP(opts.HTTPClient, opts.OpenMPURL, opts.Timeout))
		case "":
		default:
			return nil, fmt.Errorf("unknown query backend %q", name)
		}
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no query backends configured")
	}

	return backends, nil
}
