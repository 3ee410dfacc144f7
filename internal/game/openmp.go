package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/woozymasta/sampinfo/internal/models"
	"github.com/woozymasta/sampinfo/internal/protocol"
	"github.com/woozymasta/sampinfo/internal/vars"
)

// HostnameAliases are the field names loosely-typed backends use for the server name.
var HostnameAliases = []string{"hostname", "hostName", "Hostname", "hn", "name", "Name", "server_name"}

// MapResult is the output of backends that return loosely-typed JSON documents.
type MapResult struct {
	Fields  map[string]any
	Latency time.Duration
}

// Hostname implements Result.
func (r *MapResult) Hostname() string {
	for _, key := range HostnameAliases {
		if s, ok := r.Fields[key].(string); ok && s != "" {
			return s
		}
	}

	return ""
}

// RoundTrip implements Result.
func (r *MapResult) RoundTrip() time.Duration { return r.Latency }

// OpenMP looks servers up in an open.mp style HTTP server list API.
// The URL template must contain "{address}", replaced by "host:port".
type OpenMP struct {
	client      *http.Client
	urlTemplate string
}

// NewOpenMP returns the HTTP server-list backend.
func NewOpenMP(client *http.Client, urlTemplate string, timeout time.Duration) *OpenMP {
	if client == nil {
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &OpenMP{client: client, urlTemplate: urlTemplate}
}

// Name implements Backend.
func (b *OpenMP) Name() string { return BackendOpenMP }

// Query implements Backend.
func (b *OpenMP) Query(ctx context.Context, addr models.ServerAddress) (Result, error) {
	url := strings.ReplaceAll(b.urlTemplate, "{address}", addr.Key())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSocket, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", vars.UserAgent())

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, url)
		}
		return nil, fmt.Errorf("%w: %v", ErrSocket, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrSocket, url, resp.StatusCode)
	}

	var doc map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", protocol.ErrMalformedResponse, url, err)
	}

	return &MapResult{Fields: flatten(doc), Latency: time.Since(start)}, nil
}

// flatten lifts the fields of a nested "core" object to the top level and
// exposes a nested "ru" object as "rules", the layout of the open.mp API.
func flatten(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}

	if core, ok := doc["core"].(map[string]any); ok {
		for k, v := range core {
			if _, exists := out[k]; !exists {
				out[k] = v
			}
		}
	}

	if ru, ok := doc["ru"].(map[string]any); ok {
		if _, exists := out["rules"]; !exists {
			out["rules"] = ru
		}
	}

	return out
}
