// Package maintenance runs housekeeping jobs: cache warmup at startup and
// periodic pruning of the lookup history.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/sampinfo/internal/engine"
	"github.com/woozymasta/sampinfo/internal/models"
)

// DefaultWorkers is the warmup pool size.
const DefaultWorkers = 10

// Looker performs a server lookup, usually *engine.Engine.
type Looker interface {
	Lookup(ctx context.Context, addr models.ServerAddress) (*engine.Result, error)
}

// Pruner deletes history older than a point in time, usually *storage.Repository.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// WarmupReport summarizes a warmup run.
type WarmupReport struct {
	Failed    []string      `json:"failed"`
	Servers   int           `json:"servers"`
	Succeeded int           `json:"succeeded"`
	Duration  time.Duration `json:"duration"`
}

// Warmup looks up every address with a bounded worker pool so the cache is
// populated before clients arrive.
func Warmup(ctx context.Context, looker Looker, addrs []models.ServerAddress, workers int) WarmupReport {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	start := time.Now()
	report := WarmupReport{Servers: len(addrs), Failed: make([]string, 0)}
	if len(addrs) == 0 {
		return report
	}

	log.Info().Int("servers", len(addrs)).Int("workers", workers).Msg("Warming up cache")

	jobs := make(chan models.ServerAddress, len(addrs))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for addr := range jobs {
				_, err := looker.Lookup(ctx, addr)

				mu.Lock()
				if err != nil {
					report.Failed = append(report.Failed, addr.Key())
					log.Debug().Err(err).Str("server", addr.Key()).Msg("Warmup lookup failed")
				} else {
					report.Succeeded++
				}
				mu.Unlock()
			}
		}()
	}

	for _, addr := range addrs {
		jobs <- addr
	}
	close(jobs)

	wg.Wait()
	report.Duration = time.Since(start)

	log.Info().
		Int("succeeded", report.Succeeded).
		Int("failed", len(report.Failed)).
		Dur("duration", report.Duration).
		Msg("Cache warmup completed")

	return report
}

// ParseServers turns "host:port" strings into addresses, skipping invalid ones.
func ParseServers(list []string) []models.ServerAddress {
	addrs := make([]models.ServerAddress, 0, len(list))
	for _, item := range list {
		host, port := splitHostPort(item)
		addr, err := models.ParseAddressString(host, port)
		if err != nil {
			log.Warn().Err(err).Str("server", item).Msg("Skipping invalid warmup server")
			continue
		}
		addrs = append(addrs, addr)
	}

	return addrs
}

// splitHostPort splits at the last colon, the port defaults to 7777.
func splitHostPort(s string) (string, string) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return s[:i], s[i+1:]
		}
	}

	return s, "7777"
}

// PruneHistory deletes history older than retention every interval until ctx is done.
func PruneHistory(ctx context.Context, p Pruner, retention, interval time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				log.Error().Err(err).Msg("Failed to prune history")
				continue
			}
			if n > 0 {
				log.Debug().Int64("removed", n).Msg("History pruned")
			}
		}
	}
}
