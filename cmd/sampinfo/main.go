// main is the entry point of the sampinfo application.
// It initializes the configuration, logger, history database, GeoIP provider, query engine, and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/sampinfo/internal/cache"
	"github.com/woozymasta/sampinfo/internal/config"
	"github.com/woozymasta/sampinfo/internal/engine"
	"github.com/woozymasta/sampinfo/internal/fallback"
	"github.com/woozymasta/sampinfo/internal/game"
	"github.com/woozymasta/sampinfo/internal/geoip"
	"github.com/woozymasta/sampinfo/internal/logger"
	"github.com/woozymasta/sampinfo/internal/maintenance"
	"github.com/woozymasta/sampinfo/internal/metrics"
	"github.com/woozymasta/sampinfo/internal/ratelimit"
	"github.com/woozymasta/sampinfo/internal/resolve"
	"github.com/woozymasta/sampinfo/internal/server"
	"github.com/woozymasta/sampinfo/internal/storage"
	"github.com/woozymasta/sampinfo/internal/vars"
)

func main() {
	cfg := config.Parse()

	logCloser := logger.Setup(cfg.Logger)
	defer func() { _ = logCloser.Close() }()

	log.Info().Str("version", vars.Version).Msg("Starting sampinfo service...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: time.Minute}

	// GeoIP
	var geo engine.Geo
	if cfg.GeoIP.Path != "" {
		log.Info().Msg("Checking GeoIP database...")
		if err := geoip.EnsureDB(ctx, httpClient, cfg.GeoIP.Path, cfg.GeoIP.URL, cfg.GeoIP.Interval); err != nil {
			log.Error().Err(err).Msg("Failed to download GeoIP database")
		}

		geoProvider, err := geoip.Open(cfg.GeoIP.Path)
		if err != nil {
			log.Error().Err(err).Msg("Failed to open GeoIP database, country detection disabled")
		} else {
			geo = geoProvider
			defer func() {
				if err := geoProvider.Close(); err != nil {
					log.Error().Err(err).Msg("Error closing GeoIP provider")
				}
			}()
		}
	}

	// History
	var (
		store    *storage.Repository
		recorder *storage.Recorder
		history  engine.History
	)
	if !cfg.Storage.Disabled {
		var err error
		store, err = storage.New(ctx, cfg.Storage.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		recorder = storage.NewRecorder(store, cfg.Storage.QueueSize)
		history = recorder

		go maintenance.PruneHistory(ctx, store, cfg.Storage.Retention, time.Hour)
	}

	// Query engine
	var resolver resolve.Resolver = resolve.NewSystem()
	if cfg.Query.DNSServer != "" {
		resolver = resolve.NewDNS(cfg.Query.DNSServer, cfg.Query.Timeout)
	}

	backends, err := game.NewBackends(cfg.Query.Backends, game.Options{
		Resolver:   resolver,
		HTTPClient: httpClient,
		OpenMPURL:  cfg.Query.OpenMPURL,
		Timeout:    cfg.Query.Timeout,
		BufferSize: cfg.Query.BufferSize,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure query backends")
	}

	var m *metrics.Metrics
	if !cfg.Server.NoMetrics {
		m = metrics.New()
	}

	// Worst case cascade: every backend times out, plus the backoffs and egress slack
	n := time.Duration(len(backends))
	fetchTimeout := n*cfg.Query.Timeout + (n-1)*max(cfg.Query.Backoff, 0) + time.Second

	eng := engine.New(backends, engine.Options{
		Resolver: resolver,
		Geo:      geo,
		History:  history,
		Metrics:  m,
		Cache: cache.Options{
			DefaultTTL:      cfg.Cache.TTL,
			CleanupInterval: cfg.Cache.CleanupInterval,
			MaxEntries:      cfg.Cache.MaxEntries,
		},
		RateLimit: ratelimit.Options{
			Window:          cfg.RateLimit.Window,
			MaxRequests:     cfg.RateLimit.MaxRequests,
			BlockDuration:   cfg.RateLimit.BlockDuration,
			AbuseThreshold:  cfg.RateLimit.AbuseThreshold,
			BlacklistAfter:  cfg.RateLimit.BlacklistAfter,
			BlockMemory:     cfg.RateLimit.BlockMemory,
			CleanupInterval: cfg.RateLimit.CleanupInterval,
			Queue: ratelimit.QueueOptions{
				Enabled: cfg.RateLimit.Queue,
				MaxSize: cfg.RateLimit.QueueSize,
				Timeout: cfg.RateLimit.QueueTimeout,
			},
		},
		Fallback:      fallback.Options{Backoff: cfg.Query.Backoff},
		EgressRate:    cfg.Query.EgressRate,
		EgressBurst:   cfg.Query.EgressBurst,
		FetchTimeout:  fetchTimeout,
		NegativeCache: cfg.Cache.Negative,
	})
	eng.Start()

	for _, id := range cfg.RateLimit.Whitelist {
		if id = strings.TrimSpace(id); id != "" {
			eng.Whitelist().Add(id)
		}
	}

	log.Info().
		Strs("backends", eng.Backends()).
		Bool("queue", cfg.RateLimit.Queue).
		Bool("history", store != nil).
		Bool("geoip", geo != nil).
		Msg("Query engine ready")

	if servers := maintenance.ParseServers(cfg.Cache.Warmup); len(servers) > 0 {
		go func() {
			report := maintenance.Warmup(ctx, eng, servers, maintenance.DefaultWorkers)
			log.Info().
				Int("servers", report.Servers).
				Int("succeeded", report.Succeeded).
				Strs("failed", report.Failed).
				Dur("duration", report.Duration).
				Msg("Cache warmup finished")
		}()
	}

	// Init server
	opts := server.Options{
		Metrics:    m,
		AuthToken:  cfg.Server.AuthToken,
		TrustProxy: cfg.Server.TrustProxy,
	}
	if store != nil {
		opts.History = store
	}
	if cfg.Server.AuthToken == "" {
		log.Warn().Msg("Admin API disabled, no auth token configured")
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      server.New(eng, opts).Run(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful Shutdown
	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	eng.Stop()

	// Drain history writes before closing the database
	if recorder != nil {
		recorder.Close()
	}
	if store != nil {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database")
		}
	}

	log.Info().Msg("Server exited")
}
