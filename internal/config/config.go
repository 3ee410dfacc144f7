// Package config handles the parsing and validation of application configuration
// from command-line arguments and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/woozymasta/sampinfo/internal/logger"
	"github.com/woozymasta/sampinfo/internal/vars"
)

// Config represents the complete application flags configuration.
type Config struct {
	// betteralign:ignore

	Server    Server        `group:"Server Options" env-namespace:"SAMPINFO"`
	Query     Query         `group:"Query Options" namespace:"query" env-namespace:"SAMPINFO_QUERY"`
	Cache     Cache         `group:"Cache Options" namespace:"cache" env-namespace:"SAMPINFO_CACHE"`
	RateLimit RateLimit     `group:"Rate Limit Options" namespace:"rate-limit" env-namespace:"SAMPINFO_RATE_LIMIT"`
	GeoIP     GeoIP         `group:"GeoIP Options" namespace:"geoip" env-namespace:"SAMPINFO_GEOIP"`
	Storage   Storage       `group:"Storage Options" namespace:"db" env-namespace:"SAMPINFO_DB"`
	Logger    logger.Config `group:"Logger Options" namespace:"log" env-namespace:"SAMPINFO_LOG"`

	Version bool `short:"v" long:"version" description:"Print version and build info"`
}

// Server holds web server configuration.
type Server struct {
	// betteralign:ignore

	Address      string        `short:"l" long:"address" env:"LISTEN_ADDRESS" description:"Server listen address" default:":8080"`
	AuthToken    string        `short:"t" long:"auth-token" env:"AUTH_TOKEN" description:"Admin authentication token, admin API is disabled when empty"`
	TrustProxy   bool          `long:"trust-proxy" env:"TRUST_PROXY" description:"Trust CF-Connecting-IP and X-Forwarded-For headers"`
	WriteTimeout time.Duration `long:"write-timeout" env:"WRITE_TIMEOUT" description:"HTTP write timeout, must exceed the queue timeout" default:"45s"`
	NoMetrics    bool          `long:"no-metrics" env:"NO_METRICS" description:"Disable the /metrics endpoint"`
}

// Query holds game server query configuration.
type Query struct {
	// betteralign:ignore

	Timeout     time.Duration `long:"timeout" env:"TIMEOUT" description:"Per backend query timeout" default:"3s"`
	Backoff     time.Duration `long:"backoff" env:"BACKOFF" description:"Pause between fallback backends" default:"500ms"`
	Backends    []string      `long:"backend" env:"BACKENDS" env-delim:"," description:"Query backends in fallback order (samp, samp-info, a2s, openmp-api)" default:"samp" default:"samp-info" default:"a2s"`
	BufferSize  int           `long:"buffer-size" env:"BUFFER_SIZE" description:"UDP response buffer size" default:"4096"`
	DNSServer   string        `long:"dns-server" env:"DNS_SERVER" description:"DNS server (host:port) for hostname resolution, system resolver when empty"`
	OpenMPURL   string        `long:"openmp-url" env:"OPENMP_URL" description:"open.mp API URL template, {address} is replaced with host:port"`
	EgressRate  float64       `long:"egress-rate" env:"EGRESS_RATE" description:"Outbound query cascades per second" default:"50"`
	EgressBurst int           `long:"egress-burst" env:"EGRESS_BURST" description:"Outbound query burst size" default:"100"`
}

// Cache holds server record cache configuration.
type Cache struct {
	// betteralign:ignore

	TTL             time.Duration `long:"ttl" env:"TTL" description:"Default record lifetime" default:"10s"`
	MaxEntries      int           `long:"max-entries" env:"MAX_ENTRIES" description:"Maximum cached servers" default:"1000"`
	CleanupInterval time.Duration `long:"cleanup-interval" env:"CLEANUP_INTERVAL" description:"Expired entry sweep interval" default:"1m"`
	Negative        bool          `long:"negative" env:"NEGATIVE" description:"Cache offline answers when every backend failed"`
	Warmup          []string      `long:"warmup" env:"WARMUP" env-delim:"," description:"Servers (host:port) queried at startup"`
}

// RateLimit holds per-client rate limiting configuration.
type RateLimit struct {
	// betteralign:ignore

	Window          time.Duration `long:"window" env:"WINDOW" description:"Sliding window length" default:"60s"`
	MaxRequests     int           `long:"max-requests" env:"MAX_REQUESTS" description:"Requests allowed per window" default:"5"`
	BlockDuration   time.Duration `long:"block-duration" env:"BLOCK_DURATION" description:"Temporary block length" default:"300s"`
	AbuseThreshold  int           `long:"abuse-threshold" env:"ABUSE_THRESHOLD" description:"Requests per window that trigger a block" default:"20"`
	BlacklistAfter  int           `long:"blacklist-after" env:"BLACKLIST_AFTER" description:"Blocks that promote a client to the blacklist" default:"3"`
	BlockMemory     time.Duration `long:"block-memory" env:"BLOCK_MEMORY" description:"How long past blocks count toward blacklisting" default:"24h"`
	CleanupInterval time.Duration `long:"cleanup-interval" env:"CLEANUP_INTERVAL" description:"Idle client sweep interval" default:"60s"`
	Queue           bool          `long:"queue" env:"QUEUE" description:"Queue rate limited requests instead of rejecting them"`
	QueueSize       int           `long:"queue-size" env:"QUEUE_SIZE" description:"Maximum queued requests per client" default:"100"`
	QueueTimeout    time.Duration `long:"queue-timeout" env:"QUEUE_TIMEOUT" description:"Maximum time a request waits in the queue" default:"30s"`
	Whitelist       []string      `long:"whitelist" env:"WHITELIST" env-delim:"," description:"Client identifiers that bypass rate limiting"`
}

// GeoIP holds MaxMind GeoIP configuration.
type GeoIP struct {
	// betteralign:ignore

	Path     string        `short:"g" long:"path" env:"PATH" description:"Path to MMDB file, country enrichment is disabled when empty"`
	URL      string        `long:"url" env:"URL" description:"URL to download MMDB" default:"https://git.io/GeoLite2-Country.mmdb"`
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Update interval check" default:"24h"`
}

// Storage holds lookup history configuration.
type Storage struct {
	// betteralign:ignore

	Path      string        `short:"d" long:"path" env:"PATH" description:"SQLite database for history" default:":memory:"`
	Retention time.Duration `long:"retention" env:"RETENTION" description:"History retention" default:"24h"`
	QueueSize int           `long:"queue-size" env:"QUEUE_SIZE" description:"History write queue size" default:"1000"`
	Disabled  bool          `long:"disable" env:"DISABLE" description:"Disable lookup and abuse history"`
}

// Validate checks values flags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.RateLimit.MaxRequests < 1 {
		errs = append(errs, errors.New("rate-limit-max-requests must be positive"))
	}
	if c.RateLimit.AbuseThreshold <= c.RateLimit.MaxRequests {
		errs = append(errs, errors.New("rate-limit-abuse-threshold must exceed rate-limit-max-requests"))
	}
	if c.Cache.MaxEntries < 1 {
		errs = append(errs, errors.New("cache-max-entries must be positive"))
	}
	if c.Query.Timeout <= 0 {
		errs = append(errs, errors.New("query-timeout must be positive"))
	}
	if len(c.Query.Backends) == 0 {
		errs = append(errs, errors.New("at least one query-backend is required"))
	}
	for _, b := range c.Query.Backends {
		if strings.EqualFold(strings.TrimSpace(b), "openmp-api") && c.Query.OpenMPURL == "" {
			errs = append(errs, errors.New("query-openmp-url is required for the openmp-api backend"))
		}
	}

	return errors.Join(errs...)
}

// Load parses args and the environment into a Config without validating it.
func Load(args []string, options flags.Options) (*Config, error) {
	var cfg Config
	parser := flags.NewParser(&cfg, options)
	parser.NamespaceDelimiter = "-"

	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Parse reads the configuration from flags and environment variables.
// It terminates the application if the configuration is invalid or if the help flag is invoked.
func Parse() *Config {
	cfg, err := Load(os.Args[1:], flags.Default)
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if cfg.Version {
		vars.Print()
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	return cfg
}
