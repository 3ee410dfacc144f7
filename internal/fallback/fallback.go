// Package fallback tries query backends in priority order until one answers.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/sampinfo/internal/game"
	"github.com/woozymasta/sampinfo/internal/models"
	"github.com/woozymasta/sampinfo/internal/resolve"
)

// DefaultBackoff is the pause between two backend attempts.
const DefaultBackoff = 500 * time.Millisecond

// ErrAllBackendsFailed reports that no backend produced a usable answer.
var ErrAllBackendsFailed = errors.New("all backends failed")

// errNoHostname marks an answer without a server name, which does not count as success.
var errNoHostname = errors.New("answer without hostname")

// Attempt records the outcome of one backend try.
type Attempt struct {
	Err      error
	Backend  string
	Duration time.Duration
}

// AllBackendsFailedError is returned when every backend failed.
// It matches ErrAllBackendsFailed and unwraps to the last backend error.
type AllBackendsFailedError struct {
	Last     error
	Attempts []Attempt
}

func (e *AllBackendsFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Backend, a.Err))
	}

	return fmt.Sprintf("%v (%s)", ErrAllBackendsFailed, strings.Join(parts, "; "))
}

// Unwrap exposes both the sentinel and the last cause to errors.Is/As.
func (e *AllBackendsFailedError) Unwrap() []error {
	return []error{ErrAllBackendsFailed, e.Last}
}

// Outcome is a successful cascade run.
type Outcome struct {
	Result   game.Result
	Backend  string
	Attempts []Attempt
}

// Options configure a Coordinator.
type Options struct {
	// Backoff between attempts, DefaultBackoff when zero, disabled when negative.
	Backoff time.Duration

	// OnAttempt is called after every backend try.
	OnAttempt func(a Attempt)
}

// Coordinator runs the fallback cascade. It keeps no memory between requests.
type Coordinator struct {
	wait     func(ctx context.Context, d time.Duration) error
	opts     Options
	backends []game.Backend
}

// New returns a coordinator trying backends in the given order.
func New(opts Options, backends ...game.Backend) *Coordinator {
	if opts.Backoff == 0 {
		opts.Backoff = DefaultBackoff
	}

	return &Coordinator{opts: opts, backends: backends, wait: sleep}
}

// Backends returns the backend names in priority order.
func (c *Coordinator) Backends() []string {
	names := make([]string, 0, len(c.backends))
	for _, b := range c.backends {
		names = append(names, b.Name())
	}

	return names
}

// Query tries every backend in order and returns the first answer with a non-empty hostname.
// Name resolution failures and cancellation end the cascade early and are returned as is.
func (c *Coordinator) Query(ctx context.Context, addr models.ServerAddress) (*Outcome, error) {
	attempts := make([]Attempt, 0, len(c.backends))
	var last error

	for i, backend := range c.backends {
		if i > 0 && c.opts.Backoff > 0 {
			if err := c.wait(ctx, c.opts.Backoff); err != nil {
				return nil, err
			}
		}

		start := time.Now()
		res, err := backend.Query(ctx, addr)
		if err == nil && (res == nil || res.Hostname() == "") {
			err = fmt.Errorf("%s: %w", backend.Name(), errNoHostname)
		}

		attempt := Attempt{Backend: backend.Name(), Err: err, Duration: time.Since(start)}
		attempts = append(attempts, attempt)
		if c.opts.OnAttempt != nil {
			c.opts.OnAttempt(attempt)
		}

		if err == nil {
			log.Debug().
				Str("server", addr.Key()).
				Str("backend", backend.Name()).
				Int("attempt", i+1).
				Msg("Backend answered")

			return &Outcome{Result: res, Backend: backend.Name(), Attempts: attempts}, nil
		}

		log.Debug().
			Err(err).
			Str("server", addr.Key()).
			Str("backend", backend.Name()).
			Msg("Backend failed")

		last = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, resolve.ErrDNSResolution) {
			return nil, err
		}
	}

	if last == nil {
		last = errors.New("no backends configured")
	}

	return nil, &AllBackendsFailedError{Last: last, Attempts: attempts}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
