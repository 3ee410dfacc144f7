package fallback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/woozymasta/sampinfo/internal/game"
	"github.com/woozymasta/sampinfo/internal/models"
	"github.com/woozymasta/sampinfo/internal/protocol"
	"github.com/woozymasta/sampinfo/internal/resolve"
)

type stubBackend struct {
	err   error
	res   game.Result
	name  string
	calls int
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Query(context.Context, models.ServerAddress) (game.Result, error) {
	s.calls++
	return s.res, s.err
}

func sampResult(hostname string) game.Result {
	return &game.SAMPResult{Info: protocol.Info{Hostname: hostname}}
}

var addr = models.ServerAddress{Host: "192.168.1.1", Port: 7777}

// countingCoordinator replaces the backoff sleep with a counter.
func countingCoordinator(backends ...game.Backend) (*Coordinator, *int) {
	c := New(Options{}, backends...)
	waits := new(int)
	c.wait = func(_ context.Context, d time.Duration) error {
		*waits++
		if d != DefaultBackoff {
			return errors.New("unexpected backoff")
		}
		return nil
	}
	return c, waits
}

func TestFirstSuccessStops(t *testing.T) {
	first := &stubBackend{name: "first", res: sampResult("one")}
	second := &stubBackend{name: "second", res: sampResult("two")}
	c, waits := countingCoordinator(first, second)

	out, err := c.Query(context.Background(), addr)
	require.NoError(t, err)
	require.Equal(t, "first", out.Backend)
	require.Equal(t, 0, second.calls)
	require.Equal(t, 0, *waits)
}

func TestFallsThroughTimeouts(t *testing.T) {
	a := &stubBackend{name: "a", err: game.ErrTimeout}
	b := &stubBackend{name: "b", err: game.ErrTimeout}
	cc := &stubBackend{name: "c", res: sampResult("third")}
	c, waits := countingCoordinator(a, b, cc)

	out, err := c.Query(context.Background(), addr)
	require.NoError(t, err)
	require.Equal(t, "c", out.Backend)
	require.Equal(t, "third", out.Result.Hostname())
	require.Len(t, out.Attempts, 3)
	require.LessOrEqual(t, *waits, 2)
}

func TestEmptyHostnameIsFailure(t *testing.T) {
	a := &stubBackend{name: "a", res: sampResult("")}
	b := &stubBackend{name: "b", res: sampResult("named")}
	c, _ := countingCoordinator(a, b)

	out, err := c.Query(context.Background(), addr)
	require.NoError(t, err)
	require.Equal(t, "b", out.Backend)
	require.Error(t, out.Attempts[0].Err)
}

func TestAllBackendsFailed(t *testing.T) {
	a := &stubBackend{name: "a", err: game.ErrTimeout}
	b := &stubBackend{name: "b", err: protocol.ErrMalformedResponse}
	c, waits := countingCoordinator(a, b)

	var seen []string
	c.opts.OnAttempt = func(at Attempt) { seen = append(seen, at.Backend) }

	_, err := c.Query(context.Background(), addr)
	require.ErrorIs(t, err, ErrAllBackendsFailed)
	require.ErrorIs(t, err, protocol.ErrMalformedResponse)
	require.NotErrorIs(t, err, game.ErrTimeout)

	var failed *AllBackendsFailedError
	require.ErrorAs(t, err, &failed)
	require.Len(t, failed.Attempts, 2)
	require.Equal(t, 1, *waits)
	require.Equal(t, []string{"a", "b"}, seen)
}

func TestDNSFailureStops(t *testing.T) {
	a := &stubBackend{name: "a", err: resolve.ErrDNSResolution}
	b := &stubBackend{name: "b", res: sampResult("never")}
	c, _ := countingCoordinator(a, b)

	_, err := c.Query(context.Background(), addr)
	require.ErrorIs(t, err, resolve.ErrDNSResolution)
	require.NotErrorIs(t, err, ErrAllBackendsFailed)
	require.Equal(t, 0, b.calls)
}

func TestBackoffHonoursContext(t *testing.T) {
	a := &stubBackend{name: "a", err: game.ErrTimeout}
	b := &stubBackend{name: "b", res: sampResult("late")}
	c := New(Options{Backoff: time.Hour}, a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Query(ctx, addr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 0, b.calls)
}

func TestRealBackoffDelay(t *testing.T) {
	a := &stubBackend{name: "a", err: game.ErrTimeout}
	b := &stubBackend{name: "b", res: sampResult("ok")}
	c := New(Options{Backoff: 30 * time.Millisecond}, a, b)

	start := time.Now()
	_, err := c.Query(context.Background(), addr)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	require.Equal(t, []string{"a", "b"}, c.Backends())
}
