package game

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/woozymasta/a2s/pkg/a2s"
	"github.com/woozymasta/sampinfo/internal/models"
	"github.com/woozymasta/sampinfo/internal/protocol"
	"github.com/woozymasta/sampinfo/internal/resolve"
)

// A2SResult is the output of the Source query backend.
type A2SResult struct {
	Info    *a2s.Info
	Latency time.Duration
}

// Hostname implements Result.
func (r *A2SResult) Hostname() string {
	if r.Info == nil {
		return ""
	}

	return r.Info.Name
}

// RoundTrip implements Result.
func (r *A2SResult) RoundTrip() time.Duration { return r.Latency }

// A2S queries servers that answer the Source Engine query protocol (A2S_INFO).
type A2S struct {
	resolver   resolve.Resolver
	timeout    time.Duration
	bufferSize uint16
}

// NewA2S returns the library-backed Source query backend.
func NewA2S(r resolve.Resolver, timeout time.Duration, bufferSize int) *A2S {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if bufferSize <= 0 || bufferSize > 65535 {
		bufferSize = 1400
	}

	return &A2S{resolver: r, timeout: timeout, bufferSize: uint16(bufferSize)}
}

// Name implements Backend.
func (b *A2S) Name() string { return BackendA2S }

// Query implements Backend.
func (b *A2S) Query(ctx context.Context, addr models.ServerAddress) (Result, error) {
	ip, err := b.resolver.LookupIPv4(ctx, addr.Host)
	if err != nil {
		return nil, err
	}

	client, err := a2s.New(ip.String(), int(addr.Port))
	if err != nil {
		return nil, fmt.Errorf("%w: a2s %s: %v", ErrSocket, addr.Key(), err)
	}
	defer func() { _ = client.Close() }()

	client.BufferSize = b.bufferSize
	client.Timeout = b.timeout

	type answer struct {
		info *a2s.Info
		err  error
	}
	done := make(chan answer, 1)
	start := time.Now()

	go func() {
		info, err := client.GetInfo()
		done <- answer{info: info, err: err}
	}()

	select {
	case <-ctx.Done():
		// Closing the client unblocks GetInfo, its late answer goes to the buffered channel
		_ = client.Close()
		return nil, fmt.Errorf("a2s %s: %w", addr.Key(), ctx.Err())

	case ans := <-done:
		if ans.err != nil {
			return nil, classifyA2S(addr, ans.err)
		}

		return &A2SResult{Info: ans.info, Latency: time.Since(start)}, nil
	}
}

func classifyA2S(addr models.ServerAddress, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: a2s %s", ErrTimeout, addr.Key())
		}
		return fmt.Errorf("%w: a2s %s: %v", ErrSocket, addr.Key(), err)
	}

	return fmt.Errorf("%w: a2s %s: %v", protocol.ErrMalformedResponse, addr.Key(), err)
}
