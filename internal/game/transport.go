// Package game implements the query backends used to reach game servers:
// the raw SA-MP codec over UDP, the Source (A2S) library and an optional
// HTTP server-list API.
package game

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/woozymasta/sampinfo/internal/protocol"
)

// Transport level failures. Both make the fallback coordinator try the next backend.
var (
	ErrTimeout = errors.New("query timeout")
	ErrSocket  = errors.New("socket error")
)

// DefaultTimeout bounds the wait for a single UDP response.
const DefaultTimeout = 3 * time.Second

// Transport performs one SA-MP request/response exchange per call.
type Transport struct {
	// Timeout bounds the wait for the response, DefaultTimeout when zero.
	Timeout time.Duration

	// BufferSize is the receive buffer, responses beyond it are cut.
	BufferSize int
}

// RoundTrip opens a socket, sends the encoded request for op, waits for exactly
// one response or the timeout and closes the socket on every path.
// It returns the raw response and the measured round trip time.
func (t *Transport) RoundTrip(ctx context.Context, server netip.AddrPort, op protocol.Opcode) ([]byte, time.Duration, error) {
	req, err := protocol.EncodeRequest(server.Addr(), server.Port(), op)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrSocket, err)
	}

	conn, err := net.DialUDP("udp4", nil, net.UDPAddrFromAddrPort(server))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: dial %s: %v", ErrSocket, server, err)
	}
	defer func() { _ = conn.Close() }()

	// Cancellation unblocks the read, anything arriving later is dropped with the socket
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrSocket, err)
	}

	start := time.Now()
	if _, err := conn.Write(req); err != nil {
		return nil, 0, classify(ctx, server, op, err)
	}

	size := t.BufferSize
	if size <= 0 {
		size = 4096
	}
	buf := make([]byte, size)

	n, err := conn.Read(buf)
	if err != nil {
		return nil, 0, classify(ctx, server, op, err)
	}

	return buf[:n], time.Since(start), nil
}

// classify maps a socket error to the backend error taxonomy.
func classify(ctx context.Context, server netip.AddrPort, op protocol.Opcode, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s %s: %w", op, server, context.Canceled)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s %s", ErrTimeout, op, server)
	}

	return fmt.Errorf("%w: %s %s: %v", ErrSocket, op, server, err)
}
