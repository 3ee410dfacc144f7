// Package resolve turns server hostnames into IPv4 addresses.
// Results are never cached here; every query attempt resolves again.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog/log"
)

// ErrDNSResolution is returned when a hostname has no usable IPv4 address.
var ErrDNSResolution = errors.New("dns resolution failed")

// Resolver looks up the IPv4 address of a host.
type Resolver interface {
	LookupIPv4(ctx context.Context, host string) (netip.Addr, error)
}

// literal returns the address when host is already an IPv4 literal.
func literal(host string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(host)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, false
	}

	return addr, true
}

// System resolves through the operating system resolver.
type System struct {
	resolver *net.Resolver
}

// NewSystem returns a resolver backed by net.DefaultResolver.
func NewSystem() *System {
	return &System{resolver: net.DefaultResolver}
}

// LookupIPv4 implements Resolver.
func (s *System) LookupIPv4(ctx context.Context, host string) (netip.Addr, error) {
	if addr, ok := literal(host); ok {
		return addr, nil
	}

	addrs, err := s.resolver.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %s: %v", ErrDNSResolution, host, err)
	}

	for _, addr := range addrs {
		if addr = addr.Unmap(); addr.Is4() {
			return addr, nil
		}
	}

	return netip.Addr{}, fmt.Errorf("%w: %s has no IPv4 address", ErrDNSResolution, host)
}

// DNS queries a fixed DNS server for A records, bypassing the system resolver.
type DNS struct {
	client *dns.Client
	server string
}

// NewDNS returns a resolver that sends A queries to server ("host:port" or host).
func NewDNS(server string, timeout time.Duration) *DNS {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}

	return &DNS{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// LookupIPv4 implements Resolver.
func (d *DNS) LookupIPv4(ctx context.Context, host string) (netip.Addr, error) {
	if addr, ok := literal(host); ok {
		return addr, nil
	}

	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(host), dns.TypeA)
	q.RecursionDesired = true

	resp, _, err := d.client.ExchangeContext(ctx, q, d.server)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %s via %s: %v", ErrDNSResolution, host, d.server, err)
	}

	if resp.Rcode != dns.RcodeSuccess {
		return netip.Addr{}, fmt.Errorf("%w: %s: %s", ErrDNSResolution, host, dns.RcodeToString[resp.Rcode])
	}

	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			if addr, ok := netip.AddrFromSlice(a.A.To4()); ok {
				log.Trace().
					Str("host", host).
					Str("addr", addr.String()).
					Str("server", d.server).
					Msg("Resolved hostname")

				return addr, nil
			}
		}
	}

	return netip.Addr{}, fmt.Errorf("%w: %s has no A record", ErrDNSResolution, host)
}
