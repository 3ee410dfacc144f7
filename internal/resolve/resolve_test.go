package resolve

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func startDNS(t *testing.T, records map[string]string) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(r)
			name := r.Question[0].Name
			if ip, ok := records[name]; ok {
				m.Answer = append(m.Answer, &dns.A{
					Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
					A:   net.ParseIP(ip),
				})
			} else {
				m.Rcode = dns.RcodeNameError
			}
			_ = w.WriteMsg(m)
		}),
	}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestLiteralSkipsLookup(t *testing.T) {
	for _, r := range []Resolver{NewSystem(), NewDNS("127.0.0.1:1", time.Second)} {
		addr, err := r.LookupIPv4(context.Background(), "10.1.2.3")
		require.NoError(t, err)
		require.Equal(t, "10.1.2.3", addr.String())
	}
}

func TestDNSResolver(t *testing.T) {
	server := startDNS(t, map[string]string{"samp.example.org.": "203.0.113.7"})
	r := NewDNS(server, time.Second)

	addr, err := r.LookupIPv4(context.Background(), "samp.example.org")
	require.NoError(t, err)
	require.Equal(t, "203.0.113.7", addr.String())

	_, err = r.LookupIPv4(context.Background(), "missing.example.org")
	require.ErrorIs(t, err, ErrDNSResolution)
}

func TestDNSResolverUnreachable(t *testing.T) {
	// Nothing listens on the discard port
	r := NewDNS("127.0.0.1:9", 200*time.Millisecond)

	_, err := r.LookupIPv4(context.Background(), "samp.example.org")
	require.ErrorIs(t, err, ErrDNSResolution)
}
