package game

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/sampinfo/internal/models"
	"github.com/woozymasta/sampinfo/internal/protocol"
	"github.com/woozymasta/sampinfo/internal/resolve"
)

// SAMPResult is the output of the SA-MP codec backends.
// Rules and Players are nil when the server did not answer those queries.
type SAMPResult struct {
	Rules   map[string]string
	Players []protocol.Player
	Info    protocol.Info
	Latency time.Duration
}

// Hostname implements Result.
func (r *SAMPResult) Hostname() string { return r.Info.Hostname }

// RoundTrip implements Result.
func (r *SAMPResult) RoundTrip() time.Duration { return r.Latency }

// SAMP queries a server with the raw SA-MP protocol.
type SAMP struct {
	transport *Transport
	resolver  resolve.Resolver
	infoOnly  bool
}

// NewSAMP returns the full backend: info, rules and players queried concurrently.
func NewSAMP(t *Transport, r resolve.Resolver) *SAMP {
	return &SAMP{transport: t, resolver: r}
}

// NewSAMPInfo returns the lighter backend that only sends the info query.
// It helps with servers whose query flood protection drops bursts of packets.
func NewSAMPInfo(t *Transport, r resolve.Resolver) *SAMP {
	return &SAMP{transport: t, resolver: r, infoOnly: true}
}

// Name implements Backend.
func (b *SAMP) Name() string {
	if b.infoOnly {
		return BackendSAMPInfo
	}

	return BackendSAMP
}

// Query implements Backend. A failed info query fails the whole query,
// failed rules or players queries only leave that data absent.
func (b *SAMP) Query(ctx context.Context, addr models.ServerAddress) (Result, error) {
	ip, err := b.resolver.LookupIPv4(ctx, addr.Host)
	if err != nil {
		return nil, err
	}
	server := netip.AddrPortFrom(ip, addr.Port)

	if b.infoOnly {
		info, latency, err := b.info(ctx, server)
		if err != nil {
			return nil, err
		}

		return &SAMPResult{Info: info, Latency: latency}, nil
	}

	var (
		wg       sync.WaitGroup
		res      SAMPResult
		infoErr  error
		rulesErr error
		plErr    error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		res.Info, res.Latency, infoErr = b.info(ctx, server)
	}()
	go func() {
		defer wg.Done()
		res.Rules, rulesErr = b.rules(ctx, server)
	}()
	go func() {
		defer wg.Done()
		res.Players, plErr = b.players(ctx, server)
	}()
	wg.Wait()

	if infoErr != nil {
		return nil, infoErr
	}

	if rulesErr != nil {
		res.Rules = nil
		log.Debug().Err(rulesErr).Str("server", addr.Key()).Msg("Rules query failed, continuing without rules")
	}
	if plErr != nil {
		res.Players = nil
		log.Debug().Err(plErr).Str("server", addr.Key()).Msg("Players query failed, continuing without player list")
	}

	return &res, nil
}

func (b *SAMP) info(ctx context.Context, server netip.AddrPort) (protocol.Info, time.Duration, error) {
	buf, latency, err := b.transport.RoundTrip(ctx, server, protocol.OpInfo)
	if err != nil {
		return protocol.Info{}, 0, err
	}

	info, err := protocol.DecodeInfo(buf)
	return info, latency, err
}

func (b *SAMP) rules(ctx context.Context, server netip.AddrPort) (map[string]string, error) {
	buf, _, err := b.transport.RoundTrip(ctx, server, protocol.OpRules)
	if err != nil {
		return nil, err
	}

	return protocol.DecodeRules(buf)
}

func (b *SAMP) players(ctx context.Context, server netip.AddrPort) ([]protocol.Player, error) {
	buf, _, err := b.transport.RoundTrip(ctx, server, protocol.OpPlayers)
	if err != nil {
		return nil, err
	}

	return protocol.DecodePlayers(buf)
}
