// Package fake provides an in-process SA-MP query server for tests and local development.
package fake

import (
	"encoding/binary"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/sampinfo/internal/protocol"
)

// State is the server state the fake answers with.
type State struct {
	Rules   map[string]string
	Players []protocol.Player
	Info    protocol.Info
}

// Server answers SA-MP queries on a local UDP socket.
type Server struct {
	conn  *net.UDPConn
	state State
	drop  map[protocol.Opcode]bool
	cut   map[protocol.Opcode]int
	hits  map[protocol.Opcode]*atomic.Int64
	wg    sync.WaitGroup
	delay time.Duration
	mu    sync.RWMutex
}

// Start listens on addr ("127.0.0.1:0" picks a free port) and serves until Close.
func Start(addr string, state State) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		conn:  conn,
		state: state,
		drop:  make(map[protocol.Opcode]bool),
		cut:   make(map[protocol.Opcode]int),
		hits: map[protocol.Opcode]*atomic.Int64{
			protocol.OpInfo:    new(atomic.Int64),
			protocol.OpRules:   new(atomic.Int64),
			protocol.OpPlayers: new(atomic.Int64),
		},
	}

	s.wg.Add(1)
	go s.serve()

	return s, nil
}

// AddrPort returns the address the server listens on.
func (s *Server) AddrPort() netip.AddrPort {
	return s.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Close stops the server.
func (s *Server) Close() error {
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

// SetState replaces the state returned by subsequent queries.
func (s *Server) SetState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Drop makes the server ignore queries for op.
func (s *Server) Drop(op protocol.Opcode, drop bool) {
	s.mu.Lock()
	s.drop[op] = drop
	s.mu.Unlock()
}

// Truncate cuts responses for op to n bytes, zero disables.
func (s *Server) Truncate(op protocol.Opcode, n int) {
	s.mu.Lock()
	s.cut[op] = n
	s.mu.Unlock()
}

// SetDelay delays every response.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// Hits returns how many queries for op were received.
func (s *Server) Hits(op protocol.Opcode) int64 {
	if c, ok := s.hits[op]; ok {
		return c.Load()
	}
	return 0
}

func (s *Server) serve() {
	defer s.wg.Done()

	buf := make([]byte, 512)
	for {
		n, from, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			return
		}

		if n < protocol.HeaderSize || string(buf[:4]) != protocol.Magic {
			log.Trace().Str("from", from.String()).Msg("Fake server ignored foreign packet")
			continue
		}

		req := make([]byte, protocol.HeaderSize)
		copy(req, buf[:protocol.HeaderSize])
		go s.respond(req, from)
	}
}

func (s *Server) respond(req []byte, to netip.AddrPort) {
	op := protocol.Opcode(req[10])
	if c, ok := s.hits[op]; ok {
		c.Add(1)
	}

	s.mu.RLock()
	state, drop, cut, delay := s.state, s.drop[op], s.cut[op], s.delay
	s.mu.RUnlock()

	if drop {
		return
	}

	addr := netip.AddrFrom4([4]byte(req[4:8]))
	port := binary.LittleEndian.Uint16(req[8:10])

	var resp []byte
	switch op {
	case protocol.OpInfo:
		resp = protocol.EncodeInfoResponse(addr, port, state.Info)
	case protocol.OpRules:
		resp = protocol.EncodeRulesResponse(addr, port, state.Rules)
	case protocol.OpPlayers:
		resp = protocol.EncodePlayersResponse(addr, port, state.Players)
	default:
		return
	}

	if cut > 0 && cut < len(resp) {
		resp = resp[:cut]
	}

	if delay > 0 {
		time.Sleep(delay)
	}

	_, _ = s.conn.WriteToUDPAddrPort(resp, to)
}
