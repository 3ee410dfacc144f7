// Package models defines the server address and canonical server record shared by the query pipeline.
package models

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Sentinel strings used when a backend does not report a value.
const (
	UnknownValue   = "Unknown"
	DefaultMapName = "San Andreas"
)

// ErrInvalidAddress is returned for a malformed host or port. It is never retried.
var ErrInvalidAddress = errors.New("invalid server address")

// ServerAddress identifies a game server by host (IPv4 literal or DNS name) and port.
type ServerAddress struct {
	Host string `json:"host"`
	Port uint16 `json:"port"`
}

// ParseAddress validates host and port and builds a ServerAddress.
func ParseAddress(host string, port int) (ServerAddress, error) {
	host = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	if host == "" {
		return ServerAddress{}, fmt.Errorf("%w: host is required", ErrInvalidAddress)
	}

	if port < 1 || port > 65535 {
		return ServerAddress{}, fmt.Errorf("%w: port %d out of range 1-65535", ErrInvalidAddress, port)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if !addr.Is4() {
			return ServerAddress{}, fmt.Errorf("%w: %s is not an IPv4 address", ErrInvalidAddress, host)
		}
		host = addr.String()
	} else if looksNumeric(host) {
		// 300.1.1.1 is neither a valid IPv4 literal nor a name anyone expects to resolve
		return ServerAddress{}, fmt.Errorf("%w: malformed IPv4 address %s", ErrInvalidAddress, host)
	} else if _, ok := dns.IsDomainName(host); !ok || !hostnameChars(host) || (!strings.Contains(host, ".") && host != "localhost") {
		return ServerAddress{}, fmt.Errorf("%w: malformed hostname %s", ErrInvalidAddress, host)
	}

	return ServerAddress{Host: host, Port: uint16(port)}, nil
}

// ParseAddressString is ParseAddress for a port still in its textual form.
func ParseAddressString(host, port string) (ServerAddress, error) {
	p, err := strconv.Atoi(strings.TrimSpace(port))
	if err != nil {
		return ServerAddress{}, fmt.Errorf("%w: port %q is not a number", ErrInvalidAddress, port)
	}

	return ParseAddress(host, p)
}

// IsLiteral reports whether Host is an IPv4 literal that needs no resolution.
func (a ServerAddress) IsLiteral() bool {
	addr, err := netip.ParseAddr(a.Host)
	return err == nil && addr.Is4()
}

// Key returns the cache key "host:port".
func (a ServerAddress) Key() string {
	return a.Host + ":" + strconv.Itoa(int(a.Port))
}

func (a ServerAddress) String() string {
	return a.Key()
}

// looksNumeric reports whether s consists only of digits and dots.
func looksNumeric(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && c != '.' {
			return false
		}
	}

	return true
}

// hostnameChars reports whether s only holds characters valid in a hostname.
func hostnameChars(s string) bool {
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '.', c == '_':
		default:
			return false
		}
	}

	return true
}

// Player is a single entry of a server player list.
type Player struct {
	Name  string `json:"name"`
	Score int32  `json:"score"`
	ID    uint8  `json:"id"`
}

// ServerRecord is the canonical server state produced by the normalizer and stored in the cache.
type ServerRecord struct {
	QueriedAt     time.Time         `json:"queried_at"`
	Rules         map[string]string `json:"rules"`
	Hostname      string            `json:"hostname"`
	Gamemode      string            `json:"gamemode"`
	Mapname       string            `json:"mapname"`
	SourceBackend string            `json:"source_backend"`
	Country       string            `json:"country,omitempty"`
	Players       []Player          `json:"players"`
	LatencyMs     uint32            `json:"latency_ms"`
	PlayerCount   uint16            `json:"player_count"`
	MaxPlayers    uint16            `json:"max_players"`
	Passworded    bool              `json:"passworded"`
	Online        bool              `json:"online"`
}

// Clone returns a deep copy so callers never share the rules map or player slice.
func (r ServerRecord) Clone() ServerRecord {
	out := r

	out.Rules = make(map[string]string, len(r.Rules))
	for k, v := range r.Rules {
		out.Rules[k] = v
	}

	out.Players = make([]Player, len(r.Players))
	copy(out.Players, r.Players)

	return out
}

// Rule returns the first non-empty rule value among the given names.
func (r ServerRecord) Rule(names ...string) string {
	for _, name := range names {
		if v := r.Rules[name]; v != "" {
			return v
		}
	}

	return ""
}
