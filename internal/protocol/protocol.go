// Package protocol implements the SA-MP binary query protocol codec.
//
// Every packet starts with an 11 byte header: the "SAMP" magic, the four
// IPv4 address bytes of the queried server, its port in little-endian
// order and a single opcode character. Responses echo the header and
// append an opcode-specific payload. Decoders bound-check every read and
// prefer partial results over failing when a server omits trailing data.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// Magic is the tag every request and response starts with.
const Magic = "SAMP"

// HeaderSize is the length of the magic + address + port + opcode header.
const HeaderSize = 11

// ErrMalformedResponse is returned when a response cannot be decoded.
var ErrMalformedResponse = errors.New("malformed response")

// Opcode selects the query type of a packet.
type Opcode byte

// Supported query opcodes.
const (
	OpInfo    Opcode = 'i'
	OpRules   Opcode = 'r'
	OpPlayers Opcode = 'd'
)

func (o Opcode) String() string {
	switch o {
	case OpInfo:
		return "info"
	case OpRules:
		return "rules"
	case OpPlayers:
		return "players"
	default:
		return fmt.Sprintf("opcode(%q)", byte(o))
	}
}

// Info is the decoded payload of an info response.
type Info struct {
	Hostname   string
	Gamemode   string
	Mapname    string
	Players    uint16
	MaxPlayers uint16
	Password   bool
}

// Player is a decoded player list entry.
type Player struct {
	Name  string
	Score int32
	ID    uint8
}

// EncodeRequest builds a query packet for the IPv4 address and port.
func EncodeRequest(addr netip.Addr, port uint16, op Opcode) ([]byte, error) {
	if !addr.Is4() {
		return nil, fmt.Errorf("encode %s request: %s is not an IPv4 address", op, addr)
	}

	return appendHeader(make([]byte, 0, HeaderSize), addr, port, op), nil
}

func appendHeader(b []byte, addr netip.Addr, port uint16, op Opcode) []byte {
	ip := addr.As4()
	b = append(b, Magic...)
	b = append(b, ip[:]...)
	b = binary.LittleEndian.AppendUint16(b, port)

	return append(b, byte(op))
}

// CheckHeader verifies the magic tag and the opcode echo of a response.
func CheckHeader(buf []byte, op Opcode) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("%w: %d byte packet is shorter than header", ErrMalformedResponse, len(buf))
	}

	if string(buf[:4]) != Magic {
		return fmt.Errorf("%w: bad magic %q", ErrMalformedResponse, buf[:4])
	}

	if Opcode(buf[10]) != op {
		return fmt.Errorf("%w: opcode echo %q, want %q", ErrMalformedResponse, buf[10], byte(op))
	}

	return nil
}
