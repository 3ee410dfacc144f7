package protocol

import (
	"encoding/binary"
	"net/netip"
	"sort"
)

// EncodeInfoResponse builds the response a server sends to an info request.
func EncodeInfoResponse(addr netip.Addr, port uint16, info Info) []byte {
	b := appendHeader(nil, addr, port, OpInfo)

	var password byte
	if info.Password {
		password = 1
	}
	b = append(b, password)
	b = binary.LittleEndian.AppendUint16(b, info.Players)
	b = binary.LittleEndian.AppendUint16(b, info.MaxPlayers)

	for _, s := range []string{info.Hostname, info.Gamemode, info.Mapname} {
		b = binary.LittleEndian.AppendUint32(b, uint32(len(s)))
		b = append(b, s...)
	}

	return b
}

// EncodeRulesResponse builds a rules response. Rules are written in name order;
// names and values longer than 255 bytes are cut.
func EncodeRulesResponse(addr netip.Addr, port uint16, rules map[string]string) []byte {
	b := appendHeader(nil, addr, port, OpRules)

	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)

	b = binary.LittleEndian.AppendUint16(b, uint16(len(names)))
	for _, name := range names {
		b = appendStr8(b, name)
		b = appendStr8(b, rules[name])
	}

	return b
}

// EncodePlayersResponse builds a detailed player list response.
func EncodePlayersResponse(addr netip.Addr, port uint16, players []Player) []byte {
	b := appendHeader(nil, addr, port, OpPlayers)

	b = binary.LittleEndian.AppendUint16(b, uint16(len(players)))
	for _, p := range players {
		b = append(b, p.ID)
		b = appendStr8(b, p.Name)
		b = binary.LittleEndian.AppendUint32(b, uint32(p.Score))
	}

	return b
}

func appendStr8(b []byte, s string) []byte {
	if len(s) > 255 {
		s = s[:255]
	}
	b = append(b, byte(len(s)))

	return append(b, s...)
}
