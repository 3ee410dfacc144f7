package protocol

import "fmt"

// DecodeInfo decodes an info response. The hostname is mandatory; gamemode
// and mapname are left empty when the buffer ends before them.
func DecodeInfo(buf []byte) (Info, error) {
	var info Info

	if err := CheckHeader(buf, OpInfo); err != nil {
		return info, err
	}

	r := newReader(buf)

	password, err := r.u8()
	if err != nil {
		return info, fmt.Errorf("%w: password flag: %v", ErrMalformedResponse, err)
	}
	info.Password = password == 1

	if info.Players, err = r.u16(); err != nil {
		return info, fmt.Errorf("%w: player count: %v", ErrMalformedResponse, err)
	}

	if info.MaxPlayers, err = r.u16(); err != nil {
		return info, fmt.Errorf("%w: max players: %v", ErrMalformedResponse, err)
	}

	if info.Hostname, err = r.str32(); err != nil {
		return info, fmt.Errorf("%w: hostname: %v", ErrMalformedResponse, err)
	}

	// Optional tail
	if gamemode, err := r.str32(); err == nil {
		info.Gamemode = gamemode
		if mapname, err := r.str32(); err == nil {
			info.Mapname = mapname
		}
	}

	return info, nil
}

// DecodeRules decodes a rules response. A truncated or malformed pair ends
// the list early; only a foreign packet is reported as an error.
func DecodeRules(buf []byte) (map[string]string, error) {
	rules := make(map[string]string)

	if err := checkForeign(buf, OpRules); err != nil {
		return rules, err
	}

	r := newReader(buf)

	count, err := r.u16()
	if err != nil {
		return rules, nil
	}

	for i := 0; i < int(count); i++ {
		name, err := r.str8()
		if err != nil {
			break
		}

		value, err := r.str8()
		if err != nil {
			break
		}

		rules[name] = value
	}

	return rules, nil
}

// DecodePlayers decodes a detailed player list response. Truncation stops
// decoding and returns the players read so far.
func DecodePlayers(buf []byte) ([]Player, error) {
	players := make([]Player, 0)

	if err := checkForeign(buf, OpPlayers); err != nil {
		return players, err
	}

	r := newReader(buf)

	count, err := r.u16()
	if err != nil {
		return players, nil
	}

	for i := 0; i < int(count); i++ {
		id, err := r.u8()
		if err != nil {
			break
		}

		name, err := r.str8()
		if err != nil {
			break
		}

		score, err := r.u32()
		if err != nil {
			break
		}

		players = append(players, Player{ID: id, Name: name, Score: int32(score)})
	}

	return players, nil
}

// checkForeign rejects a complete header that belongs to another protocol or
// opcode. Buffers too short to hold a header are treated as truncated, not foreign.
func checkForeign(buf []byte, op Opcode) error {
	if len(buf) < HeaderSize {
		return nil
	}

	return CheckHeader(buf, op)
}
