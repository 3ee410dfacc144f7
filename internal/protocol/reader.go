package protocol

import (
	"encoding/binary"
	"errors"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var errShort = errors.New("unexpected end of packet")

// reader walks a response buffer, refusing any read past its end.
type reader struct {
	buf []byte
	off int
}

func newReader(buf []byte) *reader {
	r := &reader{buf: buf, off: HeaderSize}
	if r.off > len(buf) {
		r.off = len(buf)
	}

	return r
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) next(n int) ([]byte, error) {
	if n < 0 || n > r.remaining() {
		return nil, errShort
	}

	b := r.buf[r.off : r.off+n]
	r.off += n

	return b, nil
}

func (r *reader) u8() (uint8, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}

	return b[0], nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.next(2)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b), nil
}

// str8 reads a string prefixed by a single length byte.
func (r *reader) str8() (string, error) {
	n, err := r.u8()
	if err != nil {
		return "", err
	}

	b, err := r.next(int(n))
	if err != nil {
		return "", err
	}

	return decodeString(b), nil
}

// str32 reads a string prefixed by a uint32 little-endian length.
func (r *reader) str32() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}

	if uint64(n) > uint64(r.remaining()) {
		return "", errShort
	}

	b, err := r.next(int(n))
	if err != nil {
		return "", err
	}

	return decodeString(b), nil
}

// decodeString keeps valid UTF-8 as is and otherwise treats the bytes as
// Windows-1252, which older servers use for hostnames and player names.
func decodeString(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}

	out, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}

	return string(out)
}
