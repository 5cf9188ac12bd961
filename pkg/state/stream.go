package state

import (
	"encoding/binary"

	feed "github.com/planetarium/ncfeed/pkg"
)

// Stream reads little-endian fields from a state blob. The first read
// past the end of the blob sets a sticky error; every later read returns
// a zero value, so decoders check Err once at the end.
type Stream struct {
	b   []byte
	p   uint64
	err error
}

func NewStream(b []byte) *Stream {
	return &Stream{b: b}
}

func (s *Stream) Err() error {
	return s.err
}

// Valid reports whether no read has overrun the blob.
func (s *Stream) Valid() bool {
	return s.err == nil
}

// Complete reports whether every byte was consumed without error.
func (s *Stream) Complete() bool {
	return s.err == nil && s.p == uint64(len(s.b))
}

func (s *Stream) take(num uint64) []byte {
	if s.err != nil {
		return nil
	}
	if num > uint64(len(s.b))-s.p {
		s.err = feed.NewErr(feed.Malformed, "state blob truncated at offset %d (need %d bytes)", s.p, num)
		s.p = uint64(len(s.b))
		return nil
	}
	p := s.p
	s.p += num
	return s.b[p : p+num]
}

func (s *Stream) Bytes(num uint64) []byte {
	return s.take(num)
}

func (s *Stream) Uint8() uint8 {
	b := s.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (s *Stream) Uint16le() uint16 {
	b := s.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (s *Stream) Uint32le() uint32 {
	b := s.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (s *Stream) Uint64le() uint64 {
	b := s.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// VarUint reads a compact-size integer: one byte below 253, otherwise a
// marker byte followed by a 2, 4 or 8 byte value.
func (s *Stream) VarUint() uint64 {
	val := s.Uint8()
	if val < 253 {
		return uint64(val)
	}
	if val == 253 {
		return uint64(s.Uint16le())
	}
	if val == 254 {
		return uint64(s.Uint32le())
	}
	return s.Uint64le()
}

// VarString reads a VarUint length followed by that many bytes.
func (s *Stream) VarString() string {
	n := s.VarUint()
	return string(s.take(n))
}

func (s *Stream) Address() feed.Address {
	b := s.take(feed.AddressLength)
	if b == nil {
		return ""
	}
	addr, err := feed.AddressFromBytes(b)
	if err != nil && s.err == nil {
		s.err = err
	}
	return addr
}

// Writer is the encoding counterpart of Stream; the store ingest path and
// tests use it to produce state blobs.
type Writer struct {
	b []byte
}

func (w *Writer) Result() []byte {
	return w.b
}

func (w *Writer) Uint8(v uint8) {
	w.b = append(w.b, v)
}

func (w *Writer) Uint16le(v uint16) {
	w.b = binary.LittleEndian.AppendUint16(w.b, v)
}

func (w *Writer) Uint32le(v uint32) {
	w.b = binary.LittleEndian.AppendUint32(w.b, v)
}

func (w *Writer) Uint64le(v uint64) {
	w.b = binary.LittleEndian.AppendUint64(w.b, v)
}

func (w *Writer) VarUint(v uint64) {
	switch {
	case v < 253:
		w.Uint8(uint8(v))
	case v <= 0xffff:
		w.Uint8(253)
		w.Uint16le(uint16(v))
	case v <= 0xffffffff:
		w.Uint8(254)
		w.Uint32le(uint32(v))
	default:
		w.Uint8(255)
		w.Uint64le(v)
	}
}

func (w *Writer) VarString(v string) {
	w.VarUint(uint64(len(v)))
	w.b = append(w.b, v...)
}

func (w *Writer) Address(a feed.Address) {
	b := a.Bytes()
	if b == nil {
		b = make([]byte, feed.AddressLength)
	}
	w.b = append(w.b, b...)
}
