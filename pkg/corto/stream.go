package corto

import (
	"encoding/binary"
	"math"
)

// stream is a little-endian cursor over a payload. The first out-of-range
// read sets err; later reads return zero values so callers can check once.
type stream struct {
	buf []byte
	pos int
	err error
}

func newStream(buf []byte) *stream {
	return &stream{buf: buf}
}

func (s *stream) take(n int) []byte {
	if s.err != nil {
		return nil
	}
	if n < 0 || s.pos+n > len(s.buf) {
		s.err = ErrTruncated
		return nil
	}
	b := s.buf[s.pos : s.pos+n]
	s.pos += n
	return b
}

func (s *stream) u8() uint8 {
	b := s.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (s *stream) i16() int16 {
	b := s.take(2)
	if b == nil {
		return 0
	}
	return int16(binary.LittleEndian.Uint16(b))
}

func (s *stream) i32() int32 {
	b := s.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(b))
}

func (s *stream) f32() float32 {
	b := s.take(4)
	if b == nil {
		return 0
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// str reads a string stored as a u16 length (including the trailing NUL)
// followed by the bytes and the NUL.
func (s *stream) str() string {
	n := int(uint16(s.i16()))
	if n == 0 {
		return ""
	}
	b := s.take(n)
	if b == nil {
		return ""
	}
	return string(b[:n-1])
}

// bitStream reads a u32 word count, skips padding up to the next 4-byte
// boundary and returns a reader over the words.
func (s *stream) bitStream() *bitReader {
	n := s.i32()
	if s.err != nil {
		return &bitReader{}
	}
	if pad := s.pos & 3; pad != 0 {
		s.take(4 - pad)
	}
	if n < 0 {
		s.err = ErrTruncated
		return &bitReader{}
	}
	raw := s.take(int(n) * 4)
	if raw == nil {
		return &bitReader{}
	}
	words := make([]uint32, n)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return newBitReader(words)
}
