// Package cortotest writes small corto payloads for tests in other
// packages.
package cortotest

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/Faultbox/nxstream/pkg/corto"
)

// width is the bit width of every residue. A block with one width needs
// no tunstall dictionary.
const width = 16

// Fan encodes len(positions)-2 triangles fanned around vertex 1; the
// decoded faces are (0, 1, 2) followed by (k, 1, k+1). Positions are
// quantized to step. uvs may be nil.
func Fan(positions [][3]float32, uvs [][2]float32, step float32) []byte {
	nvert := len(positions)
	if nvert < 3 {
		panic("cortotest: a fan needs three vertices")
	}
	nface := nvert - 2

	var w writer
	w.i32(corto.Magic)
	w.i32(1)
	w.u8(1)
	w.i32(0) // exif

	nattr := 1
	if uvs != nil {
		nattr++
	}
	w.i32(int32(nattr))
	w.attribute("position", 3, step)
	if uvs != nil {
		w.attribute("uv", 2, step)
	}
	w.i32(int32(nvert))
	w.i32(int32(nface))

	// One face group, then the connectivity: every face adds a vertex.
	w.i32(1)
	w.i32(int32(nface))
	w.u8(0)
	w.i32(int32(nface*3 + 3))
	w.symbols(0, nface)
	w.bitstream(nil)

	flat := make([]float32, 0, nvert*3)
	for _, p := range positions {
		flat = append(flat, p[:]...)
	}
	w.residues(3, quantize(flat, step))
	if uvs != nil {
		flat = flat[:0]
		for _, uv := range uvs {
			flat = append(flat, uv[:]...)
		}
		w.residues(2, quantize(flat, step))
	}
	return w.buf.Bytes()
}

func quantize(v []float32, step float32) []int32 {
	q := make([]int32, len(v))
	for i, f := range v {
		q[i] = int32(math.Round(float64(f / step)))
	}
	return q
}

type writer struct {
	buf bytes.Buffer
}

func (w *writer) u8(v uint8) {
	w.buf.WriteByte(v)
}

func (w *writer) i32(v int32) {
	binary.Write(&w.buf, binary.LittleEndian, v)
}

func (w *writer) str(s string) {
	binary.Write(&w.buf, binary.LittleEndian, uint16(len(s)+1))
	w.buf.WriteString(s)
	w.buf.WriteByte(0)
}

func (w *writer) attribute(name string, components int, step float32) {
	w.str(name)
	w.i32(int32(corto.KindGeneric))
	binary.Write(&w.buf, binary.LittleEndian, step)
	w.u8(uint8(components))
	w.u8(uint8(corto.TypeFloat))
	w.u8(uint8(corto.Correlated))
}

// symbols writes n copies of sym as a single-symbol tunstall block.
func (w *writer) symbols(sym byte, n int) {
	w.u8(1)
	w.u8(sym)
	w.u8(255)
	w.i32(int32(n))
	w.i32(0)
}

func (w *writer) bitstream(words []uint32) {
	w.i32(int32(len(words)))
	for w.buf.Len()%4 != 0 {
		w.u8(0)
	}
	for _, word := range words {
		binary.Write(&w.buf, binary.LittleEndian, word)
	}
}

// residues writes q predicted from the previous vertex, which is the
// context a fan assigns to every new vertex.
func (w *writer) residues(N int, q []int32) {
	n := len(q) / N
	var bits bitWriter
	for i := 0; i < n; i++ {
		for c := 0; c < N; c++ {
			r := q[i*N+c]
			if i > 0 {
				r -= q[(i-1)*N+c]
			}
			bits.write(uint32(r+1<<(width-1)), width)
		}
	}
	w.bitstream(bits.flush())
	w.symbols(width, n)
}

type bitWriter struct {
	words []uint32
	cur   uint64
	n     uint
}

func (b *bitWriter) write(v uint32, bits uint) {
	b.cur = b.cur<<bits | uint64(v)&(uint64(1)<<bits-1)
	b.n += bits
	for b.n >= 32 {
		b.n -= 32
		b.words = append(b.words, uint32(b.cur>>b.n))
		b.cur &= uint64(1)<<b.n - 1
	}
}

func (b *bitWriter) flush() []uint32 {
	if b.n > 0 {
		b.words = append(b.words, uint32(b.cur<<(32-b.n)))
		b.n = 0
		b.cur = 0
	}
	return b.words
}
