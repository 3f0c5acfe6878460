package corto

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/bits"
	"sort"
)

// payload assembles corto streams for tests.
type payload struct {
	buf bytes.Buffer
}

func (p *payload) u8(v uint8) {
	p.buf.WriteByte(v)
}

func (p *payload) i32(v int32) {
	binary.Write(&p.buf, binary.LittleEndian, v)
}

func (p *payload) f32(v float32) {
	binary.Write(&p.buf, binary.LittleEndian, v)
}

func (p *payload) str(s string) {
	binary.Write(&p.buf, binary.LittleEndian, uint16(len(s)+1))
	p.buf.WriteString(s)
	p.buf.WriteByte(0)
}

func (p *payload) bitstream(words []uint32) {
	p.i32(int32(len(words)))
	for p.buf.Len()%4 != 0 {
		p.u8(0)
	}
	for _, w := range words {
		binary.Write(&p.buf, binary.LittleEndian, w)
	}
}

// tunstall writes symbols as one entropy-coded block.
func (p *payload) tunstall(symbols []byte) {
	if len(symbols) == 0 {
		p.u8(0)
		p.i32(0)
		p.i32(0)
		return
	}
	probs := symbolProbs(symbols)
	p.u8(uint8(len(probs) / 2))
	p.buf.Write(probs)
	if len(probs) == 2 {
		p.i32(int32(len(symbols)))
		p.i32(0)
		return
	}
	data := tunstallEncode(newTunstall(probs), symbols)
	p.i32(int32(len(symbols)))
	p.i32(int32(len(data)))
	p.buf.Write(data)
}

func (p *payload) bytes() []byte {
	return p.buf.Bytes()
}

// symbolProbs returns (symbol, probability) pairs, most frequent first.
func symbolProbs(symbols []byte) []byte {
	var freq [256]int
	for _, s := range symbols {
		freq[s]++
	}
	var present []int
	for s, f := range freq {
		if f > 0 {
			present = append(present, s)
		}
	}
	sort.SliceStable(present, func(i, j int) bool {
		return freq[present[i]] > freq[present[j]]
	})
	probs := make([]byte, 0, len(present)*2)
	for _, s := range present {
		pr := freq[s] * 255 / len(symbols)
		if pr < 1 {
			pr = 1
		}
		probs = append(probs, byte(s), byte(pr))
	}
	return probs
}

// tunstallEncode parses in greedily into the longest dictionary words.
func tunstallEncode(t *tunstall, in []byte) []byte {
	var out []byte
	for p := 0; p < len(in); {
		best, bestLen := -1, 0
		for w := 0; w < t.words; w++ {
			l := int(t.lengths[w])
			if l <= bestLen || p+l > len(in) {
				continue
			}
			start := t.index[w]
			if bytes.Equal(t.table[start:start+uint32(l)], in[p:p+l]) {
				best, bestLen = w, l
			}
		}
		if best >= 0 {
			out = append(out, byte(best))
			p += bestLen
			continue
		}
		rest := in[p:]
		for w := 0; w < t.words; w++ {
			start := t.index[w]
			if int(t.lengths[w]) > len(rest) && bytes.Equal(t.table[start:start+uint32(len(rest))], rest) {
				best = w
				break
			}
		}
		if best < 0 {
			panic("tunstall dictionary cannot encode input")
		}
		out = append(out, byte(best))
		break
	}
	return out
}

type bitWriter struct {
	words []uint32
	cur   uint64
	n     uint
}

func (w *bitWriter) write(v uint32, bits uint) {
	if bits == 0 {
		return
	}
	w.cur = w.cur<<bits | uint64(v)&(uint64(1)<<bits-1)
	w.n += bits
	for w.n >= 32 {
		w.n -= 32
		w.words = append(w.words, uint32(w.cur>>w.n))
		w.cur &= uint64(1)<<w.n - 1
	}
}

func (w *bitWriter) flush() []uint32 {
	if w.n > 0 {
		w.words = append(w.words, uint32(w.cur<<(32-w.n)))
		w.n = 0
		w.cur = 0
	}
	return w.words
}

// array writes residues in the shared-width layout read by decodeArray.
func (p *payload) array(N int, values []int32) {
	n := len(values) / N
	logs := make([]byte, n)
	var w bitWriter
	for i := 0; i < n; i++ {
		d := uint(0)
		for c := 0; c < N; c++ {
			if need := sharedWidth(values[i*N+c]); need > d {
				d = need
			}
		}
		logs[i] = byte(d)
		if d == 0 {
			continue
		}
		half := int32(1) << (d - 1)
		for c := 0; c < N; c++ {
			w.write(uint32(values[i*N+c]+half), d)
		}
	}
	p.bitstream(w.flush())
	p.tunstall(logs)
}

func sharedWidth(v int32) uint {
	if v == 0 {
		return 0
	}
	d := uint(1)
	for !(-(int32(1)<<(d-1)) <= v && v < int32(1)<<(d-1)) {
		d++
	}
	return d
}

// values writes residues in the per-component layout read by decodeValues.
func (p *payload) values(N int, values []int32) {
	n := len(values) / N
	logs := make([][]byte, N)
	var w bitWriter
	for c := 0; c < N; c++ {
		logs[c] = make([]byte, n)
		for i := 0; i < n; i++ {
			v := values[i*N+c]
			if v == 0 {
				continue
			}
			a := v
			if a < 0 {
				a = -a
			}
			d := uint(bits.Len32(uint32(a)))
			logs[c][i] = byte(d)
			if v > 0 {
				w.write(uint32(v), d)
			} else {
				w.write(uint32(-v-(int32(1)<<(d-1))), d)
			}
		}
	}
	p.bitstream(w.flush())
	for c := 0; c < N; c++ {
		p.tunstall(logs[c])
	}
}

type attrSpec struct {
	name       string
	kind       Kind
	q          float32
	components int
	typ        Type
	strategy   Strategy
}

// header writes a payload header.
func (p *payload) header(nvert, nface int, attrs []attrSpec) {
	p.i32(Magic)
	p.i32(1)
	p.u8(1)
	p.i32(1)
	p.str("generator")
	p.str("test")
	p.i32(int32(len(attrs)))
	for _, a := range attrs {
		p.str(a.name)
		p.i32(int32(a.kind))
		p.f32(a.q)
		p.u8(uint8(a.components))
		p.u8(uint8(a.typ))
		p.u8(uint8(a.strategy))
	}
	p.i32(int32(nvert))
	p.i32(int32(nface))
}

// connectivity writes one face group and the symbol stream.
func (p *payload) connectivity(nface int, clers []byte, splits []uint32) {
	p.i32(1)
	p.i32(int32(nface))
	p.u8(0)
	p.i32(int32(nface*3 + 3))
	p.tunstall(clers)
	p.bitstream(splits)
}

// octa projects a unit vector to integer octahedral coordinates.
func octa(n [3]float64, unit float64) (int32, int32) {
	l := math.Abs(n[0]) + math.Abs(n[1]) + math.Abs(n[2])
	p0 := n[0] / l
	p1 := n[1] / l
	if n[2] < 0 {
		a0, a1 := math.Abs(p0), math.Abs(p1)
		if n[0] >= 0 {
			p0 = 1 - a1
		} else {
			p0 = a1 - 1
		}
		if n[1] >= 0 {
			p1 = 1 - a0
		} else {
			p1 = a0 - 1
		}
	}
	return int32(math.Round(p0 * unit)), int32(math.Round(p1 * unit))
}
