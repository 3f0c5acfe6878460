package corto

import "fmt"

// Connectivity symbols.
const (
	clerVertex   = 0
	clerLeft     = 1
	clerRight    = 2
	clerEnd      = 3
	clerBoundary = 4
	clerDelay    = 5
	clerSplit    = 6
)

// Group is a contiguous run of faces sharing a set of properties.
type Group struct {
	End        int
	Properties map[string]string
}

// edge is an open edge of the front: v0-v1 with v2 the third vertex of the
// face it belongs to. prev and next link the front into loops.
type edge struct {
	v0, v1, v2 uint32
	prev, next int32
	deleted    bool
}

// connectivity rebuilds the triangle list and the prediction context of
// every vertex from the symbol stream.
type connectivity struct {
	nvert, nface int
	faces        []uint32
	prediction   []uint32
	groups       []Group

	clers       []byte
	cler        int
	bits        *bitReader
	front       []edge
	maxFront    int
	vertexCount int
}

func newConnectivity(nvert, nface int) *connectivity {
	return &connectivity{
		nvert:      nvert,
		nface:      nface,
		faces:      make([]uint32, nface*3),
		prediction: make([]uint32, nvert*3),
	}
}

func (ix *connectivity) decodeGroups(s *stream) error {
	n := s.i32()
	if s.err != nil {
		return s.err
	}
	if n < 0 || n > 1<<16 {
		return fmt.Errorf("%w: %d groups", ErrTooLarge, n)
	}
	ix.groups = make([]Group, n)
	prev := 0
	for i := range ix.groups {
		end := int(s.i32())
		np := int(s.u8())
		props := make(map[string]string, np)
		for k := 0; k < np; k++ {
			key := s.str()
			props[key] = s.str()
		}
		if s.err != nil {
			return s.err
		}
		if ix.nface > 0 && (end < prev || end > ix.nface) {
			return fmt.Errorf("%w: group end %d", ErrTopology, end)
		}
		prev = end
		ix.groups[i] = Group{End: end, Properties: props}
	}
	return nil
}

func (ix *connectivity) decode(s *stream) error {
	maxFront := s.i32()
	if s.err != nil {
		return s.err
	}
	if maxFront < 0 || maxFront > maxDeclaredSize/5 {
		return ErrTooLarge
	}
	clers, err := readTunstall(s, maxDeclaredSize)
	if err != nil {
		return err
	}
	ix.clers = clers
	ix.bits = s.bitStream()
	if s.err != nil {
		return s.err
	}
	ix.maxFront = int(maxFront)
	ix.front = make([]edge, 0, maxFront)

	start := 0
	for _, g := range ix.groups {
		if err := ix.decodeFaces(start*3, g.End*3); err != nil {
			return err
		}
		start = g.End
	}
	if ix.bits.overrun {
		return ErrTruncated
	}
	return nil
}

func (ix *connectivity) symbol() (byte, error) {
	if ix.cler >= len(ix.clers) {
		return 0, ErrTruncated
	}
	c := ix.clers[ix.cler]
	ix.cler++
	return c, nil
}

func (ix *connectivity) newVertex(p0, p1, p2 uint32) (uint32, error) {
	if ix.vertexCount >= ix.nvert {
		return 0, fmt.Errorf("%w: vertex %d of %d", ErrTopology, ix.vertexCount, ix.nvert)
	}
	v := uint32(ix.vertexCount)
	ix.prediction[v*3] = p0
	ix.prediction[v*3+1] = p1
	ix.prediction[v*3+2] = p2
	ix.vertexCount++
	return v, nil
}

// decodeFaces fills faces[start:end]. Edges are taken from the last
// created edge first, then in face order, then from the delayed stack
// (last delayed, first resumed).
func (ix *connectivity) decodeFaces(start, end int) error {
	front := ix.front[:0]
	order := make([]int32, 0, end-start)
	head := 0
	var delayed []int32

	nvert := uint32(ix.nvert)
	splitBits := uint(ilog2(nvert) + 1)
	newEdge := int32(-1)

	for start < end {
		if len(front) > ix.maxFront {
			return fmt.Errorf("%w: front exceeds %d edges", ErrTopology, ix.maxFront)
		}
		if newEdge == -1 && head >= len(order) && len(delayed) == 0 {
			// New component: a start triangle, some vertices may be split
			// references to earlier components.
			last := uint32(ix.vertexCount - 1)
			c, err := ix.symbol()
			if err != nil {
				return err
			}
			var split uint32
			if c == clerSplit {
				split = ix.bits.read(3)
			}
			var vi [3]uint32
			for k := 0; k < 3; k++ {
				if split&(1<<k) != 0 {
					vi[k] = ix.bits.read(splitBits)
					if vi[k] >= nvert {
						return fmt.Errorf("%w: split vertex %d", ErrTopology, vi[k])
					}
				} else {
					v, err := ix.newVertex(last, last, last)
					if err != nil {
						return err
					}
					vi[k] = v
					last = v
				}
				ix.faces[start] = vi[k]
				start++
			}
			e := int32(len(front))
			order = append(order, e, e+1, e+2)
			front = append(front,
				edge{v0: vi[1], v1: vi[2], v2: vi[0], prev: e + 2, next: e + 1},
				edge{v0: vi[2], v1: vi[0], v2: vi[1], prev: e, next: e + 2},
				edge{v0: vi[0], v1: vi[1], v2: vi[2], prev: e + 1, next: e},
			)
			continue
		}

		var e int32
		switch {
		case newEdge != -1:
			e = newEdge
			newEdge = -1
		case head < len(order):
			e = order[head]
			head++
		default:
			e = delayed[len(delayed)-1]
			delayed = delayed[:len(delayed)-1]
		}
		if front[e].deleted {
			continue
		}

		c, err := ix.symbol()
		if err != nil {
			return err
		}
		if c == clerBoundary {
			continue
		}

		cur := front[e]
		v0, v1, v2 := cur.v0, cur.v1, cur.v2
		prev, next := cur.prev, cur.next

		newEdge = int32(len(front))
		var opposite uint32
		switch c {
		case clerVertex, clerSplit:
			if c == clerSplit {
				opposite = ix.bits.read(splitBits)
			} else {
				opposite, err = ix.newVertex(v1, v0, v2)
				if err != nil {
					return err
				}
			}
			front[prev].next = newEdge
			front[next].prev = newEdge + 1
			front = append(front, edge{v0: v0, v1: opposite, v2: v1, prev: prev, next: newEdge + 1})
			order = append(order, newEdge+1)
			front = append(front, edge{v0: opposite, v1: v1, v2: v0, prev: newEdge, next: next})

		case clerLeft:
			front[front[prev].prev].next = newEdge
			front[next].prev = newEdge
			opposite = front[prev].v0
			front = append(front, edge{v0: opposite, v1: v1, v2: v0, prev: front[prev].prev, next: next})
			front[prev].deleted = true

		case clerRight:
			front[front[next].next].prev = newEdge
			front[prev].next = newEdge
			opposite = front[next].v1
			front = append(front, edge{v0: v0, v1: opposite, v2: v1, prev: prev, next: front[next].next})
			front[next].deleted = true

		case clerDelay:
			delayed = append(delayed, e)
			newEdge = -1
			continue

		case clerEnd:
			front[front[prev].prev].next = front[next].next
			front[front[next].next].prev = front[prev].prev
			opposite = front[prev].v0
			front[prev].deleted = true
			front[next].deleted = true
			newEdge = -1

		default:
			return fmt.Errorf("%w: %d", ErrInvalidSymbol, c)
		}

		if v1 >= nvert || v0 >= nvert || opposite >= nvert {
			return fmt.Errorf("%w: face (%d, %d, %d)", ErrTopology, v1, v0, opposite)
		}
		ix.faces[start] = v1
		ix.faces[start+1] = v0
		ix.faces[start+2] = opposite
		start += 3
	}
	ix.front = front
	return nil
}

func ilog2(p uint32) int {
	k := 0
	for p >>= 1; p != 0; p >>= 1 {
		k++
	}
	return k
}
