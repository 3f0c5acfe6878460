package nxs

import (
	"encoding/binary"
	"math"
)

// Node is one entry of the DAG index.
type Node struct {
	Offset      uint64 // byte offset of the payload
	Size        uint64 // byte length of the payload
	NVert       uint16
	NFace       uint16
	Error       float32
	Cone        [4]int16
	Sphere      Sphere
	TightRadius float32
	FirstPatch  uint32
}

// End is the byte offset just past the payload.
func (n *Node) End() uint64 {
	return n.Offset + n.Size
}

// Patch links a node to a finer child and owns a run of the node's
// triangles.
type Patch struct {
	Node        uint32 // child node
	TriangleEnd uint32 // end of the patch triangles, cumulative in the node
	Texture     uint32 // texture group, or NoTexture
	Material    uint32 // v3 only
}

// Texture is a texture group: an image (v2) or a set of maps (v3).
type Texture struct {
	Offset     uint64
	Size       uint64
	Projection [16]float32 // v2 only
}

// Index holds the node, patch and texture tables.
type Index struct {
	Nodes    []Node
	Patches  []Patch
	Textures []Texture
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) u16() uint16 {
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}

func (r *reader) i16() int16 {
	return int16(r.u16())
}

func (r *reader) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *reader) f32() float32 {
	return math.Float32frombits(r.u32())
}

func (r *reader) sphere() Sphere {
	var s Sphere
	for k := range s.Center {
		s.Center[k] = r.f32()
	}
	s.Radius = r.f32()
	return s
}

// ParseIndex parses the index that follows the header. The data must hold
// at least h.IndexSize() bytes.
func ParseIndex(h *Header, data []byte) (*Index, error) {
	if int64(len(data)) < h.IndexSize() {
		return nil, ErrTruncated
	}
	v2 := h.Version == 2
	r := &reader{buf: data}
	ix := &Index{
		Nodes:    make([]Node, h.NNodes),
		Patches:  make([]Patch, h.NPatches),
		Textures: make([]Texture, h.NTextures),
	}

	for i := range ix.Nodes {
		n := &ix.Nodes[i]
		n.Offset = uint64(r.u32()) * PageSize
		if !v2 {
			n.Size = uint64(r.u32())
		}
		n.NVert = r.u16()
		n.NFace = r.u16()
		n.Error = r.f32()
		for k := range n.Cone {
			n.Cone[k] = r.i16()
		}
		n.Sphere = r.sphere()
		n.TightRadius = r.f32()
		n.FirstPatch = r.u32()
	}

	for i := range ix.Patches {
		p := &ix.Patches[i]
		p.Node = r.u32()
		p.TriangleEnd = r.u32()
		p.Texture = r.u32()
		if !v2 {
			p.Material = r.u32()
		}
	}

	for i := range ix.Textures {
		t := &ix.Textures[i]
		t.Offset = uint64(r.u32()) * PageSize
		if v2 {
			for k := range t.Projection {
				t.Projection[k] = r.f32()
			}
		} else {
			t.Size = uint64(r.u32())
		}
	}

	if v2 {
		// Payloads are contiguous: each one ends where the next begins.
		for i := 0; i+1 < len(ix.Nodes); i++ {
			next, cur := ix.Nodes[i+1].Offset, ix.Nodes[i].Offset
			if next < cur {
				return nil, formatErr("node offset", "node %d starts before node %d", i+1, i)
			}
			ix.Nodes[i].Size = next - cur
		}
		for i := 0; i+1 < len(ix.Textures); i++ {
			next, cur := ix.Textures[i+1].Offset, ix.Textures[i].Offset
			if next < cur {
				return nil, formatErr("texture offset", "texture %d starts before texture %d", i+1, i)
			}
			ix.Textures[i].Size = next - cur
		}
	}

	if err := ix.validate(h); err != nil {
		return nil, err
	}
	return ix, nil
}

func (ix *Index) validate(h *Header) error {
	n := len(ix.Nodes)
	for i := 0; i < n; i++ {
		fp := ix.Nodes[i].FirstPatch
		if fp > uint32(len(ix.Patches)) {
			return formatErr("first_patch", "node %d points past the patch table", i)
		}
		if i+1 < n && ix.Nodes[i+1].FirstPatch < fp {
			return formatErr("first_patch", "node %d patches are not monotone", i)
		}
	}
	for i := 0; i+1 < n; i++ {
		node := &ix.Nodes[i]
		for p := node.FirstPatch; p < ix.Nodes[i+1].FirstPatch; p++ {
			patch := ix.Patches[p]
			if patch.Node <= uint32(i) || patch.Node >= uint32(n) {
				return formatErr("patch", "node %d links to node %d", i, patch.Node)
			}
			if patch.Texture != NoTexture && patch.Texture >= uint32(len(ix.Textures)) {
				return formatErr("patch", "node %d uses texture %d of %d", i, patch.Texture, len(ix.Textures))
			}
			if patch.TriangleEnd > uint32(node.NFace) {
				return formatErr("patch", "node %d patch ends at triangle %d of %d", i, patch.TriangleEnd, node.NFace)
			}
		}
	}
	return nil
}

// PatchRange returns the patch indices [first, end) owned by node id.
func (ix *Index) PatchRange(id int) (int, int) {
	if id+1 >= len(ix.Nodes) {
		return len(ix.Patches), len(ix.Patches)
	}
	return int(ix.Nodes[id].FirstPatch), int(ix.Nodes[id+1].FirstPatch)
}

// Sink is the id of the sentinel last node.
func (ix *Index) Sink() int {
	return len(ix.Nodes) - 1
}

// Roots returns the number of root nodes: every node below the smallest
// child id referenced by a root.
func (ix *Index) Roots() int {
	nroots := len(ix.Nodes)
	for j := 0; j < nroots && j+1 < len(ix.Nodes); j++ {
		first, end := ix.PatchRange(j)
		for p := first; p < end; p++ {
			if child := int(ix.Patches[p].Node); child < nroots {
				nroots = child
			}
		}
	}
	return nroots
}
