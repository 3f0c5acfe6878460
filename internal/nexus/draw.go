package nexus

import "github.com/Faultbox/nxstream/pkg/nxs"

// Range is a run of triangles [Start, End) inside a node's index buffer.
type Range struct {
	Start, End uint32
	Texture    int // texture group of the closing patch, -1 if none
}

// DrawRanges returns the triangle ranges of id that must be drawn for the
// selection cut: the patches whose child is not selected, with adjacent
// patches joined. A node whose children are all selected draws nothing.
func (m *Mesh) DrawRanges(id int, selected []bool) []Range {
	first, end := m.Index.PatchRange(id)
	if first == end {
		return nil
	}
	var ranges []Range
	var offset, stop uint32
	last := end - 1
	for p := first; p < end; p++ {
		patch := &m.Index.Patches[p]
		if !selected[patch.Node] {
			stop = patch.TriangleEnd
			if p < last {
				continue
			}
		}
		if stop > offset {
			tex := -1
			if patch.Texture != nxs.NoTexture && m.Header.Signature.Vertex[nxs.TexCoord].Present() {
				tex = int(patch.Texture)
			}
			ranges = append(ranges, Range{Start: offset, End: stop, Texture: tex})
		}
		offset = patch.TriangleEnd
	}
	return ranges
}

// Triangles counts the triangles DrawRanges would emit.
func Triangles(ranges []Range) int {
	n := 0
	for _, r := range ranges {
		n += int(r.End - r.Start)
	}
	return n
}
