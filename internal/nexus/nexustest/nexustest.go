// Package nexustest builds in-memory nexus containers and fetchers for tests.
package nexustest

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"sync"
	"testing"

	"github.com/Faultbox/nxstream/internal/fetch"
	"github.com/Faultbox/nxstream/internal/nexus"
	"github.com/Faultbox/nxstream/pkg/corto/cortotest"
	"github.com/Faultbox/nxstream/pkg/nxs"
)

// Options shape a Tree fixture.
type Options struct {
	Depth     int // levels below the root
	Branching int // children per inner node
	Textured  bool
	RootError float32 // geometric error of the root, halved per level
	Radius    float32 // root sphere radius, halved per level

	// Roots is the number of root nodes, each with its own subtree.
	Roots int
	// Shared links every inner node after the first of its level to the
	// last child of its left neighbour as well, so those children have two
	// parents.
	Shared bool
	// Corto compresses node payloads.
	Corto bool
}

// Fixture is a serialized v3 container and the structures it encodes.
type Fixture struct {
	Header *nxs.Header
	Index  *nxs.Index
	Data   []byte

	// Level of every node; the sink has level -1.
	Level []int
}

// Tree builds a forest DAG. Nodes are numbered breadth first so children
// always follow parents and the roots come first. Leaves link to the sink.
// With Textured, siblings share a texture group and the roots share group 0.
func Tree(o Options) *Fixture {
	if o.Branching < 1 {
		o.Branching = 2
	}
	if o.Roots < 1 {
		o.Roots = 1
	}
	if o.RootError == 0 {
		o.RootError = 64
	}
	if o.Radius == 0 {
		o.Radius = 1
	}

	type node struct {
		level    int
		parent   int
		center   [3]float32
		children []int
	}
	var nodes []node
	for k := 0; k < o.Roots; k++ {
		nodes = append(nodes, node{parent: -1, center: [3]float32{2 * o.Radius * float32(k)}})
	}
	for i := 0; i < len(nodes); i++ {
		if nodes[i].level == o.Depth {
			continue
		}
		r := o.Radius / float32(int(1)<<(nodes[i].level+1))
		for c := 0; c < o.Branching; c++ {
			center := nodes[i].center
			center[c%3] += r * float32(1-2*(c/3%2))
			nodes[i].children = append(nodes[i].children, len(nodes))
			nodes = append(nodes, node{level: nodes[i].level + 1, parent: i, center: center})
		}
		if left := i - 1; o.Shared && left >= 0 && nodes[left].level == nodes[i].level {
			kids := nodes[left].children
			nodes[i].children = append(nodes[i].children, kids[len(kids)-1])
		}
	}
	sink := len(nodes)

	textureOf := func(id int) uint32 {
		if !o.Textured {
			return nxs.NoTexture
		}
		return uint32(nodes[id].parent + 1)
	}
	ntex := 0
	if o.Textured {
		for id := range nodes {
			ntex = max(ntex, int(textureOf(id))+1)
		}
	}

	h := &nxs.Header{Version: 3, NNodes: uint32(sink + 1), NTextures: uint32(ntex)}
	h.Sphere = nxs.Sphere{
		Center: [3]float32{float32(o.Roots-1) * o.Radius},
		Radius: float32(o.Roots) * o.Radius,
	}
	h.Signature.Vertex[nxs.Position] = nxs.Attribute{Type: nxs.TypeFloat, Number: 3}
	if o.Textured {
		h.Signature.Vertex[nxs.TexCoord] = nxs.Attribute{Type: nxs.TypeFloat, Number: 2}
	}
	h.Signature.Face[nxs.FaceIndex] = nxs.Attribute{Type: nxs.TypeUnsignedShort, Number: 3}
	if o.Corto {
		h.Signature.Flags = nxs.FlagCorto
	}

	ix := &nxs.Index{Nodes: make([]nxs.Node, sink+1), Textures: make([]nxs.Texture, ntex)}
	level := make([]int, sink+1)
	payloads := make([][]byte, sink)
	for id, n := range nodes {
		targets := n.children
		if len(targets) == 0 {
			targets = []int{sink}
		}
		nface := 2 * len(targets)
		nvert := nface + 2
		r := o.Radius / float32(int(1)<<n.level)
		ix.Nodes[id] = nxs.Node{
			NVert:       uint16(nvert),
			NFace:       uint16(nface),
			Error:       o.RootError / float32(int(1)<<n.level),
			Sphere:      nxs.Sphere{Center: n.center, Radius: r},
			TightRadius: r * 0.9,
			FirstPatch:  uint32(len(ix.Patches)),
		}
		for k, child := range targets {
			ix.Patches = append(ix.Patches, nxs.Patch{
				Node:        uint32(child),
				TriangleEnd: uint32(2 * (k + 1)),
				Texture:     textureOf(id),
			})
		}
		if o.Corto {
			payloads[id] = cortoPayload(nvert, o.Textured)
		} else {
			payloads[id] = rawPayload(nvert, nface, o.Textured)
		}
		level[id] = n.level
		h.NVert += uint64(nvert)
		h.NFace += uint64(nface)
	}
	ix.Nodes[sink].FirstPatch = uint32(len(ix.Patches))
	level[sink] = -1
	h.NPatches = uint32(len(ix.Patches))

	var textures [][]byte
	for i := 0; i < ntex; i++ {
		textures = append(textures, textureGroup(i))
	}

	f := &Fixture{Header: h, Index: ix, Level: level}
	f.Data = Encode(h, ix, payloads, textures)
	return f
}

// Vertex v of every payload sits at (v, v%2, 0).
func vertex(v int) [3]float32 {
	return [3]float32{float32(v), float32(v % 2), 0}
}

func rawPayload(nvert, nface int, textured bool) []byte {
	var buf bytes.Buffer
	pos := make([]float32, 0, nvert*3)
	for v := 0; v < nvert; v++ {
		p := vertex(v)
		pos = append(pos, p[:]...)
	}
	binary.Write(&buf, binary.LittleEndian, pos)
	if textured {
		binary.Write(&buf, binary.LittleEndian, make([]float32, nvert*2))
	}
	idx := make([]uint16, 0, nface*3)
	for f := 0; f < nface; f++ {
		idx = append(idx, uint16(f), uint16(f+1), uint16(f+2))
	}
	binary.Write(&buf, binary.LittleEndian, idx)
	return buf.Bytes()
}

// cortoPayload fans nvert-2 triangles around vertex 1.
func cortoPayload(nvert int, textured bool) []byte {
	pos := make([][3]float32, nvert)
	for v := range pos {
		pos[v] = vertex(v)
	}
	var uvs [][2]float32
	if textured {
		uvs = make([][2]float32, nvert)
	}
	return cortotest.Fan(pos, uvs, 1.0/64)
}

func textureGroup(i int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for k := range img.Pix {
		img.Pix[k] = byte(i * 16)
	}
	var pngData bytes.Buffer
	png.Encode(&pngData, img)

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, uint32(pngData.Len()))
	buf.Write(pngData.Bytes())
	return buf.Bytes()
}

type jsonAttr struct {
	Type   uint8 `json:"type"`
	Number uint8 `json:"number"`
}

var vertexNames = map[int]string{nxs.Position: "POSITION", nxs.Normal: "NORMAL", nxs.Color: "COLOR_0", nxs.TexCoord: "UV_0"}

// Encode serializes a v3 container. Payload and texture offsets in ix are
// assigned here, page aligned, and Header.IndexOffset is filled in.
func Encode(h *nxs.Header, ix *nxs.Index, payloads, textures [][]byte) []byte {
	doc := map[string]any{
		"nvert":      h.NVert,
		"nface":      h.NFace,
		"n_nodes":    len(ix.Nodes),
		"n_patches":  len(ix.Patches),
		"n_textures": len(ix.Textures),
		"sphere":     map[string]any{"radius": h.Sphere.Radius, "center": h.Sphere.Center},
	}
	vertex := map[string]jsonAttr{}
	for slot, name := range vertexNames {
		if a := h.Signature.Vertex[slot]; a.Present() {
			vertex[name] = jsonAttr{uint8(a.Type), a.Number}
		}
	}
	face := map[string]jsonAttr{}
	if a := h.Signature.Face[nxs.FaceIndex]; a.Present() {
		face["INDEX"] = jsonAttr{uint8(a.Type), a.Number}
	}
	doc["signature"] = map[string]any{"vertex": vertex, "face": face, "flags": h.Signature.Flags}

	text, _ := json.Marshal(doc)
	for len(text)%4 != 0 {
		text = append(text, ' ')
	}
	h.IndexOffset = int64(12 + len(text))

	indexSize := len(ix.Nodes)*48 + len(ix.Patches)*16 + len(ix.Textures)*8
	pos := pageAlign(int(h.IndexOffset) + indexSize)
	for i := range ix.Nodes {
		ix.Nodes[i].Offset = uint64(pos)
		ix.Nodes[i].Size = 0
		if i < len(payloads) {
			ix.Nodes[i].Size = uint64(len(payloads[i]))
		}
		pos = pageAlign(pos + int(ix.Nodes[i].Size))
	}
	for i := range ix.Textures {
		ix.Textures[i].Offset = uint64(pos)
		ix.Textures[i].Size = uint64(len(textures[i]))
		pos = pageAlign(pos + len(textures[i]))
	}

	var buf bytes.Buffer
	w := func(v any) { binary.Write(&buf, binary.LittleEndian, v) }
	w(uint32(nxs.Magic))
	w(uint32(3))
	w(uint32(len(text)))
	buf.Write(text)
	for _, n := range ix.Nodes {
		w(uint32(n.Offset / nxs.PageSize))
		w(uint32(n.Size))
		w(n.NVert)
		w(n.NFace)
		w(n.Error)
		w(n.Cone)
		w(n.Sphere.Center)
		w(n.Sphere.Radius)
		w(n.TightRadius)
		w(n.FirstPatch)
	}
	for _, p := range ix.Patches {
		w([4]uint32{p.Node, p.TriangleEnd, p.Texture, p.Material})
	}
	for _, t := range ix.Textures {
		w(uint32(t.Offset / nxs.PageSize))
		w(uint32(t.Size))
	}

	out := make([]byte, pos)
	copy(out, buf.Bytes())
	for i, p := range payloads {
		copy(out[ix.Nodes[i].Offset:], p)
	}
	for i, t := range textures {
		copy(out[ix.Textures[i].Offset:], t)
	}
	return out
}

func pageAlign(n int) int {
	return (n + nxs.PageSize - 1) / nxs.PageSize * nxs.PageSize
}

// Open opens f through a Memory fetcher and fails the test on error.
func Open(t testing.TB, f *Fixture, opts ...nexus.Option) (*nexus.Mesh, *Memory) {
	t.Helper()
	mem := NewMemory(f.Data)
	m, err := nexus.Open(context.Background(), mem, opts...)
	if err != nil {
		t.Fatalf("opening fixture: %v", err)
	}
	mem.Reset()
	return m, mem
}

// Memory serves ranges of an in-memory container and records traffic.
type Memory struct {
	data []byte

	mu          sync.Mutex
	calls       map[[2]int64]int
	failures    map[[2]int64][]error
	gate        chan struct{}
	inflight    int
	maxInflight int
}

// NewMemory creates a fetcher over data.
func NewMemory(data []byte) *Memory {
	m := &Memory{data: data}
	m.Reset()
	return m
}

// Reset clears the recorded traffic and any queued failures.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make(map[[2]int64]int)
	m.failures = make(map[[2]int64][]error)
	m.maxInflight = 0
}

// Fail queues errors returned by the next fetches of [start, end), in order.
func (m *Memory) Fail(start, end int64, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int64{start, end}
	m.failures[key] = append(m.failures[key], errs...)
}

// Hold makes fetches wait until the returned release function is called
// or their context ends.
func (m *Memory) Hold() (release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gate := make(chan struct{})
	m.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.gate == gate {
				m.gate = nil
			}
			m.mu.Unlock()
			close(gate)
		})
	}
}

// Calls reports how many fetches of [start, end) were issued.
func (m *Memory) Calls(start, end int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[[2]int64{start, end}]
}

// MaxInflight is the highest number of concurrent fetches seen.
func (m *Memory) MaxInflight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInflight
}

// Fetch implements fetch.Fetcher.
func (m *Memory) Fetch(ctx context.Context, start, end int64) ([]byte, error) {
	key := [2]int64{start, end}
	m.mu.Lock()
	m.calls[key]++
	m.inflight++
	m.maxInflight = max(m.maxInflight, m.inflight)
	gate := m.gate
	var injected error
	if q := m.failures[key]; len(q) > 0 {
		injected, m.failures[key] = q[0], q[1:]
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inflight--
		m.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if injected != nil {
		return nil, injected
	}
	if start < 0 || end > int64(len(m.data)) || start > end {
		return nil, &fetch.TransportError{Op: "read", Source: "memory", Err: io.ErrUnexpectedEOF}
	}
	return append([]byte(nil), m.data[start:end]...), nil
}
