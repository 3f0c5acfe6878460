// Package nexus holds the runtime DAG of one opened multiresolution mesh:
// the parsed header and index plus per-node streaming state shared by the
// traversal and the cache.
package nexus

import (
	"context"
	"fmt"
	"image"
	"io"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/nxstream/internal/fetch"
	"github.com/Faultbox/nxstream/internal/logger"
	"github.com/Faultbox/nxstream/pkg/corto"
	"github.com/Faultbox/nxstream/pkg/nxs"
)

// Status is the streaming state of a node.
type Status uint8

const (
	Empty           Status = iota
	PendingGeometry        // fetch or decode of the payload in flight
	PendingTexture         // geometry installed, waiting for its texture group
	Ready
)

func (s Status) String() string {
	switch s {
	case Empty:
		return "empty"
	case PendingGeometry:
		return "pending-geometry"
	case PendingTexture:
		return "pending-texture"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Node is the runtime state of one DAG node.
type Node struct {
	Status Status

	// Error is the largest view-dependent error any traversal computed for
	// the node during Frame.
	Error float32
	Frame uint64

	Retries int
	Dropped bool  // permanently failed; never admitted again
	Size    int64 // bytes charged to the cache while admitted

	Geometry *corto.Geometry
}

// TextureStatus is the state of a texture group.
type TextureStatus uint8

const (
	TextureEmpty TextureStatus = iota
	TextureLoading
	TextureReady
)

// TextureGroup is the runtime state of one texture group.
type TextureGroup struct {
	Status  TextureStatus
	Refs    int // admitted nodes using the group
	Retries int
	Images  []*image.RGBA
}

// Listener observes buffer installation and release, typically a renderer.
// Calls happen on the main loop.
type Listener interface {
	NodeReady(m *Mesh, id int)
	NodeReleased(m *Mesh, id int)
	TextureReady(m *Mesh, tex int)
	TextureReleased(m *Mesh, tex int)
}

// Mesh is one opened container.
type Mesh struct {
	Name   string
	Header *nxs.Header
	Index  *nxs.Index

	// NRoots is the number of root nodes, [0, NRoots).
	NRoots int

	Nodes    []Node
	Textures []TextureGroup

	// Frame is the last frame for which Node errors were reset.
	Frame uint64

	Fetcher fetch.Fetcher

	listeners []Listener
	closers   []io.Closer
	log       *zap.Logger
}

// Option configures Open and New.
type Option func(*options)

type options struct {
	name      string
	retrier   *fetch.Retrier
	onError   func(error)
	listeners []Listener
	closers   []io.Closer
}

// WithName labels the mesh in logs and tools.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithRetrier sets the retry policy for the header and index fetches.
func WithRetrier(r *fetch.Retrier) Option {
	return func(o *options) { o.retrier = r }
}

// OnError is called when Open fails.
func OnError(fn func(error)) Option {
	return func(o *options) { o.onError = fn }
}

// WithListener registers l before any node can become ready.
func WithListener(l Listener) Option {
	return func(o *options) { o.listeners = append(o.listeners, l) }
}

// WithCloser adds a resource released by Mesh.Close, such as a disk cache.
func WithCloser(c io.Closer) Option {
	return func(o *options) { o.closers = append(o.closers, c) }
}

// Open reads the header and index through f and builds the mesh.
// Failures here are fatal for the mesh; node payloads are fetched later by
// the cache.
func Open(ctx context.Context, f fetch.Fetcher, opts ...Option) (*Mesh, error) {
	o := options{retrier: &fetch.Retrier{MinSleep: 100 * time.Millisecond, MaxSleep: 2 * time.Second, MaxNumRetries: 2}}
	for _, opt := range opts {
		opt(&o)
	}

	h, ix, err := readIndex(ctx, f, o.retrier)
	if err != nil {
		if o.name != "" {
			err = fmt.Errorf("opening %s: %w", o.name, err)
		}
		if o.onError != nil {
			o.onError(err)
		}
		return nil, err
	}
	return newMesh(h, ix, f, o), nil
}

func readIndex(ctx context.Context, f fetch.Fetcher, r *fetch.Retrier) (*nxs.Header, *nxs.Index, error) {
	prefix, err := r.Fetch(ctx, f, 0, 12)
	if err != nil {
		return nil, nil, fmt.Errorf("reading header prefix: %w", err)
	}
	size, err := nxs.HeaderSize(prefix)
	if err != nil {
		return nil, nil, err
	}
	data, err := r.Fetch(ctx, f, 0, int64(size))
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}
	h, err := nxs.ParseHeader(data)
	if err != nil {
		return nil, nil, err
	}

	data, err = r.Fetch(ctx, f, h.IndexOffset, h.IndexOffset+h.IndexSize())
	if err != nil {
		return nil, nil, fmt.Errorf("reading index: %w", err)
	}
	ix, err := nxs.ParseIndex(h, data)
	if err != nil {
		return nil, nil, err
	}
	return h, ix, nil
}

// New builds a mesh from an already parsed header and index.
func New(h *nxs.Header, ix *nxs.Index, f fetch.Fetcher, opts ...Option) *Mesh {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return newMesh(h, ix, f, o)
}

func newMesh(h *nxs.Header, ix *nxs.Index, f fetch.Fetcher, o options) *Mesh {
	m := &Mesh{
		Name:      o.name,
		Header:    h,
		Index:     ix,
		NRoots:    ix.Roots(),
		Nodes:     make([]Node, len(ix.Nodes)),
		Textures:  make([]TextureGroup, len(ix.Textures)),
		Fetcher:   f,
		listeners: o.listeners,
		closers:   o.closers,
		log:       logger.Named("nexus").With(zap.String("mesh", o.name)),
	}
	m.estimateSizes()
	m.log.Debug("mesh opened",
		zap.Uint32("version", h.Version),
		zap.Int("nodes", len(ix.Nodes)),
		zap.Int("patches", len(ix.Patches)),
		zap.Int("textures", len(ix.Textures)),
		zap.Int("roots", m.NRoots))
	return m
}

// estimateSizes charges every node its decoded vertex and index bytes plus
// ten times the mean size of the texture groups its patches use, a rough
// allowance for decoded images.
func (m *Mesh) estimateSizes() {
	sig := m.Header.Signature
	textured := sig.Vertex[nxs.TexCoord].Present()
	for i := 0; i < m.Sink(); i++ {
		n := &m.Index.Nodes[i]
		size := int64(sig.VertexSize())*int64(n.NVert) + int64(sig.FaceSize())*int64(n.NFace)
		if textured {
			first, end := m.Index.PatchRange(i)
			var sum, count int64
			for p := first; p < end; p++ {
				if tex := m.Index.Patches[p].Texture; tex != nxs.NoTexture {
					sum += int64(m.Index.Textures[tex].Size)
					count++
				}
			}
			if count > 0 {
				size += 10 * sum / count
			}
		}
		m.Nodes[i].Size = size
	}
}

// Sink is the id of the sentinel last node.
func (m *Mesh) Sink() int {
	return len(m.Nodes) - 1
}

// IsRoot reports whether id is one of the roots.
func (m *Mesh) IsRoot(id int) bool {
	return id < m.NRoots
}

// Children calls fn for every child of id in patch order, stopping at the sink.
func (m *Mesh) Children(id int, fn func(child int)) {
	first, end := m.Index.PatchRange(id)
	sink := m.Sink()
	for p := first; p < end; p++ {
		child := int(m.Index.Patches[p].Node)
		if child == sink {
			return
		}
		fn(child)
	}
}

// NodeTexture returns the texture group of id, taken from its first patch,
// or -1 when the node is untextured.
func (m *Mesh) NodeTexture(id int) int {
	if !m.Header.Signature.Vertex[nxs.TexCoord].Present() {
		return -1
	}
	first, end := m.Index.PatchRange(id)
	if first == end {
		return -1
	}
	tex := m.Index.Patches[first].Texture
	if tex == nxs.NoTexture || int(tex) >= len(m.Textures) {
		return -1
	}
	return int(tex)
}

// NodeRange is the byte range of the payload of id.
func (m *Mesh) NodeRange(id int) (start, end int64) {
	n := &m.Index.Nodes[id]
	return int64(n.Offset), int64(n.End())
}

// TextureRange is the byte range of texture group tex.
func (m *Mesh) TextureRange(tex int) (start, end int64) {
	t := &m.Index.Textures[tex]
	return int64(t.Offset), int64(t.Offset + t.Size)
}

// BeginFrame clears the per-frame errors the first time any traversal of
// frame touches the mesh.
func (m *Mesh) BeginFrame(frame uint64) {
	if frame <= m.Frame {
		return
	}
	for i := range m.Nodes {
		m.Nodes[i].Error = 0
	}
	m.Frame = frame
}

// MergeError records err for id in frame, keeping the largest across
// traversals of the same frame.
func (m *Mesh) MergeError(id int, err float32, frame uint64) {
	n := &m.Nodes[id]
	if n.Frame != frame {
		n.Error = err
	} else {
		n.Error = max(n.Error, err)
	}
	n.Frame = frame
}

// AddListener registers l.
func (m *Mesh) AddListener(l Listener) {
	m.listeners = append(m.listeners, l)
}

// InstallGeometry stores decoded buffers for id.
func (m *Mesh) InstallGeometry(id int, g *corto.Geometry) {
	m.Nodes[id].Geometry = g
}

// SetReady marks id ready and notifies listeners.
func (m *Mesh) SetReady(id int) {
	m.Nodes[id].Status = Ready
	m.Nodes[id].Retries = 0
	for _, l := range m.listeners {
		l.NodeReady(m, id)
	}
}

// ReleaseNode drops the buffers of id and returns it to Empty. Listeners
// hear about it only if the node had been ready.
func (m *Mesh) ReleaseNode(id int) {
	n := &m.Nodes[id]
	wasReady := n.Status == Ready
	n.Status = Empty
	n.Geometry = nil
	if wasReady {
		for _, l := range m.listeners {
			l.NodeReleased(m, id)
		}
	}
}

// InstallTexture stores the decoded maps of tex and notifies listeners.
func (m *Mesh) InstallTexture(tex int, imgs []*image.RGBA) {
	t := &m.Textures[tex]
	t.Images = imgs
	t.Status = TextureReady
	t.Retries = 0
	for _, l := range m.listeners {
		l.TextureReady(m, tex)
	}
}

// ReleaseTexture drops the maps of tex.
func (m *Mesh) ReleaseTexture(tex int) {
	t := &m.Textures[tex]
	wasReady := t.Status == TextureReady
	t.Status = TextureEmpty
	t.Images = nil
	t.Retries = 0
	if wasReady {
		for _, l := range m.listeners {
			l.TextureReleased(m, tex)
		}
	}
}

// Close releases the fetcher when it holds resources, and any closers
// added with WithCloser. Resident nodes must be flushed from the cache first.
func (m *Mesh) Close() error {
	var err error
	for _, c := range m.closers {
		err = multierr.Append(err, c.Close())
	}
	if c, ok := m.Fetcher.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	m.closers = nil
	m.Fetcher = nil
	return err
}
