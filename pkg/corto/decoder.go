// Package corto decodes the compressed node payloads of nexus files: a
// tunstall entropy layer, connectivity reconstruction and per-attribute
// prediction.
package corto

import (
	"fmt"
)

// Magic identifies a compressed payload.
const Magic = 2021286656

// Geometry is a fully decoded node payload.
type Geometry struct {
	NVert int
	NFace int

	Positions []float32 // 3 per vertex
	Normals   []int16   // 3 per vertex, unit length scaled by 32767
	Colors    []uint8   // RGBA per vertex
	UVs       []float32 // 2 per vertex
	Index     []uint32  // 3 per face

	// IndexWidth is the storage width in bytes a renderer should use for
	// Index: 2 when every index fits in 16 bits, 4 otherwise.
	IndexWidth int

	Groups []Group
	Exif   map[string]string
	Data   map[string][]float32 // attributes with no dedicated slot
}

// ByteSize estimates the memory held by the decoded buffers.
func (g *Geometry) ByteSize() int {
	return len(g.Positions)*4 + len(g.Normals)*2 + len(g.Colors) + len(g.UVs)*4 + len(g.Index)*g.IndexWidth
}

// Options constrain decoding.
type Options struct {
	// ExpectVertices and ExpectFaces reject payloads whose header disagrees
	// with the index. Zero disables the check.
	ExpectVertices int
	ExpectFaces    int
}

// Decoder holds one parsed payload header and decodes it once.
type Decoder struct {
	Version    int32
	Entropy    uint8
	Exif       map[string]string
	Attributes []*Attribute
	NVert      int
	NFace      int

	s *stream
}

// NewDecoder parses the payload header.
func NewDecoder(data []byte) (*Decoder, error) {
	s := newStream(data)
	if magic := s.i32(); s.err != nil || magic != Magic {
		if s.err != nil {
			return nil, decodeErr("header", s.err)
		}
		return nil, decodeErr("header", fmt.Errorf("%w: 0x%08x", ErrInvalidMagic, uint32(magic)))
	}

	d := &Decoder{s: s, Exif: make(map[string]string)}
	d.Version = s.i32()
	d.Entropy = s.u8()

	n := s.i32()
	if n < 0 || n > 1<<12 {
		return nil, decodeErr("header", ErrTooLarge)
	}
	for i := int32(0); i < n; i++ {
		key := s.str()
		d.Exif[key] = s.str()
	}

	n = s.i32()
	if n < 0 || n > 64 {
		return nil, decodeErr("header", ErrTooLarge)
	}
	for i := int32(0); i < n; i++ {
		a := &Attribute{Name: s.str()}
		codec := Kind(s.i32())
		switch codec {
		case KindNormal, KindColor:
			a.Kind = codec
		default:
			a.Kind = KindGeneric
		}
		a.Q = s.f32()
		a.Components = int(s.u8())
		a.Type = Type(s.u8())
		a.Strategy = Strategy(s.u8())
		d.Attributes = append(d.Attributes, a)
	}

	nvert := s.i32()
	nface := s.i32()
	if s.err != nil {
		return nil, decodeErr("header", s.err)
	}
	if nvert < 0 || nface < 0 || nvert > maxDeclaredSize || nface > maxDeclaredSize {
		return nil, decodeErr("header", ErrTooLarge)
	}
	d.NVert = int(nvert)
	d.NFace = int(nface)
	return d, nil
}

// Attribute returns the attribute with the given name, or nil.
func (d *Decoder) Attribute(name string) *Attribute {
	for _, a := range d.Attributes {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// Decode reconstructs the payload. It either returns a complete geometry
// or an error; nothing partial is ever returned.
func (d *Decoder) Decode(opts Options) (*Geometry, error) {
	if d.s == nil {
		return nil, decodeErr("decode", fmt.Errorf("payload already decoded"))
	}
	s := d.s
	d.s = nil

	if opts.ExpectVertices > 0 && opts.ExpectVertices != d.NVert ||
		opts.ExpectFaces > 0 && opts.ExpectFaces != d.NFace {
		return nil, decodeErr("header", fmt.Errorf("%w: payload %d/%d, index %d/%d",
			ErrInconsistentSize, d.NVert, d.NFace, opts.ExpectVertices, opts.ExpectFaces))
	}

	for _, a := range d.Attributes {
		if err := a.init(d.NVert); err != nil {
			return nil, decodeErr(a.Name, err)
		}
	}

	ix := newConnectivity(d.NVert, d.NFace)
	if err := ix.decodeGroups(s); err != nil {
		return nil, decodeErr("groups", err)
	}

	var context []uint32
	if d.NFace > 0 {
		if err := ix.decode(s); err != nil {
			return nil, decodeErr("connectivity", err)
		}
		context = ix.prediction
	}

	for _, a := range d.Attributes {
		if err := a.decode(s); err != nil {
			return nil, decodeErr(a.Name, err)
		}
	}
	for _, a := range d.Attributes {
		a.deltaDecode(d.NVert, context)
	}
	position := d.Attribute("position")
	for _, a := range d.Attributes {
		if err := a.postDelta(d.NVert, ix.faces, position); err != nil {
			return nil, decodeErr(a.Name, err)
		}
	}
	for _, a := range d.Attributes {
		a.dequantize(d.NVert)
	}

	g := &Geometry{
		NVert:      d.NVert,
		NFace:      d.NFace,
		Index:      ix.faces,
		IndexWidth: 2,
		Groups:     ix.groups,
		Exif:       d.Exif,
	}
	if d.NVert > 1<<16 {
		g.IndexWidth = 4
	}
	for _, a := range d.Attributes {
		switch {
		case a.Kind == KindNormal:
			g.Normals = a.shorts
		case a.Kind == KindColor:
			g.Colors = a.bytes
		case a.Name == "position":
			g.Positions = a.floats
		case a.Name == "uv":
			g.UVs = a.floats
		default:
			if g.Data == nil {
				g.Data = make(map[string][]float32)
			}
			g.Data[a.Name] = a.floats
		}
	}
	return g, nil
}

// Decode parses and decodes a payload in one call.
func Decode(data []byte, opts Options) (*Geometry, error) {
	d, err := NewDecoder(data)
	if err != nil {
		return nil, err
	}
	return d.Decode(opts)
}
