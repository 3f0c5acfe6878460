package nxs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Faultbox/nxstream/pkg/corto"
)

// ParseRaw reads an uncompressed node payload: positions, texture
// coordinates, normals and colors as the signature declares them, then
// 16-bit triangle indices.
func ParseRaw(sig Signature, nvert, nface int, data []byte) (*corto.Geometry, error) {
	size := nvert*sig.VertexSize() + nface*sig.FaceSize()
	if len(data) < size {
		return nil, fmt.Errorf("%w: raw node needs %d bytes, have %d", ErrTruncated, size, len(data))
	}

	g := &corto.Geometry{
		NVert:      nvert,
		NFace:      nface,
		Positions:  make([]float32, nvert*3),
		IndexWidth: 2,
	}
	r := bytes.NewReader(data)
	read := func(v any) error {
		return binary.Read(r, binary.LittleEndian, v)
	}

	if err := read(g.Positions); err != nil {
		return nil, fmt.Errorf("reading positions: %w", err)
	}
	if sig.Vertex[TexCoord].Present() {
		g.UVs = make([]float32, nvert*2)
		if err := read(g.UVs); err != nil {
			return nil, fmt.Errorf("reading texture coordinates: %w", err)
		}
	}
	if sig.Vertex[Normal].Present() {
		g.Normals = make([]int16, nvert*3)
		if err := read(g.Normals); err != nil {
			return nil, fmt.Errorf("reading normals: %w", err)
		}
	}
	if sig.Vertex[Color].Present() {
		g.Colors = make([]uint8, nvert*4)
		if err := read(g.Colors); err != nil {
			return nil, fmt.Errorf("reading colors: %w", err)
		}
	}

	indices := make([]uint16, nface*3)
	if err := read(indices); err != nil {
		return nil, fmt.Errorf("reading faces: %w", err)
	}
	g.Index = make([]uint32, len(indices))
	for i, v := range indices {
		if int(v) >= nvert {
			return nil, formatErr("face", "index %d out of %d vertices", v, nvert)
		}
		g.Index[i] = uint32(v)
	}
	return g, nil
}

// ParseTextureGroup splits a texture group payload into its images. A v2
// group is a single image; a v3 group is a u32 map count followed by
// (u32 size, bytes) records.
func ParseTextureGroup(version uint32, data []byte) ([][]byte, error) {
	if version == 2 {
		return [][]byte{data}, nil
	}
	if len(data) < 4 {
		return nil, ErrTruncated
	}
	n := binary.LittleEndian.Uint32(data)
	if n > 64 {
		return nil, formatErr("texture group", "%d maps", n)
	}
	pos := 4
	maps := make([][]byte, 0, n)
	for i := uint32(0); i < n; i++ {
		if pos+4 > len(data) {
			return nil, ErrTruncated
		}
		size := int(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4
		if size < 0 || pos+size > len(data) {
			return nil, ErrTruncated
		}
		maps = append(maps, data[pos:pos+size])
		pos += size
	}
	return maps, nil
}
