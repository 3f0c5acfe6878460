package nxs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
)

func makeHeaderV2(nodes, patches, textures, flags uint32) []byte {
	raw := rawHeaderV2{
		Magic:     Magic,
		Version:   2,
		NVert:     1000,
		NFace:     1800,
		Flags:     flags,
		NNodes:    nodes,
		NPatches:  patches,
		NTextures: textures,
		Sphere:    [4]float32{1, 2, 3, 10},
	}
	raw.Vertex[Position] = [2]uint8{uint8(TypeFloat), 3}
	raw.Vertex[Normal] = [2]uint8{uint8(TypeShort), 3}
	raw.Vertex[Color] = [2]uint8{uint8(TypeUnsignedByte), 4}
	raw.Face[FaceIndex] = [2]uint8{uint8(TypeUnsignedShort), 3}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, &raw)
	return buf.Bytes()
}

func makeHeaderV3(json string) []byte {
	for len(json)%4 != 0 {
		json += " "
	}
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(Magic))
	binary.Write(&buf, binary.LittleEndian, uint32(3))
	binary.Write(&buf, binary.LittleEndian, uint32(len(json)))
	buf.WriteString(json)
	return buf.Bytes()
}

const headerV3JSON = `{
  "nvert": 5000, "nface": 9000,
  "n_nodes": 3, "n_patches": 2, "n_textures": 1,
  "sphere": {"radius": 4.5, "center": [0.5, 1, -2]},
  "signature": {
    "vertex": {
      "POSITION": {"type": 7, "number": 3},
      "UV_0": {"type": 7, "number": 2}
    },
    "face": {"INDEX": {"type": 4, "number": 3}},
    "flags": 4
  },
  "materials": [
    {
      "pbrMetallicRoughness": {
        "baseColorFactor": [0.5, 0.25, 1, 1],
        "baseColorTexture": {"index": 0},
        "metallicFactor": 0.2
      },
      "normalTexture": {"index": 1, "scale": 0.9}
    }
  ]
}`

type testNode struct {
	offset     uint32 // pages
	size       uint32 // v3 only
	nvert      uint16
	nface      uint16
	error      float32
	firstPatch uint32
}

func makeIndex(version uint32, nodes []testNode, patches [][4]uint32, textures [][2]uint32) []byte {
	var buf bytes.Buffer
	w := func(v any) { binary.Write(&buf, binary.LittleEndian, v) }
	for _, n := range nodes {
		w(n.offset)
		if version == 3 {
			w(n.size)
		}
		w(n.nvert)
		w(n.nface)
		w(n.error)
		w([4]int16{1, 2, 3, 4})
		w([5]float32{0, 0, 0, 2, 1.5})
		w(n.firstPatch)
	}
	for _, p := range patches {
		w(p[0])
		w(p[1])
		w(p[2])
		if version == 3 {
			w(p[3])
		}
	}
	for _, t := range textures {
		w(t[0])
		if version == 3 {
			w(t[1])
		} else {
			w([16]float32{})
		}
	}
	return buf.Bytes()
}

func TestHeaderSize(t *testing.T) {
	v3 := makeHeaderV3(headerV3JSON)
	badMagic := makeHeaderV2(3, 2, 0, FlagCorto)
	badMagic[0] = 'X'
	badVersion := makeHeaderV2(3, 2, 0, FlagCorto)
	binary.LittleEndian.PutUint32(badVersion[4:], 5)

	tests := []struct {
		name    string
		data    []byte
		want    int
		wantErr error
	}{
		{"v2", makeHeaderV2(3, 2, 0, FlagCorto), 88, nil},
		{"v3", v3[:12], len(v3), nil},
		{"v3 prefix too short", v3[:10], 0, ErrTruncated},
		{"empty", nil, 0, ErrTruncated},
		{"invalid magic", badMagic, 0, ErrInvalidMagic},
		{"unsupported version", badVersion, 0, ErrUnsupportedVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HeaderSize(tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("expected size %d, got %d", tt.want, got)
			}
		})
	}
}

func TestParseHeader_V2(t *testing.T) {
	h, err := ParseHeader(makeHeaderV2(3, 2, 0, FlagCorto))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Version != 2 || h.NVert != 1000 || h.NFace != 1800 {
		t.Errorf("unexpected counts: %+v", h)
	}
	if h.NNodes != 3 || h.NPatches != 2 || h.NTextures != 0 {
		t.Errorf("unexpected table sizes: %d/%d/%d", h.NNodes, h.NPatches, h.NTextures)
	}
	if h.Sphere.Radius != 10 || h.Sphere.Center != [3]float32{1, 2, 3} {
		t.Errorf("unexpected sphere %+v", h.Sphere)
	}
	if !h.Signature.Corto() || !h.Signature.HasFaces() {
		t.Error("expected a corto mesh signature")
	}
	if got := h.Signature.VertexSize(); got != 12+6+4 {
		t.Errorf("expected vertex size 22, got %d", got)
	}
	if h.IndexOffset != 88 {
		t.Errorf("expected index at 88, got %d", h.IndexOffset)
	}
	if got := h.IndexSize(); got != 3*44+2*12 {
		t.Errorf("unexpected index size %d", got)
	}
}

func TestParseHeader_V3(t *testing.T) {
	data := makeHeaderV3(headerV3JSON)
	h, err := ParseHeader(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Version != 3 || h.NNodes != 3 || h.NPatches != 2 || h.NTextures != 1 {
		t.Errorf("unexpected header %+v", h)
	}
	if h.IndexOffset != int64(len(data)) {
		t.Errorf("expected index at %d, got %d", len(data), h.IndexOffset)
	}
	if h.Sphere.Center != [3]float32{0.5, 1, -2} || h.Sphere.Radius != 4.5 {
		t.Errorf("unexpected sphere %+v", h.Sphere)
	}
	if a := h.Signature.Vertex[TexCoord]; a.Type != TypeFloat || a.Number != 2 {
		t.Errorf("unexpected uv slot %+v", a)
	}
	if h.Signature.Vertex[Normal].Present() {
		t.Error("normal slot should be empty")
	}
	if h.IndexSize() != 3*48+2*16+8 {
		t.Errorf("unexpected index size %d", h.IndexSize())
	}

	if len(h.Materials) != 1 {
		t.Fatalf("expected 1 material, got %d", len(h.Materials))
	}
	m := h.Materials[0]
	if m.BaseColor != [4]float32{0.5, 0.25, 1, 1} || m.BaseColorMap != 0 {
		t.Errorf("unexpected base color %+v", m)
	}
	if m.Metallic != 0.2 || m.Roughness != 1 || m.MetallicMap != -1 {
		t.Errorf("unexpected metal/roughness %+v", m)
	}
	if m.NormalMap != 1 || m.NormalScale != 0.9 {
		t.Errorf("unexpected normal map %+v", m)
	}
}

func TestParseHeader_Invalid(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		wantFormat bool
		wantErr    error
	}{
		{"meco", makeHeaderV2(3, 2, 0, FlagMECO), true, nil},
		{"no nodes", makeHeaderV2(0, 0, 0, FlagCorto), true, nil},
		{"truncated v2", makeHeaderV2(3, 2, 0, FlagCorto)[:60], false, ErrTruncated},
		{"truncated v3", makeHeaderV3(headerV3JSON)[:40], false, ErrTruncated},
		{"json syntax", makeHeaderV3(`{"nvert": `), true, nil},
		{"schema violation", makeHeaderV3(`{"nvert": 1, "nface": 1, "n_patches": 0, "n_textures": 0,
			"sphere": {"radius": 1, "center": [0, 0, 0]}, "signature": {"vertex": {}, "flags": 4}}`), true, nil},
		{"negative count", makeHeaderV3(`{"nvert": -1, "nface": 1, "n_nodes": 1, "n_patches": 0, "n_textures": 0,
			"sphere": {"radius": 1, "center": [0, 0, 0]}, "signature": {"vertex": {}, "flags": 4}}`), true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHeader(tt.data)
			if err == nil {
				t.Fatal("expected an error")
			}
			var fe *FormatError
			if tt.wantFormat && !errors.As(err, &fe) {
				t.Errorf("expected a FormatError, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseIndex_V2(t *testing.T) {
	h, err := ParseHeader(makeHeaderV2(4, 3, 2, FlagCorto))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	nodes := []testNode{
		{offset: 1, nvert: 100, nface: 150, error: 8, firstPatch: 0},
		{offset: 3, nvert: 90, nface: 140, error: 6, firstPatch: 2},
		{offset: 4, nvert: 80, nface: 130, error: 2, firstPatch: 3},
		{offset: 9, firstPatch: 3},
	}
	patches := [][4]uint32{
		{1, 70, 0},
		{3, 150, 0},
		{3, 140, NoTexture},
	}
	data := makeIndex(2, nodes, patches, [][2]uint32{{10}, {12}})

	ix, err := ParseIndex(h, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantSizes := []uint64{512, 256, 1280, 0}
	for i, n := range ix.Nodes {
		if n.Offset != uint64(nodes[i].offset)*PageSize {
			t.Errorf("node %d: unexpected offset %d", i, n.Offset)
		}
		if n.Size != wantSizes[i] {
			t.Errorf("node %d: expected size %d, got %d", i, wantSizes[i], n.Size)
		}
	}
	if n := ix.Nodes[0]; n.NVert != 100 || n.NFace != 150 || n.Error != 8 || n.TightRadius != 1.5 || n.Sphere.Radius != 2 {
		t.Errorf("unexpected node 0 %+v", n)
	}
	if ix.Textures[0].Offset != 2560 || ix.Textures[0].Size != 512 {
		t.Errorf("unexpected texture %+v", ix.Textures[0])
	}
	if first, end := ix.PatchRange(0); first != 0 || end != 2 {
		t.Errorf("unexpected patch range [%d, %d)", first, end)
	}
	if first, end := ix.PatchRange(ix.Sink()); first != end {
		t.Errorf("sink should own no patches, got [%d, %d)", first, end)
	}
	if got := ix.Roots(); got != 1 {
		t.Errorf("expected 1 root, got %d", got)
	}
}

func TestParseIndex_V3(t *testing.T) {
	h, err := ParseHeader(makeHeaderV3(headerV3JSON))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	nodes := []testNode{
		{offset: 1, size: 300, nvert: 10, nface: 12, error: 3, firstPatch: 0},
		{offset: 3, size: 200, nvert: 10, nface: 12, error: 2, firstPatch: 1},
		{offset: 5, firstPatch: 2},
	}
	patches := [][4]uint32{{2, 12, 0, 0}, {2, 12, 0, 0}}
	ix, err := ParseIndex(h, makeIndex(3, nodes, patches, [][2]uint32{{7, 4000}}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ix.Nodes[0].Size != 300 || ix.Nodes[0].End() != 256+300 {
		t.Errorf("unexpected node extent %+v", ix.Nodes[0])
	}
	if ix.Textures[0].Offset != 7*256 || ix.Textures[0].Size != 4000 {
		t.Errorf("unexpected texture %+v", ix.Textures[0])
	}
	if got := ix.Roots(); got != 2 {
		t.Errorf("expected 2 roots, got %d", got)
	}
}

func TestParseIndex_Invalid(t *testing.T) {
	h, err := ParseHeader(makeHeaderV2(3, 2, 1, FlagCorto))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	good := []testNode{
		{offset: 1, nface: 10, firstPatch: 0},
		{offset: 2, nface: 10, firstPatch: 1},
		{offset: 3, firstPatch: 2},
	}
	mutate := func(f func(n []testNode)) []testNode {
		n := append([]testNode{}, good...)
		f(n)
		return n
	}

	tests := []struct {
		name    string
		nodes   []testNode
		patches [][4]uint32
	}{
		{"child before parent", good, [][4]uint32{{0, 10, 0}, {2, 10, 0}}},
		{"child past sink", good, [][4]uint32{{1, 10, 0}, {7, 10, 0}}},
		{"unknown texture", good, [][4]uint32{{1, 10, 4}, {2, 10, 0}}},
		{"triangles past node", good, [][4]uint32{{1, 11, 0}, {2, 10, 0}}},
		{"offsets decrease", mutate(func(n []testNode) { n[1].offset = 0 }), [][4]uint32{{1, 10, 0}, {2, 10, 0}}},
		{"patches not monotone", mutate(func(n []testNode) { n[2].firstPatch = 0 }), [][4]uint32{{1, 10, 0}, {2, 10, 0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseIndex(h, makeIndex(2, tt.nodes, tt.patches, [][2]uint32{{9}}))
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Errorf("expected a FormatError, got %v", err)
			}
		})
	}

	t.Run("truncated", func(t *testing.T) {
		data := makeIndex(2, good, [][4]uint32{{1, 10, 0}, {2, 10, 0}}, [][2]uint32{{9}})
		if _, err := ParseIndex(h, data[:len(data)-1]); !errors.Is(err, ErrTruncated) {
			t.Errorf("expected ErrTruncated, got %v", err)
		}
	})
}

func TestParseRaw(t *testing.T) {
	sig := Signature{Flags: 0}
	sig.Vertex[Position] = Attribute{TypeFloat, 3}
	sig.Vertex[TexCoord] = Attribute{TypeFloat, 2}
	sig.Vertex[Color] = Attribute{TypeUnsignedByte, 4}
	sig.Face[FaceIndex] = Attribute{TypeUnsignedShort, 3}

	var buf bytes.Buffer
	w := func(v any) { binary.Write(&buf, binary.LittleEndian, v) }
	w([]float32{0, 0, 0, 1, 0, 0, 0, 1, 0})
	w([]float32{0, 0, 1, 0, 0, 1})
	w([]uint8{255, 0, 0, 255, 0, 255, 0, 255, 0, 0, 255, 255})
	w([]uint16{0, 1, 2})

	g, err := ParseRaw(sig, 3, 1, buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Positions[3] != 1 || g.UVs[2] != 1 || g.Colors[5] != 255 {
		t.Errorf("unexpected attributes %+v", g)
	}
	if fmt.Sprint(g.Index) != "[0 1 2]" {
		t.Errorf("unexpected index %v", g.Index)
	}
	if g.Normals != nil {
		t.Error("normals should be absent")
	}

	if _, err := ParseRaw(sig, 3, 1, buf.Bytes()[:40]); !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}

	bad := append([]byte{}, buf.Bytes()...)
	binary.LittleEndian.PutUint16(bad[len(bad)-2:], 3)
	var fe *FormatError
	if _, err := ParseRaw(sig, 3, 1, bad); !errors.As(err, &fe) {
		t.Errorf("expected a FormatError, got %v", err)
	}
}

func TestParseTextureGroup(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(2))
	binary.Write(&buf, binary.LittleEndian, uint32(3))
	buf.WriteString("abc")
	binary.Write(&buf, binary.LittleEndian, uint32(2))
	buf.WriteString("de")

	maps, err := ParseTextureGroup(3, buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(maps) != 2 || string(maps[0]) != "abc" || string(maps[1]) != "de" {
		t.Errorf("unexpected maps %q", maps)
	}

	if _, err := ParseTextureGroup(3, buf.Bytes()[:9]); !errors.Is(err, ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}

	single, err := ParseTextureGroup(2, []byte("jpeg"))
	if err != nil || len(single) != 1 {
		t.Errorf("expected one image, got %d (%v)", len(single), err)
	}
}
