package nxs

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Header is the container header of either version.
type Header struct {
	Version   uint32
	NVert     uint64
	NFace     uint64
	Signature Signature
	NNodes    uint32
	NPatches  uint32
	NTextures uint32
	Sphere    Sphere
	Materials []Material

	// IndexOffset is the byte offset of the index in the container.
	IndexOffset int64
}

// IndexSize is the byte length of the index.
func (h *Header) IndexSize() int64 {
	if h.Version == 2 {
		return int64(h.NNodes)*nodeSizeV2 + int64(h.NPatches)*patchSizeV2 + int64(h.NTextures)*textureSizeV2
	}
	return int64(h.NNodes)*nodeSizeV3 + int64(h.NPatches)*patchSizeV3 + int64(h.NTextures)*textureSizeV3
}

// ProbeSize is how many leading bytes to read before calling HeaderSize.
// It covers a whole v2 header.
const ProbeSize = headerSizeV2

type rawHeaderV2 struct {
	Magic     uint32
	Version   uint32
	NVert     uint64
	NFace     uint64
	Vertex    [8][2]uint8
	Face      [8][2]uint8
	Flags     uint32
	NNodes    uint32
	NPatches  uint32
	NTextures uint32
	Sphere    [4]float32
}

// HeaderSize returns the total header length given at least its first 12
// bytes.
func HeaderSize(prefix []byte) (int, error) {
	if len(prefix) < 8 {
		return 0, ErrTruncated
	}
	if binary.LittleEndian.Uint32(prefix) != Magic {
		return 0, ErrInvalidMagic
	}
	switch version := binary.LittleEndian.Uint32(prefix[4:]); version {
	case 2:
		return headerSizeV2, nil
	case 3:
		if len(prefix) < headerPrefixV3 {
			return 0, ErrTruncated
		}
		length := binary.LittleEndian.Uint32(prefix[8:])
		if length > 1<<24 {
			return 0, formatErr("json_length", "%d bytes", length)
		}
		return headerPrefixV3 + int(length), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
}

// ParseHeader parses a complete header.
func ParseHeader(data []byte) (*Header, error) {
	size, err := HeaderSize(data)
	if err != nil {
		return nil, err
	}
	if len(data) < size {
		return nil, ErrTruncated
	}

	var h *Header
	if binary.LittleEndian.Uint32(data[4:]) == 2 {
		h, err = parseHeaderV2(data[:size])
	} else {
		h, err = parseHeaderV3(data[headerPrefixV3:size])
	}
	if err != nil {
		return nil, err
	}
	h.IndexOffset = int64(size)

	if err := h.validate(); err != nil {
		return nil, err
	}
	return h, nil
}

func parseHeaderV2(data []byte) (*Header, error) {
	var raw rawHeaderV2
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &raw); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	h := &Header{
		Version:   raw.Version,
		NVert:     raw.NVert,
		NFace:     raw.NFace,
		NNodes:    raw.NNodes,
		NPatches:  raw.NPatches,
		NTextures: raw.NTextures,
		Sphere: Sphere{
			Center: [3]float32{raw.Sphere[0], raw.Sphere[1], raw.Sphere[2]},
			Radius: raw.Sphere[3],
		},
	}
	for i := 0; i < 8; i++ {
		h.Signature.Vertex[i] = Attribute{Type: AttrType(raw.Vertex[i][0]), Number: raw.Vertex[i][1]}
		h.Signature.Face[i] = Attribute{Type: AttrType(raw.Face[i][0]), Number: raw.Face[i][1]}
	}
	h.Signature.Flags = raw.Flags
	return h, nil
}

// Vertex slot names used by v3 headers.
var vertexSlotNames = [8]string{"POSITION", "NORMAL", "COLOR_0", "UV_0", "UV_1", "WEIGHTS_0", "JOINTS_0"}

type jsonAttribute struct {
	Type   uint8 `json:"type"`
	Number uint8 `json:"number"`
}

type jsonTextureRef struct {
	Index int32   `json:"index"`
	Scale float32 `json:"scale"`
}

type jsonMaterial struct {
	PBR *struct {
		BaseColorFactor          []float32       `json:"baseColorFactor"`
		BaseColorTexture         *jsonTextureRef `json:"baseColorTexture"`
		MetallicFactor           *float32        `json:"metallicFactor"`
		RoughnessFactor          *float32        `json:"roughnessFactor"`
		MetallicRoughnessTexture *jsonTextureRef `json:"metallicRoughnessTexture"`
	} `json:"pbrMetallicRoughness"`
	NormalTexture *jsonTextureRef `json:"normalTexture"`
}

type jsonHeader struct {
	NVert     uint64 `json:"nvert"`
	NFace     uint64 `json:"nface"`
	NNodes    uint32 `json:"n_nodes"`
	NPatches  uint32 `json:"n_patches"`
	NTextures uint32 `json:"n_textures"`
	Sphere    struct {
		Radius float32    `json:"radius"`
		Center [3]float32 `json:"center"`
	} `json:"sphere"`
	Signature struct {
		Vertex map[string]jsonAttribute `json:"vertex"`
		Face   map[string]jsonAttribute `json:"face"`
		Flags  uint32                   `json:"flags"`
	} `json:"signature"`
	Materials []jsonMaterial `json:"materials"`
}

func parseHeaderV3(text []byte) (*Header, error) {
	text = bytes.TrimRight(text, "\x00 \n")

	var doc any
	if err := json.Unmarshal(text, &doc); err != nil {
		return nil, formatErr("json header", "%v", err)
	}
	if err := headerSchema().Validate(doc); err != nil {
		return nil, formatErr("json header", "%v", err)
	}

	var raw jsonHeader
	if err := json.Unmarshal(text, &raw); err != nil {
		return nil, formatErr("json header", "%v", err)
	}

	h := &Header{
		Version:   3,
		NVert:     raw.NVert,
		NFace:     raw.NFace,
		NNodes:    raw.NNodes,
		NPatches:  raw.NPatches,
		NTextures: raw.NTextures,
		Sphere:    Sphere{Center: raw.Sphere.Center, Radius: raw.Sphere.Radius},
	}
	for i, name := range vertexSlotNames {
		if a, ok := raw.Signature.Vertex[name]; ok && name != "" {
			h.Signature.Vertex[i] = Attribute{Type: AttrType(a.Type), Number: a.Number}
		}
	}
	if a, ok := raw.Signature.Face["INDEX"]; ok {
		h.Signature.Face[FaceIndex] = Attribute{Type: AttrType(a.Type), Number: a.Number}
	}
	h.Signature.Flags = raw.Signature.Flags

	for _, m := range raw.Materials {
		h.Materials = append(h.Materials, m.material())
	}
	return h, nil
}

func (m jsonMaterial) material() Material {
	out := Material{
		BaseColor:    [4]float32{1, 1, 1, 1},
		BaseColorMap: -1,
		Roughness:    1,
		MetallicMap:  -1,
		NormalMap:    -1,
		NormalScale:  1,
	}
	if pbr := m.PBR; pbr != nil {
		if len(pbr.BaseColorFactor) == 4 {
			copy(out.BaseColor[:], pbr.BaseColorFactor)
		}
		if pbr.BaseColorTexture != nil {
			out.BaseColorMap = pbr.BaseColorTexture.Index
		}
		if pbr.MetallicFactor != nil {
			out.Metallic = *pbr.MetallicFactor
		}
		if pbr.RoughnessFactor != nil {
			out.Roughness = *pbr.RoughnessFactor
		}
		if pbr.MetallicRoughnessTexture != nil {
			out.MetallicMap = pbr.MetallicRoughnessTexture.Index
		}
	}
	if m.NormalTexture != nil {
		out.NormalMap = m.NormalTexture.Index
		if m.NormalTexture.Scale != 0 {
			out.NormalScale = m.NormalTexture.Scale
		}
	}
	return out
}

func (h *Header) validate() error {
	if h.NNodes == 0 {
		return formatErr("n_nodes", "a container needs at least the sink node")
	}
	if h.Signature.Flags&FlagMECO != 0 {
		return formatErr("signature.flags", "meco compression is not supported")
	}
	if !h.Signature.Vertex[Position].Present() {
		return formatErr("signature", "no position attribute")
	}
	for i, a := range h.Signature.Vertex {
		if a.Type > TypeDouble {
			return formatErr("signature", "vertex slot %d has type %d", i, a.Type)
		}
	}
	for i, a := range h.Signature.Face {
		if a.Type > TypeDouble {
			return formatErr("signature", "face slot %d has type %d", i, a.Type)
		}
	}
	return nil
}
