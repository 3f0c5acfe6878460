// Package nxs reads the nexus multiresolution container: a header, an
// index of nodes, patches and textures, and the node payloads addressed by
// the index.
package nxs

import (
	"errors"
	"fmt"
)

const (
	// Magic is "Nxs " read as a little-endian u32.
	Magic = 0x4E787320

	// PageSize is the granularity of payload offsets.
	PageSize = 256

	// NoTexture marks a patch without a texture group.
	NoTexture = 0xffffffff

	headerSizeV2  = 88
	nodeSizeV2    = 44
	patchSizeV2   = 12
	textureSizeV2 = 68

	headerPrefixV3 = 12
	nodeSizeV3     = 48
	patchSizeV3    = 16
	textureSizeV3  = 8
)

// Signature flags.
const (
	FlagMECO  = 2
	FlagCorto = 4
)

var (
	ErrInvalidMagic       = errors.New("invalid nexus magic")
	ErrUnsupportedVersion = errors.New("unsupported nexus version")
	ErrTruncated          = errors.New("truncated nexus data")
)

// FormatError reports a structurally invalid header or index.
type FormatError struct {
	Field  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("nxs: invalid %s: %s", e.Field, e.Reason)
}

func formatErr(field, format string, args ...any) error {
	return &FormatError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// AttrType is the storage type of a signature slot.
type AttrType uint8

const (
	TypeNone AttrType = iota
	TypeByte
	TypeUnsignedByte
	TypeShort
	TypeUnsignedShort
	TypeInt
	TypeUnsignedInt
	TypeFloat
	TypeDouble
)

var attrTypeSizes = [...]int{0, 1, 1, 2, 2, 4, 4, 4, 8}

var attrTypeNames = [...]string{"none", "byte", "ubyte", "short", "ushort", "int", "uint", "float", "double"}

// Size returns the byte size of one component.
func (t AttrType) Size() int {
	if int(t) >= len(attrTypeSizes) {
		return 0
	}
	return attrTypeSizes[t]
}

func (t AttrType) String() string {
	if int(t) >= len(attrTypeNames) {
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
	return attrTypeNames[t]
}

// Attribute is one slot of a signature.
type Attribute struct {
	Type   AttrType
	Number uint8
}

// Present reports whether the slot is in use.
func (a Attribute) Present() bool {
	return a.Type != TypeNone && a.Number > 0
}

// Stride is the byte size of one element of the slot.
func (a Attribute) Stride() int {
	return a.Type.Size() * int(a.Number)
}

// Vertex slots.
const (
	Position = 0
	Normal   = 1
	Color    = 2
	TexCoord = 3
	Data0    = 4
)

// Face slots.
const (
	FaceIndex = 0
)

// Element is the eight attribute slots of a vertex or a face.
type Element [8]Attribute

// Signature describes the attributes stored for every vertex and face.
type Signature struct {
	Vertex Element
	Face   Element
	Flags  uint32
}

// Compressed reports whether node payloads use a codec.
func (s Signature) Compressed() bool {
	return s.Flags&(FlagMECO|FlagCorto) != 0
}

// Corto reports whether node payloads use the corto codec.
func (s Signature) Corto() bool {
	return s.Flags&FlagCorto != 0
}

// HasFaces reports whether nodes carry triangles.
func (s Signature) HasFaces() bool {
	return s.Face[FaceIndex].Present()
}

// VertexSize is the decoded byte size of one vertex.
func (s Signature) VertexSize() int {
	size := 12
	if s.Vertex[Normal].Present() {
		size += 6
	}
	if s.Vertex[Color].Present() {
		size += 4
	}
	if s.Vertex[TexCoord].Present() {
		size += 8
	}
	return size
}

// FaceSize is the decoded byte size of one triangle.
func (s Signature) FaceSize() int {
	return 6
}

// Sphere is a bounding sphere.
type Sphere struct {
	Center [3]float32
	Radius float32
}

// Material is a physically based material of a v3 container. Texture
// references index the maps of a texture group; -1 means none.
type Material struct {
	BaseColor    [4]float32
	BaseColorMap int32
	Metallic     float32
	Roughness    float32
	MetallicMap  int32
	NormalMap    int32
	NormalScale  float32
}
