package corto

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Type is the storage type of a decoded attribute.
type Type uint8

const (
	TypeUint32 Type = iota
	TypeInt32
	TypeUint16
	TypeInt16
	TypeUint8
	TypeInt8
	TypeFloat
	TypeDouble
)

func (t Type) String() string {
	switch t {
	case TypeUint32:
		return "uint32"
	case TypeInt32:
		return "int32"
	case TypeUint16:
		return "uint16"
	case TypeInt16:
		return "int16"
	case TypeUint8:
		return "uint8"
	case TypeInt8:
		return "int8"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// Strategy selects how residues are predicted.
type Strategy uint8

const (
	// Parallel predicts new vertices with the parallelogram rule.
	Parallel Strategy = 1
	// Correlated shares one bit width across all components of a vertex.
	Correlated Strategy = 2
)

// Kind is the closed set of attribute codecs.
type Kind int32

const (
	KindGeneric Kind = 1
	KindNormal  Kind = 2
	KindColor   Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindGeneric:
		return "generic"
	case KindNormal:
		return "normal"
	case KindColor:
		return "color"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(k))
	}
}

// NormalPrediction is the per-payload normal reconstruction mode.
type NormalPrediction uint8

const (
	PredictDiff      NormalPrediction = 0
	PredictEstimated NormalPrediction = 1
	PredictBorder    NormalPrediction = 2
)

func (p NormalPrediction) String() string {
	switch p {
	case PredictDiff:
		return "diff"
	case PredictEstimated:
		return "estimated"
	case PredictBorder:
		return "border"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(p))
	}
}

// Attribute is one per-vertex attribute of a payload along with its
// compression context. Decoding state lives in the value, so separate
// decoders never share buffers.
type Attribute struct {
	Name       string
	Kind       Kind
	Q          float32 // quantization step, or the octahedral unit for normals
	Components int
	Type       Type
	Strategy   Strategy

	values     []int32
	count      int
	prediction NormalPrediction
	steps      [4]uint8

	floats []float32
	shorts []int16
	bytes  []uint8
}

func (a *Attribute) init(nvert int) error {
	if a.Components <= 0 || a.Components > 16 {
		return fmt.Errorf("%w: %d components", ErrUnsupportedType, a.Components)
	}
	if a.Type > TypeDouble {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, a.Type)
	}
	switch a.Kind {
	case KindNormal:
		if a.Components != 3 {
			return fmt.Errorf("%w: normal with %d components", ErrUnsupportedType, a.Components)
		}
		a.values = make([]int32, 2*nvert)
	case KindColor:
		if a.Components < 3 || a.Components > 4 {
			return fmt.Errorf("%w: color with %d components", ErrUnsupportedType, a.Components)
		}
		a.values = make([]int32, nvert*a.Components)
	default:
		a.values = make([]int32, nvert*a.Components)
	}
	return nil
}

// decode reads the residues of the attribute.
func (a *Attribute) decode(s *stream) error {
	var err error
	switch a.Kind {
	case KindNormal:
		a.prediction = NormalPrediction(s.u8())
		if a.prediction > PredictBorder {
			return fmt.Errorf("%w: normal prediction %d", ErrUnsupportedType, a.prediction)
		}
		a.count, err = s.decodeArray(2, a.values)
	case KindColor:
		for c := range a.steps {
			a.steps[c] = s.u8()
		}
		a.count, err = a.decodeResidues(s)
	default:
		a.count, err = a.decodeResidues(s)
	}
	if err == nil && s.err != nil {
		err = s.err
	}
	return err
}

func (a *Attribute) decodeResidues(s *stream) (int, error) {
	if a.Strategy&Correlated != 0 {
		return s.decodeArray(a.Components, a.values)
	}
	return s.decodeValues(a.Components, a.values)
}

// deltaDecode turns residues into quantized values. context holds three
// vertex ids per vertex, or is nil for point clouds.
func (a *Attribute) deltaDecode(nvert int, context []uint32) {
	N := a.Components
	if a.Kind == KindNormal {
		if a.prediction != PredictDiff {
			return
		}
		N = 2
	}
	v := a.values

	switch {
	case context == nil:
		for i := N; i < nvert*N; i++ {
			v[i] += v[i-N]
		}
	case a.Strategy&Parallel != 0 && a.Kind != KindNormal:
		for i := 1; i < nvert; i++ {
			c0 := int(context[i*3]) * N
			c1 := int(context[i*3+1]) * N
			c2 := int(context[i*3+2]) * N
			for c := 0; c < N; c++ {
				v[i*N+c] += v[c0+c] + v[c1+c] - v[c2+c]
			}
		}
	default:
		for i := 1; i < nvert; i++ {
			c0 := int(context[i*3]) * N
			for c := 0; c < N; c++ {
				v[i*N+c] += v[c0+c]
			}
		}
	}
}

// postDelta reconstructs estimated normals once positions are known.
func (a *Attribute) postDelta(nvert int, faces []uint32, position *Attribute) error {
	if a.Kind != KindNormal || a.prediction == PredictDiff {
		return nil
	}
	if position == nil || position.Components < 3 {
		return ErrMissingPosition
	}
	if len(faces) == 0 {
		return fmt.Errorf("%w: %v normals need faces", ErrTopology, a.prediction)
	}
	estimated := estimateNormals(nvert, position.values, position.Components, faces)
	a.shorts = make([]int16, nvert*3)

	if a.prediction == PredictEstimated {
		for i := 0; i < nvert; i++ {
			toOcta(estimated[i*3:i*3+3], a.values[i*2:i*2+2], a.Q)
			toSphere(a.values[i*2:i*2+2], a.shorts[i*3:i*3+3], a.Q)
		}
		return nil
	}

	boundary := markBoundary(nvert, faces)
	count := 0
	for i := 0; i < nvert; i++ {
		n := estimated[i*3 : i*3+3]
		if boundary[i] != 0 {
			toOcta(n, a.values[count*2:count*2+2], a.Q)
			toSphere(a.values[count*2:count*2+2], a.shorts[i*3:i*3+3], a.Q)
			count++
			continue
		}
		storeUnit(n[0], n[1], n[2], a.shorts[i*3:i*3+3])
	}
	return nil
}

// dequantize produces the output buffer of the attribute.
func (a *Attribute) dequantize(nvert int) {
	switch a.Kind {
	case KindNormal:
		if a.prediction != PredictDiff {
			return
		}
		a.shorts = make([]int16, nvert*3)
		for i := 0; i < nvert; i++ {
			toSphere(a.values[i*2:i*2+2], a.shorts[i*3:i*3+3], a.Q)
		}
	case KindColor:
		N := a.Components
		a.bytes = make([]uint8, nvert*4)
		for i := 0; i < nvert; i++ {
			e := a.values[i*N : i*N+N]
			out := a.bytes[i*4 : i*4+4]
			out[0] = uint8((e[2] + e[0]) * int32(a.steps[0]))
			out[1] = uint8(e[0] * int32(a.steps[1]))
			out[2] = uint8((e[1] + e[0]) * int32(a.steps[2]))
			if N > 3 {
				out[3] = uint8(e[3] * int32(a.steps[3]))
			} else {
				out[3] = 255
			}
		}
	default:
		n := nvert * a.Components
		a.floats = make([]float32, n)
		for i := 0; i < n; i++ {
			a.floats[i] = a.Type.store(a.values[i], a.Q)
		}
	}
}

// store converts a quantized value the way the declared storage type
// would hold it.
func (t Type) store(v int32, q float32) float32 {
	switch t {
	case TypeUint32, TypeInt32:
		return float32(v)
	case TypeUint16:
		return float32(uint16(int64(float32(v) * q)))
	case TypeInt16:
		return float32(int16(int64(float32(v) * q)))
	case TypeUint8:
		return float32(uint8(int64(float32(v) * q)))
	case TypeInt8:
		return float32(int8(int64(float32(v) * q)))
	default:
		return float32(v) * q
	}
}

func estimateNormals(nvert int, coords []int32, N int, faces []uint32) []float32 {
	est := make([]float32, nvert*3)
	for f := 0; f+2 < len(faces); f += 3 {
		a := int(faces[f]) * N
		b := int(faces[f+1]) * N
		c := int(faces[f+2]) * N

		ba0 := float32(coords[b] - coords[a])
		ba1 := float32(coords[b+1] - coords[a+1])
		ba2 := float32(coords[b+2] - coords[a+2])

		ca0 := float32(coords[c] - coords[a])
		ca1 := float32(coords[c+1] - coords[a+1])
		ca2 := float32(coords[c+2] - coords[a+2])

		n0 := ba1*ca2 - ba2*ca1
		n1 := ba2*ca0 - ba0*ca2
		n2 := ba0*ca1 - ba1*ca0

		for _, v := range [3]uint32{faces[f], faces[f+1], faces[f+2]} {
			est[v*3] += n0
			est[v*3+1] += n1
			est[v*3+2] += n2
		}
	}
	return est
}

// markBoundary xors the neighbor ids of every vertex over its faces. On a
// closed fan each neighbor appears twice and cancels out.
func markBoundary(nvert int, faces []uint32) []uint32 {
	boundary := make([]uint32, nvert)
	for f := 0; f+2 < len(faces); f += 3 {
		a, b, c := faces[f], faces[f+1], faces[f+2]
		boundary[a] ^= b ^ c
		boundary[b] ^= c ^ a
		boundary[c] ^= a ^ b
	}
	return boundary
}

// toOcta adds the octahedral projection of n, scaled by unit, to out.
func toOcta(n []float32, out []int32, unit float32) {
	av0 := math32.Abs(n[0])
	av1 := math32.Abs(n[1])
	av2 := math32.Abs(n[2])
	l := av0 + av1 + av2
	if l == 0 {
		return
	}
	p0 := n[0] / l
	p1 := n[1] / l
	ap0 := math32.Abs(p0)
	ap1 := math32.Abs(p1)
	if n[2] < 0 {
		if n[0] >= 0 {
			p0 = 1 - ap1
		} else {
			p0 = ap1 - 1
		}
		if n[1] >= 0 {
			p1 = 1 - ap0
		} else {
			p1 = ap0 - 1
		}
	}
	out[0] = int32(float32(out[0]) + p0*unit)
	out[1] = int32(float32(out[1]) + p1*unit)
}

// toSphere maps two octahedral components back to a unit vector.
func toSphere(in []int32, out []int16, unit float32) {
	x := float32(in[0])
	y := float32(in[1])
	z := unit - math32.Abs(x) - math32.Abs(y)
	if z < 0 {
		ax, ay := math32.Abs(x), math32.Abs(y)
		if in[0] > 0 {
			x = unit - ay
		} else {
			x = ay - unit
		}
		if in[1] > 0 {
			y = unit - ax
		} else {
			y = ax - unit
		}
	}
	storeUnit(x, y, z, out)
}

func storeUnit(x, y, z float32, out []int16) {
	l := math32.Sqrt(x*x + y*y + z*z)
	if l == 0 {
		out[0], out[1], out[2] = 0, 0, 32767
		return
	}
	s := 32767 / l
	out[0] = int16(x * s)
	out[1] = int16(y * s)
	out[2] = int16(z * s)
}
