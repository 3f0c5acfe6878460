package math

import (
	"math"
	"testing"
)

func TestIdentity(t *testing.T) {
	m := Identity()
	if m[0] != 1 || m[5] != 1 || m[10] != 1 || m[15] != 1 {
		t.Error("Identity diagonal should be 1")
	}
	if m[1] != 0 || m[4] != 0 {
		t.Error("Identity off-diagonal should be 0")
	}
}

// affine builds a scale followed by a translation.
func affine(scale, offset Vec3) Mat4 {
	return Mat4{
		scale.X, 0, 0, 0,
		0, scale.Y, 0, 0,
		0, 0, scale.Z, 0,
		offset.X, offset.Y, offset.Z, 1,
	}
}

func TestMulIdentity(t *testing.T) {
	m := LookAt(Vec3{1, 2, 3}, Vec3{}, Vec3{Y: 1})
	result := m.Mul(Identity())

	for i := 0; i < 16; i++ {
		if result[i] != m[i] {
			t.Errorf("M * I should equal M, element %d: got %f, want %f", i, result[i], m[i])
		}
	}
}

func TestTransformVec3(t *testing.T) {
	tests := []struct {
		name string
		m    Mat4
		p    Vec3
		want Vec3
	}{
		{"translate", affine(Vec3{1, 1, 1}, Vec3{10, 20, 30}), Vec3{1, 2, 3}, Vec3{11, 22, 33}},
		{"scale", affine(Vec3{2, 2, 2}, Vec3{}), Vec3{1, 2, 3}, Vec3{2, 4, 6}},
		{"scale then translate", affine(Vec3{1, 1, 1}, Vec3{X: 1}).Mul(affine(Vec3{3, 3, 3}, Vec3{})), Vec3{1, 1, 1}, Vec3{4, 3, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.m.TransformVec3(tt.p); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRow(t *testing.T) {
	m := LookAt(Vec3{Z: 5}, Vec3{}, Vec3{Y: 1})
	if got := m.Row(2); got != (Vec4{0, 0, 1, -5}) {
		t.Errorf("Row(2) = %v", got)
	}
	if got := m.Row(3); got != (Vec4{0, 0, 0, 1}) {
		t.Errorf("Row(3) = %v", got)
	}
}

func TestInverse(t *testing.T) {
	m := affine(Vec3{2, 4, 0.5}, Vec3{3, -2, 8}).Mul(LookAt(Vec3{1, 2, 3}, Vec3{}, Vec3{Y: 1}))
	p := m.Mul(m.Inverse())
	id := Identity()
	for i := range p {
		if abs(p[i]-id[i]) > 1e-5 {
			t.Fatalf("M * M^-1 element %d: got %f, want %f", i, p[i], id[i])
		}
	}

	var singular Mat4
	if singular.Inverse() != Identity() {
		t.Error("singular matrix should invert to identity")
	}
}

func TestPerspective(t *testing.T) {
	m := Perspective(float32(math.Pi/4), 1, 0.1, 100)

	if m[0] == 0 || m[5] == 0 {
		t.Error("Perspective should have non-zero elements")
	}
	if m[15] != 0 {
		t.Errorf("Perspective [15] should be 0, got %f", m[15])
	}
	if m[11] != -1 {
		t.Errorf("Perspective [11] should be -1, got %f", m[11])
	}
}

func TestLookAt(t *testing.T) {
	eye := Vec3{0, 0, 5}
	m := LookAt(eye, Vec3{}, Vec3{0, 1, 0})

	got := m.TransformVec3(eye)
	if got.Length() > 1e-5 {
		t.Errorf("eye should map to the origin, got %v", got)
	}
	if p := m.TransformVec3(Vec3{}); abs(p.Z+5) > 1e-5 {
		t.Errorf("target should be 5 units down -Z, got %v", p)
	}
}

func abs(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}
