package math

import (
	"testing"
)

func TestVec3Cross(t *testing.T) {
	x := Vec3{1, 0, 0}
	y := Vec3{0, 1, 0}
	got := x.Cross(y)
	want := Vec3{0, 0, 1}
	if got != want {
		t.Errorf("Vec3.Cross() = %v, want %v", got, want)
	}
}

func TestVec3Length(t *testing.T) {
	tests := []struct {
		v    Vec3
		want float32
	}{
		{Vec3{3, 4, 0}, 5},
		{Vec3{0, 0, -2}, 2},
		{Vec3{}, 0},
	}
	for _, tt := range tests {
		if got := tt.v.Length(); got != tt.want {
			t.Errorf("%v.Length() = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestVec3Normalize(t *testing.T) {
	n := Vec3{3, 4, 12}.Normalize()
	if l := n.Length(); l < 0.999 || l > 1.001 {
		t.Errorf("Vec3.Normalize().Length() = %v, want ~1", l)
	}
	if (Vec3{}).Normalize() != (Vec3{}) {
		t.Error("zero vector should stay zero")
	}
}

func TestVec3Distance(t *testing.T) {
	if d := V3([3]float32{1, 1, 1}).Distance(Vec3{1, 4, 5}); d != 5 {
		t.Errorf("Distance() = %v, want 5", d)
	}
}
