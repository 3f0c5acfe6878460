package math

import (
	"math"
	"testing"
)

func testFrustum() Frustum {
	proj := Perspective(float32(math.Pi/2), 1, 1, 100)
	view := LookAt(Vec3{0, 0, 10}, Vec3{}, Vec3{0, 1, 0})
	return FrustumFromMatrix(proj.Mul(view))
}

func TestFrustum_Visible(t *testing.T) {
	f := testFrustum()

	tests := []struct {
		name   string
		sphere Sphere
		want   bool
	}{
		{"at target", Sphere{Vec3{}, 1}, true},
		{"behind camera", Sphere{Vec3{0, 0, 20}, 1}, false},
		{"far off to the side", Sphere{Vec3{100, 0, 0}, 1}, false},
		{"closer than near plane", Sphere{Vec3{0, 0, 9.5}, 0.1}, false},
		{"beyond far plane", Sphere{Vec3{0, 0, -200}, 1}, false},
		{"straddling left plane", Sphere{Vec3{-10, 0, 0}, 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Visible(tt.sphere); got != tt.want {
				t.Errorf("Visible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFrustum_Distance(t *testing.T) {
	f := testFrustum()

	// Side planes pass through the eye at 45 degrees.
	want := float32(10*math.Sqrt2/2) + 1
	if d := f.Distance(Sphere{Vec3{}, 1}); abs(d-want) > 1e-3 {
		t.Errorf("Distance() = %v, want %v", d, want)
	}
	if d := f.Distance(Sphere{Vec3{0, 0, 20}, 1}); d >= 0 {
		t.Errorf("sphere behind the camera should have negative distance, got %v", d)
	}
}

func TestFrustum_PlanesNormalized(t *testing.T) {
	f := testFrustum()
	for i, p := range f {
		if l := p.Normal.Length(); abs(l-1) > 1e-4 {
			t.Errorf("plane %d normal length %v", i, l)
		}
	}
}
