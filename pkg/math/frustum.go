package math

import "github.com/chewxy/math32"

// Plane is ax + by + cz + d = 0 with a unit normal pointing inside.
type Plane struct {
	Normal Vec3
	D      float32
}

// Distance is the signed distance of p from the plane.
func (p Plane) Distance(v Vec3) float32 {
	return p.Normal.Dot(v) + p.D
}

func planeFromRow(r Vec4) Plane {
	n := Vec3{r[0], r[1], r[2]}
	l := n.Length()
	if l == 0 {
		return Plane{}
	}
	return Plane{Normal: n.Scale(1 / l), D: r[3] / l}
}

// Sphere is a bounding sphere.
type Sphere struct {
	Center Vec3
	Radius float32
}

// Frustum is the six clip planes of a projection: left, right, bottom,
// top, near, far.
type Frustum [6]Plane

// FrustumFromMatrix extracts normalized clip planes from a
// model-view-projection matrix.
func FrustumFromMatrix(mvp Mat4) Frustum {
	r0, r1, r2, r3 := mvp.Row(0), mvp.Row(1), mvp.Row(2), mvp.Row(3)
	return Frustum{
		planeFromRow(r3.Add(r0)),
		planeFromRow(r3.Sub(r0)),
		planeFromRow(r3.Add(r1)),
		planeFromRow(r3.Sub(r1)),
		planeFromRow(r3.Add(r2)),
		planeFromRow(r3.Sub(r2)),
	}
}

// Distance returns the smallest plane distance of the sphere surface:
// negative when the sphere crosses or lies outside a plane.
func (f *Frustum) Distance(s Sphere) float32 {
	best := float32(math32.MaxFloat32)
	for i := range f {
		if d := f[i].Distance(s.Center) + s.Radius; d < best {
			best = d
		}
	}
	return best
}

// Visible reports whether the sphere touches the inside of every plane.
func (f *Frustum) Visible(s Sphere) bool {
	for i := range f {
		if f[i].Distance(s.Center)+s.Radius < 0 {
			return false
		}
	}
	return true
}
