// Package camera provides the orbit camera of the viewer.
package camera

import (
	"github.com/chewxy/math32"

	"github.com/Faultbox/nxstream/pkg/math"
)

// Orbit circles a target point at a distance, looking at it.
type Orbit struct {
	Target math.Vec3

	Distance float32
	Pitch    float32 // radians above the horizon
	Yaw      float32 // radians around the vertical axis

	MinDistance float32
	MaxDistance float32
	MaxPitch    float32

	DragSensitivity float32 // radians per pixel
	ZoomSensitivity float32 // fraction of the distance per wheel step

	FOV float32 // vertical, radians
}

// NewOrbit creates a camera with the given vertical field of view in degrees.
func NewOrbit(fovDegrees float32) *Orbit {
	return &Orbit{
		Distance:        3,
		Pitch:           0.3,
		MinDistance:     0.01,
		MaxDistance:     1e6,
		MaxPitch:        1.55,
		DragSensitivity: 0.005,
		ZoomSensitivity: 0.1,
		FOV:             fovDegrees * math32.Pi / 180,
	}
}

// Position is the eye position.
func (c *Orbit) Position() math.Vec3 {
	cp := math32.Cos(c.Pitch)
	return c.Target.Add(math.Vec3{
		X: c.Distance * cp * math32.Sin(c.Yaw),
		Y: c.Distance * math32.Sin(c.Pitch),
		Z: c.Distance * cp * math32.Cos(c.Yaw),
	})
}

// View is the model-view matrix.
func (c *Orbit) View() math.Mat4 {
	return math.LookAt(c.Position(), c.Target, math.Vec3{Y: 1})
}

// Projection is a perspective matrix whose clip planes bracket the target
// sphere of the given radius.
func (c *Orbit) Projection(aspect, radius float32) math.Mat4 {
	near := max(c.Distance-radius, c.Distance*0.001, 1e-4)
	far := c.Distance + radius*2
	return math.Perspective(c.FOV, aspect, near, far)
}

// Drag rotates around the target by a mouse motion in pixels.
func (c *Orbit) Drag(dx, dy float32) {
	c.Yaw -= dx * c.DragSensitivity
	c.Pitch = clamp(c.Pitch+dy*c.DragSensitivity, -c.MaxPitch, c.MaxPitch)
}

// Zoom moves toward the target for positive steps.
func (c *Orbit) Zoom(steps float32) {
	c.Distance = clamp(c.Distance*(1-steps*c.ZoomSensitivity), c.MinDistance, c.MaxDistance)
}

// Fit frames a bounding sphere so it fills the vertical field of view.
func (c *Orbit) Fit(center math.Vec3, radius float32) {
	c.Target = center
	if radius <= 0 {
		radius = 1
	}
	c.Distance = radius / math32.Sin(c.FOV/2)
	c.MinDistance = radius * 1e-3
	c.MaxDistance = radius * 100
}

func clamp(v, lo, hi float32) float32 {
	return max(lo, min(hi, v))
}
