// Package traversal selects, per frame and per mesh instance, the cut of
// the node DAG to draw and the nodes worth fetching next.
//
// A traversal walks the DAG from the roots in order of decreasing
// screen-space error. A node is selected when it is resident and still
// coarser than the current target error; its children are then
// considered. Anything not resident becomes a fetch candidate for the
// cache.
package traversal

import (
	"github.com/chewxy/math32"

	"github.com/Faultbox/nxstream/internal/config"
	"github.com/Faultbox/nxstream/internal/nexus"
	"github.com/Faultbox/nxstream/pkg/math"
)

// View is the camera state of one instance.
type View struct {
	Projection math.Mat4
	ModelView  math.Mat4
	Viewport   [4]float32 // x, y, width, height in pixels
}

// Frame carries the per-frame inputs owned by the cache.
type Frame struct {
	Number      uint64
	TargetError float32 // pixels; nodes below it are not refined
}

// Candidate is a node the traversal would like resident.
type Candidate struct {
	Mesh  *nexus.Mesh
	ID    int
	Error float32
}

// Stats summarize one traversal.
type Stats struct {
	Selected  int
	Blocked   int
	DrawSize  float32 // weighted vertices of visible selected nodes
	Triangles int     // triangles the selection draws
}

// Result is the output of Traverse.
type Result struct {
	// Selected is indexed by node id and sized to the mesh.
	Selected   []bool
	Candidates []Candidate
	Stats      Stats
}

// Traversal holds the view of one instance. It is not safe for concurrent
// use.
type Traversal struct {
	MaxBlocked    int
	MaxCandidates int
	DrawBudget    float32

	frustum    math.Frustum
	viewpoint  math.Vec3
	resolution float32

	// per call
	mesh     *nexus.Mesh
	visited  []bool
	blocked  []bool
	selected []bool
	queue    queue
}

// New creates a traversal with the limits from the streaming settings.
func New(s config.StreamingConfig) *Traversal {
	return &Traversal{
		MaxBlocked:    s.MaxBlocked,
		MaxCandidates: s.MaxCandidates,
		DrawBudget:    s.DrawBudget,
	}
}

// UpdateView recomputes the frustum planes, the viewpoint and the pixel
// size at unit distance.
func (t *Traversal) UpdateView(v View) {
	mvp := v.Projection.Mul(v.ModelView)
	inv := mvp.Inverse()
	mvInv := v.ModelView.Inverse()

	t.frustum = math.FrustumFromMatrix(mvp)
	t.viewpoint = math.Vec3{X: mvInv[12], Y: mvInv[13], Z: mvInv[14]}

	// Width of the view volume through the scene center, over its distance.
	right := inv.TransformVec3(math.Vec3{X: 1})
	left := inv.TransformVec3(math.Vec3{X: -1})
	side := right.Distance(left)
	center := inv.TransformVec3(math.Vec3{})
	dist := center.Distance(t.viewpoint)

	width := v.Viewport[2]
	if width <= 0 {
		width = 1
	}
	if dist <= 0 {
		dist = 1
	}
	t.resolution = (2 * side / dist) / width
}

// Resolution is the size of a pixel at unit distance from the viewpoint.
func (t *Traversal) Resolution() float32 {
	return t.resolution
}

// Viewpoint is the camera position in model space.
func (t *Traversal) Viewpoint() math.Vec3 {
	return t.viewpoint
}

// Visible reports whether a sphere touches the view frustum.
func (t *Traversal) Visible(center math.Vec3, radius float32) bool {
	return t.frustum.Visible(math.Sphere{Center: center, Radius: radius})
}

// Traverse selects the cut of m for frame f. Errors are merged into m so
// the cache can rank nodes across meshes and instances.
func (t *Traversal) Traverse(m *nexus.Mesh, f Frame) Result {
	n := len(m.Nodes)
	t.mesh = m
	t.visited = make([]bool, n)
	t.blocked = make([]bool, n)
	t.selected = make([]bool, n)
	t.queue = t.queue[:0]
	defer func() { t.mesh = nil }()

	m.BeginFrame(f.Number)
	for id := 0; id < m.NRoots; id++ {
		t.insert(id, f)
	}

	var res Result
	for len(t.queue) > 0 && res.Stats.Blocked < t.MaxBlocked {
		e := t.queue.pop()
		node := &m.Nodes[e.id]

		if node.Status == nexus.Empty && !node.Dropped && len(res.Candidates) < t.MaxCandidates {
			res.Candidates = append(res.Candidates, Candidate{Mesh: m, ID: e.id, Error: e.err})
		}

		// A blocked node does not end the walk; its children inherit the
		// block so they stay out of the cut.
		blocked := t.blocked[e.id] || !t.expand(e.id, e.err, f, &res.Stats)
		if blocked {
			res.Stats.Blocked++
		} else {
			t.selected[e.id] = true
			res.Stats.Selected++
		}
		t.insertChildren(e.id, blocked, f)
	}

	// Admitted nodes the walk never reached get a fresh error for eviction.
	for id := range m.Nodes {
		if !t.visited[id] && m.Nodes[id].Status != nexus.Empty && id != m.Sink() {
			m.MergeError(id, t.nodeError(id), f.Number)
		}
	}

	for id, sel := range t.selected {
		if sel {
			res.Stats.Triangles += nexus.Triangles(m.DrawRanges(id, t.selected))
		}
	}
	res.Selected = t.selected
	return res
}

func (t *Traversal) insert(id int, f Frame) {
	t.visited[id] = true
	err := t.nodeError(id)
	t.mesh.MergeError(id, err, f.Number)
	t.queue.push(id, err)
}

func (t *Traversal) insertChildren(id int, blocked bool, f Frame) {
	t.mesh.Children(id, func(child int) {
		if blocked {
			t.blocked[child] = true
		}
		if !t.visited[child] {
			t.insert(child, f)
		}
	})
}

func (t *Traversal) expand(id int, err float32, f Frame, st *Stats) bool {
	m := t.mesh
	if !m.IsRoot(id) && err < f.TargetError {
		return false
	}
	if st.DrawSize > t.DrawBudget {
		return false
	}
	if m.Nodes[id].Status != nexus.Ready {
		return false
	}
	n := &m.Index.Nodes[id]
	if t.Visible(math.V3(n.Sphere.Center), n.Sphere.Radius) {
		st.DrawSize += float32(n.NVert) * 0.8
	}
	return true
}

// nodeError is the projected geometric error of id in pixels. Nodes
// leaving the frustum fade continuously to a hundredth of their error.
func (t *Traversal) nodeError(id int) float32 {
	n := &t.mesh.Index.Nodes[id]
	center := math.V3(n.Sphere.Center)
	r := n.Sphere.Radius

	dist := max(center.Distance(t.viewpoint)-r, 0.1)
	err := n.Error / (t.resolution * dist)

	d := t.frustum.Distance(math.Sphere{Center: center, Radius: n.TightRadius})
	switch {
	case d < -r:
		err /= 101
	case d < 0:
		err /= 1 - d/r*100
	}
	if math32.IsNaN(err) {
		return 0
	}
	return err
}
