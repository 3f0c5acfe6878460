package cache

import (
	"fmt"

	"github.com/Faultbox/nxstream/internal/decode"
	"github.com/Faultbox/nxstream/internal/nexus"
)

// InvariantViolation is the panic value of Check.
type InvariantViolation struct {
	Reason string
}

func (v InvariantViolation) Error() string {
	return "cache invariant violated: " + v.Reason
}

func violated(format string, args ...any) {
	panic(InvariantViolation{Reason: fmt.Sprintf(format, args...)})
}

// Check recomputes the accounting from the node states and panics with an
// InvariantViolation when it disagrees with the counters.
func (c *Cache) Check() {
	var resident int64
	var pending, ready int
	for m, st := range c.meshes {
		refs := make([]int, len(m.Textures))
		for id := range m.Nodes {
			n := &m.Nodes[id]
			_, admitted := st.admitted[id]
			if admitted != (n.Status != nexus.Empty) {
				violated("%s node %d is %v but admitted=%v", m.Name, id, n.Status, admitted)
			}
			if !admitted {
				continue
			}
			if n.Dropped {
				violated("%s node %d is dropped but %v", m.Name, id, n.Status)
			}
			resident += n.Size
			if n.Status == nexus.Ready {
				ready++
			} else {
				pending++
			}
			if tex := m.NodeTexture(id); tex >= 0 {
				refs[tex]++
			}
			if n.Status == nexus.PendingGeometry {
				if _, ok := st.geometry[id]; !ok {
					violated("%s node %d has no geometry request", m.Name, id)
				}
			}
		}
		for tex, want := range refs {
			g := &m.Textures[tex]
			if g.Refs != want {
				violated("%s texture %d has %d refs, %d nodes use it", m.Name, tex, g.Refs, want)
			}
			if (g.Refs == 0) != (g.Status == nexus.TextureEmpty) {
				violated("%s texture %d is %d with %d refs", m.Name, tex, g.Status, g.Refs)
			}
		}
		for id, rid := range st.geometry {
			r, ok := c.inflight[rid]
			if !ok || r.kind != decode.KindGeometry || r.node != id || r.mesh != m {
				violated("%s node %d maps to stale request %d", m.Name, id, rid)
			}
		}
		for tex, rid := range st.texture {
			r, ok := c.inflight[rid]
			if !ok || r.kind != decode.KindTexture || r.tex != tex || r.mesh != m {
				violated("%s texture %d maps to stale request %d", m.Name, tex, rid)
			}
		}
	}
	for rid, r := range c.inflight {
		st, ok := c.meshes[r.mesh]
		if !ok {
			violated("request %d belongs to an unknown mesh", rid)
		}
		if r.kind == decode.KindGeometry && st.geometry[r.node] != rid {
			violated("request %d is not the geometry request of node %d", rid, r.node)
		}
		if r.kind == decode.KindTexture && st.texture[r.tex] != rid {
			violated("request %d is not the request of texture %d", rid, r.tex)
		}
	}

	switch {
	case resident != c.resident:
		violated("resident bytes %d, nodes account for %d", c.resident, resident)
	case pending != c.pending:
		violated("pending %d, nodes account for %d", c.pending, pending)
	case ready != c.ready:
		violated("ready %d, nodes account for %d", c.ready, ready)
	case c.pending > c.cfg.MaxPending:
		violated("pending %d above the limit %d", c.pending, c.cfg.MaxPending)
	}
}
