package nexus_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/multierr"

	"github.com/Faultbox/nxstream/internal/fetch"
	"github.com/Faultbox/nxstream/internal/nexus"
	"github.com/Faultbox/nxstream/internal/nexus/nexustest"
	"github.com/Faultbox/nxstream/pkg/corto"
	"github.com/Faultbox/nxstream/pkg/nxs"
)

func TestOpen(t *testing.T) {
	fx := nexustest.Tree(nexustest.Options{Depth: 2, Branching: 2})
	m, _ := nexustest.Open(t, fx, nexus.WithName("tree"))

	if len(m.Nodes) != 8 {
		t.Fatalf("expected 8 nodes (7 + sink), got %d", len(m.Nodes))
	}
	if m.Sink() != 7 {
		t.Errorf("sink = %d, want 7", m.Sink())
	}
	if m.NRoots != 1 || !m.IsRoot(0) || m.IsRoot(1) {
		t.Errorf("NRoots = %d, want 1", m.NRoots)
	}
	if m.Header.Version != 3 {
		t.Errorf("version = %d", m.Header.Version)
	}

	// Root: two patches, 4 faces, 6 vertices, positions only.
	if got := m.Nodes[0].Size; got != 6*12+4*6 {
		t.Errorf("root size = %d, want %d", got, 6*12+4*6)
	}
	// Leaf: one patch to the sink, 2 faces, 4 vertices.
	if got := m.Nodes[3].Size; got != 4*12+2*6 {
		t.Errorf("leaf size = %d, want %d", got, 4*12+2*6)
	}
	if m.Nodes[m.Sink()].Size != 0 {
		t.Error("the sink must not be charged")
	}
	for id := range m.Nodes {
		if m.Nodes[id].Status != nexus.Empty {
			t.Errorf("node %d starts %v", id, m.Nodes[id].Status)
		}
	}

	start, end := m.NodeRange(0)
	if start%nxs.PageSize != 0 || end-start != int64(6*12+4*6) {
		t.Errorf("root range [%d, %d)", start, end)
	}
}

func TestOpenTextured(t *testing.T) {
	fx := nexustest.Tree(nexustest.Options{Depth: 1, Branching: 2, Textured: true})
	m, _ := nexustest.Open(t, fx)

	if len(m.Textures) != 2 {
		t.Fatalf("expected 2 texture groups, got %d", len(m.Textures))
	}
	if m.NodeTexture(0) != 0 || m.NodeTexture(1) != 1 || m.NodeTexture(2) != 1 {
		t.Errorf("textures: %d %d %d", m.NodeTexture(0), m.NodeTexture(1), m.NodeTexture(2))
	}
	if m.NodeTexture(m.Sink()) != -1 {
		t.Error("the sink has no texture")
	}

	// Geometry bytes plus ten times the group payload.
	tex := int64(m.Index.Textures[0].Size)
	want := int64(6*20+4*6) + 10*tex
	if m.Nodes[0].Size != want {
		t.Errorf("root size = %d, want %d", m.Nodes[0].Size, want)
	}

	start, end := m.TextureRange(1)
	if end-start != int64(m.Index.Textures[1].Size) || start%nxs.PageSize != 0 {
		t.Errorf("texture range [%d, %d)", start, end)
	}
}

func TestOpenErrors(t *testing.T) {
	fx := nexustest.Tree(nexustest.Options{Depth: 1, Branching: 2})
	idxStart := fx.Header.IndexOffset
	idxEnd := idxStart + fx.Header.IndexSize()

	badMagic := append([]byte(nil), fx.Data...)
	badMagic[0] = 'X'

	tests := []struct {
		name    string
		data    []byte
		fail    func(*nexustest.Memory)
		wantErr func(error) bool
	}{
		{
			name:    "bad magic",
			data:    badMagic,
			wantErr: func(err error) bool { return errors.Is(err, nxs.ErrInvalidMagic) },
		},
		{
			name: "range unsupported",
			data: fx.Data,
			fail: func(m *nexustest.Memory) {
				m.Fail(0, 12, fmt.Errorf("%w: memory", fetch.ErrRangeUnsupported))
			},
			wantErr: func(err error) bool { return errors.Is(err, fetch.ErrRangeUnsupported) },
		},
		{
			name: "index keeps failing",
			data: fx.Data,
			fail: func(m *nexustest.Memory) {
				e := &fetch.TransportError{Op: "GET", Status: 503, Retryable: true}
				m.Fail(idxStart, idxEnd, e, e, e)
			},
			wantErr: fetch.IsRetryable,
		},
		{
			name:    "truncated",
			data:    fx.Data[:idxStart+10],
			wantErr: func(err error) bool { return err != nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := nexustest.NewMemory(tt.data)
			if tt.fail != nil {
				tt.fail(mem)
			}
			var reported error
			r := &fetch.Retrier{MaxNumRetries: 2}
			m, err := nexus.Open(context.Background(), mem,
				nexus.WithName("broken"),
				nexus.WithRetrier(r),
				nexus.OnError(func(err error) { reported = err }))
			if err == nil || m != nil {
				t.Fatal("expected Open to fail")
			}
			if !tt.wantErr(err) {
				t.Errorf("unexpected error %v", err)
			}
			if reported != err {
				t.Errorf("OnError got %v, want %v", reported, err)
			}
		})
	}
}

func TestOpenRetries(t *testing.T) {
	fx := nexustest.Tree(nexustest.Options{Depth: 1, Branching: 2})
	mem := nexustest.NewMemory(fx.Data)
	mem.Fail(0, 12, &fetch.TransportError{Op: "GET", Retryable: true})

	m, err := nexus.Open(context.Background(), mem, nexus.WithRetrier(&fetch.Retrier{MaxNumRetries: 1}))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if mem.Calls(0, 12) != 2 {
		t.Errorf("prefix fetched %d times, want 2", mem.Calls(0, 12))
	}
	if len(m.Nodes) != 4 {
		t.Errorf("got %d nodes", len(m.Nodes))
	}
}

func TestChildren(t *testing.T) {
	fx := nexustest.Tree(nexustest.Options{Depth: 2, Branching: 3})
	m, _ := nexustest.Open(t, fx)

	var got []int
	m.Children(0, func(c int) { got = append(got, c) })
	if fmt.Sprint(got) != "[1 2 3]" {
		t.Errorf("children of root = %v", got)
	}

	got = nil
	m.Children(3, func(c int) { got = append(got, c) })
	if fmt.Sprint(got) != "[10 11 12]" {
		t.Errorf("children of 3 = %v", got)
	}

	// Leaves stop at the sink.
	got = nil
	m.Children(12, func(c int) { got = append(got, c) })
	if len(got) != 0 {
		t.Errorf("leaf children = %v", got)
	}
}

func TestDrawRanges(t *testing.T) {
	fx := nexustest.Tree(nexustest.Options{Depth: 1, Branching: 2})
	m, _ := nexustest.Open(t, fx)

	tests := []struct {
		name     string
		node     int
		selected []int
		want     string
	}{
		{"no child selected", 0, []int{0}, "[{0 4 -1}]"},
		{"first child selected", 0, []int{0, 1}, "[{2 4 -1}]"},
		{"second child selected", 0, []int{0, 2}, "[{0 2 -1}]"},
		{"all children selected", 0, []int{0, 1, 2}, "[]"},
		{"leaf", 1, []int{0, 1}, "[{0 2 -1}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := make([]bool, len(m.Nodes))
			for _, id := range tt.selected {
				sel[id] = true
			}
			got := m.DrawRanges(tt.node, sel)
			if s := fmt.Sprint(got); s != tt.want && !(tt.want == "[]" && len(got) == 0) {
				t.Errorf("DrawRanges = %s, want %s", s, tt.want)
			}
		})
	}

	sel := make([]bool, len(m.Nodes))
	if n := nexus.Triangles(m.DrawRanges(0, sel)); n != 4 {
		t.Errorf("Triangles = %d, want 4", n)
	}
}

func TestDrawRangesTextured(t *testing.T) {
	fx := nexustest.Tree(nexustest.Options{Depth: 1, Branching: 2, Textured: true})
	m, _ := nexustest.Open(t, fx)

	got := m.DrawRanges(1, make([]bool, len(m.Nodes)))
	if len(got) != 1 || got[0].Texture != 1 {
		t.Errorf("DrawRanges = %v, want one range using texture 1", got)
	}
}

func TestMergeError(t *testing.T) {
	fx := nexustest.Tree(nexustest.Options{Depth: 1, Branching: 2})
	m, _ := nexustest.Open(t, fx)

	m.BeginFrame(1)
	m.MergeError(1, 5, 1)
	m.MergeError(1, 3, 1)
	if m.Nodes[1].Error != 5 {
		t.Errorf("error = %v, want the max 5", m.Nodes[1].Error)
	}

	// A second traversal in the same frame does not reset.
	m.BeginFrame(1)
	if m.Nodes[1].Error != 5 {
		t.Error("BeginFrame of the same frame must keep errors")
	}

	m.BeginFrame(2)
	if m.Nodes[1].Error != 0 || m.Frame != 2 {
		t.Errorf("new frame should reset errors, got %v", m.Nodes[1].Error)
	}
	m.MergeError(1, 2, 2)
	if m.Nodes[1].Error != 2 || m.Nodes[1].Frame != 2 {
		t.Errorf("error %v frame %d", m.Nodes[1].Error, m.Nodes[1].Frame)
	}
}

type recorder struct {
	events []string
}

func (r *recorder) NodeReady(_ *nexus.Mesh, id int) {
	r.events = append(r.events, fmt.Sprintf("ready %d", id))
}

func (r *recorder) NodeReleased(_ *nexus.Mesh, id int) {
	r.events = append(r.events, fmt.Sprintf("released %d", id))
}

func (r *recorder) TextureReady(_ *nexus.Mesh, tex int) {
	r.events = append(r.events, fmt.Sprintf("tex ready %d", tex))
}

func (r *recorder) TextureReleased(_ *nexus.Mesh, tex int) {
	r.events = append(r.events, fmt.Sprintf("tex released %d", tex))
}

func TestListener(t *testing.T) {
	fx := nexustest.Tree(nexustest.Options{Depth: 1, Branching: 2, Textured: true})
	rec := &recorder{}
	m, _ := nexustest.Open(t, fx, nexus.WithListener(rec))

	m.InstallGeometry(1, &corto.Geometry{NVert: 4})
	m.SetReady(1)
	m.InstallTexture(1, nil)
	m.ReleaseNode(1)
	m.ReleaseNode(2) // never ready: silent
	m.ReleaseTexture(1)
	m.ReleaseTexture(0) // never loaded: silent

	want := "[ready 1 tex ready 1 released 1 tex released 1]"
	if got := fmt.Sprint(rec.events); got != want {
		t.Errorf("events = %s, want %s", got, want)
	}
	if m.Nodes[1].Geometry != nil || m.Nodes[1].Status != nexus.Empty {
		t.Error("released node must drop its geometry")
	}
}

type closer struct{ err error }

func (c *closer) Close() error { return c.err }

func TestClose(t *testing.T) {
	fx := nexustest.Tree(nexustest.Options{Depth: 0})
	a, b := errors.New("a"), errors.New("b")
	m, _ := nexustest.Open(t, fx, nexus.WithCloser(&closer{a}), nexus.WithCloser(&closer{}), nexus.WithCloser(&closer{b}))

	err := m.Close()
	if errs := multierr.Errors(err); len(errs) != 2 || errs[0] != a || errs[1] != b {
		t.Errorf("Close = %v, want a and b", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestStatusString(t *testing.T) {
	for s, want := range map[nexus.Status]string{
		nexus.Empty:           "empty",
		nexus.PendingGeometry: "pending-geometry",
		nexus.PendingTexture:  "pending-texture",
		nexus.Ready:           "ready",
		nexus.Status(9):       "status(9)",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
