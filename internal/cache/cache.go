// Package cache decides which nodes of which meshes are resident.
//
// A single Cache serves every mesh of the application. Each frame the
// traversals offer candidates; EndFrame applies finished fetches and
// decodes, admits the highest-error candidates while fewer than
// MaxPending nodes are in flight, and evicts the lowest-error resident
// nodes to stay within MaxBytes. All state is owned by the goroutine
// calling the Cache methods; fetches and decodes report back over
// channels tagged with a correlation id.
package cache

import (
	"context"

	"go.uber.org/zap"

	"github.com/Faultbox/nxstream/internal/config"
	"github.com/Faultbox/nxstream/internal/decode"
	"github.com/Faultbox/nxstream/internal/logger"
	"github.com/Faultbox/nxstream/internal/metrics"
	"github.com/Faultbox/nxstream/internal/nexus"
	"github.com/Faultbox/nxstream/internal/traversal"
)

// evictionHysteresis keeps a resident node unless the candidate replacing
// it has a clearly larger error.
const evictionHysteresis = 0.9

// Config holds the scheduling limits.
type Config struct {
	TargetError float32
	MaxError    float32
	MinFPS      float32
	MaxBytes    int64
	MaxPending  int
	MaxRetries  int

	// Audit runs Check after every EndFrame.
	Audit bool
}

// ConfigFrom extracts the cache limits from the streaming settings.
func ConfigFrom(s config.StreamingConfig) Config {
	return Config{
		TargetError: s.TargetError,
		MaxError:    s.MaxError,
		MinFPS:      s.MinFPS,
		MaxBytes:    int64(s.CacheSize),
		MaxPending:  s.MaxPending,
		MaxRetries:  s.MaxRetries,
		Audit:       s.Audit,
	}
}

// Stats is a snapshot of the cache counters.
type Stats struct {
	Frame         uint64
	CurrentError  float32
	ResidentBytes int64
	Pending       int
	Ready         int
	Inflight      int
	Evictions     uint64
	Drops         uint64
}

type key struct {
	mesh *nexus.Mesh
	id   int
}

// meshState tracks what the cache holds for one mesh.
type meshState struct {
	admitted map[int]struct{} // nodes that are pending or ready
	geometry map[int]uint64   // node -> in-flight request
	texture  map[int]uint64   // texture group -> in-flight request
}

// Cache schedules node fetches, decodes and evictions.
type Cache struct {
	cfg     Config
	pool    *decode.Pool
	metrics *metrics.Metrics
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	frame        uint64
	currentError float32
	resident     int64
	pending      int
	ready        int
	evictions    uint64
	drops        uint64

	candidates []traversal.Candidate
	meshes     map[*nexus.Mesh]*meshState

	nextID   uint64
	inflight map[uint64]*request
	fetched  chan fetchResult
}

// New creates a cache decoding on pool. m may be nil.
func New(cfg Config, pool *decode.Pool, m *metrics.Metrics) *Cache {
	if m == nil {
		m = metrics.Discard()
	}
	if cfg.MaxPending < 1 {
		cfg.MaxPending = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		cfg:          cfg,
		pool:         pool,
		metrics:      m,
		log:          logger.Named("cache"),
		ctx:          ctx,
		cancel:       cancel,
		currentError: cfg.TargetError,
		meshes:       make(map[*nexus.Mesh]*meshState),
		inflight:     make(map[uint64]*request),
		fetched:      make(chan fetchResult, 64),
	}
}

// BeginFrame starts a new frame and adapts the current error to the frame
// rate: coarser when fps falls more than 10% below MinFPS, finer when it is
// more than 10% above. A zero fps resets it to the target error.
func (c *Cache) BeginFrame(fps float32) traversal.Frame {
	c.frame++
	c.candidates = c.candidates[:0]

	if fps > 0 && c.cfg.MinFPS > 0 {
		r := c.cfg.MinFPS / fps
		if r > 1.1 {
			c.currentError *= 1.05
		}
		if r < 0.9 {
			c.currentError *= 0.95
		}
		c.currentError = max(c.cfg.TargetError, min(c.cfg.MaxError, c.currentError))
	} else {
		c.currentError = c.cfg.TargetError
	}
	return traversal.Frame{Number: c.frame, TargetError: c.currentError}
}

// Offer adds traversal candidates for this frame.
func (c *Cache) Offer(candidates []traversal.Candidate) {
	c.candidates = append(c.candidates, candidates...)
}

// EndFrame applies every completion that has arrived, admits new nodes and
// evicts down to the memory ceiling.
func (c *Cache) EndFrame() {
	c.drain()
	c.update()
	c.trim()
	c.publish()
	if c.cfg.Audit {
		c.Check()
	}
}

// Wait blocks until one fetch or decode completes and applies it. It
// returns at once when nothing is in flight.
func (c *Cache) Wait(ctx context.Context) error {
	if len(c.inflight) == 0 {
		return nil
	}
	select {
	case r := <-c.fetched:
		c.handleFetch(r)
	case r, ok := <-c.pool.Results():
		if ok {
			c.handleDecode(r)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (c *Cache) drain() {
	for {
		select {
		case r := <-c.fetched:
			c.handleFetch(r)
		case r, ok := <-c.pool.Results():
			if !ok {
				return
			}
			c.handleDecode(r)
		default:
			return
		}
	}
}

// update admits the best candidates while the pending limit allows.
func (c *Cache) update() {
	for c.pending < c.cfg.MaxPending {
		best, ok := c.best()
		if !ok || !c.makeRoom(best) {
			return
		}
		c.admit(best.Mesh, best.ID)
	}
}

// best is the highest-error candidate that is neither admitted nor dropped.
func (c *Cache) best() (traversal.Candidate, bool) {
	var best traversal.Candidate
	found := false
	for _, cand := range c.candidates {
		n := &cand.Mesh.Nodes[cand.ID]
		if n.Status != nexus.Empty || n.Dropped {
			continue
		}
		if !found || cand.Error > best.Error {
			best, found = cand, true
		}
	}
	return best, found
}

// makeRoom evicts ready nodes until best fits. It reports false when the
// worst resident node is not clearly less useful than best; with nothing
// left to evict best is admitted and trim settles the excess.
func (c *Cache) makeRoom(best traversal.Candidate) bool {
	size := best.Mesh.Nodes[best.ID].Size
	for c.resident+size > c.cfg.MaxBytes {
		worst, ok := c.worst()
		if !ok {
			return true
		}
		if worst.mesh.Nodes[worst.id].Error >= best.Error*evictionHysteresis {
			return false
		}
		c.evict(worst.mesh, worst.id)
	}
	return true
}

// trim evicts the lowest-error ready nodes while over the ceiling.
func (c *Cache) trim() {
	for c.resident > c.cfg.MaxBytes {
		worst, ok := c.worst()
		if !ok {
			return
		}
		c.evict(worst.mesh, worst.id)
	}
}

// worst is the ready node with the lowest error across meshes.
func (c *Cache) worst() (key, bool) {
	var worst key
	var worstErr float32
	found := false
	for m, st := range c.meshes {
		for id := range st.admitted {
			n := &m.Nodes[id]
			if n.Status != nexus.Ready {
				continue
			}
			if !found || n.Error < worstErr {
				worst, worstErr, found = key{m, id}, n.Error, true
			}
		}
	}
	return worst, found
}

func (c *Cache) state(m *nexus.Mesh) *meshState {
	st, ok := c.meshes[m]
	if !ok {
		st = &meshState{
			admitted: make(map[int]struct{}),
			geometry: make(map[int]uint64),
			texture:  make(map[int]uint64),
		}
		c.meshes[m] = st
	}
	return st
}

// admit charges the node and starts its geometry fetch, plus the fetch of
// its texture group when no other admitted node has started it.
func (c *Cache) admit(m *nexus.Mesh, id int) {
	n := &m.Nodes[id]
	st := c.state(m)

	n.Status = nexus.PendingGeometry
	n.Retries = 0
	st.admitted[id] = struct{}{}
	c.resident += n.Size
	c.pending++
	c.log.Debug("admit",
		zap.String("mesh", m.Name),
		zap.Int("node", id),
		zap.Float32("error", n.Error),
		logger.Bytes("size", n.Size),
		logger.Bytes("resident", c.resident))

	c.requestGeometry(m, id)

	if tex := m.NodeTexture(id); tex >= 0 {
		g := &m.Textures[tex]
		g.Refs++
		if g.Status == nexus.TextureEmpty {
			g.Status = nexus.TextureLoading
			g.Retries = 0
			c.requestTexture(m, tex)
		}
	}
}

// setReady completes a node whose geometry and texture are installed.
func (c *Cache) setReady(m *nexus.Mesh, id int) {
	if st := m.Nodes[id].Status; st == nexus.Empty || st == nexus.Ready {
		violated("%s node %d set ready while %v", m.Name, id, st)
	}
	c.pending--
	if c.pending < 0 {
		violated("pending count below zero after node %d of %s", id, m.Name)
	}
	c.ready++
	m.SetReady(id)
}

// release returns an admitted node to Empty, cancelling its requests and
// dropping its texture reference.
func (c *Cache) release(m *nexus.Mesh, id int) {
	n := &m.Nodes[id]
	if n.Status == nexus.Empty {
		return
	}
	st := c.state(m)
	if _, ok := st.admitted[id]; !ok {
		violated("%s node %d is %v but was never admitted", m.Name, id, n.Status)
	}
	if rid, ok := st.geometry[id]; ok {
		c.cancelRequest(rid)
		delete(st.geometry, id)
	}
	if n.Status == nexus.Ready {
		c.ready--
	} else {
		c.pending--
	}
	c.resident -= n.Size
	if c.ready < 0 || c.pending < 0 || c.resident < 0 {
		violated("counters below zero releasing %s node %d: ready %d pending %d resident %d",
			m.Name, id, c.ready, c.pending, c.resident)
	}
	delete(st.admitted, id)
	m.ReleaseNode(id)

	if tex := m.NodeTexture(id); tex >= 0 {
		g := &m.Textures[tex]
		g.Refs--
		if g.Refs < 0 {
			violated("%s texture %d released more often than referenced", m.Name, tex)
		}
		if g.Refs == 0 {
			if rid, ok := st.texture[tex]; ok {
				c.cancelRequest(rid)
				delete(st.texture, tex)
			}
			m.ReleaseTexture(tex)
		}
	}
}

func (c *Cache) evict(m *nexus.Mesh, id int) {
	c.log.Debug("evict",
		zap.String("mesh", m.Name),
		zap.Int("node", id),
		zap.Float32("error", m.Nodes[id].Error))
	c.release(m, id)
	c.evictions++
	c.metrics.Evictions.Inc()
}

// drop releases a node that failed for good; it is never admitted again.
func (c *Cache) drop(m *nexus.Mesh, id int, err error) {
	c.log.Warn("dropping node", zap.String("mesh", m.Name), zap.Int("node", id), zap.Error(err))
	c.release(m, id)
	m.Nodes[id].Dropped = true
	c.drops++
	c.metrics.Drops.Inc()
}

// Abort releases one node whatever its state. In-flight results for it are
// discarded when they arrive.
func (c *Cache) Abort(m *nexus.Mesh, id int) {
	c.release(m, id)
}

// Flush releases every node of m and forgets it, for mesh teardown.
func (c *Cache) Flush(m *nexus.Mesh) {
	st, ok := c.meshes[m]
	if !ok {
		return
	}
	for id := range st.admitted {
		c.release(m, id)
	}
	delete(c.meshes, m)

	kept := c.candidates[:0]
	for _, cand := range c.candidates {
		if cand.Mesh != m {
			kept = append(kept, cand)
		}
	}
	c.candidates = kept
	c.publish()
}

// Close cancels every outstanding fetch. The decode pool is closed by its
// owner.
func (c *Cache) Close() {
	for m := range c.meshes {
		c.Flush(m)
	}
	c.cancel()
}

// Stats returns the current counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Frame:         c.frame,
		CurrentError:  c.currentError,
		ResidentBytes: c.resident,
		Pending:       c.pending,
		Ready:         c.ready,
		Inflight:      len(c.inflight),
		Evictions:     c.evictions,
		Drops:         c.drops,
	}
}

func (c *Cache) publish() {
	c.metrics.ResidentBytes.Set(float64(c.resident))
	c.metrics.Pending.Set(float64(c.pending))
	c.metrics.ReadyNodes.Set(float64(c.ready))
	c.metrics.CurrentError.Set(float64(c.currentError))
}
