package cache

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Faultbox/nxstream/internal/decode"
	"github.com/Faultbox/nxstream/internal/fetch"
	"github.com/Faultbox/nxstream/internal/metrics"
	"github.com/Faultbox/nxstream/internal/nexus"
)

var errNoFetcher = errors.New("cache: mesh has no fetcher")

// request is one geometry or texture load, first fetching and then
// decoding under the same correlation id.
type request struct {
	id     uint64
	mesh   *nexus.Mesh
	kind   decode.Kind
	node   int // geometry requests
	tex    int // texture requests
	cancel context.CancelFunc
	decode decode.Handle
}

func (r *request) label() string {
	if r.kind == decode.KindTexture {
		return metrics.KindTexture
	}
	return metrics.KindGeometry
}

type fetchResult struct {
	id   uint64
	data []byte
	err  error
}

func (c *Cache) requestGeometry(m *nexus.Mesh, id int) {
	start, end := m.NodeRange(id)
	r := c.start(&request{mesh: m, kind: decode.KindGeometry, node: id, tex: -1}, start, end)
	c.state(m).geometry[id] = r.id
}

func (c *Cache) requestTexture(m *nexus.Mesh, tex int) {
	start, end := m.TextureRange(tex)
	r := c.start(&request{mesh: m, kind: decode.KindTexture, node: -1, tex: tex}, start, end)
	c.state(m).texture[tex] = r.id
}

// start registers r under a fresh id and fetches [start, end) in the
// background. Only the channel send touches the cache.
func (c *Cache) start(r *request, start, end int64) *request {
	c.nextID++
	r.id = c.nextID
	ctx, cancel := context.WithCancel(c.ctx)
	r.cancel = cancel
	c.inflight[r.id] = r

	f := r.mesh.Fetcher
	go func(id uint64) {
		var res fetchResult
		res.id = id
		if f == nil {
			res.err = errNoFetcher
		} else {
			res.data, res.err = f.Fetch(ctx, start, end)
		}
		select {
		case c.fetched <- res:
		case <-c.ctx.Done():
		}
	}(r.id)
	return r
}

func (c *Cache) cancelRequest(id uint64) {
	r, ok := c.inflight[id]
	if !ok {
		return
	}
	r.cancel()
	r.decode.Cancel()
	delete(c.inflight, id)
}

func (c *Cache) handleFetch(res fetchResult) {
	r, ok := c.inflight[res.id]
	if !ok {
		return // released while in flight
	}
	r.cancel()
	if res.err != nil {
		c.fetchFailed(r, res.err)
		return
	}
	c.metrics.Fetched(r.label(), metrics.ResultOK, len(res.data))

	job := decode.Job{ID: r.id, Kind: r.kind, Data: res.data}
	if r.kind == decode.KindGeometry {
		n := &r.mesh.Index.Nodes[r.node]
		job.Signature = r.mesh.Header.Signature
		job.NVert = int(n.NVert)
		job.NFace = int(n.NFace)
	} else {
		job.Version = r.mesh.Header.Version
	}
	h, err := c.pool.Submit(job)
	if err != nil {
		c.handleDecode(decode.Result{ID: r.id, Kind: r.kind, Err: err})
		return
	}
	r.decode = h
}

// fetchFailed reissues a retryable fetch up to MaxRetries times, then gives
// up on the node or texture group.
func (c *Cache) fetchFailed(r *request, err error) {
	delete(c.inflight, r.id)
	m := r.mesh

	var retries *int
	if r.kind == decode.KindTexture {
		retries = &m.Textures[r.tex].Retries
	} else {
		retries = &m.Nodes[r.node].Retries
	}
	if fetch.IsRetryable(err) && *retries < c.cfg.MaxRetries {
		*retries++
		c.metrics.Fetched(r.label(), metrics.ResultRetry, 0)
		c.log.Debug("retrying fetch",
			zap.String("mesh", m.Name),
			zap.String("kind", r.label()),
			zap.Int("node", r.node),
			zap.Int("texture", r.tex),
			zap.Int("attempt", *retries),
			zap.Error(err))
		if r.kind == decode.KindTexture {
			c.requestTexture(m, r.tex)
		} else {
			c.requestGeometry(m, r.node)
		}
		return
	}

	c.metrics.Fetched(r.label(), metrics.ResultFailed, 0)
	st := c.state(m)
	if r.kind == decode.KindTexture {
		delete(st.texture, r.tex)
		c.failTexture(m, r.tex, err)
		return
	}
	delete(st.geometry, r.node)
	c.drop(m, r.node, err)
}

// failTexture drops every node still waiting for texture group tex.
func (c *Cache) failTexture(m *nexus.Mesh, tex int, err error) {
	for id := range c.state(m).admitted {
		if m.Nodes[id].Status != nexus.Ready && m.NodeTexture(id) == tex {
			c.drop(m, id, err)
		}
	}
}

func (c *Cache) handleDecode(res decode.Result) {
	r, ok := c.inflight[res.ID]
	if !ok {
		return // released while decoding
	}
	delete(c.inflight, r.id)
	m := r.mesh
	st := c.state(m)

	if r.kind == decode.KindTexture {
		delete(st.texture, r.tex)
		if res.Err != nil {
			c.failTexture(m, r.tex, res.Err)
			return
		}
		m.InstallTexture(r.tex, res.Images)
		for id := range st.admitted {
			if m.Nodes[id].Status == nexus.PendingTexture && m.NodeTexture(id) == r.tex {
				c.setReady(m, id)
			}
		}
		return
	}

	delete(st.geometry, r.node)
	if res.Err != nil {
		c.drop(m, r.node, res.Err)
		return
	}
	m.InstallGeometry(r.node, res.Geometry)
	if tex := m.NodeTexture(r.node); tex >= 0 && m.Textures[tex].Status != nexus.TextureReady {
		m.Nodes[r.node].Status = nexus.PendingTexture
		return
	}
	c.setReady(m, r.node)
}
