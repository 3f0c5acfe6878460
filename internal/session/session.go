// Package session wires one streamed mesh to its decode pool, cache and
// traversal. It holds no graphics state, so the viewer and the headless
// tools share it.
package session

import (
	"context"
	"io"
	"path"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/nxstream/internal/cache"
	"github.com/Faultbox/nxstream/internal/config"
	"github.com/Faultbox/nxstream/internal/decode"
	"github.com/Faultbox/nxstream/internal/fetch"
	"github.com/Faultbox/nxstream/internal/logger"
	"github.com/Faultbox/nxstream/internal/metrics"
	"github.com/Faultbox/nxstream/internal/nexus"
	"github.com/Faultbox/nxstream/internal/traversal"
)

// Session is a mesh being streamed for a single view.
type Session struct {
	Mesh      *nexus.Mesh
	Cache     *cache.Cache
	Traversal *traversal.Traversal

	pool    *decode.Pool
	metrics *metrics.Metrics
	log     *zap.Logger
}

// Open opens cfg.Source.URL and starts the pipeline. m may be nil.
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics, opts ...nexus.Option) (*Session, error) {
	mesh, err := OpenMesh(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return New(cfg.Streaming, mesh, m), nil
}

// New builds a session around an opened mesh. The session owns the mesh.
func New(s config.StreamingConfig, mesh *nexus.Mesh, m *metrics.Metrics) *Session {
	if m == nil {
		m = metrics.Discard()
	}
	pool := decode.NewPool(s.DecodeWorkers, m)
	return &Session{
		Mesh:      mesh,
		Cache:     cache.New(cache.ConfigFrom(s), pool, m),
		Traversal: traversal.New(s),
		pool:      pool,
		metrics:   m,
		log:       logger.Named("session"),
	}
}

// OpenMesh builds the transport stack for cfg.Source.URL, with the disk
// cache when configured, and reads the mesh index through it.
func OpenMesh(ctx context.Context, cfg *config.Config, opts ...nexus.Option) (*nexus.Mesh, error) {
	src := cfg.Source.URL
	f, err := fetch.Open(src, fetch.WithTimeout(cfg.Fetch.Timeout))
	if err != nil {
		return nil, err
	}

	// The mesh closes f; a transport wrapped by the disk cache is closed
	// through WithCloser.
	var inner io.Closer
	if cfg.Fetch.DiskCache != "" {
		dc, err := fetch.NewDiskCache(f, cfg.Fetch.DiskCache, src)
		if err != nil {
			closeFetcher(f)
			return nil, err
		}
		if c, ok := f.(io.Closer); ok {
			inner = c
			opts = append(opts, nexus.WithCloser(c))
		}
		f = dc
	}

	opts = append([]nexus.Option{
		nexus.WithName(path.Base(src)),
		nexus.WithRetrier(&fetch.Retrier{
			MinSleep:      cfg.Fetch.RetryMin,
			MaxSleep:      cfg.Fetch.RetryMax,
			MaxNumRetries: cfg.Streaming.MaxRetries,
		}),
	}, opts...)
	m, err := nexus.Open(ctx, f, opts...)
	if err != nil {
		closeFetcher(f)
		if inner != nil {
			inner.Close()
		}
		return nil, err
	}
	return m, nil
}

func closeFetcher(f fetch.Fetcher) {
	if c, ok := f.(io.Closer); ok {
		c.Close()
	}
}

// Step runs one frame: adapt the error to fps, traverse from view, hand
// the candidates to the cache and apply the completions that arrived.
func (s *Session) Step(fps float32, view traversal.View) traversal.Result {
	frame := s.Cache.BeginFrame(fps)
	s.Traversal.UpdateView(view)
	res := s.Traversal.Traverse(s.Mesh, frame)
	s.Cache.Offer(res.Candidates)
	s.Cache.EndFrame()

	s.metrics.Selected.Set(float64(res.Stats.Selected))
	s.metrics.Blocked.Set(float64(res.Stats.Blocked))
	return res
}

// Settle repeats Step with a fixed view until the cut stops changing and
// nothing is in flight, or ctx ends. It returns the last result and the
// number of frames run.
func (s *Session) Settle(ctx context.Context, view traversal.View, maxFrames int) (traversal.Result, int, error) {
	var res traversal.Result
	for frame := 1; frame <= maxFrames; frame++ {
		res = s.Step(0, view)
		// Nothing admitted this frame: the cut is as fine as the cache allows.
		if s.Cache.Stats().Inflight == 0 {
			return res, frame, nil
		}
		if err := s.Cache.Wait(ctx); err != nil {
			return res, frame, err
		}
	}
	return res, maxFrames, nil
}

// Close cancels outstanding work and releases the mesh.
func (s *Session) Close() error {
	s.log.Debug("closing session", zap.String("mesh", s.Mesh.Name))
	s.Cache.Close()
	return multierr.Append(s.pool.Close(), s.Mesh.Close())
}
