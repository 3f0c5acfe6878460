// Package decode runs node payload decoding on a bounded set of workers.
//
// Jobs are submitted from the main loop and results come back over a single
// channel, each tagged with the job's correlation id. Ownership of the job's
// byte slice passes to the pool on Submit.
package decode

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Faultbox/nxstream/internal/engine/texture"
	"github.com/Faultbox/nxstream/internal/logger"
	"github.com/Faultbox/nxstream/internal/metrics"
	"github.com/Faultbox/nxstream/pkg/corto"
	"github.com/Faultbox/nxstream/pkg/nxs"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("decode: pool closed")

// Kind selects what a job decodes.
type Kind int

const (
	KindGeometry Kind = iota
	KindTexture
)

// Job is one payload to decode.
type Job struct {
	ID   uint64
	Kind Kind
	Data []byte

	// Geometry jobs.
	Signature nxs.Signature
	NVert     int
	NFace     int

	// Texture jobs.
	Version uint32
}

// Result carries the decoded buffers of one job.
type Result struct {
	ID       uint64
	Kind     Kind
	Geometry *corto.Geometry
	Images   []*image.RGBA
	Err      error
	Elapsed  time.Duration
}

// Handle cancels a submitted job. A canceled job delivers no result.
type Handle struct {
	cancel context.CancelFunc
}

// Cancel stops the job if it has not finished. Safe to call more than once.
func (h Handle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

// Pool is a bounded decode worker pool.
type Pool struct {
	ctx     context.Context
	stop    context.CancelFunc
	sem     *semaphore.Weighted
	group   *errgroup.Group
	results chan Result
	metrics *metrics.Metrics
	log     *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewPool starts a pool decoding at most workers jobs at once.
func NewPool(workers int, m *metrics.Metrics) *Pool {
	if workers < 1 {
		workers = 1
	}
	if m == nil {
		m = metrics.Discard()
	}
	ctx, stop := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	return &Pool{
		ctx:     ctx,
		stop:    stop,
		sem:     semaphore.NewWeighted(int64(workers)),
		group:   group,
		results: make(chan Result, 4*workers),
		metrics: m,
		log:     logger.Named("decode"),
	}
}

// Results delivers finished jobs. It is closed by Close.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Submit queues job. It never blocks on decoding.
func (p *Pool) Submit(job Job) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Handle{}, ErrClosed
	}

	ctx, cancel := context.WithCancel(p.ctx)
	p.metrics.DecodeQueued.Inc()
	p.group.Go(func() error {
		defer cancel()
		defer p.metrics.DecodeQueued.Dec()

		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		res := p.run(ctx, job)
		p.sem.Release(1)

		if ctx.Err() != nil {
			return nil
		}
		p.metrics.Decoded(res.Elapsed, res.Err)
		select {
		case p.results <- res:
		case <-ctx.Done():
		}
		return nil
	})
	return Handle{cancel: cancel}, nil
}

func (p *Pool) run(ctx context.Context, job Job) (res Result) {
	start := time.Now()
	res = Result{ID: job.ID, Kind: job.Kind}
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("decoder panic", zap.Uint64("job", job.ID), zap.Any("panic", r))
			res.Geometry, res.Images = nil, nil
			res.Err = fmt.Errorf("decode: panic: %v", r)
		}
		res.Elapsed = time.Since(start)
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	switch job.Kind {
	case KindGeometry:
		res.Geometry, res.Err = Geometry(job.Signature, job.NVert, job.NFace, job.Data)
	case KindTexture:
		res.Images, res.Err = Textures(job.Version, job.Data)
	default:
		res.Err = fmt.Errorf("decode: unknown job kind %d", job.Kind)
	}
	return res
}

// Geometry decodes one node payload according to the container signature.
func Geometry(sig nxs.Signature, nvert, nface int, data []byte) (*corto.Geometry, error) {
	if sig.Corto() {
		return corto.Decode(data, corto.Options{ExpectVertices: nvert, ExpectFaces: nface})
	}
	return nxs.ParseRaw(sig, nvert, nface, data)
}

// Textures decodes every image of a texture group payload.
func Textures(version uint32, data []byte) ([]*image.RGBA, error) {
	maps, err := nxs.ParseTextureGroup(version, data)
	if err != nil {
		return nil, err
	}
	return texture.DecodeAll(maps)
}

// Close cancels outstanding jobs, waits for the workers and closes Results.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.stop()
	err := p.group.Wait()
	close(p.results)
	return err
}
