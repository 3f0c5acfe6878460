// Package viewer implements the interactive streaming loop: one mesh, an
// orbit camera, and the traversal/cache/renderer pipeline run once per
// frame.
package viewer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/nxstream/internal/config"
	"github.com/Faultbox/nxstream/internal/engine/camera"
	"github.com/Faultbox/nxstream/internal/engine/renderer"
	"github.com/Faultbox/nxstream/internal/engine/window"
	"github.com/Faultbox/nxstream/internal/logger"
	"github.com/Faultbox/nxstream/internal/metrics"
	"github.com/Faultbox/nxstream/internal/nexus"
	"github.com/Faultbox/nxstream/internal/session"
	"github.com/Faultbox/nxstream/internal/traversal"
	"github.com/Faultbox/nxstream/pkg/math"
)

// Viewer is the main application instance.
type Viewer struct {
	cfg     *config.Config
	log     *zap.Logger
	running bool

	window   *window.Window
	renderer *renderer.Renderer
	metrics  *metrics.Metrics
	server   *http.Server

	session *session.Session
	mesh    *nexus.Mesh
	camera  *camera.Orbit

	showStats bool
}

// New opens the model named by cfg.Source.URL and creates the window and
// the streaming pipeline.
func New(ctx context.Context, cfg *config.Config) (*Viewer, error) {
	if cfg.Source.URL == "" {
		return nil, errors.New("no model given: pass a URL or path, or set source.url")
	}
	v := &Viewer{
		cfg:       cfg,
		log:       logger.Named("viewer"),
		showStats: cfg.Graphics.ShowStats,
	}

	reg := prometheus.NewRegistry()
	v.metrics = metrics.New(reg)
	if cfg.Metrics.Listen != "" {
		v.serveMetrics(reg)
	}

	var err error
	v.window, err = window.New("nxsview - "+path.Base(cfg.Source.URL), cfg.Graphics)
	if err != nil {
		v.Close()
		return nil, fmt.Errorf("failed to create window: %w", err)
	}

	// Renderer after window: the OpenGL context must exist.
	v.renderer, err = renderer.New()
	if err != nil {
		v.Close()
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}

	v.session, err = session.Open(ctx, cfg, v.metrics, nexus.WithListener(v.renderer))
	if err != nil {
		v.Close()
		return nil, err
	}
	v.mesh = v.session.Mesh
	v.camera = camera.NewOrbit(cfg.Graphics.FOV)
	v.resetCamera()

	v.log.Info("viewer initialized",
		zap.String("model", v.mesh.Name),
		zap.Int("nodes", len(v.mesh.Nodes)),
		zap.Int("textures", len(v.mesh.Textures)),
		zap.Stringer("cache", cfg.Streaming.CacheSize))
	return v, nil
}

func (v *Viewer) serveMetrics(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	v.server = &http.Server{Addr: v.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := v.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			v.log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	v.log.Info("serving metrics", zap.String("addr", v.cfg.Metrics.Listen))
}

func (v *Viewer) resetCamera() {
	s := v.mesh.Header.Sphere
	v.camera.Fit(math.V3(s.Center), s.Radius)
}

// Run drives the frame loop until the window is closed.
func (v *Viewer) Run() error {
	v.running = true

	lastTime := time.Now()
	titleTimer := lastTime
	var fps float32

	v.log.Info("starting frame loop")

	for v.running {
		now := time.Now()
		dt := float32(now.Sub(lastTime).Seconds())
		lastTime = now
		if dt > 0 {
			// Exponential moving average.
			if fps == 0 {
				fps = 1 / dt
			} else {
				fps = 0.9*fps + 0.1/dt
			}
		}

		// 1. Input
		in := v.window.PollInput()
		if in.Quit {
			v.running = false
			break
		}
		if in.DragX != 0 || in.DragY != 0 {
			v.camera.Drag(in.DragX, in.DragY)
		}
		if in.Zoom != 0 {
			v.camera.Zoom(in.Zoom)
		}
		if in.Reset {
			v.resetCamera()
		}
		if in.ToggleStats {
			v.showStats = !v.showStats
		}

		// 2. Stream
		view := v.view()
		res := v.session.Step(fps, view)

		// 3. Render
		v.renderer.Begin()
		v.renderer.Draw(v.mesh, res.Selected, view, v.session.Traversal)
		v.window.SwapBuffers()

		if v.showStats && time.Since(titleTimer) >= time.Second {
			v.window.SetTitle(v.statusLine(fps, res.Stats))
			titleTimer = time.Now()
		}
	}
	return nil
}

func (v *Viewer) view() traversal.View {
	w, h := v.window.Size()
	v.renderer.Resize(w, h)
	aspect := float32(w) / float32(max(h, 1))
	return traversal.View{
		Projection: v.camera.Projection(aspect, v.mesh.Header.Sphere.Radius),
		ModelView:  v.camera.View(),
		Viewport:   [4]float32{0, 0, float32(w), float32(h)},
	}
}

func (v *Viewer) statusLine(fps float32, st traversal.Stats) string {
	cs := v.session.Cache.Stats()
	return fmt.Sprintf("%s | %.0f fps | %s triangles | error %.1f px | %s resident | %d pending",
		v.mesh.Name, fps,
		humanize.Comma(int64(st.Triangles)),
		cs.CurrentError,
		humanize.IBytes(uint64(cs.ResidentBytes)),
		cs.Pending)
}

// Close releases every resource in reverse creation order.
func (v *Viewer) Close() error {
	v.log.Info("closing viewer")

	var err error
	if v.session != nil {
		err = v.session.Close()
	}
	if v.renderer != nil {
		v.renderer.Close()
	}
	if v.window != nil {
		v.window.Close()
	}
	if v.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err = multierr.Append(err, v.server.Shutdown(ctx))
	}
	return err
}
