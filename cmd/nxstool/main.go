// nxstool is a CLI utility for inspecting nexus multiresolution models.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Faultbox/nxstream/internal/config"
	"github.com/Faultbox/nxstream/internal/decode"
	"github.com/Faultbox/nxstream/internal/engine/camera"
	"github.com/Faultbox/nxstream/internal/logger"
	"github.com/Faultbox/nxstream/internal/nexus"
	"github.com/Faultbox/nxstream/internal/session"
	"github.com/Faultbox/nxstream/internal/traversal"
	"github.com/Faultbox/nxstream/pkg/math"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	// Library logs only matter when something goes wrong.
	if err := logger.Init("warn", ""); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	switch command {
	case "info":
		cmdInfo(args)
	case "nodes", "ls":
		cmdNodes(args)
	case "decode":
		cmdDecode(args)
	case "simulate", "sim":
		cmdSimulate(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`nxstool - nexus multiresolution model utility

Usage:
  nxstool <command> [options]

Commands:
  info <model>                  Show header information
  nodes <model>                 List the node index
  decode <model> [node...]      Fetch and decode node payloads (all by default)
  simulate <model>              Stream the model headless from a fixed view

Models are local .nxs/.nxz paths or http(s) URLs.

Examples:
  nxstool info bunny.nxz
  nxstool nodes -n 20 https://example.org/statue.nxz
  nxstool decode bunny.nxz 0 1 2
  nxstool simulate -cache 64MiB -distance 0.5 bunny.nxz`)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func openModel(source string) *nexus.Mesh {
	cfg := config.Default()
	cfg.Source.URL = source
	m, err := session.OpenMesh(context.Background(), cfg)
	if err != nil {
		fail("%v", err)
	}
	return m
}

func cmdInfo(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: nxstool info <model>")
		os.Exit(1)
	}

	m := openModel(args[0])
	defer m.Close()
	h := m.Header

	var payload uint64
	for i := range m.Index.Nodes {
		payload += m.Index.Nodes[i].Size
	}
	for i := range m.Index.Textures {
		payload += m.Index.Textures[i].Size
	}

	encoding := "raw"
	switch {
	case h.Signature.Corto():
		encoding = "corto"
	case h.Signature.Compressed():
		encoding = "compressed (unsupported)"
	}

	fmt.Printf("Model:     %s\n", args[0])
	fmt.Printf("Version:   %d\n", h.Version)
	fmt.Printf("Vertices:  %s\n", humanize.Comma(int64(h.NVert)))
	fmt.Printf("Faces:     %s\n", humanize.Comma(int64(h.NFace)))
	fmt.Printf("Nodes:     %d (%d roots)\n", h.NNodes-1, m.NRoots)
	fmt.Printf("Patches:   %d\n", h.NPatches)
	fmt.Printf("Textures:  %d\n", h.NTextures)
	fmt.Printf("Materials: %d\n", len(h.Materials))
	fmt.Printf("Encoding:  %s\n", encoding)
	fmt.Printf("Payload:   %s\n", humanize.IBytes(payload))
	fmt.Printf("Sphere:    center %v radius %g\n", h.Sphere.Center, h.Sphere.Radius)
	fmt.Println()
	fmt.Println("Vertex attributes:")
	names := [...]string{"position", "normal", "color", "texcoord", "data0", "data1", "data2", "data3"}
	for i, a := range h.Signature.Vertex {
		if a.Present() {
			fmt.Printf("  %-10s %d x %s\n", names[i], a.Number, a.Type)
		}
	}
}

func cmdNodes(args []string) {
	fs := flag.NewFlagSet("nodes", flag.ExitOnError)
	limit := fs.Int("n", 0, "Limit output to N nodes (0 = all)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: nxstool nodes [-n N] <model>")
		os.Exit(1)
	}

	m := openModel(fs.Arg(0))
	defer m.Close()

	fmt.Printf("%6s %10s %9s %6s %6s %10s %10s %8s %4s\n",
		"id", "offset", "size", "verts", "faces", "error", "radius", "children", "tex")
	for id := 0; id < m.Sink(); id++ {
		if *limit > 0 && id >= *limit {
			fmt.Fprintf(os.Stderr, "\n(showing first %d of %d nodes)\n", *limit, m.Sink())
			break
		}
		n := &m.Index.Nodes[id]
		children := 0
		m.Children(id, func(int) { children++ })
		fmt.Printf("%6d %10d %9s %6d %6d %10.4g %10.4g %8d %4d\n",
			id, n.Offset, humanize.IBytes(n.Size), n.NVert, n.NFace,
			n.Error, n.Sphere.Radius, children, m.NodeTexture(id))
	}
}

func cmdDecode(args []string) {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	quiet := fs.Bool("q", false, "Only print failures and the summary")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: nxstool decode [-q] <model> [node...]")
		os.Exit(1)
	}

	m := openModel(fs.Arg(0))
	defer m.Close()

	var ids []int
	for _, a := range fs.Args()[1:] {
		id, err := strconv.Atoi(a)
		if err != nil || id < 0 || id >= m.Sink() {
			fail("invalid node %q", a)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		for id := 0; id < m.Sink(); id++ {
			ids = append(ids, id)
		}
	}

	ctx := context.Background()
	var failed int
	var fetched, decoded int64
	var elapsed time.Duration
	for _, id := range ids {
		n := &m.Index.Nodes[id]
		start, end := m.NodeRange(id)
		data, err := m.Fetcher.Fetch(ctx, start, end)
		if err != nil {
			fmt.Printf("node %d: fetch: %v\n", id, err)
			failed++
			continue
		}
		fetched += int64(len(data))

		t := time.Now()
		g, err := decode.Geometry(m.Header.Signature, int(n.NVert), int(n.NFace), data)
		elapsed += time.Since(t)
		if err != nil {
			fmt.Printf("node %d: decode: %v\n", id, err)
			failed++
			continue
		}
		decoded += int64(g.ByteSize())
		if !*quiet {
			fmt.Printf("node %d: %d vertices, %d faces, %s -> %s\n",
				id, g.NVert, g.NFace, humanize.IBytes(uint64(len(data))), humanize.IBytes(uint64(g.ByteSize())))
		}
	}

	fmt.Fprintf(os.Stderr, "\n%d nodes, %d failed, %s fetched, %s decoded in %v\n",
		len(ids), failed, humanize.IBytes(uint64(fetched)), humanize.IBytes(uint64(decoded)), elapsed.Round(time.Millisecond))
	if failed > 0 {
		os.Exit(1)
	}
}

func cmdSimulate(args []string) {
	defaults := config.Default()
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	cacheSize := fs.String("cache", defaults.Streaming.CacheSize.String(), "Resident geometry ceiling")
	target := fs.Float64("target", float64(defaults.Streaming.TargetError), "Target error in pixels")
	distance := fs.Float64("distance", 1, "Camera distance as a multiple of the fitted distance")
	width := fs.Int("width", defaults.Graphics.Width, "Viewport width in pixels")
	frames := fs.Int("frames", 10000, "Give up after N frames")
	timeout := fs.Duration("timeout", 5*time.Minute, "Give up after this long")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: nxstool simulate [options] <model>")
		os.Exit(1)
	}

	cfg := config.Default()
	cfg.Source.URL = fs.Arg(0)
	cfg.Streaming.TargetError = float32(*target)
	cfg.Streaming.MaxError = max(cfg.Streaming.MaxError, cfg.Streaming.TargetError)
	size, err := config.ParseByteSize(*cacheSize)
	if err != nil {
		fail("-cache: %v", err)
	}
	cfg.Streaming.CacheSize = size
	if err := cfg.Validate(); err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	s, err := session.Open(ctx, cfg, nil)
	if err != nil {
		fail("%v", err)
	}
	defer s.Close()

	sphere := s.Mesh.Header.Sphere
	cam := camera.NewOrbit(cfg.Graphics.FOV)
	cam.Fit(math.V3(sphere.Center), sphere.Radius)
	cam.Distance *= float32(*distance)
	aspect := float32(cfg.Graphics.Width) / float32(cfg.Graphics.Height)
	view := traversal.View{
		Projection: cam.Projection(aspect, sphere.Radius),
		ModelView:  cam.View(),
		Viewport:   [4]float32{0, 0, float32(*width), float32(*width) / aspect},
	}

	began := time.Now()
	res, n, err := s.Settle(ctx, view, *frames)
	if err != nil {
		fail("after %d frames: %v", n, err)
	}
	st := s.Cache.Stats()

	fmt.Printf("Frames:     %d in %v\n", n, time.Since(began).Round(time.Millisecond))
	fmt.Printf("Selected:   %d nodes, %s triangles\n", res.Stats.Selected, humanize.Comma(int64(res.Stats.Triangles)))
	fmt.Printf("Blocked:    %d\n", res.Stats.Blocked)
	fmt.Printf("Resident:   %s in %d nodes\n", humanize.IBytes(uint64(st.ResidentBytes)), st.Ready)
	fmt.Printf("Evictions:  %d\n", st.Evictions)
	fmt.Printf("Drops:      %d\n", st.Drops)
	fmt.Printf("Candidates: %d left\n", len(res.Candidates))
}
