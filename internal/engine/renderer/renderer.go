// Package renderer draws the selected cut of nexus meshes with OpenGL.
//
// The renderer is a nexus.Listener: node buffers are uploaded when the
// cache marks a node ready and freed when it is released, so GPU memory
// follows the cache.
package renderer

import (
	"fmt"
	"unsafe"

	"github.com/go-gl/gl/v4.1-core/gl"
	"go.uber.org/zap"

	"github.com/Faultbox/nxstream/internal/engine/shader"
	"github.com/Faultbox/nxstream/internal/logger"
	"github.com/Faultbox/nxstream/internal/nexus"
	"github.com/Faultbox/nxstream/internal/traversal"
	"github.com/Faultbox/nxstream/pkg/corto"
	"github.com/Faultbox/nxstream/pkg/math"
)

const (
	attrPosition = 0
	attrNormal   = 1
	attrColor    = 2
	attrUV       = 3
)

const vertexShader = `
#version 410 core

layout (location = 0) in vec3 aPosition;
layout (location = 1) in vec3 aNormal;
layout (location = 2) in vec4 aColor;
layout (location = 3) in vec2 aUV;

uniform mat4 uProjection;
uniform mat4 uModelView;

out vec3 vNormal;
out vec4 vColor;
out vec2 vUV;

void main() {
	vNormal = mat3(uModelView) * aNormal;
	vColor = aColor;
	vUV = aUV;
	gl_Position = uProjection * uModelView * vec4(aPosition, 1.0);
	gl_PointSize = 2.0;
}
`

const fragmentShader = `
#version 410 core

in vec3 vNormal;
in vec4 vColor;
in vec2 vUV;

uniform bool uHasNormal;
uniform bool uHasColor;
uniform bool uHasTexture;
uniform sampler2D uTexture;

out vec4 FragColor;

void main() {
	vec4 color = uHasColor ? vColor : vec4(0.8, 0.8, 0.8, 1.0);
	if (uHasTexture) {
		color *= texture(uTexture, vUV);
	}
	if (uHasNormal) {
		float light = abs(normalize(vNormal).z);
		color.rgb *= 0.2 + 0.8 * light;
	}
	FragColor = color;
}
`

type key struct {
	mesh *nexus.Mesh
	id   int
}

type nodeBuffers struct {
	vao       uint32
	vbos      []uint32
	ebo       uint32
	indexType uint32
	width     int // bytes per index
	nvert     int32
	bytes     int64
	normals   bool
	colors    bool
	uvs       bool
}

// Renderer owns the GPU copies of ready nodes and texture groups.
type Renderer struct {
	program  *shader.Program
	nodes    map[key]*nodeBuffers
	textures map[key]uint32
	log      *zap.Logger

	// GPUBytes is the size of the uploaded vertex and index data.
	GPUBytes int64
}

// New initializes OpenGL state. It must be called after the context exists.
func New() (*Renderer, error) {
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize OpenGL: %w", err)
	}
	r := &Renderer{
		nodes:    make(map[key]*nodeBuffers),
		textures: make(map[key]uint32),
		log:      logger.Named("renderer"),
	}
	r.log.Info("OpenGL initialized",
		zap.String("version", gl.GoStr(gl.GetString(gl.VERSION))),
		zap.String("renderer", gl.GoStr(gl.GetString(gl.RENDERER))))

	gl.Enable(gl.DEPTH_TEST)
	gl.DepthFunc(gl.LESS)
	gl.Enable(gl.PROGRAM_POINT_SIZE)
	gl.ClearColor(0.1, 0.1, 0.15, 1.0)

	var err error
	r.program, err = shader.Compile(vertexShader, fragmentShader)
	if err != nil {
		return nil, fmt.Errorf("nexus shader: %w", err)
	}
	return r, nil
}

// NodeReady uploads the buffers of a node.
func (r *Renderer) NodeReady(m *nexus.Mesh, id int) {
	g := m.Nodes[id].Geometry
	if g == nil || g.NVert == 0 {
		return
	}
	k := key{m, id}
	if old, ok := r.nodes[k]; ok {
		r.free(old)
	}
	r.nodes[k] = r.upload(g)
}

// NodeReleased frees the buffers of a node.
func (r *Renderer) NodeReleased(m *nexus.Mesh, id int) {
	k := key{m, id}
	if b, ok := r.nodes[k]; ok {
		r.free(b)
		delete(r.nodes, k)
	}
}

// TextureReady uploads the first map of a texture group.
func (r *Renderer) TextureReady(m *nexus.Mesh, tex int) {
	imgs := m.Textures[tex].Images
	if len(imgs) == 0 || imgs[0] == nil || len(imgs[0].Pix) == 0 {
		return
	}
	k := key{m, tex}
	deleteTexture(r.textures[k])
	r.textures[k] = uploadTexture(imgs[0])
}

// TextureReleased frees a texture group.
func (r *Renderer) TextureReleased(m *nexus.Mesh, tex int) {
	k := key{m, tex}
	deleteTexture(r.textures[k])
	delete(r.textures, k)
}

func (r *Renderer) upload(g *corto.Geometry) *nodeBuffers {
	b := &nodeBuffers{nvert: int32(g.NVert)}
	gl.GenVertexArrays(1, &b.vao)
	gl.BindVertexArray(b.vao)

	attrib := func(loc uint32, size int32, kind uint32, normalized bool, data unsafe.Pointer, bytes int) {
		var vbo uint32
		gl.GenBuffers(1, &vbo)
		gl.BindBuffer(gl.ARRAY_BUFFER, vbo)
		gl.BufferData(gl.ARRAY_BUFFER, bytes, data, gl.STATIC_DRAW)
		gl.VertexAttribPointer(loc, size, kind, normalized, 0, nil)
		gl.EnableVertexAttribArray(loc)
		b.vbos = append(b.vbos, vbo)
		b.bytes += int64(bytes)
	}

	attrib(attrPosition, 3, gl.FLOAT, false, gl.Ptr(g.Positions), len(g.Positions)*4)
	if len(g.Normals) > 0 {
		attrib(attrNormal, 3, gl.SHORT, true, gl.Ptr(g.Normals), len(g.Normals)*2)
		b.normals = true
	}
	if len(g.Colors) > 0 {
		attrib(attrColor, 4, gl.UNSIGNED_BYTE, true, gl.Ptr(g.Colors), len(g.Colors))
		b.colors = true
	}
	if len(g.UVs) > 0 {
		attrib(attrUV, 2, gl.FLOAT, false, gl.Ptr(g.UVs), len(g.UVs)*4)
		b.uvs = true
	}

	if len(g.Index) > 0 {
		gl.GenBuffers(1, &b.ebo)
		gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, b.ebo)
		if g.IndexWidth == 2 {
			short := make([]uint16, len(g.Index))
			for i, v := range g.Index {
				short[i] = uint16(v)
			}
			gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, len(short)*2, gl.Ptr(short), gl.STATIC_DRAW)
			b.indexType, b.width = gl.UNSIGNED_SHORT, 2
		} else {
			gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, len(g.Index)*4, gl.Ptr(g.Index), gl.STATIC_DRAW)
			b.indexType, b.width = gl.UNSIGNED_INT, 4
		}
		b.bytes += int64(len(g.Index) * b.width)
	}
	r.GPUBytes += b.bytes

	gl.BindVertexArray(0)
	gl.BindBuffer(gl.ARRAY_BUFFER, 0)
	return b
}

func (r *Renderer) free(b *nodeBuffers) {
	r.GPUBytes -= b.bytes
	if len(b.vbos) > 0 {
		gl.DeleteBuffers(int32(len(b.vbos)), &b.vbos[0])
	}
	if b.ebo != 0 {
		gl.DeleteBuffers(1, &b.ebo)
	}
	gl.DeleteVertexArrays(1, &b.vao)
}

// Resize sets the viewport.
func (r *Renderer) Resize(width, height int) {
	gl.Viewport(0, 0, int32(width), int32(height))
}

// Begin clears the frame.
func (r *Renderer) Begin() {
	gl.Clear(gl.COLOR_BUFFER_BIT | gl.DEPTH_BUFFER_BIT)
}

// Draw renders the selected cut of m and returns the triangles drawn.
// Nodes outside the frustum of tr are skipped.
func (r *Renderer) Draw(m *nexus.Mesh, selected []bool, view traversal.View, tr *traversal.Traversal) int {
	r.program.Use()
	r.program.SetMat4("uProjection", view.Projection)
	r.program.SetMat4("uModelView", view.ModelView)
	r.program.SetInt("uTexture", 0)
	gl.ActiveTexture(gl.TEXTURE0)

	triangles := 0
	for id, sel := range selected {
		if !sel {
			continue
		}
		b, ok := r.nodes[key{m, id}]
		if !ok {
			continue
		}
		n := &m.Index.Nodes[id]
		if !tr.Visible(math.V3(n.Sphere.Center), n.Sphere.Radius) {
			continue
		}

		r.program.SetBool("uHasNormal", b.normals)
		r.program.SetBool("uHasColor", b.colors)
		gl.BindVertexArray(b.vao)

		if b.ebo == 0 {
			r.program.SetBool("uHasTexture", false)
			gl.DrawArrays(gl.POINTS, 0, b.nvert)
			continue
		}
		for _, rg := range m.DrawRanges(id, selected) {
			tex, ok := r.textures[key{m, rg.Texture}]
			hasTexture := ok && b.uvs && rg.Texture >= 0
			r.program.SetBool("uHasTexture", hasTexture)
			if hasTexture {
				gl.BindTexture(gl.TEXTURE_2D, tex)
			}
			count := int32(rg.End-rg.Start) * 3
			gl.DrawElementsWithOffset(gl.TRIANGLES, count, b.indexType, uintptr(int(rg.Start)*3*b.width))
			triangles += int(rg.End - rg.Start)
		}
	}
	gl.BindVertexArray(0)
	return triangles
}

// Close frees every GPU resource.
func (r *Renderer) Close() {
	r.log.Info("closing renderer", zap.Int("nodes", len(r.nodes)), zap.Int("textures", len(r.textures)))
	for k, b := range r.nodes {
		r.free(b)
		delete(r.nodes, k)
	}
	for k, id := range r.textures {
		deleteTexture(id)
		delete(r.textures, k)
	}
	r.program.Delete()
}
