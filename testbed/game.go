// Package testbed is a small application exercising the rendering core: it
// streams textures through the residency manager, feeds per-frame transient
// data through the ring arenas and drives the swapchain and deferred passes.
package testbed

import (
	"encoding/binary"
	"math"

	"github.com/spaghettifunk/keel/engine/core"
	"github.com/spaghettifunk/keel/engine/renderer"
	"github.com/spaghettifunk/keel/engine/renderer/binding"
	"github.com/spaghettifunk/keel/engine/renderer/buffers"
	"github.com/spaghettifunk/keel/engine/renderer/device"
	"github.com/spaghettifunk/keel/engine/renderer/frame"
	"github.com/spaghettifunk/keel/engine/renderer/residency"
)

// sceneUniform is the per-frame shader constant block.
type sceneUniform struct {
	time  float32
	width float32
}

const sceneUniformSize = 16

type TestGame struct {
	renderer *renderer.Renderer

	albedoID residency.AssetID
	normalID residency.AssetID

	quadVertices buffers.Handle
	elapsed      float64
	frameCount   uint64
}

func NewTestGame() *TestGame {
	return &TestGame{}
}

func (g *TestGame) Initialize(r *renderer.Renderer) error {
	g.renderer = r

	// Texture loads are fire-and-forget: draws fall back to the builtin
	// texture until the upload lands a few frames later.
	if id, err := r.LoadTexture("albedo.png"); err == nil {
		g.albedoID = id
	} else {
		core.LogWarn("testbed: %v", err)
	}
	if id, err := r.LoadTexture("normal.png"); err == nil {
		g.normalID = id
	} else {
		core.LogWarn("testbed: %v", err)
	}

	quad := quadVertexData()
	h, err := r.Buffers().Create(uint64(len(quad)), device.UsageVertex, "testbed-quad")
	if err != nil {
		return err
	}
	if err := r.Buffers().Update(h, quad); err != nil {
		return err
	}
	g.quadVertices = h
	return nil
}

func (g *TestGame) Frame(rec *frame.Recording, delta float64) error {
	g.elapsed += delta
	g.frameCount++

	// Per-frame constants live in this frame's uniform ring.
	alloc, err := rec.AllocUniform(sceneUniformSize, 256)
	if err != nil {
		return err
	}
	u := sceneUniform{time: float32(g.elapsed), width: 1280}
	binary.LittleEndian.PutUint32(alloc.Bytes[0:], math.Float32bits(u.time))
	binary.LittleEndian.PutUint32(alloc.Bytes[4:], math.Float32bits(u.width))

	rec.Bindings().Set(0, binding.Binding{
		Kind:   binding.KindUniformBuffer,
		Buffer: alloc.Buffer,
		Offset: alloc.Region.Offset,
		Size:   sceneUniformSize,
	})

	// The bindless indices are always sampleable, resident or not.
	_ = g.renderer.Textures().BindlessIndex(g.albedoID)
	_ = g.renderer.Textures().BindlessIndex(g.normalID)

	geometry := g.renderer.BeginDeferredPass(rec)
	lighting := geometry.EndIntoLighting()
	lighting.End()

	pass := g.renderer.BeginSwapchainPass(rec)
	pass.End()

	if g.frameCount%300 == 0 {
		core.LogDebug("testbed: frame %d, %d textures pending", g.frameCount, g.renderer.Textures().Pending())
	}
	return nil
}

func (g *TestGame) Shutdown() {
	core.LogInfo("testbed: shutting down after %d frames", g.frameCount)
}

// quadVertexData returns two triangles covering the unit quad, interleaved
// position (xy) and uv.
func quadVertexData() []byte {
	verts := []float32{
		-1, -1, 0, 0,
		1, -1, 1, 0,
		1, 1, 1, 1,
		-1, -1, 0, 0,
		1, 1, 1, 1,
		-1, 1, 0, 1,
	}
	data := make([]byte, len(verts)*4)
	for i, v := range verts {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return data
}
