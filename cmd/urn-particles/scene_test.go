package main

import (
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
)

func TestSpawnParticles(t *testing.T) {
	particles := spawnParticles(64)
	require.Len(t, particles, 64)

	for i, p := range particles {
		r := p.Position.Vec2().Len()
		assert.InDelta(t, 1.5, r, 0.51, "particle %d", i)
		assert.Equal(t, float32(1), p.Position.W())
		assert.Equal(t, float32(0), p.Velocity.W())
		// Velocity is tangent to the ring.
		assert.InDelta(t, 0, p.Position.Vec2().Dot(p.Velocity.Vec2()), 1e-5, "particle %d", i)
	}
}

func TestParticleLayout(t *testing.T) {
	assert.Equal(t, uintptr(32), unsafe.Sizeof(Particle{}))

	bindings := vertexBindings()
	require.Len(t, bindings, 2)
	assert.Equal(t, core1_0.VertexInputRateVertex, bindings[0].InputRate)
	assert.Equal(t, core1_0.VertexInputRateInstance, bindings[1].InputRate)

	locations := map[int]bool{}
	for _, attr := range vertexAttributes() {
		assert.False(t, locations[attr.Location], "location %d bound twice", attr.Location)
		locations[attr.Location] = true
		assert.Less(t, attr.Offset, bindings[attr.Binding].Stride)
	}
}

func TestChooseSurfaceFormat(t *testing.T) {
	linear := khr_surface.SurfaceFormat{Format: core1_0.FormatB8G8R8A8UnsignedNormalized, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear}
	srgb := khr_surface.SurfaceFormat{Format: core1_0.FormatB8G8R8A8SRGB, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear}

	assert.Equal(t, srgb, chooseSurfaceFormat([]khr_surface.SurfaceFormat{linear, srgb}))
	assert.Equal(t, linear, chooseSurfaceFormat([]khr_surface.SurfaceFormat{linear}))
}

func TestChoosePresentMode(t *testing.T) {
	assert.Equal(t, khr_surface.PresentModeMailbox,
		choosePresentMode([]khr_surface.PresentMode{khr_surface.PresentModeFIFO, khr_surface.PresentModeMailbox}))
	assert.Equal(t, khr_surface.PresentModeFIFO,
		choosePresentMode([]khr_surface.PresentMode{khr_surface.PresentModeImmediate}))
}

func TestLoadMeshMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := loadMesh(filepath.Join(dir, "missing.obj"), filepath.Join(dir, "missing.mtl"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadTextureRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.png")
	require.NoError(t, os.WriteFile(path, []byte("not a png"), 0o644))

	_, err := loadTexture(path)
	assert.Error(t, err)
}
