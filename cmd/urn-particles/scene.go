package main

import (
	"context"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/g3n/engine/loader/obj"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/urnvk/urn/gpu"
	"github.com/urnvk/urn/resource"
	"github.com/urnvk/urn/transfer"
	"github.com/urnvk/urn/vkng"
	"github.com/vkngwrapper/core/v3/core1_0"
	vkngmath "github.com/vkngwrapper/math"
	"golang.org/x/sync/errgroup"
)

type AssetPaths struct {
	Mesh     string
	Material string
	Texture  string
	Shaders  string
}

func (p AssetPaths) Shader(name string) string {
	return filepath.Join(p.Shaders, name)
}

type Vertex struct {
	Position vkngmath.Vec3[float32]
	Color    vkngmath.Vec3[float32]
	TexCoord vkngmath.Vec2[float32]
}

// Particle is laid out for std430: two vec4s.
type Particle struct {
	Position mgl32.Vec4
	Velocity mgl32.Vec4
}

func vertexBindings() []core1_0.VertexInputBindingDescription {
	return []core1_0.VertexInputBindingDescription{
		{
			Binding:   0,
			Stride:    int(unsafe.Sizeof(Vertex{})),
			InputRate: core1_0.VertexInputRateVertex,
		},
		{
			Binding:   1,
			Stride:    int(unsafe.Sizeof(Particle{})),
			InputRate: core1_0.VertexInputRateInstance,
		},
	}
}

func vertexAttributes() []core1_0.VertexInputAttributeDescription {
	v := Vertex{}
	p := Particle{}
	return []core1_0.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Position)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Color)),
		},
		{
			Binding:  0,
			Location: 2,
			Format:   core1_0.FormatR32G32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.TexCoord)),
		},
		{
			Binding:  1,
			Location: 3,
			Format:   core1_0.FormatR32G32B32A32SignedFloat,
			Offset:   int(unsafe.Offsetof(p.Position)),
		},
	}
}

// Scene holds everything uploaded once at startup.
type Scene struct {
	Vertices  *resource.Buffer
	Indices   *resource.Buffer
	Particles *resource.Buffer
	Texture   *resource.Image

	IndexCount    int
	ParticleCount int

	device        *vkng.Device
	sampler       core1_0.Sampler
	SamplerHandle gpu.Sampler
}

type mesh struct {
	vertices []Vertex
	indices  []uint32
}

type texture struct {
	pixels        []byte
	width, height int
}

func loadMesh(meshPath, materialPath string) (*mesh, error) {
	meshFile, err := os.Open(meshPath)
	if err != nil {
		return nil, errors.Wrap(err, "open mesh")
	}
	defer meshFile.Close()

	matFile, err := os.Open(materialPath)
	if err != nil {
		return nil, errors.Wrap(err, "open material")
	}
	defer matFile.Close()

	decoder, err := obj.DecodeReader(meshFile, matFile)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", meshPath)
	}

	m := &mesh{}
	unique := make(map[int]uint32)
	add := func(face obj.Face, i int) {
		vertInd := face.Vertices[i]
		index, ok := unique[vertInd]
		if !ok {
			vert := Vertex{
				Position: vkngmath.Vec3[float32]{
					X: decoder.Vertices[vertInd*3],
					Y: decoder.Vertices[vertInd*3+1],
					Z: decoder.Vertices[vertInd*3+2],
				},
				Color: vkngmath.Vec3[float32]{X: 1, Y: 1, Z: 1},
			}
			if len(face.Uvs) > i {
				uvInd := face.Uvs[i]
				vert.TexCoord = vkngmath.Vec2[float32]{
					X: decoder.Uvs[uvInd*2],
					Y: 1.0 - decoder.Uvs[uvInd*2+1],
				}
			}
			index = uint32(len(m.vertices))
			m.vertices = append(m.vertices, vert)
			unique[vertInd] = index
		}
		m.indices = append(m.indices, index)
	}

	for _, decodedObj := range decoder.Objects {
		for _, face := range decodedObj.Faces {
			// Fan-triangulate.
			for i := 2; i < len(face.Vertices); i++ {
				add(face, 0)
				add(face, i-1)
				add(face, i)
			}
		}
	}
	return m, nil
}

func loadTexture(path string) (*texture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open texture")
	}
	defer f.Close()

	decoded, err := png.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}

	bounds := decoded.Bounds()
	rgba := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			rgba.Set(x-bounds.Min.X, y-bounds.Min.Y, decoded.At(x, y))
		}
	}
	return &texture{pixels: rgba.Pix, width: bounds.Dx(), height: bounds.Dy()}, nil
}

// spawnParticles places count particles on a ring around the origin, each
// moving along the ring.
func spawnParticles(count int) []Particle {
	particles := make([]Particle, count)
	for i := range particles {
		angle := 2 * math.Pi * float64(i) / float64(count)
		radius := float32(1.5 + 0.5*math.Sin(7*angle))
		dir := mgl32.Vec2{float32(math.Cos(angle)), float32(math.Sin(angle))}
		pos := dir.Mul(radius)
		tangent := mgl32.Vec2{-dir.Y(), dir.X()}.Mul(0.25)
		particles[i] = Particle{
			Position: mgl32.Vec4{pos.X(), pos.Y(), 0, 1},
			Velocity: mgl32.Vec4{tangent.X(), tangent.Y(), 0, 0},
		}
	}
	return particles
}

// loadScene decodes the assets concurrently, uploads them on the transfer
// queue and hands them to the combined family.
func (app *App) loadScene() error {
	var m *mesh
	var tex *texture
	var g errgroup.Group
	g.Go(func() error {
		var err error
		m, err = loadMesh(app.assets.Mesh, app.assets.Material)
		return err
	})
	g.Go(func() error {
		var err error
		tex, err = loadTexture(app.assets.Texture)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	particles := spawnParticles(app.cfg.Particles)

	app.logger.Info("decoded assets",
		"vertices", len(m.vertices),
		"indices", len(m.indices),
		"texture", tex.width*tex.height,
		"particles", len(particles),
	)

	buffers, err := transfer.UploadBatch(context.Background(), app.resources, app.transferCmd, []transfer.BatchItem{
		{
			Data:        resource.Bytes(m.vertices),
			Destination: transfer.Destination{Usage: core1_0.BufferUsageVertexBuffer, Name: "vertices"},
		},
		{
			Data:        resource.Bytes(m.indices),
			Destination: transfer.Destination{Usage: core1_0.BufferUsageIndexBuffer, Name: "indices"},
		},
		{
			Data: resource.Bytes(particles),
			Destination: transfer.Destination{
				Usage: core1_0.BufferUsageVertexBuffer | core1_0.BufferUsageStorageBuffer,
				Name:  "particles",
			},
		},
	})
	if err != nil {
		return err
	}

	scene := &Scene{
		Vertices:      buffers[0],
		Indices:       buffers[1],
		Particles:     buffers[2],
		IndexCount:    len(m.indices),
		ParticleCount: len(particles),
		device:        app.device,
	}
	app.scene = scene

	scene.Texture, err = transfer.UploadImage(app.resources, app.transferCmd, tex.pixels, transfer.ImageDestination{
		Width:  tex.width,
		Height: tex.height,
		Format: core1_0.FormatR8G8B8A8SRGB,
		Usage:  core1_0.ImageUsageSampled,
		Name:   "texture",
	})
	if err != nil {
		return err
	}

	err = transfer.ToCombined(buffers, []*resource.Image{scene.Texture}, app.transferCmd, app.computeCmd)
	if err != nil {
		return err
	}

	return scene.createSampler(app)
}

func (s *Scene) createSampler(app *App) error {
	properties, err := app.instanceDriver.GetPhysicalDeviceProperties(app.physical.Handle())
	if err != nil {
		return gpu.Wrap(err, "get physical device properties")
	}
	anisotropy := app.instanceDriver.GetPhysicalDeviceFeatures(app.physical.Handle()).SamplerAnisotropy

	s.sampler, _, err = app.device.Driver().CreateSampler(nil, core1_0.SamplerCreateInfo{
		MagFilter:    core1_0.FilterLinear,
		MinFilter:    core1_0.FilterLinear,
		AddressModeU: core1_0.SamplerAddressModeRepeat,
		AddressModeV: core1_0.SamplerAddressModeRepeat,
		AddressModeW: core1_0.SamplerAddressModeRepeat,

		AnisotropyEnable: anisotropy,
		MaxAnisotropy:    properties.Limits.MaxSamplerAnisotropy,

		BorderColor: core1_0.BorderColorIntOpaqueBlack,

		MipmapMode: core1_0.SamplerMipmapModeLinear,
	})
	if err != nil {
		return gpu.Wrap(err, "create sampler")
	}
	s.SamplerHandle = app.device.ImportSampler(s.sampler)
	return nil
}

func (s *Scene) Destroy() {
	if s.sampler.Initialized() {
		s.device.ForgetSampler(s.SamplerHandle)
		s.device.Driver().DestroySampler(s.sampler, nil)
	}
	for _, b := range []*resource.Buffer{s.Vertices, s.Indices, s.Particles} {
		if b != nil {
			b.Destroy()
		}
	}
	if s.Texture != nil {
		s.Texture.Destroy()
	}
}
