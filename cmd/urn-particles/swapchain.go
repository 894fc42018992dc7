package main

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/loov/hrtime"
	"github.com/urnvk/urn/descriptor"
	"github.com/urnvk/urn/gpu"
	"github.com/urnvk/urn/resource"
	"github.com/urnvk/urn/vkng"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

type UniformBufferObject struct {
	Model mgl32.Mat4
	View  mgl32.Mat4
	Proj  mgl32.Mat4
}

// Swapchain owns everything sized to the surface. It is destroyed and
// recreated whole when the surface changes.
type Swapchain struct {
	device    *vkng.Device
	extension khr_swapchain.ExtensionDriver
	handle    khr_swapchain.Swapchain
	presenter *vkng.Presenter

	format core1_0.Format
	extent core1_0.Extent2D
	views  []core1_0.ImageView
	depth  *resource.Image

	renderPass   core1_0.RenderPass
	pipeline     core1_0.Pipeline
	framebuffers []core1_0.Framebuffer

	uniforms   []*resource.Buffer
	pool       core1_0.DescriptorPool
	sets       []core1_0.DescriptorSet
	setHandles []gpu.DescriptorSet
}

func chooseSurfaceFormat(formats []khr_surface.SurfaceFormat) khr_surface.SurfaceFormat {
	for _, format := range formats {
		if format.Format == core1_0.FormatB8G8R8A8SRGB && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
			return format
		}
	}
	return formats[0]
}

func choosePresentMode(modes []khr_surface.PresentMode) khr_surface.PresentMode {
	for _, mode := range modes {
		if mode == khr_surface.PresentModeMailbox {
			return mode
		}
	}
	return khr_surface.PresentModeFIFO
}

func chooseExtent(window *sdl.Window, capabilities *khr_surface.SurfaceCapabilities) core1_0.Extent2D {
	if capabilities.CurrentExtent.Width != -1 {
		return capabilities.CurrentExtent
	}

	w, h := window.VulkanGetDrawableSize()
	clamp := func(v, lo, hi int) int {
		return int(math.Max(float64(lo), math.Min(float64(hi), float64(v))))
	}
	return core1_0.Extent2D{
		Width:  clamp(int(w), capabilities.MinImageExtent.Width, capabilities.MaxImageExtent.Width),
		Height: clamp(int(h), capabilities.MinImageExtent.Height, capabilities.MaxImageExtent.Height),
	}
}

func (app *App) createSwapchain() error {
	sc := &Swapchain{
		device:    app.device,
		extension: khr_swapchain.CreateExtensionDriverFromCoreDriver(app.device.Driver()),
	}
	app.swapchain = sc

	pd := app.physical.Handle()
	capabilities, _, err := app.surfaceExtension.GetPhysicalDeviceSurfaceCapabilities(app.surface, pd)
	if err != nil {
		return gpu.Wrap(err, "get surface capabilities")
	}
	formats, _, err := app.surfaceExtension.GetPhysicalDeviceSurfaceFormats(app.surface, pd)
	if err != nil {
		return gpu.Wrap(err, "get surface formats")
	}
	modes, _, err := app.surfaceExtension.GetPhysicalDeviceSurfacePresentModes(app.surface, pd)
	if err != nil {
		return gpu.Wrap(err, "get present modes")
	}
	if len(formats) == 0 || len(modes) == 0 {
		return gpu.Wrap(gpu.ErrMissingFeature, "surface has no formats or present modes")
	}

	surfaceFormat := chooseSurfaceFormat(formats)
	sc.format = surfaceFormat.Format
	sc.extent = chooseExtent(app.window, capabilities)

	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && capabilities.MaxImageCount < imageCount {
		imageCount = capabilities.MaxImageCount
	}

	// The combined family renders and presents, so images stay exclusive.
	sc.handle, _, err = sc.extension.CreateSwapchain(nil, khr_swapchain.SwapchainCreateInfo{
		Surface: app.surface,

		MinImageCount:    imageCount,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      sc.extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,
		ImageSharingMode: core1_0.SharingModeExclusive,

		PreTransform:   capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    choosePresentMode(modes),
		Clipped:        true,
	})
	if err != nil {
		return gpu.Wrap(err, "create swapchain")
	}

	sc.presenter, err = vkng.NewPresenter(app.device, sc.extension, sc.handle)
	if err != nil {
		return err
	}

	steps := []func(*Swapchain, *App) error{
		(*Swapchain).createImageViews,
		(*Swapchain).createRenderPass,
		(*Swapchain).createFramebuffers,
		(*Swapchain).createDescriptorSets,
		(*Swapchain).recordCommandBuffers,
	}
	for _, step := range steps {
		if err := step(sc, app); err != nil {
			return err
		}
	}

	app.logger.Info("created swapchain",
		"images", sc.presenter.ImageCount(),
		"width", sc.extent.Width,
		"height", sc.extent.Height,
		"format", sc.format,
	)
	return nil
}

func (sc *Swapchain) createImageViews(app *App) error {
	driver := sc.device.Driver()
	for _, image := range sc.presenter.Images() {
		view, _, err := driver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
			Image:    image,
			ViewType: core1_0.ImageViewType2D,
			Format:   sc.format,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     core1_0.ImageAspectColor,
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		})
		if err != nil {
			return gpu.Wrap(err, "create swapchain image view")
		}
		sc.views = append(sc.views, view)
	}

	var err error
	sc.depth, err = app.resources.NewDepthImage(app.physical, sc.extent.Width, sc.extent.Height, "depth")
	return err
}

func (sc *Swapchain) createRenderPass(app *App) error {
	var err error
	sc.renderPass, _, err = sc.device.Driver().CreateRenderPass(nil, core1_0.RenderPassCreateInfo{
		Attachments: []core1_0.AttachmentDescription{
			{
				Format:         sc.format,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    khr_swapchain.ImageLayoutPresentSrc,
			},
			{
				Format:         sc.depth.Format,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpDontCare,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    core1_0.ImageLayoutDepthStencilAttachmentOptimal,
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				ColorAttachments: []core1_0.AttachmentReference{
					{Attachment: 0, Layout: core1_0.ImageLayoutColorAttachmentOptimal},
				},
				DepthStencilAttachment: &core1_0.AttachmentReference{
					Attachment: 1,
					Layout:     core1_0.ImageLayoutDepthStencilAttachmentOptimal,
				},
			},
		},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass: core1_0.SubpassExternal,
				DstSubpass: 0,

				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				SrcAccessMask: 0,

				DstStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				DstAccessMask: core1_0.AccessColorAttachmentWrite | core1_0.AccessDepthStencilAttachmentWrite,
			},
		},
	})
	if err != nil {
		return gpu.Wrap(err, "create render pass")
	}

	sc.pipeline, err = app.graphics.createPipeline(sc.renderPass, sc.extent)
	return err
}

func (sc *Swapchain) createFramebuffers(app *App) error {
	depthView := sc.device.ImageView(sc.depth.View)
	for _, view := range sc.views {
		framebuffer, _, err := sc.device.Driver().CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
			RenderPass:  sc.renderPass,
			Layers:      1,
			Attachments: []core1_0.ImageView{view, depthView},
			Width:       sc.extent.Width,
			Height:      sc.extent.Height,
		})
		if err != nil {
			return gpu.Wrap(err, "create framebuffer")
		}
		sc.framebuffers = append(sc.framebuffers, framebuffer)
	}
	return nil
}

func (sc *Swapchain) createDescriptorSets(app *App) error {
	driver := sc.device.Driver()
	count := len(sc.views)

	for i := 0; i < count; i++ {
		uniform, err := app.resources.NewBuffer(resource.BufferSettings{
			Size:       int(unsafe.Sizeof(UniformBufferObject{})),
			Usage:      core1_0.BufferUsageUniformBuffer,
			Properties: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
			Map:        true,
			Name:       fmt.Sprintf("uniform_%d", i),
		})
		if err != nil {
			return err
		}
		sc.uniforms = append(sc.uniforms, uniform)
	}

	var err error
	sc.pool, _, err = driver.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets: count,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{Type: core1_0.DescriptorTypeUniformBuffer, DescriptorCount: count},
			{Type: core1_0.DescriptorTypeCombinedImageSampler, DescriptorCount: count},
		},
	})
	if err != nil {
		return gpu.Wrap(err, "create descriptor pool")
	}

	layouts := make([]core1_0.DescriptorSetLayout, count)
	for i := range layouts {
		layouts[i] = app.graphics.setLayout
	}
	sc.sets, _, err = driver.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: sc.pool,
		SetLayouts:     layouts,
	})
	if err != nil {
		return gpu.Wrap(err, "allocate descriptor sets")
	}

	for i, set := range sc.sets {
		handle := sc.device.ImportDescriptorSet(set)
		sc.setHandles = append(sc.setHandles, handle)

		err := descriptor.Update(sc.device, handle, graphicsBindings, []descriptor.Binding{
			descriptor.BufferBinding{Binding: 0, Buffer: sc.uniforms[i]},
			descriptor.ImageSamplerBinding{Binding: 1, Image: app.scene.Texture, Sampler: app.scene.SamplerHandle},
		}, descriptor.WithOwner(app.graphicsCmd.FamilyIndex))
		if err != nil {
			return err
		}
	}
	return nil
}

func (sc *Swapchain) recordCommandBuffers(app *App) error {
	if err := app.graphicsCmd.Reallocate(len(sc.framebuffers)); err != nil {
		return err
	}

	driver := sc.device.Driver()
	scene := app.scene
	vertexBuffers := []core1_0.Buffer{
		sc.device.Buffer(scene.Vertices.Handle),
		sc.device.Buffer(scene.Particles.Handle),
	}
	indexBuffer := sc.device.Buffer(scene.Indices.Handle)

	for i := range sc.framebuffers {
		err := app.graphicsCmd.Record(i, func(cb gpu.CommandBuffer) error {
			raw := sc.device.CommandBuffer(cb)
			err := driver.CmdBeginRenderPass(raw, core1_0.SubpassContentsInline,
				core1_0.RenderPassBeginInfo{
					RenderPass:  sc.renderPass,
					Framebuffer: sc.framebuffers[i],
					RenderArea: core1_0.Rect2D{
						Offset: core1_0.Offset2D{X: 0, Y: 0},
						Extent: sc.extent,
					},
					ClearValues: []core1_0.ClearValue{
						core1_0.ClearValueFloat{0, 0, 0, 1},
						core1_0.ClearValueDepthStencil{Depth: 1.0, Stencil: 0},
					},
				})
			if err != nil {
				return err
			}

			driver.CmdBindPipeline(raw, core1_0.PipelineBindPointGraphics, sc.pipeline)
			driver.CmdBindVertexBuffers(raw, 0, vertexBuffers, []int{0, 0})
			driver.CmdBindIndexBuffer(raw, indexBuffer, 0, core1_0.IndexTypeUInt32)
			driver.CmdBindDescriptorSets(raw, core1_0.PipelineBindPointGraphics, app.graphics.pipelineLayout, 0, []core1_0.DescriptorSet{
				sc.sets[i],
			}, nil)
			driver.CmdDrawIndexed(raw, scene.IndexCount, scene.ParticleCount, 0, 0, 0)
			driver.CmdEndRenderPass(raw)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (sc *Swapchain) Destroy() {
	driver := sc.device.Driver()

	for _, framebuffer := range sc.framebuffers {
		driver.DestroyFramebuffer(framebuffer, nil)
	}
	sc.framebuffers = nil

	if sc.pipeline.Initialized() {
		driver.DestroyPipeline(sc.pipeline, nil)
	}
	if sc.renderPass.Initialized() {
		driver.DestroyRenderPass(sc.renderPass, nil)
	}

	for _, handle := range sc.setHandles {
		sc.device.ForgetDescriptorSet(handle)
	}
	sc.setHandles = nil
	if sc.pool.Initialized() {
		driver.DestroyDescriptorPool(sc.pool, nil)
	}
	for _, uniform := range sc.uniforms {
		uniform.Destroy()
	}
	sc.uniforms = nil

	if sc.depth != nil {
		sc.depth.Destroy()
	}
	for _, view := range sc.views {
		driver.DestroyImageView(view, nil)
	}
	sc.views = nil

	if sc.handle.Initialized() {
		sc.extension.DestroySwapchain(sc.handle, nil)
	}
}

// updateUniforms spins the model a quarter turn per second.
func (app *App) updateUniforms(imageIndex int) error {
	sc := app.swapchain
	period := math.Mod(hrtime.Now().Seconds(), 4.0)
	aspect := float32(sc.extent.Width) / float32(sc.extent.Height)

	ubo := UniformBufferObject{
		Model: mgl32.HomogRotate3DZ(float32(period * math.Pi / 2.0)),
		View: mgl32.LookAtV(
			mgl32.Vec3{2, 2, 2},
			mgl32.Vec3{0, 0, 0},
			mgl32.Vec3{0, 0, 1},
		),
		Proj: mgl32.Perspective(mgl32.DegToRad(45), aspect, 0.1, 10.0),
	}
	// Vulkan clip space has Y pointing down.
	ubo.Proj[5] *= -1

	return sc.uniforms[imageIndex].Write(resource.ValueBytes(&ubo))
}
