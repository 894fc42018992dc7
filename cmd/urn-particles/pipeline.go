package main

import (
	"encoding/binary"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/descriptor"
	"github.com/urnvk/urn/gpu"
	"github.com/urnvk/urn/vkng"
	"github.com/vkngwrapper/core/v3/core1_0"
)

const particleWorkgroup = 256

var (
	computeBindings = descriptor.Layout{
		0: core1_0.DescriptorTypeStorageBuffer,
	}
	graphicsBindings = descriptor.Layout{
		0: core1_0.DescriptorTypeUniformBuffer,
		1: core1_0.DescriptorTypeCombinedImageSampler,
	}
)

func loadShader(driver core1_0.CoreDeviceDriver, path string) (core1_0.ShaderModule, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return core1_0.ShaderModule{}, errors.Wrap(err, "read shader")
	}
	if len(code)%4 != 0 {
		return core1_0.ShaderModule{}, errors.Newf("shader %s is %d bytes, not a whole number of words", path, len(code))
	}

	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}

	module, _, err := driver.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{Code: words})
	return module, gpu.Wrap(err, "create shader module %s", path)
}

func createSetLayout(driver core1_0.CoreDeviceDriver, layout descriptor.Layout, stages map[int]core1_0.ShaderStageFlags) (core1_0.DescriptorSetLayout, error) {
	var bindings []core1_0.DescriptorSetLayoutBinding
	for binding := 0; binding < len(layout); binding++ {
		bindings = append(bindings, core1_0.DescriptorSetLayoutBinding{
			Binding:         binding,
			DescriptorType:  layout[binding],
			DescriptorCount: 1,
			StageFlags:      stages[binding],
		})
	}
	setLayout, _, err := driver.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{Bindings: bindings})
	return setLayout, gpu.Wrap(err, "create descriptor set layout")
}

// ComputePass advances the particles. Its command buffer is recorded once.
type ComputePass struct {
	device *vkng.Device

	setLayout      core1_0.DescriptorSetLayout
	pipelineLayout core1_0.PipelineLayout
	pipeline       core1_0.Pipeline
	pool           core1_0.DescriptorPool
	set            core1_0.DescriptorSet
	setHandle      gpu.DescriptorSet
}

func (app *App) createComputePass() error {
	driver := app.device.Driver()
	pass := &ComputePass{device: app.device}
	app.compute = pass

	var err error
	pass.setLayout, err = createSetLayout(driver, computeBindings, map[int]core1_0.ShaderStageFlags{
		0: core1_0.StageCompute,
	})
	if err != nil {
		return err
	}

	pass.pipelineLayout, _, err = driver.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{pass.setLayout},
	})
	if err != nil {
		return gpu.Wrap(err, "create compute pipeline layout")
	}

	shader, err := loadShader(driver, app.assets.Shader("comp.spv"))
	if err != nil {
		return err
	}
	defer driver.DestroyShaderModule(shader, nil)

	pipelines, _, err := driver.CreateComputePipelines(nil, nil, core1_0.ComputePipelineCreateInfo{
		Stage: core1_0.PipelineShaderStageCreateInfo{
			Stage:  core1_0.StageCompute,
			Module: shader,
			Name:   "main",
		},
		Layout:            pass.pipelineLayout,
		BasePipelineIndex: -1,
	})
	if err != nil {
		return gpu.Wrap(err, "create compute pipeline")
	}
	pass.pipeline = pipelines[0]

	pass.pool, _, err = driver.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets: 1,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{Type: core1_0.DescriptorTypeStorageBuffer, DescriptorCount: 1},
		},
	})
	if err != nil {
		return gpu.Wrap(err, "create compute descriptor pool")
	}

	sets, _, err := driver.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: pass.pool,
		SetLayouts:     []core1_0.DescriptorSetLayout{pass.setLayout},
	})
	if err != nil {
		return gpu.Wrap(err, "allocate compute descriptor set")
	}
	pass.set = sets[0]
	pass.setHandle = app.device.ImportDescriptorSet(pass.set)

	err = descriptor.Update(app.device, pass.setHandle, computeBindings, []descriptor.Binding{
		descriptor.BufferBinding{Binding: 0, Buffer: app.scene.Particles},
	}, descriptor.WithOwner(app.computeCmd.FamilyIndex))
	if err != nil {
		return err
	}

	groups := (app.scene.ParticleCount + particleWorkgroup - 1) / particleWorkgroup
	return app.computeCmd.Record(0, func(cb gpu.CommandBuffer) error {
		raw := app.device.CommandBuffer(cb)
		driver.CmdBindPipeline(raw, core1_0.PipelineBindPointCompute, pass.pipeline)
		driver.CmdBindDescriptorSets(raw, core1_0.PipelineBindPointCompute, pass.pipelineLayout, 0, []core1_0.DescriptorSet{pass.set}, nil)
		driver.CmdDispatch(raw, groups, 1, 1)
		return nil
	})
}

func (p *ComputePass) Destroy() {
	driver := p.device.Driver()
	if p.pool.Initialized() {
		p.device.ForgetDescriptorSet(p.setHandle)
		driver.DestroyDescriptorPool(p.pool, nil)
	}
	if p.pipeline.Initialized() {
		driver.DestroyPipeline(p.pipeline, nil)
	}
	if p.pipelineLayout.Initialized() {
		driver.DestroyPipelineLayout(p.pipelineLayout, nil)
	}
	if p.setLayout.Initialized() {
		driver.DestroyDescriptorSetLayout(p.setLayout, nil)
	}
}

// GraphicsLayout outlives swapchain rebuilds.
type GraphicsLayout struct {
	device *vkng.Device

	setLayout      core1_0.DescriptorSetLayout
	pipelineLayout core1_0.PipelineLayout
	vert, frag     core1_0.ShaderModule
}

func (app *App) createGraphicsLayout() error {
	driver := app.device.Driver()
	layout := &GraphicsLayout{device: app.device}
	app.graphics = layout

	var err error
	layout.setLayout, err = createSetLayout(driver, graphicsBindings, map[int]core1_0.ShaderStageFlags{
		0: core1_0.StageVertex,
		1: core1_0.StageFragment,
	})
	if err != nil {
		return err
	}

	layout.pipelineLayout, _, err = driver.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{layout.setLayout},
	})
	if err != nil {
		return gpu.Wrap(err, "create graphics pipeline layout")
	}

	if layout.vert, err = loadShader(driver, app.assets.Shader("vert.spv")); err != nil {
		return err
	}
	layout.frag, err = loadShader(driver, app.assets.Shader("frag.spv"))
	return err
}

func (l *GraphicsLayout) Destroy() {
	driver := l.device.Driver()
	for _, module := range []core1_0.ShaderModule{l.vert, l.frag} {
		if module.Initialized() {
			driver.DestroyShaderModule(module, nil)
		}
	}
	if l.pipelineLayout.Initialized() {
		driver.DestroyPipelineLayout(l.pipelineLayout, nil)
	}
	if l.setLayout.Initialized() {
		driver.DestroyDescriptorSetLayout(l.setLayout, nil)
	}
}

func (l *GraphicsLayout) createPipeline(renderPass core1_0.RenderPass, extent core1_0.Extent2D) (core1_0.Pipeline, error) {
	pipelines, _, err := l.device.Driver().CreateGraphicsPipelines(nil, nil,
		core1_0.GraphicsPipelineCreateInfo{
			Stages: []core1_0.PipelineShaderStageCreateInfo{
				{Stage: core1_0.StageVertex, Module: l.vert, Name: "main"},
				{Stage: core1_0.StageFragment, Module: l.frag, Name: "main"},
			},
			VertexInputState: &core1_0.PipelineVertexInputStateCreateInfo{
				VertexBindingDescriptions:   vertexBindings(),
				VertexAttributeDescriptions: vertexAttributes(),
			},
			InputAssemblyState: &core1_0.PipelineInputAssemblyStateCreateInfo{
				Topology: core1_0.PrimitiveTopologyTriangleList,
			},
			ViewportState: &core1_0.PipelineViewportStateCreateInfo{
				Viewports: []core1_0.Viewport{
					{
						Width:    float32(extent.Width),
						Height:   float32(extent.Height),
						MinDepth: 0,
						MaxDepth: 1,
					},
				},
				Scissors: []core1_0.Rect2D{
					{Offset: core1_0.Offset2D{X: 0, Y: 0}, Extent: extent},
				},
			},
			RasterizationState: &core1_0.PipelineRasterizationStateCreateInfo{
				PolygonMode: core1_0.PolygonModeFill,
				CullMode:    core1_0.CullModeBack,
				FrontFace:   core1_0.FrontFaceCounterClockwise,
				LineWidth:   1.0,
			},
			MultisampleState: &core1_0.PipelineMultisampleStateCreateInfo{
				RasterizationSamples: core1_0.Samples1,
				MinSampleShading:     1.0,
			},
			DepthStencilState: &core1_0.PipelineDepthStencilStateCreateInfo{
				DepthTestEnable:  true,
				DepthWriteEnable: true,
				DepthCompareOp:   core1_0.CompareOpLess,
			},
			ColorBlendState: &core1_0.PipelineColorBlendStateCreateInfo{
				LogicOp: core1_0.LogicOpCopy,
				Attachments: []core1_0.PipelineColorBlendAttachmentState{
					{
						ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
					},
				},
			},
			Layout:            l.pipelineLayout,
			RenderPass:        renderPass,
			Subpass:           0,
			BasePipelineIndex: -1,
		},
	)
	if err != nil {
		return core1_0.Pipeline{}, gpu.Wrap(err, "create graphics pipeline")
	}
	return pipelines[0], nil
}
