package main

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/command"
	"github.com/urnvk/urn/config"
	"github.com/urnvk/urn/family"
	"github.com/urnvk/urn/framesync"
	"github.com/urnvk/urn/gpu"
	"github.com/urnvk/urn/resource"
	"github.com/urnvk/urn/vkng"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
)

type App struct {
	cfg    config.Config
	logger *slog.Logger
	assets AssetPaths

	window *sdl.Window

	globalDriver   core1_0.GlobalDriver
	instanceDriver core1_0.CoreInstanceDriver

	debugDriver      ext_debug_utils.ExtensionDriver
	debugMessenger   ext_debug_utils.DebugUtilsMessenger
	surfaceExtension khr_surface.ExtensionDriver
	surface          khr_surface.Surface

	selection *family.Selection
	physical  *vkng.PhysicalDevice
	device    *vkng.Device
	resources *resource.Manager

	transferCmd *command.Command
	computeCmd  *command.Command
	graphicsCmd *command.Command

	scene     *Scene
	compute   *ComputePass
	graphics  *GraphicsLayout
	swapchain *Swapchain

	sync  *framesync.Set
	loop  *framesync.Loop
	timer *framesync.Timer
}

func (app *App) Run() error {
	err := app.initWindow()
	if err != nil {
		return err
	}

	err = app.initVulkan()
	defer app.cleanup()
	if err != nil {
		return err
	}

	return app.mainLoop()
}

func (app *App) initWindow() error {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return errors.Wrap(err, "init sdl")
	}

	w := app.cfg.Window
	window, err := sdl.CreateWindow(w.Title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED, int32(w.Width), int32(w.Height), sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return errors.Wrap(err, "create window")
	}
	app.window = window

	app.globalDriver, err = core.CreateDriverFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	return errors.Wrap(err, "load vulkan")
}

func (app *App) initVulkan() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"create instance", app.createInstance},
		{"setup debug messenger", app.setupDebugMessenger},
		{"create surface", app.createSurface},
		{"pick physical device", app.pickPhysicalDevice},
		{"create logical device", app.createLogicalDevice},
		{"create commands", app.createCommands},
		{"load scene", app.loadScene},
		{"create compute pass", app.createComputePass},
		{"create graphics layout", app.createGraphicsLayout},
		{"create swapchain", app.createSwapchain},
		{"create frame loop", app.createFrameLoop},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return errors.Wrap(err, step.name)
		}
	}
	return nil
}

func (app *App) mainLoop() error {
	rendering := true
	var now uint64

appLoop:
	for {
		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch e := event.(type) {
			case *sdl.QuitEvent:
				break appLoop
			case *sdl.WindowEvent:
				switch e.Event {
				case sdl.WINDOWEVENT_MINIMIZED:
					rendering = false
				case sdl.WINDOWEVENT_RESTORED:
					rendering = true
				case sdl.WINDOWEVENT_RESIZED:
					w, h := app.window.GetSize()
					rendering = w > 0 && h > 0
					if rendering {
						if err := app.recreateSwapchain(); err != nil {
							return err
						}
					}
				}
			}
		}
		if !rendering {
			continue
		}

		next, err := app.loop.AdvanceFrame(now)
		now = next
		switch gpu.KindOf(err) {
		case gpu.KindUnknown:
			if err != nil {
				return err
			}
		case gpu.KindTransient:
			app.logger.Info("surface out of date", "frame", now, "err", err)
			if err := app.recreateSwapchain(); err != nil {
				return err
			}
		default:
			return err
		}
	}

	app.logger.Info("frame timing",
		"frames", app.timer.Frames(),
		"wait", app.timer.Mean(framesync.PhaseWait),
		"compute", app.timer.Mean(framesync.PhaseCompute),
		"acquire", app.timer.Mean(framesync.PhaseAcquire),
		"graphics", app.timer.Mean(framesync.PhaseGraphics),
		"present", app.timer.Mean(framesync.PhasePresent),
	)
	return framesync.WaitIdle(app.device)
}

func (app *App) createCommands() error {
	var err error
	app.transferCmd, err = command.New(app.device, command.Settings{
		FamilyIndex: app.selection.Transfer.Index,
		Name:        "transfer",
		Logger:      app.logger,
	})
	if err != nil {
		return err
	}

	app.computeCmd, err = command.New(app.device, command.Settings{
		FamilyIndex: app.selection.Combined.Index,
		BufferCount: 1,
		Name:        "compute",
		Logger:      app.logger,
	})
	if err != nil {
		return err
	}

	app.graphicsCmd, err = command.New(app.device, command.Settings{
		FamilyIndex: app.selection.Combined.Index,
		Name:        "graphics",
		Logger:      app.logger,
	})
	return err
}

func (app *App) createFrameLoop() error {
	var err error
	app.sync, err = framesync.New(app.device, framesync.Settings{
		FramesInFlight: app.cfg.FramesInFlight,
		Logger:         app.logger,
	})
	if err != nil {
		return err
	}

	app.timer = framesync.NewTimer()
	app.loop = &framesync.Loop{
		Device:    app.device,
		Presenter: app.swapchain.presenter,
		Sync:      app.sync,
		Compute:   app.computeCmd,
		Graphics:  app.graphicsCmd,
		Update:    app.updateUniforms,
		Timer:     app.timer,
		Logger:    app.logger,
	}
	return nil
}

func (app *App) recreateSwapchain() error {
	w, h := app.window.VulkanGetDrawableSize()
	if w == 0 || h == 0 {
		return nil
	}
	if (app.window.GetFlags() & sdl.WINDOW_MINIMIZED) != 0 {
		return nil
	}

	if err := framesync.WaitIdle(app.device); err != nil {
		return err
	}

	app.swapchain.Destroy()
	app.swapchain = nil
	if err := app.createSwapchain(); err != nil {
		return err
	}

	sync, err := app.sync.Renew(framesync.Settings{
		FramesInFlight: app.cfg.FramesInFlight,
		Logger:         app.logger,
	})
	if err != nil {
		return err
	}
	app.sync = sync
	app.loop.Sync = sync
	app.loop.Presenter = app.swapchain.presenter
	return nil
}

func (app *App) cleanup() {
	if app.device != nil {
		if err := framesync.WaitIdle(app.device); err != nil {
			app.logger.Warn("wait for device idle", "err", err)
		}
	}

	if app.sync != nil {
		app.sync.Destroy()
	}
	if app.swapchain != nil {
		app.swapchain.Destroy()
	}
	if app.graphics != nil {
		app.graphics.Destroy()
	}
	if app.compute != nil {
		app.compute.Destroy()
	}
	if app.scene != nil {
		app.scene.Destroy()
	}
	for _, cmd := range []*command.Command{app.graphicsCmd, app.computeCmd, app.transferCmd} {
		if cmd != nil {
			cmd.Destroy()
		}
	}
	if app.resources != nil {
		if err := app.resources.Close(); err != nil {
			app.logger.Warn("resources still live at shutdown", "err", err)
		}
	}
	if app.device != nil {
		app.device.Destroy()
	}

	if app.debugMessenger.Initialized() {
		app.debugDriver.DestroyDebugUtilsMessenger(app.debugMessenger, nil)
	}
	if app.surface.Initialized() {
		app.surfaceExtension.DestroySurface(app.surface, nil)
	}
	if app.instanceDriver != nil {
		app.instanceDriver.DestroyInstance(nil)
	}

	if app.window != nil {
		app.window.Destroy()
	}
	sdl.Quit()
}
