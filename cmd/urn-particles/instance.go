package main

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/family"
	"github.com/urnvk/urn/gpu"
	"github.com/urnvk/urn/resource"
	"github.com/urnvk/urn/vkng"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"
)

func (app *App) createInstance() error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    app.cfg.AppName,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "urn",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	sdlExtensions := app.window.VulkanGetInstanceExtensions()
	extensions, _, err := app.globalDriver.AvailableExtensions()
	if err != nil {
		return gpu.Wrap(err, "list instance extensions")
	}

	for _, ext := range sdlExtensions {
		if _, ok := extensions[ext]; !ok {
			return errors.Mark(errors.Newf("sdl needs missing instance extension %s", ext), gpu.ErrCapability)
		}
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext)
	}

	if app.cfg.Validation {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
	}

	if _, ok := extensions[khr_portability_enumeration.ExtensionName]; ok {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	if app.cfg.Validation {
		layers, _, err := app.globalDriver.AvailableLayers()
		if err != nil {
			return gpu.Wrap(err, "list instance layers")
		}
		for _, layer := range app.cfg.ValidationLayers {
			if _, ok := layers[layer]; !ok {
				return errors.Mark(errors.Newf("validation layer %s is not available; install the Vulkan SDK or set validation: false", layer), gpu.ErrCapability)
			}
			instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, layer)
		}

		// Covers instance creation and destruction.
		instanceOptions.Next = app.debugMessengerOptions()
	}

	app.instanceDriver, _, err = app.globalDriver.CreateInstance(nil, instanceOptions)
	return gpu.Wrap(err, "create instance")
}

func (app *App) debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    app.logDebug,
	}
}

func (app *App) setupDebugMessenger() error {
	if !app.cfg.Validation {
		return nil
	}

	var err error
	app.debugDriver = ext_debug_utils.CreateExtensionDriverFromCoreDriver(app.instanceDriver)
	app.debugMessenger, _, err = app.debugDriver.CreateDebugUtilsMessenger(nil, app.debugMessengerOptions())
	return gpu.Wrap(err, "create debug messenger")
}

func (app *App) logDebug(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	level := slog.LevelWarn
	if severity&ext_debug_utils.SeverityError != 0 {
		level = slog.LevelError
	}
	app.logger.Log(context.Background(), level, data.Message, "type", msgType, "severity", severity)
	return false
}

func (app *App) createSurface() error {
	app.surfaceExtension = khr_surface.CreateExtensionDriverFromCoreDriver(app.instanceDriver)
	surface, err := vkng_sdl2.CreateSurface(app.instanceDriver.Instance(), app.surfaceExtension, app.window)
	if err != nil {
		return gpu.Wrap(err, "create surface")
	}
	app.surface = surface
	return nil
}

func (app *App) pickPhysicalDevice() error {
	candidates, err := vkng.Enumerate(app.instanceDriver, app.surfaceExtension, app.surface)
	if err != nil {
		return err
	}

	app.selection, err = family.Select(candidates, app.cfg.Requirements(), family.WithLogger(app.logger))
	if err != nil {
		return err
	}
	app.physical = app.selection.Device.(*vkng.PhysicalDevice)
	return nil
}

func (app *App) createLogicalDevice() error {
	extensionNames := app.cfg.Requirements().Extensions

	// Needed on portability implementations such as MoltenVK.
	available, err := app.physical.Extensions()
	if err != nil {
		return gpu.Wrap(err, "list device extensions")
	}
	if _, ok := available[khr_portability_subset.ExtensionName]; ok {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	app.device, err = vkng.CreateDevice(app.instanceDriver, app.physical, vkng.DeviceOptions{
		QueueFamilies: app.selection.QueueFamilies(),
		Extensions:    extensionNames,
		Timelines:     true,
		Anisotropy:    app.instanceDriver.GetPhysicalDeviceFeatures(app.physical.Handle()).SamplerAnisotropy,
	})
	if err != nil {
		return err
	}

	app.resources = resource.NewManager(app.device, app.physical.MemoryProperties(), app.selection.Indices(), resource.WithLogger(app.logger))
	return nil
}
