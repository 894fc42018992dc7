package vkng

import (
	"github.com/urnvk/urn/gpu"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/core1_2"
)

type DeviceOptions struct {
	// QueueFamilies gets one queue each, at priority 1.
	QueueFamilies []int
	Extensions    []string
	Timelines     bool
	Anisotropy    bool
}

// CreateDevice creates the logical device for a selected physical device.
func CreateDevice(instance core1_0.CoreInstanceDriver, pd *PhysicalDevice, options DeviceOptions) (*Device, error) {
	queues := make([]core1_0.DeviceQueueCreateInfo, 0, len(options.QueueFamilies))
	for _, family := range options.QueueFamilies {
		queues = append(queues, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: family,
			QueuePriorities:  []float32{1.0},
		})
	}

	info := core1_0.DeviceCreateInfo{
		QueueCreateInfos: queues,
		EnabledFeatures: &core1_0.PhysicalDeviceFeatures{
			SamplerAnisotropy: options.Anisotropy,
		},
		EnabledExtensionNames: options.Extensions,
	}
	if options.Timelines {
		info.Next = core1_2.PhysicalDeviceTimelineSemaphoreFeatures{
			TimelineSemaphore: true,
		}
	}

	driver, _, err := instance.CreateDevice(pd.Handle(), nil, info)
	if err != nil {
		return nil, gpu.Wrap(err, "create logical device")
	}
	return NewDevice(driver), nil
}
