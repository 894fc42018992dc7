// Package gpu is the narrow device port the engine is written against.
//
// Handles are opaque integers handed out by an implementation of Device. The
// zero value of every handle type is the null handle. Flag and enum types are
// the vkngwrapper core1_0 types, so a port value maps onto a Vulkan call with
// no translation.
package gpu

import (
	"math"
	"time"
)

type (
	Buffer        uint64
	Image         uint64
	ImageView     uint64
	Sampler       uint64
	DeviceMemory  uint64
	CommandPool   uint64
	CommandBuffer uint64
	Queue         uint64
	Semaphore     uint64
	Fence         uint64
	DescriptorSet uint64
)

// QueueFamilyIgnored is VK_QUEUE_FAMILY_IGNORED as vkngwrapper spells it.
const QueueFamilyIgnored = -1

// WholeSize maps the remainder of an allocation.
const WholeSize = -1

// NoTimeout blocks until the waited condition holds.
const NoTimeout = time.Duration(math.MaxInt64)
