package command

import (
	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/gpu"
	"github.com/vkngwrapper/core/v3/core1_0"
)

type TransitionSettings struct {
	Image     gpu.Image
	Range     core1_0.ImageSubresourceRange
	OldLayout core1_0.ImageLayout
	NewLayout core1_0.ImageLayout
	SrcAccess core1_0.AccessFlags
	DstAccess core1_0.AccessFlags
	SrcStage  core1_0.PipelineStageFlags
	DstStage  core1_0.PipelineStageFlags
}

// RecordTransition records a layout transition that stays on one queue family.
func RecordTransition(device gpu.CommandDevice, cb gpu.CommandBuffer, s TransitionSettings) error {
	err := device.CmdPipelineBarrier(cb, s.SrcStage, s.DstStage, nil, []gpu.ImageMemoryBarrier{
		{
			OldLayout:           s.OldLayout,
			NewLayout:           s.NewLayout,
			SrcQueueFamilyIndex: gpu.QueueFamilyIgnored,
			DstQueueFamilyIndex: gpu.QueueFamilyIgnored,
			Image:               s.Image,
			SubresourceRange:    s.Range,
			SrcAccessMask:       s.SrcAccess,
			DstAccessMask:       s.DstAccess,
		},
	})
	return gpu.Wrap(err, "layout transition %s -> %s", s.OldLayout, s.NewLayout)
}

// Transition runs RecordTransition in a one-shot buffer on c's queue.
func Transition(c *Command, s TransitionSettings) error {
	return c.OneShot("layout transition", func(cb gpu.CommandBuffer) error {
		return RecordTransition(c.device, cb, s)
	})
}

// ForLayouts fills the access masks and stages of the transitions the
// engine performs.
func ForLayouts(oldLayout, newLayout core1_0.ImageLayout) (TransitionSettings, error) {
	s := TransitionSettings{OldLayout: oldLayout, NewLayout: newLayout}

	if oldLayout == core1_0.ImageLayoutUndefined && newLayout == core1_0.ImageLayoutTransferDstOptimal {
		s.SrcAccess = 0
		s.DstAccess = core1_0.AccessTransferWrite
		s.SrcStage = core1_0.PipelineStageTopOfPipe
		s.DstStage = core1_0.PipelineStageTransfer
	} else if oldLayout == core1_0.ImageLayoutTransferDstOptimal && newLayout == core1_0.ImageLayoutShaderReadOnlyOptimal {
		s.SrcAccess = core1_0.AccessTransferWrite
		s.DstAccess = core1_0.AccessShaderRead
		s.SrcStage = core1_0.PipelineStageTransfer
		s.DstStage = core1_0.PipelineStageFragmentShader
	} else if oldLayout == core1_0.ImageLayoutShaderReadOnlyOptimal && newLayout == core1_0.ImageLayoutTransferSrcOptimal {
		s.SrcAccess = core1_0.AccessShaderRead
		s.DstAccess = core1_0.AccessTransferRead
		s.SrcStage = core1_0.PipelineStageFragmentShader
		s.DstStage = core1_0.PipelineStageTransfer
	} else if oldLayout == core1_0.ImageLayoutTransferDstOptimal && newLayout == core1_0.ImageLayoutTransferSrcOptimal {
		s.SrcAccess = core1_0.AccessTransferWrite
		s.DstAccess = core1_0.AccessTransferRead
		s.SrcStage = core1_0.PipelineStageTransfer
		s.DstStage = core1_0.PipelineStageTransfer
	} else {
		return s, errors.Errorf("unexpected layout transition: %s -> %s", oldLayout, newLayout)
	}

	return s, nil
}
