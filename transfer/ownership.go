package transfer

import (
	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/command"
	"github.com/urnvk/urn/gpu"
	"github.com/urnvk/urn/resource"
	"github.com/vkngwrapper/core/v3/core1_0"
)

var (
	ErrNotTransferOwned = errors.New("resource is not owned by the transfer family")
	ErrSameFamily       = errors.New("release and acquire use the same queue family")
)

const (
	releaseSrcStage = core1_0.PipelineStageTransfer
	releaseDstStage = core1_0.PipelineStageBottomOfPipe

	// Compute stays in the acquire scope for graphics-only resources as well.
	acquireSrcStage = core1_0.PipelineStageTopOfPipe
	acquireDstStage = core1_0.PipelineStageVertexInput | core1_0.PipelineStageComputeShader | core1_0.PipelineStageFragmentShader

	bufferAcquireAccess = core1_0.AccessVertexAttributeRead | core1_0.AccessShaderRead | core1_0.AccessShaderWrite
	imageAcquireAccess  = core1_0.AccessShaderRead
)

type BarrierKind int

const (
	BufferBarrier BarrierKind = iota
	ImageBarrier
)

// OwnershipBarrier is one half of a queue family ownership transfer.
type OwnershipBarrier struct {
	Kind      BarrierKind
	Buffer    gpu.Buffer
	Size      int
	Image     gpu.Image
	Range     core1_0.ImageSubresourceRange
	SrcFamily int
	DstFamily int
	SrcAccess core1_0.AccessFlags
	DstAccess core1_0.AccessFlags
	OldLayout core1_0.ImageLayout
	NewLayout core1_0.ImageLayout
}

type BarrierSet struct {
	SrcStage core1_0.PipelineStageFlags
	DstStage core1_0.PipelineStageFlags
	Barriers []OwnershipBarrier
}

func (s BarrierSet) split() ([]gpu.BufferMemoryBarrier, []gpu.ImageMemoryBarrier) {
	var buffers []gpu.BufferMemoryBarrier
	var images []gpu.ImageMemoryBarrier

	for _, b := range s.Barriers {
		switch b.Kind {
		case BufferBarrier:
			buffers = append(buffers, gpu.BufferMemoryBarrier{
				SrcAccessMask:       b.SrcAccess,
				DstAccessMask:       b.DstAccess,
				SrcQueueFamilyIndex: b.SrcFamily,
				DstQueueFamilyIndex: b.DstFamily,
				Buffer:              b.Buffer,
				Offset:              0,
				Size:                gpu.WholeSize,
			})
		case ImageBarrier:
			images = append(images, gpu.ImageMemoryBarrier{
				SrcAccessMask:       b.SrcAccess,
				DstAccessMask:       b.DstAccess,
				OldLayout:           b.OldLayout,
				NewLayout:           b.NewLayout,
				SrcQueueFamilyIndex: b.SrcFamily,
				DstQueueFamilyIndex: b.DstFamily,
				Image:               b.Image,
				SubresourceRange:    b.Range,
			})
		}
	}
	return buffers, images
}

func (s BarrierSet) record(device gpu.CommandDevice, cb gpu.CommandBuffer) error {
	buffers, images := s.split()
	return gpu.Wrap(device.CmdPipelineBarrier(cb, s.SrcStage, s.DstStage, buffers, images), "ownership barrier")
}

// Handshake is the release recorded on the source family and the acquire
// recorded on the destination family.
type Handshake struct {
	Release BarrierSet
	Acquire BarrierSet
}

// Mirrored reports whether every acquire matches its release: same resource,
// same family pair, same layouts, with the release making the writes
// available and the acquire making them visible.
func (h Handshake) Mirrored() bool {
	if len(h.Release.Barriers) != len(h.Acquire.Barriers) {
		return false
	}
	for i, rel := range h.Release.Barriers {
		acq := h.Acquire.Barriers[i]
		if rel.Kind != acq.Kind || rel.Buffer != acq.Buffer || rel.Image != acq.Image {
			return false
		}
		if rel.SrcFamily != acq.SrcFamily || rel.DstFamily != acq.DstFamily || rel.SrcFamily == rel.DstFamily {
			return false
		}
		if rel.OldLayout != acq.OldLayout || rel.NewLayout != acq.NewLayout || rel.Range != acq.Range {
			return false
		}
		if rel.DstAccess != 0 || acq.SrcAccess != 0 {
			return false
		}
	}
	return true
}

// PlanToCombined builds the handshake moving buffers and images from the
// transfer family to the combined family.
func PlanToCombined(buffers []*resource.Buffer, images []*resource.Image, transferFamily, combinedFamily int) Handshake {
	h := Handshake{
		Release: BarrierSet{SrcStage: releaseSrcStage, DstStage: releaseDstStage},
		Acquire: BarrierSet{SrcStage: acquireSrcStage, DstStage: acquireDstStage},
	}

	for _, b := range buffers {
		barrier := OwnershipBarrier{
			Kind:      BufferBarrier,
			Buffer:    b.Handle,
			Size:      b.Size,
			SrcFamily: transferFamily,
			DstFamily: combinedFamily,
		}

		release := barrier
		release.SrcAccess = core1_0.AccessTransferWrite
		h.Release.Barriers = append(h.Release.Barriers, release)

		acquire := barrier
		acquire.DstAccess = bufferAcquireAccess
		h.Acquire.Barriers = append(h.Acquire.Barriers, acquire)
	}

	for _, img := range images {
		barrier := OwnershipBarrier{
			Kind:      ImageBarrier,
			Image:     img.Handle,
			Range:     img.Range(),
			SrcFamily: transferFamily,
			DstFamily: combinedFamily,
			OldLayout: core1_0.ImageLayoutTransferDstOptimal,
			NewLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
		}

		release := barrier
		release.SrcAccess = core1_0.AccessTransferWrite
		h.Release.Barriers = append(h.Release.Barriers, release)

		acquire := barrier
		acquire.DstAccess = imageAcquireAccess
		h.Acquire.Barriers = append(h.Acquire.Barriers, acquire)
	}

	return h
}

func checkOwned(name string, exclusive bool, owner, family int) error {
	if !exclusive {
		return errors.Wrapf(ErrNotTransferOwned, "%s is shared", name)
	}
	if owner != family {
		return errors.Wrapf(ErrNotTransferOwned, "%s is owned by family %d, not %d", name, owner, family)
	}
	return nil
}

// ToCombined releases the resources on transferCmd's queue, waits for the
// release to complete, then acquires them on combinedCmd's queue and waits
// again. Each resource can make this trip once.
func ToCombined(buffers []*resource.Buffer, images []*resource.Image, transferCmd, combinedCmd *command.Command) error {
	if len(buffers) == 0 && len(images) == 0 {
		return nil
	}
	if transferCmd.FamilyIndex == combinedCmd.FamilyIndex {
		return errors.Wrapf(ErrSameFamily, "family %d", transferCmd.FamilyIndex)
	}

	for _, b := range buffers {
		if err := checkOwned(b.Name, b.Exclusive(), b.Owner(), transferCmd.FamilyIndex); err != nil {
			return err
		}
	}
	for _, img := range images {
		if err := checkOwned(img.Name, img.Exclusive(), img.Owner(), transferCmd.FamilyIndex); err != nil {
			return err
		}
		if img.Layout() != core1_0.ImageLayoutTransferDstOptimal {
			return errors.Newf("image %s is in layout %s, not transfer destination", img.Name, img.Layout())
		}
	}

	h := PlanToCombined(buffers, images, transferCmd.FamilyIndex, combinedCmd.FamilyIndex)

	err := transferCmd.OneShot("ownership release", func(cb gpu.CommandBuffer) error {
		return h.Release.record(transferCmd.Device(), cb)
	})
	if err != nil {
		return err
	}

	err = combinedCmd.OneShot("ownership acquire", func(cb gpu.CommandBuffer) error {
		return h.Acquire.record(combinedCmd.Device(), cb)
	})
	if err != nil {
		return err
	}

	for _, b := range buffers {
		b.SetOwner(combinedCmd.FamilyIndex)
	}
	for _, img := range images {
		img.SetOwner(combinedCmd.FamilyIndex)
		img.SetLayout(core1_0.ImageLayoutShaderReadOnlyOptimal)
	}
	return nil
}
