package transfer

import (
	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/command"
	"github.com/urnvk/urn/gpu"
	"github.com/urnvk/urn/resource"
	"github.com/vkngwrapper/core/v3/core1_0"
)

func recordCopyBuffer(device gpu.CommandDevice, cb gpu.CommandBuffer, src, dst *resource.Buffer, size int) error {
	if size == 0 {
		return nil
	}
	err := device.CmdCopyBuffer(cb, src.Handle, dst.Handle, core1_0.BufferCopy{
		SrcOffset: 0,
		DstOffset: 0,
		Size:      size,
	})
	return gpu.Wrap(err, "copy %s -> %s", src.Name, dst.Name)
}

func imageCopy(img *resource.Image) core1_0.BufferImageCopy {
	return core1_0.BufferImageCopy{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,

		ImageSubresource: img.Layers(),
		ImageOffset:      core1_0.Offset3D{X: 0, Y: 0, Z: 0},
		ImageExtent:      core1_0.Extent3D{Width: img.Width, Height: img.Height, Depth: 1},
	}
}

// CopyBuffer copies size bytes from the start of src to the start of dst in
// a one-shot buffer on cmd's queue.
func CopyBuffer(cmd *command.Command, src, dst *resource.Buffer, size int) error {
	if size > src.Size || size > dst.Size {
		return errors.AssertionFailedf("copy of %d bytes from %s (%d) to %s (%d)", size, src.Name, src.Size, dst.Name, dst.Size)
	}
	if size == 0 {
		return nil
	}

	return cmd.OneShot("copy buffer", func(cb gpu.CommandBuffer) error {
		return recordCopyBuffer(cmd.Device(), cb, src, dst, size)
	})
}

// checkImageCopy rejects buffers too small for the whole of img.
func checkImageCopy(buf *resource.Buffer, img *resource.Image) error {
	size, err := img.ByteSize()
	if err != nil {
		return errors.Wrapf(err, "copy between %s and %s", buf.Name, img.Name)
	}
	if buf.Size < size {
		return errors.AssertionFailedf("buffer %s (%d) is smaller than image %s (%d)", buf.Name, buf.Size, img.Name, size)
	}
	return nil
}

// CopyBufferToImage copies src into img, which must be in TRANSFER_DST_OPTIMAL.
func CopyBufferToImage(cmd *command.Command, src *resource.Buffer, img *resource.Image) error {
	if err := checkImageCopy(src, img); err != nil {
		return err
	}
	return cmd.OneShot("copy buffer to image", func(cb gpu.CommandBuffer) error {
		err := cmd.Device().CmdCopyBufferToImage(cb, src.Handle, img.Handle, core1_0.ImageLayoutTransferDstOptimal, imageCopy(img))
		return gpu.Wrap(err, "copy %s -> %s", src.Name, img.Name)
	})
}

// CopyImageToBuffer copies img, which must be in TRANSFER_SRC_OPTIMAL, into dst.
func CopyImageToBuffer(cmd *command.Command, img *resource.Image, dst *resource.Buffer) error {
	if err := checkImageCopy(dst, img); err != nil {
		return err
	}
	return cmd.OneShot("copy image to buffer", func(cb gpu.CommandBuffer) error {
		err := cmd.Device().CmdCopyImageToBuffer(cb, img.Handle, core1_0.ImageLayoutTransferSrcOptimal, dst.Handle, imageCopy(img))
		return gpu.Wrap(err, "copy %s -> %s", img.Name, dst.Name)
	})
}

// ReadBack returns the contents of src. Device-local buffers are copied
// through a staging buffer on cmd's queue and need TRANSFER_SRC usage.
func ReadBack(mgr *resource.Manager, cmd *command.Command, src *resource.Buffer) ([]byte, error) {
	out := make([]byte, src.Size)
	if src.HostVisible() {
		return out, src.Read(out)
	}

	staging, err := NewStaging(mgr, src.Size, src.Name+"_readback")
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()

	if err := CopyBuffer(cmd, src, staging, src.Size); err != nil {
		return nil, errors.Wrapf(err, "read back %s", src.Name)
	}

	return out, staging.Read(out)
}

// ReadBackImage transitions img to TRANSFER_SRC_OPTIMAL and returns its
// tightly packed texels.
func ReadBackImage(mgr *resource.Manager, cmd *command.Command, img *resource.Image) ([]byte, error) {
	size, err := img.ByteSize()
	if err != nil {
		return nil, errors.Wrapf(err, "read back %s", img.Name)
	}

	if img.Layout() != core1_0.ImageLayoutTransferSrcOptimal {
		transition, err := command.ForLayouts(img.Layout(), core1_0.ImageLayoutTransferSrcOptimal)
		if err != nil {
			return nil, errors.Wrapf(err, "read back %s", img.Name)
		}
		transition.Image = img.Handle
		transition.Range = img.Range()

		if err := command.Transition(cmd, transition); err != nil {
			return nil, err
		}
		img.SetLayout(core1_0.ImageLayoutTransferSrcOptimal)
	}

	staging, err := NewStaging(mgr, size, img.Name+"_readback")
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()

	if err := CopyImageToBuffer(cmd, img, staging); err != nil {
		return nil, err
	}

	out := make([]byte, size)
	return out, staging.Read(out)
}
