package transfer

import (
	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/command"
	"github.com/urnvk/urn/gpu"
	"github.com/urnvk/urn/resource"
	"github.com/vkngwrapper/core/v3/core1_0"
)

type ImageDestination struct {
	Width, Height int
	Format        core1_0.Format
	Usage         core1_0.ImageUsageFlags
	Shared        bool
	Name          string
}

// UploadImage stages pixels, moves a new image to TRANSFER_DST_OPTIMAL and
// copies the pixels in. The image stays in TRANSFER_DST_OPTIMAL, owned by
// cmd's family.
func UploadImage(mgr *resource.Manager, cmd *command.Command, pixels []byte, dst ImageDestination) (*resource.Image, error) {
	if len(pixels) == 0 {
		return nil, errors.Newf("image %s has no pixels", dst.Name)
	}
	want, err := resource.ImageByteSize(dst.Width, dst.Height, dst.Format)
	if err != nil {
		return nil, errors.Wrapf(err, "upload %s", dst.Name)
	}
	if len(pixels) != want {
		return nil, errors.AssertionFailedf("image %s is %dx%d %s and needs %d bytes, got %d", dst.Name, dst.Width, dst.Height, dst.Format, want, len(pixels))
	}

	staging, err := NewStaging(mgr, want, dst.Name)
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()

	if err := staging.Write(pixels); err != nil {
		return nil, errors.Wrapf(err, "fill staging for %s", dst.Name)
	}

	img, err := mgr.NewImage(resource.ImageSettings{
		Width:      dst.Width,
		Height:     dst.Height,
		Format:     dst.Format,
		Tiling:     core1_0.ImageTilingOptimal,
		Usage:      dst.Usage | core1_0.ImageUsageTransferDst,
		Properties: core1_0.MemoryPropertyDeviceLocal,
		Aspect:     core1_0.ImageAspectColor,
		Shared:     dst.Shared,
		Name:       dst.Name,
	})
	if err != nil {
		return nil, err
	}

	transition, err := command.ForLayouts(core1_0.ImageLayoutUndefined, core1_0.ImageLayoutTransferDstOptimal)
	if err != nil {
		img.Destroy()
		return nil, err
	}
	transition.Image = img.Handle
	transition.Range = img.Range()

	err = cmd.OneShot("upload image", func(cb gpu.CommandBuffer) error {
		if err := command.RecordTransition(cmd.Device(), cb, transition); err != nil {
			return err
		}
		err := cmd.Device().CmdCopyBufferToImage(cb, staging.Handle, img.Handle, core1_0.ImageLayoutTransferDstOptimal, imageCopy(img))
		return gpu.Wrap(err, "copy %s -> %s", staging.Name, img.Name)
	})
	if err != nil {
		img.Destroy()
		return nil, errors.Wrapf(err, "upload %s", dst.Name)
	}

	img.SetLayout(core1_0.ImageLayoutTransferDstOptimal)
	img.SetOwner(cmd.FamilyIndex)
	mgr.Logger().Debug("uploaded image", "name", dst.Name, "width", dst.Width, "height", dst.Height, "family", cmd.FamilyIndex)
	return img, nil
}
