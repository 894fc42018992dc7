package transfer

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/command"
	"github.com/urnvk/urn/gpu"
	"github.com/urnvk/urn/resource"
	"golang.org/x/sync/errgroup"
)

type BatchItem struct {
	Data        []byte
	Destination Destination
}

// UploadBatch uploads every item with a single submission. Staging regions
// are filled concurrently. Device calls stay on the calling goroutine.
func UploadBatch(ctx context.Context, mgr *resource.Manager, cmd *command.Command, items []BatchItem) ([]*resource.Buffer, error) {
	if len(items) == 0 {
		return nil, nil
	}

	stagings := make([]*resource.Buffer, 0, len(items))
	defer func() {
		for _, staging := range stagings {
			staging.Destroy()
		}
	}()

	for _, item := range items {
		staging, err := NewStaging(mgr, len(item.Data), item.Destination.Name)
		if err != nil {
			return nil, err
		}
		stagings = append(stagings, staging)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range items {
		region := stagings[i].Mapped()
		data := items[i].Data
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return region.Write(data)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "fill staging")
	}

	buffers := make([]*resource.Buffer, 0, len(items))
	destroyAll := func() {
		for _, b := range buffers {
			b.Destroy()
		}
	}

	for _, item := range items {
		buffer, err := mgr.NewBuffer(item.Destination.settings(len(item.Data)))
		if err != nil {
			destroyAll()
			return nil, err
		}
		buffers = append(buffers, buffer)
	}

	err := cmd.OneShot("upload batch", func(cb gpu.CommandBuffer) error {
		for i, buffer := range buffers {
			if err := recordCopyBuffer(cmd.Device(), cb, stagings[i], buffer, buffer.Size); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		destroyAll()
		return nil, errors.Wrap(err, "upload batch")
	}

	for _, buffer := range buffers {
		buffer.SetOwner(cmd.FamilyIndex)
	}
	mgr.Logger().Debug("uploaded batch", "buffers", len(buffers), "family", cmd.FamilyIndex)
	return buffers, nil
}
