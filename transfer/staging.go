// Package transfer moves host data into device-local resources through
// staging buffers and hands finished resources to the combined queue family.
package transfer

import (
	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/command"
	"github.com/urnvk/urn/resource"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// Destination describes the buffer an upload creates. Properties default to
// device-local memory.
type Destination struct {
	Usage      core1_0.BufferUsageFlags
	Properties core1_0.MemoryPropertyFlags
	Shared     bool
	Name       string
}

const stagingProperties = core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent

// NewStaging creates a mapped, host-coherent buffer visible to both the
// combined and transfer families.
func NewStaging(mgr *resource.Manager, size int, name string) (*resource.Buffer, error) {
	return mgr.NewBuffer(resource.BufferSettings{
		Size:       size,
		Usage:      core1_0.BufferUsageTransferSrc | core1_0.BufferUsageTransferDst,
		Properties: stagingProperties,
		Map:        true,
		Shared:     true,
		Name:       name + "_staging",
	})
}

func (d Destination) settings(size int) resource.BufferSettings {
	properties := d.Properties
	if properties == 0 {
		properties = core1_0.MemoryPropertyDeviceLocal
	}
	return resource.BufferSettings{
		Size:       size,
		Usage:      d.Usage | core1_0.BufferUsageTransferDst,
		Properties: properties,
		Shared:     d.Shared,
		Name:       d.Name,
	}
}

// Upload copies data into a new buffer on cmd's queue and waits for the copy
// to finish. The staging buffer is gone by the time Upload returns. The new
// buffer is owned by cmd's family.
func Upload(mgr *resource.Manager, cmd *command.Command, data []byte, dst Destination) (*resource.Buffer, error) {
	staging, err := NewStaging(mgr, len(data), dst.Name)
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()

	if err := staging.Write(data); err != nil {
		return nil, errors.Wrapf(err, "fill staging for %s", dst.Name)
	}

	buffer, err := mgr.NewBuffer(dst.settings(len(data)))
	if err != nil {
		return nil, err
	}

	if err := CopyBuffer(cmd, staging, buffer, len(data)); err != nil {
		buffer.Destroy()
		return nil, errors.Wrapf(err, "upload %s", dst.Name)
	}

	buffer.SetOwner(cmd.FamilyIndex)
	mgr.Logger().Debug("uploaded buffer", "name", dst.Name, "size", len(data), "family", cmd.FamilyIndex)
	return buffer, nil
}

func UploadSlice[T any](mgr *resource.Manager, cmd *command.Command, data []T, dst Destination) (*resource.Buffer, error) {
	return Upload(mgr, cmd, resource.Bytes(data), dst)
}

func UploadVertices[T any](mgr *resource.Manager, cmd *command.Command, vertices []T, name string) (*resource.Buffer, error) {
	return UploadSlice(mgr, cmd, vertices, Destination{
		Usage: core1_0.BufferUsageVertexBuffer,
		Name:  name,
	})
}

// UploadVertexStorage creates a buffer a compute shader writes and the
// vertex stage reads.
func UploadVertexStorage[T any](mgr *resource.Manager, cmd *command.Command, vertices []T, name string) (*resource.Buffer, error) {
	return UploadSlice(mgr, cmd, vertices, Destination{
		Usage: core1_0.BufferUsageVertexBuffer | core1_0.BufferUsageStorageBuffer,
		Name:  name,
	})
}

func UploadIndices(mgr *resource.Manager, cmd *command.Command, indices []uint32, name string) (*resource.Buffer, error) {
	return UploadSlice(mgr, cmd, indices, Destination{
		Usage: core1_0.BufferUsageIndexBuffer,
		Name:  name,
	})
}

func UploadStorage[T any](mgr *resource.Manager, cmd *command.Command, data []T, name string) (*resource.Buffer, error) {
	return UploadSlice(mgr, cmd, data, Destination{
		Usage: core1_0.BufferUsageStorageBuffer | core1_0.BufferUsageTransferSrc,
		Name:  name,
	})
}

// NewStorage creates an uninitialized device-local storage buffer.
func NewStorage(mgr *resource.Manager, size int, name string) (*resource.Buffer, error) {
	return mgr.NewBuffer(resource.BufferSettings{
		Size:       size,
		Usage:      core1_0.BufferUsageStorageBuffer | core1_0.BufferUsageTransferSrc | core1_0.BufferUsageTransferDst,
		Properties: core1_0.MemoryPropertyDeviceLocal,
		Name:       name,
	})
}
