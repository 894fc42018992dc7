package resource

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/gpu"
)

// MappedRegion is a host view of a resource's memory. It is valid until Unmap.
type MappedRegion struct {
	device gpu.MemoryDevice
	memory gpu.DeviceMemory
	data   []byte
	mapped bool
}

func mapRegion(device gpu.MemoryDevice, memory gpu.DeviceMemory, size int) (*MappedRegion, error) {
	ptr, err := device.MapMemory(memory, 0, gpu.WholeSize)
	if err != nil {
		return nil, gpu.Wrap(err, "map memory")
	}

	return &MappedRegion{
		device: device,
		memory: memory,
		data:   unsafe.Slice((*byte)(ptr), size),
		mapped: true,
	}, nil
}

func (r *MappedRegion) Mapped() bool {
	return r != nil && r.mapped
}

func (r *MappedRegion) Len() int {
	return len(r.data)
}

// Bytes exposes the mapped memory directly. The slice must not be used after Unmap.
func (r *MappedRegion) Bytes() ([]byte, error) {
	if !r.Mapped() {
		return nil, ErrNotMapped
	}
	return r.data, nil
}

func (r *MappedRegion) Write(data []byte) error {
	return r.WriteAt(data, 0)
}

func (r *MappedRegion) WriteAt(data []byte, offset int) error {
	if !r.Mapped() {
		return ErrNotMapped
	}
	if offset < 0 || offset+len(data) > len(r.data) {
		return errors.Wrapf(ErrOutOfRange, "%d bytes at offset %d into %d", len(data), offset, len(r.data))
	}

	copy(r.data[offset:], data)
	return nil
}

func (r *MappedRegion) ReadAt(dst []byte, offset int) error {
	if !r.Mapped() {
		return ErrNotMapped
	}
	if offset < 0 || offset+len(dst) > len(r.data) {
		return errors.Wrapf(ErrOutOfRange, "%d bytes at offset %d from %d", len(dst), offset, len(r.data))
	}

	copy(dst, r.data[offset:])
	return nil
}

func (r *MappedRegion) Unmap() {
	if !r.Mapped() {
		return
	}
	r.device.UnmapMemory(r.memory)
	r.mapped = false
	r.data = nil
}
