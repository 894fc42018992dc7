// Package descriptor turns typed bindings into descriptor set writes.
package descriptor

import (
	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/gpu"
	"github.com/urnvk/urn/resource"
	"github.com/vkngwrapper/core/v3/core1_0"
)

var ErrNotAcquired = errors.New("resource is not owned by the consuming queue family")

// Binding is either a BufferBinding or an ImageSamplerBinding.
type Binding interface {
	bindingIndex() int
}

type BufferBinding struct {
	Binding int
	Buffer  *resource.Buffer
	Offset  int
	// Range of 0 binds the rest of the buffer.
	Range int
}

func (b BufferBinding) bindingIndex() int { return b.Binding }

type ImageSamplerBinding struct {
	Binding int
	Image   *resource.Image
	Sampler gpu.Sampler
	// Layout of 0 means SHADER_READ_ONLY_OPTIMAL.
	Layout core1_0.ImageLayout
}

func (b ImageSamplerBinding) bindingIndex() int { return b.Binding }

// Layout maps binding numbers to descriptor types, mirroring a descriptor
// set layout.
type Layout map[int]core1_0.DescriptorType

var bufferTypes = map[core1_0.DescriptorType]bool{
	core1_0.DescriptorTypeUniformBuffer: true,
	core1_0.DescriptorTypeStorageBuffer: true,
}

type options struct {
	owner int
}

type Option func(*options)

// WithOwner rejects exclusive resources owned by a family other than family.
// Resources no queue has written yet are accepted.
func WithOwner(family int) Option {
	return func(o *options) {
		o.owner = family
	}
}

func checkOwner(o options, name string, exclusive bool, owner int) error {
	if o.owner == gpu.QueueFamilyIgnored || !exclusive || owner == o.owner || owner == gpu.QueueFamilyIgnored {
		return nil
	}
	return errors.Wrapf(ErrNotAcquired, "%s is owned by family %d, not %d", name, owner, o.owner)
}

// Writes builds one write per binding for set.
func Writes(set gpu.DescriptorSet, layout Layout, bindings []Binding, opts ...Option) ([]gpu.DescriptorWrite, error) {
	o := options{owner: gpu.QueueFamilyIgnored}
	for _, opt := range opts {
		opt(&o)
	}

	writes := make([]gpu.DescriptorWrite, 0, len(bindings))
	for _, binding := range bindings {
		descriptorType, ok := layout[binding.bindingIndex()]
		if !ok {
			return nil, errors.Newf("binding %d is not in the layout", binding.bindingIndex())
		}

		write := gpu.DescriptorWrite{
			Set:     set,
			Binding: binding.bindingIndex(),
			Type:    descriptorType,
		}

		switch b := binding.(type) {
		case BufferBinding:
			if !bufferTypes[descriptorType] {
				return nil, errors.Newf("binding %d is %s, not a buffer", b.Binding, descriptorType)
			}
			if b.Buffer == nil {
				return nil, errors.Newf("binding %d has no buffer", b.Binding)
			}
			if err := checkOwner(o, b.Buffer.Name, b.Buffer.Exclusive(), b.Buffer.Owner()); err != nil {
				return nil, err
			}
			size := b.Range
			if size == 0 {
				size = b.Buffer.Size - b.Offset
			}
			if b.Offset < 0 || size <= 0 || b.Offset+size > b.Buffer.Size {
				return nil, errors.Newf("binding %d: range [%d, %d) outside %s (%d bytes)", b.Binding, b.Offset, b.Offset+size, b.Buffer.Name, b.Buffer.Size)
			}
			write.Buffers = []gpu.DescriptorBufferInfo{
				{Buffer: b.Buffer.Handle, Offset: b.Offset, Range: size},
			}
		case ImageSamplerBinding:
			if descriptorType != core1_0.DescriptorTypeCombinedImageSampler {
				return nil, errors.Newf("binding %d is %s, not a combined image sampler", b.Binding, descriptorType)
			}
			if b.Image == nil {
				return nil, errors.Newf("binding %d has no image", b.Binding)
			}
			if err := checkOwner(o, b.Image.Name, b.Image.Exclusive(), b.Image.Owner()); err != nil {
				return nil, err
			}
			imageLayout := b.Layout
			if imageLayout == 0 {
				imageLayout = core1_0.ImageLayoutShaderReadOnlyOptimal
			}
			write.Images = []gpu.DescriptorImageInfo{
				{Sampler: b.Sampler, View: b.Image.View, Layout: imageLayout},
			}
		default:
			return nil, errors.AssertionFailedf("unknown binding %T", binding)
		}

		writes = append(writes, write)
	}
	return writes, nil
}

func Update(device gpu.DescriptorDevice, set gpu.DescriptorSet, layout Layout, bindings []Binding, opts ...Option) error {
	writes, err := Writes(set, layout, bindings, opts...)
	if err != nil {
		return err
	}
	return gpu.Wrap(device.UpdateDescriptorSets(writes...), "update descriptor set")
}
