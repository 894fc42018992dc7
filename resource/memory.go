package resource

import (
	"github.com/cockroachdb/errors"
	"github.com/urnvk/urn/gpu"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// FindMemoryType returns the first memory type allowed by typeBits whose
// property flags include all of flags.
func FindMemoryType(props gpu.MemoryProperties, typeBits uint32, flags core1_0.MemoryPropertyFlags) (int, error) {
	for i, memoryType := range props.Types {
		typeBit := uint32(1 << i)

		if typeBits&typeBit != 0 && memoryType.PropertyFlags&flags == flags {
			return i, nil
		}
	}

	return 0, errors.Wrapf(gpu.ErrNoSuitableMemoryType, "type bits %#b, properties %s", typeBits, flags)
}

type FormatQuerier interface {
	FormatProperties(format core1_0.Format) gpu.FormatProperties
}

// FindSupportedFormat returns the first candidate whose features for tiling
// include all of features.
func FindSupportedFormat(pd FormatQuerier, candidates []core1_0.Format, tiling core1_0.ImageTiling, features core1_0.FormatFeatureFlags) (core1_0.Format, error) {
	for _, format := range candidates {
		props := pd.FormatProperties(format)

		if tiling == core1_0.ImageTilingLinear && props.LinearTilingFeatures&features == features {
			return format, nil
		} else if tiling == core1_0.ImageTilingOptimal && props.OptimalTilingFeatures&features == features {
			return format, nil
		}
	}

	return 0, errors.Wrapf(gpu.ErrUnsupportedFormat, "none of %v supports %s", candidates, features)
}

var depthFormats = []core1_0.Format{
	core1_0.FormatD32SignedFloat,
	core1_0.FormatD32SignedFloatS8UnsignedInt,
	core1_0.FormatD24UnsignedNormalizedS8UnsignedInt,
}

// FindDepthFormat picks an optimal-tiling depth attachment format.
func FindDepthFormat(pd FormatQuerier) (core1_0.Format, error) {
	return FindSupportedFormat(pd, depthFormats, core1_0.ImageTilingOptimal, core1_0.FormatFeatureDepthStencilAttachment)
}

func HasStencilComponent(format core1_0.Format) bool {
	return format == core1_0.FormatD32SignedFloatS8UnsignedInt || format == core1_0.FormatD24UnsignedNormalizedS8UnsignedInt
}

var texelSizes = map[core1_0.Format]int{
	core1_0.FormatR8UnsignedNormalized:       1,
	core1_0.FormatR8G8UnsignedNormalized:     2,
	core1_0.FormatR8G8B8A8UnsignedNormalized: 4,
	core1_0.FormatR8G8B8A8SRGB:               4,
	core1_0.FormatB8G8R8A8UnsignedNormalized: 4,
	core1_0.FormatB8G8R8A8SRGB:               4,
	core1_0.FormatR32SignedFloat:             4,
	core1_0.FormatR16G16B16A16SignedFloat:    8,
	core1_0.FormatR32G32B32A32SignedFloat:    16,
}

// TexelSize is the byte size of one texel of a color format that can be
// copied to or from a tightly packed buffer.
func TexelSize(format core1_0.Format) (int, error) {
	size, ok := texelSizes[format]
	if !ok {
		return 0, errors.Wrapf(gpu.ErrUnsupportedFormat, "no texel size for %s", format)
	}
	return size, nil
}

// ImageByteSize is the tightly packed size of a width by height image.
func ImageByteSize(width, height int, format core1_0.Format) (int, error) {
	texel, err := TexelSize(format)
	if err != nil {
		return 0, err
	}
	return width * height * texel, nil
}
