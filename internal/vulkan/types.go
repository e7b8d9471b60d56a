package vulkan

import (
	"fmt"

	"github.com/vkngwrapper/core/v3/core1_0"
)

type Extent2D struct {
	Width  int
	Height int
}

func (e Extent2D) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

// Half returns the extent of the next mip level: each dimension halved,
// never below 1.
func (e Extent2D) Half() Extent2D {
	return Extent2D{Width: max(e.Width>>1, 1), Height: max(e.Height>>1, 1)}
}

type MemoryRequirements struct {
	Size           int
	Alignment      int
	MemoryTypeBits uint32
}

type MemoryType struct {
	PropertyFlags core1_0.MemoryPropertyFlags
	HeapIndex     int
}

type BufferCreateInfo struct {
	Size  int
	Usage core1_0.BufferUsageFlags
}

// ImageCreateInfo describes a 2D, single layer, optimally tiled image.
type ImageCreateInfo struct {
	Format    core1_0.Format
	Extent    Extent2D
	MipLevels int
	Usage     core1_0.ImageUsageFlags
}

// ImageViewCreateInfo describes a 2D color view over LevelCount mips.
type ImageViewCreateInfo struct {
	Image      Image
	Format     core1_0.Format
	LevelCount int
}

type SamplerCreateInfo struct {
	MagFilter   core1_0.Filter
	MinFilter   core1_0.Filter
	MipmapMode  core1_0.SamplerMipmapMode
	AddressMode core1_0.SamplerAddressMode
	MinLod      float32
	MaxLod      float32
}

// ImageBarrier is a color-aspect, single layer image memory barrier.
type ImageBarrier struct {
	Image         Image
	OldLayout     core1_0.ImageLayout
	NewLayout     core1_0.ImageLayout
	SrcAccessMask core1_0.AccessFlags
	DstAccessMask core1_0.AccessFlags
	BaseMipLevel  int
	LevelCount    int
}

// BufferBarrier covers the first Size bytes of Buffer.
type BufferBarrier struct {
	Buffer        Buffer
	SrcAccessMask core1_0.AccessFlags
	DstAccessMask core1_0.AccessFlags
	Size          int
}

// BufferImageCopy copies a tightly packed buffer into one mip level.
type BufferImageCopy struct {
	MipLevel int
	Extent   Extent2D
}

// ImageBlit scales one whole mip level into another.
type ImageBlit struct {
	SrcMipLevel int
	SrcExtent   Extent2D
	DstMipLevel int
	DstExtent   Extent2D
}
