package vulkan

import (
	"sync"
	"unsafe"

	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// table maps resource layer handles to the vkngwrapper objects behind them.
type table[H ~uint64, T any] struct {
	mu    sync.Mutex
	next  H
	items map[H]T
}

func (t *table[H, T]) put(v T) H {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.items == nil {
		t.items = make(map[H]T)
	}
	t.next++
	t.items[t.next] = v
	return t.next
}

func (t *table[H, T]) get(h H) T {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.items[h]
}

func (t *table[H, T]) take(h H) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.items[h]
	delete(t.items, h)
	return v, ok
}

var _ Device = (*VkngDevice)(nil)

// VkngDevice implements Device on top of vkngwrapper drivers. The drivers,
// physical device and queue stay owned by the caller.
type VkngDevice struct {
	instanceDriver core1_0.CoreInstanceDriver
	deviceDriver   core1_0.CoreDeviceDriver
	physicalDevice core1_0.PhysicalDevice
	queue          core1_0.Queue

	buffers        table[Buffer, core1_0.Buffer]
	images         table[Image, core1_0.Image]
	views          table[ImageView, core1_0.ImageView]
	memory         table[DeviceMemory, core1_0.DeviceMemory]
	samplers       table[Sampler, core1_0.Sampler]
	pools          table[CommandPool, core1_0.CommandPool]
	commandBuffers table[CommandBuffer, core1_0.CommandBuffer]
}

func NewVkngDevice(instanceDriver core1_0.CoreInstanceDriver, deviceDriver core1_0.CoreDeviceDriver, physicalDevice core1_0.PhysicalDevice, queue core1_0.Queue) *VkngDevice {
	return &VkngDevice{
		instanceDriver: instanceDriver,
		deviceDriver:   deviceDriver,
		physicalDevice: physicalDevice,
		queue:          queue,
	}
}

func (d *VkngDevice) CreateBuffer(info BufferCreateInfo) (Buffer, common.VkResult, error) {
	buffer, res, err := d.deviceDriver.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        info.Size,
		Usage:       info.Usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return NullHandle, res, err
	}
	return d.buffers.put(buffer), res, nil
}

func (d *VkngDevice) DestroyBuffer(buffer Buffer) {
	if b, ok := d.buffers.take(buffer); ok {
		d.deviceDriver.DestroyBuffer(b, nil)
	}
}

func (d *VkngDevice) BufferMemoryRequirements(buffer Buffer) MemoryRequirements {
	reqs := d.deviceDriver.GetBufferMemoryRequirements(d.buffers.get(buffer))
	return MemoryRequirements{Size: reqs.Size, Alignment: reqs.Alignment, MemoryTypeBits: reqs.MemoryTypeBits}
}

func (d *VkngDevice) BindBufferMemory(buffer Buffer, memory DeviceMemory) (common.VkResult, error) {
	return d.deviceDriver.BindBufferMemory(d.buffers.get(buffer), d.memory.get(memory), 0)
}

func (d *VkngDevice) CreateImage(info ImageCreateInfo) (Image, common.VkResult, error) {
	image, res, err := d.deviceDriver.CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  info.Extent.Width,
			Height: info.Extent.Height,
			Depth:  1,
		},
		MipLevels:     info.MipLevels,
		ArrayLayers:   1,
		Format:        info.Format,
		Tiling:        core1_0.ImageTilingOptimal,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         info.Usage,
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       core1_0.Samples1,
	})
	if err != nil {
		return NullHandle, res, err
	}
	return d.images.put(image), res, nil
}

func (d *VkngDevice) DestroyImage(image Image) {
	if i, ok := d.images.take(image); ok {
		d.deviceDriver.DestroyImage(i, nil)
	}
}

func (d *VkngDevice) ImageMemoryRequirements(image Image) MemoryRequirements {
	reqs := d.deviceDriver.GetImageMemoryRequirements(d.images.get(image))
	return MemoryRequirements{Size: reqs.Size, Alignment: reqs.Alignment, MemoryTypeBits: reqs.MemoryTypeBits}
}

func (d *VkngDevice) BindImageMemory(image Image, memory DeviceMemory) (common.VkResult, error) {
	return d.deviceDriver.BindImageMemory(d.images.get(image), d.memory.get(memory), 0)
}

func (d *VkngDevice) CreateImageView(info ImageViewCreateInfo) (ImageView, common.VkResult, error) {
	view, res, err := d.deviceDriver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    d.images.get(info.Image),
		ViewType: core1_0.ImageViewType2D,
		Format:   info.Format,
		Components: core1_0.ComponentMapping{
			R: core1_0.ComponentSwizzleIdentity,
			G: core1_0.ComponentSwizzleIdentity,
			B: core1_0.ComponentSwizzleIdentity,
			A: core1_0.ComponentSwizzleIdentity,
		},
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     core1_0.ImageAspectColor,
			BaseMipLevel:   0,
			LevelCount:     info.LevelCount,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	if err != nil {
		return NullHandle, res, err
	}
	return d.views.put(view), res, nil
}

func (d *VkngDevice) DestroyImageView(view ImageView) {
	if v, ok := d.views.take(view); ok {
		d.deviceDriver.DestroyImageView(v, nil)
	}
}

func (d *VkngDevice) CreateSampler(info SamplerCreateInfo) (Sampler, common.VkResult, error) {
	sampler, res, err := d.deviceDriver.CreateSampler(nil, core1_0.SamplerCreateInfo{
		MagFilter:    info.MagFilter,
		MinFilter:    info.MinFilter,
		AddressModeU: info.AddressMode,
		AddressModeV: info.AddressMode,
		AddressModeW: info.AddressMode,

		AnisotropyEnable: false,
		MaxAnisotropy:    1,

		BorderColor: core1_0.BorderColorFloatTransparentBlack,
		CompareOp:   core1_0.CompareOpAlways,

		MipmapMode: info.MipmapMode,
		MinLod:     info.MinLod,
		MaxLod:     info.MaxLod,
	})
	if err != nil {
		return NullHandle, res, err
	}
	return d.samplers.put(sampler), res, nil
}

func (d *VkngDevice) DestroySampler(sampler Sampler) {
	if s, ok := d.samplers.take(sampler); ok {
		d.deviceDriver.DestroySampler(s, nil)
	}
}

func (d *VkngDevice) AllocateMemory(size int, memoryTypeIndex int) (DeviceMemory, common.VkResult, error) {
	memory, res, err := d.deviceDriver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return NullHandle, res, err
	}
	return d.memory.put(memory), res, nil
}

func (d *VkngDevice) FreeMemory(memory DeviceMemory) {
	if m, ok := d.memory.take(memory); ok {
		d.deviceDriver.FreeMemory(m, nil)
	}
}

func (d *VkngDevice) MapMemory(memory DeviceMemory, offset int, size int) ([]byte, common.VkResult, error) {
	ptr, res, err := d.deviceDriver.MapMemory(d.memory.get(memory), offset, size, 0)
	if err != nil {
		return nil, res, err
	}
	return unsafe.Slice((*byte)(ptr), size), res, nil
}

func (d *VkngDevice) UnmapMemory(memory DeviceMemory) {
	d.deviceDriver.UnmapMemory(d.memory.get(memory))
}

func (d *VkngDevice) MemoryTypes() []MemoryType {
	props := d.instanceDriver.GetPhysicalDeviceMemoryProperties(d.physicalDevice)

	out := make([]MemoryType, 0, len(props.MemoryTypes))
	for _, memoryType := range props.MemoryTypes {
		out = append(out, MemoryType{PropertyFlags: memoryType.PropertyFlags, HeapIndex: memoryType.HeapIndex})
	}
	return out
}

func (d *VkngDevice) FormatFeatures(format core1_0.Format) core1_0.FormatFeatureFlags {
	return d.instanceDriver.GetPhysicalDeviceFormatProperties(d.physicalDevice, format).OptimalTilingFeatures
}

func (d *VkngDevice) CreateCommandPool(queueFamilyIndex int) (CommandPool, common.VkResult, error) {
	pool, res, err := d.deviceDriver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		QueueFamilyIndex: queueFamilyIndex,
	})
	if err != nil {
		return NullHandle, res, err
	}
	return d.pools.put(pool), res, nil
}

func (d *VkngDevice) DestroyCommandPool(pool CommandPool) {
	if p, ok := d.pools.take(pool); ok {
		d.deviceDriver.DestroyCommandPool(p, nil)
	}
}

func (d *VkngDevice) AllocateCommandBuffers(pool CommandPool, count int) ([]CommandBuffer, common.VkResult, error) {
	buffers, res, err := d.deviceDriver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        d.pools.get(pool),
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	})
	if err != nil {
		return nil, res, err
	}

	out := make([]CommandBuffer, 0, len(buffers))
	for _, buffer := range buffers {
		out = append(out, d.commandBuffers.put(buffer))
	}
	return out, res, nil
}

func (d *VkngDevice) FreeCommandBuffers(_ CommandPool, buffers []CommandBuffer) {
	native := make([]core1_0.CommandBuffer, 0, len(buffers))
	for _, buffer := range buffers {
		if b, ok := d.commandBuffers.take(buffer); ok {
			native = append(native, b)
		}
	}
	if len(native) > 0 {
		d.deviceDriver.FreeCommandBuffers(native...)
	}
}

func (d *VkngDevice) BeginCommandBuffer(buffer CommandBuffer, usage core1_0.CommandBufferUsageFlags) (common.VkResult, error) {
	return d.deviceDriver.BeginCommandBuffer(d.commandBuffers.get(buffer), core1_0.CommandBufferBeginInfo{
		Flags: usage,
	})
}

func (d *VkngDevice) EndCommandBuffer(buffer CommandBuffer) (common.VkResult, error) {
	return d.deviceDriver.EndCommandBuffer(d.commandBuffers.get(buffer))
}

func (d *VkngDevice) CmdPipelineBarrier(buffer CommandBuffer, srcStage, dstStage core1_0.PipelineStageFlags, barriers []ImageBarrier) error {
	native := make([]core1_0.ImageMemoryBarrier, 0, len(barriers))
	for _, b := range barriers {
		native = append(native, core1_0.ImageMemoryBarrier{
			Image:               d.images.get(b.Image),
			OldLayout:           b.OldLayout,
			NewLayout:           b.NewLayout,
			SrcAccessMask:       b.SrcAccessMask,
			DstAccessMask:       b.DstAccessMask,
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     core1_0.ImageAspectColor,
				BaseMipLevel:   b.BaseMipLevel,
				LevelCount:     b.LevelCount,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		})
	}

	return d.deviceDriver.CmdPipelineBarrier(d.commandBuffers.get(buffer), srcStage, dstStage, 0, nil, nil, native)
}

func (d *VkngDevice) CmdPipelineBufferBarrier(buffer CommandBuffer, srcStage, dstStage core1_0.PipelineStageFlags, barriers []BufferBarrier) error {
	native := make([]core1_0.BufferMemoryBarrier, 0, len(barriers))
	for _, b := range barriers {
		native = append(native, core1_0.BufferMemoryBarrier{
			Buffer:              d.buffers.get(b.Buffer),
			SrcAccessMask:       b.SrcAccessMask,
			DstAccessMask:       b.DstAccessMask,
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			Offset:              0,
			Size:                b.Size,
		})
	}

	return d.deviceDriver.CmdPipelineBarrier(d.commandBuffers.get(buffer), srcStage, dstStage, 0, nil, native, nil)
}

func (d *VkngDevice) CmdCopyBuffer(buffer CommandBuffer, src Buffer, dst Buffer, size int) error {
	return d.deviceDriver.CmdCopyBuffer(d.commandBuffers.get(buffer), d.buffers.get(src), d.buffers.get(dst), core1_0.BufferCopy{
		SrcOffset: 0,
		DstOffset: 0,
		Size:      size,
	})
}

func (d *VkngDevice) CmdCopyBufferToImage(buffer CommandBuffer, src Buffer, dst Image, dstLayout core1_0.ImageLayout, region BufferImageCopy) error {
	return d.deviceDriver.CmdCopyBufferToImage(d.commandBuffers.get(buffer), d.buffers.get(src), d.images.get(dst), dstLayout,
		core1_0.BufferImageCopy{
			BufferOffset:      0,
			BufferRowLength:   0,
			BufferImageHeight: 0,

			ImageSubresource: core1_0.ImageSubresourceLayers{
				AspectMask:     core1_0.ImageAspectColor,
				MipLevel:       region.MipLevel,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
			ImageOffset: core1_0.Offset3D{X: 0, Y: 0, Z: 0},
			ImageExtent: core1_0.Extent3D{Width: region.Extent.Width, Height: region.Extent.Height, Depth: 1},
		},
	)
}

func (d *VkngDevice) CmdBlitImage(buffer CommandBuffer, src Image, srcLayout core1_0.ImageLayout, dst Image, dstLayout core1_0.ImageLayout, region ImageBlit, filter core1_0.Filter) error {
	return d.deviceDriver.CmdBlitImage(d.commandBuffers.get(buffer), d.images.get(src), srcLayout, d.images.get(dst), dstLayout, []core1_0.ImageBlit{
		{
			SrcSubresource: core1_0.ImageSubresourceLayers{
				AspectMask:     core1_0.ImageAspectColor,
				MipLevel:       region.SrcMipLevel,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
			SrcOffsets: [2]core1_0.Offset3D{
				{X: 0, Y: 0, Z: 0},
				{X: region.SrcExtent.Width, Y: region.SrcExtent.Height, Z: 1},
			},

			DstSubresource: core1_0.ImageSubresourceLayers{
				AspectMask:     core1_0.ImageAspectColor,
				MipLevel:       region.DstMipLevel,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
			DstOffsets: [2]core1_0.Offset3D{
				{X: 0, Y: 0, Z: 0},
				{X: region.DstExtent.Width, Y: region.DstExtent.Height, Z: 1},
			},
		},
	}, filter)
}

func (d *VkngDevice) QueueSubmit(buffers ...CommandBuffer) (common.VkResult, error) {
	native := make([]core1_0.CommandBuffer, 0, len(buffers))
	for _, buffer := range buffers {
		native = append(native, d.commandBuffers.get(buffer))
	}

	return d.deviceDriver.QueueSubmit(d.queue, nil, core1_0.SubmitInfo{
		CommandBuffers: native,
	})
}

func (d *VkngDevice) QueueWaitIdle() (common.VkResult, error) {
	return d.deviceDriver.QueueWaitIdle(d.queue)
}
