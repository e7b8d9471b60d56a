package vulkan

import (
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// Device is the slice of a logical device, its physical device and one
// graphics/transfer queue that the resource layer drives. Creation calls
// report the native result next to the error, like the vkngwrapper drivers.
type Device interface {
	CreateBuffer(info BufferCreateInfo) (Buffer, common.VkResult, error)
	DestroyBuffer(buffer Buffer)
	BufferMemoryRequirements(buffer Buffer) MemoryRequirements
	BindBufferMemory(buffer Buffer, memory DeviceMemory) (common.VkResult, error)

	CreateImage(info ImageCreateInfo) (Image, common.VkResult, error)
	DestroyImage(image Image)
	ImageMemoryRequirements(image Image) MemoryRequirements
	BindImageMemory(image Image, memory DeviceMemory) (common.VkResult, error)

	CreateImageView(info ImageViewCreateInfo) (ImageView, common.VkResult, error)
	DestroyImageView(view ImageView)

	CreateSampler(info SamplerCreateInfo) (Sampler, common.VkResult, error)
	DestroySampler(sampler Sampler)

	AllocateMemory(size int, memoryTypeIndex int) (DeviceMemory, common.VkResult, error)
	FreeMemory(memory DeviceMemory)
	// MapMemory exposes size bytes of memory starting at offset. The slice is
	// only valid until UnmapMemory.
	MapMemory(memory DeviceMemory, offset int, size int) ([]byte, common.VkResult, error)
	UnmapMemory(memory DeviceMemory)

	MemoryTypes() []MemoryType
	// FormatFeatures reports the optimal tiling features of format.
	FormatFeatures(format core1_0.Format) core1_0.FormatFeatureFlags

	CreateCommandPool(queueFamilyIndex int) (CommandPool, common.VkResult, error)
	DestroyCommandPool(pool CommandPool)
	AllocateCommandBuffers(pool CommandPool, count int) ([]CommandBuffer, common.VkResult, error)
	FreeCommandBuffers(pool CommandPool, buffers []CommandBuffer)
	BeginCommandBuffer(buffer CommandBuffer, usage core1_0.CommandBufferUsageFlags) (common.VkResult, error)
	EndCommandBuffer(buffer CommandBuffer) (common.VkResult, error)

	CmdPipelineBarrier(buffer CommandBuffer, srcStage, dstStage core1_0.PipelineStageFlags, barriers []ImageBarrier) error
	CmdPipelineBufferBarrier(buffer CommandBuffer, srcStage, dstStage core1_0.PipelineStageFlags, barriers []BufferBarrier) error
	// CmdCopyBuffer copies the first size bytes of src to the start of dst.
	CmdCopyBuffer(buffer CommandBuffer, src Buffer, dst Buffer, size int) error
	CmdCopyBufferToImage(buffer CommandBuffer, src Buffer, dst Image, dstLayout core1_0.ImageLayout, region BufferImageCopy) error
	CmdBlitImage(buffer CommandBuffer, src Image, srcLayout core1_0.ImageLayout, dst Image, dstLayout core1_0.ImageLayout, region ImageBlit, filter core1_0.Filter) error

	// QueueSubmit submits buffers with no semaphores and no fence.
	QueueSubmit(buffers ...CommandBuffer) (common.VkResult, error)
	QueueWaitIdle() (common.VkResult, error)
}
