package vulkan

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/mocks"
	"github.com/vkngwrapper/core/v3/mocks/mocks1_0"
	"go.uber.org/mock/gomock"
)

type vkngFixture struct {
	instanceDriver *mocks1_0.MockCoreInstanceDriver
	deviceDriver   *mocks1_0.MockCoreDeviceDriver

	physicalDevice core1_0.PhysicalDevice
	device         core1_0.Device
	queue          core1_0.Queue

	vkng *VkngDevice
}

func newVkngFixture(t *testing.T) *vkngFixture {
	ctrl := gomock.NewController(t)

	instance := mocks.NewDummyInstance(common.Vulkan1_0, []string{})
	device := mocks.NewDummyDevice(common.Vulkan1_0, []string{})
	f := &vkngFixture{
		instanceDriver: mocks1_0.NewMockCoreInstanceDriver(ctrl),
		deviceDriver:   mocks1_0.NewMockCoreDeviceDriver(ctrl),
		physicalDevice: mocks.NewDummyPhysicalDevice(instance, common.Vulkan1_0),
		device:         device,
		queue:          mocks.NewDummyQueue(device),
	}
	f.vkng = NewVkngDevice(f.instanceDriver, f.deviceDriver, f.physicalDevice, f.queue)
	return f
}

func (f *vkngFixture) createBuffer(t *testing.T, size int, usage core1_0.BufferUsageFlags) (Buffer, core1_0.Buffer) {
	native := mocks.NewDummyBuffer(f.device)
	f.deviceDriver.EXPECT().CreateBuffer(gomock.Nil(), core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	}).Return(native, core1_0.VKSuccess, nil)

	buffer, result, err := f.vkng.CreateBuffer(BufferCreateInfo{Size: size, Usage: usage})
	require.NoError(t, err)
	require.Equal(t, core1_0.VKSuccess, result)
	require.NotEqual(t, Buffer(NullHandle), buffer)
	return buffer, native
}

func (f *vkngFixture) commandBuffer(t *testing.T) CommandBuffer {
	nativePool := mocks.NewDummyCommandPool(f.device)
	f.deviceDriver.EXPECT().CreateCommandPool(gomock.Nil(), core1_0.CommandPoolCreateInfo{QueueFamilyIndex: 0}).
		Return(nativePool, core1_0.VKSuccess, nil)
	pool, _, err := f.vkng.CreateCommandPool(0)
	require.NoError(t, err)

	native := mocks.NewDummyCommandBuffer(nativePool, f.device)
	f.deviceDriver.EXPECT().AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        nativePool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}).Return([]core1_0.CommandBuffer{native}, core1_0.VKSuccess, nil)
	buffers, _, err := f.vkng.AllocateCommandBuffers(pool, 1)
	require.NoError(t, err)
	require.Len(t, buffers, 1)
	return buffers[0]
}

func TestVkngDeviceDestroysEachBufferOnce(t *testing.T) {
	f := newVkngFixture(t)

	buffer, native := f.createBuffer(t, 64, core1_0.BufferUsageTransferSrc)

	f.deviceDriver.EXPECT().DestroyBuffer(native, gomock.Nil()).Times(1)
	f.vkng.DestroyBuffer(buffer)
	f.vkng.DestroyBuffer(buffer)
	f.vkng.DestroyBuffer(NullHandle)
}

func TestVkngDeviceCreateFailureKeepsNoHandle(t *testing.T) {
	f := newVkngFixture(t)

	f.deviceDriver.EXPECT().CreateBuffer(gomock.Nil(), gomock.Any()).
		Return(core1_0.Buffer{}, core1_0.VKErrorOutOfDeviceMemory, core1_0.VKErrorOutOfDeviceMemory.ToError())

	buffer, result, err := f.vkng.CreateBuffer(BufferCreateInfo{Size: 16, Usage: core1_0.BufferUsageUniformBuffer})
	require.Error(t, err)
	require.Equal(t, core1_0.VKErrorOutOfDeviceMemory, result)
	require.Equal(t, Buffer(NullHandle), buffer)

	// Nothing was stored, so nothing is destroyed.
	f.vkng.DestroyBuffer(buffer)
}

func TestVkngDeviceMemoryTypes(t *testing.T) {
	f := newVkngFixture(t)

	f.instanceDriver.EXPECT().GetPhysicalDeviceMemoryProperties(f.physicalDevice).Return(&core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: []core1_0.MemoryType{
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal, HeapIndex: 0},
			{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 1},
		},
	})

	require.Equal(t, []MemoryType{
		{PropertyFlags: core1_0.MemoryPropertyDeviceLocal, HeapIndex: 0},
		{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 1},
	}, f.vkng.MemoryTypes())
}

func TestVkngDeviceMapMemoryAliasesMapping(t *testing.T) {
	f := newVkngFixture(t)

	native := mocks.NewDummyDeviceMemory(f.device, 8)
	f.deviceDriver.EXPECT().AllocateMemory(gomock.Nil(), core1_0.MemoryAllocateInfo{
		AllocationSize:  8,
		MemoryTypeIndex: 1,
	}).Return(native, core1_0.VKSuccess, nil)
	memory, _, err := f.vkng.AllocateMemory(8, 1)
	require.NoError(t, err)

	backing := make([]byte, 8)
	f.deviceDriver.EXPECT().MapMemory(native, 2, 4, core1_0.MemoryMapFlags(0)).
		Return(unsafe.Pointer(&backing[2]), core1_0.VKSuccess, nil)
	f.deviceDriver.EXPECT().UnmapMemory(native)

	mapped, _, err := f.vkng.MapMemory(memory, 2, 4)
	require.NoError(t, err)
	require.Len(t, mapped, 4)
	copy(mapped, []byte{1, 2, 3, 4})
	f.vkng.UnmapMemory(memory)

	require.Equal(t, []byte{0, 0, 1, 2, 3, 4, 0, 0}, backing)

	f.deviceDriver.EXPECT().FreeMemory(native, gomock.Nil())
	f.vkng.FreeMemory(memory)
	f.vkng.FreeMemory(memory)
}

func TestVkngDeviceRecordsBufferCopy(t *testing.T) {
	f := newVkngFixture(t)

	transfer, nativeTransfer := f.createBuffer(t, 16, core1_0.BufferUsageTransferSrc)
	uniform, nativeUniform := f.createBuffer(t, 16, core1_0.BufferUsageTransferDst|core1_0.BufferUsageUniformBuffer)
	cb := f.commandBuffer(t)
	nativeCB := f.vkng.commandBuffers.get(cb)

	gomock.InOrder(
		f.deviceDriver.EXPECT().BeginCommandBuffer(nativeCB, core1_0.CommandBufferBeginInfo{}).
			Return(core1_0.VKSuccess, nil),
		f.deviceDriver.EXPECT().CmdPipelineBarrier(nativeCB,
			core1_0.PipelineStageTopOfPipe, core1_0.PipelineStageTransfer, core1_0.DependencyFlags(0),
			gomock.Nil(),
			[]core1_0.BufferMemoryBarrier{{
				Buffer:              nativeUniform,
				SrcAccessMask:       0,
				DstAccessMask:       core1_0.AccessTransferWrite,
				SrcQueueFamilyIndex: -1,
				DstQueueFamilyIndex: -1,
				Offset:              0,
				Size:                16,
			}},
			gomock.Nil(),
		).Return(nil),
		f.deviceDriver.EXPECT().CmdCopyBuffer(nativeCB, nativeTransfer, nativeUniform, core1_0.BufferCopy{
			SrcOffset: 0,
			DstOffset: 0,
			Size:      16,
		}).Return(nil),
		f.deviceDriver.EXPECT().EndCommandBuffer(nativeCB).Return(core1_0.VKSuccess, nil),
		f.deviceDriver.EXPECT().QueueSubmit(f.queue, gomock.Nil(), core1_0.SubmitInfo{
			CommandBuffers: []core1_0.CommandBuffer{nativeCB},
		}).Return(core1_0.VKSuccess, nil),
	)

	_, err := f.vkng.BeginCommandBuffer(cb, 0)
	require.NoError(t, err)
	require.NoError(t, f.vkng.CmdPipelineBufferBarrier(cb, core1_0.PipelineStageTopOfPipe, core1_0.PipelineStageTransfer, []BufferBarrier{{
		Buffer:        uniform,
		DstAccessMask: core1_0.AccessTransferWrite,
		Size:          16,
	}}))
	require.NoError(t, f.vkng.CmdCopyBuffer(cb, transfer, uniform, 16))
	_, err = f.vkng.EndCommandBuffer(cb)
	require.NoError(t, err)
	_, err = f.vkng.QueueSubmit(cb)
	require.NoError(t, err)
}

func TestVkngDeviceOneTimeBegin(t *testing.T) {
	f := newVkngFixture(t)
	cb := f.commandBuffer(t)

	f.deviceDriver.EXPECT().BeginCommandBuffer(f.vkng.commandBuffers.get(cb), core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	}).Return(core1_0.VKSuccess, nil)

	_, err := f.vkng.BeginCommandBuffer(cb, core1_0.CommandBufferUsageOneTimeSubmit)
	require.NoError(t, err)
}

func TestVkngDeviceFreesOnlyKnownCommandBuffers(t *testing.T) {
	f := newVkngFixture(t)
	cb := f.commandBuffer(t)
	native := f.vkng.commandBuffers.get(cb)

	f.deviceDriver.EXPECT().FreeCommandBuffers(native).Times(1)
	f.vkng.FreeCommandBuffers(NullHandle, []CommandBuffer{cb, CommandBuffer(999)})
	f.vkng.FreeCommandBuffers(NullHandle, []CommandBuffer{cb})
}

func TestVkngDeviceBlitCoversWholeLevels(t *testing.T) {
	f := newVkngFixture(t)
	cb := f.commandBuffer(t)
	nativeCB := f.vkng.commandBuffers.get(cb)

	native := mocks.NewDummyImage(f.device)
	f.deviceDriver.EXPECT().CreateImage(gomock.Nil(), gomock.Any()).Return(native, core1_0.VKSuccess, nil)
	image, _, err := f.vkng.CreateImage(ImageCreateInfo{
		Format:    core1_0.FormatR8G8B8A8SRGB,
		Extent:    Extent2D{Width: 8, Height: 4},
		MipLevels: 4,
		Usage:     core1_0.ImageUsageTransferSrc | core1_0.ImageUsageTransferDst | core1_0.ImageUsageSampled,
	})
	require.NoError(t, err)

	f.deviceDriver.EXPECT().CmdBlitImage(nativeCB,
		native, core1_0.ImageLayoutTransferSrcOptimal,
		native, core1_0.ImageLayoutTransferDstOptimal,
		[]core1_0.ImageBlit{{
			SrcSubresource: core1_0.ImageSubresourceLayers{AspectMask: core1_0.ImageAspectColor, MipLevel: 1, LayerCount: 1},
			SrcOffsets:     [2]core1_0.Offset3D{{}, {X: 4, Y: 2, Z: 1}},
			DstSubresource: core1_0.ImageSubresourceLayers{AspectMask: core1_0.ImageAspectColor, MipLevel: 2, LayerCount: 1},
			DstOffsets:     [2]core1_0.Offset3D{{}, {X: 2, Y: 1, Z: 1}},
		}},
		core1_0.FilterLinear,
	).Return(nil)

	require.NoError(t, f.vkng.CmdBlitImage(cb,
		image, core1_0.ImageLayoutTransferSrcOptimal,
		image, core1_0.ImageLayoutTransferDstOptimal,
		ImageBlit{
			SrcMipLevel: 1,
			SrcExtent:   Extent2D{Width: 4, Height: 2},
			DstMipLevel: 2,
			DstExtent:   Extent2D{Width: 2, Height: 1},
		},
		core1_0.FilterLinear))
}
