package vulkan_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/rotatingmesh/internal/leaks"
	"github.com/vkngwrapper/rotatingmesh/internal/vulkan"
	"github.com/vkngwrapper/rotatingmesh/internal/vulkan/vulkantest"
)

func TestCheckResult(t *testing.T) {
	var out bytes.Buffer
	r := vulkan.NewRenderer(vulkantest.New(), 0,
		vulkan.WithTracker(leaks.Nop{}),
		vulkan.WithLogger(slog.New(slog.NewTextHandler(&out, nil))))

	require.NoError(t, r.CheckResult(core1_0.VKSuccess, nil, "Texture2D.UploadData", "unused"))
	require.Empty(t, out.String())

	err := r.CheckResult(core1_0.VKErrorOutOfDeviceMemory, vulkantest.ErrInjected, "Texture2D.UploadData", "can't create image")
	require.True(t, errors.Is(err, vulkantest.ErrInjected))
	require.Contains(t, err.Error(), "Texture2D.UploadData: can't create image")
	require.Contains(t, out.String(), "can't create image")
	require.Contains(t, out.String(), "where=Texture2D.UploadData")

	err = r.CheckResult(core1_0.VKErrorOutOfHostMemory, nil, "SamplerSet.Get", "can't create texture sampler")
	require.Error(t, err)
}

func TestFindMemoryType(t *testing.T) {
	r := vulkan.NewRenderer(vulkantest.New(), 0, vulkan.WithTracker(leaks.Nop{}))

	index, err := r.FindMemoryType(0b11, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	require.NoError(t, err)
	require.Equal(t, vulkantest.HostVisibleMemoryType, index)

	index, err = r.FindMemoryType(0b11, core1_0.MemoryPropertyDeviceLocal)
	require.NoError(t, err)
	require.Equal(t, vulkantest.DeviceLocalMemoryType, index)

	_, err = r.FindMemoryType(1<<vulkantest.DeviceLocalMemoryType, core1_0.MemoryPropertyHostVisible)
	require.Error(t, err)
}

func TestTryAllocateMemoryTracksAllocation(t *testing.T) {
	device := vulkantest.New()
	registry := leaks.NewRegistry()
	r := vulkan.NewRenderer(device, 0, vulkan.WithTracker(registry))

	requirements := vulkan.MemoryRequirements{Size: 64, Alignment: 16, MemoryTypeBits: 0b11}
	memory, err := r.TryAllocateMemory(requirements, core1_0.MemoryPropertyHostVisible, "Mesh.vertexMemory", "can't allocate vertex memory")
	require.NoError(t, err)
	require.NotEqual(t, vulkan.DeviceMemory(vulkan.NullHandle), memory)
	require.Equal(t, 1, registry.Count(leaks.DeviceMemory, "Mesh.vertexMemory"))

	r.FreeMemory(memory, "Mesh.vertexMemory")
	r.FreeMemory(vulkan.NullHandle, "Mesh.vertexMemory")
	require.Zero(t, registry.Len())
	require.NoError(t, device.Err())
	require.Equal(t, 1, device.CallCount("FreeMemory"))
}

func TestTryAllocateMemoryFailures(t *testing.T) {
	device := vulkantest.New()
	registry := leaks.NewRegistry()
	r := vulkan.NewRenderer(device, 0, vulkan.WithTracker(registry))

	_, err := r.TryAllocateMemory(vulkan.MemoryRequirements{Size: 8, MemoryTypeBits: 1 << vulkantest.DeviceLocalMemoryType},
		core1_0.MemoryPropertyHostVisible, "Mesh.vertexMemory", "can't allocate vertex memory")
	require.Error(t, err)
	require.Zero(t, device.CallCount("AllocateMemory"))

	device.FailOn("AllocateMemory", 1)
	memory, err := r.TryAllocateMemory(vulkan.MemoryRequirements{Size: 8, MemoryTypeBits: 0b11},
		core1_0.MemoryPropertyDeviceLocal, "Mesh.vertexMemory", "can't allocate vertex memory")
	require.True(t, errors.Is(err, vulkantest.ErrInjected))
	require.Equal(t, vulkan.DeviceMemory(vulkan.NullHandle), memory)
	require.Zero(t, registry.Len())
}

func TestRendererDefaults(t *testing.T) {
	r := vulkan.NewRenderer(vulkantest.New(), 3)
	require.Equal(t, 3, r.QueueFamilyIndex())
	require.NotNil(t, r.Logger())
	require.Equal(t, leaks.Default(), r.Tracker())
}

func TestExtentHalf(t *testing.T) {
	require.Equal(t, vulkan.Extent2D{Width: 4, Height: 1}, vulkan.Extent2D{Width: 8, Height: 2}.Half())
	require.Equal(t, vulkan.Extent2D{Width: 1, Height: 1}, vulkan.Extent2D{Width: 1, Height: 1}.Half())
	require.Equal(t, vulkan.Extent2D{Width: 1, Height: 3}, vulkan.Extent2D{Width: 3, Height: 7}.Half())
	require.Equal(t, "1024x512", vulkan.Extent2D{Width: 1024, Height: 512}.String())
}
