package texture

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vkngwrapper/rotatingmesh/internal/leaks"
	"github.com/vkngwrapper/rotatingmesh/internal/vulkan"
	"github.com/vkngwrapper/rotatingmesh/internal/vulkan/vulkantest"
)

type fixture struct {
	renderer *vulkan.Renderer
	device   *vulkantest.Device
	registry *leaks.Registry
	pool     vulkan.CommandPool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	device := vulkantest.New()
	registry := leaks.NewRegistry()
	pool, _, err := device.CreateCommandPool(0)
	require.NoError(t, err)

	return &fixture{
		renderer: vulkan.NewRenderer(device, 0, vulkan.WithTracker(registry)),
		device:   device,
		registry: registry,
		pool:     pool,
	}
}

func (f *fixture) commandBuffer(t *testing.T) vulkan.CommandBuffer {
	t.Helper()

	buffers, _, err := f.device.AllocateCommandBuffers(f.pool, 1)
	require.NoError(t, err)
	return buffers[0]
}

// requireClean checks that nothing is alive on the device or in the registry
// and that the device saw no misuse.
func (f *fixture) requireClean(t *testing.T) {
	t.Helper()

	require.NoError(t, f.device.Err())
	require.Zero(t, f.device.LiveObjects(), "live device objects: %v", f.device.Live())
	require.Empty(t, f.registry.Snapshot())
	require.NoError(t, f.registry.CheckLeaks())
}

func filled(n int, start byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = start + byte(i)
	}
	return out
}
