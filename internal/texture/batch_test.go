package texture

import (
	"testing"
	"testing/fstest"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/rotatingmesh/internal/vulkan"
)

func indexOf(calls []string, call string, last bool) int {
	found := -1
	for i, c := range calls {
		if c == call {
			found = i
			if !last {
				return i
			}
		}
	}
	return found
}

func TestBatchLoad(t *testing.T) {
	f := newFixture(t)
	fsys := fstest.MapFS{"stone.png": {Data: encodePNG(t, grayImage(16, 8))}}

	stone := NewTexture2D("stone.png", core1_0.FormatR8SRGB)
	white := &Texture2D{}
	normal := &Texture2D{}

	batch := NewBatch(f.renderer, f.pool, Options{Workers: 2})
	batch.Add(stone, true)
	batch.AddData(white, filled(4*4*4, 0), vulkan.Extent2D{Width: 4, Height: 4}, core1_0.FormatR8G8B8A8SRGB, false)
	batch.AddData(normal, filled(8*2*4, 0), vulkan.Extent2D{Width: 8, Height: 2}, core1_0.FormatR8G8B8A8UnsignedNormalized, true)
	require.Equal(t, 3, batch.Len())

	report, err := batch.Load(fsys)
	require.NoError(t, err)
	require.Equal(t, batch.ID(), report.ID)
	require.Len(t, report.Timings, 3)
	require.Same(t, stone, report.Timings[0].Texture)

	require.Equal(t, 1, f.device.WaitIdleCount())
	require.Len(t, f.device.Submitted(), 3)
	require.Zero(t, f.device.Live()["commandBuffer"])

	calls := f.device.Calls()
	wait := indexOf(calls, "QueueWaitIdle", false)
	require.Less(t, indexOf(calls, "QueueSubmit", true), wait)
	require.Greater(t, indexOf(calls, "DestroyBuffer", false), wait)

	for _, tex := range []*Texture2D{stone, white, normal} {
		require.Equal(t, StateReady, tex.State())
		require.Equal(t, vulkan.Buffer(vulkan.NullHandle), tex.StagingBuffer())
		require.NotEqual(t, vulkan.ImageView(vulkan.NullHandle), tex.ImageView())
	}
	require.Equal(t, 5, stone.MipLevelCount())
	require.Equal(t, 1, white.MipLevelCount())
	require.Equal(t, 4, normal.MipLevelCount())

	for _, tex := range []*Texture2D{stone, white, normal} {
		tex.FreeResources(f.renderer)
	}
	f.requireClean(t)
}

func TestBatchLoadFailureFreesEveryTexture(t *testing.T) {
	f := newFixture(t)

	first := &Texture2D{}
	second := &Texture2D{}
	third := &Texture2D{}

	batch := NewBatch(f.renderer, f.pool, Options{})
	batch.AddData(first, filled(4, 0), vulkan.Extent2D{Width: 2, Height: 2}, core1_0.FormatR8SRGB, false)
	batch.AddData(second, filled(3, 0), vulkan.Extent2D{Width: 2, Height: 2}, core1_0.FormatR8SRGB, false)
	batch.AddData(third, filled(4, 0), vulkan.Extent2D{Width: 2, Height: 2}, core1_0.FormatR8SRGB, false)

	report, err := batch.Load(fstest.MapFS{})
	require.True(t, errors.Is(err, ErrDataSize))
	require.Len(t, report.Timings, 1)

	// The first upload was in flight, so the queue still had to drain.
	require.Equal(t, 1, f.device.WaitIdleCount())
	require.Equal(t, 1, f.device.CallCount("CreateImage"))
	for _, tex := range []*Texture2D{first, second, third} {
		require.Equal(t, StateEmpty, tex.State())
	}
	require.Zero(t, f.device.Live()["commandBuffer"])
	f.requireClean(t)
}

func TestBatchLoadWaitFailure(t *testing.T) {
	f := newFixture(t)
	f.device.FailOn("QueueWaitIdle", 1)

	tex := &Texture2D{}
	batch := NewBatch(f.renderer, f.pool, Options{})
	batch.AddData(tex, filled(4, 0), vulkan.Extent2D{Width: 2, Height: 2}, core1_0.FormatR8SRGB, false)

	_, err := batch.Load(nil)
	require.Error(t, err)
	require.Equal(t, StateEmpty, tex.State())
	f.requireClean(t)
}

func TestBatchLoadEmpty(t *testing.T) {
	f := newFixture(t)
	calls := len(f.device.Calls())

	report, err := NewBatch(f.renderer, f.pool, Options{}).Load(nil)
	require.NoError(t, err)
	require.Empty(t, report.Timings)
	require.Len(t, f.device.Calls(), calls)
}
