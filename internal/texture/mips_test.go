package texture

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/rotatingmesh/internal/vulkan"
)

func TestCountMipLevels(t *testing.T) {
	for _, tc := range []struct {
		extent vulkan.Extent2D
		want   int
	}{
		{vulkan.Extent2D{Width: 1, Height: 1}, 1},
		{vulkan.Extent2D{Width: 2, Height: 2}, 2},
		{vulkan.Extent2D{Width: 3, Height: 1}, 2},
		{vulkan.Extent2D{Width: 4, Height: 4}, 3},
		{vulkan.Extent2D{Width: 256, Height: 256}, 9},
		{vulkan.Extent2D{Width: 512, Height: 512}, 10},
		{vulkan.Extent2D{Width: 1024, Height: 512}, 11},
		{vulkan.Extent2D{Width: 512, Height: 1024}, 11},
		{vulkan.Extent2D{Width: 1000, Height: 10}, 10},
		{vulkan.Extent2D{Width: 0, Height: 4}, 0},
		{vulkan.Extent2D{Width: 4, Height: 0}, 0},
	} {
		require.Equal(t, tc.want, CountMipLevels(tc.extent), "extent %v", tc.extent)
	}
}

func TestMipStepHalvesEachDimension(t *testing.T) {
	step := mipStep(3, vulkan.Extent2D{Width: 16, Height: 1})

	require.Equal(t, 2, step.Blit.SrcMipLevel)
	require.Equal(t, 3, step.Blit.DstMipLevel)
	require.Equal(t, vulkan.Extent2D{Width: 16, Height: 1}, step.Blit.SrcExtent)
	require.Equal(t, vulkan.Extent2D{Width: 8, Height: 1}, step.Blit.DstExtent)
	require.Equal(t, step.Blit.DstExtent, step.NextExtent)

	require.Equal(t, 2, step.ToSource.BaseMipLevel)
	require.Equal(t, 1, step.ToSource.LevelCount)
	require.Equal(t, core1_0.ImageLayoutTransferSrcOptimal, step.ToSource.NewLayout)
	require.Equal(t, 2, step.ToShader.BaseMipLevel)
	require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, step.ToShader.NewLayout)
}

// simulate replays plan against per-level layouts and fails on any command
// that finds a level in the wrong layout.
func simulate(t *testing.T, plan []command, mipLevels int) []core1_0.ImageLayout {
	t.Helper()

	layouts := make([]core1_0.ImageLayout, mipLevels)
	for i := range layouts {
		layouts[i] = core1_0.ImageLayoutUndefined
	}

	for i, cmd := range plan {
		switch cmd.kind {
		case commandBarrier:
			b := cmd.barrier
			for level := b.BaseMipLevel; level < b.BaseMipLevel+b.LevelCount; level++ {
				require.Equal(t, b.OldLayout, layouts[level], "command %d level %d", i, level)
				layouts[level] = b.NewLayout
			}
		case commandCopy:
			require.Equal(t, core1_0.ImageLayoutTransferDstOptimal, layouts[cmd.copy.MipLevel], "command %d", i)
		case commandBlit:
			require.Equal(t, core1_0.ImageLayoutTransferSrcOptimal, layouts[cmd.blit.SrcMipLevel], "command %d", i)
			require.Equal(t, core1_0.ImageLayoutTransferDstOptimal, layouts[cmd.blit.DstMipLevel], "command %d", i)
		}
	}
	return layouts
}

func TestPlanCommandsLeavesEveryLevelShaderReadable(t *testing.T) {
	for _, extent := range []vulkan.Extent2D{
		{Width: 1, Height: 1},
		{Width: 2, Height: 2},
		{Width: 8, Height: 4},
		{Width: 3, Height: 17},
		{Width: 1024, Height: 512},
	} {
		mipLevels := CountMipLevels(extent)
		plan := planCommands(extent, mipLevels, true)
		require.Len(t, plan, 2+3*(mipLevels-1)+1, "extent %v", extent)

		for level, layout := range simulate(t, plan, mipLevels) {
			require.Equal(t, core1_0.ImageLayoutShaderReadOnlyOptimal, layout, "extent %v level %d", extent, level)
		}
	}
}

func TestPlanCommandsWithoutMips(t *testing.T) {
	extent := vulkan.Extent2D{Width: 64, Height: 32}
	plan := planCommands(extent, 1, false)

	require.Len(t, plan, 3)
	require.Equal(t, commandCopy, plan[1].kind)
	require.Equal(t, extent, plan[1].copy.Extent)
	require.Equal(t, core1_0.PipelineStageFragmentShader, plan[2].dstStage)
	require.Equal(t, []core1_0.ImageLayout{core1_0.ImageLayoutShaderReadOnlyOptimal}, simulate(t, plan, 1))
}

func TestPlanCommandsNonSquareExtents(t *testing.T) {
	plan := planCommands(vulkan.Extent2D{Width: 8, Height: 2}, 4, true)

	var blits []vulkan.ImageBlit
	for _, cmd := range plan {
		if cmd.kind == commandBlit {
			blits = append(blits, cmd.blit)
		}
	}

	require.Equal(t, []vulkan.ImageBlit{
		{SrcMipLevel: 0, SrcExtent: vulkan.Extent2D{Width: 8, Height: 2}, DstMipLevel: 1, DstExtent: vulkan.Extent2D{Width: 4, Height: 1}},
		{SrcMipLevel: 1, SrcExtent: vulkan.Extent2D{Width: 4, Height: 1}, DstMipLevel: 2, DstExtent: vulkan.Extent2D{Width: 2, Height: 1}},
		{SrcMipLevel: 2, SrcExtent: vulkan.Extent2D{Width: 2, Height: 1}, DstMipLevel: 3, DstExtent: vulkan.Extent2D{Width: 1, Height: 1}},
	}, blits)
}
