package texture

import (
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/rotatingmesh/internal/vulkan"
)

// CountMipLevels returns floor(log2(max(width, height))) + 1, or 0 when
// either dimension is empty.
func CountMipLevels(extent vulkan.Extent2D) int {
	if extent.Width <= 0 || extent.Height <= 0 {
		return 0
	}

	largest := max(extent.Width, extent.Height)
	levels := 1
	for largest > 1 {
		largest >>= 1
		levels++
	}
	return levels
}

type commandKind int

const (
	commandBarrier commandKind = iota
	commandCopy
	commandBlit
)

// command is one step of an upload recording. Image and buffer handles are
// filled in when it is recorded.
type command struct {
	kind commandKind

	srcStage core1_0.PipelineStageFlags
	dstStage core1_0.PipelineStageFlags
	barrier  vulkan.ImageBarrier

	copy vulkan.BufferImageCopy
	blit vulkan.ImageBlit
}

// MipStep is the work that produces one mip level from the level above it.
type MipStep struct {
	ToSource   vulkan.ImageBarrier
	Blit       vulkan.ImageBlit
	ToShader   vulkan.ImageBarrier
	NextExtent vulkan.Extent2D
}

// mipStep builds the barriers and blit that fill level from level-1, whose
// extent is prev. Each dimension halves independently and stops at 1.
func mipStep(level int, prev vulkan.Extent2D) MipStep {
	next := prev.Half()

	return MipStep{
		ToSource: vulkan.ImageBarrier{
			OldLayout:     core1_0.ImageLayoutTransferDstOptimal,
			NewLayout:     core1_0.ImageLayoutTransferSrcOptimal,
			SrcAccessMask: core1_0.AccessTransferWrite,
			DstAccessMask: core1_0.AccessTransferRead,
			BaseMipLevel:  level - 1,
			LevelCount:    1,
		},
		Blit: vulkan.ImageBlit{
			SrcMipLevel: level - 1,
			SrcExtent:   prev,
			DstMipLevel: level,
			DstExtent:   next,
		},
		ToShader: vulkan.ImageBarrier{
			OldLayout:     core1_0.ImageLayoutTransferSrcOptimal,
			NewLayout:     core1_0.ImageLayoutShaderReadOnlyOptimal,
			SrcAccessMask: core1_0.AccessTransferRead,
			DstAccessMask: core1_0.AccessShaderRead,
			BaseMipLevel:  level - 1,
			LevelCount:    1,
		},
		NextExtent: next,
	}
}

func barrier(src, dst core1_0.PipelineStageFlags, b vulkan.ImageBarrier) command {
	return command{kind: commandBarrier, srcStage: src, dstStage: dst, barrier: b}
}

// planCommands lays out the full recording for an image of extent with
// mipLevels levels. Level 0 is filled from the staging buffer; the rest are
// blitted down one level at a time when generateMips is set. Every level
// ends in the shader read-only layout.
func planCommands(extent vulkan.Extent2D, mipLevels int, generateMips bool) []command {
	plan := []command{
		barrier(core1_0.PipelineStageTopOfPipe, core1_0.PipelineStageTransfer, vulkan.ImageBarrier{
			OldLayout:     core1_0.ImageLayoutUndefined,
			NewLayout:     core1_0.ImageLayoutTransferDstOptimal,
			DstAccessMask: core1_0.AccessTransferWrite,
			BaseMipLevel:  0,
			LevelCount:    mipLevels,
		}),
		{kind: commandCopy, copy: vulkan.BufferImageCopy{MipLevel: 0, Extent: extent}},
	}

	if !generateMips {
		return append(plan, barrier(core1_0.PipelineStageTransfer, core1_0.PipelineStageFragmentShader, vulkan.ImageBarrier{
			OldLayout:     core1_0.ImageLayoutTransferDstOptimal,
			NewLayout:     core1_0.ImageLayoutShaderReadOnlyOptimal,
			SrcAccessMask: core1_0.AccessTransferWrite,
			DstAccessMask: core1_0.AccessShaderRead,
			BaseMipLevel:  0,
			LevelCount:    mipLevels,
		}))
	}

	size := extent
	for level := 1; level < mipLevels; level++ {
		step := mipStep(level, size)
		plan = append(plan,
			barrier(core1_0.PipelineStageTransfer, core1_0.PipelineStageTransfer, step.ToSource),
			command{kind: commandBlit, blit: step.Blit},
			barrier(core1_0.PipelineStageTransfer, core1_0.PipelineStageFragmentShader, step.ToShader),
		)
		size = step.NextExtent
	}

	// The last level is never a blit source.
	return append(plan, barrier(core1_0.PipelineStageTransfer, core1_0.PipelineStageFragmentShader, vulkan.ImageBarrier{
		OldLayout:     core1_0.ImageLayoutTransferDstOptimal,
		NewLayout:     core1_0.ImageLayoutShaderReadOnlyOptimal,
		SrcAccessMask: core1_0.AccessTransferWrite,
		DstAccessMask: core1_0.AccessShaderRead,
		BaseMipLevel:  mipLevels - 1,
		LevelCount:    1,
	}))
}
