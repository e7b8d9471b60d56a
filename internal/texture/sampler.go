package texture

import (
	"fmt"

	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/rotatingmesh/internal/leaks"
	"github.com/vkngwrapper/rotatingmesh/internal/vulkan"
)

// SamplerSet shares one linear, repeating sampler between all textures with
// the same mip level count.
type SamplerSet struct {
	samplers map[int]vulkan.Sampler
}

func samplerID(mipLevels int) string {
	return fmt.Sprintf("SamplerSet.sampler%dMips", mipLevels)
}

// Get returns the sampler for textures with mipLevels levels, creating it on
// first use. Its maximum LOD is mipLevels-1.
func (s *SamplerSet) Get(r *vulkan.Renderer, mipLevels int) (vulkan.Sampler, error) {
	if mipLevels < 1 {
		mipLevels = 1
	}
	if sampler, ok := s.samplers[mipLevels]; ok {
		return sampler, nil
	}

	sampler, result, err := r.Device().CreateSampler(vulkan.SamplerCreateInfo{
		MagFilter:   core1_0.FilterLinear,
		MinFilter:   core1_0.FilterLinear,
		MipmapMode:  core1_0.SamplerMipmapModeLinear,
		AddressMode: core1_0.SamplerAddressModeRepeat,
		MinLod:      0,
		MaxLod:      float32(mipLevels - 1),
	})
	if err := r.CheckResult(result, err, "SamplerSet.Get", "can't create texture sampler"); err != nil {
		return vulkan.NullHandle, err
	}

	if s.samplers == nil {
		s.samplers = make(map[int]vulkan.Sampler)
	}
	s.samplers[mipLevels] = sampler
	r.Tracker().Register(leaks.Sampler, samplerID(mipLevels))
	return sampler, nil
}

// For returns the sampler matching t's mip level count.
func (s *SamplerSet) For(r *vulkan.Renderer, t *Texture2D) (vulkan.Sampler, error) {
	return s.Get(r, t.MipLevelCount())
}

func (s *SamplerSet) Len() int { return len(s.samplers) }

// Destroy releases every sampler in the set.
func (s *SamplerSet) Destroy(r *vulkan.Renderer) {
	for mipLevels, sampler := range s.samplers {
		r.Device().DestroySampler(sampler)
		r.Tracker().Unregister(leaks.Sampler, samplerID(mipLevels))
	}
	s.samplers = nil
}
