package leaks

import "fmt"

// Category is the kind of non-dispatchable handle an identifier is tracked under.
// Every category owns an independent set of identifiers.
type Category int

const (
	Buffer Category = iota
	CommandPool
	DescriptorPool
	DescriptorSetLayout
	Device
	DeviceMemory
	Fence
	Framebuffer
	Image
	ImageView
	Pipeline
	PipelineLayout
	RenderPass
	Sampler
	Semaphore
	ShaderModule
	Surface
	Swapchain

	categoryCount
)

var categoryNames = [categoryCount]string{
	Buffer:              "Buffer",
	CommandPool:         "Command pool",
	DescriptorPool:      "Descriptor pool",
	DescriptorSetLayout: "Descriptor set layout",
	Device:              "Device",
	DeviceMemory:        "Device memory",
	Fence:               "Fence",
	Framebuffer:         "Framebuffer",
	Image:               "Image",
	ImageView:           "Image view",
	Pipeline:            "Pipeline",
	PipelineLayout:      "Pipeline layout",
	RenderPass:          "Render pass",
	Sampler:             "Sampler",
	Semaphore:           "Semaphore",
	ShaderModule:        "Shader module",
	Surface:             "Surface",
	Swapchain:           "Swapchain",
}

// Categories returns every category in sweep order.
func Categories() []Category {
	out := make([]Category, 0, categoryCount)
	for c := Category(0); c < categoryCount; c++ {
		out = append(out, c)
	}
	return out
}

func (c Category) valid() bool {
	return c >= 0 && c < categoryCount
}

func (c Category) String() string {
	if !c.valid() {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return categoryNames[c]
}
