package vulkan

// NullHandle is the "not yet allocated" value of every handle type below.
const NullHandle = 0

// Non-dispatchable handles as seen by the resource layer. The Device that
// produced a handle is the only thing that can resolve it to a native object.
type (
	Buffer        uint64
	Image         uint64
	ImageView     uint64
	DeviceMemory  uint64
	Sampler       uint64
	CommandPool   uint64
	CommandBuffer uint64
)
