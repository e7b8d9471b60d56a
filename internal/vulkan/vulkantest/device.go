// Package vulkantest provides an in-memory vulkan.Device that records every
// call, for exercising resource owners without a GPU.
package vulkantest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/rotatingmesh/internal/vulkan"
)

// Memory type indices exposed by Device.
const (
	DeviceLocalMemoryType = 0
	HostVisibleMemoryType = 1
)

// ErrInjected is the error returned by calls selected with FailOn.
var ErrInjected = errors.New("injected device failure")

type CommandKind int

const (
	CommandBarrier CommandKind = iota
	CommandCopy
	CommandBlit
	CommandBufferBarrier
	CommandBufferCopy
)

// Command is one recorded vkCmd* call.
type Command struct {
	Kind CommandKind

	SrcStage core1_0.PipelineStageFlags
	DstStage core1_0.PipelineStageFlags
	Barriers []vulkan.ImageBarrier

	Buffer    vulkan.Buffer
	Image     vulkan.Image
	Layout    core1_0.ImageLayout
	Copy      vulkan.BufferImageCopy
	SrcLayout core1_0.ImageLayout
	Blit      vulkan.ImageBlit
	Filter    core1_0.Filter

	BufferBarriers []vulkan.BufferBarrier
	DstBuffer      vulkan.Buffer
	Size           int
}

type commandBuffer struct {
	pool      vulkan.CommandPool
	recording bool
	oneTime   bool
	submitted bool
	commands  []Command
}

var _ vulkan.Device = (*Device)(nil)

// Device is a fake vulkan.Device. The zero value is not usable; call New.
type Device struct {
	mu sync.Mutex

	next     uint64
	calls    []string
	failures map[string]int
	counts   map[string]int

	Features map[core1_0.Format]core1_0.FormatFeatureFlags

	buffers  map[vulkan.Buffer]vulkan.BufferCreateInfo
	images   map[vulkan.Image]vulkan.ImageCreateInfo
	views    map[vulkan.ImageView]vulkan.ImageViewCreateInfo
	samplers map[vulkan.Sampler]vulkan.SamplerCreateInfo
	memory   map[vulkan.DeviceMemory][]byte
	bindings map[vulkan.Buffer]vulkan.DeviceMemory
	mapped   map[vulkan.DeviceMemory]bool
	pools    map[vulkan.CommandPool]bool
	cmds     map[vulkan.CommandBuffer]*commandBuffer

	submitted  []vulkan.CommandBuffer
	waitIdles  int
	misuse     []error
	lastCopied []byte
}

func New() *Device {
	return &Device{
		failures: make(map[string]int),
		counts:   make(map[string]int),
		Features: make(map[core1_0.Format]core1_0.FormatFeatureFlags),
		buffers:  make(map[vulkan.Buffer]vulkan.BufferCreateInfo),
		images:   make(map[vulkan.Image]vulkan.ImageCreateInfo),
		views:    make(map[vulkan.ImageView]vulkan.ImageViewCreateInfo),
		samplers: make(map[vulkan.Sampler]vulkan.SamplerCreateInfo),
		memory:   make(map[vulkan.DeviceMemory][]byte),
		bindings: make(map[vulkan.Buffer]vulkan.DeviceMemory),
		mapped:   make(map[vulkan.DeviceMemory]bool),
		pools:    make(map[vulkan.CommandPool]bool),
		cmds:     make(map[vulkan.CommandBuffer]*commandBuffer),
	}
}

// FailOn makes the nth (1-based) invocation of call fail. call is the method
// name, e.g. "CreateImageView".
func (d *Device) FailOn(call string, nth int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[call] = nth
}

// enter records call and reports whether it has to fail. Callers hold d.mu.
func (d *Device) enter(call string) bool {
	d.calls = append(d.calls, call)
	d.counts[call]++
	nth, ok := d.failures[call]
	return ok && nth == d.counts[call]
}

func (d *Device) handle() uint64 {
	d.next++
	return d.next
}

func (d *Device) abuse(format string, args ...interface{}) {
	d.misuse = append(d.misuse, errors.Newf(format, args...))
}

func failed() (common.VkResult, error) {
	return core1_0.VKErrorOutOfDeviceMemory, ErrInjected
}

func (d *Device) CreateBuffer(info vulkan.BufferCreateInfo) (vulkan.Buffer, common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.enter("CreateBuffer") {
		res, err := failed()
		return vulkan.NullHandle, res, err
	}
	h := vulkan.Buffer(d.handle())
	d.buffers[h] = info
	return h, core1_0.VKSuccess, nil
}

func (d *Device) DestroyBuffer(buffer vulkan.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.enter("DestroyBuffer")
	if _, ok := d.buffers[buffer]; !ok {
		d.abuse("DestroyBuffer: unknown buffer %d", buffer)
		return
	}
	delete(d.buffers, buffer)
	delete(d.bindings, buffer)
}

func (d *Device) BufferMemoryRequirements(buffer vulkan.Buffer) vulkan.MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.enter("BufferMemoryRequirements")
	return vulkan.MemoryRequirements{
		Size:           d.buffers[buffer].Size,
		Alignment:      16,
		MemoryTypeBits: 1<<DeviceLocalMemoryType | 1<<HostVisibleMemoryType,
	}
}

func (d *Device) BindBufferMemory(buffer vulkan.Buffer, memory vulkan.DeviceMemory) (common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.enter("BindBufferMemory") {
		return failed()
	}
	if _, ok := d.buffers[buffer]; !ok {
		d.abuse("BindBufferMemory: unknown buffer %d", buffer)
	}
	if _, ok := d.memory[memory]; !ok {
		d.abuse("BindBufferMemory: unknown memory %d", memory)
	}
	d.bindings[buffer] = memory
	return core1_0.VKSuccess, nil
}

func (d *Device) CreateImage(info vulkan.ImageCreateInfo) (vulkan.Image, common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.enter("CreateImage") {
		res, err := failed()
		return vulkan.NullHandle, res, err
	}
	h := vulkan.Image(d.handle())
	d.images[h] = info
	return h, core1_0.VKSuccess, nil
}

func (d *Device) DestroyImage(image vulkan.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.enter("DestroyImage")
	if _, ok := d.images[image]; !ok {
		d.abuse("DestroyImage: unknown image %d", image)
		return
	}
	delete(d.images, image)
}

func (d *Device) ImageMemoryRequirements(image vulkan.Image) vulkan.MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.enter("ImageMemoryRequirements")
	info := d.images[image]
	return vulkan.MemoryRequirements{
		Size:           info.Extent.Width * info.Extent.Height * 4 * 2,
		Alignment:      256,
		MemoryTypeBits: 1 << DeviceLocalMemoryType,
	}
}

func (d *Device) BindImageMemory(image vulkan.Image, memory vulkan.DeviceMemory) (common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.enter("BindImageMemory") {
		return failed()
	}
	if _, ok := d.images[image]; !ok {
		d.abuse("BindImageMemory: unknown image %d", image)
	}
	if _, ok := d.memory[memory]; !ok {
		d.abuse("BindImageMemory: unknown memory %d", memory)
	}
	return core1_0.VKSuccess, nil
}

func (d *Device) CreateImageView(info vulkan.ImageViewCreateInfo) (vulkan.ImageView, common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.enter("CreateImageView") {
		res, err := failed()
		return vulkan.NullHandle, res, err
	}
	if _, ok := d.images[info.Image]; !ok {
		d.abuse("CreateImageView: unknown image %d", info.Image)
	}
	h := vulkan.ImageView(d.handle())
	d.views[h] = info
	return h, core1_0.VKSuccess, nil
}

func (d *Device) DestroyImageView(view vulkan.ImageView) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.enter("DestroyImageView")
	if _, ok := d.views[view]; !ok {
		d.abuse("DestroyImageView: unknown view %d", view)
		return
	}
	delete(d.views, view)
}

func (d *Device) CreateSampler(info vulkan.SamplerCreateInfo) (vulkan.Sampler, common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.enter("CreateSampler") {
		res, err := failed()
		return vulkan.NullHandle, res, err
	}
	h := vulkan.Sampler(d.handle())
	d.samplers[h] = info
	return h, core1_0.VKSuccess, nil
}

func (d *Device) DestroySampler(sampler vulkan.Sampler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.enter("DestroySampler")
	if _, ok := d.samplers[sampler]; !ok {
		d.abuse("DestroySampler: unknown sampler %d", sampler)
		return
	}
	delete(d.samplers, sampler)
}

func (d *Device) AllocateMemory(size int, memoryTypeIndex int) (vulkan.DeviceMemory, common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.enter("AllocateMemory") {
		res, err := failed()
		return vulkan.NullHandle, res, err
	}
	if memoryTypeIndex != DeviceLocalMemoryType && memoryTypeIndex != HostVisibleMemoryType {
		d.abuse("AllocateMemory: bad memory type %d", memoryTypeIndex)
	}
	h := vulkan.DeviceMemory(d.handle())
	d.memory[h] = make([]byte, size)
	return h, core1_0.VKSuccess, nil
}

func (d *Device) FreeMemory(memory vulkan.DeviceMemory) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.enter("FreeMemory")
	if _, ok := d.memory[memory]; !ok {
		d.abuse("FreeMemory: unknown memory %d", memory)
		return
	}
	delete(d.memory, memory)
	delete(d.mapped, memory)
}

func (d *Device) MapMemory(memory vulkan.DeviceMemory, offset int, size int) ([]byte, common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.enter("MapMemory") {
		res, err := failed()
		return nil, res, err
	}
	data, ok := d.memory[memory]
	if !ok || offset+size > len(data) {
		d.abuse("MapMemory: bad range %d+%d on memory %d", offset, size, memory)
		return nil, core1_0.VKErrorOutOfHostMemory, errors.New("bad map range")
	}
	d.mapped[memory] = true
	return data[offset : offset+size], core1_0.VKSuccess, nil
}

func (d *Device) UnmapMemory(memory vulkan.DeviceMemory) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.enter("UnmapMemory")
	if !d.mapped[memory] {
		d.abuse("UnmapMemory: memory %d is not mapped", memory)
	}
	delete(d.mapped, memory)
}

func (d *Device) MemoryTypes() []vulkan.MemoryType {
	return []vulkan.MemoryType{
		DeviceLocalMemoryType: {PropertyFlags: core1_0.MemoryPropertyDeviceLocal, HeapIndex: 0},
		HostVisibleMemoryType: {PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent, HeapIndex: 1},
	}
}

// FormatFeatures reports Features[format], or linear filtering support when
// the format has no override.
func (d *Device) FormatFeatures(format core1_0.Format) core1_0.FormatFeatureFlags {
	d.mu.Lock()
	defer d.mu.Unlock()

	if features, ok := d.Features[format]; ok {
		return features
	}
	return core1_0.FormatFeatureSampledImage | core1_0.FormatFeatureSampledImageFilterLinear
}

func (d *Device) CreateCommandPool(queueFamilyIndex int) (vulkan.CommandPool, common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.enter("CreateCommandPool") {
		res, err := failed()
		return vulkan.NullHandle, res, err
	}
	h := vulkan.CommandPool(d.handle())
	d.pools[h] = true
	return h, core1_0.VKSuccess, nil
}

func (d *Device) DestroyCommandPool(pool vulkan.CommandPool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.enter("DestroyCommandPool")
	if !d.pools[pool] {
		d.abuse("DestroyCommandPool: unknown pool %d", pool)
		return
	}
	delete(d.pools, pool)
	for h, cb := range d.cmds {
		if cb.pool == pool {
			delete(d.cmds, h)
		}
	}
}

func (d *Device) AllocateCommandBuffers(pool vulkan.CommandPool, count int) ([]vulkan.CommandBuffer, common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.enter("AllocateCommandBuffers") {
		res, err := failed()
		return nil, res, err
	}
	if !d.pools[pool] {
		d.abuse("AllocateCommandBuffers: unknown pool %d", pool)
	}
	out := make([]vulkan.CommandBuffer, 0, count)
	for i := 0; i < count; i++ {
		h := vulkan.CommandBuffer(d.handle())
		d.cmds[h] = &commandBuffer{pool: pool}
		out = append(out, h)
	}
	return out, core1_0.VKSuccess, nil
}

func (d *Device) FreeCommandBuffers(pool vulkan.CommandPool, buffers []vulkan.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.enter("FreeCommandBuffers")
	for _, buffer := range buffers {
		cb, ok := d.cmds[buffer]
		if !ok || cb.pool != pool {
			d.abuse("FreeCommandBuffers: buffer %d not from pool %d", buffer, pool)
			continue
		}
		delete(d.cmds, buffer)
	}
}

// BeginCommandBuffer resets buffer. A buffer begun with one-time-submit usage
// may be submitted once before the next begin.
func (d *Device) BeginCommandBuffer(buffer vulkan.CommandBuffer, usage core1_0.CommandBufferUsageFlags) (common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.enter("BeginCommandBuffer") {
		return failed()
	}
	cb, ok := d.cmds[buffer]
	if !ok {
		d.abuse("BeginCommandBuffer: unknown buffer %d", buffer)
		return core1_0.VKSuccess, nil
	}
	cb.recording = true
	cb.oneTime = usage&core1_0.CommandBufferUsageOneTimeSubmit != 0
	cb.submitted = false
	cb.commands = nil
	return core1_0.VKSuccess, nil
}

func (d *Device) EndCommandBuffer(buffer vulkan.CommandBuffer) (common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.enter("EndCommandBuffer") {
		return failed()
	}
	cb, ok := d.cmds[buffer]
	if !ok || !cb.recording {
		d.abuse("EndCommandBuffer: buffer %d is not recording", buffer)
		return core1_0.VKSuccess, nil
	}
	cb.recording = false
	return core1_0.VKSuccess, nil
}

func (d *Device) record(call string, buffer vulkan.CommandBuffer, cmd Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.enter(call) {
		return ErrInjected
	}
	cb, ok := d.cmds[buffer]
	if !ok || !cb.recording {
		d.abuse("%s: buffer %d is not recording", call, buffer)
		return nil
	}
	cb.commands = append(cb.commands, cmd)
	return nil
}

func (d *Device) CmdPipelineBarrier(buffer vulkan.CommandBuffer, srcStage, dstStage core1_0.PipelineStageFlags, barriers []vulkan.ImageBarrier) error {
	return d.record("CmdPipelineBarrier", buffer, Command{
		Kind:     CommandBarrier,
		SrcStage: srcStage,
		DstStage: dstStage,
		Barriers: append([]vulkan.ImageBarrier(nil), barriers...),
	})
}

func (d *Device) CmdPipelineBufferBarrier(buffer vulkan.CommandBuffer, srcStage, dstStage core1_0.PipelineStageFlags, barriers []vulkan.BufferBarrier) error {
	return d.record("CmdPipelineBufferBarrier", buffer, Command{
		Kind:           CommandBufferBarrier,
		SrcStage:       srcStage,
		DstStage:       dstStage,
		BufferBarriers: append([]vulkan.BufferBarrier(nil), barriers...),
	})
}

func (d *Device) CmdCopyBuffer(buffer vulkan.CommandBuffer, src vulkan.Buffer, dst vulkan.Buffer, size int) error {
	return d.record("CmdCopyBuffer", buffer, Command{
		Kind:      CommandBufferCopy,
		Buffer:    src,
		DstBuffer: dst,
		Size:      size,
	})
}

func (d *Device) CmdCopyBufferToImage(buffer vulkan.CommandBuffer, src vulkan.Buffer, dst vulkan.Image, dstLayout core1_0.ImageLayout, region vulkan.BufferImageCopy) error {
	return d.record("CmdCopyBufferToImage", buffer, Command{
		Kind:   CommandCopy,
		Buffer: src,
		Image:  dst,
		Layout: dstLayout,
		Copy:   region,
	})
}

func (d *Device) CmdBlitImage(buffer vulkan.CommandBuffer, src vulkan.Image, srcLayout core1_0.ImageLayout, dst vulkan.Image, dstLayout core1_0.ImageLayout, region vulkan.ImageBlit, filter core1_0.Filter) error {
	if src != dst {
		d.mu.Lock()
		d.abuse("CmdBlitImage: expected an in-image blit, got %d -> %d", src, dst)
		d.mu.Unlock()
	}
	return d.record("CmdBlitImage", buffer, Command{
		Kind:      CommandBlit,
		Image:     dst,
		SrcLayout: srcLayout,
		Layout:    dstLayout,
		Blit:      region,
		Filter:    filter,
	})
}

// QueueSubmit snapshots the staging bytes referenced by image copy commands
// so tests can inspect what reached the device. Buffer copies are executed
// against the bound memory.
func (d *Device) QueueSubmit(buffers ...vulkan.CommandBuffer) (common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.enter("QueueSubmit") {
		return failed()
	}
	for _, buffer := range buffers {
		cb, ok := d.cmds[buffer]
		if !ok || cb.recording {
			d.abuse("QueueSubmit: buffer %d is not executable", buffer)
			continue
		}
		if cb.oneTime && cb.submitted {
			d.abuse("QueueSubmit: one-time buffer %d submitted again without begin", buffer)
			continue
		}
		cb.submitted = true
		d.submitted = append(d.submitted, buffer)
		for _, cmd := range cb.commands {
			switch cmd.Kind {
			case CommandCopy:
				d.lastCopied = d.bufferBytes(cmd.Buffer)
			case CommandBufferCopy:
				d.copyBuffer(cmd.Buffer, cmd.DstBuffer, cmd.Size)
			}
		}
	}
	return core1_0.VKSuccess, nil
}

func (d *Device) bufferBytes(buffer vulkan.Buffer) []byte {
	memory, ok := d.bindings[buffer]
	if !ok {
		d.abuse("QueueSubmit: copy from unbound buffer %d", buffer)
		return nil
	}
	data, ok := d.memory[memory]
	if !ok {
		d.abuse("QueueSubmit: copy from freed memory %d", memory)
		return nil
	}
	return append([]byte(nil), data[:d.buffers[buffer].Size]...)
}

func (d *Device) copyBuffer(src, dst vulkan.Buffer, size int) {
	data := d.bufferBytes(src)
	if data == nil {
		return
	}
	memory, ok := d.bindings[dst]
	if !ok {
		d.abuse("QueueSubmit: copy to unbound buffer %d", dst)
		return
	}
	target, ok := d.memory[memory]
	if !ok || size > len(data) || size > len(target) {
		d.abuse("QueueSubmit: bad buffer copy of %d bytes into %d", size, dst)
		return
	}
	copy(target, data[:size])
}

func (d *Device) QueueWaitIdle() (common.VkResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.enter("QueueWaitIdle") {
		return failed()
	}
	d.waitIdles++
	return core1_0.VKSuccess, nil
}

// Calls returns every method invoked so far, in order.
func (d *Device) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// CallCount reports how many times call was invoked.
func (d *Device) CallCount(call string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[call]
}

// Commands returns what was recorded into buffer since its last begin.
func (d *Device) Commands(buffer vulkan.CommandBuffer) []Command {
	d.mu.Lock()
	defer d.mu.Unlock()

	cb, ok := d.cmds[buffer]
	if !ok {
		return nil
	}
	return append([]Command(nil), cb.commands...)
}

func (d *Device) Submitted() []vulkan.CommandBuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]vulkan.CommandBuffer(nil), d.submitted...)
}

func (d *Device) WaitIdleCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waitIdles
}

func (d *Device) Image(image vulkan.Image) (vulkan.ImageCreateInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.images[image]
	return info, ok
}

func (d *Device) View(view vulkan.ImageView) (vulkan.ImageViewCreateInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.views[view]
	return info, ok
}

func (d *Device) SamplerInfo(sampler vulkan.Sampler) (vulkan.SamplerCreateInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.samplers[sampler]
	return info, ok
}

// LastCopied returns the staging bytes seen by the most recent submitted copy.
func (d *Device) LastCopied() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.lastCopied...)
}

// BufferContents returns the bytes currently held by the memory bound to
// buffer.
func (d *Device) BufferContents(buffer vulkan.Buffer) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	memory, ok := d.bindings[buffer]
	if !ok {
		return nil
	}
	data, ok := d.memory[memory]
	if !ok {
		return nil
	}
	return append([]byte(nil), data[:d.buffers[buffer].Size]...)
}

// Live reports how many objects of each kind are still alive.
func (d *Device) Live() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return map[string]int{
		"buffer":        len(d.buffers),
		"image":         len(d.images),
		"view":          len(d.views),
		"sampler":       len(d.samplers),
		"memory":        len(d.memory),
		"pool":          len(d.pools),
		"commandBuffer": len(d.cmds),
	}
}

// LiveObjects sums Live over every kind except command pools and buffers.
func (d *Device) LiveObjects() int {
	live := d.Live()
	return live["buffer"] + live["image"] + live["view"] + live["sampler"] + live["memory"]
}

// Err reports API misuse observed so far: double frees, unknown handles,
// recording outside begin/end.
func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.misuse) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(d.misuse))
	for _, e := range d.misuse {
		msgs = append(msgs, e.Error())
	}
	return errors.Newf("%s", strings.Join(msgs, "; "))
}

func (k CommandKind) String() string {
	switch k {
	case CommandBarrier:
		return "barrier"
	case CommandCopy:
		return "copy"
	case CommandBlit:
		return "blit"
	case CommandBufferBarrier:
		return "buffer barrier"
	case CommandBufferCopy:
		return "buffer copy"
	}
	return fmt.Sprintf("CommandKind(%d)", int(k))
}
