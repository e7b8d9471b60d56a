// Package buffer holds device-local buffers that are refreshed from the host
// through a persistent staging buffer.
package buffer

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/rotatingmesh/internal/leaks"
	"github.com/vkngwrapper/rotatingmesh/internal/vulkan"
)

var (
	ErrNotInitialized = errors.New("uniform buffer is not initialized")
	ErrEmptyData      = errors.New("uniform data is empty")
	ErrSizeMismatch   = errors.New("uniform data size differs from the buffer size")
)

const (
	bufferID         = "UniformBuffer.buffer"
	bufferMemoryID   = "UniformBuffer.bufferMemory"
	transferID       = "UniformBuffer.transfer"
	transferMemoryID = "UniformBuffer.transferMemory"
)

// UniformBuffer is a device-local uniform buffer plus the host visible
// buffer it is copied from. The copy is recorded once into a reusable
// command buffer and resubmitted on every Update.
type UniformBuffer struct {
	size int

	buffer         vulkan.Buffer
	bufferMemory   vulkan.DeviceMemory
	transfer       vulkan.Buffer
	transferMemory vulkan.DeviceMemory

	commandBuffer vulkan.CommandBuffer
	pool          vulkan.CommandPool
	renderer      *vulkan.Renderer
	targetStages  core1_0.PipelineStageFlags
}

// Init allocates the command buffer the copy is recorded into. targetStages
// are the stages that read the uniform data. Calling Init again before
// FreeResources does nothing.
func (u *UniformBuffer) Init(r *vulkan.Renderer, pool vulkan.CommandPool, targetStages core1_0.PipelineStageFlags) error {
	if u.renderer != nil {
		return nil
	}

	buffers, result, err := r.Device().AllocateCommandBuffers(pool, 1)
	if err := r.CheckResult(result, err, "UniformBuffer.Init", "can't allocate command buffer"); err != nil {
		return err
	}

	u.renderer = r
	u.pool = pool
	u.targetStages = targetStages
	u.commandBuffer = buffers[0]
	return nil
}

// Update copies data into the transfer buffer and submits the upload. The
// first call fixes the buffer size; later calls must pass the same number of
// bytes. The previous upload must have completed before Update is called
// again.
func (u *UniformBuffer) Update(data []byte) error {
	const where = "UniformBuffer.Update"

	if u.renderer == nil {
		return ErrNotInitialized
	}
	if len(data) == 0 {
		return ErrEmptyData
	}
	if u.size == 0 {
		if err := u.initResources(len(data)); err != nil {
			return err
		}
	}
	if len(data) != u.size {
		return errors.Wrapf(ErrSizeMismatch, "buffer holds %d bytes, got %d", u.size, len(data))
	}

	r := u.renderer
	device := r.Device()

	mapped, result, err := device.MapMemory(u.transferMemory, 0, len(data))
	if err := r.CheckResult(result, err, where, "can't map transfer memory"); err != nil {
		return err
	}
	copy(mapped, data)
	device.UnmapMemory(u.transferMemory)

	result, err = device.QueueSubmit(u.commandBuffer)
	return r.CheckResult(result, err, where, "can't submit upload command")
}

func (u *UniformBuffer) initResources(size int) (err error) {
	const where = "UniformBuffer.InitResources"
	r := u.renderer
	device := r.Device()

	defer func() {
		if err != nil {
			u.freeBuffers()
		}
	}()

	buffer, result, err := device.CreateBuffer(vulkan.BufferCreateInfo{
		Size:  size,
		Usage: core1_0.BufferUsageTransferDst | core1_0.BufferUsageUniformBuffer,
	})
	if err := r.CheckResult(result, err, where, "can't create buffer"); err != nil {
		return err
	}
	u.buffer = buffer
	r.Tracker().Register(leaks.Buffer, bufferID)

	memory, err := r.TryAllocateMemory(device.BufferMemoryRequirements(buffer),
		core1_0.MemoryPropertyDeviceLocal, bufferMemoryID, "can't allocate buffer memory")
	if err != nil {
		return err
	}
	u.bufferMemory = memory

	result, err = device.BindBufferMemory(buffer, memory)
	if err := r.CheckResult(result, err, where, "can't bind buffer memory"); err != nil {
		return err
	}

	transfer, result, err := device.CreateBuffer(vulkan.BufferCreateInfo{
		Size:  size,
		Usage: core1_0.BufferUsageTransferSrc,
	})
	if err := r.CheckResult(result, err, where, "can't create transfer buffer"); err != nil {
		return err
	}
	u.transfer = transfer
	r.Tracker().Register(leaks.Buffer, transferID)

	memory, err = r.TryAllocateMemory(device.BufferMemoryRequirements(transfer),
		core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent,
		transferMemoryID, "can't allocate transfer memory")
	if err != nil {
		return err
	}
	u.transferMemory = memory

	result, err = device.BindBufferMemory(transfer, memory)
	if err := r.CheckResult(result, err, where, "can't bind transfer memory"); err != nil {
		return err
	}

	if err := u.record(size); err != nil {
		return err
	}

	u.size = size
	return nil
}

// record fills the command buffer with the transfer to buffer copy, fenced
// by barriers against the previous read and the next one.
func (u *UniformBuffer) record(size int) error {
	const where = "UniformBuffer.InitResources"
	r := u.renderer
	device := r.Device()
	cb := u.commandBuffer

	result, err := device.BeginCommandBuffer(cb, 0)
	if err := r.CheckResult(result, err, where, "can't begin command buffer"); err != nil {
		return err
	}

	barrier := vulkan.BufferBarrier{
		Buffer:        u.buffer,
		SrcAccessMask: 0,
		DstAccessMask: core1_0.AccessTransferWrite,
		Size:          size,
	}
	err = device.CmdPipelineBufferBarrier(cb, core1_0.PipelineStageTopOfPipe, core1_0.PipelineStageTransfer, []vulkan.BufferBarrier{barrier})
	if err != nil {
		return errors.Wrapf(err, "%s: can't record transfer barrier", where)
	}

	if err := device.CmdCopyBuffer(cb, u.transfer, u.buffer, size); err != nil {
		return errors.Wrapf(err, "%s: can't record buffer copy", where)
	}

	barrier.SrcAccessMask = core1_0.AccessTransferWrite
	barrier.DstAccessMask = core1_0.AccessUniformRead
	err = device.CmdPipelineBufferBarrier(cb, core1_0.PipelineStageTransfer, u.targetStages, []vulkan.BufferBarrier{barrier})
	if err != nil {
		return errors.Wrapf(err, "%s: can't record uniform read barrier", where)
	}

	result, err = device.EndCommandBuffer(cb)
	return r.CheckResult(result, err, where, "can't end command buffer")
}

func (u *UniformBuffer) freeBuffers() {
	r := u.renderer

	if u.transferMemory != vulkan.NullHandle {
		r.FreeMemory(u.transferMemory, transferMemoryID)
		u.transferMemory = vulkan.NullHandle
	}
	if u.transfer != vulkan.NullHandle {
		r.Device().DestroyBuffer(u.transfer)
		r.Tracker().Unregister(leaks.Buffer, transferID)
		u.transfer = vulkan.NullHandle
	}
	if u.bufferMemory != vulkan.NullHandle {
		r.FreeMemory(u.bufferMemory, bufferMemoryID)
		u.bufferMemory = vulkan.NullHandle
	}
	if u.buffer != vulkan.NullHandle {
		r.Device().DestroyBuffer(u.buffer)
		r.Tracker().Unregister(leaks.Buffer, bufferID)
		u.buffer = vulkan.NullHandle
	}

	u.size = 0
}

// FreeResources releases every handle, including the command buffer, and
// returns the buffer to its zero state. Safe to call at any time and more
// than once.
func (u *UniformBuffer) FreeResources() {
	if u.renderer == nil {
		return
	}

	u.freeBuffers()
	if u.commandBuffer != vulkan.NullHandle {
		u.renderer.Device().FreeCommandBuffers(u.pool, []vulkan.CommandBuffer{u.commandBuffer})
		u.commandBuffer = vulkan.NullHandle
	}

	*u = UniformBuffer{}
}

// Buffer is the device-local uniform buffer, or NullHandle before the first
// Update.
func (u *UniformBuffer) Buffer() vulkan.Buffer { return u.buffer }

// Size is the byte size fixed by the first Update.
func (u *UniformBuffer) Size() int { return u.size }
