package vulkan

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/rotatingmesh/internal/leaks"
)

// Renderer bundles the externally owned device and queue with the diagnostics
// every resource owner needs. It never creates or destroys the device.
type Renderer struct {
	device           Device
	queueFamilyIndex int
	tracker          leaks.Tracker
	logger           *slog.Logger
}

type RendererOption func(*Renderer)

// WithTracker overrides leaks.Default as the handle lifetime tracker.
func WithTracker(t leaks.Tracker) RendererOption {
	return func(r *Renderer) { r.tracker = t }
}

func WithLogger(l *slog.Logger) RendererOption {
	return func(r *Renderer) { r.logger = l }
}

func NewRenderer(device Device, queueFamilyIndex int, opts ...RendererOption) *Renderer {
	r := &Renderer{
		device:           device,
		queueFamilyIndex: queueFamilyIndex,
		tracker:          leaks.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tracker == nil {
		r.tracker = leaks.Nop{}
	}
	if r.logger == nil {
		r.logger = slog.New(discardHandler{})
	}
	return r
}

func (r *Renderer) Device() Device         { return r.device }
func (r *Renderer) QueueFamilyIndex() int  { return r.queueFamilyIndex }
func (r *Renderer) Tracker() leaks.Tracker { return r.tracker }
func (r *Renderer) Logger() *slog.Logger   { return r.logger }

// CheckResult turns a native call outcome into an error carrying where and
// message, logging it once. It returns nil on success.
func (r *Renderer) CheckResult(result common.VkResult, err error, where, message string) error {
	if err == nil && result >= core1_0.VKSuccess {
		return nil
	}
	if err == nil {
		err = errors.Newf("native call returned %v", result)
	}

	r.logger.Error(message, "where", where, "result", result, "err", err)
	return errors.Wrapf(err, "%s: %s", where, message)
}

// FindMemoryType returns the first memory type allowed by typeBits that has
// every flag in properties.
func (r *Renderer) FindMemoryType(typeBits uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	for i, memoryType := range r.device.MemoryTypes() {
		typeBit := uint32(1) << uint(i)

		if typeBits&typeBit != 0 && memoryType.PropertyFlags&properties == properties {
			return i, nil
		}
	}

	return 0, errors.Newf("could not find a memory type matching type request %x with flags %v", typeBits, properties)
}

// TryAllocateMemory allocates memory satisfying requirements and properties,
// and registers it with the tracker under where.
func (r *Renderer) TryAllocateMemory(requirements MemoryRequirements, properties core1_0.MemoryPropertyFlags, where, message string) (DeviceMemory, error) {
	index, err := r.FindMemoryType(requirements.MemoryTypeBits, properties)
	if err != nil {
		r.logger.Error(message, "where", where, "err", err)
		return NullHandle, errors.Wrap(err, message)
	}

	memory, result, err := r.device.AllocateMemory(requirements.Size, index)
	if err := r.CheckResult(result, err, where, message); err != nil {
		return NullHandle, err
	}

	r.tracker.Register(leaks.DeviceMemory, where)
	return memory, nil
}

// FreeMemory releases memory allocated by TryAllocateMemory under where.
func (r *Renderer) FreeMemory(memory DeviceMemory, where string) {
	if memory == NullHandle {
		return
	}
	r.device.FreeMemory(memory)
	r.tracker.Unregister(leaks.DeviceMemory, where)
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }
