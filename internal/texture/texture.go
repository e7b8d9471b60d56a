package texture

import (
	"fmt"

	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/rotatingmesh/internal/leaks"
	"github.com/vkngwrapper/rotatingmesh/internal/vulkan"
)

type UploadState int

const (
	StateEmpty UploadState = iota
	StateStagingAllocated
	StateDeviceImageAllocated
	StateRecording
	StateSubmitted
	StateReady
	StateFailed
)

var stateNames = [...]string{
	StateEmpty:                "empty",
	StateStagingAllocated:     "staging allocated",
	StateDeviceImageAllocated: "device image allocated",
	StateRecording:            "recording",
	StateSubmitted:            "submitted",
	StateReady:                "ready",
	StateFailed:               "failed",
}

func (s UploadState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("UploadState(%d)", int(s))
	}
	return stateNames[s]
}

// Identifiers under which a texture's handles are tracked.
const (
	stagingID       = "Texture2D.staging"
	stagingMemoryID = "Texture2D.stagingMemory"
	imageID         = "Texture2D.image"
	imageMemoryID   = "Texture2D.imageMemory"
	imageViewID     = "Texture2D.imageView"
)

// Texture2D owns a sampled device image, its memory and view, and the
// staging buffer used to fill it. The zero value is an empty texture.
//
// A Texture2D is not safe for concurrent use.
type Texture2D struct {
	fileName     string
	format       core1_0.Format
	resolution   vulkan.Extent2D
	mipLevels    int
	generateMips bool
	state        UploadState

	image       vulkan.Image
	imageMemory vulkan.DeviceMemory
	imageView   vulkan.ImageView

	staging       vulkan.Buffer
	stagingMemory vulkan.DeviceMemory
}

// NewTexture2D returns an empty texture that Upload will fill from fileName.
func NewTexture2D(fileName string, format core1_0.Format) *Texture2D {
	return &Texture2D{fileName: fileName, format: format}
}

func (t *Texture2D) FileName() string                   { return t.fileName }
func (t *Texture2D) Format() core1_0.Format             { return t.format }
func (t *Texture2D) Resolution() vulkan.Extent2D        { return t.resolution }
func (t *Texture2D) MipLevelCount() int                 { return t.mipLevels }
func (t *Texture2D) GeneratesMips() bool                { return t.generateMips }
func (t *Texture2D) State() UploadState                 { return t.state }
func (t *Texture2D) Image() vulkan.Image                { return t.image }
func (t *Texture2D) ImageView() vulkan.ImageView        { return t.imageView }
func (t *Texture2D) StagingBuffer() vulkan.Buffer       { return t.staging }
func (t *Texture2D) StagingMemory() vulkan.DeviceMemory { return t.stagingMemory }

// FreeTransferResources releases the staging buffer and its memory. Call it
// once the queue the upload was submitted to has gone idle. Safe to call at
// any time and more than once.
func (t *Texture2D) FreeTransferResources(r *vulkan.Renderer) {
	if t.stagingMemory != vulkan.NullHandle {
		r.FreeMemory(t.stagingMemory, stagingMemoryID)
		t.stagingMemory = vulkan.NullHandle
	}
	if t.staging != vulkan.NullHandle {
		r.Device().DestroyBuffer(t.staging)
		r.Tracker().Unregister(leaks.Buffer, stagingID)
		t.staging = vulkan.NullHandle
	}

	if t.state == StateSubmitted {
		t.state = StateReady
	}
}

// FreeResources releases every handle the texture owns, in reverse creation
// order, and returns it to the empty state. Safe to call at any time and
// more than once.
func (t *Texture2D) FreeResources(r *vulkan.Renderer) {
	if t.imageView != vulkan.NullHandle {
		r.Device().DestroyImageView(t.imageView)
		r.Tracker().Unregister(leaks.ImageView, imageViewID)
		t.imageView = vulkan.NullHandle
	}
	if t.imageMemory != vulkan.NullHandle {
		r.FreeMemory(t.imageMemory, imageMemoryID)
		t.imageMemory = vulkan.NullHandle
	}
	if t.image != vulkan.NullHandle {
		r.Device().DestroyImage(t.image)
		r.Tracker().Unregister(leaks.Image, imageID)
		t.image = vulkan.NullHandle
	}

	t.FreeTransferResources(r)

	t.mipLevels = 0
	t.state = StateEmpty
}
