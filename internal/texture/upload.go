package texture

import (
	"io/fs"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/rotatingmesh/internal/leaks"
	"github.com/vkngwrapper/rotatingmesh/internal/vulkan"
)

// Options tunes decoding.
type Options struct {
	// Workers is the number of goroutines used to widen RGB images.
	// Values below 1 select DefaultWorkers.
	Workers int
}

func (o Options) workers() int {
	if o.Workers < 1 {
		return DefaultWorkers
	}
	return o.Workers
}

// Upload fills the texture from the file it was created with.
func (t *Texture2D) Upload(r *vulkan.Renderer, fsys fs.FS, generateMips bool, cb vulkan.CommandBuffer, opts Options) error {
	return t.UploadFile(r, fsys, t.fileName, t.format, generateMips, cb, opts)
}

// UploadFile decodes name from fsys and records its upload into cb, which
// must be allocated but not recording. The buffer is submitted before
// UploadFile returns; call FreeTransferResources after the queue is idle.
//
// Any resources the texture already held are released first. On error the
// texture is left empty.
func (t *Texture2D) UploadFile(r *vulkan.Renderer, fsys fs.FS, name string, format core1_0.Format, generateMips bool, cb vulkan.CommandBuffer, opts Options) error {
	t.FreeResources(r)
	t.fileName = name
	t.format = format

	pixels, err := LoadImage(fsys, name, opts.workers())
	if err != nil {
		return err
	}

	decoded, err := PickFormat(pixels.Channels)
	if err != nil {
		return errors.Wrapf(err, "%s", name)
	}
	if !IsCompatible(format, decoded) {
		Logger().Error("texture: incompatible format",
			"file", name,
			"requested", format,
			"decoded", decoded)
		return errors.Wrapf(ErrIncompatibleFormat, "%s: requested %v, decoded %v", name, format, decoded)
	}

	return t.upload(r, pixels.Data, pixels.Extent(), generateMips, cb)
}

// UploadData records the upload of raw, tightly packed texels of format into
// cb. See UploadFile for the command buffer and lifetime rules.
func (t *Texture2D) UploadData(r *vulkan.Renderer, data []byte, resolution vulkan.Extent2D, format core1_0.Format, generateMips bool, cb vulkan.CommandBuffer) error {
	t.FreeResources(r)
	t.fileName = ""
	t.format = format

	texel, err := BytesPerPixel(format)
	if err != nil {
		return err
	}
	if resolution.Width > 0 && resolution.Height > 0 && len(data) != resolution.Width*resolution.Height*texel {
		return errors.Wrapf(ErrDataSize, "%v texels of %d bytes need %d bytes, got %d",
			resolution, texel, resolution.Width*resolution.Height*texel, len(data))
	}

	return t.upload(r, data, resolution, generateMips, cb)
}

func (t *Texture2D) upload(r *vulkan.Renderer, data []byte, resolution vulkan.Extent2D, generateMips bool, cb vulkan.CommandBuffer) (err error) {
	if resolution.Width <= 0 || resolution.Height <= 0 {
		return errors.Wrapf(ErrZeroExtent, "resolution %v", resolution)
	}

	t.resolution = resolution
	t.generateMips = generateMips

	mipLevels := 1
	if generateMips {
		mipLevels = CountMipLevels(resolution)
	}

	defer func() {
		if err != nil {
			t.fail(r, err)
		}
	}()

	if err := t.allocateStaging(r, data); err != nil {
		return err
	}
	if err := t.allocateImage(r, mipLevels); err != nil {
		return err
	}
	if err := t.record(r, cb, mipLevels); err != nil {
		return err
	}
	if err := t.submit(r, cb); err != nil {
		return err
	}

	t.mipLevels = mipLevels
	return nil
}

func (t *Texture2D) allocateStaging(r *vulkan.Renderer, data []byte) error {
	const where = "Texture2D.UploadData"
	device := r.Device()

	staging, result, err := device.CreateBuffer(vulkan.BufferCreateInfo{
		Size:  len(data),
		Usage: core1_0.BufferUsageTransferSrc,
	})
	if err := r.CheckResult(result, err, where, "can't create transfer buffer"); err != nil {
		return err
	}
	t.staging = staging
	r.Tracker().Register(leaks.Buffer, stagingID)

	memory, err := r.TryAllocateMemory(device.BufferMemoryRequirements(staging),
		core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent,
		stagingMemoryID, "can't allocate transfer device memory")
	if err != nil {
		return err
	}
	t.stagingMemory = memory

	result, err = device.BindBufferMemory(staging, memory)
	if err := r.CheckResult(result, err, where, "can't bind transfer device memory"); err != nil {
		return err
	}

	mapped, result, err := device.MapMemory(memory, 0, len(data))
	if err := r.CheckResult(result, err, where, "can't map transfer device memory"); err != nil {
		return err
	}
	copy(mapped, data)
	device.UnmapMemory(memory)

	t.state = StateStagingAllocated
	return nil
}

func (t *Texture2D) allocateImage(r *vulkan.Renderer, mipLevels int) error {
	const where = "Texture2D.UploadData"
	device := r.Device()

	usage := core1_0.ImageUsageSampled | core1_0.ImageUsageTransferDst
	if t.generateMips {
		if device.FormatFeatures(t.format)&core1_0.FormatFeatureSampledImageFilterLinear == 0 {
			r.Logger().Error("texture image format does not support linear blitting", "where", where, "format", t.format)
			return errors.Wrapf(ErrNoLinearBlit, "%s: format %v", where, t.format)
		}
		usage |= core1_0.ImageUsageTransferSrc
	}

	image, result, err := device.CreateImage(vulkan.ImageCreateInfo{
		Format:    t.format,
		Extent:    t.resolution,
		MipLevels: mipLevels,
		Usage:     usage,
	})
	if err := r.CheckResult(result, err, where, "can't create image"); err != nil {
		return err
	}
	t.image = image
	r.Tracker().Register(leaks.Image, imageID)

	memory, err := r.TryAllocateMemory(device.ImageMemoryRequirements(image),
		core1_0.MemoryPropertyDeviceLocal, imageMemoryID, "can't allocate image device memory")
	if err != nil {
		return err
	}
	t.imageMemory = memory

	result, err = device.BindImageMemory(image, memory)
	if err := r.CheckResult(result, err, where, "can't bind image device memory"); err != nil {
		return err
	}

	view, result, err := device.CreateImageView(vulkan.ImageViewCreateInfo{
		Image:      image,
		Format:     t.format,
		LevelCount: mipLevels,
	})
	if err := r.CheckResult(result, err, where, "can't create image view"); err != nil {
		return err
	}
	t.imageView = view
	r.Tracker().Register(leaks.ImageView, imageViewID)

	t.state = StateDeviceImageAllocated
	return nil
}

func (t *Texture2D) record(r *vulkan.Renderer, cb vulkan.CommandBuffer, mipLevels int) error {
	const where = "Texture2D.UploadData"
	device := r.Device()

	result, err := device.BeginCommandBuffer(cb, core1_0.CommandBufferUsageOneTimeSubmit)
	if err := r.CheckResult(result, err, where, "can't begin command buffer"); err != nil {
		return err
	}
	t.state = StateRecording

	for _, cmd := range planCommands(t.resolution, mipLevels, t.generateMips) {
		var err error
		switch cmd.kind {
		case commandBarrier:
			b := cmd.barrier
			b.Image = t.image
			err = device.CmdPipelineBarrier(cb, cmd.srcStage, cmd.dstStage, []vulkan.ImageBarrier{b})
		case commandCopy:
			err = device.CmdCopyBufferToImage(cb, t.staging, t.image, core1_0.ImageLayoutTransferDstOptimal, cmd.copy)
		case commandBlit:
			err = device.CmdBlitImage(cb,
				t.image, core1_0.ImageLayoutTransferSrcOptimal,
				t.image, core1_0.ImageLayoutTransferDstOptimal,
				cmd.blit, core1_0.FilterLinear)
		}
		if err := r.CheckResult(core1_0.VKSuccess, err, where, "can't record upload commands"); err != nil {
			return err
		}
	}

	result, err = device.EndCommandBuffer(cb)
	return r.CheckResult(result, err, where, "can't end command buffer")
}

func (t *Texture2D) submit(r *vulkan.Renderer, cb vulkan.CommandBuffer) error {
	result, err := r.Device().QueueSubmit(cb)
	if err := r.CheckResult(result, err, "Texture2D.UploadData", "can't submit upload commands"); err != nil {
		return err
	}
	t.state = StateSubmitted
	return nil
}

// fail tears down everything the current attempt allocated.
func (t *Texture2D) fail(r *vulkan.Renderer, cause error) {
	failedIn := t.state
	t.state = StateFailed
	r.Logger().Warn("texture upload failed, releasing resources",
		"file", t.fileName,
		"state", failedIn,
		"err", cause)
	t.FreeResources(r)
}
