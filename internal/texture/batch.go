package texture

import (
	"io/fs"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v3/core1_0"

	"github.com/vkngwrapper/rotatingmesh/internal/vulkan"
)

type batchItem struct {
	texture      *Texture2D
	data         []byte
	resolution   vulkan.Extent2D
	format       core1_0.Format
	generateMips bool
	fromFile     bool
}

// Batch uploads several textures with one command buffer each and a single
// wait for the queue to drain.
type Batch struct {
	renderer *vulkan.Renderer
	pool     vulkan.CommandPool
	options  Options
	id       uuid.UUID
	items    []batchItem
}

// Timing is how long one texture of a batch took to decode and record.
type Timing struct {
	Texture *Texture2D
	Elapsed time.Duration
}

// Report summarises a finished Batch.
type Report struct {
	ID      uuid.UUID
	Timings []Timing
	Wait    time.Duration
	Total   time.Duration
}

// NewBatch returns an empty batch whose command buffers come from pool.
func NewBatch(r *vulkan.Renderer, pool vulkan.CommandPool, opts Options) *Batch {
	return &Batch{
		renderer: r,
		pool:     pool,
		options:  opts,
		id:       uuid.New(),
	}
}

func (b *Batch) ID() uuid.UUID { return b.id }
func (b *Batch) Len() int      { return len(b.items) }

// Add queues t to be loaded from its own file name and format.
func (b *Batch) Add(t *Texture2D, generateMips bool) {
	b.items = append(b.items, batchItem{
		texture:      t,
		format:       t.format,
		generateMips: generateMips,
		fromFile:     true,
	})
}

// AddData queues raw texels for t.
func (b *Batch) AddData(t *Texture2D, data []byte, resolution vulkan.Extent2D, format core1_0.Format, generateMips bool) {
	b.items = append(b.items, batchItem{
		texture:      t,
		data:         data,
		resolution:   resolution,
		format:       format,
		generateMips: generateMips,
	})
}

// Load uploads every queued texture, waits for the queue to go idle and then
// releases all staging buffers and command buffers. If any upload fails every
// texture in the batch is freed.
func (b *Batch) Load(fsys fs.FS) (Report, error) {
	const where = "Batch.Load"
	r := b.renderer
	device := r.Device()
	logger := Logger().With("batch", b.id.String())

	report := Report{ID: b.id}
	if len(b.items) == 0 {
		return report, nil
	}
	start := hrtime.Now()

	buffers, result, err := device.AllocateCommandBuffers(b.pool, len(b.items))
	if err := r.CheckResult(result, err, where, "can't allocate command buffers"); err != nil {
		return report, err
	}
	defer device.FreeCommandBuffers(b.pool, buffers)

	var uploadErr error
	for i, item := range b.items {
		itemStart := hrtime.Now()

		if item.fromFile {
			uploadErr = item.texture.Upload(r, fsys, item.generateMips, buffers[i], b.options)
		} else {
			uploadErr = item.texture.UploadData(r, item.data, item.resolution, item.format, item.generateMips, buffers[i])
		}
		if uploadErr != nil {
			uploadErr = errors.Wrapf(uploadErr, "texture %d of %d", i+1, len(b.items))
			break
		}

		elapsed := hrtime.Since(itemStart)
		report.Timings = append(report.Timings, Timing{Texture: item.texture, Elapsed: elapsed})
		logger.Debug("texture: upload submitted",
			"file", item.texture.fileName,
			"resolution", item.texture.resolution.String(),
			"mips", item.texture.mipLevels,
			"elapsed", elapsed)
	}

	// Staging buffers of submitted uploads stay in use until the queue drains,
	// whether or not the batch finished.
	waitStart := hrtime.Now()
	result, err = device.QueueWaitIdle()
	report.Wait = hrtime.Since(waitStart)
	waitErr := r.CheckResult(result, err, where, "can't wait for queue idle")

	for _, item := range b.items {
		if uploadErr != nil || waitErr != nil {
			item.texture.FreeResources(r)
		} else {
			item.texture.FreeTransferResources(r)
		}
	}

	report.Total = hrtime.Since(start)
	if err := errors.CombineErrors(uploadErr, waitErr); err != nil {
		logger.Error("texture: batch failed", "err", err)
		return report, err
	}

	logger.Info("texture: batch loaded",
		"textures", len(b.items),
		"wait", report.Wait,
		"elapsed", report.Total)
	return report, nil
}
