// Package command records the per-image command buffers replayed by the frame
// loop.
package command

import (
	"log/slog"

	"github.com/pkg/errors"
	"github.com/vulkan-go/vulkan"

	"vkframe/src/render/gpu"
)

// Scene is what gets baked into every command buffer.
type Scene struct {
	Pass         gpu.RenderPass
	Pipeline     gpu.Pipeline
	Framebuffers []gpu.Framebuffer
	Extent       vulkan.Extent2D
	Draws        []gpu.Draw
}

// ImageGuard blocks until the last submission that used an image completed.
type ImageGuard interface {
	WaitImage(image int) error
}

// Recorder owns a command pool and one command buffer per swapchain image.
// Buffers are recorded once and replayed on every acquisition of their image.
type Recorder struct {
	dev   gpu.Device
	clear [4]float32
	log   *slog.Logger

	pool    gpu.CommandPool
	buffers []gpu.CommandBuffer
}

func NewRecorder(dev gpu.Device, clear [4]float32, log *slog.Logger) (*Recorder, error) {
	pool, ret := dev.CreateCommandPool()
	if err := gpu.NewError(gpu.ErrResourceCreation, "create command pool", ret); err != nil {
		return nil, err
	}
	return &Recorder{
		dev:   dev,
		clear: clear,
		log:   log,
		pool:  pool,
	}, nil
}

func (r *Recorder) Len() int {
	return len(r.buffers)
}

// Buffer returns the command buffer of image i.
func (r *Recorder) Buffer(i int) gpu.CommandBuffer {
	return r.buffers[i]
}

// RecordAll records one command buffer per framebuffer, allocating buffers
// when their count changes. None of the buffers may be pending.
func (r *Recorder) RecordAll(scene Scene) error {
	if len(r.buffers) != len(scene.Framebuffers) {
		r.Free()
		buffers, ret := r.dev.AllocateCommandBuffers(r.pool, len(scene.Framebuffers))
		if err := gpu.NewError(gpu.ErrResourceCreation, "allocate command buffers", ret); err != nil {
			return err
		}
		r.buffers = buffers
	}
	for i := range r.buffers {
		if err := r.record(i, scene); err != nil {
			return err
		}
	}
	r.log.Debug("command buffers recorded", "count", len(r.buffers), "draws", len(scene.Draws))
	return nil
}

// Record re-records the command buffer of image i once guard reports that
// its last submission completed.
func (r *Recorder) Record(i int, scene Scene, guard ImageGuard) error {
	if i < 0 || i >= len(r.buffers) || i >= len(scene.Framebuffers) {
		return gpu.Errorf(gpu.ErrResourceCreation, "no command buffer for image %d", i)
	}
	if err := guard.WaitImage(i); err != nil {
		return errors.Wrapf(err, "wait image %d", i)
	}
	return r.record(i, scene)
}

func (r *Recorder) record(i int, scene Scene) error {
	cb := r.buffers[i]
	flags := vulkan.CommandBufferUsageFlags(vulkan.CommandBufferUsageSimultaneousUseBit)
	if err := gpu.NewError(gpu.ErrResourceCreation, "begin command buffer", r.dev.BeginCommandBuffer(cb, flags)); err != nil {
		return errors.Wrapf(err, "image %d", i)
	}
	r.dev.CmdBeginRenderPass(cb, scene.Pass, scene.Framebuffers[i], scene.Extent, r.clear)
	r.dev.CmdBindPipeline(cb, scene.Pipeline)
	for _, draw := range scene.Draws {
		r.dev.CmdDraw(cb, draw)
	}
	r.dev.CmdEndRenderPass(cb)
	if err := gpu.NewError(gpu.ErrResourceCreation, "end command buffer", r.dev.EndCommandBuffer(cb)); err != nil {
		return errors.Wrapf(err, "image %d", i)
	}
	return nil
}

// Free returns the command buffers to the pool.
func (r *Recorder) Free() {
	if len(r.buffers) == 0 {
		return
	}
	r.dev.FreeCommandBuffers(r.pool, r.buffers)
	r.buffers = nil
}

// Destroy destroys the pool and the buffers allocated from it.
func (r *Recorder) Destroy() {
	if r.pool == 0 {
		return
	}
	r.dev.DestroyCommandPool(r.pool)
	r.pool = 0
	r.buffers = nil
}
