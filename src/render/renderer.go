// Package render drives the frame loop: it owns the swapchain, the per-image
// command buffers and the frame synchronizer, rebuilds them when the surface
// changes and tears everything down in order.
package render

import (
	"log/slog"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/vulkan-go/vulkan"

	"vkframe/src/render/command"
	"vkframe/src/render/frame"
	"vkframe/src/render/gpu"
	"vkframe/src/render/swapchain"
)

type Option func(*Renderer)

// WithLogger overrides the package logger for one renderer.
func WithLogger(l *slog.Logger) Option {
	return func(r *Renderer) {
		if l != nil {
			r.log = l
		}
	}
}

// WithObserver registers o for device diagnostics at Init, when the device
// implements gpu.Observable. Without it, Config.Debug registers LogObserver.
func WithObserver(o gpu.Observer) Option {
	return func(r *Renderer) {
		r.observer = o
	}
}

// Renderer is not safe for concurrent use, except for Resize.
type Renderer struct {
	dev      gpu.Device
	pipes    gpu.PipelineProvider
	win      swapchain.FramebufferSizer
	cfg      Config
	log      *slog.Logger
	observer gpu.Observer

	swapchain *swapchain.Manager
	recorder  *command.Recorder
	sync      *frame.Synchronizer

	pass           gpu.RenderPass
	pipeline       gpu.Pipeline
	layout         gpu.PipelineLayout
	pipelineFormat vulkan.Format
	pipelineExtent vulkan.Extent2D
	draws          []gpu.Draw

	resized   atomic.Bool
	stale     bool
	suspended bool
	prepared  bool
	ready     bool
	closed    bool

	onPrepare    func() error
	onCleanup    func() error
	onInvalidate func(imageIndex int) error
}

// New returns a renderer drawing with dev and pipes into the surface of win.
// It takes ownership of dev: Shutdown destroys it.
func New(dev gpu.Device, pipes gpu.PipelineProvider, win swapchain.FramebufferSizer, cfg Config, opts ...Option) *Renderer {
	r := &Renderer{
		dev:   dev,
		pipes: pipes,
		win:   win,
		cfg:   cfg,
		log:   Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.observer == nil && cfg.Debug {
		r.observer = LogObserver(r.log.With("component", "device"))
	}
	return r
}

// Init builds the swapchain and everything derived from it. On failure the
// partially created resources are released; Shutdown still has to be called
// to release the device.
func (r *Renderer) Init() error {
	if r.closed {
		return &InitError{Stage: "start", Err: ErrClosed}
	}
	if r.ready {
		return nil
	}
	if err := r.cfg.Validate(); err != nil {
		return &InitError{Stage: "config", Err: err}
	}
	if o, ok := r.dev.(gpu.Observable); ok && r.observer != nil {
		o.SetObserver(r.observer)
	}

	stage, err := r.init()
	if err != nil {
		r.release()
		return &InitError{Stage: stage, Err: err}
	}
	r.ready = true
	r.log.Info("renderer ready",
		"frames_in_flight", r.cfg.FramesInFlight,
		"images", r.swapchain.ImageCount(),
		"width", r.swapchain.Extent().Width,
		"height", r.swapchain.Extent().Height)
	return nil
}

func (r *Renderer) init() (string, error) {
	r.swapchain = swapchain.New(r.dev, r.win, swapchain.Options{
		VSync:      r.cfg.VSync,
		ImageCount: r.cfg.ImageCount,
	}, r.log.With("component", "swapchain"))
	if err := r.swapchain.Build(); err != nil {
		return "swapchain", err
	}
	if err := r.createPipeline(true); err != nil {
		return "pipeline", err
	}
	if err := r.swapchain.CreateFramebuffers(r.pass); err != nil {
		return "framebuffers", err
	}

	recorder, err := command.NewRecorder(r.dev, r.cfg.ClearColor, r.log.With("component", "command"))
	if err != nil {
		return "command pool", err
	}
	r.recorder = recorder
	if err := r.recorder.RecordAll(r.scene()); err != nil {
		return "command buffers", err
	}

	sync, err := frame.New(r.dev, r.cfg.FramesInFlight, r.swapchain.ImageCount(), r.cfg.Timeout(), r.log.With("component", "frame"))
	if err != nil {
		return "sync objects", err
	}
	r.sync = sync

	if r.onPrepare != nil {
		if err := r.onPrepare(); err != nil {
			return "prepare", err
		}
	}
	r.prepared = true
	return "", nil
}

func (r *Renderer) scene() command.Scene {
	return command.Scene{
		Pass:         r.pass,
		Pipeline:     r.pipeline,
		Framebuffers: r.swapchain.Framebuffers(),
		Extent:       r.swapchain.Extent(),
		Draws:        r.draws,
	}
}

// createPipeline (re)creates the render pass when the swapchain format
// changed, or always with force, and the pipeline when the format or extent
// changed. Objects missing after an earlier failure are created again.
func (r *Renderer) createPipeline(force bool) error {
	format := r.swapchain.Format().Format
	extent := r.swapchain.Extent()
	formatChanged := force || r.pass == 0 || format != r.pipelineFormat
	sameExtent := extent.Width == r.pipelineExtent.Width && extent.Height == r.pipelineExtent.Height
	if !formatChanged && r.pipeline != 0 && sameExtent {
		return nil
	}

	r.destroyPipeline()
	if formatChanged {
		r.destroyRenderPass()
		pass, ret := r.pipes.CreateRenderPass(format)
		if err := gpu.NewError(gpu.ErrResourceCreation, "create render pass", ret); err != nil {
			return err
		}
		r.pass = pass
	}
	pipeline, layout, ret := r.pipes.CreatePipeline(r.pass, extent)
	if err := gpu.NewError(gpu.ErrResourceCreation, "create pipeline", ret); err != nil {
		return err
	}
	r.pipeline, r.layout = pipeline, layout
	r.pipelineFormat, r.pipelineExtent = format, extent
	return nil
}

func (r *Renderer) destroyPipeline() {
	if r.pipeline != 0 {
		r.pipes.DestroyPipeline(r.pipeline)
		r.pipeline = 0
	}
	if r.layout != 0 {
		r.pipes.DestroyPipelineLayout(r.layout)
		r.layout = 0
	}
}

func (r *Renderer) destroyRenderPass() {
	if r.pass != 0 {
		r.pipes.DestroyRenderPass(r.pass)
		r.pass = 0
	}
}

// Resize flags the swapchain for a rebuild before the next frame. It is safe
// to call from any goroutine, typically a window framebuffer-size callback.
func (r *Renderer) Resize() {
	r.resized.Store(true)
}

// DrawFrame renders one frame. A stale swapchain or rejected presentation is
// recovered by draining and rebuilding; only an unrecoverable failure or a
// failed rebuild is returned, as a *FrameError. While the window has no area
// frames are skipped.
func (r *Renderer) DrawFrame() error {
	if r.closed {
		return r.frameError(ErrClosed)
	}
	if !r.ready {
		return r.frameError(ErrNotInitialized)
	}

	if r.resized.Swap(false) || r.stale || r.suspended || r.recorder.Len() != r.swapchain.ImageCount() {
		if err := r.rebuild(); err != nil {
			return r.rebuildError(err)
		}
		if r.suspended {
			return nil
		}
	}

	sc := r.swapchain.Handle()
	f, err := r.sync.Acquire(sc)
	if err != nil {
		return r.recover(err)
	}
	if err := r.sync.Submit(f, r.recorder.Buffer(f.Image)); err != nil {
		return r.frameError(err)
	}
	if err := r.sync.Present(f, sc); err != nil {
		return r.recover(err)
	}
	if f.Suboptimal {
		return r.recover(errors.Wrap(gpu.Errorf(gpu.ErrStaleSwapchain, "suboptimal"), "acquire next image"))
	}
	return nil
}

func (r *Renderer) recover(err error) error {
	if !gpu.Recoverable(err) {
		return r.frameError(err)
	}
	r.log.Debug("rebuilding swapchain", "cause", err)
	r.stale = true
	if err := r.rebuild(); err != nil {
		return r.rebuildError(err)
	}
	return nil
}

func (r *Renderer) rebuildError(err error) error {
	if errors.Is(err, swapchain.ErrZeroExtent) {
		if !r.suspended {
			r.log.Info("surface has no area, suspending frames")
		}
		r.suspended = true
		return nil
	}
	return r.frameError(errors.Wrap(err, "rebuild swapchain"))
}

func (r *Renderer) frameError(err error) error {
	var n uint64
	if r.sync != nil {
		n = r.sync.Counter()
	}
	return &FrameError{Frame: n, Err: err}
}

// rebuild drains the frames in flight and recreates the swapchain and what is
// derived from it. The render pass is only recreated when the surface format
// changed, the pipeline when the format or extent did. The renderer stays
// stale until a rebuild completes, so a failed one is retried on the next
// frame.
func (r *Renderer) rebuild() error {
	r.stale = true
	if err := r.sync.Drain(); err != nil {
		return err
	}
	if r.prepared {
		r.prepared = false
		if r.onCleanup != nil {
			if err := r.onCleanup(); err != nil {
				return errors.Wrap(err, "cleanup")
			}
		}
	}
	r.recorder.Free()
	r.swapchain.DestroyFramebuffers()

	if err := r.swapchain.Build(); err != nil {
		return err
	}
	if err := r.createPipeline(false); err != nil {
		return err
	}
	if err := r.swapchain.CreateFramebuffers(r.pass); err != nil {
		return err
	}
	if err := r.recorder.RecordAll(r.scene()); err != nil {
		return err
	}
	if err := r.sync.Resize(r.swapchain.ImageCount()); err != nil {
		return err
	}
	if r.onPrepare != nil {
		if err := r.onPrepare(); err != nil {
			return errors.Wrap(err, "prepare")
		}
	}
	r.prepared = true

	r.stale = false
	if r.suspended {
		r.log.Info("surface has area again, resuming frames")
	}
	r.suspended = false
	extent := r.swapchain.Extent()
	r.log.Info("swapchain rebuilt",
		"images", r.swapchain.ImageCount(),
		"width", extent.Width,
		"height", extent.Height)
	return nil
}

// SetDraws replaces the draw calls baked into the command buffers. Before
// Init they are only stored. Afterwards every command buffer is re-recorded
// once the last submission that used its image completed.
func (r *Renderer) SetDraws(draws []gpu.Draw) error {
	if r.closed {
		return r.frameError(ErrClosed)
	}
	r.draws = append([]gpu.Draw(nil), draws...)
	if !r.ready || r.suspended || r.stale || r.recorder.Len() == 0 {
		return nil
	}
	scene := r.scene()
	for i := 0; i < r.recorder.Len(); i++ {
		if err := r.recorder.Record(i, scene, r.sync); err != nil {
			return r.frameError(err)
		}
		if r.onInvalidate != nil {
			if err := r.onInvalidate(i); err != nil {
				return r.frameError(errors.Wrapf(err, "invalidate image %d", i))
			}
		}
	}
	return nil
}

// Stats returns frame pacing statistics, zero before Init.
func (r *Renderer) Stats() frame.Stats {
	if r.sync == nil {
		return frame.Stats{}
	}
	return r.sync.Stats()
}

// Shutdown drains the frames in flight and destroys everything in reverse
// order of creation, ending with the surface, the device and the instance.
// Calling it again is a no-op. Destruction proceeds when draining fails, and
// that error is returned.
func (r *Renderer) Shutdown() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	if r.sync != nil {
		err = r.sync.Drain()
	} else {
		err = gpu.NewError(gpu.ErrSubmission, "device wait idle", r.dev.WaitIdle())
	}
	if r.prepared && r.onCleanup != nil {
		if cerr := r.onCleanup(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "cleanup")
		}
	}
	r.prepared = false
	r.release()

	r.dev.DestroySurface()
	r.dev.DestroyDevice()
	r.dev.DestroyInstance()
	r.ready = false
	r.log.Info("renderer shut down", "frames", r.Stats().Frames)
	return err
}

// release destroys every resource the renderer created, in reverse order.
func (r *Renderer) release() {
	if r.sync != nil {
		r.sync.Destroy()
	}
	if r.recorder != nil {
		r.recorder.Destroy()
	}
	if r.swapchain != nil {
		r.swapchain.DestroyFramebuffers()
	}
	r.destroyPipeline()
	r.destroyRenderPass()
	if r.swapchain != nil {
		r.swapchain.Teardown()
	}
}
