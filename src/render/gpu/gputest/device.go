// Package gputest provides a fake accelerator for testing code written against
// the gpu interfaces.
//
// The fake models the three actors of a frame loop: the CPU side issuing
// calls, a queue that retires submissions in order, and a presentation engine
// that hands images back before their previous presentation finished. With
// Deferred completion a submission only retires when the CPU waits on its
// fence or idles the device, and a presentation only consumes its semaphore
// once its image is acquired again, so any reuse of a semaphore, fence or
// command buffer that is not ordered by a wait is observable. Every misuse is recorded as a violation instead of failing the
// call, which lets tests assert on the whole run.
package gputest

import (
	"fmt"
	"sort"

	"github.com/vulkan-go/vulkan"

	"vkframe/src/render/gpu"
)

// Completion selects when submissions retire.
type Completion int

const (
	// Deferred retires submissions on fence waits and device idle.
	Deferred Completion = iota
	// Instant retires every submission as soon as it is made.
	Instant
)

// AcquireOrder picks the image handed out by AcquireNextImage among the
// candidates, which are sorted by index and never empty.
type AcquireOrder func(candidates []uint32) uint32

// LowestFirst always hands out the lowest free index, which breaks the natural
// rotation as soon as more than one image is free.
func LowestFirst(candidates []uint32) uint32 {
	return candidates[0]
}

// Sequence hands out the given indices in order, falling back to the lowest
// candidate when the next index is held or the sequence is exhausted.
func Sequence(indices ...uint32) AcquireOrder {
	var n int
	return func(candidates []uint32) uint32 {
		if n < len(indices) {
			want := indices[n]
			n++
			for _, c := range candidates {
				if c == want {
					return c
				}
			}
		}
		return candidates[0]
	}
}

type Config struct {
	Capabilities vulkan.SurfaceCapabilities
	Formats      []vulkan.SurfaceFormat
	PresentModes []vulkan.PresentMode
	Completion   Completion
	// Order defaults to the natural rotation.
	Order AcquireOrder
}

// DefaultConfig describes an 800x600 surface supporting two to eight images,
// one SRGB format and the FIFO and MAILBOX present modes.
func DefaultConfig() Config {
	return Config{
		Capabilities: vulkan.SurfaceCapabilities{
			MinImageCount:       2,
			MaxImageCount:       8,
			CurrentExtent:       vulkan.Extent2D{Width: 800, Height: 600},
			MinImageExtent:      vulkan.Extent2D{Width: 1, Height: 1},
			MaxImageExtent:      vulkan.Extent2D{Width: 4096, Height: 4096},
			MaxImageArrayLayers: 1,
			CurrentTransform:    vulkan.SurfaceTransformIdentityBit,
		},
		Formats: []vulkan.SurfaceFormat{
			{Format: vulkan.FormatB8g8r8a8Srgb, ColorSpace: vulkan.ColorSpaceSrgbNonlinear},
		},
		PresentModes: []vulkan.PresentMode{vulkan.PresentModeFifo, vulkan.PresentModeMailbox},
	}
}

// Op names a fallible device call for fault injection.
type Op string

const (
	OpSurfaceSupport   Op = "SurfaceSupport"
	OpCreateSwapchain  Op = "CreateSwapchain"
	OpSwapchainImages  Op = "SwapchainImages"
	OpCreateImageView  Op = "CreateImageView"
	OpCreateFramebuf   Op = "CreateFramebuffer"
	OpCreateRenderPass Op = "CreateRenderPass"
	OpCreatePipeline   Op = "CreatePipeline"
	OpCreateCmdPool    Op = "CreateCommandPool"
	OpAllocateCmdBufs  Op = "AllocateCommandBuffers"
	OpBeginCmdBuf      Op = "BeginCommandBuffer"
	OpEndCmdBuf        Op = "EndCommandBuffer"
	OpCreateSemaphore  Op = "CreateSemaphore"
	OpCreateFence      Op = "CreateFence"
	OpWaitForFences    Op = "WaitForFences"
	OpResetFences      Op = "ResetFences"
	OpAcquire          Op = "AcquireNextImage"
	OpSubmit           Op = "QueueSubmit"
	OpPresent          Op = "QueuePresent"
)

type EventKind int

const (
	EventCreate EventKind = iota
	EventDestroy
	EventAcquire
	EventSubmit
	EventPresent
	EventWait
	EventReset
	EventIdle
)

// Event is one entry of the device call log.
type Event struct {
	Kind   EventKind
	Object Kind
	ID     uint64
	Index  uint32
	Submit gpu.SubmitInfo
	Fence  gpu.Fence
}

type submission struct {
	wait   uint64
	signal uint64
	fence  uint64
	cb     uint64
}

type swapchainState struct {
	images     []uint64
	held       []bool
	presenting []int
	acquireSem []uint64
	last       int
}

// presentOp is a queued presentation. Its wait semaphore is only known to be
// consumed once the image has been handed back to the application, or the
// device idled.
type presentOp struct {
	sc       *swapchainState
	index    uint32
	wait     uint64
	released bool
}

// Device is a fake gpu.Device and gpu.PipelineProvider. It is not safe for
// concurrent use.
type Device struct {
	cfg Config

	next       uint64
	objects    map[uint64]*object
	swapchains map[uint64]*swapchainState
	pending    []*submission
	presents   []*presentOp

	events     []Event
	violations []string
	overlaps   int
	injected   map[Op][]vulkan.Result
	observer   gpu.Observer

	instance uint64
	device   uint64
	surface  uint64
	graphics gpu.Queue
	present  gpu.Queue
}

var (
	_ gpu.Device           = (*Device)(nil)
	_ gpu.PipelineProvider = (*Device)(nil)
	_ gpu.Observable       = (*Device)(nil)
)

func NewDevice(cfg Config) *Device {
	d := &Device{
		cfg:        cfg,
		objects:    make(map[uint64]*object),
		swapchains: make(map[uint64]*swapchainState),
		injected:   make(map[Op][]vulkan.Result),
	}
	d.instance = d.create(KindInstance)
	d.device = d.create(KindDevice, d.instance)
	d.surface = d.create(KindSurface, d.instance)
	d.next++
	d.graphics = gpu.Queue(d.next)
	d.next++
	d.present = gpu.Queue(d.next)
	return d
}

// Inject queues results returned by the next calls of op, in order. A call
// consuming an injected failure has no other effect.
func (d *Device) Inject(op Op, results ...vulkan.Result) {
	d.injected[op] = append(d.injected[op], results...)
}

func (d *Device) take(op Op) vulkan.Result {
	q := d.injected[op]
	if len(q) == 0 {
		return vulkan.Success
	}
	d.injected[op] = q[1:]
	return q[0]
}

// SetExtent changes the surface's current extent, as a window resize would.
func (d *Device) SetExtent(width, height uint32) {
	d.cfg.Capabilities.CurrentExtent = vulkan.Extent2D{Width: width, Height: height}
}

// SetFormats changes the formats the surface reports.
func (d *Device) SetFormats(formats ...vulkan.SurfaceFormat) {
	d.cfg.Formats = formats
}

func (d *Device) Violations() []string {
	return d.violations
}

// Overlaps counts submissions of a command buffer that was still pending.
func (d *Device) Overlaps() int {
	return d.overlaps
}

func (d *Device) Events() []Event {
	return d.events
}

// Pending counts submissions that have not retired.
func (d *Device) Pending() int {
	return len(d.pending)
}

// Live counts the live objects of the given kind.
func (d *Device) Live(kind Kind) int {
	var n int
	for _, o := range d.objects {
		if o.live && o.kind == kind {
			n++
		}
	}
	return n
}

// Commands returns what was recorded into cb since it was last begun.
func (d *Device) Commands(cb gpu.CommandBuffer) []string {
	if o, ok := d.objects[uint64(cb)]; ok {
		return o.commands
	}
	return nil
}

// Emit delivers msg to the registered observer, if any.
func (d *Device) Emit(msg gpu.Message) {
	if d.observer != nil {
		d.observer.Observe(msg)
	}
}

func (d *Device) SetObserver(o gpu.Observer) {
	d.observer = o
}

func (d *Device) violate(format string, args ...interface{}) {
	d.violations = append(d.violations, fmt.Sprintf(format, args...))
}

func (d *Device) create(kind Kind, deps ...uint64) uint64 {
	d.next++
	id := d.next
	d.objects[id] = &object{id: id, kind: kind, deps: deps, live: true}
	d.events = append(d.events, Event{Kind: EventCreate, Object: kind, ID: id})
	return id
}

func (d *Device) lookup(id uint64, kind Kind, op string) *object {
	o, ok := d.objects[id]
	if !ok || !o.live || o.kind != kind {
		d.violate("%s: %d is not a live %s", op, id, kind)
		return nil
	}
	return o
}

func (d *Device) checkDependents(o *object, op string, skip func(*object) bool) {
	for _, p := range d.objects {
		if p.live && p.dependsOn(o.id) && (skip == nil || !skip(p)) {
			d.violate("%s: destroyed %s while %s depends on it", op, o, p)
		}
	}
}

func (d *Device) destroy(id uint64, kind Kind, op string) {
	o := d.lookup(id, kind, op)
	if o == nil {
		return
	}
	d.checkDependents(o, op, nil)
	d.checkIdle(o, op)
	o.live = false
	d.events = append(d.events, Event{Kind: EventDestroy, Object: kind, ID: id})
}

func (d *Device) checkIdle(o *object, op string) {
	switch o.kind {
	case KindSemaphore:
		if o.pendingSignal || o.waitPending {
			d.violate("%s: destroyed %s with a pending operation", op, o)
		}
	case KindFence:
		if o.submission != nil {
			d.violate("%s: destroyed %s with a pending submission", op, o)
		}
	case KindCommandBuffer:
		if o.pendingUses > 0 {
			d.violate("%s: destroyed %s while pending", op, o)
		}
	case KindFramebuffer, KindPipeline, KindRenderPass, KindImageView:
		for _, s := range d.pending {
			if cb := d.objects[s.cb]; cb != nil {
				for _, dep := range cb.deps {
					if dep == o.id {
						d.violate("%s: destroyed %s referenced by a pending submission", op, o)
					}
				}
			}
		}
	}
}

// retire completes pending submissions in queue order up to and including s.
func (d *Device) retire(s *submission) {
	for len(d.pending) > 0 {
		cur := d.pending[0]
		d.pending = d.pending[1:]

		if w := d.objects[cur.wait]; w != nil {
			if !w.signaled {
				d.violate("retire: waited on %s which was never signaled", w)
			}
			w.signaled = false
			w.waitPending = false
		}
		if sig := d.objects[cur.signal]; sig != nil {
			sig.signaled = true
			sig.pendingSignal = false
		}
		if f := d.objects[cur.fence]; f != nil {
			f.fenceSignaled = true
			f.submission = nil
		}
		if cb := d.objects[cur.cb]; cb != nil {
			cb.pendingUses--
		}
		d.resolvePresents(false)
		if cur == s {
			return
		}
	}
}

// resolvePresents completes the queued presentations whose wait semaphore has
// been signaled and whose image was acquired again, or all of them with force.
// An image acquired while still presenting signals its acquire semaphore once
// its last presentation completes.
func (d *Device) resolvePresents(force bool) {
	kept := d.presents[:0]
	for _, p := range d.presents {
		w := d.objects[p.wait]
		if w == nil || !w.signaled || !(force || p.released) {
			kept = append(kept, p)
			continue
		}
		w.signaled = false
		w.waitPending = false
		p.sc.presenting[p.index]--
		if p.sc.presenting[p.index] > 0 {
			continue
		}
		if sem := d.objects[p.sc.acquireSem[p.index]]; sem != nil {
			sem.signaled = true
			sem.pendingSignal = false
			p.sc.acquireSem[p.index] = 0
		}
	}
	d.presents = kept
}

func (d *Device) GraphicsQueue() gpu.Queue { return d.graphics }
func (d *Device) PresentQueue() gpu.Queue { return d.present }

func (d *Device) SurfaceSupport() (gpu.SurfaceSupport, vulkan.Result) {
	if ret := d.take(OpSurfaceSupport); ret != vulkan.Success {
		return gpu.SurfaceSupport{}, ret
	}
	return gpu.SurfaceSupport{
		Capabilities: d.cfg.Capabilities,
		Formats:      append([]vulkan.SurfaceFormat(nil), d.cfg.Formats...),
		PresentModes: append([]vulkan.PresentMode(nil), d.cfg.PresentModes...),
	}, vulkan.Success
}

func (d *Device) CreateSwapchain(info *gpu.SwapchainInfo) (gpu.Swapchain, vulkan.Result) {
	if info.Old != gpu.NullSwapchain {
		d.lookup(uint64(info.Old), KindSwapchain, "CreateSwapchain(old)")
	}
	if ret := d.take(OpCreateSwapchain); ret != vulkan.Success {
		return gpu.NullSwapchain, ret
	}
	caps := d.cfg.Capabilities
	if info.MinImageCount < caps.MinImageCount || (caps.MaxImageCount > 0 && info.MinImageCount > caps.MaxImageCount) {
		d.violate("CreateSwapchain: image count %d outside [%d, %d]", info.MinImageCount, caps.MinImageCount, caps.MaxImageCount)
	}
	if info.Extent.Width == 0 || info.Extent.Height == 0 {
		d.violate("CreateSwapchain: zero extent %dx%d", info.Extent.Width, info.Extent.Height)
	}
	id := d.create(KindSwapchain, d.device, d.surface)
	n := int(info.MinImageCount)
	st := &swapchainState{
		held:       make([]bool, n),
		presenting: make([]int, n),
		acquireSem: make([]uint64, n),
		last:       n - 1,
	}
	for i := 0; i < n; i++ {
		img := d.create(KindImage, id)
		d.objects[img].swapchain = id
		d.objects[img].index = uint32(i)
		st.images = append(st.images, img)
	}
	d.swapchains[id] = st
	return gpu.Swapchain(id), vulkan.Success
}

func (d *Device) SwapchainImages(sc gpu.Swapchain) ([]gpu.Image, vulkan.Result) {
	if ret := d.take(OpSwapchainImages); ret != vulkan.Success {
		return nil, ret
	}
	st, ok := d.swapchains[uint64(sc)]
	if !ok {
		d.violate("SwapchainImages: %d is not a live swapchain", sc)
		return nil, vulkan.ErrorInitializationFailed
	}
	images := make([]gpu.Image, len(st.images))
	for i, img := range st.images {
		images[i] = gpu.Image(img)
	}
	return images, vulkan.Success
}

func (d *Device) DestroySwapchain(sc gpu.Swapchain) {
	const op = "DestroySwapchain"
	o := d.lookup(uint64(sc), KindSwapchain, op)
	if o == nil {
		return
	}
	st := d.swapchains[o.id]
	d.checkDependents(o, op, func(p *object) bool { return p.kind == KindImage })
	for i, img := range st.images {
		d.checkDependents(d.objects[img], op, nil)
		if st.presenting[i] > 0 {
			d.violate("%s: image %d still presenting", op, i)
		}
		d.objects[img].live = false
	}
	o.live = false
	delete(d.swapchains, o.id)
	d.events = append(d.events, Event{Kind: EventDestroy, Object: KindSwapchain, ID: o.id})
}

func (d *Device) CreateImageView(img gpu.Image, format vulkan.Format) (gpu.ImageView, vulkan.Result) {
	if d.lookup(uint64(img), KindImage, "CreateImageView") == nil {
		return 0, vulkan.ErrorInitializationFailed
	}
	if ret := d.take(OpCreateImageView); ret != vulkan.Success {
		return 0, ret
	}
	return gpu.ImageView(d.create(KindImageView, d.device, uint64(img))), vulkan.Success
}

func (d *Device) DestroyImageView(view gpu.ImageView) {
	d.destroy(uint64(view), KindImageView, "DestroyImageView")
}

func (d *Device) CreateFramebuffer(pass gpu.RenderPass, view gpu.ImageView, extent vulkan.Extent2D) (gpu.Framebuffer, vulkan.Result) {
	if d.lookup(uint64(pass), KindRenderPass, "CreateFramebuffer") == nil ||
		d.lookup(uint64(view), KindImageView, "CreateFramebuffer") == nil {
		return 0, vulkan.ErrorInitializationFailed
	}
	if ret := d.take(OpCreateFramebuf); ret != vulkan.Success {
		return 0, ret
	}
	return gpu.Framebuffer(d.create(KindFramebuffer, d.device, uint64(pass), uint64(view))), vulkan.Success
}

func (d *Device) DestroyFramebuffer(fb gpu.Framebuffer) {
	d.destroy(uint64(fb), KindFramebuffer, "DestroyFramebuffer")
}

func (d *Device) CreateRenderPass(format vulkan.Format) (gpu.RenderPass, vulkan.Result) {
	if ret := d.take(OpCreateRenderPass); ret != vulkan.Success {
		return 0, ret
	}
	return gpu.RenderPass(d.create(KindRenderPass, d.device)), vulkan.Success
}

func (d *Device) DestroyRenderPass(pass gpu.RenderPass) {
	d.destroy(uint64(pass), KindRenderPass, "DestroyRenderPass")
}

func (d *Device) CreatePipeline(pass gpu.RenderPass, extent vulkan.Extent2D) (gpu.Pipeline, gpu.PipelineLayout, vulkan.Result) {
	if d.lookup(uint64(pass), KindRenderPass, "CreatePipeline") == nil {
		return 0, 0, vulkan.ErrorInitializationFailed
	}
	if ret := d.take(OpCreatePipeline); ret != vulkan.Success {
		return 0, 0, ret
	}
	layout := d.create(KindPipelineLayout, d.device)
	pipeline := d.create(KindPipeline, d.device, uint64(pass), layout)
	return gpu.Pipeline(pipeline), gpu.PipelineLayout(layout), vulkan.Success
}

func (d *Device) DestroyPipeline(pipeline gpu.Pipeline) {
	d.destroy(uint64(pipeline), KindPipeline, "DestroyPipeline")
}

func (d *Device) DestroyPipelineLayout(layout gpu.PipelineLayout) {
	d.destroy(uint64(layout), KindPipelineLayout, "DestroyPipelineLayout")
}

func (d *Device) CreateCommandPool() (gpu.CommandPool, vulkan.Result) {
	if ret := d.take(OpCreateCmdPool); ret != vulkan.Success {
		return 0, ret
	}
	return gpu.CommandPool(d.create(KindCommandPool, d.device)), vulkan.Success
}

// DestroyCommandPool frees the pool's remaining command buffers with it.
func (d *Device) DestroyCommandPool(pool gpu.CommandPool) {
	const op = "DestroyCommandPool"
	o := d.lookup(uint64(pool), KindCommandPool, op)
	if o == nil {
		return
	}
	for _, cb := range d.objects {
		if cb.live && cb.kind == KindCommandBuffer && cb.pool == o.id {
			d.checkIdle(cb, op)
			cb.live = false
		}
	}
	d.destroy(o.id, KindCommandPool, op)
}

func (d *Device) AllocateCommandBuffers(pool gpu.CommandPool, count int) ([]gpu.CommandBuffer, vulkan.Result) {
	if d.lookup(uint64(pool), KindCommandPool, "AllocateCommandBuffers") == nil {
		return nil, vulkan.ErrorInitializationFailed
	}
	if ret := d.take(OpAllocateCmdBufs); ret != vulkan.Success {
		return nil, ret
	}
	buffers := make([]gpu.CommandBuffer, count)
	for i := range buffers {
		id := d.create(KindCommandBuffer, uint64(pool))
		d.objects[id].pool = uint64(pool)
		buffers[i] = gpu.CommandBuffer(id)
	}
	return buffers, vulkan.Success
}

func (d *Device) FreeCommandBuffers(pool gpu.CommandPool, buffers []gpu.CommandBuffer) {
	for _, cb := range buffers {
		d.destroy(uint64(cb), KindCommandBuffer, "FreeCommandBuffers")
	}
}

func (d *Device) BeginCommandBuffer(cb gpu.CommandBuffer, flags vulkan.CommandBufferUsageFlags) vulkan.Result {
	const op = "BeginCommandBuffer"
	o := d.lookup(uint64(cb), KindCommandBuffer, op)
	if o == nil {
		return vulkan.ErrorInitializationFailed
	}
	if ret := d.take(OpBeginCmdBuf); ret != vulkan.Success {
		return ret
	}
	if o.pendingUses > 0 {
		d.violate("%s: re-recording %s while pending", op, o)
	}
	o.simultaneous = flags&vulkan.CommandBufferUsageFlags(vulkan.CommandBufferUsageSimultaneousUseBit) != 0
	o.recording = true
	o.executable = false
	o.deps = []uint64{o.pool}
	o.commands = []string{fmt.Sprintf("begin(simultaneous=%t)", o.simultaneous)}
	return vulkan.Success
}

func (d *Device) EndCommandBuffer(cb gpu.CommandBuffer) vulkan.Result {
	o := d.recordingBuffer(cb, "EndCommandBuffer")
	if o == nil {
		return vulkan.ErrorInitializationFailed
	}
	if ret := d.take(OpEndCmdBuf); ret != vulkan.Success {
		return ret
	}
	o.recording = false
	o.executable = true
	o.commands = append(o.commands, "end")
	return vulkan.Success
}

func (d *Device) recordingBuffer(cb gpu.CommandBuffer, op string) *object {
	o := d.lookup(uint64(cb), KindCommandBuffer, op)
	if o != nil && !o.recording {
		d.violate("%s: %s is not recording", op, o)
		return nil
	}
	return o
}

func (d *Device) CmdBeginRenderPass(cb gpu.CommandBuffer, pass gpu.RenderPass, fb gpu.Framebuffer, extent vulkan.Extent2D, clear [4]float32) {
	o := d.recordingBuffer(cb, "CmdBeginRenderPass")
	if o == nil {
		return
	}
	d.lookup(uint64(pass), KindRenderPass, "CmdBeginRenderPass")
	d.lookup(uint64(fb), KindFramebuffer, "CmdBeginRenderPass")
	o.deps = append(o.deps, uint64(pass), uint64(fb))
	o.commands = append(o.commands, fmt.Sprintf("beginRenderPass(fb=%d, %dx%d, clear=%v)", fb, extent.Width, extent.Height, clear))
}

func (d *Device) CmdBindPipeline(cb gpu.CommandBuffer, pipeline gpu.Pipeline) {
	o := d.recordingBuffer(cb, "CmdBindPipeline")
	if o == nil {
		return
	}
	d.lookup(uint64(pipeline), KindPipeline, "CmdBindPipeline")
	o.deps = append(o.deps, uint64(pipeline))
	o.commands = append(o.commands, fmt.Sprintf("bindPipeline(%d)", pipeline))
}

func (d *Device) CmdDraw(cb gpu.CommandBuffer, draw gpu.Draw) {
	o := d.recordingBuffer(cb, "CmdDraw")
	if o == nil {
		return
	}
	if draw.Indexed() {
		o.commands = append(o.commands, fmt.Sprintf("drawIndexed(%d, %d, %d, %d, %d)",
			draw.IndexCount, draw.InstanceCount, draw.FirstIndex, draw.VertexOffset, draw.FirstInstance))
		return
	}
	o.commands = append(o.commands, fmt.Sprintf("draw(%d, %d, %d, %d)",
		draw.VertexCount, draw.InstanceCount, draw.FirstVertex, draw.FirstInstance))
}

func (d *Device) CmdEndRenderPass(cb gpu.CommandBuffer) {
	if o := d.recordingBuffer(cb, "CmdEndRenderPass"); o != nil {
		o.commands = append(o.commands, "endRenderPass")
	}
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, vulkan.Result) {
	if ret := d.take(OpCreateSemaphore); ret != vulkan.Success {
		return gpu.NullSemaphore, ret
	}
	return gpu.Semaphore(d.create(KindSemaphore, d.device)), vulkan.Success
}

func (d *Device) DestroySemaphore(s gpu.Semaphore) {
	d.destroy(uint64(s), KindSemaphore, "DestroySemaphore")
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, vulkan.Result) {
	if ret := d.take(OpCreateFence); ret != vulkan.Success {
		return gpu.NullFence, ret
	}
	id := d.create(KindFence, d.device)
	d.objects[id].fenceSignaled = signaled
	return gpu.Fence(id), vulkan.Success
}

func (d *Device) DestroyFence(f gpu.Fence) {
	d.destroy(uint64(f), KindFence, "DestroyFence")
}

func (d *Device) WaitForFences(fences []gpu.Fence, timeout uint64) vulkan.Result {
	const op = "WaitForFences"
	if ret := d.take(OpWaitForFences); ret != vulkan.Success {
		return ret
	}
	for _, f := range fences {
		o := d.lookup(uint64(f), KindFence, op)
		if o == nil {
			return vulkan.ErrorDeviceLost
		}
		d.events = append(d.events, Event{Kind: EventWait, Fence: f})
		if !o.fenceSignaled && o.submission != nil {
			d.retire(o.submission)
		}
		if !o.fenceSignaled {
			d.violate("%s: %s will never signal", op, o)
			return vulkan.Timeout
		}
		o.waited = true
	}
	return vulkan.Success
}

func (d *Device) ResetFences(fences []gpu.Fence) vulkan.Result {
	const op = "ResetFences"
	if ret := d.take(OpResetFences); ret != vulkan.Success {
		return ret
	}
	for _, f := range fences {
		o := d.lookup(uint64(f), KindFence, op)
		if o == nil {
			return vulkan.ErrorDeviceLost
		}
		d.events = append(d.events, Event{Kind: EventReset, Fence: f})
		if o.submission != nil {
			d.violate("%s: %s reset while its submission is pending", op, o)
		}
		if o.submitted && !o.waited {
			d.violate("%s: %s reused without an intervening wait", op, o)
		}
		o.fenceSignaled = false
		o.waited = false
	}
	return vulkan.Success
}

func (d *Device) AcquireNextImage(sc gpu.Swapchain, timeout uint64, signal gpu.Semaphore) (uint32, vulkan.Result) {
	const op = "AcquireNextImage"
	ret := d.take(OpAcquire)
	if ret != vulkan.Success && ret != vulkan.Suboptimal {
		return 0, ret
	}
	st, ok := d.swapchains[uint64(sc)]
	if !ok {
		d.violate("%s: %d is not a live swapchain", op, sc)
		return 0, vulkan.ErrorOutOfDate
	}
	sem := d.lookup(uint64(signal), KindSemaphore, op)
	if sem == nil {
		return 0, vulkan.ErrorDeviceLost
	}
	if sem.signaled || sem.pendingSignal {
		d.violate("%s: %s signaled twice without an intervening wait", op, sem)
	}

	var candidates []uint32
	n := len(st.images)
	for k := 1; k <= n; k++ {
		i := (st.last + k) % n
		if !st.held[i] {
			candidates = append(candidates, uint32(i))
		}
	}
	if len(candidates) == 0 {
		d.violate("%s: every image is held by the application", op)
		return 0, vulkan.Timeout
	}
	var idx uint32
	if d.cfg.Order != nil {
		idx = d.cfg.Order(sortIndices(candidates))
	} else {
		idx = candidates[0]
	}

	st.held[idx] = true
	st.last = int(idx)
	for _, p := range d.presents {
		if p.sc == st && p.index == idx {
			p.released = true
		}
	}
	d.resolvePresents(false)
	if st.presenting[idx] > 0 {
		sem.pendingSignal = true
		st.acquireSem[idx] = sem.id
	} else {
		sem.signaled = true
	}
	d.events = append(d.events, Event{Kind: EventAcquire, ID: sem.id, Index: idx})
	return idx, ret
}

func sortIndices(in []uint32) []uint32 {
	out := append([]uint32(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (d *Device) QueueSubmit(q gpu.Queue, info *gpu.SubmitInfo, fence gpu.Fence) vulkan.Result {
	const op = "QueueSubmit"
	if ret := d.take(OpSubmit); ret != vulkan.Success {
		return ret
	}
	if q != d.graphics {
		d.violate("%s: %d is not the graphics queue", op, q)
	}
	s := &submission{wait: uint64(info.Wait), signal: uint64(info.Signal), fence: uint64(fence), cb: uint64(info.CommandBuffer)}

	if cb := d.lookup(s.cb, KindCommandBuffer, op); cb != nil {
		if !cb.executable {
			d.violate("%s: %s is not executable", op, cb)
		}
		if cb.pendingUses > 0 {
			d.overlaps++
			if !cb.simultaneous {
				d.violate("%s: %s resubmitted while pending without simultaneous use", op, cb)
			}
		}
		cb.pendingUses++
	}
	if info.Wait != gpu.NullSemaphore {
		if w := d.lookup(s.wait, KindSemaphore, op); w != nil {
			if w.waitPending {
				d.violate("%s: %s waited twice", op, w)
			}
			if !w.signaled && !w.pendingSignal {
				d.violate("%s: waiting on %s with no signal pending", op, w)
			}
			w.waitPending = true
		}
	}
	if info.Signal != gpu.NullSemaphore {
		if sig := d.lookup(s.signal, KindSemaphore, op); sig != nil {
			if sig.signaled || sig.pendingSignal {
				d.violate("%s: %s signaled twice without an intervening wait", op, sig)
			}
			sig.pendingSignal = true
		}
	}
	if fence != gpu.NullFence {
		if f := d.lookup(s.fence, KindFence, op); f != nil {
			if f.fenceSignaled || f.submission != nil {
				d.violate("%s: %s submitted without a reset", op, f)
			}
			f.submission = s
			f.submitted = true
			f.waited = false
		}
	}

	d.pending = append(d.pending, s)
	d.events = append(d.events, Event{Kind: EventSubmit, Submit: *info, Fence: fence})
	if d.cfg.Completion == Instant {
		d.retire(s)
	}
	return vulkan.Success
}

func (d *Device) QueuePresent(q gpu.Queue, info *gpu.PresentInfo) vulkan.Result {
	const op = "QueuePresent"
	if q != d.present {
		d.violate("%s: %d is not the present queue", op, q)
	}
	st, ok := d.swapchains[uint64(info.Swapchain)]
	if !ok {
		d.violate("%s: %d is not a live swapchain", op, info.Swapchain)
		return vulkan.ErrorOutOfDate
	}
	idx := info.ImageIndex
	if int(idx) >= len(st.images) || !st.held[idx] {
		d.violate("%s: image %d was not acquired", op, idx)
		return vulkan.ErrorOutOfDate
	}
	w := d.lookup(uint64(info.Wait), KindSemaphore, op)
	if w == nil {
		return vulkan.ErrorDeviceLost
	}
	if w.waitPending {
		d.violate("%s: %s waited twice", op, w)
	}
	if !w.signaled && !w.pendingSignal {
		d.violate("%s: waiting on %s with no signal pending", op, w)
	}
	w.waitPending = true
	st.held[idx] = false
	st.presenting[idx]++
	d.presents = append(d.presents, &presentOp{sc: st, index: idx, wait: w.id})
	d.events = append(d.events, Event{Kind: EventPresent, ID: w.id, Index: idx})
	return d.take(OpPresent)
}

func (d *Device) WaitIdle() vulkan.Result {
	if len(d.pending) > 0 {
		d.retire(d.pending[len(d.pending)-1])
	}
	d.resolvePresents(true)
	d.events = append(d.events, Event{Kind: EventIdle})
	return vulkan.Success
}

func (d *Device) DestroySurface() {
	d.destroy(d.surface, KindSurface, "DestroySurface")
}

func (d *Device) DestroyDevice() {
	d.destroy(d.device, KindDevice, "DestroyDevice")
}

func (d *Device) DestroyInstance() {
	d.destroy(d.instance, KindInstance, "DestroyInstance")
}

// Window is a fixed-size framebuffer source.
type Window struct {
	Width, Height int
}

func (w *Window) GetFramebufferSize() (int, int) {
	return w.Width, w.Height
}
