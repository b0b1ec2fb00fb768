// Package frame paces frames in flight between the CPU, the graphics queue and
// the presentation engine.
//
// Each of the N frame slots owns an image-available semaphore and an
// in-flight fence and is used round-robin. The render-finished semaphore is
// owned by the swapchain image instead, and every image remembers the slot
// whose submission last rendered it. Before an image is submitted again that
// slot's fence is waited, so a semaphore, fence or command buffer is never
// reused by two submissions whose execution may overlap, whatever order the
// presentation engine hands images back in.
package frame

import (
	"log/slog"
	"time"

	"github.com/loov/hrtime"
	"github.com/pkg/errors"
	"github.com/vulkan-go/vulkan"

	"vkframe/src/render/gpu"
)

// Frame is the outcome of a successful acquisition.
type Frame struct {
	Slot  int
	Image int
	// Suboptimal means the image can be used but the swapchain should be
	// rebuilt after it was presented.
	Suboptimal bool
}

type slot struct {
	imageAvailable gpu.Semaphore
	inFlight       gpu.Fence
	// busy is set while a submission made through the slot has not been
	// waited on.
	busy bool
}

type Synchronizer struct {
	dev     gpu.Device
	timeout uint64
	log     *slog.Logger

	slots          []slot
	renderFinished []gpu.Semaphore
	lastUse        []int
	counter        uint64

	stats      Stats
	frameStart time.Duration
}

// New creates frames slots and the render-finished semaphores of images
// swapchain images. timeout bounds every fence wait and acquisition, in
// nanoseconds.
func New(dev gpu.Device, frames, images int, timeout uint64, log *slog.Logger) (*Synchronizer, error) {
	if frames < 1 {
		return nil, gpu.Errorf(gpu.ErrResourceCreation, "invalid frames in flight %d", frames)
	}
	s := &Synchronizer{
		dev:     dev,
		timeout: timeout,
		log:     log,
		slots:   make([]slot, 0, frames),
	}
	for i := 0; i < frames; i++ {
		sem, ret := dev.CreateSemaphore()
		if err := gpu.NewError(gpu.ErrResourceCreation, "create semaphore", ret); err != nil {
			s.Destroy()
			return nil, err
		}
		fence, ret := dev.CreateFence(true)
		if err := gpu.NewError(gpu.ErrResourceCreation, "create fence", ret); err != nil {
			dev.DestroySemaphore(sem)
			s.Destroy()
			return nil, err
		}
		s.slots = append(s.slots, slot{imageAvailable: sem, inFlight: fence})
	}
	if err := s.createImageSemaphores(images); err != nil {
		s.Destroy()
		return nil, err
	}
	return s, nil
}

func (s *Synchronizer) createImageSemaphores(images int) error {
	s.renderFinished = make([]gpu.Semaphore, 0, images)
	s.lastUse = make([]int, images)
	for i := range s.lastUse {
		s.lastUse[i] = -1
		sem, ret := s.dev.CreateSemaphore()
		if err := gpu.NewError(gpu.ErrResourceCreation, "create semaphore", ret); err != nil {
			return errors.Wrapf(err, "image %d", i)
		}
		s.renderFinished = append(s.renderFinished, sem)
	}
	return nil
}

func (s *Synchronizer) destroyImageSemaphores() {
	for _, sem := range s.renderFinished {
		s.dev.DestroySemaphore(sem)
	}
	s.renderFinished = nil
	s.lastUse = nil
}

// FramesInFlight returns the number of frame slots.
func (s *Synchronizer) FramesInFlight() int {
	return len(s.slots)
}

// Counter returns the number of frames submitted through the synchronizer.
func (s *Synchronizer) Counter() uint64 {
	return s.counter
}

func (s *Synchronizer) waitSlot(i int) error {
	sl := &s.slots[i]
	if !sl.busy {
		return nil
	}
	start := hrtime.Now()
	ret := s.dev.WaitForFences([]gpu.Fence{sl.inFlight}, s.timeout)
	s.stats.addWait(hrtime.Since(start))
	if err := gpu.NewError(gpu.ErrSubmission, "wait for fence", ret); err != nil {
		return errors.Wrapf(err, "slot %d", i)
	}
	sl.busy = false
	return nil
}

// Acquire waits for the current slot, acquires the next swapchain image and
// waits for the submission that last rendered that image. An out of date
// swapchain returns an error of class gpu.ErrStaleSwapchain and leaves the
// slot and the frame counter untouched.
func (s *Synchronizer) Acquire(sc gpu.Swapchain) (Frame, error) {
	s.frameStart = hrtime.Now()
	cur := int(s.counter % uint64(len(s.slots)))
	if err := s.waitSlot(cur); err != nil {
		return Frame{}, err
	}

	idx, ret := s.dev.AcquireNextImage(sc, s.timeout, s.slots[cur].imageAvailable)
	f := Frame{Slot: cur, Image: int(idx)}
	switch ret {
	case vulkan.Success:
	case vulkan.Suboptimal:
		f.Suboptimal = true
	case vulkan.ErrorOutOfDate:
		return Frame{}, gpu.NewError(gpu.ErrStaleSwapchain, "acquire next image", ret)
	default:
		return Frame{}, gpu.NewError(gpu.ErrSubmission, "acquire next image", ret)
	}
	if f.Image >= len(s.lastUse) {
		return Frame{}, gpu.Errorf(gpu.ErrSubmission, "acquired image %d of %d", f.Image, len(s.lastUse))
	}

	if prev := s.lastUse[f.Image]; prev >= 0 {
		if err := s.waitSlot(prev); err != nil {
			return Frame{}, errors.Wrapf(err, "image %d", f.Image)
		}
	}
	ret = s.dev.ResetFences([]gpu.Fence{s.slots[cur].inFlight})
	if err := gpu.NewError(gpu.ErrSubmission, "reset fence", ret); err != nil {
		return Frame{}, err
	}
	s.lastUse[f.Image] = cur

	s.log.Debug("image acquired", "frame", s.counter, "slot", cur, "image", f.Image, "suboptimal", f.Suboptimal)
	return f, nil
}

// Submit submits cb for f. It waits for the image at the color attachment
// output stage, signals the image's render-finished semaphore and arms the
// slot's fence.
func (s *Synchronizer) Submit(f Frame, cb gpu.CommandBuffer) error {
	sl := &s.slots[f.Slot]
	info := &gpu.SubmitInfo{
		Wait:          sl.imageAvailable,
		WaitStage:     vulkan.PipelineStageFlags(vulkan.PipelineStageColorAttachmentOutputBit),
		CommandBuffer: cb,
		Signal:        s.renderFinished[f.Image],
	}
	ret := s.dev.QueueSubmit(s.dev.GraphicsQueue(), info, sl.inFlight)
	if err := gpu.NewError(gpu.ErrSubmission, "queue submit", ret); err != nil {
		return errors.Wrapf(err, "slot %d image %d", f.Slot, f.Image)
	}
	sl.busy = true
	return nil
}

// Present queues the image of f for presentation once rendering finished and
// advances the frame counter. An out of date or suboptimal swapchain returns
// an error of class gpu.ErrStaleSwapchain, other failures gpu.ErrPresent.
func (s *Synchronizer) Present(f Frame, sc gpu.Swapchain) error {
	ret := s.dev.QueuePresent(s.dev.PresentQueue(), &gpu.PresentInfo{
		Wait:       s.renderFinished[f.Image],
		Swapchain:  sc,
		ImageIndex: uint32(f.Image),
	})
	s.counter++
	s.stats.addFrame(hrtime.Since(s.frameStart))

	if gpu.IsStale(ret) {
		return gpu.NewError(gpu.ErrStaleSwapchain, "queue present", ret)
	}
	return gpu.NewError(gpu.ErrPresent, "queue present", ret)
}

// WaitImage waits for the last submission that rendered image i, if any.
func (s *Synchronizer) WaitImage(i int) error {
	if i < 0 || i >= len(s.lastUse) || s.lastUse[i] < 0 {
		return nil
	}
	return s.waitSlot(s.lastUse[i])
}

// Drain waits every outstanding fence, then for the device to idle.
func (s *Synchronizer) Drain() error {
	for i := range s.slots {
		if err := s.waitSlot(i); err != nil {
			return err
		}
	}
	return gpu.NewError(gpu.ErrSubmission, "device wait idle", s.dev.WaitIdle())
}

// Resize replaces the render-finished semaphores for a swapchain of images
// images. It must follow a Drain.
func (s *Synchronizer) Resize(images int) error {
	s.destroyImageSemaphores()
	if err := s.createImageSemaphores(images); err != nil {
		return err
	}
	s.stats.Rebuilds++
	s.log.Debug("frame synchronizer resized", "images", images)
	return nil
}

// Destroy destroys every semaphore and fence. It must follow a Drain.
func (s *Synchronizer) Destroy() {
	s.destroyImageSemaphores()
	for _, sl := range s.slots {
		s.dev.DestroySemaphore(sl.imageAvailable)
		s.dev.DestroyFence(sl.inFlight)
	}
	s.slots = nil
}

func (s *Synchronizer) Stats() Stats {
	st := s.stats
	st.Frames = s.counter
	return st
}
