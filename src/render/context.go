package render

import (
	"github.com/vulkan-go/vulkan"

	"vkframe/src/render/gpu"
)

// Context is what a renderer exposes to the code drawing with it.
//
// OnPrepare runs after the swapchain and everything derived from it was
// (re)built, OnCleanup before they are torn down. OnInvalidate runs after the
// command buffer of an image was re-recorded.
type Context interface {
	SetOnPrepare(onPrepare func() error)
	SetOnCleanup(onCleanup func() error)
	SetOnInvalidate(onInvalidate func(imageIndex int) error)
	Device() gpu.Device
	CommandBuffer(imageIndex int) gpu.CommandBuffer
	SwapchainDimensions() *SwapchainDimensions
	SwapchainImageDimensions() []*SwapchainImageDimensions
}

type SwapchainDimensions struct {
	Width  uint32
	Height uint32
	Format vulkan.Format
}

type SwapchainImageDimensions struct {
	Index       int
	Image       gpu.Image
	View        gpu.ImageView
	Framebuffer gpu.Framebuffer
}

var _ Context = (*Renderer)(nil)

func (r *Renderer) SetOnPrepare(onPrepare func() error) {
	r.onPrepare = onPrepare
}

func (r *Renderer) SetOnCleanup(onCleanup func() error) {
	r.onCleanup = onCleanup
}

func (r *Renderer) SetOnInvalidate(onInvalidate func(imageIndex int) error) {
	r.onInvalidate = onInvalidate
}

func (r *Renderer) Device() gpu.Device {
	return r.dev
}

// CommandBuffer returns the command buffer replayed for imageIndex, or the
// null handle before Init.
func (r *Renderer) CommandBuffer(imageIndex int) gpu.CommandBuffer {
	if r.recorder == nil || imageIndex < 0 || imageIndex >= r.recorder.Len() {
		return 0
	}
	return r.recorder.Buffer(imageIndex)
}

// SwapchainDimensions returns nil while no swapchain is built.
func (r *Renderer) SwapchainDimensions() *SwapchainDimensions {
	if r.swapchain == nil || !r.swapchain.Built() {
		return nil
	}
	extent := r.swapchain.Extent()
	return &SwapchainDimensions{
		Width:  extent.Width,
		Height: extent.Height,
		Format: r.swapchain.Format().Format,
	}
}

func (r *Renderer) SwapchainImageDimensions() []*SwapchainImageDimensions {
	if r.swapchain == nil {
		return nil
	}
	fbs := r.swapchain.Framebuffers()
	images := r.swapchain.Images()
	dims := make([]*SwapchainImageDimensions, 0, len(images))
	for i, img := range images {
		d := &SwapchainImageDimensions{Index: img.Index, Image: img.Image, View: img.View}
		if i < len(fbs) {
			d.Framebuffer = fbs[i]
		}
		dims = append(dims, d)
	}
	return dims
}
