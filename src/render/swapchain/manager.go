// Package swapchain builds and tears down the presentable images of a surface.
package swapchain

import (
	"log/slog"

	"github.com/pkg/errors"
	"github.com/vulkan-go/vulkan"

	"vkframe/src/render/gpu"
)

// ErrZeroExtent is returned by Build while the surface has no area, typically
// because the window is minimized. Rendering should be suspended until it has.
var ErrZeroExtent = errors.New("surface has zero area")

// FramebufferSizer reports the window framebuffer size in pixels. It is
// satisfied by *glfw.Window.
type FramebufferSizer interface {
	GetFramebufferSize() (width, height int)
}

type Options struct {
	// VSync forces FIFO presentation.
	VSync bool
	// ImageCount is the requested number of images, min+1 when zero.
	ImageCount uint32
}

// Image is a presentable image and its color view.
type Image struct {
	Image gpu.Image
	View  gpu.ImageView
	Index int
}

// Manager owns the swapchain of one surface, its image views and the
// framebuffers built on them.
type Manager struct {
	dev  gpu.Device
	win  FramebufferSizer
	opts Options
	log  *slog.Logger

	handle       gpu.Swapchain
	format       vulkan.SurfaceFormat
	extent       vulkan.Extent2D
	presentMode  vulkan.PresentMode
	images       []Image
	framebuffers []gpu.Framebuffer
}

func New(dev gpu.Device, win FramebufferSizer, opts Options, log *slog.Logger) *Manager {
	return &Manager{
		dev:  dev,
		win:  win,
		opts: opts,
		log:  log,
	}
}

func (m *Manager) Handle() gpu.Swapchain { return m.handle }
func (m *Manager) Format() vulkan.SurfaceFormat { return m.format }
func (m *Manager) Extent() vulkan.Extent2D { return m.extent }
func (m *Manager) PresentMode() vulkan.PresentMode { return m.presentMode }
func (m *Manager) Images() []Image { return m.images }
func (m *Manager) Framebuffers() []gpu.Framebuffer { return m.framebuffers }
func (m *Manager) ImageCount() int { return len(m.images) }
func (m *Manager) Built() bool { return m.handle != gpu.NullSwapchain }

// Build creates the swapchain, replacing the live one if any. The replaced
// swapchain and its views are destroyed once the new one has been requested,
// whether or not that succeeded. Framebuffers of the replaced swapchain must
// have been destroyed already; any left are destroyed first.
//
// On ErrZeroExtent the live swapchain is kept and nothing is created.
func (m *Manager) Build() error {
	support, ret := m.dev.SurfaceSupport()
	if err := gpu.NewError(gpu.ErrResourceCreation, "query surface support", ret); err != nil {
		return err
	}
	if len(support.Formats) == 0 {
		return gpu.Errorf(gpu.ErrResourceCreation, "surface supports no formats")
	}
	if len(support.PresentModes) == 0 {
		return gpu.Errorf(gpu.ErrResourceCreation, "surface supports no present modes")
	}

	format, ok := ChooseSurfaceFormat(support.Formats)
	if !ok {
		m.log.Warn("no SRGB surface format, using the first offered",
			"format", format.Format, "color_space", format.ColorSpace)
	}
	mode := ChoosePresentMode(support.PresentModes, m.opts.VSync)
	width, height := m.win.GetFramebufferSize()
	caps := support.Capabilities
	if caps.CurrentExtent.Width == vulkan.MaxUint32 && (width <= 0 || height <= 0) {
		// the clamp would turn a minimized window into the minimum extent
		return ErrZeroExtent
	}
	extent := ChooseExtent(caps, width, height)
	if extent.Width == 0 || extent.Height == 0 {
		return ErrZeroExtent
	}
	count := ChooseImageCount(caps, m.opts.ImageCount)

	m.DestroyFramebuffers()
	old, oldImages := m.handle, m.images
	handle, ret := m.dev.CreateSwapchain(&gpu.SwapchainInfo{
		MinImageCount: count,
		Format:        format,
		Extent:        extent,
		PresentMode:   mode,
		Transform:     caps.CurrentTransform,
		Old:           old,
	})
	if old != gpu.NullSwapchain {
		m.destroyViews(oldImages)
		m.dev.DestroySwapchain(old)
		m.handle, m.images = gpu.NullSwapchain, nil
	}
	if err := gpu.NewError(gpu.ErrResourceCreation, "create swapchain", ret); err != nil {
		return err
	}

	images, err := m.createImages(handle, format.Format)
	if err != nil {
		m.dev.DestroySwapchain(handle)
		return err
	}

	m.handle = handle
	m.format = format
	m.extent = extent
	m.presentMode = mode
	m.images = images
	m.log.Info("swapchain built",
		"images", len(images),
		"width", extent.Width,
		"height", extent.Height,
		"format", format.Format,
		"present_mode", mode,
		"replaced", old != gpu.NullSwapchain)
	return nil
}

func (m *Manager) createImages(handle gpu.Swapchain, format vulkan.Format) ([]Image, error) {
	raw, ret := m.dev.SwapchainImages(handle)
	if err := gpu.NewError(gpu.ErrResourceCreation, "get swapchain images", ret); err != nil {
		return nil, err
	}
	images := make([]Image, 0, len(raw))
	for i, img := range raw {
		view, ret := m.dev.CreateImageView(img, format)
		if err := gpu.NewError(gpu.ErrResourceCreation, "create image view", ret); err != nil {
			m.destroyViews(images)
			return nil, errors.Wrapf(err, "image %d", i)
		}
		images = append(images, Image{Image: img, View: view, Index: i})
	}
	return images, nil
}

func (m *Manager) destroyViews(images []Image) {
	for _, img := range images {
		m.dev.DestroyImageView(img.View)
	}
}

// CreateFramebuffers creates one framebuffer per image view for pass.
func (m *Manager) CreateFramebuffers(pass gpu.RenderPass) error {
	m.DestroyFramebuffers()
	fbs := make([]gpu.Framebuffer, 0, len(m.images))
	for _, img := range m.images {
		fb, ret := m.dev.CreateFramebuffer(pass, img.View, m.extent)
		if err := gpu.NewError(gpu.ErrResourceCreation, "create framebuffer", ret); err != nil {
			for _, fb := range fbs {
				m.dev.DestroyFramebuffer(fb)
			}
			return errors.Wrapf(err, "image %d", img.Index)
		}
		fbs = append(fbs, fb)
	}
	m.framebuffers = fbs
	return nil
}

func (m *Manager) DestroyFramebuffers() {
	for _, fb := range m.framebuffers {
		m.dev.DestroyFramebuffer(fb)
	}
	m.framebuffers = nil
}

// Teardown destroys the framebuffers, the image views, then the swapchain.
// No submission may still reference them. Calling it again is a no-op.
func (m *Manager) Teardown() {
	m.DestroyFramebuffers()
	m.destroyViews(m.images)
	m.images = nil
	if m.handle != gpu.NullSwapchain {
		m.dev.DestroySwapchain(m.handle)
		m.handle = gpu.NullSwapchain
		m.log.Info("swapchain destroyed")
	}
}
