package swapchain

import (
	"github.com/vulkan-go/vulkan"
)

// PreferredFormat is selected when the surface leaves the choice open.
var PreferredFormat = vulkan.SurfaceFormat{
	Format:     vulkan.FormatB8g8r8a8Srgb,
	ColorSpace: vulkan.ColorSpaceSrgbNonlinear,
}

func isSRGB(f vulkan.SurfaceFormat) bool {
	if f.ColorSpace != vulkan.ColorSpaceSrgbNonlinear {
		return false
	}
	return f.Format == vulkan.FormatB8g8r8a8Srgb || f.Format == vulkan.FormatR8g8b8a8Srgb
}

// ChooseSurfaceFormat picks the first 8-bit SRGB format with a non-linear
// SRGB color space. A lone undefined format means any format is accepted.
// Without a match the first offered format is used, and ok is false.
func ChooseSurfaceFormat(formats []vulkan.SurfaceFormat) (format vulkan.SurfaceFormat, ok bool) {
	if len(formats) == 1 && formats[0].Format == vulkan.FormatUndefined {
		return PreferredFormat, true
	}
	for _, f := range formats {
		if isSRGB(f) {
			return f, true
		}
	}
	return formats[0], false
}

// ChoosePresentMode prefers MAILBOX and falls back to FIFO, which every
// surface supports. vsync forces FIFO.
func ChoosePresentMode(modes []vulkan.PresentMode, vsync bool) vulkan.PresentMode {
	if vsync {
		return vulkan.PresentModeFifo
	}
	for _, m := range modes {
		if m == vulkan.PresentModeMailbox {
			return m
		}
	}
	return vulkan.PresentModeFifo
}

// ChooseExtent returns the surface's current extent, or the framebuffer size
// clamped to the supported range when the surface lets the swapchain decide.
func ChooseExtent(caps vulkan.SurfaceCapabilities, width, height int) vulkan.Extent2D {
	if caps.CurrentExtent.Width != vulkan.MaxUint32 {
		return caps.CurrentExtent
	}
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return vulkan.Extent2D{
		Width:  clamp(uint32(width), caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: clamp(uint32(height), caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

// ChooseImageCount clamps the requested image count, min+1 when zero, into
// the supported range. A maximum of zero means unbounded.
func ChooseImageCount(caps vulkan.SurfaceCapabilities, requested uint32) uint32 {
	if requested == 0 {
		requested = caps.MinImageCount + 1
	}
	if requested < caps.MinImageCount {
		requested = caps.MinImageCount
	}
	if caps.MaxImageCount > 0 && requested > caps.MaxImageCount {
		requested = caps.MaxImageCount
	}
	return requested
}

func clamp[T ~uint32](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
