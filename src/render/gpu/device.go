package gpu

import (
	"github.com/vulkan-go/vulkan"
)

// SurfaceSupport is the result of querying a surface for swapchain support.
type SurfaceSupport struct {
	Capabilities vulkan.SurfaceCapabilities
	Formats      []vulkan.SurfaceFormat
	PresentModes []vulkan.PresentMode
}

// SwapchainInfo describes the swapchain to create. Old, when not null, is the
// swapchain being replaced; it is retired by the call whatever its outcome.
type SwapchainInfo struct {
	MinImageCount uint32
	Format        vulkan.SurfaceFormat
	Extent        vulkan.Extent2D
	PresentMode   vulkan.PresentMode
	Transform     vulkan.SurfaceTransformFlagBits
	Old           Swapchain
}

// Draw is one draw call. When IndexCount is non-zero the draw is indexed and
// IndexBuffer must be set.
type Draw struct {
	VertexBuffers []Buffer
	IndexBuffer   Buffer
	IndexType     vulkan.IndexType

	VertexCount   uint32
	IndexCount    uint32
	InstanceCount uint32
	FirstVertex   uint32
	FirstIndex    uint32
	VertexOffset  int32
	FirstInstance uint32
}

// Indexed reports whether d is an indexed draw.
func (d Draw) Indexed() bool {
	return d.IndexCount > 0
}

// SubmitInfo describes a single-batch queue submission.
type SubmitInfo struct {
	Wait          Semaphore
	WaitStage     vulkan.PipelineStageFlags
	CommandBuffer CommandBuffer
	Signal        Semaphore
}

// PresentInfo describes the presentation of one swapchain image.
type PresentInfo struct {
	Wait       Semaphore
	Swapchain  Swapchain
	ImageIndex uint32
}

type Surfaces interface {
	SurfaceSupport() (SurfaceSupport, vulkan.Result)
}

type Swapchains interface {
	CreateSwapchain(info *SwapchainInfo) (Swapchain, vulkan.Result)
	SwapchainImages(sc Swapchain) ([]Image, vulkan.Result)
	DestroySwapchain(sc Swapchain)
}

type Images interface {
	CreateImageView(img Image, format vulkan.Format) (ImageView, vulkan.Result)
	DestroyImageView(view ImageView)
	CreateFramebuffer(pass RenderPass, view ImageView, extent vulkan.Extent2D) (Framebuffer, vulkan.Result)
	DestroyFramebuffer(fb Framebuffer)
}

type Commands interface {
	CreateCommandPool() (CommandPool, vulkan.Result)
	DestroyCommandPool(pool CommandPool)
	AllocateCommandBuffers(pool CommandPool, count int) ([]CommandBuffer, vulkan.Result)
	FreeCommandBuffers(pool CommandPool, buffers []CommandBuffer)

	BeginCommandBuffer(cb CommandBuffer, flags vulkan.CommandBufferUsageFlags) vulkan.Result
	EndCommandBuffer(cb CommandBuffer) vulkan.Result
	CmdBeginRenderPass(cb CommandBuffer, pass RenderPass, fb Framebuffer, extent vulkan.Extent2D, clear [4]float32)
	CmdBindPipeline(cb CommandBuffer, pipeline Pipeline)
	CmdDraw(cb CommandBuffer, draw Draw)
	CmdEndRenderPass(cb CommandBuffer)
}

type Sync interface {
	CreateSemaphore() (Semaphore, vulkan.Result)
	DestroySemaphore(s Semaphore)
	CreateFence(signaled bool) (Fence, vulkan.Result)
	DestroyFence(f Fence)
	WaitForFences(fences []Fence, timeout uint64) vulkan.Result
	ResetFences(fences []Fence) vulkan.Result
}

type Queues interface {
	GraphicsQueue() Queue
	PresentQueue() Queue
	AcquireNextImage(sc Swapchain, timeout uint64, signal Semaphore) (uint32, vulkan.Result)
	QueueSubmit(q Queue, info *SubmitInfo, fence Fence) vulkan.Result
	QueuePresent(q Queue, info *PresentInfo) vulkan.Result
	WaitIdle() vulkan.Result
}

// Lifetime releases what the provider created before handing the device over.
// The calls must be made in declaration order.
type Lifetime interface {
	DestroySurface()
	DestroyDevice()
	DestroyInstance()
}

// Device is everything the frame loop consumes from the device/queue provider.
type Device interface {
	Surfaces
	Swapchains
	Images
	Commands
	Sync
	Queues
	Lifetime
}

// PipelineProvider supplies a render pass and a pipeline compatible with the
// swapchain format and extent.
type PipelineProvider interface {
	CreateRenderPass(format vulkan.Format) (RenderPass, vulkan.Result)
	DestroyRenderPass(pass RenderPass)
	CreatePipeline(pass RenderPass, extent vulkan.Extent2D) (Pipeline, PipelineLayout, vulkan.Result)
	DestroyPipeline(pipeline Pipeline)
	DestroyPipelineLayout(layout PipelineLayout)
}
