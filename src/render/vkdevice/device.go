package vkdevice

import (
	"github.com/vulkan-go/vulkan"

	"vkframe/src/render/gpu"
)

type commandBuffer struct {
	cb   vulkan.CommandBuffer
	pool gpu.CommandPool
}

func (d *Device) GraphicsQueue() gpu.Queue { return d.graphics }
func (d *Device) PresentQueue() gpu.Queue { return d.present }

func (d *Device) SurfaceSupport() (gpu.SurfaceSupport, vulkan.Result) {
	var out gpu.SurfaceSupport

	var caps vulkan.SurfaceCapabilities
	if ret := vulkan.GetPhysicalDeviceSurfaceCapabilities(d.physical, d.surface, &caps); ret != vulkan.Success {
		return out, ret
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()
	out.Capabilities = caps

	var count uint32
	if ret := vulkan.GetPhysicalDeviceSurfaceFormats(d.physical, d.surface, &count, nil); ret != vulkan.Success {
		return out, ret
	}
	if count > 0 {
		formats := make([]vulkan.SurfaceFormat, count)
		if ret := vulkan.GetPhysicalDeviceSurfaceFormats(d.physical, d.surface, &count, formats); ret != vulkan.Success {
			return out, ret
		}
		for _, f := range formats[:count] {
			f.Deref()
			out.Formats = append(out.Formats, f)
		}
	}

	count = 0
	if ret := vulkan.GetPhysicalDeviceSurfacePresentModes(d.physical, d.surface, &count, nil); ret != vulkan.Success {
		return out, ret
	}
	if count > 0 {
		modes := make([]vulkan.PresentMode, count)
		if ret := vulkan.GetPhysicalDeviceSurfacePresentModes(d.physical, d.surface, &count, modes); ret != vulkan.Success {
			return out, ret
		}
		out.PresentModes = modes[:count]
	}
	return out, vulkan.Success
}

func (d *Device) CreateSwapchain(info *gpu.SwapchainInfo) (gpu.Swapchain, vulkan.Result) {
	createInfo := vulkan.SwapchainCreateInfo{
		SType:            vulkan.StructureTypeSwapchainCreateInfo,
		Surface:          d.surface,
		MinImageCount:    info.MinImageCount,
		ImageFormat:      info.Format.Format,
		ImageColorSpace:  info.Format.ColorSpace,
		ImageExtent:      info.Extent,
		ImageArrayLayers: 1,
		ImageUsage:       vulkan.ImageUsageFlags(vulkan.ImageUsageColorAttachmentBit),
		PreTransform:     info.Transform,
		CompositeAlpha:   vulkan.CompositeAlphaOpaqueBit,
		PresentMode:      info.PresentMode,
		Clipped:          vulkan.True,
		OldSwapchain:     d.swapchains.get(info.Old),
	}
	if d.graphicsFamily != d.presentFamily {
		createInfo.ImageSharingMode = vulkan.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{d.graphicsFamily, d.presentFamily}
	} else {
		createInfo.ImageSharingMode = vulkan.SharingModeExclusive
	}

	var sc vulkan.Swapchain
	if ret := vulkan.CreateSwapchain(d.device, &createInfo, nil, &sc); ret != vulkan.Success {
		return gpu.NullSwapchain, ret
	}
	return d.swapchains.add(sc), vulkan.Success
}

// SwapchainImages returns the same handles on every call for a swapchain.
func (d *Device) SwapchainImages(sc gpu.Swapchain) ([]gpu.Image, vulkan.Result) {
	if imgs, ok := d.swapchainImages[sc]; ok {
		return imgs, vulkan.Success
	}
	handle := d.swapchains.get(sc)
	var count uint32
	if ret := vulkan.GetSwapchainImages(d.device, handle, &count, nil); ret != vulkan.Success {
		return nil, ret
	}
	images := make([]vulkan.Image, count)
	if ret := vulkan.GetSwapchainImages(d.device, handle, &count, images); ret != vulkan.Success {
		return nil, ret
	}
	out := make([]gpu.Image, 0, count)
	for _, img := range images[:count] {
		out = append(out, d.images.add(img))
	}
	d.swapchainImages[sc] = out
	return out, vulkan.Success
}

// DestroySwapchain also forgets its images, which the swapchain owns.
func (d *Device) DestroySwapchain(sc gpu.Swapchain) {
	handle, ok := d.swapchains.remove(sc)
	if !ok {
		return
	}
	for _, img := range d.swapchainImages[sc] {
		d.images.remove(img)
	}
	delete(d.swapchainImages, sc)
	vulkan.DestroySwapchain(d.device, handle, nil)
}

func (d *Device) CreateImageView(img gpu.Image, format vulkan.Format) (gpu.ImageView, vulkan.Result) {
	createInfo := vulkan.ImageViewCreateInfo{
		SType:    vulkan.StructureTypeImageViewCreateInfo,
		Image:    d.images.get(img),
		ViewType: vulkan.ImageViewType2d,
		Format:   format,
		Components: vulkan.ComponentMapping{
			R: vulkan.ComponentSwizzleIdentity,
			G: vulkan.ComponentSwizzleIdentity,
			B: vulkan.ComponentSwizzleIdentity,
			A: vulkan.ComponentSwizzleIdentity,
		},
		SubresourceRange: vulkan.ImageSubresourceRange{
			AspectMask: vulkan.ImageAspectFlags(vulkan.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	var view vulkan.ImageView
	if ret := vulkan.CreateImageView(d.device, &createInfo, nil, &view); ret != vulkan.Success {
		return 0, ret
	}
	return d.views.add(view), vulkan.Success
}

func (d *Device) DestroyImageView(view gpu.ImageView) {
	if v, ok := d.views.remove(view); ok {
		vulkan.DestroyImageView(d.device, v, nil)
	}
}

func (d *Device) CreateFramebuffer(pass gpu.RenderPass, view gpu.ImageView, extent vulkan.Extent2D) (gpu.Framebuffer, vulkan.Result) {
	createInfo := vulkan.FramebufferCreateInfo{
		SType:           vulkan.StructureTypeFramebufferCreateInfo,
		RenderPass:      d.renderPasses.get(pass),
		AttachmentCount: 1,
		PAttachments:    []vulkan.ImageView{d.views.get(view)},
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}
	var fb vulkan.Framebuffer
	if ret := vulkan.CreateFramebuffer(d.device, &createInfo, nil, &fb); ret != vulkan.Success {
		return 0, ret
	}
	return d.framebuffers.add(fb), vulkan.Success
}

func (d *Device) DestroyFramebuffer(fb gpu.Framebuffer) {
	if f, ok := d.framebuffers.remove(fb); ok {
		vulkan.DestroyFramebuffer(d.device, f, nil)
	}
}

// CreateCommandPool creates a pool on the graphics family whose buffers can
// be re-recorded individually.
func (d *Device) CreateCommandPool() (gpu.CommandPool, vulkan.Result) {
	createInfo := vulkan.CommandPoolCreateInfo{
		SType:            vulkan.StructureTypeCommandPoolCreateInfo,
		Flags:            vulkan.CommandPoolCreateFlags(vulkan.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: d.graphicsFamily,
	}
	var pool vulkan.CommandPool
	if ret := vulkan.CreateCommandPool(d.device, &createInfo, nil, &pool); ret != vulkan.Success {
		return 0, ret
	}
	return d.pools.add(pool), vulkan.Success
}

// DestroyCommandPool also forgets the buffers allocated from it.
func (d *Device) DestroyCommandPool(pool gpu.CommandPool) {
	p, ok := d.pools.remove(pool)
	if !ok {
		return
	}
	d.forgetPool(pool)
	vulkan.DestroyCommandPool(d.device, p, nil)
}

func (d *Device) forgetPool(pool gpu.CommandPool) {
	for h, cb := range d.commandBuffers.m {
		if cb.pool == pool {
			delete(d.commandBuffers.m, h)
		}
	}
}

func (d *Device) AllocateCommandBuffers(pool gpu.CommandPool, count int) ([]gpu.CommandBuffer, vulkan.Result) {
	allocInfo := vulkan.CommandBufferAllocateInfo{
		SType:              vulkan.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.pools.get(pool),
		Level:              vulkan.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(count),
	}
	buffers := make([]vulkan.CommandBuffer, count)
	if ret := vulkan.AllocateCommandBuffers(d.device, &allocInfo, buffers); ret != vulkan.Success {
		return nil, ret
	}
	out := make([]gpu.CommandBuffer, 0, count)
	for _, cb := range buffers {
		out = append(out, d.commandBuffers.add(commandBuffer{cb: cb, pool: pool}))
	}
	return out, vulkan.Success
}

func (d *Device) FreeCommandBuffers(pool gpu.CommandPool, buffers []gpu.CommandBuffer) {
	handles := make([]vulkan.CommandBuffer, 0, len(buffers))
	for _, b := range buffers {
		if cb, ok := d.commandBuffers.remove(b); ok {
			handles = append(handles, cb.cb)
		}
	}
	if len(handles) == 0 {
		return
	}
	vulkan.FreeCommandBuffers(d.device, d.pools.get(pool), uint32(len(handles)), handles)
}

func (d *Device) cb(h gpu.CommandBuffer) vulkan.CommandBuffer {
	return d.commandBuffers.get(h).cb
}

func (d *Device) BeginCommandBuffer(cb gpu.CommandBuffer, flags vulkan.CommandBufferUsageFlags) vulkan.Result {
	beginInfo := vulkan.CommandBufferBeginInfo{
		SType: vulkan.StructureTypeCommandBufferBeginInfo,
		Flags: flags,
	}
	return vulkan.BeginCommandBuffer(d.cb(cb), &beginInfo)
}

func (d *Device) EndCommandBuffer(cb gpu.CommandBuffer) vulkan.Result {
	return vulkan.EndCommandBuffer(d.cb(cb))
}

// CmdBeginRenderPass also sets the viewport and scissor to the full extent;
// the pipelines built by Pipelines keep both dynamic.
func (d *Device) CmdBeginRenderPass(cb gpu.CommandBuffer, pass gpu.RenderPass, fb gpu.Framebuffer, extent vulkan.Extent2D, clear [4]float32) {
	area := vulkan.Rect2D{Offset: vulkan.Offset2D{}, Extent: extent}
	beginInfo := vulkan.RenderPassBeginInfo{
		SType:           vulkan.StructureTypeRenderPassBeginInfo,
		RenderPass:      d.renderPasses.get(pass),
		Framebuffer:     d.framebuffers.get(fb),
		RenderArea:      area,
		ClearValueCount: 1,
		PClearValues:    []vulkan.ClearValue{vulkan.NewClearValue(clear[:])},
	}
	handle := d.cb(cb)
	vulkan.CmdBeginRenderPass(handle, &beginInfo, vulkan.SubpassContentsInline)
	vulkan.CmdSetViewport(handle, 0, 1, []vulkan.Viewport{{
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}})
	vulkan.CmdSetScissor(handle, 0, 1, []vulkan.Rect2D{area})
}

func (d *Device) CmdBindPipeline(cb gpu.CommandBuffer, pipeline gpu.Pipeline) {
	vulkan.CmdBindPipeline(d.cb(cb), vulkan.PipelineBindPointGraphics, d.pipelines.get(pipeline))
}

func (d *Device) CmdDraw(cb gpu.CommandBuffer, draw gpu.Draw) {
	handle := d.cb(cb)
	if buffers := lookup(d.buffers, draw.VertexBuffers); len(buffers) > 0 {
		offsets := make([]vulkan.DeviceSize, len(buffers))
		vulkan.CmdBindVertexBuffers(handle, 0, uint32(len(buffers)), buffers, offsets)
	}
	instances := draw.InstanceCount
	if instances == 0 {
		instances = 1
	}
	if draw.Indexed() {
		vulkan.CmdBindIndexBuffer(handle, d.buffers.get(draw.IndexBuffer), 0, draw.IndexType)
		vulkan.CmdDrawIndexed(handle, draw.IndexCount, instances, draw.FirstIndex, draw.VertexOffset, draw.FirstInstance)
		return
	}
	vulkan.CmdDraw(handle, draw.VertexCount, instances, draw.FirstVertex, draw.FirstInstance)
}

func (d *Device) CmdEndRenderPass(cb gpu.CommandBuffer) {
	vulkan.CmdEndRenderPass(d.cb(cb))
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, vulkan.Result) {
	createInfo := vulkan.SemaphoreCreateInfo{SType: vulkan.StructureTypeSemaphoreCreateInfo}
	var s vulkan.Semaphore
	if ret := vulkan.CreateSemaphore(d.device, &createInfo, nil, &s); ret != vulkan.Success {
		return gpu.NullSemaphore, ret
	}
	return d.semaphores.add(s), vulkan.Success
}

func (d *Device) DestroySemaphore(s gpu.Semaphore) {
	if h, ok := d.semaphores.remove(s); ok {
		vulkan.DestroySemaphore(d.device, h, nil)
	}
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, vulkan.Result) {
	createInfo := vulkan.FenceCreateInfo{SType: vulkan.StructureTypeFenceCreateInfo}
	if signaled {
		createInfo.Flags = vulkan.FenceCreateFlags(vulkan.FenceCreateSignaledBit)
	}
	var f vulkan.Fence
	if ret := vulkan.CreateFence(d.device, &createInfo, nil, &f); ret != vulkan.Success {
		return gpu.NullFence, ret
	}
	return d.fences.add(f), vulkan.Success
}

func (d *Device) DestroyFence(f gpu.Fence) {
	if h, ok := d.fences.remove(f); ok {
		vulkan.DestroyFence(d.device, h, nil)
	}
}

func (d *Device) WaitForFences(fences []gpu.Fence, timeout uint64) vulkan.Result {
	handles := lookup(d.fences, fences)
	if len(handles) == 0 {
		return vulkan.Success
	}
	return vulkan.WaitForFences(d.device, uint32(len(handles)), handles, vulkan.True, timeout)
}

func (d *Device) ResetFences(fences []gpu.Fence) vulkan.Result {
	handles := lookup(d.fences, fences)
	if len(handles) == 0 {
		return vulkan.Success
	}
	return vulkan.ResetFences(d.device, uint32(len(handles)), handles)
}

func (d *Device) AcquireNextImage(sc gpu.Swapchain, timeout uint64, signal gpu.Semaphore) (uint32, vulkan.Result) {
	var index uint32
	ret := vulkan.AcquireNextImage(d.device, d.swapchains.get(sc), timeout,
		d.semaphores.get(signal), vulkan.Fence(vulkan.NullHandle), &index)
	return index, ret
}

func (d *Device) QueueSubmit(q gpu.Queue, info *gpu.SubmitInfo, fence gpu.Fence) vulkan.Result {
	submit := vulkan.SubmitInfo{
		SType:              vulkan.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vulkan.CommandBuffer{d.cb(info.CommandBuffer)},
	}
	if info.Wait != gpu.NullSemaphore {
		submit.WaitSemaphoreCount = 1
		submit.PWaitSemaphores = []vulkan.Semaphore{d.semaphores.get(info.Wait)}
		submit.PWaitDstStageMask = []vulkan.PipelineStageFlags{info.WaitStage}
	}
	if info.Signal != gpu.NullSemaphore {
		submit.SignalSemaphoreCount = 1
		submit.PSignalSemaphores = []vulkan.Semaphore{d.semaphores.get(info.Signal)}
	}
	return vulkan.QueueSubmit(d.queues.get(q), 1, []vulkan.SubmitInfo{submit}, d.fences.get(fence))
}

func (d *Device) QueuePresent(q gpu.Queue, info *gpu.PresentInfo) vulkan.Result {
	present := vulkan.PresentInfo{
		SType:          vulkan.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vulkan.Swapchain{d.swapchains.get(info.Swapchain)},
		PImageIndices:  []uint32{info.ImageIndex},
	}
	if info.Wait != gpu.NullSemaphore {
		present.WaitSemaphoreCount = 1
		present.PWaitSemaphores = []vulkan.Semaphore{d.semaphores.get(info.Wait)}
	}
	return vulkan.QueuePresent(d.queues.get(q), &present)
}

func (d *Device) WaitIdle() vulkan.Result {
	return vulkan.DeviceWaitIdle(d.device)
}

// ImportBuffer hands a vertex or index buffer created by the caller to the
// frame loop. The caller keeps ownership.
func (d *Device) ImportBuffer(b vulkan.Buffer) gpu.Buffer {
	return d.buffers.add(b)
}

// ReleaseBuffer forgets an imported buffer without destroying it.
func (d *Device) ReleaseBuffer(b gpu.Buffer) {
	d.buffers.remove(b)
}
