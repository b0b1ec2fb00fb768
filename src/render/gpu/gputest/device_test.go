package gputest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vulkan-go/vulkan"

	"vkframe/src/render/gpu"
)

func newSwapchain(t *testing.T, d *Device, images uint32) gpu.Swapchain {
	t.Helper()
	sc, ret := d.CreateSwapchain(&gpu.SwapchainInfo{
		MinImageCount: images,
		Extent:        vulkan.Extent2D{Width: 800, Height: 600},
	})
	require.Equal(t, vulkan.Success, ret)
	return sc
}

func recorded(t *testing.T, d *Device, simultaneous bool) gpu.CommandBuffer {
	t.Helper()
	pool, ret := d.CreateCommandPool()
	require.Equal(t, vulkan.Success, ret)
	cbs, ret := d.AllocateCommandBuffers(pool, 1)
	require.Equal(t, vulkan.Success, ret)
	var flags vulkan.CommandBufferUsageFlags
	if simultaneous {
		flags = vulkan.CommandBufferUsageFlags(vulkan.CommandBufferUsageSimultaneousUseBit)
	}
	require.Equal(t, vulkan.Success, d.BeginCommandBuffer(cbs[0], flags))
	require.Equal(t, vulkan.Success, d.EndCommandBuffer(cbs[0]))
	return cbs[0]
}

func TestDevice_DestroyWithDependents(t *testing.T) {
	d := NewDevice(DefaultConfig())
	sc := newSwapchain(t, d, 2)
	images, ret := d.SwapchainImages(sc)
	require.Equal(t, vulkan.Success, ret)
	view, ret := d.CreateImageView(images[0], vulkan.FormatB8g8r8a8Srgb)
	require.Equal(t, vulkan.Success, ret)

	d.DestroySwapchain(sc)
	require.Len(t, d.Violations(), 1)
	assert.Contains(t, d.Violations()[0], "image view")

	d.DestroyImageView(view)
	assert.Len(t, d.Violations(), 1)
}

func TestDevice_DeferredCompletion(t *testing.T) {
	d := NewDevice(DefaultConfig())
	cb := recorded(t, d, false)
	fence, _ := d.CreateFence(false)
	signal, _ := d.CreateSemaphore()

	require.Equal(t, vulkan.Success, d.QueueSubmit(d.GraphicsQueue(), &gpu.SubmitInfo{CommandBuffer: cb, Signal: signal}, fence))
	assert.Equal(t, 1, d.Pending())

	d.DestroyFence(fence)
	assert.NotEmpty(t, d.Violations())
}

func TestDevice_FenceWaitRetires(t *testing.T) {
	d := NewDevice(DefaultConfig())
	cb := recorded(t, d, false)
	fence, _ := d.CreateFence(false)

	require.Equal(t, vulkan.Success, d.QueueSubmit(d.GraphicsQueue(), &gpu.SubmitInfo{CommandBuffer: cb}, fence))
	require.Equal(t, vulkan.Success, d.WaitForFences([]gpu.Fence{fence}, vulkan.MaxUint64))
	assert.Zero(t, d.Pending())

	require.Equal(t, vulkan.Success, d.ResetFences([]gpu.Fence{fence}))
	require.Equal(t, vulkan.Success, d.QueueSubmit(d.GraphicsQueue(), &gpu.SubmitInfo{CommandBuffer: cb}, fence))
	assert.Empty(t, d.Violations())
	assert.Zero(t, d.Overlaps())
}

func TestDevice_Violations(t *testing.T) {
	tests := []struct {
		name string
		run  func(t *testing.T, d *Device, cb gpu.CommandBuffer)
		want string
	}{
		{
			name: "fence never submitted",
			run: func(t *testing.T, d *Device, _ gpu.CommandBuffer) {
				f, _ := d.CreateFence(false)
				d.WaitForFences([]gpu.Fence{f}, vulkan.MaxUint64)
			},
			want: "will never signal",
		},
		{
			name: "fence not reset",
			run: func(t *testing.T, d *Device, cb gpu.CommandBuffer) {
				f, _ := d.CreateFence(true)
				d.QueueSubmit(d.GraphicsQueue(), &gpu.SubmitInfo{CommandBuffer: cb}, f)
			},
			want: "without a reset",
		},
		{
			name: "fence reset while pending",
			run: func(t *testing.T, d *Device, cb gpu.CommandBuffer) {
				f, _ := d.CreateFence(false)
				d.QueueSubmit(d.GraphicsQueue(), &gpu.SubmitInfo{CommandBuffer: cb}, f)
				d.ResetFences([]gpu.Fence{f})
			},
			want: "reset while its submission is pending",
		},
		{
			name: "semaphore signaled twice",
			run: func(t *testing.T, d *Device, cb gpu.CommandBuffer) {
				s, _ := d.CreateSemaphore()
				d.QueueSubmit(d.GraphicsQueue(), &gpu.SubmitInfo{CommandBuffer: cb, Signal: s}, gpu.NullFence)
				d.WaitIdle()
				d.QueueSubmit(d.GraphicsQueue(), &gpu.SubmitInfo{CommandBuffer: cb, Signal: s}, gpu.NullFence)
			},
			want: "signaled twice",
		},
		{
			name: "semaphore waited without signal",
			run: func(t *testing.T, d *Device, cb gpu.CommandBuffer) {
				s, _ := d.CreateSemaphore()
				d.QueueSubmit(d.GraphicsQueue(), &gpu.SubmitInfo{CommandBuffer: cb, Wait: s}, gpu.NullFence)
			},
			want: "no signal pending",
		},
		{
			name: "command buffer resubmitted while pending",
			run: func(t *testing.T, d *Device, cb gpu.CommandBuffer) {
				d.QueueSubmit(d.GraphicsQueue(), &gpu.SubmitInfo{CommandBuffer: cb}, gpu.NullFence)
				d.QueueSubmit(d.GraphicsQueue(), &gpu.SubmitInfo{CommandBuffer: cb}, gpu.NullFence)
			},
			want: "resubmitted while pending",
		},
		{
			name: "present without acquire",
			run: func(t *testing.T, d *Device, _ gpu.CommandBuffer) {
				sc := newSwapchain(t, d, 2)
				s, _ := d.CreateSemaphore()
				d.QueuePresent(d.PresentQueue(), &gpu.PresentInfo{Wait: s, Swapchain: sc, ImageIndex: 1})
			},
			want: "was not acquired",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDevice(DefaultConfig())
			tt.run(t, d, recorded(t, d, false))
			require.NotEmpty(t, d.Violations())
			assert.Contains(t, d.Violations()[0], tt.want)
		})
	}
}

func TestDevice_AcquireRotation(t *testing.T) {
	d := NewDevice(Config{
		Capabilities: DefaultConfig().Capabilities,
		Completion:   Instant,
	})
	sc := newSwapchain(t, d, 3)
	cb := recorded(t, d, true)

	var got []uint32
	for i := 0; i < 6; i++ {
		avail, _ := d.CreateSemaphore()
		done, _ := d.CreateSemaphore()
		idx, ret := d.AcquireNextImage(sc, vulkan.MaxUint64, avail)
		require.Equal(t, vulkan.Success, ret)
		got = append(got, idx)
		require.Equal(t, vulkan.Success, d.QueueSubmit(d.GraphicsQueue(), &gpu.SubmitInfo{Wait: avail, CommandBuffer: cb, Signal: done}, gpu.NullFence))
		require.Equal(t, vulkan.Success, d.QueuePresent(d.PresentQueue(), &gpu.PresentInfo{Wait: done, Swapchain: sc, ImageIndex: idx}))
	}
	assert.Equal(t, []uint32{0, 1, 2, 0, 1, 2}, got)
	assert.Empty(t, d.Violations())
}

func TestDevice_AcquireWhilePresenting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Order = Sequence(0, 0)
	d := NewDevice(cfg)
	sc := newSwapchain(t, d, 2)
	cb := recorded(t, d, true)

	first, _ := d.CreateSemaphore()
	done, _ := d.CreateSemaphore()
	idx, _ := d.AcquireNextImage(sc, vulkan.MaxUint64, first)
	d.QueueSubmit(d.GraphicsQueue(), &gpu.SubmitInfo{Wait: first, CommandBuffer: cb, Signal: done}, gpu.NullFence)
	d.QueuePresent(d.PresentQueue(), &gpu.PresentInfo{Wait: done, Swapchain: sc, ImageIndex: idx})

	second, _ := d.CreateSemaphore()
	again, _ := d.AcquireNextImage(sc, vulkan.MaxUint64, second)
	require.Equal(t, idx, again)
	assert.Equal(t, 1, d.Pending())

	d.QueueSubmit(d.GraphicsQueue(), &gpu.SubmitInfo{Wait: second, CommandBuffer: cb}, gpu.NullFence)
	assert.Equal(t, 1, d.Overlaps())
	d.WaitIdle()
	assert.Empty(t, d.Violations())
}

func TestDevice_Inject(t *testing.T) {
	d := NewDevice(DefaultConfig())
	d.Inject(OpCreateSwapchain, vulkan.ErrorOutOfHostMemory)

	_, ret := d.CreateSwapchain(&gpu.SwapchainInfo{MinImageCount: 2, Extent: vulkan.Extent2D{Width: 1, Height: 1}})
	assert.Equal(t, vulkan.ErrorOutOfHostMemory, ret)
	assert.Zero(t, d.Live(KindSwapchain))

	_, ret = d.CreateSwapchain(&gpu.SwapchainInfo{MinImageCount: 2, Extent: vulkan.Extent2D{Width: 1, Height: 1}})
	assert.Equal(t, vulkan.Success, ret)
	assert.Equal(t, 1, d.Live(KindSwapchain))
	assert.Equal(t, 2, d.Live(KindImage))
}

func TestDevice_Emit(t *testing.T) {
	d := NewDevice(DefaultConfig())
	var got []gpu.Message
	d.SetObserver(gpu.ObserverFunc(func(m gpu.Message) { got = append(got, m) }))
	d.Emit(gpu.Message{Severity: gpu.SeverityWarning, Text: "late"})
	require.Len(t, got, 1)
	assert.Equal(t, "late", got[0].Text)
}
