package frame

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vulkan-go/vulkan"

	"vkframe/src/render/gpu"
	"vkframe/src/render/gpu/gputest"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type rig struct {
	dev  *gputest.Device
	sc   gpu.Swapchain
	cbs  []gpu.CommandBuffer
	sync *Synchronizer
}

func newRig(t *testing.T, cfg gputest.Config, frames, images int) *rig {
	t.Helper()
	dev := gputest.NewDevice(cfg)
	sc, ret := dev.CreateSwapchain(&gpu.SwapchainInfo{
		MinImageCount: uint32(images),
		Extent:        vulkan.Extent2D{Width: 800, Height: 600},
	})
	require.Equal(t, vulkan.Success, ret)

	pool, _ := dev.CreateCommandPool()
	cbs, ret := dev.AllocateCommandBuffers(pool, images)
	require.Equal(t, vulkan.Success, ret)
	for _, cb := range cbs {
		require.Equal(t, vulkan.Success, dev.BeginCommandBuffer(cb, vulkan.CommandBufferUsageFlags(vulkan.CommandBufferUsageSimultaneousUseBit)))
		require.Equal(t, vulkan.Success, dev.EndCommandBuffer(cb))
	}

	sync, err := New(dev, frames, images, vulkan.MaxUint64, discard())
	require.NoError(t, err)
	return &rig{dev: dev, sc: sc, cbs: cbs, sync: sync}
}

func (r *rig) tick(t *testing.T) Frame {
	t.Helper()
	f, err := r.sync.Acquire(r.sc)
	require.NoError(t, err)
	require.NoError(t, r.sync.Submit(f, r.cbs[f.Image]))
	require.NoError(t, r.sync.Present(f, r.sc))
	return f
}

// randomOrder hands out a random free image, often out of rotation.
func randomOrder(seed int64) gputest.AcquireOrder {
	rnd := rand.New(rand.NewSource(seed))
	return func(candidates []uint32) uint32 {
		return candidates[rnd.Intn(len(candidates))]
	}
}

// assertFencesWaited checks that no fence is armed again before a wait
// observed the submission it was armed for.
func assertFencesWaited(t *testing.T, events []gputest.Event) {
	t.Helper()
	armed := make(map[gpu.Fence]bool)
	for i, e := range events {
		switch e.Kind {
		case gputest.EventWait:
			armed[e.Fence] = false
		case gputest.EventSubmit:
			if e.Fence == gpu.NullFence {
				continue
			}
			assert.False(t, armed[e.Fence], "event %d: fence %d armed twice without a wait", i, e.Fence)
			armed[e.Fence] = true
		}
	}
}

func TestSynchronizer_NoSharedPrimitivesInFlight(t *testing.T) {
	orders := map[string]func() gputest.AcquireOrder{
		"rotation":     func() gputest.AcquireOrder { return nil },
		"lowest first": func() gputest.AcquireOrder { return gputest.LowestFirst },
		"random":       func() gputest.AcquireOrder { return randomOrder(7) },
		"repeat":       func() gputest.AcquireOrder { return gputest.Sequence(0, 1, 1, 0, 2, 2, 2, 1, 0, 0) },
	}

	for frames := 1; frames <= 4; frames++ {
		for images := 2; images <= 4; images++ {
			for name, order := range orders {
				t.Run(fmt.Sprintf("N=%d/images=%d/%s", frames, images, name), func(t *testing.T) {
					cfg := gputest.DefaultConfig()
					cfg.Completion = gputest.Deferred
					cfg.Order = order()
					r := newRig(t, cfg, frames, images)

					ticks := 4 * (frames + images)
					for i := 0; i < ticks; i++ {
						f := r.tick(t)
						assert.Equal(t, i%frames, f.Slot)
					}
					require.NoError(t, r.sync.Drain())
					r.sync.Destroy()

					assert.Empty(t, r.dev.Violations())
					assert.Zero(t, r.dev.Overlaps(), "command buffer submitted while pending")
					assert.Zero(t, r.dev.Live(gputest.KindSemaphore))
					assert.Zero(t, r.dev.Live(gputest.KindFence))
					assert.Equal(t, uint64(ticks), r.sync.Counter())
					assertFencesWaited(t, r.dev.Events())
				})
			}
		}
	}
}

func TestSynchronizer_InstantScenario(t *testing.T) {
	cfg := gputest.DefaultConfig()
	cfg.Completion = gputest.Instant
	r := newRig(t, cfg, 2, 3)

	for i := 0; i < 5; i++ {
		r.tick(t)
	}
	assert.Empty(t, r.dev.Violations())

	var acquired []int
	var submitted []gpu.CommandBuffer
	for _, e := range r.dev.Events() {
		switch e.Kind {
		case gputest.EventAcquire:
			acquired = append(acquired, int(e.Index))
		case gputest.EventSubmit:
			submitted = append(submitted, e.Submit.CommandBuffer)
		}
	}
	require.Len(t, acquired, 5)
	require.Len(t, submitted, 5)
	for i := range acquired {
		assert.Equal(t, r.cbs[acquired[i]], submitted[i], "tick %d", i)
	}
}

// naive keys every primitive by frame slot and never waits per image.
type naive struct {
	dev            gpu.Device
	imageAvailable []gpu.Semaphore
	renderFinished []gpu.Semaphore
	inFlight       []gpu.Fence
	counter        int
}

func newNaive(dev gpu.Device, frames int) *naive {
	n := &naive{dev: dev}
	for i := 0; i < frames; i++ {
		a, _ := dev.CreateSemaphore()
		r, _ := dev.CreateSemaphore()
		f, _ := dev.CreateFence(true)
		n.imageAvailable = append(n.imageAvailable, a)
		n.renderFinished = append(n.renderFinished, r)
		n.inFlight = append(n.inFlight, f)
	}
	return n
}

func (n *naive) tick(sc gpu.Swapchain, cbs []gpu.CommandBuffer) {
	s := n.counter % len(n.inFlight)
	n.dev.WaitForFences([]gpu.Fence{n.inFlight[s]}, vulkan.MaxUint64)
	n.dev.ResetFences([]gpu.Fence{n.inFlight[s]})
	idx, _ := n.dev.AcquireNextImage(sc, vulkan.MaxUint64, n.imageAvailable[s])
	n.dev.QueueSubmit(n.dev.GraphicsQueue(), &gpu.SubmitInfo{
		Wait:          n.imageAvailable[s],
		CommandBuffer: cbs[idx],
		Signal:        n.renderFinished[s],
	}, n.inFlight[s])
	n.dev.QueuePresent(n.dev.PresentQueue(), &gpu.PresentInfo{Wait: n.renderFinished[s], Swapchain: sc, ImageIndex: idx})
	n.counter++
}

func TestNaiveSlotScheme_Hazards(t *testing.T) {
	tests := []struct {
		name  string
		order gputest.AcquireOrder
	}{
		{"rotation", nil},
		{"out of rotation", gputest.Sequence(0, 1, 1, 0, 2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := gputest.DefaultConfig()
			cfg.Order = tt.order
			r := newRig(t, cfg, 2, 3)
			n := newNaive(r.dev, 2)

			for i := 0; i < 6; i++ {
				n.tick(r.sc, r.cbs)
			}
			require.NotEmpty(t, r.dev.Violations())
			assert.Contains(t, r.dev.Violations()[0], "signaled twice")
		})
	}

	t.Run("image rendered through another slot", func(t *testing.T) {
		cfg := gputest.DefaultConfig()
		cfg.Order = gputest.Sequence(0, 1, 1)
		r := newRig(t, cfg, 2, 3)
		n := newNaive(r.dev, 2)

		for i := 0; i < 3; i++ {
			n.tick(r.sc, r.cbs)
		}
		assert.Equal(t, 1, r.dev.Overlaps())
	})
}

func TestSynchronizer_StaleAcquire(t *testing.T) {
	r := newRig(t, gputest.DefaultConfig(), 2, 3)
	r.tick(t)

	r.dev.Inject(gputest.OpAcquire, vulkan.ErrorOutOfDate)
	_, err := r.sync.Acquire(r.sc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, gpu.ErrStaleSwapchain))
	assert.Equal(t, uint64(1), r.sync.Counter())

	f := r.tick(t)
	assert.Equal(t, 1, f.Slot)
	assert.Empty(t, r.dev.Violations())
}

func TestSynchronizer_Suboptimal(t *testing.T) {
	r := newRig(t, gputest.DefaultConfig(), 2, 3)

	r.dev.Inject(gputest.OpAcquire, vulkan.Suboptimal)
	f, err := r.sync.Acquire(r.sc)
	require.NoError(t, err)
	assert.True(t, f.Suboptimal)
	require.NoError(t, r.sync.Submit(f, r.cbs[f.Image]))

	r.dev.Inject(gputest.OpPresent, vulkan.Suboptimal)
	err = r.sync.Present(f, r.sc)
	assert.True(t, errors.Is(err, gpu.ErrStaleSwapchain))
	assert.Equal(t, uint64(1), r.sync.Counter())
}

func TestSynchronizer_Errors(t *testing.T) {
	tests := []struct {
		name   string
		op     gputest.Op
		result vulkan.Result
		want   error
	}{
		{"acquire lost", gputest.OpAcquire, vulkan.ErrorSurfaceLost, gpu.ErrSubmission},
		{"submit", gputest.OpSubmit, vulkan.ErrorDeviceLost, gpu.ErrSubmission},
		{"present", gputest.OpPresent, vulkan.ErrorOutOfHostMemory, gpu.ErrPresent},
		{"present out of date", gputest.OpPresent, vulkan.ErrorOutOfDate, gpu.ErrStaleSwapchain},
		{"fence timeout", gputest.OpWaitForFences, vulkan.Timeout, gpu.ErrSubmission},
		{"reset", gputest.OpResetFences, vulkan.ErrorDeviceLost, gpu.ErrSubmission},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, gputest.DefaultConfig(), 1, 2)
			r.tick(t)
			r.dev.Inject(tt.op, tt.result)

			f, err := r.sync.Acquire(r.sc)
			if err == nil {
				err = r.sync.Submit(f, r.cbs[f.Image])
			}
			if err == nil {
				err = r.sync.Present(f, r.sc)
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			var rerr *gpu.ResultError
			require.True(t, errors.As(err, &rerr))
			assert.Equal(t, tt.result, rerr.Result)
		})
	}
}

func TestSynchronizer_WaitImage(t *testing.T) {
	r := newRig(t, gputest.DefaultConfig(), 2, 2)
	f := r.tick(t)
	assert.Equal(t, 1, r.dev.Pending())

	require.NoError(t, r.sync.WaitImage(f.Image))
	assert.Zero(t, r.dev.Pending())
	require.NoError(t, r.sync.WaitImage(1-f.Image))
	require.NoError(t, r.sync.WaitImage(9))
	assert.Equal(t, uint64(1), r.sync.Stats().Waits)
}

func TestSynchronizer_ResizeAndStats(t *testing.T) {
	r := newRig(t, gputest.DefaultConfig(), 2, 3)
	for i := 0; i < 4; i++ {
		r.tick(t)
	}
	require.NoError(t, r.sync.Drain())
	assert.Zero(t, r.dev.Pending())

	require.NoError(t, r.sync.Resize(3))
	assert.Equal(t, 2+3, r.dev.Live(gputest.KindSemaphore))
	for i := 0; i < 4; i++ {
		r.tick(t)
	}
	require.NoError(t, r.sync.Drain())
	r.sync.Destroy()
	assert.Empty(t, r.dev.Violations())

	st := r.sync.Stats()
	assert.Equal(t, uint64(8), st.Frames)
	assert.Equal(t, uint64(1), st.Rebuilds)
	assert.NotZero(t, st.Waits)
	assert.GreaterOrEqual(t, st.TotalFrame, st.LastFrame)
	assert.Equal(t, st.TotalFrame/8, st.MeanFrame())
}

func TestNew_Failures(t *testing.T) {
	tests := []struct {
		name string
		op   gputest.Op
		ok   int
	}{
		{"slot semaphore", gputest.OpCreateSemaphore, 0},
		{"slot fence", gputest.OpCreateFence, 1},
		{"image semaphore", gputest.OpCreateSemaphore, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := gputest.NewDevice(gputest.DefaultConfig())
			results := make([]vulkan.Result, tt.ok)
			for i := range results {
				results[i] = vulkan.Success
			}
			dev.Inject(tt.op, append(results, vulkan.ErrorOutOfHostMemory)...)

			_, err := New(dev, 2, 3, vulkan.MaxUint64, discard())
			assert.True(t, errors.Is(err, gpu.ErrResourceCreation))
			assert.Zero(t, dev.Live(gputest.KindSemaphore))
			assert.Zero(t, dev.Live(gputest.KindFence))
			assert.Empty(t, dev.Violations())
		})
	}

	_, err := New(gputest.NewDevice(gputest.DefaultConfig()), 0, 3, vulkan.MaxUint64, discard())
	assert.True(t, errors.Is(err, gpu.ErrResourceCreation))
}
