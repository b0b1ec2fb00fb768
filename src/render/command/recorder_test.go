package command

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vulkan-go/vulkan"

	"vkframe/src/render/gpu"
	"vkframe/src/render/gpu/gputest"
)

type guardMock struct {
	mock.Mock
}

func (g *guardMock) WaitImage(image int) error {
	return g.Called(image).Error(0)
}

var clearColor = [4]float32{0.1, 0.2, 0.3, 1}

func newScene(t *testing.T, dev *gputest.Device, images int) Scene {
	t.Helper()
	pass, ret := dev.CreateRenderPass(vulkan.FormatB8g8r8a8Srgb)
	require.Equal(t, vulkan.Success, ret)
	pipeline, _, ret := dev.CreatePipeline(pass, vulkan.Extent2D{Width: 800, Height: 600})
	require.Equal(t, vulkan.Success, ret)

	sc, ret := dev.CreateSwapchain(&gpu.SwapchainInfo{MinImageCount: uint32(images), Extent: vulkan.Extent2D{Width: 800, Height: 600}})
	require.Equal(t, vulkan.Success, ret)
	raw, _ := dev.SwapchainImages(sc)
	scene := Scene{
		Pass:     pass,
		Pipeline: pipeline,
		Extent:   vulkan.Extent2D{Width: 800, Height: 600},
		Draws:    []gpu.Draw{{VertexCount: 3, InstanceCount: 1}},
	}
	for _, img := range raw {
		view, _ := dev.CreateImageView(img, vulkan.FormatB8g8r8a8Srgb)
		fb, ret := dev.CreateFramebuffer(pass, view, scene.Extent)
		require.Equal(t, vulkan.Success, ret)
		scene.Framebuffers = append(scene.Framebuffers, fb)
	}
	return scene
}

func newRecorder(t *testing.T, dev *gputest.Device) *Recorder {
	t.Helper()
	r, err := NewRecorder(dev, clearColor, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return r
}

func TestRecorder_RecordAll(t *testing.T) {
	dev := gputest.NewDevice(gputest.DefaultConfig())
	scene := newScene(t, dev, 3)
	scene.Draws = append(scene.Draws, gpu.Draw{IndexBuffer: 9, IndexCount: 6, InstanceCount: 2, FirstIndex: 1, VertexOffset: -1})
	r := newRecorder(t, dev)

	require.NoError(t, r.RecordAll(scene))
	require.Equal(t, 3, r.Len())

	for i := 0; i < r.Len(); i++ {
		assert.Equal(t, []string{
			"begin(simultaneous=true)",
			fmt.Sprintf("beginRenderPass(fb=%d, 800x600, clear=%v)", scene.Framebuffers[i], clearColor),
			fmt.Sprintf("bindPipeline(%d)", scene.Pipeline),
			"draw(3, 1, 0, 0)",
			"drawIndexed(6, 2, 1, -1, 0)",
			"endRenderPass",
			"end",
		}, dev.Commands(r.Buffer(i)))
	}
	assert.Empty(t, dev.Violations())
}

func TestRecorder_Reallocate(t *testing.T) {
	dev := gputest.NewDevice(gputest.DefaultConfig())
	r := newRecorder(t, dev)

	require.NoError(t, r.RecordAll(newScene(t, dev, 3)))
	assert.Equal(t, 3, dev.Live(gputest.KindCommandBuffer))

	require.NoError(t, r.RecordAll(newScene(t, dev, 2)))
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 2, dev.Live(gputest.KindCommandBuffer))

	r.Free()
	assert.Zero(t, dev.Live(gputest.KindCommandBuffer))
	r.Destroy()
	r.Destroy()
	assert.Zero(t, dev.Live(gputest.KindCommandPool))
	assert.Empty(t, dev.Violations())
}

func TestRecorder_RecordWaitsForImage(t *testing.T) {
	dev := gputest.NewDevice(gputest.DefaultConfig())
	scene := newScene(t, dev, 2)
	r := newRecorder(t, dev)
	require.NoError(t, r.RecordAll(scene))

	guard := &guardMock{}
	guard.On("WaitImage", 1).Return(nil).Once()
	scene.Draws = []gpu.Draw{{VertexCount: 6, InstanceCount: 1}}
	require.NoError(t, r.Record(1, scene, guard))
	guard.AssertExpectations(t)

	assert.Contains(t, dev.Commands(r.Buffer(1)), "draw(6, 1, 0, 0)")
	assert.Contains(t, dev.Commands(r.Buffer(0)), "draw(3, 1, 0, 0)")
}

func TestRecorder_RecordErrors(t *testing.T) {
	dev := gputest.NewDevice(gputest.DefaultConfig())
	scene := newScene(t, dev, 2)
	r := newRecorder(t, dev)
	require.NoError(t, r.RecordAll(scene))

	failed := errors.New("device lost")
	guard := &guardMock{}
	guard.On("WaitImage", 0).Return(failed)

	err := r.Record(0, scene, guard)
	assert.True(t, errors.Is(err, failed))

	err = r.Record(5, scene, guard)
	assert.True(t, errors.Is(err, gpu.ErrResourceCreation))
	guard.AssertNumberOfCalls(t, "WaitImage", 1)
}

func TestRecorder_Failures(t *testing.T) {
	tests := []struct {
		name string
		op   gputest.Op
	}{
		{"allocate", gputest.OpAllocateCmdBufs},
		{"begin", gputest.OpBeginCmdBuf},
		{"end", gputest.OpEndCmdBuf},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := gputest.NewDevice(gputest.DefaultConfig())
			scene := newScene(t, dev, 2)
			r := newRecorder(t, dev)
			dev.Inject(tt.op, vulkan.ErrorOutOfDeviceMemory)

			err := r.RecordAll(scene)
			require.Error(t, err)
			assert.True(t, errors.Is(err, gpu.ErrResourceCreation))
		})
	}

	t.Run("pool", func(t *testing.T) {
		dev := gputest.NewDevice(gputest.DefaultConfig())
		dev.Inject(gputest.OpCreateCmdPool, vulkan.ErrorOutOfHostMemory)
		_, err := NewRecorder(dev, clearColor, slog.New(slog.NewTextHandler(io.Discard, nil)))
		assert.True(t, errors.Is(err, gpu.ErrResourceCreation))
	})
}
