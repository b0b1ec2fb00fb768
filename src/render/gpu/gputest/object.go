package gputest

import (
	"fmt"
)

// Kind names the type of an object tracked by the fake device.
type Kind int

const (
	KindInstance Kind = iota
	KindDevice
	KindSurface
	KindSwapchain
	KindImage
	KindImageView
	KindFramebuffer
	KindRenderPass
	KindPipelineLayout
	KindPipeline
	KindCommandPool
	KindCommandBuffer
	KindSemaphore
	KindFence
)

var kindNames = [...]string{
	KindInstance:       "instance",
	KindDevice:         "device",
	KindSurface:        "surface",
	KindSwapchain:      "swapchain",
	KindImage:          "image",
	KindImageView:      "image view",
	KindFramebuffer:    "framebuffer",
	KindRenderPass:     "render pass",
	KindPipelineLayout: "pipeline layout",
	KindPipeline:       "pipeline",
	KindCommandPool:    "command pool",
	KindCommandBuffer:  "command buffer",
	KindSemaphore:      "semaphore",
	KindFence:          "fence",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type object struct {
	id   uint64
	kind Kind
	deps []uint64
	live bool

	// semaphore
	signaled      bool
	pendingSignal bool
	waitPending   bool

	// fence
	fenceSignaled bool
	submission    *submission
	waited        bool
	submitted     bool

	// command buffer
	pool         uint64
	pendingUses  int
	simultaneous bool
	recording    bool
	executable   bool
	commands     []string

	// swapchain image
	swapchain uint64
	index     uint32
}

func (o *object) String() string {
	return fmt.Sprintf("%s %d", o.kind, o.id)
}

func (o *object) dependsOn(id uint64) bool {
	for _, d := range o.deps {
		if d == id {
			return true
		}
	}
	return false
}
