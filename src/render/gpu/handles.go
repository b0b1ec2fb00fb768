package gpu

// Handles are opaque, non-zero identifiers minted by a Device. The zero value
// of every handle type is the null handle.
type (
	Queue          uint64
	Swapchain      uint64
	Image          uint64
	ImageView      uint64
	Framebuffer    uint64
	RenderPass     uint64
	Pipeline       uint64
	PipelineLayout uint64
	CommandPool    uint64
	CommandBuffer  uint64
	Semaphore      uint64
	Fence          uint64
	Buffer         uint64
)

const (
	NullSwapchain Swapchain = 0
	NullSemaphore Semaphore = 0
	NullFence     Fence     = 0
	NullBuffer    Buffer    = 0
)
