// Package vkdevice implements the device, queue and pipeline providers of the
// frame loop on top of vulkan-go. Objects are handed out as the opaque gpu
// handles and resolved through per-kind handle tables.
//
// vulkan.SetGetInstanceProcAddr and vulkan.Init must have been called before
// New.
package vkdevice

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/vulkan-go/vulkan"

	"vkframe/src/render/gpu"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

// SurfaceFunc creates the presentation surface once the instance exists.
type SurfaceFunc func(instance vulkan.Instance) (vulkan.Surface, error)

type Config struct {
	AppName string
	// InstanceExtensions are the extensions the window system needs.
	InstanceExtensions []string
	// Validation enables the Khronos validation layer and routes its reports
	// to the registered gpu.Observer.
	Validation bool
	Surface    SurfaceFunc
	Log        *slog.Logger
}

// Device owns the instance, the surface and the logical device, and every
// object created through it.
type Device struct {
	log *slog.Logger

	instance vulkan.Instance
	debug    vulkan.DebugReportCallback
	surface  vulkan.Surface
	physical vulkan.PhysicalDevice
	device   vulkan.Device

	graphicsFamily uint32
	presentFamily  uint32
	graphics       gpu.Queue
	present        gpu.Queue

	queues          *table[gpu.Queue, vulkan.Queue]
	swapchains      *table[gpu.Swapchain, vulkan.Swapchain]
	swapchainImages map[gpu.Swapchain][]gpu.Image
	images          *table[gpu.Image, vulkan.Image]
	views           *table[gpu.ImageView, vulkan.ImageView]
	framebuffers    *table[gpu.Framebuffer, vulkan.Framebuffer]
	renderPasses    *table[gpu.RenderPass, vulkan.RenderPass]
	pipelines       *table[gpu.Pipeline, vulkan.Pipeline]
	layouts         *table[gpu.PipelineLayout, vulkan.PipelineLayout]
	pools           *table[gpu.CommandPool, vulkan.CommandPool]
	commandBuffers  *table[gpu.CommandBuffer, commandBuffer]
	semaphores      *table[gpu.Semaphore, vulkan.Semaphore]
	fences          *table[gpu.Fence, vulkan.Fence]
	buffers         *table[gpu.Buffer, vulkan.Buffer]

	mu       sync.RWMutex
	observer gpu.Observer
}

var _ gpu.Device = (*Device)(nil)
var _ gpu.Observable = (*Device)(nil)

func newDevice(log *slog.Logger) *Device {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Device{
		log:             log,
		queues:          newTable[gpu.Queue, vulkan.Queue](),
		swapchains:      newTable[gpu.Swapchain, vulkan.Swapchain](),
		swapchainImages: make(map[gpu.Swapchain][]gpu.Image),
		images:          newTable[gpu.Image, vulkan.Image](),
		views:           newTable[gpu.ImageView, vulkan.ImageView](),
		framebuffers:    newTable[gpu.Framebuffer, vulkan.Framebuffer](),
		renderPasses:    newTable[gpu.RenderPass, vulkan.RenderPass](),
		pipelines:       newTable[gpu.Pipeline, vulkan.Pipeline](),
		layouts:         newTable[gpu.PipelineLayout, vulkan.PipelineLayout](),
		pools:           newTable[gpu.CommandPool, vulkan.CommandPool](),
		commandBuffers:  newTable[gpu.CommandBuffer, commandBuffer](),
		semaphores:      newTable[gpu.Semaphore, vulkan.Semaphore](),
		fences:          newTable[gpu.Fence, vulkan.Fence](),
		buffers:         newTable[gpu.Buffer, vulkan.Buffer](),
	}
}

// New creates the instance, the surface, picks a physical device able to
// render and present to it, and creates the logical device and its queues.
// On failure everything created so far is destroyed.
func New(cfg Config) (*Device, error) {
	if cfg.Surface == nil {
		return nil, errors.New("vkdevice: no surface func")
	}
	d := newDevice(cfg.Log)
	if err := d.init(cfg); err != nil {
		d.DestroyDevice()
		d.DestroySurface()
		d.DestroyInstance()
		return nil, err
	}
	return d, nil
}

func (d *Device) init(cfg Config) error {
	if err := d.createInstance(cfg); err != nil {
		return err
	}
	surface, err := cfg.Surface(d.instance)
	if err != nil {
		return errors.Wrap(err, "create surface")
	}
	d.surface = surface
	if err := d.pickPhysicalDevice(); err != nil {
		return err
	}
	return d.createLogicalDevice(cfg.Validation)
}

func (d *Device) createInstance(cfg Config) error {
	extensions := cstrs(cfg.InstanceExtensions)
	var layers []string
	if cfg.Validation {
		if !hasAll([]string{validationLayer}, instanceLayers()) {
			return errors.Errorf("validation layer %s not available", validationLayer)
		}
		layers = cstrs([]string{validationLayer})
		extensions = append(extensions, cstr(vulkan.ExtDebugReportExtensionName))
	}

	name := cfg.AppName
	if name == "" {
		name = "vkframe"
	}
	appInfo := vulkan.ApplicationInfo{
		SType:              vulkan.StructureTypeApplicationInfo,
		PApplicationName:   cstr(name),
		ApplicationVersion: vulkan.MakeVersion(1, 0, 0),
		PEngineName:        "vkframe\x00",
		EngineVersion:      vulkan.MakeVersion(1, 0, 0),
		ApiVersion:         vulkan.ApiVersion10,
	}
	createInfo := vulkan.InstanceCreateInfo{
		SType:                   vulkan.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}

	var instance vulkan.Instance
	if err := gpu.NewError(gpu.ErrResourceCreation, "create instance", vulkan.CreateInstance(&createInfo, nil, &instance)); err != nil {
		return err
	}
	d.instance = instance
	if err := vulkan.InitInstance(instance); err != nil {
		return errors.Wrap(err, "load instance functions")
	}

	if cfg.Validation {
		dbgInfo := vulkan.DebugReportCallbackCreateInfo{
			SType: vulkan.StructureTypeDebugReportCallbackCreateInfo,
			Flags: vulkan.DebugReportFlags(vulkan.DebugReportErrorBit |
				vulkan.DebugReportWarningBit |
				vulkan.DebugReportPerformanceWarningBit |
				vulkan.DebugReportInformationBit),
			PfnCallback: d.report,
		}
		var cb vulkan.DebugReportCallback
		if err := gpu.NewError(gpu.ErrResourceCreation, "create debug report callback",
			vulkan.CreateDebugReportCallback(d.instance, &dbgInfo, nil, &cb)); err != nil {
			return err
		}
		d.debug = cb
	}
	d.log.Info("instance created", "validation", cfg.Validation, "extensions", len(extensions))
	return nil
}

func (d *Device) report(flags vulkan.DebugReportFlags, _ vulkan.DebugReportObjectType, _ uint64, _ uint,
	code int32, layer string, msg string, _ unsafe.Pointer) vulkan.Bool32 {
	d.mu.RLock()
	o := d.observer
	d.mu.RUnlock()
	if o != nil {
		o.Observe(gpu.Message{
			Severity: severity(flags),
			Code:     code,
			Layer:    layer,
			Text:     msg,
		})
	}
	return vulkan.False
}

func severity(flags vulkan.DebugReportFlags) gpu.Severity {
	switch {
	case flags&vulkan.DebugReportFlags(vulkan.DebugReportErrorBit) != 0:
		return gpu.SeverityError
	case flags&vulkan.DebugReportFlags(vulkan.DebugReportWarningBit|vulkan.DebugReportPerformanceWarningBit) != 0:
		return gpu.SeverityWarning
	case flags&vulkan.DebugReportFlags(vulkan.DebugReportInformationBit) != 0:
		return gpu.SeverityInfo
	}
	return gpu.SeverityDebug
}

// SetObserver registers o for validation reports. It may be called while
// the validation layer is reporting from another thread.
func (d *Device) SetObserver(o gpu.Observer) {
	d.mu.Lock()
	d.observer = o
	d.mu.Unlock()
}

func instanceLayers() []string {
	var count uint32
	if vulkan.EnumerateInstanceLayerProperties(&count, nil) != vulkan.Success {
		return nil
	}
	props := make([]vulkan.LayerProperties, count)
	if vulkan.EnumerateInstanceLayerProperties(&count, props) != vulkan.Success {
		return nil
	}
	names := make([]string, 0, count)
	for _, p := range props {
		p.Deref()
		names = append(names, vulkan.ToString(p.LayerName[:]))
	}
	return names
}

// cstr terminates s for the vulkan loader.
func cstr(s string) string {
	if strings.HasSuffix(s, "\x00") {
		return s
	}
	return s + "\x00"
}

func cstrs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, cstr(s))
	}
	return out
}

// hasAll reports whether every required name is available. Names compare
// without their terminator.
func hasAll(required, available []string) bool {
	set := make(map[string]struct{}, len(available))
	for _, name := range available {
		set[strings.TrimSuffix(name, "\x00")] = struct{}{}
	}
	for _, name := range required {
		if _, ok := set[strings.TrimSuffix(name, "\x00")]; !ok {
			return false
		}
	}
	return true
}

// DestroySurface destroys the presentation surface. Every swapchain must be
// gone.
func (d *Device) DestroySurface() {
	if d.surface != vulkan.NullSurface {
		vulkan.DestroySurface(d.instance, d.surface, nil)
		d.surface = vulkan.NullSurface
	}
}

// DestroyDevice destroys the logical device. Every object created through it
// must be gone; leftovers are logged.
func (d *Device) DestroyDevice() {
	if d.device == vulkan.Device(vulkan.NullHandle) {
		return
	}
	if n := d.live(); n > 0 {
		d.log.Warn("destroying device with live objects", "objects", n)
	}
	vulkan.DestroyDevice(d.device, nil)
	d.device = vulkan.Device(vulkan.NullHandle)
}

// DestroyInstance destroys the debug callback and the instance.
func (d *Device) DestroyInstance() {
	if d.instance == vulkan.Instance(vulkan.NullHandle) {
		return
	}
	if d.debug != vulkan.NullDebugReportCallback {
		vulkan.DestroyDebugReportCallback(d.instance, d.debug, nil)
		d.debug = vulkan.NullDebugReportCallback
	}
	vulkan.DestroyInstance(d.instance, nil)
	d.instance = vulkan.Instance(vulkan.NullHandle)
	d.log.Info("instance destroyed")
}

func (d *Device) live() int {
	return d.swapchains.len() + d.views.len() + d.framebuffers.len() +
		d.renderPasses.len() + d.pipelines.len() + d.layouts.len() +
		d.pools.len() + d.semaphores.len() + d.fences.len()
}
