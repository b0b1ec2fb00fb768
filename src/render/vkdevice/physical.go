package vkdevice

import (
	"github.com/pkg/errors"
	"github.com/vulkan-go/vulkan"

	"vkframe/src/render/gpu"
)

var deviceExtensions = []string{vulkan.KhrSwapchainExtensionName}

// candidate is a physical device able to render to and present on the
// surface.
type candidate struct {
	device   vulkan.PhysicalDevice
	name     string
	discrete bool
	graphics uint32
	present  uint32
}

// score ranks candidates: discrete GPUs first, then devices whose graphics
// family also presents.
func (c candidate) score() int {
	s := 1
	if c.discrete {
		s += 1000
	}
	if c.graphics == c.present {
		s += 10
	}
	return s
}

func best(candidates []candidate) (candidate, bool) {
	var (
		out   candidate
		found bool
	)
	for _, c := range candidates {
		if !found || c.score() > out.score() {
			out, found = c, true
		}
	}
	return out, found
}

func (d *Device) pickPhysicalDevice() error {
	var count uint32
	if err := gpu.NewError(gpu.ErrResourceCreation, "enumerate physical devices",
		vulkan.EnumeratePhysicalDevices(d.instance, &count, nil)); err != nil {
		return err
	}
	if count == 0 {
		return errors.New("no GPU with vulkan support")
	}
	devices := make([]vulkan.PhysicalDevice, count)
	if err := gpu.NewError(gpu.ErrResourceCreation, "enumerate physical devices",
		vulkan.EnumeratePhysicalDevices(d.instance, &count, devices)); err != nil {
		return err
	}

	var candidates []candidate
	for _, pd := range devices {
		c, ok := d.inspect(pd)
		if !ok {
			continue
		}
		candidates = append(candidates, c)
	}
	c, ok := best(candidates)
	if !ok {
		return errors.Errorf("none of %d physical devices can render and present to the surface", count)
	}
	d.physical = c.device
	d.graphicsFamily, d.presentFamily = c.graphics, c.present
	d.log.Info("physical device selected",
		"name", c.name,
		"discrete", c.discrete,
		"graphics_family", c.graphics,
		"present_family", c.present)
	return nil
}

func (d *Device) inspect(pd vulkan.PhysicalDevice) (candidate, bool) {
	var props vulkan.PhysicalDeviceProperties
	vulkan.GetPhysicalDeviceProperties(pd, &props)
	props.Deref()
	c := candidate{
		device:   pd,
		name:     vulkan.ToString(props.DeviceName[:]),
		discrete: props.DeviceType == vulkan.PhysicalDeviceTypeDiscreteGpu,
	}

	if !hasAll(deviceExtensions, deviceExtensionNames(pd)) {
		d.log.Debug("physical device lacks swapchain support", "name", c.name)
		return c, false
	}
	graphics, present, ok := d.queueFamilies(pd)
	if !ok {
		d.log.Debug("physical device lacks graphics or present queue", "name", c.name)
		return c, false
	}
	c.graphics, c.present = graphics, present
	return c, true
}

// queueFamilies prefers one family doing both graphics and presentation.
func (d *Device) queueFamilies(pd vulkan.PhysicalDevice) (graphics, present uint32, ok bool) {
	var count uint32
	vulkan.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	families := make([]vulkan.QueueFamilyProperties, count)
	vulkan.GetPhysicalDeviceQueueFamilyProperties(pd, &count, families)

	var hasGraphics, hasPresent bool
	for i, family := range families {
		family.Deref()
		idx := uint32(i)
		isGraphics := family.QueueFlags&vulkan.QueueFlags(vulkan.QueueGraphicsBit) != 0

		var supported vulkan.Bool32
		canPresent := vulkan.GetPhysicalDeviceSurfaceSupport(pd, idx, d.surface, &supported) == vulkan.Success &&
			supported == vulkan.True

		if isGraphics && canPresent {
			return idx, idx, true
		}
		if isGraphics && !hasGraphics {
			graphics, hasGraphics = idx, true
		}
		if canPresent && !hasPresent {
			present, hasPresent = idx, true
		}
	}
	return graphics, present, hasGraphics && hasPresent
}

func deviceExtensionNames(pd vulkan.PhysicalDevice) []string {
	var count uint32
	if vulkan.EnumerateDeviceExtensionProperties(pd, "", &count, nil) != vulkan.Success {
		return nil
	}
	props := make([]vulkan.ExtensionProperties, count)
	if vulkan.EnumerateDeviceExtensionProperties(pd, "", &count, props) != vulkan.Success {
		return nil
	}
	names := make([]string, 0, count)
	for _, p := range props {
		p.Deref()
		names = append(names, vulkan.ToString(p.ExtensionName[:]))
	}
	return names
}

func (d *Device) createLogicalDevice(validation bool) error {
	families := []uint32{d.graphicsFamily}
	if d.presentFamily != d.graphicsFamily {
		families = append(families, d.presentFamily)
	}
	queueInfos := make([]vulkan.DeviceQueueCreateInfo, 0, len(families))
	for _, family := range families {
		queueInfos = append(queueInfos, vulkan.DeviceQueueCreateInfo{
			SType:            vulkan.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		})
	}

	extensions := cstrs(deviceExtensions)
	createInfo := vulkan.DeviceCreateInfo{
		SType:                   vulkan.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		PEnabledFeatures:        []vulkan.PhysicalDeviceFeatures{{}},
	}
	if validation {
		layers := cstrs([]string{validationLayer})
		createInfo.EnabledLayerCount = uint32(len(layers))
		createInfo.PpEnabledLayerNames = layers
	}

	var device vulkan.Device
	if err := gpu.NewError(gpu.ErrResourceCreation, "create device",
		vulkan.CreateDevice(d.physical, &createInfo, nil, &device)); err != nil {
		return err
	}
	d.device = device

	var graphics vulkan.Queue
	vulkan.GetDeviceQueue(d.device, d.graphicsFamily, 0, &graphics)
	d.graphics = d.queues.add(graphics)
	if d.presentFamily == d.graphicsFamily {
		d.present = d.graphics
	} else {
		var present vulkan.Queue
		vulkan.GetDeviceQueue(d.device, d.presentFamily, 0, &present)
		d.present = d.queues.add(present)
	}
	return nil
}
