package vkdevice

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/vulkan-go/vulkan"

	"vkframe/src/render/gpu"
)

const spirvMagic = 0x07230203

// Pipelines provides a single-subpass color render pass and a graphics
// pipeline without vertex input, built from two SPIR-V stages. Viewport and
// scissor are dynamic so the pipeline only depends on the render pass.
type Pipelines struct {
	dev  *Device
	vert []uint32
	frag []uint32
}

var _ gpu.PipelineProvider = (*Pipelines)(nil)

func NewPipelines(dev *Device, vert, frag []byte) (*Pipelines, error) {
	v, err := spirvWords(vert)
	if err != nil {
		return nil, errors.Wrap(err, "vertex shader")
	}
	f, err := spirvWords(frag)
	if err != nil {
		return nil, errors.Wrap(err, "fragment shader")
	}
	return &Pipelines{dev: dev, vert: v, frag: f}, nil
}

// spirvWords converts a SPIR-V blob to the words vulkan expects, checking
// the length and the magic number.
func spirvWords(code []byte) ([]uint32, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, errors.Errorf("spir-v size %d is not a positive multiple of 4", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	if words[0] != spirvMagic {
		return nil, errors.Errorf("bad spir-v magic %#08x", words[0])
	}
	return words, nil
}

func (p *Pipelines) CreateRenderPass(format vulkan.Format) (gpu.RenderPass, vulkan.Result) {
	attachment := vulkan.AttachmentDescription{
		Format:         format,
		Samples:        vulkan.SampleCount1Bit,
		LoadOp:         vulkan.AttachmentLoadOpClear,
		StoreOp:        vulkan.AttachmentStoreOpStore,
		StencilLoadOp:  vulkan.AttachmentLoadOpDontCare,
		StencilStoreOp: vulkan.AttachmentStoreOpDontCare,
		InitialLayout:  vulkan.ImageLayoutUndefined,
		FinalLayout:    vulkan.ImageLayoutPresentSrc,
	}
	subpass := vulkan.SubpassDescription{
		PipelineBindPoint:    vulkan.PipelineBindPointGraphics,
		ColorAttachmentCount: 1,
		PColorAttachments: []vulkan.AttachmentReference{{
			Attachment: 0,
			Layout:     vulkan.ImageLayoutColorAttachmentOptimal,
		}},
	}
	// the image is acquired at the color output stage, the layout transition
	// has to wait for it there too
	dependency := vulkan.SubpassDependency{
		SrcSubpass:    vulkan.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vulkan.PipelineStageFlags(vulkan.PipelineStageColorAttachmentOutputBit),
		DstStageMask:  vulkan.PipelineStageFlags(vulkan.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vulkan.AccessFlags(vulkan.AccessColorAttachmentWriteBit),
	}
	createInfo := vulkan.RenderPassCreateInfo{
		SType:           vulkan.StructureTypeRenderPassCreateInfo,
		AttachmentCount: 1,
		PAttachments:    []vulkan.AttachmentDescription{attachment},
		SubpassCount:    1,
		PSubpasses:      []vulkan.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vulkan.SubpassDependency{dependency},
	}
	var pass vulkan.RenderPass
	if ret := vulkan.CreateRenderPass(p.dev.device, &createInfo, nil, &pass); ret != vulkan.Success {
		return 0, ret
	}
	return p.dev.renderPasses.add(pass), vulkan.Success
}

func (p *Pipelines) DestroyRenderPass(pass gpu.RenderPass) {
	if h, ok := p.dev.renderPasses.remove(pass); ok {
		vulkan.DestroyRenderPass(p.dev.device, h, nil)
	}
}

func (p *Pipelines) shaderModule(words []uint32) (vulkan.ShaderModule, vulkan.Result) {
	createInfo := vulkan.ShaderModuleCreateInfo{
		SType:    vulkan.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(words) * 4),
		PCode:    words,
	}
	var module vulkan.ShaderModule
	ret := vulkan.CreateShaderModule(p.dev.device, &createInfo, nil, &module)
	return module, ret
}

// CreatePipeline builds the pipeline for pass. The extent only seeds the
// static viewport state; the recorded commands set the real one.
func (p *Pipelines) CreatePipeline(pass gpu.RenderPass, extent vulkan.Extent2D) (gpu.Pipeline, gpu.PipelineLayout, vulkan.Result) {
	device := p.dev.device
	vert, ret := p.shaderModule(p.vert)
	if ret != vulkan.Success {
		return 0, 0, ret
	}
	defer vulkan.DestroyShaderModule(device, vert, nil)
	frag, ret := p.shaderModule(p.frag)
	if ret != vulkan.Success {
		return 0, 0, ret
	}
	defer vulkan.DestroyShaderModule(device, frag, nil)

	layoutInfo := vulkan.PipelineLayoutCreateInfo{SType: vulkan.StructureTypePipelineLayoutCreateInfo}
	var layout vulkan.PipelineLayout
	if ret := vulkan.CreatePipelineLayout(device, &layoutInfo, nil, &layout); ret != vulkan.Success {
		return 0, 0, ret
	}

	stages := []vulkan.PipelineShaderStageCreateInfo{{
		SType:  vulkan.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vulkan.ShaderStageVertexBit,
		Module: vert,
		PName:  "main\x00",
	}, {
		SType:  vulkan.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vulkan.ShaderStageFragmentBit,
		Module: frag,
		PName:  "main\x00",
	}}
	dynamicStates := []vulkan.DynamicState{vulkan.DynamicStateViewport, vulkan.DynamicStateScissor}
	scissor := vulkan.Rect2D{Extent: extent}

	pipelineInfo := vulkan.GraphicsPipelineCreateInfo{
		SType:      vulkan.StructureTypeGraphicsPipelineCreateInfo,
		StageCount: uint32(len(stages)),
		PStages:    stages,
		PVertexInputState: &vulkan.PipelineVertexInputStateCreateInfo{
			SType: vulkan.StructureTypePipelineVertexInputStateCreateInfo,
		},
		PInputAssemblyState: &vulkan.PipelineInputAssemblyStateCreateInfo{
			SType:    vulkan.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: vulkan.PrimitiveTopologyTriangleList,
		},
		PViewportState: &vulkan.PipelineViewportStateCreateInfo{
			SType:         vulkan.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			PViewports: []vulkan.Viewport{{
				Width:    float32(extent.Width),
				Height:   float32(extent.Height),
				MaxDepth: 1,
			}},
			ScissorCount: 1,
			PScissors:    []vulkan.Rect2D{scissor},
		},
		PRasterizationState: &vulkan.PipelineRasterizationStateCreateInfo{
			SType:       vulkan.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: vulkan.PolygonModeFill,
			CullMode:    vulkan.CullModeFlags(vulkan.CullModeBackBit),
			FrontFace:   vulkan.FrontFaceClockwise,
			LineWidth:   1,
		},
		PMultisampleState: &vulkan.PipelineMultisampleStateCreateInfo{
			SType:                vulkan.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: vulkan.SampleCount1Bit,
			MinSampleShading:     1,
		},
		PColorBlendState: &vulkan.PipelineColorBlendStateCreateInfo{
			SType:           vulkan.StructureTypePipelineColorBlendStateCreateInfo,
			LogicOp:         vulkan.LogicOpCopy,
			AttachmentCount: 1,
			PAttachments: []vulkan.PipelineColorBlendAttachmentState{{
				ColorWriteMask: vulkan.ColorComponentFlags(vulkan.ColorComponentRBit |
					vulkan.ColorComponentGBit |
					vulkan.ColorComponentBBit |
					vulkan.ColorComponentABit),
				SrcColorBlendFactor: vulkan.BlendFactorOne,
				DstColorBlendFactor: vulkan.BlendFactorZero,
				ColorBlendOp:        vulkan.BlendOpAdd,
				SrcAlphaBlendFactor: vulkan.BlendFactorOne,
				DstAlphaBlendFactor: vulkan.BlendFactorZero,
				AlphaBlendOp:        vulkan.BlendOpAdd,
			}},
		},
		PDynamicState: &vulkan.PipelineDynamicStateCreateInfo{
			SType:             vulkan.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: uint32(len(dynamicStates)),
			PDynamicStates:    dynamicStates,
		},
		Layout:            layout,
		RenderPass:        p.dev.renderPasses.get(pass),
		BasePipelineIndex: -1,
	}

	pipelines := make([]vulkan.Pipeline, 1)
	ret = vulkan.CreateGraphicsPipelines(device, vulkan.PipelineCache(vulkan.NullHandle), 1,
		[]vulkan.GraphicsPipelineCreateInfo{pipelineInfo}, nil, pipelines)
	if ret != vulkan.Success {
		vulkan.DestroyPipelineLayout(device, layout, nil)
		return 0, 0, ret
	}
	return p.dev.pipelines.add(pipelines[0]), p.dev.layouts.add(layout), vulkan.Success
}

func (p *Pipelines) DestroyPipeline(pipeline gpu.Pipeline) {
	if h, ok := p.dev.pipelines.remove(pipeline); ok {
		vulkan.DestroyPipeline(p.dev.device, h, nil)
	}
}

func (p *Pipelines) DestroyPipelineLayout(layout gpu.PipelineLayout) {
	if h, ok := p.dev.layouts.remove(layout); ok {
		vulkan.DestroyPipelineLayout(p.dev.device, h, nil)
	}
}
