// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/devblok/ponga/src/gfx"
	"github.com/devblok/ponga/src/gfx/vkr"
	"github.com/devblok/ponga/src/model"
	vk "github.com/devblok/vulkan"
	glm "github.com/go-gl/mathgl/mgl32"
)

// drawCommand is one mesh instance the geometry phase should draw.
// The vertex source is decided by the caller when the command is
// built, static meshes bind the model's buffer, animated meshes
// bind the entity's exclusive output buffer
type drawCommand struct {
	vertexBuffer vk.Buffer
	vertexCount  uint32
	transform    glm.Mat4
}

// lightParams is the lighting phase push constant block
type lightParams struct {
	Direction glm.Vec4
	Color     glm.Vec4
}

// toneParams is the post phase push constant block
type toneParams struct {
	Exposure float32
	Gamma    float32
}

func attachmentLayout(aspect vk.ImageAspectFlagBits) vk.ImageLayout {
	if aspect == vk.ImageAspectDepthBit {
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	}
	return vk.ImageLayoutColorAttachmentOptimal
}

// newRenderPass builds a single subpass render pass over the given
// channels. Initial and final layouts are identical so recording a
// pass never moves an image out of the layout the tracker believes
// it is in, all transitions stay with Image.Transition
func newRenderPass(device vk.Device, channels []AttachmentChannel) (vk.RenderPass, error) {
	attachments := make([]vk.AttachmentDescription, len(channels))
	var (
		colorRefs []vk.AttachmentReference
		depthRef  *vk.AttachmentReference
	)

	for idx, ch := range channels {
		storeOp := vk.AttachmentStoreOpStore
		if ch.Discard {
			storeOp = vk.AttachmentStoreOpDontCare
		}

		attachments[idx] = vk.AttachmentDescription{
			Format:         ch.Format,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        storeOp,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  attachmentLayout(ch.Aspect),
			FinalLayout:    attachmentLayout(ch.Aspect),
		}

		ref := vk.AttachmentReference{
			Attachment: uint32(idx),
			Layout:     attachmentLayout(ch.Aspect),
		}
		if ch.Aspect == vk.ImageAspectDepthBit {
			if depthRef != nil {
				return nil, errors.New("more than one depth channel in a pass")
			}
			depthRef = &ref
		} else {
			colorRefs = append(colorRefs, ref)
		}
	}

	// Cross-frame write-after-write on the reused attachments
	subpassDependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit | vk.AccessDepthStencilAttachmentWriteBit),
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:       vk.PipelineBindPointGraphics,
		ColorAttachmentCount:    uint32(len(colorRefs)),
		PColorAttachments:       colorRefs,
		PDepthStencilAttachment: depthRef,
	}

	rpci := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{subpassDependency},
	}

	var renderPass vk.RenderPass
	if err := vk.Error(vk.CreateRenderPass(device, &rpci, nil, &renderPass)); err != nil {
		return nil, errors.New("vk.CreateRenderPass(): " + err.Error())
	}
	return renderPass, nil
}

func newFramebuffer(device vk.Device, renderPass vk.RenderPass, views []vk.ImageView, extent gfx.Extent2D) (vk.Framebuffer, error) {
	fbci := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderPass,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           uint32(extent.Width),
		Height:          uint32(extent.Height),
		Layers:          1,
	}

	var framebuffer vk.Framebuffer
	if err := vk.Error(vk.CreateFramebuffer(device, &fbci, nil, &framebuffer)); err != nil {
		return nil, errors.New("vk.CreateFramebuffer(): " + err.Error())
	}
	return framebuffer, nil
}

func newDescriptorSetLayout(device vk.Device, bindings []vk.DescriptorSetLayoutBinding) (vk.DescriptorSetLayout, error) {
	dslci := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}

	var layout vk.DescriptorSetLayout
	if err := vk.Error(vk.CreateDescriptorSetLayout(device, &dslci, nil, &layout)); err != nil {
		return nil, errors.New("vk.CreateDescriptorSetLayout(): " + err.Error())
	}
	return layout, nil
}

func newPipelineLayout(device vk.Device, setLayouts []vk.DescriptorSetLayout, pushSize uint32, pushStages vk.ShaderStageFlagBits) (vk.PipelineLayout, error) {
	plci := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}

	if pushSize > 0 {
		plci.PushConstantRangeCount = 1
		plci.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(pushStages),
			Offset:     0,
			Size:       pushSize,
		}}
	}

	var layout vk.PipelineLayout
	if err := vk.Error(vk.CreatePipelineLayout(device, &plci, nil, &layout)); err != nil {
		return nil, errors.New("vk.CreatePipelineLayout(): " + err.Error())
	}
	return layout, nil
}

// graphicsPipelineSpec is the per-pass variation fed
// to newGraphicsPipeline
type graphicsPipelineSpec struct {
	shaders    []Shader
	layout     vk.PipelineLayout
	renderPass vk.RenderPass

	// meshInput enables the model vertex layout, fullscreen
	// passes generate their triangle from the vertex index
	meshInput bool

	depthTest   bool
	colorBlends int
}

func newGraphicsPipeline(device vk.Device, cache vk.PipelineCache, spec graphicsPipelineSpec) (vk.Pipeline, error) {
	pipelineShaderStagesInfo := make([]vk.PipelineShaderStageCreateInfo, len(spec.shaders))
	for idx, shader := range spec.shaders {

		var stage vk.ShaderStageFlagBits
		switch shader.Type() {
		case VertexShaderType:
			stage = vk.ShaderStageVertexBit
		case FragmentShaderType:
			stage = vk.ShaderStageFragmentBit
		default:
			return nil, errors.New("unsupported shader type attempted creation")
		}

		var shaderModule vk.ShaderModule
		if sm, ok := shader.ShaderModule().(vk.ShaderModule); ok {
			shaderModule = sm
		} else {
			return nil, errors.New("failed to assert shader module to it's original type")
		}

		pipelineShaderStagesInfo[idx].SType = vk.StructureTypePipelineShaderStageCreateInfo
		pipelineShaderStagesInfo[idx].Stage = stage
		pipelineShaderStagesInfo[idx].Module = shaderModule
		pipelineShaderStagesInfo[idx].PName = safeString("main")
	}

	vertexInputState := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	if spec.meshInput {
		vertexAttributeDescriptions := model.VertexAttributeDescriptions()
		vertexBindingDescriptions := model.VertexBindingDescriptions()
		vertexInputState.VertexAttributeDescriptionCount = uint32(len(vertexAttributeDescriptions))
		vertexInputState.PVertexAttributeDescriptions = vertexAttributeDescriptions
		vertexInputState.VertexBindingDescriptionCount = uint32(len(vertexBindingDescriptions))
		vertexInputState.PVertexBindingDescriptions = vertexBindingDescriptions
	}

	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, spec.colorBlends)
	for idx := range blendAttachments {
		blendAttachments[idx] = vk.PipelineColorBlendAttachmentState{
			ColorWriteMask: 0xF,
			BlendEnable:    vk.False,
		}
	}

	gpci := []vk.GraphicsPipelineCreateInfo{{
		SType:             vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:        uint32(len(pipelineShaderStagesInfo)),
		PStages:           pipelineShaderStagesInfo,
		PVertexInputState: &vertexInputState,
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: vk.PrimitiveTopologyTriangleList,
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			ScissorCount:  1,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: vk.PolygonModeFill,
			CullMode:    vk.CullModeFlags(vk.CullModeBackBit),
			FrontFace:   vk.FrontFaceCounterClockwise,
			LineWidth:   1.0,
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: vk.SampleCount1Bit,
		},
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			AttachmentCount: uint32(len(blendAttachments)),
			PAttachments:    blendAttachments,
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: 2,
			PDynamicStates: []vk.DynamicState{
				vk.DynamicStateScissor,
				vk.DynamicStateViewport,
			},
		},
		Layout:     spec.layout,
		RenderPass: spec.renderPass,
	}}

	if spec.depthTest {
		gpci[0].PDepthStencilState = &vk.PipelineDepthStencilStateCreateInfo{
			SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:       vk.True,
			DepthWriteEnable:      vk.True,
			DepthCompareOp:        vk.CompareOpLess,
			DepthBoundsTestEnable: vk.False,
			Back: vk.StencilOpState{
				FailOp:    vk.StencilOpKeep,
				PassOp:    vk.StencilOpKeep,
				CompareOp: vk.CompareOpAlways,
			},
			StencilTestEnable: vk.False,
			Front: vk.StencilOpState{
				FailOp:    vk.StencilOpKeep,
				PassOp:    vk.StencilOpKeep,
				CompareOp: vk.CompareOpAlways,
			},
		}
	}

	pipelines := make([]vk.Pipeline, len(gpci))
	if err := vk.Error(vk.CreateGraphicsPipelines(device, cache, uint32(len(gpci)), gpci, nil, pipelines)); err != nil {
		return nil, errors.New("vk.CreateGraphicsPipelines(): " + err.Error())
	}
	return pipelines[0], nil
}

/* Geometry phase */

// newGeometryPass sets up the phase that draws every entity into
// the geometry attachment set
func newGeometryPass(device vk.Device, cache vk.PipelineCache, vert, frag Shader, targets *AttachmentSet, slots uint32, ma *vkr.MemoryAllocator) (*geometryPass, error) {
	g := &geometryPass{
		device:  device,
		targets: targets,
	}

	renderPass, err := newRenderPass(device, targets.channels)
	if err != nil {
		g.release()
		return nil, err
	}
	g.renderPass = renderPass

	setLayout, err := newDescriptorSetLayout(device, []vk.DescriptorSetLayoutBinding{
		{
			Binding:         0,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit),
		},
	})
	if err != nil {
		g.release()
		return nil, err
	}
	g.setLayout = setLayout

	layout, err := newPipelineLayout(device, []vk.DescriptorSetLayout{setLayout}, uint32(unsafe.Sizeof(glm.Mat4{})), vk.ShaderStageVertexBit)
	if err != nil {
		g.release()
		return nil, err
	}
	g.layout = layout

	pipeline, err := newGraphicsPipeline(device, cache, graphicsPipelineSpec{
		shaders:     []Shader{vert, frag},
		layout:      layout,
		renderPass:  renderPass,
		meshInput:   true,
		depthTest:   true,
		colorBlends: len(targets.Colors()),
	})
	if err != nil {
		g.release()
		return nil, err
	}
	g.pipeline = pipeline

	/* View and projection uniforms, one per frame slot */
	for i := uint32(0); i < slots; i++ {
		buf, err := vkr.NewBuffer(
			device, uint(unsafe.Sizeof(model.Uniform{})),
			vk.BufferUsageUniformBufferBit, vk.SharingModeExclusive,
			vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit, ma,
		)
		if err != nil {
			g.release()
			return nil, err
		}
		g.uniforms = append(g.uniforms, buf)
	}

	poolSizes := []vk.DescriptorPoolSize{{
		Type:            vk.DescriptorTypeUniformBuffer,
		DescriptorCount: slots,
	}}
	dpci := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       slots,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	var pool vk.DescriptorPool
	if err := vk.Error(vk.CreateDescriptorPool(device, &dpci, nil, &pool)); err != nil {
		g.release()
		return nil, errors.New("vk.CreateDescriptorPool(): " + err.Error())
	}
	g.pool = pool

	g.sets = make([]vk.DescriptorSet, slots)
	for idx := range g.sets {
		dsai := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     pool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{setLayout},
		}
		if err := vk.Error(vk.AllocateDescriptorSets(device, &dsai, &g.sets[idx])); err != nil {
			g.release()
			return nil, fmt.Errorf("vk.AllocateDescriptorSets(): %s", err.Error())
		}

		dbi := vk.DescriptorBufferInfo{
			Buffer: g.uniforms[idx].Get(),
			Offset: 0,
			Range:  vk.DeviceSize(unsafe.Sizeof(model.Uniform{})),
		}
		wds := []vk.WriteDescriptorSet{{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          g.sets[idx],
			DstBinding:      0,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			PBufferInfo:     []vk.DescriptorBufferInfo{dbi},
		}}
		vk.UpdateDescriptorSets(device, uint32(len(wds)), wds, 0, nil)
	}

	if err := g.rebuild(); err != nil {
		g.release()
		return nil, err
	}
	return g, nil
}

// geometryPass draws scene geometry into the G-buffer
type geometryPass struct {
	device  vk.Device
	targets *AttachmentSet

	renderPass vk.RenderPass
	setLayout  vk.DescriptorSetLayout
	layout     vk.PipelineLayout
	pipeline   vk.Pipeline

	framebuffer vk.Framebuffer

	pool     vk.DescriptorPool
	sets     []vk.DescriptorSet
	uniforms []vkr.Buffer
}

// rebuild recreates the framebuffer from the current target images,
// called after every attachment set recreation
func (g *geometryPass) rebuild() error {
	if g.framebuffer != nil {
		vk.DestroyFramebuffer(g.device, g.framebuffer, nil)
		g.framebuffer = nil
	}

	views := make([]vk.ImageView, 0, len(g.targets.All()))
	for _, img := range g.targets.All() {
		views = append(views, img.View())
	}

	framebuffer, err := newFramebuffer(g.device, g.renderPass, views, g.targets.Extent())
	if err != nil {
		return err
	}
	g.framebuffer = framebuffer
	return nil
}

// updateCamera writes the view and projection matrices used by
// the given frame slot. Only safe once that slots fence has signaled
func (g *geometryPass) updateCamera(slot uint32, ubo model.Uniform) error {
	return g.uniforms[slot].Mem().CopyFrom(rawBytes(unsafe.Pointer(&ubo), int(unsafe.Sizeof(ubo))))
}

func (g *geometryPass) record(cmd vk.CommandBuffer, viewport vk.Viewport, scissor vk.Rect2D, slot uint32, draws []drawCommand) error {
	/* All targets into attachment layouts before the pass begins */
	for _, img := range g.targets.Colors() {
		if err := img.Transition(cmd, vk.ImageLayoutColorAttachmentOptimal); err != nil {
			return err
		}
	}
	if depth := g.targets.Depth(); depth != nil {
		if err := depth.Transition(cmd, vk.ImageLayoutDepthStencilAttachmentOptimal); err != nil {
			return err
		}
	}

	clearValues := g.targets.ClearValues()
	extent := g.targets.Extent()
	rpbi := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  g.renderPass,
		Framebuffer: g.framebuffer,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{
				Width:  uint32(extent.Width),
				Height: uint32(extent.Height),
			},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(cmd, &rpbi, vk.SubpassContentsInline)
	vk.CmdBindPipeline(cmd, vk.PipelineBindPointGraphics, g.pipeline)
	vk.CmdSetViewport(cmd, 0, 1, []vk.Viewport{viewport})
	vk.CmdSetScissor(cmd, 0, 1, []vk.Rect2D{scissor})
	vk.CmdBindDescriptorSets(cmd, vk.PipelineBindPointGraphics, g.layout, 0, 1, []vk.DescriptorSet{g.sets[slot]}, 0, nil)

	for _, draw := range draws {
		pc := draw.transform
		vk.CmdBindVertexBuffers(cmd, 0, 1, []vk.Buffer{draw.vertexBuffer}, []vk.DeviceSize{0})
		vk.CmdPushConstants(cmd, g.layout, vk.ShaderStageFlags(vk.ShaderStageVertexBit), 0, uint32(unsafe.Sizeof(pc)), unsafe.Pointer(&pc))
		vk.CmdDraw(cmd, draw.vertexCount, 1, 0, 0)
	}

	vk.CmdEndRenderPass(cmd)

	/* Color outputs become sampling inputs of the lighting phase */
	for _, img := range g.targets.Colors() {
		if err := img.Transition(cmd, vk.ImageLayoutShaderReadOnlyOptimal); err != nil {
			return err
		}
	}
	return nil
}

func (g *geometryPass) release() {
	for _, buf := range g.uniforms {
		buf.Release()
	}
	g.uniforms = nil
	if g.pool != nil {
		vk.DestroyDescriptorPool(g.device, g.pool, nil)
		g.pool = nil
	}
	if g.framebuffer != nil {
		vk.DestroyFramebuffer(g.device, g.framebuffer, nil)
		g.framebuffer = nil
	}
	if g.pipeline != nil {
		vk.DestroyPipeline(g.device, g.pipeline, nil)
		g.pipeline = nil
	}
	if g.layout != nil {
		vk.DestroyPipelineLayout(g.device, g.layout, nil)
		g.layout = nil
	}
	if g.setLayout != nil {
		vk.DestroyDescriptorSetLayout(g.device, g.setLayout, nil)
		g.setLayout = nil
	}
	if g.renderPass != nil {
		vk.DestroyRenderPass(g.device, g.renderPass, nil)
		g.renderPass = nil
	}
}

/* Lighting phase */

// newLightingPass sets up the phase that resolves the G-buffer
// into the composite target with a fullscreen triangle
func newLightingPass(device vk.Device, cache vk.PipelineCache, vert, frag Shader, gbuffer, target *AttachmentSet, slots uint32, sampler vk.Sampler) (*lightingPass, error) {
	l := &lightingPass{
		device:  device,
		gbuffer: gbuffer,
		target:  target,
		sampler: sampler,
	}

	renderPass, err := newRenderPass(device, target.channels)
	if err != nil {
		l.release()
		return nil, err
	}
	l.renderPass = renderPass

	inputs := uint32(len(gbuffer.Colors()))
	bindings := make([]vk.DescriptorSetLayoutBinding, inputs)
	for idx := range bindings {
		bindings[idx] = vk.DescriptorSetLayoutBinding{
			Binding:         uint32(idx),
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		}
	}
	setLayout, err := newDescriptorSetLayout(device, bindings)
	if err != nil {
		l.release()
		return nil, err
	}
	l.setLayout = setLayout

	layout, err := newPipelineLayout(device, []vk.DescriptorSetLayout{setLayout}, uint32(unsafe.Sizeof(lightParams{})), vk.ShaderStageFragmentBit)
	if err != nil {
		l.release()
		return nil, err
	}
	l.layout = layout

	pipeline, err := newGraphicsPipeline(device, cache, graphicsPipelineSpec{
		shaders:     []Shader{vert, frag},
		layout:      layout,
		renderPass:  renderPass,
		colorBlends: 1,
	})
	if err != nil {
		l.release()
		return nil, err
	}
	l.pipeline = pipeline

	poolSizes := []vk.DescriptorPoolSize{{
		Type:            vk.DescriptorTypeCombinedImageSampler,
		DescriptorCount: inputs * slots,
	}}
	dpci := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       slots,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	var pool vk.DescriptorPool
	if err := vk.Error(vk.CreateDescriptorPool(device, &dpci, nil, &pool)); err != nil {
		l.release()
		return nil, errors.New("vk.CreateDescriptorPool(): " + err.Error())
	}
	l.pool = pool

	l.sets = make([]vk.DescriptorSet, slots)
	for idx := range l.sets {
		dsai := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     pool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{setLayout},
		}
		if err := vk.Error(vk.AllocateDescriptorSets(device, &dsai, &l.sets[idx])); err != nil {
			l.release()
			return nil, fmt.Errorf("vk.AllocateDescriptorSets(): %s", err.Error())
		}
	}

	if err := l.rebuild(); err != nil {
		l.release()
		return nil, err
	}
	return l, nil
}

// lightingPass resolves the G-buffer into a lit composite image
type lightingPass struct {
	device  vk.Device
	gbuffer *AttachmentSet
	target  *AttachmentSet
	sampler vk.Sampler

	renderPass vk.RenderPass
	setLayout  vk.DescriptorSetLayout
	layout     vk.PipelineLayout
	pipeline   vk.Pipeline

	framebuffer vk.Framebuffer

	pool vk.DescriptorPool
	sets []vk.DescriptorSet
}

// rebuild recreates the framebuffer and rewrites the sampling
// descriptors, both embed image handles that change on resize
func (l *lightingPass) rebuild() error {
	if l.framebuffer != nil {
		vk.DestroyFramebuffer(l.device, l.framebuffer, nil)
		l.framebuffer = nil
	}

	views := make([]vk.ImageView, 0, len(l.target.All()))
	for _, img := range l.target.All() {
		views = append(views, img.View())
	}
	framebuffer, err := newFramebuffer(l.device, l.renderPass, views, l.target.Extent())
	if err != nil {
		return err
	}
	l.framebuffer = framebuffer

	for _, set := range l.sets {
		var writes []vk.WriteDescriptorSet
		for binding, img := range l.gbuffer.Colors() {
			dii := vk.DescriptorImageInfo{
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
				ImageView:   img.View(),
				Sampler:     l.sampler,
			}
			writes = append(writes, vk.WriteDescriptorSet{
				SType:           vk.StructureTypeWriteDescriptorSet,
				DstSet:          set,
				DstBinding:      uint32(binding),
				DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
				DescriptorCount: 1,
				PImageInfo:      []vk.DescriptorImageInfo{dii},
			})
		}
		vk.UpdateDescriptorSets(l.device, uint32(len(writes)), writes, 0, nil)
	}
	return nil
}

func (l *lightingPass) record(cmd vk.CommandBuffer, viewport vk.Viewport, scissor vk.Rect2D, slot uint32, light lightParams) error {
	composite := l.target.Colors()[0]
	if err := composite.Transition(cmd, vk.ImageLayoutColorAttachmentOptimal); err != nil {
		return err
	}

	clearValues := l.target.ClearValues()
	extent := l.target.Extent()
	rpbi := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  l.renderPass,
		Framebuffer: l.framebuffer,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{
				Width:  uint32(extent.Width),
				Height: uint32(extent.Height),
			},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(cmd, &rpbi, vk.SubpassContentsInline)
	vk.CmdBindPipeline(cmd, vk.PipelineBindPointGraphics, l.pipeline)
	vk.CmdSetViewport(cmd, 0, 1, []vk.Viewport{viewport})
	vk.CmdSetScissor(cmd, 0, 1, []vk.Rect2D{scissor})
	vk.CmdBindDescriptorSets(cmd, vk.PipelineBindPointGraphics, l.layout, 0, 1, []vk.DescriptorSet{l.sets[slot]}, 0, nil)
	vk.CmdPushConstants(cmd, l.layout, vk.ShaderStageFlags(vk.ShaderStageFragmentBit), 0, uint32(unsafe.Sizeof(light)), unsafe.Pointer(&light))
	vk.CmdDraw(cmd, 3, 1, 0, 0)
	vk.CmdEndRenderPass(cmd)

	/* Composite becomes the sampling input of the post phase */
	return composite.Transition(cmd, vk.ImageLayoutShaderReadOnlyOptimal)
}

func (l *lightingPass) release() {
	if l.pool != nil {
		vk.DestroyDescriptorPool(l.device, l.pool, nil)
		l.pool = nil
	}
	if l.framebuffer != nil {
		vk.DestroyFramebuffer(l.device, l.framebuffer, nil)
		l.framebuffer = nil
	}
	if l.pipeline != nil {
		vk.DestroyPipeline(l.device, l.pipeline, nil)
		l.pipeline = nil
	}
	if l.layout != nil {
		vk.DestroyPipelineLayout(l.device, l.layout, nil)
		l.layout = nil
	}
	if l.setLayout != nil {
		vk.DestroyDescriptorSetLayout(l.device, l.setLayout, nil)
		l.setLayout = nil
	}
	if l.renderPass != nil {
		vk.DestroyRenderPass(l.device, l.renderPass, nil)
		l.renderPass = nil
	}
}

/* Post phase */

// newPostPass sets up the final phase that tone maps the composite
// into the acquired presentable image
func newPostPass(device vk.Device, cache vk.PipelineCache, vert, frag Shader, source *AttachmentSet, surfaceFormat vk.Format, slots uint32, sampler vk.Sampler) (*postPass, error) {
	p := &postPass{
		device:  device,
		source:  source,
		sampler: sampler,
	}

	var clear vk.ClearValue
	clear.SetColor([]float32{0, 0, 0, 1})
	p.channels = []AttachmentChannel{{
		Name:   "swapchain",
		Format: surfaceFormat,
		Aspect: vk.ImageAspectColorBit,
		Clear:  clear,
	}}

	renderPass, err := newRenderPass(device, p.channels)
	if err != nil {
		p.release()
		return nil, err
	}
	p.renderPass = renderPass

	setLayout, err := newDescriptorSetLayout(device, []vk.DescriptorSetLayoutBinding{
		{
			Binding:         0,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		},
	})
	if err != nil {
		p.release()
		return nil, err
	}
	p.setLayout = setLayout

	layout, err := newPipelineLayout(device, []vk.DescriptorSetLayout{setLayout}, uint32(unsafe.Sizeof(toneParams{})), vk.ShaderStageFragmentBit)
	if err != nil {
		p.release()
		return nil, err
	}
	p.layout = layout

	pipeline, err := newGraphicsPipeline(device, cache, graphicsPipelineSpec{
		shaders:     []Shader{vert, frag},
		layout:      layout,
		renderPass:  renderPass,
		colorBlends: 1,
	})
	if err != nil {
		p.release()
		return nil, err
	}
	p.pipeline = pipeline

	poolSizes := []vk.DescriptorPoolSize{{
		Type:            vk.DescriptorTypeCombinedImageSampler,
		DescriptorCount: slots,
	}}
	dpci := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       slots,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	var pool vk.DescriptorPool
	if err := vk.Error(vk.CreateDescriptorPool(device, &dpci, nil, &pool)); err != nil {
		p.release()
		return nil, errors.New("vk.CreateDescriptorPool(): " + err.Error())
	}
	p.pool = pool

	p.sets = make([]vk.DescriptorSet, slots)
	for idx := range p.sets {
		dsai := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     pool,
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{setLayout},
		}
		if err := vk.Error(vk.AllocateDescriptorSets(device, &dsai, &p.sets[idx])); err != nil {
			p.release()
			return nil, fmt.Errorf("vk.AllocateDescriptorSets(): %s", err.Error())
		}
	}

	return p, nil
}

// postPass writes the composite into the presentable image
type postPass struct {
	device  vk.Device
	source  *AttachmentSet
	sampler vk.Sampler

	channels []AttachmentChannel

	renderPass vk.RenderPass
	setLayout  vk.DescriptorSetLayout
	layout     vk.PipelineLayout
	pipeline   vk.Pipeline

	framebuffers []vk.Framebuffer
	extent       gfx.Extent2D

	pool vk.DescriptorPool
	sets []vk.DescriptorSet
}

// rebuild recreates the per-presentable-image framebuffers and
// repoints the sampling descriptors at the current composite image
func (p *postPass) rebuild(presentImages []*vkr.Image, extent gfx.Extent2D) error {
	for _, fb := range p.framebuffers {
		vk.DestroyFramebuffer(p.device, fb, nil)
	}
	p.framebuffers = nil

	for _, img := range presentImages {
		framebuffer, err := newFramebuffer(p.device, p.renderPass, []vk.ImageView{img.View()}, extent)
		if err != nil {
			return err
		}
		p.framebuffers = append(p.framebuffers, framebuffer)
	}
	p.extent = extent

	composite := p.source.Colors()[0]
	for _, set := range p.sets {
		dii := vk.DescriptorImageInfo{
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			ImageView:   composite.View(),
			Sampler:     p.sampler,
		}
		wds := []vk.WriteDescriptorSet{{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      0,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			PImageInfo:      []vk.DescriptorImageInfo{dii},
		}}
		vk.UpdateDescriptorSets(p.device, uint32(len(wds)), wds, 0, nil)
	}
	return nil
}

func (p *postPass) record(cmd vk.CommandBuffer, viewport vk.Viewport, scissor vk.Rect2D, slot, imageIdx uint32, target *vkr.Image, tone toneParams) error {
	if err := target.Transition(cmd, vk.ImageLayoutColorAttachmentOptimal); err != nil {
		return err
	}

	var clear vk.ClearValue
	clear.SetColor([]float32{0, 0, 0, 1})
	rpbi := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  p.renderPass,
		Framebuffer: p.framebuffers[imageIdx],
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{
				Width:  uint32(p.extent.Width),
				Height: uint32(p.extent.Height),
			},
		},
		ClearValueCount: 1,
		PClearValues:    []vk.ClearValue{clear},
	}
	vk.CmdBeginRenderPass(cmd, &rpbi, vk.SubpassContentsInline)
	vk.CmdBindPipeline(cmd, vk.PipelineBindPointGraphics, p.pipeline)
	vk.CmdSetViewport(cmd, 0, 1, []vk.Viewport{viewport})
	vk.CmdSetScissor(cmd, 0, 1, []vk.Rect2D{scissor})
	vk.CmdBindDescriptorSets(cmd, vk.PipelineBindPointGraphics, p.layout, 0, 1, []vk.DescriptorSet{p.sets[slot]}, 0, nil)
	vk.CmdPushConstants(cmd, p.layout, vk.ShaderStageFlags(vk.ShaderStageFragmentBit), 0, uint32(unsafe.Sizeof(tone)), unsafe.Pointer(&tone))
	vk.CmdDraw(cmd, 3, 1, 0, 0)
	vk.CmdEndRenderPass(cmd)

	/* Hand the image over to the presentation engine */
	return target.Transition(cmd, vk.ImageLayoutPresentSrc)
}

func (p *postPass) release() {
	if p.pool != nil {
		vk.DestroyDescriptorPool(p.device, p.pool, nil)
		p.pool = nil
	}
	for _, fb := range p.framebuffers {
		vk.DestroyFramebuffer(p.device, fb, nil)
	}
	p.framebuffers = nil
	if p.pipeline != nil {
		vk.DestroyPipeline(p.device, p.pipeline, nil)
		p.pipeline = nil
	}
	if p.layout != nil {
		vk.DestroyPipelineLayout(p.device, p.layout, nil)
		p.layout = nil
	}
	if p.setLayout != nil {
		vk.DestroyDescriptorSetLayout(p.device, p.setLayout, nil)
		p.setLayout = nil
	}
	if p.renderPass != nil {
		vk.DestroyRenderPass(p.device, p.renderPass, nil)
		p.renderPass = nil
	}
}
