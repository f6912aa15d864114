// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"unsafe"

	"github.com/devblok/ponga/src/gfx"
	"github.com/devblok/ponga/src/gfx/vkr"
	"github.com/devblok/ponga/src/model"
	"github.com/devblok/ponga/src/utility/kar"
	vk "github.com/devblok/vulkan"
	glm "github.com/go-gl/mathgl/mgl32"
	"golang.org/x/exp/mmap"
)

// NewVulkanRenderer creates a not yet initialised Vulkan API renderer
func NewVulkanRenderer(instance Instance, cfg RendererConfiguration) (Renderer, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}

	return &VulkanRenderer{
		configuration:        cfg,
		currentSurfaceHeight: cfg.ScreenHeight,
		currentSurfaceWidth:  cfg.ScreenWidth,
		surface:              instance.Surface(),
		physicalDevice:       instance.AvailableDevices()[0],
		entities:             make(map[EntityID]*entity),
		models:               make(map[string]*modelResources),
	}, nil
}

// frameSlot is one entry of the frames-in-flight ring. The fence
// starts signaled so the first wait on it never blocks
type frameSlot struct {
	recorder      vkr.Recorder
	inFlight      vkr.Fence
	imageAcquired vkr.Semaphore
}

// entity is one drawable instance of a model
type entity struct {
	modelID   string
	transform glm.Mat4
	animated  bool
}

// meshBuffers is the uploaded GPU data of one mesh. The weight
// buffer exists only for skinned meshes
type meshBuffers struct {
	vertexBuffer vkr.Buffer
	weightBuffer vkr.Buffer
	vertexCount  uint32
	skinned      bool
}

// modelResources is the per-model GPU upload, shared between all
// entities of that model and reference counted by registration
type modelResources struct {
	id     string
	refs   int
	model  model.Model
	meshes []meshBuffers
}

// VulkanRenderer is a Vulkan API renderer
type VulkanRenderer struct {
	Destroyable
	Renderer

	configuration RendererConfiguration

	surface              vk.Surface
	currentSurfaceWidth  uint32
	currentSurfaceHeight uint32

	logicalDevice    vk.Device
	physicalDevice   vk.PhysicalDevice
	deviceQueue      vk.Queue
	queueFamilyIndex uint32

	memory *vkr.MemoryAllocator

	imageFormat     vk.Format
	imageColorspace vk.ColorSpace

	swapchain     vk.Swapchain
	presentImages []*vkr.Image
	renderDone    []vkr.Semaphore

	viewport vk.Viewport
	scissor  vk.Rect2D

	shaders       []Shader
	pipelineCache vk.PipelineCache

	commandPool vkr.CommandPool
	slots       []frameSlot
	currentSlot uint32

	gbuffer   *AttachmentSet
	composite *AttachmentSet

	sampler  vkr.Sampler
	geometry *geometryPass
	lighting *lightingPass
	post     *postPass
	animator *animator

	light lightParams
	tone  toneParams

	sceneLock sync.RWMutex
	camera    model.Uniform
	entities  map[EntityID]*entity
	models    map[string]*modelResources
}

// Initialise implements interface
func (v *VulkanRenderer) Initialise() error {
	/* Find a queue family that can run graphics, compute and presentation on one timeline */
	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(v.physicalDevice, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(v.physicalDevice, &queueFamilyCount, queueFamilies)

	required := vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit)
	familyIndex := -1
	for idx := range queueFamilies {
		queueFamilies[idx].Deref()

		var presentSupport vk.Bool32
		if err := vk.Error(vk.GetPhysicalDeviceSurfaceSupport(v.physicalDevice, uint32(idx), v.surface, &presentSupport)); err != nil {
			return errors.New("vk.GetPhysicalDeviceSurfaceSupport(): " + err.Error())
		}

		if queueFamilies[idx].QueueFlags&required == required && presentSupport.B() {
			familyIndex = idx
			break
		}
	}
	if familyIndex < 0 {
		return errors.New("no queue family supports graphics, compute and presentation together")
	}
	v.queueFamilyIndex = uint32(familyIndex)

	/* Logical device */
	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: v.queueFamilyIndex,
		QueueCount:       1,
		PQueuePriorities: []float32{1, 0},
	}}

	dci := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(v.configuration.DeviceExtensions)),
		PpEnabledExtensionNames: safeStrings(v.configuration.DeviceExtensions),
		PEnabledFeatures: []vk.PhysicalDeviceFeatures{{
			SamplerAnisotropy: vk.True,
		}},
	}

	var device vk.Device
	if err := vk.Error(vk.CreateDevice(v.physicalDevice, &dci, nil, &device)); err != nil {
		return errors.New("vk.CreateDevice(): " + err.Error())
	}
	v.logicalDevice = device

	var queue vk.Queue
	vk.GetDeviceQueue(v.logicalDevice, v.queueFamilyIndex, 0, &queue)
	v.deviceQueue = queue

	ma, err := vkr.NewMemoryAllocator(v.logicalDevice, v.physicalDevice)
	if err != nil {
		return err
	}
	v.memory = ma

	/* Surface format */
	var (
		surfaceFormatCount uint32
		surfaceFormats     []vk.SurfaceFormat
	)
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceFormats(v.physicalDevice, v.surface, &surfaceFormatCount, nil)); err != nil {
		return errors.New("vk.GetPhysicalDeviceSurfaceFormats(): " + err.Error())
	}
	surfaceFormats = make([]vk.SurfaceFormat, surfaceFormatCount)
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceFormats(v.physicalDevice, v.surface, &surfaceFormatCount, surfaceFormats)); err != nil {
		return errors.New("vk.GetPhysicalDeviceSurfaceFormats(): " + err.Error())
	}
	surfaceFormats[0].Deref()
	v.imageFormat = surfaceFormats[0].Format
	v.imageColorspace = surfaceFormats[0].ColorSpace

	/* Swapchain, presentables and their completion signals */
	if err := v.createSwapchain(nil); err != nil {
		return err
	}

	v.createViewport()

	/* Offscreen attachment sets */
	extent := gfx.Extent2D{
		Width:  uint(v.currentSurfaceWidth),
		Height: uint(v.currentSurfaceHeight),
	}
	gbuffer, err := NewAttachmentSet(v.logicalDevice, v.memory, extent, GBufferChannels())
	if err != nil {
		return err
	}
	v.gbuffer = gbuffer

	composite, err := NewAttachmentSet(v.logicalDevice, v.memory, extent, CompositeChannels())
	if err != nil {
		return err
	}
	v.composite = composite

	/* Shaders */
	if err := v.loadShaders(); err != nil {
		return err
	}

	/* Pipeline cache */
	pcci := vk.PipelineCacheCreateInfo{
		SType: vk.StructureTypePipelineCacheCreateInfo,
	}
	var pipelineCache vk.PipelineCache
	if err := vk.Error(vk.CreatePipelineCache(v.logicalDevice, &pcci, nil, &pipelineCache)); err != nil {
		return errors.New("vk.CreatePipelineCache(): " + err.Error())
	}
	v.pipelineCache = pipelineCache

	/* Command pool and the frame slot ring */
	if err := v.createFrameSlots(); err != nil {
		return err
	}

	sampler, err := vkr.NewSampler(v.logicalDevice, vk.FilterLinear)
	if err != nil {
		return err
	}
	v.sampler = sampler

	/* Phases */
	if err := v.createPhases(); err != nil {
		return err
	}

	v.light = lightParams{
		Direction: glm.Vec4{-0.4, -1, -0.3, 0},
		Color:     glm.Vec4{1, 1, 1, 0.08},
	}
	v.tone = toneParams{
		Exposure: 1,
		Gamma:    2.2,
	}
	v.camera = model.Uniform{
		View:       glm.Ident4(),
		Projection: glm.Ident4(),
	}

	return nil
}

func (v *VulkanRenderer) createSwapchain(oldSwapchain vk.Swapchain) error {
	var surfaceCapabilities vk.SurfaceCapabilities
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceCapabilities(v.physicalDevice, v.surface, &surfaceCapabilities)); err != nil {
		return errors.New("vk.GetPhysicalDeviceSurfaceCapabilities(): " + err.Error())
	}

	// In case swapchain is being recreated
	if oldSwapchain != nil {
		surfaceCapabilities.Deref()
		surfaceCapabilities.CurrentExtent.Deref()
		v.currentSurfaceHeight = surfaceCapabilities.CurrentExtent.Height
		v.currentSurfaceWidth = surfaceCapabilities.CurrentExtent.Width
	}

	compositeAlpha := vk.CompositeAlphaOpaqueBit
	compositeAlphaFlags := []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	}

	// CompositeAlpha
	for i := 0; i < len(compositeAlphaFlags); i++ {
		alphaFlags := vk.CompositeAlphaFlags(compositeAlphaFlags[i])
		flagSupported := surfaceCapabilities.SupportedCompositeAlpha&alphaFlags != 0
		if flagSupported {
			compositeAlpha = compositeAlphaFlags[i]
			break
		}
	}

	var swapchain vk.Swapchain
	scci := vk.SwapchainCreateInfo{
		SType:           vk.StructureTypeSwapchainCreateInfo,
		Surface:         v.surface,
		MinImageCount:   v.configuration.SwapchainSize,
		ImageFormat:     v.imageFormat,
		ImageColorSpace: v.imageColorspace,
		ImageExtent: vk.Extent2D{
			Width:  v.currentSurfaceWidth,
			Height: v.currentSurfaceHeight,
		},
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:     vk.SurfaceTransformIdentityBit,
		CompositeAlpha:   compositeAlpha,
		PresentMode:      vk.PresentModeFifo,
		Clipped:          vk.True,
		ImageArrayLayers: 1,
		ImageSharingMode: vk.SharingModeExclusive,
		OldSwapchain:     oldSwapchain,
	}

	if err := vk.Error(vk.CreateSwapchain(v.logicalDevice, &scci, nil, &swapchain)); err != nil {
		return errors.New("vk.CreateSwapchain(): " + err.Error())
	}
	v.swapchain = swapchain

	if oldSwapchain != nil {
		vk.DestroySwapchain(v.logicalDevice, oldSwapchain, nil)
	}

	var numImages uint32
	if err := vk.Error(vk.GetSwapchainImages(v.logicalDevice, v.swapchain, &numImages, nil)); err != nil {
		return errors.New("vk.GetSwapchainImages(num): " + err.Error())
	}

	swapchainImages := make([]vk.Image, numImages)
	if err := vk.Error(vk.GetSwapchainImages(v.logicalDevice, v.swapchain, &numImages, swapchainImages)); err != nil {
		return errors.New("vk.GetSwapchainImages(images): " + err.Error())
	}

	/* Adopt the images so their layouts are tracked, and give every
	image its own render completion signal. Presentation can hold an
	image across several frame slots, the signal has to live with
	the image, not the slot */
	imageExtent := gfx.Extent3D{
		Width:  uint(v.currentSurfaceWidth),
		Height: uint(v.currentSurfaceHeight),
		Depth:  1,
	}
	for _, img := range swapchainImages {
		presentImage, err := vkr.NewPresentImage(v.logicalDevice, img, v.imageFormat, imageExtent)
		if err != nil {
			return err
		}
		v.presentImages = append(v.presentImages, &presentImage)

		semaphore, err := vkr.NewSemaphore(v.logicalDevice)
		if err != nil {
			return err
		}
		v.renderDone = append(v.renderDone, semaphore)
	}
	return nil
}

func (v *VulkanRenderer) createViewport() {
	viewport := vk.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(v.currentSurfaceWidth),
		Height:   float32(v.currentSurfaceHeight),
		MinDepth: 0,
		MaxDepth: 1,
	}

	scissor := vk.Rect2D{
		Offset: vk.Offset2D{
			X: 0,
			Y: 0,
		},
		Extent: vk.Extent2D{
			Width:  v.currentSurfaceWidth,
			Height: v.currentSurfaceHeight,
		},
	}
	v.viewport = viewport
	v.scissor = scissor
}

func (v *VulkanRenderer) loadShaders() error {
	var shaders []Shader

	switch {
	case v.configuration.ShaderDirectory != "":
		shaderFiles, shaderTypes, err := loadShaderFilesFromDirectory(v.configuration.ShaderDirectory)
		if err != nil {
			return err
		}
		for idx, val := range shaderFiles {
			shader, err := NewVulkanShader(val, shaderTypes[idx], v.logicalDevice)
			if err != nil {
				return err
			}
			shaders = append(shaders, shader)
		}
	case v.configuration.ShaderArchive != "":
		reader, err := mmap.Open(v.configuration.ShaderArchive)
		if err != nil {
			return fmt.Errorf("mmap.Open(%s): %s", v.configuration.ShaderArchive, err.Error())
		}
		defer reader.Close()

		archive, err := kar.Open(reader)
		if err != nil {
			return fmt.Errorf("kar.Open(%s): %s", v.configuration.ShaderArchive, err.Error())
		}

		for _, entry := range archive.Index() {
			if !strings.HasSuffix(entry.Name, shaderSuffix) {
				continue
			}
			name := strings.TrimSuffix(filepath.Base(entry.Name), shaderSuffix)
			shaderType := shaderTypeFromName(name)
			if shaderType == UnknownShaderType {
				continue
			}

			contents, err := archive.ReadAll(entry.Name)
			if err != nil {
				return fmt.Errorf("shader %s: %s", entry.Name, err.Error())
			}
			shader, err := NewVulkanShaderFromBytes(name, contents, shaderType, v.logicalDevice)
			if err != nil {
				return err
			}
			shaders = append(shaders, shader)
		}
	default:
		return errors.New("no shader directory or archive configured")
	}

	v.shaders = shaders
	return nil
}

func (v *VulkanRenderer) shaderByName(name string) (Shader, error) {
	for _, shader := range v.shaders {
		if shader.Name() == name {
			return shader, nil
		}
	}
	return nil, fmt.Errorf("required shader %s is not loaded", name)
}

func (v *VulkanRenderer) createFrameSlots() error {
	commandPool, err := vkr.NewCommandPool(v.logicalDevice, v.queueFamilyIndex)
	if err != nil {
		return err
	}
	v.commandPool = commandPool

	recorders, err := v.commandPool.Allocate(v.configuration.FramesInFlight)
	if err != nil {
		return err
	}

	for _, recorder := range recorders {
		fence, err := vkr.NewFence(v.logicalDevice, true)
		if err != nil {
			return err
		}
		semaphore, err := vkr.NewSemaphore(v.logicalDevice)
		if err != nil {
			return err
		}
		v.slots = append(v.slots, frameSlot{
			recorder:      recorder,
			inFlight:      fence,
			imageAcquired: semaphore,
		})
	}
	return nil
}

func (v *VulkanRenderer) createPhases() error {
	geometryVert, err := v.shaderByName("geometry.vert")
	if err != nil {
		return err
	}
	geometryFrag, err := v.shaderByName("geometry.frag")
	if err != nil {
		return err
	}
	lightingVert, err := v.shaderByName("lighting.vert")
	if err != nil {
		return err
	}
	lightingFrag, err := v.shaderByName("lighting.frag")
	if err != nil {
		return err
	}
	postVert, err := v.shaderByName("post.vert")
	if err != nil {
		return err
	}
	postFrag, err := v.shaderByName("post.frag")
	if err != nil {
		return err
	}
	skinning, err := v.shaderByName("skinning.comp")
	if err != nil {
		return err
	}

	geometry, err := newGeometryPass(v.logicalDevice, v.pipelineCache, geometryVert, geometryFrag, v.gbuffer, v.configuration.FramesInFlight, v.memory)
	if err != nil {
		return err
	}
	v.geometry = geometry

	lighting, err := newLightingPass(v.logicalDevice, v.pipelineCache, lightingVert, lightingFrag, v.gbuffer, v.composite, v.configuration.FramesInFlight, v.sampler.Get())
	if err != nil {
		return err
	}
	v.lighting = lighting

	post, err := newPostPass(v.logicalDevice, v.pipelineCache, postVert, postFrag, v.composite, v.imageFormat, v.configuration.FramesInFlight, v.sampler.Get())
	if err != nil {
		return err
	}
	v.post = post

	extent := gfx.Extent2D{
		Width:  uint(v.currentSurfaceWidth),
		Height: uint(v.currentSurfaceHeight),
	}
	if err := v.post.rebuild(v.presentImages, extent); err != nil {
		return err
	}

	animator, err := newAnimator(v.logicalDevice, v.pipelineCache, skinning, v.configuration.FramesInFlight, v.configuration, v.memory)
	if err != nil {
		return err
	}
	v.animator = animator

	return nil
}

// RenderFrame implements interface
func (v *VulkanRenderer) RenderFrame() error {
	slot := &v.slots[v.currentSlot]

	/* The slots previous submission must have fully retired before
	any of its resources are touched */
	if err := slot.inFlight.Wait(); err != nil {
		return err
	}

	/* Slot-local updates are safe now */
	if err := v.animator.prepareSlot(v.currentSlot); err != nil {
		return err
	}
	v.sceneLock.RLock()
	camera := v.camera
	v.sceneLock.RUnlock()
	if err := v.geometry.updateCamera(v.currentSlot, camera); err != nil {
		return err
	}

	if err := slot.recorder.Reset(); err != nil {
		return err
	}
	if err := slot.recorder.Begin(); err != nil {
		return err
	}

	/* A stale surface aborts the frame without advancing the ring,
	the fence is still signaled so the slot stays reusable */
	var imageIdx uint32
	result := vk.AcquireNextImage(v.logicalDevice, v.swapchain, math.MaxUint64, slot.imageAcquired.Get(), nil, &imageIdx)
	if result == vk.ErrorOutOfDate {
		return v.rebuildSurface()
	}
	if result != vk.Success && result != vk.Suboptimal {
		return errors.New("vk.AcquireNextImage(): " + vk.Error(result).Error())
	}

	/* Record the frame phases */
	cmd := slot.recorder.Get()
	v.animator.record(cmd, v.currentSlot)

	draws := v.buildDrawList()
	if err := v.geometry.record(cmd, v.viewport, v.scissor, v.currentSlot, draws); err != nil {
		return err
	}
	if err := v.lighting.record(cmd, v.viewport, v.scissor, v.currentSlot, v.light); err != nil {
		return err
	}
	if err := v.post.record(cmd, v.viewport, v.scissor, v.currentSlot, imageIdx, v.presentImages[imageIdx], v.tone); err != nil {
		return err
	}

	if err := slot.recorder.End(); err != nil {
		return err
	}

	/* Submit, gated on the acquire signal at color output, raising
	the acquired image's completion signal and the slot fence */
	if err := slot.inFlight.Reset(); err != nil {
		return err
	}

	submit := []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{slot.imageAcquired.Get()},
		PWaitDstStageMask: []vk.PipelineStageFlags{
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{cmd},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{v.renderDone[imageIdx].Get()},
	}}

	if err := vk.Error(vk.QueueSubmit(v.deviceQueue, 1, submit, slot.inFlight.Get())); err != nil {
		return errors.New("vk.QueueSubmit(): " + err.Error())
	}

	/* Present waits on the completion signal of this image index,
	never on anything slot-bound */
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{v.renderDone[imageIdx].Get()},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{v.swapchain},
		PImageIndices:      []uint32{imageIdx},
	}

	presentResult := vk.QueuePresent(v.deviceQueue, &presentInfo)
	if presentResult == vk.ErrorOutOfDate || presentResult == vk.Suboptimal {
		// The frame is already submitted, rebuilding here is post-hoc
		if err := v.rebuildSurface(); err != nil {
			return err
		}
	} else if err := vk.Error(presentResult); err != nil {
		return errors.New("vk.QueuePresent(): " + err.Error())
	}

	v.currentSlot = (v.currentSlot + 1) % v.configuration.FramesInFlight
	return nil
}

// buildDrawList snapshots the scene into geometry phase work. The
// vertex source choice happens here at bind time, animated entities
// draw from their exclusive skinning outputs
func (v *VulkanRenderer) buildDrawList() []drawCommand {
	v.sceneLock.RLock()
	defer v.sceneLock.RUnlock()

	var draws []drawCommand
	for id, ent := range v.entities {
		res, ok := v.models[ent.modelID]
		if !ok {
			continue
		}

		for meshIdx := range res.meshes {
			draw := drawCommand{
				vertexBuffer: res.meshes[meshIdx].vertexBuffer.Get(),
				vertexCount:  res.meshes[meshIdx].vertexCount,
				transform:    ent.transform,
			}
			if ent.animated {
				if animated, ok := v.animator.vertexSource(id, meshIdx); ok {
					draw.vertexBuffer = animated
				}
			}
			draws = append(draws, draw)
		}
	}
	return draws
}

// Resize implements interface
func (v *VulkanRenderer) Resize(width, height uint32) error {
	v.currentSurfaceWidth = width
	v.currentSurfaceHeight = height
	return v.rebuildSurface()
}

// rebuildSurface drops and recreates everything sized to the
// surface. Destroy strictly precedes create so repeated calls with
// an unchanged extent cannot leak
func (v *VulkanRenderer) rebuildSurface() error {
	vk.DeviceWaitIdle(v.logicalDevice)

	for _, img := range v.presentImages {
		img.Release()
	}
	v.presentImages = nil
	for idx := range v.renderDone {
		v.renderDone[idx].Release()
	}
	v.renderDone = nil

	if err := v.createSwapchain(v.swapchain); err != nil {
		return err
	}
	v.createViewport()

	extent := gfx.Extent2D{
		Width:  uint(v.currentSurfaceWidth),
		Height: uint(v.currentSurfaceHeight),
	}
	if err := v.gbuffer.Resize(extent); err != nil {
		return err
	}
	if err := v.composite.Resize(extent); err != nil {
		return err
	}

	if err := v.geometry.rebuild(); err != nil {
		return err
	}
	if err := v.lighting.rebuild(); err != nil {
		return err
	}
	return v.post.rebuild(v.presentImages, extent)
}

// DeviceIsSuitable implements interface
func (v *VulkanRenderer) DeviceIsSuitable(device vk.PhysicalDevice) (bool, string) {
	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	required := vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit)
	for idx := range queueFamilies {
		queueFamilies[idx].Deref()

		var presentSupport vk.Bool32
		vk.GetPhysicalDeviceSurfaceSupport(device, uint32(idx), v.surface, &presentSupport)

		if queueFamilies[idx].QueueFlags&required == required && presentSupport.B() {
			return true, ""
		}
	}
	return false, "no queue family supports graphics, compute and presentation together"
}

/* Scene registration */

// ensureModelLocked uploads the model on first use and bumps the
// reference count. sceneLock must be held
func (v *VulkanRenderer) ensureModelLocked(m model.Model) (*modelResources, error) {
	if res, ok := v.models[m.ID]; ok {
		res.refs++
		return res, nil
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	res := &modelResources{
		id:    m.ID,
		model: m,
	}

	for idx, mesh := range m.Meshes {
		vertexCount := uint32(len(mesh.Vertices))
		vertexBytes := rawBytes(unsafe.Pointer(&mesh.Vertices[0]), int(vertexCount)*int(unsafe.Sizeof(model.Vertex{})))

		vertexBuffer, err := v.stageToDeviceBuffer(vertexBytes,
			vk.BufferUsageVertexBufferBit|vk.BufferUsageStorageBufferBit|vk.BufferUsageTransferSrcBit)
		if err != nil {
			v.releaseModelLocked(res)
			return nil, fmt.Errorf("mesh %d vertex upload: %s", idx, err.Error())
		}

		mb := meshBuffers{
			vertexBuffer: vertexBuffer,
			vertexCount:  vertexCount,
			skinned:      mesh.Skinned(),
		}

		if mesh.Skinned() {
			weightBytes := rawBytes(unsafe.Pointer(&mesh.Weights[0]), int(vertexCount)*int(unsafe.Sizeof(model.VertexWeights{})))
			weightBuffer, err := v.stageToDeviceBuffer(weightBytes, vk.BufferUsageStorageBufferBit)
			if err != nil {
				vertexBuffer.Release()
				v.releaseModelLocked(res)
				return nil, fmt.Errorf("mesh %d weight upload: %s", idx, err.Error())
			}
			mb.weightBuffer = weightBuffer
		}

		res.meshes = append(res.meshes, mb)
	}

	res.refs = 1
	v.models[m.ID] = res
	return res, nil
}

func (v *VulkanRenderer) releaseModelLocked(res *modelResources) {
	for idx := range res.meshes {
		res.meshes[idx].vertexBuffer.Release()
		if res.meshes[idx].skinned {
			res.meshes[idx].weightBuffer.Release()
		}
	}
	res.meshes = nil
	delete(v.models, res.id)
}

// RegisterEntity implements interface
func (v *VulkanRenderer) RegisterEntity(m model.Model, id EntityID) error {
	v.sceneLock.Lock()
	defer v.sceneLock.Unlock()

	if _, ok := v.entities[id]; ok {
		return fmt.Errorf("entity %d is already registered", id)
	}

	if _, err := v.ensureModelLocked(m); err != nil {
		return err
	}

	v.entities[id] = &entity{
		modelID:   m.ID,
		transform: glm.Ident4(),
	}
	return nil
}

// RegisterAnimatedEntity implements interface
func (v *VulkanRenderer) RegisterAnimatedEntity(m model.Model, id EntityID) error {
	v.sceneLock.Lock()
	defer v.sceneLock.Unlock()

	if _, ok := v.entities[id]; ok {
		return fmt.Errorf("entity %d is already registered", id)
	}

	res, err := v.ensureModelLocked(m)
	if err != nil {
		return err
	}

	if err := v.animator.register(m, id, res.meshes); err != nil {
		v.unrefModelLocked(m.ID)
		return err
	}

	/* Seed the outputs with the bind pose so the entity draws
	correctly before its first animation tick */
	for idx, output := range v.animator.outputs(id) {
		if err := v.copyBuffer(res.meshes[idx].vertexBuffer.Get(), output.Get(), output.Size()); err != nil {
			v.animator.unregister(id)
			v.unrefModelLocked(m.ID)
			return err
		}
	}

	v.entities[id] = &entity{
		modelID:   m.ID,
		transform: glm.Ident4(),
		animated:  true,
	}
	return nil
}

func (v *VulkanRenderer) unrefModelLocked(modelID string) {
	res, ok := v.models[modelID]
	if !ok {
		return
	}
	res.refs--
	if res.refs <= 0 {
		v.releaseModelLocked(res)
	}
}

// SetAnimationState implements interface
func (v *VulkanRenderer) SetAnimationState(id EntityID, running bool, animation, frame int) error {
	return v.animator.setState(id, running, animation, frame)
}

// SetEntityTransform implements interface
func (v *VulkanRenderer) SetEntityTransform(id EntityID, transform glm.Mat4) {
	v.sceneLock.Lock()
	defer v.sceneLock.Unlock()

	if ent, ok := v.entities[id]; ok {
		ent.transform = transform
	}
}

// SetCamera implements interface
func (v *VulkanRenderer) SetCamera(view, projection glm.Mat4) {
	v.sceneLock.Lock()
	defer v.sceneLock.Unlock()

	v.camera = model.Uniform{
		View:       view,
		Projection: projection,
	}
	v.camera.Projection[5] *= -1 // Flip from OpenGl to Vulkan projection
}

// UnregisterEntity implements interface
func (v *VulkanRenderer) UnregisterEntity(id EntityID) {
	v.sceneLock.Lock()
	defer v.sceneLock.Unlock()

	ent, ok := v.entities[id]
	if !ok {
		return
	}

	/* In-flight frames may still reference the entity's buffers */
	v.waitAllSlots()

	if ent.animated {
		v.animator.unregister(id)
	}
	v.unrefModelLocked(ent.modelID)
	delete(v.entities, id)
}

func (v *VulkanRenderer) waitAllSlots() {
	for idx := range v.slots {
		v.slots[idx].inFlight.Wait()
	}
}

/* Uploads */

// stageToDeviceBuffer moves data into a fresh device local buffer
// through a short lived staging buffer
func (v *VulkanRenderer) stageToDeviceBuffer(data []byte, usage vk.BufferUsageFlagBits) (vkr.Buffer, error) {
	staging, err := vkr.NewBuffer(
		v.logicalDevice, uint(len(data)),
		vk.BufferUsageTransferSrcBit, vk.SharingModeExclusive,
		vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit, v.memory,
	)
	if err != nil {
		return vkr.Buffer{}, err
	}
	defer staging.Release()

	if err := staging.Mem().CopyFrom(data); err != nil {
		return vkr.Buffer{}, err
	}

	device, err := vkr.NewBuffer(
		v.logicalDevice, uint(len(data)),
		usage|vk.BufferUsageTransferDstBit, vk.SharingModeExclusive,
		vk.MemoryPropertyDeviceLocalBit, v.memory,
	)
	if err != nil {
		return vkr.Buffer{}, err
	}

	if err := v.copyBuffer(staging.Get(), device.Get(), uint(len(data))); err != nil {
		device.Release()
		return vkr.Buffer{}, err
	}
	return device, nil
}

// copyBuffer runs a one time transfer and blocks until the copy's
// completion is confirmed
func (v *VulkanRenderer) copyBuffer(src, dst vk.Buffer, size uint) error {
	recorders, err := v.commandPool.Allocate(1)
	if err != nil {
		return err
	}
	defer v.commandPool.Free(recorders)

	recorder := recorders[0]
	if err := recorder.Begin(); err != nil {
		return err
	}
	vk.CmdCopyBuffer(recorder.Get(), src, dst, 1, []vk.BufferCopy{{
		SrcOffset: 0,
		DstOffset: 0,
		Size:      vk.DeviceSize(size),
	}})
	if err := recorder.End(); err != nil {
		return err
	}

	fence, err := vkr.NewFence(v.logicalDevice, false)
	if err != nil {
		return err
	}
	defer fence.Release()

	submit := []vk.SubmitInfo{{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{recorder.Get()},
	}}
	if err := vk.Error(vk.QueueSubmit(v.deviceQueue, 1, submit, fence.Get())); err != nil {
		return errors.New("vk.QueueSubmit(): " + err.Error())
	}
	return fence.Wait()
}

// Shutdown implements interface
func (v *VulkanRenderer) Shutdown() {
	/* Every in-flight frame retires before anything is released */
	v.waitAllSlots()
	vk.DeviceWaitIdle(v.logicalDevice)

	v.animator.release()
	v.post.release()
	v.lighting.release()
	v.geometry.release()

	v.sceneLock.Lock()
	for _, res := range v.models {
		for idx := range res.meshes {
			res.meshes[idx].vertexBuffer.Release()
			if res.meshes[idx].skinned {
				res.meshes[idx].weightBuffer.Release()
			}
		}
		res.meshes = nil
	}
	v.models = make(map[string]*modelResources)
	v.entities = make(map[EntityID]*entity)
	v.sceneLock.Unlock()

	v.sampler.Release()
	v.gbuffer.Release()
	v.composite.Release()

	for _, shader := range v.shaders {
		shader.Destroy()
	}
	v.shaders = nil

	for idx := range v.slots {
		v.slots[idx].imageAcquired.Release()
		v.slots[idx].inFlight.Release()
	}
	v.slots = nil
	v.commandPool.Release()

	for _, img := range v.presentImages {
		img.Release()
	}
	v.presentImages = nil
	for idx := range v.renderDone {
		v.renderDone[idx].Release()
	}
	v.renderDone = nil

	vk.DestroyPipelineCache(v.logicalDevice, v.pipelineCache, nil)
	vk.DestroySwapchain(v.logicalDevice, v.swapchain, nil)
	vk.DestroyDevice(v.logicalDevice, nil)
}
