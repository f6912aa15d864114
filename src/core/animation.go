// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/devblok/ponga/src/gfx/vkr"
	"github.com/devblok/ponga/src/model"
	vk "github.com/devblok/vulkan"
	glm "github.com/go-gl/mathgl/mgl32"
)

// localGroupSize is the work group width of the skinning shader,
// shaders/skinning.comp declares the same value
const localGroupSize = 256

// AnimationState is the playback state of one animated entity
type AnimationState int

// An entity is either stopped on its last written pose or
// running a specific frame of a specific animation
const (
	AnimationStopped AnimationState = iota
	AnimationRunning
)

// groupCount derives the dispatch width for a vertex count
func groupCount(vertices, groupSize uint32) uint32 {
	return (vertices + groupSize - 1) / groupSize
}

// jointKey identifies one cached joint matrix uniform block.
// Entities playing the same frame of the same animation share it
type jointKey struct {
	modelID   string
	animation int
	frame     int
}

// newAnimator sets up the compute skinning stage
func newAnimator(device vk.Device, cache vk.PipelineCache, comp Shader, slots uint32, cfg RendererConfiguration, ma *vkr.MemoryAllocator) (*animator, error) {
	a := &animator{
		device:      device,
		ma:          ma,
		slots:       slots,
		maxEntities: cfg.MaxAnimatedEntities,
		maxMeshes:   cfg.MaxMeshesPerEntity,
		bundles:     make(map[EntityID]*animationBundle),
		joints:      make(map[jointKey]vkr.Buffer),
	}

	setLayout, err := newDescriptorSetLayout(device, []vk.DescriptorSetLayoutBinding{
		{
			Binding:         0,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		},
		{
			Binding:         1,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		},
		{
			Binding:         2,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		},
		{
			Binding:         3,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		},
	})
	if err != nil {
		a.release()
		return nil, err
	}
	a.setLayout = setLayout

	layout, err := newPipelineLayout(device, []vk.DescriptorSetLayout{setLayout}, 4, vk.ShaderStageComputeBit)
	if err != nil {
		a.release()
		return nil, err
	}
	a.layout = layout

	var shaderModule vk.ShaderModule
	if sm, ok := comp.ShaderModule().(vk.ShaderModule); ok {
		shaderModule = sm
	} else {
		a.release()
		return nil, errors.New("failed to assert shader module to it's original type")
	}

	cpci := []vk.ComputePipelineCreateInfo{{
		SType: vk.StructureTypeComputePipelineCreateInfo,
		Stage: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageComputeBit,
			Module: shaderModule,
			PName:  safeString("main"),
		},
		Layout: layout,
	}}
	pipelines := make([]vk.Pipeline, 1)
	if err := vk.Error(vk.CreateComputePipelines(device, cache, 1, cpci, nil, pipelines)); err != nil {
		a.release()
		return nil, errors.New("vk.CreateComputePipelines(): " + err.Error())
	}
	a.pipeline = pipelines[0]

	/* Pool sized from configuration, exhaustion surfaces at registration */
	maxSets := cfg.MaxAnimatedEntities * cfg.MaxMeshesPerEntity * slots
	poolSizes := []vk.DescriptorPoolSize{
		{
			Type:            vk.DescriptorTypeStorageBuffer,
			DescriptorCount: 3 * maxSets,
		},
		{
			Type:            vk.DescriptorTypeUniformBuffer,
			DescriptorCount: maxSets,
		},
	}
	dpci := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	var pool vk.DescriptorPool
	if err := vk.Error(vk.CreateDescriptorPool(device, &dpci, nil, &pool)); err != nil {
		a.release()
		return nil, errors.New("vk.CreateDescriptorPool(): " + err.Error())
	}
	a.pool = pool

	return a, nil
}

// animator owns the GPU side of skeletal animation playback,
// one registration per animated entity
type animator struct {
	device vk.Device
	ma     *vkr.MemoryAllocator
	slots  uint32

	setLayout vk.DescriptorSetLayout
	layout    vk.PipelineLayout
	pipeline  vk.Pipeline
	pool      vk.DescriptorPool

	maxEntities uint32
	maxMeshes   uint32

	lock    sync.RWMutex
	bundles map[EntityID]*animationBundle
	joints  map[jointKey]vkr.Buffer
}

// animationBundle is the per-entity animation resource set
type animationBundle struct {
	model model.Model

	state     AnimationState
	animation int
	frame     int

	meshes []animationMesh
}

// animationMesh pairs one mesh of the model with the entity's
// exclusive output buffer and its per-slot descriptor sets
type animationMesh struct {
	bindPose    vk.Buffer
	weights     vk.Buffer
	vertexCount uint32

	output vkr.Buffer

	sets []vk.DescriptorSet

	// written tracks the joint block each slots set currently
	// points at, so prepareSlot only rewrites on change
	written []jointKey
}

// register allocates the entity's output buffers and descriptor
// sets. The shared mesh buffers come from the model upload
func (a *animator) register(m model.Model, id EntityID, meshes []meshBuffers) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if _, ok := a.bundles[id]; ok {
		return fmt.Errorf("entity %d is already registered", id)
	}
	if uint32(len(a.bundles)) >= a.maxEntities {
		return fmt.Errorf("animated entity limit %d reached", a.maxEntities)
	}
	if uint32(len(m.Meshes)) > a.maxMeshes {
		return fmt.Errorf("model %s has %d meshes, limit is %d", m.ID, len(m.Meshes), a.maxMeshes)
	}
	if len(m.Animations) == 0 {
		return fmt.Errorf("model %s has no animations", m.ID)
	}
	for idx, mesh := range m.Meshes {
		if !mesh.Skinned() {
			return fmt.Errorf("mesh %d of model %s has no skinning weights", idx, m.ID)
		}
	}

	bundle := &animationBundle{
		model: m,
		state: AnimationStopped,
	}

	for idx, mesh := range m.Meshes {
		vertexCount := uint32(len(mesh.Vertices))
		size := uint(vertexCount) * uint(unsafe.Sizeof(model.Vertex{}))

		output, err := vkr.NewBuffer(
			a.device, size,
			vk.BufferUsageStorageBufferBit|vk.BufferUsageVertexBufferBit|vk.BufferUsageTransferDstBit,
			vk.SharingModeExclusive,
			vk.MemoryPropertyDeviceLocalBit, a.ma,
		)
		if err != nil {
			a.teardownLocked(bundle)
			return fmt.Errorf("output buffer for mesh %d: %s", idx, err.Error())
		}

		am := animationMesh{
			bindPose:    meshes[idx].vertexBuffer.Get(),
			weights:     meshes[idx].weightBuffer.Get(),
			vertexCount: vertexCount,
			output:      output,
			written:     make([]jointKey, a.slots),
		}

		am.sets = make([]vk.DescriptorSet, a.slots)
		for slot := range am.sets {
			dsai := vk.DescriptorSetAllocateInfo{
				SType:              vk.StructureTypeDescriptorSetAllocateInfo,
				DescriptorPool:     a.pool,
				DescriptorSetCount: 1,
				PSetLayouts:        []vk.DescriptorSetLayout{a.setLayout},
			}
			if err := vk.Error(vk.AllocateDescriptorSets(a.device, &dsai, &am.sets[slot])); err != nil {
				if slot > 0 {
					vk.FreeDescriptorSets(a.device, a.pool, uint32(slot), am.sets[:slot])
				}
				output.Release()
				a.teardownLocked(bundle)
				return fmt.Errorf("vk.AllocateDescriptorSets(): %s", err.Error())
			}

			/* Buffer bindings never change for the entity's lifetime */
			writes := []vk.WriteDescriptorSet{
				{
					SType:           vk.StructureTypeWriteDescriptorSet,
					DstSet:          am.sets[slot],
					DstBinding:      0,
					DescriptorType:  vk.DescriptorTypeStorageBuffer,
					DescriptorCount: 1,
					PBufferInfo: []vk.DescriptorBufferInfo{{
						Buffer: am.bindPose,
						Offset: 0,
						Range:  vk.DeviceSize(size),
					}},
				},
				{
					SType:           vk.StructureTypeWriteDescriptorSet,
					DstSet:          am.sets[slot],
					DstBinding:      1,
					DescriptorType:  vk.DescriptorTypeStorageBuffer,
					DescriptorCount: 1,
					PBufferInfo: []vk.DescriptorBufferInfo{{
						Buffer: am.weights,
						Offset: 0,
						Range:  vk.DeviceSize(vertexCount * uint32(unsafe.Sizeof(model.VertexWeights{}))),
					}},
				},
				{
					SType:           vk.StructureTypeWriteDescriptorSet,
					DstSet:          am.sets[slot],
					DstBinding:      2,
					DescriptorType:  vk.DescriptorTypeStorageBuffer,
					DescriptorCount: 1,
					PBufferInfo: []vk.DescriptorBufferInfo{{
						Buffer: output.Get(),
						Offset: 0,
						Range:  vk.DeviceSize(size),
					}},
				},
			}
			vk.UpdateDescriptorSets(a.device, uint32(len(writes)), writes, 0, nil)
		}

		bundle.meshes = append(bundle.meshes, am)
	}

	a.bundles[id] = bundle
	return nil
}

// unregister drops the entity's bundle. The caller must guarantee
// no submitted work still references it
func (a *animator) unregister(id EntityID) {
	a.lock.Lock()
	defer a.lock.Unlock()

	bundle, ok := a.bundles[id]
	if !ok {
		return
	}
	a.teardownLocked(bundle)
	delete(a.bundles, id)
}

func (a *animator) teardownLocked(bundle *animationBundle) {
	for idx := range bundle.meshes {
		mesh := &bundle.meshes[idx]
		if len(mesh.sets) > 0 {
			vk.FreeDescriptorSets(a.device, a.pool, uint32(len(mesh.sets)), mesh.sets)
		}
		mesh.output.Release()
	}
	bundle.meshes = nil
}

// setState moves the entity's playback state machine. Animation and
// frame indices are validated against the model before anything
// is touched, and the joint block for the pair is created up front
// so failures surface here instead of mid-frame
func (a *animator) setState(id EntityID, running bool, animation, frame int) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	bundle, ok := a.bundles[id]
	if !ok {
		return fmt.Errorf("entity %d is not registered", id)
	}

	if !running {
		bundle.state = AnimationStopped
		return nil
	}

	if animation < 0 || animation >= len(bundle.model.Animations) {
		return fmt.Errorf("model %s has no animation %d", bundle.model.ID, animation)
	}
	anim := bundle.model.Animations[animation]
	if frame < 0 || frame >= anim.FrameCount() {
		return fmt.Errorf("animation %s has no frame %d", anim.Name, frame)
	}

	if _, err := a.ensureJointsLocked(jointKey{bundle.model.ID, animation, frame}, bundle.model); err != nil {
		return err
	}

	bundle.state = AnimationRunning
	bundle.animation = animation
	bundle.frame = frame
	return nil
}

// ensureJointsLocked returns the uniform block for the key, creating
// and filling it on first use. Unused joint slots hold identity
func (a *animator) ensureJointsLocked(key jointKey, m model.Model) (vkr.Buffer, error) {
	if buf, ok := a.joints[key]; ok {
		return buf, nil
	}

	var matrices [model.MaxJoints]glm.Mat4
	for idx := range matrices {
		matrices[idx] = glm.Ident4()
	}
	copy(matrices[:], m.Animations[key.animation].Frames[key.frame])

	buf, err := vkr.NewBuffer(
		a.device, uint(unsafe.Sizeof(matrices)),
		vk.BufferUsageUniformBufferBit, vk.SharingModeExclusive,
		vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit, a.ma,
	)
	if err != nil {
		return vkr.Buffer{}, fmt.Errorf("joint block %s/%d/%d: %s", key.modelID, key.animation, key.frame, err.Error())
	}
	if err := buf.Mem().CopyFrom(rawBytes(unsafe.Pointer(&matrices), int(unsafe.Sizeof(matrices)))); err != nil {
		buf.Release()
		return vkr.Buffer{}, err
	}

	a.joints[key] = buf
	return buf, nil
}

// prepareSlot repoints the slots descriptor sets at the joint
// blocks of each running entity's current frame. Must only run
// after the slots fence wait, the other slot may still execute
func (a *animator) prepareSlot(slot uint32) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	for _, bundle := range a.bundles {
		if bundle.state != AnimationRunning {
			continue
		}

		key := jointKey{bundle.model.ID, bundle.animation, bundle.frame}
		buf, err := a.ensureJointsLocked(key, bundle.model)
		if err != nil {
			return err
		}

		for idx := range bundle.meshes {
			mesh := &bundle.meshes[idx]
			if mesh.written[slot] == key {
				continue
			}

			wds := []vk.WriteDescriptorSet{{
				SType:           vk.StructureTypeWriteDescriptorSet,
				DstSet:          mesh.sets[slot],
				DstBinding:      3,
				DescriptorType:  vk.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,
				PBufferInfo: []vk.DescriptorBufferInfo{{
					Buffer: buf.Get(),
					Offset: 0,
					Range:  vk.DeviceSize(buf.Size()),
				}},
			}}
			vk.UpdateDescriptorSets(a.device, uint32(len(wds)), wds, 0, nil)
			mesh.written[slot] = key
		}
	}
	return nil
}

// record emits the skinning dispatches for every running entity,
// bracketed by the two global memory barriers that order them
// against the vertex input reads of the surrounding frames
func (a *animator) record(cmd vk.CommandBuffer, slot uint32) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	var running []*animationBundle
	for _, bundle := range a.bundles {
		if bundle.state == AnimationRunning {
			running = append(running, bundle)
		}
	}
	if len(running) == 0 {
		return
	}

	/* Prior-frame vertex reads finish before compute overwrites */
	preBarrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(vk.AccessVertexAttributeReadBit),
		DstAccessMask: vk.AccessFlags(vk.AccessShaderWriteBit),
	}
	vk.CmdPipelineBarrier(cmd,
		vk.PipelineStageFlags(vk.PipelineStageVertexInputBit),
		vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		0, 1, []vk.MemoryBarrier{preBarrier}, 0, nil, 0, nil)

	vk.CmdBindPipeline(cmd, vk.PipelineBindPointCompute, a.pipeline)
	for _, bundle := range running {
		for idx := range bundle.meshes {
			mesh := &bundle.meshes[idx]
			count := mesh.vertexCount
			vk.CmdBindDescriptorSets(cmd, vk.PipelineBindPointCompute, a.layout, 0, 1, []vk.DescriptorSet{mesh.sets[slot]}, 0, nil)
			vk.CmdPushConstants(cmd, a.layout, vk.ShaderStageFlags(vk.ShaderStageComputeBit), 0, 4, unsafe.Pointer(&count))
			vk.CmdDispatch(cmd, groupCount(count, localGroupSize), 1, 1)
		}
	}

	/* Compute writes become available and visible to vertex input */
	postBarrier := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(vk.AccessShaderWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessVertexAttributeReadBit),
	}
	vk.CmdPipelineBarrier(cmd,
		vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		vk.PipelineStageFlags(vk.PipelineStageVertexInputBit),
		0, 1, []vk.MemoryBarrier{postBarrier}, 0, nil, 0, nil)
}

// vertexSource hands out the entity's animated vertex buffer for
// the given mesh, the geometry phase binds it in place of the
// model's static buffer
func (a *animator) vertexSource(id EntityID, mesh int) (vk.Buffer, bool) {
	a.lock.RLock()
	defer a.lock.RUnlock()

	bundle, ok := a.bundles[id]
	if !ok || mesh >= len(bundle.meshes) {
		return nil, false
	}
	return bundle.meshes[mesh].output.Get(), true
}

// outputs lists the entity's destination buffers in mesh order,
// used to seed them with the bind pose at registration
func (a *animator) outputs(id EntityID) []vkr.Buffer {
	a.lock.RLock()
	defer a.lock.RUnlock()

	bundle, ok := a.bundles[id]
	if !ok {
		return nil
	}
	bufs := make([]vkr.Buffer, len(bundle.meshes))
	for idx := range bundle.meshes {
		bufs[idx] = bundle.meshes[idx].output
	}
	return bufs
}

func (a *animator) release() {
	a.lock.Lock()
	defer a.lock.Unlock()

	for _, bundle := range a.bundles {
		for idx := range bundle.meshes {
			bundle.meshes[idx].output.Release()
		}
		bundle.meshes = nil
	}
	a.bundles = make(map[EntityID]*animationBundle)

	for _, buf := range a.joints {
		buf.Release()
	}
	a.joints = make(map[jointKey]vkr.Buffer)

	if a.pool != nil {
		vk.DestroyDescriptorPool(a.device, a.pool, nil)
		a.pool = nil
	}
	if a.pipeline != nil {
		vk.DestroyPipeline(a.device, a.pipeline, nil)
		a.pipeline = nil
	}
	if a.layout != nil {
		vk.DestroyPipelineLayout(a.device, a.layout, nil)
		a.layout = nil
	}
	if a.setLayout != nil {
		vk.DestroyDescriptorSetLayout(a.device, a.setLayout, nil)
		a.setLayout = nil
	}
}
