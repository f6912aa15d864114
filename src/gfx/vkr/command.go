// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"fmt"

	vk "github.com/devblok/vulkan"
)

// NewCommandPool creates a command pool on the given queue family.
// Buffers taken from it can be reset individually, recorders depend
// on that for their reset and re-record cycle.
func NewCommandPool(dev vk.Device, queueFamily uint32) (CommandPool, error) {
	createInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: queueFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if err := vk.Error(vk.CreateCommandPool(dev, &createInfo, nil, &pool)); err != nil {
		return CommandPool{}, fmt.Errorf("vk.CreateCommandPool(): %s", err.Error())
	}
	return CommandPool{
		device: dev,
		pool:   pool,
	}, nil
}

// CommandPool hands out recorders. Exhaustion surfaces as an error
// from Allocate, sizing is the callers responsibility up front.
type CommandPool struct {
	device vk.Device
	pool   vk.CommandPool
}

// Get returns the vulkan CommandPool handle.
func (p *CommandPool) Get() vk.CommandPool {
	return p.pool
}

// Allocate returns count primary recorders backed by this pool.
func (p *CommandPool) Allocate(count uint32) ([]Recorder, error) {
	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	}
	buffers := make([]vk.CommandBuffer, count)
	if err := vk.Error(vk.AllocateCommandBuffers(p.device, &allocInfo, buffers)); err != nil {
		return nil, fmt.Errorf("vk.AllocateCommandBuffers(): %s", err.Error())
	}

	recorders := make([]Recorder, count)
	for idx := range buffers {
		recorders[idx] = Recorder{buffer: buffers[idx]}
	}
	return recorders, nil
}

// Free returns recorders to the pool.
func (p *CommandPool) Free(recorders []Recorder) {
	buffers := make([]vk.CommandBuffer, 0, len(recorders))
	for idx := range recorders {
		buffers = append(buffers, recorders[idx].buffer)
	}
	vk.FreeCommandBuffers(p.device, p.pool, uint32(len(buffers)), buffers)
}

// Release destroys the pool and every buffer allocated from it.
func (p *CommandPool) Release() {
	vk.DestroyCommandPool(p.device, p.pool, nil)
}

// Recorder wraps a primary command buffer that is explicitly reset
// and recorded from scratch every time, never mutated in place.
type Recorder struct {
	buffer vk.CommandBuffer
}

// Get returns the vulkan CommandBuffer handle.
func (r *Recorder) Get() vk.CommandBuffer {
	return r.buffer
}

// Reset discards every previously recorded command and releases the
// resources they held. Must not be called while the buffer is still
// pending on the device, the owning slots fence guards that.
func (r *Recorder) Reset() error {
	if err := vk.Error(vk.ResetCommandBuffer(r.buffer, vk.CommandBufferResetFlags(vk.CommandBufferResetReleaseResourcesBit))); err != nil {
		return fmt.Errorf("vk.ResetCommandBuffer(): %s", err.Error())
	}
	return nil
}

// Begin starts a fresh one time recording.
func (r *Recorder) Begin() error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := vk.Error(vk.BeginCommandBuffer(r.buffer, &beginInfo)); err != nil {
		return fmt.Errorf("vk.BeginCommandBuffer(): %s", err.Error())
	}
	return nil
}

// End closes the recording, the buffer is ready for submission.
func (r *Recorder) End() error {
	if err := vk.Error(vk.EndCommandBuffer(r.buffer)); err != nil {
		return fmt.Errorf("vk.EndCommandBuffer(): %s", err.Error())
	}
	return nil
}
