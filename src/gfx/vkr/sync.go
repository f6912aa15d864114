// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"errors"
	"math"

	vk "github.com/devblok/vulkan"
)

// NewSemaphore creates a device side synchronization signal.
func NewSemaphore(dev vk.Device) (Semaphore, error) {
	createInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var semaphore vk.Semaphore
	if err := vk.Error(vk.CreateSemaphore(dev, &createInfo, nil, &semaphore)); err != nil {
		return Semaphore{}, errors.New("vk.CreateSemaphore(): " + err.Error())
	}
	return Semaphore{
		device:    dev,
		semaphore: semaphore,
	}, nil
}

// Semaphore orders work on the device, the host never observes it.
type Semaphore struct {
	device    vk.Device
	semaphore vk.Semaphore
}

// Get returns the vulkan Semaphore handle.
func (s *Semaphore) Get() vk.Semaphore {
	return s.semaphore
}

// Release destroys the semaphore.
func (s *Semaphore) Release() {
	vk.DestroySemaphore(s.device, s.semaphore, nil)
}

// NewFence creates a host waitable completion signal. A fence that
// guards resources with no submission behind them yet is created
// signaled so the first wait returns immediately.
func NewFence(dev vk.Device, signaled bool) (Fence, error) {
	createInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		createInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if err := vk.Error(vk.CreateFence(dev, &createInfo, nil, &fence)); err != nil {
		return Fence{}, errors.New("vk.CreateFence(): " + err.Error())
	}
	return Fence{
		device: dev,
		fence:  fence,
	}, nil
}

// Fence is a host waitable signal the device raises when the
// submission it was attached to has fully completed.
type Fence struct {
	device vk.Device
	fence  vk.Fence
}

// Get returns the vulkan Fence handle.
func (f *Fence) Get() vk.Fence {
	return f.fence
}

// Wait blocks the calling thread until the fence signals.
func (f *Fence) Wait() error {
	if err := vk.Error(vk.WaitForFences(f.device, 1, []vk.Fence{f.fence}, vk.True, math.MaxUint64)); err != nil {
		return errors.New("vk.WaitForFences(): " + err.Error())
	}
	return nil
}

// Reset returns the fence to the unsignaled state.
func (f *Fence) Reset() error {
	if err := vk.Error(vk.ResetFences(f.device, 1, []vk.Fence{f.fence})); err != nil {
		return errors.New("vk.ResetFences(): " + err.Error())
	}
	return nil
}

// Release destroys the fence.
func (f *Fence) Release() {
	vk.DestroyFence(f.device, f.fence, nil)
}
