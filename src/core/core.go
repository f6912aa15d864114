// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"unsafe"

	"github.com/devblok/ponga/src/model"
	vk "github.com/devblok/vulkan"
	glm "github.com/go-gl/mathgl/mgl32"
)

// Instance describes a Vulkan instance and supporting methods.
// Once created it is ready to use.
type Instance interface {
	// PhysicalDevicesInfo returns a struct for each Physical Device
	// along with info about those devices
	PhysicalDevicesInfo() []PhysicalDeviceInfo

	// AvailableDevices returns handles of Physical Devices
	// from the Vulkan API
	AvailableDevices() []vk.PhysicalDevice

	// SetSurface sets the window surface for rendering
	SetSurface(unsafe.Pointer)

	// Surface returns the window surface, if it's not set
	// it should return a valid but empty surface
	Surface() vk.Surface

	// Extensions returns available instance extensions
	Extensions() []string

	// Inner returns the inner handle of the underlying API
	Inner() interface{}

	// Destroy destroys internal members
	Destroy()
}

// Renderer describes the rendering machinery.
// It's created only with internal values set,
// it needs to be initialised with Initialise() before use.
type Renderer interface {
	// Initialise sets up the configured rendering pipeline
	Initialise() error

	// DeviceIsSuitable checks if the device given is suitable
	// for the rendering pipeline. If not suitable string contains the reason
	DeviceIsSuitable(vk.PhysicalDevice) (bool, string)

	// RenderFrame records and submits the work for one frame
	// and hands the finished image to the presentation engine.
	// A stale surface is absorbed internally, only genuine
	// failures propagate
	RenderFrame() error

	// Resize rebuilds everything that depends on the surface extent.
	// Safe to call repeatedly with the same extent
	Resize(width, height uint32) error

	// RegisterEntity makes a static model instance known to the renderer,
	// uploading the model's mesh data on first use
	RegisterEntity(model model.Model, id EntityID) error

	// RegisterAnimatedEntity is RegisterEntity for skinned models,
	// it additionally allocates the entity's exclusive animation
	// output buffers
	RegisterAnimatedEntity(model model.Model, id EntityID) error

	// SetAnimationState starts or stops entity animation playback
	// and selects the animation and frame to play
	SetAnimationState(id EntityID, running bool, animation, frame int) error

	// SetEntityTransform positions an entity in the world
	SetEntityTransform(id EntityID, transform glm.Mat4)

	// UnregisterEntity removes an entity and releases resources
	// owned exclusively by it
	UnregisterEntity(id EntityID)

	// SetCamera sets the view and projection matrices used
	// by subsequent frames
	SetCamera(view, projection glm.Mat4)

	// Shutdown drains the device of in-flight work and
	// releases all resources. The Renderer is unusable afterwards
	Shutdown()
}

// Destroyable is implemented by everything that allocates
// resources external to the Go runtime
type Destroyable interface {

	// Destroy releases objects that are not managed by Go
	Destroy()
}

// EntityID identifies one entity instance owned by a caller.
// IDs are chosen by the caller and must be unique per registered entity
type EntityID uint64

// ShaderType represents the type of shader thats loaded
type ShaderType int

// Identifies shader objects with their types
const (
	VertexShaderType ShaderType = iota
	FragmentShaderType
	ComputeShaderType
	UnknownShaderType
)

// PhysicalDeviceInfo describes one Vulkan physical device
type PhysicalDeviceInfo struct {
	ID            int
	VendorID      int
	DriverVersion int
	Name          string
	Invalid       bool
	Extensions    []string
	Layers        []string
	Memory        uint
}
