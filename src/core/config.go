// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import "errors"

// Configuration defines a global engine configuration setting
type Configuration struct {
	Time     TimeConfiguration
	Renderer RendererConfiguration
}

// TimeConfiguration is used to configure time services
type TimeConfiguration struct {
	// FramesPerSecond caps frames per second that is put out
	// To unlimit, set to 0
	FramesPerSecond int

	// EventPollDelay is the number of milliseconds between
	// window event poll rounds
	EventPollDelay int
}

// RendererConfiguration is used to configure the renderer
type RendererConfiguration struct {
	// SwapchainSize is the number of presentable images requested
	// from the surface
	SwapchainSize uint32

	// FramesInFlight is the number of frames recorded and submitted
	// before the host blocks for the oldest to retire. Must be
	// smaller than SwapchainSize
	FramesInFlight uint32

	DeviceExtensions []string

	ScreenWidth  uint32
	ScreenHeight uint32

	// ShaderDirectory is walked for compiled name.type.spv files
	ShaderDirectory string

	// ShaderArchive is a kar archive of compiled shaders,
	// used when ShaderDirectory is empty
	ShaderArchive string

	// MaxAnimatedEntities and MaxMeshesPerEntity size the animation
	// descriptor pool. Registrations beyond them fail immediately
	// instead of exhausting the pool mid-frame
	MaxAnimatedEntities uint32
	MaxMeshesPerEntity  uint32
}

// Valid checks the configuration values make sense together
func (r RendererConfiguration) Valid() error {
	if r.SwapchainSize < 2 {
		return errors.New("swapchain needs at least two images")
	}
	if r.FramesInFlight < 1 {
		return errors.New("at least one frame in flight required")
	}
	if r.FramesInFlight >= r.SwapchainSize {
		return errors.New("frames in flight must be less than the swapchain size")
	}
	if r.ScreenWidth == 0 || r.ScreenHeight == 0 {
		return errors.New("screen dimensions cannot be zero")
	}
	if r.MaxAnimatedEntities == 0 || r.MaxMeshesPerEntity == 0 {
		return errors.New("animation pool sizes cannot be zero")
	}
	return nil
}

// InstanceConfiguration configures the Vulkan instance
type InstanceConfiguration struct {
	// DebugMode loads validation layers and the debug report extension
	DebugMode bool

	Extensions []string
	Layers     []string
}
