// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"

	"github.com/devblok/ponga/src/gfx"
	"github.com/devblok/ponga/src/gfx/vkr"
	vk "github.com/devblok/vulkan"
)

// AttachmentChannel describes one logical render target of a pass.
// Usage is the full union of roles the image will ever serve,
// it cannot be widened after creation
type AttachmentChannel struct {
	Name   string
	Format vk.Format
	Aspect vk.ImageAspectFlagBits
	Usage  vk.ImageUsageFlagBits
	Clear  vk.ClearValue

	// Discard drops the channels contents at the end of the pass,
	// for targets no later phase reads
	Discard bool
}

// GBufferChannels is the attachment plan of the geometry phase:
// albedo and normals for later sampling, depth for the depth test
func GBufferChannels() []AttachmentChannel {
	var albedoClear, normalClear, depthClear vk.ClearValue
	albedoClear.SetColor([]float32{
		0.005, 0.005, 0.005, 0.005,
	})
	normalClear.SetColor([]float32{0, 0, 0, 0})
	depthClear.SetDepthStencil(1, 0)

	return []AttachmentChannel{
		{
			Name:   "albedo",
			Format: vk.FormatR8g8b8a8Unorm,
			Aspect: vk.ImageAspectColorBit,
			Usage:  vk.ImageUsageColorAttachmentBit | vk.ImageUsageSampledBit,
			Clear:  albedoClear,
		},
		{
			Name:   "normal",
			Format: vk.FormatR16g16b16a16Sfloat,
			Aspect: vk.ImageAspectColorBit,
			Usage:  vk.ImageUsageColorAttachmentBit | vk.ImageUsageSampledBit,
			Clear:  normalClear,
		},
		{
			Name:    "depth",
			Format:  vk.FormatD32Sfloat,
			Aspect:  vk.ImageAspectDepthBit,
			Usage:   vk.ImageUsageDepthStencilAttachmentBit,
			Clear:   depthClear,
			Discard: true,
		},
	}
}

// CompositeChannels is the attachment plan of the lighting phase,
// a single target the post phase reads back
func CompositeChannels() []AttachmentChannel {
	var clear vk.ClearValue
	clear.SetColor([]float32{0, 0, 0, 1})

	return []AttachmentChannel{
		{
			Name:   "composite",
			Format: vk.FormatR16g16b16a16Sfloat,
			Aspect: vk.ImageAspectColorBit,
			Usage:  vk.ImageUsageColorAttachmentBit | vk.ImageUsageSampledBit,
			Clear:  clear,
		},
	}
}

// NewAttachmentSet allocates one image per channel at the given extent.
// On any failure already created images are released
func NewAttachmentSet(device vk.Device, ma *vkr.MemoryAllocator, extent gfx.Extent2D, channels []AttachmentChannel) (*AttachmentSet, error) {
	set := &AttachmentSet{
		device:   device,
		ma:       ma,
		channels: channels,
	}

	if err := set.create(extent); err != nil {
		return nil, err
	}
	return set, nil
}

// AttachmentSet owns the render target images of one pass.
// Images are recreated wholesale on resize, references into
// the set must not be held across one
type AttachmentSet struct {
	device vk.Device
	ma     *vkr.MemoryAllocator

	channels []AttachmentChannel
	images   []*vkr.Image
	extent   gfx.Extent2D
}

func (a *AttachmentSet) create(extent gfx.Extent2D) error {
	images := make([]*vkr.Image, 0, len(a.channels))
	for _, ch := range a.channels {
		img, err := vkr.NewImage(
			a.device,
			gfx.Extent3D{Width: extent.Width, Height: extent.Height, Depth: 1},
			ch.Format, ch.Aspect, ch.Usage,
			vk.SharingModeExclusive, a.ma,
		)
		if err != nil {
			for _, created := range images {
				created.Release()
			}
			return fmt.Errorf("attachment %s: %s", ch.Name, err.Error())
		}
		images = append(images, &img)
	}

	a.images = images
	a.extent = extent
	return nil
}

// All returns every image of the set in channel order
func (a *AttachmentSet) All() []*vkr.Image {
	return a.images
}

// Colors returns the color aspect images of the set in channel order
func (a *AttachmentSet) Colors() []*vkr.Image {
	var colors []*vkr.Image
	for idx, ch := range a.channels {
		if ch.Aspect == vk.ImageAspectColorBit {
			colors = append(colors, a.images[idx])
		}
	}
	return colors
}

// Depth returns the depth image of the set, nil when the set has none
func (a *AttachmentSet) Depth() *vkr.Image {
	for idx, ch := range a.channels {
		if ch.Aspect == vk.ImageAspectDepthBit {
			return a.images[idx]
		}
	}
	return nil
}

// ClearValues returns the per-channel clear values in channel order
func (a *AttachmentSet) ClearValues() []vk.ClearValue {
	clears := make([]vk.ClearValue, len(a.channels))
	for idx, ch := range a.channels {
		clears[idx] = ch.Clear
	}
	return clears
}

// Extent returns the dimensions the set was last created with
func (a *AttachmentSet) Extent() gfx.Extent2D {
	return a.extent
}

// Resize drops and recreates every image at the new extent.
// Previously handed out references are invalid afterwards
func (a *AttachmentSet) Resize(extent gfx.Extent2D) error {
	for _, img := range a.images {
		img.Release()
	}
	a.images = nil
	return a.create(extent)
}

// Release frees all images of the set
func (a *AttachmentSet) Release() {
	for _, img := range a.images {
		img.Release()
	}
	a.images = nil
}
