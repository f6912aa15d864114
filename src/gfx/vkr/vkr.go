// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package vkr implements the device primitives of the vulkan renderer.
package vkr

import (
	"fmt"

	"github.com/devblok/ponga/src/gfx"
	vk "github.com/devblok/vulkan"
)

// NewBuffer creates, configures, allocates and binds a new buffer.
// The usage union is fixed at creation time and tags the buffer with
// every role it will ever serve, props selects the memory domain.
func NewBuffer(dev vk.Device, size uint, usage vk.BufferUsageFlagBits, mode vk.SharingMode, props vk.MemoryPropertyFlagBits, ma *MemoryAllocator) (Buffer, error) {
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: mode,
	}
	var buffer vk.Buffer
	if err := vk.Error(vk.CreateBuffer(dev, &createInfo, nil, &buffer)); err != nil {
		return Buffer{}, fmt.Errorf("vk.CreateBuffer(): %s", err.Error())
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(dev, buffer, &req)
	req.Deref()

	memory, err := ma.Malloc(req, props)
	if err != nil {
		vk.DestroyBuffer(dev, buffer, nil)
		return Buffer{}, err
	}

	vk.BindBufferMemory(dev, buffer, memory.Get(), vk.DeviceSize(memory.Offset()))

	return Buffer{
		device: dev,
		buffer: buffer,
		size:   size,
		usage:  usage,
		memory: memory,
	}, nil
}

// Buffer implements a generic vulkan buffer.
type Buffer struct {
	device vk.Device
	buffer vk.Buffer
	size   uint
	usage  vk.BufferUsageFlagBits

	memory Memory
}

// Mem returns the Memory that the buffer is based on.
func (b *Buffer) Mem() *Memory {
	return &b.memory
}

// Get returns the vulkan Buffer handle.
func (b *Buffer) Get() vk.Buffer {
	return b.buffer
}

// Size returns the byte size the buffer was created with.
func (b *Buffer) Size() uint {
	return b.size
}

// Usage returns the usage union the buffer was tagged with.
func (b *Buffer) Usage() vk.BufferUsageFlagBits {
	return b.usage
}

// Release destroys the buffer and memory asociated with it.
func (b *Buffer) Release() {
	vk.DestroyBuffer(b.device, b.buffer, nil)
	b.memory.Release()
}

// NewImage creates a new vulkan image primitive together with its view,
// backed by device local memory. The usage union is decided here once,
// an attachment that is later sampled must carry both bits. The layout
// starts undefined and is mutated through Transition only.
func NewImage(dev vk.Device, extent gfx.Extent3D, format vk.Format, aspect vk.ImageAspectFlagBits, usage vk.ImageUsageFlagBits, mode vk.SharingMode, ma *MemoryAllocator) (Image, error) {
	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  uint32(extent.Width),
			Height: uint32(extent.Height),
			Depth:  uint32(extent.Depth),
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        format,
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         vk.ImageUsageFlags(usage),
		SharingMode:   mode,
		Samples:       vk.SampleCount1Bit,
	}

	var image vk.Image
	if err := vk.Error(vk.CreateImage(dev, &createInfo, nil, &image)); err != nil {
		return Image{}, fmt.Errorf("vk.CreateImage(): %s", err.Error())
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(dev, image, &req)
	req.Deref()

	memory, err := ma.Malloc(req, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		vk.DestroyImage(dev, image, nil)
		return Image{}, err
	}
	vk.BindImageMemory(dev, image, memory.Get(), vk.DeviceSize(memory.Offset()))

	view, err := newImageView(dev, image, format, aspect)
	if err != nil {
		vk.DestroyImage(dev, image, nil)
		memory.Release()
		return Image{}, err
	}

	return Image{
		device: dev,
		image:  image,
		view:   view,
		format: format,
		aspect: aspect,
		extent: extent,
		layout: vk.ImageLayoutUndefined,
		owned:  true,
		memory: memory,
	}, nil
}

// NewPresentImage adopts an image the presentation engine owns.
// Only the view is created here and only the view is destroyed on
// Release, the layout is tracked like on any other image.
func NewPresentImage(dev vk.Device, image vk.Image, format vk.Format, extent gfx.Extent3D) (Image, error) {
	view, err := newImageView(dev, image, format, vk.ImageAspectColorBit)
	if err != nil {
		return Image{}, err
	}
	return Image{
		device: dev,
		image:  image,
		view:   view,
		format: format,
		aspect: vk.ImageAspectColorBit,
		extent: extent,
		layout: vk.ImageLayoutUndefined,
		owned:  false,
	}, nil
}

func newImageView(dev vk.Device, image vk.Image, format vk.Format, aspect vk.ImageAspectFlagBits) (vk.ImageView, error) {
	createInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(aspect),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	var view vk.ImageView
	if err := vk.Error(vk.CreateImageView(dev, &createInfo, nil, &view)); err != nil {
		return view, fmt.Errorf("vk.CreateImageView(): %s", err.Error())
	}
	return view, nil
}

// Image implements and abstracts the vulkan image primitive together
// with its view and the layout the image currently sits in.
type Image struct {
	device vk.Device
	image  vk.Image
	view   vk.ImageView
	format vk.Format
	aspect vk.ImageAspectFlagBits
	extent gfx.Extent3D
	layout vk.ImageLayout
	owned  bool

	memory Memory
}

// Mem returns the underlying memory of the Image.
func (i *Image) Mem() *Memory {
	return &i.memory
}

// Get returns the vulkan Image handle.
func (i *Image) Get() vk.Image {
	return i.image
}

// View returns the typed view over the image.
func (i *Image) View() vk.ImageView {
	return i.view
}

// Format returns the pixel format the image was created with.
func (i *Image) Format() vk.Format {
	return i.format
}

// Extent returns the image dimensions.
func (i *Image) Extent() gfx.Extent3D {
	return i.extent
}

// Layout returns the layout the image was last transitioned to.
// This field is authoritative, operations must consult it instead
// of assuming a layout of their own.
func (i *Image) Layout() vk.ImageLayout {
	return i.layout
}

// Release destroys the view and, for images allocated here rather
// than adopted, the image and its memory.
func (i *Image) Release() {
	vk.DestroyImageView(i.device, i.view, nil)
	if i.owned {
		vk.DestroyImage(i.device, i.image, nil)
		i.memory.Release()
	}
}

// NewSampler creates a clamping sampler for reading attachments
// and textures in shaders.
func NewSampler(dev vk.Device, filter vk.Filter) (Sampler, error) {
	createInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               filter,
		MinFilter:               filter,
		MipmapMode:              vk.SamplerMipmapModeNearest,
		AddressModeU:            vk.SamplerAddressModeClampToEdge,
		AddressModeV:            vk.SamplerAddressModeClampToEdge,
		AddressModeW:            vk.SamplerAddressModeClampToEdge,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1.0,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		BorderColor:             vk.BorderColorFloatOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
	}
	var sampler vk.Sampler
	if err := vk.Error(vk.CreateSampler(dev, &createInfo, nil, &sampler)); err != nil {
		return Sampler{}, fmt.Errorf("vk.CreateSampler(): %s", err.Error())
	}
	return Sampler{device: dev, sampler: sampler}, nil
}

// Sampler wraps the vulkan sampler object.
type Sampler struct {
	device  vk.Device
	sampler vk.Sampler
}

// Get returns the vulkan Sampler handle.
func (s *Sampler) Get() vk.Sampler {
	return s.sampler
}

// Release destroys the sampler.
func (s *Sampler) Release() {
	vk.DestroySampler(s.device, s.sampler, nil)
}
