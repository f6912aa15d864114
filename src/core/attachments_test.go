// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"testing"

	vk "github.com/devblok/vulkan"
	qt "github.com/frankban/quicktest"
)

func TestGBufferChannels(t *testing.T) {
	c := qt.New(t)

	channels := GBufferChannels()
	c.Assert(channels, qt.HasLen, 3)

	var colors, depths int
	for _, ch := range channels {
		switch ch.Aspect {
		case vk.ImageAspectColorBit:
			colors++
			c.Assert(ch.Usage&vk.ImageUsageSampledBit, qt.Not(qt.Equals), vk.ImageUsageFlagBits(0),
				qt.Commentf("%s must be samplable for the lighting phase", ch.Name))
			c.Assert(ch.Discard, qt.IsFalse, qt.Commentf("%s survives the pass", ch.Name))
		case vk.ImageAspectDepthBit:
			depths++
			c.Assert(ch.Discard, qt.IsTrue, qt.Commentf("nothing reads %s after the pass", ch.Name))
		}
	}
	c.Assert(colors, qt.Equals, 2)
	c.Assert(depths, qt.Equals, 1)

	c.Assert(channels[0].Format, qt.Equals, vk.FormatR8g8b8a8Unorm)
	c.Assert(channels[1].Format, qt.Equals, vk.FormatR16g16b16a16Sfloat)
	c.Assert(channels[2].Format, qt.Equals, vk.FormatD32Sfloat)
}

func TestCompositeChannels(t *testing.T) {
	c := qt.New(t)

	channels := CompositeChannels()
	c.Assert(channels, qt.HasLen, 1)
	c.Assert(channels[0].Aspect, qt.Equals, vk.ImageAspectColorBit)
	c.Assert(channels[0].Format, qt.Equals, vk.FormatR16g16b16a16Sfloat)
	c.Assert(channels[0].Usage&vk.ImageUsageSampledBit, qt.Not(qt.Equals), vk.ImageUsageFlagBits(0))
	c.Assert(channels[0].Discard, qt.IsFalse)
}

func TestAttachmentLayouts(t *testing.T) {
	c := qt.New(t)

	c.Assert(attachmentLayout(vk.ImageAspectColorBit), qt.Equals, vk.ImageLayoutColorAttachmentOptimal)
	c.Assert(attachmentLayout(vk.ImageAspectDepthBit), qt.Equals, vk.ImageLayoutDepthStencilAttachmentOptimal)
}
