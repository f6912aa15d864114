// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"testing"

	vk "github.com/devblok/vulkan"
	qt "github.com/frankban/quicktest"
)

func TestLayoutTransitionRule(t *testing.T) {
	c := qt.New(t)

	cases := []struct {
		name     string
		old, new vk.ImageLayout
		want     transitionRule
	}{
		{
			name: "undefined to color attachment",
			old:  vk.ImageLayoutUndefined,
			new:  vk.ImageLayoutColorAttachmentOptimal,
			want: transitionRule{
				srcAccess: 0,
				dstAccess: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
				srcStage:  vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
				dstStage:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			},
		},
		{
			name: "undefined to depth attachment",
			old:  vk.ImageLayoutUndefined,
			new:  vk.ImageLayoutDepthStencilAttachmentOptimal,
			want: transitionRule{
				srcAccess: 0,
				dstAccess: vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit),
				srcStage:  vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
				dstStage:  vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit),
			},
		},
		{
			name: "undefined to transfer destination",
			old:  vk.ImageLayoutUndefined,
			new:  vk.ImageLayoutTransferDstOptimal,
			want: transitionRule{
				srcAccess: 0,
				dstAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
				srcStage:  vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
				dstStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			},
		},
		{
			name: "transfer destination to shader read",
			old:  vk.ImageLayoutTransferDstOptimal,
			new:  vk.ImageLayoutShaderReadOnlyOptimal,
			want: transitionRule{
				srcAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
				dstAccess: vk.AccessFlags(vk.AccessShaderReadBit),
				srcStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
				dstStage:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			},
		},
		{
			name: "color attachment to shader read",
			old:  vk.ImageLayoutColorAttachmentOptimal,
			new:  vk.ImageLayoutShaderReadOnlyOptimal,
			want: transitionRule{
				srcAccess: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
				dstAccess: vk.AccessFlags(vk.AccessShaderReadBit),
				srcStage:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
				dstStage:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			},
		},
		{
			name: "shader read back to color attachment",
			old:  vk.ImageLayoutShaderReadOnlyOptimal,
			new:  vk.ImageLayoutColorAttachmentOptimal,
			want: transitionRule{
				srcAccess: vk.AccessFlags(vk.AccessShaderReadBit),
				dstAccess: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
				srcStage:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
				dstStage:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			},
		},
		{
			name: "color attachment to present",
			old:  vk.ImageLayoutColorAttachmentOptimal,
			new:  vk.ImageLayoutPresentSrc,
			want: transitionRule{
				srcAccess: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
				dstAccess: vk.AccessFlags(vk.AccessMemoryReadBit),
				srcStage:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
				dstStage:  vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
			},
		},
		{
			name: "present back to color attachment",
			old:  vk.ImageLayoutPresentSrc,
			new:  vk.ImageLayoutColorAttachmentOptimal,
			want: transitionRule{
				srcAccess: 0,
				dstAccess: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
				srcStage:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
				dstStage:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			},
		},
	}

	for _, tc := range cases {
		c.Run(tc.name, func(c *qt.C) {
			got, err := layoutTransitionRule(tc.old, tc.new)
			c.Assert(err, qt.IsNil)
			c.Assert(got, qt.Equals, tc.want)
		})
	}
}

func TestLayoutTransitionRuleRejectsUnknownPairs(t *testing.T) {
	c := qt.New(t)

	pairs := [][2]vk.ImageLayout{
		{vk.ImageLayoutShaderReadOnlyOptimal, vk.ImageLayoutTransferDstOptimal},
		{vk.ImageLayoutDepthStencilAttachmentOptimal, vk.ImageLayoutColorAttachmentOptimal},
		{vk.ImageLayoutPresentSrc, vk.ImageLayoutUndefined},
		// Identity pairs never reach the rule table, Transition
		// returns before consulting it.
		{vk.ImageLayoutColorAttachmentOptimal, vk.ImageLayoutColorAttachmentOptimal},
	}

	for _, pair := range pairs {
		_, err := layoutTransitionRule(pair[0], pair[1])
		c.Assert(err, qt.Equals, ErrUnsupportedTransition)
	}
}
