// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"errors"

	vk "github.com/devblok/vulkan"
)

// ErrUnsupportedTransition is returned for layout pairs the render
// pipeline never legally performs.
var ErrUnsupportedTransition = errors.New("unsupported layout transition")

// transitionRule carries the synchronization scopes both sides
// of a layout transition barrier need.
type transitionRule struct {
	srcAccess vk.AccessFlags
	dstAccess vk.AccessFlags
	srcStage  vk.PipelineStageFlags
	dstStage  vk.PipelineStageFlags
}

// layoutTransitionRule resolves barrier masks for a layout pair.
// Only the transitions the pipeline performs are listed, any other
// pair indicates a sequencing bug in the caller.
func layoutTransitionRule(old, new vk.ImageLayout) (transitionRule, error) {
	switch {
	case old == vk.ImageLayoutUndefined && new == vk.ImageLayoutColorAttachmentOptimal:
		return transitionRule{
			srcAccess: 0,
			dstAccess: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
			srcStage:  vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
			dstStage:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		}, nil
	case old == vk.ImageLayoutUndefined && new == vk.ImageLayoutDepthStencilAttachmentOptimal:
		return transitionRule{
			srcAccess: 0,
			dstAccess: vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit),
			srcStage:  vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
			dstStage:  vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit),
		}, nil
	case old == vk.ImageLayoutUndefined && new == vk.ImageLayoutTransferDstOptimal:
		return transitionRule{
			srcAccess: 0,
			dstAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
			srcStage:  vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
			dstStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		}, nil
	case old == vk.ImageLayoutTransferDstOptimal && new == vk.ImageLayoutShaderReadOnlyOptimal:
		return transitionRule{
			srcAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
			dstAccess: vk.AccessFlags(vk.AccessShaderReadBit),
			srcStage:  vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			dstStage:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		}, nil
	case old == vk.ImageLayoutColorAttachmentOptimal && new == vk.ImageLayoutShaderReadOnlyOptimal:
		return transitionRule{
			srcAccess: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			dstAccess: vk.AccessFlags(vk.AccessShaderReadBit),
			srcStage:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			dstStage:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		}, nil
	case old == vk.ImageLayoutShaderReadOnlyOptimal && new == vk.ImageLayoutColorAttachmentOptimal:
		return transitionRule{
			srcAccess: vk.AccessFlags(vk.AccessShaderReadBit),
			dstAccess: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
			srcStage:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
			dstStage:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		}, nil
	case old == vk.ImageLayoutColorAttachmentOptimal && new == vk.ImageLayoutPresentSrc:
		return transitionRule{
			srcAccess: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			dstAccess: vk.AccessFlags(vk.AccessMemoryReadBit),
			srcStage:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			dstStage:  vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
		}, nil
	case old == vk.ImageLayoutPresentSrc && new == vk.ImageLayoutColorAttachmentOptimal:
		// The acquire semaphore orders against the presentation
		// engine, only the attachment write needs a scope here.
		return transitionRule{
			srcAccess: 0,
			dstAccess: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
			srcStage:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			dstStage:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		}, nil
	}
	return transitionRule{}, ErrUnsupportedTransition
}

// Transition records a layout transition barrier on cmd and updates
// the tracked layout. The tracked layout is the single source of
// truth for an image, stages declare where they need it next and
// never assume where it currently is. Transitioning into the layout
// the image already occupies records nothing.
func (i *Image) Transition(cmd vk.CommandBuffer, to vk.ImageLayout) error {
	if i.layout == to {
		return nil
	}

	rule, err := layoutTransitionRule(i.layout, to)
	if err != nil {
		return err
	}

	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           i.layout,
		NewLayout:           to,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               i.image,
		SrcAccessMask:       rule.srcAccess,
		DstAccessMask:       rule.dstAccess,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(i.aspect),
			LevelCount: 1,
			LayerCount: 1,
		},
	}

	vk.CmdPipelineBarrier(cmd, rule.srcStage, rule.dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	i.layout = to
	return nil
}
