// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package model defines the mesh, skinning and animation data the
// renderer consumes. A COLLADA importer covers static geometry,
// producing skinned models is the job of external tooling.
package model

import (
	"errors"
	"fmt"
	"unsafe"

	vk "github.com/devblok/vulkan"
	glm "github.com/go-gl/mathgl/mgl32"
)

// MaxJoints bounds the joint matrix block of a single animation
// frame. The skinning shader declares the same constant.
const MaxJoints = 64

// Vertex is the format meshes enter the geometry pipeline in, both
// as a static per model buffer and as the output that the skinning
// stage writes per entity.
type Vertex struct {
	Pos    glm.Vec3
	Normal glm.Vec3
	UV     glm.Vec2
	Color  glm.Vec4
}

// VertexWeights carries the skinning influences of one vertex. It is
// a separate read only stream next to the bind pose, consumed by the
// compute stage and never bound as vertex input.
type VertexWeights struct {
	Weights glm.Vec4
	Joints  [4]uint32
}

// Uniform holds the per frame camera matrices.
type Uniform struct {
	View       glm.Mat4
	Projection glm.Mat4
}

// Mesh is one drawable unit of a model. Weights are present only on
// skinned meshes and then match Vertices in length.
type Mesh struct {
	Vertices []Vertex
	Weights  []VertexWeights
}

// Skinned reports whether the mesh carries skinning influences.
func (m *Mesh) Skinned() bool {
	return len(m.Weights) > 0
}

// Animation is a named sequence of joint matrix sets, one set per
// frame. Frame selection is a hard index, blending between frames is
// not a concern of this package.
type Animation struct {
	Name   string
	Frames [][]glm.Mat4
}

// FrameCount returns the number of frames in the animation.
func (a *Animation) FrameCount() int {
	return len(a.Frames)
}

// JointCount returns the number of joints a frame carries. Validate
// guarantees every frame agrees on it.
func (a *Animation) JointCount() int {
	if len(a.Frames) == 0 {
		return 0
	}
	return len(a.Frames[0])
}

// Model groups meshes with the animations that drive them.
type Model struct {
	ID         string
	Meshes     []Mesh
	Animations []Animation
}

// Validate checks the internal consistency of the model before any
// of it is uploaded to the device.
func (m *Model) Validate() error {
	if m.ID == "" {
		return errors.New("model has no id")
	}
	if len(m.Meshes) == 0 {
		return fmt.Errorf("model %s has no meshes", m.ID)
	}
	for idx := range m.Meshes {
		mesh := &m.Meshes[idx]
		if len(mesh.Vertices) == 0 {
			return fmt.Errorf("model %s mesh %d has no vertices", m.ID, idx)
		}
		if len(mesh.Weights) > 0 && len(mesh.Weights) != len(mesh.Vertices) {
			return fmt.Errorf("model %s mesh %d has %d weights for %d vertices", m.ID, idx, len(mesh.Weights), len(mesh.Vertices))
		}
	}
	for idx := range m.Animations {
		anim := &m.Animations[idx]
		if anim.FrameCount() == 0 {
			return fmt.Errorf("model %s animation %d has no frames", m.ID, idx)
		}
		joints := anim.JointCount()
		if joints == 0 || joints > MaxJoints {
			return fmt.Errorf("model %s animation %d joint count %d out of range", m.ID, idx, joints)
		}
		for f := range anim.Frames {
			if len(anim.Frames[f]) != joints {
				return fmt.Errorf("model %s animation %d frame %d has %d joints, expected %d", m.ID, idx, f, len(anim.Frames[f]), joints)
			}
		}
	}
	return nil
}

// VertexBindingDescriptions return Vulkan Vertex descriptors
func VertexBindingDescriptions() []vk.VertexInputBindingDescription {
	return []vk.VertexInputBindingDescription{{
		Binding:   0,
		Stride:    uint32(unsafe.Sizeof(Vertex{})),
		InputRate: vk.VertexInputRateVertex,
	}}
}

// VertexAttributeDescriptions return Vulkan attribute descriptors
func VertexAttributeDescriptions() []vk.VertexInputAttributeDescription {
	return []vk.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   vk.FormatR32g32b32Sfloat,
			Offset:   uint32(unsafe.Offsetof(Vertex{}.Pos)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   vk.FormatR32g32b32Sfloat,
			Offset:   uint32(unsafe.Offsetof(Vertex{}.Normal)),
		},
		{
			Binding:  0,
			Location: 2,
			Format:   vk.FormatR32g32Sfloat,
			Offset:   uint32(unsafe.Offsetof(Vertex{}.UV)),
		},
		{
			Binding:  0,
			Location: 3,
			Format:   vk.FormatR32g32b32a32Sfloat,
			Offset:   uint32(unsafe.Offsetof(Vertex{}.Color)),
		},
	}
}
