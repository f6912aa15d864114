// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package model_test

import (
	"testing"
	"unsafe"

	"github.com/devblok/ponga/src/model"
	glm "github.com/go-gl/mathgl/mgl32"
)

func TestVertexDescriptionsMatchLayout(t *testing.T) {
	bindings := model.VertexBindingDescriptions()
	if len(bindings) != 1 {
		t.Fatalf("expected a single binding, got %d", len(bindings))
	}
	if bindings[0].Stride != uint32(unsafe.Sizeof(model.Vertex{})) {
		t.Fatalf("binding stride %d does not match vertex size %d", bindings[0].Stride, unsafe.Sizeof(model.Vertex{}))
	}

	attributes := model.VertexAttributeDescriptions()
	if len(attributes) != 4 {
		t.Fatalf("expected 4 attributes, got %d", len(attributes))
	}

	var vertex model.Vertex
	expected := []uint32{
		uint32(unsafe.Offsetof(vertex.Pos)),
		uint32(unsafe.Offsetof(vertex.Normal)),
		uint32(unsafe.Offsetof(vertex.UV)),
		uint32(unsafe.Offsetof(vertex.Color)),
	}
	for idx, attr := range attributes {
		if attr.Binding != 0 {
			t.Errorf("attribute %d bound to %d, expected binding 0", idx, attr.Binding)
		}
		if attr.Location != uint32(idx) {
			t.Errorf("attribute %d at location %d", idx, attr.Location)
		}
		if attr.Offset != expected[idx] {
			t.Errorf("attribute %d offset %d, expected %d", idx, attr.Offset, expected[idx])
		}
	}
}

func frames(count, joints int) [][]glm.Mat4 {
	fs := make([][]glm.Mat4, count)
	for idx := range fs {
		fs[idx] = make([]glm.Mat4, joints)
		for j := range fs[idx] {
			fs[idx][j] = glm.Ident4()
		}
	}
	return fs
}

func TestModelValidate(t *testing.T) {
	valid := model.Model{
		ID: "cylinder",
		Meshes: []model.Mesh{{
			Vertices: make([]model.Vertex, 12),
			Weights:  make([]model.VertexWeights, 12),
		}},
		Animations: []model.Animation{{
			Name:   "wave",
			Frames: frames(10, 3),
		}},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid model rejected: %s", err.Error())
	}

	cases := []struct {
		name  string
		mould func(m *model.Model)
	}{
		{"missing id", func(m *model.Model) { m.ID = "" }},
		{"no meshes", func(m *model.Model) { m.Meshes = nil }},
		{"empty mesh", func(m *model.Model) { m.Meshes[0].Vertices = nil }},
		{"weight mismatch", func(m *model.Model) { m.Meshes[0].Weights = m.Meshes[0].Weights[:5] }},
		{"empty animation", func(m *model.Model) { m.Animations[0].Frames = nil }},
		{"too many joints", func(m *model.Model) { m.Animations[0].Frames = frames(2, model.MaxJoints+1) }},
		{"ragged frames", func(m *model.Model) { m.Animations[0].Frames[3] = m.Animations[0].Frames[3][:1] }},
	}

	for _, tc := range cases {
		broken := model.Model{
			ID: valid.ID,
			Meshes: []model.Mesh{{
				Vertices: make([]model.Vertex, 12),
				Weights:  make([]model.VertexWeights, 12),
			}},
			Animations: []model.Animation{{
				Name:   "wave",
				Frames: frames(10, 3),
			}},
		}
		tc.mould(&broken)
		if err := broken.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestAnimationCounts(t *testing.T) {
	anim := model.Animation{Name: "walk", Frames: frames(24, 16)}
	if anim.FrameCount() != 24 {
		t.Fatalf("frame count %d", anim.FrameCount())
	}
	if anim.JointCount() != 16 {
		t.Fatalf("joint count %d", anim.JointCount())
	}

	var empty model.Animation
	if empty.FrameCount() != 0 || empty.JointCount() != 0 {
		t.Fatal("empty animation should report zero counts")
	}
}
