// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package model

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	glm "github.com/go-gl/mathgl/mgl32"

	"github.com/devblok/ponga/src/utility/collada"
)

// ImportCollada converts the geometry library of a COLLADA document
// into a model. Every triangle group becomes one mesh, de-indexed
// into the vertex stream format the pipeline consumes. Static
// geometry only, controllers and animation clips are not imported.
func ImportCollada(id string, doc []byte) (*Model, error) {
	var root collada.Collada
	if err := xml.Unmarshal(doc, &root); err != nil {
		return nil, err
	}
	if len(root.Geometries) == 0 {
		return nil, errors.New("document has no geometries")
	}

	model := &Model{ID: id}
	for gIdx := range root.Geometries {
		geom := &root.Geometries[gIdx]
		for tIdx := range geom.Mesh.Triangles {
			mesh, err := deindexTriangles(geom, &geom.Mesh.Triangles[tIdx])
			if err != nil {
				return nil, err
			}
			model.Meshes = append(model.Meshes, mesh)
		}
	}

	if err := model.Validate(); err != nil {
		return nil, err
	}
	return model, nil
}

// colladaStream pairs a raw source array with the index offset the
// triangle group reads it through.
type colladaStream struct {
	data   []float32
	offset int
}

func deindexTriangles(geom *collada.Geometry, tri *collada.Triangles) (Mesh, error) {
	positions, err := positionStream(geom, tri)
	if err != nil {
		return Mesh{}, err
	}
	normals, hasNormals, err := semanticStream(geom, tri, "NORMAL")
	if err != nil {
		return Mesh{}, err
	}
	texcoords, hasTexcoords, err := semanticStream(geom, tri, "TEXCOORD")
	if err != nil {
		return Mesh{}, err
	}

	stride := tri.Stride()
	if len(tri.Index)%stride != 0 {
		return Mesh{}, fmt.Errorf("geometry %s: index length %d does not divide into corners of %d", geom.ID, len(tri.Index), stride)
	}
	corners := len(tri.Index) / stride
	if corners != 3*tri.Count {
		return Mesh{}, fmt.Errorf("geometry %s: index holds %d corners for %d triangles", geom.ID, corners, tri.Count)
	}

	vertices := make([]Vertex, 0, corners)
	for c := 0; c < corners; c++ {
		base := c * stride

		var vert Vertex
		pi := tri.Index[base+positions.offset]
		if pi < 0 || (pi+1)*3 > len(positions.data) {
			return Mesh{}, fmt.Errorf("geometry %s: position index %d out of range", geom.ID, pi)
		}
		vert.Pos = glm.Vec3{positions.data[pi*3], positions.data[pi*3+1], positions.data[pi*3+2]}

		if hasNormals {
			ni := tri.Index[base+normals.offset]
			if ni < 0 || (ni+1)*3 > len(normals.data) {
				return Mesh{}, fmt.Errorf("geometry %s: normal index %d out of range", geom.ID, ni)
			}
			vert.Normal = glm.Vec3{normals.data[ni*3], normals.data[ni*3+1], normals.data[ni*3+2]}
		}

		if hasTexcoords {
			ti := tri.Index[base+texcoords.offset]
			if ti < 0 || (ti+1)*2 > len(texcoords.data) {
				return Mesh{}, fmt.Errorf("geometry %s: texcoord index %d out of range", geom.ID, ti)
			}
			vert.UV = glm.Vec2{texcoords.data[ti*2], texcoords.data[ti*2+1]}
		}

		vert.Color = glm.Vec4{1, 1, 1, 1}
		vertices = append(vertices, vert)
	}

	return Mesh{Vertices: vertices}, nil
}

// positionStream resolves the VERTEX input of a triangle group
// through the vertices indirection to the POSITION source.
func positionStream(geom *collada.Geometry, tri *collada.Triangles) (colladaStream, error) {
	in, ok := tri.InputBySemantic("VERTEX")
	if !ok {
		return colladaStream{}, fmt.Errorf("geometry %s: triangle group has no VERTEX input", geom.ID)
	}
	if strings.TrimPrefix(in.Source, "#") != geom.Mesh.Vertices.ID {
		return colladaStream{}, fmt.Errorf("geometry %s: VERTEX input %s does not reference the vertices element", geom.ID, in.Source)
	}

	var position *collada.Input
	for idx := range geom.Mesh.Vertices.Inputs {
		if geom.Mesh.Vertices.Inputs[idx].Semantic == "POSITION" {
			position = &geom.Mesh.Vertices.Inputs[idx]
			break
		}
	}
	if position == nil {
		return colladaStream{}, fmt.Errorf("geometry %s: vertices element has no POSITION input", geom.ID)
	}

	src, ok := geom.Mesh.SourceByRef(position.Source)
	if !ok {
		return colladaStream{}, fmt.Errorf("geometry %s: position source %s not found", geom.ID, position.Source)
	}
	return colladaStream{data: src.Floats.Data, offset: int(in.Offset)}, nil
}

// semanticStream resolves an optional direct input of a triangle
// group to its source.
func semanticStream(geom *collada.Geometry, tri *collada.Triangles, semantic string) (colladaStream, bool, error) {
	in, ok := tri.InputBySemantic(semantic)
	if !ok {
		return colladaStream{}, false, nil
	}
	src, ok := geom.Mesh.SourceByRef(in.Source)
	if !ok {
		return colladaStream{}, false, fmt.Errorf("geometry %s: %s source %s not found", geom.ID, semantic, in.Source)
	}
	return colladaStream{data: src.Floats.Data, offset: int(in.Offset)}, true, nil
}
