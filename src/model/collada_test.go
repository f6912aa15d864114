// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package model_test

import (
	"testing"

	"github.com/devblok/ponga/src/model"
	glm "github.com/go-gl/mathgl/mgl32"
)

const quadDocument = `<?xml version="1.0" encoding="utf-8"?>
<COLLADA xmlns="http://www.collada.org/2005/11/COLLADASchema" version="1.4.1">
	<library_geometries>
		<geometry id="Quad-mesh" name="Quad">
			<mesh>
				<source id="Quad-mesh-positions">
					<float_array id="Quad-mesh-positions-array" count="12">0 0 0 1 0 0 1 1 0 0 1 0</float_array>
				</source>
				<source id="Quad-mesh-normals">
					<float_array id="Quad-mesh-normals-array" count="3">0 0 1</float_array>
				</source>
				<source id="Quad-mesh-map">
					<float_array id="Quad-mesh-map-array" count="8">0 0 1 0 1 1 0 1</float_array>
				</source>
				<vertices id="Quad-mesh-vertices">
					<input semantic="POSITION" source="#Quad-mesh-positions"/>
				</vertices>
				<triangles material="Material-material" count="2">
					<input semantic="VERTEX" source="#Quad-mesh-vertices" offset="0"/>
					<input semantic="NORMAL" source="#Quad-mesh-normals" offset="1"/>
					<input semantic="TEXCOORD" source="#Quad-mesh-map" offset="2"/>
					<p>0 0 0 1 0 1 2 0 2 0 0 0 2 0 2 3 0 3</p>
				</triangles>
				<triangles material="Trim-material" count="1">
					<input semantic="VERTEX" source="#Quad-mesh-vertices" offset="0"/>
					<input semantic="NORMAL" source="#Quad-mesh-normals" offset="1"/>
					<p>0 0 1 0 3 0</p>
				</triangles>
			</mesh>
		</geometry>
	</library_geometries>
</COLLADA>`

func TestImportCollada(t *testing.T) {
	imported, err := model.ImportCollada("quad", []byte(quadDocument))
	if err != nil {
		t.Fatal(err)
	}

	if imported.ID != "quad" {
		t.Fatalf("bad model id: %s", imported.ID)
	}

	if len(imported.Meshes) != 2 {
		t.Fatalf("expected one mesh per triangle group, got %d", len(imported.Meshes))
	}

	first := imported.Meshes[0]
	if len(first.Vertices) != 6 {
		t.Fatalf("expected 6 de-indexed vertices, got %d", len(first.Vertices))
	}
	if first.Skinned() {
		t.Fatal("imported mesh reports skinning influences")
	}

	vert := first.Vertices[1]
	if vert.Pos != (glm.Vec3{1, 0, 0}) {
		t.Errorf("bad position: %v", vert.Pos)
	}
	if vert.Normal != (glm.Vec3{0, 0, 1}) {
		t.Errorf("bad normal: %v", vert.Normal)
	}
	if vert.UV != (glm.Vec2{1, 0}) {
		t.Errorf("bad texcoord: %v", vert.UV)
	}
	if vert.Color != (glm.Vec4{1, 1, 1, 1}) {
		t.Errorf("bad color: %v", vert.Color)
	}

	second := imported.Meshes[1]
	if len(second.Vertices) != 3 {
		t.Fatalf("expected 3 vertices in the second group, got %d", len(second.Vertices))
	}
	if second.Vertices[2].Pos != (glm.Vec3{0, 1, 0}) {
		t.Errorf("bad position in second group: %v", second.Vertices[2].Pos)
	}
	if second.Vertices[0].UV != (glm.Vec2{}) {
		t.Errorf("expected zero texcoord without a TEXCOORD input, got %v", second.Vertices[0].UV)
	}
}

func TestImportColladaEmpty(t *testing.T) {
	doc := `<?xml version="1.0" encoding="utf-8"?>
	<COLLADA xmlns="http://www.collada.org/2005/11/COLLADASchema" version="1.4.1">
		<library_geometries/>
	</COLLADA>`

	if _, err := model.ImportCollada("empty", []byte(doc)); err == nil {
		t.Fatal("expected an error for a document without geometries")
	}
}

func TestImportColladaBadIndex(t *testing.T) {
	doc := `<?xml version="1.0" encoding="utf-8"?>
	<COLLADA xmlns="http://www.collada.org/2005/11/COLLADASchema" version="1.4.1">
		<library_geometries>
			<geometry id="Broken-mesh" name="Broken">
				<mesh>
					<source id="Broken-mesh-positions">
						<float_array id="Broken-mesh-positions-array" count="9">0 0 0 1 0 0 0 1 0</float_array>
					</source>
					<vertices id="Broken-mesh-vertices">
						<input semantic="POSITION" source="#Broken-mesh-positions"/>
					</vertices>
					<triangles count="1">
						<input semantic="VERTEX" source="#Broken-mesh-vertices" offset="0"/>
						<p>0 1 9</p>
					</triangles>
				</mesh>
			</geometry>
		</library_geometries>
	</COLLADA>`

	if _, err := model.ImportCollada("broken", []byte(doc)); err == nil {
		t.Fatal("expected an error for an index past the position array")
	}
}

func TestImportColladaCornerMismatch(t *testing.T) {
	doc := `<?xml version="1.0" encoding="utf-8"?>
	<COLLADA xmlns="http://www.collada.org/2005/11/COLLADASchema" version="1.4.1">
		<library_geometries>
			<geometry id="Short-mesh" name="Short">
				<mesh>
					<source id="Short-mesh-positions">
						<float_array id="Short-mesh-positions-array" count="9">0 0 0 1 0 0 0 1 0</float_array>
					</source>
					<vertices id="Short-mesh-vertices">
						<input semantic="POSITION" source="#Short-mesh-positions"/>
					</vertices>
					<triangles count="2">
						<input semantic="VERTEX" source="#Short-mesh-vertices" offset="0"/>
						<p>0 1 2</p>
					</triangles>
				</mesh>
			</geometry>
		</library_geometries>
	</COLLADA>`

	if _, err := model.ImportCollada("short", []byte(doc)); err == nil {
		t.Fatal("expected an error when the index does not cover the triangle count")
	}
}
