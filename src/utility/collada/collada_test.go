package collada_test

import (
	"encoding/xml"
	"testing"

	"github.com/devblok/ponga/src/utility/collada"
)

func TestTrianglesDecode(t *testing.T) {
	data := `
		<triangles material="Material-material" count="12">
		<input semantic="VERTEX" source="#Cube-mesh-vertices" offset="0"/>
		<input semantic="NORMAL" source="#Cube-mesh-normals" offset="1"/>
		<p>0 0 2 0 3 0 7 1 5 1 4 1 4 2 1 2 0 2 5 3 2 3 1 3 2 4 7 4 3 4 0 5 7 5 4 5 0 6 1 6 2 6 7 7 6 7 5 7 4 8 5 8 1 8 5 9 6 9 2 9 2 10 6 10 7 10 0 11 3 11 7 11</p>
		</triangles>
	`
	var triangles collada.Triangles
	if err := xml.Unmarshal([]byte(data), &triangles); err != nil {
		t.Fatal(err)
	}

	if triangles.Material != "Material-material" {
		t.Fatalf("incorrect material: %s", triangles.Material)
	}

	if triangles.Count != 12 {
		t.Fatalf("incorrect count: %d", triangles.Count)
	}

	if len(triangles.Inputs) != 2 {
		t.Fatalf("number of inputs incorrect: %d", len(triangles.Inputs))
	}

	if triangles.Stride() != 2 {
		t.Fatalf("incorrect stride: %d", triangles.Stride())
	}

	if len(triangles.Index) != 12*6 {
		t.Fatalf("number of index elements incorrect: %d", len(triangles.Index))
	}

	input, ok := triangles.InputBySemantic("NORMAL")
	if !ok {
		t.Fatal("NORMAL input not found")
	}
	if input.Offset != 1 || input.Source != "#Cube-mesh-normals" {
		t.Fatalf("incorrect NORMAL input: %+v", input)
	}

	if _, ok := triangles.InputBySemantic("TEXCOORD"); ok {
		t.Fatal("found an input that is not in the document")
	}
}

func TestInputDecode(t *testing.T) {
	data := `
	<object>
		<input semantic="VERTEX" source="#Cube-mesh-vertices" offset="0" />
		<input semantic="NORMAL" source="#Cube-mesh-normals" offset="1" />
		<input semantic="TEXTUR" source="#Cube-mesh-textures" offset="2" />
	</object>
	`

	type Object struct {
		XMLNname xml.Name        `xml:"object"`
		Inputs   []collada.Input `xml:"input"`
	}

	var obj Object
	err := xml.Unmarshal([]byte(data), &obj)
	if err != nil {
		t.Error(err)
		t.Fail()
	}

	if obj.Inputs[0].Offset != 0 || obj.Inputs[0].Semantic != "VERTEX" || obj.Inputs[0].Source != "#Cube-mesh-vertices" {
		t.Logf("expected Offset: %d, got: %d\nexpected Semantic: %s, got %s\nexpected Source: %s, got: %s", 0, obj.Inputs[0].Offset, "VERTEX", obj.Inputs[0].Semantic, "#Cube-mesh-vertices", obj.Inputs[0].Source)
		t.Fail()
	}
	if obj.Inputs[1].Offset != 1 || obj.Inputs[1].Semantic != "NORMAL" || obj.Inputs[1].Source != "#Cube-mesh-normals" {
		t.Logf("expected Offset: %d, got: %d\nexpected Semantic: %s, got %s\nexpected Source: %s, got: %s", 1, obj.Inputs[1].Offset, "NORMAL", obj.Inputs[1].Semantic, "#Cube-mesh-normals", obj.Inputs[1].Source)
		t.Fail()
	}
	if obj.Inputs[2].Offset != 2 || obj.Inputs[2].Semantic != "TEXTUR" || obj.Inputs[2].Source != "#Cube-mesh-textures" {
		t.Logf("expected Offset: %d, got: %d\nexpected Semantic: %s, got %s\nexpected Source: %s, got: %s", 2, obj.Inputs[2].Offset, "TEXTUR", obj.Inputs[2].Semantic, "#Cube-mesh-textures", obj.Inputs[2].Source)
		t.Fail()
	}
}

func TestFloatsDecode(t *testing.T) {
	data := `<float_array id="Cube-mesh-normals-array" count="36">0 0 -1 0 0 1 1 0 -2.38419e-7 0 -1 -4.76837e-7 -1 2.38419e-7 -1.49012e-7 2.68221e-7 1 2.38419e-7 0 0 -1 0 0 1 1 -5.96046e-7 3.27825e-7 -4.76837e-7 -1 0 -1 2.38419e-7 -1.19209e-7 2.08616e-7 1 0</float_array>`

	var floats collada.Floats
	if err := xml.Unmarshal([]byte(data), &floats); err != nil {
		t.Fatal(err)
	}

	if len(floats.Data) != 36 {
		t.Fatalf("bad number of floats, got: %d", len(floats.Data))
	}

	if floats.Count != 36 {
		t.Fatalf("bad count attribute, got: %d", floats.Count)
	}

	if floats.ID != "Cube-mesh-normals-array" {
		t.Fatalf("bad id, got: %s", floats.ID)
	}
}

func TestFloatsDecodeWrapped(t *testing.T) {
	data := "<float_array id=\"wrapped\" count=\"6\">1 2 3\n4 5 6</float_array>"

	var floats collada.Floats
	if err := xml.Unmarshal([]byte(data), &floats); err != nil {
		t.Fatal(err)
	}

	if len(floats.Data) != 6 {
		t.Fatalf("bad number of floats, got: %d", len(floats.Data))
	}
}

func TestColladaDecode(t *testing.T) {
	data := `<?xml version="1.0" encoding="utf-8"?>
	<COLLADA xmlns="http://www.collada.org/2005/11/COLLADASchema" version="1.4.1">
		<library_geometries>
			<geometry id="Plane-mesh" name="Plane">
				<mesh>
					<source id="Plane-mesh-positions">
						<float_array id="Plane-mesh-positions-array" count="9">0 0 0 1 0 0 0 1 0</float_array>
					</source>
					<source id="Plane-mesh-normals">
						<float_array id="Plane-mesh-normals-array" count="3">0 0 1</float_array>
					</source>
					<vertices id="Plane-mesh-vertices">
						<input semantic="POSITION" source="#Plane-mesh-positions"/>
					</vertices>
					<triangles material="Material-material" count="1">
						<input semantic="VERTEX" source="#Plane-mesh-vertices" offset="0"/>
						<input semantic="NORMAL" source="#Plane-mesh-normals" offset="1"/>
						<p>0 0 1 0 2 0</p>
					</triangles>
				</mesh>
			</geometry>
		</library_geometries>
	</COLLADA>`

	var doc collada.Collada
	if err := xml.Unmarshal([]byte(data), &doc); err != nil {
		t.Fatal(err)
	}

	if len(doc.Geometries) != 1 {
		t.Fatalf("bad number of geometries: %d", len(doc.Geometries))
	}

	mesh := doc.Geometries[0].Mesh
	if len(mesh.Sources) != 2 || len(mesh.Triangles) != 1 {
		t.Fatalf("bad mesh layout: %d sources, %d triangle groups", len(mesh.Sources), len(mesh.Triangles))
	}

	if mesh.Vertices.ID != "Plane-mesh-vertices" {
		t.Fatalf("bad vertices id: %s", mesh.Vertices.ID)
	}

	src, ok := mesh.SourceByRef("#Plane-mesh-positions")
	if !ok {
		t.Fatal("position source not resolved")
	}
	if len(src.Floats.Data) != 9 {
		t.Fatalf("bad position data length: %d", len(src.Floats.Data))
	}

	if _, ok := mesh.SourceByRef("#not-there"); ok {
		t.Fatal("resolved a source that is not in the document")
	}
}
