// Package collada maps the subset of the COLLADA schema that the
// engine imports geometry from.
package collada

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// Collada is the document root, reduced to the geometry library.
type Collada struct {
	Geometries []Geometry `xml:"library_geometries>geometry"`
}

// Geometry is one named mesh of the document.
type Geometry struct {
	Mesh Mesh   `xml:"mesh"`
	ID   string `xml:"id,attr"`
	Name string `xml:"name,attr"`
}

// Mesh carries the primitive data of a geometry. A mesh may hold
// several triangle groups, one per material.
type Mesh struct {
	Sources   []Source    `xml:"source"`
	Vertices  Vertices    `xml:"vertices"`
	Triangles []Triangles `xml:"triangles"`
}

// SourceByRef resolves a source URI fragment of the #id form.
func (m *Mesh) SourceByRef(ref string) (*Source, bool) {
	id := strings.TrimPrefix(ref, "#")
	for idx := range m.Sources {
		if m.Sources[idx].ID == id {
			return &m.Sources[idx], true
		}
	}
	return nil, false
}

// Source holds one raw data array of a mesh.
type Source struct {
	ID     string `xml:"id,attr"`
	Floats Floats `xml:"float_array"`
	// technique_common define accessing rules, add if needed
}

// Floats is a whitespace separated array of floats.
type Floats struct {
	ID    string
	Count int
	Data  []float32
}

// UnmarshalXML unmarshals the array of floats.
func (f *Floats) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "id":
			f.ID = attr.Value
		case "count":
			num, err := strconv.Atoi(attr.Value)
			if err != nil {
				return err
			}
			f.Count = num
		}
	}
	var raw string
	if err := d.DecodeElement(&raw, &start); err != nil {
		return err
	}
	f.Data = make([]float32, 0, f.Count)
	for _, r := range strings.Fields(raw) {
		num, err := strconv.ParseFloat(r, 32)
		if err != nil {
			return err
		}
		f.Data = append(f.Data, float32(num))
	}
	return nil
}

// Vertices is the indirection between the VERTEX semantic of a
// triangle group and the position source.
type Vertices struct {
	ID     string  `xml:"id,attr"`
	Inputs []Input `xml:"input"`
}

// Triangles is one indexed triangle group.
type Triangles struct {
	Count    int
	Material string
	Inputs   []Input
	Index    []int
}

// Stride returns the number of index elements per triangle corner,
// one per distinct input offset.
func (t *Triangles) Stride() int {
	var max uint
	for _, in := range t.Inputs {
		if in.Offset > max {
			max = in.Offset
		}
	}
	return int(max) + 1
}

// InputBySemantic finds the input carrying the given semantic.
func (t *Triangles) InputBySemantic(semantic string) (Input, bool) {
	for _, in := range t.Inputs {
		if in.Semantic == semantic {
			return in, true
		}
	}
	return Input{}, false
}

// UnmarshalXML parses the inputs and the index list.
func (t *Triangles) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "count":
			num, err := strconv.Atoi(attr.Value)
			if err != nil {
				return err
			}
			t.Count = num
		case "material":
			t.Material = attr.Value
		}
	}

	for {
		token, err := d.Token()
		if err != nil {
			return err
		}

		switch el := token.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "input":
				var input Input
				if err := d.DecodeElement(&input, &el); err != nil {
					return err
				}
				t.Inputs = append(t.Inputs, input)
			case "p":
				var raw string
				if err := d.DecodeElement(&raw, &el); err != nil {
					return err
				}
				fields := strings.Fields(raw)
				index := make([]int, 0, len(fields))
				for _, r := range fields {
					num, err := strconv.Atoi(r)
					if err != nil {
						return err
					}
					index = append(index, num)
				}
				t.Index = index
			}
		case xml.EndElement:
			if el == start.End() {
				return nil
			}
		}
	}
}

// Input binds a semantic to a source at an index offset.
type Input struct {
	Semantic string `xml:"semantic,attr"`
	Source   string `xml:"source,attr"`
	Offset   uint   `xml:"offset,attr"`
}
