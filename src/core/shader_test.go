// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestShaderTypeFromName(t *testing.T) {
	c := qt.New(t)

	cases := []struct {
		name string
		want ShaderType
	}{
		{name: "geometry.vert", want: VertexShaderType},
		{name: "lighting.frag", want: FragmentShaderType},
		{name: "skinning.comp", want: ComputeShaderType},
		{name: "geometry", want: UnknownShaderType},
		{name: "geometry.glsl", want: UnknownShaderType},
		{name: "too.many.vert", want: UnknownShaderType},
	}
	for _, tc := range cases {
		c.Assert(shaderTypeFromName(tc.name), qt.Equals, tc.want, qt.Commentf("%s", tc.name))
	}
}

func TestLoadShaderFilesFromDirectory(t *testing.T) {
	c := qt.New(t)

	dir, err := ioutil.TempDir("", "shaders")
	c.Assert(err, qt.IsNil)
	defer os.RemoveAll(dir)

	files := []string{
		"geometry.vert.spv",
		"lighting.frag.spv",
		"skinning.comp.spv",
		"notes.txt",
		"uncompiled.vert",
		"model.geom.spv",
	}
	for _, name := range files {
		c.Assert(ioutil.WriteFile(filepath.Join(dir, name), []byte{0, 0, 0, 0}, 0644), qt.IsNil)
	}

	paths, types, err := loadShaderFilesFromDirectory(dir)
	c.Assert(err, qt.IsNil)
	c.Assert(paths, qt.HasLen, 3)
	c.Assert(types, qt.HasLen, 3)

	byBase := map[string]ShaderType{}
	for idx, path := range paths {
		byBase[filepath.Base(path)] = types[idx]
	}
	c.Assert(byBase, qt.DeepEquals, map[string]ShaderType{
		"geometry.vert.spv": VertexShaderType,
		"lighting.frag.spv": FragmentShaderType,
		"skinning.comp.spv": ComputeShaderType,
	})
}
