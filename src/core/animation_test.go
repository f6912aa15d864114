// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestGroupCount(t *testing.T) {
	c := qt.New(t)

	cases := []struct {
		vertices uint32
		want     uint32
	}{
		{vertices: 1, want: 1},
		{vertices: localGroupSize - 1, want: 1},
		{vertices: localGroupSize, want: 1},
		{vertices: localGroupSize + 1, want: 2},
		{vertices: 10 * localGroupSize, want: 10},
		{vertices: 10*localGroupSize + 255, want: 11},
	}
	for _, tc := range cases {
		c.Assert(groupCount(tc.vertices, localGroupSize), qt.Equals, tc.want,
			qt.Commentf("%d vertices", tc.vertices))
	}
}

func TestJointKeyIdentity(t *testing.T) {
	c := qt.New(t)

	// The uniform cache depends on these comparing by value
	a := jointKey{modelID: "cylinder", animation: 0, frame: 4}
	b := jointKey{modelID: "cylinder", animation: 0, frame: 4}
	c.Assert(a == b, qt.IsTrue)

	cache := map[jointKey]int{a: 1}
	cache[b] = 2
	c.Assert(cache, qt.HasLen, 1)

	c.Assert(a == jointKey{modelID: "cylinder", animation: 1, frame: 4}, qt.IsFalse)
	c.Assert(a == jointKey{modelID: "cube", animation: 0, frame: 4}, qt.IsFalse)
}
