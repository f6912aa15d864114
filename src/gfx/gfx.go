// Package gfx holds the dimension vocabulary shared between the
// renderer and its device resource wrappers.
package gfx

// Extent2D describes a two dimensional size in pixels.
type Extent2D struct {
	Width  uint
	Height uint
}

// Extent3D describes a three dimensional size in pixels.
type Extent3D struct {
	Width  uint
	Height uint
	Depth  uint
}
