// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
	"unsafe"

	"github.com/devblok/ponga/src/core"
	"github.com/gobuffalo/packr"
)

var (
	StaticResources packr.Box
	testImage       image.Image
)

func init() {
	StaticResources = packr.NewBox("../assets")
	img, err := png.Decode(bytes.NewReader(StaticResources.Bytes("Bricks_COLOR.png")))
	if err != nil {
		panic(err)
	}
	testImage = img
}

func TestGetPixels(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 50), G: uint8(y * 50), B: 25, A: 255})
		}
	}

	pixels, err := core.GetPixels(img, 4*4)
	if err != nil {
		t.Fatal(err)
	}
	if len(pixels) != 4*4*4 {
		t.Fatalf("got %d bytes for a 4x4 image", len(pixels))
	}

	// Pixel (2,3) sits at row 3, column 2 of a 16 byte row
	offset := 3*16 + 2*4
	if pixels[offset] != 100 || pixels[offset+1] != 150 || pixels[offset+2] != 25 || pixels[offset+3] != 255 {
		t.Errorf("pixel (2,3) came out as %v", pixels[offset:offset+4])
	}
}

func TestGetPixelsScaled(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 10, B: 60, A: 255})
		}
	}

	pixels, err := core.GetPixelsScaled(img, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(pixels) != 4*4*4 {
		t.Fatalf("got %d bytes for a 4x4 target", len(pixels))
	}
	for idx := 0; idx < len(pixels); idx += 4 {
		if pixels[idx] != 200 || pixels[idx+1] != 10 || pixels[idx+2] != 60 || pixels[idx+3] != 255 {
			t.Fatalf("pixel %d came out as %v, scaling a solid color must keep it", idx/4, pixels[idx:idx+4])
		}
	}

	if _, err := core.GetPixelsScaled(img, 0, 4); err == nil {
		t.Error("zero width target must be rejected")
	}
	if _, err := core.GetPixelsScaled(img, 4, -1); err == nil {
		t.Error("negative height target must be rejected")
	}
}

func TestSliceUint32(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	out := core.SliceUint32(data)
	if len(out) != 2 {
		t.Fatalf("10 bytes must view as 2 words, got %d", len(out))
	}

	want := *(*uint32)(unsafe.Pointer(&data[0]))
	if out[0] != want {
		t.Errorf("first word is %#x, expected %#x", out[0], want)
	}

	// The result aliases the input, it must never be a copy
	data[0] = 0xFF
	if out[0] == want {
		t.Error("mutating the bytes did not show up in the words")
	}
}

func BenchmarkGetPixelsNoRowPitch(b *testing.B) {
	for idx := 0; idx < b.N; idx++ {
		core.GetPixels(testImage, 0)
	}
}

func BenchmarkGetPixelsSmallRowPitch(b *testing.B) {
	for idx := 0; idx < b.N; idx++ {
		core.GetPixels(testImage, 4)
	}
}

func BenchmarkGetPixelsMediumRowPitch(b *testing.B) {
	for idx := 0; idx < b.N; idx++ {
		core.GetPixels(testImage, 200)
	}
}

func BenchmarkGetPixelsBigRowPitch(b *testing.B) {
	for idx := 0; idx < b.N; idx++ {
		core.GetPixels(testImage, 1000)
	}
}

func BenchmarkGetPixelsScaledDown(b *testing.B) {
	for idx := 0; idx < b.N; idx++ {
		core.GetPixelsScaled(testImage, 128, 128)
	}
}
