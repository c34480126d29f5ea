package renderer

import (
	"image"
	"image/color"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/floats"
)

// ImageBuffer is a row-major H x W x C float image, C is 1 (depth) or 3 (color)
type ImageBuffer struct {
	Width, Height int
	Channels      int
	Pix           []float64
}

// NewImageBuffer allocates a zeroed buffer
func NewImageBuffer(width, height, channels int) *ImageBuffer {
	return &ImageBuffer{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]float64, width*height*channels),
	}
}

// Filled returns a 3-channel buffer with every pixel set to c
func Filled(width, height int, c mgl64.Vec3) *ImageBuffer {
	buf := NewImageBuffer(width, height, 3)
	for i := 0; i < width*height; i++ {
		buf.Pix[i*3] = c[0]
		buf.Pix[i*3+1] = c[1]
		buf.Pix[i*3+2] = c[2]
	}
	return buf
}

// At returns channel c of pixel (x, y)
func (b *ImageBuffer) At(x, y, c int) float64 {
	return b.Pix[(y*b.Width+x)*b.Channels+c]
}

// Max returns the largest value in the buffer, 0 when empty
func (b *ImageBuffer) Max() float64 {
	if len(b.Pix) == 0 {
		return 0
	}
	return floats.Max(b.Pix)
}

// NormalizeDepth divides a single-channel depth buffer by its maximum and
// broadcasts it to three channels for display. An all-zero buffer stays zero.
func NormalizeDepth(depth *ImageBuffer) *ImageBuffer {
	scaled := make([]float64, len(depth.Pix))
	copy(scaled, depth.Pix)
	if m := depth.Max(); m > 0 {
		floats.Scale(1/m, scaled)
	}

	out := NewImageBuffer(depth.Width, depth.Height, 3)
	for i, v := range scaled {
		out.Pix[i*3] = v
		out.Pix[i*3+1] = v
		out.Pix[i*3+2] = v
	}
	return out
}

// ToRGBA converts a 3-channel buffer to 8-bit RGBA with clamping to [0, 1]
func (b *ImageBuffer) ToRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, b.Width, b.Height))
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			var rgb [3]float64
			for c := 0; c < 3; c++ {
				rgb[c] = b.At(x, y, min(c, b.Channels-1))
			}
			img.SetRGBA(x, y, vec3ToColor(rgb))
		}
	}
	return img
}

// vec3ToColor converts a linear [0,1] color to RGBA with clamping
func vec3ToColor(rgb [3]float64) color.RGBA {
	clamp := func(v float64) uint8 {
		return uint8(255*max(0, min(v, 1)) + 0.5)
	}
	return color.RGBA{
		R: clamp(rgb[0]),
		G: clamp(rgb[1]),
		B: clamp(rgb[2]),
		A: 255,
	}
}
