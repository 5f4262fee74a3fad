package models

import (
	"fmt"
)

// ColorSamples is the number of interleaved samples per pixel in a color volume.
const ColorSamples = 3

// Shape describes how a PixelVolume's flat buffer is laid out.
// It is a closed set: Grayscale, Color and Unsupported are the only
// implementations, and code switching on a Shape must handle all three.
type Shape interface {
	// Dims returns the array dimensions in (frames, rows, cols[, samples]) order
	Dims() []int
	isShape()
}

// Grayscale is a multi-frame volume of single-sample pixels,
// laid out as (frames, rows, cols).
type Grayscale struct {
	Frames int
	Rows   int
	Cols   int
}

// Color is a multi-frame volume of three interleaved samples per pixel,
// laid out as (frames, rows, cols, 3).
type Color struct {
	Frames int
	Rows   int
	Cols   int
}

// Unsupported is any layout that is not a grayscale or color time series,
// for example a single still frame with no frame axis.
type Unsupported struct {
	Dimensions []int
}

func (s Grayscale) Dims() []int   { return []int{s.Frames, s.Rows, s.Cols} }
func (s Color) Dims() []int       { return []int{s.Frames, s.Rows, s.Cols, ColorSamples} }
func (s Unsupported) Dims() []int { return append([]int(nil), s.Dimensions...) }

func (Grayscale) isShape()   {}
func (Color) isShape()       {}
func (Unsupported) isShape() {}

// ClassifyShape maps array dimensions onto a Shape variant.
// Rank 3 is grayscale, rank 4 with a trailing dimension of 3 is color,
// everything else is unsupported.
func ClassifyShape(dims []int) Shape {
	for _, d := range dims {
		if d <= 0 {
			return Unsupported{Dimensions: append([]int(nil), dims...)}
		}
	}

	switch {
	case len(dims) == 3:
		return Grayscale{Frames: dims[0], Rows: dims[1], Cols: dims[2]}
	case len(dims) == 4 && dims[3] == ColorSamples:
		return Color{Frames: dims[0], Rows: dims[1], Cols: dims[2]}
	default:
		return Unsupported{Dimensions: append([]int(nil), dims...)}
	}
}

// PixelVolume is the decoded pixel payload of one study: unsigned 8-bit
// samples in row-major order with color channels interleaved.
type PixelVolume struct {
	// Shape identifies the layout of Data
	Shape Shape

	// Data holds product(Shape.Dims()) samples
	Data []uint8
}

// NewPixelVolume classifies dims and checks that data matches them.
func NewPixelVolume(dims []int, data []uint8) (PixelVolume, error) {
	shape := ClassifyShape(dims)
	if want := product(shape.Dims()); want != len(data) {
		return PixelVolume{}, fmt.Errorf("pixel buffer has %d samples, shape %v needs %d", len(data), dims, want)
	}
	return PixelVolume{Shape: shape, Data: data}, nil
}

// Dims is shorthand for v.Shape.Dims().
func (v PixelVolume) Dims() []int {
	if v.Shape == nil {
		return nil
	}
	return v.Shape.Dims()
}

func product(dims []int) int {
	if len(dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}
