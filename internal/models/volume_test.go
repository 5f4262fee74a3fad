package models

import (
	"reflect"
	"testing"
)

func TestClassifyShape(t *testing.T) {
	tests := []struct {
		name string
		dims []int
		want Shape
	}{
		{"grayscale series", []int{5, 100, 120}, Grayscale{Frames: 5, Rows: 100, Cols: 120}},
		{"color series", []int{2, 50, 60, 3}, Color{Frames: 2, Rows: 50, Cols: 60}},
		{"single still frame", []int{100, 120}, Unsupported{Dimensions: []int{100, 120}}},
		{"rank 4 with four samples", []int{2, 50, 60, 4}, Unsupported{Dimensions: []int{2, 50, 60, 4}}},
		{"zero frames", []int{0, 10, 10}, Unsupported{Dimensions: []int{0, 10, 10}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyShape(tt.dims)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ClassifyShape(%v) = %#v, want %#v", tt.dims, got, tt.want)
			}
			if !reflect.DeepEqual(got.Dims(), tt.dims) {
				t.Errorf("Dims() = %v, want %v", got.Dims(), tt.dims)
			}
		})
	}
}

func TestNewPixelVolumeChecksLength(t *testing.T) {
	if _, err := NewPixelVolume([]int{2, 3, 4}, make([]uint8, 24)); err != nil {
		t.Fatalf("Unexpected error for matching buffer: %v", err)
	}
	if _, err := NewPixelVolume([]int{2, 3, 4}, make([]uint8, 23)); err == nil {
		t.Error("Expected error for short buffer")
	}
	if _, err := NewPixelVolume([]int{2, 3, 4, 3}, make([]uint8, 72)); err != nil {
		t.Fatalf("Unexpected error for color buffer: %v", err)
	}
}

func TestMaskFlips(t *testing.T) {
	m := Zeros(2, 3)
	m.Set(0, 0, 1)
	m.Set(1, 1, 1)

	h := m.FlipH()
	if h.At(0, 2) != 1 || h.At(1, 1) != 1 || h.Kept() != 2 {
		t.Errorf("FlipH produced %v", h.Data)
	}

	v := m.FlipV()
	if v.At(1, 0) != 1 || v.At(0, 1) != 1 || v.Kept() != 2 {
		t.Errorf("FlipV produced %v", v.Data)
	}

	if !m.FlipH().FlipH().Equal(m) {
		t.Error("Double horizontal flip should be the identity")
	}
}

func TestMaskIntersect(t *testing.T) {
	a := Ones(2, 2)
	b := Zeros(2, 2)
	b.Set(1, 1, 1)

	if err := a.Intersect(b); err != nil {
		t.Fatalf("Intersect failed: %v", err)
	}
	if a.Kept() != 1 || a.At(1, 1) != 1 {
		t.Errorf("Intersect produced %v", a.Data)
	}

	if err := a.Intersect(Ones(3, 2)); err == nil {
		t.Error("Expected error for mismatched dimensions")
	}
}

func TestBoundingBoxClamp(t *testing.T) {
	box := BoundingBox{Top: -5, Left: 10, Bottom: 200, Right: 90}
	got, ok := box.Clamp(100, 80)
	if !ok {
		t.Fatal("Expected a non-empty box")
	}
	want := BoundingBox{Top: 0, Left: 10, Bottom: 100, Right: 80}
	if got != want {
		t.Errorf("Clamp = %v, want %v", got, want)
	}

	if _, ok := (BoundingBox{Top: 50, Left: 0, Bottom: 40, Right: 10}).Clamp(100, 100); ok {
		t.Error("Inverted box should clamp to empty")
	}
	if _, ok := (BoundingBox{Top: 0, Left: 120, Bottom: 10, Right: 150}).Clamp(100, 100); ok {
		t.Error("Box outside the frame should clamp to empty")
	}
}

func TestBoundingBoxUnion(t *testing.T) {
	a := BoundingBox{Top: 10, Left: 20, Bottom: 50, Right: 60}
	b := BoundingBox{Top: 40, Left: 5, Bottom: 90, Right: 30}
	want := BoundingBox{Top: 10, Left: 5, Bottom: 90, Right: 60}
	if got := a.Union(b); got != want {
		t.Errorf("Union = %v, want %v", got, want)
	}
}
