package models

import "fmt"

// BoundingBox is a rectangular region of interest on one frame's pixel grid.
// Top and Left are inclusive, Bottom and Right are exclusive.
type BoundingBox struct {
	Top    int
	Left   int
	Bottom int
	Right  int
}

// Clamp intersects the box with a rows x cols frame. The second result is
// false when nothing of the box remains inside the frame.
func (b BoundingBox) Clamp(rows, cols int) (BoundingBox, bool) {
	out := BoundingBox{
		Top:    clampInt(b.Top, 0, rows),
		Left:   clampInt(b.Left, 0, cols),
		Bottom: clampInt(b.Bottom, 0, rows),
		Right:  clampInt(b.Right, 0, cols),
	}
	if out.Top >= out.Bottom || out.Left >= out.Right {
		return out, false
	}
	return out, true
}

// Union returns the smallest box containing both b and other.
func (b BoundingBox) Union(other BoundingBox) BoundingBox {
	return BoundingBox{
		Top:    min(b.Top, other.Top),
		Left:   min(b.Left, other.Left),
		Bottom: max(b.Bottom, other.Bottom),
		Right:  max(b.Right, other.Right),
	}
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("[%d:%d, %d:%d]", b.Top, b.Bottom, b.Left, b.Right)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
