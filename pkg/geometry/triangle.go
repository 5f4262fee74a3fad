// Package geometry builds the triangular masks that presets combine into
// a sector-shaped keep region.
package geometry

import (
	"fmt"

	"echodeid/internal/models"
)

// Orientation selects which corner of the frame a triangular mask leaves open.
type Orientation int

const (
	// UpperRight is the base lower-triangular mask; the redacted wedge sits in the upper right.
	UpperRight Orientation = iota
	// UpperLeft mirrors UpperRight left to right.
	UpperLeft
	// LowerRight mirrors UpperRight top to bottom.
	LowerRight
	// LowerLeft mirrors UpperRight in both directions.
	LowerLeft
)

func (o Orientation) String() string {
	switch o {
	case UpperRight:
		return "upper-right"
	case UpperLeft:
		return "upper-left"
	case LowerRight:
		return "lower-right"
	case LowerLeft:
		return "lower-left"
	default:
		return fmt.Sprintf("orientation(%d)", int(o))
	}
}

// Triangular returns a rows x cols lower-triangular mask of ones with diagonal
// offset cutoff. Row r keeps the columns [0, cutoff+r), so the first row keeps
// exactly cutoff pixels and the boundary advances one column per row until it
// reaches the right edge. Cutoffs outside [0, cols] clamp to an empty or full first row.
func Triangular(rows, cols, cutoff int) models.Mask2D {
	m := models.Zeros(rows, cols)
	for r := 0; r < m.Rows; r++ {
		keep := min(max(cutoff+r, 0), m.Cols)
		row := m.Data[r*m.Cols : r*m.Cols+keep]
		for c := range row {
			row[c] = 1
		}
	}
	return m
}

// Orient returns the triangular mask for cutoff flipped into the requested orientation.
func Orient(rows, cols, cutoff int, o Orientation) models.Mask2D {
	base := Triangular(rows, cols, cutoff)
	switch o {
	case UpperLeft:
		return base.FlipH()
	case LowerRight:
		return base.FlipV()
	case LowerLeft:
		return base.FlipH().FlipV()
	default:
		return base
	}
}

// Scaled converts a resolution-independent ratio (numerator/denominator of the
// frame width) to a pixel cutoff, truncating toward zero.
func Scaled(numerator, denominator, width int) int {
	if denominator == 0 {
		return 0
	}
	return numerator * width / denominator
}
