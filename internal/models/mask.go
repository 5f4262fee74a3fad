package models

import (
	"fmt"
)

// Mask2D is a per-frame binary mask: 1 keeps a pixel, 0 redacts it.
// Data is stored row-major with Rows*Cols entries.
type Mask2D struct {
	Rows int
	Cols int
	Data []uint8
}

// Ones returns a mask that keeps every pixel.
func Ones(rows, cols int) Mask2D {
	m := Zeros(rows, cols)
	for i := range m.Data {
		m.Data[i] = 1
	}
	return m
}

// Zeros returns a mask that redacts every pixel.
func Zeros(rows, cols int) Mask2D {
	if rows < 0 {
		rows = 0
	}
	if cols < 0 {
		cols = 0
	}
	return Mask2D{Rows: rows, Cols: cols, Data: make([]uint8, rows*cols)}
}

// At returns the mask value at (row, col).
func (m Mask2D) At(row, col int) uint8 {
	return m.Data[row*m.Cols+col]
}

// Set stores v (0 or 1) at (row, col).
func (m Mask2D) Set(row, col int, v uint8) {
	m.Data[row*m.Cols+col] = v
}

// Intersect multiplies other into m in place. Both masks must have the same dimensions.
func (m Mask2D) Intersect(other Mask2D) error {
	if m.Rows != other.Rows || m.Cols != other.Cols {
		return fmt.Errorf("mask %dx%d cannot intersect mask %dx%d", m.Rows, m.Cols, other.Rows, other.Cols)
	}
	for i := range m.Data {
		m.Data[i] *= other.Data[i]
	}
	return nil
}

// FlipH returns a copy of m mirrored left to right.
func (m Mask2D) FlipH() Mask2D {
	out := Zeros(m.Rows, m.Cols)
	for r := 0; r < m.Rows; r++ {
		row := m.Data[r*m.Cols : (r+1)*m.Cols]
		dst := out.Data[r*m.Cols : (r+1)*m.Cols]
		for c := range row {
			dst[m.Cols-1-c] = row[c]
		}
	}
	return out
}

// FlipV returns a copy of m mirrored top to bottom.
func (m Mask2D) FlipV() Mask2D {
	out := Zeros(m.Rows, m.Cols)
	for r := 0; r < m.Rows; r++ {
		copy(out.Data[(m.Rows-1-r)*m.Cols:(m.Rows-r)*m.Cols], m.Data[r*m.Cols:(r+1)*m.Cols])
	}
	return out
}

// Kept counts the pixels the mask keeps.
func (m Mask2D) Kept() int {
	n := 0
	for _, v := range m.Data {
		if v != 0 {
			n++
		}
	}
	return n
}

// Equal reports whether both masks have the same dimensions and values.
func (m Mask2D) Equal(other Mask2D) bool {
	if m.Rows != other.Rows || m.Cols != other.Cols || len(m.Data) != len(other.Data) {
		return false
	}
	for i := range m.Data {
		if m.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}
