package masking

import (
	"fmt"
	"math"

	"echodeid/internal/models"
	"echodeid/pkg/geometry"
)

// BuildMask synthesizes the rows x cols keep mask for one study.
//
// The None preset returns an all-ones mask before the box is considered.
// Every other preset starts from the box crop (when a box is given and
// overlaps the frame) and intersects the preset's own carving with it, so a
// study with region metadata gets both constraints and one without gets only
// the carving. Unknown presets return ErrInvalidPreset.
func BuildMask(rows, cols int, box *models.BoundingBox, preset Preset) (models.Mask2D, error) {
	if rows <= 0 || cols <= 0 {
		return models.Mask2D{}, fmt.Errorf("mask dimensions must be positive, got %dx%d", rows, cols)
	}
	if !preset.Valid() {
		return models.Mask2D{}, fmt.Errorf("%w: %q", ErrInvalidPreset, string(preset))
	}

	mask := models.Ones(rows, cols)
	if preset == None {
		return mask, nil
	}

	if box != nil {
		if clamped, ok := box.Clamp(rows, cols); ok {
			cropToBox(mask, clamped)
		}
	}

	switch preset {
	case BoundingBox:
		return mask, nil
	case Top:
		crop := int(math.Round(float64(topBannerCrop.num*cols) / float64(topBannerCrop.den)))
		zeroLeftColumns(mask, crop)
	}

	c := carvings[preset]
	for _, tri := range []models.Mask2D{
		geometry.Orient(rows, cols, c.upperRight.cutoff(cols), geometry.UpperRight),
		geometry.Orient(rows, cols, c.upperLeft.cutoff(cols), geometry.UpperLeft),
		geometry.Orient(rows, cols, c.lowerRight.cutoff(cols), geometry.LowerRight),
	} {
		if err := mask.Intersect(tri); err != nil {
			return models.Mask2D{}, err
		}
	}
	return mask, nil
}

// cropToBox zeroes every pixel outside an in-bounds box
func cropToBox(mask models.Mask2D, box models.BoundingBox) {
	for r := 0; r < mask.Rows; r++ {
		row := mask.Data[r*mask.Cols : (r+1)*mask.Cols]
		if r < box.Top || r >= box.Bottom {
			clear(row)
			continue
		}
		clear(row[:box.Left])
		clear(row[box.Right:])
	}
}

func zeroLeftColumns(mask models.Mask2D, n int) {
	n = min(max(n, 0), mask.Cols)
	for r := 0; r < mask.Rows; r++ {
		clear(mask.Data[r*mask.Cols : r*mask.Cols+n])
	}
}
