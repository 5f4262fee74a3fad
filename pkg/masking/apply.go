package masking

import (
	"errors"
	"fmt"

	"echodeid/internal/models"
)

var (
	// ErrUnsupportedShape marks a volume that is not a grayscale or color time
	// series. The study is skipped, not failed.
	ErrUnsupportedShape = errors.New("unsupported pixel volume shape")

	// ErrMaskMismatch is returned when the mask does not match the frame grid.
	ErrMaskMismatch = errors.New("mask does not match frame dimensions")
)

// ApplyMask multiplies mask into every frame (and every color channel) of vol
// and returns the redacted copy. The result has vol's shape and sample type.
// Volumes with an Unsupported shape are returned unchanged along with
// ErrUnsupportedShape.
func ApplyMask(vol models.PixelVolume, mask models.Mask2D) (models.PixelVolume, error) {
	var frames, rows, cols, samples int

	switch s := vol.Shape.(type) {
	case models.Grayscale:
		frames, rows, cols, samples = s.Frames, s.Rows, s.Cols, 1
	case models.Color:
		frames, rows, cols, samples = s.Frames, s.Rows, s.Cols, models.ColorSamples
	case models.Unsupported:
		return vol, fmt.Errorf("%w: dims %v", ErrUnsupportedShape, s.Dims())
	default:
		return vol, fmt.Errorf("%w: %T", ErrUnsupportedShape, vol.Shape)
	}

	if mask.Rows != rows || mask.Cols != cols || len(mask.Data) != rows*cols {
		return vol, fmt.Errorf("%w: mask %dx%d, frame %dx%d", ErrMaskMismatch, mask.Rows, mask.Cols, rows, cols)
	}

	frameLen := rows * cols * samples
	if len(vol.Data) != frames*frameLen {
		return vol, fmt.Errorf("pixel buffer has %d samples, shape %v needs %d", len(vol.Data), vol.Dims(), frames*frameLen)
	}

	out := make([]uint8, len(vol.Data))
	for f := 0; f < frames; f++ {
		src := vol.Data[f*frameLen : (f+1)*frameLen]
		dst := out[f*frameLen : (f+1)*frameLen]
		for px, keep := range mask.Data {
			base := px * samples
			for s := 0; s < samples; s++ {
				dst[base+s] = src[base+s] * keep
			}
		}
	}

	return models.PixelVolume{Shape: vol.Shape, Data: out}, nil
}

// RedactedSamples counts the non-zero samples of vol that mask removes.
func RedactedSamples(vol models.PixelVolume, mask models.Mask2D) int {
	var samples int
	switch vol.Shape.(type) {
	case models.Grayscale:
		samples = 1
	case models.Color:
		samples = models.ColorSamples
	default:
		return 0
	}
	frameLen := len(mask.Data) * samples
	if frameLen == 0 || len(vol.Data)%frameLen != 0 {
		return 0
	}

	n := 0
	for i, v := range vol.Data {
		if v != 0 && mask.Data[(i%frameLen)/samples] == 0 {
			n++
		}
	}
	return n
}
