// Package masking decides which pixels of an ultrasound study survive
// de-identification. BuildMask combines a study's ultrasound region box with a
// named preset geometry, and ApplyMask broadcasts the result over every frame
// and color channel of the pixel volume.
package masking

import (
	"errors"
	"fmt"
	"strings"

	"echodeid/pkg/geometry"
)

// ErrInvalidPreset is returned for preset names outside the closed set.
// It indicates a caller bug rather than bad study data.
var ErrInvalidPreset = errors.New("invalid mask preset")

// Preset names a redaction geometry tuned for one scanner display layout.
type Preset string

const (
	// Top crops the left banner columns and carves the sector with the "top" ratios.
	Top Preset = "top"
	// NoTop carves the sector for layouts without a top banner.
	NoTop Preset = "no_top"
	// None disables pixel redaction entirely.
	None Preset = "none"
	// BoundingBox keeps only the ultrasound region rectangle.
	BoundingBox Preset = "boundingbox"
	// SpectrumHigh carves the sector for high-placed spectral Doppler layouts.
	SpectrumHigh Preset = "spectrum_high"
	// SpectrumOffAxis carves the sector for off-axis spectral Doppler layouts.
	SpectrumOffAxis Preset = "spectrum_offaxis"
)

var allPresets = []Preset{Top, NoTop, None, BoundingBox, SpectrumHigh, SpectrumOffAxis}

// Presets lists every valid preset in a stable order.
func Presets() []Preset {
	return append([]Preset(nil), allPresets...)
}

// ParsePreset validates a preset name. Surrounding whitespace is ignored.
func ParsePreset(name string) (Preset, error) {
	p := Preset(strings.TrimSpace(name))
	if p.Valid() {
		return p, nil
	}
	return "", fmt.Errorf("%w: %q (valid: %s)", ErrInvalidPreset, name, presetList())
}

// Valid reports whether p is one of the known presets.
func (p Preset) Valid() bool {
	for _, known := range allPresets {
		if p == known {
			return true
		}
	}
	return false
}

func (p Preset) String() string { return string(p) }

func presetList() string {
	names := make([]string, len(allPresets))
	for i, p := range allPresets {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}

// ratio is a cutoff expressed as a fraction of the frame width.
type ratio struct {
	num, den int
}

func (r ratio) cutoff(width int) int {
	return geometry.Scaled(r.num, r.den, width)
}

// carving is the triangle triple a preset intersects into the keep region.
// The ratios were measured empirically on each scanner's display.
type carving struct {
	upperRight ratio
	upperLeft  ratio
	lowerRight ratio
}

var carvings = map[Preset]carving{
	Top: {
		upperRight: ratio{330, 800},
		upperLeft:  ratio{260, 800},
		lowerRight: ratio{619, 800},
	},
	NoTop: {
		upperRight: ratio{347, 800},
		upperLeft:  ratio{300, 800},
		lowerRight: ratio{700, 800},
	},
	SpectrumOffAxis: {
		upperRight: ratio{455, 636},
		upperLeft:  ratio{455, 636},
		lowerRight: ratio{936, 1016},
	},
	SpectrumHigh: {
		upperRight: ratio{318, 636},
		upperLeft:  ratio{318, 636},
		lowerRight: ratio{580, 636},
	},
}

// topBannerCrop is the share of the frame width blanked on the left by the top preset.
var topBannerCrop = ratio{60, 600}
