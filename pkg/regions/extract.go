// Package regions reads the ultrasound region geometry a scanner embeds in
// a study's metadata and turns it into a bounding box on the frame grid.
package regions

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"echodeid/internal/models"
)

// Ultrasound region tags (PS3.3 C.8.5.5).
var (
	SequenceOfUltrasoundRegions = tag.Tag{Group: 0x0018, Element: 0x6011}
	RegionLocationMinX0         = tag.Tag{Group: 0x0018, Element: 0x6018}
	RegionLocationMinY0         = tag.Tag{Group: 0x0018, Element: 0x601A}
	RegionLocationMaxX1         = tag.Tag{Group: 0x0018, Element: 0x601C}
	RegionLocationMaxY1         = tag.Tag{Group: 0x0018, Element: 0x601E}
)

// Reason explains the outcome of an extraction.
type Reason int

const (
	// Found means at least one region was read and Box is set.
	Found Reason = iota
	// Absent means the study carries no ultrasound region sequence, or it is empty.
	Absent
	// Malformed means a region item is missing a coordinate or holds an unusable value.
	Malformed
)

func (r Reason) String() string {
	switch r {
	case Found:
		return "found"
	case Absent:
		return "absent"
	case Malformed:
		return "malformed"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Extraction is the result of reading region metadata. Box is nil unless Reason is Found.
type Extraction struct {
	Box    *models.BoundingBox
	Reason Reason

	// Detail describes what was wrong when Reason is Malformed
	Detail string
}

// Extract reads every region of the Sequence of Ultrasound Regions and
// returns the union rectangle. DICOM max coordinates are inclusive and are
// converted to the exclusive Bottom/Right of models.BoundingBox.
//
// Extract never fails: missing or unusable metadata is reported through
// Extraction.Reason so masking can proceed without a box.
func Extract(ds dicom.Dataset) (ext Extraction) {
	defer func() {
		// a hostile value type must not take the study down with it
		if r := recover(); r != nil {
			ext = Extraction{Reason: Malformed, Detail: fmt.Sprint(r)}
		}
	}()

	el, err := ds.FindElementByTag(SequenceOfUltrasoundRegions)
	if err != nil || el == nil || el.Value == nil {
		return Extraction{Reason: Absent}
	}

	items, ok := el.Value.GetValue().([]*dicom.SequenceItemValue)
	if !ok {
		return Extraction{Reason: Malformed, Detail: fmt.Sprintf("region sequence holds %T", el.Value.GetValue())}
	}
	if len(items) == 0 {
		return Extraction{Reason: Absent}
	}

	var union *models.BoundingBox
	for i, item := range items {
		elements, ok := item.GetValue().([]*dicom.Element)
		if !ok {
			return Extraction{Reason: Malformed, Detail: fmt.Sprintf("region %d holds %T", i, item.GetValue())}
		}
		box, err := regionBox(elements)
		if err != nil {
			return Extraction{Reason: Malformed, Detail: fmt.Sprintf("region %d: %v", i, err)}
		}
		if union == nil {
			union = &box
			continue
		}
		merged := union.Union(box)
		union = &merged
	}

	return Extraction{Box: union, Reason: Found}
}

func regionBox(elements []*dicom.Element) (models.BoundingBox, error) {
	minX, err := coordinate(elements, RegionLocationMinX0)
	if err != nil {
		return models.BoundingBox{}, err
	}
	minY, err := coordinate(elements, RegionLocationMinY0)
	if err != nil {
		return models.BoundingBox{}, err
	}
	maxX, err := coordinate(elements, RegionLocationMaxX1)
	if err != nil {
		return models.BoundingBox{}, err
	}
	maxY, err := coordinate(elements, RegionLocationMaxY1)
	if err != nil {
		return models.BoundingBox{}, err
	}

	if maxX < minX || maxY < minY {
		return models.BoundingBox{}, fmt.Errorf("inverted region (%d,%d)-(%d,%d)", minX, minY, maxX, maxY)
	}
	return models.BoundingBox{Top: minY, Left: minX, Bottom: maxY + 1, Right: maxX + 1}, nil
}

func coordinate(elements []*dicom.Element, t tag.Tag) (int, error) {
	for _, el := range elements {
		if el == nil || el.Tag != t {
			continue
		}
		if el.Value == nil {
			return 0, fmt.Errorf("%s has no value", t)
		}
		v, err := firstInt(el.Value.GetValue())
		if err != nil {
			return 0, fmt.Errorf("%s: %w", t, err)
		}
		if v < 0 {
			return 0, fmt.Errorf("%s is negative (%d)", t, v)
		}
		return v, nil
	}
	return 0, fmt.Errorf("%s missing", t)
}

func firstInt(raw any) (int, error) {
	switch v := raw.(type) {
	case []int:
		if len(v) == 0 {
			return 0, fmt.Errorf("empty value")
		}
		return v[0], nil
	case []string:
		if len(v) == 0 {
			return 0, fmt.Errorf("empty value")
		}
		return strconv.Atoi(strings.TrimSpace(v[0]))
	default:
		return 0, fmt.Errorf("unexpected value type %T", raw)
	}
}
