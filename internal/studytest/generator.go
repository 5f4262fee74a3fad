// Package studytest writes small synthetic ultrasound studies for tests.
package studytest

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strconv"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	// ExplicitVRLittleEndian is the transfer syntax used for generated studies.
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"

	// JPEGBaselineProcess1 is the transfer syntax of JPEGBaseline studies.
	JPEGBaselineProcess1 = "1.2.840.10008.1.2.4.50"

	// UltrasoundMultiFrameStorage is the SOP class of generated studies.
	UltrasoundMultiFrameStorage = "1.2.840.10008.5.1.4.1.1.3.1"
)

// Encoding selects how generated pixel data is stored.
type Encoding int

const (
	// Native stores samples in []uint8 frames.
	Native Encoding = iota

	// NativeWide stores 8-bit samples in []uint16 frames. The dicom writer
	// cannot serialize these, so use Dataset rather than Write.
	NativeWide

	// JPEGBaseline stores every frame as one baseline JPEG fragment.
	JPEGBaseline
)

// Region is an ultrasound region with inclusive max coordinates, as stored in DICOM.
type Region struct {
	MinX, MinY, MaxX, MaxY int
}

// Spec describes the study to generate.
type Spec struct {
	PatientID string
	Frames    int
	Rows      int
	Cols      int
	Samples   int

	// Fill returns the sample value at (frame, row, col, sample). Nil fills with 200.
	Fill func(f, r, c, s int) uint8

	Regions []Region

	Encoding Encoding
}

// Dataset builds the dataset for spec. Keep Rows*Cols*Samples*Frames even:
// 8-bit pixel data of odd length gets a pad byte on write.
func Dataset(spec Spec) (dicom.Dataset, error) {
	if spec.Samples == 0 {
		spec.Samples = 1
	}
	if spec.Frames == 0 {
		spec.Frames = 1
	}
	fill := spec.Fill
	if fill == nil {
		fill = func(int, int, int, int) uint8 { return 200 }
	}

	photometric := "MONOCHROME2"
	if spec.Samples == 3 {
		photometric = "RGB"
	}
	transferSyntax := ExplicitVRLittleEndian

	pixels := spec.Rows * spec.Cols
	frames := make([]*frame.Frame, spec.Frames)
	for f := range frames {
		samples := make([]uint8, pixels*spec.Samples)
		for r := 0; r < spec.Rows; r++ {
			for c := 0; c < spec.Cols; c++ {
				for s := 0; s < spec.Samples; s++ {
					samples[(r*spec.Cols+c)*spec.Samples+s] = fill(f, r, c, s)
				}
			}
		}

		switch spec.Encoding {
		case NativeWide:
			nf := frame.NewNativeFrame[uint16](8, spec.Rows, spec.Cols, pixels, spec.Samples)
			for i, v := range samples {
				nf.RawData[i] = uint16(v)
			}
			frames[f] = &frame.Frame{Encapsulated: false, NativeData: nf}
		case JPEGBaseline:
			data, err := encodeJPEG(samples, spec.Rows, spec.Cols, spec.Samples)
			if err != nil {
				return dicom.Dataset{}, fmt.Errorf("frame %d: %w", f, err)
			}
			frames[f] = &frame.Frame{Encapsulated: true, EncapsulatedData: frame.EncapsulatedFrame{Data: data}}
		default:
			nf := frame.NewNativeFrame[uint8](8, spec.Rows, spec.Cols, pixels, spec.Samples)
			copy(nf.RawData, samples)
			frames[f] = &frame.Frame{Encapsulated: false, NativeData: nf}
		}
	}
	if spec.Encoding == JPEGBaseline {
		transferSyntax = JPEGBaselineProcess1
		if spec.Samples == 3 {
			photometric = "YBR_FULL_422"
		}
	}

	instanceUID := "1.2.826.0.1.3680043.8.498." + strconv.Itoa(len(spec.PatientID)) + "." + strconv.Itoa(pixels)

	builders := []struct {
		t    tag.Tag
		data interface{}
	}{
		{tag.TransferSyntaxUID, []string{transferSyntax}},
		{tag.SOPClassUID, []string{UltrasoundMultiFrameStorage}},
		{tag.SOPInstanceUID, []string{instanceUID}},
		{tag.Modality, []string{"US"}},
		{tag.PatientName, []string{"Doe^Jane"}},
		{tag.PatientID, []string{spec.PatientID}},
		{tag.SamplesPerPixel, []int{spec.Samples}},
		{tag.PhotometricInterpretation, []string{photometric}},
		{tag.NumberOfFrames, []string{strconv.Itoa(spec.Frames)}},
		{tag.Rows, []int{spec.Rows}},
		{tag.Columns, []int{spec.Cols}},
		{tag.BitsAllocated, []int{8}},
		{tag.BitsStored, []int{8}},
		{tag.HighBit, []int{7}},
		{tag.PixelRepresentation, []int{0}},
	}
	if spec.Samples > 1 {
		builders = append(builders, struct {
			t    tag.Tag
			data interface{}
		}{tag.PlanarConfiguration, []int{0}})
	}

	var elements []*dicom.Element
	for _, b := range builders {
		el, err := dicom.NewElement(b.t, b.data)
		if err != nil {
			return dicom.Dataset{}, fmt.Errorf("element %s: %w", b.t, err)
		}
		elements = append(elements, el)
	}

	if len(spec.Regions) > 0 {
		seq, err := regionSequence(spec.Regions)
		if err != nil {
			return dicom.Dataset{}, err
		}
		elements = append(elements, seq)
	}

	pd, err := dicom.NewElement(tag.PixelData, dicom.PixelDataInfo{Frames: frames, IsEncapsulated: spec.Encoding == JPEGBaseline})
	if err != nil {
		return dicom.Dataset{}, fmt.Errorf("pixel data: %w", err)
	}
	if spec.Encoding == JPEGBaseline {
		pd.RawValueRepresentation = "OB"
		pd.ValueLength = tag.VLUndefinedLength
	}
	elements = append(elements, pd)

	return dicom.Dataset{Elements: elements}, nil
}

// Write generates spec and writes it to path.
func Write(path string, spec Spec) error {
	ds, err := Dataset(spec)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := dicom.Write(f, ds); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// encodeJPEG compresses one interleaved frame at full quality. Fragments are
// padded to an even length.
func encodeJPEG(samples []uint8, rows, cols, spp int) ([]byte, error) {
	var img image.Image
	switch spp {
	case 1:
		g := image.NewGray(image.Rect(0, 0, cols, rows))
		copy(g.Pix, samples)
		img = g
	case 3:
		rgba := image.NewRGBA(image.Rect(0, 0, cols, rows))
		for i := 0; i < rows*cols; i++ {
			copy(rgba.Pix[i*4:i*4+3], samples[i*3:i*3+3])
			rgba.Pix[i*4+3] = 0xff
		}
		img = rgba
	default:
		return nil, fmt.Errorf("cannot encode %d samples per pixel", spp)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
		return nil, err
	}
	if buf.Len()%2 != 0 {
		buf.WriteByte(0)
	}
	return buf.Bytes(), nil
}

func regionSequence(regions []Region) (*dicom.Element, error) {
	items := make([][]*dicom.Element, 0, len(regions))
	for _, r := range regions {
		var item []*dicom.Element
		for _, v := range []struct {
			t   tag.Tag
			val int
		}{
			{tag.Tag{Group: 0x0018, Element: 0x6018}, r.MinX},
			{tag.Tag{Group: 0x0018, Element: 0x601A}, r.MinY},
			{tag.Tag{Group: 0x0018, Element: 0x601C}, r.MaxX},
			{tag.Tag{Group: 0x0018, Element: 0x601E}, r.MaxY},
		} {
			el, err := dicom.NewElement(v.t, []int{v.val})
			if err != nil {
				return nil, fmt.Errorf("region element %s: %w", v.t, err)
			}
			item = append(item, el)
		}
		items = append(items, item)
	}
	return dicom.NewElement(tag.Tag{Group: 0x0018, Element: 0x6011}, items)
}
