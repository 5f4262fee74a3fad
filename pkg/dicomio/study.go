// Package dicomio reads ultrasound studies into pixel volumes and writes the
// redacted result back into the original dataset.
package dicomio

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"echodeid/internal/models"
)

// ExplicitVRLittleEndian is the transfer syntax written for studies whose
// compressed frames were decoded.
const ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"

// nativeSyntaxes store uncompressed pixel data.
var nativeSyntaxes = map[string]bool{
	"1.2.840.10008.1.2":    true,
	ExplicitVRLittleEndian: true,
	"1.2.840.10008.1.2.2":  true,
}

// jpegSyntaxes hold frames that image/jpeg can decode.
var jpegSyntaxes = map[string]bool{
	"1.2.840.10008.1.2.4.50": true, // baseline, process 1
	"1.2.840.10008.1.2.4.51": true, // extended, process 2 and 4
}

var (
	// ErrNoPixelData is returned for datasets without a (7FE0,0010) element.
	ErrNoPixelData = errors.New("study has no pixel data")

	// ErrEncapsulated is returned for compressed transfer syntaxes other
	// than baseline and extended JPEG.
	ErrEncapsulated = errors.New("encapsulated pixel data in an unsupported transfer syntax")

	// ErrBitDepth is returned when samples are not 8 bits wide.
	ErrBitDepth = errors.New("only 8-bit samples are supported")

	// ErrPlanarConfiguration is returned for color-by-plane pixel data.
	ErrPlanarConfiguration = errors.New("planar color configuration is not supported")
)

// Study is one parsed DICOM file together with the image attributes the
// masking engine needs.
type Study struct {
	// Path is the file the study was read from
	Path string

	// Dataset is the full parsed dataset, modified in place by ReplacePixels and SetPatientID
	Dataset dicom.Dataset

	// TransferSyntax is the (0002,0010) UID, or "" when the file meta is absent
	TransferSyntax string

	Rows                int
	Cols                int
	Frames              int
	SamplesPerPixel     int
	BitsAllocated       int
	PlanarConfiguration int
}

// Read parses a DICOM file including its pixel data.
func Read(path string) (*Study, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return FromDataset(path, ds)
}

// ReadHeader parses a DICOM file without its pixel data.
func ReadHeader(path string) (*Study, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return FromDataset(path, ds)
}

// FromDataset wraps an already parsed dataset.
func FromDataset(path string, ds dicom.Dataset) (*Study, error) {
	s := &Study{Path: path, Dataset: ds}

	var err error
	if s.Rows, err = intTag(ds, tag.Rows, -1); err != nil {
		return nil, err
	}
	if s.Cols, err = intTag(ds, tag.Columns, -1); err != nil {
		return nil, err
	}
	if s.Frames, err = intTag(ds, tag.NumberOfFrames, 1); err != nil {
		return nil, err
	}
	if s.SamplesPerPixel, err = intTag(ds, tag.SamplesPerPixel, 1); err != nil {
		return nil, err
	}
	if s.BitsAllocated, err = intTag(ds, tag.BitsAllocated, 8); err != nil {
		return nil, err
	}
	if s.PlanarConfiguration, err = intTag(ds, tag.PlanarConfiguration, 0); err != nil {
		return nil, err
	}

	s.TransferSyntax = stringTag(ds, tag.TransferSyntaxUID)

	if s.Rows <= 0 || s.Cols <= 0 {
		return nil, fmt.Errorf("%s: invalid frame size %dx%d", filepath.Base(path), s.Rows, s.Cols)
	}
	return s, nil
}

// PatientID returns the trimmed (0010,0020) value, or "" when absent.
func (s *Study) PatientID() string {
	el, err := s.Dataset.FindElementByTag(tag.PatientID)
	if err != nil || el.Value == nil {
		return ""
	}
	if v, ok := el.Value.GetValue().([]string); ok && len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

// SetPatientID replaces (0010,0020) with the de-identified study code.
func (s *Study) SetPatientID(code string) error {
	el, err := dicom.NewElement(tag.PatientID, []string{code})
	if err != nil {
		return fmt.Errorf("failed to build PatientID: %w", err)
	}
	s.replace(el)
	return nil
}

// Volume decodes the pixel payload into a PixelVolume.
//
// Multi-frame studies become Grayscale or Color volumes. A study holding a
// single frame has no time axis and comes back as an Unsupported volume of
// dims (rows, cols) or (rows, cols, samples), which the masking engine skips.
//
// JPEG compressed frames are decoded; color frames come back as RGB.
func (s *Study) Volume() (models.PixelVolume, error) {
	info, err := s.pixelData()
	if err != nil {
		return models.PixelVolume{}, err
	}
	if s.BitsAllocated != 8 {
		return models.PixelVolume{}, fmt.Errorf("%w: bits allocated %d", ErrBitDepth, s.BitsAllocated)
	}
	if info.IsEncapsulated {
		if !jpegSyntaxes[s.TransferSyntax] {
			return models.PixelVolume{}, fmt.Errorf("%w: %q", ErrEncapsulated, s.TransferSyntax)
		}
	} else if s.SamplesPerPixel > 1 && s.PlanarConfiguration != 0 {
		return models.PixelVolume{}, ErrPlanarConfiguration
	}
	if len(info.Frames) == 0 {
		return models.PixelVolume{}, ErrNoPixelData
	}

	frameLen := s.Rows * s.Cols * s.SamplesPerPixel
	data := make([]uint8, 0, frameLen*len(info.Frames))
	for i, fr := range info.Frames {
		samples, err := frameSamples(fr, s.Rows, s.Cols, s.SamplesPerPixel)
		if err != nil {
			return models.PixelVolume{}, fmt.Errorf("frame %d: %w", i, err)
		}
		if len(samples) != frameLen {
			return models.PixelVolume{}, fmt.Errorf("frame %d has %d samples, want %d", i, len(samples), frameLen)
		}
		data = append(data, samples...)
	}

	if len(info.Frames) == 1 {
		dims := []int{s.Rows, s.Cols}
		if s.SamplesPerPixel > 1 {
			dims = append(dims, s.SamplesPerPixel)
		}
		return models.PixelVolume{Shape: models.Unsupported{Dimensions: dims}, Data: data}, nil
	}

	dims := []int{len(info.Frames), s.Rows, s.Cols}
	if s.SamplesPerPixel > 1 {
		dims = append(dims, s.SamplesPerPixel)
	}
	return models.NewPixelVolume(dims, data)
}

// ReplacePixels swaps the study's pixel payload for vol, which must be a
// Grayscale or Color volume matching the study's frame grid. A study read
// from a compressed transfer syntax is switched to explicit VR little endian
// with RGB color and flagged as lossy compressed.
func (s *Study) ReplacePixels(vol models.PixelVolume) error {
	var frames, samples int
	switch sh := vol.Shape.(type) {
	case models.Grayscale:
		if sh.Rows != s.Rows || sh.Cols != s.Cols {
			return fmt.Errorf("volume frame %dx%d does not match study %dx%d", sh.Rows, sh.Cols, s.Rows, s.Cols)
		}
		frames, samples = sh.Frames, 1
	case models.Color:
		if sh.Rows != s.Rows || sh.Cols != s.Cols {
			return fmt.Errorf("volume frame %dx%d does not match study %dx%d", sh.Rows, sh.Cols, s.Rows, s.Cols)
		}
		frames, samples = sh.Frames, models.ColorSamples
	default:
		return fmt.Errorf("cannot store volume with dims %v", vol.Dims())
	}

	pixels := s.Rows * s.Cols
	frameLen := pixels * samples
	out := make([]*frame.Frame, frames)
	for f := 0; f < frames; f++ {
		nf := frame.NewNativeFrame[uint8](8, s.Rows, s.Cols, pixels, samples)
		copy(nf.RawData, vol.Data[f*frameLen:(f+1)*frameLen])
		out[f] = &frame.Frame{Encapsulated: false, NativeData: nf}
	}

	el, err := dicom.NewElement(tag.PixelData, dicom.PixelDataInfo{Frames: out})
	if err != nil {
		return fmt.Errorf("failed to build pixel data: %w", err)
	}
	s.replace(el)

	if s.TransferSyntax == "" || nativeSyntaxes[s.TransferSyntax] {
		return nil
	}
	type attr struct {
		t   tag.Tag
		val any
	}
	values := []attr{
		{tag.TransferSyntaxUID, []string{ExplicitVRLittleEndian}},
		{tag.LossyImageCompression, []string{"01"}},
	}
	if samples > 1 {
		values = append(values,
			attr{tag.PhotometricInterpretation, []string{"RGB"}},
			attr{tag.PlanarConfiguration, []int{0}},
		)
	}
	for _, v := range values {
		el, err := dicom.NewElement(v.t, v.val)
		if err != nil {
			return fmt.Errorf("failed to build %s: %w", v.t, err)
		}
		s.replace(el)
	}
	s.TransferSyntax = ExplicitVRLittleEndian
	s.PlanarConfiguration = 0
	return nil
}

// Write serializes the study to path, creating parent directories as needed.
func (s *Study) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := dicom.Write(f, s.Dataset, dicom.SkipVRVerification()); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// OutputName maps an input file name to its anonymized counterpart:
// an "anon_" prefix, and a ".dcm" suffix when the input lacks one.
func OutputName(name string) string {
	if strings.HasSuffix(name, "dcm") {
		return "anon_" + name
	}
	return "anon_" + name + ".dcm"
}

// IsDICOMName reports whether a directory entry looks like a study file.
func IsDICOMName(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".dcm")
}

func (s *Study) pixelData() (dicom.PixelDataInfo, error) {
	el, err := s.Dataset.FindElementByTag(tag.PixelData)
	if err != nil || el.Value == nil {
		return dicom.PixelDataInfo{}, ErrNoPixelData
	}
	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return dicom.PixelDataInfo{}, fmt.Errorf("%w: value holds %T", ErrNoPixelData, el.Value.GetValue())
	}
	if info.IntentionallySkipped {
		return dicom.PixelDataInfo{}, fmt.Errorf("%w: pixel data was skipped while parsing", ErrNoPixelData)
	}
	return info, nil
}

func (s *Study) replace(el *dicom.Element) {
	for i, existing := range s.Dataset.Elements {
		if existing.Tag == el.Tag {
			s.Dataset.Elements[i] = el
			return
		}
	}
	s.Dataset.Elements = append(s.Dataset.Elements, el)
}

func frameSamples(fr *frame.Frame, rows, cols, samplesPerPixel int) ([]uint8, error) {
	if fr == nil {
		return nil, fmt.Errorf("missing frame")
	}
	if fr.Encapsulated {
		return decodeFrame(&fr.EncapsulatedData, rows, cols, samplesPerPixel)
	}
	native := fr.NativeData
	if native == nil {
		return nil, fmt.Errorf("frame has no native data")
	}
	if native.BitsPerSample() != 8 {
		return nil, fmt.Errorf("%w: frame has %d bits per sample", ErrBitDepth, native.BitsPerSample())
	}
	if raw, ok := native.RawDataSlice().([]uint8); ok {
		return raw, nil
	}

	// slower path for frames decoded into a wider integer type
	out := make([]uint8, 0, native.Rows()*native.Cols()*native.SamplesPerPixel())
	for y := 0; y < native.Rows(); y++ {
		for x := 0; x < native.Cols(); x++ {
			px, err := native.GetPixel(x, y)
			if err != nil {
				return nil, err
			}
			for _, v := range px {
				out = append(out, uint8(v))
			}
		}
	}
	return out, nil
}

func decodeFrame(enc *frame.EncapsulatedFrame, rows, cols, samplesPerPixel int) ([]uint8, error) {
	img, err := enc.GetImage()
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	b := img.Bounds()
	if b.Dx() != cols || b.Dy() != rows {
		return nil, fmt.Errorf("decoded frame is %dx%d, want %dx%d", b.Dy(), b.Dx(), rows, cols)
	}

	out := make([]uint8, 0, rows*cols*samplesPerPixel)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.At(x, y)
			switch samplesPerPixel {
			case 1:
				out = append(out, color.GrayModel.Convert(c).(color.Gray).Y)
			case models.ColorSamples:
				r, g, bl, _ := c.RGBA()
				out = append(out, uint8(r>>8), uint8(g>>8), uint8(bl>>8))
			default:
				return nil, fmt.Errorf("cannot decode %d samples per pixel", samplesPerPixel)
			}
		}
	}
	return out, nil
}

func stringTag(ds dicom.Dataset, t tag.Tag) string {
	el, err := ds.FindElementByTag(t)
	if err != nil || el.Value == nil {
		return ""
	}
	if v, ok := el.Value.GetValue().([]string); ok && len(v) > 0 {
		return strings.TrimSpace(strings.TrimRight(v[0], "\x00"))
	}
	return ""
}

// intTag reads the first value of an integer tag stored as US/UL or IS.
// def is returned when the tag is absent; a negative def makes the tag required.
func intTag(ds dicom.Dataset, t tag.Tag, def int) (int, error) {
	el, err := ds.FindElementByTag(t)
	if err != nil || el.Value == nil {
		if def < 0 {
			return 0, fmt.Errorf("required tag %s missing", t)
		}
		return def, nil
	}

	switch v := el.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return v[0], nil
		}
	case []string:
		if len(v) > 0 && strings.TrimSpace(v[0]) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v[0]))
			if err != nil {
				return 0, fmt.Errorf("tag %s: %w", t, err)
			}
			return n, nil
		}
	}
	if def < 0 {
		return 0, fmt.Errorf("required tag %s is empty", t)
	}
	return def, nil
}
