// Package preview renders first-frame JPEG thumbnails of redacted studies so
// an operator can eyeball the mask without a DICOM viewer.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	"echodeid/internal/models"
)

// FirstFrame converts the first frame of a Grayscale or Color volume into an
// image. Unsupported volumes of rank 2, or rank 3 with three samples, are
// rendered as their single frame.
func FirstFrame(vol models.PixelVolume) (image.Image, error) {
	switch sh := vol.Shape.(type) {
	case models.Grayscale:
		return grayFrame(vol.Data, sh.Rows, sh.Cols)
	case models.Color:
		return rgbFrame(vol.Data, sh.Rows, sh.Cols)
	case models.Unsupported:
		dims := sh.Dimensions
		switch {
		case len(dims) == 2:
			return grayFrame(vol.Data, dims[0], dims[1])
		case len(dims) == 3 && dims[2] == models.ColorSamples:
			return rgbFrame(vol.Data, dims[0], dims[1])
		}
		return nil, fmt.Errorf("cannot render volume with dims %v", dims)
	default:
		return nil, fmt.Errorf("cannot render shape %T", vol.Shape)
	}
}

func grayFrame(data []uint8, rows, cols int) (image.Image, error) {
	if len(data) < rows*cols {
		return nil, fmt.Errorf("frame needs %d samples, have %d", rows*cols, len(data))
	}
	img := image.NewGray(image.Rect(0, 0, cols, rows))
	copy(img.Pix, data[:rows*cols])
	return img, nil
}

func rgbFrame(data []uint8, rows, cols int) (image.Image, error) {
	n := rows * cols * models.ColorSamples
	if len(data) < n {
		return nil, fmt.Errorf("frame needs %d samples, have %d", n, len(data))
	}
	img := image.NewRGBA(image.Rect(0, 0, cols, rows))
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			i := (y*cols + x) * models.ColorSamples
			img.SetRGBA(x, y, color.RGBA{R: data[i], G: data[i+1], B: data[i+2], A: 255})
		}
	}
	return img, nil
}

// Scale shrinks img to at most maxWidth pixels wide, keeping its aspect ratio.
// Images already narrower than maxWidth are returned as is.
func Scale(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	height := int(math.Max(1, math.Round(float64(b.Dy())*float64(maxWidth)/float64(b.Dx()))))
	rect := image.Rect(0, 0, maxWidth, height)

	var dst draw.Image
	if _, ok := img.(*image.Gray); ok {
		dst = image.NewGray(rect)
	} else {
		dst = image.NewRGBA(rect)
	}
	draw.ApproxBiLinear.Scale(dst, rect, img, b, draw.Over, nil)
	return dst
}

// Save scales img and writes it to path as a JPEG.
func Save(path string, img image.Image, maxWidth int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := jpeg.Encode(file, Scale(img, maxWidth), &jpeg.Options{Quality: 90}); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Name maps an output study file name to its preview file name.
func Name(outputName string) string {
	return strings.TrimSuffix(outputName, filepath.Ext(outputName)) + ".jpeg"
}
