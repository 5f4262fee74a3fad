// Package verify checks anonymized studies against their originals: every
// sample outside the preset mask must be zero and every sample inside it
// must be untouched.
package verify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"echodeid/internal/models"
	"echodeid/pkg/dicomio"
	"echodeid/pkg/masking"
	"echodeid/pkg/regions"
)

// ErrShapeMismatch is returned when the two studies do not hold the same volume shape.
var ErrShapeMismatch = errors.New("original and redacted volumes differ in shape")

// maxReported caps the violation locations kept per study.
const maxReported = 5

// Violation is one sample that does not match the expected mask outcome.
type Violation struct {
	Frame, Row, Col, Sample int
	Original, Redacted      uint8

	// Leaked is true for a non-zero sample the mask should have removed,
	// false for a kept sample that was altered
	Leaked bool
}

func (v Violation) String() string {
	kind := "altered"
	if v.Leaked {
		kind = "leaked"
	}
	return fmt.Sprintf("%s at frame %d (%d, %d)[%d]: original %d, redacted %d",
		kind, v.Frame, v.Row, v.Col, v.Sample, v.Original, v.Redacted)
}

// Result is the verification outcome of one study pair.
type Result struct {
	Original string
	Redacted string

	// KeptFraction is the share of frame pixels inside the mask
	KeptFraction float64

	// MeanKept and StdKept describe the intensity of kept samples
	MeanKept float64
	StdKept  float64

	// PatientIDReplaced is false when the redacted study still carries the original PatientID
	PatientIDReplaced bool

	Violations int
	Examples   []Violation

	// Err is set by Folder when the pair could not be compared at all
	Err error
}

// OK reports whether the redacted study matches the mask exactly.
func (r Result) OK() bool {
	return r.Err == nil && r.Violations == 0 && r.PatientIDReplaced
}

// Study re-reads both files, rebuilds the mask from the original metadata
// and compares every sample.
func Study(originalPath, redactedPath string, preset masking.Preset) (Result, error) {
	res := Result{Original: originalPath, Redacted: redactedPath}

	orig, err := dicomio.Read(originalPath)
	if err != nil {
		return res, err
	}
	red, err := dicomio.Read(redactedPath)
	if err != nil {
		return res, err
	}

	ov, err := orig.Volume()
	if err != nil {
		return res, err
	}
	rv, err := red.Volume()
	if err != nil {
		return res, err
	}
	if !slices.Equal(ov.Dims(), rv.Dims()) {
		return res, fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, ov.Dims(), rv.Dims())
	}

	samples := 1
	switch ov.Shape.(type) {
	case models.Grayscale:
	case models.Color:
		samples = models.ColorSamples
	default:
		return res, fmt.Errorf("%w: dims %v", masking.ErrUnsupportedShape, ov.Dims())
	}

	var box *models.BoundingBox
	if ext := regions.Extract(orig.Dataset); ext.Reason == regions.Found {
		if _, ok := ext.Box.Clamp(orig.Rows, orig.Cols); ok {
			box = ext.Box
		}
	}
	mask, err := masking.BuildMask(orig.Rows, orig.Cols, box, preset)
	if err != nil {
		return res, err
	}

	res.PatientIDReplaced = orig.PatientID() != red.PatientID()
	res.KeptFraction = float64(mask.Kept()) / float64(len(mask.Data))

	pixels := orig.Rows * orig.Cols
	frameLen := pixels * samples
	kept := make([]float64, 0, mask.Kept()*samples)
	for i := range ov.Data {
		px := (i % frameLen) / samples
		o, r := ov.Data[i], rv.Data[i]

		if mask.Data[px] == 1 {
			kept = append(kept, float64(r))
			if o == r {
				continue
			}
		} else if r == 0 {
			continue
		}

		res.Violations++
		if len(res.Examples) < maxReported {
			res.Examples = append(res.Examples, Violation{
				Frame:    i / frameLen,
				Row:      px / orig.Cols,
				Col:      px % orig.Cols,
				Sample:   i % samples,
				Original: o,
				Redacted: r,
				Leaked:   mask.Data[px] == 0,
			})
		}
	}

	if len(kept) > 0 {
		res.MeanKept, res.StdKept = stat.MeanStdDev(kept, nil)
	}
	return res, nil
}

// Folder verifies every anon_* study in outDir that has a matching input in inDir.
// Results are sorted by redacted path. A pair that cannot be compared gets its
// error in Result.Err and does not stop the others; the returned error is
// reserved for an unreadable outDir or a cancelled ctx.
func Folder(ctx context.Context, inDir, outDir string, preset masking.Preset) ([]Result, error) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read output directory: %w", err)
	}

	type pair struct{ original, redacted string }
	var pairs []pair
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if original, ok := InputName(inDir, e.Name()); ok {
			pairs = append(pairs, pair{
				original: filepath.Join(inDir, original),
				redacted: filepath.Join(outDir, e.Name()),
			})
		}
	}

	results := make([]Result, len(pairs))
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i, p := range pairs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = Result{Original: p.original, Redacted: p.redacted, Err: err}
				return nil
			}
			res, err := Study(p.original, p.redacted, preset)
			if err != nil {
				res.Err = fmt.Errorf("%s: %w", filepath.Base(p.redacted), err)
			}
			results[i] = res
			return nil
		})
	}
	g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Redacted < results[j].Redacted })
	return results, ctx.Err()
}

// InputName reverses dicomio.OutputName for an existing file in inDir.
func InputName(inDir, outputName string) (string, bool) {
	if !strings.HasPrefix(outputName, "anon_") {
		return "", false
	}
	name := strings.TrimPrefix(outputName, "anon_")

	candidates := []string{name}
	if trimmed := strings.TrimSuffix(name, ".dcm"); trimmed != name {
		candidates = append(candidates, trimmed)
	}
	for _, c := range candidates {
		if dicomio.OutputName(c) != outputName {
			continue
		}
		if st, err := os.Stat(filepath.Join(inDir, c)); err == nil && st.Mode().IsRegular() {
			return c, true
		}
	}
	return "", false
}
