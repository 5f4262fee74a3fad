// Package preflight spot-checks a folder of studies before it is shared, by
// printing the identifying field of one randomly chosen study.
package preflight

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"

	"echodeid/pkg/dicomio"
)

// ErrNoStudies is returned by Sample for a folder without .dcm files.
var ErrNoStudies = errors.New("no DICOM files found")

// Sample picks one .dcm file of dir at random.
func Sample(dir string, rng *rand.Rand) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && dicomio.IsDICOMName(e.Name()) {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return "", ErrNoStudies
	}
	sort.Strings(files)

	return filepath.Join(dir, files[rng.IntN(len(files))]), nil
}

// Check prints the PatientID of a random study in dir to w, or the whole
// dataset when verbose. An empty folder prints "No DICOM files found" and is
// not an error.
func Check(w io.Writer, dir string, verbose bool, rng *rand.Rand) error {
	path, err := Sample(dir, rng)
	if errors.Is(err, ErrNoStudies) {
		fmt.Fprintln(w, "No DICOM files found")
		return nil
	}
	if err != nil {
		return err
	}

	study, err := dicomio.ReadHeader(path)
	if err != nil {
		return err
	}

	if verbose {
		fmt.Fprintf(w, "%s\n%s\n", filepath.Base(path), study.Dataset.String())
		return nil
	}
	fmt.Fprintln(w, study.PatientID())
	return nil
}
