// Package idmap loads the medical record number to study code key file.
package idmap

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrUnknownPatient is returned when a study's PatientID has no entry in the map.
var ErrUnknownPatient = errors.New("patient id not in identifier map")

// Map is an immutable MRN -> study code snapshot. Safe for concurrent reads.
type Map struct {
	codes map[string]string
}

// Load reads a CSV key file. The first row is a header; column 0 holds the
// MRN and column 1 the study code. The first occurrence of an MRN wins.
func Load(path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open identifier map: %w", err)
	}
	defer f.Close()

	m, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse reads the CSV key file format from r.
func Parse(r io.Reader) (*Map, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	codes := make(map[string]string)
	header := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse identifier map: %w", err)
		}
		if header {
			header = false
			continue
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if len(record) < 2 {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("line %d: expected MRN and study code, got %d field(s)", line, len(record))
		}

		mrn := strings.TrimSpace(record[0])
		code := strings.TrimSpace(record[1])
		if mrn == "" {
			continue
		}
		if _, seen := codes[mrn]; !seen {
			codes[mrn] = code
		}
	}

	return &Map{codes: codes}, nil
}

// FromEntries builds a map from pairs of MRN and study code, first wins.
func FromEntries(pairs ...[2]string) *Map {
	codes := make(map[string]string, len(pairs))
	for _, p := range pairs {
		mrn := strings.TrimSpace(p[0])
		if _, seen := codes[mrn]; !seen {
			codes[mrn] = strings.TrimSpace(p[1])
		}
	}
	return &Map{codes: codes}
}

// Lookup returns the study code for mrn.
func (m *Map) Lookup(mrn string) (string, bool) {
	code, ok := m.codes[strings.TrimSpace(mrn)]
	return code, ok
}

// Resolve is Lookup that reports a missing entry as ErrUnknownPatient.
func (m *Map) Resolve(mrn string) (string, error) {
	code, ok := m.Lookup(mrn)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPatient, mrn)
	}
	return code, nil
}

// Len returns the number of distinct MRNs.
func (m *Map) Len() int {
	return len(m.codes)
}
