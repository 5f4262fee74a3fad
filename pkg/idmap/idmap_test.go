package idmap

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseFirstOccurrenceWins(t *testing.T) {
	m, err := Parse(strings.NewReader("mrn,redcap\nA1,S1\nB2,S2\nA1,S9\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2", m.Len())
	}
	if code, ok := m.Lookup("A1"); !ok || code != "S1" {
		t.Errorf("Lookup(A1) = %q, %v; want S1", code, ok)
	}
}

func TestParseTrimsWhitespace(t *testing.T) {
	m, err := Parse(strings.NewReader("mrn,code\r\n  0012345 , STUDY_7 \r\n\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if code, ok := m.Lookup("0012345"); !ok || code != "STUDY_7" {
		t.Errorf("Lookup = %q, %v; want STUDY_7", code, ok)
	}
	// PatientID values often carry DICOM padding
	if _, ok := m.Lookup("0012345 "); !ok {
		t.Error("Lookup should trim its argument")
	}
}

func TestParseSkipsHeaderOnly(t *testing.T) {
	m, err := Parse(strings.NewReader("A1,S1\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("Header row was treated as data: Len = %d", m.Len())
	}
}

func TestParseShortRow(t *testing.T) {
	if _, err := Parse(strings.NewReader("mrn,code\nA1\n")); err == nil {
		t.Error("Expected error for row without study code")
	}
}

func TestResolveUnknown(t *testing.T) {
	m := FromEntries([2]string{"A1", "S1"})
	if _, err := m.Resolve("B2"); !errors.Is(err, ErrUnknownPatient) {
		t.Errorf("Expected ErrUnknownPatient, got %v", err)
	}
	if code, err := m.Resolve("A1"); err != nil || code != "S1" {
		t.Errorf("Resolve(A1) = %q, %v", code, err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "name_map.csv")
	if err := os.WriteFile(path, []byte("mrn,redcap\nX,Y\n"), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Error("Expected error for missing file")
	}
}
