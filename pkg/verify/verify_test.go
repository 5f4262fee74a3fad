package verify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"echodeid/internal/studytest"
	"echodeid/pkg/deid"
	"echodeid/pkg/dicomio"
	"echodeid/pkg/idmap"
	"echodeid/pkg/masking"
)

// redactedPair runs the pipeline over one generated study and returns the
// input and output folders
func redactedPair(t *testing.T, preset string, spec studytest.Spec) (string, string) {
	t.Helper()
	in, out := t.TempDir(), t.TempDir()
	if err := studytest.Write(filepath.Join(in, "echo.dcm"), spec); err != nil {
		t.Fatalf("Failed to write study: %v", err)
	}

	p, err := deid.NewPipeline(deid.Params{
		InputDir:  in,
		OutputDir: out,
		Preset:    preset,
		IDs:       idmap.FromEntries([2]string{spec.PatientID, "STUDY_1"}),
	})
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	report, err := p.Process(context.Background())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if report.Count(deid.StatusRedacted) != 1 {
		t.Fatalf("Expected one redacted study, got %+v", report.Outcomes)
	}
	return in, out
}

func TestStudyAcceptsPipelineOutput(t *testing.T) {
	for _, preset := range []string{"top", "no_top", "spectrum_high", "spectrum_offaxis", "boundingbox", "none"} {
		t.Run(preset, func(t *testing.T) {
			spec := studytest.Spec{
				PatientID: "MRN001", Frames: 2, Rows: 40, Cols: 50, Samples: 3,
				Fill:    func(f, r, c, s int) uint8 { return uint8(1 + (r*c+s)%250) },
				Regions: []studytest.Region{{MinX: 5, MinY: 3, MaxX: 44, MaxY: 35}},
			}
			in, out := redactedPair(t, preset, spec)

			res, err := Study(filepath.Join(in, "echo.dcm"), filepath.Join(out, "anon_echo.dcm"), masking.Preset(preset))
			if err != nil {
				t.Fatalf("Study failed: %v", err)
			}
			if !res.OK() {
				t.Errorf("Expected OK, got %d violations %v (PatientIDReplaced=%v)", res.Violations, res.Examples, res.PatientIDReplaced)
			}
			if res.KeptFraction <= 0 || res.KeptFraction > 1 {
				t.Errorf("KeptFraction = %f", res.KeptFraction)
			}
			if preset == "none" && res.KeptFraction != 1 {
				t.Errorf("Preset none should keep everything, got %f", res.KeptFraction)
			}
			if res.MeanKept <= 0 {
				t.Errorf("MeanKept = %f, want positive", res.MeanKept)
			}
		})
	}
}

func TestStudyFlagsLeakedPixels(t *testing.T) {
	spec := studytest.Spec{PatientID: "MRN001", Frames: 2, Rows: 20, Cols: 20}
	in, out := redactedPair(t, "top", spec)
	redactedPath := filepath.Join(out, "anon_echo.dcm")

	// put PHI back into the top-left corner, which every carving removes
	study, err := dicomio.Read(redactedPath)
	if err != nil {
		t.Fatal(err)
	}
	vol, err := study.Volume()
	if err != nil {
		t.Fatal(err)
	}
	vol.Data[0] = 200
	if err := study.ReplacePixels(vol); err != nil {
		t.Fatal(err)
	}
	if err := study.Write(redactedPath); err != nil {
		t.Fatal(err)
	}

	res, err := Study(filepath.Join(in, "echo.dcm"), redactedPath, masking.Top)
	if err != nil {
		t.Fatalf("Study failed: %v", err)
	}
	if res.OK() || res.Violations != 1 {
		t.Fatalf("Expected one violation, got %d", res.Violations)
	}
	v := res.Examples[0]
	if !v.Leaked || v.Frame != 0 || v.Row != 0 || v.Col != 0 {
		t.Errorf("Unexpected violation: %s", v)
	}
}

func TestStudyUnredactedCopyFails(t *testing.T) {
	dir := t.TempDir()
	orig := filepath.Join(dir, "echo.dcm")
	spec := studytest.Spec{PatientID: "MRN001", Frames: 2, Rows: 20, Cols: 20}
	if err := studytest.Write(orig, spec); err != nil {
		t.Fatal(err)
	}
	copyPath := filepath.Join(dir, "anon_echo.dcm")
	if err := studytest.Write(copyPath, spec); err != nil {
		t.Fatal(err)
	}

	res, err := Study(orig, copyPath, masking.NoTop)
	if err != nil {
		t.Fatalf("Study failed: %v", err)
	}
	if res.OK() {
		t.Error("Unredacted copy should fail verification")
	}
	if res.PatientIDReplaced {
		t.Error("PatientID was not replaced")
	}
	if len(res.Examples) != maxReported {
		t.Errorf("Expected %d examples, got %d", maxReported, len(res.Examples))
	}
}

func TestStudyShapeMismatch(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.dcm"), filepath.Join(dir, "b.dcm")
	studytest.Write(a, studytest.Spec{PatientID: "X", Frames: 2, Rows: 8, Cols: 8})
	studytest.Write(b, studytest.Spec{PatientID: "Y", Frames: 3, Rows: 8, Cols: 8})

	if _, err := Study(a, b, masking.Top); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Expected ErrShapeMismatch, got %v", err)
	}
}

func TestFolder(t *testing.T) {
	spec := studytest.Spec{PatientID: "MRN001", Frames: 2, Rows: 30, Cols: 30}
	in, out := redactedPair(t, "spectrum_high", spec)

	// unrelated files are ignored
	if err := os.WriteFile(filepath.Join(out, "README"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	results, err := Folder(context.Background(), in, out, masking.SpectrumHigh)
	if err != nil {
		t.Fatalf("Folder failed: %v", err)
	}
	if len(results) != 1 || !results[0].OK() {
		t.Errorf("Unexpected results: %+v", results)
	}
}

func TestInputName(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"echo.dcm", "IM0001"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		out  string
		want string
		ok   bool
	}{
		{"anon_echo.dcm", "echo.dcm", true},
		{"anon_IM0001.dcm", "IM0001", true},
		{"anon_missing.dcm", "", false},
		{"echo.dcm", "", false},
	}
	for _, tt := range tests {
		got, ok := InputName(dir, tt.out)
		if got != tt.want || ok != tt.ok {
			t.Errorf("InputName(%q) = %q, %v; want %q, %v", tt.out, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFolderKeepsResultsPastUnreadablePair(t *testing.T) {
	spec := studytest.Spec{PatientID: "MRN001", Frames: 2, Rows: 20, Cols: 20}
	in, out := redactedPair(t, "top", spec)

	for _, path := range []string{filepath.Join(in, "zz.dcm"), filepath.Join(out, "anon_zz.dcm")} {
		if err := os.WriteFile(path, []byte("garbage"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	results, err := Folder(context.Background(), in, out, masking.Top)
	if err != nil {
		t.Fatalf("Folder failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if !results[0].OK() || results[0].Err != nil {
		t.Errorf("Good study should verify, got %+v", results[0])
	}
	if results[1].Err == nil || results[1].OK() {
		t.Errorf("Garbage pair should carry an error, got %+v", results[1])
	}
	if filepath.Base(results[1].Redacted) != "anon_zz.dcm" {
		t.Errorf("Unexpected redacted path %s", results[1].Redacted)
	}
}

func TestFolderCancelled(t *testing.T) {
	spec := studytest.Spec{PatientID: "MRN001", Frames: 2, Rows: 10, Cols: 10}
	in, out := redactedPair(t, "top", spec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := Folder(ctx, in, out, masking.Top)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if len(results) != 1 || !errors.Is(results[0].Err, context.Canceled) {
		t.Errorf("Unexpected results: %+v", results)
	}
}

func TestStudyAcceptsDecodedJPEGOutput(t *testing.T) {
	spec := studytest.Spec{
		PatientID: "MRN001", Frames: 2, Rows: 32, Cols: 32, Samples: 3,
		Fill:     func(f, r, c, s int) uint8 { return 150 },
		Encoding: studytest.JPEGBaseline,
	}
	in, out := redactedPair(t, "no_top", spec)

	res, err := Study(filepath.Join(in, "echo.dcm"), filepath.Join(out, "anon_echo.dcm"), masking.NoTop)
	if err != nil {
		t.Fatalf("Study failed: %v", err)
	}
	if !res.OK() {
		t.Errorf("Expected OK, got %d violations %v", res.Violations, res.Examples)
	}
}
