package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"echodeid/pkg/ledger"
)

func TestPrintLedger(t *testing.T) {
	l, err := ledger.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("ledger.Open failed: %v", err)
	}
	defer l.Close()

	started := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	if err := l.RecordRun(ledger.Run{ID: "run-7", InputDir: "raw", OutputDir: "anon", Preset: "top", Workers: 2, StartedAt: started}); err != nil {
		t.Fatal(err)
	}
	for _, e := range []ledger.Entry{
		{RunID: "run-7", File: "a.dcm", Output: "anon_a.dcm", Status: "redacted", Digest: "ff00", DurationMS: 40},
		{RunID: "run-7", File: "b.dcm", Status: "failed", Reason: "unknown patient", DurationMS: 3},
	} {
		if err := l.RecordOutcome(e); err != nil {
			t.Fatal(err)
		}
	}

	var buf bytes.Buffer
	if err := printLedger(&buf, l, "run-7"); err != nil {
		t.Fatalf("printLedger failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"Run run-7 started 2026-03-02T09:30:00Z",
		"raw -> anon, preset top, 2 workers",
		"a.dcm -> anon_a.dcm blake3:ff00 40ms",
		"b.dcm (unknown patient) 3ms",
		"2 outcomes",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q:\n%s", want, out)
		}
	}

	if err := printLedger(&buf, l, "run-404"); !errors.Is(err, ledger.ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}
}
