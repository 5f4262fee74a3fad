package deid

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"echodeid/pkg/masking"
)

// Status is the per-study result of a run.
type Status string

const (
	// StatusRedacted means the masked study was written to the output folder.
	StatusRedacted Status = "redacted"

	// StatusSkippedShape means the pixel data is not a grayscale or color
	// time series; no output was written.
	StatusSkippedShape Status = "skipped_shape"

	// StatusFailed means the study could not be processed.
	StatusFailed Status = "failed"
)

// Outcome records what happened to one input study.
type Outcome struct {
	File   string
	Output string
	Status Status

	// Reason holds the error text for failed or skipped studies
	Reason string

	// BoxReason describes the ultrasound region lookup: found, absent,
	// malformed, or outside_frame
	BoxReason string

	// Digest is the hex BLAKE3-256 of the written output
	Digest string

	Frames          int
	SamplesRedacted int
	Duration        time.Duration

	err error
}

// Err returns the error behind a failed or skipped outcome.
func (o Outcome) Err() error {
	return o.err
}

// Report is the result of one Process call.
type Report struct {
	RunID     string
	Preset    masking.Preset
	InputDir  string
	OutputDir string
	StartedAt time.Time
	Elapsed   time.Duration

	// Outcomes are sorted by file name
	Outcomes []Outcome
}

// Timing summarizes per-study processing times in seconds.
type Timing struct {
	Mean   float64
	StdDev float64
	P95    float64
	Max    float64
}

// Count returns the number of outcomes with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// BadFiles lists the studies an operator needs to inspect by hand: those
// skipped for their pixel shape and those that failed.
func (r *Report) BadFiles() []string {
	var bad []string
	for _, o := range r.Outcomes {
		if o.Status != StatusRedacted {
			bad = append(bad, o.File)
		}
	}
	return bad
}

// SamplesRedacted sums the samples zeroed across all studies.
func (r *Report) SamplesRedacted() int {
	total := 0
	for _, o := range r.Outcomes {
		total += o.SamplesRedacted
	}
	return total
}

// Timing returns duration statistics over the redacted studies.
func (r *Report) Timing() Timing {
	var secs []float64
	for _, o := range r.Outcomes {
		if o.Status == StatusRedacted {
			secs = append(secs, o.Duration.Seconds())
		}
	}
	if len(secs) == 0 {
		return Timing{}
	}
	sort.Float64s(secs)

	var t Timing
	if len(secs) > 1 {
		t.Mean, t.StdDev = stat.MeanStdDev(secs, nil)
	} else {
		t.Mean = secs[0]
	}
	t.P95 = stat.Quantile(0.95, stat.Empirical, secs, nil)
	t.Max = secs[len(secs)-1]
	return t
}

func (r *Report) sortOutcomes() {
	sort.Slice(r.Outcomes, func(i, j int) bool {
		return r.Outcomes[i].File < r.Outcomes[j].File
	})
}
