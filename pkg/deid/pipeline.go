// Package deid runs the pixel de-identification engine over a folder of
// ultrasound studies.
//
// Each study is one independent task:
//  1. Read the study and resolve its PatientID to a study code
//  2. Decode the pixel volume
//  3. Read the ultrasound region bounding box, if any
//  4. Build the preset mask and apply it to every frame
//  5. Write the anonymized study, digest it and record the outcome
//
// Tasks run on a bounded worker pool. A failing study never stops its
// siblings; only cancelling the context stops the batch.
package deid

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"echodeid/internal/models"
	"echodeid/internal/observability"
	"echodeid/pkg/dicomio"
	"echodeid/pkg/idmap"
	"echodeid/pkg/ledger"
	"echodeid/pkg/masking"
	"echodeid/pkg/preview"
	"echodeid/pkg/regions"
)

// ErrNoStudies is returned when the input folder holds no .dcm files.
var ErrNoStudies = errors.New("no DICOM files found")

// BoxOutsideFrame is the BoxReason of a region that clamps to nothing.
const BoxOutsideFrame = "outside_frame"

// Recorder persists run and study outcomes. *ledger.Ledger implements it.
type Recorder interface {
	RecordRun(r ledger.Run) error
	RecordOutcome(e ledger.Entry) error
}

// Params holds the explicit configuration of a run.
type Params struct {
	// InputDir is the folder holding the raw studies
	InputDir string

	// OutputDir receives anon_* studies
	OutputDir string

	// Preset names the mask layout
	Preset string

	// Workers bounds concurrent studies; zero means runtime.NumCPU()
	Workers int

	// IDs maps PatientID values to study codes
	IDs *idmap.Map

	// HaltOnInvalidPreset rejects an unknown preset in NewPipeline. When
	// false the preset error is reported per study instead.
	HaltOnInvalidPreset bool

	// PreviewDir receives first-frame JPEGs when set
	PreviewDir      string
	PreviewMaxWidth int

	// Optional collaborators
	Ledger  Recorder
	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// Pipeline processes one folder of studies.
type Pipeline struct {
	params    Params
	preset    masking.Preset
	presetErr error
	log       *observability.Logger
	tracer    trace.Tracer
}

// NewPipeline validates params and returns a pipeline ready to Process.
func NewPipeline(params Params) (*Pipeline, error) {
	if params.InputDir == "" || params.OutputDir == "" {
		return nil, fmt.Errorf("input and output folders are required")
	}
	if params.IDs == nil {
		return nil, fmt.Errorf("identifier map is required")
	}
	if params.Workers <= 0 {
		params.Workers = runtime.NumCPU()
	}
	if params.Logger == nil {
		params.Logger = observability.Nop()
	}

	p := &Pipeline{
		params: params,
		log:    params.Logger,
		tracer: otel.Tracer("echodeid/deid"),
	}

	preset, err := masking.ParsePreset(params.Preset)
	if err != nil {
		if params.HaltOnInvalidPreset {
			return nil, err
		}
		p.presetErr = err
	}
	p.preset = preset
	return p, nil
}

// Process runs every study of the input folder and returns the report.
//
// The returned error is non-nil only when the batch itself stopped: the
// input folder could not be listed or ctx was cancelled. Per-study
// failures are in the report.
func (p *Pipeline) Process(ctx context.Context) (*Report, error) {
	files, err := p.listStudies()
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:     uuid.New().String(),
		Preset:    p.preset,
		InputDir:  p.params.InputDir,
		OutputDir: p.params.OutputDir,
		StartedAt: time.Now(),
		Outcomes:  make([]Outcome, len(files)),
	}
	log := p.log.WithRun(report.RunID)

	if err := os.MkdirAll(p.params.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	if p.params.Ledger != nil {
		if err := p.params.Ledger.RecordRun(ledger.Run{
			ID:        report.RunID,
			InputDir:  p.params.InputDir,
			OutputDir: p.params.OutputDir,
			Preset:    string(p.preset),
			Workers:   p.params.Workers,
			StartedAt: report.StartedAt,
		}); err != nil {
			log.Error(err, "ledger unavailable, continuing without audit trail")
			p.params.Ledger = nil
		}
	}

	log.BatchStarted(p.params.InputDir, p.params.OutputDir, string(p.preset), len(files), p.params.Workers)

	ctx, span := p.tracer.Start(ctx, "deid.batch", trace.WithAttributes(
		attribute.String("run.id", report.RunID),
		attribute.String("preset", string(p.preset)),
		attribute.Int("studies", len(files)),
	))
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.params.Workers)

	for i, name := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				report.Outcomes[i] = Outcome{File: name, Status: StatusFailed, Reason: err.Error(), err: err}
				return nil
			}

			if m := p.params.Metrics; m != nil {
				m.WorkersBusy.Inc()
				defer m.WorkersBusy.Dec()
			}
			outcome := p.processStudy(gctx, log.WithStudy(name), name)
			report.Outcomes[i] = outcome
			p.record(log, report.RunID, outcome)
			return nil
		})
	}

	batchErr := g.Wait()
	if batchErr == nil {
		batchErr = ctx.Err()
	}

	report.Elapsed = time.Since(report.StartedAt)
	report.sortOutcomes()

	log.BatchCompleted(report.RunID,
		report.Count(StatusRedacted),
		report.Count(StatusSkippedShape),
		report.Count(StatusFailed),
		report.Elapsed)

	if batchErr != nil {
		span.RecordError(batchErr)
		span.SetStatus(codes.Error, batchErr.Error())
	}
	return report, batchErr
}

// processStudy runs one study end to end. It never panics on bad data: any
// failure is folded into the returned Outcome.
func (p *Pipeline) processStudy(ctx context.Context, log *observability.Logger, name string) (outcome Outcome) {
	start := time.Now()
	outcome = Outcome{File: name}

	_, span := p.tracer.Start(ctx, "deid.study", trace.WithAttributes(attribute.String("study.file", name)))
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic while processing: %v", r)
			outcome.Status, outcome.Reason, outcome.err = StatusFailed, err.Error(), err
		}
		outcome.Duration = time.Since(start)

		span.SetAttributes(attribute.String("study.status", string(outcome.Status)))
		if outcome.err != nil && outcome.Status == StatusFailed {
			span.RecordError(outcome.err)
			span.SetStatus(codes.Error, outcome.Reason)
		}
		span.End()
	}()

	fail := func(err error) Outcome {
		outcome.Status, outcome.Reason, outcome.err = StatusFailed, err.Error(), err
		log.StudyFailed(name, err)
		return outcome
	}

	log.StudyStarted(name)

	if p.presetErr != nil {
		return fail(p.presetErr)
	}

	study, err := dicomio.Read(filepath.Join(p.params.InputDir, name))
	if err != nil {
		return fail(err)
	}

	code, err := p.params.IDs.Resolve(study.PatientID())
	if err != nil {
		return fail(err)
	}

	vol, err := study.Volume()
	if err != nil {
		return fail(err)
	}
	outcome.Frames = study.Frames

	box := p.regionBox(log, name, study, &outcome)

	mask, err := masking.BuildMask(study.Rows, study.Cols, box, p.preset)
	if err != nil {
		return fail(err)
	}

	redacted := masking.RedactedSamples(vol, mask)
	out, err := masking.ApplyMask(vol, mask)
	if errors.Is(err, masking.ErrUnsupportedShape) {
		outcome.Status, outcome.Reason, outcome.err = StatusSkippedShape, err.Error(), err
		log.StudySkipped(name, vol.Dims())
		return outcome
	}
	if err != nil {
		return fail(err)
	}

	if err := study.ReplacePixels(out); err != nil {
		return fail(err)
	}
	if err := study.SetPatientID(code); err != nil {
		return fail(err)
	}

	outName := dicomio.OutputName(name)
	outPath := filepath.Join(p.params.OutputDir, outName)
	if err := study.Write(outPath); err != nil {
		return fail(err)
	}

	digest, err := fileDigest(outPath)
	if err != nil {
		return fail(err)
	}

	if p.params.PreviewDir != "" {
		if err := p.writePreview(outName, out); err != nil {
			log.Error(err, "failed to write preview")
		}
	}

	outcome.Status = StatusRedacted
	outcome.Output = outName
	outcome.Digest = digest
	outcome.SamplesRedacted = redacted
	log.StudyRedacted(name, outName, outcome.Frames, redacted, time.Since(start))
	return outcome
}

// regionBox extracts the ultrasound region and notes on the outcome why no
// box is used when it is absent, malformed or entirely off the frame.
func (p *Pipeline) regionBox(log *observability.Logger, name string, study *dicomio.Study, outcome *Outcome) *models.BoundingBox {
	ext := regions.Extract(study.Dataset)
	outcome.BoxReason = ext.Reason.String()

	switch ext.Reason {
	case regions.Absent:
		log.Debug("no ultrasound regions")
		return nil
	case regions.Malformed:
		log.RegionsUnavailable(name, ext.Reason.String(), ext.Detail)
		return nil
	}

	if _, ok := ext.Box.Clamp(study.Rows, study.Cols); !ok {
		outcome.BoxReason = BoxOutsideFrame
		log.RegionsUnavailable(name, BoxOutsideFrame, ext.Box.String())
		return nil
	}
	return ext.Box
}

func (p *Pipeline) writePreview(outName string, vol models.PixelVolume) error {
	img, err := preview.FirstFrame(vol)
	if err != nil {
		return err
	}
	return preview.Save(filepath.Join(p.params.PreviewDir, preview.Name(outName)), img, p.params.PreviewMaxWidth)
}

// record pushes an outcome to the optional metrics and ledger.
func (p *Pipeline) record(log *observability.Logger, runID string, o Outcome) {
	if p.params.Metrics != nil {
		p.params.Metrics.RecordStudy(string(o.Status), o.Duration, o.SamplesRedacted)
	}
	if p.params.Ledger != nil {
		err := p.params.Ledger.RecordOutcome(ledger.Entry{
			RunID:      runID,
			File:       o.File,
			Output:     o.Output,
			Status:     string(o.Status),
			Reason:     o.Reason,
			BoxReason:  o.BoxReason,
			Digest:     o.Digest,
			DurationMS: o.Duration.Milliseconds(),
		})
		if err != nil {
			log.Error(err, "failed to record outcome")
		}
	}
}

func (p *Pipeline) listStudies() ([]string, error) {
	entries, err := os.ReadDir(p.params.InputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && dicomio.IsDICOMName(e.Name()) {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoStudies, p.params.InputDir)
	}
	return files, nil
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("failed to digest %s: %w", filepath.Base(path), err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
