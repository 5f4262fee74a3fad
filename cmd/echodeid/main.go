package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"echodeid/internal/observability"
	"echodeid/pkg/config"
	"echodeid/pkg/deid"
	"echodeid/pkg/idmap"
	"echodeid/pkg/ledger"
	"echodeid/pkg/masking"
	"echodeid/pkg/preflight"
	"echodeid/pkg/verify"
)

const version = "1.3.0"

func usage() {
	fmt.Fprintf(os.Stderr, `echodeid %s: redact burned-in PHI from ultrasound DICOM studies

Usage:
  echodeid run       [flags]   anonymize every study of the input folder
  echodeid verify    [flags]   check anonymized studies against their originals
  echodeid preflight [flags]   print the PatientID of a random study
  echodeid ledger    [flags]   print the audit trail of one run

Run "echodeid <command> -h" for the flags of a command.
Presets: %v
`, version, masking.Presets())
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(ctx, os.Args[2:])
	case "verify":
		err = verifyCommand(ctx, os.Args[2:])
	case "preflight":
		err = preflightCommand(os.Args[2:])
	case "ledger":
		err = ledgerCommand(os.Args[2:])
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "echodeid: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags registers the flags shared by every subcommand and returns a
// loader that reads the config file and applies the flags that were set.
func commonFlags(fs *flag.FlagSet) func() (*config.Config, error) {
	configPath := fs.String("config", "echodeid.yaml", "YAML configuration file")
	input := fs.String("input", "", "Folder holding the raw studies")
	output := fs.String("output", "", "Folder for anonymized studies")
	preset := fs.String("preset", "", "PHI mask preset")
	verbose := fs.Bool("verbose", false, "Verbose output")

	return func() (*config.Config, error) {
		cfg, err := config.LoadConfig(*configPath)
		if err != nil {
			return nil, err
		}
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "input":
				cfg.Paths.Input = *input
			case "output":
				cfg.Paths.Output = *output
			case "preset":
				cfg.Processing.Preset = *preset
			case "verbose":
				cfg.Output.Verbose = *verbose
			}
		})
		return cfg, nil
	}
}

func runCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	load := commonFlags(fs)
	idMap := fs.String("idmap", "", "CSV key file mapping MRN to study code")
	workers := fs.Int("workers", 0, "Concurrent studies (default: all cores)")
	previews := fs.String("previews", "", "Folder for first-frame JPEG previews")
	ledgerPath := fs.String("ledger", "", "SQLite audit ledger")
	metricsFile := fs.String("metrics-file", "", "Write Prometheus metrics to this textfile after the run")
	halt := fs.Bool("halt-on-invalid-preset", true, "Reject an unknown preset before any study is processed")
	initConfig := fs.String("init-config", "", "Write a default configuration file to this path and exit")
	fs.Parse(args)

	if *initConfig != "" {
		if err := config.CreateDefaultConfigFile(*initConfig); err != nil {
			return err
		}
		fmt.Printf("Default configuration written to %s\n", *initConfig)
		return nil
	}

	cfg, err := load()
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "idmap":
			cfg.Paths.IDMap = *idMap
		case "workers":
			cfg.Processing.Workers = *workers
		case "previews":
			cfg.Paths.PreviewDir = *previews
		case "ledger":
			cfg.Paths.Ledger = *ledgerPath
		case "metrics-file":
			cfg.Paths.MetricsFile = *metricsFile
		case "halt-on-invalid-preset":
			cfg.Processing.HaltOnInvalidPreset = *halt
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := observability.NewConsoleLogger("echodeid", version, cfg.Output.Verbose)

	shutdown, err := observability.InitTracing(ctx, "echodeid")
	if err != nil {
		logger.Warn("tracing disabled: " + err.Error())
	} else {
		defer shutdown(context.Background())
	}

	ids, err := idmap.Load(cfg.Paths.IDMap)
	if err != nil {
		return err
	}

	params := deid.Params{
		InputDir:            cfg.Paths.Input,
		OutputDir:           cfg.Paths.Output,
		Preset:              cfg.Processing.Preset,
		Workers:             cfg.Processing.Workers,
		IDs:                 ids,
		HaltOnInvalidPreset: cfg.Processing.HaltOnInvalidPreset,
		PreviewDir:          cfg.Paths.PreviewDir,
		PreviewMaxWidth:     cfg.Output.PreviewMaxWidth,
		Logger:              logger,
	}

	var metrics *observability.Metrics
	if cfg.Paths.MetricsFile != "" {
		metrics = observability.NewMetrics()
		params.Metrics = metrics
	}
	if cfg.Paths.Ledger != "" {
		l, err := ledger.Open(cfg.Paths.Ledger)
		if err != nil {
			return err
		}
		defer l.Close()
		params.Ledger = l
	}

	pipeline, err := deid.NewPipeline(params)
	if err != nil {
		return err
	}

	report, runErr := pipeline.Process(ctx)
	if report != nil {
		printSummary(report, ids.Len())
	}
	if metrics != nil {
		if err := metrics.WriteTextfile(cfg.Paths.MetricsFile); err != nil {
			logger.Error(err, "failed to write metrics textfile")
		} else {
			logger.Info("metrics written to " + cfg.Paths.MetricsFile)
		}
	}
	return runErr
}

func printSummary(report *deid.Report, mapped int) {
	p := message.NewPrinter(language.English)
	timing := report.Timing()

	p.Printf("\nRun %s (preset %s) finished in %.2f seconds\n", report.RunID, report.Preset, report.Elapsed.Seconds())
	p.Printf("Identifier map entries: %d\n", mapped)
	p.Printf("Redacted: %d, skipped (unsupported shape): %d, failed: %d\n",
		report.Count(deid.StatusRedacted), report.Count(deid.StatusSkippedShape), report.Count(deid.StatusFailed))
	p.Printf("Samples zeroed: %d\n", report.SamplesRedacted())
	p.Printf("Per-study seconds: mean %.3f, sd %.3f, p95 %.3f, max %.3f\n", timing.Mean, timing.StdDev, timing.P95, timing.Max)

	if bad := report.BadFiles(); len(bad) > 0 {
		p.Printf("\nFiles needing manual inspection:\n")
		for _, o := range report.Outcomes {
			if o.Status != deid.StatusRedacted {
				p.Printf("  %s [%s] %s\n", o.File, o.Status, o.Reason)
			}
		}
	}
}

func verifyCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	load := commonFlags(fs)
	fs.Parse(args)

	cfg, err := load()
	if err != nil {
		return err
	}
	preset, err := masking.ParsePreset(cfg.Processing.Preset)
	if err != nil {
		return err
	}

	results, err := verify.Folder(ctx, cfg.Paths.Input, cfg.Paths.Output, preset)
	if err != nil && results == nil {
		return err
	}

	p := message.NewPrinter(language.English)
	failed := 0
	for _, r := range results {
		if r.OK() {
			if cfg.Output.Verbose {
				p.Printf("OK    %s (kept %.1f%%, mean %.1f)\n", r.Redacted, r.KeptFraction*100, r.MeanKept)
			}
			continue
		}
		failed++
		if r.Err != nil {
			p.Printf("ERROR %s: %v\n", r.Redacted, r.Err)
			continue
		}
		p.Printf("FAIL  %s: %d violations, PatientID replaced: %v\n", r.Redacted, r.Violations, r.PatientIDReplaced)
		for _, v := range r.Examples {
			p.Printf("      %s\n", v)
		}
	}
	p.Printf("Verified %d studies, %d failed\n", len(results), failed)

	if err != nil {
		return err
	}
	if failed > 0 {
		return errors.New("verification failed")
	}
	return nil
}

func preflightCommand(args []string) error {
	fs := flag.NewFlagSet("preflight", flag.ExitOnError)
	load := commonFlags(fs)
	raw := fs.Bool("raw", false, "Check the raw input folder instead of the anonymized output")
	fs.Parse(args)

	cfg, err := load()
	if err != nil {
		return err
	}

	dir := cfg.Paths.Output
	if *raw {
		fmt.Println("Checking raw files...")
		dir = cfg.Paths.Input
	} else {
		fmt.Println("Checking anonymized files...")
	}

	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	return preflight.Check(os.Stdout, dir, cfg.Output.Verbose, rng)
}

func ledgerCommand(args []string) error {
	fs := flag.NewFlagSet("ledger", flag.ExitOnError)
	configPath := fs.String("config", "echodeid.yaml", "YAML configuration file")
	ledgerPath := fs.String("ledger", "", "SQLite audit ledger (default: paths.ledger)")
	runID := fs.String("run", "", "Run ID printed at the end of echodeid run")
	fs.Parse(args)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	path := cfg.Paths.Ledger
	if *ledgerPath != "" {
		path = *ledgerPath
	}
	if path == "" || *runID == "" {
		return errors.New("ledger: both -ledger (or paths.ledger) and -run are required")
	}

	l, err := ledger.Open(path)
	if err != nil {
		return err
	}
	defer l.Close()

	return printLedger(os.Stdout, l, *runID)
}

// printLedger writes the stored header and outcomes of one run.
func printLedger(w io.Writer, l *ledger.Ledger, runID string) error {
	run, err := l.GetRun(runID)
	if err != nil {
		return err
	}
	entries, err := l.Outcomes(runID)
	if err != nil {
		return err
	}

	p := message.NewPrinter(language.English)
	p.Fprintf(w, "Run %s started %s\n", run.ID, run.StartedAt.UTC().Format(time.RFC3339))
	p.Fprintf(w, "  %s -> %s, preset %s, %d workers\n", run.InputDir, run.OutputDir, run.Preset, run.Workers)
	for _, e := range entries {
		p.Fprintf(w, "%-14s %s", e.Status, e.File)
		if e.Output != "" {
			p.Fprintf(w, " -> %s blake3:%s", e.Output, e.Digest)
		}
		if e.Reason != "" {
			p.Fprintf(w, " (%s)", e.Reason)
		}
		p.Fprintf(w, " %dms\n", e.DurationMS)
	}
	p.Fprintf(w, "%d outcomes\n", len(entries))
	return nil
}
