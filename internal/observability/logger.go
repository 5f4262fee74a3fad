package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger writing JSON lines to output.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stderr
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// NewConsoleLogger writes human-readable lines when stderr is a terminal
// and falls back to JSON otherwise.
func NewConsoleLogger(service, version string, verbose bool) *Logger {
	var out io.Writer = os.Stderr
	if term.IsTerminal(int(os.Stderr.Fd())) {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	l := NewLogger(service, version, out)
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	l.logger = l.logger.Level(level)
	return l
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// WithRun adds run_id context to logger.
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("run_id", runID).Logger(),
	}
}

// WithStudy adds study file context to logger.
func (l *Logger) WithStudy(file string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("study", file).Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// BatchStarted logs the start of a de-identification run.
func (l *Logger) BatchStarted(inputDir, outputDir, preset string, studies, workers int) {
	l.logger.Info().
		Str("input_dir", inputDir).
		Str("output_dir", outputDir).
		Str("preset", preset).
		Int("studies", studies).
		Int("workers", workers).
		Msg("batch started")
}

// StudyStarted logs the start of one study task.
func (l *Logger) StudyStarted(file string) {
	l.logger.Debug().
		Str("study", file).
		Msg("study started")
}

// RegionsUnavailable logs a study whose ultrasound regions could not be used.
func (l *Logger) RegionsUnavailable(file, reason, detail string) {
	l.logger.Warn().
		Str("study", file).
		Str("reason", reason).
		Str("detail", detail).
		Msg("ultrasound regions unavailable, masking without bounding box")
}

// StudyRedacted logs a successfully redacted study.
func (l *Logger) StudyRedacted(file, output string, frames, redacted int, duration time.Duration) {
	l.logger.Info().
		Str("study", file).
		Str("output", output).
		Int("frames", frames).
		Int("samples_redacted", redacted).
		Float64("duration_seconds", duration.Seconds()).
		Msg("study redacted")
}

// StudySkipped logs a study left untouched because of its pixel shape.
func (l *Logger) StudySkipped(file string, dims []int) {
	l.logger.Warn().
		Str("study", file).
		Ints("dims", dims).
		Msg("unsupported pixel shape, study skipped")
}

// StudyFailed logs a study that could not be processed.
func (l *Logger) StudyFailed(file string, err error) {
	l.logger.Error().
		Str("study", file).
		Err(err).
		Msg("study failed")
}

// BatchCompleted logs the end of a run.
func (l *Logger) BatchCompleted(runID string, redacted, skipped, failed int, duration time.Duration) {
	l.logger.Info().
		Str("run_id", runID).
		Int("redacted", redacted).
		Int("skipped", skipped).
		Int("failed", failed).
		Float64("duration_seconds", duration.Seconds()).
		Msg("batch completed")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
