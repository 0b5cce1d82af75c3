package pipeline

import (
	"log/slog"
	"time"

	"github.com/opencontainers/go-digest"
)

// Outcome of a single stage within a build.
type Outcome string

const (

	// A committed artifact was served for the stage's fingerprint; the
	// runner was not invoked.
	OutcomeCacheHit Outcome = "cache-hit"

	// The runner produced the artifact and it was committed to the cache.
	OutcomeBuilt Outcome = "built"

	// The runner or the fingerprinter failed; descendants were not
	// attempted.
	OutcomeFailed Outcome = "failed"
)

// Per-stage outcome record.
//
// Results are streamed to the reporter as stages finish and collected into
// the build summary. They are not persisted.
type Result struct {
	Stage       string        // Name of the stage.
	Fingerprint digest.Digest // Fingerprint the stage resolved to. Empty if fingerprinting failed.
	Outcome     Outcome       // How the stage concluded.
	Duration    time.Duration // Wall time spent on the stage.
	Err         error         // Failure cause when Outcome is OutcomeFailed.
}

// Receives per-stage results as they complete.
//
// Report is called from the goroutine that finished the stage; in parallel
// mode implementations must tolerate concurrent calls.
type Reporter interface {
	Report(result Result)
}

// Adapts a function to the [Reporter] interface.
type ReporterFunc func(Result)

// Calls the wrapped function.
func (f ReporterFunc) Report(result Result) {
	f(result)
}

// Reporter that logs each result through slog.
type LogReporter struct{}

// Logs the result at a level matching its outcome.
func (LogReporter) Report(result Result) {
	switch result.Outcome {
	case OutcomeFailed:
		slog.Error("stage failed",
			"stage", result.Stage,
			"fingerprint", result.Fingerprint,
			"duration", result.Duration,
			"error", result.Err,
		)
	case OutcomeCacheHit:
		slog.Info("stage served from cache",
			"stage", result.Stage,
			"fingerprint", result.Fingerprint,
		)
	default:
		slog.Info("stage built",
			"stage", result.Stage,
			"fingerprint", result.Fingerprint,
			"duration", result.Duration,
		)
	}
}

// Fans a result out to multiple reporters in order.
type MultiReporter []Reporter

// Reports to every wrapped reporter.
func (m MultiReporter) Report(result Result) {
	for _, r := range m {
		r.Report(result)
	}
}
