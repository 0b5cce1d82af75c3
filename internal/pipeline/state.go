package pipeline

import "fmt"

// Execution status of a single stage.
type stageStatus int

const (
	statusPending stageStatus = iota
	statusFingerprinting
	statusCacheCheck
	statusRunning
	statusCommitting
	statusDone
	statusFailed
	statusSkipped
)

// String names for log output and transition errors.
var statusNames = map[stageStatus]string{
	statusPending:        "pending",
	statusFingerprinting: "fingerprinting",
	statusCacheCheck:     "cache-check",
	statusRunning:        "running",
	statusCommitting:     "committing",
	statusDone:           "done",
	statusFailed:         "failed",
	statusSkipped:        "skipped",
}

func (s stageStatus) String() string {
	return statusNames[s]
}

// Reports whether the status is terminal.
func (s stageStatus) terminal() bool {
	return s == statusDone || s == statusFailed || s == statusSkipped
}

// Legal transitions of the per-stage state machine.
//
// A cache hit goes straight from cache-check to done. A miss passes
// through running and committing. Failures can originate from
// fingerprinting (unreadable input), the cache check, the runner, or the
// commit. A stage whose ancestor failed is skipped from pending.
var stageTransitions = map[stageStatus][]stageStatus{
	statusPending:        {statusFingerprinting, statusSkipped},
	statusFingerprinting: {statusCacheCheck, statusFailed},
	statusCacheCheck:     {statusDone, statusRunning, statusFailed},
	statusRunning:        {statusCommitting, statusFailed},
	statusCommitting:     {statusDone, statusFailed},
}

// Tracks a stage's position in the state machine.
type stageState struct {
	status stageStatus
}

// Moves to the next status, rejecting transitions the state machine does
// not allow. A rejected transition is a bug in the executor, not a build
// failure.
func (s *stageState) to(next stageStatus) error {
	for _, allowed := range stageTransitions[s.status] {
		if allowed == next {
			s.status = next
			return nil
		}
	}
	return fmt.Errorf("illegal stage transition %s -> %s", s.status, next)
}
