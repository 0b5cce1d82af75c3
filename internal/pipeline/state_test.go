package pipeline

import "testing"

func TestStateCacheHitPath(t *testing.T) {
	var s stageState
	for _, next := range []stageStatus{statusFingerprinting, statusCacheCheck, statusDone} {
		if err := s.to(next); err != nil {
			t.Fatalf("to(%s): %v", next, err)
		}
	}
	if !s.status.terminal() {
		t.Fatalf("status %s not terminal", s.status)
	}
}

func TestStateBuildPath(t *testing.T) {
	var s stageState
	path := []stageStatus{
		statusFingerprinting,
		statusCacheCheck,
		statusRunning,
		statusCommitting,
		statusDone,
	}
	for _, next := range path {
		if err := s.to(next); err != nil {
			t.Fatalf("to(%s): %v", next, err)
		}
	}
}

func TestStateSkipFromPendingOnly(t *testing.T) {
	var s stageState
	if err := s.to(statusSkipped); err != nil {
		t.Fatalf("to(skipped) from pending: %v", err)
	}

	var running stageState
	running.to(statusFingerprinting)
	running.to(statusCacheCheck)
	running.to(statusRunning)
	if err := running.to(statusSkipped); err == nil {
		t.Fatal("running -> skipped allowed")
	}
}

func TestStateIllegalTransitions(t *testing.T) {
	cases := []struct {
		name string
		from stageStatus
		to   stageStatus
	}{
		{"pending to done", statusPending, statusDone},
		{"pending to running", statusPending, statusRunning},
		{"done is terminal", statusDone, statusRunning},
		{"failed is terminal", statusFailed, statusFingerprinting},
		{"skipped is terminal", statusSkipped, statusFingerprinting},
		{"no going back", statusRunning, statusCacheCheck},
	}

	for _, tc := range cases {
		s := stageState{status: tc.from}
		if err := s.to(tc.to); err == nil {
			t.Errorf("%s: transition %s -> %s allowed", tc.name, tc.from, tc.to)
		}
	}
}

func TestStateFailureSources(t *testing.T) {
	for _, from := range []stageStatus{statusFingerprinting, statusCacheCheck, statusRunning, statusCommitting} {
		s := stageState{status: from}
		if err := s.to(statusFailed); err != nil {
			t.Errorf("%s -> failed rejected: %v", from, err)
		}
	}
}
