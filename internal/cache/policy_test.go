package cache

import (
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
)

func TestLRUPolicyWithinBudget(t *testing.T) {
	policy := LRUPolicy{MaxBytes: 100}
	entries := []EntryInfo{
		{Fingerprint: digest.FromString("a"), Size: 40},
		{Fingerprint: digest.FromString("b"), Size: 50},
	}

	if victims := policy.Plan(entries); len(victims) != 0 {
		t.Fatalf("Plan = %v, want no victims within budget", victims)
	}
}

func TestLRUPolicyEvictsOldestFirst(t *testing.T) {
	now := time.Now()
	oldest := digest.FromString("oldest")
	middle := digest.FromString("middle")
	newest := digest.FromString("newest")

	policy := LRUPolicy{MaxBytes: 100}
	entries := []EntryInfo{
		{Fingerprint: newest, Size: 60, LastAccess: now},
		{Fingerprint: oldest, Size: 60, LastAccess: now.Add(-2 * time.Hour)},
		{Fingerprint: middle, Size: 60, LastAccess: now.Add(-1 * time.Hour)},
	}

	victims := policy.Plan(entries)
	if len(victims) != 2 {
		t.Fatalf("Plan = %v, want 2 victims", victims)
	}
	if victims[0] != oldest {
		t.Fatalf("first victim = %s, want the oldest entry", victims[0])
	}
	if victims[1] != middle {
		t.Fatalf("second victim = %s, want the middle entry", victims[1])
	}
}

func TestLRUPolicyZeroBudget(t *testing.T) {
	policy := LRUPolicy{}
	entries := []EntryInfo{
		{Fingerprint: digest.FromString("a"), Size: 1 << 30},
	}
	if victims := policy.Plan(entries); victims != nil {
		t.Fatalf("Plan = %v, want none for a zero budget", victims)
	}
}

func TestFilterPolicy(t *testing.T) {
	big := digest.FromString("big")
	small := digest.FromString("small")
	entries := []EntryInfo{
		{Fingerprint: big, Size: 1000},
		{Fingerprint: small, Size: 1},
	}

	policy := FilterPolicy{Match: func(e EntryInfo) bool { return e.Size > 100 }}
	victims := policy.Plan(entries)
	if len(victims) != 1 || victims[0] != big {
		t.Fatalf("Plan = %v, want [%s]", victims, big)
	}

	if victims := (FilterPolicy{}).Plan(entries); len(victims) != 0 {
		t.Fatalf("nil match selected %v", victims)
	}
}
