package store

import (
	"testing"
)

func TestFloodBufferAdmitsWithinBurst(t *testing.T) {
	fb := newFloodBuffer(FloodRateConfig{RatePerSecond: 1, Burst: 2})
	if !fb.offer("", "a", Value{Version: 1}) {
		t.Fatalf("expected first token to be admitted")
	}
	if !fb.offer("", "b", Value{Version: 1}) {
		t.Fatalf("expected second token (within burst) to be admitted")
	}
}

func TestFloodBufferBuffersPastBurst(t *testing.T) {
	fb := newFloodBuffer(FloodRateConfig{RatePerSecond: 1, Burst: 1})
	if !fb.offer("root1", "a", Value{Version: 1}) {
		t.Fatalf("expected the single burst token to admit the first offer")
	}
	if fb.offer("root1", "b", Value{Version: 1}) {
		t.Fatalf("expected the second offer to exhaust the bucket and be buffered")
	}
	roots := fb.roots()
	if len(roots) != 1 || roots[0] != "root1" {
		t.Fatalf("expected root1 to report pending buffered entries, got %v", roots)
	}
}

func TestFloodBufferLatestWins(t *testing.T) {
	fb := newFloodBuffer(FloodRateConfig{RatePerSecond: 1, Burst: 1})
	fb.offer("root1", "a", Value{Version: 1}) // consumes the only token
	fb.offer("root1", "a", Value{Version: 2}) // buffered, superseding nothing yet
	fb.offer("root1", "a", Value{Version: 3}) // buffered, supersedes version 2

	drained := fb.drain("root1")
	if len(drained) != 1 {
		t.Fatalf("expected exactly one buffered entry for key a, got %d", len(drained))
	}
	if drained["a"].Version != 3 {
		t.Fatalf("expected the latest buffered version to survive, got %d", drained["a"].Version)
	}
}

func TestFloodBufferDrainClearsRoot(t *testing.T) {
	fb := newFloodBuffer(FloodRateConfig{RatePerSecond: 1, Burst: 1})
	fb.offer("root1", "a", Value{Version: 1})
	fb.offer("root1", "b", Value{Version: 1})

	first := fb.drain("root1")
	if len(first) != 1 {
		t.Fatalf("expected one buffered entry after the burst token was spent, got %d", len(first))
	}
	if second := fb.drain("root1"); second != nil {
		t.Fatalf("expected drain to clear root1's pending set, got %v", second)
	}
}

func TestRootTreeFloodTargetsParentAndChildren(t *testing.T) {
	tree := newRootTree("r1", false)
	tree.parent = "p1"
	tree.setChild("c1", true)
	tree.setChild("c2", true)

	targets := tree.floodTargets()
	if len(targets) != 3 {
		t.Fatalf("expected parent + 2 children = 3 targets, got %d", len(targets))
	}

	tree.setChild("c1", false)
	targets = tree.floodTargets()
	if len(targets) != 2 {
		t.Fatalf("expected removing a child to shrink flood targets to 2, got %d", len(targets))
	}
}
