package store

import (
	"testing"

	"github.com/routewire/kvstore/types"
)

func TestRootTreeRootNeverAcceptsSuccessor(t *testing.T) {
	tree := newRootTree("r1", true)
	if tree.acceptSuccessor("peer1", 0) {
		t.Fatalf("a declared root must never accept a successor")
	}
}

func TestRootTreeAcceptsFirstSuccessor(t *testing.T) {
	tree := newRootTree("r1", false)
	if !tree.acceptSuccessor("peer1", 2) {
		t.Fatalf("expected the first advertised distance to be accepted")
	}
	if tree.parent != "peer1" || tree.distance != 3 {
		t.Fatalf("expected parent=peer1 distance=3, got parent=%s distance=%d", tree.parent, tree.distance)
	}
	if tree.feasibleDistance != 2 {
		t.Fatalf("expected feasibleDistance to record the accepted advertised distance")
	}
}

func TestRootTreeFeasibilityRejectsWorseSuccessor(t *testing.T) {
	tree := newRootTree("r1", false)
	tree.acceptSuccessor("peer1", 2) // feasibleDistance now 2

	if tree.acceptSuccessor("peer2", 2) {
		t.Fatalf("a successor advertising a distance not strictly less than the feasible distance must be rejected")
	}
	if tree.parent != "peer1" {
		t.Fatalf("rejected successor must not displace the current parent")
	}
}

func TestRootTreeFeasibilityAcceptsBetterSuccessor(t *testing.T) {
	tree := newRootTree("r1", false)
	tree.acceptSuccessor("peer1", 5)

	if !tree.acceptSuccessor("peer2", 1) {
		t.Fatalf("a strictly better advertised distance must be accepted")
	}
	if tree.parent != "peer2" {
		t.Fatalf("expected parent to switch to the better successor")
	}
}

func TestRootTreeDistanceIncreaseGoesActive(t *testing.T) {
	tree := newRootTree("r1", false)
	tree.acceptSuccessor("peer1", 1) // feasibleDistance = 1, distance = 2

	tree.onDistanceIncrease(5, []types.NodeID{"n1", "n2"})
	if tree.state != dualActive {
		t.Fatalf("expected a distance increase past feasibleDistance to go ACTIVE")
	}
	if len(tree.awaitingReply) != 2 {
		t.Fatalf("expected to be awaiting a reply from every queried neighbor")
	}
}

func TestRootTreeRepliesReturnToPassive(t *testing.T) {
	tree := newRootTree("r1", false)
	tree.acceptSuccessor("peer1", 1)
	tree.onDistanceIncrease(5, []types.NodeID{"n1", "n2"})

	tree.onReply("n1")
	if tree.state != dualActive {
		t.Fatalf("expected to remain ACTIVE while awaiting a reply from n2")
	}
	tree.onReply("n2")
	if tree.state != dualPassive {
		t.Fatalf("expected to return to PASSIVE once every queried neighbor replied")
	}
}

func TestRootTreeDistanceDecreaseStaysPassive(t *testing.T) {
	tree := newRootTree("r1", false)
	tree.acceptSuccessor("peer1", 5) // feasibleDistance = 5

	tree.onDistanceIncrease(2, nil) // an improvement, not an increase past feasible
	if tree.state != dualPassive {
		t.Fatalf("expected an improving distance to stay PASSIVE")
	}
	if tree.distance != 2 {
		t.Fatalf("expected distance to update to 2, got %d", tree.distance)
	}
}

func TestRootTreeSnapshot(t *testing.T) {
	tree := newRootTree("r1", true)
	tree.setChild("c1", true)
	snap := tree.snapshot()
	if !snap.IsRoot || snap.Root != "r1" || len(snap.Children) != 1 || !snap.Passive {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
