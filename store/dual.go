package store

import (
	"github.com/routewire/kvstore/types"
)

// dualState is a node's per-root position in the Diffusing Update Algorithm
// spanning tree.
type dualState int

const (
	// dualPassive is the steady, converged state.
	dualPassive dualState = iota
	// dualActive means the node is waiting on replies from every neighbor
	// it queried after its distance increased past its feasible distance.
	dualActive
)

// dualMessageKind tags the opaque payloads carried in a DualMessages
// envelope.
type dualMessageKind int

const (
	dualQuery dualMessageKind = iota
	dualReply
	dualUpdate
	dualAck
)

// DualMessage is one protocol message for a single root's spanning tree.
type DualMessage struct {
	Root     types.RootID
	Kind     dualMessageKind
	From     types.NodeID
	Distance int
}

// rootTree is the per-(node, root) DUAL bookkeeping: current parent,
// distance, children, and the ACTIVE/PASSIVE feasibility state.
type rootTree struct {
	root     types.RootID
	isRoot   bool
	state    dualState
	parent   types.NodeID
	distance int
	// feasibleDistance is the best distance ever advertised by the current
	// successor; a neighbor is only acceptable as a new successor if its
	// advertised distance is strictly less than this (the feasibility
	// condition that prevents transient routing loops).
	feasibleDistance int
	children         map[types.NodeID]struct{}
	// awaitingReply tracks neighbors queried while ACTIVE; the state
	// reverts to PASSIVE once it is empty.
	awaitingReply map[types.NodeID]struct{}
}

func newRootTree(root types.RootID, isRoot bool) *rootTree {
	t := &rootTree{
		root:     root,
		isRoot:   isRoot,
		state:    dualPassive,
		children: make(map[types.NodeID]struct{}),
	}
	if isRoot {
		t.distance = 0
		t.feasibleDistance = 0
	} else {
		t.distance = -1 // unknown until first update
		t.feasibleDistance = -1
	}
	return t
}

// SptInfo is one root's spanning-tree snapshot, returned by
// getSpanningTreeInfo.
type SptInfo struct {
	Root     types.RootID
	IsRoot   bool
	Parent   types.NodeID
	Distance int
	Children []types.NodeID
	Passive  bool
}

func (t *rootTree) snapshot() SptInfo {
	children := make([]types.NodeID, 0, len(t.children))
	for c := range t.children {
		children = append(children, c)
	}
	return SptInfo{
		Root:     t.root,
		IsRoot:   t.isRoot,
		Parent:   t.parent,
		Distance: t.distance,
		Children: children,
		Passive:  t.state == dualPassive,
	}
}

// acceptSuccessor applies the feasibility condition: neighbor becomes the
// new parent only if its advertised distance is strictly less than the
// locally recorded feasible distance. Returns whether the neighbor was
// accepted.
func (t *rootTree) acceptSuccessor(neighbor types.NodeID, advertised int) bool {
	if t.isRoot {
		return false
	}
	if t.feasibleDistance >= 0 && advertised >= t.feasibleDistance {
		return false
	}
	t.parent = neighbor
	t.distance = advertised + 1
	t.feasibleDistance = advertised
	return true
}

// onDistanceIncrease handles the case where the current parent's path got
// worse: PASSIVE -> ACTIVE when distance increases beyond the feasible
// distance, and the node queries every neighbor (here,
// represented by the caller supplying the full peer set to query).
func (t *rootTree) onDistanceIncrease(newDistance int, neighbors []types.NodeID) {
	if newDistance <= t.feasibleDistance || t.feasibleDistance < 0 {
		t.distance = newDistance
		return
	}
	t.state = dualActive
	t.distance = newDistance
	t.awaitingReply = make(map[types.NodeID]struct{}, len(neighbors))
	for _, n := range neighbors {
		t.awaitingReply[n] = struct{}{}
	}
}

// onReply removes from being ACTIVE for one neighbor's reply; once every
// expected reply is in, the node goes back to PASSIVE.
func (t *rootTree) onReply(from types.NodeID) {
	if t.state != dualActive {
		return
	}
	delete(t.awaitingReply, from)
	if len(t.awaitingReply) == 0 {
		t.state = dualPassive
	}
}

// setChild adds or removes a child for this root, driven by
// updateFloodTopologyChild / sendTopoSetCmd.
func (t *rootTree) setChild(child types.NodeID, isChild bool) {
	if isChild {
		t.children[child] = struct{}{}
	} else {
		delete(t.children, child)
	}
}

// floodTargets returns the peer names a flood tagged with this root should
// reach: parent plus children. When optimization is disabled entirely the
// caller never consults rootTree and instead floods to every physical peer.
func (t *rootTree) floodTargets() []types.NodeID {
	targets := make([]types.NodeID, 0, len(t.children)+1)
	if t.parent != "" {
		targets = append(targets, t.parent)
	}
	for c := range t.children {
		targets = append(targets, c)
	}
	return targets
}
