// Package types holds the small identifier aliases shared across the
// kvstore packages. None of them carry behavior of their own; they exist so
// that keys, areas and originator ids aren't passed around as bare strings.
package types

// Key identifies a value within an area. Opaque, UTF-8, unique per area.
type Key string

// Area identifies an administrative partition. Each area has an independent
// store, peer set and flood plane; keys are never shared across areas.
type Area string

// NodeID is the stable string identifying a node as a peer or originator.
type NodeID string

// RootID identifies a declared spanning-tree root for dual-plane flooding.
type RootID string
