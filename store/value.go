package store

import (
	"encoding/binary"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/routewire/kvstore/types"
)

// InfiniteTTL is the sentinel Ttl value meaning "never expires". A key with
// this Ttl is never enqueued for expiry. Distinct from a zero Duration,
// which would mean "expire immediately".
const InfiniteTTL time.Duration = -1

// Value is the fundamental datum held by a StoreDb. Every field is
// immutable once flooded except for Ttl/TtlVersion, which the originator may
// refresh in place without bumping Version.
type Value struct {
	Version      int64
	OriginatorId types.NodeID
	Value        []byte // absent (nil) when only the Hash is carried
	Ttl          time.Duration
	TtlVersion   int64
	Hash         uint64
	OriginatedAt time.Time // local wall-clock time the record was accepted, used to derive expiry
}

// HasBody reports whether Value carries the actual value bytes, as opposed
// to a hash-only placeholder used during hash-dump sync.
func (v Value) HasBody() bool { return v.Value != nil }

// ComputeHash returns the deterministic hash over (version, originatorId,
// value) used to fill Value.Hash. Exported so callers constructing a Value
// by hand (e.g. setKeyVals) get the same hash the wire codec would produce.
func ComputeHash(version int64, originator types.NodeID, value []byte) uint64 {
	h := xxhash.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(version))
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(originator))
	_, _ = h.Write(value)
	return h.Sum64()
}

// order is the result of comparing two values of the same key.
type order int

const (
	orderLess order = iota
	orderEqual
	orderGreater
	orderUnknown // at least one side is hash-only and the compared field can't be read
)

// compareValues implements the deterministic reconciliation rule: the tuple
// (version, originatorId, hash, ttlVersion), compared lexicographically,
// with the first differing field deciding. Differing hashes at a tied
// (version, originatorId) yield orderUnknown; when the hashes match but
// either side lacks its byte body, ttlVersion is not compared and the
// result is orderEqual.
func compareValues(a, b Value) order {
	if a.Version != b.Version {
		if a.Version > b.Version {
			return orderGreater
		}
		return orderLess
	}
	if a.OriginatorId != b.OriginatorId {
		if a.OriginatorId > b.OriginatorId {
			return orderGreater
		}
		return orderLess
	}
	if a.Hash != b.Hash {
		// Same (version, originator) but different hash: this should not
		// happen for well-behaved originators (the hash is a function of
		// the other two fields plus the value bytes, and version+originator
		// already tied). Treat as UNKNOWN rather than invent an order
		// between two bodies whose hashes disagree.
		return orderUnknown
	}
	if !a.HasBody() || !b.HasBody() {
		// Same (version, originator, hash) but one side is hash-only: it is
		// the same record, just missing bytes. Not comparable on value, but
		// not a conflict either — report equal so the caller falls through
		// to the ttlVersion-only-refresh branch.
		return orderEqual
	}
	if a.TtlVersion != b.TtlVersion {
		if a.TtlVersion > b.TtlVersion {
			return orderGreater
		}
		return orderLess
	}
	return orderEqual
}

// remainingTTL returns how much of v's TTL is left as of now, given the
// local wall-clock time it was accepted. A value with InfiniteTTL returns
// InfiniteTTL; an elapsed TTL returns 0.
func remainingTTL(v Value, now time.Time) time.Duration {
	if isInfinite(v) {
		return InfiniteTTL
	}
	elapsed := now.Sub(v.OriginatedAt)
	left := v.Ttl - elapsed
	if left < 0 {
		return 0
	}
	return left
}

// isInfinite reports whether v never expires.
func isInfinite(v Value) bool { return v.Ttl == InfiniteTTL }
