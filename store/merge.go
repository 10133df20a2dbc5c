package store

import (
	"strings"

	"github.com/routewire/kvstore/types"
)

// Filters implements the key-prefix and originator-id filtering shared by
// KeyDumpParams and Merge. A nil Filters accepts everything.
type Filters struct {
	Prefixes      []string
	OriginatorIds map[types.NodeID]struct{}
	// Operator selects AND/OR semantics across the two filter dimensions;
	// when only one dimension is populated the operator has no effect.
	Operator FilterOp
}

// FilterOp is the conjunction operator for KeyDumpParams filters.
type FilterOp int

const (
	FilterOpOR FilterOp = iota
	FilterOpAND
)

func (f *Filters) matchesKey(k types.Key) bool {
	if f == nil || len(f.Prefixes) == 0 {
		return true
	}
	for _, p := range f.Prefixes {
		if strings.HasPrefix(string(k), p) {
			return true
		}
	}
	return false
}

func (f *Filters) matchesOriginator(id types.NodeID) bool {
	if f == nil || len(f.OriginatorIds) == 0 {
		return true
	}
	_, ok := f.OriginatorIds[id]
	return ok
}

// accepts applies the filter's operator across the key-prefix and
// originator-id dimensions.
func (f *Filters) accepts(k types.Key, originator types.NodeID) bool {
	if f == nil {
		return true
	}
	hasPrefixFilter := len(f.Prefixes) > 0
	hasOriginatorFilter := len(f.OriginatorIds) > 0
	if !hasPrefixFilter && !hasOriginatorFilter {
		return true
	}
	keyOK := f.matchesKey(k)
	originatorOK := f.matchesOriginator(originator)
	if f.Operator == FilterOpAND {
		if hasPrefixFilter && hasOriginatorFilter {
			return keyOK && originatorOK
		}
	}
	// OR semantics, or AND with only one dimension populated: a populated
	// dimension must match; an empty one is vacuously satisfied already by
	// matchesKey/matchesOriginator above.
	if hasPrefixFilter && !keyOK && !hasOriginatorFilter {
		return false
	}
	if hasOriginatorFilter && !originatorOK && !hasPrefixFilter {
		return false
	}
	if hasPrefixFilter && hasOriginatorFilter {
		return keyOK || originatorOK
	}
	return keyOK && originatorOK
}

// mergeResult is what Merge decided for a single key, used by callers that
// need to distinguish a body update from a ttl-only refresh (e.g. to decide
// whether to re-arm the TTL heap entry or also push a new one).
type mergeResult struct {
	Value      Value
	TTLOnly    bool // true when only Ttl/TtlVersion changed in place
}

// Merge applies incoming on top of local using the deterministic ordering
// in compareValues. It never mutates incoming or local's
// caller-visible map in place for callers that pass a copy; local is updated
// in place (the caller owns synchronizing access to it). filters, if
// non-nil, drops rejected keys before they're considered at all.
//
// Merge never fails: malformed entries are simply dropped. Idempotence and
// associativity fall directly out of compareValues being a total, version-
// dominant order plus the ttlVersion-only in-place-refresh special case
// being itself idempotent (applying the same ttlVersion twice no-ops via
// the `>` comparison).
func Merge(local map[types.Key]Value, incoming map[types.Key]Value, filters *Filters) map[types.Key]mergeResult {
	changed := make(map[types.Key]mergeResult)
	for k, in := range incoming {
		if !filters.accepts(k, in.OriginatorId) {
			continue
		}
		cur, ok := local[k]
		if !ok {
			if !in.HasBody() {
				// Can't accept a hash-only record as a brand new key: we'd
				// have nothing to serve from getKeyVals. The caller is
				// expected to request the full record instead.
				continue
			}
			local[k] = in
			changed[k] = mergeResult{Value: in}
			continue
		}
		switch compareValues(in, cur) {
		case orderGreater:
			if !in.HasBody() {
				// Dominant version but hash-only: keep the old body locally
				// (still the best we have) but the caller must still go
				// fetch the real bytes from whoever sent this dump.
				continue
			}
			if in.Version == cur.Version && in.OriginatorId == cur.OriginatorId && in.Hash == cur.Hash {
				// Same record, newer ttlVersion: refresh Ttl/TtlVersion in place.
				cur.Ttl = in.Ttl
				cur.TtlVersion = in.TtlVersion
				cur.OriginatedAt = in.OriginatedAt
				local[k] = cur
				changed[k] = mergeResult{Value: cur, TTLOnly: true}
				continue
			}
			local[k] = in
			changed[k] = mergeResult{Value: in}
		case orderLess:
			// local already dominates; drop in.
		case orderEqual:
			if in.HasBody() && !cur.HasBody() {
				// Same (version, originator, hash), and in actually carries
				// the bytes we were missing: adopt it outright.
				local[k] = in
				changed[k] = mergeResult{Value: in}
				continue
			}
			if in.TtlVersion > cur.TtlVersion {
				cur.Ttl = in.Ttl
				cur.TtlVersion = in.TtlVersion
				cur.OriginatedAt = in.OriginatedAt
				local[k] = cur
				changed[k] = mergeResult{Value: cur, TTLOnly: true}
			}
		case orderUnknown:
			// Hash mismatch at tied (version, originator): can't resolve
			// locally, drop silently. The caller that wants the
			// authoritative body must issue a direct getKeyVals to the
			// peer that sent this dump.
		}
	}
	return changed
}
