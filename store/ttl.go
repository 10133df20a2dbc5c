package store

import (
	"container/heap"
	"time"

	"github.com/routewire/kvstore/types"
)

// ttlEntry is one scheduled expiry. Entries are never mutated in place;
// merge pushes a new entry for every version/ttlVersion it accepts, so the
// heap can grow beyond the live-record count. Stale entries (whose
// (version, ttlVersion) no longer match the current record) are discarded
// lazily when popped.
type ttlEntry struct {
	expiry       time.Time
	key          types.Key
	version      int64
	ttlVersion   int64
	originatorId types.NodeID
	index        int // maintained by container/heap
}

// ttlHeap is a min-heap ordered on expiry time.
type ttlHeap []*ttlEntry

func (h ttlHeap) Len() int            { return len(h) }
func (h ttlHeap) Less(i, j int) bool  { return h[i].expiry.Before(h[j].expiry) }
func (h ttlHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *ttlHeap) Push(x any) {
	e := x.(*ttlEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *ttlHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// expiryEngine owns the TTL heap for one StoreDb and the single timer armed
// for the soonest expiry. It is only ever touched from the owning area's
// executor goroutine — no locking of its own.
type expiryEngine struct {
	heap  ttlHeap
	timer *time.Timer
}

func newExpiryEngine() *expiryEngine {
	return &expiryEngine{heap: ttlHeap{}}
}

// schedule pushes a new heap entry for v, unless v never expires. The
// caller re-arms the sweep timer afterwards (see nextExpiry).
func (e *expiryEngine) schedule(now time.Time, key types.Key, v Value) {
	if isInfinite(v) {
		return
	}
	exp := now.Add(v.Ttl)
	heap.Push(&e.heap, &ttlEntry{
		expiry:       exp,
		key:          key,
		version:      v.Version,
		ttlVersion:   v.TtlVersion,
		originatorId: v.OriginatorId,
	})
}

// nextExpiry reports the soonest scheduled expiry, if any entries remain.
func (e *expiryEngine) nextExpiry() (time.Time, bool) {
	if len(e.heap) == 0 {
		return time.Time{}, false
	}
	return e.heap[0].expiry, true
}

// popExpired pops and returns every entry whose expiry is <= now. Callers
// are responsible for checking each entry against the live store (matching
// (version, ttlVersion)) before treating it as a real expiry; a stale
// entry is simply ignored, never re-pushed.
func (e *expiryEngine) popExpired(now time.Time) []*ttlEntry {
	var due []*ttlEntry
	for len(e.heap) > 0 && !e.heap[0].expiry.After(now) {
		due = append(due, heap.Pop(&e.heap).(*ttlEntry))
	}
	return due
}

// stillLive reports whether entry still matches the current record for its
// key - i.e. whether this heap entry is the live one rather than a stale
// leftover from a since-superseded version/ttlVersion.
func stillLive(entry *ttlEntry, cur Value, ok bool) bool {
	return ok && cur.Version == entry.version && cur.TtlVersion == entry.ttlVersion
}
