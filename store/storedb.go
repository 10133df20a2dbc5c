// Package store implements the per-area replicated key-value store: value
// merge, TTL expiry, peer sync, StoreDb's public contract, and dual-plane
// flooding. One executor goroutine per area owns all mutable state; local
// reads take an RWMutex-guarded snapshot instead of going through the
// executor, since a pure read has no ordering obligation toward concurrent
// writes.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/routewire/kvstore/types"
	"github.com/routewire/kvstore/wire"
)

// Config bundles the per-area knobs StoreDb itself consults (peer
// sync/backoff/flood knobs live on Peer/flood structures built from the
// same Config by the supervisor).
type Config struct {
	NodeId                  types.NodeID
	Area                    types.Area
	KeyTTL                  time.Duration
	SyncInterval            time.Duration
	TTLDecrement            time.Duration
	FloodRate               FloodRateConfig
	Backoff                 BackoffConfig
	KeepAliveInterval       time.Duration
	EnableFloodOptimization bool
	IsFloodRoot             bool
	KeyPrefixFilters        []string
	OriginatorIdFilters     []types.NodeID
	QueueDepth              int
}

func DefaultConfig(area types.Area, nodeID types.NodeID) Config {
	return Config{
		NodeId:            nodeID,
		Area:              area,
		KeyTTL:            InfiniteTTL,
		SyncInterval:      30 * time.Second,
		TTLDecrement:      time.Millisecond,
		FloodRate:         defaultFloodRateConfig(),
		Backoff:           DefaultBackoffConfig(),
		KeepAliveInterval: 15 * time.Second,
	}
}

// UpdatePublication is what StoreDb emits to subscribers (the supervisor's
// broadcast queue) whenever a local or merged write changes the store.
type UpdatePublication struct {
	Area    types.Area
	Changed map[types.Key]Value
	Expired []types.Key
}

// StoreDb is one area's replicated key-value store. Every method that
// mutates state enqueues a command onto the area's single executor
// goroutine; getKeyVals and the dump family take a snapshot under RWMutex
// instead, since reads need no serialization relative to each other and
// serializing them against writes would only add needless latency to the
// hot path.
type StoreDb struct {
	cfg Config

	ex *executor

	mu     sync.RWMutex // guards kv for the fast read path
	kv     map[types.Key]Value
	expiry *expiryEngine

	peers     map[types.NodeID]*peer
	floodBuf  *floodBuffer
	trees     map[types.RootID]*rootTree
	sptRoots  map[types.RootID]struct{} // roots this node declares itself a root of

	subscribers []chan<- UpdatePublication

	sendFn sendFunc
	reqSeq uint64

	ttlTimerStop        func() bool
	floodFlushTimerStop func() bool
}

// SetTransport wires the function the supervisor uses to actually put a
// wire.Request on the network. Must be called before any peer is added.
func (s *StoreDb) SetTransport(fn sendFunc) {
	s.ex.submit(context.Background(), func() { s.sendFn = fn })
}

func NewStoreDb(cfg Config) *StoreDb {
	s := &StoreDb{
		cfg:      cfg,
		ex:       newExecutor(cfg.QueueDepth),
		kv:       make(map[types.Key]Value),
		expiry:   newExpiryEngine(),
		peers:    make(map[types.NodeID]*peer),
		floodBuf: newFloodBuffer(cfg.FloodRate),
		trees:    make(map[types.RootID]*rootTree),
		sptRoots: make(map[types.RootID]struct{}),
	}
	return s
}

// Close shuts the area down: stops the TTL and flood-flush timers, drains
// the executor queue (commands already queued still run), makes later
// submissions fail with SHUTTING_DOWN, and closes every
// subscriber channel so a caller ranging over Subscribe's channel doesn't
// block forever.
func (s *StoreDb) Close() {
	if s.ttlTimerStop != nil {
		s.ttlTimerStop()
	}
	if s.floodFlushTimerStop != nil {
		s.floodFlushTimerStop()
	}
	s.ex.Close()
	for _, ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = nil
}

// Subscribe registers ch to receive every UpdatePublication this StoreDb
// emits. Used by the supervisor to fan local updates out to its
// broadcast.Broadcaster.
func (s *StoreDb) Subscribe(ch chan<- UpdatePublication) {
	s.ex.submit(context.Background(), func() {
		s.subscribers = append(s.subscribers, ch)
	})
}

func (s *StoreDb) publish(up UpdatePublication) {
	for _, ch := range s.subscribers {
		select {
		case ch <- up:
		default:
		}
	}
}

// ---- reads (fast path, no executor hop) ----

// getKeyVals is a multi-get: missing keys are simply absent from the
// result.
func (s *StoreDb) GetKeyVals(keys []types.Key) map[types.Key]Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[types.Key]Value, len(keys))
	for _, k := range keys {
		if v, ok := s.kv[k]; ok {
			out[k] = v
		}
	}
	return out
}

// dumpAllWithFilters scans the store with key-prefix/originator-id filters.
// When omitValue is set the returned values carry only Hash, matching
// dumpHashWithFilters's use of the same scan.
func (s *StoreDb) DumpAllWithFilters(filters *Filters, omitValue bool) map[types.Key]Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[types.Key]Value)
	for k, v := range s.kv {
		if !filters.accepts(k, v.OriginatorId) {
			continue
		}
		if omitValue {
			v.Value = nil
		}
		out[k] = v
	}
	return out
}

// dumpHashWithFilters is dumpAllWithFilters with omitValue always set, the
// first step of three-way sync.
func (s *StoreDb) DumpHashWithFilters(filters *Filters) map[types.Key]Value {
	return s.DumpAllWithFilters(filters, true)
}

// dumpDifference compares theirs against the local store under
// compareValues. needFromThem holds their records that dominate ours, that
// order as UNKNOWN against ours, or that we lack entirely: keys the caller
// has to obtain from them. needFromUs holds our records where ours
// dominates or where theirs has no entry: what the caller (computing a sync
// response) sends back in full.
func (s *StoreDb) DumpDifference(theirs map[types.Key]Value) (needFromThem map[types.Key]Value, needFromUs map[types.Key]Value) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needFromThem = make(map[types.Key]Value)
	needFromUs = make(map[types.Key]Value)
	for k, their := range theirs {
		mine, ok := s.kv[k]
		if !ok {
			needFromThem[k] = their
			continue
		}
		switch compareValues(their, mine) {
		case orderGreater:
			needFromThem[k] = their
		case orderLess:
			needFromUs[k] = mine
		case orderUnknown:
			needFromThem[k] = their
		case orderEqual:
		}
	}
	for k, mine := range s.kv {
		if _, ok := theirs[k]; !ok {
			needFromUs[k] = mine
		}
	}
	return needFromThem, needFromUs
}

// ---- writes (executor-serialized) ----

// SetParams is setKeyVals's input: an originator-local write. Version must
// be strictly greater than whatever is currently stored for Key under the
// same originator, unless TTLRefreshOnly is set, in which case only Ttl is
// applied and TtlVersion is bumped automatically.
type SetParams struct {
	Key            types.Key
	Value          []byte
	Version        int64
	Ttl            time.Duration
	TTLRefreshOnly bool
}

// setKeyVals applies local, originator-initiated writes: it builds a Value
// stamped with this node's id, merges it into the local map, and floods the
// change. ctx bounds how long the caller waits for the write to be applied
// on the executor; it does not bound the flood itself.
func (s *StoreDb) SetKeyVals(ctx context.Context, params []SetParams) error {
	if len(params) == 0 {
		return errInvalidArgument("setKeyVals", nil)
	}
	done := make(chan struct{})
	var opErr error
	ok := s.ex.submit(ctx, func() {
		defer close(done)
		now := time.Now()
		incoming := make(map[types.Key]Value, len(params))
		for _, p := range params {
			if p.Key == "" {
				opErr = errInvalidArgument("setKeyVals", nil)
				return
			}
			if p.TTLRefreshOnly {
				cur, exists := s.kv[p.Key]
				if !exists {
					opErr = errInvalidArgument("setKeyVals: ttl refresh of unknown key", nil)
					return
				}
				cur.Ttl = p.Ttl
				cur.TtlVersion++
				cur.OriginatedAt = now
				incoming[p.Key] = cur
				continue
			}
			v := Value{
				Version:      p.Version,
				OriginatorId: s.cfg.NodeId,
				Value:        p.Value,
				Ttl:          p.Ttl,
				TtlVersion:   0,
				OriginatedAt: now,
			}
			v.Hash = ComputeHash(v.Version, v.OriginatorId, v.Value)
			incoming[p.Key] = v
		}
		s.applyMerge(now, incoming, "")
	})
	if !ok {
		return errShuttingDown("setKeyVals")
	}
	select {
	case <-done:
		return opErr
	case <-ctx.Done():
		return errTimeout("setKeyVals", ctx.Err())
	}
}

// applyMerge runs Merge against the live map under mu, schedules TTL heap
// entries for anything changed, publishes to subscribers, and floods the
// result to every peer except excludeSender. Must run on the executor
// goroutine.
func (s *StoreDb) applyMerge(now time.Time, incoming map[types.Key]Value, excludeSender types.NodeID) map[types.Key]mergeResult {
	s.mu.Lock()
	changed := Merge(s.kv, incoming, s.importFilters())
	s.mu.Unlock()

	if len(changed) == 0 {
		return changed
	}
	pub := make(map[types.Key]Value, len(changed))
	for k, res := range changed {
		s.expiry.schedule(now, k, res.Value)
		pub[k] = res.Value
	}
	s.rearmTTLTimer()
	s.publish(UpdatePublication{Area: s.cfg.Area, Changed: pub})
	s.floodToPeers(pub, excludeSender)
	return changed
}

func (s *StoreDb) importFilters() *Filters {
	if len(s.cfg.KeyPrefixFilters) == 0 && len(s.cfg.OriginatorIdFilters) == 0 {
		return nil
	}
	f := &Filters{Prefixes: s.cfg.KeyPrefixFilters}
	if len(s.cfg.OriginatorIdFilters) > 0 {
		f.OriginatorIds = make(map[types.NodeID]struct{}, len(s.cfg.OriginatorIdFilters))
		for _, o := range s.cfg.OriginatorIdFilters {
			f.OriginatorIds[o] = struct{}{}
		}
	}
	return f
}

// floodToPeers sends pub to every peer except excludeSender, using the
// dual-plane spanning tree to restrict fan-out when enabled, and the rate
// limiter/flood buffer to smooth bursts. Must run on the executor
// goroutine. The actual transport send is delegated to sendFn, set by the
// supervisor when it wires a StoreDb to a netx.Transport (keeping store
// free of a netx import).
func (s *StoreDb) floodToPeers(pub map[types.Key]Value, excludeSender types.NodeID) {
	if s.sendFn == nil || len(pub) == 0 {
		return
	}
	targets := s.floodTargetsFor(pub, excludeSender)
	for _, name := range targets {
		p, ok := s.peers[name]
		if !ok || p.state != PeerSynced {
			continue
		}
		s.sendPublicationTo(p, pub, "")
	}
}

// floodTargetsFor resolves which peer names should receive pub. Without
// flood optimization, or while no root tree is known, every peer (but
// excludeSender) is a target. With it, the targets are the union of the
// parent and children of every known root tree (minus excludeSender),
// whatever keys pub holds: pub carries no flood-root id, so there is no
// per-root restriction and no fallback to all peers for rootless floods.
func (s *StoreDb) floodTargetsFor(pub map[types.Key]Value, excludeSender types.NodeID) []types.NodeID {
	all := func() []types.NodeID {
		out := make([]types.NodeID, 0, len(s.peers))
		for name := range s.peers {
			if name != excludeSender {
				out = append(out, name)
			}
		}
		return out
	}
	if !s.cfg.EnableFloodOptimization || len(s.trees) == 0 {
		return all()
	}
	seen := make(map[types.NodeID]struct{})
	for root, tree := range s.trees {
		_ = root
		for _, n := range tree.floodTargets() {
			if n != excludeSender {
				seen[n] = struct{}{}
			}
		}
	}
	out := make([]types.NodeID, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	return out
}

// sendPublicationTo rate-limits and, if admitted, sends pub to p. Keys that
// miss their token are buffered per (root, key) by floodBuf and picked up by
// flushBufferedFloods once armFloodFlushTimer's timer fires.
func (s *StoreDb) sendPublicationTo(p *peer, pub map[types.Key]Value, rootID types.RootID) {
	admitted := make(map[types.Key]Value, len(pub))
	buffered := false
	for k, v := range pub {
		if s.floodBuf.offer(rootID, k, v) {
			admitted[k] = v
		} else {
			buffered = true
		}
	}
	if buffered {
		s.armFloodFlushTimer()
	}
	if len(admitted) == 0 {
		return
	}
	s.sendPublicationNow(p, admitted, rootID)
}

// armFloodFlushTimer schedules flushBufferedFloods for whenever the rate
// limiter will next admit a token. No-op if a flush is already scheduled or
// nothing is buffered. Must run on the executor goroutine.
func (s *StoreDb) armFloodFlushTimer() {
	if s.floodFlushTimerStop != nil {
		return
	}
	if len(s.floodBuf.roots()) == 0 {
		return
	}
	d := s.floodBuf.reservationDelay()
	s.floodFlushTimerStop = s.ex.afterFunc(d, s.flushBufferedFloods)
}

// flushBufferedFloods drains every root with buffered publications and
// sends them to every currently synced peer, then re-arms itself if offer
// buffered anything else in the meantime.
func (s *StoreDb) flushBufferedFloods() {
	s.floodFlushTimerStop = nil
	for _, root := range s.floodBuf.roots() {
		vals := s.floodBuf.drain(root)
		if len(vals) == 0 {
			continue
		}
		for _, p := range s.peers {
			if p.state != PeerSynced {
				continue
			}
			s.sendPublicationNow(p, vals, root)
		}
	}
	s.armFloodFlushTimer()
}

func (s *StoreDb) sendPublicationNow(p *peer, pub map[types.Key]Value, rootID types.RootID) {
	kv := make(map[string]wire.ValueWire, len(pub))
	for k, v := range pub {
		kv[string(k)] = valueToWire(v)
	}
	env := &wire.Publication{
		Area:        string(s.cfg.Area),
		KeyVals:     kv,
		NodeIds:     []string{string(s.cfg.NodeId)},
		FloodRootId: string(rootID),
	}
	req := &wire.Request{
		Kind:        wire.RequestKeySet,
		From:        string(s.cfg.NodeId),
		Area:        string(s.cfg.Area),
		Publication: env,
	}
	s.sendFn(p.spec.Name, req)
	p.sent++
}

func valueToWire(v Value) wire.ValueWire {
	ttlMs := int64(InfiniteTTL)
	if !isInfinite(v) {
		ttlMs = v.Ttl.Milliseconds()
	}
	return wire.ValueWire{
		Version:      v.Version,
		OriginatorId: string(v.OriginatorId),
		Value:        v.Value,
		TtlMs:        ttlMs,
		TtlVersion:   v.TtlVersion,
		Hash:         v.Hash,
	}
}

func valueFromWire(w wire.ValueWire, originatedAt time.Time) Value {
	ttl := InfiniteTTL
	if w.TtlMs != int64(InfiniteTTL) {
		ttl = time.Duration(w.TtlMs) * time.Millisecond
	}
	return Value{
		Version:      w.Version,
		OriginatorId: types.NodeID(w.OriginatorId),
		Value:        w.Value,
		Ttl:          ttl,
		TtlVersion:   w.TtlVersion,
		Hash:         w.Hash,
		OriginatedAt: originatedAt,
	}
}

// sendFn abstracts the transport send the supervisor wires in
// (store itself never imports netx).
type sendFunc func(to types.NodeID, req *wire.Request)

// ---- peer management ----

// addOrUpdatePeers adds new peers (entering IDLE, which starts their sync
// retry timer) or, for a peer already known, leaves its sync state alone -
// a reconnect with the same name is not a new peer.
func (s *StoreDb) AddOrUpdatePeers(specs map[types.NodeID]PeerSpec) error {
	if len(specs) == 0 {
		return errInvalidArgument("addOrUpdatePeers", nil)
	}
	ok := s.ex.submit(context.Background(), func() {
		for name, spec := range specs {
			if _, exists := s.peers[name]; exists {
				continue
			}
			p := newPeer(spec, s.cfg.Backoff)
			s.peers[name] = p
			s.armRetryTimer(p)
		}
	})
	if !ok {
		return errShuttingDown("addOrUpdatePeers")
	}
	return nil
}

// delPeers removes peers and stops their timers; PEER_DEL is terminal.
func (s *StoreDb) DelPeers(names []types.NodeID) error {
	ok := s.ex.submit(context.Background(), func() {
		for _, name := range names {
			p, exists := s.peers[name]
			if !exists {
				continue
			}
			if p.nextRetryTimer != nil {
				p.nextRetryTimer.Stop()
			}
			if p.keepAliveTimer != nil {
				p.keepAliveTimer.Stop()
			}
			delete(s.peers, name)
		}
	})
	if !ok {
		return errShuttingDown("delPeers")
	}
	return nil
}

// armKeepAliveTimer starts p's periodic keep-alive ping once it reaches
// SYNCED, re-arming itself after every fire. Stopping the previous timer
// first makes this safe to call on every transition into SYNCED, not just
// the first. Must run on the executor goroutine.
func (s *StoreDb) armKeepAliveTimer(p *peer) {
	if p.keepAliveTimer != nil {
		p.keepAliveTimer.Stop()
	}
	if s.cfg.KeepAliveInterval <= 0 {
		return
	}
	name := p.spec.Name
	p.keepAliveTimer = time.AfterFunc(s.cfg.KeepAliveInterval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.ex.submit(ctx, func() { s.sendKeepAlive(name) })
	})
}

// sendKeepAlive pings name with an empty KEY_GET, a round trip cheap enough
// to run on every tick and only useful for confirming the link is alive.
func (s *StoreDb) sendKeepAlive(name types.NodeID) {
	p, exists := s.peers[name]
	if !exists || p.state != PeerSynced || s.sendFn == nil {
		return
	}
	s.reqSeq++
	s.sendFn(name, &wire.Request{
		Kind:  wire.RequestKeyGet,
		ReqId: s.reqSeq,
		From:  string(s.cfg.NodeId),
		Area:  string(s.cfg.Area),
	})
	s.armKeepAliveTimer(p)
}

// PeerInfo is the exported snapshot of a peer's spec and sync state
// returned by DumpPeers; the peer type itself stays unexported since its
// timers/backoff schedule are executor-internal.
type PeerInfo struct {
	Spec     PeerSpec
	State    SyncState
	Sent     uint64
	Received uint64
}

// DumpPeers returns a snapshot of every known peer's spec and sync state.
func (s *StoreDb) DumpPeers(ctx context.Context) (map[types.NodeID]PeerInfo, error) {
	out := make(map[types.NodeID]PeerInfo)
	done := make(chan struct{})
	ok := s.ex.submit(ctx, func() {
		defer close(done)
		for name, p := range s.peers {
			out[name] = PeerInfo{Spec: p.spec, State: p.state, Sent: p.sent, Received: p.received}
		}
	})
	if !ok {
		return nil, errShuttingDown("dumpPeers")
	}
	select {
	case <-done:
		return out, nil
	case <-ctx.Done():
		return nil, errTimeout("dumpPeers", ctx.Err())
	}
}

// ---- dual-plane spanning tree ----

// TopoUpdateParams is updateFloodTopologyChild's input.
type TopoUpdateParams struct {
	Root     types.RootID
	Peer     types.NodeID
	SetChild bool
	AllRoots bool
}

func (s *StoreDb) UpdateFloodTopologyChild(params TopoUpdateParams) error {
	ok := s.ex.submit(context.Background(), func() {
		roots := []types.RootID{params.Root}
		if params.AllRoots {
			roots = roots[:0]
			for r := range s.trees {
				roots = append(roots, r)
			}
		}
		for _, r := range roots {
			t, exists := s.trees[r]
			if !exists {
				t = newRootTree(r, s.isDeclaredRoot(r))
				s.trees[r] = t
			}
			t.setChild(params.Peer, params.SetChild)
		}
	})
	if !ok {
		return errShuttingDown("updateFloodTopologyChild")
	}
	return nil
}

func (s *StoreDb) isDeclaredRoot(r types.RootID) bool {
	_, ok := s.sptRoots[r]
	return ok
}

// DeclareRoot marks this node as the root of r.
func (s *StoreDb) DeclareRoot(r types.RootID) {
	s.ex.submit(context.Background(), func() {
		s.sptRoots[r] = struct{}{}
		t, exists := s.trees[r]
		if !exists {
			s.trees[r] = newRootTree(r, true)
			return
		}
		t.isRoot = true
		t.distance = 0
		t.feasibleDistance = 0
	})
}

// getSpanningTreeInfo returns a snapshot of every root's tree state.
func (s *StoreDb) GetSpanningTreeInfo(ctx context.Context) ([]SptInfo, error) {
	var out []SptInfo
	done := make(chan struct{})
	ok := s.ex.submit(ctx, func() {
		defer close(done)
		for _, t := range s.trees {
			out = append(out, t.snapshot())
		}
	})
	if !ok {
		return nil, errShuttingDown("getSpanningTreeInfo")
	}
	select {
	case <-done:
		return out, nil
	case <-ctx.Done():
		return nil, errTimeout("getSpanningTreeInfo", ctx.Err())
	}
}

// processDualMessage injects DUAL protocol messages received from from,
// applying the feasibility condition and ACTIVE/PASSIVE transitions, and
// emitting the resulting DUAL reply/update messages through sendFn (no
// FLOOD_TOPO_SET request is sent from here).
func (s *StoreDb) ProcessDualMessage(from types.NodeID, msgs []DualMessage) error {
	ok := s.ex.submit(context.Background(), func() {
		for _, m := range msgs {
			t, exists := s.trees[m.Root]
			if !exists {
				t = newRootTree(m.Root, s.isDeclaredRoot(m.Root))
				s.trees[m.Root] = t
			}
			switch m.Kind {
			case dualUpdate:
				if t.acceptSuccessor(from, m.Distance) {
					s.sendDualMessage(from, DualMessage{Root: m.Root, Kind: dualReply, From: s.cfg.NodeId})
					s.propagateDistanceIncrease(m.Root, t)
				}
			case dualQuery:
				s.sendDualMessage(from, DualMessage{Root: m.Root, Kind: dualReply, From: s.cfg.NodeId, Distance: t.distance})
			case dualReply:
				t.onReply(from)
			case dualAck:
				t.onReply(from)
			}
		}
	})
	if !ok {
		return errShuttingDown("processDualMessage")
	}
	return nil
}

// propagateDistanceIncrease notifies this node's own neighbors that its
// distance to root changed, continuing the diffusing computation outward.
func (s *StoreDb) propagateDistanceIncrease(root types.RootID, t *rootTree) {
	neighbors := make([]types.NodeID, 0, len(s.peers))
	for name, p := range s.peers {
		if name != t.parent && p.state == PeerSynced {
			neighbors = append(neighbors, name)
		}
	}
	t.onDistanceIncrease(t.distance, neighbors)
	for _, n := range neighbors {
		s.sendDualMessage(n, DualMessage{Root: root, Kind: dualUpdate, From: s.cfg.NodeId, Distance: t.distance})
	}
}

func (s *StoreDb) sendDualMessage(to types.NodeID, m DualMessage) {
	if s.sendFn == nil {
		return
	}
	s.sendFn(to, &wire.Request{
		Kind: wire.RequestDual,
		From: string(s.cfg.NodeId),
		Area: string(s.cfg.Area),
		DualMessages: []wire.DualMessageWire{{
			Root:     string(m.Root),
			Kind:     int32(m.Kind),
			From:     string(m.From),
			Distance: int32(m.Distance),
		}},
	})
}

// ---- TTL sweep ----

// Start arms the TTL sweep timer and every peer's retry timer; call once
// after all initial peers (if any) have been added via addOrUpdatePeers.
func (s *StoreDb) Start() {
	s.ex.submit(context.Background(), func() {
		s.rearmTTLTimer()
		for _, p := range s.peers {
			if p.state == PeerIdle && p.nextRetryTimer == nil {
				s.armRetryTimer(p)
			}
		}
	})
}

func (s *StoreDb) rearmTTLTimer() {
	if s.ttlTimerStop != nil {
		s.ttlTimerStop()
		s.ttlTimerStop = nil
	}
	next, ok := s.expiry.nextExpiry()
	if !ok {
		return
	}
	d := time.Until(next)
	if d < 0 {
		d = 0
	}
	s.ttlTimerStop = s.ex.afterFunc(d, s.sweepExpired)
}

// sweepExpired runs on the executor: pops due heap entries, drops any that
// are stale, and deletes+publishes a deletion record for the rest.
func (s *StoreDb) sweepExpired() {
	now := time.Now()
	due := s.expiry.popExpired(now)
	var expiredKeys []types.Key
	s.mu.Lock()
	for _, e := range due {
		cur, exists := s.kv[e.key]
		if !stillLive(e, cur, exists) {
			continue
		}
		delete(s.kv, e.key)
		expiredKeys = append(expiredKeys, e.key)
	}
	s.mu.Unlock()
	if len(expiredKeys) > 0 {
		s.publish(UpdatePublication{Area: s.cfg.Area, Expired: expiredKeys})
		s.floodExpiry(expiredKeys)
	}
	s.rearmTTLTimer()
}

// floodExpiry sends an ExpiredKeys-only Publication to every peer so
// subscribers elsewhere learn of the deletion.
func (s *StoreDb) floodExpiry(keys []types.Key) {
	if s.sendFn == nil {
		return
	}
	wireKeys := make([]string, len(keys))
	for i, k := range keys {
		wireKeys[i] = string(k)
	}
	for name, p := range s.peers {
		if p.state != PeerSynced {
			continue
		}
		s.sendFn(name, &wire.Request{
			Kind: wire.RequestKeySet,
			From: string(s.cfg.NodeId),
			Area: string(s.cfg.Area),
			Publication: &wire.Publication{
				Area:        string(s.cfg.Area),
				ExpiredKeys: wireKeys,
				NodeIds:     []string{string(s.cfg.NodeId)},
			},
		})
	}
}
