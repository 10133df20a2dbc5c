package store

import (
	"context"
	"time"

	"github.com/routewire/kvstore/types"
	"github.com/routewire/kvstore/wire"
)

// armRetryTimer arms p's IDLE->INITIALIZED timer. Must run on the
// executor goroutine. The timer fires after p's backoff delay if p
// previously errored, or immediately (via a zero first backoff) the first
// time a peer is added.
func (s *StoreDb) armRetryTimer(p *peer) {
	delay := time.Duration(0)
	if !p.lastSyncStarted.IsZero() {
		// not the first attempt for this peer: apply the backoff schedule.
		delay = p.nextBackoff()
	}
	name := p.spec.Name
	p.nextRetryTimer = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.ex.submit(ctx, func() { s.beginInitSync(name) })
	})
}

// beginInitSync starts the three-way sync's first step: send p our own
// hash-only dump so it can compute the delta in both directions. No-ops if p
// has since been removed - timers re-resolve peers by name and no-op if
// missing.
func (s *StoreDb) beginInitSync(name types.NodeID) {
	p, exists := s.peers[name]
	if !exists {
		return
	}
	p.beginInit()
	if s.sendFn == nil {
		return
	}
	s.reqSeq++
	hashes := s.DumpHashWithFilters(s.importFilters())
	s.sendFn(name, &wire.Request{
		Kind:        wire.RequestHashDump,
		ReqId:       s.reqSeq,
		From:        string(s.cfg.NodeId),
		Area:        string(s.cfg.Area),
		Publication: s.publicationFor(hashes),
		DumpParams: &wire.KeyDumpParams{
			Prefixes:          s.cfg.KeyPrefixFilters,
			DoNotPublishValue: true,
		},
	})
}

// onTransportError moves p to IDLE, stops its keep-alive timer and re-arms
// its retry timer with the next backoff delay. It does not touch the
// transport's cached connection.
func (s *StoreDb) onTransportError(name types.NodeID) {
	p, exists := s.peers[name]
	if !exists {
		return
	}
	if p.apply(eventTransportError) {
		if p.keepAliveTimer != nil {
			p.keepAliveTimer.Stop()
		}
		s.armRetryTimer(p)
	}
}

// HandleRequest dispatches one inbound wire.Request from a peer, returning
// the Response to send back (nil for requests that have no reply, e.g. a
// steady-state flood). This is the single entry point the supervisor's
// transport handler calls; all mutation happens via the executor.
func (s *StoreDb) HandleRequest(ctx context.Context, from types.NodeID, req *wire.Request) *wire.Response {
	respCh := make(chan *wire.Response, 1)
	ok := s.ex.submit(ctx, func() {
		respCh <- s.dispatchRequest(from, req)
	})
	if !ok {
		return s.stampResponse(&wire.Response{ReqId: req.ReqId, Ok: false, Err: "SHUTTING_DOWN"})
	}
	select {
	case resp := <-respCh:
		return s.stampResponse(resp)
	case <-ctx.Done():
		return s.stampResponse(&wire.Response{ReqId: req.ReqId, Ok: false, Err: "TIMEOUT"})
	}
}

// stampResponse fills in the responder identity every outbound Response
// needs so the recipient's transport can route it back to the right area
// and peer. nil passes through unchanged (requests with no reply, e.g. a
// steady-state flood).
func (s *StoreDb) stampResponse(r *wire.Response) *wire.Response {
	if r == nil {
		return nil
	}
	r.From = string(s.cfg.NodeId)
	r.Area = string(s.cfg.Area)
	return r
}

// HandleResponse applies an inbound wire.Response from a peer: merges
// whatever records it carries, advances the peer's sync state on a
// successful three-way sync reply, and sends back any keys the peer
// reported missing in its own reply. This is the entry point the
// supervisor's transport handler calls for a decoded Response, mirroring
// HandleRequest for the request side.
func (s *StoreDb) HandleResponse(from types.NodeID, resp *wire.Response) {
	if resp == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.ex.submit(ctx, func() {
		s.applySyncResponse(from, resp)
	})
}

// applySyncResponse must run on the executor goroutine.
func (s *StoreDb) applySyncResponse(from types.NodeID, resp *wire.Response) {
	p, exists := s.peers[from]
	if !exists {
		return
	}
	now := time.Now()
	if resp.Publication != nil && len(resp.Publication.KeyVals) > 0 {
		incoming := make(map[types.Key]Value, len(resp.Publication.KeyVals))
		for k, vw := range resp.Publication.KeyVals {
			incoming[types.Key(k)] = valueFromWire(vw, now)
		}
		s.applyMerge(now, incoming, from)
	}
	if p.apply(eventSyncRespRcvd) {
		s.armKeepAliveTimer(p)
	}
	if resp.Publication != nil && len(resp.Publication.TobeUpdatedKeys) > 0 {
		s.sendRequestedKeys(p, resp.Publication.TobeUpdatedKeys)
	}
}

// sendRequestedKeys looks up keys locally and sends them directly to p,
// fulfilling three-way sync's step 3: what p reported missing (as
// TobeUpdatedKeys) in its hash-dump response.
func (s *StoreDb) sendRequestedKeys(p *peer, keys []string) {
	s.mu.RLock()
	vals := make(map[types.Key]Value, len(keys))
	for _, k := range keys {
		if v, ok := s.kv[types.Key(k)]; ok {
			vals[types.Key(k)] = v
		}
	}
	s.mu.RUnlock()
	if len(vals) == 0 {
		return
	}
	s.sendPublicationTo(p, vals, "")
}

// dispatchRequest must run on the executor goroutine.
func (s *StoreDb) dispatchRequest(from types.NodeID, req *wire.Request) *wire.Response {
	switch req.Kind {
	case wire.RequestKeyGet:
		keys := make([]types.Key, len(req.Keys))
		for i, k := range req.Keys {
			keys[i] = types.Key(k)
		}
		return &wire.Response{ReqId: req.ReqId, Ok: true, Publication: s.publicationFor(s.GetKeyVals(keys))}

	case wire.RequestKeySet:
		s.handleIncomingPublication(from, req.Publication)
		return nil

	case wire.RequestKeyDump:
		filters := filtersFromWire(req.DumpParams)
		omit := req.DumpParams != nil && req.DumpParams.DoNotPublishValue
		return &wire.Response{ReqId: req.ReqId, Ok: true, Publication: s.publicationFor(s.DumpAllWithFilters(filters, omit))}

	case wire.RequestHashDump:
		return s.handleHashDumpRequest(from, req)

	case wire.RequestDual:
		msgs := make([]DualMessage, len(req.DualMessages))
		for i, m := range req.DualMessages {
			msgs[i] = DualMessage{Root: types.RootID(m.Root), Kind: dualMessageKind(m.Kind), From: types.NodeID(m.From), Distance: int(m.Distance)}
		}
		s.dualMessageLocked(from, msgs)
		return nil

	case wire.RequestFloodTopoSet:
		if req.TopoSet != nil {
			s.updateFloodTopologyChildLocked(TopoUpdateParams{
				Root:     types.RootID(req.TopoSet.Root),
				Peer:     from,
				SetChild: req.TopoSet.SetChild,
				AllRoots: req.TopoSet.AllRoots,
			})
		}
		return nil
	}
	return &wire.Response{ReqId: req.ReqId, Ok: false, Err: "INVALID_ARGUMENT"}
}

// handleHashDumpRequest is the responder's side of three-way sync step
// 1->2: compute the delta against the initiator's hash-only
// view, reply with the initiator's missing/stale records in full, and list
// the keys we lack or hold stale as TobeUpdatedKeys so the initiator sends
// them (step 3, see applySyncResponse). The same keys are recorded in the
// peer's pendingInitKeys.
func (s *StoreDb) handleHashDumpRequest(from types.NodeID, req *wire.Request) *wire.Response {
	theirs := make(map[types.Key]Value)
	if req.Publication != nil {
		for k, vw := range req.Publication.KeyVals {
			theirs[types.Key(k)] = valueFromWire(vw, time.Now())
		}
	}
	// needFromThem: their version dominates ours or we lack the key - ask
	// for these via TobeUpdatedKeys.
	// needFromUs: our version dominates - send these back now, in full.
	needFromThem, needFromUs := s.DumpDifference(theirs)
	if p, exists := s.peers[from]; exists {
		for k := range needFromThem {
			p.pendingInitKeys[k] = struct{}{}
		}
	}
	pub := s.publicationFor(needFromUs)
	if len(needFromThem) > 0 {
		pub.TobeUpdatedKeys = make([]string, 0, len(needFromThem))
		for k := range needFromThem {
			pub.TobeUpdatedKeys = append(pub.TobeUpdatedKeys, string(k))
		}
	}
	return &wire.Response{ReqId: req.ReqId, Ok: true, Publication: pub}
}

func filtersFromWire(d *wire.KeyDumpParams) *Filters {
	if d == nil {
		return nil
	}
	f := &Filters{Prefixes: d.Prefixes, Operator: FilterOp(d.Operator)}
	if len(d.OriginatorIds) > 0 {
		f.OriginatorIds = make(map[types.NodeID]struct{}, len(d.OriginatorIds))
		for _, o := range d.OriginatorIds {
			f.OriginatorIds[types.NodeID(o)] = struct{}{}
		}
	}
	return f
}

func (s *StoreDb) publicationFor(vals map[types.Key]Value) *wire.Publication {
	kv := make(map[string]wire.ValueWire, len(vals))
	for k, v := range vals {
		kv[string(k)] = valueToWire(v)
	}
	return &wire.Publication{Area: string(s.cfg.Area), KeyVals: kv, NodeIds: []string{string(s.cfg.NodeId)}}
}

// handleIncomingPublication merges a received Publication (flood or sync
// reply) into the local store and, on a clean merge, advances the sending
// peer's state machine and forwards the change onward. TTL decrement and
// drop happens before merge so stale,
// looping records die here rather than being merged then re-floodable.
func (s *StoreDb) handleIncomingPublication(from types.NodeID, pub *wire.Publication) {
	if pub == nil {
		return
	}
	now := time.Now()
	incoming := make(map[types.Key]Value, len(pub.KeyVals))
	for k, vw := range pub.KeyVals {
		v := valueFromWire(vw, now)
		if !isInfinite(v) {
			v.Ttl -= s.cfg.TTLDecrement
			if v.Ttl <= 0 {
				continue // decremented past zero: drop rather than forward
			}
		}
		incoming[types.Key(k)] = v
	}
	for _, k := range pub.ExpiredKeys {
		s.mu.Lock()
		delete(s.kv, types.Key(k))
		s.mu.Unlock()
	}
	if p, exists := s.peers[from]; exists {
		if p.apply(eventSyncRespRcvd) {
			s.flushPendingInitKeys(p)
			s.armKeepAliveTimer(p)
		}
	}
	if len(incoming) > 0 {
		s.applyMerge(now, incoming, from)
	}
	if len(pub.ExpiredKeys) > 0 {
		expired := make([]types.Key, len(pub.ExpiredKeys))
		for i, k := range pub.ExpiredKeys {
			expired[i] = types.Key(k)
		}
		s.publish(UpdatePublication{Area: s.cfg.Area, Expired: expired})
	}
}

// flushPendingInitKeys runs when a publication from p moves it to SYNCED
// (SYNC_RESP_RCVD): it sends p our current copies of the keys recorded in
// pendingInitKeys while answering p's hash dump (keys that dump showed p
// holding newer than us or alone), skipping keys we hold no copy of, and
// clears the set.
func (s *StoreDb) flushPendingInitKeys(p *peer) {
	if len(p.pendingInitKeys) == 0 {
		return
	}
	keys := make(map[types.Key]Value, len(p.pendingInitKeys))
	s.mu.RLock()
	for k := range p.pendingInitKeys {
		if v, ok := s.kv[k]; ok {
			keys[k] = v
		}
	}
	s.mu.RUnlock()
	p.pendingInitKeys = make(map[types.Key]struct{})
	if len(keys) == 0 {
		return
	}
	s.sendPublicationTo(p, keys, "")
}

// dualMessageLocked/updateFloodTopologyChildLocked let dispatchRequest
// (already on the executor) reuse processDualMessage/
// updateFloodTopologyChild's bodies without re-entering the executor.
func (s *StoreDb) dualMessageLocked(from types.NodeID, msgs []DualMessage) {
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
		case dualReply, dualAck:
			t.onReply(from)
		}
	}
}

func (s *StoreDb) updateFloodTopologyChildLocked(params TopoUpdateParams) {
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
}
