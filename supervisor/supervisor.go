// Package supervisor owns one store.StoreDb per area, wires them to a
// netx.Transport, dispatches inbound peer traffic, and exposes the
// area-scoped Control API an external RPC layer is expected to sit on top
// of.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/routewire/kvstore/config"
	"github.com/routewire/kvstore/netx"
	"github.com/routewire/kvstore/store"
	"github.com/routewire/kvstore/types"
	"github.com/routewire/kvstore/wire"
)

// ControlAPI is the method set an external RPC layer is expected to call
// into, each call area-scoped.
type ControlAPI interface {
	GetKeyVals(ctx context.Context, area types.Area, keys []types.Key) (map[types.Key]store.Value, error)
	SetKeyVals(ctx context.Context, area types.Area, params []store.SetParams) error
	DumpKvStoreKeys(ctx context.Context, area types.Area, filters *store.Filters) (map[types.Key]store.Value, error)
	DumpKvStoreHashes(ctx context.Context, area types.Area, filters *store.Filters) (map[types.Key]store.Value, error)
	GetKvStorePeers(ctx context.Context, area types.Area) (map[types.NodeID]store.PeerSpec, error)
	AddUpdateKvStorePeers(ctx context.Context, area types.Area, specs map[types.NodeID]store.PeerSpec) error
	DeleteKvStorePeers(ctx context.Context, area types.Area, names []types.NodeID) error
	GetSpanningTreeInfos(ctx context.Context, area types.Area) ([]store.SptInfo, error)
	UpdateFloodTopologyChild(ctx context.Context, area types.Area, params store.TopoUpdateParams) error
	ProcessKvStoreDualMessage(ctx context.Context, area types.Area, msgs []store.DualMessage) error
	GetCounters() map[string]uint64
}

// PeerEvent is what a link-monitor feeds the supervisor when it discovers
// or loses a neighbor.
type PeerEvent struct {
	Area   types.Area
	Add    bool
	Name   types.NodeID
	Spec   store.PeerSpec
}

// Supervisor implements ControlAPI over a set of per-area StoreDbs.
type Supervisor struct {
	nodeId    types.NodeID
	transport netx.Transport
	codec     wire.Codec
	counters  *Counters

	mu    sync.RWMutex
	areas map[types.Area]*store.StoreDb
	peers map[types.Area]map[types.NodeID]store.PeerSpec // cmdUrl lookup for sendFunc

	broadcaster *Broadcaster
}

// New builds a Supervisor with one StoreDb per AreaConfig entry, wires each
// to transport via codec, and starts listening.
func New(cfg *config.Config, transport netx.Transport, codec wire.Codec) (*Supervisor, error) {
	s := &Supervisor{
		nodeId:      types.NodeID(cfg.NodeId),
		transport:   transport,
		codec:       codec,
		counters:    NewCounters(),
		areas:       make(map[types.Area]*store.StoreDb),
		peers:       make(map[types.Area]map[types.NodeID]store.PeerSpec),
		broadcaster: NewBroadcaster(),
	}
	for _, ac := range cfg.Areas {
		area := types.Area(ac.AreaId)
		sc := store.DefaultConfig(area, s.nodeId)
		sc.KeyTTL = cfg.KeyTTL()
		sc.SyncInterval = cfg.SyncInterval()
		sc.TTLDecrement = cfg.TTLDecrement()
		sc.FloodRate = store.FloodRateConfig{RatePerSecond: cfg.FloodRate.RatePerSecond, Burst: cfg.FloodRate.Burst}
		sc.Backoff = store.BackoffConfig{Initial: cfg.BackoffInitial(), Max: cfg.BackoffMax(), Multiplier: cfg.BackoffMultiplier}
		sc.KeepAliveInterval = cfg.KeepAliveInterval()
		sc.EnableFloodOptimization = cfg.EnableFloodOptimization
		sc.IsFloodRoot = ac.IsFloodRoot
		sc.KeyPrefixFilters = ac.KeyPrefixFilters
		for _, o := range ac.OriginatorIdFilters {
			sc.OriginatorIdFilters = append(sc.OriginatorIdFilters, types.NodeID(o))
		}

		sdb := store.NewStoreDb(sc)
		sdb.SetTransport(s.sendFuncFor(area))
		updates := make(chan store.UpdatePublication, 256)
		sdb.Subscribe(updates)
		go s.pumpUpdates(area, updates)

		s.areas[area] = sdb
		s.peers[area] = make(map[types.NodeID]store.PeerSpec)
		if ac.IsFloodRoot {
			sdb.DeclareRoot(types.RootID(s.nodeId))
		}
		sdb.Start()
	}

	if err := transport.Listen(cfg.ListenAddr, s.handleInbound); err != nil {
		return nil, fmt.Errorf("supervisor: listen %s: %w", cfg.ListenAddr, err)
	}
	return s, nil
}

// Every frame this supervisor puts on the wire carries a one-byte tag ahead
// of the codec payload, distinguishing a request from a reply. Without it, a
// Response arriving at the node that sent the original Request would be
// mis-decoded as a fresh Request: the two message kinds assign their own
// field numbers independently, and Response.Publication happens to share a
// field number with Request.Area.
const (
	frameRequest  byte = 0
	frameResponse byte = 1
)

func tagFrame(tag byte, payload []byte) []byte {
	out := make([]byte, len(payload)+1)
	out[0] = tag
	copy(out[1:], payload)
	return out
}

// sendFuncFor builds the sendFunc a StoreDb uses to put a wire.Request on
// the network: look up the peer's transport address, encode, send. Kept at
// the supervisor so store/ never imports netx or wire's codec.
func (s *Supervisor) sendFuncFor(area types.Area) func(to types.NodeID, req *wire.Request) {
	return func(to types.NodeID, req *wire.Request) {
		s.mu.RLock()
		spec, ok := s.peers[area][to]
		s.mu.RUnlock()
		if !ok {
			s.counters.Inc("send_unknown_peer")
			return
		}
		b, err := s.codec.EncodeRequest(req)
		if err != nil {
			s.counters.Inc("encode_error")
			return
		}
		if err := s.transport.Send(spec.CmdUrl, tagFrame(frameRequest, b)); err != nil {
			s.counters.Inc("send_error")
		} else {
			s.counters.Inc("sent")
		}
	}
}

// handleInbound is the netx.MessageHandler wired into Listen: strip the
// frame tag and route to the request or response path.
func (s *Supervisor) handleInbound(from string, data []byte) {
	if len(data) == 0 {
		s.counters.Inc("decode_error")
		return
	}
	tag, body := data[0], data[1:]
	if tag == frameResponse {
		s.handleInboundResponse(body)
		return
	}
	s.handleInboundRequest(from, body)
}

// handleInboundRequest decodes a Request, dispatches it to the named area's
// StoreDb, and sends any reply back tagged as a response.
func (s *Supervisor) handleInboundRequest(from string, data []byte) {
	req, err := s.codec.DecodeRequest(data)
	if err != nil {
		s.counters.Inc("decode_error")
		return
	}
	s.mu.RLock()
	sdb, ok := s.areas[types.Area(req.Area)]
	s.mu.RUnlock()
	if !ok {
		s.counters.Inc("unknown_area")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp := sdb.HandleRequest(ctx, types.NodeID(req.From), req)
	if resp == nil {
		s.counters.Inc("received")
		return
	}
	s.counters.Inc("received")
	b, err := s.codec.EncodeResponse(resp)
	if err != nil {
		s.counters.Inc("encode_error")
		return
	}
	if err := s.transport.Send(from, tagFrame(frameResponse, b)); err != nil {
		s.counters.Inc("send_error")
	}
}

// handleInboundResponse decodes a Response and routes it to the area/peer it
// came from, so the initiator of a sync handshake (or keep-alive ping)
// actually sees the reply instead of it being silently dropped.
func (s *Supervisor) handleInboundResponse(data []byte) {
	resp, err := s.codec.DecodeResponse(data)
	if err != nil {
		s.counters.Inc("decode_error")
		return
	}
	s.mu.RLock()
	sdb, ok := s.areas[types.Area(resp.Area)]
	s.mu.RUnlock()
	if !ok {
		s.counters.Inc("unknown_area")
		return
	}
	sdb.HandleResponse(types.NodeID(resp.From), resp)
	s.counters.Inc("received")
}

func (s *Supervisor) pumpUpdates(area types.Area, updates <-chan store.UpdatePublication) {
	for up := range updates {
		s.broadcaster.Publish(area, up)
	}
}

func (s *Supervisor) area(area types.Area) (*store.StoreDb, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sdb, ok := s.areas[area]
	if !ok {
		return nil, fmt.Errorf("supervisor: unknown area %q", area)
	}
	return sdb, nil
}

// Subscribe returns a channel carrying every UpdatePublication across every
// area.
func (s *Supervisor) Subscribe() <-chan store.UpdatePublication {
	return s.broadcaster.Subscribe()
}

func (s *Supervisor) Close() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sdb := range s.areas {
		sdb.Close()
	}
	_ = s.transport.Close()
	s.broadcaster.Close()
}
