package supervisor

import (
	"context"

	"github.com/routewire/kvstore/store"
	"github.com/routewire/kvstore/types"
)

// GetKeyVals implements ControlAPI.
func (s *Supervisor) GetKeyVals(ctx context.Context, area types.Area, keys []types.Key) (map[types.Key]store.Value, error) {
	sdb, err := s.area(area)
	if err != nil {
		return nil, err
	}
	s.counters.Inc("control_get_key_vals")
	return sdb.GetKeyVals(keys), nil
}

// SetKeyVals implements ControlAPI.
func (s *Supervisor) SetKeyVals(ctx context.Context, area types.Area, params []store.SetParams) error {
	sdb, err := s.area(area)
	if err != nil {
		return err
	}
	s.counters.Inc("control_set_key_vals")
	return sdb.SetKeyVals(ctx, params)
}

// DumpKvStoreKeys implements ControlAPI.
func (s *Supervisor) DumpKvStoreKeys(ctx context.Context, area types.Area, filters *store.Filters) (map[types.Key]store.Value, error) {
	sdb, err := s.area(area)
	if err != nil {
		return nil, err
	}
	s.counters.Inc("control_dump_keys")
	return sdb.DumpAllWithFilters(filters, false), nil
}

// DumpKvStoreHashes implements ControlAPI.
func (s *Supervisor) DumpKvStoreHashes(ctx context.Context, area types.Area, filters *store.Filters) (map[types.Key]store.Value, error) {
	sdb, err := s.area(area)
	if err != nil {
		return nil, err
	}
	s.counters.Inc("control_dump_hashes")
	return sdb.DumpHashWithFilters(filters), nil
}

// GetKvStorePeers implements ControlAPI.
func (s *Supervisor) GetKvStorePeers(ctx context.Context, area types.Area) (map[types.NodeID]store.PeerSpec, error) {
	sdb, err := s.area(area)
	if err != nil {
		return nil, err
	}
	infos, err := sdb.DumpPeers(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[types.NodeID]store.PeerSpec, len(infos))
	for name, info := range infos {
		out[name] = info.Spec
	}
	return out, nil
}

// AddUpdateKvStorePeers implements ControlAPI. It updates both the area's
// StoreDb (sync state machine) and the supervisor's own cmdUrl lookup
// table the sendFunc built in New uses to resolve a transport address.
func (s *Supervisor) AddUpdateKvStorePeers(ctx context.Context, area types.Area, specs map[types.NodeID]store.PeerSpec) error {
	sdb, err := s.area(area)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for name, spec := range specs {
		s.peers[area][name] = spec
	}
	s.mu.Unlock()
	s.counters.Inc("control_add_peers")
	return sdb.AddOrUpdatePeers(specs)
}

// DeleteKvStorePeers implements ControlAPI.
func (s *Supervisor) DeleteKvStorePeers(ctx context.Context, area types.Area, names []types.NodeID) error {
	sdb, err := s.area(area)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, name := range names {
		delete(s.peers[area], name)
	}
	s.mu.Unlock()
	s.counters.Inc("control_del_peers")
	return sdb.DelPeers(names)
}

// GetSpanningTreeInfos implements ControlAPI.
func (s *Supervisor) GetSpanningTreeInfos(ctx context.Context, area types.Area) ([]store.SptInfo, error) {
	sdb, err := s.area(area)
	if err != nil {
		return nil, err
	}
	s.counters.Inc("control_get_spt_infos")
	return sdb.GetSpanningTreeInfo(ctx)
}

// UpdateFloodTopologyChild implements ControlAPI.
func (s *Supervisor) UpdateFloodTopologyChild(ctx context.Context, area types.Area, params store.TopoUpdateParams) error {
	sdb, err := s.area(area)
	if err != nil {
		return err
	}
	s.counters.Inc("control_update_topo")
	return sdb.UpdateFloodTopologyChild(params)
}

// ProcessKvStoreDualMessage implements ControlAPI.
func (s *Supervisor) ProcessKvStoreDualMessage(ctx context.Context, area types.Area, msgs []store.DualMessage) error {
	sdb, err := s.area(area)
	if err != nil {
		return err
	}
	s.counters.Inc("control_dual_msg")
	from := types.NodeID("")
	if len(msgs) > 0 {
		from = msgs[0].From
	}
	return sdb.ProcessDualMessage(from, msgs)
}

// GetCounters implements ControlAPI.
func (s *Supervisor) GetCounters() map[string]uint64 {
	return s.counters.Snapshot()
}
