package store

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/routewire/kvstore/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestStoreDb(t *testing.T, area types.Area, nodeID types.NodeID) *StoreDb {
	t.Helper()
	cfg := DefaultConfig(area, nodeID)
	s := NewStoreDb(cfg)
	s.Start()
	t.Cleanup(s.Close)
	return s
}

func TestSetKeyValsThenGetKeyVals(t *testing.T) {
	s := newTestStoreDb(t, "default", "n1")
	ctx := context.Background()

	if err := s.SetKeyVals(ctx, []SetParams{{Key: "alpha", Value: []byte("v"), Version: 1, Ttl: InfiniteTTL}}); err != nil {
		t.Fatalf("SetKeyVals: %v", err)
	}

	got := s.GetKeyVals([]types.Key{"alpha", "missing"})
	if len(got) != 1 {
		t.Fatalf("expected exactly one key present, got %d", len(got))
	}
	if string(got["alpha"].Value) != "v" {
		t.Fatalf("unexpected value %q", got["alpha"].Value)
	}
}

func TestSetKeyValsRejectsEmptyKey(t *testing.T) {
	s := newTestStoreDb(t, "default", "n1")
	err := s.SetKeyVals(context.Background(), []SetParams{{Key: "", Value: []byte("v"), Version: 1}})
	if err == nil {
		t.Fatalf("expected an error for an empty key")
	}
}

func TestSetKeyValsRejectsEmptyBatch(t *testing.T) {
	s := newTestStoreDb(t, "default", "n1")
	if err := s.SetKeyVals(context.Background(), nil); err == nil {
		t.Fatalf("expected an error for an empty batch")
	}
}

func TestTTLRefreshOnlyBumpsTtlVersion(t *testing.T) {
	s := newTestStoreDb(t, "default", "n1")
	ctx := context.Background()
	if err := s.SetKeyVals(ctx, []SetParams{{Key: "alpha", Value: []byte("v"), Version: 1, Ttl: time.Minute}}); err != nil {
		t.Fatalf("SetKeyVals: %v", err)
	}
	if err := s.SetKeyVals(ctx, []SetParams{{Key: "alpha", TTLRefreshOnly: true, Ttl: 2 * time.Minute}}); err != nil {
		t.Fatalf("ttl refresh: %v", err)
	}
	got := s.GetKeyVals([]types.Key{"alpha"})
	if got["alpha"].TtlVersion != 1 {
		t.Fatalf("expected ttlVersion to bump to 1 on refresh, got %d", got["alpha"].TtlVersion)
	}
	if string(got["alpha"].Value) != "v" {
		t.Fatalf("ttl-only refresh must not disturb the value body")
	}
}

func TestTTLRefreshOnlyUnknownKeyFails(t *testing.T) {
	s := newTestStoreDb(t, "default", "n1")
	err := s.SetKeyVals(context.Background(), []SetParams{{Key: "nope", TTLRefreshOnly: true, Ttl: time.Minute}})
	if err == nil {
		t.Fatalf("expected an error refreshing the ttl of an unknown key")
	}
}

func TestDumpAllWithFiltersOmitsValueForHashDump(t *testing.T) {
	s := newTestStoreDb(t, "default", "n1")
	ctx := context.Background()
	if err := s.SetKeyVals(ctx, []SetParams{{Key: "alpha", Value: []byte("v"), Version: 1, Ttl: InfiniteTTL}}); err != nil {
		t.Fatalf("SetKeyVals: %v", err)
	}
	dump := s.DumpHashWithFilters(nil)
	v, ok := dump["alpha"]
	if !ok {
		t.Fatalf("expected alpha to be present in the hash dump")
	}
	if v.Value != nil {
		t.Fatalf("expected the hash dump to omit the value body")
	}
	if v.Hash == 0 {
		t.Fatalf("expected a non-zero hash in the hash dump")
	}
}

func TestDumpDifference(t *testing.T) {
	s := newTestStoreDb(t, "default", "n1")
	ctx := context.Background()
	if err := s.SetKeyVals(ctx, []SetParams{
		{Key: "ours-newer", Value: []byte("v2"), Version: 2, Ttl: InfiniteTTL},
		{Key: "theirs-newer", Value: []byte("v1"), Version: 1, Ttl: InfiniteTTL},
	}); err != nil {
		t.Fatalf("SetKeyVals: %v", err)
	}

	theirs := map[types.Key]Value{
		"ours-newer":   {Version: 1, OriginatorId: "n1", Hash: ComputeHash(1, "n1", nil)},
		"theirs-newer": {Version: 5, OriginatorId: "n2", Hash: ComputeHash(5, "n2", []byte("newer"))},
		"only-theirs":  {Version: 1, OriginatorId: "n2", Hash: ComputeHash(1, "n2", []byte("x"))},
	}
	needFromThem, needFromUs := s.DumpDifference(theirs)

	if _, ok := needFromThem["theirs-newer"]; !ok {
		t.Fatalf("expected theirs-newer (their version dominates) in needFromThem")
	}
	if _, ok := needFromThem["only-theirs"]; !ok {
		t.Fatalf("expected a key we don't have at all in needFromThem")
	}
	if _, ok := needFromUs["ours-newer"]; !ok {
		t.Fatalf("expected ours-newer (our version dominates) in needFromUs")
	}
}

func TestSweepExpiredRemovesStaleEntry(t *testing.T) {
	s := newTestStoreDb(t, "default", "n1")
	ctx := context.Background()
	if err := s.SetKeyVals(ctx, []SetParams{{Key: "alpha", Value: []byte("v"), Version: 1, Ttl: 10 * time.Millisecond}}); err != nil {
		t.Fatalf("SetKeyVals: %v", err)
	}
	if got := s.GetKeyVals([]types.Key{"alpha"}); len(got) != 1 {
		t.Fatalf("expected alpha to be present immediately after set")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := s.GetKeyVals([]types.Key{"alpha"}); len(got) == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected alpha to expire and be swept within the deadline")
}

func TestAddOrUpdatePeersThenDumpPeers(t *testing.T) {
	s := newTestStoreDb(t, "default", "n1")
	if err := s.AddOrUpdatePeers(map[types.NodeID]PeerSpec{"n2": {Name: "n2", CmdUrl: "n2"}}); err != nil {
		t.Fatalf("AddOrUpdatePeers: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	peers, err := s.DumpPeers(ctx)
	if err != nil {
		t.Fatalf("DumpPeers: %v", err)
	}
	info, ok := peers["n2"]
	if !ok {
		t.Fatalf("expected n2 to be present in the peer dump")
	}
	if info.Spec.CmdUrl != "n2" {
		t.Fatalf("unexpected peer spec: %+v", info.Spec)
	}
}

func TestAddOrUpdatePeersIgnoresReconnect(t *testing.T) {
	s := newTestStoreDb(t, "default", "n1")
	if err := s.AddOrUpdatePeers(map[types.NodeID]PeerSpec{"n2": {Name: "n2", CmdUrl: "first"}}); err != nil {
		t.Fatalf("AddOrUpdatePeers: %v", err)
	}
	if err := s.AddOrUpdatePeers(map[types.NodeID]PeerSpec{"n2": {Name: "n2", CmdUrl: "second"}}); err != nil {
		t.Fatalf("AddOrUpdatePeers (reconnect): %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	peers, err := s.DumpPeers(ctx)
	if err != nil {
		t.Fatalf("DumpPeers: %v", err)
	}
	if peers["n2"].Spec.CmdUrl != "first" {
		t.Fatalf("expected a reconnect with the same name to leave the existing peer record alone, got %+v", peers["n2"].Spec)
	}
}

func TestDelPeersRemovesPeer(t *testing.T) {
	s := newTestStoreDb(t, "default", "n1")
	if err := s.AddOrUpdatePeers(map[types.NodeID]PeerSpec{"n2": {Name: "n2", CmdUrl: "n2"}}); err != nil {
		t.Fatalf("AddOrUpdatePeers: %v", err)
	}
	if err := s.DelPeers([]types.NodeID{"n2"}); err != nil {
		t.Fatalf("DelPeers: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	peers, err := s.DumpPeers(ctx)
	if err != nil {
		t.Fatalf("DumpPeers: %v", err)
	}
	if _, ok := peers["n2"]; ok {
		t.Fatalf("expected n2 to be removed after DelPeers")
	}
}

func TestDeclareRootAndSpanningTreeInfo(t *testing.T) {
	s := newTestStoreDb(t, "default", "n1")
	s.DeclareRoot("root1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	infos, err := s.GetSpanningTreeInfo(ctx)
	if err != nil {
		t.Fatalf("GetSpanningTreeInfo: %v", err)
	}
	if len(infos) != 1 || !infos[0].IsRoot || infos[0].Distance != 0 {
		t.Fatalf("expected a single root-declared tree at distance 0, got %+v", infos)
	}
}

func TestUpdateFloodTopologyChild(t *testing.T) {
	s := newTestStoreDb(t, "default", "n1")
	if err := s.UpdateFloodTopologyChild(TopoUpdateParams{Root: "root1", Peer: "n2", SetChild: true}); err != nil {
		t.Fatalf("UpdateFloodTopologyChild: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	infos, err := s.GetSpanningTreeInfo(ctx)
	if err != nil {
		t.Fatalf("GetSpanningTreeInfo: %v", err)
	}
	if len(infos) != 1 || len(infos[0].Children) != 1 || infos[0].Children[0] != "n2" {
		t.Fatalf("expected n2 to be registered as a child of root1, got %+v", infos)
	}
}

func TestProcessDualMessageAcceptsSuccessor(t *testing.T) {
	s := newTestStoreDb(t, "default", "n1")
	if err := s.ProcessDualMessage("n2", []DualMessage{{Root: "root1", Kind: dualUpdate, From: "n2", Distance: 1}}); err != nil {
		t.Fatalf("ProcessDualMessage: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	infos, err := s.GetSpanningTreeInfo(ctx)
	if err != nil {
		t.Fatalf("GetSpanningTreeInfo: %v", err)
	}
	if len(infos) != 1 || infos[0].Parent != "n2" || infos[0].Distance != 2 {
		t.Fatalf("expected to accept n2 as parent at distance 2, got %+v", infos)
	}
}
