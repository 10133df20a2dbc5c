package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRequiresNodeId(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected an error when node_id is unset and no config file given")
	}
}

func TestLoadDefaultsToOneAreaNamedDefault(t *testing.T) {
	t.Setenv("KVSTORED_NODE_ID", "n1")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Areas) != 1 || cfg.Areas[0].AreaId != "default" {
		t.Fatalf("expected a single default area, got %+v", cfg.Areas)
	}
	if cfg.SyncIntervalS != 30 {
		t.Fatalf("expected the default sync interval of 30s, got %d", cfg.SyncIntervalS)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kvstored.yaml")
	contents := `
node_id: n1
listen_addr: ":7000"
areas:
  - area_id: area1
    is_flood_root: true
    key_prefix_filters: ["foo/"]
flood_rate:
  rate_per_second: 50
  burst: 10
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NodeId != "n1" || cfg.ListenAddr != ":7000" {
		t.Fatalf("unexpected top-level fields: %+v", cfg)
	}
	if len(cfg.Areas) != 1 || cfg.Areas[0].AreaId != "area1" || !cfg.Areas[0].IsFloodRoot {
		t.Fatalf("unexpected areas: %+v", cfg.Areas)
	}
	if cfg.Areas[0].KeyPrefixFilters[0] != "foo/" {
		t.Fatalf("unexpected key prefix filters: %+v", cfg.Areas[0].KeyPrefixFilters)
	}
	if cfg.FloodRate.RatePerSecond != 50 || cfg.FloodRate.Burst != 10 {
		t.Fatalf("unexpected flood rate: %+v", cfg.FloodRate)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kvstored.yaml")
	if err := os.WriteFile(path, []byte("node_id: from-file\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("KVSTORED_NODE_ID", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NodeId != "from-env" {
		t.Fatalf("expected env var to override file value, got %q", cfg.NodeId)
	}
}

func TestKeyTTLZeroMeansInfinite(t *testing.T) {
	cfg := &Config{KeyTTLMs: 0}
	if cfg.KeyTTL() != -1 {
		t.Fatalf("expected KeyTTLMs=0 to resolve to InfiniteTTL's -1 sentinel, got %v", cfg.KeyTTL())
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := &Config{
		SyncIntervalS:      10,
		TTLDecrementMs:     2,
		BackoffInitialMs:   100,
		BackoffMaxMs:       5000,
		KeepAliveIntervalS: 20,
	}
	if cfg.SyncInterval() != 10*time.Second {
		t.Fatalf("unexpected SyncInterval: %v", cfg.SyncInterval())
	}
	if cfg.TTLDecrement() != 2*time.Millisecond {
		t.Fatalf("unexpected TTLDecrement: %v", cfg.TTLDecrement())
	}
	if cfg.BackoffInitial() != 100*time.Millisecond {
		t.Fatalf("unexpected BackoffInitial: %v", cfg.BackoffInitial())
	}
	if cfg.BackoffMax() != 5*time.Second {
		t.Fatalf("unexpected BackoffMax: %v", cfg.BackoffMax())
	}
	if cfg.KeepAliveInterval() != 20*time.Second {
		t.Fatalf("unexpected KeepAliveInterval: %v", cfg.KeepAliveInterval())
	}
}
