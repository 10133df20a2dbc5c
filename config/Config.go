// Package config loads kvstored's configuration from an optional file and
// KVSTORED_-prefixed environment variables (an environment variable wins
// over the file) into a typed Config.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// AreaConfig is one area's import policy and per-area overrides.
type AreaConfig struct {
	AreaId              string   `mapstructure:"area_id"`
	KeyPrefixFilters    []string `mapstructure:"key_prefix_filters"`
	OriginatorIdFilters []string `mapstructure:"originator_id_filters"`
	IsFloodRoot         bool     `mapstructure:"is_flood_root"`
}

// FloodRateConfig is the token-bucket rate/burst pair.
type FloodRateConfig struct {
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// Config is the fully-resolved set of runtime knobs kvstored accepts.
type Config struct {
	NodeId                 string        `mapstructure:"node_id"`
	Areas                  []AreaConfig  `mapstructure:"areas"`
	KeyTTLMs               int64         `mapstructure:"key_ttl_ms"`
	SyncIntervalS           int          `mapstructure:"sync_interval_s"`
	TTLDecrementMs          int64        `mapstructure:"ttl_decrement_ms"`
	KeepAliveIntervalS      int          `mapstructure:"keep_alive_interval_s"`
	FloodRate               FloodRateConfig `mapstructure:"flood_rate"`
	EnableFloodOptimization bool         `mapstructure:"enable_flood_optimization"`
	EnableThriftDualMsg     bool         `mapstructure:"enable_thrift_dual_msg"`
	ZmqHwm                  int          `mapstructure:"zmq_hwm"`
	IpTos                   int          `mapstructure:"ip_tos"` // 0 == unset

	BackoffInitialMs    int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs        int     `mapstructure:"backoff_max_ms"`
	BackoffMultiplier   float64 `mapstructure:"backoff_multiplier"`

	ListenAddr string `mapstructure:"listen_addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("node_id", "") // registers the key so KVSTORED_NODE_ID alone reaches Unmarshal
	v.SetDefault("key_ttl_ms", 0) // 0 resolves to InfiniteTTL at load time, see KeyTTL()
	v.SetDefault("sync_interval_s", 30)
	v.SetDefault("ttl_decrement_ms", 1)
	v.SetDefault("keep_alive_interval_s", 15)
	v.SetDefault("flood_rate.rate_per_second", 100.0)
	v.SetDefault("flood_rate.burst", 50)
	v.SetDefault("enable_flood_optimization", false)
	v.SetDefault("enable_thrift_dual_msg", false)
	v.SetDefault("zmq_hwm", 1000)
	v.SetDefault("ip_tos", 0)
	v.SetDefault("backoff_initial_ms", 500)
	v.SetDefault("backoff_max_ms", 30000)
	v.SetDefault("backoff_multiplier", 2.0)
	v.SetDefault("listen_addr", ":6666")
}

// Load reads configFile (if non-empty) plus KVSTORED_-prefixed environment
// overrides into a Config, via viper's layered loader rather than a
// package-level singleton, since the config surface (areas, per-area
// filters, flood rate) is too structured for flat env/flag parsing alone.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KVSTORED")
	v.AutomaticEnv()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.NodeId == "" {
		return nil, fmt.Errorf("config: node_id is required")
	}
	if len(cfg.Areas) == 0 {
		cfg.Areas = []AreaConfig{{AreaId: "default"}}
	}
	return &cfg, nil
}

// KeyTTL resolves KeyTTLMs to a time.Duration, with 0 meaning infinite
// (store.InfiniteTTL's convention; config stays free of a store import).
func (c *Config) KeyTTL() time.Duration {
	if c.KeyTTLMs <= 0 {
		return -1
	}
	return time.Duration(c.KeyTTLMs) * time.Millisecond
}

func (c *Config) SyncInterval() time.Duration  { return time.Duration(c.SyncIntervalS) * time.Second }
func (c *Config) TTLDecrement() time.Duration  { return time.Duration(c.TTLDecrementMs) * time.Millisecond }
func (c *Config) BackoffInitial() time.Duration { return time.Duration(c.BackoffInitialMs) * time.Millisecond }
func (c *Config) BackoffMax() time.Duration     { return time.Duration(c.BackoffMaxMs) * time.Millisecond }
func (c *Config) KeepAliveInterval() time.Duration {
	return time.Duration(c.KeepAliveIntervalS) * time.Second
}
