package store

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/routewire/kvstore/types"
)

// FloodRateConfig is the token-bucket rate/burst pair governing the
// flood_rate knob.
type FloodRateConfig struct {
	RatePerSecond float64
	Burst         int
}

func defaultFloodRateConfig() FloodRateConfig {
	return FloodRateConfig{RatePerSecond: 100, Burst: 50}
}

// floodBuffer accumulates publications that missed their rate-limiter
// token, keyed by flood-root-id (an empty RootID means "no optimization
// root", i.e. flood to all physical peers). Within one root's buffer, a
// later flood for a key supersedes an earlier buffered one so only the
// latest is ever sent, preserving per-key order.
type floodBuffer struct {
	limiter *rate.Limiter
	// pending[root][key] = value last queued for that root/key pair.
	pending map[types.RootID]map[types.Key]Value
}

func newFloodBuffer(cfg FloodRateConfig) *floodBuffer {
	return &floodBuffer{
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		pending: make(map[types.RootID]map[types.Key]Value),
	}
}

// offer either admits v for immediate send (token available) or buffers it,
// replacing whatever was previously buffered for (root, key). Returns true
// when the caller should send immediately.
func (fb *floodBuffer) offer(root types.RootID, key types.Key, v Value) bool {
	if fb.limiter.Allow() {
		return true
	}
	m, ok := fb.pending[root]
	if !ok {
		m = make(map[types.Key]Value)
		fb.pending[root] = m
	}
	m[key] = v
	return false
}

// drain returns everything buffered for root and clears it. Called once the
// limiter has tokens again, flushing what accumulated while throttled.
func (fb *floodBuffer) drain(root types.RootID) map[types.Key]Value {
	m, ok := fb.pending[root]
	if !ok || len(m) == 0 {
		return nil
	}
	delete(fb.pending, root)
	return m
}

// roots reports which roots currently have buffered publications, so the
// executor's flush timer only wakes work that actually has something
// pending.
func (fb *floodBuffer) roots() []types.RootID {
	out := make([]types.RootID, 0, len(fb.pending))
	for r, m := range fb.pending {
		if len(m) > 0 {
			out = append(out, r)
		}
	}
	return out
}

// reservationDelay reports how long until the limiter would admit one more
// token, used to schedule the flush timer.
func (fb *floodBuffer) reservationDelay() time.Duration {
	r := fb.limiter.Reserve()
	if !r.OK() {
		return 0
	}
	d := r.Delay()
	r.Cancel()
	return d
}
