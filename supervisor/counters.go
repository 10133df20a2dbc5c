package supervisor

import (
	"fmt"
	"sync"

	"github.com/VictoriaMetrics/metrics"
)

// Counters wraps a private VictoriaMetrics metrics.Set so counters from
// multiple Supervisor instances in the same process (as in tests) don't
// collide in the global registry. GetCounters reads a plain snapshot map
// rather than requiring callers to scrape a metrics endpoint.
type Counters struct {
	set *metrics.Set

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewCounters() *Counters {
	return &Counters{set: metrics.NewSet(), seen: make(map[string]struct{})}
}

func (c *Counters) Inc(name string) {
	c.mu.Lock()
	c.seen[name] = struct{}{}
	c.mu.Unlock()
	c.set.GetOrCreateCounter(name).Inc()
}

func (c *Counters) Add(name string, delta uint64) {
	c.mu.Lock()
	c.seen[name] = struct{}{}
	c.mu.Unlock()
	c.set.GetOrCreateCounter(name).Add(int(delta))
}

// Snapshot returns every counter's current value. metrics.Set has no direct
// "read one counter's value" accessor outside of WritePrometheus, so this
// re-derives values via GetOrCreateCounter, which is idempotent for an
// existing name.
func (c *Counters) Snapshot() map[string]uint64 {
	c.mu.Lock()
	names := make([]string, 0, len(c.seen))
	for n := range c.seen {
		names = append(names, n)
	}
	c.mu.Unlock()

	out := make(map[string]uint64, len(names))
	for _, n := range names {
		out[n] = c.set.GetOrCreateCounter(n).Get()
	}
	return out
}

func (c *Counters) String() string {
	return fmt.Sprintf("%v", c.Snapshot())
}
