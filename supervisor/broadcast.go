package supervisor

import (
	"sync"

	broadcast "github.com/dustin/go-broadcast"

	"github.com/routewire/kvstore/store"
	"github.com/routewire/kvstore/types"
)

// Broadcaster fans every area's StoreDb.UpdatePublication out to an
// unbounded set of subscribers, built on go-broadcast's replicating channel
// rather than a hand-rolled fan-out list.
type Broadcaster struct {
	b broadcast.Broadcaster

	mu   sync.Mutex
	subs []chan any
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{b: broadcast.NewBroadcaster(256)}
}

func (br *Broadcaster) Publish(area types.Area, up store.UpdatePublication) {
	br.b.Submit(up)
}

// Subscribe returns a channel receiving every UpdatePublication published
// across all areas from this point on.
func (br *Broadcaster) Subscribe() <-chan store.UpdatePublication {
	raw := make(chan any, 64)
	br.b.Register(raw)
	out := make(chan store.UpdatePublication, 64)
	go func() {
		defer close(out)
		for v := range raw {
			if up, ok := v.(store.UpdatePublication); ok {
				out <- up
			}
		}
	}()
	br.mu.Lock()
	br.subs = append(br.subs, raw)
	br.mu.Unlock()
	return out
}

func (br *Broadcaster) Close() {
	br.mu.Lock()
	defer br.mu.Unlock()
	for _, ch := range br.subs {
		br.b.Unregister(ch)
		close(ch)
	}
	br.b.Close()
}
