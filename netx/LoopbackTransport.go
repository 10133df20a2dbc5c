package netx

import "sync"

// loopbackHub wires a set of LoopbackTransports together in-process, so
// multi-node tests can run convergence scenarios without binding real
// sockets.
type loopbackHub struct {
	mu     sync.Mutex
	byName map[string]*LoopbackTransport
}

func NewLoopbackHub() *loopbackHub {
	return &loopbackHub{byName: make(map[string]*LoopbackTransport)}
}

// LoopbackTransport is an in-memory Transport bound to one node name within
// a loopbackHub, for deterministic tests.
type LoopbackTransport struct {
	hub     *loopbackHub
	name    string
	handler MessageHandler
	mu      sync.Mutex
	closed  bool
}

func (h *loopbackHub) NewTransport(name string) *LoopbackTransport {
	t := &LoopbackTransport{hub: h, name: name}
	h.mu.Lock()
	h.byName[name] = t
	h.mu.Unlock()
	return t
}

func (t *LoopbackTransport) Listen(addr string, handler MessageHandler) error {
	t.mu.Lock()
	t.handler = handler
	t.mu.Unlock()
	return nil
}

// Send delivers data synchronously-on-a-new-goroutine to the transport
// registered under the name to, mirroring Listen's addr being a peer name
// rather than a network address.
func (t *LoopbackTransport) Send(to string, data []byte) error {
	t.hub.mu.Lock()
	dst, ok := t.hub.byName[to]
	t.hub.mu.Unlock()
	if !ok {
		return errNoSuchPeer(to)
	}
	dst.mu.Lock()
	handler := dst.handler
	closed := dst.closed
	dst.mu.Unlock()
	if closed || handler == nil {
		return errNoSuchPeer(to)
	}
	go handler(t.name, data)
	return nil
}

func (t *LoopbackTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *LoopbackTransport) CloseConnection(addr string) error { return nil }

type errNoSuchPeer string

func (e errNoSuchPeer) Error() string { return "netx: no such loopback peer: " + string(e) }
