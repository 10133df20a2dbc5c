package netx

import (
	"sync"
	"testing"
	"time"
)

func TestLoopbackTransportDeliversToNamedPeer(t *testing.T) {
	hub := NewLoopbackHub()
	a := hub.NewTransport("a")
	b := hub.NewTransport("b")

	var mu sync.Mutex
	var gotFrom string
	var gotData []byte
	received := make(chan struct{})
	if err := b.Listen("", func(from string, data []byte) {
		mu.Lock()
		gotFrom, gotData = from, data
		mu.Unlock()
		close(received)
	}); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	if err := a.Send("b", []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotFrom != "a" || string(gotData) != "hello" {
		t.Fatalf("unexpected delivery: from=%q data=%q", gotFrom, gotData)
	}
}

func TestLoopbackTransportSendToUnknownPeerFails(t *testing.T) {
	hub := NewLoopbackHub()
	a := hub.NewTransport("a")
	if err := a.Send("nobody", []byte("x")); err == nil {
		t.Fatalf("expected an error sending to an unregistered peer")
	}
}

func TestLoopbackTransportSendAfterCloseFails(t *testing.T) {
	hub := NewLoopbackHub()
	a := hub.NewTransport("a")
	b := hub.NewTransport("b")
	if err := b.Listen("", func(string, []byte) {}); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Send("b", []byte("x")); err == nil {
		t.Fatalf("expected Send to a closed peer to fail")
	}
}
