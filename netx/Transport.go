// Package netx carries wire.Request/wire.Response bytes between kvstored
// instances. It has no knowledge of the store package: Transport only
// moves framed byte slices, leaving encode/decode to wire.Codec and
// dispatch to the supervisor.
package netx

// Transport defines the interface that any transport mechanism must
// implement to carry kvstore envelopes between nodes.
type Transport interface {
	Listen(addr string, handler MessageHandler) error
	Send(to string, data []byte) error
	Close() error
	CloseConnection(addr string) error
}

// MessageHandler is invoked when a message is received via a Transport
// implementation. from is the transport's own notion of peer identity
// (remote address for TCP, peer name for Loopback).
type MessageHandler func(from string, data []byte)
