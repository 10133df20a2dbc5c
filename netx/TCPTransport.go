package netx

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// TCPTransport is a length-prefixed, framed TCP Transport implementation.
// Connections are dialed lazily and cached per peer address; dial failures
// are retried with exponential backoff rather than surfacing synchronously
// to Send's caller (peer.go already owns its own reconnect backoff at a
// higher level, so this is a shorter-lived, per-send retry only).
type TCPTransport struct {
	ln       net.Listener
	conns    sync.Map
	closed   chan struct{}
	outQueue chan *Outbound
	log      *slog.Logger
}

// Outbound encapsulates outbound message data queued for async dispatch.
type Outbound struct {
	to   string
	data []byte
}

func NewTCP() *TCPTransport {
	t := &TCPTransport{
		closed:   make(chan struct{}),
		outQueue: make(chan *Outbound, 256),
		log:      slog.Default().With("component", "netx.tcp"),
	}
	t.startOutboundProcessing()
	return t
}

func (t *TCPTransport) Listen(addr string, handler MessageHandler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	t.ln = ln
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				select {
				case <-t.closed:
					return
				default:
				}
				continue
			}
			go t.readLoop(c, handler)
		}
	}()
	return nil
}

func (t *TCPTransport) readLoop(conn net.Conn, handler MessageHandler) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		lenb := make([]byte, 4)
		if _, err := io.ReadFull(r, lenb); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(lenb)
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return
		}
		handler(conn.RemoteAddr().String(), buf)
	}
}

// Send queues data for async dispatch to addr and returns immediately.
func (t *TCPTransport) Send(to string, data []byte) error {
	return t.sendAsync(to, data)
}

func (t *TCPTransport) Close() error {
	close(t.closed)
	if t.ln != nil {
		_ = t.ln.Close()
	}
	t.conns.Range(func(k, v any) bool {
		v.(net.Conn).Close()
		t.conns.Delete(k)
		return true
	})
	return nil
}

// CloseConnection drops the cached connection to addr, if any, forcing the
// next Send to redial, so a stale TCP connection doesn't keep absorbing
// sends. Part of the Transport interface; nothing in this module calls it
// outside tests.
func (t *TCPTransport) CloseConnection(addr string) error {
	v, ok := t.conns.LoadAndDelete(addr)
	if !ok {
		return nil
	}
	return v.(net.Conn).Close()
}

// dial connects to address with a short exponential backoff, since a peer
// that is mid-restart often becomes reachable within a second or two.
func (t *TCPTransport) dial(address string) (net.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	var conn net.Conn
	op := func() error {
		c, err := net.DialTimeout("tcp", address, time.Second)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(b, context.Background())); err != nil {
		return nil, err
	}
	return conn, nil
}

func (t *TCPTransport) sendSync(address string, data []byte) error {
	v, ok := t.conns.Load(address)
	var c net.Conn
	var err error
	if ok {
		c = v.(net.Conn)
	} else {
		c, err = t.dial(address)
		if err != nil {
			return err
		}
		t.conns.Store(address, c)
	}
	w := bufio.NewWriter(c)
	lenb := make([]byte, 4)
	binary.BigEndian.PutUint32(lenb, uint32(len(data)))
	if _, err := w.Write(lenb); err != nil {
		t.conns.Delete(address)
		return err
	}
	if _, err := w.Write(data); err != nil {
		t.conns.Delete(address)
		return err
	}
	return w.Flush()
}

func (t *TCPTransport) sendAsync(to string, data []byte) error {
	select {
	case <-t.closed:
		return errors.New("transport closed")
	case t.outQueue <- &Outbound{to, data}:
		return nil
	default:
		return errors.New("netx: send queue full")
	}
}

func (t *TCPTransport) startOutboundProcessing() {
	for i := 0; i < 4; i++ {
		go t.outQueueDispatcher()
	}
}

func (t *TCPTransport) outQueueDispatcher() {
	for {
		select {
		case <-t.closed:
			return
		case job := <-t.outQueue:
			if err := t.sendSync(job.to, job.data); err != nil {
				t.log.Warn("send failed", "to", job.to, "err", err)
			}
		}
	}
}
