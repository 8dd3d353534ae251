package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrReadTimeout is returned by Loopback.ReadFrom when the configured
// read deadline elapses before a datagram arrives.
var ErrReadTimeout = errors.New("transport: read timeout")

// addr is a trivial net.Addr used to label loopback endpoints; RAT only
// ever compares addresses for equality/display, never resolves them.
type addr string

func (a addr) Network() string { return "loopback" }
func (a addr) String() string  { return string(a) }

type datagram struct {
	payload []byte
	from    net.Addr
}

// Loopback is an in-memory Transport used by tests. It stands in for a
// network emulator, external to the engine itself, in a
// form the engine's own test suite can drive deterministically: datagrams
// queue on a channel, and a Drop hook lets tests exercise the
// loss-then-NACK path without a real, flaky network. Datagrams that are
// not dropped are delivered in the order they were written; there is no
// reordering hook.
type Loopback struct {
	self     addr
	peer     *Loopback
	mu       sync.Mutex
	queue    chan datagram
	deadline time.Time

	// Drop, when non-nil, is consulted for every datagram about to be
	// delivered to this endpoint; returning true silently discards it,
	// modeling datagram loss.
	Drop func(seq int, payload []byte) bool

	seq int
}

// NewLoopbackPair returns two connected in-memory transports, addressed
// "a" and "b".
func NewLoopbackPair() (a, b *Loopback) {
	a = &Loopback{self: "a", queue: make(chan datagram, 256)}
	b = &Loopback{self: "b", queue: make(chan datagram, 256)}
	a.peer = b
	b.peer = a
	return a, b
}

func (l *Loopback) ReadFrom(buf []byte) (int, net.Addr, error) {
	l.mu.Lock()
	deadline := l.deadline
	l.mu.Unlock()

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return 0, nil, ErrReadTimeout
		}
		timer = time.NewTimer(d)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case dg := <-l.queue:
		n := copy(buf, dg.payload)
		return n, dg.from, nil
	case <-timeoutCh:
		return 0, nil, ErrReadTimeout
	}
}

func (l *Loopback) WriteTo(buf []byte, _ net.Addr) (int, error) {
	l.mu.Lock()
	peer := l.peer
	seq := l.seq
	l.seq++
	l.mu.Unlock()

	payload := append([]byte(nil), buf...)
	if peer.Drop != nil && peer.Drop(seq, payload) {
		return len(buf), nil
	}
	peer.queue <- datagram{payload: payload, from: l.self}
	return len(buf), nil
}

func (l *Loopback) SetReadDeadline(t time.Time) error {
	l.mu.Lock()
	l.deadline = t
	l.mu.Unlock()
	return nil
}

func (l *Loopback) LocalAddr() net.Addr { return l.self }

func (l *Loopback) Close() error { return nil }

// Rebind is a no-op for the in-memory transport; there is no real socket
// to recreate, but implementing Rebindable keeps loopback-driven tests
// exercising the same retry code paths as the UDP transport.
func (l *Loopback) Rebind() error { return nil }
