package rat

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"

	"github.com/flowgate/rat/metrics"
	"github.com/flowgate/rat/pkg/transport"
)

// Socket is a connection socket in the RAT protocol: the public façade for
// listen/accept/connect/send/recv/close.
//
// A Socket is single-threaded from the caller's perspective: every
// exported method takes an internal lock only for the state/field
// access it needs, never for the duration of blocking I/O, so a listening
// socket's accepted children can run concurrently with it and with each
// other.
type Socket struct {
	mu sync.Mutex

	id xid.ID // local correlation id, never placed on the wire

	currentState State

	transport transport.Transport
	localAddr net.Addr
	remoteAddr net.Addr

	streamID     uint16
	seqNum       uint16
	recvExpected uint16
	windowSize   uint16

	obeyKeepalives bool
	numConnections int

	// Listening-socket-only state: accepted children, guarded by mu.
	children map[xid.ID]*Socket

	retryBound   int
	replyTimeout time.Duration
	byeTimeout   time.Duration
	mtu          int

	metrics *metrics.Collector

	rand randSource
}

// New constructs an unopened RAT socket with protocol defaults. Pass
// nil for metrics to disable metrics collection.
func New(m *metrics.Collector) *Socket {
	return &Socket{
		id:             xid.New(),
		currentState:   Unopened,
		windowSize:     DefaultWindow,
		obeyKeepalives: true,
		retryBound:     RetryBound,
		replyTimeout:   ReplyTimeout,
		byeTimeout:     ByeTimeout,
		mtu:            PayloadMTU,
		children:       make(map[xid.ID]*Socket),
		metrics:        m,
		rand:           defaultRandSource{},
	}
}

// ID is the socket's local correlation identifier, used in logs and
// metrics labels; it has no wire representation.
func (s *Socket) ID() xid.ID { return s.id }

// State returns the socket's current connection state.
func (s *Socket) State() State { return s.state() }

// LocalAddr returns the bound local address, or nil before Listen/Connect.
func (s *Socket) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localAddr
}

// RemoteAddr returns the peer address, or nil before a handshake completes.
func (s *Socket) RemoteAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteAddr
}

// AllowKeepalives directs the socket to follow or ignore keep-alive (ALI)
// messages. ALI semantics are reserved and otherwise unspecified; this
// only records operator intent for a future extension.
func (s *Socket) AllowKeepalives(value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obeyKeepalives = value
}

// WindowSize returns the socket's current send/receive window.
func (s *Socket) WindowSize() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windowSize
}

// SetWindow renegotiates the send window this socket's peer uses, by
// emitting an in-band SWIN segment and waiting for the peer's ACK.
func (s *Socket) SetWindow(n uint16) error {
	if n == 0 {
		return ErrNumberOutOfRange
	}
	if err := s.stateCheck(Established); err != nil {
		return err
	}
	return s.negotiateWindow(n)
}

// Metrics returns a point-in-time snapshot of this socket's counters, or
// nil if no collector was attached at construction.
func (s *Socket) Metrics() *metrics.Snapshot {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.Snapshot(s.id)
}

func (s *Socket) logger() *log.Entry {
	return log.WithField("id", s.id)
}

func (s *Socket) String() string {
	return fmt.Sprintf("rat.Socket{id=%s state=%s stream=%d local=%v remote=%v}",
		s.id, s.state(), s.streamID, s.LocalAddr(), s.RemoteAddr())
}

// randSource isolates math/rand's Intn behind an interface purely so tests
// can make stream-id allocation deterministic; production code always uses
// defaultRandSource.
type randSource interface {
	Intn(n int) int
}
