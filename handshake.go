package rat

import (
	"net"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/flowgate/rat/pkg/transport"
	"github.com/flowgate/rat/pkg/wire"
)

// Listen moves an UNOPENED socket to SERVOPEN, bound to address:port and
// ready to Accept. backlog is recorded as the socket's connection count;
// Accept does not limit the number of children by it.
func (s *Socket) Listen(address string, port int, backlog int) error {
	if err := s.stateCheck(Unopened); err != nil {
		return err
	}
	t, err := transport.New("udp", address, port)
	if err != nil {
		return errors.Wrap(err, "rat: listen")
	}
	s.mu.Lock()
	s.transport = t
	s.localAddr = t.LocalAddr()
	s.numConnections = backlog
	s.mu.Unlock()

	s.setState(ServOpen)
	s.logger().WithField("addr", s.localAddr).Debug("[LISTEN] now listening for connections")
	return nil
}

// Accept blocks until a client HLO arrives, performs the responder side of
// the three-way open, and returns a new child Socket in ESTABLISHED. The
// listening socket itself stays in SERVOPEN, tracking the child in its
// own registry, and is ready for another Accept call immediately.
func (s *Socket) Accept() (*Socket, error) {
	if err := s.stateCheck(ServOpen); err != nil {
		return nil, err
	}

	// Block indefinitely for the first HLO: a listener idling in SERVOPEN
	// is the only suspension point with no bound.
	if err := s.transport.SetReadDeadline(zeroTime); err != nil {
		return nil, errors.Wrap(err, "rat: accept")
	}

	buf := make([]byte, wire.HeaderSize)
	var peerAddr net.Addr
	for {
		n, from, err := s.transport.ReadFrom(buf)
		if err != nil {
			return nil, errors.Wrap(err, "rat: accept: waiting for HLO")
		}
		hdr, err := wire.Decode(buf[:n])
		if err != nil {
			// Malformed header on the rendezvous point: drop and keep
			// listening, same as any other discarded segment.
			continue
		}
		if !hdr.Flags.Has(wire.HLO) {
			continue
		}
		peerAddr = from
		break
	}

	child := New(s.metrics)
	child.transport = s.transport
	child.remoteAddr = peerAddr
	child.localAddr = s.localAddr
	child.currentState = HloRecv
	child.streamID = child.randomStreamID()
	child.windowSize = DefaultWindow
	child.seqNum = 1
	child.recvExpected = 1
	child.mtu = s.mtu
	child.retryBound = s.retryBound
	child.replyTimeout = s.replyTimeout
	child.byeTimeout = s.byeTimeout

	s.mu.Lock()
	s.children[child.id] = child
	s.streamID = child.streamID
	s.mu.Unlock()

	log.WithFields(log.Fields{"id": s.id, "child": child.id, "stream": child.streamID}).
		Debug("[ACCEPT] received HLO, allocated stream")

	if err := s.transport.SetReadDeadline(deadlineIn(child.replyTimeout)); err != nil {
		return nil, errors.Wrap(err, "rat: accept")
	}

	retries := s.retryBound
	respHdr := wire.Header{StreamID: child.streamID, SeqNum: 0, Flags: wire.NewFlagSet(wire.HLO, wire.ACK)}
	raw := respHdr.Encode()
	ackBuf := make([]byte, wire.HeaderSize)

	for {
		if retries == 0 {
			return nil, ErrNoResponse
		}
		if _, err := s.transport.WriteTo(raw[:], peerAddr); err != nil {
			retries--
			continue
		}
		_ = s.transport.SetReadDeadline(deadlineIn(child.replyTimeout))
		n, _, err := s.transport.ReadFrom(ackBuf)
		if err != nil {
			retries--
			continue
		}
		hdr, err := wire.Decode(ackBuf[:n])
		if err != nil || !hdr.Flags.Has(wire.ACK) {
			retries--
			continue
		}
		break
	}

	child.setState(Established)

	if s.metrics != nil {
		s.metrics.ConnectionEstablished(child.id)
	}
	log.WithFields(log.Fields{"id": s.id, "child": child.id}).Debug("[ACCEPT] handshake complete, ESTABLISHED")

	// The listening socket stays in SERVOPEN so the caller can Accept
	// again; only the child it just handed back moves to ESTABLISHED.
	if err := s.transport.SetReadDeadline(zeroTime); err != nil {
		return nil, errors.Wrap(err, "rat: accept")
	}
	return child, nil
}

// Connect performs the initiator side of the three-way open: send HLO,
// receive HLO+ACK, send ACK, ESTABLISHED.
func (s *Socket) Connect(address string, port int, localPort int) error {
	if err := s.stateCheck(Unopened); err != nil {
		return err
	}

	remote, err := net.ResolveUDPAddr("udp", net.JoinHostPort(address, itoa(port)))
	if err != nil {
		return errors.Wrap(err, "rat: connect: resolve remote addr")
	}

	t, err := transport.New("udp", "127.0.0.1", localPort)
	if err != nil {
		return errors.Wrap(err, "rat: connect: bind local endpoint")
	}

	s.mu.Lock()
	s.transport = t
	s.localAddr = t.LocalAddr()
	s.remoteAddr = remote
	s.mu.Unlock()
	s.setState(HloSent)

	hlo := wire.Header{Flags: wire.NewFlagSet(wire.HLO)}
	raw := hlo.Encode()
	buf := make([]byte, wire.HeaderSize)

	retries := s.retryBound
	var reply wire.Header
	for {
		if retries == 0 {
			s.setState(Unopened)
			return ErrNoResponse
		}
		if _, err := s.transport.WriteTo(raw[:], remote); err != nil {
			retries = s.rebindAndRetry(t, retries)
			continue
		}
		_ = s.transport.SetReadDeadline(deadlineIn(s.replyTimeout))
		n, _, err := s.transport.ReadFrom(buf)
		if err != nil {
			retries = s.rebindAndRetry(t, retries)
			continue
		}
		hdr, err := wire.Decode(buf[:n])
		if err != nil || !hdr.Flags.Has(wire.HLO) || !hdr.Flags.Has(wire.ACK) {
			retries = s.rebindAndRetry(t, retries)
			continue
		}
		reply = hdr
		break
	}

	s.mu.Lock()
	s.streamID = reply.StreamID
	s.seqNum = reply.SeqNum
	s.windowSize = DefaultWindow
	s.mu.Unlock()

	ack := wire.Header{StreamID: s.streamID, Flags: wire.NewFlagSet(wire.ACK)}
	ackRaw := ack.Encode()
	if _, err := s.transport.WriteTo(ackRaw[:], remote); err != nil {
		return errors.Wrap(err, "rat: connect: send final ACK")
	}

	s.mu.Lock()
	s.seqNum = 1
	s.recvExpected = 1
	s.mu.Unlock()
	s.setState(Established)

	if s.metrics != nil {
		s.metrics.ConnectionEstablished(s.id)
	}
	s.logger().Debug("[CONNECT] handshake complete, ESTABLISHED")
	return nil
}

// rebindAndRetry rebinds the initiator's underlying datagram endpoint on
// timeout before a resend, and returns the decremented retry counter.
func (s *Socket) rebindAndRetry(t transport.Transport, retries int) int {
	if rb, ok := t.(transport.Rebindable); ok {
		if err := rb.Rebind(); err != nil {
			s.logger().WithError(err).Warn("[CONNECT] rebind failed")
		}
	}
	return retries - 1
}

// Close initiates tear-down as the active closer: send BYE, wait for the
// peer's BYE+ACK, send a final ACK, and reach CLOSED.
func (s *Socket) Close() error {
	if err := s.stateCheck(Established, ByeSent, ByeRecv); err != nil {
		return err
	}
	if s.state() == ByeRecv {
		// Passive close already drove this socket to CLOSED or is about
		// to; nothing more to send.
		s.setState(Closed)
		return nil
	}

	bye := wire.Header{StreamID: s.streamID, Flags: wire.NewFlagSet(wire.BYE)}
	raw := bye.Encode()

	retries := s.retryBound
	sent := false
	var writeErrs *multierror.Error
	for retries > 0 && !sent {
		if _, err := s.transport.WriteTo(raw[:], s.RemoteAddr()); err != nil {
			writeErrs = multierror.Append(writeErrs, err)
			retries--
			continue
		}
		sent = true
	}
	if !sent {
		s.setState(Closed)
		return errors.Wrap(writeErrs.ErrorOrNil(), "rat: close: send BYE")
	}
	s.setState(ByeSent)
	s.logger().Debug("[CLOSE] sent BYE")

	_ = s.transport.SetReadDeadline(deadlineIn(s.byeTimeout))
	buf := make([]byte, wire.HeaderSize)
	n, _, err := s.transport.ReadFrom(buf)
	if err == nil {
		hdr, decErr := wire.Decode(buf[:n])
		if decErr == nil && hdr.StreamID == s.streamID && hdr.Flags.Has(wire.ACK) && hdr.Flags.Has(wire.BYE) {
			ack := wire.Header{StreamID: s.streamID, Flags: wire.NewFlagSet(wire.ACK)}
			ackRaw := ack.Encode()
			_, _ = s.transport.WriteTo(ackRaw[:], s.RemoteAddr())
			s.logger().Debug("[CLOSE] received BYE+ACK, sent final ACK")
		}
	}
	// Either the BYE+ACK arrived and the final ACK went out, or the BYE
	// timer expired waiting for it; either way the closer reaches CLOSED.
	s.setState(Closed)
	if s.metrics != nil {
		s.metrics.ConnectionClosed(s.id)
	}
	return nil
}

// passiveTeardown handles an in-band BYE observed during send/recv: stop
// data processing, reply BYE+ACK, wait out the BYE timer for an optional
// final ACK, reach CLOSED either way.
func (s *Socket) passiveTeardown() {
	s.setState(ByeRecv)
	reply := wire.Header{StreamID: s.streamID, Flags: wire.NewFlagSet(wire.BYE, wire.ACK)}
	raw := reply.Encode()
	_, _ = s.transport.WriteTo(raw[:], s.RemoteAddr())
	s.logger().Debug("[RECV BYE] replied BYE+ACK, starting grace timer")

	_ = s.transport.SetReadDeadline(deadlineIn(s.byeTimeout))
	buf := make([]byte, wire.HeaderSize)
	n, _, err := s.transport.ReadFrom(buf)
	if err == nil {
		if hdr, decErr := wire.Decode(buf[:n]); decErr == nil && hdr.StreamID == s.streamID && hdr.Flags.Has(wire.ACK) {
			s.logger().Debug("[RECV BYE] received final ACK")
		}
	}
	s.setState(Closed)
	if s.metrics != nil {
		s.metrics.ConnectionClosed(s.id)
	}
}
