package rat

import (
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/flowgate/rat/internal/reorder"
	"github.com/flowgate/rat/pkg/wire"
)

// Recv blocks until a complete send() from the peer has been reassembled:
// the segment carrying the ACK end-of-write delimiter and every segment
// before it have been accepted. It replies once per window
// of accepted segments with either an ACK (window clean) or a NACK listing
// the still-missing sequence numbers, and resumes waiting for retransmits.
//
// An in-band BYE observed while waiting is treated as the passive side of
// tear-down: Recv completes the BYE/ACK exchange and returns ErrClosed.
func (s *Socket) Recv() ([]byte, error) {
	if err := s.stateCheck(Established); err != nil {
		return nil, err
	}

	buf := reorder.New()
	remote := s.RemoteAddr()
	raw := make([]byte, wire.HeaderSize+s.mtu)

	sawFinal := false
	sinceReply := 0
	retries := s.retryBound

	if err := s.transport.SetReadDeadline(deadlineIn(s.replyTimeout)); err != nil {
		return nil, err
	}

	for {
		n, _, err := s.transport.ReadFrom(raw)
		if err != nil {
			retries--
			if retries <= 0 {
				s.setState(Closed)
				return nil, ErrNoResponse
			}
			s.mu.Lock()
			expected := s.recvExpected
			s.mu.Unlock()
			buf.MarkMissing(expected)
			s.sendNack(buf.Missing(), remote)
			sinceReply = 0
			_ = s.transport.SetReadDeadline(deadlineIn(s.replyTimeout))
			continue
		}
		if n < wire.HeaderSize {
			continue
		}
		hdr, err := wire.Decode(raw[:wire.HeaderSize])
		if err != nil {
			continue
		}
		if hdr.StreamID != s.streamID {
			// Datagram for a different stream (e.g. a stray or delayed
			// segment from another connection sharing this endpoint):
			// drop it silently, never feeding it into reassembly or
			// letting it influence the NACK decision.
			continue
		}
		payload := append([]byte(nil), raw[wire.HeaderSize:n]...)

		if hdr.Flags.Has(wire.BYE) {
			s.passiveTeardown()
			return nil, ErrClosed
		}
		if hdr.Flags.Has(wire.SWIN) {
			words, _ := wire.DecodeAuxWords(payload, int(hdr.Offset))
			if len(words) > 0 {
				s.mu.Lock()
				s.windowSize = words[0]
				s.mu.Unlock()
				if s.metrics != nil {
					s.metrics.WindowChanged(s.id, words[0])
				}
			}
			s.sendPlainAck(remote)
			continue
		}
		if !hdr.Flags.Has(wire.HLO) && hdr.Length == 0 && len(payload) == 0 && !hdr.Flags.Has(wire.ACK) {
			// Stray non-data control segment with nothing to reassemble.
			continue
		}

		s.mu.Lock()
		expected := s.recvExpected
		if hdr.SeqNum == expected {
			buf.Accept(hdr.SeqNum, payload)
			expected++
		} else if hdr.SeqNum > expected {
			for skipped := expected; skipped != hdr.SeqNum; skipped++ {
				buf.MarkMissing(skipped)
			}
			buf.Accept(hdr.SeqNum, payload)
			expected = hdr.SeqNum + 1
		} else {
			// Old or repeated sequence number: fill the gap if it is
			// still open, otherwise this is a harmless duplicate.
			buf.Accept(hdr.SeqNum, payload)
		}
		s.recvExpected = expected
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.SegmentReceived(s.id)
		}
		sinceReply++
		if hdr.Flags.Has(wire.ACK) {
			sawFinal = true
		}

		retries = s.retryBound
		_ = s.transport.SetReadDeadline(deadlineIn(s.replyTimeout))

		windowSize := int(s.WindowSize())
		if windowSize <= 0 {
			windowSize = DefaultWindow
		}

		switch {
		case sawFinal && buf.HasMissing():
			s.sendNack(buf.Missing(), remote)
			sinceReply = 0
		case sawFinal:
			s.sendPlainAck(remote)
			log.WithField("id", s.id).Debug("[RECV] reassembly complete")
			return buf.Reassemble(), nil
		case sinceReply >= windowSize:
			if buf.HasMissing() {
				s.sendNack(buf.Missing(), remote)
			} else {
				s.sendPlainAck(remote)
			}
			sinceReply = 0
		}
	}
}

func (s *Socket) sendNack(missing []uint16, remote net.Addr) {
	hdr := wire.Header{
		StreamID: s.streamID,
		Flags:    wire.NewFlagSet(wire.NACK),
		Offset:   uint8(len(missing)),
	}
	raw := hdr.Encode()
	buf := append(raw[:], wire.EncodeAuxWords(missing)...)
	_, _ = s.transport.WriteTo(buf, remote)
	if s.metrics != nil {
		s.metrics.NackSent(s.id)
	}
	log.WithField("id", s.id).Debugf("[RECV] NACK missing=%v", missing)
}

// negotiateWindow implements Socket.SetWindow: emit SWIN with the requested
// size and wait for the peer's acknowledging ACK.
func (s *Socket) negotiateWindow(n uint16) error {
	hdr := wire.Header{
		StreamID: s.streamID,
		Flags:    wire.NewFlagSet(wire.SWIN),
		Offset:   1,
	}
	raw := hdr.Encode()
	buf := append(raw[:], wire.EncodeAuxWords([]uint16{n})...)

	remote := s.RemoteAddr()
	retries := s.retryBound
	ackBuf := make([]byte, wire.HeaderSize)
	for {
		if retries == 0 {
			return ErrNoResponse
		}
		if _, err := s.transport.WriteTo(buf, remote); err != nil {
			retries--
			continue
		}
		_ = s.transport.SetReadDeadline(deadlineIn(s.replyTimeout))

		matched := false
		for {
			n2, _, err := s.transport.ReadFrom(ackBuf)
			if err != nil {
				retries--
				break
			}
			reply, decErr := wire.Decode(ackBuf[:n2])
			if decErr != nil || reply.StreamID != s.streamID {
				// Malformed or mis-stream reply: keep reading within the
				// same deadline rather than resending or burning a retry.
				continue
			}
			if !reply.Flags.Has(wire.ACK) {
				continue
			}
			matched = true
			break
		}
		if matched {
			break
		}
	}

	s.mu.Lock()
	s.windowSize = n
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.WindowChanged(s.id, n)
	}
	return nil
}
