package rat

import (
	"net"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/flowgate/rat/pkg/wire"
)

type outboundSegment struct {
	seq     uint16
	flags   wire.FlagSet
	payload []byte
}

// Send splits data into MTU-sized segments, assigns each the next
// sequence number, marks the last one with ACK as an end-of-write
// delimiter, and drives it through the sliding window
// until every segment is acknowledged or tear-down is observed.
//
// Wire seq_num values are never shifted: a segment's logical sequence
// number, assigned once at segmentation time, is exactly what goes on the
// wire whether this is its first transmission or a NACK-driven repeat.
// Shifting retransmitted sequence numbers to account for elapsed windows
// would break the contiguous-accepted-sequence invariant on a
// multi-window transfer; see DESIGN.md for the reasoning.
// A segment repeats with an identical seq_num, which is what lets the
// receiver recognize it as filling a specific gap rather than advancing
// the stream.
func (s *Socket) Send(data []byte) error {
	if err := s.stateCheck(Established); err != nil {
		return err
	}

	segments := s.segmentize(data)
	pending := make([]uint16, 0, len(segments))
	for _, seg := range segments {
		pending = append(pending, seg.seq)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })

	bySeq := make(map[uint16]outboundSegment, len(segments))
	for _, seg := range segments {
		bySeq[seg.seq] = seg
	}

	windowsElapsed := 0
	remote := s.RemoteAddr()

	for len(pending) > 0 {
		windowSize := int(s.WindowSize())
		if windowSize <= 0 {
			windowSize = DefaultWindow
		}
		batchEnd := windowSize
		if batchEnd > len(pending) {
			batchEnd = len(pending)
		}
		batch := pending[:batchEnd]

		if err := s.emitBatch(batch, bySeq, remote); err != nil {
			return err
		}

	awaitReply:
		for {
			retries := s.retryBound
			var ctrl wire.Header
			var auxPayload []byte
			for {
				if retries == 0 {
					s.setState(Closed)
					return ErrNoResponse
				}
				hdr, payload, err := s.readControlSegment()
				if err != nil {
					retries--
					if err := s.emitBatch(batch, bySeq, remote); err != nil {
						return err
					}
					continue
				}
				if hdr.StreamID != s.streamID {
					// Reply for a different stream: drop it silently and
					// keep waiting for ours, without burning a retry or
					// treating it as a NACK.
					continue
				}
				ctrl, auxPayload = hdr, payload
				break
			}

			switch {
			case ctrl.Flags.Has(wire.BYE):
				s.passiveTeardown()
				return ErrClosed

			case ctrl.Flags.Has(wire.SWIN):
				words, _ := wire.DecodeAuxWords(auxPayload, int(ctrl.Offset))
				if len(words) > 0 {
					s.mu.Lock()
					s.windowSize = words[0]
					s.mu.Unlock()
					if s.metrics != nil {
						s.metrics.WindowChanged(s.id, words[0])
					}
				}
				s.sendPlainAck(remote)
				continue awaitReply

			case ctrl.Flags.Has(wire.NACK):
				words, err := wire.DecodeAuxWords(auxPayload, int(ctrl.Offset))
				if err != nil {
					return errors.Wrap(err, "rat: send: decode NACK payload")
				}
				toResend := make(map[uint16]bool, len(words))
				for _, w := range words {
					toResend[w] = true
				}
				resendBatch := make([]uint16, 0, len(toResend))
				for _, seq := range batch {
					if toResend[seq] {
						resendBatch = append(resendBatch, seq)
					}
				}
				if err := s.emitBatch(resendBatch, bySeq, remote); err != nil {
					return err
				}
				for range resendBatch {
					if s.metrics != nil {
						s.metrics.Retransmit(s.id)
					}
				}
				continue awaitReply

			case ctrl.Flags.Has(wire.ACK):
				windowsElapsed++
				pending = pending[batchEnd:]
				log.WithField("id", s.id).Debugf("[SEND] window acknowledged (elapsed=%d)", windowsElapsed)
				break awaitReply

			default:
				// Unrecognized control segment: ignore it and keep
				// waiting rather than fail the whole send.
				continue awaitReply
			}
		}
	}

	return nil
}

// segmentize splits data into contiguous, MTU-sized outboundSegments,
// assigning each the next sequence number starting at s.seqNum. The last
// segment carries ACK as an end-of-write delimiter.
func (s *Socket) segmentize(data []byte) []outboundSegment {
	s.mu.Lock()
	seq := s.seqNum
	mtu := s.mtu
	s.mu.Unlock()

	var segments []outboundSegment
	for len(data) > 0 {
		n := mtu
		if n > len(data) {
			n = len(data)
		}
		chunk := data[:n]
		data = data[n:]

		flags := wire.FlagSet(0)
		if len(data) == 0 {
			flags = wire.NewFlagSet(wire.ACK)
		}
		segments = append(segments, outboundSegment{seq: seq, flags: flags, payload: chunk})
		seq++
	}
	if len(segments) == 0 {
		// A zero-length send is still one control-only segment with ACK;
		// a segment with length == 0 is valid and carries no payload.
		segments = append(segments, outboundSegment{seq: seq, flags: wire.NewFlagSet(wire.ACK)})
		seq++
	}

	s.mu.Lock()
	s.seqNum = seq
	s.mu.Unlock()
	return segments
}

func (s *Socket) emitBatch(seqs []uint16, bySeq map[uint16]outboundSegment, remote net.Addr) error {
	for _, seq := range seqs {
		seg := bySeq[seq]
		hdr := wire.Header{
			StreamID: s.streamID,
			SeqNum:   seg.seq,
			Length:   uint16(len(seg.payload)),
			Flags:    seg.flags,
		}
		raw := hdr.Encode()
		buf := append(raw[:], seg.payload...)
		if _, err := s.transport.WriteTo(buf, remote); err != nil {
			return errors.Wrap(err, "rat: send: write segment")
		}
		if s.metrics != nil {
			s.metrics.SegmentSent(s.id)
		}
		log.WithField("id", s.id).Debugf("[SEND] segment #%d flags=%s len=%d", seg.seq, seg.flags, len(seg.payload))
	}
	_ = s.transport.SetReadDeadline(deadlineIn(s.replyTimeout))
	return nil
}

// readControlSegment reads one datagram and decodes it as a control
// reply: a header plus whatever bytes follow it (the NACK/SWIN auxiliary
// payload, if any).
func (s *Socket) readControlSegment() (wire.Header, []byte, error) {
	buf := make([]byte, wire.HeaderSize+maxOverheadWords*2)
	n, _, err := s.transport.ReadFrom(buf)
	if err != nil {
		return wire.Header{}, nil, err
	}
	if n < wire.HeaderSize {
		return wire.Header{}, nil, ErrMalformedHeader
	}
	hdr, err := wire.Decode(buf[:wire.HeaderSize])
	if err != nil {
		return wire.Header{}, nil, err
	}
	return hdr, buf[wire.HeaderSize:n], nil
}

func (s *Socket) sendPlainAck(remote net.Addr) {
	ack := wire.Header{StreamID: s.streamID, Flags: wire.NewFlagSet(wire.ACK)}
	raw := ack.Encode()
	_, _ = s.transport.WriteTo(raw[:], remote)
}
