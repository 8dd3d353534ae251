// Package reorder implements the receive-side reassembly buffer: segments
// may arrive out of sequence order, and the accepted payload fragments,
// keyed by sequence number, must be concatenated in ascending order once
// a window (or the whole stream) closes.
package reorder

import "sort"

// Buffer accumulates segment payloads keyed by sequence number and tracks
// which sequence numbers are still missing (skipped-over or failed
// integrity), so the receive path can build a NACK list straight from it.
type Buffer struct {
	segments map[uint16][]byte
	missing  map[uint16]struct{}
}

// New returns an empty reassembly buffer.
func New() *Buffer {
	return &Buffer{
		segments: make(map[uint16][]byte),
		missing:  make(map[uint16]struct{}),
	}
}

// Accept records the payload for seq. If seq was previously marked
// missing (it arrived late, out of order), it is cleared from that set.
func (b *Buffer) Accept(seq uint16, payload []byte) {
	cp := append([]byte(nil), payload...)
	b.segments[seq] = cp
	delete(b.missing, seq)
}

// MarkMissing records that seq was expected but not yet seen: skipped by a
// gap in sequence numbers, failed the integrity check, or timed out.
func (b *Buffer) MarkMissing(seq uint16) {
	if _, ok := b.segments[seq]; ok {
		return
	}
	b.missing[seq] = struct{}{}
}

// Missing returns the current missing set as a sorted slice, suitable for
// encoding directly into a NACK payload.
func (b *Buffer) Missing() []uint16 {
	out := make([]uint16, 0, len(b.missing))
	for seq := range b.missing {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasMissing reports whether any sequence number is still outstanding.
func (b *Buffer) HasMissing() bool {
	return len(b.missing) > 0
}

// Reassemble concatenates every accepted payload in ascending sequence
// order. A sequence number is never both accepted and missing (Accept
// clears it from the missing set, MarkMissing skips accepted ones), so
// missing sequence numbers contribute nothing.
func (b *Buffer) Reassemble() []byte {
	seqs := make([]uint16, 0, len(b.segments))
	for seq := range b.segments {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	var out []byte
	for _, seq := range seqs {
		out = append(out, b.segments[seq]...)
	}
	return out
}

// Reset clears the buffer for reuse across windows.
func (b *Buffer) Reset() {
	for k := range b.segments {
		delete(b.segments, k)
	}
	for k := range b.missing {
		delete(b.missing, k)
	}
}
